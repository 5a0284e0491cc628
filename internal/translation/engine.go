// Package translation fans the master markdown out to external translation
// engines. Every (job, language) pair is one output row; sibling languages
// run independently, so one failed language never blocks the others.
package translation

import (
	"context"
	"fmt"
)

// Result is a completed translation with usage metadata.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Engine translates markdown into a target language.
// Implementations must be safe for concurrent use.
type Engine interface {
	Name() string
	Translate(ctx context.Context, markdown, targetLanguage string) (Result, error)
}

// Config holds the connection settings for a translation engine API.
type Config struct {
	APIKey    string
	APIURL    string
	Model     string
	Timeout   int // seconds
	MaxTokens int
}

// Validate checks that the configuration is complete.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.APIURL == "" {
		return fmt.Errorf("API URL is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}
