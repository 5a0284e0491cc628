package extraction

import (
	"context"
	"fmt"

	"github.com/MimeLyc/doctrans/internal/rasterizer"
)

// Engine recognizes the content of a single page.
// Implementations must be safe for concurrent use.
type Engine interface {
	ExtractPage(ctx context.Context, page rasterizer.Page) (PageResult, error)
}

// Config holds the recognition engine API settings.
type Config struct {
	APIKey  string
	APIURL  string
	Model   string
	Timeout int // seconds
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
