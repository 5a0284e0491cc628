package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// Claude API pricing per million tokens, used for the cost estimate.
const (
	claudeInputCostPerMTok  = 3.0
	claudeOutputCostPerMTok = 15.0
)

// ClaudeEngine translates through the Anthropic messages API.
type ClaudeEngine struct {
	config     Config
	httpClient *http.Client
	baseURL    string
}

// NewClaudeEngine creates a Claude translation engine with the given configuration.
func NewClaudeEngine(config Config) (*ClaudeEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &ClaudeEngine{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

func (e *ClaudeEngine) Name() string { return "claude" }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	Messages  []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Translate sends the markdown to Claude and returns the translated text
// with token usage and an estimated cost.
func (e *ClaudeEngine) Translate(ctx context.Context, markdown, targetLanguage string) (Result, error) {
	request := claudeRequest{
		Model:     e.config.Model,
		MaxTokens: e.config.MaxTokens,
		Messages: []claudeMessage{
			{Role: "user", Content: buildPrompt(markdown, targetLanguage)},
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", e.config.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	log.Debug("Translating to %s via %s", targetLanguage, e.config.Model)
	resp, err := e.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return Result{}, docjob.NewErrorWithCause(docjob.ErrTranslation, "engine request timed out", err)
		}
		return Result{}, docjob.NewErrorWithCause(docjob.ErrTranslation, "engine request failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, docjob.NewRateLimitError("claude rate limited", retryAfterHeader(resp.Header))
	}

	var response claudeResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return Result{}, docjob.NewErrorWithCause(docjob.ErrTranslation, "failed to parse engine response", err)
	}
	if response.Error != nil && response.Error.Message != "" {
		return Result{}, docjob.NewError(docjob.ErrTranslation,
			fmt.Sprintf("claude API error (%s): %s", response.Error.Type, response.Error.Message))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, docjob.NewError(docjob.ErrTranslation,
			fmt.Sprintf("claude returned status %d", resp.StatusCode))
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if text == "" {
		return Result{}, docjob.NewError(docjob.ErrTranslation, "empty translation from claude")
	}

	return Result{
		Text:         text,
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
		CostUSD: float64(response.Usage.InputTokens)/1e6*claudeInputCostPerMTok +
			float64(response.Usage.OutputTokens)/1e6*claudeOutputCostPerMTok,
	}, nil
}

// retryAfterHeader reads a Retry-After header given in seconds.
func retryAfterHeader(h http.Header) time.Duration {
	raw := h.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
