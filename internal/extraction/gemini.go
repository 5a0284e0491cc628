package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/rasterizer"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// GeminiEngine calls a Gemini-style generateContent endpoint with the page
// attached as inline data. Thread-safe for concurrent use.
type GeminiEngine struct {
	config     Config
	httpClient *http.Client
	baseURL    string
}

// NewGeminiEngine creates a recognition engine client with the given configuration.
func NewGeminiEngine(config Config) (*GeminiEngine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &GeminiEngine{
		config:  config,
		baseURL: strings.TrimRight(config.APIURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}, nil
}

type generatePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *generateInline `json:"inline_data,omitempty"`
}

type generateInline struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateContent struct {
	Parts []generatePart `json:"parts"`
}

type generateRequest struct {
	Contents         []generateContent `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature float64 `json:"temperature"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// ExtractPage sends one page to the engine and parses the recognition result.
func (e *GeminiEngine) ExtractPage(ctx context.Context, page rasterizer.Page) (PageResult, error) {
	request := generateRequest{
		Contents: []generateContent{{
			Parts: []generatePart{
				{Text: extractionPrompt},
				{InlineData: &generateInline{
					MIMEType: page.MediaType,
					Data:     base64.StdEncoding.EncodeToString(page.Data),
				}},
			},
		}},
		GenerationConfig: &generationConfig{Temperature: 0},
	}

	log.Debug("Extracting page %d via %s", page.Number, e.config.Model)
	text, err := e.generate(ctx, request)
	if err != nil {
		var docErr *docjob.DocTransError
		if errors.As(err, &docErr) {
			return PageResult{}, docErr.WithContext("page", page.Number)
		}
		return PageResult{}, err
	}

	return parsePageResult(text, page.Number)
}

func (e *GeminiEngine) generate(ctx context.Context, payload generateRequest) (string, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", e.baseURL, e.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.config.APIKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if os.IsTimeout(err) {
			return "", docjob.NewErrorWithCause(docjob.ErrExtraction, "engine request timed out", err)
		}
		return "", docjob.NewErrorWithCause(docjob.ErrExtraction, "engine request failed", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", docjob.NewRateLimitError("engine rate limited", retryAfter(resp.Header))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", docjob.NewError(docjob.ErrExtraction,
			fmt.Sprintf("engine returned status %d: %s", resp.StatusCode, truncate(responseBody, 300)))
	}

	var response generateResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return "", docjob.NewErrorWithCause(docjob.ErrExtraction, "failed to parse engine response", err)
	}
	if response.Error != nil && response.Error.Message != "" {
		return "", docjob.NewError(docjob.ErrExtraction, response.Error.Message)
	}
	if len(response.Candidates) == 0 {
		return "", docjob.NewError(docjob.ErrExtraction, "no candidates in engine response")
	}

	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
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

func truncate(b []byte, max int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
