package translation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// Gemini API pricing per million tokens, used for the cost estimate.
const (
	geminiInputCostPerMTok  = 0.10
	geminiOutputCostPerMTok = 0.40
)

// GeminiEngine translates through a Gemini-style generateContent endpoint.
type GeminiEngine struct {
	config     Config
	httpClient *http.Client
	baseURL    string
}

// NewGeminiEngine creates a Gemini translation engine with the given configuration.
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

func (e *GeminiEngine) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature float64 `json:"temperature"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// Translate sends the markdown to Gemini and returns the translated text
// with token usage and an estimated cost.
func (e *GeminiEngine) Translate(ctx context.Context, markdown, targetLanguage string) (Result, error) {
	request := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: buildPrompt(markdown, targetLanguage)}}},
		},
		GenerationConfig: geminiGenerationConfig{Temperature: 0.3},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", e.baseURL, e.config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return Result{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", e.config.APIKey)

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
		return Result{}, docjob.NewRateLimitError("gemini rate limited", retryAfterHeader(resp.Header))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, docjob.NewError(docjob.ErrTranslation,
			fmt.Sprintf("gemini returned status %d", resp.StatusCode))
	}

	var response geminiResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return Result{}, docjob.NewErrorWithCause(docjob.ErrTranslation, "failed to parse engine response", err)
	}
	if response.Error != nil && response.Error.Message != "" {
		return Result{}, docjob.NewError(docjob.ErrTranslation, response.Error.Message)
	}
	if len(response.Candidates) == 0 {
		return Result{}, docjob.NewError(docjob.ErrTranslation, "no candidates in gemini response")
	}

	var sb strings.Builder
	for _, part := range response.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := sb.String()
	if text == "" {
		return Result{}, docjob.NewError(docjob.ErrTranslation, "empty translation from gemini")
	}

	return Result{
		Text:         text,
		InputTokens:  response.UsageMetadata.PromptTokenCount,
		OutputTokens: response.UsageMetadata.CandidatesTokenCount,
		CostUSD: float64(response.UsageMetadata.PromptTokenCount)/1e6*geminiInputCostPerMTok +
			float64(response.UsageMetadata.CandidatesTokenCount)/1e6*geminiOutputCostPerMTok,
	}, nil
}
