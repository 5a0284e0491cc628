package extraction

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/rasterizer"
)

func testPage() rasterizer.Page {
	return rasterizer.Page{Number: 3, Data: []byte("fake-page-bytes"), MediaType: "application/pdf"}
}

func engineResponse(text string) string {
	body := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func newTestEngine(t *testing.T, url string) *GeminiEngine {
	t.Helper()
	engine, err := NewGeminiEngine(Config{
		APIKey:  "test-key",
		APIURL:  url,
		Model:   "gemini-2.0-flash",
		Timeout: 5,
	})
	require.NoError(t, err)
	return engine
}

func TestGeminiEngine_ExtractPage(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotRequest generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(engineResponse("```json\n{\"markdown_text\": \"# 本文\", \"detected_writing_mode\": \"vertical\"}\n```")))
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	result, err := engine.ExtractPage(context.Background(), testPage())
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotRequest.Contents, 1)
	require.Len(t, gotRequest.Contents[0].Parts, 2)
	assert.NotEmpty(t, gotRequest.Contents[0].Parts[0].Text)
	require.NotNil(t, gotRequest.Contents[0].Parts[1].InlineData)
	assert.Equal(t, "application/pdf", gotRequest.Contents[0].Parts[1].InlineData.MIMEType)

	assert.Equal(t, 3, result.PageNumber)
	assert.Equal(t, "# 本文", result.Markdown)
	assert.Equal(t, "vertical", result.WritingMode)
}

func TestGeminiEngine_RateLimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "17")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	_, err := engine.ExtractPage(context.Background(), testPage())
	require.Error(t, err)

	assert.True(t, docjob.IsErrorType(err, docjob.ErrRateLimit))
	hint, ok := docjob.RetryAfterHint(err)
	require.True(t, ok)
	assert.Equal(t, 17*time.Second, hint)
}

func TestGeminiEngine_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal", http.StatusInternalServerError)
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	_, err := engine.ExtractPage(context.Background(), testPage())
	require.Error(t, err)
	assert.True(t, docjob.IsErrorType(err, docjob.ErrExtraction))
	assert.False(t, docjob.IsFatal(err))
}

func TestGeminiEngine_NoCandidates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	engine := newTestEngine(t, server.URL)
	_, err := engine.ExtractPage(context.Background(), testPage())
	require.Error(t, err)
	assert.True(t, docjob.IsErrorType(err, docjob.ErrExtraction))
}

func TestNewGeminiEngine_RequiresConfig(t *testing.T) {
	t.Parallel()

	_, err := NewGeminiEngine(Config{APIURL: "http://x", Model: "m"})
	require.Error(t, err)
}
