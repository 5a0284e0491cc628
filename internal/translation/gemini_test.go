package translation

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
)

func newTestGemini(t *testing.T, url string) *GeminiEngine {
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

func geminiTextResponse(text string, in, out int) string {
	body := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
		},
		"usageMetadata": map[string]any{
			"promptTokenCount":     in,
			"candidatesTokenCount": out,
		},
	}
	raw, _ := json.Marshal(body)
	return string(raw)
}

func TestGeminiEngine_Translate(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey string
	var gotRequest geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-goog-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotRequest))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(geminiTextResponse("# 第1页\n\n你好。", 900, 210)))
	}))
	defer server.Close()

	engine := newTestGemini(t, server.URL)
	result, err := engine.Translate(context.Background(), "# ページ 1\n\nこんにちは。", "zh")
	require.NoError(t, err)

	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", gotPath)
	assert.Equal(t, "test-key", gotKey)
	require.Len(t, gotRequest.Contents, 1)
	require.Len(t, gotRequest.Contents[0].Parts, 1)
	assert.Contains(t, gotRequest.Contents[0].Parts[0].Text, "こんにちは。")
	assert.Contains(t, gotRequest.Contents[0].Parts[0].Text, "简体中文")
	assert.InDelta(t, 0.3, gotRequest.GenerationConfig.Temperature, 1e-9)

	assert.Equal(t, "# 第1页\n\n你好。", result.Text)
	assert.Equal(t, 900, result.InputTokens)
	assert.Equal(t, 210, result.OutputTokens)
	assert.InDelta(t, 900.0/1e6*0.10+210.0/1e6*0.40, result.CostUSD, 1e-9)
}

func TestGeminiEngine_RateLimited(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "8")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	engine := newTestGemini(t, server.URL)
	_, err := engine.Translate(context.Background(), "text", "en")
	require.Error(t, err)

	assert.True(t, docjob.IsErrorType(err, docjob.ErrRateLimit))
	hint, ok := docjob.RetryAfterHint(err)
	require.True(t, ok)
	assert.Equal(t, 8*time.Second, hint)
}

func TestGeminiEngine_ServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	engine := newTestGemini(t, server.URL)
	_, err := engine.Translate(context.Background(), "text", "en")
	require.Error(t, err)

	assert.True(t, docjob.IsErrorType(err, docjob.ErrTranslation))
	assert.False(t, docjob.IsFatal(err))
}

func TestGeminiEngine_NoCandidates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates": []}`))
	}))
	defer server.Close()

	engine := newTestGemini(t, server.URL)
	_, err := engine.Translate(context.Background(), "text", "en")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no candidates")
}

func TestEngineNames(t *testing.T) {
	t.Parallel()

	claude, err := NewClaudeEngine(Config{APIKey: "k", APIURL: "http://x", Model: "m"})
	require.NoError(t, err)
	gemini, err := NewGeminiEngine(Config{APIKey: "k", APIURL: "http://x", Model: "m"})
	require.NoError(t, err)

	assert.Equal(t, "claude", claude.Name())
	assert.Equal(t, "gemini", gemini.Name())
}
