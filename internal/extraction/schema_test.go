package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/doctrans/internal/docjob"
)

func TestParsePageResult_FencedBlock(t *testing.T) {
	t.Parallel()

	response := "Here is the extraction result:\n```json\n" + `{
  "detected_writing_mode": "vertical",
  "markdown_text": "# 見出し\n\n本文です。",
  "figures": [
    {
      "id": 1,
      "position": {"x": 100, "y": 200, "width": 400, "height": 300},
      "type": "diagram",
      "description": "構成図",
      "extracted_text": "ラベル"
    }
  ]
}` + "\n```\nDone."

	result, err := parsePageResult(response, 4)
	require.NoError(t, err)

	assert.Equal(t, 4, result.PageNumber)
	assert.Equal(t, "vertical", result.WritingMode)
	assert.Contains(t, result.Markdown, "見出し")
	require.Len(t, result.Figures, 1)
	fig := result.Figures[0]
	assert.Equal(t, 1, fig.ID)
	assert.Equal(t, "diagram", fig.Type)
	assert.Equal(t, "構成図", fig.Caption)
	assert.Equal(t, 100.0, fig.X)
	assert.Equal(t, 300.0, fig.Height)
}

func TestParsePageResult_BareJSONFallback(t *testing.T) {
	t.Parallel()

	result, err := parsePageResult(`{"markdown_text": "plain body", "detected_writing_mode": "horizontal"}`, 1)
	require.NoError(t, err)
	assert.Equal(t, "plain body", result.Markdown)
	assert.Equal(t, "horizontal", result.WritingMode)
	assert.Empty(t, result.Figures)
}

func TestParsePageResult_RejectsNonJSON(t *testing.T) {
	t.Parallel()

	_, err := parsePageResult("the model rambled instead of answering", 7)
	require.Error(t, err)
	assert.True(t, docjob.IsErrorType(err, docjob.ErrExtraction))
}

func TestParsePageResult_RejectsMissingMarkdownText(t *testing.T) {
	t.Parallel()

	_, err := parsePageResult("```json\n{\"figures\": []}\n```", 2)
	require.Error(t, err)
	assert.True(t, docjob.IsErrorType(err, docjob.ErrExtraction))
}

func TestParsePageResult_RejectsMalformedFigure(t *testing.T) {
	t.Parallel()

	// Figure without position must not validate.
	_, err := parsePageResult("```json\n"+`{"markdown_text": "x", "figures": [{"id": 1, "type": "photo"}]}`+"\n```", 3)
	require.Error(t, err)
}
