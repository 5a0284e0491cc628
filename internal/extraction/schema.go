package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/MimeLyc/doctrans/internal/docjob"
)

// fencedJSON matches the ```json ... ``` block the engine is asked to emit.
var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// pageSchema describes the JSON shape the recognition engine must return.
func pageSchema() map[string]any {
	position := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"x":      map[string]any{"type": "number"},
			"y":      map[string]any{"type": "number"},
			"width":  map[string]any{"type": "number"},
			"height": map[string]any{"type": "number"},
		},
		"required": []string{"x", "y", "width", "height"},
	}
	figure := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":             map[string]any{"type": "integer", "minimum": 1},
			"position":       position,
			"type":           map[string]any{"type": "string"},
			"description":    map[string]any{"type": "string"},
			"extracted_text": map[string]any{"type": []string{"string", "null"}},
		},
		"required": []string{"id", "position", "type"},
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"detected_writing_mode": map[string]any{"type": "string"},
			"markdown_text":         map[string]any{"type": "string"},
			"figures":               map[string]any{"type": "array", "items": figure},
		},
		"required": []string{"markdown_text"},
	}
}

// validateAgainstSchema validates data against schemaMap.
func validateAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

type pagePayload struct {
	DetectedWritingMode string `json:"detected_writing_mode"`
	MarkdownText        string `json:"markdown_text"`
	Figures             []struct {
		ID       int `json:"id"`
		Position struct {
			X      float64 `json:"x"`
			Y      float64 `json:"y"`
			Width  float64 `json:"width"`
			Height float64 `json:"height"`
		} `json:"position"`
		Type        string `json:"type"`
		Description string `json:"description"`
	} `json:"figures"`
}

// parsePageResult extracts the JSON block from an engine response and turns
// it into a PageResult. Responses without a fenced block are parsed as bare
// JSON before giving up.
func parsePageResult(text string, pageNumber int) (PageResult, error) {
	raw := []byte(text)
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		raw = []byte(m[1])
	}

	if err := validateAgainstSchema(pageSchema(), raw); err != nil {
		return PageResult{}, docjob.NewErrorWithCause(docjob.ErrExtraction,
			"engine response failed validation", err).
			WithContext("page", pageNumber)
	}

	var payload pagePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return PageResult{}, docjob.NewErrorWithCause(docjob.ErrExtraction,
			"engine response is not valid JSON", err).
			WithContext("page", pageNumber)
	}

	result := PageResult{
		PageNumber:  pageNumber,
		Markdown:    payload.MarkdownText,
		WritingMode: payload.DetectedWritingMode,
	}
	for _, fig := range payload.Figures {
		result.Figures = append(result.Figures, PageFigure{
			ID:      fig.ID,
			Type:    fig.Type,
			Caption: fig.Description,
			X:       fig.Position.X,
			Y:       fig.Position.Y,
			Width:   fig.Position.Width,
			Height:  fig.Position.Height,
		})
	}
	return result, nil
}
