package docjob

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether a status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Job is one submitted document moving through extraction.
// MasterPath is set only on completion, Error only on failure.
type Job struct {
	ID             string    `json:"id"`
	Filename       string    `json:"filename"`
	Status         Status    `json:"status"`
	SourceLanguage string    `json:"source_language,omitempty"`
	PageCount      int       `json:"page_count,omitempty"`
	MasterPath     string    `json:"master_path,omitempty"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TranslationOutput tracks one (job, language) translation. At most one
// row exists per pair; Engine records which backend produced it.
type TranslationOutput struct {
	JobID           string    `json:"job_id"`
	Language        string    `json:"language"`
	Engine          string    `json:"engine"`
	Status          Status    `json:"status"`
	OutputPath      string    `json:"output_path,omitempty"`
	Error           string    `json:"error,omitempty"`
	DurationSeconds float64   `json:"duration_seconds,omitempty"`
	InputTokens     int       `json:"input_tokens,omitempty"`
	OutputTokens    int       `json:"output_tokens,omitempty"`
	CostUSD         float64   `json:"cost_usd,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Figure is one figure detected on a page during extraction. Path points
// at the stored crop and stays empty when no image could be recovered.
type Figure struct {
	JobID          string     `json:"job_id"`
	Page           int        `json:"page"`
	Index          int        `json:"index"`
	Path           string     `json:"path,omitempty"`
	Type           string     `json:"type,omitempty"`
	Caption        string     `json:"caption,omitempty"`
	BBox           [4]float64 `json:"bbox"`
	NormalizedBBox [4]float64 `json:"normalized_bbox"`
}
