// Package artifact stores the binary and text artifacts a job produces:
// the uploaded PDF, the merged master markdown, per-language translations
// and cropped figure images. Artifacts live in one of three buckets and
// are addressed by bucket + key; records in the job store keep only keys,
// so the backend (local FS or S3) can change without touching job state.
package artifact

import (
	"context"
	"errors"
	"fmt"
)

// Bucket names group artifacts by kind.
const (
	BucketPDFs      = "pdfs"
	BucketDocuments = "documents"
	BucketFigures   = "figures"
)

// Content types attached to stored artifacts.
const (
	ContentTypePDF      = "application/pdf"
	ContentTypeMarkdown = "text/markdown"
	ContentTypePNG      = "image/png"
)

// ErrNotFound is returned when a bucket/key has no stored artifact.
var ErrNotFound = errors.New("artifact not found")

// Store persists and retrieves job artifacts.
type Store interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Delete(ctx context.Context, bucket, key string) error
}

// OriginalKey is the key of the uploaded PDF in the pdfs bucket.
func OriginalKey(jobID string) string {
	return jobID + "/original.pdf"
}

// MasterKey is the key of the merged master markdown in the documents bucket.
func MasterKey(jobID string) string {
	return jobID + "/master_ja.md"
}

// TranslationKey is the key of a translated markdown in the documents bucket.
func TranslationKey(jobID, language string) string {
	return fmt.Sprintf("%s/translated_%s.md", jobID, language)
}

// FigureKey is the key of a cropped figure image in the figures bucket.
func FigureKey(jobID string, page, index int) string {
	return fmt.Sprintf("%s/page_%d_fig_%d.png", jobID, page, index)
}
