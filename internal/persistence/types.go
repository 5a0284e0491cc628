package persistence

import (
	"context"

	"github.com/MimeLyc/doctrans/internal/docjob"
)

// Snapshot is the complete store state. Every mutation writes the whole
// snapshot so a backend never sees a partial update.
type Snapshot struct {
	Jobs    []docjob.Job               `json:"jobs"`
	Outputs []docjob.TranslationOutput `json:"outputs"`
	Figures []docjob.Figure            `json:"figures"`
}

// Snapshotter is the persistence backend behind the store. Load returns
// false when no snapshot has been written yet.
type Snapshotter interface {
	Save(ctx context.Context, snap Snapshot) error
	Load(ctx context.Context) (Snapshot, bool, error)
	Close() error
}
