package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/doctrans/internal/docjob"
)

func sampleSnapshot() Snapshot {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return Snapshot{
		Jobs: []docjob.Job{
			{
				ID:             "job-1",
				Filename:       "spec.pdf",
				Status:         docjob.StatusCompleted,
				SourceLanguage: "ja",
				PageCount:      3,
				MasterPath:     "job-1/master_ja.md",
				CreatedAt:      now,
				UpdatedAt:      now,
			},
			{
				ID:        "job-2",
				Filename:  "draft.pdf",
				Status:    docjob.StatusFailed,
				Error:     "page 2 extraction failed",
				CreatedAt: now,
				UpdatedAt: now,
			},
		},
		Outputs: []docjob.TranslationOutput{
			{
				JobID:           "job-1",
				Language:        "en",
				Engine:          "claude",
				Status:          docjob.StatusCompleted,
				OutputPath:      "job-1/translated_en.md",
				DurationSeconds: 12.5,
				InputTokens:     900,
				OutputTokens:    1100,
				CostUSD:         0.021,
				CreatedAt:       now,
				UpdatedAt:       now,
			},
		},
		Figures: []docjob.Figure{
			{
				JobID:          "job-1",
				Page:           1,
				Index:          1,
				Path:           "figures/job-1/page_1_fig_1.png",
				Type:           "diagram",
				Caption:        "architecture overview",
				BBox:           [4]float64{10, 20, 110, 220},
				NormalizedBBox: [4]float64{0.1, 0.2, 0.4, 0.6},
			},
		},
	}
}

func assertSnapshotEqual(t *testing.T, want, got Snapshot) {
	t.Helper()
	require.Len(t, got.Jobs, len(want.Jobs))
	for i := range want.Jobs {
		assert.Equal(t, want.Jobs[i].ID, got.Jobs[i].ID)
		assert.Equal(t, want.Jobs[i].Status, got.Jobs[i].Status)
		assert.Equal(t, want.Jobs[i].MasterPath, got.Jobs[i].MasterPath)
		assert.Equal(t, want.Jobs[i].PageCount, got.Jobs[i].PageCount)
		assert.Equal(t, want.Jobs[i].Error, got.Jobs[i].Error)
	}
	require.Len(t, got.Outputs, len(want.Outputs))
	for i := range want.Outputs {
		assert.Equal(t, want.Outputs[i].JobID, got.Outputs[i].JobID)
		assert.Equal(t, want.Outputs[i].Language, got.Outputs[i].Language)
		assert.Equal(t, want.Outputs[i].Engine, got.Outputs[i].Engine)
		assert.Equal(t, want.Outputs[i].OutputPath, got.Outputs[i].OutputPath)
		assert.InDelta(t, want.Outputs[i].CostUSD, got.Outputs[i].CostUSD, 1e-9)
	}
	require.Len(t, got.Figures, len(want.Figures))
	for i := range want.Figures {
		assert.Equal(t, want.Figures[i], got.Figures[i])
	}
}

func TestSQLiteStore_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "doctrans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	want := sampleSnapshot()
	require.NoError(t, store.Save(ctx, want))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assertSnapshotEqual(t, want, got)
}

func TestSQLiteStore_SaveReplacesPreviousSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "doctrans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	require.NoError(t, store.Save(ctx, sampleSnapshot()))

	smaller := Snapshot{Jobs: sampleSnapshot().Jobs[:1]}
	require.NoError(t, store.Save(ctx, smaller))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Jobs, 1)
	assert.Empty(t, got.Outputs)
	assert.Empty(t, got.Figures)
}

func TestSQLiteStore_LoadEmptyReportsNoSnapshot(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewSQLiteStore(filepath.Join(dir, "doctrans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_ReopenKeepsData(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "doctrans.db")

	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), sampleSnapshot()))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	got, ok, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.Jobs, 2)
}

func TestFileStore_SnapshotRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "snapshot.json"))
	require.NoError(t, err)

	ctx := context.Background()
	want := sampleSnapshot()
	require.NoError(t, store.Save(ctx, want))

	got, ok, err := store.Load(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assertSnapshotEqual(t, want, got)
}

func TestFileStore_LoadMissingFileReportsNoSnapshot(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)

	_, ok, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewFileStore_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := NewFileStore("  ")
	require.Error(t, err)
}
