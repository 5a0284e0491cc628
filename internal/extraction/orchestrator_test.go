package extraction

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MimeLyc/doctrans/internal/artifact"
	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/persistence"
	"github.com/MimeLyc/doctrans/internal/rasterizer"
	"github.com/MimeLyc/doctrans/internal/retry"
	"github.com/MimeLyc/doctrans/internal/store"
)

type fakeRaster struct {
	pages  int
	images map[int][]rasterizer.Image
}

func (f *fakeRaster) PageCount(context.Context, []byte) (int, error) { return f.pages, nil }

func (f *fakeRaster) Split(context.Context, []byte) ([]rasterizer.Page, error) {
	pages := make([]rasterizer.Page, 0, f.pages)
	for nr := 1; nr <= f.pages; nr++ {
		pages = append(pages, rasterizer.Page{
			Number:    nr,
			Data:      fmt.Appendf(nil, "page-%d", nr),
			MediaType: "application/pdf",
		})
	}
	return pages, nil
}

func (f *fakeRaster) PageImages(_ context.Context, _ []byte, pageNr int) ([]rasterizer.Image, error) {
	return f.images[pageNr], nil
}

func (f *fakeRaster) PageDims(context.Context, []byte) ([]rasterizer.Dim, error) {
	dims := make([]rasterizer.Dim, f.pages)
	for i := range dims {
		dims[i] = rasterizer.Dim{Width: 612, Height: 792}
	}
	return dims, nil
}

type fakeEngine struct {
	mu      sync.Mutex
	calls   map[int]int
	extract func(page rasterizer.Page, attempt int) (PageResult, error)
}

func newFakeEngine(extract func(page rasterizer.Page, attempt int) (PageResult, error)) *fakeEngine {
	return &fakeEngine{calls: map[int]int{}, extract: extract}
}

func (f *fakeEngine) ExtractPage(_ context.Context, page rasterizer.Page) (PageResult, error) {
	f.mu.Lock()
	f.calls[page.Number]++
	attempt := f.calls[page.Number]
	f.mu.Unlock()
	return f.extract(page, attempt)
}

func (f *fakeEngine) callCount(page int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[page]
}

func japanesePage(page rasterizer.Page) PageResult {
	return PageResult{
		PageNumber:  page.Number,
		Markdown:    fmt.Sprintf("これは日本語の本文です。ページ番号は%dです。", page.Number),
		WritingMode: "horizontal",
	}
}

type orchestratorEnv struct {
	store     *store.Store
	artifacts *artifact.LocalStore
	orch      *Orchestrator
}

func newOrchestratorEnv(t *testing.T, raster rasterizer.Rasterizer, engine Engine) *orchestratorEnv {
	t.Helper()
	snap, err := persistence.NewFileStore(filepath.Join(t.TempDir(), "snapshot.json"))
	require.NoError(t, err)
	st, err := store.New(context.Background(), snap)
	require.NoError(t, err)
	artifacts, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	policy := retry.NewPolicy(3, time.Millisecond, 2, 5*time.Millisecond)
	return &orchestratorEnv{
		store:     st,
		artifacts: artifacts,
		orch:      NewOrchestrator(st, artifacts, raster, engine, policy, 2),
	}
}

func (e *orchestratorEnv) seedJob(t *testing.T, id string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, e.store.InsertJob(ctx, docjob.Job{
		ID: id, Filename: "doc.pdf", Status: docjob.StatusPending,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, e.artifacts.Put(ctx, artifact.BucketPDFs, artifact.OriginalKey(id),
		[]byte("%PDF-1.4 fake"), artifact.ContentTypePDF))
}

func TestOrchestrator_ProcessJob_CompletesInPageOrder(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		// First pages finish last; the merge must still follow page order.
		time.Sleep(time.Duration(3-page.Number+1) * 20 * time.Millisecond)
		return japanesePage(page), nil
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 3}, engine)
	env.seedJob(t, "job-1")

	require.NoError(t, env.orch.ProcessJob(context.Background(), "job-1"))

	job, ok := env.store.GetJob("job-1")
	require.True(t, ok)
	assert.Equal(t, docjob.StatusCompleted, job.Status)
	assert.Equal(t, 3, job.PageCount)
	assert.Equal(t, "job-1/master_ja.md", job.MasterPath)
	assert.Equal(t, "ja", job.SourceLanguage)
	assert.Empty(t, job.Error)

	master, err := env.artifacts.Get(context.Background(), artifact.BucketDocuments, artifact.MasterKey("job-1"))
	require.NoError(t, err)
	text := string(master)
	for _, header := range []string{"# ページ 1", "# ページ 2", "# ページ 3"} {
		assert.Contains(t, text, header)
	}
	assert.Less(t, strings.Index(text, "# ページ 1"), strings.Index(text, "# ページ 2"))
	assert.Less(t, strings.Index(text, "# ページ 2"), strings.Index(text, "# ページ 3"))
}

func TestOrchestrator_ProcessJob_StoresFigures(t *testing.T) {
	t.Parallel()

	raster := &fakeRaster{
		pages: 2,
		images: map[int][]rasterizer.Image{
			2: {{Data: []byte{0x89, 0x50, 0x4e, 0x47}, FileType: "png"}},
		},
	}
	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		res := japanesePage(page)
		if page.Number == 2 {
			res.Figures = []PageFigure{
				{ID: 1, Type: "diagram", Caption: "構成図", X: 100, Y: 100, Width: 100, Height: 100},
				{ID: 2, Type: "photo", X: 10, Y: 10, Width: 20, Height: 20},
			}
		}
		return res, nil
	})
	env := newOrchestratorEnv(t, raster, engine)
	env.seedJob(t, "job-1")

	require.NoError(t, env.orch.ProcessJob(context.Background(), "job-1"))

	figs := env.store.FiguresByJob("job-1")
	require.Len(t, figs, 2)

	first := figs[0]
	assert.Equal(t, 2, first.Page)
	assert.Equal(t, 1, first.Index)
	assert.Equal(t, "figures/job-1/page_2_fig_1.png", first.Path)
	assert.Equal(t, [4]float64{100, 100, 200, 200}, first.BBox)
	assert.InDelta(t, 100.0/612.0, first.NormalizedBBox[0], 1e-9)
	assert.InDelta(t, 200.0/792.0, first.NormalizedBBox[3], 1e-9)

	// Only one embedded image: the second figure keeps metadata without a crop.
	second := figs[1]
	assert.Equal(t, 2, second.Index)
	assert.Empty(t, second.Path)

	ok, err := env.artifacts.Exists(context.Background(), artifact.BucketFigures, artifact.FigureKey("job-1", 2, 1))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOrchestrator_ProcessJob_AllOrNothing(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		if page.Number == 2 {
			return PageResult{}, errors.New("engine exploded")
		}
		return japanesePage(page), nil
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 3}, engine)
	env.seedJob(t, "job-1")

	err := env.orch.ProcessJob(context.Background(), "job-1")
	require.Error(t, err)

	job, ok := env.store.GetJob("job-1")
	require.True(t, ok)
	assert.Equal(t, docjob.StatusFailed, job.Status)
	assert.Contains(t, job.Error, "page 2")
	assert.Zero(t, job.PageCount)
	assert.Empty(t, job.MasterPath)

	// No partial master document.
	exists, err := env.artifacts.Exists(context.Background(), artifact.BucketDocuments, artifact.MasterKey("job-1"))
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Empty(t, env.store.FiguresByJob("job-1"))
}

func TestOrchestrator_ProcessJob_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(func(page rasterizer.Page, attempt int) (PageResult, error) {
		if page.Number == 2 && attempt <= 2 {
			return PageResult{}, errors.New("flaky network")
		}
		return japanesePage(page), nil
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 3}, engine)
	env.seedJob(t, "job-1")

	require.NoError(t, env.orch.ProcessJob(context.Background(), "job-1"))

	assert.Equal(t, 1, engine.callCount(1))
	assert.Equal(t, 3, engine.callCount(2))
	assert.Equal(t, 1, engine.callCount(3))

	job, _ := env.store.GetJob("job-1")
	assert.Equal(t, docjob.StatusCompleted, job.Status)
}

func TestOrchestrator_ProcessJob_FatalErrorSkipsRetries(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		return PageResult{}, docjob.NewError(docjob.ErrConfiguration, "bad API key")
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 1}, engine)
	env.seedJob(t, "job-1")

	err := env.orch.ProcessJob(context.Background(), "job-1")
	require.Error(t, err)

	assert.Equal(t, 1, engine.callCount(1))
	job, _ := env.store.GetJob("job-1")
	assert.Equal(t, docjob.StatusFailed, job.Status)
}

func TestOrchestrator_ProcessJob_LostClaimIsNoop(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		return japanesePage(page), nil
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 1}, engine)
	env.seedJob(t, "job-1")

	ctx := context.Background()
	swapped, err := env.store.CompareAndSwapJobStatus(ctx, "job-1", docjob.StatusPending, docjob.StatusProcessing)
	require.NoError(t, err)
	require.True(t, swapped)

	require.NoError(t, env.orch.ProcessJob(ctx, "job-1"))

	assert.Equal(t, 0, engine.callCount(1))
	job, _ := env.store.GetJob("job-1")
	assert.Equal(t, docjob.StatusProcessing, job.Status)
}

func TestOrchestrator_ProcessJob_MissingJob(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		return japanesePage(page), nil
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 1}, engine)

	err := env.orch.ProcessJob(context.Background(), "ghost")
	require.Error(t, err)
	assert.True(t, docjob.IsErrorType(err, docjob.ErrPrecondition))
}

func TestOrchestrator_BoundedPageConcurrency(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	inFlight, peak := 0, 0
	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		mu.Lock()
		inFlight++
		if inFlight > peak {
			peak = inFlight
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return japanesePage(page), nil
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 6}, engine)
	env.seedJob(t, "job-1")

	require.NoError(t, env.orch.ProcessJob(context.Background(), "job-1"))

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, peak, 2)
	assert.Greater(t, peak, 0)
}

func TestOrchestrator_ProcessJob_RecoveredJobKeepsPendingStatus(t *testing.T) {
	t.Parallel()

	extracting := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	engine := newFakeEngine(func(page rasterizer.Page, _ int) (PageResult, error) {
		once.Do(func() { close(extracting) })
		<-release
		return japanesePage(page), nil
	})
	env := newOrchestratorEnv(t, &fakeRaster{pages: 1}, engine)
	env.seedJob(t, "job-1")

	done := make(chan error, 1)
	go func() { done <- env.orch.ProcessJob(context.Background(), "job-1") }()

	<-extracting
	// Sweep while the worker is mid-extraction: the job goes back to pending.
	res, err := env.store.RecoverStale(context.Background(), time.Now().UTC().Add(time.Minute), "requeued by sweep")
	require.NoError(t, err)
	require.Equal(t, []string{"job-1"}, res.RequeuedJobs)

	close(release)
	require.NoError(t, <-done)

	// The stale worker's completion must not overwrite the requeued job.
	job, ok := env.store.GetJob("job-1")
	require.True(t, ok)
	assert.Equal(t, docjob.StatusPending, job.Status)
	assert.Zero(t, job.PageCount)
	assert.Empty(t, job.MasterPath)
	assert.Empty(t, job.Error)
}

func TestNormalizeBBox(t *testing.T) {
	t.Parallel()

	norm := normalizeBBox([4]float64{61.2, 79.2, 612, 792}, rasterizer.Dim{Width: 612, Height: 792})
	assert.InDelta(t, 0.1, norm[0], 1e-9)
	assert.InDelta(t, 0.1, norm[1], 1e-9)
	assert.InDelta(t, 1.0, norm[2], 1e-9)
	assert.InDelta(t, 1.0, norm[3], 1e-9)

	// Out-of-page coordinates clamp instead of exceeding the unit square.
	clamped := normalizeBBox([4]float64{-10, 0, 2000, 100}, rasterizer.Dim{Width: 612, Height: 792})
	assert.Equal(t, 0.0, clamped[0])
	assert.Equal(t, 1.0, clamped[2])

	assert.Equal(t, [4]float64{}, normalizeBBox([4]float64{1, 2, 3, 4}, rasterizer.Dim{}))
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ja", detectLanguage("これは日本語で書かれた教科書の本文です。漢字とひらがなを含みます。"))
}
