package extraction

import (
	"context"
	"fmt"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"

	"github.com/MimeLyc/doctrans/internal/artifact"
	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/rasterizer"
	"github.com/MimeLyc/doctrans/internal/retry"
	"github.com/MimeLyc/doctrans/internal/store"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// Orchestrator drives the extraction pipeline for one job: claim the job,
// split the PDF, recognize every page concurrently, merge in page order and
// record the outcome. A job completes only when every page succeeded.
type Orchestrator struct {
	store       *store.Store
	artifacts   artifact.Store
	raster      rasterizer.Rasterizer
	engine      Engine
	retry       retry.Policy
	concurrency int
}

// NewOrchestrator wires the extraction pipeline. concurrency bounds the
// number of pages in flight; zero or negative means one goroutine per page.
func NewOrchestrator(st *store.Store, artifacts artifact.Store, raster rasterizer.Rasterizer, engine Engine, policy retry.Policy, concurrency int) *Orchestrator {
	return &Orchestrator{
		store:       st,
		artifacts:   artifacts,
		raster:      raster,
		engine:      engine,
		retry:       policy,
		concurrency: concurrency,
	}
}

// ProcessJob claims the job and runs extraction end to end. A lost claim
// race is not an error; any pipeline failure, panics included, marks the
// job failed so it never sticks in processing.
func (o *Orchestrator) ProcessJob(ctx context.Context, jobID string) error {
	swapped, err := o.store.CompareAndSwapJobStatus(ctx, jobID, docjob.StatusPending, docjob.StatusProcessing)
	if err != nil {
		return err
	}
	if !swapped {
		log.Info("Job %s already claimed, skipping", jobID)
		return nil
	}

	err = docjob.SafeExecute(func() error { return o.run(ctx, jobID) })
	if err != nil {
		log.Error("Extraction failed for job %s: %v", jobID, err)
		// Guarded write: if the sweeper already recovered the job the
		// failure belongs to a claim we no longer hold.
		swapped, uerr := o.store.UpdateJobIf(ctx, jobID, docjob.StatusProcessing, func(job *docjob.Job) {
			job.Status = docjob.StatusFailed
			job.Error = err.Error()
		})
		if uerr != nil {
			log.Error("Failed to mark job %s failed: %v", jobID, uerr)
		} else if !swapped {
			log.Warn("Job %s is no longer processing, skipping failure write", jobID)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, jobID string) error {
	pdf, err := o.artifacts.Get(ctx, artifact.BucketPDFs, artifact.OriginalKey(jobID))
	if err != nil {
		return docjob.WrapError(err, docjob.ErrStorage, "failed to load original PDF")
	}

	pages, err := o.raster.Split(ctx, pdf)
	if err != nil {
		return docjob.WrapError(err, docjob.ErrExtraction, "failed to split PDF into pages")
	}
	log.Info("Extracting job %s: %d pages", jobID, len(pages))

	results := make([]PageResult, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	if o.concurrency > 0 {
		g.SetLimit(o.concurrency)
	}
	for i, page := range pages {
		g.Go(func() error {
			res, err := o.extractPage(gctx, page)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	master := MergeMarkdown(results)
	if err := o.artifacts.Put(ctx, artifact.BucketDocuments, artifact.MasterKey(jobID), []byte(master), artifact.ContentTypeMarkdown); err != nil {
		return docjob.WrapError(err, docjob.ErrStorage, "failed to store master markdown")
	}

	figures := o.collectFigures(ctx, jobID, pdf, results)
	if err := o.store.ReplaceFigures(ctx, jobID, figures); err != nil {
		return err
	}

	source := detectLanguage(master)
	swapped, err := o.store.UpdateJobIf(ctx, jobID, docjob.StatusProcessing, func(job *docjob.Job) {
		job.Status = docjob.StatusCompleted
		job.PageCount = len(pages)
		job.MasterPath = artifact.MasterKey(jobID)
		job.SourceLanguage = source
		job.Error = ""
	})
	if err != nil {
		return err
	}
	if !swapped {
		// The sweeper recovered the job mid-extraction; the re-run will
		// rewrite the same artifact keys, so the result is just dropped.
		log.Warn("Job %s was recovered while extracting, discarding result", jobID)
		return nil
	}

	log.Info("Extraction completed for job %s: %d pages, %d figures", jobID, len(pages), len(figures))
	return nil
}

func (o *Orchestrator) extractPage(ctx context.Context, page rasterizer.Page) (PageResult, error) {
	var result PageResult
	err := o.retry.Do(ctx, func(ctx context.Context) error {
		res, err := o.engine.ExtractPage(ctx, page)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return PageResult{}, docjob.WrapError(err, docjob.ErrExtraction,
			fmt.Sprintf("page %d extraction failed", page.Number))
	}
	return result, nil
}

// collectFigures stores a crop for every detected figure when the page has
// a matching embedded image, and keeps the metadata either way.
func (o *Orchestrator) collectFigures(ctx context.Context, jobID string, pdf []byte, results []PageResult) []docjob.Figure {
	var dims []rasterizer.Dim
	if d, err := o.raster.PageDims(ctx, pdf); err != nil {
		log.Warn("Page dimensions unavailable for job %s: %v", jobID, err)
	} else {
		dims = d
	}

	var figures []docjob.Figure
	for _, res := range results {
		if len(res.Figures) == 0 {
			continue
		}
		imgs, err := o.raster.PageImages(ctx, pdf, res.PageNumber)
		if err != nil {
			log.Warn("Figure images unavailable for page %d of job %s: %v", res.PageNumber, jobID, err)
		}
		for i, fig := range res.Figures {
			rec := docjob.Figure{
				JobID:   jobID,
				Page:    res.PageNumber,
				Index:   fig.ID,
				Type:    fig.Type,
				Caption: fig.Caption,
				BBox:    [4]float64{fig.X, fig.Y, fig.X + fig.Width, fig.Y + fig.Height},
			}
			if res.PageNumber >= 1 && res.PageNumber <= len(dims) {
				rec.NormalizedBBox = normalizeBBox(rec.BBox, dims[res.PageNumber-1])
			}
			if i < len(imgs) {
				key := artifact.FigureKey(jobID, res.PageNumber, fig.ID)
				if err := o.artifacts.Put(ctx, artifact.BucketFigures, key, imgs[i].Data, artifact.ContentTypePNG); err != nil {
					log.Warn("Failed to store figure %s: %v", key, err)
				} else {
					rec.Path = artifact.BucketFigures + "/" + key
				}
			}
			figures = append(figures, rec)
		}
	}
	return figures
}

func normalizeBBox(bbox [4]float64, dim rasterizer.Dim) [4]float64 {
	if dim.Width <= 0 || dim.Height <= 0 {
		return [4]float64{}
	}
	return [4]float64{
		clamp01(bbox[0] / dim.Width),
		clamp01(bbox[1] / dim.Height),
		clamp01(bbox[2] / dim.Width),
		clamp01(bbox[3] / dim.Height),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func detectLanguage(text string) string {
	code := whatlanggo.DetectLang(text).Iso6391()
	if code == "" {
		return ""
	}
	return language.All.Make(code).String()
}
