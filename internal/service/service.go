// Package service is the facade over the document pipeline: it validates
// requests, owns the background dispatcher and hands work to the
// extraction and translation orchestrators.
package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MimeLyc/doctrans/internal/artifact"
	"github.com/MimeLyc/doctrans/internal/config"
	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/extraction"
	"github.com/MimeLyc/doctrans/internal/rasterizer"
	"github.com/MimeLyc/doctrans/internal/store"
	"github.com/MimeLyc/doctrans/internal/translation"
	"github.com/MimeLyc/doctrans/pkg/file"
	"github.com/MimeLyc/doctrans/pkg/log"
)

type Service struct {
	cfg        *config.Config
	store      *store.Store
	artifacts  artifact.Store
	raster     rasterizer.Rasterizer
	extractor  *extraction.Orchestrator
	translator *translation.Orchestrator
	engines    *translation.Registry
	dispatcher *Dispatcher
}

func New(
	cfg *config.Config,
	st *store.Store,
	artifacts artifact.Store,
	raster rasterizer.Rasterizer,
	extractor *extraction.Orchestrator,
	translator *translation.Orchestrator,
	engines *translation.Registry,
	dispatcher *Dispatcher,
) *Service {
	return &Service{
		cfg:        cfg,
		store:      st,
		artifacts:  artifacts,
		raster:     raster,
		extractor:  extractor,
		translator: translator,
		engines:    engines,
		dispatcher: dispatcher,
	}
}

// SubmitJob stores the uploaded PDF, inserts a pending job and queues
// extraction. It returns as soon as the job is durably recorded.
func (s *Service) SubmitJob(ctx context.Context, filename string, data []byte) (docjob.Job, error) {
	filename = file.SanitizeFilename(filename)
	if filename == "" {
		return docjob.Job{}, docjob.NewError(docjob.ErrPrecondition, "filename is required")
	}
	if !file.HasExtension(filename, ".pdf") {
		return docjob.Job{}, docjob.NewError(docjob.ErrPrecondition, "only PDF uploads are accepted")
	}
	if len(data) == 0 {
		return docjob.Job{}, docjob.NewError(docjob.ErrPrecondition, "uploaded file is empty")
	}
	if max := s.cfg.HTTP.MaxUploadSize; max > 0 && int64(len(data)) > max {
		return docjob.Job{}, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("file exceeds upload limit of %d bytes", max))
	}
	if _, err := s.raster.PageCount(ctx, data); err != nil {
		return docjob.Job{}, docjob.WrapError(err, docjob.ErrPrecondition, "file is not a readable PDF")
	}

	now := time.Now().UTC()
	job := docjob.Job{
		ID:        uuid.New().String(),
		Filename:  filename,
		Status:    docjob.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	key := artifact.OriginalKey(job.ID)
	if err := s.artifacts.Put(ctx, artifact.BucketPDFs, key, data, artifact.ContentTypePDF); err != nil {
		return docjob.Job{}, docjob.WrapError(err, docjob.ErrStorage, "failed to store original PDF")
	}
	if err := s.store.InsertJob(ctx, job); err != nil {
		if derr := s.artifacts.Delete(ctx, artifact.BucketPDFs, key); derr != nil {
			log.Warn("Failed to clean up orphaned upload %s: %v", key, derr)
		}
		return docjob.Job{}, err
	}

	log.Info("Job %s submitted: %s (%d bytes)", job.ID, filename, len(data))
	s.dispatcher.Submit(func(ctx context.Context) {
		_ = s.extractor.ProcessJob(ctx, job.ID)
	})
	return job, nil
}

// RequestTranslation claims the (job, language) slot and queues the
// translation. Re-requesting a terminal output resets and re-runs it;
// an in-flight output rejects the request.
func (s *Service) RequestTranslation(ctx context.Context, jobID, language, engine string) (docjob.TranslationOutput, error) {
	language, err := docjob.NormalizeLanguage(language)
	if err != nil {
		return docjob.TranslationOutput{}, err
	}
	if engine == "" {
		engine = s.cfg.Translation.DefaultEngine
	}
	if _, err := s.engines.Get(engine); err != nil {
		return docjob.TranslationOutput{}, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("unknown engine %q, available: %s", engine, strings.Join(s.engines.List(), ", ")))
	}

	job, ok := s.store.GetJob(jobID)
	if !ok {
		return docjob.TranslationOutput{}, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("job %s not found", jobID))
	}
	if job.Status != docjob.StatusCompleted {
		return docjob.TranslationOutput{}, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("job is %s, extraction must complete before translation", job.Status))
	}

	out, err := s.store.ClaimOutput(ctx, jobID, language, engine)
	if err != nil {
		return docjob.TranslationOutput{}, err
	}

	log.Info("Translation %s/%s queued on %s", jobID, language, engine)
	s.dispatcher.Submit(func(ctx context.Context) {
		_ = s.translator.ProcessOutput(ctx, jobID, language)
	})
	return out, nil
}

// BatchItem is the claim outcome for one language of a batch request.
type BatchItem struct {
	Language string                    `json:"language"`
	Accepted bool                      `json:"accepted"`
	Output   *docjob.TranslationOutput `json:"output,omitempty"`
	Error    string                    `json:"error,omitempty"`
}

// BatchResult reports which languages of a batch were accepted. The ID
// only correlates the response; batches hold no state of their own.
type BatchResult struct {
	BatchID string      `json:"batch_id"`
	JobID   string      `json:"job_id"`
	Items   []BatchItem `json:"items"`
}

// TranslateBatch fans one job out to several target languages at once.
// Languages are claimed independently, so one rejected pair never blocks
// the rest of the batch.
func (s *Service) TranslateBatch(ctx context.Context, jobID string, languages []string, engine string) (BatchResult, error) {
	if len(languages) == 0 {
		return BatchResult{}, docjob.NewError(docjob.ErrPrecondition, "at least one language is required")
	}

	seen := make(map[string]bool, len(languages))
	targets := make([]string, 0, len(languages))
	for _, lang := range languages {
		if !seen[lang] {
			seen[lang] = true
			targets = append(targets, lang)
		}
	}

	result := BatchResult{
		BatchID: uuid.New().String(),
		JobID:   jobID,
		Items:   make([]BatchItem, len(targets)),
	}

	// Claims run concurrently but land at fixed indexes; a rejected
	// language is recorded in its item and never fails the group.
	var g errgroup.Group
	for i, lang := range targets {
		g.Go(func() error {
			item := BatchItem{Language: lang}
			out, err := s.RequestTranslation(ctx, jobID, lang, engine)
			if err != nil {
				item.Error = err.Error()
			} else {
				item.Accepted = true
				item.Language = out.Language
				item.Output = &out
			}
			result.Items[i] = item
			return nil
		})
	}
	_ = g.Wait()

	accepted := 0
	for _, item := range result.Items {
		if item.Accepted {
			accepted++
		}
	}
	log.Info("Batch %s for job %s: %d/%d languages accepted", result.BatchID, jobID, accepted, len(targets))
	return result, nil
}

// GetJob returns the job with its translation outputs.
func (s *Service) GetJob(jobID string) (docjob.Job, []docjob.TranslationOutput, error) {
	job, ok := s.store.GetJob(jobID)
	if !ok {
		return docjob.Job{}, nil, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("job %s not found", jobID))
	}
	return job, s.store.OutputsByJob(jobID), nil
}

// GetOutput returns one translation output row.
func (s *Service) GetOutput(jobID, language string) (docjob.TranslationOutput, error) {
	out, ok := s.store.GetOutput(jobID, language)
	if !ok {
		return docjob.TranslationOutput{}, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("no translation %s/%s", jobID, language))
	}
	return out, nil
}

// ListJobs returns all jobs, newest first.
func (s *Service) ListJobs() []docjob.Job {
	return s.store.ListJobs()
}

// FiguresByJob returns the figures extracted for a job.
func (s *Service) FiguresByJob(jobID string) []docjob.Figure {
	return s.store.FiguresByJob(jobID)
}

// OutputSummary counts a job's outputs by status, the aggregate view a
// batch caller polls for completion.
type OutputSummary struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s *Service) SummarizeOutputs(jobID string) OutputSummary {
	var summary OutputSummary
	for _, out := range s.store.OutputsByJob(jobID) {
		summary.Total++
		switch out.Status {
		case docjob.StatusPending:
			summary.Pending++
		case docjob.StatusProcessing:
			summary.Processing++
		case docjob.StatusCompleted:
			summary.Completed++
		case docjob.StatusFailed:
			summary.Failed++
		}
	}
	return summary
}

// MasterDocument returns the merged extraction result for a completed job.
func (s *Service) MasterDocument(ctx context.Context, jobID string) ([]byte, error) {
	job, ok := s.store.GetJob(jobID)
	if !ok {
		return nil, docjob.NewError(docjob.ErrPrecondition, fmt.Sprintf("job %s not found", jobID))
	}
	if job.MasterPath == "" {
		return nil, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("job is %s, no master document yet", job.Status))
	}
	return s.artifacts.Get(ctx, artifact.BucketDocuments, job.MasterPath)
}

// TranslatedDocument returns the stored translation for a completed output.
func (s *Service) TranslatedDocument(ctx context.Context, jobID, language string) ([]byte, error) {
	out, ok := s.store.GetOutput(jobID, language)
	if !ok {
		return nil, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("no translation %s/%s", jobID, language))
	}
	if out.OutputPath == "" {
		return nil, docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("translation %s/%s is %s", jobID, language, out.Status))
	}
	return s.artifacts.Get(ctx, artifact.BucketDocuments, out.OutputPath)
}

// FigureImage returns the stored crop for one figure of a job.
func (s *Service) FigureImage(ctx context.Context, jobID, name string) ([]byte, error) {
	return s.artifacts.Get(ctx, artifact.BucketFigures, jobID+"/"+name)
}
