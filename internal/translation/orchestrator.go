package translation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MimeLyc/doctrans/internal/artifact"
	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/retry"
	"github.com/MimeLyc/doctrans/internal/store"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// Orchestrator drives one translation output: claim the row, load the
// master document, translate it chunk by chunk through the requested
// engine and record text, tokens and cost on the row.
type Orchestrator struct {
	store      *store.Store
	artifacts  artifact.Store
	registry   *Registry
	retry      retry.Policy
	chunkChars int
}

// NewOrchestrator wires the translation pipeline. chunkChars bounds the
// characters sent per engine call; zero or negative disables chunking.
func NewOrchestrator(st *store.Store, artifacts artifact.Store, registry *Registry, policy retry.Policy, chunkChars int) *Orchestrator {
	return &Orchestrator{
		store:      st,
		artifacts:  artifacts,
		registry:   registry,
		retry:      policy,
		chunkChars: chunkChars,
	}
}

// ProcessOutput claims the (job, language) row and runs the translation
// end to end. A lost claim race is not an error; any pipeline failure,
// panics included, marks the row failed so it never sticks in processing.
func (o *Orchestrator) ProcessOutput(ctx context.Context, jobID, language string) error {
	swapped, err := o.store.CompareAndSwapOutputStatus(ctx, jobID, language, docjob.StatusPending, docjob.StatusProcessing)
	if err != nil {
		return err
	}
	if !swapped {
		log.Info("Translation %s/%s already claimed, skipping", jobID, language)
		return nil
	}

	err = docjob.SafeExecute(func() error { return o.run(ctx, jobID, language) })
	if err != nil {
		log.Error("Translation failed for %s/%s: %v", jobID, language, err)
		// Guarded write: the sweeper may have failed the row already, or
		// a re-request reset it; either way this claim is gone.
		swapped, uerr := o.store.UpdateOutputIf(ctx, jobID, language, docjob.StatusProcessing, func(out *docjob.TranslationOutput) {
			out.Status = docjob.StatusFailed
			out.Error = err.Error()
		})
		if uerr != nil {
			log.Error("Failed to mark translation %s/%s failed: %v", jobID, language, uerr)
		} else if !swapped {
			log.Warn("Translation %s/%s is no longer processing, skipping failure write", jobID, language)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, jobID, language string) error {
	started := time.Now()

	out, ok := o.store.GetOutput(jobID, language)
	if !ok {
		return docjob.NewError(docjob.ErrPrecondition, "translation row disappeared")
	}
	engine, err := o.registry.Get(out.Engine)
	if err != nil {
		return err
	}

	// The job may have been recovered or failed between the request and
	// this worker picking it up, so re-check before spending tokens.
	job, ok := o.store.GetJob(jobID)
	if !ok {
		return docjob.NewError(docjob.ErrPrecondition, "job not found")
	}
	if job.Status != docjob.StatusCompleted || job.MasterPath == "" {
		return docjob.NewError(docjob.ErrPrecondition,
			fmt.Sprintf("job is %s, extraction must complete first", job.Status))
	}

	master, err := o.artifacts.Get(ctx, artifact.BucketDocuments, job.MasterPath)
	if err != nil {
		return docjob.WrapError(err, docjob.ErrStorage, "failed to load master document")
	}

	chunks := SplitMarkdown(string(master), o.chunkChars)
	log.Info("Translating %s to %s via %s: %d chunks", jobID, language, engine.Name(), len(chunks))

	var (
		parts        = make([]string, 0, len(chunks))
		inputTokens  int
		outputTokens int
		costUSD      float64
	)
	for i, chunk := range chunks {
		var res Result
		err := o.retry.Do(ctx, func(ctx context.Context) error {
			var terr error
			res, terr = engine.Translate(ctx, chunk, language)
			return terr
		})
		if err != nil {
			return docjob.WrapError(err, docjob.ErrTranslation,
				fmt.Sprintf("chunk %d/%d failed", i+1, len(chunks)))
		}
		parts = append(parts, res.Text)
		inputTokens += res.InputTokens
		outputTokens += res.OutputTokens
		costUSD += res.CostUSD
	}

	key := artifact.TranslationKey(jobID, language)
	translated := strings.Join(parts, "\n\n")
	if err := o.artifacts.Put(ctx, artifact.BucketDocuments, key, []byte(translated), artifact.ContentTypeMarkdown); err != nil {
		return docjob.WrapError(err, docjob.ErrStorage, "failed to store translated document")
	}

	swapped, err := o.store.UpdateOutputIf(ctx, jobID, language, docjob.StatusProcessing, func(out *docjob.TranslationOutput) {
		out.Status = docjob.StatusCompleted
		out.OutputPath = key
		out.Error = ""
		out.DurationSeconds = time.Since(started).Seconds()
		out.InputTokens = inputTokens
		out.OutputTokens = outputTokens
		out.CostUSD = costUSD
	})
	if err != nil {
		return docjob.WrapError(err, docjob.ErrStorage, "failed to record translation result")
	}
	if !swapped {
		log.Warn("Translation %s/%s was recovered mid-flight, discarding result", jobID, language)
		return nil
	}

	log.Info("Translation %s/%s done in %.1fs (%d in / %d out tokens, $%.4f)",
		jobID, language, time.Since(started).Seconds(), inputTokens, outputTokens, costUSD)
	return nil
}
