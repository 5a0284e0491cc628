package service

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/pkg/icron"
	"github.com/MimeLyc/doctrans/pkg/log"
)

var sweepGroup singleflight.Group

// RecoverOnStartup repairs state left behind by a previous process: every
// processing job goes back to pending and is re-queued, every processing
// output is failed, and pending work is handed to the dispatcher.
func (s *Service) RecoverOnStartup(ctx context.Context) error {
	res, err := s.store.RecoverStale(ctx, time.Now().UTC(), "interrupted by restart")
	if err != nil {
		return err
	}
	if len(res.RequeuedJobs) > 0 {
		log.Info("Startup recovery: %d jobs back to pending", len(res.RequeuedJobs))
	}
	if len(res.FailedOutputs) > 0 {
		log.Warn("Startup recovery: %d translations failed, re-request to retry", len(res.FailedOutputs))
	}

	jobs, outputs := s.enqueuePending()
	if jobs+outputs > 0 {
		log.Info("Startup recovery: queued %d jobs and %d translations", jobs, outputs)
	}
	return nil
}

// ScheduleSweeps registers the periodic stale sweep. Singleflight keeps a
// slow sweep from overlapping the next tick.
func (s *Service) ScheduleSweeps(c *cron.Cron) error {
	expr := s.cfg.Dispatch.SweepCron
	if info, err := icron.GetTriggerInfo(expr, time.Now()); err == nil {
		log.Info("Stale sweep scheduled (%s), first run in %s", expr, info.TimeUntilNext.Round(time.Second))
	}

	_, err := c.AddFunc(expr, func() {
		_, _, _ = sweepGroup.Do("sweep", func() (any, error) {
			s.Sweep(context.Background())
			return nil, nil
		})
	})
	return err
}

// Sweep requeues processing work whose worker died without finishing.
// The cutoff must exceed the worst-case attempt time so live workers are
// never swept out from under themselves.
func (s *Service) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.Dispatch.StaleAfter)
	res, err := s.store.RecoverStale(ctx, cutoff, "stale processing recovered")
	if err != nil {
		log.Error("Stale sweep failed: %v", err)
		return
	}
	if len(res.RequeuedJobs) > 0 || len(res.FailedOutputs) > 0 {
		log.Warn("Stale sweep: requeued %d jobs, failed %d translations",
			len(res.RequeuedJobs), len(res.FailedOutputs))
	}
	s.enqueuePending()
}

// enqueuePending hands every pending job and output to the dispatcher.
// Duplicates are harmless: the claim CAS lets exactly one task through.
func (s *Service) enqueuePending() (jobs, outputs int) {
	for _, job := range s.store.QueryJobs(func(j docjob.Job) bool {
		return j.Status == docjob.StatusPending
	}) {
		id := job.ID
		s.dispatcher.Submit(func(ctx context.Context) {
			_ = s.extractor.ProcessJob(ctx, id)
		})
		jobs++
	}

	for _, out := range s.store.QueryOutputs(func(o docjob.TranslationOutput) bool {
		return o.Status == docjob.StatusPending
	}) {
		jobID, lang := out.JobID, out.Language
		s.dispatcher.Submit(func(ctx context.Context) {
			_ = s.translator.ProcessOutput(ctx, jobID, lang)
		})
		outputs++
	}
	return jobs, outputs
}
