package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MimeLyc/doctrans/internal/docjob"
	"github.com/MimeLyc/doctrans/internal/persistence"
	"github.com/MimeLyc/doctrans/pkg/log"
)

// ErrOutputInFlight marks a claim rejected because the (job, language)
// pair already has a pending or processing row. Callers can match it
// with errors.Is to distinguish a collision from other preconditions.
var ErrOutputInFlight = errors.New("translation already in flight")

// Store holds jobs, translation outputs and figures in memory behind one
// write lock. Every mutation persists the whole snapshot before it is
// considered applied; if the backend rejects the write the in-memory
// change is rolled back and a Storage error returned. Reads hand out
// copies, never pointers into the maps.
type Store struct {
	snap persistence.Snapshotter

	mu      sync.Mutex
	jobs    map[string]*docjob.Job
	outputs map[outputKey]*docjob.TranslationOutput
	figures map[string][]docjob.Figure
}

type outputKey struct {
	jobID    string
	language string
}

// OutputRef identifies one translation output row.
type OutputRef struct {
	JobID    string
	Language string
}

// RecoverResult lists what a stale-state sweep touched.
type RecoverResult struct {
	RequeuedJobs  []string
	FailedOutputs []OutputRef
}

func New(ctx context.Context, snap persistence.Snapshotter) (*Store, error) {
	s := &Store{
		snap:    snap,
		jobs:    make(map[string]*docjob.Job),
		outputs: make(map[outputKey]*docjob.TranslationOutput),
		figures: make(map[string][]docjob.Figure),
	}
	if err := s.hydrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate(ctx context.Context) error {
	if s.snap == nil {
		return nil
	}
	loaded, ok, err := s.snap.Load(ctx)
	if err != nil {
		return docjob.WrapError(err, docjob.ErrStorage, "load snapshot")
	}
	if !ok {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range loaded.Jobs {
		job := loaded.Jobs[i]
		if job.ID == "" {
			continue
		}
		s.jobs[job.ID] = &job
	}
	for i := range loaded.Outputs {
		out := loaded.Outputs[i]
		if out.JobID == "" || out.Language == "" {
			continue
		}
		s.outputs[outputKey{out.JobID, out.Language}] = &out
	}
	for _, fig := range loaded.Figures {
		if fig.JobID == "" {
			continue
		}
		s.figures[fig.JobID] = append(s.figures[fig.JobID], fig)
	}
	log.Info("Store hydrated: %d jobs, %d outputs, %d figure records",
		len(s.jobs), len(s.outputs), len(loaded.Figures))
	return nil
}

// InsertJob adds a new job. Duplicate IDs are rejected.
func (s *Store) InsertJob(ctx context.Context, job docjob.Job) error {
	if job.ID == "" {
		return docjob.NewError(docjob.ErrPrecondition, "job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return docjob.NewError(docjob.ErrPrecondition, fmt.Sprintf("job %s already exists", job.ID))
	}

	s.jobs[job.ID] = &job
	if err := s.persistLocked(ctx); err != nil {
		delete(s.jobs, job.ID)
		return err
	}
	return nil
}

func (s *Store) GetJob(id string) (docjob.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return docjob.Job{}, false
	}
	return *job, true
}

// QueryJobs returns copies of all jobs matching pred, newest first.
func (s *Store) QueryJobs(pred func(docjob.Job) bool) []docjob.Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := make([]docjob.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if pred == nil || pred(*job) {
			ret = append(ret, *job)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if !ret[i].CreatedAt.Equal(ret[j].CreatedAt) {
			return ret[i].CreatedAt.After(ret[j].CreatedAt)
		}
		return ret[i].ID < ret[j].ID
	})
	return ret
}

func (s *Store) ListJobs() []docjob.Job {
	return s.QueryJobs(nil)
}

// UpdateJob applies mutate to the job under the write lock and persists.
// The job's ID cannot be changed.
func (s *Store) UpdateJob(ctx context.Context, id string, mutate func(*docjob.Job)) (docjob.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return docjob.Job{}, docjob.NewError(docjob.ErrPrecondition, fmt.Sprintf("job %s not found", id))
	}

	prev := *job
	mutate(job)
	job.ID = prev.ID
	job.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(ctx); err != nil {
		*job = prev
		return docjob.Job{}, err
	}
	return *job, nil
}

// UpdateJobIf applies mutate only while the job is still in the from
// status. Returns false without error when the status moved on, so a
// worker whose job was recovered or re-claimed discards its result
// instead of stomping the newer state.
func (s *Store) UpdateJobIf(ctx context.Context, id string, from docjob.Status, mutate func(*docjob.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, docjob.NewError(docjob.ErrPrecondition, fmt.Sprintf("job %s not found", id))
	}
	if job.Status != from {
		return false, nil
	}

	prev := *job
	mutate(job)
	job.ID = prev.ID
	job.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(ctx); err != nil {
		*job = prev
		return false, err
	}
	return true, nil
}

// CompareAndSwapJobStatus transitions id from one status to another.
// Returns false without error when the job is in a different state, so
// racing callers can tell "lost the race" from "storage broke".
func (s *Store) CompareAndSwapJobStatus(ctx context.Context, id string, from, to docjob.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, docjob.NewError(docjob.ErrPrecondition, fmt.Sprintf("job %s not found", id))
	}
	if job.Status != from {
		return false, nil
	}

	prev := *job
	job.Status = to
	job.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(ctx); err != nil {
		*job = prev
		return false, err
	}
	return true, nil
}

// ClaimOutput reserves the (job, language) translation slot. An in-flight
// row rejects the claim; a terminal row is reset and re-run with the
// given engine. Returns the pending row on success.
func (s *Store) ClaimOutput(ctx context.Context, jobID, language, engine string) (docjob.TranslationOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := outputKey{jobID, language}
	existing, exists := s.outputs[key]
	if exists && !existing.Status.Terminal() {
		return docjob.TranslationOutput{}, docjob.NewErrorWithCause(
			docjob.ErrPrecondition,
			fmt.Sprintf("translation %s/%s is already %s", jobID, language, existing.Status),
			ErrOutputInFlight,
		)
	}

	now := time.Now().UTC()
	next := docjob.TranslationOutput{
		JobID:     jobID,
		Language:  language,
		Engine:    engine,
		Status:    docjob.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if exists {
		next.CreatedAt = existing.CreatedAt
	}

	s.outputs[key] = &next
	if err := s.persistLocked(ctx); err != nil {
		if exists {
			s.outputs[key] = existing
		} else {
			delete(s.outputs, key)
		}
		return docjob.TranslationOutput{}, err
	}
	return next, nil
}

func (s *Store) GetOutput(jobID, language string) (docjob.TranslationOutput, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.outputs[outputKey{jobID, language}]
	if !ok {
		return docjob.TranslationOutput{}, false
	}
	return *out, true
}

// QueryOutputs returns copies of all outputs matching pred, ordered by
// job then language.
func (s *Store) QueryOutputs(pred func(docjob.TranslationOutput) bool) []docjob.TranslationOutput {
	s.mu.Lock()
	defer s.mu.Unlock()

	ret := make([]docjob.TranslationOutput, 0, len(s.outputs))
	for _, out := range s.outputs {
		if pred == nil || pred(*out) {
			ret = append(ret, *out)
		}
	}
	sort.Slice(ret, func(i, j int) bool {
		if ret[i].JobID != ret[j].JobID {
			return ret[i].JobID < ret[j].JobID
		}
		return ret[i].Language < ret[j].Language
	})
	return ret
}

func (s *Store) OutputsByJob(jobID string) []docjob.TranslationOutput {
	return s.QueryOutputs(func(out docjob.TranslationOutput) bool {
		return out.JobID == jobID
	})
}

// UpdateOutput applies mutate to the output row under the write lock and
// persists. The row's key cannot be changed.
func (s *Store) UpdateOutput(ctx context.Context, jobID, language string, mutate func(*docjob.TranslationOutput)) (docjob.TranslationOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := outputKey{jobID, language}
	out, ok := s.outputs[key]
	if !ok {
		return docjob.TranslationOutput{}, docjob.NewError(
			docjob.ErrPrecondition,
			fmt.Sprintf("translation %s/%s not found", jobID, language),
		)
	}

	prev := *out
	mutate(out)
	out.JobID = prev.JobID
	out.Language = prev.Language
	out.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(ctx); err != nil {
		*out = prev
		return docjob.TranslationOutput{}, err
	}
	return *out, nil
}

// UpdateOutputIf mirrors UpdateJobIf for output rows: mutate applies only
// while the row is still in the from status.
func (s *Store) UpdateOutputIf(ctx context.Context, jobID, language string, from docjob.Status, mutate func(*docjob.TranslationOutput)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := outputKey{jobID, language}
	out, ok := s.outputs[key]
	if !ok {
		return false, docjob.NewError(
			docjob.ErrPrecondition,
			fmt.Sprintf("translation %s/%s not found", jobID, language),
		)
	}
	if out.Status != from {
		return false, nil
	}

	prev := *out
	mutate(out)
	out.JobID = prev.JobID
	out.Language = prev.Language
	out.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(ctx); err != nil {
		*out = prev
		return false, err
	}
	return true, nil
}

// CompareAndSwapOutputStatus mirrors CompareAndSwapJobStatus for output rows.
func (s *Store) CompareAndSwapOutputStatus(ctx context.Context, jobID, language string, from, to docjob.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.outputs[outputKey{jobID, language}]
	if !ok {
		return false, docjob.NewError(
			docjob.ErrPrecondition,
			fmt.Sprintf("translation %s/%s not found", jobID, language),
		)
	}
	if out.Status != from {
		return false, nil
	}

	prev := *out
	out.Status = to
	out.UpdatedAt = time.Now().UTC()

	if err := s.persistLocked(ctx); err != nil {
		*out = prev
		return false, err
	}
	return true, nil
}

// ReplaceFigures swaps the figure records of a job in one mutation.
func (s *Store) ReplaceFigures(ctx context.Context, jobID string, figs []docjob.Figure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, hadPrev := s.figures[jobID]
	next := make([]docjob.Figure, len(figs))
	copy(next, figs)
	for i := range next {
		next[i].JobID = jobID
	}

	if len(next) == 0 {
		delete(s.figures, jobID)
	} else {
		s.figures[jobID] = next
	}

	if err := s.persistLocked(ctx); err != nil {
		if hadPrev {
			s.figures[jobID] = prev
		} else {
			delete(s.figures, jobID)
		}
		return err
	}
	return nil
}

func (s *Store) FiguresByJob(jobID string) []docjob.Figure {
	s.mu.Lock()
	defer s.mu.Unlock()

	figs, ok := s.figures[jobID]
	if !ok {
		return nil
	}
	ret := make([]docjob.Figure, len(figs))
	copy(ret, figs)
	return ret
}

// RecoverStale flips processing jobs not updated since cutoff back to
// pending and fails processing outputs, all in one persisted mutation.
// Used at startup (cutoff = now) and by the periodic sweep; the cutoff
// must exceed the worst-case attempt time so a live worker is never
// swept out from under itself.
func (s *Store) RecoverStale(ctx context.Context, cutoff time.Time, reason string) (RecoverResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ret RecoverResult
	prevJobs := make(map[string]docjob.Job)
	prevOutputs := make(map[outputKey]docjob.TranslationOutput)
	now := time.Now().UTC()

	for id, job := range s.jobs {
		if job.Status != docjob.StatusProcessing || job.UpdatedAt.After(cutoff) {
			continue
		}
		prevJobs[id] = *job
		job.Status = docjob.StatusPending
		job.UpdatedAt = now
		ret.RequeuedJobs = append(ret.RequeuedJobs, id)
	}

	for key, out := range s.outputs {
		if out.Status != docjob.StatusProcessing || out.UpdatedAt.After(cutoff) {
			continue
		}
		prevOutputs[key] = *out
		out.Status = docjob.StatusFailed
		out.Error = reason
		out.UpdatedAt = now
		ret.FailedOutputs = append(ret.FailedOutputs, OutputRef{JobID: key.jobID, Language: key.language})
	}

	if len(prevJobs) == 0 && len(prevOutputs) == 0 {
		return ret, nil
	}

	sort.Strings(ret.RequeuedJobs)
	if err := s.persistLocked(ctx); err != nil {
		for id, prev := range prevJobs {
			*s.jobs[id] = prev
		}
		for key, prev := range prevOutputs {
			*s.outputs[key] = prev
		}
		return RecoverResult{}, err
	}
	return ret, nil
}

func (s *Store) persistLocked(ctx context.Context) error {
	if s.snap == nil {
		return nil
	}
	if err := s.snap.Save(ctx, s.snapshotLocked()); err != nil {
		log.Error("Failed to persist snapshot, rolling back: %v", err)
		return docjob.WrapError(err, docjob.ErrStorage, "persist snapshot")
	}
	return nil
}

// snapshotLocked builds a deterministic snapshot of all three tables.
func (s *Store) snapshotLocked() persistence.Snapshot {
	snap := persistence.Snapshot{
		Jobs:    make([]docjob.Job, 0, len(s.jobs)),
		Outputs: make([]docjob.TranslationOutput, 0, len(s.outputs)),
	}
	for _, job := range s.jobs {
		snap.Jobs = append(snap.Jobs, *job)
	}
	sort.Slice(snap.Jobs, func(i, j int) bool {
		if !snap.Jobs[i].CreatedAt.Equal(snap.Jobs[j].CreatedAt) {
			return snap.Jobs[i].CreatedAt.Before(snap.Jobs[j].CreatedAt)
		}
		return snap.Jobs[i].ID < snap.Jobs[j].ID
	})

	for _, out := range s.outputs {
		snap.Outputs = append(snap.Outputs, *out)
	}
	sort.Slice(snap.Outputs, func(i, j int) bool {
		if snap.Outputs[i].JobID != snap.Outputs[j].JobID {
			return snap.Outputs[i].JobID < snap.Outputs[j].JobID
		}
		return snap.Outputs[i].Language < snap.Outputs[j].Language
	})

	jobIDs := make([]string, 0, len(s.figures))
	for jobID := range s.figures {
		jobIDs = append(jobIDs, jobID)
	}
	sort.Strings(jobIDs)
	for _, jobID := range jobIDs {
		snap.Figures = append(snap.Figures, s.figures[jobID]...)
	}
	return snap
}
