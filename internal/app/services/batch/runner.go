// Package batch runs maintenance operations over many respondent tracks as
// resumable jobs: each track is one unit of work, failures are isolated per
// unit, and a cursor checkpoint after every unit lets an interrupted job
// rerun without repeating finished work.
package batch

import (
	"context"
	"fmt"
	"time"

	"github.com/CareTrack-Labs/track_engine/internal/app/metrics"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/fields"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/reconcile"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

const (
	// KindCheckRounds reconciles every selected respondent track.
	KindCheckRounds = "check-rounds"
	// KindRecalcFields recalculates appointment-derived fields.
	KindRecalcFields = "recalc-fields"

	maxRecordedErrors = 100
)

// Runner executes batch jobs.
type Runner struct {
	respondents storage.RespondentTrackStore
	reconciler  *reconcile.Engine
	fields      *fields.Engine
	progress    ProgressStore
	log         *logger.Logger
}

// New constructs a batch runner.
func New(respondents storage.RespondentTrackStore, reconciler *reconcile.Engine, fieldEngine *fields.Engine, progress ProgressStore, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.NewDefault("batch")
	}
	if progress == nil {
		progress = NewMemoryProgressStore()
	}
	return &Runner{
		respondents: respondents,
		reconciler:  reconciler,
		fields:      fieldEngine,
		progress:    progress,
		log:         log,
	}
}

// State returns the persisted state for a job ID.
func (r *Runner) State(ctx context.Context, jobID string) (State, error) {
	return r.progress.Load(ctx, jobID)
}

// CheckRounds reconciles every respondent track of the given track
// definition; an empty trackID selects all tracks. A job ID that already has
// persisted state resumes after its cursor.
func (r *Runner) CheckRounds(ctx context.Context, jobID, trackID string, progress Progress) (State, error) {
	return r.run(ctx, jobID, KindCheckRounds, trackID, progress, func(ctx context.Context, rtID string) (reconcile.Result, error) {
		return r.reconciler.Reconcile(ctx, rtID)
	})
}

// RecalculateFields recalculates appointment-derived fields for every
// respondent track of the given track definition, reconciling the tracks
// whose fields changed.
func (r *Runner) RecalculateFields(ctx context.Context, jobID, trackID string, progress Progress) (State, error) {
	return r.run(ctx, jobID, KindRecalcFields, trackID, progress, func(ctx context.Context, rtID string) (reconcile.Result, error) {
		res, err := r.fields.Recalculate(ctx, rtID)
		return res.Reconcile, err
	})
}

func (r *Runner) run(ctx context.Context, jobID, kind, trackID string, progress Progress, unit func(context.Context, string) (reconcile.Result, error)) (State, error) {
	if progress == nil {
		progress = NopProgress{}
	}

	state, err := r.progress.Load(ctx, jobID)
	switch {
	case err == storage.ErrNotFound:
		state = State{JobID: jobID, Kind: kind}
	case err != nil:
		return State{}, fmt.Errorf("load job %s: %w", jobID, err)
	case state.Kind != kind:
		return State{}, fmt.Errorf("job %s is a %s job, not %s", jobID, state.Kind, kind)
	case state.Finished:
		return state, nil
	}

	rts, err := r.respondents.ListRespondentTracks(ctx, trackID)
	if err != nil {
		return State{}, fmt.Errorf("list respondent tracks: %w", err)
	}
	state.Total = len(rts)

	r.log.WithField("job_id", jobID).
		WithField("kind", kind).
		WithField("total", state.Total).
		WithField("cursor", state.Cursor).
		Info("batch job started")

	for _, rt := range rts {
		// ListRespondentTracks is ordered by ID, so everything at or
		// before the cursor is already done.
		if state.Cursor != "" && rt.ID <= state.Cursor {
			continue
		}
		if err := ctx.Err(); err != nil {
			return state, err
		}
		if progress.Cancelled() {
			r.log.WithField("job_id", jobID).WithField("done", state.Done).Info("batch job cancelled")
			return state, nil
		}

		started := time.Now()
		result, err := unit(ctx, rt.ID)
		if err != nil {
			metrics.ObserveBatchUnit(kind, "error", time.Since(started))
			if len(state.Errors) < maxRecordedErrors {
				state.Errors = append(state.Errors, fmt.Sprintf("%s: %v", rt.ID, err))
			}
			r.log.WithError(err).WithField("job_id", jobID).
				WithField("respondent_track_id", rt.ID).
				Warn("batch unit failed")
		} else {
			outcome := "noop"
			if result.Changed() {
				outcome = "changed"
			}
			metrics.ObserveBatchUnit(kind, outcome, time.Since(started))
			state.Created += result.Created
			state.Updated += result.Updated
			state.Removed += result.Removed
			state.Warnings = append(state.Warnings, result.WarningStrings()...)
		}

		state.Cursor = rt.ID
		state.Done++
		state.UpdatedAt = time.Now().UTC()
		if err := r.progress.Save(ctx, state); err != nil {
			return state, fmt.Errorf("save job %s: %w", jobID, err)
		}
		progress.Report(state)
	}

	state.Finished = true
	state.UpdatedAt = time.Now().UTC()
	if err := r.progress.Save(ctx, state); err != nil {
		return state, fmt.Errorf("save job %s: %w", jobID, err)
	}
	progress.Report(state)

	r.log.WithField("job_id", jobID).
		WithField("done", state.Done).
		WithField("created", state.Created).
		WithField("updated", state.Updated).
		WithField("removed", state.Removed).
		WithField("errors", len(state.Errors)).
		Info("batch job finished")

	return state, nil
}
