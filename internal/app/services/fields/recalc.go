// Package fields recalculates appointment-derived track field values and
// pushes the resulting schedule changes through reconciliation.
package fields

import (
	"context"
	"fmt"

	domain "github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	agendasvc "github.com/CareTrack-Labs/track_engine/internal/app/services/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/reconcile"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

// Result summarizes one recalculation.
type Result struct {
	FieldsChanged int
	Reconcile     reconcile.Result
}

// Engine recalculates field values for respondent tracks.
type Engine struct {
	tracks       storage.TrackStore
	respondents  storage.RespondentTrackStore
	appointments storage.AppointmentStore
	matcher      *agendasvc.Matcher
	reconciler   *reconcile.Engine
	log          *logger.Logger
}

// New constructs a field recalculation engine.
func New(tracks storage.TrackStore, respondents storage.RespondentTrackStore, appointments storage.AppointmentStore, matcher *agendasvc.Matcher, reconciler *reconcile.Engine, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("fields")
	}
	return &Engine{
		tracks:       tracks,
		respondents:  respondents,
		appointments: appointments,
		matcher:      matcher,
		reconciler:   reconciler,
		log:          log,
	}
}

// Recalculate re-evaluates every appointment-derived field of the respondent
// track against the current appointment data. When any field value changes
// the track is reconciled in the same unit of work, so schedules anchored on
// a moved appointment shift immediately.
func (e *Engine) Recalculate(ctx context.Context, respondentTrackID string) (Result, error) {
	rt, err := e.respondents.GetRespondentTrack(ctx, respondentTrackID)
	if err != nil {
		return Result{}, fmt.Errorf("load respondent track %s: %w", respondentTrackID, err)
	}

	specs, err := e.tracks.ListFieldSpecs(ctx, rt.TrackID)
	if err != nil {
		return Result{}, fmt.Errorf("load field specs: %w", err)
	}

	changed := 0
	fields := rt.Fields
	if fields == nil {
		fields = make(map[string]string)
	}
	for _, spec := range specs {
		if spec.Source != track.FieldAppointment {
			continue
		}
		value, err := e.matchField(ctx, rt.RespondentID, rt.ID, spec, fields)
		if err != nil {
			return Result{}, err
		}
		if fields[spec.Key] == value {
			continue
		}
		if value == "" {
			delete(fields, spec.Key)
		} else {
			fields[spec.Key] = value
		}
		changed++
	}

	if changed == 0 {
		return Result{}, nil
	}

	if err := e.respondents.SaveRespondentTrackFields(ctx, rt.ID, fields); err != nil {
		return Result{}, fmt.Errorf("save fields: %w", err)
	}

	recResult, err := e.reconciler.Reconcile(ctx, rt.ID)
	if err != nil {
		return Result{}, fmt.Errorf("reconcile after field change: %w", err)
	}

	e.log.WithField("respondent_track_id", rt.ID).
		WithField("fields_changed", changed).
		Info("track fields recalculated")

	return Result{FieldsChanged: changed, Reconcile: recResult}, nil
}

// matchField evaluates one appointment-derived field. A field whose filter is
// gone or matches nothing resolves to empty; ambiguity is a hard error so a
// human can fix the filter instead of the engine guessing.
func (e *Engine) matchField(ctx context.Context, respondentID, respondentTrackID string, spec track.FieldSpec, current map[string]string) (string, error) {
	if spec.FilterID == "" {
		return "", nil
	}
	filter, err := e.appointments.GetFilter(ctx, spec.FilterID)
	if err != nil {
		if err == storage.ErrNotFound {
			return "", nil
		}
		return "", fmt.Errorf("load filter %s: %w", spec.FilterID, err)
	}
	if !filter.Active {
		return "", nil
	}

	exclude, err := e.excludeSet(ctx, filter, respondentTrackID, current, spec.Key)
	if err != nil {
		return "", err
	}

	appt, err := e.matcher.Match(ctx, respondentID, filter, exclude)
	if err != nil {
		return "", fmt.Errorf("match field %s: %w", spec.Key, err)
	}
	if appt == nil {
		return "", nil
	}
	return appt.ID, nil
}

// excludeSet collects appointment IDs already claimed within the filter's
// uniqueness scope, so one appointment never anchors two fields.
func (e *Engine) excludeSet(ctx context.Context, filter domain.FilterSpec, respondentTrackID string, current map[string]string, key string) (map[string]bool, error) {
	switch filter.UniqueScope {
	case domain.UniqueNone:
		return nil, nil
	case domain.UniquePerRespondentTrack:
		exclude := make(map[string]bool)
		for k, v := range current {
			if k != key && v != "" {
				exclude[v] = true
			}
		}
		return exclude, nil
	case domain.UniquePerTrack:
		rt, err := e.respondents.GetRespondentTrack(ctx, respondentTrackID)
		if err != nil {
			return nil, fmt.Errorf("load respondent track: %w", err)
		}
		siblings, err := e.respondents.ListRespondentTracks(ctx, rt.TrackID)
		if err != nil {
			return nil, fmt.Errorf("load sibling tracks: %w", err)
		}
		exclude := make(map[string]bool)
		for _, sib := range siblings {
			if sib.RespondentID != rt.RespondentID {
				continue
			}
			for k, v := range sib.Fields {
				if v == "" {
					continue
				}
				if sib.ID == respondentTrackID && k == key {
					continue
				}
				exclude[v] = true
			}
		}
		return exclude, nil
	default:
		return nil, fmt.Errorf("unsupported uniqueness scope %d", filter.UniqueScope)
	}
}
