// Package tracks holds the maintenance operations around track definitions:
// editing tracks, round specifications and field specifications, assigning
// tracks to respondents and registering completions and appointments. The
// schedule consequences of every mutation flow through the reconciliation
// and field recalculation engines.
package tracks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/respondent"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	agendasvc "github.com/CareTrack-Labs/track_engine/internal/app/services/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/fields"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/reconcile"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

// Service implements track maintenance.
type Service struct {
	tracks       storage.TrackStore
	respondents  storage.RespondentTrackStore
	tokens       storage.TokenStore
	appointments storage.AppointmentStore
	engine       *reconcile.Engine
	fields       *fields.Engine
	matcher      *agendasvc.Matcher
	log          *logger.Logger
}

// New constructs the maintenance service.
func New(tracks storage.TrackStore, respondents storage.RespondentTrackStore, tokens storage.TokenStore, appointments storage.AppointmentStore, engine *reconcile.Engine, fieldEngine *fields.Engine, matcher *agendasvc.Matcher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("tracks")
	}
	return &Service{
		tracks:       tracks,
		respondents:  respondents,
		tokens:       tokens,
		appointments: appointments,
		engine:       engine,
		fields:       fieldEngine,
		matcher:      matcher,
		log:          log,
	}
}

// CreateTrack stores a new track definition.
func (s *Service) CreateTrack(ctx context.Context, code, name string) (track.Track, error) {
	if code == "" {
		return track.Track{}, errors.New("code required")
	}
	trk := track.Track{Code: code, Name: name, Active: true}
	created, err := s.tracks.CreateTrack(ctx, trk)
	if err != nil {
		return track.Track{}, fmt.Errorf("create track: %w", err)
	}
	s.log.WithField("track_id", created.ID).WithField("code", code).Info("track created")
	return created, nil
}

// GetTrack returns one track definition.
func (s *Service) GetTrack(ctx context.Context, id string) (track.Track, error) {
	return s.tracks.GetTrack(ctx, id)
}

// ListTracks returns all track definitions.
func (s *Service) ListTracks(ctx context.Context) ([]track.Track, error) {
	return s.tracks.ListTracks(ctx)
}

// AddRound adds a round specification to a track. Existing respondent tracks
// pick the round up on their next reconciliation.
func (s *Service) AddRound(ctx context.Context, spec track.RoundSpec) (track.RoundSpec, error) {
	if _, err := s.tracks.GetTrack(ctx, spec.TrackID); err != nil {
		return track.RoundSpec{}, fmt.Errorf("load track %s: %w", spec.TrackID, err)
	}
	if err := validateRound(spec); err != nil {
		return track.RoundSpec{}, err
	}
	spec.Active = true
	created, err := s.tracks.CreateRoundSpec(ctx, spec)
	if err != nil {
		return track.RoundSpec{}, fmt.Errorf("create round spec: %w", err)
	}
	s.log.WithField("track_id", spec.TrackID).
		WithField("round_spec_id", created.ID).
		WithField("round_order", created.Order).
		Info("round spec added")
	return created, nil
}

// UpdateRound edits a round specification.
func (s *Service) UpdateRound(ctx context.Context, spec track.RoundSpec) (track.RoundSpec, error) {
	if err := validateRound(spec); err != nil {
		return track.RoundSpec{}, err
	}
	updated, err := s.tracks.UpdateRoundSpec(ctx, spec)
	if err != nil {
		return track.RoundSpec{}, fmt.Errorf("update round spec: %w", err)
	}
	return updated, nil
}

// AddField adds a field specification to a track.
func (s *Service) AddField(ctx context.Context, spec track.FieldSpec) (track.FieldSpec, error) {
	if _, err := s.tracks.GetTrack(ctx, spec.TrackID); err != nil {
		return track.FieldSpec{}, fmt.Errorf("load track %s: %w", spec.TrackID, err)
	}
	if spec.Key == "" {
		return track.FieldSpec{}, errors.New("key required")
	}
	switch spec.Source {
	case track.FieldManual:
	case track.FieldAppointment:
		if spec.FilterID == "" {
			return track.FieldSpec{}, errors.New("appointment fields need a filter_id")
		}
		if _, err := s.appointments.GetFilter(ctx, spec.FilterID); err != nil {
			return track.FieldSpec{}, fmt.Errorf("load filter %s: %w", spec.FilterID, err)
		}
	default:
		return track.FieldSpec{}, fmt.Errorf("unknown field source %q", spec.Source)
	}
	created, err := s.tracks.CreateFieldSpec(ctx, spec)
	if err != nil {
		return track.FieldSpec{}, fmt.Errorf("create field spec: %w", err)
	}
	return created, nil
}

// AssignResult is a freshly assigned respondent track with its first token
// set.
type AssignResult struct {
	RespondentTrack respondent.Track
	Tokens          []token.Token
	Reconcile       reconcile.Result
}

// Assign instantiates a track for a respondent, recalculates its
// appointment-derived fields and reconciles it so the initial token set
// exists before the call returns.
func (s *Service) Assign(ctx context.Context, trackID, respondentID string, startDate time.Time, fieldValues map[string]string) (AssignResult, error) {
	trk, err := s.tracks.GetTrack(ctx, trackID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("load track %s: %w", trackID, err)
	}
	if !trk.Active {
		return AssignResult{}, fmt.Errorf("track %s is inactive", trackID)
	}
	if respondentID == "" {
		return AssignResult{}, errors.New("respondent_id required")
	}

	rt := respondent.Track{
		TrackID:       trackID,
		RespondentID:  respondentID,
		StartDate:     startDate.UTC(),
		ReceptionCode: reception.OK,
		Fields:        fieldValues,
	}
	rt, err = s.respondents.CreateRespondentTrack(ctx, rt)
	if err != nil {
		return AssignResult{}, fmt.Errorf("create respondent track: %w", err)
	}

	if _, err := s.fields.Recalculate(ctx, rt.ID); err != nil {
		return AssignResult{}, fmt.Errorf("initial field recalculation: %w", err)
	}

	result, err := s.engine.Reconcile(ctx, rt.ID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("initial reconciliation: %w", err)
	}

	rt, err = s.respondents.GetRespondentTrack(ctx, rt.ID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("reload respondent track: %w", err)
	}
	tokens, err := s.tokens.ListTokens(ctx, rt.ID)
	if err != nil {
		return AssignResult{}, fmt.Errorf("load tokens: %w", err)
	}

	s.log.WithField("respondent_track_id", rt.ID).
		WithField("track_id", trackID).
		WithField("respondent_id", respondentID).
		WithField("tokens", len(tokens)).
		Info("track assigned")

	return AssignResult{RespondentTrack: rt, Tokens: tokens, Reconcile: result}, nil
}

// Get returns a respondent track together with its tokens.
func (s *Service) Get(ctx context.Context, respondentTrackID string) (respondent.Track, []token.Token, error) {
	rt, err := s.respondents.GetRespondentTrack(ctx, respondentTrackID)
	if err != nil {
		return respondent.Track{}, nil, err
	}
	tokens, err := s.tokens.ListTokens(ctx, respondentTrackID)
	if err != nil {
		return respondent.Track{}, nil, fmt.Errorf("load tokens: %w", err)
	}
	return rt, tokens, nil
}

// CompleteToken records a survey completion callback. Completions are
// idempotent and permanent: a token already completed keeps its original
// completion time.
func (s *Service) CompleteToken(ctx context.Context, tokenID string, at time.Time) (token.Token, error) {
	tok, err := s.tokens.GetToken(ctx, tokenID)
	if err != nil {
		return token.Token{}, fmt.Errorf("load token %s: %w", tokenID, err)
	}
	if tok.Completed() {
		return tok, nil
	}
	if at.IsZero() {
		at = time.Now()
	}
	completedAt := at.UTC()
	tok.CompletedAt = &completedAt
	tok, err = s.tokens.UpdateToken(ctx, tok)
	if err != nil {
		return token.Token{}, fmt.Errorf("complete token %s: %w", tokenID, err)
	}

	// Completion can unlock rounds anchored on it, so reconcile right away.
	if _, err := s.engine.Reconcile(ctx, tok.RespondentTrackID); err != nil {
		return token.Token{}, fmt.Errorf("reconcile after completion: %w", err)
	}

	s.log.WithField("token_id", tok.ID).
		WithField("respondent_track_id", tok.RespondentTrackID).
		Info("token completed")
	return tok, nil
}

// RegisterAppointment stores an appointment, invalidates the match cache and
// recalculates appointment-derived fields on the respondent's tracks so
// schedules anchored on appointments follow the agenda immediately.
func (s *Service) RegisterAppointment(ctx context.Context, appt agenda.Appointment) (agenda.Appointment, error) {
	if appt.RespondentID == "" {
		return agenda.Appointment{}, errors.New("respondent_id required")
	}
	created, err := s.appointments.CreateAppointment(ctx, appt)
	if err != nil {
		return agenda.Appointment{}, fmt.Errorf("create appointment: %w", err)
	}
	s.matcher.Invalidate(created.RespondentID)

	rts, err := s.respondents.ListRespondentTracks(ctx, "")
	if err != nil {
		return agenda.Appointment{}, fmt.Errorf("list respondent tracks: %w", err)
	}
	for _, rt := range rts {
		if rt.RespondentID != created.RespondentID {
			continue
		}
		if _, err := s.fields.Recalculate(ctx, rt.ID); err != nil {
			s.log.WithError(err).
				WithField("respondent_track_id", rt.ID).
				Warn("field recalculation after appointment failed")
		}
	}

	s.log.WithField("appointment_id", created.ID).
		WithField("respondent_id", created.RespondentID).
		Info("appointment registered")
	return created, nil
}

func validateRound(spec track.RoundSpec) error {
	if spec.SurveyID == "" {
		return errors.New("survey_id required")
	}
	switch spec.ValidFrom.Source {
	case track.FromTrackStart:
	case track.FromAppointment:
		if spec.ValidFrom.FieldKey == "" {
			return errors.New("appointment-anchored rounds need a field_key")
		}
	default:
		return fmt.Errorf("unknown valid-from source %q", spec.ValidFrom.Source)
	}
	switch spec.ValidUntil.Source {
	case "", track.NoExpiry, track.AfterValidFrom:
	default:
		return fmt.Errorf("unknown valid-until source %q", spec.ValidUntil.Source)
	}
	return nil
}
