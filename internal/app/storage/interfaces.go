package storage

import (
	"context"
	"errors"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/respondent"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
)

// ErrNotFound is returned when a requested record does not exist. The
// postgres store maps sql.ErrNoRows onto it.
var ErrNotFound = errors.New("record not found")

// TrackStore persists track definitions, their round specifications and
// field specifications.
type TrackStore interface {
	CreateTrack(ctx context.Context, trk track.Track) (track.Track, error)
	UpdateTrack(ctx context.Context, trk track.Track) (track.Track, error)
	GetTrack(ctx context.Context, id string) (track.Track, error)
	ListTracks(ctx context.Context) ([]track.Track, error)

	CreateRoundSpec(ctx context.Context, spec track.RoundSpec) (track.RoundSpec, error)
	UpdateRoundSpec(ctx context.Context, spec track.RoundSpec) (track.RoundSpec, error)
	GetRoundSpec(ctx context.Context, id string) (track.RoundSpec, error)
	ListRoundSpecs(ctx context.Context, trackID string) ([]track.RoundSpec, error)

	CreateFieldSpec(ctx context.Context, spec track.FieldSpec) (track.FieldSpec, error)
	ListFieldSpecs(ctx context.Context, trackID string) ([]track.FieldSpec, error)
}

// RespondentTrackStore persists respondent-track instantiations.
type RespondentTrackStore interface {
	CreateRespondentTrack(ctx context.Context, rt respondent.Track) (respondent.Track, error)
	UpdateRespondentTrack(ctx context.Context, rt respondent.Track) (respondent.Track, error)
	GetRespondentTrack(ctx context.Context, id string) (respondent.Track, error)
	// ListRespondentTracks returns respondent tracks ordered by ID so batch
	// cursors remain stable across runs. Empty trackID lists all.
	ListRespondentTracks(ctx context.Context, trackID string) ([]respondent.Track, error)
	SaveRespondentTrackFields(ctx context.Context, id string, fields map[string]string) error
}

// TokenStore persists tokens. Mutations for one respondent track must be
// serializable at single-respondent-track granularity.
type TokenStore interface {
	CreateToken(ctx context.Context, tok token.Token) (token.Token, error)
	UpdateToken(ctx context.Context, tok token.Token) (token.Token, error)
	GetToken(ctx context.Context, id string) (token.Token, error)
	// ListTokens returns the respondent track's tokens ordered by round
	// order ascending and newest-first within one round.
	ListTokens(ctx context.Context, respondentTrackID string) ([]token.Token, error)
	// DeleteToken physically removes a token. Callers must never delete a
	// completed token; reception coding is the only valid retirement for
	// answered history.
	DeleteToken(ctx context.Context, id string) error
}

// AppointmentStore persists respondent appointments and filter definitions.
type AppointmentStore interface {
	CreateAppointment(ctx context.Context, appt agenda.Appointment) (agenda.Appointment, error)
	UpdateAppointment(ctx context.Context, appt agenda.Appointment) (agenda.Appointment, error)
	GetAppointment(ctx context.Context, id string) (agenda.Appointment, error)
	ListAppointments(ctx context.Context, respondentID string) ([]agenda.Appointment, error)

	CreateFilter(ctx context.Context, spec agenda.FilterSpec) (agenda.FilterSpec, error)
	GetFilter(ctx context.Context, id string) (agenda.FilterSpec, error)
	ListFilters(ctx context.Context) ([]agenda.FilterSpec, error)
}
