// Package testutil provides shared fixtures for exercising the engine
// against the in-memory store.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/respondent"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
)

// Day is the canonical fixture start date.
var Day = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

// SeedTrack creates an active track with the given code.
func SeedTrack(t *testing.T, store storage.TrackStore, code string) track.Track {
	t.Helper()
	trk, err := store.CreateTrack(context.Background(), track.Track{Code: code, Name: code, Active: true})
	if err != nil {
		t.Fatalf("seed track: %v", err)
	}
	return trk
}

// SeedRound creates an active round anchored on the track start date.
func SeedRound(t *testing.T, store storage.TrackStore, trackID string, order, offsetDays int, surveyID string) track.RoundSpec {
	t.Helper()
	spec, err := store.CreateRoundSpec(context.Background(), track.RoundSpec{
		TrackID:     trackID,
		Order:       order,
		SurveyID:    surveyID,
		Description: surveyID,
		ValidFrom:   track.ValidFromRule{Source: track.FromTrackStart, OffsetDays: offsetDays},
		ValidUntil:  track.ValidUntilRule{Source: track.NoExpiry},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("seed round: %v", err)
	}
	return spec
}

// SeedAppointmentRound creates an active round anchored on an appointment
// field.
func SeedAppointmentRound(t *testing.T, store storage.TrackStore, trackID string, order, offsetDays int, surveyID, fieldKey string) track.RoundSpec {
	t.Helper()
	spec, err := store.CreateRoundSpec(context.Background(), track.RoundSpec{
		TrackID:     trackID,
		Order:       order,
		SurveyID:    surveyID,
		Description: surveyID,
		ValidFrom:   track.ValidFromRule{Source: track.FromAppointment, OffsetDays: offsetDays, FieldKey: fieldKey},
		ValidUntil:  track.ValidUntilRule{Source: track.NoExpiry},
		Active:      true,
	})
	if err != nil {
		t.Fatalf("seed appointment round: %v", err)
	}
	return spec
}

// SeedRespondentTrack creates a respondent track starting at Day.
func SeedRespondentTrack(t *testing.T, store storage.RespondentTrackStore, trackID, respondentID string) respondent.Track {
	t.Helper()
	rt, err := store.CreateRespondentTrack(context.Background(), respondent.Track{
		TrackID:      trackID,
		RespondentID: respondentID,
		StartDate:    Day,
	})
	if err != nil {
		t.Fatalf("seed respondent track: %v", err)
	}
	return rt
}

// SeedAppointment creates an active appointment for the respondent.
func SeedAppointment(t *testing.T, store storage.AppointmentStore, respondentID, activityID string, startsAt time.Time) agenda.Appointment {
	t.Helper()
	appt, err := store.CreateAppointment(context.Background(), agenda.Appointment{
		RespondentID: respondentID,
		ActivityID:   activityID,
		StartsAt:     startsAt,
		Active:       true,
	})
	if err != nil {
		t.Fatalf("seed appointment: %v", err)
	}
	return appt
}

// SeedFilter creates an active activity filter.
func SeedFilter(t *testing.T, store storage.AppointmentStore, activityID string, scope agenda.UniquenessScope) agenda.FilterSpec {
	t.Helper()
	spec, err := store.CreateFilter(context.Background(), agenda.FilterSpec{
		Name:        "activity " + activityID,
		Kind:        agenda.FilterActivity,
		ActivityID:  activityID,
		UniqueScope: scope,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("seed filter: %v", err)
	}
	return spec
}
