package agenda

import (
	"context"
	"errors"
	"testing"

	domain "github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage/memory"
	"github.com/CareTrack-Labs/track_engine/pkg/testutil"
)

func TestMatch_PicksMostRecent(t *testing.T) {
	store := memory.New()
	testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)
	late := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day.AddDate(0, 0, 7))
	testutil.SeedAppointment(t, store, "resp-1", "checkup", testutil.Day.AddDate(0, 0, 14))

	matcher := NewMatcher(store, nil)
	spec := domain.FilterSpec{ID: "f1", Kind: domain.FilterActivity, ActivityID: "surgery", Active: true}
	got, err := matcher.Match(context.Background(), "resp-1", spec, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != late.ID {
		t.Fatalf("expected most recent surgery appointment, got %+v", got)
	}
}

func TestMatch_NoCandidates(t *testing.T) {
	store := memory.New()
	testutil.SeedAppointment(t, store, "resp-1", "checkup", testutil.Day)

	matcher := NewMatcher(store, nil)
	spec := domain.FilterSpec{ID: "f1", Kind: domain.FilterActivity, ActivityID: "surgery", Active: true}
	got, err := matcher.Match(context.Background(), "resp-1", spec, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no match, got %+v", got)
	}
}

func TestMatch_AmbiguousTie(t *testing.T) {
	store := memory.New()
	testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)
	testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)

	matcher := NewMatcher(store, nil)
	spec := domain.FilterSpec{ID: "f1", Kind: domain.FilterActivity, ActivityID: "surgery", Active: true}
	_, err := matcher.Match(context.Background(), "resp-1", spec, nil)
	var ambiguous AmbiguousMatchError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousMatchError, got %v", err)
	}
	if len(ambiguous.AppointmentIDs) != 2 {
		t.Fatalf("expected both candidates reported, got %v", ambiguous.AppointmentIDs)
	}
}

func TestMatch_ExcludeSet(t *testing.T) {
	store := memory.New()
	early := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)
	late := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day.AddDate(0, 0, 7))

	matcher := NewMatcher(store, nil)
	spec := domain.FilterSpec{ID: "f1", Kind: domain.FilterActivity, ActivityID: "surgery", Active: true}
	got, err := matcher.Match(context.Background(), "resp-1", spec, map[string]bool{late.ID: true})
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != early.ID {
		t.Fatalf("expected excluded winner replaced, got %+v", got)
	}
}

func TestMatch_SkipsInactiveAppointments(t *testing.T) {
	store := memory.New()
	appt := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)
	appt.Active = false
	if _, err := store.UpdateAppointment(context.Background(), appt); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	matcher := NewMatcher(store, nil)
	spec := domain.FilterSpec{ID: "f1", Kind: domain.FilterActivity, ActivityID: "surgery", Active: true}
	got, err := matcher.Match(context.Background(), "resp-1", spec, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got != nil {
		t.Fatalf("inactive appointment matched: %+v", got)
	}
}

func TestMatch_DateRangeFilter(t *testing.T) {
	store := memory.New()
	testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)
	inRange := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day.AddDate(0, 0, 10))

	after := testutil.Day.AddDate(0, 0, 5)
	before := testutil.Day.AddDate(0, 0, 15)
	matcher := NewMatcher(store, nil)
	spec := domain.FilterSpec{ID: "f1", Kind: domain.FilterDateRange, After: &after, Before: &before, Active: true}
	got, err := matcher.Match(context.Background(), "resp-1", spec, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != inRange.ID {
		t.Fatalf("expected in-range appointment, got %+v", got)
	}
}

func TestMatch_AndFilter(t *testing.T) {
	store := memory.New()
	activity, err := store.CreateFilter(context.Background(), domain.FilterSpec{
		Kind: domain.FilterActivity, ActivityID: "surgery", Active: true,
	})
	if err != nil {
		t.Fatalf("create sub filter: %v", err)
	}
	after := testutil.Day.AddDate(0, 0, 5)
	window, err := store.CreateFilter(context.Background(), domain.FilterSpec{
		Kind: domain.FilterDateRange, After: &after, Active: true,
	})
	if err != nil {
		t.Fatalf("create sub filter: %v", err)
	}
	and, err := store.CreateFilter(context.Background(), domain.FilterSpec{
		Kind: domain.FilterAnd, SubFilterIDs: []string{activity.ID, window.ID}, Active: true,
	})
	if err != nil {
		t.Fatalf("create and filter: %v", err)
	}

	testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)
	want := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day.AddDate(0, 0, 10))
	testutil.SeedAppointment(t, store, "resp-1", "checkup", testutil.Day.AddDate(0, 0, 12))

	matcher := NewMatcher(store, nil)
	got, err := matcher.MatchByFilterID(context.Background(), "resp-1", and.ID, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != want.ID {
		t.Fatalf("expected conjunction winner, got %+v", got)
	}
}

func TestMatch_CacheInvalidation(t *testing.T) {
	store := memory.New()
	matcher := NewMatcher(store, nil)
	spec := domain.FilterSpec{ID: "f1", Kind: domain.FilterActivity, ActivityID: "surgery", Active: true}

	if got, err := matcher.Match(context.Background(), "resp-1", spec, nil); err != nil || got != nil {
		t.Fatalf("expected empty agenda, got %v err %v", got, err)
	}

	appt := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)

	// Without invalidation the cached empty agenda is served.
	if got, _ := matcher.Match(context.Background(), "resp-1", spec, nil); got != nil {
		t.Fatalf("stale cache should have hidden the appointment")
	}

	matcher.Invalidate("resp-1")
	got, err := matcher.Match(context.Background(), "resp-1", spec, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got == nil || got.ID != appt.ID {
		t.Fatalf("expected fresh appointment after invalidation, got %+v", got)
	}
}

func TestMatchByFilterID_InactiveFilter(t *testing.T) {
	store := memory.New()
	testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day)
	spec, err := store.CreateFilter(context.Background(), domain.FilterSpec{
		Kind: domain.FilterActivity, ActivityID: "surgery", Active: false,
	})
	if err != nil {
		t.Fatalf("create filter: %v", err)
	}

	matcher := NewMatcher(store, nil)
	got, err := matcher.MatchByFilterID(context.Background(), "resp-1", spec.ID, nil)
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got != nil {
		t.Fatalf("inactive filter must match nothing, got %+v", got)
	}
}
