package agenda

import (
	"fmt"
	"testing"
	"time"
)

var day = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestCompileSubjectFilter(t *testing.T) {
	filter, err := Compile(FilterSpec{ID: "f-1", Kind: FilterSubjectContains, Subject: "  Surgery "}, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if !filter.Matches(Appointment{Subject: "Knee surgery follow-up"}) {
		t.Fatal("expected case-insensitive substring match")
	}
	if filter.Matches(Appointment{Subject: "Intake call"}) {
		t.Fatal("expected non-matching subject to be rejected")
	}
}

func TestCompileRejectsMissingParams(t *testing.T) {
	cases := []FilterSpec{
		{ID: "f-1", Kind: FilterSubjectContains},
		{ID: "f-2", Kind: FilterActivity},
		{ID: "f-3", Kind: FilterProcedure},
		{ID: "f-4", Kind: FilterLocation},
		{ID: "f-5", Kind: FilterAnd},
		{ID: "f-6", Kind: FilterKind("bogus")},
	}
	for _, spec := range cases {
		if _, err := Compile(spec, nil); err == nil {
			t.Fatalf("expected compile error for %+v", spec)
		}
	}
}

func TestCompileDateRange(t *testing.T) {
	after := day
	before := day.AddDate(0, 0, 7)
	filter, err := Compile(FilterSpec{ID: "f-1", Kind: FilterDateRange, After: &after, Before: &before}, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !filter.Matches(Appointment{StartsAt: day.AddDate(0, 0, 3)}) {
		t.Fatal("expected in-range appointment to match")
	}
	if filter.Matches(Appointment{StartsAt: day.AddDate(0, 0, -1)}) {
		t.Fatal("expected appointment before range to be rejected")
	}
	if filter.Matches(Appointment{StartsAt: day.AddDate(0, 0, 8)}) {
		t.Fatal("expected appointment after range to be rejected")
	}
}

func TestCompileAndFilter(t *testing.T) {
	subs := map[string]FilterSpec{
		"f-act": {ID: "f-act", Kind: FilterActivity, ActivityID: "act-1"},
		"f-loc": {ID: "f-loc", Kind: FilterLocation, LocationID: "loc-1"},
	}
	resolve := func(id string) (FilterSpec, error) {
		spec, ok := subs[id]
		if !ok {
			return FilterSpec{}, fmt.Errorf("filter %s not found", id)
		}
		return spec, nil
	}

	filter, err := Compile(FilterSpec{ID: "f-and", Kind: FilterAnd, SubFilterIDs: []string{"f-act", "f-loc"}}, resolve)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	if !filter.Matches(Appointment{ActivityID: "act-1", LocationID: "loc-1"}) {
		t.Fatal("expected conjunction to match")
	}
	if filter.Matches(Appointment{ActivityID: "act-1", LocationID: "loc-2"}) {
		t.Fatal("expected failing operand to reject")
	}
}

func TestCompileRejectsNestedAnd(t *testing.T) {
	resolve := func(id string) (FilterSpec, error) {
		return FilterSpec{ID: id, Kind: FilterAnd, SubFilterIDs: []string{"deeper"}}, nil
	}
	if _, err := Compile(FilterSpec{ID: "f-and", Kind: FilterAnd, SubFilterIDs: []string{"f-sub"}}, resolve); err == nil {
		t.Fatal("expected nested and-filter to be rejected")
	}
}

func TestRankIsStartTime(t *testing.T) {
	filter, err := Compile(FilterSpec{ID: "f-1", Kind: FilterActivity, ActivityID: "act-1"}, nil)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	appt := Appointment{ActivityID: "act-1", StartsAt: day}
	if !filter.Rank(appt).Equal(day) {
		t.Fatalf("expected rank by start time, got %v", filter.Rank(appt))
	}
}
