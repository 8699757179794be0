// Package agenda defines respondent appointments and the filter predicates
// used to anchor round validity dates on agenda events.
package agenda

import (
	"fmt"
	"strings"
	"time"
)

// Appointment is one agenda event of a respondent.
type Appointment struct {
	ID           string
	RespondentID string
	Subject      string
	ActivityID   string
	ProcedureID  string
	LocationID   string
	StartsAt     time.Time
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// FilterKind selects the predicate variant of a filter. The set is closed;
// project-specific filters plug in through the matcher's filter store, not
// through runtime class lookup.
type FilterKind string

const (
	FilterSubjectContains FilterKind = "subject_contains"
	FilterActivity        FilterKind = "activity"
	FilterProcedure       FilterKind = "procedure"
	FilterLocation        FilterKind = "location"
	FilterDateRange       FilterKind = "date_range"
	FilterAnd             FilterKind = "and"
)

// UniquenessScope bounds how widely one appointment may be claimed as a round
// anchor. The upstream "global" scope was never implemented and is rejected
// as unsupported.
type UniquenessScope int

const (
	UniqueNone UniquenessScope = iota
	UniquePerRespondentTrack
	UniquePerTrack
)

// FilterSpec is one stored appointment filter. Parameter use depends on Kind;
// And-filters reference their operands through SubFilterIDs.
type FilterSpec struct {
	ID           string
	Name         string
	Kind         FilterKind
	Subject      string
	ActivityID   string
	ProcedureID  string
	LocationID   string
	After        *time.Time
	Before       *time.Time
	SubFilterIDs []string
	UniqueScope  UniquenessScope
	Active       bool
}

// Filter is a compiled appointment predicate with a tie-break rank.
type Filter interface {
	// Matches reports whether the appointment satisfies the predicate.
	Matches(appt Appointment) bool
	// Rank orders candidate matches; higher ranks win. The built-in filters
	// rank by start time, so ties break most-recent-first.
	Rank(appt Appointment) time.Time
}

type subjectFilter struct{ needle string }

func (f subjectFilter) Matches(appt Appointment) bool {
	return strings.Contains(strings.ToLower(appt.Subject), f.needle)
}
func (f subjectFilter) Rank(appt Appointment) time.Time { return appt.StartsAt }

type activityFilter struct{ activityID string }

func (f activityFilter) Matches(appt Appointment) bool   { return appt.ActivityID == f.activityID }
func (f activityFilter) Rank(appt Appointment) time.Time { return appt.StartsAt }

type procedureFilter struct{ procedureID string }

func (f procedureFilter) Matches(appt Appointment) bool   { return appt.ProcedureID == f.procedureID }
func (f procedureFilter) Rank(appt Appointment) time.Time { return appt.StartsAt }

type locationFilter struct{ locationID string }

func (f locationFilter) Matches(appt Appointment) bool   { return appt.LocationID == f.locationID }
func (f locationFilter) Rank(appt Appointment) time.Time { return appt.StartsAt }

type dateRangeFilter struct {
	after  *time.Time
	before *time.Time
}

func (f dateRangeFilter) Matches(appt Appointment) bool {
	if f.after != nil && appt.StartsAt.Before(*f.after) {
		return false
	}
	if f.before != nil && appt.StartsAt.After(*f.before) {
		return false
	}
	return true
}
func (f dateRangeFilter) Rank(appt Appointment) time.Time { return appt.StartsAt }

type andFilter struct{ parts []Filter }

func (f andFilter) Matches(appt Appointment) bool {
	for _, p := range f.parts {
		if !p.Matches(appt) {
			return false
		}
	}
	return true
}
func (f andFilter) Rank(appt Appointment) time.Time { return appt.StartsAt }

// Compile turns a FilterSpec into an executable Filter. resolve loads
// referenced sub-filters for And-filters.
func Compile(spec FilterSpec, resolve func(id string) (FilterSpec, error)) (Filter, error) {
	switch spec.Kind {
	case FilterSubjectContains:
		needle := strings.ToLower(strings.TrimSpace(spec.Subject))
		if needle == "" {
			return nil, fmt.Errorf("filter %s: subject is required", spec.ID)
		}
		return subjectFilter{needle: needle}, nil
	case FilterActivity:
		if spec.ActivityID == "" {
			return nil, fmt.Errorf("filter %s: activity_id is required", spec.ID)
		}
		return activityFilter{activityID: spec.ActivityID}, nil
	case FilterProcedure:
		if spec.ProcedureID == "" {
			return nil, fmt.Errorf("filter %s: procedure_id is required", spec.ID)
		}
		return procedureFilter{procedureID: spec.ProcedureID}, nil
	case FilterLocation:
		if spec.LocationID == "" {
			return nil, fmt.Errorf("filter %s: location_id is required", spec.ID)
		}
		return locationFilter{locationID: spec.LocationID}, nil
	case FilterDateRange:
		return dateRangeFilter{after: spec.After, before: spec.Before}, nil
	case FilterAnd:
		if len(spec.SubFilterIDs) == 0 {
			return nil, fmt.Errorf("filter %s: and-filter needs sub filters", spec.ID)
		}
		if resolve == nil {
			return nil, fmt.Errorf("filter %s: no resolver for sub filters", spec.ID)
		}
		parts := make([]Filter, 0, len(spec.SubFilterIDs))
		for _, subID := range spec.SubFilterIDs {
			sub, err := resolve(subID)
			if err != nil {
				return nil, fmt.Errorf("filter %s: sub filter %s: %w", spec.ID, subID, err)
			}
			if sub.Kind == FilterAnd {
				return nil, fmt.Errorf("filter %s: nested and-filters are not supported", spec.ID)
			}
			part, err := Compile(sub, nil)
			if err != nil {
				return nil, err
			}
			parts = append(parts, part)
		}
		return andFilter{parts: parts}, nil
	default:
		return nil, fmt.Errorf("unsupported filter kind %q", spec.Kind)
	}
}
