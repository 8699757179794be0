// Package track defines track programs: the ordered round specifications and
// field specifications that the reconciliation engine converges tokens
// against.
package track

import (
	"sort"
	"time"
)

// Track is a named survey program definition. Its identity is immutable;
// edits to its specification take effect on the next reconciliation.
type Track struct {
	ID        string
	Code      string
	Name      string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidFromSource selects how a round's validity-from date is anchored.
type ValidFromSource string

const (
	// FromTrackStart anchors on the respondent track's start date.
	FromTrackStart ValidFromSource = "track_start"
	// FromAppointment anchors on an appointment-derived track field.
	FromAppointment ValidFromSource = "appointment"
)

// ValidUntilSource selects how a round's validity-until date is derived.
type ValidUntilSource string

const (
	// NoExpiry keeps the token valid indefinitely.
	NoExpiry ValidUntilSource = "no_expiry"
	// AfterValidFrom expires the token a fixed offset after validity-from.
	AfterValidFrom ValidUntilSource = "after_valid_from"
)

// ValidFromRule resolves the validity-from anchor for a round.
type ValidFromRule struct {
	Source     ValidFromSource
	OffsetDays int
	// FieldKey names the appointment-derived track field used when Source
	// is FromAppointment.
	FieldKey string
}

// ValidUntilRule resolves the validity-until date from validity-from.
type ValidUntilRule struct {
	Source     ValidUntilSource
	OffsetDays int
}

// ResolveValidUntil applies the until-rule to a resolved validity-from. An
// unset source means no expiry.
func (r ValidUntilRule) ResolveValidUntil(validFrom time.Time) *time.Time {
	if r.Source != AfterValidFrom {
		return nil
	}
	until := validFrom.AddDate(0, 0, r.OffsetDays)
	return &until
}

// RoundSpec is one scheduled survey slot within a track's definition.
// Order keys are unique within a track; collisions are resolved at
// reconciliation time with the lower spec ID winning.
type RoundSpec struct {
	ID          string
	TrackID     string
	Order       int
	SurveyID    string
	Description string
	ValidFrom   ValidFromRule
	ValidUntil  ValidUntilRule
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FieldSource selects where a track field's value comes from.
type FieldSource string

const (
	// FieldManual values are entered by staff and never recalculated.
	FieldManual FieldSource = "manual"
	// FieldAppointment values hold an appointment ID resolved from an
	// appointment filter.
	FieldAppointment FieldSource = "appointment"
)

// FieldSpec defines one track field. Appointment-sourced fields are
// recomputed by the field recalculation engine.
type FieldSpec struct {
	ID       string
	TrackID  string
	Key      string
	Source   FieldSource
	FilterID string
	Required bool
}

// SortRounds orders round specs by order key ascending, breaking order-key
// ties on spec ID so collisions resolve deterministically.
func SortRounds(specs []RoundSpec) []RoundSpec {
	sorted := append([]RoundSpec(nil), specs...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Order != sorted[j].Order {
			return sorted[i].Order < sorted[j].Order
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}
