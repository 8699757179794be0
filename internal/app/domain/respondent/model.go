// Package respondent defines the live instantiation of a track for one
// respondent.
package respondent

import "time"

// Track is one respondent's instantiation of a track program. It owns the
// respondent's token set and the track field values that round timing may
// depend on. Appointment-derived fields hold the anchoring appointment's ID.
type Track struct {
	ID            string
	TrackID       string
	RespondentID  string
	StartDate     time.Time
	EndDate       *time.Time
	ReceptionCode string
	Fields        map[string]string
	Comment       string
	ChangedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Field returns a track field value, empty when unset.
func (t Track) Field(key string) string {
	if t.Fields == nil {
		return ""
	}
	return t.Fields[key]
}
