// Package agenda implements the appointment filter matcher: a pure, read-only
// evaluation of filter predicates against a respondent's appointment list.
package agenda

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

// AmbiguousMatchError is reported when two appointments tie for the best rank
// and the filter cannot pick a single winner.
type AmbiguousMatchError struct {
	FilterID       string
	AppointmentIDs []string
}

func (e AmbiguousMatchError) Error() string {
	return fmt.Sprintf("filter %s: ambiguous appointment match %v", e.FilterID, e.AppointmentIDs)
}

// Matcher evaluates appointment filters. It owns an explicit read-through
// cache of appointment lists keyed by respondent; writers must call
// Invalidate after mutating a respondent's agenda.
type Matcher struct {
	store storage.AppointmentStore
	log   *logger.Logger

	mu    sync.RWMutex
	cache map[string][]domain.Appointment
}

// NewMatcher constructs a matcher over the appointment store.
func NewMatcher(store storage.AppointmentStore, log *logger.Logger) *Matcher {
	if log == nil {
		log = logger.NewDefault("agenda")
	}
	return &Matcher{
		store: store,
		log:   log,
		cache: make(map[string][]domain.Appointment),
	}
}

// Invalidate drops the cached appointment list for a respondent. Empty id
// drops the whole cache.
func (m *Matcher) Invalidate(respondentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if respondentID == "" {
		m.cache = make(map[string][]domain.Appointment)
		return
	}
	delete(m.cache, respondentID)
}

// Match evaluates the filter against the respondent's active appointments and
// returns the single best match, nil when nothing matches. Appointment IDs in
// exclude are skipped; callers supply them to enforce the filter's uniqueness
// scope. The upstream "global" uniqueness scope is unsupported.
func (m *Matcher) Match(ctx context.Context, respondentID string, spec domain.FilterSpec, exclude map[string]bool) (*domain.Appointment, error) {
	filter, err := domain.Compile(spec, func(id string) (domain.FilterSpec, error) {
		return m.store.GetFilter(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	appointments, err := m.appointments(ctx, respondentID)
	if err != nil {
		return nil, err
	}

	var best, runner *domain.Appointment
	for i := range appointments {
		appt := appointments[i]
		if !appt.Active || exclude[appt.ID] {
			continue
		}
		if !filter.Matches(appt) {
			continue
		}
		switch {
		case best == nil:
			best = &appointments[i]
		case filter.Rank(appt).After(filter.Rank(*best)):
			best = &appointments[i]
			runner = nil
		case filter.Rank(appt).Equal(filter.Rank(*best)):
			runner = &appointments[i]
		}
	}

	if best == nil {
		return nil, nil
	}
	if runner != nil {
		return nil, AmbiguousMatchError{FilterID: spec.ID, AppointmentIDs: []string{best.ID, runner.ID}}
	}
	matched := *best
	return &matched, nil
}

// MatchByFilterID loads the filter spec and evaluates it.
func (m *Matcher) MatchByFilterID(ctx context.Context, respondentID, filterID string, exclude map[string]bool) (*domain.Appointment, error) {
	spec, err := m.store.GetFilter(ctx, filterID)
	if err != nil {
		return nil, fmt.Errorf("load filter %s: %w", filterID, err)
	}
	if !spec.Active {
		return nil, nil
	}
	return m.Match(ctx, respondentID, spec, exclude)
}

func (m *Matcher) appointments(ctx context.Context, respondentID string) ([]domain.Appointment, error) {
	m.mu.RLock()
	cached, ok := m.cache[respondentID]
	m.mu.RUnlock()
	if ok {
		return cached, nil
	}

	appointments, err := m.store.ListAppointments(ctx, respondentID)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	m.mu.Lock()
	m.cache[respondentID] = appointments
	m.mu.Unlock()
	return appointments, nil
}
