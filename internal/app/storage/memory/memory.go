// Package memory implements the storage interfaces in process memory. It is
// safe for concurrent use and is primarily intended for tests and local
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/respondent"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
)

// Store is the in-memory implementation of all storage interfaces.
type Store struct {
	mu               sync.RWMutex
	tracks           map[string]track.Track
	roundSpecs       map[string]track.RoundSpec
	fieldSpecs       map[string]track.FieldSpec
	respondentTracks map[string]respondent.Track
	tokens           map[string]token.Token
	appointments     map[string]agenda.Appointment
	filters          map[string]agenda.FilterSpec
}

var _ storage.TrackStore = (*Store)(nil)
var _ storage.RespondentTrackStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)
var _ storage.AppointmentStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		tracks:           make(map[string]track.Track),
		roundSpecs:       make(map[string]track.RoundSpec),
		fieldSpecs:       make(map[string]track.FieldSpec),
		respondentTracks: make(map[string]respondent.Track),
		tokens:           make(map[string]token.Token),
		appointments:     make(map[string]agenda.Appointment),
		filters:          make(map[string]agenda.FilterSpec),
	}
}

// TrackStore implementation --------------------------------------------------

func (s *Store) CreateTrack(_ context.Context, trk track.Track) (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if trk.ID == "" {
		trk.ID = uuid.NewString()
	} else if _, exists := s.tracks[trk.ID]; exists {
		return track.Track{}, fmt.Errorf("track %s already exists", trk.ID)
	}

	now := time.Now().UTC()
	trk.CreatedAt = now
	trk.UpdatedAt = now

	s.tracks[trk.ID] = trk
	return trk, nil
}

func (s *Store) UpdateTrack(_ context.Context, trk track.Track) (track.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tracks[trk.ID]
	if !ok {
		return track.Track{}, storage.ErrNotFound
	}

	trk.CreatedAt = original.CreatedAt
	trk.UpdatedAt = time.Now().UTC()

	s.tracks[trk.ID] = trk
	return trk, nil
}

func (s *Store) GetTrack(_ context.Context, id string) (track.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	trk, ok := s.tracks[id]
	if !ok {
		return track.Track{}, storage.ErrNotFound
	}
	return trk, nil
}

func (s *Store) ListTracks(_ context.Context) ([]track.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]track.Track, 0, len(s.tracks))
	for _, trk := range s.tracks {
		result = append(result, trk)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) CreateRoundSpec(_ context.Context, spec track.RoundSpec) (track.RoundSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[spec.TrackID]; !ok {
		return track.RoundSpec{}, fmt.Errorf("track %s: %w", spec.TrackID, storage.ErrNotFound)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	} else if _, exists := s.roundSpecs[spec.ID]; exists {
		return track.RoundSpec{}, fmt.Errorf("round spec %s already exists", spec.ID)
	}

	now := time.Now().UTC()
	spec.CreatedAt = now
	spec.UpdatedAt = now

	s.roundSpecs[spec.ID] = spec
	return spec, nil
}

func (s *Store) UpdateRoundSpec(_ context.Context, spec track.RoundSpec) (track.RoundSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.roundSpecs[spec.ID]
	if !ok {
		return track.RoundSpec{}, storage.ErrNotFound
	}

	spec.TrackID = original.TrackID
	spec.CreatedAt = original.CreatedAt
	spec.UpdatedAt = time.Now().UTC()

	s.roundSpecs[spec.ID] = spec
	return spec, nil
}

func (s *Store) GetRoundSpec(_ context.Context, id string) (track.RoundSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.roundSpecs[id]
	if !ok {
		return track.RoundSpec{}, storage.ErrNotFound
	}
	return spec, nil
}

func (s *Store) ListRoundSpecs(_ context.Context, trackID string) ([]track.RoundSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]track.RoundSpec, 0)
	for _, spec := range s.roundSpecs {
		if spec.TrackID == trackID {
			result = append(result, spec)
		}
	}
	return track.SortRounds(result), nil
}

func (s *Store) CreateFieldSpec(_ context.Context, spec track.FieldSpec) (track.FieldSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[spec.TrackID]; !ok {
		return track.FieldSpec{}, fmt.Errorf("track %s: %w", spec.TrackID, storage.ErrNotFound)
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	} else if _, exists := s.fieldSpecs[spec.ID]; exists {
		return track.FieldSpec{}, fmt.Errorf("field spec %s already exists", spec.ID)
	}

	s.fieldSpecs[spec.ID] = spec
	return spec, nil
}

func (s *Store) ListFieldSpecs(_ context.Context, trackID string) ([]track.FieldSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]track.FieldSpec, 0)
	for _, spec := range s.fieldSpecs {
		if spec.TrackID == trackID {
			result = append(result, spec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Key < result[j].Key })
	return result, nil
}

// RespondentTrackStore implementation ----------------------------------------

func (s *Store) CreateRespondentTrack(_ context.Context, rt respondent.Track) (respondent.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tracks[rt.TrackID]; !ok {
		return respondent.Track{}, fmt.Errorf("track %s: %w", rt.TrackID, storage.ErrNotFound)
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	} else if _, exists := s.respondentTracks[rt.ID]; exists {
		return respondent.Track{}, fmt.Errorf("respondent track %s already exists", rt.ID)
	}
	if rt.ReceptionCode == "" {
		rt.ReceptionCode = reception.OK
	}

	now := time.Now().UTC()
	rt.CreatedAt = now
	rt.UpdatedAt = now
	rt.Fields = cloneFields(rt.Fields)

	s.respondentTracks[rt.ID] = rt
	return cloneRespondentTrack(rt), nil
}

func (s *Store) UpdateRespondentTrack(_ context.Context, rt respondent.Track) (respondent.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.respondentTracks[rt.ID]
	if !ok {
		return respondent.Track{}, storage.ErrNotFound
	}

	rt.TrackID = original.TrackID
	rt.RespondentID = original.RespondentID
	rt.CreatedAt = original.CreatedAt
	rt.UpdatedAt = time.Now().UTC()
	rt.Fields = cloneFields(rt.Fields)

	s.respondentTracks[rt.ID] = rt
	return cloneRespondentTrack(rt), nil
}

func (s *Store) GetRespondentTrack(_ context.Context, id string) (respondent.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rt, ok := s.respondentTracks[id]
	if !ok {
		return respondent.Track{}, storage.ErrNotFound
	}
	return cloneRespondentTrack(rt), nil
}

func (s *Store) ListRespondentTracks(_ context.Context, trackID string) ([]respondent.Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]respondent.Track, 0)
	for _, rt := range s.respondentTracks {
		if trackID == "" || rt.TrackID == trackID {
			result = append(result, cloneRespondentTrack(rt))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *Store) SaveRespondentTrackFields(_ context.Context, id string, fields map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.respondentTracks[id]
	if !ok {
		return storage.ErrNotFound
	}
	rt.Fields = cloneFields(fields)
	rt.UpdatedAt = time.Now().UTC()
	s.respondentTracks[id] = rt
	return nil
}

// TokenStore implementation ---------------------------------------------------

func (s *Store) CreateToken(_ context.Context, tok token.Token) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.respondentTracks[tok.RespondentTrackID]; !ok {
		return token.Token{}, fmt.Errorf("respondent track %s: %w", tok.RespondentTrackID, storage.ErrNotFound)
	}
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	} else if _, exists := s.tokens[tok.ID]; exists {
		return token.Token{}, fmt.Errorf("token %s already exists", tok.ID)
	}
	if tok.ReceptionCode == "" {
		tok.ReceptionCode = reception.OK
	}

	now := time.Now().UTC()
	tok.CreatedAt = now
	tok.UpdatedAt = now

	s.tokens[tok.ID] = tok
	return tok, nil
}

func (s *Store) UpdateToken(_ context.Context, tok token.Token) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.tokens[tok.ID]
	if !ok {
		return token.Token{}, storage.ErrNotFound
	}

	tok.RespondentTrackID = original.RespondentTrackID
	tok.CreatedAt = original.CreatedAt
	tok.UpdatedAt = time.Now().UTC()

	s.tokens[tok.ID] = tok
	return tok, nil
}

func (s *Store) GetToken(_ context.Context, id string) (token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tok, ok := s.tokens[id]
	if !ok {
		return token.Token{}, storage.ErrNotFound
	}
	return tok, nil
}

func (s *Store) ListTokens(_ context.Context, respondentTrackID string) ([]token.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]token.Token, 0)
	for _, tok := range s.tokens {
		if tok.RespondentTrackID == respondentTrackID {
			result = append(result, tok)
		}
	}
	return token.SortNewestFirst(result), nil
}

func (s *Store) DeleteToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tokens[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.tokens, id)
	return nil
}

// AppointmentStore implementation ---------------------------------------------

func (s *Store) CreateAppointment(_ context.Context, appt agenda.Appointment) (agenda.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if appt.ID == "" {
		appt.ID = uuid.NewString()
	} else if _, exists := s.appointments[appt.ID]; exists {
		return agenda.Appointment{}, fmt.Errorf("appointment %s already exists", appt.ID)
	}

	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) UpdateAppointment(_ context.Context, appt agenda.Appointment) (agenda.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.appointments[appt.ID]
	if !ok {
		return agenda.Appointment{}, storage.ErrNotFound
	}

	appt.RespondentID = original.RespondentID
	appt.CreatedAt = original.CreatedAt
	appt.UpdatedAt = time.Now().UTC()

	s.appointments[appt.ID] = appt
	return appt, nil
}

func (s *Store) GetAppointment(_ context.Context, id string) (agenda.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	appt, ok := s.appointments[id]
	if !ok {
		return agenda.Appointment{}, storage.ErrNotFound
	}
	return appt, nil
}

func (s *Store) ListAppointments(_ context.Context, respondentID string) ([]agenda.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]agenda.Appointment, 0)
	for _, appt := range s.appointments {
		if appt.RespondentID == respondentID {
			result = append(result, appt)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartsAt.Before(result[j].StartsAt) })
	return result, nil
}

func (s *Store) CreateFilter(_ context.Context, spec agenda.FilterSpec) (agenda.FilterSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if spec.ID == "" {
		spec.ID = uuid.NewString()
	} else if _, exists := s.filters[spec.ID]; exists {
		return agenda.FilterSpec{}, fmt.Errorf("filter %s already exists", spec.ID)
	}

	s.filters[spec.ID] = spec
	return spec, nil
}

func (s *Store) GetFilter(_ context.Context, id string) (agenda.FilterSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	spec, ok := s.filters[id]
	if !ok {
		return agenda.FilterSpec{}, storage.ErrNotFound
	}
	return spec, nil
}

func (s *Store) ListFilters(_ context.Context) ([]agenda.FilterSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]agenda.FilterSpec, 0, len(s.filters))
	for _, spec := range s.filters {
		result = append(result, spec)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func cloneFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

func cloneRespondentTrack(rt respondent.Track) respondent.Track {
	rt.Fields = cloneFields(rt.Fields)
	return rt
}
