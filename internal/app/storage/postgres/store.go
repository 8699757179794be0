package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/respondent"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.TrackStore = (*Store)(nil)
var _ storage.RespondentTrackStore = (*Store)(nil)
var _ storage.TokenStore = (*Store)(nil)
var _ storage.AppointmentStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- TrackStore -------------------------------------------------------------

func (s *Store) CreateTrack(ctx context.Context, trk track.Track) (track.Track, error) {
	if trk.ID == "" {
		trk.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	trk.CreatedAt = now
	trk.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (id, code, name, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, trk.ID, trk.Code, trk.Name, trk.Active, trk.CreatedAt, trk.UpdatedAt)
	if err != nil {
		return track.Track{}, err
	}
	return trk, nil
}

func (s *Store) UpdateTrack(ctx context.Context, trk track.Track) (track.Track, error) {
	existing, err := s.GetTrack(ctx, trk.ID)
	if err != nil {
		return track.Track{}, err
	}

	trk.CreatedAt = existing.CreatedAt
	trk.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE tracks
		SET code = $2, name = $3, active = $4, updated_at = $5
		WHERE id = $1
	`, trk.ID, trk.Code, trk.Name, trk.Active, trk.UpdatedAt)
	if err != nil {
		return track.Track{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return track.Track{}, storage.ErrNotFound
	}
	return trk, nil
}

func (s *Store) GetTrack(ctx context.Context, id string) (track.Track, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, code, name, active, created_at, updated_at
		FROM tracks
		WHERE id = $1
	`, id)

	var trk track.Track
	if err := row.Scan(&trk.ID, &trk.Code, &trk.Name, &trk.Active, &trk.CreatedAt, &trk.UpdatedAt); err != nil {
		return track.Track{}, notFound(err)
	}
	return trk, nil
}

func (s *Store) ListTracks(ctx context.Context) ([]track.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, code, name, active, created_at, updated_at
		FROM tracks
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []track.Track
	for rows.Next() {
		var trk track.Track
		if err := rows.Scan(&trk.ID, &trk.Code, &trk.Name, &trk.Active, &trk.CreatedAt, &trk.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, trk)
	}
	return result, rows.Err()
}

func (s *Store) CreateRoundSpec(ctx context.Context, spec track.RoundSpec) (track.RoundSpec, error) {
	if spec.TrackID == "" {
		return track.RoundSpec{}, errors.New("track_id required")
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	spec.CreatedAt = now
	spec.UpdatedAt = now

	validFromJSON, err := json.Marshal(spec.ValidFrom)
	if err != nil {
		return track.RoundSpec{}, err
	}
	validUntilJSON, err := json.Marshal(spec.ValidUntil)
	if err != nil {
		return track.RoundSpec{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO round_specs (id, track_id, round_order, survey_id, description, valid_from_rule, valid_until_rule, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, spec.ID, spec.TrackID, spec.Order, spec.SurveyID, spec.Description, validFromJSON, validUntilJSON, spec.Active, spec.CreatedAt, spec.UpdatedAt)
	if err != nil {
		return track.RoundSpec{}, err
	}
	return spec, nil
}

func (s *Store) UpdateRoundSpec(ctx context.Context, spec track.RoundSpec) (track.RoundSpec, error) {
	existing, err := s.GetRoundSpec(ctx, spec.ID)
	if err != nil {
		return track.RoundSpec{}, err
	}

	spec.TrackID = existing.TrackID
	spec.CreatedAt = existing.CreatedAt
	spec.UpdatedAt = time.Now().UTC()

	validFromJSON, err := json.Marshal(spec.ValidFrom)
	if err != nil {
		return track.RoundSpec{}, err
	}
	validUntilJSON, err := json.Marshal(spec.ValidUntil)
	if err != nil {
		return track.RoundSpec{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE round_specs
		SET round_order = $2, survey_id = $3, description = $4, valid_from_rule = $5, valid_until_rule = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, spec.ID, spec.Order, spec.SurveyID, spec.Description, validFromJSON, validUntilJSON, spec.Active, spec.UpdatedAt)
	if err != nil {
		return track.RoundSpec{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return track.RoundSpec{}, storage.ErrNotFound
	}
	return spec, nil
}

func (s *Store) GetRoundSpec(ctx context.Context, id string) (track.RoundSpec, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, track_id, round_order, survey_id, description, valid_from_rule, valid_until_rule, active, created_at, updated_at
		FROM round_specs
		WHERE id = $1
	`, id)
	return scanRoundSpec(row)
}

func (s *Store) ListRoundSpecs(ctx context.Context, trackID string) ([]track.RoundSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, track_id, round_order, survey_id, description, valid_from_rule, valid_until_rule, active, created_at, updated_at
		FROM round_specs
		WHERE track_id = $1
		ORDER BY round_order, id
	`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []track.RoundSpec
	for rows.Next() {
		spec, err := scanRoundSpec(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, spec)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoundSpec(row scanner) (track.RoundSpec, error) {
	var (
		spec          track.RoundSpec
		validFromRaw  []byte
		validUntilRaw []byte
	)
	if err := row.Scan(&spec.ID, &spec.TrackID, &spec.Order, &spec.SurveyID, &spec.Description, &validFromRaw, &validUntilRaw, &spec.Active, &spec.CreatedAt, &spec.UpdatedAt); err != nil {
		return track.RoundSpec{}, notFound(err)
	}
	if len(validFromRaw) > 0 {
		_ = json.Unmarshal(validFromRaw, &spec.ValidFrom)
	}
	if len(validUntilRaw) > 0 {
		_ = json.Unmarshal(validUntilRaw, &spec.ValidUntil)
	}
	return spec, nil
}

func (s *Store) CreateFieldSpec(ctx context.Context, spec track.FieldSpec) (track.FieldSpec, error) {
	if spec.TrackID == "" {
		return track.FieldSpec{}, errors.New("track_id required")
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO field_specs (id, track_id, key, source, filter_id, required)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, spec.ID, spec.TrackID, spec.Key, string(spec.Source), spec.FilterID, spec.Required)
	if err != nil {
		return track.FieldSpec{}, err
	}
	return spec, nil
}

func (s *Store) ListFieldSpecs(ctx context.Context, trackID string) ([]track.FieldSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, track_id, key, source, filter_id, required
		FROM field_specs
		WHERE track_id = $1
		ORDER BY key
	`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []track.FieldSpec
	for rows.Next() {
		var (
			spec   track.FieldSpec
			source string
		)
		if err := rows.Scan(&spec.ID, &spec.TrackID, &spec.Key, &source, &spec.FilterID, &spec.Required); err != nil {
			return nil, err
		}
		spec.Source = track.FieldSource(source)
		result = append(result, spec)
	}
	return result, rows.Err()
}

// --- RespondentTrackStore ---------------------------------------------------

func (s *Store) CreateRespondentTrack(ctx context.Context, rt respondent.Track) (respondent.Track, error) {
	if rt.TrackID == "" {
		return respondent.Track{}, errors.New("track_id required")
	}
	if rt.ID == "" {
		rt.ID = uuid.NewString()
	}
	if rt.ReceptionCode == "" {
		rt.ReceptionCode = reception.OK
	}
	now := time.Now().UTC()
	rt.CreatedAt = now
	rt.UpdatedAt = now

	fieldsJSON, err := json.Marshal(rt.Fields)
	if err != nil {
		return respondent.Track{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO respondent_tracks (id, track_id, respondent_id, start_date, end_date, reception_code, fields, comment, changed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, rt.ID, rt.TrackID, rt.RespondentID, rt.StartDate, toNullTimePtr(rt.EndDate), rt.ReceptionCode, fieldsJSON, rt.Comment, rt.ChangedBy, rt.CreatedAt, rt.UpdatedAt)
	if err != nil {
		return respondent.Track{}, err
	}
	return rt, nil
}

func (s *Store) UpdateRespondentTrack(ctx context.Context, rt respondent.Track) (respondent.Track, error) {
	existing, err := s.GetRespondentTrack(ctx, rt.ID)
	if err != nil {
		return respondent.Track{}, err
	}

	rt.TrackID = existing.TrackID
	rt.RespondentID = existing.RespondentID
	rt.CreatedAt = existing.CreatedAt
	rt.UpdatedAt = time.Now().UTC()

	fieldsJSON, err := json.Marshal(rt.Fields)
	if err != nil {
		return respondent.Track{}, err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE respondent_tracks
		SET start_date = $2, end_date = $3, reception_code = $4, fields = $5, comment = $6, changed_by = $7, updated_at = $8
		WHERE id = $1
	`, rt.ID, rt.StartDate, toNullTimePtr(rt.EndDate), rt.ReceptionCode, fieldsJSON, rt.Comment, rt.ChangedBy, rt.UpdatedAt)
	if err != nil {
		return respondent.Track{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return respondent.Track{}, storage.ErrNotFound
	}
	return rt, nil
}

func (s *Store) GetRespondentTrack(ctx context.Context, id string) (respondent.Track, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, track_id, respondent_id, start_date, end_date, reception_code, fields, comment, changed_by, created_at, updated_at
		FROM respondent_tracks
		WHERE id = $1
	`, id)
	return scanRespondentTrack(row)
}

func (s *Store) ListRespondentTracks(ctx context.Context, trackID string) ([]respondent.Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, track_id, respondent_id, start_date, end_date, reception_code, fields, comment, changed_by, created_at, updated_at
		FROM respondent_tracks
		WHERE $1 = '' OR track_id = $1
		ORDER BY id
	`, trackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []respondent.Track
	for rows.Next() {
		rt, err := scanRespondentTrack(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rt)
	}
	return result, rows.Err()
}

func scanRespondentTrack(row scanner) (respondent.Track, error) {
	var (
		rt        respondent.Track
		endDate   sql.NullTime
		fieldsRaw []byte
	)
	if err := row.Scan(&rt.ID, &rt.TrackID, &rt.RespondentID, &rt.StartDate, &endDate, &rt.ReceptionCode, &fieldsRaw, &rt.Comment, &rt.ChangedBy, &rt.CreatedAt, &rt.UpdatedAt); err != nil {
		return respondent.Track{}, notFound(err)
	}
	if endDate.Valid {
		t := endDate.Time.UTC()
		rt.EndDate = &t
	}
	if len(fieldsRaw) > 0 {
		_ = json.Unmarshal(fieldsRaw, &rt.Fields)
	}
	return rt, nil
}

func (s *Store) SaveRespondentTrackFields(ctx context.Context, id string, fields map[string]string) error {
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE respondent_tracks
		SET fields = $2, updated_at = $3
		WHERE id = $1
	`, id, fieldsJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// --- TokenStore -------------------------------------------------------------

func (s *Store) CreateToken(ctx context.Context, tok token.Token) (token.Token, error) {
	if tok.RespondentTrackID == "" {
		return token.Token{}, errors.New("respondent_track_id required")
	}
	if tok.ID == "" {
		tok.ID = uuid.NewString()
	}
	if tok.ReceptionCode == "" {
		tok.ReceptionCode = reception.OK
	}
	now := time.Now().UTC()
	tok.CreatedAt = now
	tok.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, respondent_track_id, round_spec_id, round_order, round_description, survey_id, valid_from, valid_until, completed_at, reception_code, next_id, previous_id, external_answers, comment, changed_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, tok.ID, tok.RespondentTrackID, tok.RoundSpecID, tok.RoundOrder, tok.RoundDescription, tok.SurveyID,
		toNullTimePtr(tok.ValidFrom), toNullTimePtr(tok.ValidUntil), toNullTimePtr(tok.CompletedAt),
		tok.ReceptionCode, tok.NextID, tok.PreviousID, tok.ExternalAnswers, tok.Comment, tok.ChangedBy, tok.CreatedAt, tok.UpdatedAt)
	if err != nil {
		return token.Token{}, err
	}
	return tok, nil
}

func (s *Store) UpdateToken(ctx context.Context, tok token.Token) (token.Token, error) {
	existing, err := s.GetToken(ctx, tok.ID)
	if err != nil {
		return token.Token{}, err
	}

	tok.RespondentTrackID = existing.RespondentTrackID
	tok.CreatedAt = existing.CreatedAt
	tok.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE tokens
		SET round_spec_id = $2, round_order = $3, round_description = $4, survey_id = $5, valid_from = $6, valid_until = $7, completed_at = $8, reception_code = $9, next_id = $10, previous_id = $11, external_answers = $12, comment = $13, changed_by = $14, updated_at = $15
		WHERE id = $1
	`, tok.ID, tok.RoundSpecID, tok.RoundOrder, tok.RoundDescription, tok.SurveyID,
		toNullTimePtr(tok.ValidFrom), toNullTimePtr(tok.ValidUntil), toNullTimePtr(tok.CompletedAt),
		tok.ReceptionCode, tok.NextID, tok.PreviousID, tok.ExternalAnswers, tok.Comment, tok.ChangedBy, tok.UpdatedAt)
	if err != nil {
		return token.Token{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return token.Token{}, storage.ErrNotFound
	}
	return tok, nil
}

func (s *Store) GetToken(ctx context.Context, id string) (token.Token, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, respondent_track_id, round_spec_id, round_order, round_description, survey_id, valid_from, valid_until, completed_at, reception_code, next_id, previous_id, external_answers, comment, changed_by, created_at, updated_at
		FROM tokens
		WHERE id = $1
	`, id)
	return scanToken(row)
}

func (s *Store) ListTokens(ctx context.Context, respondentTrackID string) ([]token.Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, respondent_track_id, round_spec_id, round_order, round_description, survey_id, valid_from, valid_until, completed_at, reception_code, next_id, previous_id, external_answers, comment, changed_by, created_at, updated_at
		FROM tokens
		WHERE respondent_track_id = $1
	`, respondentTrackID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []token.Token
	for rows.Next() {
		tok, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return token.SortNewestFirst(result), nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM tokens WHERE id = $1
	`, id)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanToken(row scanner) (token.Token, error) {
	var (
		tok         token.Token
		validFrom   sql.NullTime
		validUntil  sql.NullTime
		completedAt sql.NullTime
	)
	if err := row.Scan(&tok.ID, &tok.RespondentTrackID, &tok.RoundSpecID, &tok.RoundOrder, &tok.RoundDescription, &tok.SurveyID,
		&validFrom, &validUntil, &completedAt,
		&tok.ReceptionCode, &tok.NextID, &tok.PreviousID, &tok.ExternalAnswers, &tok.Comment, &tok.ChangedBy, &tok.CreatedAt, &tok.UpdatedAt); err != nil {
		return token.Token{}, notFound(err)
	}
	tok.ValidFrom = fromNullTime(validFrom)
	tok.ValidUntil = fromNullTime(validUntil)
	tok.CompletedAt = fromNullTime(completedAt)
	return tok, nil
}

// --- AppointmentStore -------------------------------------------------------

func (s *Store) CreateAppointment(ctx context.Context, appt agenda.Appointment) (agenda.Appointment, error) {
	if appt.RespondentID == "" {
		return agenda.Appointment{}, errors.New("respondent_id required")
	}
	if appt.ID == "" {
		appt.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	appt.CreatedAt = now
	appt.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO appointments (id, respondent_id, subject, activity_id, procedure_id, location_id, starts_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, appt.ID, appt.RespondentID, appt.Subject, appt.ActivityID, appt.ProcedureID, appt.LocationID, appt.StartsAt, appt.Active, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return agenda.Appointment{}, err
	}
	return appt, nil
}

func (s *Store) UpdateAppointment(ctx context.Context, appt agenda.Appointment) (agenda.Appointment, error) {
	existing, err := s.GetAppointment(ctx, appt.ID)
	if err != nil {
		return agenda.Appointment{}, err
	}

	appt.RespondentID = existing.RespondentID
	appt.CreatedAt = existing.CreatedAt
	appt.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE appointments
		SET subject = $2, activity_id = $3, procedure_id = $4, location_id = $5, starts_at = $6, active = $7, updated_at = $8
		WHERE id = $1
	`, appt.ID, appt.Subject, appt.ActivityID, appt.ProcedureID, appt.LocationID, appt.StartsAt, appt.Active, appt.UpdatedAt)
	if err != nil {
		return agenda.Appointment{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return agenda.Appointment{}, storage.ErrNotFound
	}
	return appt, nil
}

func (s *Store) GetAppointment(ctx context.Context, id string) (agenda.Appointment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, respondent_id, subject, activity_id, procedure_id, location_id, starts_at, active, created_at, updated_at
		FROM appointments
		WHERE id = $1
	`, id)

	var appt agenda.Appointment
	if err := row.Scan(&appt.ID, &appt.RespondentID, &appt.Subject, &appt.ActivityID, &appt.ProcedureID, &appt.LocationID, &appt.StartsAt, &appt.Active, &appt.CreatedAt, &appt.UpdatedAt); err != nil {
		return agenda.Appointment{}, notFound(err)
	}
	return appt, nil
}

func (s *Store) ListAppointments(ctx context.Context, respondentID string) ([]agenda.Appointment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, respondent_id, subject, activity_id, procedure_id, location_id, starts_at, active, created_at, updated_at
		FROM appointments
		WHERE $1 = '' OR respondent_id = $1
		ORDER BY starts_at
	`, respondentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []agenda.Appointment
	for rows.Next() {
		var appt agenda.Appointment
		if err := rows.Scan(&appt.ID, &appt.RespondentID, &appt.Subject, &appt.ActivityID, &appt.ProcedureID, &appt.LocationID, &appt.StartsAt, &appt.Active, &appt.CreatedAt, &appt.UpdatedAt); err != nil {
			return nil, err
		}
		result = append(result, appt)
	}
	return result, rows.Err()
}

func (s *Store) CreateFilter(ctx context.Context, spec agenda.FilterSpec) (agenda.FilterSpec, error) {
	if spec.ID == "" {
		spec.ID = uuid.NewString()
	}

	subFiltersJSON, err := json.Marshal(spec.SubFilterIDs)
	if err != nil {
		return agenda.FilterSpec{}, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO appointment_filters (id, name, kind, subject, activity_id, procedure_id, location_id, after_at, before_at, sub_filter_ids, unique_scope, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, spec.ID, spec.Name, string(spec.Kind), spec.Subject, spec.ActivityID, spec.ProcedureID, spec.LocationID,
		toNullTimePtr(spec.After), toNullTimePtr(spec.Before), subFiltersJSON, int(spec.UniqueScope), spec.Active)
	if err != nil {
		return agenda.FilterSpec{}, err
	}
	return spec, nil
}

func (s *Store) GetFilter(ctx context.Context, id string) (agenda.FilterSpec, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, kind, subject, activity_id, procedure_id, location_id, after_at, before_at, sub_filter_ids, unique_scope, active
		FROM appointment_filters
		WHERE id = $1
	`, id)
	return scanFilter(row)
}

func (s *Store) ListFilters(ctx context.Context) ([]agenda.FilterSpec, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, kind, subject, activity_id, procedure_id, location_id, after_at, before_at, sub_filter_ids, unique_scope, active
		FROM appointment_filters
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []agenda.FilterSpec
	for rows.Next() {
		spec, err := scanFilter(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, spec)
	}
	return result, rows.Err()
}

func scanFilter(row scanner) (agenda.FilterSpec, error) {
	var (
		spec          agenda.FilterSpec
		kind          string
		after         sql.NullTime
		before        sql.NullTime
		subFiltersRaw []byte
		uniqueScope   int
	)
	if err := row.Scan(&spec.ID, &spec.Name, &kind, &spec.Subject, &spec.ActivityID, &spec.ProcedureID, &spec.LocationID,
		&after, &before, &subFiltersRaw, &uniqueScope, &spec.Active); err != nil {
		return agenda.FilterSpec{}, notFound(err)
	}
	spec.Kind = agenda.FilterKind(kind)
	spec.After = fromNullTime(after)
	spec.Before = fromNullTime(before)
	spec.UniqueScope = agenda.UniquenessScope(uniqueScope)
	if len(subFiltersRaw) > 0 {
		_ = json.Unmarshal(subFiltersRaw, &spec.SubFilterIDs)
	}
	return spec, nil
}

// --- helpers ----------------------------------------------------------------

func toNullTimePtr(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
