// Package httpapi exposes the engine over a JSON REST surface. Handlers are
// thin wrappers over the application services; all semantics live below.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/CareTrack-Labs/track_engine/internal/app"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/agenda"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	"github.com/CareTrack-Labs/track_engine/internal/app/metrics"
	"github.com/CareTrack-Labs/track_engine/internal/app/services/batch"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
}

// NewHandler returns a router exposing the core REST API.
func NewHandler(application *app.Application) http.Handler {
	h := &handler{app: application}
	r := mux.NewRouter()

	r.HandleFunc("/tracks", h.createTrack).Methods(http.MethodPost)
	r.HandleFunc("/tracks", h.listTracks).Methods(http.MethodGet)
	r.HandleFunc("/tracks/{id}", h.getTrack).Methods(http.MethodGet)
	r.HandleFunc("/tracks/{id}/rounds", h.addRound).Methods(http.MethodPost)
	r.HandleFunc("/tracks/{id}/rounds/{roundId}", h.updateRound).Methods(http.MethodPatch)
	r.HandleFunc("/tracks/{id}/fields", h.addField).Methods(http.MethodPost)

	r.HandleFunc("/respondent-tracks", h.assignTrack).Methods(http.MethodPost)
	r.HandleFunc("/respondent-tracks/{id}", h.getRespondentTrack).Methods(http.MethodGet)
	r.HandleFunc("/respondent-tracks/{id}/reconcile", h.reconcile).Methods(http.MethodPost)
	r.HandleFunc("/respondent-tracks/{id}/recalc-fields", h.recalcFields).Methods(http.MethodPost)
	r.HandleFunc("/respondent-tracks/{id}/reception-code", h.codeRespondentTrack).Methods(http.MethodPost)
	r.HandleFunc("/respondent-tracks/{id}/insert", h.insertToken).Methods(http.MethodPost)

	r.HandleFunc("/tokens/{id}/reception-code", h.codeToken).Methods(http.MethodPost)
	r.HandleFunc("/tokens/{id}/completed", h.completeToken).Methods(http.MethodPost)

	r.HandleFunc("/appointments", h.addAppointment).Methods(http.MethodPost)

	r.HandleFunc("/batch/check-rounds", h.batchCheckRounds).Methods(http.MethodPost)
	r.HandleFunc("/batch/recalc-fields", h.batchRecalcFields).Methods(http.MethodPost)
	r.HandleFunc("/batch/{jobId}", h.batchState).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", h.healthz).Methods(http.MethodGet)

	return r
}

// --- track maintenance ------------------------------------------------------

func (h *handler) createTrack(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	trk, err := h.app.Tracks.CreateTrack(r.Context(), payload.Code, payload.Name)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, trk)
}

func (h *handler) listTracks(w http.ResponseWriter, r *http.Request) {
	trks, err := h.app.Tracks.ListTracks(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trks)
}

func (h *handler) getTrack(w http.ResponseWriter, r *http.Request) {
	trk, err := h.app.Tracks.GetTrack(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, trk)
}

type roundPayload struct {
	Order           int    `json:"order"`
	SurveyID        string `json:"survey_id"`
	Description     string `json:"description"`
	ValidFromSource string `json:"valid_from_source"`
	ValidFromOffset int    `json:"valid_from_offset_days"`
	ValidFromField  string `json:"valid_from_field"`
	ValidUntilSrc   string `json:"valid_until_source"`
	ValidUntilDays  int    `json:"valid_until_offset_days"`
	Active          *bool  `json:"active"`
}

func (p roundPayload) spec(trackID, id string) track.RoundSpec {
	spec := track.RoundSpec{
		ID:          id,
		TrackID:     trackID,
		Order:       p.Order,
		SurveyID:    p.SurveyID,
		Description: p.Description,
		ValidFrom: track.ValidFromRule{
			Source:     track.ValidFromSource(p.ValidFromSource),
			OffsetDays: p.ValidFromOffset,
			FieldKey:   p.ValidFromField,
		},
		ValidUntil: track.ValidUntilRule{
			Source:     track.ValidUntilSource(p.ValidUntilSrc),
			OffsetDays: p.ValidUntilDays,
		},
		Active: true,
	}
	if p.Active != nil {
		spec.Active = *p.Active
	}
	return spec
}

func (h *handler) addRound(w http.ResponseWriter, r *http.Request) {
	var payload roundPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spec, err := h.app.Tracks.AddRound(r.Context(), payload.spec(mux.Vars(r)["id"], ""))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

func (h *handler) updateRound(w http.ResponseWriter, r *http.Request) {
	var payload roundPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	vars := mux.Vars(r)
	spec, err := h.app.Tracks.UpdateRound(r.Context(), payload.spec(vars["id"], vars["roundId"]))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (h *handler) addField(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Key      string `json:"key"`
		Source   string `json:"source"`
		FilterID string `json:"filter_id"`
		Required bool   `json:"required"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	spec, err := h.app.Tracks.AddField(r.Context(), track.FieldSpec{
		TrackID:  mux.Vars(r)["id"],
		Key:      payload.Key,
		Source:   track.FieldSource(payload.Source),
		FilterID: payload.FilterID,
		Required: payload.Required,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, spec)
}

// --- respondent tracks ------------------------------------------------------

func (h *handler) assignTrack(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		TrackID      string            `json:"track_id"`
		RespondentID string            `json:"respondent_id"`
		StartDate    time.Time         `json:"start_date"`
		Fields       map[string]string `json:"fields"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Tracks.Assign(r.Context(), payload.TrackID, payload.RespondentID, payload.StartDate, payload.Fields)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"respondent_track": result.RespondentTrack,
		"tokens":           result.Tokens,
		"warnings":         result.Reconcile.WarningStrings(),
	})
}

func (h *handler) getRespondentTrack(w http.ResponseWriter, r *http.Request) {
	rt, tokens, err := h.app.Tracks.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"respondent_track": rt,
		"tokens":           tokens,
	})
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Reconcile.Reconcile(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created":  result.Created,
		"updated":  result.Updated,
		"removed":  result.Removed,
		"warnings": result.WarningStrings(),
	})
}

func (h *handler) recalcFields(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Fields.Recalculate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"fields_changed": result.FieldsChanged,
		"created":        result.Reconcile.Created,
		"updated":        result.Reconcile.Updated,
		"removed":        result.Reconcile.Removed,
		"warnings":       result.Reconcile.WarningStrings(),
	})
}

func (h *handler) codeRespondentTrack(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code    string `json:"code"`
		ActorID string `json:"actor_id"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Cascade.ApplyToRespondentTrack(r.Context(), mux.Vars(r)["id"], payload.Code, payload.ActorID, payload.Comment)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed":         result.Changed,
		"tokens_affected": result.TokensAffected,
		"warnings":        result.Reconcile.WarningStrings(),
	})
}

func (h *handler) insertToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		SurveyID    string     `json:"survey_id"`
		Description string     `json:"description"`
		ValidFrom   *time.Time `json:"valid_from"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := h.app.Reconcile.InsertToken(r.Context(), mux.Vars(r)["id"], payload.SurveyID, payload.Description, payload.ValidFrom)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, tok)
}

// --- tokens -----------------------------------------------------------------

func (h *handler) codeToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Code    string `json:"code"`
		ActorID string `json:"actor_id"`
		Comment string `json:"comment"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.app.Cascade.ApplyToToken(r.Context(), mux.Vars(r)["id"], payload.Code, payload.ActorID, payload.Comment)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"changed":              result.Changed,
		"replacement_token_id": result.ReplacementTokenID,
		"warnings":             result.Reconcile.WarningStrings(),
	})
}

func (h *handler) completeToken(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CompletedAt time.Time `json:"completed_at"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := h.app.Tracks.CompleteToken(r.Context(), mux.Vars(r)["id"], payload.CompletedAt)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tok)
}

// --- appointments -----------------------------------------------------------

func (h *handler) addAppointment(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RespondentID string    `json:"respondent_id"`
		Subject      string    `json:"subject"`
		ActivityID   string    `json:"activity_id"`
		ProcedureID  string    `json:"procedure_id"`
		LocationID   string    `json:"location_id"`
		StartsAt     time.Time `json:"starts_at"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	appt, err := h.app.Tracks.RegisterAppointment(r.Context(), agenda.Appointment{
		RespondentID: payload.RespondentID,
		Subject:      payload.Subject,
		ActivityID:   payload.ActivityID,
		ProcedureID:  payload.ProcedureID,
		LocationID:   payload.LocationID,
		StartsAt:     payload.StartsAt,
		Active:       true,
	})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

// --- batch ------------------------------------------------------------------

func (h *handler) batchCheckRounds(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, h.app.Batch.CheckRounds)
}

func (h *handler) batchRecalcFields(w http.ResponseWriter, r *http.Request) {
	h.runBatch(w, r, h.app.Batch.RecalculateFields)
}

func (h *handler) runBatch(w http.ResponseWriter, r *http.Request, run func(ctx context.Context, jobID, trackID string, progress batch.Progress) (batch.State, error)) {
	var payload struct {
		JobID   string `json:"job_id"`
		TrackID string `json:"track_id"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.JobID == "" {
		writeError(w, http.StatusBadRequest, errors.New("job_id required"))
		return
	}
	state, err := run(r.Context(), payload.JobID, payload.TrackID, batch.NopProgress{})
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) batchState(w http.ResponseWriter, r *http.Request) {
	state, err := h.app.Batch.State(r.Context(), mux.Vars(r)["jobId"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- helpers ----------------------------------------------------------------

func statusFor(err error) int {
	var unknown reception.UnknownCodeError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &unknown):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
