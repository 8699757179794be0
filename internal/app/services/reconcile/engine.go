// Package reconcile implements the token reconciliation engine: it converges
// a respondent track's token set onto the owning track's current round
// specification, recomputing validity dates and emitting the minimal set of
// create/update/remove operations.
package reconcile

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/respondent"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	"github.com/CareTrack-Labs/track_engine/internal/app/metrics"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
	"github.com/CareTrack-Labs/track_engine/pkg/logger"
)

// Result summarizes one reconciliation run. Warnings carry the non-fatal
// resolution problems (unresolved schedules, specification conflicts).
type Result struct {
	Created  int
	Updated  int
	Removed  int
	Warnings []error
}

// Changed reports whether the run mutated anything.
func (r Result) Changed() bool { return r.Created+r.Updated+r.Removed > 0 }

// WarningStrings renders warnings for API responses and batch summaries.
func (r Result) WarningStrings() []string {
	if len(r.Warnings) == 0 {
		return nil
	}
	out := make([]string, len(r.Warnings))
	for i, w := range r.Warnings {
		out[i] = w.Error()
	}
	return out
}

// UnresolvedScheduleError marks a round whose validity-from anchor could not
// be computed. The round is left unscheduled; existing unanswered tokens keep
// a null validity-from.
type UnresolvedScheduleError struct {
	RoundSpecID string
	RoundOrder  int
	Reason      string
}

func (e UnresolvedScheduleError) Error() string {
	return fmt.Sprintf("round %d (spec %s) unscheduled: %s", e.RoundOrder, e.RoundSpecID, e.Reason)
}

// SpecConflictError marks two active round specifications claiming the same
// order key. The lower spec ID wins; the loser is skipped.
type SpecConflictError struct {
	RoundOrder int
	WinnerID   string
	LoserID    string
}

func (e SpecConflictError) Error() string {
	return fmt.Sprintf("duplicate round order %d: spec %s wins, spec %s skipped", e.RoundOrder, e.WinnerID, e.LoserID)
}

// Engine reconciles respondent-track token sets against round specifications.
// Runs for the same respondent track are serialized; different respondent
// tracks reconcile independently.
type Engine struct {
	tracks       storage.TrackStore
	respondents  storage.RespondentTrackStore
	tokens       storage.TokenStore
	appointments storage.AppointmentStore
	catalog      reception.Catalog
	log          *logger.Logger

	locks sync.Map // respondentTrackID -> *sync.Mutex
}

// New constructs a reconciliation engine.
func New(tracks storage.TrackStore, respondents storage.RespondentTrackStore, tokens storage.TokenStore, appointments storage.AppointmentStore, catalog reception.Catalog, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.NewDefault("reconcile")
	}
	if catalog == nil {
		catalog = reception.NewRegistry()
	}
	return &Engine{
		tracks:       tracks,
		respondents:  respondents,
		tokens:       tokens,
		appointments: appointments,
		catalog:      catalog,
		log:          log,
	}
}

// Reconcile converges the respondent track's tokens onto the current round
// specification. The operation is idempotent: a second run with unchanged
// inputs performs zero creates, updates and removes.
func (e *Engine) Reconcile(ctx context.Context, respondentTrackID string) (Result, error) {
	unlock := e.lock(respondentTrackID)
	defer unlock()

	var result Result

	rt, err := e.respondents.GetRespondentTrack(ctx, respondentTrackID)
	if err != nil {
		return result, fmt.Errorf("load respondent track %s: %w", respondentTrackID, err)
	}

	trackCode, err := e.catalog.Resolve(rt.ReceptionCode)
	if err != nil {
		return result, err
	}
	if !trackCode.Success {
		// A reception-coded-out track keeps its token history untouched;
		// restoring the track re-runs reconciliation.
		e.log.WithField("respondent_track_id", rt.ID).
			WithField("reception_code", rt.ReceptionCode).
			Debug("skipping reconciliation of inactive respondent track")
		return result, nil
	}

	// Specification data is fetched fresh each unit rather than cached
	// across units; track maintenance edits take effect on the next run.
	specs, err := e.tracks.ListRoundSpecs(ctx, rt.TrackID)
	if err != nil {
		return result, fmt.Errorf("load round specs for track %s: %w", rt.TrackID, err)
	}

	tokens, err := e.tokens.ListTokens(ctx, rt.ID)
	if err != nil {
		return result, fmt.Errorf("load tokens: %w", err)
	}

	activeSpecs := e.dedupeActive(specs, &result)

	bySpec := make(map[string][]token.Token)
	for _, tok := range tokens {
		if tok.RoundSpecID != "" {
			bySpec[tok.RoundSpecID] = append(bySpec[tok.RoundSpecID], tok)
		}
	}

	for _, spec := range activeSpecs {
		validFrom, unresolved := e.resolveValidFrom(ctx, rt, spec)
		if unresolved != nil {
			result.Warnings = append(result.Warnings, *unresolved)
		}
		var validUntil *time.Time
		if validFrom != nil {
			validUntil = spec.ValidUntil.ResolveValidUntil(*validFrom)
		}

		chain := bySpec[spec.ID]
		if len(chain) == 0 {
			if validFrom == nil {
				// Unscheduled round without history: nothing to create.
				continue
			}
			created := token.Token{
				ID:                uuid.NewString(),
				RespondentTrackID: rt.ID,
				RoundSpecID:       spec.ID,
				RoundOrder:        spec.Order,
				RoundDescription:  spec.Description,
				SurveyID:          spec.SurveyID,
				ValidFrom:         validFrom,
				ValidUntil:        validUntil,
				ReceptionCode:     reception.OK,
			}
			if _, err := e.tokens.CreateToken(ctx, created); err != nil {
				return result, fmt.Errorf("create token for round %d: %w", spec.Order, err)
			}
			result.Created++
			continue
		}

		// ListTokens is newest-first within a round, so the chain tail
		// leads. Answered tokens are never modified by reconciliation, and
		// a reception-coded-out tail belongs to the cascade processor.
		tail := chain[0]
		if tail.Completed() {
			continue
		}
		tailCode, err := e.catalog.Resolve(tail.ReceptionCode)
		if err != nil {
			result.Warnings = append(result.Warnings, err)
			continue
		}
		if !tailCode.Success {
			continue
		}
		if updated := e.applySpec(&tail, spec, validFrom, validUntil); updated {
			if _, err := e.tokens.UpdateToken(ctx, tail); err != nil {
				return result, fmt.Errorf("update token %s: %w", tail.ID, err)
			}
			result.Updated++
		}
	}

	if err := e.removeOrphans(ctx, tokens, activeSpecs, &result); err != nil {
		return result, err
	}

	metrics.ObserveReconciliation(result.Created, result.Updated, result.Removed, len(result.Warnings))
	if result.Changed() {
		e.log.WithField("respondent_track_id", rt.ID).
			WithField("created", result.Created).
			WithField("updated", result.Updated).
			WithField("removed", result.Removed).
			Info("respondent track reconciled")
	}
	return result, nil
}

// InsertToken adds an ad-hoc survey token outside the round specification.
// Inserted tokens carry no round spec reference and are never touched by
// reconciliation.
func (e *Engine) InsertToken(ctx context.Context, respondentTrackID, surveyID, description string, validFrom *time.Time) (token.Token, error) {
	unlock := e.lock(respondentTrackID)
	defer unlock()

	if surveyID == "" {
		return token.Token{}, fmt.Errorf("survey_id is required")
	}
	rt, err := e.respondents.GetRespondentTrack(ctx, respondentTrackID)
	if err != nil {
		return token.Token{}, fmt.Errorf("load respondent track %s: %w", respondentTrackID, err)
	}
	tokens, err := e.tokens.ListTokens(ctx, rt.ID)
	if err != nil {
		return token.Token{}, fmt.Errorf("load tokens: %w", err)
	}

	order := 0
	for _, tok := range tokens {
		if tok.RoundOrder > order {
			order = tok.RoundOrder
		}
	}
	order += 10

	inserted := token.Token{
		ID:                uuid.NewString(),
		RespondentTrackID: rt.ID,
		RoundOrder:        order,
		RoundDescription:  description,
		SurveyID:          surveyID,
		ValidFrom:         validFrom,
		ReceptionCode:     reception.OK,
	}
	inserted, err = e.tokens.CreateToken(ctx, inserted)
	if err != nil {
		return token.Token{}, err
	}
	e.log.WithField("respondent_track_id", rt.ID).
		WithField("token_id", inserted.ID).
		WithField("survey_id", surveyID).
		Info("ad-hoc token inserted")
	return inserted, nil
}

// Overdue lists the respondent track's active unanswered tokens whose
// validity window has closed. Unscheduled tokens (null validity-from) are
// excluded.
func (e *Engine) Overdue(ctx context.Context, respondentTrackID string, now time.Time) ([]token.Token, error) {
	tokens, err := e.tokens.ListTokens(ctx, respondentTrackID)
	if err != nil {
		return nil, fmt.Errorf("load tokens: %w", err)
	}

	var overdue []token.Token
	for _, tok := range tokens {
		if tok.Completed() || tok.ValidFrom == nil || tok.ValidUntil == nil {
			continue
		}
		code, err := e.catalog.Resolve(tok.ReceptionCode)
		if err != nil || !code.Success {
			continue
		}
		if tok.ValidUntil.Before(now) {
			overdue = append(overdue, tok)
		}
	}
	return overdue, nil
}

// dedupeActive filters the active specs and resolves order-key collisions:
// the spec with the lower ID wins, the loser is reported and skipped. A
// skipped loser no longer covers its tokens, so an unanswered success-coded
// token it created is removed like any other orphan; only one token per
// round order stays active.
func (e *Engine) dedupeActive(specs []track.RoundSpec, result *Result) []track.RoundSpec {
	sorted := track.SortRounds(specs)
	var active []track.RoundSpec
	seen := make(map[int]string)
	for _, spec := range sorted {
		if !spec.Active {
			continue
		}
		if winner, dup := seen[spec.Order]; dup {
			result.Warnings = append(result.Warnings, SpecConflictError{
				RoundOrder: spec.Order,
				WinnerID:   winner,
				LoserID:    spec.ID,
			})
			continue
		}
		seen[spec.Order] = spec.ID
		active = append(active, spec)
	}
	return active
}

// resolveValidFrom evaluates the round's validity-from rule. A nil time with
// a non-nil UnresolvedScheduleError means the round is unscheduled.
func (e *Engine) resolveValidFrom(ctx context.Context, rt respondent.Track, spec track.RoundSpec) (*time.Time, *UnresolvedScheduleError) {
	switch spec.ValidFrom.Source {
	case track.FromTrackStart:
		if rt.StartDate.IsZero() {
			return nil, &UnresolvedScheduleError{RoundSpecID: spec.ID, RoundOrder: spec.Order, Reason: "respondent track has no start date"}
		}
		from := rt.StartDate.AddDate(0, 0, spec.ValidFrom.OffsetDays)
		return &from, nil

	case track.FromAppointment:
		apptID := rt.Field(spec.ValidFrom.FieldKey)
		if apptID == "" {
			return nil, &UnresolvedScheduleError{RoundSpecID: spec.ID, RoundOrder: spec.Order, Reason: fmt.Sprintf("field %q has no appointment", spec.ValidFrom.FieldKey)}
		}
		appt, err := e.appointments.GetAppointment(ctx, apptID)
		if err != nil {
			return nil, &UnresolvedScheduleError{RoundSpecID: spec.ID, RoundOrder: spec.Order, Reason: fmt.Sprintf("appointment %s: %v", apptID, err)}
		}
		if !appt.Active {
			return nil, &UnresolvedScheduleError{RoundSpecID: spec.ID, RoundOrder: spec.Order, Reason: fmt.Sprintf("appointment %s is inactive", apptID)}
		}
		from := appt.StartsAt.AddDate(0, 0, spec.ValidFrom.OffsetDays)
		return &from, nil

	default:
		return nil, &UnresolvedScheduleError{RoundSpecID: spec.ID, RoundOrder: spec.Order, Reason: fmt.Sprintf("unsupported validity source %q", spec.ValidFrom.Source)}
	}
}

// applySpec copies the spec-derived attributes onto an unanswered token,
// returning true when anything actually changed. The dirty check keeps
// repeated runs from producing audit churn.
func (e *Engine) applySpec(tok *token.Token, spec track.RoundSpec, validFrom, validUntil *time.Time) bool {
	changed := false
	if tok.RoundOrder != spec.Order {
		tok.RoundOrder = spec.Order
		changed = true
	}
	if tok.RoundDescription != spec.Description {
		tok.RoundDescription = spec.Description
		changed = true
	}
	if tok.SurveyID != spec.SurveyID {
		tok.SurveyID = spec.SurveyID
		changed = true
	}
	if !timesEqual(tok.ValidFrom, validFrom) {
		tok.ValidFrom = validFrom
		changed = true
	}
	if !timesEqual(tok.ValidUntil, validUntil) {
		tok.ValidUntil = validUntil
		changed = true
	}
	return changed
}

// removeOrphans physically deletes tokens that were never started and whose
// round specification is gone or inactive. Completed tokens are always
// retained for the audit trail; reception-coded tokens stay as chain history.
func (e *Engine) removeOrphans(ctx context.Context, tokens []token.Token, activeSpecs []track.RoundSpec, result *Result) error {
	activeByID := make(map[string]bool, len(activeSpecs))
	for _, spec := range activeSpecs {
		activeByID[spec.ID] = true
	}

	for _, tok := range tokens {
		if tok.AdHoc() || activeByID[tok.RoundSpecID] {
			continue
		}
		if tok.Completed() {
			continue
		}
		code, err := e.catalog.Resolve(tok.ReceptionCode)
		if err != nil {
			result.Warnings = append(result.Warnings, err)
			continue
		}
		if !code.Success {
			continue
		}
		if err := e.tokens.DeleteToken(ctx, tok.ID); err != nil {
			return fmt.Errorf("remove token %s: %w", tok.ID, err)
		}
		result.Removed++
	}
	return nil
}

func (e *Engine) lock(respondentTrackID string) func() {
	v, _ := e.locks.LoadOrStore(respondentTrackID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func timesEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
