package reconcile

import (
	"context"
	"testing"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage/memory"
	"github.com/CareTrack-Labs/track_engine/pkg/testutil"
)

func newEngine(store *memory.Store) *Engine {
	return New(store, store, store, store, reception.NewRegistry(), nil)
}

func TestReconcile_CreatesTokensForRounds(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	testutil.SeedRound(t, store, trk.ID, 20, 14, "followup")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Created != 2 || result.Updated != 0 || result.Removed != 0 {
		t.Fatalf("unexpected result: %+v", result)
	}

	tokens, err := store.ListTokens(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	if len(tokens) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(tokens))
	}
	first := tokens[0]
	if first.RoundOrder != 10 || first.SurveyID != "intake" {
		t.Fatalf("unexpected first token: %+v", first)
	}
	if first.ValidFrom == nil || !first.ValidFrom.Equal(testutil.Day) {
		t.Fatalf("expected valid-from at track start, got %v", first.ValidFrom)
	}
	second := tokens[1]
	if second.ValidFrom == nil || !second.ValidFrom.Equal(testutil.Day.AddDate(0, 0, 14)) {
		t.Fatalf("expected valid-from offset by 14 days, got %v", second.ValidFrom)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if result.Changed() {
		t.Fatalf("expected no-op second run, got %+v", result)
	}
}

func TestReconcile_NewRoundOnExistingTrack(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	testutil.SeedRound(t, store, trk.ID, 20, 30, "followup")
	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile after new round: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected exactly one new token, got %+v", result)
	}
}

func TestReconcile_UpdatesUnansweredOnSpecChange(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	spec := testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	spec.ValidFrom.OffsetDays = 7
	if _, err := store.UpdateRoundSpec(context.Background(), spec); err != nil {
		t.Fatalf("update spec: %v", err)
	}

	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile after edit: %v", err)
	}
	if result.Updated != 1 || result.Created != 0 {
		t.Fatalf("expected one update, got %+v", result)
	}

	tokens, _ := store.ListTokens(context.Background(), rt.ID)
	if !tokens[0].ValidFrom.Equal(testutil.Day.AddDate(0, 0, 7)) {
		t.Fatalf("expected shifted valid-from, got %v", tokens[0].ValidFrom)
	}
}

func TestReconcile_CompletedTokenNeverModified(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	spec := testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	tokens, _ := store.ListTokens(context.Background(), rt.ID)
	tok := tokens[0]
	completedAt := testutil.Day.AddDate(0, 0, 1)
	tok.CompletedAt = &completedAt
	if _, err := store.UpdateToken(context.Background(), tok); err != nil {
		t.Fatalf("complete token: %v", err)
	}

	spec.ValidFrom.OffsetDays = 7
	spec.Description = "changed"
	if _, err := store.UpdateRoundSpec(context.Background(), spec); err != nil {
		t.Fatalf("update spec: %v", err)
	}

	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Changed() {
		t.Fatalf("expected answered token untouched, got %+v", result)
	}

	tokens, _ = store.ListTokens(context.Background(), rt.ID)
	if tokens[0].ValidFrom == nil || !tokens[0].ValidFrom.Equal(testutil.Day) {
		t.Fatalf("completed token validity changed: %v", tokens[0].ValidFrom)
	}
}

func TestReconcile_AppointmentAnchoredRound(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	testutil.SeedAppointmentRound(t, store, trk.ID, 10, 3, "post-op", "surgery")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)

	// No appointment bound yet: round stays unscheduled with a warning.
	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Created != 0 || len(result.Warnings) != 1 {
		t.Fatalf("expected unscheduled warning, got %+v", result)
	}
	if _, ok := result.Warnings[0].(UnresolvedScheduleError); !ok {
		t.Fatalf("expected UnresolvedScheduleError, got %T", result.Warnings[0])
	}

	appt := testutil.SeedAppointment(t, store, "resp-1", "surgery", testutil.Day.AddDate(0, 0, 10))
	if err := store.SaveRespondentTrackFields(context.Background(), rt.ID, map[string]string{"surgery": appt.ID}); err != nil {
		t.Fatalf("bind appointment: %v", err)
	}

	result, err = engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile after binding: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected token creation, got %+v", result)
	}

	tokens, _ := store.ListTokens(context.Background(), rt.ID)
	want := appt.StartsAt.AddDate(0, 0, 3)
	if tokens[0].ValidFrom == nil || !tokens[0].ValidFrom.Equal(want) {
		t.Fatalf("expected valid-from %v, got %v", want, tokens[0].ValidFrom)
	}

	// The appointment moves: the unanswered token follows.
	appt.StartsAt = appt.StartsAt.AddDate(0, 0, 5)
	if _, err := store.UpdateAppointment(context.Background(), appt); err != nil {
		t.Fatalf("move appointment: %v", err)
	}
	result, err = engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile after move: %v", err)
	}
	if result.Updated != 1 {
		t.Fatalf("expected token update, got %+v", result)
	}
}

func TestReconcile_SpecConflictLowerIDWins(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	a := testutil.SeedRound(t, store, trk.ID, 10, 0, "a")
	b := testutil.SeedRound(t, store, trk.ID, 10, 5, "b")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Created != 1 {
		t.Fatalf("expected one token for the colliding order, got %+v", result)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("expected conflict warning, got %v", result.Warnings)
	}
	conflict, ok := result.Warnings[0].(SpecConflictError)
	if !ok {
		t.Fatalf("expected SpecConflictError, got %T", result.Warnings[0])
	}
	winner, loser := a.ID, b.ID
	if loser < winner {
		winner, loser = loser, winner
	}
	if conflict.WinnerID != winner || conflict.LoserID != loser {
		t.Fatalf("unexpected conflict resolution: %+v", conflict)
	}
}

func TestReconcile_RemovesUnstartedOrphans(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	spec := testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	spec.Active = false
	if _, err := store.UpdateRoundSpec(context.Background(), spec); err != nil {
		t.Fatalf("deactivate spec: %v", err)
	}

	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Removed != 1 {
		t.Fatalf("expected orphan removal, got %+v", result)
	}
	tokens, _ := store.ListTokens(context.Background(), rt.ID)
	if len(tokens) != 0 {
		t.Fatalf("expected empty token set, got %d", len(tokens))
	}
}

func TestReconcile_KeepsAnsweredOrphans(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	spec := testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	tokens, _ := store.ListTokens(context.Background(), rt.ID)
	tok := tokens[0]
	completedAt := testutil.Day.AddDate(0, 0, 1)
	tok.CompletedAt = &completedAt
	if _, err := store.UpdateToken(context.Background(), tok); err != nil {
		t.Fatalf("complete token: %v", err)
	}

	spec.Active = false
	if _, err := store.UpdateRoundSpec(context.Background(), spec); err != nil {
		t.Fatalf("deactivate spec: %v", err)
	}

	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Removed != 0 {
		t.Fatalf("answered token must be retained, got %+v", result)
	}
	tokens, _ = store.ListTokens(context.Background(), rt.ID)
	if len(tokens) != 1 {
		t.Fatalf("expected answered token kept, got %d", len(tokens))
	}
}

func TestReconcile_SkipsInactiveRespondentTrack(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	rt.ReceptionCode = "stopped"
	if _, err := store.UpdateRespondentTrack(context.Background(), rt); err != nil {
		t.Fatalf("stop track: %v", err)
	}

	engine := newEngine(store)
	result, err := engine.Reconcile(context.Background(), rt.ID)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if result.Changed() {
		t.Fatalf("stopped track must not be reconciled, got %+v", result)
	}
	tokens, _ := store.ListTokens(context.Background(), rt.ID)
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens, got %d", len(tokens))
	}
}

func TestInsertToken_AdHoc(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	spec := testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	validFrom := testutil.Day.AddDate(0, 0, 2)
	inserted, err := engine.InsertToken(context.Background(), rt.ID, "extra", "ad-hoc extra survey", &validFrom)
	if err != nil {
		t.Fatalf("insert token: %v", err)
	}
	if !inserted.AdHoc() {
		t.Fatalf("inserted token must be ad-hoc: %+v", inserted)
	}
	if inserted.RoundOrder != 20 {
		t.Fatalf("expected order after last round, got %d", inserted.RoundOrder)
	}

	// Deactivating the round spec must never touch the inserted token.
	spec.Active = false
	if _, err := store.UpdateRoundSpec(context.Background(), spec); err != nil {
		t.Fatalf("deactivate spec: %v", err)
	}
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if _, err := store.GetToken(context.Background(), inserted.ID); err != nil {
		t.Fatalf("ad-hoc token must survive reconciliation: %v", err)
	}
}

func TestOverdue(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	spec := testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	spec.ValidUntil = track.ValidUntilRule{Source: track.AfterValidFrom, OffsetDays: 7}
	if _, err := store.UpdateRoundSpec(context.Background(), spec); err != nil {
		t.Fatalf("set expiry: %v", err)
	}
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	if _, err := engine.Reconcile(context.Background(), rt.ID); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	overdue, err := engine.Overdue(context.Background(), rt.ID, testutil.Day.AddDate(0, 0, 3))
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 0 {
		t.Fatalf("token inside window reported overdue")
	}

	overdue, err = engine.Overdue(context.Background(), rt.ID, testutil.Day.AddDate(0, 0, 8))
	if err != nil {
		t.Fatalf("overdue: %v", err)
	}
	if len(overdue) != 1 {
		t.Fatalf("expected one overdue token, got %d", len(overdue))
	}
}

func TestReconcile_ConcurrentSameTrack(t *testing.T) {
	store := memory.New()
	trk := testutil.SeedTrack(t, store, "care")
	testutil.SeedRound(t, store, trk.ID, 10, 0, "intake")
	rt := testutil.SeedRespondentTrack(t, store, trk.ID, "resp-1")

	engine := newEngine(store)
	done := make(chan error, 4)
	for i := 0; i < 4; i++ {
		go func() {
			_, err := engine.Reconcile(context.Background(), rt.ID)
			done <- err
		}()
	}
	for i := 0; i < 4; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent reconcile: %v", err)
		}
	}

	tokens, _ := store.ListTokens(context.Background(), rt.ID)
	if len(tokens) != 1 {
		t.Fatalf("serialized runs must create exactly one token, got %d", len(tokens))
	}
}
