package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/reception"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/respondent"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
	"github.com/CareTrack-Labs/track_engine/internal/app/domain/track"
	"github.com/CareTrack-Labs/track_engine/internal/app/storage"
)

func seed(t *testing.T, store *Store) (track.Track, respondent.Track) {
	t.Helper()
	ctx := context.Background()

	trk, err := store.CreateTrack(ctx, track.Track{Code: "care", Name: "Care path", Active: true})
	if err != nil {
		t.Fatalf("create track: %v", err)
	}
	rt, err := store.CreateRespondentTrack(ctx, respondent.Track{
		TrackID:      trk.ID,
		RespondentID: "resp-1",
		StartDate:    time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("create respondent track: %v", err)
	}
	return trk, rt
}

func TestTrackCRUD(t *testing.T) {
	store := New()
	ctx := context.Background()
	trk, _ := seed(t, store)

	got, err := store.GetTrack(ctx, trk.ID)
	if err != nil {
		t.Fatalf("get track: %v", err)
	}
	if got.Code != "care" {
		t.Fatalf("unexpected track: %+v", got)
	}

	got.Name = "Renamed"
	updated, err := store.UpdateTrack(ctx, got)
	if err != nil {
		t.Fatalf("update track: %v", err)
	}
	if updated.Name != "Renamed" || updated.CreatedAt != got.CreatedAt {
		t.Fatalf("update lost fields: %+v", updated)
	}

	if _, err := store.GetTrack(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.UpdateTrack(ctx, track.Track{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func TestRoundSpecRequiresTrack(t *testing.T) {
	store := New()
	_, err := store.CreateRoundSpec(context.Background(), track.RoundSpec{TrackID: "missing", Order: 10})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateRoundSpecPreservesTrackBinding(t *testing.T) {
	store := New()
	ctx := context.Background()
	trk, _ := seed(t, store)

	spec, err := store.CreateRoundSpec(ctx, track.RoundSpec{TrackID: trk.ID, Order: 10, SurveyID: "intake", Active: true})
	if err != nil {
		t.Fatalf("create round spec: %v", err)
	}

	spec.TrackID = "hijacked"
	spec.SurveyID = "changed"
	updated, err := store.UpdateRoundSpec(ctx, spec)
	if err != nil {
		t.Fatalf("update round spec: %v", err)
	}
	if updated.TrackID != trk.ID {
		t.Fatalf("track binding not preserved: %+v", updated)
	}
	if updated.SurveyID != "changed" {
		t.Fatalf("mutable field not updated: %+v", updated)
	}
}

func TestListRespondentTracksOrderedByID(t *testing.T) {
	store := New()
	ctx := context.Background()
	trk, _ := seed(t, store)

	for _, id := range []string{"rt-c", "rt-a", "rt-b"} {
		if _, err := store.CreateRespondentTrack(ctx, respondent.Track{
			ID:           id,
			TrackID:      trk.ID,
			RespondentID: "resp-2",
			StartDate:    time.Now().UTC(),
		}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	rts, err := store.ListRespondentTracks(ctx, trk.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var prev string
	for _, rt := range rts {
		if rt.ID < prev {
			t.Fatalf("list not ordered by id: %v then %v", prev, rt.ID)
		}
		prev = rt.ID
	}
}

func TestFieldsAreIsolatedFromCallers(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, rt := seed(t, store)

	fields := map[string]string{"surgery": "appt-1"}
	if err := store.SaveRespondentTrackFields(ctx, rt.ID, fields); err != nil {
		t.Fatalf("save fields: %v", err)
	}
	fields["surgery"] = "mutated"

	got, err := store.GetRespondentTrack(ctx, rt.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Field("surgery") != "appt-1" {
		t.Fatalf("stored fields shared with caller map: %+v", got.Fields)
	}

	got.Fields["surgery"] = "mutated-again"
	again, _ := store.GetRespondentTrack(ctx, rt.ID)
	if again.Field("surgery") != "appt-1" {
		t.Fatalf("returned fields alias the stored map: %+v", again.Fields)
	}
}

func TestListTokensNewestFirstWithinRound(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, rt := seed(t, store)

	seedToken := func(id string, order int, created time.Time) {
		t.Helper()
		if _, err := store.CreateToken(ctx, token.Token{ID: id, RespondentTrackID: rt.ID, RoundOrder: order, SurveyID: "s"}); err != nil {
			t.Fatalf("create token %s: %v", id, err)
		}
		tok, _ := store.GetToken(ctx, id)
		tok.CreatedAt = created
		store.mu.Lock()
		store.tokens[id] = tok
		store.mu.Unlock()
	}

	base := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	seedToken("t-old", 10, base)
	seedToken("t-new", 10, base.Add(time.Hour))
	seedToken("t-follow", 20, base)

	tokens, err := store.ListTokens(ctx, rt.ID)
	if err != nil {
		t.Fatalf("list tokens: %v", err)
	}
	want := []string{"t-new", "t-old", "t-follow"}
	for i, id := range want {
		if tokens[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, tokens[i].ID)
		}
	}
}

func TestDeleteToken(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, rt := seed(t, store)

	tok, err := store.CreateToken(ctx, token.Token{RespondentTrackID: rt.ID, RoundOrder: 10, SurveyID: "s"})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if err := store.DeleteToken(ctx, tok.ID); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if err := store.DeleteToken(ctx, tok.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCreateDefaultsReceptionCode(t *testing.T) {
	store := New()
	ctx := context.Background()
	_, rt := seed(t, store)

	if rt.ReceptionCode != reception.OK {
		t.Fatalf("expected OK reception code on new respondent track, got %q", rt.ReceptionCode)
	}

	tok, err := store.CreateToken(ctx, token.Token{RespondentTrackID: rt.ID, RoundOrder: 10, SurveyID: "s"})
	if err != nil {
		t.Fatalf("create token: %v", err)
	}
	if tok.ReceptionCode != reception.OK {
		t.Fatalf("expected OK reception code on new token, got %q", tok.ReceptionCode)
	}

	skipped, err := store.CreateToken(ctx, token.Token{RespondentTrackID: rt.ID, RoundOrder: 20, SurveyID: "s", ReceptionCode: "skipped"})
	if err != nil {
		t.Fatalf("create coded token: %v", err)
	}
	if skipped.ReceptionCode != "skipped" {
		t.Fatalf("explicit reception code must be kept, got %q", skipped.ReceptionCode)
	}
}

func TestCreateTokenRequiresRespondentTrack(t *testing.T) {
	store := New()
	_, err := store.CreateToken(context.Background(), token.Token{RespondentTrackID: "missing"})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
