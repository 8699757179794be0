package token

import (
	"testing"
	"time"
)

var base = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func TestSortNewestFirst(t *testing.T) {
	tokens := []Token{
		{ID: "t-follow", RoundOrder: 20, CreatedAt: base},
		{ID: "t-old", RoundOrder: 10, CreatedAt: base},
		{ID: "t-new", RoundOrder: 10, CreatedAt: base.Add(time.Hour)},
	}

	sorted := SortNewestFirst(tokens)
	want := []string{"t-new", "t-old", "t-follow"}
	for i, id := range want {
		if sorted[i].ID != id {
			t.Fatalf("position %d: want %s, got %s", i, id, sorted[i].ID)
		}
	}
	if tokens[0].ID != "t-follow" {
		t.Fatal("input slice must not be mutated")
	}
}

func TestSortNewestFirstBreaksCreationTies(t *testing.T) {
	tokens := []Token{
		{ID: "t-a", RoundOrder: 10, CreatedAt: base},
		{ID: "t-b", RoundOrder: 10, CreatedAt: base},
	}

	sorted := SortNewestFirst(tokens)
	if sorted[0].ID != "t-b" || sorted[1].ID != "t-a" {
		t.Fatalf("tie should break on higher id first, got %s then %s", sorted[0].ID, sorted[1].ID)
	}
}

func TestChainTail(t *testing.T) {
	tokens := []Token{
		{ID: "t-head", RoundOrder: 10, CreatedAt: base, NextID: "t-tail"},
		{ID: "t-tail", RoundOrder: 10, CreatedAt: base.Add(time.Hour), PreviousID: "t-head"},
		{ID: "t-other", RoundOrder: 20, CreatedAt: base.Add(2 * time.Hour)},
	}

	tail := ChainTail(tokens, 10)
	if tail == nil || tail.ID != "t-tail" {
		t.Fatalf("expected t-tail, got %+v", tail)
	}
	if ChainTail(tokens, 30) != nil {
		t.Fatal("expected nil for round without tokens")
	}
}

func TestChainWalk(t *testing.T) {
	arena := ByID([]Token{
		{ID: "t-1", NextID: "t-2"},
		{ID: "t-2", PreviousID: "t-1", NextID: "t-3"},
		{ID: "t-3", PreviousID: "t-2"},
	})

	chain := Chain(arena, "t-1")
	if len(chain) != 3 || chain[2].ID != "t-3" {
		t.Fatalf("unexpected chain: %+v", chain)
	}
}

func TestChainBoundedOnCycle(t *testing.T) {
	arena := ByID([]Token{
		{ID: "t-1", NextID: "t-2"},
		{ID: "t-2", NextID: "t-1"},
	})

	chain := Chain(arena, "t-1")
	if len(chain) > len(arena)+1 {
		t.Fatalf("cycle traversal not bounded: %d entries", len(chain))
	}
}

func TestCompletedAndAdHoc(t *testing.T) {
	now := base
	tok := Token{ID: "t-1", RoundSpecID: "spec-1"}
	if tok.Completed() || tok.AdHoc() {
		t.Fatalf("fresh spec token misclassified: %+v", tok)
	}
	tok.CompletedAt = &now
	tok.RoundSpecID = ""
	if !tok.Completed() || !tok.AdHoc() {
		t.Fatalf("completed ad-hoc token misclassified: %+v", tok)
	}
}
