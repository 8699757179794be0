// Package token defines survey tokens and their redo chains. Tokens at the
// same round order form a chronological chain linked by NextID/PreviousID;
// only the chain tail may carry a success reception code.
package token

import (
	"sort"
	"time"
)

// Token is one concrete survey instance belonging to a respondent track.
// The ID is opaque and stable once created. RoundSpecID is empty for ad-hoc
// inserted rounds that are not part of the track specification.
type Token struct {
	ID                string
	RespondentTrackID string
	RoundSpecID       string
	RoundOrder        int
	RoundDescription  string
	SurveyID          string
	ValidFrom         *time.Time
	ValidUntil        *time.Time
	CompletedAt       *time.Time
	ReceptionCode     string
	NextID            string
	PreviousID        string
	ExternalAnswers   bool
	Comment           string
	ChangedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Completed reports whether the token has been answered.
func (t Token) Completed() bool { return t.CompletedAt != nil }

// AdHoc reports whether the token was inserted manually rather than created
// from a round specification.
func (t Token) AdHoc() bool { return t.RoundSpecID == "" }

// SortNewestFirst orders tokens by round order ascending, and within one
// round newest-first, which puts each redo chain's most recent token first.
func SortNewestFirst(tokens []Token) []Token {
	sorted := append([]Token(nil), tokens...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].RoundOrder != sorted[j].RoundOrder {
			return sorted[i].RoundOrder < sorted[j].RoundOrder
		}
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
		}
		return sorted[i].ID > sorted[j].ID
	})
	return sorted
}

// ChainTail returns the newest token at the given round order, or nil when
// the round has no tokens. The tail is the only token of a chain that may be
// active.
func ChainTail(tokens []Token, order int) *Token {
	var tail *Token
	for i := range tokens {
		t := &tokens[i]
		if t.RoundOrder != order {
			continue
		}
		if tail == nil || t.CreatedAt.After(tail.CreatedAt) {
			tail = t
		}
	}
	return tail
}

// ByID indexes tokens by identifier. Chains are walked as sequences of IDs
// through this arena rather than as cyclic object references.
func ByID(tokens []Token) map[string]Token {
	arena := make(map[string]Token, len(tokens))
	for _, t := range tokens {
		arena[t.ID] = t
	}
	return arena
}

// Chain walks a redo chain from its head token ID, following NextID through
// the arena. Traversal is bounded by the arena size so a malformed link can
// not loop.
func Chain(arena map[string]Token, headID string) []Token {
	var chain []Token
	id := headID
	for i := 0; i <= len(arena); i++ {
		t, ok := arena[id]
		if !ok {
			break
		}
		chain = append(chain, t)
		if t.NextID == "" {
			break
		}
		id = t.NextID
	}
	return chain
}
