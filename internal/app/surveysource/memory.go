package surveysource

import (
	"context"
	"sync"
	"time"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
)

// MemorySource stores answers in process memory. It backs tests and local
// development, and doubles as the answer store for deployments without an
// external survey engine.
type MemorySource struct {
	mu          sync.RWMutex
	answers     map[string]map[string]string
	completions map[string]time.Time
}

var _ Source = (*MemorySource)(nil)

// NewMemorySource creates an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		answers:     make(map[string]map[string]string),
		completions: make(map[string]time.Time),
	}
}

// Complete records answers for a token and marks it completed at the given
// time.
func (s *MemorySource) Complete(tokenID string, at time.Time, answers map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completions[tokenID] = at.UTC()
	s.answers[tokenID] = cloneAnswers(answers)
}

// Answers returns the stored answers for a token.
func (s *MemorySource) Answers(tokenID string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneAnswers(s.answers[tokenID])
}

func (s *MemorySource) IsCompleted(_ context.Context, tok token.Token) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.completions[tok.ID]
	return ok, nil
}

func (s *MemorySource) CompletionTime(_ context.Context, tok token.Token) (*time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.completions[tok.ID]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (s *MemorySource) CopyAnswers(_ context.Context, from, to token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.answers[to.ID] = cloneAnswers(s.answers[from.ID])
	return nil
}

func cloneAnswers(answers map[string]string) map[string]string {
	if answers == nil {
		return nil
	}
	out := make(map[string]string, len(answers))
	for k, v := range answers {
		out[k] = v
	}
	return out
}
