// Package surveysource abstracts the external survey engine that stores
// token answers. The engine core only needs completion state and verbatim
// answer copying for redo tokens.
package surveysource

import (
	"context"
	"time"

	"github.com/CareTrack-Labs/track_engine/internal/app/domain/token"
)

// Source is the survey source port.
type Source interface {
	// IsCompleted reports whether the token's survey has been answered.
	IsCompleted(ctx context.Context, tok token.Token) (bool, error)
	// CompletionTime returns when the token was answered, nil when it has
	// not been.
	CompletionTime(ctx context.Context, tok token.Token) (*time.Time, error)
	// CopyAnswers copies the stored answers of one token verbatim into
	// another, without re-validating them.
	CopyAnswers(ctx context.Context, from, to token.Token) error
}
