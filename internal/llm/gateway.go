package llm

import (
	"context"
	"errors"
)

var (
	// ErrGeneration wraps any transport or API failure of the backing
	// text-generation service.
	ErrGeneration = errors.New("llm: generation failed")

	// ErrNoSession is returned when a stateful call references a session
	// that was never started or was already ended.
	ErrNoSession = errors.New("llm: no such session")
)

// Gateway is the session-capable contract the Brain consumes. Sessions are
// keyed by conversation id; EndSession is idempotent.
type Gateway interface {
	GenerateSingle(ctx context.Context, prompt string) (string, error)
	StartSession(ctx context.Context, sessionID string, prompt string) (string, error)
	ContinueSession(ctx context.Context, sessionID string, prompt string) (string, error)
	EndSession(sessionID string)
}
