// Package session runs AI coding sessions inside a sandbox. Two backends
// implement the same contract: a headless streaming CLI and a direct
// tool-use conversation loop.
package session

import "context"

// Session sends prompts to a coding backend operating on a sandbox.
type Session interface {
	// RunPrompt executes one prompt to completion and returns the
	// backend's final text output.
	RunPrompt(ctx context.Context, prompt string) (string, error)
	// Backend names the variant ("cli" or "tooluse") for logging.
	Backend() string
}

// Error reports a session that failed to produce a result. Callers
// detect it with errors.As.
type Error struct {
	Backend string
	Err     error
}

func (e *Error) Error() string {
	return "session (" + e.Backend + "): " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }
