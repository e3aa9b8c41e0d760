// Package llm calls an OpenAI-compatible chat completion endpoint.
package llm

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when no API key is set
var ErrNotConfigured = errors.New("llm api key is not configured")

// Gateway turns one prompt into one completion
type Gateway interface {
	Complete(ctx context.Context, prompt string) (string, error)
	// Configured reports whether credentials are present
	Configured() bool
}
