package ai

import (
	"context"
	"errors"
)

// Turn is one entry of the conversation history sent to the provider.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GenerateRequest carries the conversation history plus the newest user
// utterance (already appended as the last turn).
type GenerateRequest struct {
	SystemPrompt string
	Turns        []Turn
}

// StreamGenerator produces a model response token by token. Implementations
// call onChunk for every text fragment in production order and return nil
// once the provider signals completion. Returning a non-nil error from
// onChunk aborts the stream.
type StreamGenerator interface {
	StreamGenerate(ctx context.Context, req GenerateRequest, onChunk func(text string) error) error
}

// ErrSafetyBlocked marks responses the provider refused on content-safety
// grounds. Callers translate it into user-facing guidance instead of showing
// the raw provider message.
var ErrSafetyBlocked = errors.New("response blocked by safety filter")
