package llm

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("llm unavailable")

// Request is a single-turn completion request.
type Request struct {
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Streamer delivers the response incrementally. onFragment is called in
// order for every text fragment received.
type Streamer interface {
	Stream(ctx context.Context, req Request, onFragment func(string)) error
}

type Provider interface {
	Completer
	Streamer
}
