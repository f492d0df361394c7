// Package gateway abstracts calls to external generative-AI providers.
//
// The rest of the system never branches on provider SDK shape; it sees
// this interface and a classified failure.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidInput reports a malformed request before any provider call.
var ErrInvalidInput = errors.New("invalid input")

// Message is one chat turn submitted to the chat capability.
type Message struct {
	Role    string
	Content string
}

// SpeechRequest describes a speech-synthesis call.
// Instructions carry delivery style (emotion, tone) as free text.
type SpeechRequest struct {
	Text         string
	Voice        string
	Instructions string
}

// Gateway is the consumed capability surface.
type Gateway interface {
	// ChatComplete submits a conversation and returns the reply text.
	ChatComplete(ctx context.Context, history []Message) (string, error)

	// GenerateImage returns a URL for an image matching the prompt.
	GenerateImage(ctx context.Context, prompt string) (string, error)

	// SynthesizeSpeech returns encoded audio for the request.
	SynthesizeSpeech(ctx context.Context, in SpeechRequest) ([]byte, error)

	// DescribeImage answers a question about the supplied image bytes.
	DescribeImage(ctx context.Context, image []byte, question string) (string, error)
}

// ProviderError is a classified downstream failure. Its detail is for
// logs only and must never be surfaced to end users.
type ProviderError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}
	return fmt.Sprintf("provider %s failed: status=%d %s", e.Op, e.StatusCode, e.Message)
}
