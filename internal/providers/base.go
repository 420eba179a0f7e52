// Package providers defines the streaming LLM interface and its backends.
package providers

import (
	"context"
	"errors"

	"github.com/dayuer/pacebot/internal/bus"
)

// ErrEmptyStream is returned when a backend finishes without producing any text.
var ErrEmptyStream = errors.New("stream produced no text")

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// StreamRequest holds everything one generation needs.
type StreamRequest struct {
	Input         string
	UserID        string
	Attachments   []bus.Attachment
	Model         string
	SystemMessage string
	MaxTokens     int
	Temperature   float64
}

// ChunkFunc receives streamed text in order. Returning an error aborts the stream.
type ChunkFunc func(chunk string) error

// Streamer is the interface for all LLM backends.
type Streamer interface {
	// Stream generates a reply to req, delivering text through onChunk.
	// Any returned error means the generation failed and partial text is void.
	Stream(ctx context.Context, req StreamRequest, onChunk ChunkFunc) error

	// DefaultModel returns the default model identifier.
	DefaultModel() string
}

// Collect runs s and returns the concatenated text.
func Collect(ctx context.Context, s Streamer, req StreamRequest) (string, error) {
	var buf []byte
	err := s.Stream(ctx, req, func(chunk string) error {
		buf = append(buf, chunk...)
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(buf) == 0 {
		return "", ErrEmptyStream
	}
	return string(buf), nil
}
