// Package provider defines the generic remote chat-completion contract
// (spec §4.3) and the concrete adapters (anthropic, openai, bedrock) that
// implement it against each vendor's native SDK.
package provider

import (
	"context"
	"errors"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ImagePart is one image attached to a Message, carried as raw bytes so
// each adapter can encode it into its own vendor's wire format.
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// Message is one turn of a chat-completion conversation. Images, when
// present, are attached alongside Content as additional content parts;
// callers are expected to only populate Images for models known to be
// vision-capable (spec §4.8).
type Message struct {
	Role    Role
	Content string
	Images  []ImagePart
}

// Request is a single chat-completion call, model-agnostic. System is kept
// separate from Messages since every provider treats it as a distinct field
// rather than a conversational turn.
type Request struct {
	Model       string
	System      string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Usage reports token accounting for a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Response is a completed, non-streaming chat completion.
type Response struct {
	Model      string
	Content    string
	Usage      Usage
	StopReason string
}

// Chunk is one increment of a streamed completion. Done chunks carry the
// final Usage; all others carry only a text Delta.
type Chunk struct {
	Delta string
	Done  bool
	Usage Usage
}

// Stream adapts a provider's native streaming response into a pull-based
// sequence of Chunks, following io.Reader's convention: the final call
// returns a Chunk with Done set and Usage populated alongside io.EOF. Any
// other non-nil error means the stream failed before completion.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}

// ErrRateLimited is wrapped by adapters when the upstream API reports a
// rate-limit (HTTP 429 / throttling) response, so callers can tell it
// apart from other failures with errors.Is. The router's circuit breaker
// counts it like any other failure.
var ErrRateLimited = errors.New("provider: rate limited")

// ErrStreamingUnsupported is returned by ChatCompletionStream when an
// adapter has no streaming path (none currently; kept for parity with the
// non-streaming-only adapters this package was grounded on).
var ErrStreamingUnsupported = errors.New("provider: streaming unsupported")

// Client is the contract every concrete provider adapter satisfies. Name
// identifies the adapter for logging/metrics labels (spec §4.3's
// provider_id).
type Client interface {
	Name() string
	ChatCompletion(ctx context.Context, req Request) (Response, error)
	ChatCompletionStream(ctx context.Context, req Request) (Stream, error)
}

// IsRateLimited reports whether err (or anything it wraps) is ErrRateLimited.
func IsRateLimited(err error) bool {
	return err != nil && errors.Is(err, ErrRateLimited)
}
