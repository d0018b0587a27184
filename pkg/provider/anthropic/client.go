// Package anthropic adapts the Anthropic Claude Messages API to the
// provider.Client contract.
package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/corvid-labs/orchestrator/pkg/provider"
)

// messagesClient captures the subset of the SDK used here, so tests can
// substitute a fake without a live API key.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Client implements provider.Client on top of Anthropic Claude Messages.
type Client struct {
	msg          messagesClient
	defaultModel string
}

// New builds a Client directly from a messages API key.
func New(apiKey, defaultModel string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	c := sdk.NewClient(option.WithAPIKey(apiKey))
	return &Client{msg: &c.Messages, defaultModel: defaultModel}, nil
}

func (c *Client) Name() string { return "anthropic" }

func (c *Client) ChatCompletion(ctx context.Context, req provider.Request) (provider.Response, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	msg, err := c.msg.New(ctx, params)
	if err != nil {
		if isRateLimited(err) {
			return provider.Response{}, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return provider.Response{}, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateResponse(msg), nil
}

func (c *Client) ChatCompletionStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	params, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return newStreamer(stream), nil
}

func (c *Client) prepareRequest(req provider.Request) (sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	if modelID == "" {
		return sdk.MessageNewParams{}, errors.New("anthropic: model identifier is required")
	}
	if req.MaxTokens <= 0 {
		return sdk.MessageNewParams{}, errors.New("anthropic: max_tokens must be positive")
	}

	msgs := make([]sdk.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.Images))
		if m.Content != "" {
			blocks = append(blocks, sdk.NewTextBlock(m.Content))
		}
		for _, img := range m.Images {
			blocks = append(blocks, sdk.NewImageBlockBase64(img.MIMEType, base64.StdEncoding.EncodeToString(img.Data)))
		}
		switch m.Role {
		case provider.RoleUser:
			msgs = append(msgs, sdk.NewUserMessage(blocks...))
		case provider.RoleAssistant:
			msgs = append(msgs, sdk.NewAssistantMessage(blocks...))
		default:
			return sdk.MessageNewParams{}, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(req.MaxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	return params, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func translateResponse(msg *sdk.Message) provider.Response {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	u := msg.Usage
	return provider.Response{
		Model:   string(msg.Model),
		Content: text,
		Usage: provider.Usage{
			PromptTokens:     int(u.InputTokens),
			CompletionTokens: int(u.OutputTokens),
			TotalTokens:      int(u.InputTokens + u.OutputTokens),
		},
		StopReason: string(msg.StopReason),
	}
}

type streamer struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	usage  provider.Usage
}

func newStreamer(s *ssestream.Stream[sdk.MessageStreamEventUnion]) *streamer {
	return &streamer{stream: s}
}

// Recv advances the underlying SSE stream one event at a time, surfacing
// text deltas and accumulating usage until the stream's message_delta event
// reports the final counts.
func (s *streamer) Recv() (provider.Chunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch variant := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			if variant.Delta.Text != "" {
				return provider.Chunk{Delta: variant.Delta.Text}, nil
			}
		case sdk.MessageDeltaEvent:
			s.usage.CompletionTokens = int(variant.Usage.OutputTokens)
			s.usage.TotalTokens = s.usage.PromptTokens + s.usage.CompletionTokens
		case sdk.MessageStartEvent:
			s.usage.PromptTokens = int(variant.Message.Usage.InputTokens)
		}
	}
	if err := s.stream.Err(); err != nil {
		if isRateLimited(err) {
			return provider.Chunk{}, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return provider.Chunk{}, err
	}
	return provider.Chunk{Done: true, Usage: s.usage}, io.EOF
}

func (s *streamer) Close() error {
	return s.stream.Close()
}
