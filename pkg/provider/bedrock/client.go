// Package bedrock adapts the AWS Bedrock Converse API to the
// provider.Client contract.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/corvid-labs/orchestrator/pkg/provider"
)

// runtimeClient mirrors the subset of the Bedrock runtime client used here,
// matching *bedrockruntime.Client so a fake can stand in for tests.
type runtimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Client implements provider.Client on top of AWS Bedrock Converse.
type Client struct {
	runtime      runtimeClient
	defaultModel string
}

// New loads the default AWS credential chain for region and builds a Client.
func New(ctx context.Context, region, defaultModel string) (*Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return &Client{runtime: bedrockruntime.NewFromConfig(cfg), defaultModel: defaultModel}, nil
}

func (c *Client) Name() string { return "bedrock" }

func (c *Client) ChatCompletion(ctx context.Context, req provider.Request) (provider.Response, error) {
	modelID, messages, system, err := c.prepareRequest(req)
	if err != nil {
		return provider.Response{}, err
	}
	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(modelID),
		Messages:        messages,
		System:          system,
		InferenceConfig: inferenceConfig(req),
	})
	if err != nil {
		if isThrottled(err) {
			return provider.Response{}, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return provider.Response{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(modelID, out), nil
}

func (c *Client) ChatCompletionStream(ctx context.Context, req provider.Request) (provider.Stream, error) {
	modelID, messages, system, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId:         aws.String(modelID),
		Messages:        messages,
		System:          system,
		InferenceConfig: inferenceConfig(req),
	})
	if err != nil {
		if isThrottled(err) {
			return nil, fmt.Errorf("%w: %w", provider.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return &streamer{events: stream.Events(), modelID: modelID}, nil
}

func (c *Client) prepareRequest(req provider.Request) (string, []brtypes.Message, []brtypes.SystemContentBlock, error) {
	if len(req.Messages) == 0 {
		return "", nil, nil, errors.New("bedrock: messages are required")
	}
	modelID := req.Model
	if modelID == "" {
		modelID = c.defaultModel
	}
	if modelID == "" {
		return "", nil, nil, errors.New("bedrock: model identifier is required")
	}

	messages := make([]brtypes.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]brtypes.ContentBlock, 0, 1+len(m.Images))
		if m.Content != "" {
			blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
		}
		for _, img := range m.Images {
			blocks = append(blocks, &brtypes.ContentBlockMemberImage{
				Value: brtypes.ImageBlock{
					Format: bedrockImageFormat(img.MIMEType),
					Source: &brtypes.ImageSourceMemberBytes{Value: img.Data},
				},
			})
		}
		switch m.Role {
		case provider.RoleUser:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleUser, Content: blocks})
		case provider.RoleAssistant:
			messages = append(messages, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
		default:
			return "", nil, nil, fmt.Errorf("bedrock: unsupported role %q", m.Role)
		}
	}

	var system []brtypes.SystemContentBlock
	if req.System != "" {
		system = []brtypes.SystemContentBlock{&brtypes.SystemContentBlockMemberText{Value: req.System}}
	}
	return modelID, messages, system, nil
}

// bedrockImageFormat maps an attachment's MIME type onto Bedrock's closed
// ImageFormat enum, defaulting to PNG for anything unrecognized.
func bedrockImageFormat(mime string) brtypes.ImageFormat {
	switch mime {
	case "image/jpeg", "image/jpg":
		return brtypes.ImageFormatJpeg
	case "image/gif":
		return brtypes.ImageFormatGif
	case "image/webp":
		return brtypes.ImageFormatWebp
	default:
		return brtypes.ImageFormatPng
	}
}

func inferenceConfig(req provider.Request) *brtypes.InferenceConfiguration {
	cfg := &brtypes.InferenceConfiguration{}
	if req.MaxTokens > 0 {
		v := int32(req.MaxTokens)
		cfg.MaxTokens = &v
	}
	if req.Temperature > 0 {
		v := float32(req.Temperature)
		cfg.Temperature = &v
	}
	return cfg
}

func isThrottled(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "ThrottlingException"
	}
	return false
}

func translateResponse(modelID string, out *bedrockruntime.ConverseOutput) provider.Response {
	var text string
	if msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
				text += tb.Value
			}
		}
	}
	resp := provider.Response{Model: modelID, Content: text, StopReason: string(out.StopReason)}
	if out.Usage != nil {
		resp.Usage = provider.Usage{
			PromptTokens:     int(aws.ToInt32(out.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return resp
}

type streamer struct {
	events  <-chan brtypes.ConverseStreamOutput
	modelID string
	usage   provider.Usage
}

func (s *streamer) Recv() (provider.Chunk, error) {
	for event := range s.events {
		switch v := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			if textDelta, ok := v.Value.Delta.(*brtypes.ContentBlockDeltaMemberText); ok && textDelta.Value != "" {
				return provider.Chunk{Delta: textDelta.Value}, nil
			}
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if v.Value.Usage != nil {
				s.usage = provider.Usage{
					PromptTokens:     int(aws.ToInt32(v.Value.Usage.InputTokens)),
					CompletionTokens: int(aws.ToInt32(v.Value.Usage.OutputTokens)),
					TotalTokens:      int(aws.ToInt32(v.Value.Usage.TotalTokens)),
				}
			}
		}
	}
	return provider.Chunk{Done: true, Usage: s.usage}, io.EOF
}

func (s *streamer) Close() error { return nil }
