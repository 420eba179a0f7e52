package providers

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicBaseURL = "https://api.anthropic.com"

// AnthropicStreamer streams replies from the Anthropic Messages API.
type AnthropicStreamer struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicStreamer creates a streamer. Empty apiBase uses the public API;
// a trailing "/v1" is tolerated.
func NewAnthropicStreamer(apiKey, apiBase, defaultModel string, opts ...option.RequestOption) *AnthropicStreamer {
	if defaultModel == "" {
		defaultModel = "claude-3-5-haiku-latest"
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(normalizeAnthropicBase(apiBase)),
	}, opts...)
	client := anthropic.NewClient(opts...)
	return &AnthropicStreamer{client: &client, model: defaultModel}
}

func (a *AnthropicStreamer) DefaultModel() string { return a.model }

// Stream runs a streaming Messages request and forwards text deltas.
func (a *AnthropicStreamer) Stream(ctx context.Context, req StreamRequest, onChunk ChunkFunc) error {
	stream := a.client.Messages.NewStreaming(ctx, a.buildParams(req))
	defer stream.Close()

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				if err := onChunk(delta.Text); err != nil {
					return err
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		return fmt.Errorf("claude API stream: %w", err)
	}
	return nil
}

func (a *AnthropicStreamer) buildParams(req StreamRequest) anthropic.MessageNewParams {
	model := req.Model
	if model == "" {
		model = a.model
	}
	// "anthropic/claude-..." style names come from gateway configs
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}

	maxTokens := int64(4096)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(userText(req))}
	for _, att := range req.Attachments {
		switch {
		case att.Kind != "image":
		case len(att.Data) > 0:
			blocks = append(blocks, anthropic.NewImageBlockBase64(imageMediaType(att), base64.StdEncoding.EncodeToString(att.Data)))
		case att.URL != "":
			blocks = append(blocks, anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: att.URL}))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
		MaxTokens: maxTokens,
	}
	if req.SystemMessage != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.SystemMessage}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}
	return params
}

func normalizeAnthropicBase(apiBase string) string {
	base := strings.TrimRight(strings.TrimSpace(apiBase), "/")
	base = strings.TrimSuffix(base, "/v1")
	if base == "" {
		return anthropicBaseURL
	}
	return base
}
