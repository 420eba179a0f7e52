// Package providers: provider.go
// OpenAI-compatible streaming provider over plain HTTP and server-sent events.
// Works with OpenAI, Gemini's and xAI's OpenAI endpoints, DeepSeek, OpenRouter, etc.
package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dayuer/pacebot/internal/bus"
)

// Provider is an OpenAI-compatible streaming LLM provider.
type Provider struct {
	APIKey       string
	APIBase      string
	Model        string // default model
	ExtraHeaders map[string]string
	HTTPClient   *http.Client

	gateway *ProviderSpec // detected gateway, if any
}

// NewProvider creates a Provider with given config.
func NewProvider(apiKey, apiBase, defaultModel, providerName string) *Provider {
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}

	p := &Provider{
		APIKey:  apiKey,
		APIBase: apiBase,
		Model:   defaultModel,
		// no client timeout: streams are bounded by the caller's context
		HTTPClient: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 60 * time.Second,
		}},
	}

	p.gateway = FindGateway(providerName, apiKey, apiBase)
	return p
}

// DefaultModel satisfies the Streamer interface.
func (p *Provider) DefaultModel() string { return p.Model }

// Stream sends a streaming chat completion request and feeds content deltas to onChunk.
func (p *Provider) Stream(ctx context.Context, req StreamRequest, onChunk ChunkFunc) error {
	model := req.Model
	if model == "" {
		model = p.Model
	}
	apiBase, apiKey := p.endpointFor(model)
	model = p.resolveModel(model)

	maxTokens := req.MaxTokens
	if maxTokens < 1 {
		maxTokens = 4096
	}
	temp := req.Temperature
	p.applyModelOverrides(model, &temp)

	body := map[string]any{
		"model":       model,
		"messages":    buildMessages(req),
		"max_tokens":  maxTokens,
		"temperature": temp,
		"stream":      true,
	}
	if req.UserID != "" {
		body["user"] = req.UserID
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := strings.TrimRight(apiBase, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range p.ExtraHeaders {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("calling LLM: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("calling LLM (HTTP %d): %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return readSSE(resp.Body, onChunk)
}

// endpointFor resolves the API base and key for model. If no explicit API base is
// configured, the provider spec matched by model name supplies DefaultAPIBase and EnvKey.
func (p *Provider) endpointFor(model string) (apiBase, apiKey string) {
	apiBase, apiKey = p.APIBase, p.APIKey
	if apiBase == "" {
		if spec := FindByModel(model); spec != nil {
			apiBase = spec.DefaultAPIBase
			if apiKey == "" && spec.EnvKey != "" {
				apiKey = os.Getenv(spec.EnvKey)
			}
		}
	}
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	return apiBase, apiKey
}

func (p *Provider) resolveModel(model string) string {
	if p.gateway != nil {
		prefix := p.gateway.ModelPrefix
		if p.gateway.StripModelPrefix {
			parts := strings.SplitN(model, "/", 2)
			model = parts[len(parts)-1]
		}
		if prefix != "" && !strings.HasPrefix(model, prefix+"/") {
			model = prefix + "/" + model
		}
		return model
	}

	// When calling a provider's own API directly (not gateway),
	// strip the "provider/" prefix from model names like "deepseek/deepseek-chat"
	if idx := strings.Index(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	return model
}

func (p *Provider) applyModelOverrides(model string, temperature *float64) {
	lower := strings.ToLower(model)
	spec := FindByModel(model)
	if spec == nil {
		return
	}
	for _, ov := range spec.ModelOverrides {
		if strings.Contains(lower, ov.Pattern) {
			if ov.Temperature != nil {
				*temperature = *ov.Temperature
			}
			return
		}
	}
}

func buildMessages(req StreamRequest) []Message {
	var msgs []Message
	if req.SystemMessage != "" {
		msgs = append(msgs, Message{Role: "system", Content: req.SystemMessage})
	}

	var images []map[string]any
	for _, a := range req.Attachments {
		if inlineImage(a) {
			images = append(images, map[string]any{
				"type":      "image_url",
				"image_url": map[string]string{"url": imageURL(a)},
			})
		}
	}
	if len(images) == 0 {
		return append(msgs, Message{Role: "user", Content: userText(req)})
	}

	parts := []map[string]any{{"type": "text", "text": userText(req)}}
	return append(msgs, Message{Role: "user", Content: append(parts, images...)})
}

// userText appends a line per non-image attachment so the model knows it exists.
func userText(req StreamRequest) string {
	var sb strings.Builder
	sb.WriteString(req.Input)
	for _, a := range req.Attachments {
		if inlineImage(a) {
			continue
		}
		sb.WriteString("\n" + describeAttachment(a))
	}
	return sb.String()
}

// inlineImage reports whether a is an image the model can be shown directly.
func inlineImage(a bus.Attachment) bool {
	return a.Kind == "image" && (len(a.Data) > 0 || a.URL != "")
}

// imageURL returns downloaded bytes as a data URL, else the attachment's URL.
func imageURL(a bus.Attachment) string {
	if len(a.Data) > 0 {
		return "data:" + imageMediaType(a) + ";base64," + base64.StdEncoding.EncodeToString(a.Data)
	}
	return a.URL
}

// imageMediaType narrows the MIME type to the image types vision models accept.
func imageMediaType(a bus.Attachment) string {
	switch a.MimeType {
	case "image/jpeg", "image/png", "image/gif", "image/webp":
		return a.MimeType
	}
	return "image/jpeg"
}

func describeAttachment(a bus.Attachment) string {
	if a.Caption != "" {
		return fmt.Sprintf("[%s attachment: %s]", a.Kind, a.Caption)
	}
	return fmt.Sprintf("[%s attachment]", a.Kind)
}

// streamChunk mirrors one OpenAI chat completion stream event.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content *string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func readSSE(r io.Reader, onChunk ChunkFunc) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	finished := false
	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue // comments, event names, blank separators
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			return nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return fmt.Errorf("parse stream event: %w", err)
		}
		if chunk.Error != nil {
			return fmt.Errorf("stream error: %s", chunk.Error.Message)
		}
		for _, choice := range chunk.Choices {
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				finished = true
			}
			if choice.Delta.Content == nil || *choice.Delta.Content == "" {
				continue
			}
			if err := onChunk(*choice.Delta.Content); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if !finished {
		return fmt.Errorf("read stream: %w", io.ErrUnexpectedEOF)
	}
	return nil
}
