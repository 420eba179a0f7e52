package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/pacebot/internal/bus"
)

// --- Provider Interface Compliance ---

func TestProvider_ImplementsStreamer(t *testing.T) {
	var _ Streamer = &Provider{}
	var _ Streamer = &AnthropicStreamer{}
	var _ Streamer = &Dynamic{}
}

// --- Model Resolution ---

func TestResolveModel_NoGateway_StripsPrefix(t *testing.T) {
	p := NewProvider("key", "", "deepseek/deepseek-chat", "")
	assert.Equal(t, "deepseek-chat", p.resolveModel("deepseek/deepseek-chat"))
	assert.Equal(t, "gpt-4o", p.resolveModel("gpt-4o"))
}

func TestResolveModel_Gateway_StripPrefix(t *testing.T) {
	// AiHubMix strips the provider prefix
	p := NewProvider("key", "https://aihubmix.com/v1", "anthropic/claude-3", "aihubmix")
	assert.Equal(t, "claude-3", p.resolveModel("anthropic/claude-3"))
}

func TestResolveModel_Gateway_OpenRouterKeepsPrefix(t *testing.T) {
	p := NewProvider("sk-or-abc", "", "anthropic/claude-3", "openrouter")
	assert.Equal(t, "anthropic/claude-3", p.resolveModel("anthropic/claude-3"))
}

func TestEndpointFor_UsesRegistryDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")
	p := NewProvider("", "", "gemini-2.5-flash", "")
	base, key := p.endpointFor("gemini-2.5-flash")
	assert.Equal(t, "https://generativelanguage.googleapis.com/v1beta/openai", base)
	assert.Equal(t, "gem-key", key)

	base, _ = p.endpointFor("unknown-model")
	assert.Equal(t, "https://api.openai.com/v1", base)
}

func TestApplyModelOverrides(t *testing.T) {
	p := &Provider{}
	temp := 0.3
	p.applyModelOverrides("kimi-k2.5-preview", &temp)
	assert.Equal(t, 1.0, temp)

	temp = 0.3
	p.applyModelOverrides("gpt-4o", &temp)
	assert.Equal(t, 0.3, temp)
}

// --- Message Building ---

func TestBuildMessages_TextOnly(t *testing.T) {
	msgs := buildMessages(StreamRequest{Input: "hello", SystemMessage: "be nice"})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "be nice", msgs[0].Content)
	assert.Equal(t, "hello", msgs[1].Content)
}

func TestBuildMessages_Attachments(t *testing.T) {
	msgs := buildMessages(StreamRequest{
		Input: "look",
		Attachments: []bus.Attachment{
			{Kind: "image", URL: "https://example.com/cat.png"},
			{Kind: "voice", Caption: "memo"},
		},
	})
	require.Len(t, msgs, 1)
	parts, ok := msgs[0].Content.([]map[string]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "look\n[voice attachment: memo]", parts[0]["text"])
	assert.Equal(t, "image_url", parts[1]["type"])
}

func TestBuildMessages_DownloadedImage(t *testing.T) {
	msgs := buildMessages(StreamRequest{
		Input:       "look",
		Attachments: []bus.Attachment{{Kind: "image", FileID: "f1", Data: []byte{0xff, 0xd8, 0xff}}},
	})
	require.Len(t, msgs, 1)
	parts, ok := msgs[0].Content.([]map[string]any)
	require.True(t, ok)
	require.Len(t, parts, 2)
	assert.Equal(t, "look", parts[0]["text"])
	img, ok := parts[1]["image_url"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "data:image/jpeg;base64,/9j/", img["url"])
}

func TestImageMediaType(t *testing.T) {
	assert.Equal(t, "image/webp", imageMediaType(bus.Attachment{MimeType: "image/webp"}))
	assert.Equal(t, "image/jpeg", imageMediaType(bus.Attachment{MimeType: "application/octet-stream"}))
	assert.Equal(t, "image/jpeg", imageMediaType(bus.Attachment{}))
}

// --- SSE Parsing ---

func sseBody(events ...string) string {
	var sb strings.Builder
	for _, e := range events {
		fmt.Fprintf(&sb, "data: %s\n\n", e)
	}
	return sb.String()
}

func TestReadSSE_CollectsDeltas(t *testing.T) {
	body := ": keep-alive\n\n" + sseBody(
		`{"choices":[{"delta":{"role":"assistant"}}]}`,
		`{"choices":[{"delta":{"content":"Hel"}}]}`,
		`{"choices":[{"delta":{"content":"lo"}}]}`,
		"[DONE]",
	)
	var got []string
	err := readSSE(strings.NewReader(body), func(c string) error {
		got = append(got, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hel", "lo"}, got)
}

func TestReadSSE_FinishReasonWithoutDone(t *testing.T) {
	body := sseBody(`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`)
	assert.NoError(t, readSSE(strings.NewReader(body), func(string) error { return nil }))
}

func TestReadSSE_TruncatedStream(t *testing.T) {
	body := sseBody(`{"choices":[{"delta":{"content":"par"}}]}`)
	err := readSSE(strings.NewReader(body), func(string) error { return nil })
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadSSE_ErrorEvent(t *testing.T) {
	body := sseBody(`{"error":{"message":"overloaded"}}`)
	err := readSSE(strings.NewReader(body), func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overloaded")
}

func TestReadSSE_CallbackAborts(t *testing.T) {
	stop := fmt.Errorf("stop")
	body := sseBody(`{"choices":[{"delta":{"content":"a"}}]}`, "[DONE]")
	err := readSSE(strings.NewReader(body), func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

// --- Integration with Mock Server ---

func TestProvider_Stream_MockServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		assert.Equal(t, true, body["stream"])
		assert.Equal(t, "user-1", body["user"])

		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, sseBody(
			`{"choices":[{"delta":{"content":"Part one."}}]}`,
			`{"choices":[{"delta":{"content":"\n\nPart two."}}]}`,
			"[DONE]",
		))
	}))
	defer server.Close()

	p := NewProvider("test-key", server.URL, "gpt-4o", "")
	text, err := Collect(context.Background(), p, StreamRequest{Input: "Hello", UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "Part one.\n\nPart two.", text)
}

func TestProvider_Stream_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("internal error"))
	}))
	defer server.Close()

	p := NewProvider("key", server.URL, "gpt-4o", "")
	err := p.Stream(context.Background(), StreamRequest{Input: "Hello"}, func(string) error { return nil })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Contains(t, err.Error(), "internal error")
}

func TestProvider_Stream_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProvider("key", server.URL, "gpt-4o", "")
	err := p.Stream(ctx, StreamRequest{Input: "Hello"}, func(string) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProvider_Stream_ExtraHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "my-code", r.Header.Get("APP-Code"))
		io.WriteString(w, sseBody(`{"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	p := NewProvider("key", server.URL, "gpt-4o", "")
	p.ExtraHeaders = map[string]string{"APP-Code": "my-code"}
	text, err := Collect(context.Background(), p, StreamRequest{Input: "test"})
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

// --- DefaultModel ---

func TestProvider_DefaultModel(t *testing.T) {
	assert.Equal(t, "gpt-4", NewProvider("", "", "gpt-4", "").DefaultModel())
	assert.Equal(t, "gpt-4o-mini", NewProvider("", "", "", "").DefaultModel())
}
