package channels

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mymmrac/telego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dayuer/pacebot/internal/bus"
)

const testToken = "123456:ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghi"

// --- Telegram API mock ---

type apiCall struct {
	method string
	body   map[string]any
}

type telegramAPI struct {
	*httptest.Server
	mu    sync.Mutex
	calls []apiCall
}

// newTelegramAPI serves the Bot API. handle returns the result payload, or an
// error to answer with ok=false. File downloads arrive as method "file" and
// a []byte result is written raw.
func newTelegramAPI(t *testing.T, handle func(r *http.Request, method string, body map[string]any) (any, error)) *telegramAPI {
	t.Helper()
	api := &telegramAPI{}
	api.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/file/") {
			api.mu.Lock()
			api.calls = append(api.calls, apiCall{method: "file", body: map[string]any{"path": r.URL.Path}})
			api.mu.Unlock()
			result, err := handle(r, "file", nil)
			data, ok := result.([]byte)
			if err != nil || !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
			return
		}
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		var body map[string]any
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)

		api.mu.Lock()
		api.calls = append(api.calls, apiCall{method: method, body: body})
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		result, err := handle(r, method, body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "error_code": 400, "description": err.Error()})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": result})
	}))
	t.Cleanup(api.Close)
	return api
}

func (a *telegramAPI) Calls(method string) []apiCall {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []apiCall
	for _, c := range a.calls {
		if c.method == method {
			out = append(out, c)
		}
	}
	return out
}

func (a *telegramAPI) channel(t *testing.T, allowFrom []string, msgBus *bus.MessageBus) *TelegramChannel {
	t.Helper()
	ch, err := NewTelegramChannel(testToken, allowFrom, msgBus, nil,
		telego.WithAPIServer(a.URL), telego.WithHTTPClient(a.Client()))
	require.NoError(t, err)
	return ch
}

var sentMessage = map[string]any{"message_id": 1, "date": 0, "chat": map[string]any{"id": 100, "type": "private"}}

// --- Telegram Channel tests ---

func TestTelegramChannel_Interface(t *testing.T) {
	ch, err := NewTelegramChannel(testToken, nil, bus.NewMessageBus(), nil)
	require.NoError(t, err)
	var _ Channel = ch
	var _ TypingChannel = ch
	assert.Equal(t, "telegram", ch.Name())
	RunChannelContractTests(t, ch)
}

func TestTelegramChannel_NoToken(t *testing.T) {
	_, err := NewTelegramChannel("", nil, bus.NewMessageBus(), nil)
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestTelegramChannel_Send(t *testing.T) {
	api := newTelegramAPI(t, func(_ *http.Request, method string, _ map[string]any) (any, error) {
		return sentMessage, nil
	})
	ch := api.channel(t, nil, bus.NewMessageBus())

	err := ch.Send(context.Background(), bus.OutboundMessage{
		Channel: "telegram", ChatID: "100", Content: "<b>Hi</b>", ParseMode: bus.ParseModeHTML, ReplyTo: "42",
	})
	require.NoError(t, err)

	calls := api.Calls("sendMessage")
	require.Len(t, calls, 1)
	body := calls[0].body
	assert.EqualValues(t, 100, body["chat_id"])
	assert.Equal(t, "<b>Hi</b>", body["text"])
	assert.Equal(t, "HTML", body["parse_mode"])
	reply, ok := body["reply_parameters"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 42, reply["message_id"])
}

func TestTelegramChannel_Send_FallsBackToPlainText(t *testing.T) {
	api := newTelegramAPI(t, func(_ *http.Request, _ string, body map[string]any) (any, error) {
		if body["parse_mode"] == "HTML" {
			return nil, errors.New("Bad Request: can't parse entities")
		}
		return sentMessage, nil
	})
	ch := api.channel(t, nil, bus.NewMessageBus())

	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "100", Content: "<b>a &amp; b</b>", ParseMode: bus.ParseModeHTML})
	require.NoError(t, err)

	calls := api.Calls("sendMessage")
	require.Len(t, calls, 2)
	assert.Equal(t, "a & b", calls[1].body["text"])
	assert.Nil(t, calls[1].body["parse_mode"])
}

func TestTelegramChannel_Send_BadChatID(t *testing.T) {
	ch, err := NewTelegramChannel(testToken, nil, bus.NewMessageBus(), nil)
	require.NoError(t, err)
	assert.Error(t, ch.Send(context.Background(), bus.OutboundMessage{ChatID: "not-a-number", Content: "x"}))
}

func TestTelegramChannel_Typing(t *testing.T) {
	api := newTelegramAPI(t, func(*http.Request, string, map[string]any) (any, error) { return true, nil })
	ch := api.channel(t, nil, bus.NewMessageBus())

	require.NoError(t, ch.Typing(context.Background(), "100"))
	calls := api.Calls("sendChatAction")
	require.Len(t, calls, 1)
	assert.Equal(t, "typing", calls[0].body["action"])
}

func TestTelegramChannel_ProcessMessage(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch, err := NewTelegramChannel(testToken, []string{"alice"}, msgBus, nil)
	require.NoError(t, err)
	arrived := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ch.now = func() time.Time { return arrived }

	ch.processMessage(context.Background(), &telego.Message{
		MessageID: 42,
		Date:      1700000000,
		Chat:      telego.Chat{ID: 100, Type: "private"},
		From:      &telego.User{ID: 7, Username: "alice"},
		Text:      "hello",
	})

	require.Equal(t, 1, msgBus.InboundSize())
	msg := <-msgBus.Inbound
	assert.Equal(t, "telegram", msg.Channel)
	assert.Equal(t, "7", msg.SenderID)
	assert.Equal(t, "100", msg.ChatID)
	assert.Equal(t, "42", msg.MessageID)
	assert.Equal(t, "hello", msg.Content)
	assert.Equal(t, arrived, msg.Timestamp, "arrival time, not the sender's clock")
	assert.Equal(t, "telegram:7", msg.UserKey())
}

func TestTelegramChannel_ProcessMessage_Filters(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch, err := NewTelegramChannel(testToken, []string{"alice"}, msgBus, nil)
	require.NoError(t, err)
	ctx := context.Background()

	ch.processMessage(ctx, &telego.Message{Chat: telego.Chat{ID: 1}, From: &telego.User{ID: 8, Username: "mallory"}, Text: "hi"})
	ch.processMessage(ctx, &telego.Message{Chat: telego.Chat{ID: 1}, From: &telego.User{ID: 9, IsBot: true, Username: "alice"}, Text: "hi"})
	ch.processMessage(ctx, &telego.Message{Chat: telego.Chat{ID: 1}, Text: "no sender"})
	ch.processMessage(ctx, &telego.Message{Chat: telego.Chat{ID: 1}, From: &telego.User{ID: 7, Username: "alice"}})
	assert.Equal(t, 0, msgBus.InboundSize())
}

// jpegBytes starts with the JPEG magic so content sniffing names it.
var jpegBytes = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00rest-of-photo")

func TestTelegramChannel_ProcessMessage_Photo(t *testing.T) {
	api := newTelegramAPI(t, func(_ *http.Request, method string, body map[string]any) (any, error) {
		switch method {
		case "getFile":
			return map[string]any{"file_id": body["file_id"], "file_unique_id": "u1", "file_path": "photos/file_1.jpg"}, nil
		case "file":
			return jpegBytes, nil
		}
		return true, nil
	})
	msgBus := bus.NewMessageBus()
	ch := api.channel(t, nil, msgBus)

	ch.processMessage(context.Background(), &telego.Message{
		MessageID: 5,
		Chat:      telego.Chat{ID: 100},
		From:      &telego.User{ID: 7},
		Caption:   "look",
		Photo:     []telego.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	})

	msg := <-msgBus.Inbound
	assert.Equal(t, "look", msg.Content)
	require.Len(t, msg.Attachments, 1)
	att := msg.Attachments[0]
	assert.Equal(t, "image", att.Kind)
	assert.Equal(t, "large", att.FileID)
	assert.Equal(t, jpegBytes, att.Data)
	assert.Equal(t, "image/jpeg", att.MimeType)
	assert.Empty(t, att.URL, "download URL carries the bot token")

	getFile := api.Calls("getFile")
	require.Len(t, getFile, 1)
	assert.Equal(t, "large", getFile[0].body["file_id"])
	files := api.Calls("file")
	require.Len(t, files, 1)
	assert.Equal(t, "/file/bot"+testToken+"/photos/file_1.jpg", files[0].body["path"])
}

func TestTelegramChannel_ProcessMessage_PhotoDownloadFails(t *testing.T) {
	api := newTelegramAPI(t, func(_ *http.Request, method string, _ map[string]any) (any, error) {
		if method == "getFile" {
			return nil, errors.New("Bad Request: file is too big")
		}
		return true, nil
	})
	msgBus := bus.NewMessageBus()
	ch := api.channel(t, nil, msgBus)

	ch.processMessage(context.Background(), &telego.Message{
		Chat:  telego.Chat{ID: 100},
		From:  &telego.User{ID: 7},
		Photo: []telego.PhotoSize{{FileID: "large"}},
	})

	msg := <-msgBus.Inbound
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "large", msg.Attachments[0].FileID)
	assert.Nil(t, msg.Attachments[0].Data)
}

func TestTelegramChannel_ProcessMessage_UnlistedPhotoNotFetched(t *testing.T) {
	api := newTelegramAPI(t, func(*http.Request, string, map[string]any) (any, error) { return true, nil })
	msgBus := bus.NewMessageBus()
	ch := api.channel(t, []string{"alice"}, msgBus)

	ch.processMessage(context.Background(), &telego.Message{
		Chat:  telego.Chat{ID: 100},
		From:  &telego.User{ID: 8, Username: "mallory"},
		Photo: []telego.PhotoSize{{FileID: "large"}},
	})

	assert.Equal(t, 0, msgBus.InboundSize())
	assert.Empty(t, api.Calls("getFile"))
}

func TestTelegramChannel_StartPollsUpdates(t *testing.T) {
	var served atomic.Bool
	api := newTelegramAPI(t, func(r *http.Request, method string, _ map[string]any) (any, error) {
		switch method {
		case "getMe":
			return map[string]any{"id": 1, "is_bot": true, "first_name": "Pace", "username": "pacebot"}, nil
		case "getUpdates":
			if served.CompareAndSwap(false, true) {
				return []any{map[string]any{
					"update_id": 10,
					"message": map[string]any{
						"message_id": 42, "date": 1700000000, "text": "hello",
						"chat": map[string]any{"id": 100, "type": "private"},
						"from": map[string]any{"id": 7, "is_bot": false, "first_name": "A"},
					},
				}}, nil
			}
			select {
			case <-r.Context().Done():
			case <-time.After(50 * time.Millisecond):
			}
			return []any{}, nil
		}
		return true, nil
	})
	msgBus := bus.NewMessageBus()
	ch := api.channel(t, nil, msgBus)
	ch.SetCommands([]telego.BotCommand{{Command: "help", Description: "Show this help message"}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Start(ctx) }()

	select {
	case msg := <-msgBus.Inbound:
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "telegram:7", msg.UserKey())
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for polled message")
	}
	assert.Equal(t, "pacebot", ch.BotUsername())
	assert.True(t, ch.IsRunning())

	menu := api.Calls("setMyCommands")
	require.Len(t, menu, 1)
	cmds, ok := menu[0].body["commands"].([]any)
	require.True(t, ok)
	require.Len(t, cmds, 1)
	assert.Equal(t, map[string]any{"command": "help", "description": "Show this help message"}, cmds[0])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
	assert.False(t, ch.IsRunning())
}

// --- WhatsApp Channel tests ---

func TestWhatsAppChannel_Interface(t *testing.T) {
	ch := NewWhatsAppChannel("", "", nil, bus.NewMessageBus(), nil)
	var _ Channel = ch
	assert.Equal(t, "whatsapp", ch.Name())
	assert.Equal(t, defaultBridgeURL, ch.BridgeURL)
	RunChannelContractTests(t, ch)
}

func TestWhatsAppChannel_ProcessBridgeMessage_Text(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch := NewWhatsAppChannel("", "", nil, msgBus, nil)

	ch.ProcessBridgeMessage(context.Background(), []byte(`{"type":"message","id":"m1","sender":"12345@s.whatsapp.net","content":"Hi there"}`))

	select {
	case msg := <-msgBus.Inbound:
		assert.Equal(t, "whatsapp", msg.Channel)
		assert.Equal(t, "12345", msg.SenderID)
		assert.Equal(t, "12345@s.whatsapp.net", msg.ChatID)
		assert.Equal(t, "m1", msg.MessageID)
		assert.Equal(t, "Hi there", msg.Content)
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for bus message")
	}
}

func TestWhatsAppChannel_ProcessBridgeMessage_AllowList(t *testing.T) {
	msgBus := bus.NewMessageBus()
	ch := NewWhatsAppChannel("", "", []string{"555"}, msgBus, nil)

	ch.ProcessBridgeMessage(context.Background(), []byte(`{"type":"message","sender":"12345@s.whatsapp.net","content":"Hi"}`))
	ch.ProcessBridgeMessage(context.Background(), []byte(`{"type":"message","sender":"x@lid","pn":"555@s.whatsapp.net","content":"Hi"}`))
	ch.ProcessBridgeMessage(context.Background(), []byte(`not json`))

	require.Equal(t, 1, msgBus.InboundSize())
	assert.Equal(t, "555", (<-msgBus.Inbound).SenderID)
}

func TestWhatsAppChannel_ProcessBridgeMessage_Status(t *testing.T) {
	ch := NewWhatsAppChannel("", "", nil, bus.NewMessageBus(), nil)
	ch.ProcessBridgeMessage(context.Background(), []byte(`{"type":"status","status":"connected"}`))
	assert.True(t, ch.Connected())
	ch.ProcessBridgeMessage(context.Background(), []byte(`{"type":"status","status":"disconnected"}`))
	assert.False(t, ch.Connected())
}

func TestWhatsAppChannel_Send_NotConnected(t *testing.T) {
	ch := NewWhatsAppChannel("", "", nil, bus.NewMessageBus(), nil)
	err := ch.Send(context.Background(), bus.OutboundMessage{ChatID: "123", Content: "test"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestWhatsAppChannel_BridgeRoundTrip(t *testing.T) {
	frames := make(chan bridgeCommand, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"message","id":"m1","sender":"777@s.whatsapp.net","content":"ping"}`))
		for {
			var cmd bridgeCommand
			if err := conn.ReadJSON(&cmd); err != nil {
				return
			}
			frames <- cmd
		}
	}))
	defer srv.Close()

	msgBus := bus.NewMessageBus()
	ch := NewWhatsAppChannel("ws"+strings.TrimPrefix(srv.URL, "http"), "secret", nil, msgBus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ch.Start(ctx) }()

	select {
	case msg := <-msgBus.Inbound:
		assert.Equal(t, "ping", msg.Content)
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for bridge message")
	}

	require.NoError(t, ch.Send(ctx, bus.OutboundMessage{
		ChatID: "777@s.whatsapp.net", Content: "<b>pong</b>", ParseMode: bus.ParseModeHTML, ReplyTo: "m1",
	}))

	auth := <-frames
	assert.Equal(t, bridgeCommand{Type: "auth", Token: "secret"}, auth)
	sent := <-frames
	assert.Equal(t, bridgeCommand{Type: "send", To: "777@s.whatsapp.net", Text: "pong", ReplyTo: "m1"}, sent)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

// --- Manager tests ---

type mockChannel struct {
	name    string
	err     error
	started atomic.Bool
	stopped atomic.Bool

	mu   sync.Mutex
	sent []bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started.Store(true)
	if m.err != nil {
		return m.err
	}
	<-ctx.Done()
	return nil
}

func (m *mockChannel) Stop() error { m.stopped.Store(true); return nil }

func (m *mockChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *mockChannel) IsRunning() bool { return m.started.Load() && !m.stopped.Load() }

type typingMock struct {
	mockChannel
	typed []string
}

func (m *typingMock) Typing(_ context.Context, chatID string) error {
	m.typed = append(m.typed, chatID)
	return nil
}

func TestManager_Register(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	mgr.Register(&mockChannel{name: "b"})
	mgr.Register(&mockChannel{name: "a"})
	assert.Equal(t, []string{"a", "b"}, mgr.EnabledChannels())
}

func TestManager_Get(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	ch := &mockChannel{name: "telegram"}
	mgr.Register(ch)
	assert.Equal(t, ch, mgr.Get("telegram"))
	assert.Nil(t, mgr.Get("nonexistent"))
}

func TestManager_SendRoutesByChannel(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	tg := &mockChannel{name: "telegram"}
	wa := &mockChannel{name: "whatsapp"}
	mgr.Register(tg)
	mgr.Register(wa)

	require.NoError(t, mgr.Send(context.Background(), bus.OutboundMessage{Channel: "whatsapp", ChatID: "1", Content: "x"}))
	assert.Empty(t, tg.sent)
	assert.Len(t, wa.sent, 1)

	err := mgr.Send(context.Background(), bus.OutboundMessage{Channel: "slack"})
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestManager_Typing(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	tg := &typingMock{mockChannel: mockChannel{name: "telegram"}}
	mgr.Register(tg)
	mgr.Register(&mockChannel{name: "plain"})

	require.NoError(t, mgr.Typing(context.Background(), bus.ChatRef{Channel: "telegram", ChatID: "100"}))
	require.NoError(t, mgr.Typing(context.Background(), bus.ChatRef{Channel: "plain", ChatID: "1"}))
	assert.Equal(t, []string{"100"}, tg.typed)
	assert.ErrorIs(t, mgr.Typing(context.Background(), bus.ChatRef{Channel: "nope"}), ErrUnknownChannel)
}

func TestManager_StartAll_FailureCancelsOthers(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	healthy := &mockChannel{name: "healthy"}
	boom := errors.New("bad credentials")
	mgr.Register(healthy)
	mgr.Register(&mockChannel{name: "broken", err: boom})

	err := mgr.StartAll(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "broken")
	assert.True(t, healthy.started.Load())
}

func TestManager_StartAll_NoChannels(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	assert.NoError(t, mgr.StartAll(context.Background()))
}

func TestManager_StopAll(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	ch1 := &mockChannel{name: "ch1"}
	ch2 := &mockChannel{name: "ch2"}
	mgr.Register(ch1)
	mgr.Register(ch2)
	mgr.StopAll()
	assert.True(t, ch1.stopped.Load())
	assert.True(t, ch2.stopped.Load())
}

func TestManager_GetStatus(t *testing.T) {
	mgr := NewManager(bus.NewMessageBus(), nil)
	up := &mockChannel{name: "up"}
	up.started.Store(true)
	mgr.Register(up)
	mgr.Register(&mockChannel{name: "down"})
	status := mgr.GetStatus()
	assert.True(t, status["up"])
	assert.False(t, status["down"])
}
