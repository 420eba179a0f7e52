package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dayuer/pacebot/internal/bus"
)

const (
	defaultBridgeURL = "ws://localhost:3001"
	reconnectDelay   = 5 * time.Second
)

// bridgeEvent is a frame received from the WhatsApp bridge.
type bridgeEvent struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	Sender    string `json:"sender,omitempty"`
	PN        string `json:"pn,omitempty"`
	Content   string `json:"content,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	IsGroup   bool   `json:"isGroup,omitempty"`
	Status    string `json:"status,omitempty"`
	Error     string `json:"error,omitempty"`
}

// bridgeCommand is a frame sent to the bridge.
type bridgeCommand struct {
	Type    string `json:"type"`
	To      string `json:"to,omitempty"`
	Text    string `json:"text,omitempty"`
	ReplyTo string `json:"replyTo,omitempty"`
	Token   string `json:"token,omitempty"`
}

// WhatsAppChannel implements the WhatsApp bot channel via a bridge WebSocket.
type WhatsAppChannel struct {
	BaseChannel
	BridgeURL   string
	BridgeToken string

	dialer *websocket.Dialer
	now    func() time.Time

	mu        sync.Mutex // guards conn writes and state
	conn      *websocket.Conn
	connected bool
	cancelFn  context.CancelFunc
}

// NewWhatsAppChannel creates a WhatsAppChannel.
func NewWhatsAppChannel(bridgeURL, bridgeToken string, allowFrom []string, msgBus *bus.MessageBus, logger *zap.Logger) *WhatsAppChannel {
	if bridgeURL == "" {
		bridgeURL = defaultBridgeURL
	}
	return &WhatsAppChannel{
		BaseChannel: newBase("whatsapp", allowFrom, msgBus, logger),
		BridgeURL:   bridgeURL,
		BridgeToken: bridgeToken,
		dialer:      websocket.DefaultDialer,
		now:         time.Now,
	}
}

func (w *WhatsAppChannel) Name() string { return "whatsapp" }

// Start connects to the bridge and reconnects after failures until ctx is cancelled.
func (w *WhatsAppChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancelFn = cancel
	w.mu.Unlock()

	w.setRunning(true)
	defer w.setRunning(false)
	for {
		if err := w.serve(ctx); err != nil && ctx.Err() == nil {
			w.Logger.Warn("WhatsApp bridge connection lost", zap.String("url", w.BridgeURL), zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// serve runs one bridge connection until it fails or ctx ends.
func (w *WhatsAppChannel) serve(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.BridgeURL, http.Header{})
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	w.mu.Lock()
	w.conn = conn
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.connected = false
		w.mu.Unlock()
		conn.Close()
	}()

	if w.BridgeToken != "" {
		if err := w.write(bridgeCommand{Type: "auth", Token: w.BridgeToken}); err != nil {
			return fmt.Errorf("authenticate: %w", err)
		}
	}
	w.Logger.Info("WhatsApp bridge connected", zap.String("url", w.BridgeURL))

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		w.ProcessBridgeMessage(ctx, raw)
	}
}

// Stop stops the WhatsApp channel.
func (w *WhatsAppChannel) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancelFn != nil {
		w.cancelFn()
	}
	return nil
}

// Send sends a message through the WhatsApp bridge. WhatsApp has no HTML,
// so converted parts are stripped back to text.
func (w *WhatsAppChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	text := msg.Content
	if msg.ParseMode == bus.ParseModeHTML {
		text = PlainText(text)
	}
	return w.write(bridgeCommand{Type: "send", To: msg.ChatID, Text: text, ReplyTo: msg.ReplyTo})
}

func (w *WhatsAppChannel) write(cmd bridgeCommand) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return fmt.Errorf("whatsapp bridge: %w", ErrNotConnected)
	}
	return w.conn.WriteJSON(cmd)
}

// ProcessBridgeMessage handles an incoming frame from the bridge.
func (w *WhatsAppChannel) ProcessBridgeMessage(ctx context.Context, raw []byte) {
	var ev bridgeEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		w.Logger.Debug("Ignoring malformed bridge frame", zap.Error(err))
		return
	}

	switch ev.Type {
	case "message":
		userID := ev.PN
		if userID == "" {
			userID = ev.Sender
		}
		senderID, _, _ := strings.Cut(userID, "@")
		if ev.Content == "" {
			return
		}
		w.HandleMessage(ctx, senderID, bus.InboundMessage{
			SenderID:  senderID,
			ChatID:    ev.Sender,
			MessageID: ev.ID,
			Content:   ev.Content,
			Timestamp: w.now(),
			Metadata: map[string]any{
				"is_group": ev.IsGroup,
				"sent_at":  ev.Timestamp,
			},
		})

	case "status":
		w.Logger.Info("WhatsApp status", zap.String("status", ev.Status))
		w.mu.Lock()
		w.connected = ev.Status == "connected"
		w.mu.Unlock()

	case "qr":
		w.Logger.Info("Scan QR code in bridge terminal to connect WhatsApp")

	case "error":
		w.Logger.Warn("WhatsApp bridge error", zap.String("error", ev.Error))
	}
}

// Connected reports whether the bridge says WhatsApp is logged in.
func (w *WhatsAppChannel) Connected() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.connected
}
