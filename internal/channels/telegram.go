package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	"go.uber.org/zap"

	"github.com/dayuer/pacebot/internal/bus"
)

// ErrMissingToken is returned when a channel is configured without credentials.
var ErrMissingToken = errors.New("bot token not configured")

// maxImageBytes caps photo downloads handed to the model.
const maxImageBytes = 10 << 20

// TelegramChannel implements the Telegram bot channel using long polling.
type TelegramChannel struct {
	BaseChannel
	bot *telego.Bot

	// now stamps inbound messages with their arrival time.
	now func() time.Time
	// files fetches photo bytes; the download URL carries the bot token and
	// never leaves this channel.
	files *http.Client

	mu       sync.Mutex
	botUser  string
	menu     []telego.BotCommand
	cancelFn context.CancelFunc
}

// NewTelegramChannel creates a TelegramChannel. Extra bot options (API
// server, HTTP client) are passed through to telego.
func NewTelegramChannel(token string, allowFrom []string, msgBus *bus.MessageBus, logger *zap.Logger, opts ...telego.BotOption) (*TelegramChannel, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram: %w", ErrMissingToken)
	}
	t := &TelegramChannel{
		BaseChannel: newBase("telegram", allowFrom, msgBus, logger),
		now:         time.Now,
		files:       &http.Client{Timeout: 30 * time.Second},
	}
	opts = append([]telego.BotOption{telego.WithLogger(t.Logger.Sugar())}, opts...)
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	t.bot = bot
	return t, nil
}

func (t *TelegramChannel) Name() string { return "telegram" }

// Start begins long polling for Telegram updates.
func (t *TelegramChannel) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	t.mu.Lock()
	t.cancelFn = cancel
	t.mu.Unlock()

	me, err := t.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	t.mu.Lock()
	t.botUser = me.Username
	t.mu.Unlock()
	t.Logger.Info("Telegram bot connected", zap.String("username", me.Username))
	t.publishMenu(ctx)

	updates, err := t.bot.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		return fmt.Errorf("telegram long polling: %w", err)
	}

	t.setRunning(true)
	defer t.setRunning(false)
	for update := range updates {
		if update.Message != nil {
			t.processMessage(ctx, update.Message)
		}
	}
	return nil
}

// Stop stops the Telegram bot.
func (t *TelegramChannel) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelFn != nil {
		t.cancelFn()
	}
	return nil
}

// SetCommands sets the command menu published to Telegram when the channel starts.
func (t *TelegramChannel) SetCommands(menu []telego.BotCommand) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.menu = menu
}

func (t *TelegramChannel) publishMenu(ctx context.Context) {
	t.mu.Lock()
	menu := t.menu
	t.mu.Unlock()
	if len(menu) == 0 {
		return
	}
	if err := t.bot.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: menu}); err != nil {
		t.Logger.Warn("Setting command menu failed", zap.Error(err))
	}
}

// BotUsername returns the bot's @username once connected.
func (t *TelegramChannel) BotUsername() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUser
}

// Send sends a message via Telegram. The first part of a reply quotes the
// user's message when ReplyTo is set. If Telegram rejects the HTML, the
// part is resent as plain text.
func (t *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", msg.ChatID, err)
	}
	params := &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: chatID},
		Text:      msg.Content,
		ParseMode: msg.ParseMode,
	}
	if msg.ReplyTo != "" {
		if id, err := strconv.Atoi(msg.ReplyTo); err == nil {
			params.ReplyParameters = &telego.ReplyParameters{MessageID: id, AllowSendingWithoutReply: true}
		}
	}

	_, err = t.bot.SendMessage(ctx, params)
	if err != nil && params.ParseMode != "" {
		t.Logger.Debug("HTML rejected, retrying as plain text", zap.String("chat", msg.ChatID), zap.Error(err))
		params.ParseMode = ""
		params.Text = PlainText(msg.Content)
		_, err = t.bot.SendMessage(ctx, params)
	}
	if err != nil {
		return fmt.Errorf("telegram sendMessage: %w", err)
	}
	return nil
}

// Typing shows the "typing…" chat action.
func (t *TelegramChannel) Typing(ctx context.Context, chatID string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram chat id %q: %w", chatID, err)
	}
	return t.bot.SendChatAction(ctx, &telego.SendChatActionParams{
		ChatID: telego.ChatID{ID: id},
		Action: telego.ChatActionTyping,
	})
}

func (t *TelegramChannel) processMessage(ctx context.Context, m *telego.Message) {
	if m.From == nil || m.From.IsBot {
		return
	}
	senderID := strconv.FormatInt(m.From.ID, 10)
	allowID := senderID
	if m.From.Username != "" {
		allowID += "|" + m.From.Username
	}

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	atts := telegramAttachments(m)
	if text == "" && len(atts) == 0 {
		return
	}
	if t.IsAllowed(allowID) {
		t.resolveImages(ctx, atts)
	}

	t.HandleMessage(ctx, allowID, bus.InboundMessage{
		SenderID:    senderID,
		ChatID:      strconv.FormatInt(m.Chat.ID, 10),
		MessageID:   strconv.Itoa(m.MessageID),
		Content:     text,
		Timestamp:   t.now(),
		Attachments: atts,
		Metadata: map[string]any{
			"username":  m.From.Username,
			"chat_type": m.Chat.Type,
			"sent_at":   m.Date,
		},
	})
}

func telegramAttachments(m *telego.Message) []bus.Attachment {
	var out []bus.Attachment
	if n := len(m.Photo); n > 0 {
		// sizes are ascending; keep the largest
		out = append(out, bus.Attachment{Kind: "image", FileID: m.Photo[n-1].FileID, Caption: m.Caption})
	}
	if m.Voice != nil {
		out = append(out, bus.Attachment{Kind: "voice", FileID: m.Voice.FileID, MimeType: m.Voice.MimeType})
	}
	if m.Document != nil {
		out = append(out, bus.Attachment{Kind: "document", FileID: m.Document.FileID, MimeType: m.Document.MimeType, Caption: m.Document.FileName})
	}
	return out
}

// resolveImages downloads photo attachments in place. A failed download
// leaves the attachment as a bare file reference.
func (t *TelegramChannel) resolveImages(ctx context.Context, atts []bus.Attachment) {
	for i := range atts {
		a := &atts[i]
		if a.Kind != "image" || a.FileID == "" {
			continue
		}
		data, err := t.download(ctx, a.FileID)
		if err != nil {
			t.Logger.Warn("Photo download failed", zap.String("file_id", a.FileID), zap.Error(err))
			continue
		}
		a.Data = data
		if a.MimeType == "" {
			a.MimeType = http.DetectContentType(data)
		}
	}
}

func (t *TelegramChannel) download(ctx context.Context, fileID string) ([]byte, error) {
	f, err := t.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("telegram getFile: %w", err)
	}
	if f.FilePath == "" {
		return nil, errors.New("telegram getFile: no file path")
	}
	if f.FileSize > maxImageBytes {
		return nil, fmt.Errorf("telegram file is %d bytes, limit %d", f.FileSize, maxImageBytes)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.bot.FileDownloadURL(f.FilePath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := t.files.Do(req)
	if err != nil {
		// the request URL embeds the token
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("telegram file download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram file download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("telegram file download: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("telegram file exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}
