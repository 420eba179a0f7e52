// Package bus carries inbound chat messages from channels to the coordinator
// and defines the outbound message shape channels deliver.
package bus

import "time"

// Attachment is a media item that arrived with a message.
type Attachment struct {
	Kind     string `json:"kind"` // "image", "voice", "document", ...
	URL      string `json:"url,omitempty"`
	FileID   string `json:"file_id,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Caption  string `json:"caption,omitempty"`

	// Data holds the downloaded bytes when the channel fetched the file.
	Data []byte `json:"-"`
}

// ChatRef identifies the conversation a message belongs to.
type ChatRef struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
}

func (c ChatRef) String() string {
	return c.Channel + ":" + c.ChatID
}

// InboundMessage is received from a chat channel.
type InboundMessage struct {
	Channel     string         `json:"channel"`
	SenderID    string         `json:"sender_id"`
	ChatID      string         `json:"chat_id"`
	MessageID   string         `json:"message_id,omitempty"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// UserKey returns the key the coordinator partitions state by.
func (m *InboundMessage) UserKey() string {
	return m.Channel + ":" + m.SenderID
}

// Chat returns the conversation the message arrived in.
func (m *InboundMessage) Chat() ChatRef {
	return ChatRef{Channel: m.Channel, ChatID: m.ChatID}
}

// ParseMode values understood by channels.
const (
	ParseModeNone = ""
	ParseModeHTML = "HTML"
)

// OutboundMessage is sent to a chat channel.
type OutboundMessage struct {
	Channel   string         `json:"channel"`
	ChatID    string         `json:"chat_id"`
	Content   string         `json:"content"`
	ReplyTo   string         `json:"reply_to,omitempty"`
	ParseMode string         `json:"parse_mode,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Chat returns the conversation the message is addressed to.
func (m *OutboundMessage) Chat() ChatRef {
	return ChatRef{Channel: m.Channel, ChatID: m.ChatID}
}
