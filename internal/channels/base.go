// Package channels connects chat platforms to the message bus and delivers
// paced reply parts back to them.
package channels

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dayuer/pacebot/internal/bus"
)

// ErrNotConnected is returned by Send when the channel has no live connection.
var ErrNotConnected = errors.New("channel not connected")

// Channel is the interface that all chat platform integrations must implement.
type Channel interface {
	// Name returns the channel identifier (e.g., "telegram", "whatsapp").
	Name() string

	// Start connects to the platform and begins listening. Blocks until ctx is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the channel.
	Stop() error

	// Send delivers an outbound message through this channel.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning returns whether the channel is active.
	IsRunning() bool
}

// TypingChannel is implemented by channels that can show a typing indicator.
type TypingChannel interface {
	Typing(ctx context.Context, chatID string) error
}

// BaseChannel provides shared logic for all channel implementations.
type BaseChannel struct {
	ChannelName string
	Bus         *bus.MessageBus
	AllowFrom   []string
	Logger      *zap.Logger

	running atomic.Bool
}

func newBase(name string, allowFrom []string, msgBus *bus.MessageBus, logger *zap.Logger) BaseChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return BaseChannel{
		ChannelName: name,
		Bus:         msgBus,
		AllowFrom:   allowFrom,
		Logger:      logger.Named(name),
	}
}

// IsRunning returns whether the channel is listening.
func (b *BaseChannel) IsRunning() bool { return b.running.Load() }

func (b *BaseChannel) setRunning(v bool) { b.running.Store(v) }

// IsAllowed checks if a sender is permitted to interact with the bot.
// senderID may carry aliases separated by "|" (e.g. "12345|alice").
func (b *BaseChannel) IsAllowed(senderID string) bool {
	if len(b.AllowFrom) == 0 {
		return true
	}
	for _, part := range strings.Split(senderID, "|") {
		if part != "" && slices.Contains(b.AllowFrom, part) {
			return true
		}
	}
	return false
}

// HandleMessage checks permissions against allowID and publishes msg to the bus.
// It reports whether the message was published.
func (b *BaseChannel) HandleMessage(ctx context.Context, allowID string, msg bus.InboundMessage) bool {
	if !b.IsAllowed(allowID) {
		b.logger().Debug("Dropping message from unlisted sender", zap.String("sender", allowID))
		return false
	}
	msg.Channel = b.ChannelName
	if err := b.Bus.PublishInbound(ctx, msg); err != nil {
		b.logger().Warn("Publishing inbound message", zap.String("sender", msg.SenderID), zap.Error(err))
		return false
	}
	return true
}

func (b *BaseChannel) logger() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}
