package bus

import (
	"context"
)

// DefaultBufferSize is the inbound buffer used by NewMessageBus.
const DefaultBufferSize = 100

// MessageBus routes inbound messages from channels to a single consumer.
type MessageBus struct {
	Inbound chan InboundMessage
}

// NewMessageBus creates a new message bus with a buffered inbound channel.
func NewMessageBus() *MessageBus {
	return &MessageBus{
		Inbound: make(chan InboundMessage, DefaultBufferSize),
	}
}

// PublishInbound hands a message from a channel to the consumer.
// Blocks while the buffer is full; returns ctx.Err() if ctx ends first.
func (b *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	select {
	case b.Inbound <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConsumeInbound calls fn for every inbound message until ctx is cancelled.
func (b *MessageBus) ConsumeInbound(ctx context.Context, fn func(InboundMessage)) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.Inbound:
			fn(msg)
		}
	}
}

// InboundSize returns the number of pending inbound messages.
func (b *MessageBus) InboundSize() int {
	return len(b.Inbound)
}
