package channels

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dayuer/pacebot/internal/bus"
)

// ErrUnknownChannel is returned when an outbound message names no registered channel.
var ErrUnknownChannel = errors.New("unknown channel")

// Manager manages all channel instances and routes outbound messages.
// It satisfies the coordinator's sender and typing interfaces.
type Manager struct {
	Bus      *bus.MessageBus
	channels map[string]Channel
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates a channel manager.
func NewManager(msgBus *bus.MessageBus, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		Bus:      msgBus,
		channels: make(map[string]Channel),
		logger:   logger.Named("channels"),
	}
}

// Register adds a channel to the manager.
func (m *Manager) Register(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[ch.Name()] = ch
}

// Get returns a channel by name.
func (m *Manager) Get(name string) Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.channels[name]
}

// EnabledChannels returns the sorted list of registered channel names.
func (m *Manager) EnabledChannels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// StartAll starts all channels concurrently and blocks until they return.
// The first channel to fail cancels the others.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.RLock()
	chans := make(map[string]Channel, len(m.channels))
	for name, ch := range m.channels {
		chans[name] = ch
	}
	m.mu.RUnlock()

	if len(chans) == 0 {
		m.logger.Warn("No channels enabled")
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for name, ch := range chans {
		g.Go(func() error {
			m.logger.Info("Starting channel", zap.String("channel", name))
			if err := ch.Start(gctx); err != nil {
				return fmt.Errorf("channel %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// Send routes msg to the channel it names.
func (m *Manager) Send(ctx context.Context, msg bus.OutboundMessage) error {
	ch := m.Get(msg.Channel)
	if ch == nil {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, msg.Channel)
	}
	return ch.Send(ctx, msg)
}

// Typing shows a typing indicator if the chat's channel supports one.
func (m *Manager) Typing(ctx context.Context, chat bus.ChatRef) error {
	ch := m.Get(chat.Channel)
	if ch == nil {
		return fmt.Errorf("%w: %q", ErrUnknownChannel, chat.Channel)
	}
	if tc, ok := ch.(TypingChannel); ok {
		return tc.Typing(ctx, chat.ChatID)
	}
	return nil
}

// StopAll stops all channels.
func (m *Manager) StopAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for name, ch := range m.channels {
		if err := ch.Stop(); err != nil {
			m.logger.Warn("Stopping channel", zap.String("channel", name), zap.Error(err))
		}
	}
}

// GetStatus returns the running status of all channels.
func (m *Manager) GetStatus() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]bool, len(m.channels))
	for name, ch := range m.channels {
		status[name] = ch.IsRunning()
	}
	return status
}
