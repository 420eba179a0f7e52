// Package coordinator paces AI replies so they read like a person typing.
//
// Per user it:
//   - Buffers incoming messages and debounces bursts (one debounce_check per user)
//   - Runs at most one generation at a time, on its own goroutine
//   - Splits the reply into parts and schedules one send_part activation per part
//   - Delivers parts in planned order under a per-user delivery lock
//
// All waiting is done by the injected scheduler. Handlers never sleep.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dayuer/pacebot/internal/bus"
	"github.com/dayuer/pacebot/internal/config"
	"github.com/dayuer/pacebot/internal/providers"
	"github.com/dayuer/pacebot/internal/scheduler"
)

const (
	sweepJobKey    = "outgoing_sweep"
	livenessJobKey = "liveness_check"
)

var (
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("coordinator stopped")
	// ErrMissingDependency is returned by New when a required collaborator is nil.
	ErrMissingDependency = errors.New("missing dependency")
)

// Sender delivers one outbound message.
type Sender interface {
	Send(ctx context.Context, msg bus.OutboundMessage) error
}

// Typer is implemented by senders that can show a typing indicator.
type Typer interface {
	Typing(ctx context.Context, chat bus.ChatRef) error
}

// Converter rewrites part text into the channel's markup.
type Converter func(string) string

// Options wires the coordinator's collaborators and housekeeping intervals.
type Options struct {
	Scheduler scheduler.Scheduler // required
	Streamer  providers.Streamer  // required
	Sender    Sender              // required
	Convert   Converter           // used when convertToMarkdown is on; output is sent as HTML
	Logger    *zap.Logger
	OnEvent   EventHandler

	SweepInterval    time.Duration // default 1s
	LivenessInterval time.Duration // default 1m
	IdleTTL          time.Duration // zero keeps idle users forever
	MaxUsers         int           // zero means unlimited
	SendTimeout      time.Duration // default 30s

	MaxTokens   int
	Temperature float64

	// NewID generates part and batch ids. Defaults to uuid.NewString.
	NewID func() string
}

// WithRuntime fills the housekeeping fields from config.
func (o Options) WithRuntime(rt config.RuntimeConfig) Options {
	o.SweepInterval = config.Seconds(rt.SweepInterval)
	o.LivenessInterval = config.Seconds(rt.LivenessInterval)
	o.IdleTTL = config.Seconds(rt.IdleTTL)
	o.MaxUsers = rt.MaxUsers
	return o
}

type userState struct {
	id              string
	incoming        []IncomingMessage
	outgoing        outgoingQueue
	generating      bool
	generatingSince time.Time
	lastActivity    time.Time

	// deliverMu serializes sends so parts leave in queue order.
	deliverMu sync.Mutex
}

func (st *userState) idle() bool {
	return !st.generating && len(st.incoming) == 0 && st.outgoing.Len() == 0
}

// Stats is a snapshot of coordinator load.
type Stats struct {
	Users          int
	Generating     int
	QueuedIncoming int
	QueuedParts    int
}

// Coordinator owns all per-user state. Create with New.
type Coordinator struct {
	sched    scheduler.Scheduler
	streamer providers.Streamer
	sender   Sender
	convert  Converter
	logger   *zap.Logger
	onEvent  EventHandler
	opts     Options

	settings atomic.Pointer[Settings]

	mu      sync.Mutex
	users   map[string]*userState
	seq     uint64
	started bool
	stopped bool

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a coordinator. Call Start before feeding it messages.
func New(settings *Settings, opts Options) (*Coordinator, error) {
	switch {
	case settings == nil:
		return nil, fmt.Errorf("%w: settings", ErrMissingDependency)
	case opts.Scheduler == nil:
		return nil, fmt.Errorf("%w: scheduler", ErrMissingDependency)
	case opts.Streamer == nil:
		return nil, fmt.Errorf("%w: streamer", ErrMissingDependency)
	case opts.Sender == nil:
		return nil, fmt.Errorf("%w: sender", ErrMissingDependency)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Second
	}
	if opts.LivenessInterval <= 0 {
		opts.LivenessInterval = time.Minute
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 30 * time.Second
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		sched:    opts.Scheduler,
		streamer: opts.Streamer,
		sender:   opts.Sender,
		convert:  opts.Convert,
		logger:   opts.Logger.Named("coordinator"),
		onEvent:  opts.OnEvent,
		opts:     opts,
		users:    make(map[string]*userState),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.settings.Store(settings)
	return c, nil
}

// Start registers the periodic outgoing sweep and liveness check.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}
	if c.started {
		return nil
	}
	if err := c.sched.Every(sweepJobKey, c.opts.SweepInterval, c.sweep); err != nil {
		return fmt.Errorf("register outgoing sweep: %w", err)
	}
	if err := c.sched.Every(livenessJobKey, c.opts.LivenessInterval, c.liveness); err != nil {
		c.sched.Cancel(sweepJobKey)
		return fmt.Errorf("register liveness check: %w", err)
	}
	c.started = true
	c.logger.Info("Coordinator started",
		zap.Duration("sweep", c.opts.SweepInterval),
		zap.Duration("liveness", c.opts.LivenessInterval))
	return nil
}

// Stop cancels every pending activation and in-flight generation and waits
// for generation goroutines to exit. Safe to call more than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		c.sched.Cancel(sweepJobKey)
		c.sched.Cancel(livenessJobKey)
		debounces := c.sched.CancelPrefix(string(KindDebounceCheck) + ":")
		parts := c.sched.CancelPrefix(string(KindSendPart) + ":")
		c.cancel()
		c.wg.Wait()

		c.logger.Info("Coordinator stopped",
			zap.Int("cancelledDebounces", debounces),
			zap.Int("cancelledParts", parts))
	})
}

// Settings returns the active settings.
func (c *Coordinator) Settings() *Settings { return c.settings.Load() }

// ApplyPatch validates the patched configuration and swaps it in atomically.
// Batches already generating keep the settings they started with.
func (c *Coordinator) ApplyPatch(patch config.ChatPatch) (*Settings, error) {
	for {
		cur := c.settings.Load()
		next, err := NewSettings(patch.Apply(cur.Config()))
		if err != nil {
			return nil, err
		}
		if c.settings.CompareAndSwap(cur, next) {
			c.logger.Info("Settings updated", zap.String("model", next.Config().Model),
				zap.String("splitter", string(next.Splitter().Mode())),
				zap.String("delay", string(next.Planner().Policy().Mode)))
			return next, nil
		}
	}
}

// Replace validates cfg and makes it the active configuration, e.g. after a
// config file reload. On error the active settings are kept.
func (c *Coordinator) Replace(cfg config.ChatConfig) (*Settings, error) {
	next, err := NewSettings(cfg)
	if err != nil {
		return nil, err
	}
	c.settings.Store(next)
	c.logger.Info("Settings replaced", zap.String("model", cfg.Model))
	return next, nil
}

// HandleIncoming queues msg and (re)arms the user's debounce check. It never fails.
func (c *Coordinator) HandleIncoming(userID string, msg IncomingMessage) {
	settings := c.settings.Load()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		c.logger.Debug("Dropping message after stop", zap.String("user", userID))
		return
	}
	now := c.sched.Now()
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = now
	}
	st := c.user(userID)
	st.incoming = append(st.incoming, msg)
	st.lastActivity = now

	cancelled := 0
	if settings.Interruption() == InterruptCancel && st.outgoing.Len() > 0 {
		cancelled = st.outgoing.Len()
		st.outgoing = nil
		c.sched.CancelPrefix(sendPartPrefix(userID))
	}
	c.armDebounce(userID, now.Add(settings.DebounceWindow()), newestReceived(st.incoming))
	c.mu.Unlock()

	if cancelled > 0 {
		c.logger.Debug("Interrupted pending parts", zap.String("user", userID), zap.Int("parts", cancelled))
		c.emit(Event{Kind: EventPartsCancelled, UserID: userID, Chat: msg.Chat, Count: cancelled})
	}
}

// OnActivation runs a fired activation.
func (c *Coordinator) OnActivation(a Activation) {
	switch a.Kind() {
	case KindDebounceCheck:
		p, _ := a.DebounceCheck()
		c.onDebounce(a.UserID, p)
	case KindSendPart:
		p, _ := a.SendPart()
		c.deliverDue(a.UserID, p.PartID)
	default:
		c.logger.Warn("Ignoring activation without payload", zap.String("user", a.UserID))
	}
}

// Stats returns a snapshot of the coordinator's load.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{Users: len(c.users)}
	for _, st := range c.users {
		if st.generating {
			s.Generating++
		}
		s.QueuedIncoming += len(st.incoming)
		s.QueuedParts += st.outgoing.Len()
	}
	return s
}

// user returns the state for userID, creating it. Caller holds c.mu.
func (c *Coordinator) user(userID string) *userState {
	st, ok := c.users[userID]
	if !ok {
		st = &userState{id: userID}
		c.users[userID] = st
	}
	return st
}

// armDebounce replaces the user's debounce job. Caller holds c.mu.
func (c *Coordinator) armDebounce(userID string, at, after time.Time) {
	a, err := NewDebounceCheck(userID, at, after)
	if err != nil {
		c.logger.Error("Building debounce check", zap.String("user", userID), zap.Error(err))
		return
	}
	if err := c.sched.Replace(a.JobKey(), a.ScheduledAt, func() { c.OnActivation(a) }); err != nil {
		c.logger.Error("Scheduling debounce check", zap.String("user", userID), zap.Error(err))
	}
}

func (c *Coordinator) onDebounce(userID string, p DebounceCheck) {
	settings := c.settings.Load()

	c.mu.Lock()
	st, ok := c.users[userID]
	if c.stopped || !ok || len(st.incoming) == 0 {
		c.mu.Unlock()
		return
	}
	for _, m := range st.incoming {
		if m.ReceivedAt.After(p.After) {
			// a newer message re-armed the check
			c.mu.Unlock()
			return
		}
	}
	if st.generating {
		c.mu.Unlock()
		c.logger.Debug("Generation in flight, keeping messages queued", zap.String("user", userID))
		return
	}

	batch := st.incoming
	st.incoming = nil
	st.generating = true
	st.generatingSince = c.sched.Now()
	ctx, cancel := context.WithTimeout(c.ctx, settings.GenerationTimeout())
	c.wg.Add(1)
	c.mu.Unlock()

	go c.generate(ctx, cancel, st, batch, settings)
}

func (c *Coordinator) generate(ctx context.Context, cancel context.CancelFunc, st *userState, batch []IncomingMessage, settings *Settings) {
	defer c.wg.Done()
	defer cancel()
	defer c.finishGeneration(st)

	last := batch[len(batch)-1]
	log := c.logger.With(zap.String("user", st.id), zap.Int("messages", len(batch)))
	log.Debug("Generating reply")
	c.emit(Event{Kind: EventGenerationStarted, UserID: st.id, Chat: last.Chat, Count: len(batch)})

	if settings.Config().DisplayTypingStatus {
		c.typing(ctx, last.Chat)
	}

	cfg := settings.Config()
	text, err := providers.Collect(ctx, c.streamer, providers.StreamRequest{
		Input:         joinTexts(batch),
		UserID:        st.id,
		Attachments:   attachments(batch),
		Model:         cfg.Model,
		SystemMessage: settings.SystemMessage(),
		MaxTokens:     c.opts.MaxTokens,
		Temperature:   c.opts.Temperature,
	})
	if err != nil {
		c.generationFailed(log, st, last.Chat, settings, err)
		return
	}

	parts := nonBlank(settings.Splitter().Split(text))
	if len(parts) == 0 {
		c.generationFailed(log, st, last.Chat, settings, providers.ErrEmptyStream)
		return
	}
	c.schedule(st, batch, parts, settings)
}

func (c *Coordinator) generationFailed(log *zap.Logger, st *userState, chat bus.ChatRef, settings *Settings, err error) {
	if c.ctx.Err() != nil {
		log.Debug("Generation cancelled by stop")
		return
	}
	log.Warn("Generation failed, dropping batch", zap.Error(err))
	c.emit(Event{Kind: EventGenerationFailed, UserID: st.id, Chat: chat, Err: err})

	if notice := settings.Config().FailureNotice; notice != "" {
		ctx, cancel := context.WithTimeout(c.ctx, c.opts.SendTimeout)
		defer cancel()
		out := bus.OutboundMessage{Channel: chat.Channel, ChatID: chat.ChatID, Content: notice}
		if err := c.sender.Send(ctx, out); err != nil {
			log.Warn("Sending failure notice", zap.Error(err))
		}
	}
}

// schedule queues parts and arms one send_part per part.
func (c *Coordinator) schedule(st *userState, batch []IncomingMessage, parts []string, settings *Settings) {
	last := batch[len(batch)-1]
	cfg := settings.Config()

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if settings.Interruption() == InterruptCancel && len(st.incoming) > 0 {
		c.mu.Unlock()
		c.logger.Debug("Discarding reply overtaken by new input", zap.String("user", st.id))
		c.emit(Event{Kind: EventPartsCancelled, UserID: st.id, Chat: last.Chat, Count: len(parts)})
		return
	}

	start := c.sched.Now()
	if tail := st.outgoing.tail(); tail != nil && tail.PlannedSendAt.After(start) {
		start = tail.PlannedSendAt
	}
	times := settings.Planner().Plan(start, len(parts))
	replyFirst := settings.ReplyMode() == ReplyModeReply || (cfg.AutoSwitchToReply && len(batch) > 1)

	batchID := c.opts.NewID()
	msgs := make([]*OutgoingMessage, len(parts))
	for i, text := range parts {
		c.seq++
		m := &OutgoingMessage{
			ID:            c.opts.NewID(),
			BatchID:       batchID,
			Content:       text,
			PlannedSendAt: times[i],
			Chat:          last.Chat,
			Index:         i,
			Total:         len(parts),
			seq:           c.seq,
		}
		if i == 0 && replyFirst {
			m.ReplyTo = last.MessageID
		}
		st.outgoing.push(m)
		msgs[i] = m
	}
	// registered under c.mu so Stop's bulk cancel sees every part
	for _, m := range msgs {
		a, err := NewSendPart(st.id, m.PlannedSendAt, m.ID, m.Index)
		if err == nil {
			err = c.sched.Schedule(a.ScheduledAt, a.JobKey(), func() { c.OnActivation(a) })
		}
		if err != nil {
			// the sweep still delivers it once due
			c.logger.Warn("Scheduling part", zap.String("user", st.id), zap.String("part", m.ID), zap.Error(err))
		}
	}
	c.mu.Unlock()

	c.logger.Debug("Parts scheduled", zap.String("user", st.id), zap.Int("parts", len(msgs)),
		zap.Time("first", times[0]), zap.Time("last", times[len(times)-1]))
	c.emit(Event{Kind: EventPartsScheduled, UserID: st.id, Chat: last.Chat, Count: len(msgs)})
}

// finishGeneration releases the generating flag and re-arms a debounce check
// for messages that arrived meanwhile.
func (c *Coordinator) finishGeneration(st *userState) {
	settings := c.settings.Load()

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.sched.Now()
	st.generating = false
	st.lastActivity = now
	if c.stopped || len(st.incoming) == 0 {
		return
	}
	newest := newestReceived(st.incoming)
	at := newest.Add(settings.DebounceWindow())
	if at.Before(now) {
		at = now
	}
	c.armDebounce(st.id, at, newest)
}

// deliverDue sends queued parts from the head of the user's queue. With a
// target it delivers up to and including that part, and does nothing if the
// part is gone. Without one it delivers every part already due.
func (c *Coordinator) deliverDue(userID, target string) {
	c.mu.Lock()
	st, ok := c.users[userID]
	stopped := c.stopped
	c.mu.Unlock()
	if !ok || stopped {
		return
	}

	st.deliverMu.Lock()
	defer st.deliverMu.Unlock()

	settings := c.settings.Load()
	for {
		c.mu.Lock()
		if c.stopped || (target != "" && !st.outgoing.contains(target)) {
			c.mu.Unlock()
			return
		}
		head := st.outgoing.peek()
		if head == nil || (target == "" && head.PlannedSendAt.After(c.sched.Now())) {
			c.mu.Unlock()
			return
		}
		st.outgoing.pop()
		st.lastActivity = c.sched.Now()
		more := st.outgoing.Len() > 0
		c.mu.Unlock()

		if head.ID != target {
			c.sched.Cancel(SendPartKey(userID, head.ID))
		}
		c.send(userID, head, settings)
		if more && settings.Config().DisplayTypingStatus {
			c.typing(c.ctx, head.Chat)
		}
	}
}

func (c *Coordinator) send(userID string, m *OutgoingMessage, settings *Settings) {
	out := bus.OutboundMessage{
		Channel: m.Chat.Channel,
		ChatID:  m.Chat.ChatID,
		Content: m.Content,
		ReplyTo: m.ReplyTo,
	}
	if settings.Config().ConvertToMarkdown && c.convert != nil {
		out.Content = c.convert(m.Content)
		out.ParseMode = bus.ParseModeHTML
	}

	ctx, cancel := context.WithTimeout(c.ctx, c.opts.SendTimeout)
	err := c.sender.Send(ctx, out)
	cancel()
	if err != nil {
		c.logger.Warn("Delivering part failed, continuing",
			zap.String("user", userID), zap.String("part", m.ID), zap.Error(err))
		c.emit(Event{Kind: EventDeliveryFailed, UserID: userID, Chat: m.Chat, PartID: m.ID, Err: err})
		return
	}
	c.emit(Event{Kind: EventPartSent, UserID: userID, Chat: m.Chat, PartID: m.ID})
}

func (c *Coordinator) typing(ctx context.Context, chat bus.ChatRef) {
	t, ok := c.sender.(Typer)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.opts.SendTimeout)
	defer cancel()
	if err := t.Typing(ctx, chat); err != nil {
		c.logger.Debug("Typing indicator failed", zap.String("chat", chat.String()), zap.Error(err))
	}
}

// sweep delivers due parts for every user, catching parts whose send_part job
// could not be scheduled or was dropped as a misfire.
func (c *Coordinator) sweep() {
	c.mu.Lock()
	now := c.sched.Now()
	var due []string
	for id, st := range c.users {
		if head := st.outgoing.peek(); head != nil && !head.PlannedSendAt.After(now) {
			due = append(due, id)
		}
	}
	c.mu.Unlock()

	for _, id := range due {
		c.deliverDue(id, "")
	}
}

// liveness logs load and evicts idle users.
func (c *Coordinator) liveness() {
	settings := c.settings.Load()

	c.mu.Lock()
	now := c.sched.Now()
	var idle []*userState
	stuck := 0
	for _, st := range c.users {
		if st.generating && now.Sub(st.generatingSince) > 2*settings.GenerationTimeout() {
			stuck++
		}
		if st.idle() {
			idle = append(idle, st)
		}
	}

	evicted := 0
	if c.opts.IdleTTL > 0 {
		idle = slices.DeleteFunc(idle, func(st *userState) bool {
			if now.Sub(st.lastActivity) < c.opts.IdleTTL {
				return false
			}
			delete(c.users, st.id)
			evicted++
			return true
		})
	}
	if c.opts.MaxUsers > 0 && len(c.users) > c.opts.MaxUsers {
		slices.SortFunc(idle, func(a, b *userState) int { return a.lastActivity.Compare(b.lastActivity) })
		for _, st := range idle {
			if len(c.users) <= c.opts.MaxUsers {
				break
			}
			delete(c.users, st.id)
			evicted++
		}
	}
	users := len(c.users)
	c.mu.Unlock()

	stats := c.Stats()
	c.logger.Info("Coordinator alive",
		zap.Int("users", users),
		zap.Int("generating", stats.Generating),
		zap.Int("queuedParts", stats.QueuedParts),
		zap.Int("evicted", evicted))
	if stuck > 0 {
		c.logger.Warn("Generations running past twice the timeout", zap.Int("count", stuck))
	}
	if evicted > 0 {
		c.emit(Event{Kind: EventUsersEvicted, Count: evicted})
	}
}

func (c *Coordinator) emit(e Event) {
	if c.onEvent != nil {
		c.onEvent(e)
	}
}

func newestReceived(msgs []IncomingMessage) time.Time {
	var newest time.Time
	for _, m := range msgs {
		if m.ReceivedAt.After(newest) {
			newest = m.ReceivedAt
		}
	}
	return newest
}

func nonBlank(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}
