package coordinator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dayuer/pacebot/internal/config"
	"github.com/dayuer/pacebot/internal/delay"
	"github.com/dayuer/pacebot/internal/splitter"
)

// DefaultSystemMessage opens every system prompt.
const DefaultSystemMessage = "You're a helpful assistant."

// ReplyMode controls whether the first part of a reply quotes the user's message.
type ReplyMode string

const (
	ReplyModeReply  ReplyMode = "reply"
	ReplyModeAnswer ReplyMode = "answer"
)

// InterruptionPolicy decides what new input does to parts not yet sent.
type InterruptionPolicy string

const (
	InterruptContinue InterruptionPolicy = "continue" // keep delivering
	InterruptCancel   InterruptionPolicy = "cancel"   // drop unsent parts
)

var (
	errUnknownReplyMode    = errors.New("must be reply or answer")
	errUnknownInterruption = errors.New("must be continue or cancel")
	errNotPositive         = errors.New("must be positive")
)

// Settings is a validated ChatConfig. It is immutable; ApplyPatch swaps in a new one.
type Settings struct {
	cfg          config.ChatConfig
	splitter     *splitter.Splitter
	planner      *delay.Planner
	reply        ReplyMode
	interruption InterruptionPolicy
	debounce     time.Duration
	timeout      time.Duration
	system       string
}

// NewSettings validates cfg. Every error is a *config.ConfigurationError.
func NewSettings(cfg config.ChatConfig) (*Settings, error) {
	s := &Settings{cfg: cfg}

	mode, err := splitter.ParseMode(cfg.SplitterMode)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "splitterMode", Value: cfg.SplitterMode, Reason: err}
	}
	if s.splitter, err = splitter.New(mode, cfg.SplitterMinMessageLength); err != nil {
		if errors.Is(err, splitter.ErrUnimplementedMode) {
			return nil, &config.ConfigurationError{Field: "splitterMode", Value: cfg.SplitterMode, Reason: err}
		}
		return nil, &config.ConfigurationError{Field: "splitterMinMessageLength", Value: cfg.SplitterMinMessageLength, Reason: err}
	}

	delayMode, err := delay.ParseMode(cfg.DelayMode)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "delayMode", Value: cfg.DelayMode, Reason: err}
	}
	policy := delay.Policy{
		Mode:        delayMode,
		BeforeFirst: config.Seconds(cfg.DelayBeforeFirstMessage),
		Simple:      config.Seconds(cfg.DelaySimple),
		RandomMin:   config.Seconds(cfg.DelayRandomMin),
		RandomMax:   config.Seconds(cfg.DelayRandomMax),
	}
	if s.planner, err = delay.NewPlanner(policy, nil); err != nil {
		field := "delayMode"
		if errors.Is(err, delay.ErrInvalidPolicy) {
			field = "delayPolicy"
		}
		return nil, &config.ConfigurationError{Field: field, Value: cfg.DelayMode, Reason: err}
	}

	switch r := ReplyMode(strings.ToLower(cfg.ReplyMode)); r {
	case "":
		s.reply = ReplyModeAnswer
	case ReplyModeReply, ReplyModeAnswer:
		s.reply = r
	default:
		return nil, &config.ConfigurationError{Field: "replyMode", Value: cfg.ReplyMode, Reason: errUnknownReplyMode}
	}

	switch p := InterruptionPolicy(strings.ToLower(cfg.InterruptionPolicy)); p {
	case "":
		s.interruption = InterruptContinue
	case InterruptContinue, InterruptCancel:
		s.interruption = p
	default:
		return nil, &config.ConfigurationError{Field: "interruptionPolicy", Value: cfg.InterruptionPolicy, Reason: errUnknownInterruption}
	}

	if cfg.DebounceWindow <= 0 {
		return nil, &config.ConfigurationError{Field: "debounceWindow", Value: cfg.DebounceWindow, Reason: errNotPositive}
	}
	s.debounce = config.Seconds(cfg.DebounceWindow)

	if cfg.GenerationTimeout <= 0 {
		return nil, &config.ConfigurationError{Field: "generationTimeout", Value: cfg.GenerationTimeout, Reason: errNotPositive}
	}
	s.timeout = config.Seconds(cfg.GenerationTimeout)

	s.system = cfg.SystemMessage
	if s.system == "" {
		s.system = DefaultSystemMessage
	}
	if instr := splitter.Instruction(mode); instr != "" {
		s.system += "\n" + instr
	}
	return s, nil
}

// Config returns the raw configuration the settings were built from.
func (s *Settings) Config() config.ChatConfig { return s.cfg }

func (s *Settings) Splitter() *splitter.Splitter { return s.splitter }

func (s *Settings) Planner() *delay.Planner { return s.planner }

func (s *Settings) ReplyMode() ReplyMode { return s.reply }

func (s *Settings) Interruption() InterruptionPolicy { return s.interruption }

func (s *Settings) DebounceWindow() time.Duration { return s.debounce }

func (s *Settings) GenerationTimeout() time.Duration { return s.timeout }

// SystemMessage is the configured prompt followed by the splitter's instruction.
func (s *Settings) SystemMessage() string { return s.system }

// Describe renders the settings for the /settings command and status output.
func (s *Settings) Describe() string {
	c := s.cfg
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %s\n", c.Model)
	fmt.Fprintf(&sb, "Splitter: %s (min %d chars)\n", s.splitter.Mode(), s.splitter.MinPartLength())
	fmt.Fprintf(&sb, "Delay: %s", s.planner.Policy().Mode)
	switch s.planner.Policy().Mode {
	case delay.ModeSimple:
		fmt.Fprintf(&sb, " (%gs)", c.DelaySimple)
	case delay.ModeRandom:
		fmt.Fprintf(&sb, " (%g-%gs)", c.DelayRandomMin, c.DelayRandomMax)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "Reply mode: %s\n", s.reply)
	fmt.Fprintf(&sb, "Debounce: %s, interruption: %s\n", s.debounce, s.interruption)
	fmt.Fprintf(&sb, "Markdown conversion: %t, typing status: %t", c.ConvertToMarkdown, c.DisplayTypingStatus)
	return sb.String()
}
