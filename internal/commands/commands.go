// Package commands answers the bot's slash commands. Settings commands
// change the global chat settings through the coordinator and persist
// the change in the settings store.
package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/dayuer/pacebot/internal/config"
	"github.com/dayuer/pacebot/internal/coordinator"
	"github.com/dayuer/pacebot/internal/delay"
	"github.com/dayuer/pacebot/internal/settings"
	"github.com/dayuer/pacebot/internal/splitter"
)

// Applier is the part of the coordinator commands drive.
type Applier interface {
	Settings() *coordinator.Settings
	ApplyPatch(patch config.ChatPatch) (*coordinator.Settings, error)
}

// Command is one registered slash command.
type Command struct {
	Name        string
	Description string
	run         func(ctx context.Context, arg string) string
}

// Handler dispatches slash commands.
type Handler struct {
	name   string
	coord  Applier
	store  settings.Store
	logger *zap.Logger

	commands []Command
}

// New creates a Handler. botName is used in the greeting; store may be nil.
func New(botName string, coord Applier, store settings.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = settings.NewMemoryStore()
	}
	h := &Handler{name: botName, coord: coord, store: store, logger: logger.Named("commands")}
	h.commands = []Command{
		{"start", "Start the bot", h.start},
		{"help", "Show this help message", h.help},
		{"settings", "Show the current settings", h.showSettings},
		{"set_model", "Set the model", h.setModel},
		{"set_splitter_mode", "Set the splitter mode", h.setSplitterMode},
		{"set_delay_mode", "Set the delay mode", h.setDelayMode},
		{"set_reply_mode", "Set the reply mode", h.setReplyMode},
	}
	return h
}

// Commands returns the registered commands in menu order.
func (h *Handler) Commands() []Command {
	return h.commands
}

// IsCommand reports whether text starts with a slash command.
func IsCommand(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "/")
}

// Parse splits "/name@bot arg" into ("name", "arg").
func Parse(text string) (name, arg string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	name, _, _ = strings.Cut(head, "@")
	return strings.ToLower(name), strings.TrimSpace(rest)
}

// Handle runs the command in text and returns the reply. ok is false when
// text is not a known command.
func (h *Handler) Handle(ctx context.Context, text string) (reply string, ok bool) {
	name, arg := Parse(text)
	if name == "" {
		return "", false
	}
	for _, c := range h.commands {
		if c.Name == name {
			h.logger.Debug("Running command", zap.String("command", name), zap.String("arg", arg))
			return c.run(ctx, arg), true
		}
	}
	return "", false
}

func (h *Handler) start(context.Context, string) string {
	return fmt.Sprintf("Hello!\nWelcome to %s!\nUse /help to see available commands.", h.name)
}

func (h *Handler) help(context.Context, string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "This is %s. Available commands:\n", h.name)
	for _, c := range h.commands {
		fmt.Fprintf(&sb, "/%s - %s\n", c.Name, c.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (h *Handler) showSettings(context.Context, string) string {
	return h.coord.Settings().Describe()
}

func (h *Handler) setModel(ctx context.Context, arg string) string {
	if arg == "" {
		return choices("Select a model", config.SupportedModels, h.coord.Settings().Config().Model, "set_model")
	}
	if !config.IsSupportedModel(arg) {
		return fmt.Sprintf("Unknown model %q.\n\n%s", arg,
			choices("Supported models", config.SupportedModels, "", "set_model"))
	}
	return h.apply(ctx, config.ChatPatch{Model: &arg}, "Model set to "+arg)
}

func (h *Handler) setSplitterMode(ctx context.Context, arg string) string {
	if arg == "" {
		names := make([]string, 0, len(splitter.Modes))
		for _, m := range splitter.Modes {
			if m.Implemented() {
				names = append(names, string(m))
			}
		}
		return choices("Select a splitter mode", names, string(h.coord.Settings().Splitter().Mode()), "set_splitter_mode")
	}
	return h.apply(ctx, config.ChatPatch{SplitterMode: &arg}, "Splitter mode set to "+arg)
}

func (h *Handler) setDelayMode(ctx context.Context, arg string) string {
	if arg == "" {
		names := []string{string(delay.ModeNone), string(delay.ModeSimple), string(delay.ModeRandom)}
		return choices("Select a delay mode", names, string(h.coord.Settings().Planner().Policy().Mode), "set_delay_mode")
	}
	return h.apply(ctx, config.ChatPatch{DelayMode: &arg}, "Delay mode set to "+arg)
}

func (h *Handler) setReplyMode(ctx context.Context, arg string) string {
	if arg == "" {
		names := []string{string(coordinator.ReplyModeReply), string(coordinator.ReplyModeAnswer)}
		return choices("Select a reply mode", names, string(h.coord.Settings().ReplyMode()), "set_reply_mode")
	}
	return h.apply(ctx, config.ChatPatch{ReplyMode: &arg}, "Reply mode set to "+arg)
}

// apply validates and swaps in the patch, then persists it.
func (h *Handler) apply(ctx context.Context, patch config.ChatPatch, done string) string {
	if _, err := h.coord.ApplyPatch(patch); err != nil {
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			return fmt.Sprintf("Not changed: %v", cfgErr)
		}
		return fmt.Sprintf("Not changed: %v", err)
	}
	if _, err := settings.Update(ctx, h.store, patch); err != nil {
		h.logger.Warn("Persisting settings", zap.Error(err))
		return done + " (not saved, it will reset on restart)"
	}
	return done
}

func choices(question string, names []string, current, command string) string {
	var sb strings.Builder
	sb.WriteString(question + ":\n")
	for _, n := range names {
		mark := ""
		if n == current {
			mark = " (current)"
		}
		fmt.Fprintf(&sb, "• %s%s\n", n, mark)
	}
	fmt.Fprintf(&sb, "\nSend /%s <name> to choose.", command)
	return sb.String()
}
