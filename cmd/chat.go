package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/pacebot/internal/bus"
	"github.com/dayuer/pacebot/internal/channels"
	"github.com/dayuer/pacebot/internal/commands"
	"github.com/dayuer/pacebot/internal/coordinator"
)

const consoleChannel = "console"

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the bot in the terminal with the configured pacing",
	Long: "Reads lines from stdin and prints the paced reply parts as they are delivered.\n" +
		"Slash commands work as in the gateway. Exit with Ctrl-D or /quit.",
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

// consoleSender prints delivered parts with the time since the session started.
type consoleSender struct {
	mu    sync.Mutex
	out   io.Writer
	start time.Time
}

func (s *consoleSender) Send(_ context.Context, msg bus.OutboundMessage) error {
	text := msg.Content
	if msg.ParseMode == bus.ParseModeHTML {
		text = channels.PlainText(text)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prefix := fmt.Sprintf("[%5.1fs] bot", time.Since(s.start).Seconds())
	if msg.ReplyTo != "" {
		prefix += " (reply to #" + msg.ReplyTo + ")"
	}
	_, err := fmt.Fprintf(s.out, "%s: %s\n", prefix, text)
	return err
}

func (s *consoleSender) Typing(context.Context, bus.ChatRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintln(s.out, "  ...typing")
	return err
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	out := cmd.OutOrStdout()
	sender := &consoleSender{out: out, start: time.Now()}
	coord, _, sched, err := newCoordinator(cfg, effectiveChat(ctx, cfg.Chat, store), sender)
	if err != nil {
		return fmt.Errorf("chat settings: %w", err)
	}
	defer sched.Close()
	if err := coord.Start(); err != nil {
		return err
	}
	defer coord.Stop()

	handler := commands.New("Pacebot", coord, store, logger)
	fmt.Fprintln(out, coord.Settings().Describe())
	fmt.Fprintln(out, "Type a message. Ctrl-D or /quit to exit.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	chat := bus.ChatRef{Channel: consoleChannel, ChatID: "local"}
	userKey := consoleChannel + ":" + chat.ChatID
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				drain(ctx, coord)
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
				continue
			case text == "/quit":
				return nil
			case commands.IsCommand(text):
				if reply, ok := handler.Handle(ctx, text); ok {
					fmt.Fprintln(out, reply)
					continue
				}
			}
			seq++
			fmt.Fprintf(out, "[%5.1fs] you #%d\n", time.Since(sender.start).Seconds(), seq)
			coord.HandleIncoming(userKey, coordinator.IncomingMessage{
				Text:      text,
				Chat:      chat,
				MessageID: strconv.Itoa(seq),
			})
		}
	}
}

// drain waits for queued input and pending parts after stdin closes.
func drain(ctx context.Context, coord *coordinator.Coordinator) {
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()
	for {
		s := coord.Stats()
		if s.Generating == 0 && s.QueuedIncoming == 0 && s.QueuedParts == 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
