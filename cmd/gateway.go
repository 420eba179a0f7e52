package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/mymmrac/telego"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dayuer/pacebot/internal/bus"
	"github.com/dayuer/pacebot/internal/channels"
	"github.com/dayuer/pacebot/internal/commands"
	"github.com/dayuer/pacebot/internal/config"
	"github.com/dayuer/pacebot/internal/coordinator"
	"github.com/dayuer/pacebot/internal/providers"
	"github.com/dayuer/pacebot/internal/settings"
)

var errNoChannels = errors.New("no channels configured: set channel.telegram.token or channel.whatsapp.bridgeUrl")

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the pacebot gateway (channels + coordinator)",
	Long:  "Runs every configured channel and answers users until SIGINT or SIGTERM. SIGHUP reloads the config file.",
	RunE:  runGateway,
}

var botName string

func init() {
	gatewayCmd.Flags().StringVar(&botName, "name", "Pacebot", "bot name used in /start and /help")
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	msgBus := bus.NewMessageBus()
	mgr := channels.NewManager(msgBus, logger)
	if err := registerChannels(mgr, msgBus, cfg); err != nil {
		return err
	}

	store, closeStore := openStore(ctx, cfg)
	defer closeStore()

	chat := effectiveChat(ctx, cfg.Chat, store)
	coord, streamer, sched, err := newCoordinator(cfg, chat, mgr)
	if err != nil {
		return fmt.Errorf("chat settings: %w", err)
	}
	defer sched.Close()
	if err := coord.Start(); err != nil {
		return err
	}
	defer coord.Stop()

	handler := commands.New(botName, coord, store, logger)
	publishMenu(mgr, handler)

	logger.Info("Gateway starting",
		zap.Strings("channels", mgr.EnabledChannels()),
		zap.String("settings", coord.Settings().Describe()))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mgr.StartAll(gctx)
	})
	g.Go(func() error {
		msgBus.ConsumeInbound(gctx, func(msg bus.InboundMessage) {
			route(gctx, msg, handler, coord, mgr)
		})
		return nil
	})
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-hup:
				reload(gctx, coord, streamer, store)
			}
		}
	})

	err = g.Wait()
	mgr.StopAll()
	logger.Info("Gateway stopped", zap.Any("stats", coord.Stats()))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func registerChannels(mgr *channels.Manager, msgBus *bus.MessageBus, cfg config.Config) error {
	if tg := cfg.Channel.Telegram; tg.Token != "" {
		ch, err := channels.NewTelegramChannel(tg.Token, tg.AllowFrom, msgBus, logger)
		if err != nil {
			return fmt.Errorf("telegram: %w", err)
		}
		mgr.Register(ch)
	}
	if wa := cfg.Channel.WhatsApp; wa.BridgeURL != "" {
		mgr.Register(channels.NewWhatsAppChannel(wa.BridgeURL, wa.BridgeToken, wa.AllowFrom, msgBus, logger))
	}
	if len(mgr.EnabledChannels()) == 0 {
		return errNoChannels
	}
	return nil
}

// publishMenu lists the handler's commands in Telegram's command menu.
func publishMenu(mgr *channels.Manager, handler *commands.Handler) {
	tg, ok := mgr.Get("telegram").(*channels.TelegramChannel)
	if !ok {
		return
	}
	var menu []telego.BotCommand
	for _, c := range handler.Commands() {
		menu = append(menu, telego.BotCommand{Command: c.Name, Description: c.Description})
	}
	tg.SetCommands(menu)
}

// route answers bot commands directly and hands everything else to the coordinator.
func route(ctx context.Context, msg bus.InboundMessage, handler *commands.Handler, coord *coordinator.Coordinator, mgr *channels.Manager) {
	if commands.IsCommand(msg.Content) {
		if reply, ok := handler.Handle(ctx, msg.Content); ok {
			err := mgr.Send(ctx, bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: reply,
			})
			if err != nil {
				logger.Warn("Failed to answer command", zap.String("chat", msg.Chat().String()), zap.Error(err))
			}
			return
		}
	}
	coord.HandleIncoming(msg.UserKey(), coordinator.FromInbound(msg))
}

// reload re-reads the config file and swaps in its chat settings and backends.
// Stored overrides still win over the file.
func reload(ctx context.Context, coord *coordinator.Coordinator, streamer *providers.Dynamic, store settings.Store) {
	cfg, err := loadConfig()
	if err != nil {
		logger.Error("Reload failed", zap.Error(err))
		return
	}
	chat := effectiveChat(ctx, cfg.Chat, store)
	if _, err := coord.Replace(chat); err != nil {
		logger.Error("Reload rejected", zap.Error(err))
		return
	}
	streamer.Swap(providers.ForModel(cfg.Agent, chat.Model), func(model string) providers.Streamer {
		return providers.ForModel(cfg.Agent, model)
	})
	logger.Info("Config reloaded", zap.String("path", resolvedConfigPath()))
}
