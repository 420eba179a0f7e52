package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dayuer/pacebot/internal/coordinator"
	"github.com/dayuer/pacebot/internal/providers"
	"github.com/dayuer/pacebot/internal/settings"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pacebot configuration status",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "pacebot status")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Config: %s\n", resolvedConfigPath())

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	store, closeStore := openStore(ctx, cfg)
	defer closeStore()
	chat := effectiveChat(ctx, cfg.Chat, store)

	if spec := providers.FindByModel(chat.Model); spec != nil {
		fmt.Fprintf(out, "Provider: %s\n", spec.Label())
	} else if cfg.Agent.APIBase != "" {
		fmt.Fprintf(out, "Provider: %s\n", cfg.Agent.APIBase)
	}
	switch store.(type) {
	case *settings.RedisStore:
		fmt.Fprintln(out, "Settings store: redis")
	default:
		fmt.Fprintln(out, "Settings store: memory (overrides reset on restart)")
	}

	fmt.Fprintln(out, "\nChannels:")
	fmt.Fprintf(out, "  Telegram: %s\n", mark(cfg.Channel.Telegram.Token != ""))
	fmt.Fprintf(out, "  WhatsApp: %s\n", mark(cfg.Channel.WhatsApp.BridgeURL != ""))

	fmt.Fprintln(out)
	st, err := coordinator.NewSettings(chat)
	if err != nil {
		fmt.Fprintf(out, "Chat settings are invalid: %v\n", err)
		return err
	}
	fmt.Fprintln(out, st.Describe())
	return nil
}

func mark(ok bool) string {
	if ok {
		return "enabled"
	}
	return "off"
}
