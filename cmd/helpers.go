package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dayuer/pacebot/internal/channels"
	"github.com/dayuer/pacebot/internal/config"
	"github.com/dayuer/pacebot/internal/coordinator"
	"github.com/dayuer/pacebot/internal/providers"
	"github.com/dayuer/pacebot/internal/redis"
	"github.com/dayuer/pacebot/internal/scheduler"
	"github.com/dayuer/pacebot/internal/settings"
)

func resolvedConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.GetConfigPath()
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// openStore connects the settings store. Without Redis, or when it cannot be
// reached, overrides live in memory until restart.
func openStore(ctx context.Context, cfg config.Config) (settings.Store, func()) {
	client, err := redis.Connect(ctx, redis.Config{
		URL:      cfg.Redis.URL,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}, logger)
	switch {
	case errors.Is(err, redis.ErrNotConfigured):
		return settings.NewMemoryStore(), func() {}
	case err != nil:
		logger.Warn("Redis unavailable, settings will not persist", zap.Error(err))
		return settings.NewMemoryStore(), func() {}
	}
	return settings.NewRedisStore(client, settings.GlobalScope), func() { _ = client.Close() }
}

// effectiveChat returns the configured chat settings with stored overrides applied.
// Overrides that no longer validate are ignored.
func effectiveChat(ctx context.Context, base config.ChatConfig, store settings.Store) config.ChatConfig {
	patch, err := store.Load(ctx)
	if err != nil {
		logger.Warn("Failed to load stored settings", zap.Error(err))
		return base
	}
	if patch.IsEmpty() {
		return base
	}
	merged := patch.Apply(base)
	if _, err := coordinator.NewSettings(merged); err != nil {
		logger.Warn("Ignoring invalid stored settings", zap.Error(err))
		return base
	}
	return merged
}

// newCoordinator builds a coordinator on a wall-clock scheduler.
func newCoordinator(cfg config.Config, chat config.ChatConfig, sender coordinator.Sender) (*coordinator.Coordinator, *providers.Dynamic, *scheduler.TimerScheduler, error) {
	st, err := coordinator.NewSettings(chat)
	if err != nil {
		return nil, nil, nil, err
	}
	streamer := providers.NewDynamicFromConfig(cfg.Agent, chat.Model)
	sched := scheduler.NewTimerScheduler(config.Seconds(cfg.Runtime.MisfireGrace), logger)

	coord, err := coordinator.New(st, coordinator.Options{
		Scheduler:   sched,
		Streamer:    streamer,
		Sender:      sender,
		Convert:     channels.ToTelegramHTML,
		Logger:      logger,
		MaxTokens:   cfg.Agent.MaxTokens,
		Temperature: cfg.Agent.Temperature,
	}.WithRuntime(cfg.Runtime))
	if err != nil {
		sched.Close()
		return nil, nil, nil, err
	}
	return coord, streamer, sched, nil
}
