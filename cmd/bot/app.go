package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"meadow/internal/driver/telegram"
	"meadow/internal/kernel"
	"meadow/internal/store/sqlite"
	"meadow/modules/keywords"
	"meadow/pkg/meadow"
)

const (
	envConfigFile           = "MEADOW_CONFIG_FILE"
	defaultConfigFilePath   = "config/bot.yaml"
	alternateConfigFilePath = "bin/config/bot.yaml"
	defaultDatabasePath     = "data/meadow.db"
)

type appConfig struct {
	logLevel     slog.Level
	databasePath string

	moduleHookTimeout time.Duration
	shutdownTimeout   time.Duration
	queueBuffer       int
	workers           int
	handlerTimeout    time.Duration

	maxCachedAccounts int
	maxPerAccount     int

	telegram telegram.Config
}

type fileConfig struct {
	LogLevel string             `yaml:"log_level"`
	Database fileDatabaseConfig `yaml:"database"`
	Kernel   fileKernelConfig   `yaml:"kernel"`
	Keywords fileKeywordsConfig `yaml:"keywords"`
	Telegram fileTelegramConfig `yaml:"telegram"`
}

type fileDatabaseConfig struct {
	Path string `yaml:"path"`
}

type fileKernelConfig struct {
	ModuleHookTimeout string `yaml:"module_hook_timeout"`
	ShutdownTimeout   string `yaml:"shutdown_timeout"`
	QueueBuffer       *int   `yaml:"queue_buffer"`
	Workers           *int   `yaml:"workers"`
	HandlerTimeout    string `yaml:"handler_timeout"`
}

type fileKeywordsConfig struct {
	MaxCachedAccounts *int `yaml:"max_cached_accounts"`
	MaxPerAccount     *int `yaml:"max_per_account"`
}

type fileTelegramConfig struct {
	AppID          int    `yaml:"app_id"`
	AppHash        string `yaml:"app_hash"`
	BotToken       string `yaml:"bot_token"`
	SessionFile    string `yaml:"session_file"`
	UpdateBuffer   int    `yaml:"update_buffer"`
	PublishTimeout string `yaml:"publish_timeout"`
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.logLevel}))

	store, err := sqlite.Open(cfg.databasePath)
	if err != nil {
		return fmt.Errorf("open subscription store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close subscription store", "error", err)
		}
	}()

	telegramDriver, telegramOutbound, err := telegram.BuildRuntime(cfg.telegram, logger)
	if err != nil {
		return fmt.Errorf("build telegram runtime: %w", err)
	}

	kernelRuntime := kernel.New(
		kernel.WithLogger(logger),
		kernel.WithModuleHookTimeout(cfg.moduleHookTimeout),
		kernel.WithShutdownTimeout(cfg.shutdownTimeout),
		kernel.WithQueueBuffer(cfg.queueBuffer),
		kernel.WithWorkers(cfg.workers),
		kernel.WithHandlerTimeout(cfg.handlerTimeout),
	)

	if err := registerRuntimeServices(kernelRuntime, logger, store, telegramOutbound); err != nil {
		return err
	}
	if err := registerRuntimeModules(context.Background(), kernelRuntime, cfg); err != nil {
		return err
	}
	if err := kernelRuntime.RegisterDriver(telegramDriver); err != nil {
		return fmt.Errorf("register telegram driver: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	store *sqlite.Store,
	outbound *telegram.Outbound,
) error {
	if err := kernelRuntime.RegisterService(meadow.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}
	if err := kernelRuntime.RegisterService(meadow.ServiceSubscriptionStore, store); err != nil {
		return fmt.Errorf("register subscription store service: %w", err)
	}
	if err := kernelRuntime.RegisterService(meadow.ServiceOutbound, outbound); err != nil {
		return fmt.Errorf("register outbound service: %w", err)
	}
	if err := kernelRuntime.RegisterService(meadow.ServiceMembership, outbound); err != nil {
		return fmt.Errorf("register membership service: %w", err)
	}

	return nil
}

func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, cfg appConfig) error {
	keywordsModule := keywords.New(
		keywords.WithMaxCachedAccounts(cfg.maxCachedAccounts),
		keywords.WithMaxPerAccount(cfg.maxPerAccount),
	)
	if err := kernelRuntime.RegisterModule(ctx, keywordsModule); err != nil {
		return fmt.Errorf("register keywords module: %w", err)
	}

	return nil
}

func loadConfig() (appConfig, error) {
	configFile, err := resolveConfigFilePath()
	if err != nil {
		return appConfig{}, err
	}

	cfg := defaultAppConfig()
	if err := applyConfigFile(&cfg, configFile); err != nil {
		return appConfig{}, err
	}

	return cfg, nil
}

func resolveConfigFilePath() (string, error) {
	if configFile := strings.TrimSpace(os.Getenv(envConfigFile)); configFile != "" {
		return configFile, nil
	}

	candidates := []string{defaultConfigFilePath, alternateConfigFilePath}
	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil {
			if info.IsDir() {
				return "", fmt.Errorf("config file %s is a directory", candidate)
			}
			return candidate, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat config file %s: %w", candidate, err)
		}
	}

	return "", fmt.Errorf(
		"config file not found; create %s or %s, or set %s",
		defaultConfigFilePath,
		alternateConfigFilePath,
		envConfigFile,
	)
}

func defaultAppConfig() appConfig {
	return appConfig{
		logLevel:     slog.LevelInfo,
		databasePath: defaultDatabasePath,
	}
}

func applyConfigFile(cfg *appConfig, path string) error {
	if cfg == nil {
		return fmt.Errorf("apply config file: nil config")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var parsed fileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if rawLevel := strings.TrimSpace(parsed.LogLevel); rawLevel != "" {
		level, err := parseLogLevel(rawLevel)
		if err != nil {
			return fmt.Errorf("parse log_level: %w", err)
		}
		cfg.logLevel = level
	}

	if databasePath := strings.TrimSpace(parsed.Database.Path); databasePath != "" {
		cfg.databasePath = databasePath
	}

	if err := applyKernelConfig(cfg, parsed.Kernel); err != nil {
		return err
	}
	if err := applyKeywordsConfig(cfg, parsed.Keywords); err != nil {
		return err
	}

	return applyTelegramConfig(cfg, parsed.Telegram)
}

func applyKernelConfig(cfg *appConfig, parsed fileKernelConfig) error {
	var err error
	if cfg.moduleHookTimeout, err = parsePositiveDuration(parsed.ModuleHookTimeout, "kernel.module_hook_timeout"); err != nil {
		return err
	}
	if cfg.shutdownTimeout, err = parsePositiveDuration(parsed.ShutdownTimeout, "kernel.shutdown_timeout"); err != nil {
		return err
	}
	if cfg.handlerTimeout, err = parsePositiveDuration(parsed.HandlerTimeout, "kernel.handler_timeout"); err != nil {
		return err
	}

	if parsed.QueueBuffer != nil {
		if *parsed.QueueBuffer <= 0 {
			return fmt.Errorf("parse kernel.queue_buffer: must be > 0")
		}
		cfg.queueBuffer = *parsed.QueueBuffer
	}
	if parsed.Workers != nil {
		if *parsed.Workers <= 0 {
			return fmt.Errorf("parse kernel.workers: must be > 0")
		}
		cfg.workers = *parsed.Workers
	}

	return nil
}

func applyKeywordsConfig(cfg *appConfig, parsed fileKeywordsConfig) error {
	if parsed.MaxCachedAccounts != nil {
		if *parsed.MaxCachedAccounts <= 0 {
			return fmt.Errorf("parse keywords.max_cached_accounts: must be > 0")
		}
		cfg.maxCachedAccounts = *parsed.MaxCachedAccounts
	}
	if parsed.MaxPerAccount != nil {
		if *parsed.MaxPerAccount <= 0 {
			return fmt.Errorf("parse keywords.max_per_account: must be > 0")
		}
		cfg.maxPerAccount = *parsed.MaxPerAccount
	}

	return nil
}

func applyTelegramConfig(cfg *appConfig, parsed fileTelegramConfig) error {
	publishTimeout, err := parsePositiveDuration(parsed.PublishTimeout, "telegram.publish_timeout")
	if err != nil {
		return err
	}

	cfg.telegram = telegram.Config{
		AppID:          parsed.AppID,
		AppHash:        strings.TrimSpace(parsed.AppHash),
		BotToken:       strings.TrimSpace(parsed.BotToken),
		SessionFile:    strings.TrimSpace(parsed.SessionFile),
		UpdateBuffer:   parsed.UpdateBuffer,
		PublishTimeout: publishTimeout,
	}

	return nil
}

// parsePositiveDuration parses an optional duration field; empty means unset
// and leaves the downstream default in effect.
func parsePositiveDuration(raw string, field string) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}

	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("parse %s: must be > 0", field)
	}

	return parsed, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
