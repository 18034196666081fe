package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gotd/td/session"
	gotdtelegram "github.com/gotd/td/telegram"
)

const defaultSessionFile = ".cache/telegram/session.json"

// Config holds the Telegram connection settings.
type Config struct {
	// AppID is the api_id issued by my.telegram.org.
	AppID int
	// AppHash is the api_hash issued by my.telegram.org.
	AppHash string
	// BotToken is the @BotFather token used for bot authorization.
	BotToken string
	// SessionFile stores the MTProto session between runs.
	SessionFile string
	// UpdateBuffer bounds the in-flight flattened update queue.
	UpdateBuffer int
	// PublishTimeout bounds each event publish into the kernel.
	PublishTimeout time.Duration
}

func (c Config) validate() error {
	if c.AppID <= 0 {
		return fmt.Errorf("app_id must be > 0")
	}
	if strings.TrimSpace(c.AppHash) == "" {
		return fmt.Errorf("app_hash is required")
	}
	if strings.TrimSpace(c.BotToken) == "" {
		return fmt.Errorf("bot_token is required")
	}

	return nil
}

// BuildRuntime constructs the Telegram driver and its outbound adapter from
// one connection config. The two share a peer cache so entities seen inbound
// are addressable outbound.
func BuildRuntime(cfg Config, logger *slog.Logger) (*Driver, *Outbound, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, fmt.Errorf("telegram config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	sessionFile := strings.TrimSpace(cfg.SessionFile)
	if sessionFile == "" {
		sessionFile = defaultSessionFile
	}
	sessionStorage, err := newSessionStorage(sessionFile)
	if err != nil {
		return nil, nil, fmt.Errorf("telegram session storage: %w", err)
	}

	updates := newUpdateChannel(cfg.UpdateBuffer)
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: sessionStorage,
	})

	peers := NewPeerCache()
	eventMapper := newMapper()

	driver, err := newDriver(
		gotdClientRunner{client: client},
		func(ctx context.Context) error {
			return authorizeBot(ctx, logger, client, eventMapper, cfg.BotToken, sessionFile)
		},
		updates,
		peers,
		eventMapper,
		WithPublishTimeout(cfg.PublishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telegram driver: %w", err)
	}

	outbound, err := NewOutbound(client, peers,
		WithOutboundLogger(logger),
		WithRPCTimeout(cfg.PublishTimeout),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("telegram outbound: %w", err)
	}

	return driver, outbound, nil
}

type gotdClientRunner struct {
	client *gotdtelegram.Client
}

func (r gotdClientRunner) Run(ctx context.Context, fn func(runCtx context.Context) error) error {
	return r.client.Run(ctx, fn)
}

// authorizeBot restores or performs bot-token authorization, then records the
// bot identity so inbound mapping can drop the bot's own traffic.
func authorizeBot(
	ctx context.Context,
	logger *slog.Logger,
	client *gotdtelegram.Client,
	eventMapper *mapper,
	botToken string,
	sessionFile string,
) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("check auth status: %w", err)
	}
	if !status.Authorized {
		if _, err := client.Auth().Bot(ctx, botToken); err != nil {
			return fmt.Errorf("bot login: %w", err)
		}
		logger.InfoContext(ctx, "telegram bot authorized", "session_file", sessionFile)
	} else {
		logger.InfoContext(ctx, "telegram session restored", "session_file", sessionFile)
	}

	self, err := client.Self(ctx)
	if err != nil {
		return fmt.Errorf("resolve self: %w", err)
	}
	eventMapper.SetSelf(self.ID, self.Username)

	return nil
}

func newSessionStorage(path string) (*session.FileStorage, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve session path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o700); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	return &session.FileStorage{Path: absPath}, nil
}
