package keywords

import (
	"context"
	"fmt"
	"log/slog"

	"meadow/pkg/meadow"
)

const (
	defaultMaxCachedAccounts = 100
	defaultMaxPerAccount     = 25
)

// Option mutates keywords module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
		}
	}
}

// WithMaxCachedAccounts bounds how many owners the subscription cache holds.
func WithMaxCachedAccounts(maxCachedAccounts int) Option {
	return func(module *Module) {
		if maxCachedAccounts > 0 {
			module.maxCachedAccounts = maxCachedAccounts
		}
	}
}

// WithMaxPerAccount bounds how many patterns one owner can register.
func WithMaxPerAccount(maxPerAccount int) Option {
	return func(module *Module) {
		if maxPerAccount > 0 {
			module.maxPerAccount = maxPerAccount
		}
	}
}

// Module wires the subscription cache, match pass, notification delivery, and
// the subscription commands into the kernel dispatch table.
type Module struct {
	logger            *slog.Logger
	maxCachedAccounts int
	maxPerAccount     int

	cache    *Cache
	matcher  *matcher
	notifier *notifier
	commands *commands
}

// New creates the keywords module.
func New(options ...Option) *Module {
	module := &Module{
		logger:            slog.Default(),
		maxCachedAccounts: defaultMaxCachedAccounts,
		maxPerAccount:     defaultMaxPerAccount,
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "keywords"
}

// OnRegister resolves platform capabilities, builds the bounded cache over the
// durable store, and publishes the cache as a shared service.
func (m *Module) OnRegister(ctx context.Context, services meadow.ServiceRegistry) error {
	if logger, err := meadow.ResolveAs[*slog.Logger](services, meadow.ServiceLogger); err == nil {
		m.logger = logger
	}

	store, err := meadow.ResolveAs[meadow.SubscriptionStore](services, meadow.ServiceSubscriptionStore)
	if err != nil {
		return fmt.Errorf("register keywords: %w", err)
	}
	outbound, err := meadow.ResolveAs[meadow.Outbound](services, meadow.ServiceOutbound)
	if err != nil {
		return fmt.Errorf("register keywords: %w", err)
	}
	membership, err := meadow.ResolveAs[meadow.MembershipProvider](services, meadow.ServiceMembership)
	if err != nil {
		return fmt.Errorf("register keywords: %w", err)
	}

	cache, err := NewCache(store, m.maxCachedAccounts, m.maxPerAccount)
	if err != nil {
		return fmt.Errorf("register keywords: %w", err)
	}
	m.cache = cache
	m.notifier = newNotifier(m.logger, cache, outbound)
	m.matcher = newMatcher(m.logger, cache, membership, m.notifier)
	m.commands = newCommands(m.logger, cache, outbound)

	if err := services.Register(meadow.ServiceSubscriptions, cache); err != nil {
		return fmt.Errorf("register keywords: %w", err)
	}

	return nil
}

// Bindings declares the dispatch-table rows this module owns.
func (m *Module) Bindings() []meadow.HandlerBinding {
	return []meadow.HandlerBinding{
		{
			Name:    "keywords.match",
			Kinds:   []meadow.EventKind{meadow.EventKindMessageCreated},
			Handler: m.matcher.HandleMessage,
		},
		{
			Name:    "keywords.subscribe",
			Kinds:   []meadow.EventKind{meadow.EventKindSubscribeRequested},
			Handler: m.commands.HandleSubscribe,
		},
		{
			Name:    "keywords.unsubscribe",
			Kinds:   []meadow.EventKind{meadow.EventKindUnsubscribeRequested},
			Handler: m.commands.HandleUnsubscribe,
		},
		{
			Name:    "keywords.list",
			Kinds:   []meadow.EventKind{meadow.EventKindListRequested},
			Handler: m.commands.HandleList,
		},
		{
			Name:    "keywords.control",
			Kinds:   []meadow.EventKind{meadow.EventKindControlActivated},
			Handler: m.notifier.HandleControl,
		},
	}
}

// OnStart logs the effective cache bounds.
func (m *Module) OnStart(ctx context.Context) error {
	m.logger.InfoContext(ctx, "keywords module started",
		"max_cached_accounts", m.maxCachedAccounts,
		"max_per_account", m.maxPerAccount,
	)

	return nil
}

// OnShutdown is a no-op; the cache is volatile and the store is owned by the
// wiring code.
func (m *Module) OnShutdown(context.Context) error {
	return nil
}
