package kernel

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultModuleHookTimeout = 3 * time.Second
	defaultShutdownTimeout   = 10 * time.Second
	defaultQueueBuffer       = 256
	defaultWorkers           = 2
	defaultHandlerTimeout    = 30 * time.Second
)

type config struct {
	logger            *slog.Logger
	moduleHookTimeout time.Duration
	shutdownTimeout   time.Duration
	queueBuffer       int
	workers           int
	handlerTimeout    time.Duration
	onAsyncError      func(ctx context.Context, scope string, err error)
}

func defaultConfig() config {
	cfg := config{
		logger:            slog.Default(),
		moduleHookTimeout: defaultModuleHookTimeout,
		shutdownTimeout:   defaultShutdownTimeout,
		queueBuffer:       defaultQueueBuffer,
		workers:           defaultWorkers,
		handlerTimeout:    defaultHandlerTimeout,
	}
	cfg.onAsyncError = func(ctx context.Context, scope string, err error) {
		cfg.logger.ErrorContext(ctx, "kernel async error", "scope", scope, "error", err)
	}

	return cfg
}

// Option mutates kernel configuration.
type Option func(*config)

// WithLogger configures the kernel structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		if logger != nil {
			cfg.logger = logger
		}
	}
}

// WithModuleHookTimeout bounds each module lifecycle hook invocation.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.moduleHookTimeout = timeout
		}
	}
}

// WithShutdownTimeout bounds the orderly shutdown window.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.shutdownTimeout = timeout
		}
	}
}

// WithQueueBuffer configures the dispatch queue capacity.
func WithQueueBuffer(buffer int) Option {
	return func(cfg *config) {
		if buffer > 0 {
			cfg.queueBuffer = buffer
		}
	}
}

// WithWorkers configures the dispatch worker count.
func WithWorkers(workers int) Option {
	return func(cfg *config) {
		if workers > 0 {
			cfg.workers = workers
		}
	}
}

// WithHandlerTimeout bounds each handler invocation.
func WithHandlerTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		if timeout > 0 {
			cfg.handlerTimeout = timeout
		}
	}
}

// WithAsyncErrorHandler overrides the async error sink.
func WithAsyncErrorHandler(handler func(ctx context.Context, scope string, err error)) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}
