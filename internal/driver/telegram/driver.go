package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"meadow/pkg/meadow"
)

const defaultPublishTimeout = 2 * time.Second

// clientRunner abstracts the gotd client lifecycle for testing.
type clientRunner interface {
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption mutates Telegram driver configuration.
type DriverOption func(*driverConfig)

// WithName configures the driver identity exposed to the kernel.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds each sink publish.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler configures the async mapping/publish error callback.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver adapts Telegram updates into neutral meadow events.
type Driver struct {
	cfg       driverConfig
	runner    clientRunner
	authorize func(ctx context.Context) error
	updates   *updateChannel
	peers     *PeerCache
	mapper    *mapper
}

func newDriver(
	runner clientRunner,
	authorize func(ctx context.Context) error,
	updates *updateChannel,
	peers *PeerCache,
	mapper *mapper,
	options ...DriverOption,
) (*Driver, error) {
	if runner == nil {
		return nil, fmt.Errorf("new telegram driver: nil runner")
	}
	if updates == nil || peers == nil || mapper == nil {
		return nil, fmt.Errorf("new telegram driver: incomplete wiring")
	}

	cfg := driverConfig{
		name:           DriverName,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{
		cfg:       cfg,
		runner:    runner,
		authorize: authorize,
		updates:   updates,
		peers:     peers,
		mapper:    mapper,
	}, nil
}

// Name returns the stable driver identifier.
func (d *Driver) Name() string {
	return d.cfg.name
}

// Start runs the Telegram client and consumes updates until cancellation.
func (d *Driver) Start(ctx context.Context, sink meadow.EventSink) error {
	if sink == nil {
		return fmt.Errorf("start telegram driver: nil sink")
	}

	err := d.runner.Run(ctx, func(runCtx context.Context) error {
		if d.authorize != nil {
			if err := d.authorize(runCtx); err != nil {
				return fmt.Errorf("authorize: %w", err)
			}
		}

		return d.consume(runCtx, sink)
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		return fmt.Errorf("start telegram driver: %w", err)
	}

	return nil
}

// consume drains the flattened update stream, mapping each unit to a neutral
// event. Mapping and publish failures are reported asynchronously and never
// stop the stream.
func (d *Driver) consume(ctx context.Context, sink meadow.EventSink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope := <-d.updates.updates:
			d.handle(ctx, envelope, sink)
		}
	}
}

func (d *Driver) handle(ctx context.Context, envelope updateEnvelope, sink meadow.EventSink) {
	d.peers.Remember(envelope)

	event, err := d.mapSafely(envelope)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return
	}
	if event == nil {
		return
	}

	publishCtx := ctx
	cancel := func() {}
	if d.cfg.publishTimeout > 0 {
		publishCtx, cancel = context.WithTimeout(ctx, d.cfg.publishTimeout)
	}
	defer cancel()

	if err := sink.Publish(publishCtx, event); err != nil {
		d.cfg.onAsyncError(ctx, fmt.Errorf("publish event %s: %w", event.Kind, err))
	}
}

// mapSafely protects against mapper panics at the adapter boundary.
func (d *Driver) mapSafely(envelope updateEnvelope) (event *meadow.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			event = nil
			err = fmt.Errorf("map telegram update panic: %v", recovered)
		}
	}()

	return d.mapper.Map(envelope)
}

// Shutdown releases resources not tied to the Start context; the gotd client
// owns its own teardown, so nothing remains here.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}
