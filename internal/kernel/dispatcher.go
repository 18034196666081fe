package kernel

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"meadow/pkg/meadow"
)

// Dispatcher routes neutral events to bound handlers through an explicit
// dispatch table keyed by event kind. Events are consumed asynchronously by a
// bounded worker pool; a full queue drops the newest event rather than
// blocking the publisher.
type Dispatcher struct {
	mu    sync.RWMutex
	table map[meadow.EventKind][]tableRow

	queue          chan *meadow.Event
	workers        int
	handlerTimeout time.Duration
	onAsyncError   func(ctx context.Context, scope string, err error)

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	closed  atomic.Bool
	once    sync.Once
}

type tableRow struct {
	name    string
	handler meadow.EventHandler
}

// NewDispatcher creates a stopped dispatcher with a bounded queue.
func NewDispatcher(
	buffer int,
	workers int,
	handlerTimeout time.Duration,
	onAsyncError func(ctx context.Context, scope string, err error),
) *Dispatcher {
	if buffer <= 0 {
		buffer = 256
	}
	if workers <= 0 {
		workers = 1
	}

	workerCtx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		table:          make(map[meadow.EventKind][]tableRow),
		queue:          make(chan *meadow.Event, buffer),
		workers:        workers,
		handlerTimeout: handlerTimeout,
		onAsyncError:   onAsyncError,
		ctx:            workerCtx,
		cancel:         cancel,
		done:           make(chan struct{}),
	}
}

// Bind adds one dispatch-table row per declared event kind.
// Bindings must be installed before Start.
func (d *Dispatcher) Bind(binding meadow.HandlerBinding) error {
	if binding.Name == "" {
		return fmt.Errorf("bind handler: empty name")
	}
	if binding.Handler == nil {
		return fmt.Errorf("bind handler %s: nil handler", binding.Name)
	}
	if len(binding.Kinds) == 0 {
		return fmt.Errorf("bind handler %s: no event kinds", binding.Name)
	}
	if d.started.Load() {
		return fmt.Errorf("bind handler %s: dispatcher already started", binding.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, kind := range binding.Kinds {
		if kind == "" {
			return fmt.Errorf("bind handler %s: empty event kind", binding.Name)
		}
		d.table[kind] = append(d.table[kind], tableRow{name: binding.Name, handler: binding.Handler})
	}

	return nil
}

// Publish validates and enqueues one event for asynchronous dispatch.
func (d *Dispatcher) Publish(ctx context.Context, event *meadow.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event.Kind, err)
	}
	if d.closed.Load() {
		return fmt.Errorf("publish event %s: %w", event.Kind, meadow.ErrDispatcherClosed)
	}

	select {
	case d.queue <- event:
		return nil
	default:
		return fmt.Errorf("publish event %s: %w", event.Kind, meadow.ErrEventDropped)
	}
}

// Start launches the worker pool. It is idempotent.
func (d *Dispatcher) Start() {
	if d.started.Swap(true) {
		return
	}

	workerWG := &sync.WaitGroup{}
	for idx := 0; idx < d.workers; idx++ {
		workerID := idx
		workerWG.Add(1)
		go d.runWorker(workerWG, workerID)
	}

	go func() {
		workerWG.Wait()
		close(d.done)
	}()
}

// Close stops accepting events and waits for worker exit or ctx expiry.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.once.Do(func() {
		d.closed.Store(true)
		d.cancel()
	})
	if !d.started.Load() {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close dispatcher: %w", ctx.Err())
	}
}

// runWorker drains the queue until dispatcher shutdown.
func (d *Dispatcher) runWorker(workerWG *sync.WaitGroup, workerID int) {
	defer workerWG.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case event := <-d.queue:
			d.dispatch(workerID, event)
		}
	}
}

// dispatch fans one event out to every table row bound to its kind.
// A handler failure or panic is reported to the async error sink and never
// stops delivery to the remaining rows.
func (d *Dispatcher) dispatch(workerID int, event *meadow.Event) {
	d.mu.RLock()
	rows := append([]tableRow(nil), d.table[event.Kind]...)
	d.mu.RUnlock()

	for _, row := range rows {
		handlerCtx := d.ctx
		cancel := func() {}
		if d.handlerTimeout > 0 {
			handlerCtx, cancel = context.WithTimeout(d.ctx, d.handlerTimeout)
		}

		scope := fmt.Sprintf("handler %s worker %d", row.name, workerID)
		err := runSafely(scope, func() error {
			return row.handler(handlerCtx, event)
		})
		cancel()
		if err != nil {
			d.reportAsyncError(handlerCtx, row.name, fmt.Errorf("dispatch event %s: %w", event.Kind, err))
		}
	}
}

func (d *Dispatcher) reportAsyncError(ctx context.Context, scope string, err error) {
	if d.onAsyncError != nil {
		d.onAsyncError(ctx, scope, err)
	}
}
