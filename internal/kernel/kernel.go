package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"meadow/pkg/meadow"
)

// Kernel orchestrates modules, platform drivers, and the event dispatcher.
type Kernel struct {
	cfg config

	dispatcher *Dispatcher
	services   *ServiceRegistry

	mu          sync.RWMutex
	modules     map[string]meadow.Module
	moduleOrder []string
	drivers     map[string]meadow.Driver
	driverOrder []string

	runMu   sync.Mutex
	running bool
}

// New creates a new kernel runtime.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	return &Kernel{
		cfg:      cfg,
		services: NewServiceRegistry(),
		dispatcher: NewDispatcher(
			cfg.queueBuffer,
			cfg.workers,
			cfg.handlerTimeout,
			cfg.onAsyncError,
		),
		modules: make(map[string]meadow.Module),
		drivers: make(map[string]meadow.Driver),
	}
}

// Services exposes the kernel service registry.
func (k *Kernel) Services() meadow.ServiceRegistry {
	return k.services
}

// Sink exposes the dispatcher as an event sink for integration code.
func (k *Kernel) Sink() meadow.EventSink {
	return k.dispatcher
}

// RegisterService registers a runtime service singleton.
func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule registers a module, runs its registration hook, and installs
// its dispatch-table bindings.
func (k *Kernel) RegisterModule(ctx context.Context, module meadow.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}

	k.mu.Lock()
	if _, exists := k.modules[name]; exists {
		k.mu.Unlock()
		return fmt.Errorf("register module %s: %w", name, meadow.ErrModuleAlreadyRegistered)
	}
	k.modules[name] = module
	k.moduleOrder = append(k.moduleOrder, name)
	k.mu.Unlock()

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
	defer cancel()

	if err := runSafely("module "+name+" OnRegister", func() error {
		return module.OnRegister(hookCtx, k.services)
	}); err != nil {
		k.rollbackModuleRegistration(name)
		return fmt.Errorf("register module %s: %w", name, err)
	}

	for _, binding := range module.Bindings() {
		if err := k.dispatcher.Bind(binding); err != nil {
			k.rollbackModuleRegistration(name)
			return fmt.Errorf("register module %s: %w", name, err)
		}
	}

	return nil
}

// RegisterDriver registers a platform driver.
func (k *Kernel) RegisterDriver(driver meadow.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.drivers[name]; exists {
		return fmt.Errorf("register driver %s: %w", name, meadow.ErrDriverAlreadyRegistered)
	}
	k.drivers[name] = driver
	k.driverOrder = append(k.driverOrder, name)

	return nil
}

// Run starts modules and drivers, then blocks until cancellation or a fatal
// driver error. Shutdown is orderly: drivers first, then modules, then the
// dispatcher.
func (k *Kernel) Run(ctx context.Context) error {
	if err := k.startRun(); err != nil {
		return err
	}
	defer k.finishRun()

	if err := k.startModules(ctx); err != nil {
		return err
	}
	k.dispatcher.Start()

	runCtx, runCancel := context.WithCancel(ctx)
	driverErr, waitDrivers := k.startDrivers(runCtx)

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-driverErr:
		runErr = err
	}

	runCancel()
	waitDrivers()

	shutdownErr := k.shutdownAll(ctx)

	if isContextCancellation(runErr) {
		runErr = nil
	}
	if runErr != nil && shutdownErr != nil {
		return errors.Join(runErr, shutdownErr)
	}
	if runErr != nil {
		return runErr
	}

	return shutdownErr
}

func (k *Kernel) startRun() error {
	k.runMu.Lock()
	defer k.runMu.Unlock()

	if k.running {
		return fmt.Errorf("kernel run: already running")
	}
	k.running = true

	return nil
}

func (k *Kernel) finishRun() {
	k.runMu.Lock()
	k.running = false
	k.runMu.Unlock()
}

// startModules invokes OnStart in registration order with per-module timeouts.
func (k *Kernel) startModules(ctx context.Context) error {
	for _, module := range k.snapshotModules() {
		hookCtx, cancel := context.WithTimeout(ctx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+module.Name()+" OnStart", func() error {
			return module.OnStart(hookCtx)
		})
		cancel()
		if err != nil {
			return fmt.Errorf("start module %s: %w", module.Name(), err)
		}
	}

	return nil
}

// startDrivers runs all registered drivers concurrently and returns an error
// channel delivering the first fatal driver error plus a bounded wait function.
func (k *Kernel) startDrivers(ctx context.Context) (<-chan error, func()) {
	errChannel := make(chan error, 1)
	done := make(chan struct{})
	workerWG := &sync.WaitGroup{}

	for _, registered := range k.snapshotDrivers() {
		driver := registered
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			err := runSafely("driver "+driver.Name()+" Start", func() error {
				return driver.Start(ctx, k.dispatcher)
			})
			if err == nil || isContextCancellation(err) {
				return
			}
			select {
			case errChannel <- fmt.Errorf("run driver %s: %w", driver.Name(), err):
			default:
			}
		}()
	}

	go func() {
		workerWG.Wait()
		close(done)
		select {
		case errChannel <- context.Canceled:
		default:
		}
	}()

	wait := func() {
		select {
		case <-done:
		case <-time.After(k.cfg.shutdownTimeout):
		}
	}

	return errChannel, wait
}

// shutdownAll tears down drivers, modules, and the dispatcher in a bounded
// timeout window. WithoutCancel keeps cleanup running after parent cancellation.
func (k *Kernel) shutdownAll(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, driver := range reverse(k.snapshotDrivers()) {
		err := runSafely("driver "+driver.Name()+" Shutdown", func() error {
			return driver.Shutdown(shutdownCtx)
		})
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown driver %s: %w", driver.Name(), err))
		}
	}
	for _, module := range reverse(k.snapshotModules()) {
		hookCtx, hookCancel := context.WithTimeout(shutdownCtx, k.cfg.moduleHookTimeout)
		err := runSafely("module "+module.Name()+" OnShutdown", func() error {
			return module.OnShutdown(hookCtx)
		})
		hookCancel()
		if err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown module %s: %w", module.Name(), err))
		}
	}
	if err := k.dispatcher.Close(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, err)
	}

	if shutdownErr != nil {
		return fmt.Errorf("kernel shutdown: %w", shutdownErr)
	}

	return nil
}

func (k *Kernel) rollbackModuleRegistration(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.modules, name)
	filtered := make([]string, 0, len(k.moduleOrder))
	for _, item := range k.moduleOrder {
		if item != name {
			filtered = append(filtered, item)
		}
	}
	k.moduleOrder = filtered
}

func (k *Kernel) snapshotModules() []meadow.Module {
	k.mu.RLock()
	defer k.mu.RUnlock()

	modules := make([]meadow.Module, 0, len(k.moduleOrder))
	for _, name := range k.moduleOrder {
		if module, exists := k.modules[name]; exists {
			modules = append(modules, module)
		}
	}

	return modules
}

func (k *Kernel) snapshotDrivers() []meadow.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	drivers := make([]meadow.Driver, 0, len(k.driverOrder))
	for _, name := range k.driverOrder {
		if driver, exists := k.drivers[name]; exists {
			drivers = append(drivers, driver)
		}
	}

	return drivers
}

func reverse[T any](items []T) []T {
	reversed := make([]T, 0, len(items))
	for idx := len(items) - 1; idx >= 0; idx-- {
		reversed = append(reversed, items[idx])
	}

	return reversed
}

// isContextCancellation reports whether err is a context-driven termination signal.
func isContextCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
