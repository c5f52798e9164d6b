package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/logging"
)

// Ticker advances the system by one tick.
type Ticker interface {
	Tick(ctx context.Context) error
}

// TickFunc adapts a plain function to Ticker.
type TickFunc func(ctx context.Context) error

// Tick calls f(ctx).
func (f TickFunc) Tick(ctx context.Context) error {
	return f(ctx)
}

// Scheduler calls a Ticker on a fixed interval until stopped.
type Scheduler struct {
	ticker Ticker
	config *Config
	logger *logging.Logger

	mu          sync.Mutex
	ticks       int
	consecutive int
	lastErr     error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
}

// New creates a new scheduler.
func New(t Ticker, cfg *Config, logger *logging.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		ticker: t,
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Start begins the tick loop.
func (sch *Scheduler) Start() {
	sch.wg.Add(1)
	go sch.loop()
	sch.logger.Printf("Scheduler started (interval %s)", sch.config.Interval)
}

// Stop stops the loop and waits for the current tick to finish.
func (sch *Scheduler) Stop() {
	sch.cancel()
	sch.wg.Wait()
	sch.logger.Printf("Scheduler stopped after %d ticks", sch.Ticks())
}

// Done is closed when the loop exits on its own or after Stop.
func (sch *Scheduler) Done() <-chan struct{} {
	return sch.done
}

// Ticks returns how many ticks have run.
func (sch *Scheduler) Ticks() int {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.ticks
}

// Err returns the error of the most recent failed tick.
func (sch *Scheduler) Err() error {
	sch.mu.Lock()
	defer sch.mu.Unlock()
	return sch.lastErr
}

func (sch *Scheduler) loop() {
	defer sch.wg.Done()
	defer close(sch.done)

	interval := sch.config.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-sch.ctx.Done():
			return
		case <-ticker.C:
			if !sch.step() {
				return
			}
		}
	}
}

// step runs one tick and reports whether the loop should continue.
func (sch *Scheduler) step() bool {
	err := sch.ticker.Tick(sch.ctx)

	sch.mu.Lock()
	defer sch.mu.Unlock()
	sch.ticks++
	if err != nil {
		sch.lastErr = err
		sch.consecutive++
		sch.logger.Errorf("tick %d failed: %v", sch.ticks, err)
		if limit := sch.config.MaxConsecutiveErrors; limit > 0 && sch.consecutive >= limit {
			sch.logger.Errorf("stopping after %d consecutive failed ticks", sch.consecutive)
			return false
		}
	} else {
		sch.consecutive = 0
	}
	if sch.config.MaxTicks > 0 && sch.ticks >= sch.config.MaxTicks {
		return false
	}
	return true
}
