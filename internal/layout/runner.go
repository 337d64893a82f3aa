package layout

import (
	"context"
	"sync"
	"time"

	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/metrics"
	"github.com/ppiankov/decipher/internal/model"
)

// Runner ticks an Engine on a fixed interval while it is unsettled.
// Every method is safe for concurrent use.
type Runner struct {
	mu     sync.Mutex
	engine *Engine

	interval time.Duration
	metrics  *metrics.Collector
	log      *logger.Logger

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// NewRunner wraps engine. interval <= 0 uses 16ms.
func NewRunner(engine *Engine, interval time.Duration, m *metrics.Collector, log *logger.Logger) *Runner {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Runner{
		engine:   engine,
		interval: interval,
		metrics:  m,
		log:      log,
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the tick loop. It returns immediately; the loop ends on Stop or ctx cancellation.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	go r.loop(ctx)
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if r.Settled() {
			r.log.Debug("layout settled", "ticks", r.Ticks())
			select {
			case <-r.wake:
				continue
			case <-r.stop:
				return
			case <-ctx.Done():
				return
			}
		}

		select {
		case <-ticker.C:
			r.mu.Lock()
			r.engine.Tick()
			r.mu.Unlock()
			r.metrics.LayoutTick(1)
		case <-r.wake:
		case <-r.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the tick loop and waits for it to exit. Safe to call more than once.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

// Done is closed once the tick loop has exited
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

func (r *Runner) notify() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Update hands a new graph snapshot to the engine
func (r *Runner) Update(snap model.GraphSnapshot) {
	r.mu.Lock()
	r.engine.SetSnapshot(snap)
	r.mu.Unlock()
	r.notify()
}

// Pin starts or moves a drag
func (r *Runner) Pin(id string, x, y float64) error {
	r.mu.Lock()
	err := r.engine.Pin(id, x, y)
	r.mu.Unlock()
	if err == nil {
		r.notify()
	}
	return err
}

// Release ends a drag
func (r *Runner) Release(id string) error {
	r.mu.Lock()
	err := r.engine.Release(id)
	r.mu.Unlock()
	if err == nil {
		r.notify()
	}
	return err
}

// Positions returns the current node positions
func (r *Runner) Positions() []NodePosition {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Positions()
}

// Settled reports whether the engine is quiescent
func (r *Runner) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Settled()
}

// Ticks returns the number of ticks run so far
func (r *Runner) Ticks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Ticks()
}

// Alpha returns the engine temperature
func (r *Runner) Alpha() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engine.Alpha()
}
