// Package resolver turns reader selections into explanations.
//
// A Resolver tracks one active target (fragment and level). Requests are
// debounced, repeats of the active target are coalesced, and every new target
// bumps a generation counter: a result is applied only when its generation is
// still the latest, so late answers for superseded fragments are dropped.
package resolver

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/metrics"
	"github.com/ppiankov/decipher/internal/model"
)

// FallbackExplanation is shown when a resolution fails
const FallbackExplanation = "explanation unavailable"

// DefaultDebounce is the quiet period before a request is dispatched
const DefaultDebounce = 600 * time.Millisecond

// Explainer is the term explanation service
type Explainer interface {
	Explain(ctx context.Context, fragment, docContext string, level model.ExplanationLevel) (string, error)
}

// State of the active resolution
type State string

const (
	StateIdle     State = "idle"
	StatePending  State = "pending"
	StateResolved State = "resolved"
	StateFailed   State = "failed"
)

// View is what the reader sees for the active target
type View struct {
	Fragment    string                 `json:"fragment,omitempty"`
	Level       model.ExplanationLevel `json:"level"`
	State       State                  `json:"state"`
	Explanation string                 `json:"explanation,omitempty"`
	Generation  uint64                 `json:"generation"`
}

// Options tunes a Resolver
type Options struct {
	Debounce        time.Duration
	ContextMaxChars int
	DefaultLevel    model.ExplanationLevel
	Metrics         *metrics.Collector
	Logger          *logger.Logger
}

// Resolver coordinates explanation requests. Safe for concurrent use.
type Resolver struct {
	explainer Explainer
	opts      Options
	log       *logger.Logger

	mu         sync.Mutex
	gen        uint64
	view       View
	docContext string
	timer      *time.Timer
	cancel     context.CancelFunc
	settled    chan struct{} // closed when the current generation leaves pending
	closed     bool
}

// New creates a resolver in the idle state
func New(explainer Explainer, opts Options) *Resolver {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}
	if opts.DefaultLevel == "" {
		opts.DefaultLevel = model.LevelStandard
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}
	return &Resolver{
		explainer: explainer,
		opts:      opts,
		log:       opts.Logger,
		view:      View{Level: opts.DefaultLevel, State: StateIdle},
		settled:   make(chan struct{}),
	}
}

// Request selects fragment of docContext as the active target at level.
// It returns false when the request was coalesced into the active one.
func (r *Resolver) Request(fragment, docContext string, level model.ExplanationLevel) bool {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return false
	}
	if level == "" {
		level = r.opts.DefaultLevel
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	if fragment == r.view.Fragment && level == r.view.Level &&
		(r.view.State == StatePending || r.view.State == StateResolved) {
		return false
	}

	r.supersedeLocked()
	r.view = View{Fragment: fragment, Level: level, State: StatePending, Generation: r.gen}
	r.docContext = docContext

	gen := r.gen
	r.timer = time.AfterFunc(r.opts.Debounce, func() { r.dispatch(gen) })
	return true
}

// SetLevel changes the audience level. An active target is resolved again under the new level.
func (r *Resolver) SetLevel(level model.ExplanationLevel) bool {
	r.mu.Lock()
	fragment, docContext := r.view.Fragment, r.docContext
	if fragment == "" {
		r.view.Level = level
		r.mu.Unlock()
		return false
	}
	r.mu.Unlock()

	return r.Request(fragment, docContext, level)
}

// Clear drops the active target and any in-flight request
func (r *Resolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.supersedeLocked()
	r.view = View{Level: r.view.Level, State: StateIdle, Generation: r.gen}
	r.docContext = ""
	r.closeSettledLocked()
}

// View returns the current state
func (r *Resolver) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.view
}

// Await blocks until the active target is no longer pending
func (r *Resolver) Await(ctx context.Context) (View, error) {
	for {
		r.mu.Lock()
		if r.view.State != StatePending {
			v := r.view
			r.mu.Unlock()
			return v, nil
		}
		ch := r.settled
		r.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return r.View(), ctx.Err()
		}
	}
}

// Close stops any scheduled or in-flight request. Later requests are ignored.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.supersedeLocked()
	r.closed = true
	if r.view.State == StatePending {
		r.view.State = StateIdle
	}
	r.closeSettledLocked()
}

// supersedeLocked invalidates the current generation: the pending debounce window
// is stopped and an in-flight call is canceled
func (r *Resolver) supersedeLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.view.State == StatePending {
		r.closeSettledLocked()
	}
}

func (r *Resolver) closeSettledLocked() {
	select {
	case <-r.settled:
	default:
		close(r.settled)
	}
	r.settled = make(chan struct{})
}

func (r *Resolver) dispatch(gen uint64) {
	r.mu.Lock()
	if gen != r.gen || r.closed {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	fragment, level := r.view.Fragment, r.view.Level
	excerpt := Excerpt(r.docContext, fragment, r.opts.ContextMaxChars)
	r.mu.Unlock()

	r.log.Debug("resolving fragment", "fragment", fragment, "level", level, "generation", gen)
	text, err := r.explainer.Explain(ctx, fragment, excerpt, level)
	cancel()

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen != r.gen {
		r.opts.Metrics.Explanation("stale")
		return
	}
	r.cancel = nil
	if err != nil {
		r.log.Warn("explanation failed", "fragment", fragment, "error", err)
		r.opts.Metrics.Explanation("failed")
		r.view.State = StateFailed
		r.view.Explanation = FallbackExplanation
	} else {
		r.opts.Metrics.Explanation("resolved")
		r.view.State = StateResolved
		r.view.Explanation = text
	}
	r.closeSettledLocked()
}

// Excerpt returns at most max runes of doc around the first occurrence of fragment,
// or its beginning when fragment does not occur. max <= 0 returns doc unchanged.
func Excerpt(doc, fragment string, max int) string {
	runes := []rune(doc)
	if max <= 0 || len(runes) <= max {
		return doc
	}

	idx := strings.Index(doc, fragment)
	if idx < 0 {
		return string(runes[:max])
	}

	start := len([]rune(doc[:idx])) - (max-len([]rune(fragment)))/2
	if start < 0 {
		start = 0
	}
	if start+max > len(runes) {
		start = len(runes) - max
	}
	return string(runes[start : start+max])
}
