package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ppiankov/decipher/internal/cache"
	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/model"
)

type call struct {
	fragment string
	context  string
	level    model.ExplanationLevel
}

// fakeExplainer answers "<level>:<fragment>". Fragments listed in block wait for release.
type fakeExplainer struct {
	mu      sync.Mutex
	calls   []call
	err     error
	block   map[string]chan struct{}
	started chan string
}

func newFakeExplainer() *fakeExplainer {
	return &fakeExplainer{block: map[string]chan struct{}{}, started: make(chan string, 16)}
}

func (f *fakeExplainer) Explain(ctx context.Context, fragment, docContext string, level model.ExplanationLevel) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{fragment: fragment, context: docContext, level: level})
	wait := f.block[fragment]
	err := f.err
	f.mu.Unlock()

	f.started <- fragment
	if wait != nil {
		<-wait
	}
	if err != nil {
		return "", err
	}
	return string(level) + ":" + fragment, nil
}

func (f *fakeExplainer) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func newResolver(exp Explainer) *Resolver {
	return New(exp, Options{Debounce: 20 * time.Millisecond, ContextMaxChars: 300, DefaultLevel: model.LevelBeginner})
}

func await(t *testing.T, r *Resolver) View {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := r.Await(ctx)
	require.NoError(t, err)
	return v
}

const doc = "Self-attention relates every token to every other token in the sequence."

func TestResolver_CoalescesSameFragment(t *testing.T) {
	exp := newFakeExplainer()
	r := newResolver(exp)
	defer r.Close()

	assert.True(t, r.Request("self-attention", doc, model.LevelStandard))
	assert.False(t, r.Request("self-attention", doc, model.LevelStandard))
	assert.False(t, r.Request(" self-attention ", doc, model.LevelStandard))

	v := await(t, r)
	assert.Equal(t, StateResolved, v.State)
	assert.Equal(t, "standard:self-attention", v.Explanation)

	// resolved target is not fetched again
	assert.False(t, r.Request("self-attention", doc, model.LevelStandard))
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, exp.Calls(), 1)
}

func TestResolver_DebounceAbsorbsChurn(t *testing.T) {
	exp := newFakeExplainer()
	r := newResolver(exp)
	defer r.Close()

	r.Request("token", doc, model.LevelStandard)
	r.Request("sequence", doc, model.LevelStandard)
	r.Request("attention", doc, model.LevelStandard)

	v := await(t, r)
	assert.Equal(t, "attention", v.Fragment)
	calls := exp.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "attention", calls[0].fragment)
}

func TestResolver_SupersededResultIsDiscarded(t *testing.T) {
	exp := newFakeExplainer()
	releaseA := make(chan struct{})
	exp.block["token"] = releaseA
	r := newResolver(exp)
	defer r.Close()

	r.Request("token", doc, model.LevelStandard)
	select {
	case <-exp.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first request was never dispatched")
	}

	r.Request("sequence", doc, model.LevelStandard)
	v := await(t, r)
	assert.Equal(t, "sequence", v.Fragment)
	assert.Equal(t, "standard:sequence", v.Explanation)

	close(releaseA)
	time.Sleep(50 * time.Millisecond)

	v = r.View()
	assert.Equal(t, "sequence", v.Fragment)
	assert.Equal(t, "standard:sequence", v.Explanation)
	assert.Equal(t, StateResolved, v.State)
}

func TestResolver_LevelChangeResolvesAgain(t *testing.T) {
	exp := newFakeExplainer()
	r := newResolver(exp)
	defer r.Close()

	r.Request("token", doc, "")
	v := await(t, r)
	assert.Equal(t, "beginner:token", v.Explanation)

	assert.False(t, r.SetLevel(model.LevelBeginner))
	assert.True(t, r.SetLevel(model.LevelExpert))
	v = await(t, r)
	assert.Equal(t, model.LevelExpert, v.Level)
	assert.Equal(t, "expert:token", v.Explanation)

	calls := exp.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, model.LevelExpert, calls[1].level)
}

func TestResolver_SetLevelWithoutTarget(t *testing.T) {
	exp := newFakeExplainer()
	r := newResolver(exp)
	defer r.Close()

	assert.False(t, r.SetLevel(model.LevelExpert))
	assert.Equal(t, model.LevelExpert, r.View().Level)
	assert.Equal(t, StateIdle, r.View().State)
	assert.Empty(t, exp.Calls())
}

func TestResolver_FailureShowsFallback(t *testing.T) {
	exp := newFakeExplainer()
	exp.err = errors.New("upstream 500: internal details")
	r := newResolver(exp)
	defer r.Close()

	r.Request("token", doc, model.LevelStandard)
	v := await(t, r)
	assert.Equal(t, StateFailed, v.State)
	assert.Equal(t, FallbackExplanation, v.Explanation)

	// a failed target may be retried
	exp.mu.Lock()
	exp.err = nil
	exp.mu.Unlock()
	assert.True(t, r.Request("token", doc, model.LevelStandard))
	v = await(t, r)
	assert.Equal(t, StateResolved, v.State)
}

func TestResolver_ClearAndClose(t *testing.T) {
	exp := newFakeExplainer()
	r := New(exp, Options{Debounce: time.Hour})

	r.Request("token", doc, model.LevelStandard)
	assert.Equal(t, StatePending, r.View().State)
	r.Clear()
	assert.Equal(t, StateIdle, r.View().State)
	assert.Empty(t, r.View().Fragment)

	r.Request("token", doc, model.LevelStandard)
	r.Close()
	assert.Equal(t, StateIdle, r.View().State)
	assert.False(t, r.Request("sequence", doc, model.LevelStandard))
	assert.Empty(t, exp.Calls())
}

func TestResolver_IgnoresBlankFragment(t *testing.T) {
	r := newResolver(newFakeExplainer())
	defer r.Close()
	assert.False(t, r.Request("   ", doc, model.LevelStandard))
	assert.Equal(t, StateIdle, r.View().State)
}

func TestResolver_SendsExcerpt(t *testing.T) {
	exp := newFakeExplainer()
	r := New(exp, Options{Debounce: time.Millisecond, ContextMaxChars: 20})
	defer r.Close()

	long := strings.Repeat("a", 100) + " softmax " + strings.Repeat("b", 100)
	r.Request("softmax", long, model.LevelStandard)
	await(t, r)

	calls := exp.Calls()
	require.Len(t, calls, 1)
	assert.Len(t, calls[0].context, 20)
	assert.Contains(t, calls[0].context, "softmax")
}

func TestExcerpt(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		fragment string
		max      int
		want     string
	}{
		{"short doc unchanged", "hello world", "world", 50, "hello world"},
		{"no limit", "hello world", "world", 0, "hello world"},
		{"fragment missing", "abcdefghij", "zz", 4, "abcd"},
		{"centered", "0123456789", "5", 3, "456"},
		{"clamped to end", "0123456789", "9", 4, "6789"},
		{"clamped to start", "0123456789", "0", 4, "0123"},
		{"multibyte", "ééééxéééé", "x", 3, "éxé"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Excerpt(tt.doc, tt.fragment, tt.max))
		})
	}
}

type countingExplainer struct {
	mu    sync.Mutex
	n     int
	err   error
	delay time.Duration
}

func (c *countingExplainer) Explain(ctx context.Context, fragment, docContext string, level model.ExplanationLevel) (string, error) {
	c.mu.Lock()
	c.n++
	err := c.err
	c.mu.Unlock()
	time.Sleep(c.delay)
	if err != nil {
		return "", err
	}
	return "explained " + fragment, nil
}

func (c *countingExplainer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestCachingExplainer_CachesByLevelAndContext(t *testing.T) {
	next := &countingExplainer{}
	e := NewCachingExplainer(next, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute, nil, nil)
	ctx := context.Background()

	text, err := e.Explain(ctx, "token", "ctx", model.LevelStandard)
	require.NoError(t, err)
	assert.Equal(t, "explained token", text)

	_, _ = e.Explain(ctx, "token", "ctx", model.LevelStandard)
	assert.Equal(t, 1, next.count())

	_, _ = e.Explain(ctx, "token", "ctx", model.LevelExpert)
	_, _ = e.Explain(ctx, "token", "other ctx", model.LevelStandard)
	assert.Equal(t, 3, next.count())
}

func TestCachingExplainer_SharesConcurrentMisses(t *testing.T) {
	next := &countingExplainer{delay: 50 * time.Millisecond}
	e := NewCachingExplainer(next, nil, time.Minute, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			text, err := e.Explain(context.Background(), "token", "ctx", model.LevelStandard)
			assert.NoError(t, err)
			assert.Equal(t, "explained token", text)
		}()
	}
	wg.Wait()
	assert.Less(t, next.count(), 8)
}

func TestCachingExplainer_DoesNotCacheFailures(t *testing.T) {
	next := &countingExplainer{err: errors.New("boom")}
	e := NewCachingExplainer(next, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute, nil, nil)

	_, err := e.Explain(context.Background(), "token", "ctx", model.LevelStandard)
	require.Error(t, err)

	next.mu.Lock()
	next.err = nil
	next.mu.Unlock()

	text, err := e.Explain(context.Background(), "token", "ctx", model.LevelStandard)
	require.NoError(t, err)
	assert.Equal(t, "explained token", text)
	assert.Equal(t, 2, next.count())
}

// gatedExplainer blocks every call until release is closed, honoring ctx
type gatedExplainer struct {
	mu      sync.Mutex
	n       int
	started chan struct{}
	release chan struct{}
}

func (g *gatedExplainer) Explain(ctx context.Context, fragment, _ string, _ model.ExplanationLevel) (string, error) {
	g.mu.Lock()
	g.n++
	g.mu.Unlock()
	g.started <- struct{}{}
	select {
	case <-g.release:
		return "explained " + fragment, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestCachingExplainer_CanceledCallerDoesNotFailLaterCaller(t *testing.T) {
	next := &gatedExplainer{started: make(chan struct{}, 4), release: make(chan struct{})}
	e := NewCachingExplainer(next, cache.NewMemoryCache(time.Minute, time.Minute), time.Minute, nil, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Explain(firstCtx, "token", "ctx", model.LevelStandard)
		firstErr <- err
	}()
	select {
	case <-next.started:
	case <-time.After(5 * time.Second):
		t.Fatal("shared call never started")
	}

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("canceled caller did not return")
	}

	second := make(chan string, 1)
	go func() {
		text, err := e.Explain(context.Background(), "token", "ctx", model.LevelStandard)
		assert.NoError(t, err)
		second <- text
	}()
	time.Sleep(20 * time.Millisecond)
	close(next.release)

	select {
	case text := <-second:
		assert.Equal(t, "explained token", text)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller did not return")
	}
	next.mu.Lock()
	defer next.mu.Unlock()
	assert.Equal(t, 1, next.n)
}

type failingCache struct{ cache.Nop }

func (failingCache) Set(string, []byte, time.Duration) error { return errors.New("disk full") }

func TestCachingExplainer_LogsCacheWriteFailure(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	log := &logger.Logger{SugaredLogger: zap.New(core).Sugar()}
	e := NewCachingExplainer(&countingExplainer{}, failingCache{}, time.Minute, nil, log)

	text, err := e.Explain(context.Background(), "token", "ctx", model.LevelStandard)
	require.NoError(t, err)
	assert.Equal(t, "explained token", text)

	entries := logs.FilterMessage("failed to cache explanation").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "disk full", entries[0].ContextMap()["error"])
}
