package resolver

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/decipher/internal/cache"
	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/metrics"
	"github.com/ppiankov/decipher/internal/model"
)

// CachingExplainer remembers explanations by fragment, level and context.
// Concurrent misses for the same key share one call. Failures are not cached.
type CachingExplainer struct {
	next    Explainer
	cache   cache.Cache
	ttl     time.Duration
	metrics *metrics.Collector
	log     *logger.Logger
	group   singleflight.Group
}

// NewCachingExplainer wraps next. A nil cache disables caching but keeps call sharing.
func NewCachingExplainer(next Explainer, c cache.Cache, ttl time.Duration, m *metrics.Collector, log *logger.Logger) *CachingExplainer {
	if c == nil {
		c = cache.Nop{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &CachingExplainer{next: next, cache: c, ttl: ttl, metrics: m, log: log}
}

// Explain implements Explainer
func (e *CachingExplainer) Explain(ctx context.Context, fragment, docContext string, level model.ExplanationLevel) (string, error) {
	key := cache.Key("explain", string(level), fragment, docContext)
	if data, ok := e.cache.Get(key); ok {
		e.metrics.CacheLookup("explanation", true)
		return string(data), nil
	}
	e.metrics.CacheLookup("explanation", false)

	// The shared call outlives any single caller: a canceled caller leaves,
	// later callers joining the same key still get the result.
	shared := context.WithoutCancel(ctx)
	ch := e.group.DoChan(key, func() (any, error) {
		text, err := e.next.Explain(shared, fragment, docContext, level)
		if err != nil {
			return "", err
		}
		if err := e.cache.Set(key, []byte(text), e.ttl); err != nil {
			e.log.Warn("failed to cache explanation", "fragment", fragment, "level", level, "error", err)
		}
		return text, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
