package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ppiankov/decipher/internal/cache"
	"github.com/ppiankov/decipher/internal/graph"
	"github.com/ppiankov/decipher/internal/graphsync"
	"github.com/ppiankov/decipher/internal/library"
	"github.com/ppiankov/decipher/internal/llm"
	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/metrics"
	"github.com/ppiankov/decipher/internal/model"
	"github.com/ppiankov/decipher/internal/pipeline"
	"github.com/ppiankov/decipher/internal/resolver"
	"github.com/ppiankov/decipher/internal/util"
	"github.com/ppiankov/decipher/internal/worker"
)

// app holds the components shared by the ingest, explain and serve commands
type app struct {
	cfg      *model.Config
	log      *logger.Logger
	metrics  *metrics.Collector
	service  *llm.Service
	cache    cache.Cache
	loader   *pipeline.Loader
	library  *library.Library
	graph    *graph.Store
	sink     graphsync.Sink
	pipeline *pipeline.Pipeline
}

// newApp resolves configuration and wires every component.
// A missing provider is an error: nothing useful can run without one.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	provider, err := llm.NewProvider(llm.ConfigFromModel(cfg))
	if err != nil {
		return nil, fmt.Errorf("init LLM provider: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("no LLM provider configured: set llm.provider (or DECIPHER_LLM_PROVIDER) to openai, anthropic or ollama")
	}
	if cfg.LLM.BreakerEnabled {
		provider = llm.NewBreakerProvider(provider, llm.BreakerConfig{
			MinRequests:      cfg.LLM.BreakerMinCalls,
			FailureThreshold: cfg.LLM.BreakerFailRatio,
			OpenTimeout:      cfg.LLM.BreakerOpenFor,
		}, log)
	}

	m := metrics.NewCollector("decipher")
	service := llm.NewService(provider, llm.ServiceOptions{
		Language:         cfg.LLM.Language,
		MetadataMaxChars: cfg.Ingest.MetadataMaxChars,
		ConceptMaxChars:  cfg.Ingest.ConceptMaxChars,
		ContextMaxChars:  cfg.Explain.ContextMaxChars,
		MaxWords:         cfg.Explain.MaxWords,
		MaxTokens:        cfg.LLM.MaxTokens,
		Throttle:         worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize),
		Observer:         m,
		Logger:           log,
	})

	fetcher := pipeline.NewFetcher(cfg.HTTP.Timeout, cfg.HTTP.UserAgent, cfg.HTTP.MaxBodyBytes,
		cfg.HTTP.HTTPProxy, cfg.HTTP.HTTPSProxy, cfg.HTTP.NoProxy)
	var robots *util.RobotsChecker
	if cfg.HTTP.RespectRobots {
		robots = util.NewRobotsChecker(cfg.HTTP.UserAgent, fetcher.Client())
	}
	loader := pipeline.NewLoader(fetcher, robots, cfg.Concurrency.LoaderWorkers, cfg.HTTP.MaxBodyBytes, log)

	var sink graphsync.Sink = graphsync.Nop{}
	neo, err := graphsync.NewNeo4jSink(ctx, cfg.Neo4j, log)
	if err != nil {
		// the mirror is optional; ingestion works without it
		log.Warn("neo4j mirror disabled", "error", err)
	} else if neo != nil {
		sink = neo
	}

	c := cache.New(cfg.Cache)
	lib := library.New()
	store := graph.NewStore()
	p := pipeline.New(pipeline.Deps{
		Extractor: service,
		Library:   lib,
		Graph:     store,
		Loader:    loader,
		Sink:      sink,
		Cache:     c,
		Metrics:   m,
		Logger:    log,
	}, pipeline.OptionsFromConfig(cfg.Ingest, cfg.Cache))

	log.Debug("decipher initialized",
		"provider", service.ProviderName(),
		"max_batch_size", p.MaxBatchSize(),
		"cache", cfg.Cache.Enabled,
		"neo4j", neo != nil,
	)

	return &app{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		service:  service,
		cache:    c,
		loader:   loader,
		library:  lib,
		graph:    store,
		sink:     sink,
		pipeline: p,
	}, nil
}

// newResolver builds a term resolver over the cached explanation service
func (a *app) newResolver() *resolver.Resolver {
	explainer := resolver.NewCachingExplainer(a.service, a.cache, a.cfg.Explain.CacheTTL, a.metrics, a.log)
	return resolver.New(explainer, resolver.Options{
		Debounce:        a.cfg.Explain.Debounce,
		ContextMaxChars: a.cfg.Explain.ContextMaxChars,
		DefaultLevel:    a.cfg.Explain.DefaultLevel,
		Metrics:         a.metrics,
		Logger:          a.log,
	})
}

// Close releases the graph mirror and flushes logs
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.sink.Close(ctx); err != nil {
		a.log.Warn("close graph mirror", "error", err)
	}
	a.log.Sync()
}

func newLogger(mode string) (*logger.Logger, error) {
	if strings.EqualFold(mode, "nop") {
		return logger.Nop(), nil
	}
	return logger.New(mode)
}

// progressPrinter writes one line per progress event to stderr
func progressPrinter(p pipeline.Progress) {
	switch p.Stage {
	case pipeline.StageExtracting, pipeline.StageFailed, pipeline.StageCooldown:
		fmt.Fprintf(os.Stderr, "  %s\n", p.String())
	case pipeline.StageIngested:
		if verbose {
			fmt.Fprintf(os.Stderr, "  %s\n", p.String())
		}
	}
}
