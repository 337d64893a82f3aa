// Package pipeline ingests batches of research documents: one document at a time,
// metadata and concept extraction, then library and graph store updates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/decipher/internal/cache"
	"github.com/ppiankov/decipher/internal/extract"
	"github.com/ppiankov/decipher/internal/graph"
	"github.com/ppiankov/decipher/internal/graphsync"
	"github.com/ppiankov/decipher/internal/library"
	"github.com/ppiankov/decipher/internal/llm"
	"github.com/ppiankov/decipher/internal/logger"
	"github.com/ppiankov/decipher/internal/metrics"
	"github.com/ppiankov/decipher/internal/model"
)

var (
	// ErrEmptyBatch is returned for a batch with no documents
	ErrEmptyBatch = errors.New("batch contains no documents")
	// ErrBatchInProgress is returned when a batch is started while another one runs
	ErrBatchInProgress = errors.New("a batch is already being processed")
)

// BatchTooLargeError rejects a batch over the size bound before anything is processed
type BatchTooLargeError struct {
	Size int
	Max  int
}

func (e *BatchTooLargeError) Error() string {
	return fmt.Sprintf("too many documents: %d selected, at most %d can be processed in one batch; please submit a smaller batch", e.Size, e.Max)
}

// Extractor is the pair of extraction services the controller calls per document
type Extractor interface {
	ExtractMetadata(ctx context.Context, text string) (model.Metadata, error)
	ExtractConcepts(ctx context.Context, text string) (model.ConceptSet, error)
}

// Options tunes batch processing
type Options struct {
	MaxBatchSize      int
	InterCallDelay    time.Duration
	RateLimitCooldown time.Duration
	MinTextLength     int
	CacheTTL          time.Duration
}

// OptionsFromConfig maps the ingest config section onto Options
func OptionsFromConfig(cfg model.IngestConfig, cacheCfg model.CacheConfig) Options {
	return Options{
		MaxBatchSize:      cfg.MaxBatchSize,
		InterCallDelay:    cfg.InterCallDelay,
		RateLimitCooldown: cfg.RateLimitCooldown,
		MinTextLength:     cfg.MinTextLength,
		CacheTTL:          cacheCfg.DiskTTL,
	}
}

// Deps are the collaborators of a Pipeline. Only Extractor, Library and Graph are required.
type Deps struct {
	Extractor Extractor
	Library   *library.Library
	Graph     *graph.Store
	Loader    *Loader
	Sink      graphsync.Sink
	Cache     cache.Cache
	Metrics   *metrics.Collector
	Logger    *logger.Logger
}

// Pipeline is the ingestion controller. It owns all mutation of the library
// and the graph store, and runs at most one batch at a time.
type Pipeline struct {
	extractor Extractor
	deriver   *extract.Deriver
	library   *library.Library
	graph     *graph.Store
	loader    *Loader
	sink      graphsync.Sink
	cache     cache.Cache
	metrics   *metrics.Collector
	log       *logger.Logger
	tracer    trace.Tracer
	opts      Options

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	running atomic.Bool

	mu   sync.RWMutex
	last *BatchSummary
}

// New creates a new ingestion pipeline
func New(deps Deps, opts Options) *Pipeline {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 50
	}
	if deps.Sink == nil {
		deps.Sink = graphsync.Nop{}
	}
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}

	return &Pipeline{
		extractor: deps.Extractor,
		deriver:   extract.NewDeriver(opts.MinTextLength),
		library:   deps.Library,
		graph:     deps.Graph,
		loader:    deps.Loader,
		sink:      deps.Sink,
		cache:     deps.Cache,
		metrics:   deps.Metrics,
		log:       deps.Logger,
		tracer:    otel.Tracer("github.com/ppiankov/decipher/internal/pipeline"),
		opts:      opts,
		sleep:     sleepContext,
		now:       time.Now,
	}
}

// MaxBatchSize returns the configured batch bound
func (p *Pipeline) MaxBatchSize() int {
	return p.opts.MaxBatchSize
}

// Running reports whether a batch is in progress
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// LastSummary returns the summary of the most recently finished batch
func (p *Pipeline) LastSummary() (BatchSummary, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.last == nil {
		return BatchSummary{}, false
	}
	return *p.last, true
}

// CheckBatch applies the up-front batch checks without starting anything
func (p *Pipeline) CheckBatch(n int) error {
	if n == 0 {
		return ErrEmptyBatch
	}
	if n > p.opts.MaxBatchSize {
		return &BatchTooLargeError{Size: n, Max: p.opts.MaxBatchSize}
	}
	return nil
}

// Batch is a reserved batch slot. Run must be called exactly once.
type Batch struct {
	ID     string
	p      *Pipeline
	inputs []DocumentInput
}

// Begin checks the batch and reserves the pipeline for it
func (p *Pipeline) Begin(inputs []DocumentInput) (*Batch, error) {
	if err := p.CheckBatch(len(inputs)); err != nil {
		return nil, err
	}
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrBatchInProgress
	}
	return &Batch{ID: uuid.NewString(), p: p, inputs: inputs}, nil
}

// IngestBatch checks, loads and processes a batch, calling onProgress (if set) as it goes.
// Per-document failures are reported in the summary; the returned error covers
// up-front rejection and cancellation only.
func (p *Pipeline) IngestBatch(ctx context.Context, inputs []DocumentInput, onProgress func(Progress)) (*BatchSummary, error) {
	b, err := p.Begin(inputs)
	if err != nil {
		return nil, err
	}
	return b.Run(ctx, onProgress)
}

// Run loads the batch inputs and processes them in order
func (b *Batch) Run(ctx context.Context, onProgress func(Progress)) (*BatchSummary, error) {
	p := b.p
	defer p.running.Store(false)

	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	ctx, span := p.tracer.Start(ctx, "pipeline.batch", trace.WithAttributes(
		attribute.String("batch.id", b.ID),
		attribute.Int("batch.size", len(b.inputs)),
	))
	defer span.End()

	docs, err := p.load(ctx, b.inputs)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		p.metrics.BatchFinished(OutcomeRejected)
		return nil, err
	}

	summary := &BatchSummary{
		BatchID:   b.ID,
		Attempted: len(docs),
		StartedAt: p.now(),
	}
	total := len(docs)
	p.log.Info("batch started", "batch_id", b.ID, "documents", total)
	onProgress(Progress{BatchID: b.ID, Total: total, Stage: StageStarted})

	var runErr error
	for i, in := range docs {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}

		onProgress(Progress{BatchID: b.ID, Index: i, Total: total, Name: in.Name, Stage: StageExtracting})
		doc, merged, err := p.ingestOne(ctx, i, in)
		if err != nil {
			failure := newFailure(i, in.Name, err)
			summary.Failures = append(summary.Failures, failure)
			p.metrics.DocumentFailed(failure.Reason)
			p.log.Warn("document skipped", "batch_id", b.ID, "index", i, "name", in.Name, "reason", failure.Reason, "error", err)
			onProgress(Progress{BatchID: b.ID, Index: i, Total: total, Name: in.Name, Stage: StageFailed, Message: failure.Message})

			if ctx.Err() != nil {
				runErr = ctx.Err()
				break
			}
			if failure.RateLimited && i < total-1 {
				onProgress(Progress{BatchID: b.ID, Index: i, Total: total, Name: in.Name, Stage: StageCooldown})
				p.metrics.Cooldown()
				if err := p.sleep(ctx, p.opts.RateLimitCooldown); err != nil {
					runErr = err
					break
				}
			}
			continue
		}

		summary.Succeeded++
		summary.DocumentIDs = append(summary.DocumentIDs, doc.ID)
		summary.NodesAdded += len(merged.AddedNodes)
		summary.RelationsAdded += len(merged.AddedRelations)
		p.metrics.DocumentIngested()
		onProgress(Progress{BatchID: b.ID, Index: i, Total: total, Name: in.Name, Stage: StageIngested, DocumentID: doc.ID})
	}

	summary.FinishedAt = p.now()
	summary.Canceled = runErr != nil
	outcome := summary.Outcome()
	p.metrics.BatchFinished(outcome)
	span.SetAttributes(attribute.Int("batch.succeeded", summary.Succeeded), attribute.String("batch.outcome", outcome))
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "batch canceled")
	}

	p.mu.Lock()
	last := *summary
	p.last = &last
	p.mu.Unlock()

	p.log.Info("batch finished", "batch_id", b.ID, "succeeded", summary.Succeeded, "attempted", summary.Attempted, "outcome", outcome)
	onProgress(Progress{BatchID: b.ID, Index: total, Total: total, Stage: StageFinished, Message: summary.String()})

	if runErr != nil {
		return summary, fmt.Errorf("batch interrupted: %w", runErr)
	}
	return summary, nil
}

func (p *Pipeline) load(ctx context.Context, inputs []DocumentInput) ([]DocumentInput, error) {
	needsLoad := false
	for _, in := range inputs {
		if in.needsLoad() {
			needsLoad = true
			break
		}
	}
	if !needsLoad {
		for i, in := range inputs {
			if in.Data == nil {
				return nil, &InputError{Index: i, Name: in.Name, Err: ErrEmptyInput}
			}
		}
		return inputs, nil
	}
	if p.loader == nil {
		return nil, fmt.Errorf("document sources cannot be read: no loader configured")
	}
	return p.loader.Load(ctx, inputs)
}

// extraction is the cached result of both extraction calls for one text
type extraction struct {
	Metadata model.Metadata   `json:"metadata"`
	Concepts model.ConceptSet `json:"concepts"`
}

func (p *Pipeline) ingestOne(ctx context.Context, index int, in DocumentInput) (model.Document, graph.MergeResult, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.document", trace.WithAttributes(
		attribute.Int("document.index", index),
		attribute.String("document.name", in.Name),
	))
	defer span.End()

	text := p.deriver.Derive(in.Name, in.ContentType, in.Data)
	if text.Placeholder {
		p.log.Debug("using placeholder text", "name", in.Name, "reason", text.Reason)
	}
	span.SetAttributes(attribute.String("document.format", text.Format), attribute.Bool("document.placeholder", text.Placeholder))

	result, err := p.extract(ctx, index, text.Body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return model.Document{}, graph.MergeResult{}, err
	}

	doc := model.Document{
		ID:         uuid.NewString(),
		UploadedAt: p.now().UTC(),
		ReadStatus: model.StatusUnread,
		SourceName: in.Name,
		RawText:    text.Body,
		Metadata:   result.Metadata,
		Notes:      []model.Note{},
	}
	if doc.Metadata.URL == "" && in.isURL() {
		doc.Metadata.URL = in.Source
	}
	if err := p.library.Add(doc); err != nil {
		span.RecordError(err)
		return model.Document{}, graph.MergeResult{}, fmt.Errorf("add to library: %w", err)
	}

	merged := p.graph.Merge(result.Concepts.Nodes, result.Concepts.Relations)
	p.metrics.GraphSize(p.graph.Counts())
	span.SetAttributes(attribute.Int("graph.nodes_added", len(merged.AddedNodes)), attribute.Int("graph.relations_added", len(merged.AddedRelations)))

	p.syncGraph(ctx, doc, result.Concepts, merged)
	return doc, merged, nil
}

// extract returns both extraction results, from cache when the same text was seen before
func (p *Pipeline) extract(ctx context.Context, index int, text string) (extraction, error) {
	key := cache.Key("extraction", text)
	var cached extraction
	if cache.GetJSON(p.cache, key, &cached) {
		p.metrics.CacheLookup("extraction", true)
		return cached, nil
	}
	p.metrics.CacheLookup("extraction", false)

	if index > 0 {
		if err := p.sleep(ctx, p.opts.InterCallDelay); err != nil {
			return extraction{}, err
		}
	}

	meta, err := p.extractor.ExtractMetadata(ctx, text)
	if err != nil {
		return extraction{}, fmt.Errorf("metadata: %w", err)
	}
	concepts, err := p.extractor.ExtractConcepts(ctx, text)
	if err != nil {
		return extraction{}, fmt.Errorf("concepts: %w", err)
	}

	result := extraction{Metadata: meta, Concepts: concepts}
	if err := cache.SetJSON(p.cache, key, result, p.opts.CacheTTL); err != nil {
		p.log.Warn("failed to cache extraction", "error", err)
	}
	return result, nil
}

func (p *Pipeline) syncGraph(ctx context.Context, doc model.Document, proposed model.ConceptSet, merged graph.MergeResult) {
	mentions := make([]string, 0, len(proposed.Nodes))
	for _, n := range proposed.Nodes {
		if _, ok := p.graph.Node(n.ID); ok {
			mentions = append(mentions, n.ID)
		}
	}

	err := p.sink.Sync(ctx, graphsync.Batch{
		DocumentID: doc.ID,
		Title:      doc.Metadata.Title,
		Year:       doc.Metadata.Year,
		Nodes:      merged.AddedNodes,
		Mentions:   mentions,
		Relations:  merged.AddedRelations,
	})
	if err != nil {
		p.log.Warn("graph sync failed", "document_id", doc.ID, "error", err)
	}
}

func newFailure(index int, name string, err error) DocumentFailure {
	f := DocumentFailure{
		Index:   index,
		Name:    name,
		Message: err.Error(),
		Reason:  metrics.ReasonExtraction,
		Err:     err,
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		f.Reason = metrics.ReasonCanceled
	case llm.IsRateLimited(err):
		f.Reason = metrics.ReasonRateLimited
		f.RateLimited = true
	}
	return f
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
