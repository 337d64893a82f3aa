package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/decipher/internal/cache"
	"github.com/ppiankov/decipher/internal/graph"
	"github.com/ppiankov/decipher/internal/graphsync"
	"github.com/ppiankov/decipher/internal/library"
	"github.com/ppiankov/decipher/internal/llm"
	"github.com/ppiankov/decipher/internal/model"
)

const filler = " studies how sparse attention scales to long documents without losing accuracy."

// fakeExtractor derives deterministic results from the document marker in the text
type fakeExtractor struct {
	mu     sync.Mutex
	events []string
	fail   map[string]error // marker -> error from metadata extraction
	before func(marker string)
}

func (f *fakeExtractor) marker(text string) string {
	m, _, _ := strings.Cut(text, " ")
	return m
}

func (f *fakeExtractor) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeExtractor) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeExtractor) ExtractMetadata(ctx context.Context, text string) (model.Metadata, error) {
	m := f.marker(text)
	if f.before != nil {
		f.before(m)
	}
	f.record("metadata:start:" + m)
	defer f.record("metadata:end:" + m)
	if err := ctx.Err(); err != nil {
		return model.Metadata{}, err
	}
	if err := f.fail[m]; err != nil {
		return model.Metadata{}, err
	}
	return model.Metadata{Title: "Paper " + m, Type: "survey", Year: 2024, Abstract: "abstract", ProblemSolved: "p", MethodUsed: "m", Takeaway: "t"}, nil
}

func (f *fakeExtractor) ExtractConcepts(ctx context.Context, text string) (model.ConceptSet, error) {
	m := f.marker(text)
	f.record("concepts:start:" + m)
	defer f.record("concepts:end:" + m)
	return model.ConceptSet{
		Nodes: []model.ConceptNode{
			{ID: "Concept " + m, Group: 1, Weight: 10, Description: "from " + m},
			{ID: "Attention", Group: 2, Weight: 20, Description: "from " + m},
		},
		Relations: []model.ConceptRelation{{Source: "Concept " + m, Target: "Attention", Strength: 2}},
	}, nil
}

func input(marker string) DocumentInput {
	return DocumentInput{Name: marker + ".txt", ContentType: "text/plain", Data: []byte(marker + filler)}
}

type fixture struct {
	p      *Pipeline
	ext    *fakeExtractor
	lib    *library.Library
	store  *graph.Store
	sleeps []time.Duration
}

func newFixture(t *testing.T, opts Options, deps Deps) *fixture {
	t.Helper()
	f := &fixture{
		ext:   &fakeExtractor{fail: map[string]error{}},
		lib:   library.New(),
		store: graph.NewStore(),
	}
	deps.Extractor = f.ext
	deps.Library = f.lib
	deps.Graph = f.store
	f.p = New(deps, opts)
	f.p.sleep = func(ctx context.Context, d time.Duration) error {
		f.ext.record(fmt.Sprintf("sleep:%s", d))
		f.sleeps = append(f.sleeps, d)
		return ctx.Err()
	}
	return f
}

func defaultOptions() Options {
	return Options{MaxBatchSize: 3, InterCallDelay: 3 * time.Second, RateLimitCooldown: 5 * time.Second}
}

func TestIngestBatch_RejectsOversizedBatch(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})

	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b"), input("c"), input("d")}, nil)

	var tooLarge *BatchTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 4, tooLarge.Size)
	assert.Equal(t, 3, tooLarge.Max)
	assert.Contains(t, err.Error(), "at most 3")
	assert.Nil(t, summary)
	assert.Empty(t, f.ext.Events())
	assert.Zero(t, f.lib.Len())
	assert.False(t, f.p.Running())
}

func TestIngestBatch_EmptyBatch(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})
	_, err := f.p.IngestBatch(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestIngestBatch_SequentialWithDelay(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})

	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b"), input("c")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)

	assert.Equal(t, []string{
		"metadata:start:a", "metadata:end:a", "concepts:start:a", "concepts:end:a",
		"sleep:3s",
		"metadata:start:b", "metadata:end:b", "concepts:start:b", "concepts:end:b",
		"sleep:3s",
		"metadata:start:c", "metadata:end:c", "concepts:start:c", "concepts:end:c",
	}, f.ext.Events())
}

func TestIngestBatch_PartialFailure(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})
	f.ext.fail["b"] = errors.New("malformed response")

	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b"), input("c")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Attempted)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, OutcomePartial, summary.Outcome())
	assert.Equal(t, "successfully processed 2 of 3 documents", summary.String())
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, 1, summary.Failures[0].Index)
	assert.Equal(t, "b.txt", summary.Failures[0].Name)
	assert.False(t, summary.Failures[0].RateLimited)

	docs := f.lib.List()
	require.Len(t, docs, 2)
	// most recent first
	assert.Equal(t, "c.txt", docs[0].SourceName)
	assert.Equal(t, "a.txt", docs[1].SourceName)
	assert.Equal(t, []string{docs[1].ID, docs[0].ID}, summary.DocumentIDs)
	for _, d := range docs {
		assert.Equal(t, model.StatusUnread, d.ReadStatus)
		assert.Empty(t, d.Notes)
		assert.NotEmpty(t, d.ID)
	}

	_, ok := f.store.Node("Concept b")
	assert.False(t, ok)
}

func TestIngestBatch_RateLimitCooldown(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})
	f.ext.fail["a"] = fmt.Errorf("openai: %w", llm.ErrRateLimited)

	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b")}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.True(t, summary.Failures[0].RateLimited)
	assert.Equal(t, "rate_limited", summary.Failures[0].Reason)
	assert.Equal(t, []time.Duration{5 * time.Second, 3 * time.Second}, f.sleeps)
}

func TestIngestBatch_NoCooldownAfterLastDocument(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})
	f.ext.fail["b"] = fmt.Errorf("status 429")

	_, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b")}, nil)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, f.sleeps)
}

func TestIngestBatch_VisibleMidBatch(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})
	var libLen, nodes int
	f.ext.before = func(marker string) {
		if marker == "b" {
			libLen = f.lib.Len()
			nodes, _ = f.store.Counts()
		}
	}

	_, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, libLen)
	assert.Equal(t, 2, nodes)
}

func TestIngestBatch_MergesConcepts(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})

	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b"), input("c")}, nil)
	require.NoError(t, err)

	snap := f.store.Snapshot()
	assert.Len(t, snap.Nodes, 4)
	assert.Len(t, snap.Relations, 3)
	assert.Equal(t, 4, summary.NodesAdded)
	assert.Equal(t, 3, summary.RelationsAdded)

	shared, ok := f.store.Node("Attention")
	require.True(t, ok)
	assert.Equal(t, "from a", shared.Description)
}

func TestIngestBatch_ExtractionCache(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{Cache: cache.NewMemoryCache(time.Minute, time.Minute)})

	_, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a")}, nil)
	require.NoError(t, err)
	calls := len(f.ext.Events())

	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Len(t, f.ext.Events(), calls, "cached document must not call the services again")
	assert.Equal(t, 2, f.lib.Len())
}

func TestIngestBatch_FailuresAreNotCached(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{Cache: cache.NewMemoryCache(time.Minute, time.Minute)})
	f.ext.fail["a"] = errors.New("boom")

	_, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a")}, nil)
	require.NoError(t, err)

	delete(f.ext.fail, "a")
	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
}

func TestIngestBatch_OneBatchAtATime(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})

	b, err := f.p.Begin([]DocumentInput{input("a")})
	require.NoError(t, err)
	assert.True(t, f.p.Running())

	_, err = f.p.IngestBatch(context.Background(), []DocumentInput{input("b")}, nil)
	assert.ErrorIs(t, err, ErrBatchInProgress)

	_, err = b.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, f.p.Running())

	_, err = f.p.IngestBatch(context.Background(), []DocumentInput{input("b")}, nil)
	assert.NoError(t, err)
}

func TestIngestBatch_Canceled(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})
	ctx, cancel := context.WithCancel(context.Background())
	f.ext.before = func(marker string) {
		if marker == "b" {
			cancel()
		}
	}

	summary, err := f.p.IngestBatch(ctx, []DocumentInput{input("a"), input("b"), input("c")}, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.True(t, summary.Canceled)
	assert.Equal(t, OutcomeCanceled, summary.Outcome())
	assert.Equal(t, 1, summary.Succeeded)
	assert.NotContains(t, f.ext.Events(), "metadata:start:c")
	assert.False(t, f.p.Running())
}

func TestIngestBatch_ProgressAndSummary(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})
	f.ext.fail["b"] = errors.New("boom")

	var stages []Stage
	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b")}, func(p Progress) {
		stages = append(stages, p.Stage)
	})
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageStarted, StageExtracting, StageIngested, StageExtracting, StageFailed, StageFinished}, stages)

	last, ok := f.p.LastSummary()
	require.True(t, ok)
	assert.Equal(t, summary.BatchID, last.BatchID)
	assert.Equal(t, 1, last.Succeeded)
}

func TestIngestBatch_PlaceholderForShortDocuments(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})

	_, err := f.p.IngestBatch(context.Background(), []DocumentInput{{Name: "scan.pdf", Data: []byte("%PDF-1.7\x00\x01")}}, nil)
	require.NoError(t, err)

	docs := f.lib.List()
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].RawText, "scan.pdf")
	assert.Contains(t, docs[0].RawText, "placeholder")
}

func TestIngestBatch_EmptyInputRejectsBatch(t *testing.T) {
	f := newFixture(t, defaultOptions(), Deps{})

	_, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), {Name: "ghost"}}, nil)
	var inErr *InputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, 1, inErr.Index)
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, f.ext.Events())
}

type recordingSink struct {
	batches []graphsync.Batch
	err     error
}

func (s *recordingSink) Sync(_ context.Context, b graphsync.Batch) error {
	s.batches = append(s.batches, b)
	return s.err
}

func (s *recordingSink) Close(context.Context) error { return nil }

func TestIngestBatch_SyncsGraphAdditions(t *testing.T) {
	sink := &recordingSink{err: errors.New("neo4j down")}
	f := newFixture(t, defaultOptions(), Deps{Sink: sink})

	summary, err := f.p.IngestBatch(context.Background(), []DocumentInput{input("a"), input("b")}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Succeeded, "sync errors must not fail documents")

	require.Len(t, sink.batches, 2)
	assert.Len(t, sink.batches[0].Nodes, 2)
	assert.Len(t, sink.batches[1].Nodes, 1)
	assert.ElementsMatch(t, []string{"Concept b", "Attention"}, sink.batches[1].Mentions)
	assert.Equal(t, "Paper b", sink.batches[1].Title)
}
