package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Counters(t *testing.T) {
	c := NewCollector("decipher")

	c.DocumentIngested()
	c.DocumentIngested()
	c.DocumentFailed(ReasonRateLimited)
	c.Cooldown()
	c.BatchFinished("partial")
	c.GraphSize(12, 30)
	c.Explanation("resolved")
	c.LayoutTick(5)
	c.CacheLookup("extraction", true)
	c.ObserveExtraction("metadata", time.Second, errors.New("x"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.DocumentsIngested))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.DocumentsFailed.WithLabelValues(ReasonRateLimited)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.RateLimitCooldowns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Batches.WithLabelValues("partial")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.GraphNodes))
	assert.Equal(t, 30.0, testutil.ToFloat64(c.GraphRelations))
	assert.Equal(t, 5.0, testutil.ToFloat64(c.LayoutTicks))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.CacheLookups.WithLabelValues("extraction", "hit")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.ExtractionDuration))
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.DocumentIngested()
		c.DocumentFailed(ReasonExtraction)
		c.GraphSize(1, 1)
		c.HTTPRequest("GET", "/api/graph", 200, time.Millisecond)
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("decipher")
	c.DocumentIngested()

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "decipher_documents_ingested_total 1"))
}
