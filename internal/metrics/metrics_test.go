package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordHTTPRequest("GET", "/", 200, time.Millisecond)
		m.RecordDatabaseQuery(DBQueryTypeSelect, true, time.Millisecond)
		m.RecordOperation("create", nil)
		m.RecordVersionConflict()
		m.RecordEventPublished("CREATED", "sent", time.Millisecond)
		m.RecordDeadLetter("UNKNOWN")
		m.RecordCacheLookup(true)
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.RecordOperation("update", errors.New("boom"))
	m.RecordOperation("update", nil)
	m.RecordVersionConflict()
	m.RecordDeadLetter("TRANSIENT")
	m.RecordDeadLetter("TRANSIENT")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("update", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operations.WithLabelValues("update", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.versionConflicts))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.deadLetters.WithLabelValues("TRANSIENT")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource_version_conflicts_total 1")
}
