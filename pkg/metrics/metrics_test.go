package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{0, "network"},
		{200, "2xx"},
		{204, "2xx"},
		{304, "3xx"},
		{404, "4xx"},
		{429, "429"},
		{503, "5xx"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusClass(tt.status), "status %d", tt.status)
	}
}

func TestCountersAccumulate(t *testing.T) {
	before := testutil.ToFloat64(RecordsProcessed.WithLabelValues("test", "inserted"))
	RecordsProcessed.WithLabelValues("test", "inserted").Add(3)
	after := testutil.ToFloat64(RecordsProcessed.WithLabelValues("test", "inserted"))
	assert.Equal(t, before+3, after)
}

func TestThroughputTracker(t *testing.T) {
	tracker := NewThroughputTracker("test")
	tracker.Increment(10)
	assert.GreaterOrEqual(t, tracker.GetAndReset(), 0.0)
	assert.Equal(t, int64(0), tracker.count)
}

func TestHandlerExposesNamespace(t *testing.T) {
	PagesFetched.Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "deskstream_pages_fetched_total")
}
