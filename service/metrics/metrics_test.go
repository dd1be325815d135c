package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordNormalized("send", "confirmed")
	m.RecordNormalized("send", "confirmed")
	m.RecordNormalized("receive", "confirmed")
	m.RecordSuppressed("suppressed")
	m.RecordFeeDecoded("base")
	m.RecordFeeDecoded("priority")
	m.RecordRecordsSkipped("addr", "already_stored", 3)
	m.RecordDBQuery("upsert", "normalized_transactions", 0.01, nil)
	m.RecordDBQuery("upsert", "normalized_transactions", 0.01, errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transactionsNormalizedTotal.WithLabelValues("send", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsNormalizedTotal.WithLabelValues("receive", "confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transactionsSuppressedTotal.WithLabelValues("suppressed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.feeDecodeTotal.WithLabelValues("priority")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.recordsSkippedTotal.WithLabelValues("addr", "already_stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("upsert", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dbOperationsTotal.WithLabelValues("upsert", "success")))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	// Registering twice on the same registry panics; separate registries must not.
	assert.NotPanics(t, func() {
		NewMetrics(prometheus.NewRegistry())
		NewMetrics(prometheus.NewRegistry())
	})
}

func TestTimer(t *testing.T) {
	var got float64
	done := Timer(time.Now().Add(-time.Second), func(d float64) { got = d })
	done()
	assert.GreaterOrEqual(t, got, 1.0)
}

func TestHTTPMiddleware(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	const route = "GET /api/v1/accounts/{address}/transactions"

	notFound := HTTPMiddleware(m, route)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	notFound.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	notFound.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(route, http.MethodGet, "404")))

	var flushed bool
	streaming := HTTPMiddleware(m, route)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushed = w.(http.Flusher)
		w.Write([]byte("ok"))
	}))
	rec := httptest.NewRecorder()
	streaming.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.True(t, flushed)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequestsTotal.WithLabelValues(route, http.MethodGet, "200")))

	plain := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, HTTPMiddleware(nil, route)(plain))
}
