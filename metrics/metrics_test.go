package metrics

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalog_etl/models"
)

func TestRecorder_ObserveRun(t *testing.T) {
	r := New()
	finished := time.Unix(1714550400, 0)

	r.ObserveRun(models.RunStatusSuccess, models.RunCounts{Fetched: 20, Kept: 7, Filtered: 13, Updated: 7, Total: 7}, 2*time.Second, finished)
	r.ObserveRun(models.RunStatusFailed, models.RunCounts{}, time.Second, finished.Add(time.Hour))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runs.WithLabelValues("FAILED")))
	assert.Equal(t, 20.0, testutil.ToFloat64(r.records.WithLabelValues(StageFetched)))
	assert.Equal(t, 13.0, testutil.ToFloat64(r.records.WithLabelValues(StageFiltered)))
	assert.Equal(t, 7.0, testutil.ToFloat64(r.products))

	// A failed run does not move the last-success gauge.
	assert.Equal(t, float64(finished.Unix()), testutil.ToFloat64(r.lastSuccess))
	assert.Equal(t, 2, testutil.CollectAndCount(r.runDuration))
}

func TestRecorder_ObserveAttempt(t *testing.T) {
	r := New()
	r.ObserveAttempt("http_status")
	r.ObserveAttempt("http_status")
	r.ObserveAttempt("success")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.fetchAttempts.WithLabelValues("http_status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchAttempts.WithLabelValues("success")))
}

func TestRecorder_NilIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveAttempt("success")
	r.ObserveRun(models.RunStatusSuccess, models.RunCounts{}, 0, time.Now())
	assert.NoError(t, r.WriteTextfile("ignored.prom"))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r := New()
	r.ObserveRun(models.RunStatusSuccess, models.RunCounts{Total: 7}, time.Second, time.Now())

	path := filepath.Join(t.TempDir(), "catalog_etl.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `catalog_etl_runs_total{status="SUCCESS"} 1`)
	assert.Contains(t, string(data), "catalog_etl_products_total 7")
}

func TestRecorder_Handler(t *testing.T) {
	r := New()
	r.ObserveAttempt("timeout")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `catalog_etl_fetch_attempts_total{outcome="timeout"} 1`)
}
