package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"catalog_etl/models"
)

const namespace = "catalog_etl"

// Record stages reported through records_total.
const (
	StageFetched  = "fetched"
	StageKept     = "kept"
	StageFiltered = "filtered"
	StageDropped  = "dropped"
	StageUpserted = "upserted"
)

// Recorder holds the pipeline metrics on a private registry, so a one-shot
// run can dump exactly these series to a textfile. All methods are safe on a
// nil Recorder.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	fetchAttempts *prometheus.CounterVec
	records       *prometheus.CounterVec
	runDuration   prometheus.Histogram
	lastSuccess   prometheus.Gauge
	products      prometheus.Gauge
}

func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline executions by terminal status.",
		}, []string{"status"}),
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_attempts_total",
			Help:      "HTTP fetch attempts by outcome.",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records seen at each pipeline stage.",
		}, []string{"stage"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of one pipeline execution.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		products: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "products_total",
			Help:      "Rows in the products table after the last successful run.",
		}),
	}

	r.registry.MustRegister(r.runs, r.fetchAttempts, r.records, r.runDuration, r.lastSuccess, r.products)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

func (r *Recorder) ObserveAttempt(outcome string) {
	if r == nil {
		return
	}
	r.fetchAttempts.WithLabelValues(outcome).Inc()
}

// ObserveRun records a finished execution.
func (r *Recorder) ObserveRun(status models.RunStatus, counts models.RunCounts, duration time.Duration, finishedAt time.Time) {
	if r == nil {
		return
	}

	r.runs.WithLabelValues(string(status)).Inc()
	r.runDuration.Observe(duration.Seconds())

	r.records.WithLabelValues(StageFetched).Add(float64(counts.Fetched))
	r.records.WithLabelValues(StageKept).Add(float64(counts.Kept))
	r.records.WithLabelValues(StageFiltered).Add(float64(counts.Filtered))
	r.records.WithLabelValues(StageDropped).Add(float64(counts.Dropped))
	r.records.WithLabelValues(StageUpserted).Add(float64(counts.Updated))

	if status == models.RunStatusSuccess {
		r.lastSuccess.Set(float64(finishedAt.Unix()))
		r.products.Set(float64(counts.Total))
	}
}

// WriteTextfile writes the current values in the node-exporter textfile
// format. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
