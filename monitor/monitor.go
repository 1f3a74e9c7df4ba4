package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"catalog_etl/alert"
	"catalog_etl/fetcher"
	"catalog_etl/metrics"
	"catalog_etl/models"
	"catalog_etl/storage"
	"catalog_etl/transform"
)

// ErrNoProducts fails a run in which no record survived the transform.
var ErrNoProducts = errors.New("no products left after transformation")

const (
	alertTimeout = 30 * time.Second
	sampleSize   = 3
)

type Fetcher interface {
	Fetch(ctx context.Context, onAttempt fetcher.AttemptFunc) ([]models.RawRecord, error)
}

type Transformer interface {
	Transform(raw []models.RawRecord) transform.Result
}

type Store interface {
	Upsert(ctx context.Context, products []models.Product) (models.UpsertResult, error)
	Products(ctx context.Context) ([]models.Product, error)
}

// Publisher receives the full products table after a successful run.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, products []models.Product) error
}

// Result is the terminal outcome of one execution.
type Result struct {
	ExecutionID string
	Status      models.RunStatus
	State       models.RunState
	Counts      models.RunCounts
	StartedAt   time.Time
	FinishedAt  time.Time
	Err         error
}

func (r Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

type Options struct {
	// Logger receives sink failures and is the fallback when Sinks is empty.
	Logger     *zap.Logger
	Sinks      []Sink
	Alerter    alert.Alerter
	Metrics    *metrics.Recorder
	Publishers []Publisher
	Source     string
	Currency   string

	Now   func() time.Time
	NewID func() string
}

// Monitor runs fetch, transform and upsert as one execution and reports
// every step to its sinks.
type Monitor struct {
	fetcher     Fetcher
	transformer Transformer
	store       Store

	logger     *zap.Logger
	sinks      []Sink
	alerter    alert.Alerter
	metrics    *metrics.Recorder
	publishers []Publisher
	source     string
	currency   string
	now        func() time.Time
	newID      func() string

	mu    sync.Mutex
	state models.RunState
}

func New(f Fetcher, t Transformer, s Store, opts Options) *Monitor {
	m := &Monitor{
		fetcher:     f,
		transformer: t,
		store:       s,
		logger:      opts.Logger,
		sinks:       opts.Sinks,
		alerter:     opts.Alerter,
		metrics:     opts.Metrics,
		publishers:  opts.Publishers,
		source:      opts.Source,
		currency:    opts.Currency,
		now:         opts.Now,
		newID:       opts.NewID,
		state:       models.RunStateNotStarted,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if len(m.sinks) == 0 {
		m.sinks = []Sink{NewLoggerSink(m.logger)}
	}
	if m.alerter == nil {
		m.alerter = alert.NoOp{}
	}
	if m.currency == "" {
		m.currency = "INR"
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.newID == nil {
		m.newID = func() string { return uuid.New().String() }
	}
	return m
}

// State is the position of the current or most recent execution.
func (m *Monitor) State() models.RunState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Monitor) advance(to models.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !CanTransition(m.state, to) {
		return fmt.Errorf("invalid run state transition %s -> %s", m.state, to)
	}
	m.state = to
	return nil
}

// CanTransition reports whether the state machine allows from -> to. A
// finished execution may be followed by a new one.
func CanTransition(from, to models.RunState) bool {
	switch to {
	case models.RunStateRunning:
		return from == models.RunStateNotStarted || from.Terminal()
	case models.RunStateSucceeded, models.RunStateFailed:
		return from == models.RunStateRunning
	}
	return false
}

// Run performs one execution. It always ends in a terminal state; the error
// that caused a failure is returned in Result.Err.
func (m *Monitor) Run(ctx context.Context) (res Result) {
	res = Result{
		ExecutionID: m.newID(),
		StartedAt:   m.now(),
	}

	if err := m.advance(models.RunStateRunning); err != nil {
		res.Status = models.RunStatusFailed
		res.State = m.State()
		res.FinishedAt = m.now()
		res.Err = err
		return res
	}
	m.status(ctx, &res, models.RunStatusStarted, models.LogLevelInfo, "Pipeline started",
		zap.String("source", m.source))

	defer func() {
		if r := recover(); r != nil {
			m.fail(ctx, &res, fmt.Errorf("pipeline panicked: %v", r))
		}
	}()

	if err := m.execute(ctx, &res); err != nil {
		m.fail(ctx, &res, err)
		return res
	}

	m.succeed(ctx, &res)
	return res
}

func (m *Monitor) execute(ctx context.Context, res *Result) error {
	raw, err := m.fetcher.Fetch(ctx, func(a fetcher.Attempt) {
		m.attempt(ctx, res.ExecutionID, a)
	})
	if err != nil {
		return err
	}
	res.Counts.Fetched = len(raw)

	out := m.transformer.Transform(raw)
	for _, w := range out.Warnings {
		m.observe(ctx, res.ExecutionID, models.LogLevelWarn, "Dropping invalid record",
			zap.Int("index", w.Index), zap.Int64("product_id", w.ID), zap.String("reason", w.Reason))
	}
	res.Counts.Kept = len(out.Records)
	res.Counts.Filtered = out.Filtered
	res.Counts.Dropped = out.Dropped()

	m.observe(ctx, res.ExecutionID, models.LogLevelInfo,
		fmt.Sprintf("Transformed: %d products (from %d raw)", res.Counts.Kept, res.Counts.Fetched),
		zap.Int("filtered", res.Counts.Filtered), zap.Int("dropped", res.Counts.Dropped))

	if len(out.Records) == 0 {
		return fmt.Errorf("%w: %d fetched, %d filtered, %d dropped",
			ErrNoProducts, res.Counts.Fetched, res.Counts.Filtered, res.Counts.Dropped)
	}

	up, err := m.store.Upsert(ctx, out.Records)
	if err != nil {
		return err
	}
	res.Counts.Updated = up.Updated
	res.Counts.Total = up.Total

	m.observe(ctx, res.ExecutionID, models.LogLevelInfo,
		fmt.Sprintf("Stored/Updated %d products. Total records: %d", up.Updated, up.Total))
	for i, p := range out.Records {
		if i == sampleSize {
			break
		}
		m.observe(ctx, res.ExecutionID, models.LogLevelInfo,
			fmt.Sprintf("Sample: %s: $%.2f USD / %.2f %s", p.Name, p.PriceUSD, p.PriceConverted, m.currency))
	}
	return nil
}

func (m *Monitor) attempt(ctx context.Context, executionID string, a fetcher.Attempt) {
	m.metrics.ObserveAttempt(a.Outcome)

	fields := []zap.Field{
		zap.Int("attempt", a.Number),
		zap.Int("max_attempts", a.MaxAttempts),
		zap.String("outcome", a.Outcome),
		zap.Duration("duration", a.Duration),
	}
	if a.StatusCode != 0 {
		fields = append(fields, zap.Int("status_code", a.StatusCode))
	}

	if a.Err == nil {
		fields = append(fields, zap.Int("records", a.Records))
		m.observe(ctx, executionID, models.LogLevelInfo,
			fmt.Sprintf("Fetch attempt %d/%d succeeded", a.Number, a.MaxAttempts), fields...)
		return
	}

	fields = append(fields, zap.Error(a.Err))
	msg := fmt.Sprintf("Fetch attempt %d/%d failed", a.Number, a.MaxAttempts)
	if a.Backoff > 0 {
		fields = append(fields, zap.Duration("backoff", a.Backoff))
		msg += fmt.Sprintf(", retrying in %s", a.Backoff)
	}
	m.observe(ctx, executionID, models.LogLevelWarn, msg, fields...)
}

func (m *Monitor) succeed(ctx context.Context, res *Result) {
	res.FinishedAt = m.now()
	res.Status = models.RunStatusSuccess
	_ = m.advance(models.RunStateSucceeded)
	res.State = models.RunStateSucceeded

	c := res.Counts
	m.status(ctx, res, models.RunStatusSuccess, models.LogLevelInfo,
		fmt.Sprintf("Fetched %d, transformed %d, filtered %d, dropped %d, stored %d (total %d). Last success: %s",
			c.Fetched, c.Kept, c.Filtered, c.Dropped, c.Updated, c.Total, res.StartedAt.UTC().Format(time.RFC3339)),
		zap.Duration("duration", res.Duration()))

	m.publish(ctx, res.ExecutionID)
	m.metrics.ObserveRun(res.Status, res.Counts, res.Duration(), res.FinishedAt)
}

// fail ends a running execution. An execution that already reached a
// terminal state keeps it; the late error is only logged.
func (m *Monitor) fail(ctx context.Context, res *Result, err error) {
	if aerr := m.advance(models.RunStateFailed); aerr != nil {
		m.logger.Error("error after run finished",
			zap.String("execution_id", res.ExecutionID),
			zap.String("status", string(res.Status)),
			zap.NamedError("cause", err),
			zap.Error(aerr))
		return
	}
	res.FinishedAt = m.now()
	res.Status = models.RunStatusFailed
	res.Err = err
	res.State = models.RunStateFailed

	msg := "Pipeline failed: " + err.Error()
	m.status(ctx, res, models.RunStatusFailed, models.LogLevelError, msg,
		zap.String("reason", Classify(err)), zap.Duration("duration", res.Duration()))

	m.metrics.ObserveRun(res.Status, res.Counts, res.Duration(), res.FinishedAt)

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)
	defer cancel()
	if aerr := m.alerter.Send(alertCtx, alert.Alert{
		ExecutionID: res.ExecutionID,
		Time:        res.FinishedAt,
		Message:     err.Error(),
		Source:      m.source,
	}); aerr != nil {
		m.observe(ctx, res.ExecutionID, models.LogLevelWarn, "Failure alert not delivered", zap.Error(aerr))
	}
}

func (m *Monitor) publish(ctx context.Context, executionID string) {
	if len(m.publishers) == 0 {
		return
	}

	products, err := m.store.Products(ctx)
	if err != nil {
		m.observe(ctx, executionID, models.LogLevelWarn, "Publisher skipped, products unreadable", zap.Error(err))
		return
	}

	for _, p := range m.publishers {
		if err := safePublish(ctx, p, products); err != nil {
			m.observe(ctx, executionID, models.LogLevelWarn, "Publisher failed",
				zap.String("publisher", p.Name()), zap.Error(err))
			continue
		}
		m.observe(ctx, executionID, models.LogLevelInfo,
			fmt.Sprintf("Published %d products", len(products)), zap.String("publisher", p.Name()))
	}
}

func safePublish(ctx context.Context, p Publisher, products []models.Product) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("publisher panicked: %v", r)
		}
	}()
	return p.Publish(ctx, products)
}

func (m *Monitor) status(ctx context.Context, res *Result, status models.RunStatus, level models.LogLevel, msg string, fields ...zap.Field) {
	m.record(ctx, Observation{
		ExecutionID: res.ExecutionID,
		Time:        m.now(),
		Level:       level,
		Status:      status,
		Message:     msg,
		Fields:      fields,
	})
}

func (m *Monitor) observe(ctx context.Context, executionID string, level models.LogLevel, msg string, fields ...zap.Field) {
	m.record(ctx, Observation{
		ExecutionID: executionID,
		Time:        m.now(),
		Level:       level,
		Message:     msg,
		Fields:      fields,
	})
}

// record hands obs to every sink. Status entries of a canceled run must
// still land, so sinks get a context that outlives ctx.
func (m *Monitor) record(ctx context.Context, obs Observation) {
	sinkCtx := context.WithoutCancel(ctx)
	for _, s := range m.sinks {
		if err := s.Record(sinkCtx, obs); err != nil {
			m.logger.Error("failed to record run observation",
				zap.String("execution_id", obs.ExecutionID),
				zap.String("status", string(obs.Status)),
				zap.Error(err))
		}
	}
}

// Classify names the stage an error came from.
func Classify(err error) string {
	var (
		fetchErr *fetcher.FetchError
		storeErr *storage.StoreError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &fetchErr):
		return "fetch_" + string(fetchErr.Reason)
	case errors.Is(err, ErrNoProducts):
		return "no_products"
	case errors.As(err, &storeErr):
		return "store_" + string(storeErr.Kind)
	}
	return "unknown"
}
