package monitor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"catalog_etl/models"
)

// Observation is one event of an execution. Status is set only on the
// STARTED, SUCCESS and FAILED entries.
type Observation struct {
	ExecutionID string
	Time        time.Time
	Level       models.LogLevel
	Status      models.RunStatus
	Message     string
	Fields      []zap.Field
}

// IsStatus reports whether the observation is a run status entry.
func (o Observation) IsStatus() bool {
	return o.Status != ""
}

// Sink receives observations. A failing sink never aborts the run.
type Sink interface {
	Record(ctx context.Context, obs Observation) error
}

// LoggerSink writes every observation to a zap logger, which in turn fans
// out to stdout and the log files.
type LoggerSink struct {
	logger *zap.Logger
}

func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Record(ctx context.Context, obs Observation) error {
	fields := make([]zap.Field, 0, len(obs.Fields)+2)
	fields = append(fields, zap.String("execution_id", obs.ExecutionID))
	if obs.IsStatus() {
		fields = append(fields, zap.String("status", string(obs.Status)))
	}
	fields = append(fields, obs.Fields...)

	switch obs.Level {
	case models.LogLevelError:
		s.logger.Error(obs.Message, fields...)
	case models.LogLevelWarn:
		s.logger.Warn(obs.Message, fields...)
	default:
		s.logger.Info(obs.Message, fields...)
	}
	return nil
}

// LogAppender is the part of the store StoreSink needs.
type LogAppender interface {
	AppendLog(ctx context.Context, entry models.RunLogEntry) (int64, error)
}

// StoreSink appends status entries to the logs table and ignores the rest.
type StoreSink struct {
	store LogAppender
}

func NewStoreSink(store LogAppender) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Record(ctx context.Context, obs Observation) error {
	if !obs.IsStatus() {
		return nil
	}
	_, err := s.store.AppendLog(ctx, models.RunLogEntry{
		ExecutionID: obs.ExecutionID,
		Timestamp:   obs.Time,
		Status:      obs.Status,
		Message:     obs.Message,
	})
	return err
}

// MemorySink keeps observations in memory.
type MemorySink struct {
	mu   sync.Mutex
	obs  []Observation
	fail error
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// FailWith makes every later Record return err after storing the observation.
func (s *MemorySink) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *MemorySink) Record(ctx context.Context, obs Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append(s.obs, obs)
	return s.fail
}

func (s *MemorySink) Observations() []Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Observation, len(s.obs))
	copy(out, s.obs)
	return out
}

// Statuses returns the status of every status entry in order.
func (s *MemorySink) Statuses() []models.RunStatus {
	var out []models.RunStatus
	for _, o := range s.Observations() {
		if o.IsStatus() {
			out = append(out, o.Status)
		}
	}
	return out
}
