package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const DefaultSpec = "@daily"

// ErrAlreadyRunning is returned by TriggerNow while a run is in progress.
var ErrAlreadyRunning = errors.New("pipeline run already in progress")

// Job is one pipeline execution.
type Job func(ctx context.Context) error

// Scheduler runs the pipeline on a cron schedule. Runs never overlap: a tick
// that fires while the previous run is still going is skipped.
type Scheduler struct {
	spec   string
	job    Job
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	running bool
	parent  context.Context
}

func New(spec string, job Job, logger *zap.Logger) *Scheduler {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		spec:   spec,
		job:    job,
		logger: logger,
		cron:   cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger))),
		parent: context.Background(),
	}
}

// Start registers the job and starts the cron loop. Scheduled runs use ctx
// and stop being started once it is done.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.parent = ctx
	s.mu.Unlock()

	id, err := s.cron.AddFunc(s.spec, func() {
		if err := s.runOnce(); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Error("scheduled run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("cron", s.spec), zap.Time("next", s.cron.Entry(id).Next))
	return nil
}

// Stop halts the cron loop and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// TriggerNow runs the job immediately unless a run is already in progress.
func (s *Scheduler) TriggerNow(ctx context.Context) error {
	return s.run(ctx)
}

// Next returns the time of the next scheduled run, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) runOnce() error {
	s.mu.Lock()
	parent := s.parent
	s.mu.Unlock()

	if parent.Err() != nil {
		s.logger.Info("scheduler context cancelled, skipping run")
		return nil
	}
	return s.run(parent)
}

func (s *Scheduler) run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("previous run still in progress, skipping")
		return ErrAlreadyRunning
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	start := time.Now()
	err := s.job(ctx)
	s.logger.Info("run finished", zap.Duration("duration", time.Since(start)), zap.Bool("ok", err == nil))
	return err
}
