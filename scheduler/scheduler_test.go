package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestStart_InvalidSpec(t *testing.T) {
	s := New("not a cron line", func(ctx context.Context) error { return nil }, zaptest.NewLogger(t))
	require.Error(t, s.Start(context.Background()))
}

func TestStart_DefaultSpec(t *testing.T) {
	s := New("  ", func(ctx context.Context) error { return nil }, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, DefaultSpec, s.spec)
	assert.False(t, s.Next().IsZero())
}

func TestScheduler_RunsOnSchedule(t *testing.T) {
	var runs int32
	s := New("@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, zaptest.NewLogger(t))

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestTriggerNow_SkipsOverlappingRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	s := New("@daily", func(ctx context.Context) error {
		close(started)
		<-release
		return errors.New("source down")
	}, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- s.TriggerNow(context.Background()) }()

	<-started
	assert.ErrorIs(t, s.TriggerNow(context.Background()), ErrAlreadyRunning)

	close(release)
	err := <-done
	require.Error(t, err)
	assert.Equal(t, "source down", err.Error())
}

func TestRunOnce_SkipsAfterCancel(t *testing.T) {
	var runs int32
	s := New("@daily", func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	defer s.Stop()
	cancel()

	require.NoError(t, s.runOnce())
	assert.Zero(t, atomic.LoadInt32(&runs))
}
