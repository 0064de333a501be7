package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvery_RunsJob(t *testing.T) {
	s := New(zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Every(time.Second, JobFunc{JobName: "count", Fn: func(context.Context) error {
		runs.Add(1)
		return nil
	}}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}

func TestStop_WaitsForRunningJob(t *testing.T) {
	s := New(zerolog.Nop())
	started := make(chan struct{})
	var finished atomic.Bool
	require.NoError(t, s.Every(time.Second, JobFunc{JobName: "slow", Fn: func(ctx context.Context) error {
		if finished.Load() {
			return nil
		}
		close(started)
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
		return nil
	}}))

	s.Start()
	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}
	s.Stop()
	assert.True(t, finished.Load())
}

func TestEvery_RejectsInvalidInterval(t *testing.T) {
	s := New(zerolog.Nop())
	assert.Error(t, s.Every(0, JobFunc{JobName: "x", Fn: func(context.Context) error { return nil }}))
	assert.Error(t, s.AddJob("not a schedule", JobFunc{JobName: "x"}))
}

func TestRunNow(t *testing.T) {
	s := New(zerolog.Nop())
	want := errors.New("boom")
	err := s.RunNow(JobFunc{JobName: "fail", Fn: func(context.Context) error { return want }})
	assert.ErrorIs(t, err, want)
}
