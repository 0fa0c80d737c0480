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

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())
	job := NewResearchRunJob(context.Background(), func(context.Context) error { return nil }, 0, zerolog.Nop())

	require.NoError(t, s.AddJob("0 0 2 * * *", job))
	assert.Equal(t, 1, s.Entries())

	assert.Error(t, s.AddJob("not a schedule", job))
}

func TestScheduler_RejectsDuplicateNames(t *testing.T) {
	s := New(zerolog.Nop())
	job := NewResearchRunJob(context.Background(), func(context.Context) error { return nil }, 0, zerolog.Nop())

	require.NoError(t, s.AddJob("@daily", job))
	assert.Error(t, s.AddJob("@weekly", job))
	assert.Equal(t, 1, s.Entries())
}

func TestScheduler_NextRun(t *testing.T) {
	s := New(zerolog.Nop())
	job := NewResearchRunJob(context.Background(), func(context.Context) error { return nil }, 0, zerolog.Nop())
	require.NoError(t, s.AddJob("0 0 2 * * *", job))

	next, ok := s.NextRun(job.Name())
	require.True(t, ok)
	assert.True(t, next.After(time.Now()))
	assert.Equal(t, 2, next.Hour())

	_, ok = s.NextRun("unknown")
	assert.False(t, ok)
}

func TestScheduler_RunNow(t *testing.T) {
	var calls atomic.Int32
	job := NewResearchRunJob(context.Background(), func(context.Context) error {
		calls.Add(1)
		return nil
	}, 0, zerolog.Nop())

	require.NoError(t, New(zerolog.Nop()).RunNow(job))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResearchRunJob_RefusesOverlap(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	job := NewResearchRunJob(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}, 0, zerolog.Nop())

	done := make(chan error)
	go func() { done <- job.Run() }()
	<-started

	assert.True(t, job.Running())
	assert.ErrorIs(t, job.Run(), ErrAlreadyRunning)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, job.Running())
}

func TestResearchRunJob_TimeoutAndErrors(t *testing.T) {
	job := NewResearchRunJob(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, 10*time.Millisecond, zerolog.Nop())
	assert.ErrorIs(t, job.Run(), context.DeadlineExceeded)

	boom := errors.New("boom")
	failing := NewResearchRunJob(context.Background(), func(context.Context) error { return boom }, 0, zerolog.Nop())
	assert.ErrorIs(t, failing.Run(), boom)
}

func TestResearchRunJob_TryStartHoldsClaim(t *testing.T) {
	var calls atomic.Int32
	job := NewResearchRunJob(context.Background(), func(context.Context) error {
		calls.Add(1)
		return nil
	}, 0, zerolog.Nop())

	start, ok := job.TryStart()
	require.True(t, ok)
	assert.True(t, job.Running())

	_, ok = job.TryStart()
	assert.False(t, ok)
	assert.ErrorIs(t, job.Run(), ErrAlreadyRunning)
	assert.Zero(t, calls.Load())

	require.NoError(t, start())
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, job.Running())

	require.NoError(t, job.Run())
	assert.Equal(t, int32(2), calls.Load())
}
