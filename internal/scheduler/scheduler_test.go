package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddRejectsBadSpec(t *testing.T) {
	s := New(context.Background(), nil, nil)

	err := s.Add("screening", "not a spec", func(context.Context) error { return nil })
	assert.Error(t, err)
}

func TestScheduler_AddRejectsDuplicateName(t *testing.T) {
	s := New(context.Background(), nil, nil)
	noop := func(context.Context) error { return nil }

	require.NoError(t, s.Add("labeling", "0 18 * * 1-5", noop))
	assert.Error(t, s.Add("labeling", "0 19 * * 1-5", noop))
}

func TestScheduler_Trigger(t *testing.T) {
	s := New(context.Background(), nil, nil)
	calls := 0
	require.NoError(t, s.Add("screening", "30 16 * * 1-5", func(context.Context) error {
		calls++
		return nil
	}))

	require.NoError(t, s.Trigger("screening"))
	assert.Equal(t, 1, calls)

	st := s.Statuses()
	require.Len(t, st, 1)
	assert.Equal(t, "screening", st[0].Name)
	assert.False(t, st[0].LastRun.IsZero())
	assert.Empty(t, st[0].LastErr)
}

func TestScheduler_TriggerUnknown(t *testing.T) {
	s := New(context.Background(), nil, nil)
	assert.ErrorIs(t, s.Trigger("nope"), ErrUnknownJob)
}

func TestScheduler_TriggerRecordsError(t *testing.T) {
	s := New(context.Background(), nil, nil)
	boom := errors.New("boom")
	require.NoError(t, s.Add("labeling", "0 18 * * *", func(context.Context) error { return boom }))

	assert.ErrorIs(t, s.Trigger("labeling"), boom)
	assert.Equal(t, "boom", s.Statuses()[0].LastErr)
}

func TestScheduler_NoOverlap(t *testing.T) {
	s := New(context.Background(), nil, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, s.Add("screening", "30 16 * * *", func(context.Context) error {
		close(started)
		<-release
		return nil
	}))

	done := make(chan error, 1)
	go func() { done <- s.Trigger("screening") }()
	<-started

	assert.ErrorIs(t, s.Trigger("screening"), ErrAlreadyRunning)
	close(release)
	assert.NoError(t, <-done)
}

func TestScheduler_NextAfterStart(t *testing.T) {
	s := New(context.Background(), nil, time.UTC)
	require.NoError(t, s.Add("screening", "30 16 * * *", func(context.Context) error { return nil }))

	s.Start()
	defer s.Stop()

	st := s.Statuses()
	require.Len(t, st, 1)
	assert.False(t, st[0].Next.IsZero())
	assert.Equal(t, 16, st[0].Next.Hour())
}
