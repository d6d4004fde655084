package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsImmediatelyAndOnTicks(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler("test", 20*time.Millisecond, func(context.Context) {
		ticks.Add(1)
	}, testLogger())

	require.True(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := NewScheduler("test", time.Hour, func(context.Context) {}, testLogger())

	require.True(t, s.Start(context.Background()))
	defer s.Stop()

	assert.False(t, s.Start(context.Background()))
	assert.True(t, s.IsRunning())
}

func TestScheduler_StopWaitsForTask(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler("test", time.Hour, func(context.Context) {
		ticks.Add(1)
	}, testLogger())

	require.True(t, s.Start(context.Background()))
	s.Stop()

	assert.False(t, s.IsRunning())
	assert.EqualValues(t, 1, ticks.Load())

	// Stopping again is a no-op.
	s.Stop()
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	var ticks atomic.Int32
	s := NewScheduler("test", 10*time.Millisecond, func(context.Context) {
		ticks.Add(1)
		panic("tick exploded")
	}, testLogger())

	require.True(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return ticks.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_ContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler("test", 10*time.Millisecond, func(context.Context) {}, testLogger())

	require.True(t, s.Start(ctx))
	cancel()

	// Stop still cleans up after the context already ended the loop.
	s.Stop()
	assert.False(t, s.IsRunning())
}
