package utils

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDoublesUpToMax(t *testing.T) {
	b := NewBackoffManager(time.Second, 5*time.Second)
	assert.Equal(t, time.Second, b.GetInterval())

	b.IncreaseInterval()
	assert.Equal(t, 2*time.Second, b.GetInterval())
	b.IncreaseInterval()
	assert.Equal(t, 4*time.Second, b.GetInterval())
	b.IncreaseInterval()
	assert.Equal(t, 5*time.Second, b.GetInterval())

	b.ResetInterval()
	assert.Equal(t, time.Second, b.GetInterval())
}

func TestBackoffMaxBelowInitial(t *testing.T) {
	b := NewBackoffManager(2*time.Second, time.Second)
	b.IncreaseInterval()
	assert.Equal(t, 2*time.Second, b.GetInterval())
}

func TestWaitHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBackoffManager(time.Hour, time.Hour)
	start := time.Now()
	require.ErrorIs(t, b.Wait(ctx), context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSleepElapses(t *testing.T) {
	require.NoError(t, Sleep(context.Background(), 5*time.Millisecond))
}
