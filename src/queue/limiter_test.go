package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiterTryAcquire(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewWindowLimiter(2, time.Minute)
	l.now = func() time.Time { return clock }

	assert.True(t, l.TryAcquire())
	clock = clock.Add(10 * time.Second)
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire(), "window is full")
	assert.Equal(t, 2, l.InWindow())

	// The first start leaves the window, the second is still inside.
	clock = clock.Add(50 * time.Second)
	assert.True(t, l.TryAcquire())
	assert.False(t, l.TryAcquire())

	clock = clock.Add(time.Minute)
	assert.Equal(t, 0, l.InWindow())
}

func TestWindowLimiterDisabled(t *testing.T) {
	l := NewWindowLimiter(0, time.Minute)
	for i := 0; i < 1000; i++ {
		require.True(t, l.TryAcquire())
	}
}

func TestWindowLimiterWait(t *testing.T) {
	l := NewWindowLimiter(1, 30*time.Millisecond)
	require.NoError(t, l.Wait(context.Background()))

	start := time.Now()
	require.NoError(t, l.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestWindowLimiterWaitCancelled(t *testing.T) {
	l := NewWindowLimiter(1, time.Hour)
	require.True(t, l.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.DeadlineExceeded)
}
