package retrieval

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExpBackoff_GrowsAndCaps(t *testing.T) {
	t.Parallel()

	initial := 500 * time.Millisecond
	ceiling := 4 * time.Second

	first := expBackoff(initial, ceiling, 0)
	require.GreaterOrEqual(t, first, initial/2)
	require.LessOrEqual(t, first, initial)

	late := expBackoff(initial, ceiling, 10)
	require.LessOrEqual(t, late, ceiling)
	require.GreaterOrEqual(t, late, ceiling/2)
}

func TestSleepCtx_ZeroReturnsImmediately(t *testing.T) {
	t.Parallel()

	require.NoError(t, SleepCtx(context.Background(), 0))
}

func TestSleepCtx_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, SleepCtx(ctx, time.Minute))
}

func TestClampToBudget(t *testing.T) {
	t.Parallel()

	// Want fits inside the fraction.
	require.Equal(t, time.Second, ClampToBudget(time.Second, time.Minute, 0.25))
	// Want exceeds the fraction and gets clamped.
	require.Equal(t, 2*time.Second, ClampToBudget(10*time.Second, 8*time.Second, 0.25))
	// Bogus fraction falls back to a quarter.
	require.Equal(t, 2*time.Second, ClampToBudget(10*time.Second, 8*time.Second, 0))
}
