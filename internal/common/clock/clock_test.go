package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFake_SleepAdvancesTime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	require.NoError(t, f.Sleep(context.Background(), time.Hour))
	require.NoError(t, f.Sleep(context.Background(), 30*time.Minute))

	assert.Equal(t, start.Add(90*time.Minute), f.Now())
	assert.Equal(t, []time.Duration{time.Hour, 30 * time.Minute}, f.Sleeps())
}

func TestFake_OnSleepCanCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := NewFake(time.Unix(0, 0))
	f.OnSleep = func(n int, _ time.Duration) {
		if n == 2 {
			cancel()
		}
	}

	assert.NoError(t, f.Sleep(ctx, time.Second))
	assert.ErrorIs(t, f.Sleep(ctx, time.Second), context.Canceled)
	assert.ErrorIs(t, f.Sleep(ctx, time.Second), context.Canceled)
	assert.Len(t, f.Sleeps(), 2)
}

func TestReal_SleepInterrupted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Real().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReal_SleepShort(t *testing.T) {
	assert.NoError(t, Real().Sleep(context.Background(), time.Millisecond))
}
