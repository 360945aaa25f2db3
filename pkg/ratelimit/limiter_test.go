package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{
			name:   "valid",
			config: Config{Provider: "llamarpc", SustainedRPS: 5},
		},
		{
			name:    "zero rate",
			config:  Config{SustainedRPS: 0},
			wantErr: true,
		},
		{
			name:    "negative rate",
			config:  Config{SustainedRPS: -1},
			wantErr: true,
		},
		{
			name:    "negative burst",
			config:  Config{SustainedRPS: 5, Burst: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEffectiveBurst(t *testing.T) {
	tests := []struct {
		name   string
		config Config
		want   int
	}{
		{name: "explicit burst wins", config: Config{SustainedRPS: 5, Burst: 3}, want: 3},
		{name: "default is 2x rate", config: Config{SustainedRPS: 5}, want: 10},
		{name: "fractional rate rounds up", config: Config{SustainedRPS: 0.5}, want: 1},
		{name: "sub-half rate floors at one", config: Config{SustainedRPS: 0.2}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.config.EffectiveBurst())
		})
	}
}

func TestAcquireGrantsBurstImmediately(t *testing.T) {
	l, err := New(&Config{Provider: "test", SustainedRPS: 100, Burst: 5})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	// The first burst-worth of permits must not block.
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestAcquireEnforcesSustainedCeiling(t *testing.T) {
	// 50 RPS with burst 1: 10 permits need at least ~180ms of refill time.
	l, err := New(&Config{Provider: "test", SustainedRPS: 50, Burst: 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()

	const permits = 10
	for i := 0; i < permits; i++ {
		require.NoError(t, l.Acquire(ctx))
	}

	elapsed := time.Since(start)

	// burst of 1 is free, the remaining 9 permits refill at 20ms each
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
}

func TestAcquireHonorsContextCancellation(t *testing.T) {
	l, err := New(&Config{Provider: "test", SustainedRPS: 0.1, Burst: 1})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, l.Acquire(ctx))

	// Bucket is now empty and the next refill is 10s away.
	cancelCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	err = l.Acquire(cancelCtx)
	assert.Error(t, err)
}

func TestConcurrentAcquireStaysUnderWindowBudget(t *testing.T) {
	const (
		rps     = 20.0
		seconds = 1
	)

	l, err := New(&Config{Provider: "test", SustainedRPS: rps})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), seconds*time.Second)
	defer cancel()

	granted := make(chan struct{}, 1024)
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			for {
				if err := l.Acquire(ctx); err != nil {
					return
				}
				select {
				case granted <- struct{}{}:
				case <-done:
					return
				}
			}
		}()
	}

	<-ctx.Done()
	close(done)

	count := len(granted)

	// Over the window, grants must not exceed RPS*W plus the burst allowance.
	maxAllowed := int(rps*seconds) + l.Burst()
	assert.LessOrEqual(t, count, maxAllowed)
}
