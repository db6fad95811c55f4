package janitor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-image/pkg/simpleimage/janitor"
)

type countingCleaner struct {
	calls   atomic.Int32
	lastAge atomic.Int32
	err     error
}

func (c *countingCleaner) CleanupUnused(ctx context.Context, daysOld int) (int, error) {
	c.calls.Add(1)
	c.lastAge.Store(int32(daysOld))
	if c.err != nil {
		return 0, c.err
	}
	return 2, nil
}

func quiet() janitor.Option {
	return janitor.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestNew_ValidatesSchedule(t *testing.T) {
	tests := []struct {
		schedule string
		wantErr  bool
	}{
		{"@daily", false},
		{"0 3 * * *", false},
		{"*/30 * * * * *", false},
		{"@every 1h", false},
		{"not a schedule", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			_, err := janitor.New(&countingCleaner{}, tt.schedule, 30, quiet())
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}

	_, err := janitor.New(nil, "@daily", 30)
	assert.Error(t, err)
}

func TestJanitor_RunOnce(t *testing.T) {
	cleaner := &countingCleaner{}
	j, err := janitor.New(cleaner, "@daily", 7, quiet())
	require.NoError(t, err)

	cleaned, err := j.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, cleaned)
	assert.Equal(t, int32(7), cleaner.lastAge.Load())
	assert.Equal(t, 2, j.LastRun().Cleaned)

	cleaner.err = errors.New("database down")
	_, err = j.RunOnce(context.Background())
	assert.Error(t, err)
	assert.Error(t, j.LastRun().Err)
}

func TestJanitor_Schedule(t *testing.T) {
	cleaner := &countingCleaner{}
	j, err := janitor.New(cleaner, "@every 1s", 0, quiet())
	require.NoError(t, err)

	assert.True(t, j.Next().IsZero())
	require.NoError(t, j.Start())
	require.NoError(t, j.Start())
	assert.False(t, j.Next().IsZero())

	assert.Eventually(t, func() bool { return cleaner.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, j.Stop(ctx))
	assert.True(t, j.Next().IsZero())
	assert.NoError(t, j.Stop(ctx))
}
