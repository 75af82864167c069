package retry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"library-circulation/internal/metrics"
	"library-circulation/internal/repository"
)

type recordingCollector struct {
	mu       sync.Mutex
	counters map[string]int
}

func (r *recordingCollector) IncrementCounter(_ context.Context, name string, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = make(map[string]int)
	}
	r.counters[name]++
}

func (r *recordingCollector) RecordDuration(context.Context, string, time.Duration, map[string]string) {}

func Test_Backoff_Success_NoRetries(t *testing.T) {
	calls := 0
	result, err := Backoff(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, time.Duration(0), result.TotalDelay)
	assert.Equal(t, "none", result.LastErrorType)
}

func Test_Backoff_RetryOnConcurrencyConflict(t *testing.T) {
	calls := 0
	result, err := Backoff(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return repository.ErrConcurrencyConflict
		}
		return nil
	}, WithBaseDelay(time.Millisecond))

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
	assert.Greater(t, result.TotalDelay, time.Duration(0))
}

func Test_Backoff_NonRetryableFailsFast(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	result, err := Backoff(context.Background(), func(context.Context) error {
		calls++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.Equal(t, "other", result.LastErrorType)
}

func Test_Backoff_MaxAttemptsReached(t *testing.T) {
	collector := &recordingCollector{}
	calls := 0
	result, err := Backoff(context.Background(), func(context.Context) error {
		calls++
		return repository.ErrConcurrencyConflict
	}, WithMaxAttempts(3), WithBaseDelay(0), WithMetrics(collector, "borrow"))

	assert.ErrorIs(t, err, repository.ErrConcurrencyConflict)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, "concurrency_conflict", result.LastErrorType)
	assert.Equal(t, 2, collector.counters[metrics.RetriesTotal])
	assert.Equal(t, 1, collector.counters[metrics.MaxRetriesReachedTotal])
}

func Test_Backoff_ContextCancelledWhileWaiting(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Backoff(ctx, func(context.Context) error {
		calls++
		cancel()
		return repository.ErrConcurrencyConflict
	}, WithBaseDelay(time.Second))

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func Test_Backoff_InvalidOptions(t *testing.T) {
	ctx := context.Background()
	fn := func(context.Context) error { return nil }

	_, err := Backoff(ctx, fn, WithMaxAttempts(0))
	assert.ErrorIs(t, err, ErrInvalidMaxAttempts)

	_, err = Backoff(ctx, fn, WithBaseDelay(-time.Second))
	assert.ErrorIs(t, err, ErrNegativeBaseDelay)

	_, err = Backoff(ctx, fn, WithJitterFactor(1.5))
	assert.ErrorIs(t, err, ErrInvalidJitterFactor)

	_, err = Backoff(ctx, fn, WithMetrics(nil, "borrow"))
	assert.ErrorIs(t, err, ErrNilCollector)

	_, err = Backoff(ctx, fn, WithMetrics(metrics.Nop{}, ""))
	assert.ErrorIs(t, err, ErrEmptyOperation)
}
