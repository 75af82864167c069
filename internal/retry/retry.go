package retry

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"time"

	"library-circulation/internal/metrics"
	"library-circulation/internal/repository"
)

const (
	DefaultMaxAttempts  = 6
	DefaultBaseDelay    = 10 * time.Millisecond
	DefaultJitterFactor = 0.3
)

var (
	ErrInvalidMaxAttempts  = errors.New("max attempts must be positive")
	ErrNegativeBaseDelay   = errors.New("base delay must not be negative")
	ErrInvalidJitterFactor = errors.New("jitter factor must be between 0.0 and 1.0")
	ErrNilCollector        = errors.New("metrics collector must not be nil")
	ErrEmptyOperation      = errors.New("operation name must not be empty")
)

type Func func(ctx context.Context) error

// Result describes how a Backoff call went.
type Result struct {
	Attempts      int
	TotalDelay    time.Duration
	LastErrorType string
}

type config struct {
	maxAttempts  int
	baseDelay    time.Duration
	jitterFactor float64
	collector    metrics.Collector
	operation    string
}

type Option func(*config) error

// Backoff runs fn until it succeeds, fails with an error other than
// repository.ErrConcurrencyConflict, or maxAttempts is reached. Attempt n waits
// baseDelay * 2^(n-2) plus jitter before running. When attempts run out the last
// conflict is returned unchanged.
func Backoff(ctx context.Context, fn Func, options ...Option) (Result, error) {
	cfg := &config{
		maxAttempts:  DefaultMaxAttempts,
		baseDelay:    DefaultBaseDelay,
		jitterFactor: DefaultJitterFactor,
		collector:    metrics.Nop{},
	}
	for _, option := range options {
		if err := option(cfg); err != nil {
			return Result{}, err
		}
	}

	var (
		result  Result
		lastErr error
	)
	for attempt := 0; attempt < cfg.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.baseDelay * time.Duration(1<<(attempt-1))
			jitter := rand.Float64() * float64(delay) * cfg.jitterFactor //nolint:gosec
			wait := delay + time.Duration(jitter)
			result.TotalDelay += wait

			cfg.collector.RecordDuration(ctx, metrics.RetryDelay, wait, map[string]string{
				metrics.LabelOperation: cfg.operation,
				metrics.LabelAttempt:   strconv.Itoa(attempt),
			})

			select {
			case <-time.After(wait):
			case <-ctx.Done():
				result.LastErrorType = errorType(ctx.Err())
				return result, ctx.Err()
			}
		}

		result.Attempts++
		lastErr = fn(ctx)
		result.LastErrorType = errorType(lastErr)
		if lastErr == nil {
			return result, nil
		}
		if !Retryable(lastErr) {
			return result, lastErr
		}
		if attempt < cfg.maxAttempts-1 {
			cfg.collector.IncrementCounter(ctx, metrics.RetriesTotal, map[string]string{
				metrics.LabelOperation: cfg.operation,
				metrics.LabelAttempt:   strconv.Itoa(attempt + 1),
				metrics.LabelErrorType: result.LastErrorType,
			})
		}
	}

	cfg.collector.IncrementCounter(ctx, metrics.MaxRetriesReachedTotal, map[string]string{
		metrics.LabelOperation: cfg.operation,
		metrics.LabelErrorType: result.LastErrorType,
	})
	return result, lastErr
}

// Retryable reports whether err is worth another attempt. Only optimistic
// concurrency conflicts are; timeouts fail fast.
func Retryable(err error) bool {
	return errors.Is(err, repository.ErrConcurrencyConflict)
}

func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, repository.ErrConcurrencyConflict):
		return "concurrency_conflict"
	case errors.Is(err, context.Canceled):
		return "context_canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "context_deadline_exceeded"
	default:
		return "other"
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(c *config) error {
		if attempts <= 0 {
			return ErrInvalidMaxAttempts
		}
		c.maxAttempts = attempts
		return nil
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *config) error {
		if delay < 0 {
			return ErrNegativeBaseDelay
		}
		c.baseDelay = delay
		return nil
	}
}

func WithJitterFactor(factor float64) Option {
	return func(c *config) error {
		if factor < 0.0 || factor > 1.0 {
			return ErrInvalidJitterFactor
		}
		c.jitterFactor = factor
		return nil
	}
}

// WithMetrics labels retry metrics with the given operation name.
func WithMetrics(collector metrics.Collector, operation string) Option {
	return func(c *config) error {
		if collector == nil {
			return ErrNilCollector
		}
		if operation == "" {
			return ErrEmptyOperation
		}
		c.collector = collector
		c.operation = operation
		return nil
	}
}
