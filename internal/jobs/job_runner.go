package jobs

import (
	"context"
	"fmt"
	"time"

	"library-circulation/internal/config"
	"library-circulation/internal/fines"
	"library-circulation/internal/logger"
	"library-circulation/internal/metrics"
	"library-circulation/internal/repository"
	"library-circulation/internal/service"
)

const defaultJobTimeout = 5 * time.Minute

// JobRunner coordinates all scheduled jobs
type JobRunner struct {
	store   *Store
	config  *config.Config
	fines   *fines.Calculator
	metrics metrics.Collector
	now     func() time.Time
}

// Store holds the repositories and services the jobs read and reconcile
type Store struct {
	Transactions repository.TransactionRepository
	Inventory    repository.InventoryReader
	Defaulters   *service.DefaulterClassifier
}

type Option func(*JobRunner)

func WithMetrics(c metrics.Collector) Option {
	return func(jr *JobRunner) { jr.metrics = c }
}

func WithClock(now func() time.Time) Option {
	return func(jr *JobRunner) { jr.now = now }
}

// NewJobRunner creates a new job runner with all dependencies
func NewJobRunner(store *Store, calc *fines.Calculator, cfg *config.Config, opts ...Option) *JobRunner {
	if calc == nil {
		calc = fines.NewCalculator(fines.DefaultRatePerDay)
	}
	jr := &JobRunner{
		store:   store,
		config:  cfg,
		fines:   calc,
		metrics: metrics.Nop{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(jr)
	}
	return jr
}

// Config returns the configuration the jobs were built with
func (jr *JobRunner) Config() *config.Config {
	return jr.config
}

// runWithRecovery wraps job execution with panic recovery and a deadline
func (jr *JobRunner) runWithRecovery(jobName string, jobFunc func(ctx context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultJobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Job panicked", "job", jobName, "panic", r)
			err = fmt.Errorf("job %s panicked: %v", jobName, r)
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		jr.metrics.IncrementCounter(ctx, metrics.JobRunsTotal, map[string]string{metrics.LabelJob: jobName, metrics.LabelStatus: status})
	}()

	logger.Info("Starting job", "job", jobName)
	if err = jobFunc(ctx); err != nil {
		logger.Error("Job failed", "job", jobName, "error", err)
		return err
	}
	logger.Info("Job completed", "job", jobName)
	return nil
}

// RunAll runs every job once (for manual execution)
func (jr *JobRunner) RunAll() error {
	var failed int
	for _, job := range []func() error{jr.ReconcileDefaulters, jr.ReportOverdueLoans, jr.AuditInventory} {
		if err := job(); err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of 3 jobs failed", failed)
	}
	return nil
}
