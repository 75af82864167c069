package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
	"library-circulation/internal/metrics"
	"library-circulation/internal/reports"
	"library-circulation/internal/repository"
)

// DefaulterClassifier keeps User.IsDefaulter in line with the transaction log.
// A user is a defaulter once their fined returns reach the threshold.
type DefaulterClassifier struct {
	userRepo  repository.UserRepository
	txnRepo   repository.TransactionRepository
	publisher ChangePublisher
	metrics   metrics.Collector
	threshold int
	log       *slog.Logger

	// one reconciliation at a time
	mu sync.Mutex
}

func NewDefaulterClassifier(
	userRepo repository.UserRepository,
	txnRepo repository.TransactionRepository,
	publisher ChangePublisher,
	collector metrics.Collector,
	threshold int,
) *DefaulterClassifier {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if threshold <= 0 {
		threshold = reports.DefaultLateReturnThreshold
	}
	return &DefaulterClassifier{
		userRepo:  userRepo,
		txnRepo:   txnRepo,
		publisher: publisher,
		metrics:   collector,
		threshold: threshold,
		log:       logger.WithService("defaulter"),
	}
}

// Reconcile reloads the transaction log and applies the result.
func (c *DefaulterClassifier) Reconcile(ctx context.Context) (int, error) {
	txns, err := c.txnRepo.List(repository.WithStrongConsistency(ctx))
	if err != nil {
		return 0, fmt.Errorf("load transactions: %w", err)
	}
	return c.ReconcileWith(ctx, txns)
}

// ReconcileWith computes the desired flag for every user from txns and writes
// only the users whose stored flag differs. It returns the number of users changed.
// A failed write does not stop the others; the next pass picks it up again.
func (c *DefaulterClassifier) ReconcileWith(ctx context.Context, txns []domain.Transaction) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	users, err := c.userRepo.List(repository.WithStrongConsistency(ctx))
	if err != nil {
		return 0, fmt.Errorf("load users: %w", err)
	}

	desired := c.Desired(txns)
	changed := 0
	var errs []error
	for _, u := range users {
		want := desired[u.ID]
		if u.IsDefaulter == want {
			continue
		}
		if err := c.userRepo.SetDefaulter(ctx, u.ID, want); err != nil {
			errs = append(errs, fmt.Errorf("user %s: %w", u.ID, err))
			continue
		}
		changed++
		c.log.InfoContext(ctx, "Defaulter status changed", "user_id", u.ID, "is_defaulter", want)
		c.metrics.IncrementCounter(ctx, metrics.DefaulterUpdatesTotal, map[string]string{"is_defaulter": strconv.FormatBool(want)})
	}

	if changed > 0 {
		if err := c.publisher.Publish(context.WithoutCancel(ctx), domain.CollectionUsers); err != nil {
			c.log.WarnContext(ctx, "Failed to publish change", "collection", domain.CollectionUsers, "error", err)
		}
	}
	return changed, errors.Join(errs...)
}

// Desired returns the set of users that should be flagged.
func (c *DefaulterClassifier) Desired(txns []domain.Transaction) map[uuid.UUID]bool {
	desired := make(map[uuid.UUID]bool)
	for userID, late := range reports.LateReturnCounts(txns) {
		if late >= c.threshold {
			desired[userID] = true
		}
	}
	return desired
}

// Watch reconciles on every transactions snapshot until ctx is done.
func (c *DefaulterClassifier) Watch(ctx context.Context, hub SnapshotSubscriber) error {
	sub, err := hub.Subscribe(ctx, domain.CollectionTransactions)
	if err != nil {
		return err
	}
	defer sub.Close()

	c.log.Info("Watching transactions for defaulter changes")
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C():
			if !ok {
				return nil
			}
			if _, err := c.ReconcileWith(ctx, snap.Transactions); err != nil {
				c.log.ErrorContext(ctx, "Defaulter reconciliation failed", "version", snap.Version, "error", err)
			}
		}
	}
}
