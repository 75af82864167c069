package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"library-circulation/internal/fines"
	"library-circulation/internal/inventory"
	"library-circulation/internal/logger"
	"library-circulation/internal/repository"
)

// ReconcileDefaulters recomputes every user's defaulter flag from the transaction log.
// The server also does this on every transactions change; the job covers changes
// made while no server was watching.
func (jr *JobRunner) ReconcileDefaulters() error {
	return jr.runWithRecovery("ReconcileDefaulters", func(ctx context.Context) error {
		changed, err := jr.store.Defaulters.Reconcile(ctx)
		logger.Info("Reconciled defaulters", "changed", changed)
		return err
	})
}

// OverdueLoan is an open transaction past its due date with the fine it would carry
// if returned now.
type OverdueLoan struct {
	TransactionID uuid.UUID
	BookID        uuid.UUID
	UserID        uuid.UUID
	DueDate       time.Time
	DaysLate      int64
	AccruedFine   decimal.Decimal
}

// OverdueLoans lists the open loans past due at the runner's clock.
func (jr *JobRunner) OverdueLoans(ctx context.Context) ([]OverdueLoan, error) {
	open, err := jr.store.Transactions.ListOpen(repository.WithEventualConsistency(ctx))
	if err != nil {
		return nil, fmt.Errorf("list open transactions: %w", err)
	}

	now := jr.now().UTC()
	var overdue []OverdueLoan
	for _, t := range open {
		if !now.After(t.DueDate) {
			continue
		}
		overdue = append(overdue, OverdueLoan{
			TransactionID: t.ID,
			BookID:        t.BookID,
			UserID:        t.UserID,
			DueDate:       t.DueDate,
			DaysLate:      fines.DaysLate(t.DueDate, now),
			AccruedFine:   jr.fines.ComputeAt(t.DueDate, now),
		})
	}
	return overdue, nil
}

// ReportOverdueLoans logs every overdue loan with its accrued fine
func (jr *JobRunner) ReportOverdueLoans() error {
	return jr.runWithRecovery("ReportOverdueLoans", func(ctx context.Context) error {
		overdue, err := jr.OverdueLoans(ctx)
		if err != nil {
			return err
		}

		total := decimal.Zero
		for _, loan := range overdue {
			total = total.Add(loan.AccruedFine)
			logger.Debug("Overdue loan",
				"transaction_id", loan.TransactionID,
				"user_id", loan.UserID,
				"book_id", loan.BookID,
				"due_date", loan.DueDate,
				"days_late", loan.DaysLate,
				"accrued_fine", loan.AccruedFine.StringFixed(2))
		}
		logger.Info("Overdue loans", "count", len(overdue), "accrued_fines", total.StringFixed(2))
		return nil
	})
}

// Audit cross-checks the book counters against the transaction log of one snapshot.
func (jr *JobRunner) Audit(ctx context.Context) ([]inventory.Violation, error) {
	books, txns, err := jr.store.Inventory.InventorySnapshot(repository.WithStrongConsistency(ctx))
	if err != nil {
		return nil, fmt.Errorf("read inventory snapshot: %w", err)
	}
	return inventory.Audit(books, txns), nil
}

// AuditInventory logs every violated invariant and fails when any is found
func (jr *JobRunner) AuditInventory() error {
	return jr.runWithRecovery("AuditInventory", func(ctx context.Context) error {
		violations, err := jr.Audit(ctx)
		if err != nil {
			return err
		}
		for _, v := range violations {
			logger.Error("Inventory invariant violated", "book_id", v.BookID, "transaction_id", v.TransactionID, "reason", v.Reason)
		}
		if len(violations) > 0 {
			return fmt.Errorf("%d inventory violations", len(violations))
		}
		logger.Info("Inventory audit clean")
		return nil
	})
}
