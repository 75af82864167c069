package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"library-circulation/internal/domain"
	"library-circulation/internal/fines"
	"library-circulation/internal/inventory"
	"library-circulation/internal/logger"
	"library-circulation/internal/metrics"
	"library-circulation/internal/repository"
	"library-circulation/internal/retry"
)

const (
	operationBorrow = "borrow"
	operationReturn = "return"
)

type circulationService struct {
	bookRepo  repository.BookRepository
	userRepo  repository.UserRepository
	txnRepo   repository.TransactionRepository
	circRepo  repository.CirculationRepository
	fines     *fines.Calculator
	publisher ChangePublisher
	metrics   metrics.Collector
	settings  CirculationSettings
	log       *slog.Logger
}

func NewCirculationService(
	bookRepo repository.BookRepository,
	userRepo repository.UserRepository,
	txnRepo repository.TransactionRepository,
	circRepo repository.CirculationRepository,
	calculator *fines.Calculator,
	publisher ChangePublisher,
	collector metrics.Collector,
	settings CirculationSettings,
) CirculationService {
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if calculator == nil {
		calculator = fines.NewCalculator(fines.DefaultRatePerDay)
	}
	return &circulationService{
		bookRepo:  bookRepo,
		userRepo:  userRepo,
		txnRepo:   txnRepo,
		circRepo:  circRepo,
		fines:     calculator,
		publisher: publisher,
		metrics:   collector,
		settings:  settings.withDefaults(),
		log:       logger.WithService("circulation"),
	}
}

func (s *circulationService) retryOptions(operation string) []retry.Option {
	return []retry.Option{
		retry.WithMaxAttempts(s.settings.MaxAttempts),
		retry.WithBaseDelay(s.settings.BaseDelay),
		retry.WithMetrics(s.metrics, operation),
	}
}

// Borrow lends one copy of bookID to userID. Either the copy is taken and the open
// transaction recorded together, or nothing changes.
func (s *circulationService) Borrow(ctx context.Context, userID, bookID uuid.UUID) (txn *domain.Transaction, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()

	start := logger.OperationStarted(ctx, operationBorrow, "user_id", userID, "book_id", bookID)
	defer func() {
		s.finish(ctx, operationBorrow, start, err)
	}()

	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return nil, err
	}

	result, err := retry.Backoff(ctx, func(ctx context.Context) error {
		book, err := s.bookRepo.GetByID(repository.WithStrongConsistency(ctx), bookID)
		if err != nil {
			return err
		}
		// the store repeats this check atomically against the same version
		if err := inventory.ReserveCopy(book); err != nil {
			return err
		}

		now := s.settings.Now().UTC()
		candidate := &domain.Transaction{
			ID:         uuid.New(),
			BookID:     bookID,
			UserID:     userID,
			BorrowDate: now,
			DueDate:    now.Add(s.settings.LoanPeriod),
			FineAmount: decimal.Zero,
		}
		if err := s.circRepo.CommitBorrow(ctx, candidate, book.Version); err != nil {
			return err
		}
		txn = candidate
		return nil
	}, s.retryOptions(operationBorrow)...)
	if err != nil {
		return nil, conflictOrErr(err, "borrow of book %s after %d attempts", bookID, result.Attempts)
	}

	s.log.InfoContext(ctx, "Book borrowed", "transaction_id", txn.ID, "book_id", bookID, "user_id", userID, "due_date", txn.DueDate)
	s.publish(ctx, domain.CollectionBooks, domain.CollectionTransactions)
	return txn, nil
}

// Return closes an open transaction, fixes its fine and puts the copy back.
func (s *circulationService) Return(ctx context.Context, transactionID uuid.UUID) (txn *domain.Transaction, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.settings.OperationTimeout)
	defer cancel()

	start := logger.OperationStarted(ctx, operationReturn, "transaction_id", transactionID)
	defer func() {
		s.finish(ctx, operationReturn, start, err)
	}()

	result, err := retry.Backoff(ctx, func(ctx context.Context) error {
		current, err := s.txnRepo.GetByID(repository.WithStrongConsistency(ctx), transactionID)
		if err != nil {
			return err
		}
		if !current.IsOpen() {
			return domain.ErrAlreadyReturned
		}

		returned := s.settings.Now().UTC()
		fine, err := s.fines.Compute(current.DueDate, &returned)
		if err != nil {
			return err
		}

		closing := *current
		closing.ReturnDate = &returned
		closing.FineAmount = fine
		if err := s.circRepo.CommitReturn(ctx, &closing); err != nil {
			return err
		}
		txn = &closing
		return nil
	}, s.retryOptions(operationReturn)...)
	if err != nil {
		return nil, conflictOrErr(err, "return of transaction %s after %d attempts", transactionID, result.Attempts)
	}

	s.log.InfoContext(ctx, "Book returned", "transaction_id", txn.ID, "book_id", txn.BookID, "fine", txn.FineAmount.StringFixed(2))
	s.publish(ctx, domain.CollectionBooks, domain.CollectionTransactions)
	return txn, nil
}

func (s *circulationService) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return s.txnRepo.GetByID(ctx, id)
}

func (s *circulationService) ListTransactions(ctx context.Context) ([]domain.Transaction, error) {
	return s.txnRepo.List(repository.WithEventualConsistency(ctx))
}

func (s *circulationService) publish(ctx context.Context, collections ...domain.Collection) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), collections...); err != nil {
		s.log.WarnContext(ctx, "Failed to publish change", "collections", collections, "error", err)
	}
}

func (s *circulationService) finish(ctx context.Context, operation string, start time.Time, err error) {
	logger.OperationFinished(ctx, operation, start, err)
	labels := map[string]string{
		metrics.LabelOperation: operation,
		metrics.LabelStatus:    statusOf(err),
	}
	s.metrics.IncrementCounter(ctx, metrics.OperationsTotal, labels)
	s.metrics.RecordDuration(ctx, metrics.OperationDuration, time.Since(start), labels)
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrAlreadyReturned):
		return "already_returned"
	case errors.Is(err, domain.ErrConflict):
		return "conflict"
	case errors.Is(err, domain.ErrInvariantViolation):
		return "invariant_violation"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
