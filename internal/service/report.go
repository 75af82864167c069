package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"library-circulation/internal/domain"
	"library-circulation/internal/logger"
	"library-circulation/internal/reports"
	"library-circulation/internal/repository"
)

type reportService struct {
	bookRepo  repository.BookRepository
	userRepo  repository.UserRepository
	txnRepo   repository.TransactionRepository
	threshold int
	location  *time.Location
	now       func() time.Time
	log       *slog.Logger
}

func NewReportService(
	bookRepo repository.BookRepository,
	userRepo repository.UserRepository,
	txnRepo repository.TransactionRepository,
	threshold int,
	location *time.Location,
) ReportService {
	return &reportService{
		bookRepo:  bookRepo,
		userRepo:  userRepo,
		txnRepo:   txnRepo,
		threshold: threshold,
		location:  location,
		now:       time.Now,
		log:       logger.WithService("report"),
	}
}

// GetReports recomputes every projection from a possibly slightly stale read.
func (s *reportService) GetReports(ctx context.Context) (*reports.Report, error) {
	ctx = repository.WithEventualConsistency(ctx)

	books, users, txns, err := s.load(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "Failed to build reports", "error", err)
		return nil, err
	}

	report := reports.Build(books, users, txns, reports.Options{
		LateReturnThreshold: s.threshold,
		Location:            s.location,
		Now:                 s.now().UTC(),
	})
	s.log.DebugContext(ctx, "Reports built", "books", len(books), "users", len(users), "transactions", len(txns), "defaulters", len(report.Defaulters))
	return &report, nil
}

func (s *reportService) load(ctx context.Context) ([]domain.Book, []domain.User, []domain.Transaction, error) {
	books, err := s.bookRepo.List(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load books: %w", err)
	}
	users, err := s.userRepo.List(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load users: %w", err)
	}
	txns, err := s.txnRepo.List(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load transactions: %w", err)
	}
	return books, users, txns, nil
}
