package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
	"library-circulation/internal/notify"
	"library-circulation/internal/reports"
)

type BookService interface {
	ListBooks(ctx context.Context) ([]domain.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	CreateBook(ctx context.Context, in BookInput) (*domain.Book, error)
	UpdateBook(ctx context.Context, id uuid.UUID, in BookInput) (*domain.Book, error)
	DeleteBook(ctx context.Context, id uuid.UUID) error
}

type UserService interface {
	ListUsers(ctx context.Context) ([]domain.User, error)
	GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error)
	CreateUser(ctx context.Context, in UserInput) (*domain.User, error)
}

type CirculationService interface {
	Borrow(ctx context.Context, userID, bookID uuid.UUID) (*domain.Transaction, error)
	Return(ctx context.Context, transactionID uuid.UUID) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	ListTransactions(ctx context.Context) ([]domain.Transaction, error)
}

type ReportService interface {
	GetReports(ctx context.Context) (*reports.Report, error)
}

// ChangePublisher is told which collections a committed mutation touched.
type ChangePublisher interface {
	Publish(ctx context.Context, collections ...domain.Collection) error
}

// SnapshotSubscriber hands out snapshot streams of one collection.
type SnapshotSubscriber interface {
	Subscribe(ctx context.Context, c domain.Collection) (*notify.Subscription, error)
}

type BookInput struct {
	Title           string `json:"title" validate:"required,max=255"`
	Author          string `json:"author" validate:"required,max=255"`
	Publisher       string `json:"publisher" validate:"max=255"`
	Category        string `json:"category" validate:"max=100"`
	TotalCopies     int    `json:"total_copies" validate:"required,min=1,max=100000"`
	AvailableCopies *int   `json:"available_copies,omitempty" validate:"omitempty,min=0"`
}

type UserInput struct {
	Name string      `json:"name" validate:"required,max=255"`
	Role domain.Role `json:"role" validate:"required,oneof=Student Staff"`
}

// CirculationSettings holds the loan and concurrency knobs of the circulation service.
type CirculationSettings struct {
	LoanPeriod       time.Duration
	OperationTimeout time.Duration
	MaxAttempts      int
	BaseDelay        time.Duration
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

func (s CirculationSettings) withDefaults() CirculationSettings {
	if s.LoanPeriod <= 0 {
		s.LoanPeriod = 7 * 24 * time.Hour
	}
	if s.OperationTimeout <= 0 {
		s.OperationTimeout = 5 * time.Second
	}
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = 6
	}
	if s.BaseDelay < 0 {
		s.BaseDelay = 0
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return s
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, ...domain.Collection) error { return nil }
