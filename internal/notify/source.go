package notify

import (
	"context"
	"fmt"

	"library-circulation/internal/domain"
	"library-circulation/internal/repository"
)

// RepositorySource loads snapshots straight from the repositories.
type RepositorySource struct {
	Books        repository.BookRepository
	Users        repository.UserRepository
	Transactions repository.TransactionRepository
}

func (s RepositorySource) Load(ctx context.Context, c domain.Collection) (*Snapshot, error) {
	ctx = repository.WithStrongConsistency(ctx)
	snap := &Snapshot{Collection: c}
	var err error
	switch c {
	case domain.CollectionBooks:
		snap.Books, err = s.Books.List(ctx)
	case domain.CollectionUsers:
		snap.Users, err = s.Users.List(ctx)
	case domain.CollectionTransactions:
		snap.Transactions, err = s.Transactions.List(ctx)
	default:
		return nil, fmt.Errorf("%w: unknown collection %q", domain.ErrInvalidInput, c)
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}
