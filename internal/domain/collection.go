package domain

import "fmt"

// Collection names one persisted record set that subscribers can watch.
type Collection string

const (
	CollectionBooks        Collection = "books"
	CollectionUsers        Collection = "users"
	CollectionTransactions Collection = "transactions"
)

var Collections = []Collection{CollectionBooks, CollectionUsers, CollectionTransactions}

func ParseCollection(s string) (Collection, error) {
	for _, c := range Collections {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown collection %q", ErrInvalidInput, s)
}
