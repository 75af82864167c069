package reports

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"library-circulation/internal/domain"
)

type fixture struct {
	books []domain.Book
	users []domain.User
	txns  []domain.Transaction
}

func borrow(book domain.Book, user domain.User, at time.Time) domain.Transaction {
	return domain.Transaction{
		ID:         uuid.New(),
		BookID:     book.ID,
		UserID:     user.ID,
		BorrowDate: at,
		DueDate:    at.Add(7 * 24 * time.Hour),
		FineAmount: decimal.Zero,
	}
}

func returnLate(t domain.Transaction, days int) domain.Transaction {
	returned := t.DueDate.Add(time.Duration(days) * 24 * time.Hour)
	t.ReturnDate = &returned
	t.FineAmount = decimal.NewFromFloat(0.5).Mul(decimal.NewFromInt(int64(days)))
	return t
}

func newFixture() fixture {
	dune := domain.Book{ID: uuid.New(), Title: "Dune", Author: "Herbert", Publisher: "Chilton", Category: "SF"}
	emma := domain.Book{ID: uuid.New(), Title: "Emma", Author: "Austen", Publisher: "Murray", Category: "Classic"}
	ada := domain.User{ID: uuid.New(), Name: "Ada", Role: domain.RoleStudent}
	bob := domain.User{ID: uuid.New(), Name: "Bob", Role: domain.RoleStaff}

	jan := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	feb := time.Date(2024, 2, 3, 12, 0, 0, 0, time.UTC)

	return fixture{
		books: []domain.Book{dune, emma},
		users: []domain.User{ada, bob},
		txns: []domain.Transaction{
			returnLate(borrow(dune, ada, jan), 2),
			returnLate(borrow(emma, ada, jan), 1),
			borrow(dune, bob, feb),
			borrow(dune, ada, feb),
			// dangling book and user
			borrow(domain.Book{ID: uuid.New()}, domain.User{ID: uuid.New()}, feb),
		},
	}
}

func TestBuild(t *testing.T) {
	f := newFixture()
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	report := Build(f.books, f.users, f.txns, Options{Now: now})

	t.Run("By author", func(t *testing.T) {
		require.Len(t, report.ByAuthor, 2)
		assert.Equal(t, DimensionCount{Value: "Herbert", Count: 3}, report.ByAuthor[0])
		assert.Equal(t, DimensionCount{Value: "Austen", Count: 1}, report.ByAuthor[1])
	})

	t.Run("By category", func(t *testing.T) {
		assert.Equal(t, "SF", report.ByCategory[0].Value)
	})

	t.Run("By month newest first", func(t *testing.T) {
		require.Len(t, report.ByMonth, 2)
		assert.Equal(t, MonthlyUsage{Year: 2024, Month: 2, Students: 1, Staff: 1, Total: 2}, report.ByMonth[0])
		assert.Equal(t, MonthlyUsage{Year: 2024, Month: 1, Students: 2, Staff: 0, Total: 2}, report.ByMonth[1])
	})

	t.Run("Defaulters", func(t *testing.T) {
		require.Len(t, report.Defaulters, 1)
		assert.Equal(t, "Ada", report.Defaulters[0].Name)
		assert.Equal(t, 2, report.Defaulters[0].LateCount)
	})

	assert.Equal(t, now, report.GeneratedAt)
}

func TestByMonth_UsesLocation(t *testing.T) {
	ada := domain.User{ID: uuid.New(), Name: "Ada", Role: domain.RoleStudent}
	// 2024-01-31 23:30 UTC is already February in UTC+2
	txn := borrow(domain.Book{ID: uuid.New()}, ada, time.Date(2024, 1, 31, 23, 30, 0, 0, time.UTC))
	users := map[uuid.UUID]domain.User{ada.ID: ada}

	utc := ByMonth([]domain.Transaction{txn}, users, time.UTC)
	plus2 := ByMonth([]domain.Transaction{txn}, users, time.FixedZone("UTC+2", 2*60*60))

	assert.Equal(t, 1, utc[0].Month)
	assert.Equal(t, 2, plus2[0].Month)
}

func TestDimension_EmptyValue(t *testing.T) {
	b := domain.Book{ID: uuid.New(), Author: "Herbert"}
	u := domain.User{ID: uuid.New()}

	counts := ByDimension([]domain.Transaction{borrow(b, u, time.Now())}, map[uuid.UUID]domain.Book{b.ID: b},
		func(b domain.Book) string { return b.Publisher })

	assert.Equal(t, []DimensionCount{{Value: Unspecified, Count: 1}}, counts)
}

func TestLateReturnCounts_IgnoresOpenAndOnTime(t *testing.T) {
	b := domain.Book{ID: uuid.New()}
	u := domain.User{ID: uuid.New()}
	onTime := borrow(b, u, time.Now())
	returned := onTime.DueDate
	onTime.ReturnDate = &returned

	counts := LateReturnCounts([]domain.Transaction{onTime, borrow(b, u, time.Now()), returnLate(borrow(b, u, time.Now()), 3)})

	assert.Equal(t, 1, counts[u.ID])
}
