// Package reports builds read-only usage projections over the three collections.
// Nothing here writes; every figure is recomputed from the inputs on each call.
package reports

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"library-circulation/internal/domain"
)

const DefaultLateReturnThreshold = 2

// Unspecified labels books with an empty dimension value.
const Unspecified = "Unspecified"

type DimensionCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

type MonthlyUsage struct {
	Year     int `json:"year"`
	Month    int `json:"month"`
	Students int `json:"students"`
	Staff    int `json:"staff"`
	Total    int `json:"total"`
}

type Defaulter struct {
	UserID    uuid.UUID   `json:"user_id"`
	Name      string      `json:"name"`
	Role      domain.Role `json:"role"`
	LateCount int         `json:"late_count"`
}

type Report struct {
	ByAuthor    []DimensionCount `json:"by_author"`
	ByPublisher []DimensionCount `json:"by_publisher"`
	ByCategory  []DimensionCount `json:"by_category"`
	ByMonth     []MonthlyUsage   `json:"by_month"`
	Defaulters  []Defaulter      `json:"defaulters"`
	GeneratedAt time.Time        `json:"generated_at"`
}

type Options struct {
	// LateReturnThreshold is the number of fined returns that makes a defaulter.
	LateReturnThreshold int
	// Location buckets borrow dates into months. Defaults to UTC.
	Location *time.Location
	Now      time.Time
}

// Build computes every projection. Transactions whose book or user no longer
// exists are left out of the projections that need the missing record.
func Build(books []domain.Book, users []domain.User, txns []domain.Transaction, opts Options) Report {
	if opts.LateReturnThreshold <= 0 {
		opts.LateReturnThreshold = DefaultLateReturnThreshold
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}

	bookIndex := make(map[uuid.UUID]domain.Book, len(books))
	for _, b := range books {
		bookIndex[b.ID] = b
	}
	userIndex := make(map[uuid.UUID]domain.User, len(users))
	for _, u := range users {
		userIndex[u.ID] = u
	}

	return Report{
		ByAuthor:    ByDimension(txns, bookIndex, func(b domain.Book) string { return b.Author }),
		ByPublisher: ByDimension(txns, bookIndex, func(b domain.Book) string { return b.Publisher }),
		ByCategory:  ByDimension(txns, bookIndex, func(b domain.Book) string { return b.Category }),
		ByMonth:     ByMonth(txns, userIndex, opts.Location),
		Defaulters:  Defaulters(txns, userIndex, opts.LateReturnThreshold),
		GeneratedAt: opts.Now,
	}
}

// ByDimension counts transactions per value of dim, most borrowed first.
func ByDimension(txns []domain.Transaction, books map[uuid.UUID]domain.Book, dim func(domain.Book) string) []DimensionCount {
	counts := make(map[string]int)
	for _, t := range txns {
		b, ok := books[t.BookID]
		if !ok {
			continue
		}
		value := dim(b)
		if value == "" {
			value = Unspecified
		}
		counts[value]++
	}

	result := make([]DimensionCount, 0, len(counts))
	for value, count := range counts {
		result = append(result, DimensionCount{Value: value, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Value < result[j].Value
	})
	return result
}

// ByMonth counts borrows per calendar month of the borrow date, split by the
// borrower's role, newest month first.
func ByMonth(txns []domain.Transaction, users map[uuid.UUID]domain.User, loc *time.Location) []MonthlyUsage {
	type period struct{ year, month int }
	buckets := make(map[period]*MonthlyUsage)

	for _, t := range txns {
		u, ok := users[t.UserID]
		if !ok {
			continue
		}
		borrowed := t.BorrowDate.In(loc)
		key := period{borrowed.Year(), int(borrowed.Month())}
		usage, ok := buckets[key]
		if !ok {
			usage = &MonthlyUsage{Year: key.year, Month: key.month}
			buckets[key] = usage
		}
		switch u.Role {
		case domain.RoleStudent:
			usage.Students++
		case domain.RoleStaff:
			usage.Staff++
		}
		usage.Total++
	}

	result := make([]MonthlyUsage, 0, len(buckets))
	for _, usage := range buckets {
		result = append(result, *usage)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Year != result[j].Year {
			return result[i].Year > result[j].Year
		}
		return result[i].Month > result[j].Month
	})
	return result
}

// LateReturnCounts counts closed transactions with a fine per user.
func LateReturnCounts(txns []domain.Transaction) map[uuid.UUID]int {
	counts := make(map[uuid.UUID]int)
	for _, t := range txns {
		if t.IsLate() {
			counts[t.UserID]++
		}
	}
	return counts
}

// Defaulters lists users whose late return count reaches threshold, worst first.
func Defaulters(txns []domain.Transaction, users map[uuid.UUID]domain.User, threshold int) []Defaulter {
	result := []Defaulter{}
	for userID, count := range LateReturnCounts(txns) {
		if count < threshold {
			continue
		}
		u, ok := users[userID]
		if !ok {
			continue
		}
		result = append(result, Defaulter{UserID: u.ID, Name: u.Name, Role: u.Role, LateCount: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LateCount != result[j].LateCount {
			return result[i].LateCount > result[j].LateCount
		}
		return result[i].Name < result[j].Name
	})
	return result
}
