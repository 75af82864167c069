package repository

import "context"

// Consistency selects how fresh a read must be.
type Consistency int

const (
	// StrongConsistency reads from the primary. Used before conditional writes.
	StrongConsistency Consistency = iota
	// EventualConsistency tolerates replica lag. Used by lists and reports.
	EventualConsistency
)

type consistencyKey struct{}

func WithStrongConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, consistencyKey{}, StrongConsistency)
}

func WithEventualConsistency(ctx context.Context) context.Context {
	return context.WithValue(ctx, consistencyKey{}, EventualConsistency)
}

// ConsistencyFrom returns the requested consistency, strong when none was set.
func ConsistencyFrom(ctx context.Context) Consistency {
	if c, ok := ctx.Value(consistencyKey{}).(Consistency); ok {
		return c
	}
	return StrongConsistency
}
