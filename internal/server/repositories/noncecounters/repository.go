package noncecounters

import "context"

type Repository interface {
	// Reserve advances the named counter by n and returns the first value of
	// the reserved block.
	Reserve(ctx context.Context, name string, n uint64) (uint64, error)
	// Exists reports whether a row for name has been written.
	Exists(ctx context.Context, name string) (bool, error)
	// Mark writes an empty row for name if none exists.
	Mark(ctx context.Context, name string) error
}
