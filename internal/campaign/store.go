package campaign

import "context"

// MutateFunc edits a campaign in place. Returning an error aborts the write.
type MutateFunc func(c *Campaign) error

// Store is the document store the campaign core persists through.
// Implementations scope every campaign to its owner.
type Store interface {
	// Create persists a new campaign; the ID must be unused
	Create(ctx context.Context, c *Campaign) error

	// Get returns the owner's campaign or ErrNotFound
	Get(ctx context.Context, ownerID, id string) (*Campaign, error)

	// Locate returns the owner of a campaign id or ErrNotFound
	Locate(ctx context.Context, id string) (string, error)

	// List returns the owner's campaigns, newest first
	List(ctx context.Context, ownerID string, filter ListFilter) ([]*Campaign, error)

	// Mutate applies fn as one atomic read-modify-write, bumps Version and
	// UpdatedAt, and returns the stored result. Optimistic implementations
	// may return ErrConflict.
	Mutate(ctx context.Context, ownerID, id string, fn MutateFunc) (*Campaign, error)

	// Delete removes the owner's campaign or returns ErrNotFound
	Delete(ctx context.Context, ownerID, id string) error

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Close releases the store
	Close() error
}

// ListFilter narrows List results
type ListFilter struct {
	Status Status
	Limit  int
	Offset int
}
