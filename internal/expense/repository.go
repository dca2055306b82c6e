package expense

import (
	"context"

	"cloud.google.com/go/civil"
)

// Repository provides an interface for expense persistence operations.
// This interface enables mocking and testing of persistence functionality.
// Every read and mutation is scoped by owner.
type Repository interface {
	// Insert persists a new expense row.
	Insert(ctx context.Context, e *Expense) error

	// Get retrieves one expense by (id, owner). Returns ErrNotFound when no
	// row matches.
	Get(ctx context.Context, id, ownerID string) (*Expense, error)

	// ListByOwner retrieves expenses for one owner, newest first. Zero from/to
	// dates mean the corresponding bound is open.
	ListByOwner(ctx context.Context, ownerID string, from, to civil.Date) ([]*Expense, error)

	// Update overwrites the mutable fields of an existing row scoped by
	// (e.ID, e.Owner). Returns ErrNotFound when no row matches.
	Update(ctx context.Context, e *Expense) error

	// Delete removes the row scoped by (id, owner). Returns ErrNotFound when
	// no row matches.
	Delete(ctx context.Context, id, ownerID string) error

	// ArtifactKeyInUse reports whether any expense references the given
	// artifact key. Used by the orphan sweep.
	ArtifactKeyInUse(ctx context.Context, key string) (bool, error)
}
