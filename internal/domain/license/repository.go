package license

import (
	"context"
	"iter"

	"github.com/google/uuid"
)

// Store persists raw license representations keyed by identifier.
type Store interface {
	// Store writes l, overwriting any previous entry with the same identifier.
	Store(ctx context.Context, l License) error
	// RetrieveAll yields every readable license. Entries that fail to parse are
	// logged and skipped. The sequence can be ranged over more than once.
	RetrieveAll(ctx context.Context) iter.Seq[License]
	// Delete removes one license. Deleting an identifier the store does not
	// hold is not an error.
	Delete(ctx context.Context, id uuid.UUID) error
}

// SingleSlot is implemented by stores that keep at most one license, so that
// every Store replaces the previous entry whatever its identifier.
type SingleSlot interface {
	HoldsOne() bool
}

// IDs lists the identifiers of every readable license in s.
func IDs(ctx context.Context, s Store) []uuid.UUID {
	var ids []uuid.UUID
	for l := range s.RetrieveAll(ctx) {
		ids = append(ids, l.ID())
	}
	return ids
}
