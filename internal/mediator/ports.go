package mediator

import (
	"context"

	"github.com/famkit/famsync"
)

// Storage defines the persistence operations the mediator depends on. Create,
// Update and Delete are blocking; the mediator runs them asynchronously inside
// the operation slot. ChangeListener is established once and expected to stay
// open for the mediator's lifetime; delivery is push-based and unbounded.
type Storage interface {
	// Register declares interest in a key. Fire-and-forget, no result.
	Register(key string)

	// Create allocates backend identity for a new family and returns the
	// assigned key.
	Create(ctx context.Context, info famsync.FamilyInfo) (string, error)

	// Update applies a partial patch to the family identified by key. Patch
	// keys are the flattened string field names.
	Update(ctx context.Context, key string, patch map[string]any) error

	// Delete removes the family identified by key.
	Delete(ctx context.Context, key string) error

	// ChangeListener returns the long-lived feed of state changes visible to
	// this process, keyed implicitly to whatever key was registered.
	ChangeListener(ctx context.Context) (<-chan famsync.ChangeEvent, error)
}
