package emp

import (
	"context"
	"errors"
)

// ErrLocked is returned by secure storage backends that have not been unlocked.
var ErrLocked = errors.New("secure storage is locked")

// ErrCorrupt is returned when a stored value exists but cannot be decoded.
var ErrCorrupt = errors.New("stored value is corrupt")

// Storage is a string key/value backend used at the persistence boundary.
// Values are opaque serialized documents; backends never interpret them.
type Storage interface {
	// GetItem returns the value stored under key. ok is false when nothing
	// has been stored under key; that is not an error.
	GetItem(ctx context.Context, key string) (value string, ok bool, err error)

	// SetItem stores value under key, replacing any previous value.
	SetItem(ctx context.Context, key, value string) error

	// RemoveItem deletes key. Removing a missing key is not an error.
	RemoveItem(ctx context.Context, key string) error
}
