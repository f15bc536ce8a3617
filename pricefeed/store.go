package pricefeed

import (
	"context"
	"errors"
)

// ErrNotFound is returned by SnapshotStore.Load when the slot was never written
var ErrNotFound = errors.New("snapshot slot is empty")

// SnapshotStore is a single-slot store holding the encoded last snapshot.
// Save overwrites whatever the slot held before.
type SnapshotStore interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}
