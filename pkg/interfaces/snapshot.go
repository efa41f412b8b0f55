package interfaces

import (
	"context"
	"errors"

	"classsync/pkg/types"
)

// Snapshot kinds stored per class. The backing medium is swappable; call
// sites never build storage keys themselves.
const (
	KindSnapshot = "snapshot"
	KindCalendar = "calendar"
	KindIdentity = "identity"
)

var ErrSnapshotNotFound = errors.New("no cached value for class and kind")

// SnapshotStore is the keyed per-class persistence used for offline
// continuity and fast cold start. Values are opaque JSON documents.
//
// Concurrent writers to the same (classID, kind) from independent contexts
// race with last-write-wins; that limitation is accepted, not worked around.
type SnapshotStore interface {
	Get(ctx context.Context, classID, kind string) ([]byte, error)
	Put(ctx context.Context, classID, kind string, value []byte) error
	Remove(ctx context.Context, classID, kind string) error
	Close() error
}

// SnapshotFetcher is the request/response fallback for obtaining an initial
// class snapshot by code, used when the push-based class_state event has not
// yet been delivered.
type SnapshotFetcher interface {
	FetchByCode(ctx context.Context, code string) (*types.Snapshot, error)
}
