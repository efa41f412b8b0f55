package interfaces

import (
	"context"
	"time"

	"classsync/pkg/types"
)

// FrameHandler receives one inbound frame. Handlers run on the connection's
// dispatch goroutine; a handler must not block on network I/O.
type FrameHandler func(frame types.Frame)

// Subscription is the opaque token returned by Subscribe. Go functions are
// not comparable, so listener removal works by token rather than by the
// handler value itself.
type Subscription string

// Channel is the persistent event channel to the authoritative server.
type Channel interface {
	// Connect establishes the channel. Safe to call again after Disconnect.
	Connect(ctx context.Context) error

	// Disconnect tears the channel down. Idempotent.
	Disconnect() error

	// Connected reports whether the channel is currently open.
	Connected() bool

	// ConnectedAt returns when the current connection was established, or
	// the zero time when disconnected.
	ConnectedAt() time.Time

	// Send transmits one event best-effort. While disconnected the frame is
	// queued for replay and Send returns nil; with queuing disabled the frame
	// is logged and dropped and Send returns ErrNotConnected. It never panics
	// and never blocks on the network.
	Send(event string, payload interface{}) error

	// Subscribe registers a handler for one event name.
	Subscribe(event string, handler FrameHandler) Subscription

	// Unsubscribe removes a previously registered handler. Unknown tokens
	// are ignored.
	Unsubscribe(sub Subscription)
}
