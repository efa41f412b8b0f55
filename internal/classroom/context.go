// Package classroom wires one client's synchronization stores into a single
// SessionContext. The context is built per connection (or per test) and
// owns every sub-store; there is no process-wide shared state, and the
// stores never import each other.
package classroom

import (
	"context"

	"go.uber.org/zap"

	"classsync/internal/calendar"
	"classsync/internal/config"
	"classsync/internal/connection"
	"classsync/internal/eventbus"
	"classsync/internal/homework"
	"classsync/internal/session"
	"classsync/internal/snapshot"
	"classsync/pkg/interfaces"
	"classsync/pkg/types"
)

// Options configures one session context.
type Options struct {
	ServerURL   string                     // websocket endpoint of the authoritative server
	SnapshotURL string                     // optional HTTP fallback for initial snapshots
	Channel     interfaces.Channel         // overrides ServerURL when set (tests)
	Cache       interfaces.SnapshotStore   // defaults to the in-memory store
	Fetcher     interfaces.SnapshotFetcher // overrides SnapshotURL when set
	Connection  connection.Options         // tuning for the managed channel
	Logger      *zap.Logger
}

// SessionContext holds one client's view of the classroom: the channel, the
// event bus and the three synchronization stores.
type SessionContext struct {
	channel  interfaces.Channel
	ownsChan bool
	cache    interfaces.SnapshotStore

	Bus      *eventbus.Bus
	Sessions *session.Store
	Homework *homework.Store
	Calendar *calendar.Store

	log *zap.Logger
}

// NewFromConfig builds a context whose cache backend and channel tuning come
// from the loaded configuration. Explicit Cache or Connection values in opts
// take precedence over the configured ones.
func NewFromConfig(cfg *config.Config, opts Options) (*SessionContext, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Cache == nil {
		cache, err := snapshot.NewStoreFromConfig(cfg.Cache, log.Named("cache"))
		if err != nil {
			return nil, err
		}
		opts.Cache = cache
	}
	if opts.Channel == nil && opts.Connection == (connection.Options{}) {
		opts.Connection = connection.OptionsFromConfig(cfg.Channel)
	}
	return New(opts), nil
}

// New constructs a context in dependency order: cache, channel, bus, then
// the stores, then the cross-store wiring (snapshot fan-out, leave fan-out,
// derived-calendar regeneration).
func New(opts Options) *SessionContext {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	cache := opts.Cache
	if cache == nil {
		cache = snapshot.NewMemoryStore()
	}

	channel := opts.Channel
	ownsChan := false
	if channel == nil {
		connOpts := opts.Connection
		connOpts.URL = opts.ServerURL
		connOpts.Logger = log.Named("channel")
		channel = connection.NewManager(connOpts)
		ownsChan = true
	}

	var fetcher interfaces.SnapshotFetcher
	if opts.Fetcher != nil {
		fetcher = opts.Fetcher
	} else if opts.SnapshotURL != "" {
		fetcher = snapshot.NewHTTPFetcher(opts.SnapshotURL)
	}

	bus := eventbus.New(channel, log.Named("bus"))
	sessions := session.New(bus, cache, fetcher, log.Named("session"))
	hw := homework.New(bus, sessions, log.Named("homework"))
	cal := calendar.New(bus, sessions, cache, log.Named("calendar"))

	// Snapshot application fans out from the session store; the homework
	// store's change notifications drive derived calendar regeneration.
	sessions.OnSnapshot(func(snap *types.Snapshot) {
		hw.ReplaceHomeworks(snap.Homeworks)
		cal.ReplaceLessons(snap.Lessons)
		cal.RestoreManual(snap.Class.ID)
	})
	sessions.OnLeave(func(classID string) {
		hw.Reset(classID)
		cal.Reset(classID)
	})
	hw.OnChange(cal.RegenerateDerivedEvents)

	sessions.Attach()
	hw.Attach()
	cal.Attach()

	return &SessionContext{
		channel:  channel,
		ownsChan: ownsChan,
		cache:    cache,
		Bus:      bus,
		Sessions: sessions,
		Homework: hw,
		Calendar: cal,
		log:      log,
	}
}

// Connect opens the channel. The stores resynchronize automatically on every
// reconnect via the connectivity event.
func (c *SessionContext) Connect(ctx context.Context) error {
	return c.channel.Connect(ctx)
}

// Connected reports the channel state.
func (c *SessionContext) Connected() bool {
	return c.channel.Connected()
}

// Close detaches every store, disconnects the channel if this context
// created it, and closes the cache.
func (c *SessionContext) Close() error {
	c.Sessions.Detach()
	c.Homework.Detach()
	c.Calendar.Detach()
	c.Bus.Close()
	if c.ownsChan {
		if err := c.channel.Disconnect(); err != nil {
			c.log.Warn("channel teardown failed", zap.Error(err))
		}
	}
	return c.cache.Close()
}
