package connection

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"classsync/internal/config"
	"classsync/pkg/interfaces"
	"classsync/pkg/types"
)

// Options configures a Manager. Zero values fall back to defaults suited to
// classroom-scale traffic.
type Options struct {
	URL              string
	QueueCapacity    int           // replay queue while disconnected; 0 disables queuing
	WriteBuffer      int           // outbound frame buffer
	WriteTimeout     time.Duration // per-frame write deadline
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
	BackoffBase      time.Duration // first reconnect delay
	BackoffMax       time.Duration // reconnect delay cap
	Logger           *zap.Logger
}

// OptionsFromConfig maps the channel configuration onto manager options.
// Unset values keep falling back to the defaults.
func OptionsFromConfig(cfg config.ChannelConfig) Options {
	return Options{
		QueueCapacity: cfg.QueueCapacity,
		PingInterval:  cfg.PingInterval,
		WriteTimeout:  cfg.WriteTimeout,
		BackoffBase:   cfg.BackoffBase,
		BackoffMax:    cfg.BackoffMax,
	}
}

func (o *Options) withDefaults() {
	if o.WriteBuffer <= 0 {
		o.WriteBuffer = 100
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// Manager owns the lifecycle of one persistent WebSocket channel: connect,
// disconnect, connectivity state, typed send and frame subscriptions.
//
// Writes are serialized through a single writer goroutine per connection.
// Inbound frames are dispatched on the read goroutine, so one frame is
// handled completely before the next; store mutations inside a handler are
// atomic with respect to other handlers.
type Manager struct {
	opts Options
	log  *zap.Logger

	mu          sync.RWMutex
	conn        *websocket.Conn
	writeCh     chan []byte
	done        chan struct{} // closed when the current connection dies
	connected   bool
	connectedAt time.Time
	closed      bool
	gen         int // connection generation, invalidates stale loop callbacks

	queue [][]byte // bounded FIFO replay queue, oldest dropped on overflow

	subMu sync.RWMutex
	subs  map[string]map[interfaces.Subscription]interfaces.FrameHandler
}

// NewManager creates a disconnected manager. Call Connect to open the channel.
func NewManager(opts Options) *Manager {
	opts.withDefaults()
	return &Manager{
		opts: opts,
		log:  opts.Logger,
		subs: make(map[string]map[interfaces.Subscription]interfaces.FrameHandler),
	}
}

// Connect dials the server and starts the read/write loops. Calling Connect
// on an already connected manager is a no-op.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.closed = false
	url := m.opts.URL
	m.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: m.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.closed {
		// Disconnect raced the dial; honor the teardown.
		m.mu.Unlock()
		_ = conn.Close()
		return ErrAlreadyClosed
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.writeCh = make(chan []byte, m.opts.WriteBuffer)
	m.done = make(chan struct{})
	m.connected = true
	m.connectedAt = time.Now()

	// Flush the replay queue in FIFO order before any new frame.
	for _, data := range m.queue {
		select {
		case m.writeCh <- data:
		default:
			m.log.Warn("write buffer full, replayed frame dropped")
		}
	}
	flushed := len(m.queue)
	m.queue = nil
	writeCh, done := m.writeCh, m.done
	m.mu.Unlock()

	go m.writeLoop(conn, writeCh, done)
	go m.readLoop(conn, gen)
	if m.opts.PingInterval > 0 {
		go m.pingLoop(conn, done)
	}

	m.log.Info("channel connected", zap.String("url", url), zap.Int("replayed", flushed))
	m.notifyConnectivity(true)
	return nil
}

// Disconnect tears the channel down. Idempotent; a closed manager stays
// closed until the next explicit Connect.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed && !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	wasConnected := m.connected
	m.connected = false
	m.connectedAt = time.Time{}
	conn := m.conn
	m.conn = nil
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if wasConnected {
		m.log.Info("channel disconnected")
		m.notifyConnectivity(false)
	}
	return nil
}

// Connected reports whether the channel is currently open.
func (m *Manager) Connected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// ConnectedAt returns when the current connection was established.
func (m *Manager) ConnectedAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connectedAt
}

// Send transmits one event best-effort. While disconnected the frame is
// queued when a replay queue is configured (returning nil), otherwise logged
// and dropped with ErrNotConnected. Send never blocks on the network.
func (m *Manager) Send(event string, payload interface{}) error {
	frame, err := types.EncodeFrame(event, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return types.ErrInvalidPayload
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connected {
		if m.opts.QueueCapacity > 0 {
			if len(m.queue) >= m.opts.QueueCapacity {
				m.queue = m.queue[1:]
				m.log.Warn("replay queue full, oldest frame dropped", zap.String("event", event))
			}
			m.queue = append(m.queue, data)
			m.log.Debug("frame queued while disconnected", zap.String("event", event))
			return nil
		}
		m.log.Warn("emit while disconnected, frame dropped", zap.String("event", event))
		return ErrNotConnected
	}

	select {
	case m.writeCh <- data:
		return nil
	default:
		m.log.Warn("write buffer full, frame dropped", zap.String("event", event))
		return ErrWriteBufferFull
	}
}

// Subscribe registers a handler for one event name and returns its token.
func (m *Manager) Subscribe(event string, handler interfaces.FrameHandler) interfaces.Subscription {
	sub := interfaces.Subscription(uuid.New().String())
	m.subMu.Lock()
	defer m.subMu.Unlock()
	if m.subs[event] == nil {
		m.subs[event] = make(map[interfaces.Subscription]interfaces.FrameHandler)
	}
	m.subs[event][sub] = handler
	return sub
}

// Unsubscribe removes a handler by token. Unknown tokens are ignored.
func (m *Manager) Unsubscribe(sub interfaces.Subscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for event, handlers := range m.subs {
		if _, ok := handlers[sub]; ok {
			delete(handlers, sub)
			if len(handlers) == 0 {
				delete(m.subs, event)
			}
			return
		}
	}
}

// QueuedFrames reports the current replay queue depth.
func (m *Manager) QueuedFrames() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.queue)
}

func (m *Manager) writeLoop(conn *websocket.Conn, writeCh chan []byte, done chan struct{}) {
	for {
		select {
		case data := <-writeCh:
			if err := conn.SetWriteDeadline(time.Now().Add(m.opts.WriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.log.Warn("frame write failed", zap.Error(err))
				return
			}
		case <-done:
			return
		}
	}
}

func (m *Manager) readLoop(conn *websocket.Conn, gen int) {
	if m.opts.PingInterval > 0 {
		deadline := 2*m.opts.PingInterval + m.opts.WriteTimeout
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(deadline))
		})
	}
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleTransportFailure(gen, err)
			return
		}
		var frame types.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.log.Warn("malformed frame dropped", zap.Error(err))
			continue
		}
		m.dispatch(frame)
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(m.opts.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

// handleTransportFailure marks the channel down and starts the reconnect
// loop, unless the failure belongs to a superseded connection or an explicit
// Disconnect already ran.
func (m *Manager) handleTransportFailure(gen int, err error) {
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.connectedAt = time.Time{}
	conn := m.conn
	m.conn = nil
	if m.done != nil {
		close(m.done)
		m.done = nil
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.log.Warn("channel transport failed", zap.Error(err))
	m.notifyConnectivity(false)
	go m.reconnectLoop()
}

// reconnectLoop retries with exponential backoff plus jitter until the
// channel is reestablished or the manager is closed.
func (m *Manager) reconnectLoop() {
	delay := m.opts.BackoffBase
	for attempt := 1; ; attempt++ {
		jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
		time.Sleep(delay + jitter)

		m.mu.RLock()
		closed, connected := m.closed, m.connected
		m.mu.RUnlock()
		if closed || connected {
			return
		}

		err := m.Connect(context.Background())
		if err == nil {
			m.log.Info("channel reconnected", zap.Int("attempt", attempt))
			return
		}
		m.log.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt), zap.Duration("next_delay", delay), zap.Error(err))

		delay *= 2
		if delay > m.opts.BackoffMax {
			delay = m.opts.BackoffMax
		}
	}
}

// dispatch fans a frame out to the subscribers of its event name. A
// panicking handler must not take down the read loop or starve the
// remaining subscribers.
func (m *Manager) dispatch(frame types.Frame) {
	m.subMu.RLock()
	handlers := make([]interfaces.FrameHandler, 0, len(m.subs[frame.Event]))
	for _, h := range m.subs[frame.Event] {
		handlers = append(handlers, h)
	}
	m.subMu.RUnlock()

	for _, h := range handlers {
		m.safeInvoke(frame, h)
	}
}

func (m *Manager) safeInvoke(frame types.Frame, h interfaces.FrameHandler) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("frame handler panicked",
				zap.String("event", frame.Event), zap.Any("panic", r))
		}
	}()
	h(frame)
}

func (m *Manager) notifyConnectivity(connected bool) {
	payload := types.ConnectivityPayload{Connected: connected, At: time.Now()}
	raw, _ := json.Marshal(payload)
	m.dispatch(types.Frame{Event: types.EventConnectivityChanged, Payload: raw})
}
