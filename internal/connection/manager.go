// Package connection keeps the live-reload channel to the development
// server alive, dispatching its commands and reconnecting after
// unexpected disconnects.
package connection

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lawnchairsociety/livereload/internal/logger"
	"github.com/lawnchairsociety/livereload/internal/transport"
)

// Handler receives every message delivered on an open connection.
type Handler interface {
	Handle(raw string)
}

// Reloader triggers a full page reload.
type Reloader interface {
	Reload()
}

// Options configures a Manager.
type Options struct {
	// URL is the WebSocket endpoint.
	URL string

	// ReconnectInterval is the fixed delay before reconnecting after an
	// abnormal closure.
	ReconnectInterval time.Duration

	Dialer   transport.Dialer
	Handler  Handler
	Reloader Reloader

	// Scheduler defers reconnection; defaults to the wall clock.
	Scheduler Scheduler

	// OnStateChange, if set, is called from the event loop on every
	// transition. It must not block.
	OnStateChange func(StateEvent)
}

type eventKind int

const (
	eventOpened eventKind = iota
	eventMessage
	eventClosed
	eventReconnect
)

// event is posted to the loop by the dial/read goroutine and by timers.
type event struct {
	kind      eventKind
	conn      *Connection
	transport transport.Conn
	data      string
	code      int
}

// Manager owns the Connection and drives its lifecycle:
//
//	Connecting -> Open -> ClosedIntentional (terminal)
//	                   -> ClosedUnexpected -> (interval) Connecting
//
// A failed dial goes straight from Connecting to ClosedUnexpected.
type Manager struct {
	opts Options

	events       chan event
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}
	running      atomic.Bool

	// Owned by the event loop.
	ctx               context.Context
	conn              *Connection
	timer             Timer
	shutdownRequested bool
	attempt           int

	mu       sync.RWMutex // Protects snapshot
	snapshot Snapshot
}

// NewManager creates a Manager. Call Run to start it.
func NewManager(opts Options) (*Manager, error) {
	if opts.URL == "" {
		return nil, errors.New("connection: URL is required")
	}
	if opts.Dialer == nil {
		return nil, errors.New("connection: Dialer is required")
	}
	if opts.Handler == nil {
		return nil, errors.New("connection: Handler is required")
	}
	if opts.Reloader == nil {
		return nil, errors.New("connection: Reloader is required")
	}
	if opts.ReconnectInterval < 0 {
		return nil, errors.New("connection: ReconnectInterval must not be negative")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = RealScheduler()
	}

	return &Manager{
		opts:     opts,
		events:   make(chan event, 16),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Run connects and processes lifecycle events until the connection reaches
// ClosedIntentional (returns nil) or ctx is cancelled (returns ctx.Err()).
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("connection: manager already started")
	}
	defer close(m.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel() // closes any live transport
	m.ctx = ctx

	m.connect(false)

	shutdown := m.shutdown
	for {
		select {
		case <-ctx.Done():
			m.stopTimer()
			return ctx.Err()
		case <-shutdown:
			shutdown = nil
			m.handleShutdown()
		case ev := <-m.events:
			m.handle(ev)
		}

		if m.conn.State == StateClosedIntentional {
			m.stopTimer()
			return nil
		}
	}
}

// Shutdown is the page-teardown signal: it closes the channel with the
// normal-closure code and suppresses any further reconnection. Safe to call
// more than once and from any goroutine.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		close(m.shutdown)
	})
}

// Done is closed when Run returns.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// State returns the state of the current connection.
func (m *Manager) State() State {
	return m.Current().State
}

// Current returns a copy of the current connection's attributes.
func (m *Manager) Current() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// connect creates a new Connection and dials it in the background.
func (m *Manager) connect(isReconnectAttempt bool) {
	prev := StateConnecting
	if m.conn != nil {
		prev = m.conn.State
	}

	m.attempt++
	c := &Connection{
		ID:                 uuid.NewString(),
		State:              StateConnecting,
		IsReconnectAttempt: isReconnectAttempt,
	}
	m.conn = c
	m.publish(c, prev, 0)

	logger.Debug("Connecting",
		"conn_id", c.ID,
		"url", m.opts.URL,
		"reconnect", isReconnectAttempt,
		"attempt", m.attempt)

	go m.dial(c)
}

// dial establishes the transport for c and then feeds its messages to the loop.
func (m *Manager) dial(c *Connection) {
	conn, err := m.opts.Dialer.Dial(m.ctx, m.opts.URL)
	if err != nil {
		// No separate error path: a failed dial is an abnormal closure.
		logger.Debug("Connection attempt failed", "conn_id", c.ID, "error", err)
		m.post(event{kind: eventClosed, conn: c, code: transport.CloseAbnormal})
		return
	}

	stop := context.AfterFunc(m.ctx, func() {
		conn.Close(transport.CloseNormal)
	})
	defer stop()

	if !m.post(event{kind: eventOpened, conn: c, transport: conn}) {
		return
	}

	for {
		msg, err := conn.Receive()
		if err != nil {
			m.post(event{kind: eventClosed, conn: c, code: transport.CloseCode(err)})
			return
		}
		if !m.post(event{kind: eventMessage, conn: c, data: msg}) {
			return
		}
	}
}

// post hands ev to the loop; it reports false once the loop has exited.
func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) handle(ev event) {
	c := ev.conn
	if c != m.conn {
		if ev.transport != nil {
			ev.transport.Close(transport.CloseNormal)
		}
		return
	}

	switch ev.kind {
	case eventOpened:
		m.handleOpened(c, ev.transport)
	case eventMessage:
		m.handleMessage(c, ev.data)
	case eventClosed:
		m.handleClosed(c, ev.code)
	case eventReconnect:
		m.handleReconnect(c)
	}
}

func (m *Manager) handleOpened(c *Connection, conn transport.Conn) {
	c.transport = conn
	m.transition(c, StateOpen, 0)

	if m.shutdownRequested {
		logger.Debug("Connection opened during shutdown, closing", "conn_id", c.ID)
		m.closeTransport(c)
		return
	}

	if c.IsReconnectAttempt {
		// The server restarted; the page content may be stale, so reload
		// instead of resuming.
		c.superseded = true
		logger.Info("Reconnected, reloading page", "conn_id", c.ID)
		m.opts.Reloader.Reload()
		return
	}

	logger.Info("Connected.", "conn_id", c.ID)
}

func (m *Manager) handleMessage(c *Connection, raw string) {
	if c.superseded || m.shutdownRequested {
		logger.Debug("Dropping message", "conn_id", c.ID, "data", raw)
		return
	}

	logger.Info("Received message", "data", raw)
	m.opts.Handler.Handle(raw)
}

func (m *Manager) handleClosed(c *Connection, code int) {
	if c.State.Closed() {
		return
	}

	if transport.IsIntentional(code) || m.shutdownRequested {
		m.transition(c, StateClosedIntentional, code)
		logger.Debug("WebSocket closed", "conn_id", c.ID, "code", transport.CloseCodeName(code))
		return
	}

	m.transition(c, StateClosedUnexpected, code)
	logger.Infof("WebSocket is closed. Will attempt reconnecting in %s seconds...",
		strconv.FormatFloat(m.opts.ReconnectInterval.Seconds(), 'f', -1, 64))
	logger.Debug("Close details", "conn_id", c.ID, "code", transport.CloseCodeName(code))

	m.timer = m.opts.Scheduler.AfterFunc(m.opts.ReconnectInterval, func() {
		m.post(event{kind: eventReconnect, conn: c})
	})
}

func (m *Manager) handleReconnect(c *Connection) {
	m.timer = nil
	if c.State != StateClosedUnexpected || m.shutdownRequested {
		return
	}
	m.connect(true)
}

func (m *Manager) handleShutdown() {
	m.shutdownRequested = true
	c := m.conn

	switch c.State {
	case StateOpen:
		logger.Debug("Page teardown, closing connection", "conn_id", c.ID)
		m.closeTransport(c)
	case StateConnecting:
		// Closed as soon as the dial resolves.
	case StateClosedUnexpected:
		m.stopTimer()
		m.transition(c, StateClosedIntentional, transport.CloseNormal)
	}
}

// closeTransport starts the normal-closure handshake. The resulting close
// event completes the transition.
func (m *Manager) closeTransport(c *Connection) {
	if err := c.transport.Close(transport.CloseNormal); err != nil {
		logger.Debug("Close handshake failed", "conn_id", c.ID, "error", err)
	}
}

func (m *Manager) stopTimer() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) transition(c *Connection, to State, code int) {
	from := c.State
	c.State = to
	m.publish(c, from, code)
}

// publish refreshes the snapshot and notifies the observer.
func (m *Manager) publish(c *Connection, from State, code int) {
	m.mu.Lock()
	m.snapshot = Snapshot{
		ID:                 c.ID,
		State:              c.State,
		IsReconnectAttempt: c.IsReconnectAttempt,
		Attempt:            m.attempt,
	}
	m.mu.Unlock()

	if m.opts.OnStateChange != nil {
		m.opts.OnStateChange(StateEvent{
			ConnID:             c.ID,
			IsReconnectAttempt: c.IsReconnectAttempt,
			OldState:           from,
			NewState:           c.State,
			Code:               code,
		})
	}
}
