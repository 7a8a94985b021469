// Package realtime is the client side of the realtime channel: one transport,
// a reconnection policy, request correlation and event fan-out.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ent0n29/parlance/internal/clock"
	"github.com/ent0n29/parlance/internal/protocol"
	"github.com/ent0n29/parlance/internal/reliability"
)

type Options struct {
	Dialer Dialer
	Clock  clock.Clock
	Logger *slog.Logger

	ResponseTimeout time.Duration
	DialTimeout     time.Duration
	// QueueSize bounds the offline queue. When full the oldest entry is dropped.
	QueueSize int

	// HeartbeatInterval < 0 disables the heartbeat.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	ReconnectBase        time.Duration
	ReconnectMax         time.Duration
	MaxReconnectAttempts int
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = 10 * time.Second
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 10 * time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 100
	}
	if o.HeartbeatInterval == 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 10 * time.Second
	}
	if o.ReconnectBase <= 0 {
		o.ReconnectBase = time.Second
	}
	if o.ReconnectMax <= 0 {
		o.ReconnectMax = 30 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	return o
}

type callResult struct {
	res protocol.Response
	err error
}

type call struct {
	id    string
	sent  bool
	timer clock.Timer
	done  chan callResult
}

type outbound struct {
	env  protocol.Envelope
	call *call
}

type eventListener struct {
	id uint64
	fn func(protocol.Response)
}

type inboundEvent struct {
	res  protocol.Response
	subs []eventListener
}

type statusListener struct {
	id uint64
	fn func(StatusEvent)
}

// Manager owns one logical connection. mu guards every field below it;
// transport I/O runs outside mu, and writes are serialized by writeMu.
// Status listeners run synchronously on the goroutine that caused the
// transition and must not call Connect or Disconnect from inside the callback.
// Event listeners run on a delivery goroutine, never on the reader, so they
// may call SendMessage.
type Manager struct {
	opts    Options
	connect singleflight.Group

	writeMu  sync.Mutex
	notifyMu sync.Mutex

	mu             sync.Mutex
	state          State
	conn           Conn
	gen            uint64
	manualClose    bool
	attempts       int
	reconnectTimer clock.Timer
	heartbeatTimer clock.Timer
	pongTimer      clock.Timer
	heartbeatID    string
	queue          []outbound
	pending        map[string]*call
	listeners      map[string][]eventListener
	statusSubs     []statusListener
	nextListenerID uint64
	events         []StatusEvent
	inbox          []inboundEvent
	delivering     bool
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Dialer == nil {
		return nil, fmt.Errorf("realtime: dialer is required")
	}
	return &Manager{
		opts:      opts.withDefaults(),
		state:     StateDisconnected,
		pending:   make(map[string]*call),
		listeners: make(map[string][]eventListener),
	}, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) QueueLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Manager) PendingLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Connect opens the transport. It returns immediately when already connected
// and joins the in-flight attempt when one is running. ctx bounds only this
// caller's wait; the attempt itself is limited by DialTimeout. A failed attempt
// schedules the reconnection policy before returning the *TransportError.
func (m *Manager) Connect(ctx context.Context) error {
	if m.State() == StateConnected {
		return nil
	}
	// The shared attempt must not die with whichever caller started it.
	dialCtx := context.WithoutCancel(ctx)
	ch := m.connect.DoChan("connect", func() (any, error) {
		return nil, m.dial(dialCtx, true)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect closes the transport and cancels any scheduled reconnect. Queued
// messages are kept for the next Connect; requests already written on the
// closed transport fail with ErrDisconnected.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.manualClose = true
	m.gen++
	m.stopTimersLocked()
	conn := m.conn
	m.conn = nil
	failed := m.takeSentLocked()
	m.setStateLocked(StateDisconnected, nil)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	for _, c := range failed {
		c.finish(callResult{err: ErrDisconnected})
	}
	m.flushStatus()
}

// SendMessage writes env and waits for the response carrying the same request
// id. Offline, the envelope is queued and the wait covers the queued time too.
func (m *Manager) SendMessage(ctx context.Context, env protocol.Envelope) (protocol.Response, error) {
	if env.RequestID == "" {
		env.RequestID = protocol.NewRequestID()
	}
	c := &call{id: env.RequestID, done: make(chan callResult, 1)}

	m.mu.Lock()
	if _, dup := m.pending[c.id]; dup {
		m.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("%w: %s", ErrDuplicateRequestID, c.id)
	}
	m.pending[c.id] = c
	c.timer = m.opts.Clock.AfterFunc(m.opts.ResponseTimeout, func() { m.expire(c.id) })
	if m.state != StateConnected {
		evicted := m.enqueueLocked(outbound{env: env, call: c})
		m.mu.Unlock()
		failEvicted(evicted)
	} else {
		c.sent = true
		conn, gen := m.conn, m.gen
		m.mu.Unlock()
		if err := m.write(conn, env); err != nil {
			m.transportFailed(gen, &TransportError{Op: "write", Err: err})
		}
	}

	select {
	case r := <-c.done:
		return r.res, r.err
	case <-ctx.Done():
		m.release(c.id)
		return protocol.Response{}, ctx.Err()
	}
}

// SendMessageAsync writes env without tracking a response.
func (m *Manager) SendMessageAsync(env protocol.Envelope) error {
	m.mu.Lock()
	if m.state != StateConnected {
		evicted := m.enqueueLocked(outbound{env: env})
		m.mu.Unlock()
		failEvicted(evicted)
		return nil
	}
	conn, gen := m.conn, m.gen
	m.mu.Unlock()
	if err := m.write(conn, env); err != nil {
		terr := &TransportError{Op: "write", Err: err}
		m.transportFailed(gen, terr)
		return terr
	}
	return nil
}

// On registers fn for inbound messages with the given action that do not
// answer a pending request. Messages are delivered in arrival order and, for
// each message, to listeners in registration order.
func (m *Manager) On(action string, fn func(protocol.Response)) (unregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextListenerID++
	id := m.nextListenerID
	m.listeners[action] = append(m.listeners[action], eventListener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		subs := m.listeners[action]
		for i, l := range subs {
			if l.id == id {
				m.listeners[action] = append(subs[:i:i], subs[i+1:]...)
				break
			}
		}
		if len(m.listeners[action]) == 0 {
			delete(m.listeners, action)
		}
	}
}

func (m *Manager) OnStatus(fn func(StatusEvent)) (unregister func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextListenerID++
	id := m.nextListenerID
	m.statusSubs = append(m.statusSubs, statusListener{id: id, fn: fn})
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, l := range m.statusSubs {
			if l.id == id {
				m.statusSubs = append(m.statusSubs[:i:i], m.statusSubs[i+1:]...)
				return
			}
		}
	}
}

func (m *Manager) dial(ctx context.Context, manual bool) error {
	m.mu.Lock()
	if m.state == StateConnected {
		m.mu.Unlock()
		return nil
	}
	if manual {
		if m.state == StateDisconnected {
			m.attempts = 0
		}
		m.manualClose = false
	} else if m.manualClose || m.state != StateReconnecting {
		m.mu.Unlock()
		return nil
	}
	stopTimer(&m.reconnectTimer)
	m.gen++
	gen := m.gen
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()
	m.flushStatus()

	dialCtx, cancel := context.WithTimeout(ctx, m.opts.DialTimeout)
	conn, err := m.opts.Dialer.Dial(dialCtx)
	cancel()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrDisconnected
	}
	if err != nil {
		terr := &TransportError{Op: "dial", Err: err}
		m.setStateLocked(StateError, terr)
		exhausted := m.scheduleReconnectLocked(terr)
		m.mu.Unlock()
		failQueued(exhausted)
		m.flushStatus()
		return terr
	}

	m.conn = conn
	m.attempts = 0
	queued := m.queue
	m.queue = nil
	for _, o := range queued {
		if o.call != nil {
			o.call.sent = true
		}
	}
	m.scheduleHeartbeatLocked(gen)
	m.setStateLocked(StateConnected, nil)
	// writeMu is taken before mu is released so direct sends cannot overtake
	// the queued backlog.
	m.writeMu.Lock()
	m.mu.Unlock()

	go m.readLoop(gen, conn)

	unsent, werr := m.flushQueued(conn, queued)
	m.writeMu.Unlock()
	if werr != nil {
		m.requeue(unsent)
		m.transportFailed(gen, &TransportError{Op: "write", Err: werr})
	}
	m.flushStatus()
	return nil
}

// flushQueued writes the backlog in FIFO order. On failure it returns the
// entries that were not written, the failing one included.
func (m *Manager) flushQueued(conn Conn, queued []outbound) ([]outbound, error) {
	for i, o := range queued {
		if err := m.writeLocked(conn, o.env); err != nil {
			return queued[i:], err
		}
	}
	return nil, nil
}

func (m *Manager) requeue(unsent []outbound) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := make([]outbound, 0, len(unsent)+len(m.queue))
	for _, o := range unsent {
		if o.call != nil {
			if _, ok := m.pending[o.call.id]; !ok {
				continue
			}
			o.call.sent = false
		}
		kept = append(kept, o)
	}
	m.queue = append(kept, m.queue...)
}

func (m *Manager) readLoop(gen uint64, conn Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			m.transportFailed(gen, &TransportError{Op: "read", Err: err})
			return
		}
		m.dispatch(gen, raw)
	}
}

func (m *Manager) dispatch(gen uint64, raw []byte) {
	res, err := protocol.ParseResponse(raw)
	if err != nil {
		m.opts.Logger.Debug("realtime: dropping unparseable message", "error", err)
		return
	}

	m.mu.Lock()
	if res.RequestID != "" {
		if res.RequestID == m.heartbeatID && gen == m.gen {
			m.heartbeatID = ""
			stopTimer(&m.pongTimer)
			m.scheduleHeartbeatLocked(gen)
			m.mu.Unlock()
			return
		}
		if c, ok := m.pending[res.RequestID]; ok {
			delete(m.pending, res.RequestID)
			m.mu.Unlock()
			c.finish(callResult{res: res})
			return
		}
	}
	subs := m.listeners[res.Action]
	if len(subs) == 0 {
		m.mu.Unlock()
		return
	}
	m.inbox = append(m.inbox, inboundEvent{res: res, subs: append([]eventListener(nil), subs...)})
	start := !m.delivering
	m.delivering = true
	m.mu.Unlock()

	if start {
		go m.deliverEvents()
	}
}

// deliverEvents drains the inbox in order and exits once it is empty. At most
// one runs at a time.
func (m *Manager) deliverEvents() {
	for {
		m.mu.Lock()
		if len(m.inbox) == 0 {
			m.delivering = false
			m.mu.Unlock()
			return
		}
		ev := m.inbox[0]
		m.inbox[0] = inboundEvent{}
		m.inbox = m.inbox[1:]
		m.mu.Unlock()

		for _, l := range ev.subs {
			l.fn(ev.res)
		}
	}
}

// transportFailed tears down the connection identified by gen and runs the
// reconnection policy. Stale generations are ignored.
func (m *Manager) transportFailed(gen uint64, terr *TransportError) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	m.gen++
	conn := m.conn
	m.conn = nil
	stopTimer(&m.heartbeatTimer)
	stopTimer(&m.pongTimer)
	m.heartbeatID = ""
	lost := m.takeSentLocked()
	m.setStateLocked(StateError, terr)
	exhausted := m.scheduleReconnectLocked(terr)
	m.mu.Unlock()

	m.opts.Logger.Warn("realtime: transport failure", "op", terr.Op, "error", terr.Err)
	if conn != nil {
		_ = conn.Close()
	}
	for _, c := range lost {
		c.finish(callResult{err: &TransportError{Op: terr.Op, Err: ErrConnectionLost}})
	}
	failQueued(exhausted)
	m.flushStatus()
}

// scheduleReconnectLocked moves the machine from error to reconnecting, or to
// disconnected once the attempt budget is spent. It returns the queued
// correlated calls that must fail in the latter case.
func (m *Manager) scheduleReconnectLocked(cause error) []*call {
	if m.manualClose {
		m.setStateLocked(StateDisconnected, nil)
		return nil
	}
	if m.attempts >= m.opts.MaxReconnectAttempts {
		err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, m.attempts, cause)
		m.setStateLocked(StateDisconnected, err)
		return m.takeQueuedCallsLocked()
	}
	m.attempts++
	delay := reliability.ExponentialBackoff(m.attempts-1, m.opts.ReconnectBase, m.opts.ReconnectMax)
	m.recordLocked(StatusEvent{State: StateReconnecting, Err: cause, Attempt: m.attempts, Delay: delay})
	m.reconnectTimer = m.opts.Clock.AfterFunc(delay, func() {
		_, _, _ = m.connect.Do("connect", func() (any, error) {
			return nil, m.dial(context.Background(), false)
		})
	})
	return nil
}

func (m *Manager) scheduleHeartbeatLocked(gen uint64) {
	if m.opts.HeartbeatInterval < 0 {
		return
	}
	m.heartbeatTimer = m.opts.Clock.AfterFunc(m.opts.HeartbeatInterval, func() { m.heartbeat(gen) })
}

func (m *Manager) heartbeat(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != StateConnected {
		m.mu.Unlock()
		return
	}
	id := protocol.NewRequestID()
	m.heartbeatID = id
	m.pongTimer = m.opts.Clock.AfterFunc(m.opts.HeartbeatTimeout, func() {
		m.transportFailed(gen, &TransportError{Op: "heartbeat", Err: ErrTimeout})
	})
	conn := m.conn
	m.mu.Unlock()

	if err := m.write(conn, protocol.Envelope{Action: protocol.ActionPing, RequestID: id}); err != nil {
		m.transportFailed(gen, &TransportError{Op: "write", Err: err})
	}
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	c, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.pending, id)
	for i, o := range m.queue {
		if o.call == c {
			m.queue = append(m.queue[:i:i], m.queue[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	c.finish(callResult{err: fmt.Errorf("%w: request %s after %s", ErrTimeout, id, m.opts.ResponseTimeout)})
}

// release drops a correlation entry abandoned by its caller.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.pending[id]
	if !ok {
		return
	}
	delete(m.pending, id)
	c.timer.Stop()
	for i, o := range m.queue {
		if o.call == c {
			m.queue = append(m.queue[:i:i], m.queue[i+1:]...)
			return
		}
	}
}

func (m *Manager) enqueueLocked(o outbound) *call {
	var evicted *call
	if len(m.queue) >= m.opts.QueueSize {
		oldest := m.queue[0]
		m.queue = m.queue[1:]
		if oldest.call != nil {
			if _, ok := m.pending[oldest.call.id]; ok {
				delete(m.pending, oldest.call.id)
				evicted = oldest.call
			}
		}
		m.opts.Logger.Warn("realtime: queue full, dropped oldest message", "action", oldest.env.Action)
	}
	m.queue = append(m.queue, o)
	return evicted
}

func (m *Manager) takeSentLocked() []*call {
	var out []*call
	for id, c := range m.pending {
		if c.sent {
			delete(m.pending, id)
			out = append(out, c)
		}
	}
	return out
}

func (m *Manager) takeQueuedCallsLocked() []*call {
	var out []*call
	kept := m.queue[:0]
	for _, o := range m.queue {
		if o.call == nil {
			kept = append(kept, o)
			continue
		}
		if _, ok := m.pending[o.call.id]; ok {
			delete(m.pending, o.call.id)
			out = append(out, o.call)
		}
	}
	m.queue = kept
	return out
}

func (m *Manager) stopTimersLocked() {
	stopTimer(&m.reconnectTimer)
	stopTimer(&m.heartbeatTimer)
	stopTimer(&m.pongTimer)
	m.heartbeatID = ""
}

func (m *Manager) write(conn Conn, env protocol.Envelope) error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return m.writeLocked(conn, env)
}

func (m *Manager) writeLocked(conn Conn, env protocol.Envelope) error {
	if conn == nil {
		return ErrDisconnected
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	return conn.WriteMessage(raw)
}

func (m *Manager) setStateLocked(s State, err error) {
	m.recordLocked(StatusEvent{State: s, Err: err})
}

func (m *Manager) recordLocked(ev StatusEvent) {
	if ev.State == m.state && ev.Err == nil {
		return
	}
	ev.Previous = m.state
	ev.At = m.opts.Clock.Now()
	m.state = ev.State
	m.events = append(m.events, ev)
}

// flushStatus delivers recorded transitions in order. notifyMu makes a caller
// wait for any delivery in progress, so its own transitions are delivered
// before it returns.
func (m *Manager) flushStatus() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	for {
		m.mu.Lock()
		if len(m.events) == 0 {
			m.mu.Unlock()
			return
		}
		ev := m.events[0]
		m.events = m.events[1:]
		subs := append([]statusListener(nil), m.statusSubs...)
		m.mu.Unlock()

		for _, l := range subs {
			l.fn(ev)
		}
	}
}

func (c *call) finish(r callResult) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.done <- r
}

func failEvicted(c *call) {
	if c != nil {
		c.finish(callResult{err: ErrQueueOverflow})
	}
}

func failQueued(calls []*call) {
	for _, c := range calls {
		c.finish(callResult{err: ErrReconnectExhausted})
	}
}

func stopTimer(t *clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
