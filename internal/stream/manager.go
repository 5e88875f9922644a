package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/config"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/events"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/metrics"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/queue"
	"github.com/blitzy-public-samples/linkedin-recruiter-zfmk15-sub001/internal/retry"
)

const noticeBuffer = 64

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdDisconnect
)

type command struct {
	kind  commandKind
	token string
	reply chan error
}

type dialResult struct {
	gen  uint64
	conn *websocket.Conn
	err  error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMetrics exports connection metrics.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

// WithRand sets the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(m *Manager) {
		m.rnd = fn
	}
}

// WithClock sets the time source used for activity and timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithDeadLetters registers a callback for outbound messages that were
// evicted from the queue or still queued when Disconnect gave up draining.
func WithDeadLetters(fn func(msg *Message, reason string)) Option {
	return func(m *Manager) {
		m.onDeadLetter = fn
	}
}

// Manager owns the persistent event-stream connection.
type Manager struct {
	cfg          config.StreamConfig
	router       *events.Router
	queue        *queue.Queue[*Message]
	dialer       Dialer
	backoff      retry.Backoff
	rnd          func() float64
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Metrics
	onDeadLetter func(*Message, string)

	cmds    chan command
	dialed  chan dialResult
	notices chan events.Event
	lost    chan events.Event // latest connection.lost; never dropped
	done    chan struct{}     // closed when the control loop exits
	cancel  context.CancelFunc
	started atomic.Bool
	once    sync.Once
	wg      sync.WaitGroup

	state atomic.Int32

	statsMu         sync.Mutex
	retryCount      int
	lastConnectedAt time.Time

	reconnects      atomic.Int64
	eventsReceived  atomic.Int64
	malformedFrames atomic.Int64
	messagesSent    atomic.Int64

	// Control loop state. Touched only by run and its helpers.
	loopCtx    context.Context
	token      string
	gen        uint64
	retries    int
	sess       *session
	dialCancel context.CancelFunc
	waiters    []chan error
	reconnect  *time.Timer
	heartbeat  *time.Ticker
}

// NewManager creates a manager. Call Start before Connect.
func NewManager(cfg config.StreamConfig, router *events.Router, opts ...Option) *Manager {
	m := &Manager{
		cfg:    cfg,
		router: router,
		backoff: retry.Backoff{
			Initial: cfg.MinDelay,
			Max:     cfg.MaxDelay,
			Factor:  cfg.GrowFactor,
		},
		rnd:     rand.Float64,
		now:     time.Now,
		cmds:    make(chan command),
		dialed:  make(chan dialResult),
		notices: make(chan events.Event, noticeBuffer),
		lost:    make(chan events.Event, 1),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	m.logger = m.logger.With("component", "stream")
	if m.dialer == nil {
		m.dialer = newWebsocketDialer(cfg.HandshakeTimeout)
	}

	m.queue = queue.New(cfg.QueueCapacity,
		queue.WithMetrics[*Message](m.metrics),
		queue.WithOnEvict(func(msg *Message) {
			m.logger.Warn("outbound queue full, dropped oldest message",
				"message_id", msg.ID,
				"event", msg.EventType,
			)
			m.deadLetter(msg, ReasonEvicted)
		}),
	)
	m.metrics.SetStreamState(int(StateDisconnected))
	return m
}

// Start launches the control loop. It returns immediately; the loop runs
// until ctx is cancelled or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.once.Do(func() {
		ctx, m.cancel = context.WithCancel(ctx)
		m.loopCtx = ctx
		m.wg.Add(2)
		go m.run(ctx)
		go m.notifyLoop()
		m.started.Store(true)
	})
	return nil
}

// Stop closes the connection and waits for the control loop to exit.
func (m *Manager) Stop(ctx context.Context) error {
	if !m.started.Load() {
		return nil
	}
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("stream manager stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect opens the connection with token. It blocks until the first dial
// attempt resolves and returns its error; reconnection continues in the
// background after a failed attempt. Connecting again while connected is a
// no-op; while connecting it waits for the pending attempt.
func (m *Manager) Connect(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	reply := make(chan error, 1)
	if err := m.submit(ctx, command{kind: cmdConnect, token: token, reply: reply}); err != nil {
		return err
	}
	return m.await(ctx, reply)
}

// Disconnect drains queued messages best-effort, closes the connection and
// cancels all timers. Calling it while disconnected is a no-op.
//
// Event handlers must not call Disconnect synchronously: it waits for the
// reader goroutine that runs them.
func (m *Manager) Disconnect(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := m.submit(ctx, command{kind: cmdDisconnect, reply: reply}); err != nil {
		if errors.Is(err, ErrStopped) {
			return nil
		}
		return err
	}
	return m.await(ctx, reply)
}

// Send queues an outbound event. Messages are written in enqueue order once
// the connection is up. If the queue is full the oldest message is dropped.
func (m *Manager) Send(ctx context.Context, eventType string, data any) (uuid.UUID, error) {
	if eventType == "" {
		return uuid.Nil, ErrEmptyEventType
	}
	if err := ctx.Err(); err != nil {
		return uuid.Nil, err
	}

	var payload json.RawMessage
	switch v := data.(type) {
	case nil:
	case json.RawMessage:
		payload = v
	case []byte:
		payload = json.RawMessage(v)
	default:
		b, err := json.Marshal(data)
		if err != nil {
			return uuid.Nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		payload = b
	}
	if payload != nil && !json.Valid(payload) {
		return uuid.Nil, fmt.Errorf("%s payload is not valid JSON", eventType)
	}

	msg := &Message{
		ID:         uuid.New(),
		EventType:  eventType,
		Payload:    payload,
		EnqueuedAt: m.now(),
	}
	m.queue.Enqueue(msg)
	return msg.ID, nil
}

// Subscribe registers handler for eventType.
func (m *Manager) Subscribe(eventType string, handler events.Handler) (events.Handle, error) {
	return m.router.Subscribe(eventType, handler)
}

// Unsubscribe removes a subscription.
func (m *Manager) Unsubscribe(h events.Handle) bool {
	return m.router.Unsubscribe(h)
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Stats returns runtime statistics.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	retries, last := m.retryCount, m.lastConnectedAt
	m.statsMu.Unlock()

	return Stats{
		State:           m.State().String(),
		RetryCount:      retries,
		LastConnectedAt: last,
		Reconnects:      m.reconnects.Load(),
		EventsReceived:  m.eventsReceived.Load(),
		MalformedFrames: m.malformedFrames.Load(),
		MessagesSent:    m.messagesSent.Load(),
		Queue:           m.queue.Stats(),
		Router:          m.router.Stats(),
	}
}

func (m *Manager) submit(ctx context.Context, cmd command) error {
	if !m.started.Load() {
		return ErrNotStarted
	}
	select {
	case m.cmds <- cmd:
		return nil
	case <-m.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) await(ctx context.Context, reply <-chan error) error {
	select {
	case err := <-reply:
		return err
	case <-m.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the control loop. It is the only goroutine that mutates
// connection state.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	defer close(m.done)

	for {
		var (
			reconnectC <-chan time.Time
			heartbeatC <-chan time.Time
			sessDone   <-chan struct{}
		)
		if m.reconnect != nil {
			reconnectC = m.reconnect.C
		}
		if m.heartbeat != nil {
			heartbeatC = m.heartbeat.C
		}
		if m.sess != nil {
			sessDone = m.sess.done
		}

		select {
		case <-ctx.Done():
			m.teardown(ErrStopped)
			return

		case cmd := <-m.cmds:
			switch cmd.kind {
			case cmdConnect:
				m.handleConnect(cmd)
			case cmdDisconnect:
				m.teardown(ErrDisconnected)
				cmd.reply <- nil
			}

		case r := <-m.dialed:
			m.handleDial(r)

		case <-sessDone:
			m.handleSessionEnd()

		case <-reconnectC:
			m.reconnect = nil
			m.startDial()

		case <-heartbeatC:
			m.checkHeartbeat()
		}
	}
}

func (m *Manager) handleConnect(cmd command) {
	m.token = cmd.token

	switch m.State() {
	case StateConnected:
		cmd.reply <- nil
	case StateConnecting:
		m.waiters = append(m.waiters, cmd.reply)
	default:
		m.stopReconnect()
		m.setRetries(0)
		m.waiters = append(m.waiters, cmd.reply)
		m.startDial()
	}
}

func (m *Manager) startDial() {
	m.gen++
	gen, token := m.gen, m.token

	ctx, cancel := context.WithTimeout(m.loopCtx, m.cfg.HandshakeTimeout)
	m.dialCancel = cancel
	m.setState(StateConnecting)

	m.logger.Info("connecting", "url", m.cfg.URL, "attempt", m.retries+1)

	go func() {
		conn, err := m.dialer.Dial(ctx, m.cfg.URL, token)
		cancel()
		select {
		case m.dialed <- dialResult{gen: gen, conn: conn, err: err}:
		case <-m.done:
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (m *Manager) handleDial(r dialResult) {
	if r.gen != m.gen || m.State() != StateConnecting {
		// Superseded by Disconnect or a newer dial.
		if r.conn != nil {
			r.conn.Close()
		}
		return
	}
	m.dialCancel = nil

	if r.err != nil {
		m.logger.Warn("connect failed", "error", r.err, "retries", m.retries)
		m.notifyWaiters(r.err)
		m.setState(StateDisconnected)
		m.scheduleReconnect(r.err)
		return
	}

	s := newSession(m.loopCtx, r.gen, r.conn, m.cfg.WriteTimeout, m.now)
	m.sess = s
	m.setRetries(0)
	m.statsMu.Lock()
	m.lastConnectedAt = m.now()
	m.statsMu.Unlock()

	if m.cfg.HeartbeatInterval > 0 {
		m.heartbeat = time.NewTicker(m.cfg.HeartbeatInterval)
	}
	go m.readLoop(s)
	go m.flushLoop(s)

	m.setState(StateConnected)
	m.logger.Info("connected", "url", m.cfg.URL)
	m.notifyWaiters(nil)
}

func (m *Manager) handleSessionEnd() {
	s := m.sess
	m.closeSession(s, false)

	m.logger.Warn("connection closed", "error", s.err)
	m.setState(StateDisconnected)
	m.scheduleReconnect(s.err)
}

// scheduleReconnect arms the reconnect timer, or gives up once MaxRetries
// consecutive attempts have failed.
func (m *Manager) scheduleReconnect(cause error) {
	if m.retries >= m.cfg.MaxRetries {
		m.connectionLost(cause)
		return
	}
	m.setRetries(m.retries + 1)
	delay := m.backoff.Jittered(m.retries+1, m.rnd)

	m.reconnects.Add(1)
	m.metrics.IncStreamReconnect()
	m.logger.Info("scheduling reconnect", "attempt", m.retries, "delay", delay)

	m.reconnect = time.NewTimer(delay)
}

func (m *Manager) connectionLost(cause error) {
	msg := "unknown"
	if cause != nil {
		msg = cause.Error()
	}
	m.logger.Error("reconnect attempts exhausted",
		"retries", m.retries,
		"error", cause,
	)
	m.notifyWaiters(ErrConnectionLost)

	data, _ := json.Marshal(LostPayload{Retries: m.retries, Error: msg})
	m.latchLost(events.Event{
		Type:      events.TypeConnectionLost,
		Data:      data,
		Timestamp: m.now(),
	})
}

func (m *Manager) checkHeartbeat() {
	s := m.sess
	if s == nil {
		return
	}
	if idle := s.idleSince(m.now()); idle > m.cfg.HeartbeatTimeout {
		m.logger.Warn("heartbeat timeout, closing connection", "idle", idle)
		s.close()
		return
	}
	if err := s.ping(); err != nil {
		m.logger.Warn("heartbeat ping failed", "error", err)
		s.close()
	}
}

// teardown closes everything the loop owns. Used by Disconnect and Stop.
func (m *Manager) teardown(reason error) {
	m.stopReconnect()
	if m.dialCancel != nil {
		m.dialCancel()
		m.dialCancel = nil
	}
	m.gen++ // invalidates any in-flight dial
	m.notifyWaiters(reason)

	if s := m.sess; s != nil {
		m.setState(StateClosing)
		m.closeSession(s, true)
	}

	for _, msg := range m.queue.TakeAll() {
		m.deadLetter(msg, ReasonUndelivered)
	}
	m.setRetries(0)
	m.setState(StateDisconnected)
}

// closeSession stops the heartbeat, optionally drains the send queue and
// waits for the session goroutines to exit.
func (m *Manager) closeSession(s *session, drain bool) {
	if m.heartbeat != nil {
		m.heartbeat.Stop()
		m.heartbeat = nil
	}

	if drain {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DrainTimeout)
		n, err := m.queue.Drain(ctx, m.sink(s))
		cancel()
		if err != nil {
			m.logger.Warn("drain incomplete", "sent", n, "remaining", m.queue.Len(), "error", err)
		}
		s.closeGracefully()
	} else {
		s.close()
	}

	<-s.done
	<-s.flushDone
	m.sess = nil
}

func (m *Manager) stopReconnect() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

func (m *Manager) notifyWaiters(err error) {
	for _, w := range m.waiters {
		w <- err
	}
	m.waiters = nil
}

func (m *Manager) setState(s State) {
	old := State(m.state.Swap(int32(s)))
	if old == s {
		return
	}
	m.metrics.SetStreamState(int(s))

	data, _ := json.Marshal(StateChange{From: old.String(), To: s.String()})
	m.notify(events.Event{
		Type:      events.TypeConnectionState,
		Data:      data,
		Timestamp: m.now(),
	})
}

func (m *Manager) setRetries(n int) {
	m.retries = n
	m.statsMu.Lock()
	m.retryCount = n
	m.statsMu.Unlock()
}

// notify hands a state notice to notifyLoop without blocking the control
// loop. Notices are dropped while a slow handler holds the buffer full.
func (m *Manager) notify(ev events.Event) {
	select {
	case m.notices <- ev:
	default:
		m.logger.Warn("notice buffer full, dropped event", "event", ev.Type)
	}
}

// latchLost stores ev in the one-slot lost channel, replacing an
// undelivered older one. It never blocks.
func (m *Manager) latchLost(ev events.Event) {
	for {
		select {
		case m.lost <- ev:
			return
		default:
		}
		select {
		case <-m.lost:
		default:
		}
	}
}

// notifyLoop dispatches internal events in order off the control loop, so
// handlers may call back into the manager. Notices queued before a
// connection.lost are dispatched ahead of it.
func (m *Manager) notifyLoop() {
	defer m.wg.Done()
	for {
		select {
		case ev := <-m.notices:
			m.router.Dispatch(ev)
		case ev := <-m.lost:
			m.drainNotices()
			m.router.Dispatch(ev)
		case <-m.done:
			m.drainNotices()
			select {
			case ev := <-m.lost:
				m.router.Dispatch(ev)
			default:
			}
			return
		}
	}
}

func (m *Manager) drainNotices() {
	for {
		select {
		case ev := <-m.notices:
			m.router.Dispatch(ev)
		default:
			return
		}
	}
}

func (m *Manager) readLoop(s *session) {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.err = err
			return
		}
		s.touch()
		m.handleFrame(data)
	}
}

// handleFrame runs on the reader goroutine, so handlers see events in wire
// order.
func (m *Manager) handleFrame(data []byte) {
	ev, kind, err := parseFrame(data, m.now())
	if err != nil {
		m.malformedFrames.Add(1)
		m.metrics.IncMalformedFrame()
		m.logger.Warn("dropping malformed frame", "error", err, "size", len(data))
		return
	}
	if kind == frameControl {
		return
	}

	m.eventsReceived.Add(1)
	m.router.Dispatch(ev)
}

// flushLoop writes queued messages while the session is up. A failed write
// closes the session; the failed message stays at the queue head.
func (m *Manager) flushLoop(s *session) {
	defer close(s.flushDone)

	sink := m.sink(s)
	for {
		if _, err := m.queue.Drain(s.ctx, sink); err != nil {
			if s.ctx.Err() == nil {
				m.logger.Warn("send failed, closing connection", "error", err)
				s.close()
			}
			return
		}

		select {
		case <-m.queue.Ready():
		case <-s.ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (m *Manager) sink(s *session) func(context.Context, *Message) error {
	return func(_ context.Context, msg *Message) error {
		msg.attempts.Add(1)
		frame, err := encodeFrame(msg, m.now())
		if err != nil {
			return err
		}
		if err := s.write(frame); err != nil {
			return err
		}
		m.messagesSent.Add(1)
		return nil
	}
}

func (m *Manager) deadLetter(msg *Message, reason string) {
	if m.onDeadLetter != nil {
		m.onDeadLetter(msg, reason)
	}
}
