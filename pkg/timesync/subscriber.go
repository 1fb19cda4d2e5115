// ABOUTME: Push estimator with its reconnection state machine
// ABOUTME: A single event loop owns the channel, the timers and every state transition
package timesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/timesync-go/timesync/internal/clocksync"
	"github.com/timesync-go/timesync/internal/logging"
	"github.com/timesync-go/timesync/internal/metrics"
	"github.com/timesync-go/timesync/internal/protocol"
)

const (
	DefaultConnectTimeout       = 10 * time.Second
	DefaultReconnectDelay       = 5 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultWriteTimeout         = 10 * time.Second
)

// ErrStopped settles WaitForInit when the subscriber is stopped first
var ErrStopped = errors.New("subscriber stopped")

// SubscriberConfig configures a Subscriber
type SubscriberConfig struct {
	// URL of the authority; http(s) is mapped to ws(s) and /time to /ws
	URL string

	// ConnectTimeout settles WaitForInit with ErrTimeout when no valid sample
	// arrives this long after Start (default: 10s). It also bounds each
	// websocket handshake.
	ConnectTimeout time.Duration

	// ReconnectDelay is the fixed wait before each reconnect (default: 5s)
	ReconnectDelay time.Duration

	// MaxReconnectAttempts bounds consecutive reconnects without a sample
	// (default: 5; negative disables reconnects)
	MaxReconnectAttempts int

	// RequestInterval sends getTime on a cadence while the channel is open.
	// Zero relies on the authority's own pushes.
	RequestInterval time.Duration

	// WriteTimeout bounds each outbound frame (default: 10s)
	WriteTimeout time.Duration

	// InsecureSkipVerify accepts self-signed authority certificates
	InsecureSkipVerify bool

	// StaleAfter marks the offset stale in Stats (default: 2m)
	StaleAfter time.Duration

	Dialer  Dialer
	Clock   clock.Clock
	Logger  *zap.SugaredLogger
	Metrics *metrics.Estimator
}

// Subscriber keeps an offset fresh from a long-lived push channel
type Subscriber struct {
	estimate

	config SubscriberConfig
	url    string
	id     string
	clock  clock.Clock
	dialer Dialer
	log    *zap.SugaredLogger

	events    chan interface{}
	stopCh    chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	wg        sync.WaitGroup

	init *initOutcome

	// observed from other goroutines
	mu       sync.RWMutex
	state    State
	attempts int
	err      error

	// owned by the event loop
	gen            uint64
	session        *session
	policy         backoff.BackOff
	initTimer      *clock.Timer
	reconnectTimer *clock.Timer
	dialCancel     context.CancelFunc
}

// session is one live channel and the periodic timer bound to it
type session struct {
	gen          uint64
	conn         Conn
	requestTimer *clock.Timer
	secure       bool
}

type dialedEvent struct {
	gen  uint64
	conn Conn
	err  error
}

type frameEvent struct {
	gen        uint64
	data       []byte
	receivedAt time.Time
}

type closedEvent struct {
	gen uint64
	err error
}

type initTimeoutEvent struct{}

type reconnectEvent struct{ gen uint64 }

type requestTickEvent struct{ gen uint64 }

type syncRequest struct{}

// NewSubscriber creates a subscriber; call Start to connect
func NewSubscriber(config SubscriberConfig) (*Subscriber, error) {
	url, err := protocol.PushURL(config.URL)
	if err != nil {
		return nil, err
	}

	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.MaxReconnectAttempts == 0 {
		config.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if config.MaxReconnectAttempts < 0 {
		config.MaxReconnectAttempts = 0
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultWriteTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.New()
	}
	if config.Dialer == nil {
		config.Dialer = NewWebsocketDialer(config.InsecureSkipVerify, config.ConnectTimeout)
	}

	policy := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(config.ReconnectDelay),
		uint64(config.MaxReconnectAttempts),
	)

	return &Subscriber{
		estimate: estimate{cs: clocksync.NewClockSync(config.Clock, config.StaleAfter)},
		config:   config,
		url:      url,
		id:       uuid.New().String(),
		clock:    config.Clock,
		dialer:   config.Dialer,
		log:      logging.OrNop(config.Logger),
		events:   make(chan interface{}, 16),
		stopCh:   make(chan struct{}),
		init:     newInitOutcome(),
		policy:   policy,
	}, nil
}

// Start launches the event loop and the first connect attempt
func (s *Subscriber) Start() {
	s.startOnce.Do(func() {
		s.log.Infof("Push server URL: %s (session %s)", s.url, s.id)
		s.started.Store(true)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
	})
}

// Stop closes the channel and cancels every timer. No reconnect follows.
func (s *Subscriber) Stop() {
	s.startOnce.Do(func() {
		// never started, so no loop will settle it
		s.init.settle(ErrStopped)
	})
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// WaitForInit blocks until the first sample (true), or false once
// ConnectTimeout has passed since Start without one
func (s *Subscriber) WaitForInit(ctx context.Context) (bool, error) {
	select {
	case <-s.init.done:
		if s.init.err != nil {
			return false, s.init.err
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// SyncWithServer asks for a fresh sample if the channel is open, or
// reconnects if it is not. Before Start it does nothing.
func (s *Subscriber) SyncWithServer() {
	if !s.started.Load() {
		return
	}
	s.post(syncRequest{})
}

// State returns the current session state
func (s *Subscriber) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Attempts returns the number of reconnects since the last valid sample
func (s *Subscriber) Attempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attempts
}

// Err returns ErrReconnectExhausted once automatic recovery has given up.
// The offset is then the last known value and may be stale.
func (s *Subscriber) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ID identifies this subscriber in logs
func (s *Subscriber) ID() string {
	return s.id
}

// post delivers an event to the loop; false once stopped
func (s *Subscriber) post(ev interface{}) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopCh:
		return false
	}
}

func (s *Subscriber) run() {
	// one deadline for the whole initialization, across reconnects
	s.initTimer = s.clock.AfterFunc(s.config.ConnectTimeout, func() {
		s.post(initTimeoutEvent{})
	})
	s.connect()

	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		case <-s.stopCh:
			s.shutdown()
			return
		}
	}
}

func (s *Subscriber) handle(ev interface{}) {
	switch ev := ev.(type) {
	case dialedEvent:
		s.onDialed(ev)
	case frameEvent:
		s.onFrame(ev)
	case closedEvent:
		s.onClosed(ev)
	case initTimeoutEvent:
		s.onInitTimeout()
	case reconnectEvent:
		s.onReconnect(ev)
	case requestTickEvent:
		s.onRequestTick(ev)
	case syncRequest:
		s.onSyncRequest()
	}
}

// connect: Disconnected -> Connecting
func (s *Subscriber) connect() {
	s.gen++
	gen := s.gen

	s.stopTimer(&s.reconnectTimer)

	ctx, cancel := context.WithCancel(context.Background())
	s.dialCancel = cancel
	s.setState(StateConnecting)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		conn, err := s.dialer.Dial(ctx, s.url)
		if !s.post(dialedEvent{gen: gen, conn: conn, err: err}) && conn != nil {
			conn.Close()
		}
	}()
}

// onDialed: Connecting -> Connected, or -> Disconnected on failure
func (s *Subscriber) onDialed(ev dialedEvent) {
	if ev.gen != s.gen || s.State() != StateConnecting {
		if ev.conn != nil {
			ev.conn.Close()
		}
		return
	}

	s.dialCancel()
	s.dialCancel = nil

	if ev.err != nil {
		s.log.Warnf("Push connection failed: %v", ev.err)
		s.recordFailure(ev.err)
		s.setState(StateDisconnected)
		s.scheduleReconnect()
		return
	}

	s.session = &session{gen: ev.gen, conn: ev.conn}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(ev.gen, ev.conn)
	}()

	// the first frame is not assumed to be a timestamp
	s.requestTime()
	s.armRequestTimer()

	s.setState(StateConnected)
	s.log.Infof("Connected to push server")
}

func (s *Subscriber) readLoop(gen uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.post(closedEvent{gen: gen, err: err})
			return
		}
		if !s.post(frameEvent{gen: gen, data: data, receivedAt: s.clock.Now()}) {
			return
		}
	}
}

// onFrame: Connected -> Synced, Synced -> Synced
func (s *Subscriber) onFrame(ev frameEvent) {
	if !s.live(ev.gen) {
		return
	}

	frame, err := protocol.ParseFrame(ev.data)
	if err != nil {
		// one bad frame never drops the channel
		s.log.Warnf("Ignoring malformed frame: %v", err)
		s.recordFailure(err)
		return
	}

	if !frame.HasTime {
		if frame.Type == protocol.TypeShutdown {
			s.log.Infof("Push server is shutting down")
			s.teardown(fmt.Errorf("%w: server shutdown", protocol.ErrTransport))
			return
		}
		s.log.Debugf("Ignoring frame type %q", frame.Type)
		return
	}

	offset := s.cs.ApplyPush(ev.receivedAt, frame.ServerTime)
	if m := s.config.Metrics; m != nil {
		m.OffsetSeconds.Set(offset.Seconds())
		m.Samples.WithLabelValues("push").Inc()
	}

	if frame.Secure && !s.session.secure {
		s.session.secure = true
		s.log.Infof("Using secure connection")
	}

	if s.State() == StateSynced {
		s.log.Debugf("Offset updated: %dms", offset.Milliseconds())
		return
	}

	s.setState(StateSynced)
	s.resetAttempts()
	s.log.Infof("Time sync complete, offset=%dms", offset.Milliseconds())
	s.stopTimer(&s.initTimer)
	s.init.settle(nil)
}

// onClosed: any state -> Disconnected
func (s *Subscriber) onClosed(ev closedEvent) {
	if !s.live(ev.gen) {
		return
	}
	s.teardown(fmt.Errorf("%w: %v", protocol.ErrTransport, ev.err))
}

// teardown closes the live channel, cancels its timer and schedules a reconnect
func (s *Subscriber) teardown(cause error) {
	s.closeSession()
	s.log.Infof("Disconnected from push server: %v", cause)
	s.recordFailure(cause)
	s.setState(StateDisconnected)
	s.scheduleReconnect()
}

func (s *Subscriber) closeSession() {
	if s.session == nil {
		return
	}
	s.stopTimer(&s.session.requestTimer)
	s.session.conn.Close()
	s.session = nil
}

// scheduleReconnect arms the single reconnect timer, or gives up for good
func (s *Subscriber) scheduleReconnect() {
	if s.reconnectTimer != nil {
		return
	}

	delay := s.policy.NextBackOff()
	if delay == backoff.Stop {
		s.mu.Lock()
		s.err = protocol.ErrReconnectExhausted
		attempts := s.attempts
		s.mu.Unlock()

		s.log.Warnf("Giving up after %d reconnect attempts; serving last known offset", attempts)
		return
	}

	// armed before the counter is published
	gen := s.gen
	s.reconnectTimer = s.clock.AfterFunc(delay, func() {
		s.post(reconnectEvent{gen: gen})
	})

	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	s.mu.Unlock()

	if m := s.config.Metrics; m != nil {
		m.Reconnects.Inc()
	}
	s.log.Infof("Reconnecting (%d/%d) in %s...", attempts, s.config.MaxReconnectAttempts, delay)
}

// onReconnect: Disconnected -> Connecting (automatic)
func (s *Subscriber) onReconnect(ev reconnectEvent) {
	if ev.gen != s.gen || s.reconnectTimer == nil {
		return
	}
	s.reconnectTimer = nil

	if s.State() != StateDisconnected {
		return
	}
	s.connect()
}

// onInitTimeout settles initialization; state and reconnects are left alone
func (s *Subscriber) onInitTimeout() {
	if s.initTimer == nil {
		return
	}
	s.initTimer = nil

	err := fmt.Errorf("%w: no valid sample after %s", protocol.ErrTimeout, s.config.ConnectTimeout)
	if s.init.settle(err) {
		s.log.Warnf("Time sync initialization failed: %v", err)
	}
}

func (s *Subscriber) onRequestTick(ev requestTickEvent) {
	if !s.live(ev.gen) {
		return
	}
	s.session.requestTimer = nil
	s.requestTime()
	s.armRequestTimer()
}

// onSyncRequest: request a sample on a live channel, otherwise reconnect
func (s *Subscriber) onSyncRequest() {
	switch s.State() {
	case StateConnected, StateSynced:
		s.requestTime()
	case StateDisconnected:
		s.mu.Lock()
		s.err = nil
		s.mu.Unlock()
		s.connect()
	}
}

func (s *Subscriber) requestTime() {
	if s.session == nil {
		return
	}

	conn := s.session.conn
	conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	if err := conn.WriteJSON(protocol.Command{Command: protocol.CommandGetTime}); err != nil {
		// the reader observes the broken channel and reports the close
		s.log.Warnf("Failed to request time: %v", err)
		conn.Close()
	}
}

func (s *Subscriber) armRequestTimer() {
	if s.session == nil || s.config.RequestInterval <= 0 {
		return
	}
	gen := s.session.gen
	s.session.requestTimer = s.clock.AfterFunc(s.config.RequestInterval, func() {
		s.post(requestTickEvent{gen: gen})
	})
}

// shutdown runs on Stop: everything is cancelled and nothing is rescheduled
func (s *Subscriber) shutdown() {
	s.stopTimer(&s.initTimer)
	s.stopTimer(&s.reconnectTimer)
	if s.dialCancel != nil {
		s.dialCancel()
		s.dialCancel = nil
	}
	s.closeSession()
	s.setState(StateDisconnected)
	s.init.settle(ErrStopped)
	s.log.Infof("Push subscriber stopped")
}

func (s *Subscriber) live(gen uint64) bool {
	return s.session != nil && s.session.gen == gen
}

func (s *Subscriber) resetAttempts() {
	s.policy.Reset()

	s.mu.Lock()
	s.attempts = 0
	s.err = nil
	s.mu.Unlock()
}

func (s *Subscriber) stopTimer(t **clock.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}

func (s *Subscriber) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if m := s.config.Metrics; m != nil {
		m.State.Set(float64(state))
	}
	if prev != state {
		s.log.Debugf("Session %s: %s -> %s", s.id, prev, state)
	}
}

func (s *Subscriber) recordFailure(err error) {
	if m := s.config.Metrics; m != nil {
		m.SyncFailures.WithLabelValues(errorKind(err)).Inc()
	}
}
