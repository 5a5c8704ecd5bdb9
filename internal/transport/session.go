// Package transport maintains the WebSocket session to the MCP proxy and
// exposes a request/reply surface over it: correlation, per-command
// deadlines, bounded in-flight backpressure, and ping/pong liveness. One
// session serves one application; the MCP client owns it exclusively.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"brandforge/internal/logging"
)

// Defaults; all overridable through Options.
const (
	DefaultPingInterval   = 25 * time.Second
	DefaultMaxInFlight    = 8
	DefaultCommandTimeout = 30 * time.Second
	DefaultDialTimeout    = 10 * time.Second

	writeTimeout = 10 * time.Second
)

// State is the session lifecycle. Commands are accepted only in Registered.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateRegistered
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRegistered:
		return "registered"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Options configure Dial.
type Options struct {
	// ProxyURL is the websocket endpoint, e.g. ws://127.0.0.1:8871/ws.
	ProxyURL string
	// Application names the plugin this session issues commands for.
	Application string
	// MaxInFlight bounds concurrent unresolved commands; further sends block
	// FIFO up to their deadline.
	MaxInFlight int64
	// PingInterval spaces liveness pings; silence for twice this interval
	// fails the session.
	PingInterval time.Duration
	// DialTimeout bounds the health probe, upgrade and registration.
	DialTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = DefaultMaxInFlight
	}
	if o.PingInterval <= 0 {
		o.PingInterval = DefaultPingInterval
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
}

// Session is a registered connection to the proxy. All methods are safe for
// concurrent use; a single reader goroutine dispatches replies by
// correlationId.
type Session struct {
	opts Options
	conn *websocket.Conn
	log  *zap.SugaredLogger

	inflight *semaphore.Weighted

	mu       sync.Mutex
	state    State
	waiters  map[string]chan *Reply
	lastPong time.Time
	failErr  error

	writeMu sync.Mutex

	done     chan struct{}
	doneOnce sync.Once
	wg       sync.WaitGroup
}

// Dial probes the proxy health endpoint, upgrades, and registers the
// application. The returned session is in Registered state.
func Dial(ctx context.Context, opts Options) (*Session, error) {
	opts.applyDefaults()
	log := logging.Get(logging.CategoryTransport)

	ctx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()

	if err := probeHealth(ctx, opts.ProxyURL); err != nil {
		return nil, err
	}

	s := &Session{
		opts:     opts,
		log:      log,
		inflight: semaphore.NewWeighted(opts.MaxInFlight),
		state:    StateConnecting,
		waiters:  make(map[string]chan *Reply),
		done:     make(chan struct{}),
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, opts.ProxyURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrTransportUnavailable, opts.ProxyURL, err)
	}
	s.conn = conn

	if err := s.register(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	s.mu.Lock()
	s.state = StateRegistered
	s.lastPong = time.Now()
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop()
	go s.pingLoop()

	log.Infow("session registered", "proxy", opts.ProxyURL, "application", opts.Application)
	return s, nil
}

// register sends the register frame and waits for the ack, tolerating
// interleaved pings.
func (s *Session) register(ctx context.Context) error {
	if err := s.writeJSON(registerFrame{Type: FrameRegister, Application: s.opts.Application}); err != nil {
		return fmt.Errorf("%w: send register: %v", ErrTransportUnavailable, err)
	}

	deadline := time.Now().Add(s.opts.DialTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	for {
		_ = s.conn.SetReadDeadline(deadline)
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: await register_ack: %v", ErrTransportUnavailable, err)
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			return fmt.Errorf("%w: parse register_ack: %v", ErrTransportUnavailable, err)
		}
		switch frame.Type {
		case FramePing:
			_ = s.writeJSON(controlFrame{Type: FramePong})
			continue
		case FramePong:
			continue
		case FrameRegisterAck:
			if frame.Status != "ok" {
				return fmt.Errorf("%w: %s", ErrRegistrationRejected, frame.Message)
			}
			_ = s.conn.SetReadDeadline(time.Time{})
			return nil
		default:
			return fmt.Errorf("%w: unexpected frame %q before register_ack", ErrRegistrationRejected, frame.Type)
		}
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Send issues one envelope and blocks for its reply. The effective deadline
// is the earlier of ctx and the envelope's DeadlineMs (defaulted when unset).
// Resolution is exactly one of: reply, *ApplicationError, ErrTimeout,
// ErrDisconnected.
func (s *Session) Send(ctx context.Context, env *Envelope) (*Reply, error) {
	timeout := time.Duration(env.DeadlineMs) * time.Millisecond
	if env.DeadlineMs <= 0 {
		timeout = DefaultCommandTimeout
		env.DeadlineMs = timeout.Milliseconds()
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-s.done:
		return nil, s.terminalErr()
	default:
	}

	// FIFO backpressure: queue-full blocks here up to the deadline.
	if err := s.inflight.Acquire(ctx, 1); err != nil {
		select {
		case <-s.done:
			return nil, s.terminalErr()
		default:
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: in-flight queue full", ErrTimeout)
		}
		return nil, err
	}
	defer s.inflight.Release(1)

	if env.CorrelationID == "" {
		env.CorrelationID = uuid.NewString()
	}
	if env.Application == "" {
		env.Application = s.opts.Application
	}
	env.NormalizeOutbound()

	ch := make(chan *Reply, 1)
	s.mu.Lock()
	if s.state != StateRegistered {
		s.mu.Unlock()
		return nil, s.terminalErr()
	}
	if _, dup := s.waiters[env.CorrelationID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("correlationId %s already in flight", env.CorrelationID)
	}
	s.waiters[env.CorrelationID] = ch
	s.mu.Unlock()

	if err := s.writeJSON(env); err != nil {
		s.removeWaiter(env.CorrelationID)
		s.fail(fmt.Errorf("write envelope: %w", err))
		return nil, s.terminalErr()
	}

	select {
	case reply := <-ch:
		if !reply.OK() {
			return nil, &ApplicationError{Kind: reply.ErrorKind, Message: reply.Message}
		}
		return reply, nil
	case <-ctx.Done():
		s.removeWaiter(env.CorrelationID)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrTimeout, env.Command, timeout)
		}
		return nil, ctx.Err()
	case <-s.done:
		return nil, s.terminalErr()
	}
}

// Close shuts the session down and drains all in-flight waiters with
// ErrDisconnected. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	s.waiters = make(map[string]chan *Reply)
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })

	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	err := s.conn.Close()

	s.wg.Wait()
	s.log.Infow("session closed", "application", s.opts.Application)
	return err
}

// fail moves the session to Disconnected, records the cause, and releases
// every waiter. Reader exit, write failures and missed pongs all land here.
func (s *Session) fail(cause error) {
	s.mu.Lock()
	if s.state == StateClosed || s.state == StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.state = StateDisconnected
	s.failErr = cause
	dropped := len(s.waiters)
	s.waiters = make(map[string]chan *Reply)
	s.mu.Unlock()

	s.doneOnce.Do(func() { close(s.done) })
	_ = s.conn.Close()
	s.log.Warnw("session failed", "cause", cause, "droppedWaiters", dropped)
}

// terminalErr renders the Disconnected error with its recorded cause.
func (s *Session) terminalErr() error {
	s.mu.Lock()
	cause := s.failErr
	s.mu.Unlock()
	if cause != nil {
		return fmt.Errorf("%w: %v", ErrDisconnected, cause)
	}
	return ErrDisconnected
}

func (s *Session) removeWaiter(id string) {
	s.mu.Lock()
	delete(s.waiters, id)
	s.mu.Unlock()
}

// readLoop is the single dispatcher: replies route to waiters by
// correlationId, pings are answered, pongs refresh liveness. Unknown or late
// correlation ids are logged and dropped.
func (s *Session) readLoop() {
	defer s.wg.Done()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.fail(fmt.Errorf("read: %w", err))
			}
			return
		}

		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.fail(fmt.Errorf("parse frame: %w", err))
			return
		}

		switch {
		case frame.Type == FramePing:
			if err := s.writeJSON(controlFrame{Type: FramePong}); err != nil {
				s.fail(fmt.Errorf("write pong: %w", err))
				return
			}
		case frame.Type == FramePong:
			s.mu.Lock()
			s.lastPong = time.Now()
			s.mu.Unlock()
		case frame.Type != "":
			s.log.Debugw("ignoring control frame", "type", frame.Type)
		case frame.CorrelationID != "":
			s.dispatch(frame.reply())
		default:
			s.log.Warnw("dropping frame without type or correlationId")
		}
	}
}

func (s *Session) dispatch(reply *Reply) {
	s.mu.Lock()
	ch, ok := s.waiters[reply.CorrelationID]
	if ok {
		delete(s.waiters, reply.CorrelationID)
	}
	s.mu.Unlock()

	if !ok {
		// Late (the waiter timed out) or never ours.
		s.log.Warnw("dropping reply with unknown correlationId",
			"correlationId", reply.CorrelationID, "status", reply.Status)
		return
	}
	ch <- reply
}

// pingLoop sends a ping every interval and fails the session when the proxy
// stays silent for two intervals.
func (s *Session) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			silence := time.Since(s.lastPong)
			s.mu.Unlock()
			if silence > 2*s.opts.PingInterval {
				s.fail(fmt.Errorf("no pong for %s", silence.Round(time.Millisecond)))
				return
			}
			if err := s.writeJSON(controlFrame{Type: FramePing}); err != nil {
				s.fail(fmt.Errorf("write ping: %w", err))
				return
			}
		}
	}
}

// writeJSON serializes one frame under the write lock; gorilla permits a
// single concurrent writer.
func (s *Session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// healthURL derives the HTTP health endpoint from the websocket URL.
func healthURL(proxyURL string) (string, error) {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return "", fmt.Errorf("parse proxy url %q: %w", proxyURL, err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	case "http", "https":
	default:
		return "", fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String(), nil
}

type healthPayload struct {
	Status string `json:"status"`
	App    string `json:"app"`
}

// probeHealth fails fast with ErrTransportUnavailable when the proxy is
// absent or unhealthy, before any upgrade attempt.
func probeHealth(ctx context.Context, proxyURL string) error {
	hu, err := healthURL(proxyURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, hu, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: health probe %s: %v", ErrTransportUnavailable, hu, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health probe %s: status %d", ErrTransportUnavailable, hu, resp.StatusCode)
	}
	var payload healthPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("%w: health probe %s: %v", ErrTransportUnavailable, hu, err)
	}
	if payload.Status != "ok" {
		return fmt.Errorf("%w: proxy reports status %q", ErrTransportUnavailable, payload.Status)
	}
	return nil
}
