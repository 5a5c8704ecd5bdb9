// Package proxy implements the persistent MCP dev proxy: application plugins
// register as executors, orchestrators register as controllers, and the proxy
// forwards command frames to the executor for the target application and
// routes each reply back to the controller that owns its correlationId.
package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"brandforge/internal/logging"
	"brandforge/internal/transport"
)

const (
	// DefaultPingInterval matches the wire contract's 25s heartbeat.
	DefaultPingInterval = 25 * time.Second

	// registerTimeout bounds how long a fresh connection may stall before
	// sending its register frame.
	registerTimeout = 10 * time.Second

	// routeSlack extends a command's deadline before its route is swept.
	routeSlack = 30 * time.Second

	// defaultRouteTTL covers commands that carry no deadline.
	defaultRouteTTL = 5 * time.Minute

	sendBuffer = 64
)

// Options tune the proxy.
type Options struct {
	PingInterval time.Duration
}

// Server is the proxy core; mount Handler on an http.Server.
type Server struct {
	opts    Options
	log     *zap.SugaredLogger
	reg     *registry
	started time.Time

	upgrader websocket.Upgrader

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer builds the proxy and starts its route janitor.
func NewServer(opts Options) *Server {
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	s := &Server{
		opts:    opts,
		log:     logging.Get(logging.CategoryProxy),
		reg:     newRegistry(),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		done: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.janitor()
	return s
}

// Handler mounts the proxy's HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Get("/ws", s.handleWS)
	return r
}

// Close disconnects every client and stops the janitor.
func (s *Server) Close() {
	s.closeOnce.Do(func() { close(s.done) })
	for _, c := range s.reg.all() {
		s.unregister(c, "proxy shutting down")
	}
	s.wg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	executors, controllers := s.reg.counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"app":    "mcp-proxy",
		"uptime": int(time.Since(s.started).Seconds()),
		"clients": map[string]int{
			"executors":   executors,
			"controllers": controllers,
		},
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	executors, _ := s.reg.counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":     executors > 0,
		"executors": executors,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// frameHead is the minimal decode needed to route a frame; the original
// bytes are forwarded untouched so either field convention survives.
type frameHead struct {
	Type          string `json:"type"`
	Application   string `json:"application"`
	Role          string `json:"role"`
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
	DeadlineMs    int64  `json:"deadlineMs"`
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	c, err := s.awaitRegistration(conn)
	if err != nil {
		s.log.Warnw("registration failed", "remote", r.RemoteAddr, "err", err)
		_ = conn.Close()
		return
	}

	switch c.role {
	case RoleExecutor:
		if displaced := s.reg.addExecutor(c); displaced != nil {
			s.log.Infow("executor displaced by reconnect", "application", c.app)
			s.unregister(displaced, "displaced by new executor")
		}
	default:
		s.reg.addController(c)
	}
	clientsGauge.WithLabelValues(string(c.role)).Inc()
	s.log.Infow("client registered", "id", c.id, "application", c.app, "role", c.role)

	go s.writePump(c)
	s.readLoop(c)
}

// awaitRegistration reads until the register frame arrives, acks it, and
// returns the new client. Pings are tolerated before registration.
func (s *Server) awaitRegistration(conn *websocket.Conn) (*client, error) {
	deadline := time.Now().Add(registerTimeout)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("await register: %w", err)
		}
		var head frameHead
		if err := json.Unmarshal(raw, &head); err != nil {
			return nil, fmt.Errorf("parse register: %w", err)
		}
		switch head.Type {
		case transport.FramePing:
			_ = conn.WriteJSON(map[string]string{"type": transport.FramePong})
			continue
		case transport.FrameRegister:
			if head.Application == "" {
				_ = conn.WriteJSON(map[string]string{
					"type":    transport.FrameRegisterAck,
					"status":  "error",
					"message": "register requires an application",
				})
				return nil, fmt.Errorf("register without application")
			}
			role := RoleController
			if head.Role == string(RoleExecutor) {
				role = RoleExecutor
			}
			if err := conn.WriteJSON(map[string]string{
				"type":   transport.FrameRegisterAck,
				"status": "ok",
			}); err != nil {
				return nil, fmt.Errorf("write register_ack: %w", err)
			}
			_ = conn.SetReadDeadline(time.Time{})
			return &client{
				id:       uuid.NewString(),
				app:      head.Application,
				role:     role,
				conn:     conn,
				send:     make(chan []byte, sendBuffer),
				done:     make(chan struct{}),
				lastPong: time.Now(),
			}, nil
		default:
			return nil, fmt.Errorf("frame %q before register", head.Type)
		}
	}
}

// readLoop classifies inbound frames: control, reply (correlationId+status),
// or command (correlationId only), and forwards the raw bytes.
func (s *Server) readLoop(c *client) {
	defer s.unregister(c, "connection closed")
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var head frameHead
		if err := json.Unmarshal(raw, &head); err != nil {
			framesDropped.WithLabelValues("parse_error").Inc()
			s.log.Warnw("unparseable frame dropped", "client", c.id, "err", err)
			continue
		}

		switch {
		case head.Type == transport.FramePing:
			c.enqueue(mustMarshal(map[string]string{"type": transport.FramePong}))
		case head.Type == transport.FramePong:
			c.touchPong()
		case head.Type != "":
			s.log.Debugw("ignoring control frame", "type", head.Type, "client", c.id)
		case head.CorrelationID != "" && head.Status != "":
			s.forwardReply(c, head, raw)
		case head.CorrelationID != "":
			s.forwardCommand(c, head, raw)
		default:
			framesDropped.WithLabelValues("unroutable").Inc()
			s.log.Warnw("unroutable frame dropped", "client", c.id)
		}
	}
}

func (s *Server) forwardCommand(c *client, head frameHead, raw []byte) {
	app := head.Application
	if app == "" {
		app = c.app
	}
	exec, ok := s.reg.executorFor(app)
	if !ok {
		framesDropped.WithLabelValues("no_executor").Inc()
		s.sendErrorReply(c, head.CorrelationID, "NO_EXECUTOR",
			fmt.Sprintf("no executor registered for application %q", app))
		return
	}

	ttl := defaultRouteTTL
	if head.DeadlineMs > 0 {
		ttl = time.Duration(head.DeadlineMs)*time.Millisecond + routeSlack
	}
	s.reg.addRoute(head.CorrelationID, route{
		controller: c,
		executorID: exec.id,
		expires:    time.Now().Add(ttl),
	})

	if !exec.enqueue(raw) {
		_, _ = s.reg.takeRoute(head.CorrelationID)
		framesDropped.WithLabelValues("slow_executor").Inc()
		s.sendErrorReply(c, head.CorrelationID, "EXECUTOR_BUSY",
			fmt.Sprintf("executor for %q cannot keep up", app))
		return
	}
	framesForwarded.WithLabelValues("command").Inc()
}

func (s *Server) forwardReply(c *client, head frameHead, raw []byte) {
	rt, ok := s.reg.takeRoute(head.CorrelationID)
	if !ok {
		framesDropped.WithLabelValues("unknown_correlation").Inc()
		s.log.Warnw("reply with unknown correlationId dropped",
			"correlationId", head.CorrelationID, "from", c.id)
		return
	}
	if rt.controller.enqueue(raw) {
		framesForwarded.WithLabelValues("reply").Inc()
	} else {
		framesDropped.WithLabelValues("slow_controller").Inc()
	}
}

// sendErrorReply synthesizes an error reply from the proxy itself.
func (s *Server) sendErrorReply(c *client, correlationID, kind, message string) {
	c.enqueue(mustMarshal(map[string]any{
		"correlationId": correlationID,
		"status":        "error",
		"errorKind":     kind,
		"message":       message,
	}))
}

// writePump is the client's single writer: queued frames, liveness pings,
// and the silence check.
func (s *Server) writePump(c *client) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				s.unregister(c, "write failed")
				return
			}
		case <-ticker.C:
			if silence := c.pongSilence(); silence > 2*s.opts.PingInterval {
				s.log.Warnw("client silent, dropping",
					"client", c.id, "application", c.app, "silence", silence.Round(time.Millisecond))
				s.unregister(c, "missed pongs")
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.TextMessage,
				mustMarshal(map[string]string{"type": transport.FramePing})); err != nil {
				s.unregister(c, "ping write failed")
				return
			}
		}
	}
}

// unregister tears a client down exactly once. Commands still awaiting a
// dead executor resolve with a synthesized EXECUTOR_DISCONNECTED reply so
// controllers fail fast instead of waiting out their deadlines.
func (s *Server) unregister(c *client, reason string) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		orphaned, ids := s.reg.remove(c)
		clientsGauge.WithLabelValues(string(c.role)).Dec()
		for i, rt := range orphaned {
			framesDropped.WithLabelValues("executor_disconnected").Inc()
			s.sendErrorReply(rt.controller, ids[i], "EXECUTOR_DISCONNECTED",
				fmt.Sprintf("executor for %q disconnected", c.app))
		}
		s.log.Infow("client unregistered",
			"id", c.id, "application", c.app, "role", c.role, "reason", reason)
	})
}

func (s *Server) janitor() {
	defer s.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.reg.expireRoutes(time.Now()); n > 0 {
				s.log.Debugw("expired stale routes", "count", n)
			}
		}
	}
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
