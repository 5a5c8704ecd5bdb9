package proxy

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Role separates the two kinds of websocket clients: controllers
// (orchestrators) issue commands, executors (application plugins) run them.
type Role string

const (
	RoleController Role = "controller"
	RoleExecutor   Role = "executor"
)

// client is one registered websocket connection.
type client struct {
	id   string
	app  string
	role Role
	conn *websocket.Conn

	send chan []byte
	done chan struct{}
	once sync.Once

	mu       sync.Mutex
	lastPong time.Time
}

// enqueue hands a frame to the client's writer without ever blocking a
// reader. A full buffer means a slow consumer; the frame is dropped and
// counted.
func (c *client) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) touchPong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

func (c *client) pongSilence() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastPong)
}

// route remembers which controller owns a correlationId and which executor
// is expected to reply.
type route struct {
	controller *client
	executorID string
	expires    time.Time
}

// registry is the proxy's mutable state: connected clients and in-flight
// correlation ownership.
type registry struct {
	mu          sync.RWMutex
	executors   map[string]*client // application → executor
	controllers map[string]*client // client id → controller
	routes      map[string]route   // correlationId → owner
}

func newRegistry() *registry {
	return &registry{
		executors:   make(map[string]*client),
		controllers: make(map[string]*client),
		routes:      make(map[string]route),
	}
}

// addExecutor registers the executor for an application, displacing a
// previous instance (plugin restarts reconnect with the same application).
func (r *registry) addExecutor(c *client) (displaced *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	displaced = r.executors[c.app]
	r.executors[c.app] = c
	return displaced
}

func (r *registry) addController(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controllers[c.id] = c
}

// remove drops the client and returns any routes that can no longer be
// served: for a dead executor those are the commands awaiting its replies.
func (r *registry) remove(c *client) (orphaned []route, orphanedIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch c.role {
	case RoleExecutor:
		if r.executors[c.app] == c {
			delete(r.executors, c.app)
		}
		for id, rt := range r.routes {
			if rt.executorID == c.id {
				orphaned = append(orphaned, rt)
				orphanedIDs = append(orphanedIDs, id)
				delete(r.routes, id)
			}
		}
	case RoleController:
		delete(r.controllers, c.id)
		for id, rt := range r.routes {
			if rt.controller == c {
				delete(r.routes, id)
			}
		}
	}
	return orphaned, orphanedIDs
}

func (r *registry) executorFor(app string) (*client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.executors[app]
	return c, ok
}

func (r *registry) addRoute(correlationID string, rt route) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[correlationID] = rt
}

func (r *registry) takeRoute(correlationID string) (route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.routes[correlationID]
	if ok {
		delete(r.routes, correlationID)
	}
	return rt, ok
}

// expireRoutes clears routes whose command deadline passed long ago; their
// late replies will be dropped as unknown.
func (r *registry) expireRoutes(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, rt := range r.routes {
		if !rt.expires.IsZero() && now.After(rt.expires) {
			delete(r.routes, id)
			n++
		}
	}
	return n
}

func (r *registry) counts() (executors, controllers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors), len(r.controllers)
}

func (r *registry) all() []*client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*client, 0, len(r.executors)+len(r.controllers))
	for _, c := range r.executors {
		out = append(out, c)
	}
	for _, c := range r.controllers {
		out = append(out, c)
	}
	return out
}
