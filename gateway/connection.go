package gateway

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Connection is one authenticated gateway session.
type Connection struct {
	// ID uniquely identifies this connection.
	ID string

	// Identity is the authenticated user.
	Identity *Identity

	// Codec is the negotiated wire format.
	Codec Codec

	// ConnectedAt records when the handshake completed.
	ConnectedAt time.Time

	lastActivity atomic.Int64 // unix nanos
	limiter      *rate.Limiter
	conn         net.Conn
}

func newConnection(id string, identity *Identity, codec Codec, limiter *rate.Limiter, conn net.Conn) *Connection {
	c := &Connection{
		ID:          id,
		Identity:    identity,
		Codec:       codec,
		ConnectedAt: time.Now().UTC(),
		limiter:     limiter,
		conn:        conn,
	}
	c.Touch()
	return c
}

// Touch updates the last activity timestamp.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns when the connection last sent a frame.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load()).UTC()
}

// allow reports whether the connection may send another client event.
func (c *Connection) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// ConnectionInfo is a read-only snapshot of a connection.
type ConnectionInfo struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Format       string    `json:"format"`
	ConnectedAt  time.Time `json:"connectedAt"`
	LastActivity time.Time `json:"lastActivity"`
}

// ConnectionManager tracks live connections and which user owns them.
type ConnectionManager struct {
	mu    sync.RWMutex
	conns map[string]*Connection
	users map[string]map[string]struct{} // userID → connIDs
}

// NewConnectionManager creates an empty connection manager.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		conns: make(map[string]*Connection),
		users: make(map[string]map[string]struct{}),
	}
}

// Add registers a connection. It reports whether this is the user's
// first live connection.
func (cm *ConnectionManager) Add(conn *Connection) (first bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.conns[conn.ID] = conn
	uid := conn.Identity.UserID
	set, ok := cm.users[uid]
	if !ok {
		set = make(map[string]struct{})
		cm.users[uid] = set
	}
	set[conn.ID] = struct{}{}
	return len(set) == 1
}

// Remove unregisters a connection. It reports whether the user has no
// live connections left.
func (cm *ConnectionManager) Remove(connID string) (last bool) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.conns[connID]
	if !ok {
		return false
	}
	delete(cm.conns, connID)

	uid := conn.Identity.UserID
	set := cm.users[uid]
	delete(set, connID)
	if len(set) == 0 {
		delete(cm.users, uid)
		return true
	}
	return false
}

// Get returns a connection by ID.
func (cm *ConnectionManager) Get(connID string) (*Connection, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	c, ok := cm.conns[connID]
	return c, ok
}

// Count returns the number of live connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.conns)
}

// IsUserOnline reports whether userID has at least one live connection.
func (cm *ConnectionManager) IsUserOnline(userID string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, ok := cm.users[userID]
	return ok
}

// OnlineUsers returns the number of distinct connected users.
func (cm *ConnectionManager) OnlineUsers() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.users)
}

// All returns a snapshot of all connections.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	out := make([]*Connection, 0, len(cm.conns))
	for _, c := range cm.conns {
		out = append(out, c)
	}
	return out
}
