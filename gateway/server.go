// Package gateway is the realtime WebSocket gateway. Every connection is
// authenticated during the HTTP handshake, registered under its user id and
// joined to that user's private room. Client events move connections in
// and out of course rooms; course events from the event bus are translated
// into room emits.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/time/rate"

	"github.com/xraph/herald"
	"github.com/xraph/herald/auth"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/stream"
)

// Server is the WebSocket gateway. It implements http.Handler.
type Server struct {
	broker       *stream.Broker
	bus          *event.Bus
	auth         Authenticator
	defaultCodec Codec
	conns        *ConnectionManager
	logger       *slog.Logger
	eventRate    rate.Limit
	eventBurst   int
	writeTimeout time.Duration

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup

	// userMu serializes per-user channel bridging against connects and
	// disconnects of the same user.
	userMu sync.Mutex
}

var _ http.Handler = (*Server)(nil)

// NewServer creates a gateway. bus may be nil, in which case no event bus
// traffic reaches connections.
func NewServer(broker *stream.Broker, bus *event.Bus, authenticator Authenticator, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		bus:          bus,
		auth:         authenticator,
		defaultCodec: &JSONCodec{},
		conns:        NewConnectionManager(),
		logger:       slog.Default(),
		eventRate:    20,
		eventBurst:   40,
		writeTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Broker returns the underlying room broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// ServeHTTP authenticates the handshake and upgrades the connection.
// Requests without a valid credential get 401 and are never upgraded.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.isStopped() {
		http.Error(w, herald.ErrGatewayStopped.Error(), http.StatusServiceUnavailable)
		return
	}

	identity, err := s.auth.Authenticate(r.Context(), handshakeToken(r))
	if err != nil {
		s.logger.Warn("gateway handshake rejected",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	codec := s.defaultCodec
	if format := r.URL.Query().Get("format"); format != "" {
		codec = GetCodec(format)
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("gateway upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	var limiter *rate.Limiter
	if s.eventRate > 0 {
		limiter = rate.NewLimiter(s.eventRate, s.eventBurst)
	}
	s.serve(r.Context(), newConnection(id.NewConnectionID().String(), identity, codec, limiter, conn))
}

// serve runs one connection until the client goes away or the gateway
// stops.
func (s *Server) serve(ctx context.Context, c *Connection) {
	uid := c.Identity.UserID
	sub := s.broker.Subscribe(c.ID, stream.UserRoom(uid))
	s.register(ctx, c)
	defer func() {
		s.broker.RemoveSubscriber(c.ID)
		s.unregister(c)
		_ = c.conn.Close()
		s.logger.Info("gateway disconnected",
			slog.String("conn_id", c.ID),
			slog.String("user_id", uid),
		)
	}()
	if s.isStopped() {
		return
	}

	s.broker.EmitTo(c.ID, stream.NewEvent(stream.EventConnected, stream.ConnectedData{
		Message: "Connected to real-time server",
		UserID:  uid,
	}))
	go s.forwardEvents(c, sub)

	s.logger.Info("gateway connected",
		slog.String("conn_id", c.ID),
		slog.String("user_id", uid),
		slog.String("codec", c.Codec.Name()),
	)

	for {
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return
		}
		if op != ws.OpText && op != ws.OpBinary {
			continue
		}
		c.Touch()
		s.handleFrame(c, data)
	}
}

// forwardEvents writes everything the connection's subscriber receives.
// It is the only writer on the socket.
func (s *Server) forwardEvents(c *Connection, sub *stream.Subscriber) {
	for evt := range sub.C() {
		data, err := c.Codec.Encode(evt)
		if err != nil {
			s.logger.Warn("gateway encode failed",
				slog.String("conn_id", c.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if s.writeTimeout > 0 {
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
		}
		if err := wsutil.WriteServerMessage(c.conn, c.Codec.OpCode(), data); err != nil {
			// Closing unblocks the read loop, which cleans up.
			_ = c.conn.Close()
			return
		}
	}
}

func (s *Server) register(ctx context.Context, c *Connection) {
	s.userMu.Lock()
	defer s.userMu.Unlock()

	if !s.conns.Add(c) || s.bus == nil {
		return
	}
	uid := c.Identity.UserID
	event.On(ctx, s.bus, event.UserChannel(uid), func(_ context.Context, _ time.Time, n event.Notification) error {
		s.broker.EmitToUser(uid, stream.NewEvent(stream.EventNotification, n))
		return nil
	})
}

func (s *Server) unregister(c *Connection) {
	s.userMu.Lock()
	defer s.userMu.Unlock()

	if !s.conns.Remove(c.ID) || s.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.bus.Unsubscribe(ctx, event.UserChannel(c.Identity.UserID))
}

// Stop rejects new handshakes, closes every connection and waits for their
// handlers to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	for _, c := range s.conns.All() {
		_ = c.conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.broker.Close()
	s.logger.Info("gateway stopped")
	return nil
}

func (s *Server) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// ── Emit primitives ─────────────────────────────────

// EmitToUser sends an event to every connection of userID.
func (s *Server) EmitToUser(userID string, name stream.Name, data any) int {
	return s.broker.EmitToUser(userID, stream.NewEvent(name, data))
}

// EmitToRoom sends an event to every member of room.
func (s *Server) EmitToRoom(room string, name stream.Name, data any) int {
	return s.broker.EmitToRoom(room, stream.NewEvent(name, data), "")
}

// EmitToAll broadcasts an event to every connection.
func (s *Server) EmitToAll(name stream.Name, data any) int {
	return s.broker.EmitToAll(stream.NewEvent(name, data))
}

// ── Registry reads ──────────────────────────────────

// IsUserOnline reports whether userID has a live connection. Use it for
// reporting only; delivery never depends on it.
func (s *Server) IsUserOnline(userID string) bool {
	return s.conns.IsUserOnline(userID)
}

// OnlineUsersCount returns the number of distinct connected users.
func (s *Server) OnlineUsersCount() int {
	return s.conns.OnlineUsers()
}

// Connections returns a snapshot of every live connection.
func (s *Server) Connections() []ConnectionInfo {
	all := s.conns.All()
	out := make([]ConnectionInfo, 0, len(all))
	for _, c := range all {
		out = append(out, ConnectionInfo{
			ID:           c.ID,
			UserID:       c.Identity.UserID,
			Format:       c.Codec.Name(),
			ConnectedAt:  c.ConnectedAt,
			LastActivity: c.LastActivity(),
		})
	}
	return out
}

// handshakeToken takes the credential from the Authorization header or,
// for browsers that cannot set headers on a WebSocket, the "token" query
// parameter.
func handshakeToken(r *http.Request) string {
	if token, ok := auth.BearerToken(r.Header.Get("Authorization")); ok {
		return token
	}
	return r.URL.Query().Get("token")
}
