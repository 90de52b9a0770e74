package gateway

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Option configures a Server.
type Option func(*Server)

// WithCodec sets the default codec. Clients can override it with the
// "format" query parameter.
func WithCodec(codec Codec) Option {
	return func(s *Server) { s.defaultCodec = codec }
}

// WithLogger sets the logger for the server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithEventRate limits how many client events each connection may send
// per second, with the given burst. A zero limit disables limiting.
func WithEventRate(limit float64, burst int) Option {
	return func(s *Server) {
		s.eventRate = rate.Limit(limit)
		s.eventBurst = burst
	}
}

// WithWriteTimeout bounds each frame write to a client.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}
