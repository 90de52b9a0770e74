package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/herald"
	"github.com/xraph/herald/event"
	"github.com/xraph/herald/stream"
)

// Start subscribes the gateway to the course channels of the event bus.
// It is idempotent. A failed subscription is logged and the gateway keeps
// serving without that channel.
//
// Channel to event mapping:
//
//	course:enrollment         enrollment:success to the user, user:enrolled to the course room
//	course:progress           progress:updated to the user
//	course:module_completion  module:completed to the user, user:module_completed to the course room
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return herald.ErrGatewayStopped
	}
	if s.started || s.bus == nil {
		s.started = true
		return nil
	}

	bridged := []struct {
		channel event.Channel
		ok      bool
	}{
		{event.ChannelEnrollment, event.On(ctx, s.bus, event.ChannelEnrollment, s.onEnrollment)},
		{event.ChannelProgress, event.On(ctx, s.bus, event.ChannelProgress, s.onProgress)},
		{event.ChannelModuleCompletion, event.On(ctx, s.bus, event.ChannelModuleCompletion, s.onModuleCompletion)},
	}
	for _, b := range bridged {
		if !b.ok {
			s.logger.Warn("gateway bridge unavailable", slog.String("channel", string(b.channel)))
		}
	}

	s.started = true
	s.logger.Info("gateway started")
	return nil
}

func (s *Server) onEnrollment(_ context.Context, _ time.Time, e event.EnrollmentEvent) error {
	s.broker.EmitToUser(e.UserID, stream.NewEvent(stream.EventEnrollmentSuccess, e))
	s.broker.EmitToRoom(stream.CourseRoom(e.CourseID), stream.NewEvent(stream.EventUserEnrolled, e), "")
	return nil
}

func (s *Server) onProgress(_ context.Context, _ time.Time, e event.ProgressEvent) error {
	s.broker.EmitToUser(e.UserID, stream.NewEvent(stream.EventProgressUpdated, e))
	return nil
}

func (s *Server) onModuleCompletion(_ context.Context, _ time.Time, e event.ModuleCompletionEvent) error {
	s.broker.EmitToUser(e.UserID, stream.NewEvent(stream.EventModuleCompleted, e))
	s.broker.EmitToRoom(stream.CourseRoom(e.CourseID), stream.NewEvent(stream.EventUserModuleCompleted, e), "")
	return nil
}
