package event

import (
	"context"
	"fmt"
	"time"
)

// PublishEnrollment announces that userID enrolled in a course.
func (b *Bus) PublishEnrollment(ctx context.Context, userID, courseID, courseName string) bool {
	return b.Publish(ctx, ChannelEnrollment, EnrollmentEvent{
		UserID:     userID,
		CourseID:   courseID,
		CourseName: courseName,
		Event:      EnrollmentEnrolled,
	})
}

// PublishProgress announces a progress change.
func (b *Bus) PublishProgress(ctx context.Context, e ProgressEvent) bool {
	return b.Publish(ctx, ChannelProgress, e)
}

// PublishModuleCompletion announces that userID completed a module.
func (b *Bus) PublishModuleCompletion(ctx context.Context, userID, courseID, moduleID, moduleName string) bool {
	return b.Publish(ctx, ChannelModuleCompletion, ModuleCompletionEvent{
		UserID:     userID,
		CourseID:   courseID,
		ModuleID:   moduleID,
		ModuleName: moduleName,
	})
}

// NotifyUser publishes n on userID's private notification channel.
func (b *Bus) NotifyUser(ctx context.Context, userID string, n Notification) bool {
	return b.Publish(ctx, UserChannel(userID), n)
}

// On subscribes a typed handler: each envelope's data is decoded into T
// before fn runs. Decode failures are reported like handler errors.
func On[T any](ctx context.Context, b *Bus, channel Channel, fn func(ctx context.Context, at time.Time, payload T) error) bool {
	return b.Subscribe(ctx, channel, func(ctx context.Context, env *Envelope) error {
		var payload T
		if err := env.Decode(&payload); err != nil {
			return fmt.Errorf("decode %s payload: %w", channel, err)
		}
		return fn(ctx, env.Timestamp, payload)
	})
}
