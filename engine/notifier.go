package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/xraph/herald/event"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/mail"
)

// Enqueuer is the queue surface the notifier needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, t job.Type, email string, data any, opts ...job.Option) (*job.Job, error)
}

// Invalidator drops cached reads. *cache.Cache satisfies it.
type Invalidator interface {
	InvalidateCourses(ctx context.Context) (int64, error)
	InvalidateUser(ctx context.Context, userID string) (int64, error)
}

// Notifier turns domain actions into cache invalidations, bus events and
// queued mail. Event publishing and cache invalidation never fail the
// call; only enqueue errors are returned, since a lost email is not
// recoverable later.
type Notifier struct {
	jobs   Enqueuer
	bus    *event.Bus
	cache  Invalidator
	logger *slog.Logger
}

// NewNotifier creates a notifier. cache may be nil.
func NewNotifier(jobs Enqueuer, bus *event.Bus, cache Invalidator, logger *slog.Logger) *Notifier {
	return &Notifier{jobs: jobs, bus: bus, cache: cache, logger: logger}
}

// User identifies the recipient of account mail.
type User struct {
	ID    string
	Email string
	Name  string
}

// Enrollment describes a user enrolling in, or completing, a course.
type Enrollment struct {
	UserID     string
	Email      string
	Name       string
	CourseID   string
	CourseName string
}

// UserRegistered queues the verification mail and the welcome mail.
func (n *Notifier) UserRegistered(ctx context.Context, u User, verifyToken string) error {
	_, verr := n.jobs.Enqueue(ctx, job.TypeVerification, u.Email, mail.VerificationData{
		Name:  u.Name,
		Token: verifyToken,
	})
	_, werr := n.jobs.Enqueue(ctx, job.TypeWelcome, u.Email, mail.WelcomeData{Name: u.Name})
	return errors.Join(verr, werr)
}

// PasswordResetRequested queues the password reset mail.
func (n *Notifier) PasswordResetRequested(ctx context.Context, u User, resetToken string) error {
	_, err := n.jobs.Enqueue(ctx, job.TypePasswordReset, u.Email, mail.PasswordResetData{
		Name:  u.Name,
		Token: resetToken,
	})
	return err
}

// Enrolled invalidates course listings and the user's cached reads,
// announces the enrollment and queues the confirmation mail.
func (n *Notifier) Enrolled(ctx context.Context, e Enrollment) error {
	n.invalidateCourses(ctx)
	n.invalidateUser(ctx, e.UserID)
	n.bus.PublishEnrollment(ctx, e.UserID, e.CourseID, e.CourseName)

	if e.Email == "" {
		return nil
	}
	_, err := n.jobs.Enqueue(ctx, job.TypeEnrollment, e.Email, mail.EnrollmentData{
		Name:       e.Name,
		CourseID:   e.CourseID,
		CourseName: e.CourseName,
	})
	return err
}

// ProgressUpdated invalidates the user's cached reads and announces the
// new progress. It reports whether the event was published.
func (n *Notifier) ProgressUpdated(ctx context.Context, p event.ProgressEvent) bool {
	n.invalidateUser(ctx, p.UserID)
	return n.bus.PublishProgress(ctx, p)
}

// ModuleCompleted invalidates the user's cached reads and announces the
// completed module.
func (n *Notifier) ModuleCompleted(ctx context.Context, userID, courseID, moduleID, moduleName string) bool {
	n.invalidateUser(ctx, userID)
	return n.bus.PublishModuleCompletion(ctx, userID, courseID, moduleID, moduleName)
}

// CourseCompleted notifies the user directly and queues the completion
// mail.
func (n *Notifier) CourseCompleted(ctx context.Context, e Enrollment) error {
	n.invalidateUser(ctx, e.UserID)
	n.bus.NotifyUser(ctx, e.UserID, event.Notification{
		Type:    "course_completed",
		Title:   "Course completed",
		Message: "You completed " + e.CourseName,
		Data:    courseData(e.CourseID),
	})

	if e.Email == "" {
		return nil
	}
	_, err := n.jobs.Enqueue(ctx, job.TypeCompletion, e.Email, mail.CompletionData{
		Name:       e.Name,
		CourseID:   e.CourseID,
		CourseName: e.CourseName,
	})
	return err
}

// Notify sends a direct notification to every live connection of userID.
func (n *Notifier) Notify(ctx context.Context, userID string, note event.Notification) bool {
	return n.bus.NotifyUser(ctx, userID, note)
}

func (n *Notifier) invalidateCourses(ctx context.Context) {
	if n.cache == nil {
		return
	}
	if _, err := n.cache.InvalidateCourses(ctx); err != nil {
		n.logger.Warn("course cache invalidation failed", slog.String("error", err.Error()))
	}
}

func (n *Notifier) invalidateUser(ctx context.Context, userID string) {
	if n.cache == nil || userID == "" {
		return
	}
	if _, err := n.cache.InvalidateUser(ctx, userID); err != nil {
		n.logger.Warn("user cache invalidation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
}

func courseData(courseID string) json.RawMessage {
	raw, _ := json.Marshal(struct {
		CourseID string `json:"courseId"`
	}{courseID})
	return raw
}
