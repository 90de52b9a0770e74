package mail

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/xraph/herald/job"
)

// VerificationData is the data of a verification job.
type VerificationData struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// PasswordResetData is the data of a password_reset job.
type PasswordResetData struct {
	Name  string `json:"name"`
	Token string `json:"token"`
}

// WelcomeData is the data of a welcome job.
type WelcomeData struct {
	Name string `json:"name"`
}

// EnrollmentData is the data of an enrollment job.
type EnrollmentData struct {
	Name       string `json:"name"`
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
}

// CompletionData is the data of a completion job.
type CompletionData struct {
	Name       string `json:"name"`
	CourseID   string `json:"courseId"`
	CourseName string `json:"courseName"`
}

// view is what templates render: the job data plus a resolved link.
type view struct {
	Name       string
	CourseName string
	Link       string
}

// Handlers renders and sends the email for each job type.
type Handlers struct {
	mailer      Mailer
	frontendURL string
}

// NewHandlers creates job handlers that build links against frontendURL.
func NewHandlers(m Mailer, frontendURL string) *Handlers {
	return &Handlers{mailer: m, frontendURL: strings.TrimRight(frontendURL, "/")}
}

func (h *Handlers) link(path string, query url.Values) string {
	u := h.frontendURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

func (h *Handlers) send(ctx context.Context, t *template, to string, v view) error {
	if to == "" {
		return fmt.Errorf("herald/mail: %s: empty recipient", t.text.Name())
	}
	msg, err := t.render(to, v)
	if err != nil {
		return err
	}
	return h.mailer.Send(ctx, msg)
}

// Verification sends the email verification link.
func (h *Handlers) Verification(ctx context.Context, email string, d VerificationData) error {
	return h.send(ctx, verificationTemplate, email, view{
		Name: displayName(d.Name, email),
		Link: h.link("/verify-email", url.Values{"token": {d.Token}}),
	})
}

// PasswordReset sends the password reset link.
func (h *Handlers) PasswordReset(ctx context.Context, email string, d PasswordResetData) error {
	return h.send(ctx, passwordResetTemplate, email, view{
		Name: displayName(d.Name, email),
		Link: h.link("/reset-password", url.Values{"token": {d.Token}}),
	})
}

// Welcome sends the welcome email.
func (h *Handlers) Welcome(ctx context.Context, email string, d WelcomeData) error {
	return h.send(ctx, welcomeTemplate, email, view{
		Name: displayName(d.Name, email),
		Link: h.link("/courses", nil),
	})
}

// Enrollment sends the enrollment confirmation.
func (h *Handlers) Enrollment(ctx context.Context, email string, d EnrollmentData) error {
	return h.send(ctx, enrollmentTemplate, email, view{
		Name:       displayName(d.Name, email),
		CourseName: d.CourseName,
		Link:       h.link("/courses/"+url.PathEscape(d.CourseID), nil),
	})
}

// Completion sends the course completion email.
func (h *Handlers) Completion(ctx context.Context, email string, d CompletionData) error {
	return h.send(ctx, completionTemplate, email, view{
		Name:       displayName(d.Name, email),
		CourseName: d.CourseName,
		Link:       h.link("/courses/"+url.PathEscape(d.CourseID), nil),
	})
}

// Register registers a handler for every job type. Account emails run at
// high priority; welcome mail runs at low priority.
func Register(r *job.Registry, m Mailer, frontendURL string) *Handlers {
	h := NewHandlers(m, frontendURL)
	job.RegisterDefinition(r, job.NewDefinition(job.TypeVerification, h.Verification, job.WithPriority(job.PriorityHigh)))
	job.RegisterDefinition(r, job.NewDefinition(job.TypePasswordReset, h.PasswordReset, job.WithPriority(job.PriorityHigh)))
	job.RegisterDefinition(r, job.NewDefinition(job.TypeWelcome, h.Welcome, job.WithPriority(job.PriorityLow)))
	job.RegisterDefinition(r, job.NewDefinition(job.TypeEnrollment, h.Enrollment))
	job.RegisterDefinition(r, job.NewDefinition(job.TypeCompletion, h.Completion))
	return h
}

func displayName(name, email string) string {
	if name != "" {
		return name
	}
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return "there"
}
