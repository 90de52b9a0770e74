package mail

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// template pairs a subject with text and HTML bodies rendered from the
// same data.
type template struct {
	subject string
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

func newTemplate(name, subject, text, html string) *template {
	return &template{
		subject: subject,
		text:    texttemplate.Must(texttemplate.New(name).Parse(text)),
		html:    htmltemplate.Must(htmltemplate.New(name).Parse(html)),
	}
}

func (t *template) render(to string, data any) (Message, error) {
	var text, html bytes.Buffer
	if err := t.text.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("herald/mail: render %s text: %w", t.text.Name(), err)
	}
	if err := t.html.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("herald/mail: render %s html: %w", t.html.Name(), err)
	}
	return Message{To: to, Subject: t.subject, Text: text.String(), HTML: html.String()}, nil
}

const layoutOpen = `<!DOCTYPE html><html><body style="font-family:sans-serif;max-width:600px;margin:auto">`
const layoutClose = `</body></html>`

var (
	verificationTemplate = newTemplate("verification",
		"Verify your email address",
		`Hi {{.Name}},

Please confirm your email address by opening the link below:

{{.Link}}

If you did not create an account, you can ignore this email.
`,
		layoutOpen+`<h2>Hi {{.Name}},</h2>
<p>Please confirm your email address.</p>
<p><a href="{{.Link}}">Verify email</a></p>
<p>If you did not create an account, you can ignore this email.</p>`+layoutClose,
	)

	passwordResetTemplate = newTemplate("password_reset",
		"Reset your password",
		`Hi {{.Name}},

We received a request to reset your password. Open the link below to choose a new one:

{{.Link}}

If you did not request a reset, no action is needed.
`,
		layoutOpen+`<h2>Hi {{.Name}},</h2>
<p>We received a request to reset your password.</p>
<p><a href="{{.Link}}">Choose a new password</a></p>
<p>If you did not request a reset, no action is needed.</p>`+layoutClose,
	)

	welcomeTemplate = newTemplate("welcome",
		"Welcome aboard",
		`Hi {{.Name}},

Your account is ready. Browse the catalogue and start your first course:

{{.Link}}
`,
		layoutOpen+`<h2>Welcome, {{.Name}}!</h2>
<p>Your account is ready.</p>
<p><a href="{{.Link}}">Browse courses</a></p>`+layoutClose,
	)

	enrollmentTemplate = newTemplate("enrollment",
		"You are enrolled",
		`Hi {{.Name}},

You are now enrolled in {{.CourseName}}. Pick up where you left off at any time:

{{.Link}}
`,
		layoutOpen+`<h2>Hi {{.Name}},</h2>
<p>You are now enrolled in <strong>{{.CourseName}}</strong>.</p>
<p><a href="{{.Link}}">Go to course</a></p>`+layoutClose,
	)

	completionTemplate = newTemplate("completion",
		"Course completed",
		`Congratulations {{.Name}}!

You completed {{.CourseName}}. Review the course any time:

{{.Link}}
`,
		layoutOpen+`<h2>Congratulations, {{.Name}}!</h2>
<p>You completed <strong>{{.CourseName}}</strong>.</p>
<p><a href="{{.Link}}">Review course</a></p>`+layoutClose,
	)
)
