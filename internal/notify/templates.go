package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"text/template"

	"salonbook/internal/calendar"
	"salonbook/internal/domain"
	"salonbook/internal/models"
)

type emailTemplate struct {
	subject string
	text    *template.Template
	html    *htmltemplate.Template
}

var emailTemplates = map[string]emailTemplate{
	models.NotificationConfirmation: {
		subject: "Appointment Confirmation",
		text: template.Must(template.New("confirmation").Parse(`Hello {{.ClientName}},

Your appointment for {{.ServiceName}} has been confirmed for {{.When}} with {{.StylistName}}.

Thank you for booking with us!

- Your Salon Team`)),
		html: htmltemplate.Must(htmltemplate.New("confirmation").Parse(`<p>Hello {{.ClientName}},</p>
<p>Your appointment for <strong>{{.ServiceName}}</strong> has been confirmed for <strong>{{.When}}</strong> with <strong>{{.StylistName}}</strong>.</p>
<p>Thank you for booking with us!</p>
<p>- Your Salon Team</p>`)),
	},
	models.NotificationCancellation: {
		subject: "Appointment Cancellation",
		text: template.Must(template.New("cancellation").Parse(`Hello {{.ClientName}},

Your appointment for {{.ServiceName}} on {{.When}} with {{.StylistName}} has been cancelled.

We hope to see you again soon.

- Your Salon Team`)),
		html: htmltemplate.Must(htmltemplate.New("cancellation").Parse(`<p>Hello {{.ClientName}},</p>
<p>Your appointment for <strong>{{.ServiceName}}</strong> on <strong>{{.When}}</strong> with <strong>{{.StylistName}}</strong> has been cancelled.</p>
<p>We hope to see you again soon.</p>
<p>- Your Salon Team</p>`)),
	},
	models.NotificationReminder: {
		subject: "Appointment Reminder",
		text: template.Must(template.New("reminder").Parse(`Hello {{.ClientName}},

This is a reminder for your {{.ServiceName}} appointment on {{.When}}{{if .StylistName}} with {{.StylistName}}{{end}}.

We look forward to seeing you!

- Your Salon Team`)),
		html: htmltemplate.Must(htmltemplate.New("reminder").Parse(`<p>Hello {{.ClientName}},</p>
<p>This is a reminder for your <strong>{{.ServiceName}}</strong> appointment on <strong>{{.When}}</strong>{{if .StylistName}} with <strong>{{.StylistName}}</strong>{{end}}.</p>
<p>We look forward to seeing you!</p>
<p>- Your Salon Team</p>`)),
	},
}

type templateData struct {
	ClientName  string
	ServiceName string
	StylistName string
	When        string
}

// RenderEmail builds the client email for a notification kind. Dates are
// formatted in the salon timezone.
func RenderEmail(kind string, p *models.NotificationPayload, resolver *calendar.Resolver) (EmailMessage, error) {
	tpl, ok := emailTemplates[kind]
	if !ok {
		return EmailMessage{}, domain.Validationf("unknown notification kind %q", kind)
	}
	if p.ClientEmail == "" {
		return EmailMessage{}, domain.Validationf("client %s has no email", p.ClientID)
	}
	if p.ClientName == "" || p.ServiceName == "" {
		return EmailMessage{}, domain.Validationf("notification payload for %s is incomplete", p.AppointmentID)
	}

	data := templateData{
		ClientName:  p.ClientName,
		ServiceName: p.ServiceName,
		StylistName: p.StylistName,
		When:        resolver.Format(p.Start),
	}

	var text, html bytes.Buffer
	if err := tpl.text.Execute(&text, data); err != nil {
		return EmailMessage{}, fmt.Errorf("render %s text: %w", kind, err)
	}
	if err := tpl.html.Execute(&html, data); err != nil {
		return EmailMessage{}, fmt.Errorf("render %s html: %w", kind, err)
	}

	return EmailMessage{
		To:      p.ClientEmail,
		ToName:  p.ClientName,
		Subject: tpl.subject,
		Body:    text.String(),
		HTML:    html.String(),
	}, nil
}
