package poller

import (
	"bytes"
	"context"
	"fmt"
	"text/template"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"golang.org/x/time/rate"
)

const emailPlain = `
{{- if .LowStock -}}
The following are running low:
{{range .LowStock -}}
* {{.}}
{{end}}
{{end -}}
{{- if .NearExpiry -}}
The following expire soon:
{{range .NearExpiry -}}
* {{.}}
{{end}}
{{end -}}
Manage in the Web UI: {{.TodayLink}}
`

var emailPlainTemplate = template.Must(template.New("email").Parse(emailPlain))

// RenderPlain renders the plain-text body of a digest mail.
func RenderPlain(d *Digest) (string, error) {
	textContent := &bytes.Buffer{}
	if err := emailPlainTemplate.Execute(textContent, d); err != nil {
		return "", fmt.Errorf("while templating plain-text email content: %w", err)
	}
	return textContent.String(), nil
}

// mailSender is the part of *sendgrid.Client the notifier uses.
type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// SendgridNotifier mails digests through SendGrid, at most a configured
// number per second.
type SendgridNotifier struct {
	client  mailSender
	limiter *rate.Limiter
}

func NewSendgridNotifier(client *sendgrid.Client, perSecond float64) *SendgridNotifier {
	return newSendgridNotifier(client, perSecond)
}

func newSendgridNotifier(client mailSender, perSecond float64) *SendgridNotifier {
	return &SendgridNotifier{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(perSecond), 1),
	}
}

func (n *SendgridNotifier) Notify(ctx context.Context, d *Digest) error {
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("while waiting for send quota: %w", err)
	}

	message := mail.NewV3Mail()
	message.From = mail.NewEmail("MedTracker Bot", "bot@medtracker.dev")
	message.Subject = fmt.Sprintf("Medtracker Alert for %v", d.Date)

	personalization := mail.NewPersonalization()
	personalization.To = append(personalization.To, mail.NewEmail("", d.Email))
	message.Personalizations = append(message.Personalizations, personalization)

	text, err := RenderPlain(d)
	if err != nil {
		return err
	}
	message.Content = append(message.Content, mail.NewContent("text/plain", text))

	resp, err := n.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("while sending mail through SendGrid: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2XX response while sending mail through Sendgrid: %d %s", resp.StatusCode, resp.Body)
	}

	return nil
}
