// Package notify sends import completion e-mails through Resend.
package notify

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/resend/resend-go/v2"

	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/repository"
	"github.com/FACorreiaa/skyparts-market/internal/domain/ingestion/service"
)

// Sender is the part of the Resend e-mail API used here
type Sender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailNotifier tells session owners their import finished
type EmailNotifier struct {
	sender    Sender
	fromEmail string
	baseURL   string
	logger    *slog.Logger
}

// NewEmailNotifier builds a notifier from a Resend API key. With an empty key
// every notification is logged and skipped.
func NewEmailNotifier(apiKey, fromEmail, baseURL string, logger *slog.Logger) *EmailNotifier {
	var sender Sender
	if apiKey != "" {
		sender = resend.NewClient(apiKey).Emails
	}
	return NewEmailNotifierWithSender(sender, fromEmail, baseURL, logger)
}

// NewEmailNotifierWithSender uses an existing sender
func NewEmailNotifierWithSender(sender Sender, fromEmail, baseURL string, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if fromEmail == "" {
		fromEmail = "SkyParts <noreply@skyparts.market>"
	}
	return &EmailNotifier{sender: sender, fromEmail: fromEmail, baseURL: baseURL, logger: logger}
}

// ImportFinished implements service.Notifier
func (n *EmailNotifier) ImportFinished(ctx context.Context, recipient string, summary *service.ImportSummary) error {
	if n.sender == nil {
		n.logger.Warn("resend client not configured, skipping import email")
		return nil
	}
	if recipient == "" || summary == nil || summary.Session == nil {
		n.logger.Debug("no recipient for import email")
		return nil
	}

	_, err := n.sender.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    n.fromEmail,
		To:      []string{recipient},
		Subject: subject(summary),
		Html:    n.body(summary),
	})
	if err != nil {
		return fmt.Errorf("failed to send import email: %w", err)
	}

	n.logger.Info("import email sent",
		slog.String("session_id", summary.Session.ID.String()),
		slog.Int("imported", summary.Imported),
	)
	return nil
}

func subject(summary *service.ImportSummary) string {
	if summary.Session.Status == repository.SessionFailed {
		return "Your inventory import failed"
	}
	return fmt.Sprintf("%d listings imported from %s", summary.Imported, summary.Session.OriginalFilename)
}

func (n *EmailNotifier) body(summary *service.ImportSummary) string {
	link := ""
	if n.baseURL != "" {
		link = fmt.Sprintf(`<p class="text"><a href="%s/imports/%s">Review the session</a></p>`,
			html.EscapeString(n.baseURL), summary.Session.ID)
	}

	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
  <style>
    body { background-color: #f5f6f8; font-family: sans-serif; margin: 0; padding: 40px 0; }
    .container { background-color: #ffffff; border-radius: 12px; padding: 40px; max-width: 480px; margin: 0 auto; }
    h1 { color: #0b1f33; font-size: 24px; text-align: center; margin: 0 0 20px; }
    .text { color: #4b5563; font-size: 16px; line-height: 24px; text-align: center; }
    td { padding: 6px 12px; color: #0b1f33; }
  </style>
</head>
<body>
  <div class="container">
    <h1>Import %s</h1>
    <p class="text">%s</p>
    <table align="center">
      <tr><td>Imported</td><td>%d</td></tr>
      <tr><td>Failed</td><td>%d</td></tr>
      <tr><td>Skipped</td><td>%d</td></tr>
    </table>
    %s
  </div>
</body>
</html>
`,
		html.EscapeString(string(summary.Session.Status)),
		html.EscapeString(summary.Session.OriginalFilename),
		summary.Imported, summary.Failed, summary.Skipped,
		link,
	)
}
