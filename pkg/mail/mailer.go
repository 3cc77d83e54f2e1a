// Package mail sends transactional storefront email through SendGrid.
package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Mailer sends transactional mail. Implemented by SendGridMailer and
// faked in tests.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// SendGridMailer sends mail through the SendGrid v3 API.
type SendGridMailer struct {
	apiKey   string
	fromName string
	fromAddr string
}

// NewSendGridMailer builds a mailer. fromName defaults to "Boutique".
func NewSendGridMailer(apiKey, fromName, fromAddr string) (*SendGridMailer, error) {
	if apiKey == "" {
		return nil, errors.New("sendgrid api key required")
	}
	if fromAddr == "" {
		return nil, errors.New("mail from address required")
	}
	if fromName == "" {
		fromName = "Boutique"
	}
	return &SendGridMailer{apiKey: apiKey, fromName: fromName, fromAddr: fromAddr}, nil
}

// Send delivers one message. Non-2xx API responses are errors.
func (m *SendGridMailer) Send(ctx context.Context, to, subject, text, html string) error {
	if to == "" {
		return errors.New("recipient address required")
	}
	if html == "" {
		html = fmt.Sprintf("<pre>%s</pre>", text)
	}
	message := sgmail.NewSingleEmail(
		sgmail.NewEmail(m.fromName, m.fromAddr),
		subject,
		sgmail.NewEmail("", to),
		text,
		html,
	)
	client := sendgrid.NewSendClient(m.apiKey)
	resp, err := client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sendgrid send failed: status=%d body=%s", resp.StatusCode, resp.Body)
	}
	slog.Info("mail sent", "to", to, "subject", subject, "status", resp.StatusCode)
	return nil
}

// Welcome sends the account-created mail with the initial password set
// by the sign-up flow.
func Welcome(ctx context.Context, m Mailer, to, username, password string) error {
	text := fmt.Sprintf(
		"Bonjour %s,\n\nVotre compte est créé. Votre mot de passe provisoire : %s\n"+
			"Pensez à le changer depuis votre espace client.\n\nL'équipe Boutique",
		username, password)
	return m.Send(ctx, to, "Bienvenue sur Boutique", text, "")
}

// OrderConfirmation sends the payment confirmation mail.
func OrderConfirmation(ctx context.Context, m Mailer, to, sessionID string, amount float64, currency string) error {
	text := fmt.Sprintf(
		"Merci pour votre commande !\n\nRéférence : %s\nMontant : %.2f %s\n\nL'équipe Boutique",
		sessionID, amount, currency)
	return m.Send(ctx, to, "Confirmation de commande", text, "")
}
