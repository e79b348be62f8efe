package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"tern/internal/errs"
	"tern/internal/models"
)

// Message is one outbound email.
type Message struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message through a relay credential. The credential's
// secrets must already be decrypted (Pool.Select does this).
type Sender interface {
	Send(ctx context.Context, cred *models.RelayCredential, msg Message) error
}

// SMTPSender delivers mail over SMTP with PLAIN auth. The relay client's
// own connect/send timeouts bound a stuck connection.
type SMTPSender struct{}

func (SMTPSender) Send(ctx context.Context, cred *models.RelayCredential, msg Message) error {
	auth := sasl.NewPlainClient("", cred.Username, cred.Password)

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", msg.From)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)

	addr := fmt.Sprintf("%s:%d", cred.Host, cred.Port)
	if err := smtp.SendMail(addr, auth, msg.From, []string{msg.To}, strings.NewReader(b.String())); err != nil {
		return errs.Delivery(err)
	}
	return nil
}
