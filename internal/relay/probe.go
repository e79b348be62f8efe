package relay

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/smtp"
)

// Prober verifies that a relay host accepts a connection and the given
// credentials. Register refuses to store a credential whose probe fails.
type Prober func(ctx context.Context, in RegisterInput) error

// SMTPProbe dials the relay, upgrades to TLS when requested, and
// authenticates. The connection is closed without sending mail.
func SMTPProbe(ctx context.Context, in RegisterInput) error {
	addr := fmt.Sprintf("%s:%d", in.Host, in.Port)
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer client.Close()

	if in.Secure {
		if err := client.StartTLS(&tls.Config{ServerName: in.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	auth := smtp.PlainAuth("", in.Username, in.Password, in.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	return client.Quit()
}
