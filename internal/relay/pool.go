// Package relay manages per-tenant outbound SMTP credentials: live
// verification on registration, encrypted storage of secrets, and
// least-used selection for load balancing across a tenant's relays.
package relay

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"tern/internal/errs"
	"tern/internal/models"
	"tern/internal/store"
	"tern/internal/utils/crypto"
	"tern/internal/utils/logger"
)

var log = logger.New("RELAY")

var validate = validator.New()

// RegisterInput describes a relay host to verify and store.
type RegisterInput struct {
	Host     string `json:"host" validate:"required,hostname|ip"`
	Port     int    `json:"port" validate:"required,min=1,max=65535"`
	Secure   bool   `json:"secure"`
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Pool selects and verifies relay credentials for tenants.
type Pool struct {
	store store.CredentialStore
	probe Prober
	now   func() time.Time
}

// NewPool builds a Pool. probe is invoked during Register to verify a
// host before it is stored; pass SMTPProbe in production.
func NewPool(s store.CredentialStore, probe Prober) *Pool {
	return &Pool{
		store: s,
		probe: probe,
		now:   time.Now,
	}
}

// WithClock overrides the pool's clock. Intended for tests.
func (p *Pool) WithClock(now func() time.Time) *Pool {
	p.now = now
	return p
}

// Register verifies the relay with a live connect+authenticate probe and
// stores it with secrets encrypted. A failed probe surfaces as a
// ConfigurationError and nothing is stored.
func (p *Pool) Register(ctx context.Context, teamID string, in RegisterInput) (*models.RelayCredential, error) {
	if err := validate.Struct(in); err != nil {
		return nil, errs.Validation("invalid relay config: %v", err)
	}

	if err := p.probe(ctx, in); err != nil {
		return nil, errs.Configuration("relay verification failed", err)
	}

	username, err := crypto.Encrypt(in.Username)
	if err != nil {
		return nil, log.Error("failed to encrypt relay username", err)
	}
	password, err := crypto.Encrypt(in.Password)
	if err != nil {
		return nil, log.Error("failed to encrypt relay password", err)
	}

	cred := &models.RelayCredential{
		TeamID:   teamID,
		Host:     in.Host,
		Port:     in.Port,
		Secure:   in.Secure,
		Username: username,
		Password: password,
		Verified: true,
		AddedAt:  p.now(),
	}
	if err := p.store.CreateCredential(ctx, cred); err != nil {
		return nil, log.Error("failed to store relay credential", err)
	}

	log.Success("registered relay %s:%d for team %s", in.Host, in.Port, teamID)
	return cred, nil
}

// Select returns the tenant's verified credential with the lowest usage
// count (ties broken by earliest AddedAt), with secrets decrypted. It
// fails with a ConfigurationError when the tenant has no verified relay.
func (p *Pool) Select(ctx context.Context, teamID string) (*models.RelayCredential, error) {
	creds, err := p.store.VerifiedCredentials(ctx, teamID)
	if err != nil {
		return nil, err
	}
	if len(creds) == 0 {
		return nil, errs.Configuration("no verified relay credential for team "+teamID, nil)
	}

	cred := creds[0]
	if cred.Username, err = crypto.Decrypt(cred.Username); err != nil {
		return nil, errs.Configuration("failed to decrypt relay username", err)
	}
	if cred.Password, err = crypto.Decrypt(cred.Password); err != nil {
		return nil, errs.Configuration("failed to decrypt relay password", err)
	}
	return &cred, nil
}

// RecordUse bumps the credential's usage counter. The bump is best-effort
// balancing state, not billing-grade accounting; it is not atomic with
// the send outcome.
func (p *Pool) RecordUse(ctx context.Context, id string) error {
	return p.store.IncrementCredentialUsage(ctx, id)
}
