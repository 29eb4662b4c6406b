package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/spotidal/internal/shared"
	"golang.org/x/oauth2"
)

// Provider hands out valid access tokens for a single service.
//
// It satisfies services.TokenSource.
type Provider struct {
	service string
	config  *oauth2.Config
	store   Store
	logger  *log.Logger

	mu sync.Mutex
}

// Status describes what is stored for a service, without exposing the token.
type Status struct {
	Service       string
	Authenticated bool
	Expired       bool
	HasRefresh    bool
	Expiry        time.Time
}

// NewProvider creates a provider for service. A nil logger falls back to [log.Default].
func NewProvider(service string, config *oauth2.Config, store Store, logger *log.Logger) *Provider {
	if logger == nil {
		logger = log.Default()
	}
	return &Provider{service: service, config: config, store: store, logger: logger}
}

// Service returns the service name tokens are stored under.
func (p *Provider) Service() string { return p.service }

// Config returns the OAuth configuration.
func (p *Provider) Config() *oauth2.Config { return p.config }

// Token returns the stored token, refreshing and persisting it when expired.
func (p *Provider) Token(ctx context.Context) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	tok, err := p.store.Load(ctx, p.service)
	if errors.Is(err, shared.ErrTokenNotFound) {
		return nil, fmt.Errorf("%w: run '%s auth' first", shared.ErrNotAuthenticated, p.service)
	}
	if err != nil {
		return nil, err
	}
	if tok.Valid() {
		return tok, nil
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: %s token has no refresh token", shared.ErrTokenExpired, p.service)
	}

	p.logger.Debug("refreshing token", "service", p.service, "expired", tok.Expiry)
	fresh, err := p.config.TokenSource(ctx, tok).Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrRefreshFailed, p.service, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}

	if err := p.store.Save(ctx, p.service, fresh); err != nil {
		p.logger.Warn("failed to persist refreshed token", "service", p.service, "error", err)
	}
	return fresh, nil
}

// AuthCodeURL builds the consent URL. A non-empty verifier adds the S256 PKCE challenge.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	if verifier == "" {
		return p.config.AuthCodeURL(state)
	}
	return p.config.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange trades an authorization code for a token and stores it.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (*oauth2.Token, error) {
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	tok, err := p.config.Exchange(ctx, code, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", shared.ErrAuthFailed, p.service, err)
	}
	if err := p.Save(ctx, tok); err != nil {
		return nil, err
	}
	return tok, nil
}

// Save stores tok for the provider's service.
func (p *Provider) Save(ctx context.Context, tok *oauth2.Token) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Save(ctx, p.service, tok)
}

// Clear removes the stored token.
func (p *Provider) Clear(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.store.Clear(ctx, p.service)
}

// Status reports the stored token state without refreshing.
func (p *Provider) Status(ctx context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{Service: p.service}
	tok, err := p.store.Load(ctx, p.service)
	if errors.Is(err, shared.ErrTokenNotFound) {
		return st, nil
	}
	if err != nil {
		return st, err
	}

	st.Authenticated = true
	st.Expired = !tok.Valid()
	st.HasRefresh = tok.RefreshToken != ""
	st.Expiry = tok.Expiry
	return st, nil
}

// NewVerifier returns a fresh PKCE code verifier.
func NewVerifier() string {
	return oauth2.GenerateVerifier()
}
