// Package oidc wraps the identity provider: issuer discovery, the
// authorization redirect, code exchange, and ID token verification.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/config"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

// ErrNoSubjectClaim is returned when a verified assertion carries no stable
// subject identifier.
var ErrNoSubjectClaim = errors.New("no subject claim in assertion")

const stateTTL = 10 * time.Minute

// Provider wraps the OIDC provider and OAuth2 config.
type Provider struct {
	provider     *oidc.Provider
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	timeout      time.Duration
	extraParams  []oauth2.AuthCodeOption

	mu         sync.Mutex
	stateStore map[string]time.Time
}

// NewProvider discovers the issuer and builds the OAuth2 client config.
func NewProvider(ctx context.Context, cfg *config.Config) (*Provider, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}

	oauth2Config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.CallbackURL,
		Endpoint:     provider.Endpoint(),
		Scopes:       scopes,
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: cfg.ClientID,
	})

	// The provider scopes the access token to the backend resource; the
	// extra parameters ride along on the authorization redirect.
	var extra []oauth2.AuthCodeOption
	if rid := cfg.ResourceID(); rid != "" {
		extra = append(extra, oauth2.SetAuthURLParam("resource", rid))
	}

	timeout := time.Duration(cfg.ProviderTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	p := &Provider{
		provider:     provider,
		oauth2Config: oauth2Config,
		verifier:     verifier,
		timeout:      timeout,
		extraParams:  extra,
		stateStore:   make(map[string]time.Time),
	}

	// Cleanup expired states every 10 minutes
	go p.cleanupStates()

	return p, nil
}

// GenerateState generates a random state token for the OAuth2 flow.
func (p *Provider) GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	state := base64.URLEncoding.EncodeToString(b)
	p.mu.Lock()
	p.stateStore[state] = time.Now().Add(stateTTL)
	p.mu.Unlock()
	return state, nil
}

// ValidateState validates and consumes a state token.
func (p *Provider) ValidateState(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	expiry, exists := p.stateStore[state]
	if !exists {
		return false
	}
	delete(p.stateStore, state)
	return !time.Now().After(expiry)
}

func (p *Provider) cleanupStates() {
	ticker := time.NewTicker(stateTTL)
	defer ticker.Stop()
	for range ticker.C {
		p.mu.Lock()
		now := time.Now()
		for state, expiry := range p.stateStore {
			if now.After(expiry) {
				delete(p.stateStore, state)
			}
		}
		p.mu.Unlock()
	}
}

// AuthCodeURL returns the provider authorization URL for the given state.
func (p *Provider) AuthCodeURL(state string) string {
	return p.oauth2Config.AuthCodeURL(state, p.extraParams...)
}

// Exchange swaps an authorization code for tokens. Bounded by the configured
// provider timeout; callers must not hold registry or session locks.
func (p *Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.oauth2Config.Exchange(ctx, code)
}

// VerifyIDToken verifies the assertion and extracts its claims.
func (p *Provider) VerifyIDToken(ctx context.Context, token *oauth2.Token) (*oidc.IDToken, map[string]any, error) {
	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		return nil, nil, fmt.Errorf("id_token not found in token response")
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	idToken, err := p.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to verify ID token: %w", err)
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, nil, fmt.Errorf("failed to parse ID token claims: %w", err)
	}

	return idToken, claims, nil
}

// IdentityFromToken maps a verified assertion onto an Identity. The subject
// claim is required; everything else degrades to reasonable fallbacks.
func IdentityFromToken(token *oauth2.Token, idToken *oidc.IDToken, claims map[string]any) (models.Identity, error) {
	sub := idToken.Subject
	if sub == "" {
		if s, ok := claims["sub"].(string); ok {
			sub = s
		}
	}
	if sub == "" {
		return models.Identity{}, ErrNoSubjectClaim
	}

	principal := stringClaim(claims, "upn")
	if principal == "" {
		principal = stringClaim(claims, "preferred_username")
	}
	if principal == "" {
		principal = stringClaim(claims, "email")
	}
	if principal == "" {
		principal = sub
	}

	id := models.Identity{
		SubjectID:     sub,
		PrincipalName: principal,
		DisplayName:   stringClaim(claims, "name"),
		Profile:       claims,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		id.TokenExpiresOn = token.Expiry
		id.TokenExpiresIn = time.Until(token.Expiry).Truncate(time.Second)
	}
	return id, nil
}

func stringClaim(claims map[string]any, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
