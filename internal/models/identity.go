package models

import "time"

// Identity represents one authenticated end user, keyed by the stable
// provider-issued subject identifier. Created on first successful callback
// (auto-registration) and never deleted; only the token and expiry fields
// change on subsequent callbacks.
type Identity struct {
	SubjectID     string         `json:"subject_id"`
	PrincipalName string         `json:"principal_name"`
	DisplayName   string         `json:"display_name,omitempty"`
	Profile       map[string]any `json:"profile,omitempty"`

	// Secrets. Never serialized into responses or logs.
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`

	TokenExpiresIn time.Duration `json:"token_expires_in"`
	TokenExpiresOn time.Time     `json:"token_expires_on"`
}

// TokenExpired returns true once the access token's expiry has passed.
func (i *Identity) TokenExpired() bool {
	return !i.TokenExpiresOn.IsZero() && time.Now().After(i.TokenExpiresOn)
}
