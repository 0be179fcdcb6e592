// Package registry holds the process-wide store of known identities, keyed
// by the provider-issued subject identifier. Contents are lost on restart;
// there is no eviction and no persistence.
package registry

import (
	"sync"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

// Registry is safe for concurrent use. Lookups dominate; writes happen only
// on callback.
type Registry struct {
	mu         sync.RWMutex
	identities map[string]*models.Identity
}

// New creates an empty registry. Construct once at startup and pass by
// reference to every component that needs it.
func New() *Registry {
	return &Registry{identities: make(map[string]*models.Identity)}
}

// FindBySubject returns a copy of the identity for the given subject, or
// false if the subject has never authenticated.
func (r *Registry) FindBySubject(subjectID string) (models.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[subjectID]
	if !ok {
		return models.Identity{}, false
	}
	return *id, true
}

// AccessToken returns the subject's current access token. Read at forward
// time so a token refreshed by a concurrent callback is picked up immediately.
func (r *Registry) AccessToken(subjectID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.identities[subjectID]
	if !ok {
		return "", false
	}
	return id.AccessToken, true
}

// Upsert registers an identity on first callback and refreshes only the
// token and expiry fields on subsequent callbacks for the same subject.
// Profile, principal and display fields from the first registration win.
func (r *Registry) Upsert(identity models.Identity) models.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.identities[identity.SubjectID]
	if !ok {
		// Auto-registration
		stored := identity
		r.identities[identity.SubjectID] = &stored
		return stored
	}
	existing.AccessToken = identity.AccessToken
	existing.RefreshToken = identity.RefreshToken
	existing.TokenExpiresIn = identity.TokenExpiresIn
	existing.TokenExpiresOn = identity.TokenExpiresOn
	return *existing
}

// Len reports how many identities have registered since startup.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.identities)
}
