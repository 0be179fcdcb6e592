package session

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

// Manager binds the store to the browser via a signed, encrypted cookie.
// The hash and block keys are mandatory deployment secrets; there are no
// generated or hardcoded defaults.
type Manager struct {
	store      *Store
	codec      *securecookie.SecureCookie
	cookieName string
	secure     bool
	ttl        time.Duration
}

// NewManager creates a session manager. hashKey and blockKey must each be
// 32 bytes.
func NewManager(store *Store, hashKey, blockKey []byte, cookieName string, secure bool, ttl time.Duration) (*Manager, error) {
	if len(hashKey) != 32 || len(blockKey) != 32 {
		return nil, fmt.Errorf("session hash and block keys must be 32 bytes")
	}
	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		store:      store,
		codec:      codec,
		cookieName: cookieName,
		secure:     secure,
		ttl:        ttl,
	}, nil
}

// Store exposes the underlying store for components that already hold a
// session token (the proxy's 401 downgrade path).
func (m *Manager) Store() *Store {
	return m.store
}

// Resolve returns the request's session, creating an anonymous one (and
// setting the cookie) if the request carries no valid session.
func (m *Manager) Resolve(w http.ResponseWriter, r *http.Request) models.Session {
	if cookie, err := r.Cookie(m.cookieName); err == nil {
		var token string
		if err := m.codec.Decode(m.cookieName, cookie.Value, &token); err == nil {
			if sess, ok := m.store.Get(token); ok {
				return sess
			}
		}
	}

	sess := m.store.Create()
	m.setCookie(w, sess.Token)
	return sess
}

// Peek returns the request's session without creating one.
func (m *Manager) Peek(r *http.Request) (models.Session, bool) {
	cookie, err := r.Cookie(m.cookieName)
	if err != nil {
		return models.Session{}, false
	}
	var token string
	if err := m.codec.Decode(m.cookieName, cookie.Value, &token); err != nil {
		return models.Session{}, false
	}
	return m.store.Get(token)
}

func (m *Manager) setCookie(w http.ResponseWriter, token string) {
	encoded, err := m.codec.Encode(m.cookieName, token)
	if err != nil {
		return
	}
	// The provider posts the callback cross-site (form_post), and a Lax
	// cookie is withheld there, which would orphan the pre-login session
	// and its resume path. SameSite=None requires Secure; plain-HTTP
	// deployments keep Lax and rely on the query-parameter callback.
	sameSite := http.SameSiteLaxMode
	if m.secure {
		sameSite = http.SameSiteNoneMode
	}
	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: sameSite,
	})
}
