package proxy

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/auth"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

func TestWebSocketBridgeDowngradesOnBackend401(t *testing.T) {
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	})

	f := newProxyFixture(t, backend)
	f.reg.Upsert(models.Identity{SubjectID: "sub-1", AccessToken: "tok-1"})
	sess := f.sessions.Store().Create()
	f.sessions.Store().Bind(sess.Token, "sub-1")
	sess, _ = f.sessions.Store().Get(sess.Token)
	id, _ := f.reg.FindBySubject("sub-1")

	outer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithSession(r.Context(), sess)
		ctx = auth.WithIdentity(ctx, &id)
		f.prx.ServeHTTP(w, r.WithContext(ctx))
	}))
	defer outer.Close()

	wsURL := "ws" + strings.TrimPrefix(outer.URL, "http") + "/dashboard/api/v1/pod/shell"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err, "handshake must fail when the backend rejects the credential")
	if conn != nil {
		conn.Close()
	}
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	got, ok := f.sessions.Store().Get(sess.Token)
	require.True(t, ok)
	assert.False(t, got.Authenticated(), "session must drop to anonymous")
	assert.Equal(t, "/dashboard/api/v1/pod/shell", got.ReturnTo)
}

func TestWebSocketBridgeEchoesThroughBackend(t *testing.T) {
	var gotPath, gotAuth string
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	backend := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotAuth = r.URL.Path, r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	})

	f := newProxyFixture(t, backend)
	f.reg.Upsert(models.Identity{SubjectID: "sub-1", AccessToken: "tok-1"})
	sess := f.sessions.Store().Create()
	f.sessions.Store().Bind(sess.Token, "sub-1")
	sess, _ = f.sessions.Store().Get(sess.Token)
	id, _ := f.reg.FindBySubject("sub-1")

	// Outer server stands in for the gate: it attaches the session and
	// identity the way the middleware chain would.
	outer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := auth.WithSession(r.Context(), sess)
		ctx = auth.WithIdentity(ctx, &id)
		f.prx.ServeHTTP(w, r.WithContext(ctx))
	}))
	defer outer.Close()

	wsURL := "ws" + strings.TrimPrefix(outer.URL, "http") + "/dashboard/api/v1/pod/shell"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ls -la")))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	assert.Equal(t, "ls -la", string(msg))
	assert.Equal(t, "/api/v1/pod/shell", gotPath)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}
