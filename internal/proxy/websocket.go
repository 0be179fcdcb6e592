package proxy

import (
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/audit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/pkg/metrics"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/registry"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/session"
)

// wsBridge relays websocket streams (exec, logs, the dashboard shell) to the
// backend, re-establishing the bearer credential on the backend leg.
type wsBridge struct {
	upstream *url.URL
	prefix   string
	reg      *registry.Registry
	store    *session.Store
	rec      *audit.Recorder
	dialer   *websocket.Dialer
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func newWSBridge(upstream *url.URL, prefix string, reg *registry.Registry, store *session.Store,
	rec *audit.Recorder, tlsConfig *tls.Config, log *slog.Logger) *wsBridge {
	return &wsBridge{
		upstream: upstream,
		prefix:   prefix,
		reg:      reg,
		store:    store,
		rec:      rec,
		dialer: &websocket.Dialer{
			TLSClientConfig:  tlsConfig,
			HandshakeTimeout: 15 * time.Second,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin was already vetted by the CORS layer.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

func (b *wsBridge) serve(w http.ResponseWriter, r *http.Request, sess models.Session) {
	target := *b.upstream
	switch target.Scheme {
	case "https":
		target.Scheme = "wss"
	default:
		target.Scheme = "ws"
	}
	target.Path = rewritePath(r.URL.Path, b.prefix)
	target.RawQuery = r.URL.RawQuery

	header := http.Header{}
	if token, ok := b.reg.AccessToken(sess.SubjectID); ok && token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	if proto := r.Header.Get("Sec-WebSocket-Protocol"); proto != "" {
		header.Set("Sec-WebSocket-Protocol", proto)
	}

	backend, resp, err := b.dialer.Dial(target.String(), header)
	if err != nil {
		// A rejected credential on the upgrade leg downgrades the session
		// exactly like a 401 on a plain proxied request.
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			metrics.UpstreamAuthRejectionsTotal.Inc()
			b.store.Downgrade(sess.Token, r.URL.Path)
			b.rec.Record(r.Context(), &models.AuthEvent{
				SubjectID: sess.SubjectID,
				EventType: audit.EventUpstreamRejected,
				Path:      r.URL.Path,
				Verb:      r.Method,
			})
			b.log.Warn("backend rejected websocket credentials", "subject", sess.SubjectID, "path", r.URL.Path)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		status := http.StatusBadGateway
		if resp != nil {
			status = resp.StatusCode
		}
		b.log.Error("websocket backend dial failed", "target", target.String(), "error", err)
		http.Error(w, "backend unavailable", status)
		return
	}
	defer backend.Close()

	client, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Error("websocket upgrade failed", "path", r.URL.Path, "error", err)
		return
	}
	defer client.Close()

	metrics.WebSocketBridgesActive.Inc()
	defer metrics.WebSocketBridgesActive.Dec()

	errc := make(chan error, 2)
	go pump(client, backend, errc)
	go pump(backend, client, errc)

	// First side to fail tears down both; the deferred closes unblock the
	// other pump.
	<-errc
}

func pump(dst, src *websocket.Conn, errc chan<- error) {
	for {
		mt, msg, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(mt, msg); err != nil {
			errc <- err
			return
		}
	}
}
