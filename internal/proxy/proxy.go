// Package proxy forwards authenticated requests to the dashboard backend,
// injecting the caller's delegated bearer token and translating upstream
// authentication failures into a fresh login round trip.
package proxy

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/audit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/auth"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/config"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/pkg/metrics"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/registry"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/session"
)

// Proxy is the bearer-injecting reverse proxy in front of the dashboard.
type Proxy struct {
	upstream *url.URL
	prefix   string
	reg      *registry.Registry
	sessions *session.Manager
	rec      *audit.Recorder
	reverse  *httputil.ReverseProxy
	bridge   *wsBridge
	log      *slog.Logger
}

// New builds the proxy for cfg.UpstreamURL. The transport trusts the cluster
// CA when the configured bundle exists; a missing bundle degrades to skipping
// verification, which matches in-cluster deployments that talk to the
// dashboard service over the pod network.
func New(cfg *config.Config, reg *registry.Registry, sessions *session.Manager, rec *audit.Recorder, log *slog.Logger) (*Proxy, error) {
	upstream, err := url.Parse(cfg.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL %q: %w", cfg.UpstreamURL, err)
	}

	tlsConfig, err := upstreamTLSConfig(cfg.CACertPath, log)
	if err != nil {
		return nil, err
	}

	timeout := time.Duration(cfg.UpstreamTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: timeout,
	}

	p := &Proxy{
		upstream: upstream,
		prefix:   cfg.MountPrefix,
		reg:      reg,
		sessions: sessions,
		rec:      rec,
		log:      log,
	}
	p.reverse = &httputil.ReverseProxy{
		Director:       p.direct,
		Transport:      transport,
		ModifyResponse: p.interceptUpstreamAuth,
		ErrorHandler:   p.upstreamError,
		FlushInterval:  -1, // dashboard streams exec/log output
	}
	p.bridge = newWSBridge(upstream, cfg.MountPrefix, reg, sessions.Store(), rec, tlsConfig, log)
	return p, nil
}

// ServeHTTP forwards the request. Callers must run it behind the auth gate;
// an unauthenticated request reaching here is a wiring bug and gets a 500.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		p.log.Error("proxy reached without identity", "path", r.URL.Path)
		http.Error(w, "no identity", http.StatusInternalServerError)
		return
	}

	p.log.Info("forwarding request", "subject", id.SubjectID, "verb", r.Method, "path", r.URL.Path)

	if isWebSocket(r) {
		sess, _ := auth.SessionFromContext(r.Context())
		p.bridge.serve(w, r, sess)
		return
	}

	metrics.ProxyRequestsTotal.WithLabelValues(r.Method).Inc()
	p.reverse.ServeHTTP(w, r)
}

// direct rewrites the outbound request: target the upstream, strip the mount
// prefix, attach the caller's current bearer token, and re-encode form bodies
// as JSON for write verbs.
func (p *Proxy) direct(req *http.Request) {
	req.URL.Scheme = p.upstream.Scheme
	req.URL.Host = p.upstream.Host
	req.Host = p.upstream.Host
	req.URL.Path = rewritePath(req.URL.Path, p.prefix)

	// Token read happens here, at forward time, so a login completed on a
	// concurrent request is honored immediately.
	if sess, ok := auth.SessionFromContext(req.Context()); ok {
		if token, ok := p.reg.AccessToken(sess.SubjectID); ok && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	if req.Method == http.MethodPost || req.Method == http.MethodPut {
		rewriteFormBody(req)
	}
}

// interceptUpstreamAuth converts an upstream 401 into a login redirect. The
// client never sees the 401; its session drops back to anonymous with the
// original path recorded for resumption.
func (p *Proxy) interceptUpstreamAuth(resp *http.Response) error {
	if resp.StatusCode != http.StatusUnauthorized {
		return nil
	}

	req := resp.Request
	metrics.UpstreamAuthRejectionsTotal.Inc()

	var subject string
	if sess, ok := auth.SessionFromContext(req.Context()); ok {
		subject = sess.SubjectID
		p.sessions.Store().Downgrade(sess.Token, originalPath(req.URL.Path, p.prefix))
	}
	p.rec.Record(req.Context(), &models.AuthEvent{
		SubjectID: subject,
		EventType: audit.EventUpstreamRejected,
		Path:      req.URL.Path,
		Verb:      req.Method,
	})
	p.log.Warn("upstream rejected delegated credentials", "subject", subject, "path", req.URL.Path)

	if resp.Body != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}
	resp.StatusCode = http.StatusFound
	resp.Status = http.StatusText(http.StatusFound)
	resp.Header = http.Header{}
	resp.Header.Set("Location", "/login")
	resp.Body = io.NopCloser(strings.NewReader(""))
	resp.ContentLength = 0
	return nil
}

func (p *Proxy) upstreamError(w http.ResponseWriter, r *http.Request, err error) {
	p.log.Error("upstream request failed", "path", r.URL.Path, "error", err)
	http.Redirect(w, r, "/error", http.StatusFound)
}

// rewritePath strips the mount prefix so the upstream sees its own root.
// The bare prefix maps to "/".
func rewritePath(path, prefix string) string {
	if prefix == "" || prefix == "/" {
		return path
	}
	if path == prefix {
		return "/"
	}
	if strings.HasPrefix(path, prefix+"/") {
		return strings.TrimPrefix(path, prefix)
	}
	return path
}

// originalPath is the inverse of rewritePath, used when recording where a
// downgraded session should resume.
func originalPath(upstreamPath, prefix string) string {
	if prefix == "" || prefix == "/" {
		return upstreamPath
	}
	if upstreamPath == "/" {
		return prefix
	}
	return prefix + upstreamPath
}

// rewriteFormBody re-serializes a form-encoded body as a JSON object with
// string values, which is what the dashboard API expects from its own UI.
func rewriteFormBody(req *http.Request) {
	ct := req.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/x-www-form-urlencoded") {
		return
	}
	if req.Body == nil {
		return
	}
	raw, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		req.Body = io.NopCloser(bytes.NewReader(nil))
		req.ContentLength = 0
		return
	}
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		// Pass the body through untouched when it is not actually a form.
		req.Body = io.NopCloser(bytes.NewReader(raw))
		return
	}
	obj := make(map[string]string, len(values))
	for key := range values {
		obj[key] = values.Get(key)
	}
	body, err := json.Marshal(obj)
	if err != nil {
		req.Body = io.NopCloser(bytes.NewReader(raw))
		return
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
}

func isWebSocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket") &&
		strings.Contains(strings.ToLower(r.Header.Get("Connection")), "upgrade")
}

func upstreamTLSConfig(caPath string, log *slog.Logger) (*tls.Config, error) {
	if caPath == "" {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warn("cluster CA bundle not found, skipping upstream verification", "path", caPath)
			return &tls.Config{InsecureSkipVerify: true}, nil
		}
		return nil, fmt.Errorf("failed to read CA bundle %s: %w", caPath, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates parsed from %s", caPath)
	}
	return &tls.Config{RootCAs: pool}, nil
}
