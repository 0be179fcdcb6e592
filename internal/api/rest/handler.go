// Package rest implements the gateway's own HTTP surface: the landing and
// diagnostic pages, the authentication flow, and the kubeconfig artifact.
package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/auth"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/config"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/kubeconfig"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/registry"
)

// Handler serves the gateway pages.
type Handler struct {
	cfg    *config.Config
	reg    *registry.Registry
	caCert string // cluster trust root; empty when the file was absent
	log    *slog.Logger
}

// NewHandler creates the page handler.
func NewHandler(cfg *config.Config, reg *registry.Registry, caCert string, log *slog.Logger) *Handler {
	return &Handler{cfg: cfg, reg: reg, caCert: caCert, log: log}
}

// Index renders landing info derived from the session's identity and static
// cluster metadata.
func (h *Handler) Index(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		respondError(w, http.StatusUnauthorized, "No identity")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"name":           id.DisplayName,
		"email":          id.PrincipalName,
		"clusterName":    h.clusterName(),
		"clusterUrl":     h.cfg.ClusterAPIURL,
		"apiserverAppId": h.cfg.APIServerAppID,
		"kubectlAppId":   h.cfg.KubectlAppID,
		"tenantId":       h.cfg.TenantID,
		"clusterCaCert":  h.caCert,
		"warningMessage": h.cfg.WarningMessage,
	})
}

// Permissions is a liveness/authorization probe; reaching it at all means the
// gate passed. No body.
func (h *Handler) Permissions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// User renders the raw identity plus non-secret environment metadata
// (diagnostic).
func (h *Handler) User(w http.ResponseWriter, r *http.Request) {
	id := auth.IdentityFromContext(r.Context())
	if id == nil {
		respondError(w, http.StatusUnauthorized, "No identity")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"user": id,
		"env": map[string]string{
			"clusterName":    h.clusterName(),
			"clusterUrl":     h.cfg.ClusterAPIURL,
			"upstreamUrl":    h.cfg.UpstreamURL,
			"mountPrefix":    h.cfg.MountPrefix,
			"apiserverAppId": h.cfg.APIServerAppID,
			"kubectlAppId":   h.cfg.KubectlAppID,
			"tenantId":       h.cfg.TenantID,
			"callbackUrl":    h.cfg.CallbackURL,
		},
	})
}

// Kubeconfig serves the credential bundle as a download. Rendered from the
// live registry record at request time; never cached.
func (h *Handler) Kubeconfig(w http.ResponseWriter, r *http.Request) {
	sess, ok := auth.SessionFromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "No session")
		return
	}
	id, ok := h.reg.FindBySubject(sess.SubjectID)
	if !ok {
		respondError(w, http.StatusUnauthorized, "No identity")
		return
	}

	doc, err := kubeconfig.Render(&id, h.cfg, h.caCert)
	if err != nil {
		h.log.Error("failed to render kubeconfig", "subject", id.SubjectID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to render kubeconfig")
		return
	}

	name := h.cfg.ClusterName
	if name == "" {
		name = h.clusterName()
	}
	w.Header().Set("Content-Type", "application/x-yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="kubeconfig-`+name+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(doc)
}

// ErrorPage is the generic failure page; fixed status, no detail.
func (h *Handler) ErrorPage(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusBadRequest)
}

// Healthz is an unauthenticated liveness check.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"healthy","service":"dashboard-gateway"}`))
}

// clusterName derives a display name from the API URL when no explicit name
// is configured.
func (h *Handler) clusterName() string {
	if h.cfg.ClusterName != "" {
		return h.cfg.ClusterName
	}
	return strings.TrimPrefix(h.cfg.ClusterAPIURL, "https://api.")
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
