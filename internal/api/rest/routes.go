package rest

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes arranges the gateway surface. Everything except the login
// machinery, health and metrics sits behind the auth gate; the mount prefix
// catch-all hands off to the proxy.
func SetupRoutes(router *mux.Router, h *Handler, ah *AuthHandler,
	gate func(http.Handler) http.Handler, prx http.Handler, mountPrefix string) {

	// Public endpoints
	router.HandleFunc("/login", ah.Login).Methods(http.MethodGet)
	router.HandleFunc("/callback", ah.Callback).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/error", h.ErrorPage).Methods(http.MethodGet)
	router.HandleFunc("/healthz", h.Healthz).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	// Gated endpoints
	router.Handle("/logout", gate(http.HandlerFunc(ah.Logout))).Methods(http.MethodGet)
	router.Handle("/user", gate(http.HandlerFunc(h.User))).Methods(http.MethodGet)
	router.Handle("/permissions", gate(http.HandlerFunc(h.Permissions))).Methods(http.MethodGet)
	router.Handle("/kubeconfig", gate(http.HandlerFunc(h.Kubeconfig))).Methods(http.MethodGet)

	// Proxied dashboard traffic; upgrades ride on GET
	verbs := []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete}
	if mountPrefix != "" && mountPrefix != "/" {
		router.Handle(mountPrefix, gate(prx)).Methods(verbs...)
		router.PathPrefix(mountPrefix + "/").Handler(gate(prx)).Methods(verbs...)
	}

	router.Handle("/", gate(http.HandlerFunc(h.Index))).Methods(http.MethodGet)

	// Everything else is backend traffic too; paths outside the mount prefix
	// forward unchanged.
	router.PathPrefix("/").Handler(gate(prx)).Methods(verbs...)
}
