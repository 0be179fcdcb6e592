package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/api/middleware"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/api/rest"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/audit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/auth"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/auth/oidc"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/config"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/pkg/logger"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/proxy"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/ratelimit"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/registry"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/repository"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/session"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/migrations"
)

func main() {
	log := logger.StdLogger()

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Audit store is optional; the recorder logs either way.
	var repo *repository.SQLiteRepository
	if cfg.AuditDBPath != "" {
		repo, err = repository.NewSQLiteRepository(cfg.AuditDBPath)
		if err != nil {
			log.Error("failed to open audit store", "path", cfg.AuditDBPath, "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.RunMigrations(migrations.FS); err != nil {
			log.Error("failed to run audit migrations", "error", err)
			os.Exit(1)
		}
	}
	recorder := audit.NewRecorder(repo, log)

	reg := registry.New()
	store := session.NewStore(time.Duration(cfg.SessionTTLSec) * time.Second)
	hashKey, blockKey := cfg.SessionKeys()
	sessions, err := session.NewManager(store, hashKey, blockKey, cfg.CookieName, cfg.CookieSecure, time.Duration(cfg.SessionTTLSec)*time.Second)
	if err != nil {
		log.Error("failed to create session manager", "error", err)
		os.Exit(1)
	}
	limiter := ratelimit.New(cfg.LoginRateLimit, time.Duration(cfg.LoginRateWindowSec)*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ProviderTimeoutSec)*time.Second)
	provider, err := oidc.NewProvider(ctx, cfg)
	cancel()
	if err != nil {
		log.Error("failed to discover identity provider", "issuer", cfg.IssuerURL, "error", err)
		os.Exit(1)
	}

	prx, err := proxy.New(cfg, reg, sessions, recorder, log)
	if err != nil {
		log.Error("failed to build upstream proxy", "error", err)
		os.Exit(1)
	}

	caCert := ""
	if raw, err := os.ReadFile(cfg.CACertPath); err == nil {
		caCert = string(raw)
	} else if !os.IsNotExist(err) {
		log.Warn("failed to read cluster CA bundle", "path", cfg.CACertPath, "error", err)
	}

	gate := auth.Gate(sessions, reg, limiter, recorder)
	pages := rest.NewHandler(cfg, reg, caCert, log)
	authHandler := rest.NewAuthHandler(provider, sessions, reg, limiter, recorder, cfg.LoginRateWindowSec, log)

	router := mux.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.StructuredLog)
	router.Use(middleware.SecureHeaders)
	router.Use(middleware.Recovery(log))
	rest.SetupRoutes(router, pages, authHandler, gate, prx, cfg.MountPrefix)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("dashboard gateway listening",
			"port", cfg.Port,
			"upstream", cfg.UpstreamURL,
			"mount_prefix", cfg.MountPrefix,
			"issuer", cfg.IssuerURL,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("forced shutdown", "error", err)
	}
}
