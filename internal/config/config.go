package config

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all gateway settings. Provider credentials and the session
// cookie keys have no defaults: they must be supplied per deployment.
type Config struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// Identity provider (OIDC)
	IssuerURL    string   `mapstructure:"issuer_url"`
	ClientID     string   `mapstructure:"client_id"`
	ClientSecret string   `mapstructure:"client_secret"`
	CallbackURL  string   `mapstructure:"callback_url"`
	Scopes       []string `mapstructure:"scopes"`
	// Identifiers of the backend resource and the companion CLI tool as
	// registered with the provider; surfaced in the kubeconfig artifact.
	APIServerAppID string `mapstructure:"apiserver_app_id"`
	KubectlAppID   string `mapstructure:"kubectl_app_id"`
	TenantID       string `mapstructure:"tenant_id"`

	// Upstream (the protected dashboard)
	UpstreamURL string `mapstructure:"upstream_url"`
	MountPrefix string `mapstructure:"mount_prefix"`
	CACertPath  string `mapstructure:"ca_cert_path"` // missing file tolerated

	// Cluster metadata surfaced on the landing page and in the kubeconfig
	ClusterName    string `mapstructure:"cluster_name"`
	ClusterAPIURL  string `mapstructure:"cluster_api_url"`
	WarningMessage string `mapstructure:"warning_message"`

	// Session cookie: securecookie hash and block keys, hex encoded, 32 bytes each.
	SessionHashKey  string `mapstructure:"session_hash_key"`
	SessionBlockKey string `mapstructure:"session_block_key"`
	SessionTTLSec   int    `mapstructure:"session_ttl_sec"`
	CookieName      string `mapstructure:"cookie_name"`
	CookieSecure    bool   `mapstructure:"cookie_secure"`

	// Login rate limiting
	LoginRateLimit     int `mapstructure:"login_rate_limit"`      // attempts per window
	LoginRateWindowSec int `mapstructure:"login_rate_window_sec"` // window length

	// Timeouts
	ProviderTimeoutSec int `mapstructure:"provider_timeout_sec"` // token exchange round trip
	UpstreamTimeoutSec int `mapstructure:"upstream_timeout_sec"` // proxied request
	ShutdownTimeoutSec int `mapstructure:"shutdown_timeout_sec"`

	// Audit event store; empty disables persistence (events still logged)
	AuditDBPath string `mapstructure:"audit_db_path"`
}

const sessionKeyLenBytes = 32

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("/etc/dashboard-gateway/")
	viper.AddConfigPath(".")

	// Defaults
	viper.SetDefault("port", 3000)
	viper.SetDefault("allowed_origins", []string{"*"})
	viper.SetDefault("scopes", []string{"openid", "profile", "email"})
	viper.SetDefault("mount_prefix", "/dashboard")
	viper.SetDefault("warning_message", "THIS IS AN ACTIVE WORKING SYSTEM. BE RESPONSIBLE.")
	viper.SetDefault("session_ttl_sec", 3600)
	viper.SetDefault("cookie_name", "gateway_session")
	viper.SetDefault("cookie_secure", true)
	viper.SetDefault("login_rate_limit", 5)
	viper.SetDefault("login_rate_window_sec", 60)
	viper.SetDefault("provider_timeout_sec", 15)
	viper.SetDefault("upstream_timeout_sec", 30)
	viper.SetDefault("shutdown_timeout_sec", 15)
	viper.SetDefault("ca_cert_path", "/var/run/secrets/kubernetes.io/serviceaccount/ca.crt")

	// Environment variables. Keys without a default must be bound
	// explicitly or Unmarshal never sees their env values.
	viper.SetEnvPrefix("GATEWAY")
	viper.AutomaticEnv()
	for _, key := range []string{
		"issuer_url", "client_id", "client_secret", "callback_url",
		"upstream_url", "session_hash_key", "session_block_key",
		"apiserver_app_id", "kubectl_app_id", "tenant_id",
		"cluster_name", "cluster_api_url", "audit_db_path",
	} {
		_ = viper.BindEnv(key)
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found; using defaults and env vars
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Validate checks that every mandatory setting is present and well formed.
func (c *Config) Validate() error {
	var missing []string
	for _, f := range []struct{ name, val string }{
		{"issuer_url", c.IssuerURL},
		{"client_id", c.ClientID},
		{"client_secret", c.ClientSecret},
		{"callback_url", c.CallbackURL},
		{"upstream_url", c.UpstreamURL},
		{"session_hash_key", c.SessionHashKey},
		{"session_block_key", c.SessionBlockKey},
	} {
		if strings.TrimSpace(f.val) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	for _, f := range []struct{ name, val string }{
		{"issuer_url", c.IssuerURL},
		{"callback_url", c.CallbackURL},
		{"upstream_url", c.UpstreamURL},
	} {
		if _, err := url.ParseRequestURI(f.val); err != nil {
			return fmt.Errorf("invalid %s: %w", f.name, err)
		}
	}

	for _, k := range []struct{ name, val string }{
		{"session_hash_key", c.SessionHashKey},
		{"session_block_key", c.SessionBlockKey},
	} {
		b, err := hex.DecodeString(k.val)
		if err != nil {
			return fmt.Errorf("%s must be hex encoded: %w", k.name, err)
		}
		if len(b) != sessionKeyLenBytes {
			return fmt.Errorf("%s must be %d bytes (%d hex characters)", k.name, sessionKeyLenBytes, 2*sessionKeyLenBytes)
		}
	}

	if c.MountPrefix != "" && !strings.HasPrefix(c.MountPrefix, "/") {
		return fmt.Errorf("mount_prefix must start with /")
	}
	if c.LoginRateLimit <= 0 {
		return fmt.Errorf("login_rate_limit must be positive")
	}
	return nil
}

// SessionKeys returns the decoded securecookie hash and block keys.
// Call Validate first.
func (c *Config) SessionKeys() (hashKey, blockKey []byte) {
	hashKey, _ = hex.DecodeString(c.SessionHashKey)
	blockKey, _ = hex.DecodeString(c.SessionBlockKey)
	return hashKey, blockKey
}

// ResourceID is the provider-side identifier of the backend resource the
// access token is requested for.
func (c *Config) ResourceID() string {
	if c.APIServerAppID == "" {
		return ""
	}
	return "spn:" + c.APIServerAppID
}
