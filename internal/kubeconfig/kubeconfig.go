// Package kubeconfig renders a client credential bundle for kubectl from the
// caller's registered identity. The bundle embeds the delegated tokens, so it
// must never be cached or written to shared storage.
package kubeconfig

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/config"
	"github.com/mirthy/kubernetes-aad-dashboard-proxy/internal/models"
)

type document struct {
	APIVersion     string         `yaml:"apiVersion"`
	Kind           string         `yaml:"kind"`
	Preferences    map[string]any `yaml:"preferences"`
	Clusters       []namedCluster `yaml:"clusters"`
	Users          []namedUser    `yaml:"users"`
	Contexts       []namedContext `yaml:"contexts"`
	CurrentContext string         `yaml:"current-context"`
}

type namedCluster struct {
	Name    string  `yaml:"name"`
	Cluster cluster `yaml:"cluster"`
}

type cluster struct {
	Server                  string `yaml:"server"`
	CertificateAuthorityKey string `yaml:"certificate-authority-data,omitempty"`
	InsecureSkipTLSVerify   bool   `yaml:"insecure-skip-tls-verify,omitempty"`
}

type namedUser struct {
	Name string `yaml:"name"`
	User user   `yaml:"user"`
}

type user struct {
	AuthProvider authProvider `yaml:"auth-provider"`
}

type authProvider struct {
	Name   string            `yaml:"name"`
	Config map[string]string `yaml:"config"`
}

type namedContext struct {
	Name    string  `yaml:"name"`
	Context kubeCtx `yaml:"context"`
}

type kubeCtx struct {
	Cluster string `yaml:"cluster"`
	User    string `yaml:"user"`
}

// Render produces the YAML bundle for the given identity. caCert is the PEM
// trust root for the API server; when empty the bundle falls back to
// insecure-skip-tls-verify.
func Render(id *models.Identity, cfg *config.Config, caCert string) ([]byte, error) {
	if id.AccessToken == "" {
		return nil, fmt.Errorf("identity %s has no access token", id.SubjectID)
	}

	clusterName := cfg.ClusterName
	if clusterName == "" {
		clusterName = strings.TrimPrefix(cfg.ClusterAPIURL, "https://api.")
	}

	cl := cluster{Server: cfg.ClusterAPIURL}
	if caCert != "" {
		cl.CertificateAuthorityKey = base64.StdEncoding.EncodeToString([]byte(caCert))
	} else {
		cl.InsecureSkipTLSVerify = true
	}

	providerCfg := map[string]string{
		"access-token":  id.AccessToken,
		"refresh-token": id.RefreshToken,
		"expires-in":    strconv.Itoa(int(id.TokenExpiresIn.Seconds())),
		"expires-on":    strconv.FormatInt(id.TokenExpiresOn.Unix(), 10),
		"apiserver-id":  cfg.APIServerAppID,
		"client-id":     cfg.KubectlAppID,
		"tenant-id":     cfg.TenantID,
	}

	doc := document{
		APIVersion:  "v1",
		Kind:        "Config",
		Preferences: map[string]any{},
		Clusters: []namedCluster{
			{Name: clusterName, Cluster: cl},
		},
		Users: []namedUser{
			{
				Name: id.PrincipalName,
				User: user{AuthProvider: authProvider{Name: "azure", Config: providerCfg}},
			},
		},
		Contexts: []namedContext{
			{Name: clusterName, Context: kubeCtx{Cluster: clusterName, User: id.PrincipalName}},
		},
		CurrentContext: clusterName,
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal kubeconfig: %w", err)
	}
	return out, nil
}
