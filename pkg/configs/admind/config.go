// Package admind loads the admin server configuration.
package admind

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// ServerPort is the port the API server listens on.
	ServerPort string `yaml:"port"`

	// AdminRole marks administrator accounts. default = "admin"
	AdminRole string `yaml:"adminRole"`

	// EveryoneGroup is the group all users belong to. default = "everyone"
	EveryoneGroup string `yaml:"everyoneGroup"`

	// TokenSecret, when set, verifies bearer token signatures (HS256).
	// Empty trusts the ingress to have verified them.
	TokenSecret string `yaml:"tokenSecret"`

	// AuditDBURI, when set, persists the audit trail to postgres beside
	// the structured log.
	AuditDBURI string `yaml:"auditDBURI"`

	// CallTimeoutSeconds caps each upstream round-trip. default = 30
	CallTimeoutSeconds int `yaml:"callTimeoutSeconds"`

	Keycloak   KeycloakConfig   `yaml:"keycloak"`
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

type KeycloakConfig struct {
	BaseURL      string `yaml:"baseURL"`
	Realm        string `yaml:"realm"`
	ClientID     string `yaml:"clientId"`
	ClientSecret string `yaml:"clientSecret"`
}

type KubernetesConfig struct {
	// Namespace holding the hub custom resources and secrets.
	Namespace string `yaml:"namespace"`

	// Kubeconfig path; empty uses the in-cluster service account.
	Kubeconfig string `yaml:"kubeconfig"`
}

func Load(filepath string) (*Config, error) {
	content, err := os.ReadFile(filepath)
	if err != nil {
		return nil, err
	}
	return Unmarshal(content)
}

func Unmarshal(conf []byte) (*Config, error) {
	out := Config{
		ServerPort:         "8080",
		AdminRole:          "admin",
		EveryoneGroup:      "everyone",
		CallTimeoutSeconds: 30,
	}
	if err := yaml.Unmarshal(conf, &out); err != nil {
		return nil, err
	}
	if out.Keycloak.BaseURL == "" {
		return nil, fmt.Errorf("config: keycloak.baseURL is required")
	}
	if out.Keycloak.Realm == "" {
		return nil, fmt.Errorf("config: keycloak.realm is required")
	}
	if out.Kubernetes.Namespace == "" {
		return nil, fmt.Errorf("config: kubernetes.namespace is required")
	}
	return &out, nil
}
