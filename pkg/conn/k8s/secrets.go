package k8s

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// SecretType tells how a secret's payload is laid out in the cluster.
type SecretType string

const (
	// SecretTypeOpaque holds one free-form value under the "secret" key.
	SecretTypeOpaque SecretType = "opaque"

	// SecretTypeDockerConfig is an image pull secret
	// (kubernetes.io/dockerconfigjson).
	SecretTypeDockerConfig SecretType = "kubernetes"
)

// displayNameAnnotation carries the human-facing name; the object name is
// the stable identifier.
const displayNameAnnotation = Group + "/display-name"

type Secret struct {
	Name        string
	DisplayName string
	Type        SecretType

	// Secret is the opaque payload. Only for SecretTypeOpaque.
	Secret string

	// Registry credentials. Only for SecretTypeDockerConfig.
	RegistryHost string
	Username     string
	Password     string
}

// SecretStore reads and writes pull/gitsync secrets in one namespace.
type SecretStore interface {
	Get(ctx context.Context, name string) (*Secret, error)
	List(ctx context.Context) ([]Secret, error)
	Create(ctx context.Context, secret Secret) (*Secret, error)

	// Update overwrites the payload fields present in secret; the type of
	// an existing secret cannot change.
	Update(ctx context.Context, secret Secret) (*Secret, error)

	Delete(ctx context.Context, name string) error
}

type secretStore struct {
	client      kubernetes.Interface
	namespace   string
	callTimeout time.Duration
}

var _ SecretStore = &secretStore{}

func NewSecretStore(client kubernetes.Interface, namespace string, callTimeout time.Duration) SecretStore {
	return &secretStore{client: client, namespace: namespace, callTimeout: callTimeout}
}

func (s *secretStore) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.callTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.callTimeout)
}

type dockerConfig struct {
	Auths map[string]dockerAuth `json:"auths"`
}

type dockerAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Auth     string `json:"auth"`
}

func dockerConfigJSON(host string, username string, password string) ([]byte, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	return json.Marshal(dockerConfig{Auths: map[string]dockerAuth{
		host: {Username: username, Password: password, Auth: auth},
	}})
}

func fromCoreSecret(obj *corev1.Secret) Secret {
	secret := Secret{
		Name:        obj.Name,
		DisplayName: obj.Annotations[displayNameAnnotation],
	}
	switch obj.Type {
	case corev1.SecretTypeDockerConfigJson:
		secret.Type = SecretTypeDockerConfig
		config := dockerConfig{}
		if err := json.Unmarshal(obj.Data[corev1.DockerConfigJsonKey], &config); err == nil {
			for host, auth := range config.Auths {
				secret.RegistryHost = host
				secret.Username = auth.Username
				secret.Password = auth.Password
				if secret.Username == "" && auth.Auth != "" {
					if raw, err := base64.StdEncoding.DecodeString(auth.Auth); err == nil {
						if user, pass, ok := strings.Cut(string(raw), ":"); ok {
							secret.Username, secret.Password = user, pass
						}
					}
				}
				break
			}
		}
	default:
		secret.Type = SecretTypeOpaque
		secret.Secret = string(obj.Data["secret"])
	}
	return secret
}

func toCoreSecret(secret Secret) (*corev1.Secret, error) {
	obj := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:        secret.Name,
			Annotations: map[string]string{displayNameAnnotation: secret.DisplayName},
		},
	}
	switch secret.Type {
	case SecretTypeDockerConfig:
		payload, err := dockerConfigJSON(secret.RegistryHost, secret.Username, secret.Password)
		if err != nil {
			return nil, fmt.Errorf("encoding docker config for secret %s: %w", secret.Name, err)
		}
		obj.Type = corev1.SecretTypeDockerConfigJson
		obj.Data = map[string][]byte{corev1.DockerConfigJsonKey: payload}
	case SecretTypeOpaque, "":
		obj.Type = corev1.SecretTypeOpaque
		obj.Data = map[string][]byte{"secret": []byte(secret.Secret)}
	default:
		return nil, fmt.Errorf("unknown secret type %q", secret.Type)
	}
	return obj, nil
}

func (s *secretStore) Get(ctx context.Context, name string) (*Secret, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	obj, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, name, metav1.GetOptions{})
	if err != nil {
		return nil, translate(err)
	}
	secret := fromCoreSecret(obj)
	return &secret, nil
}

func (s *secretStore) List(ctx context.Context) ([]Secret, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	list, err := s.client.CoreV1().Secrets(s.namespace).List(ctx, metav1.ListOptions{})
	if err != nil {
		return nil, translate(err)
	}
	out := []Secret{}
	for nth := range list.Items {
		obj := &list.Items[nth]
		// only objects this server manages are surfaced
		if _, ok := obj.Annotations[displayNameAnnotation]; !ok {
			continue
		}
		out = append(out, fromCoreSecret(obj))
	}
	return out, nil
}

func (s *secretStore) Create(ctx context.Context, secret Secret) (*Secret, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	obj, err := toCoreSecret(secret)
	if err != nil {
		return nil, err
	}
	created, err := s.client.CoreV1().Secrets(s.namespace).Create(ctx, obj, metav1.CreateOptions{})
	if err != nil {
		return nil, translate(err)
	}
	got := fromCoreSecret(created)
	return &got, nil
}

func (s *secretStore) Update(ctx context.Context, secret Secret) (*Secret, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	current, err := s.client.CoreV1().Secrets(s.namespace).Get(ctx, secret.Name, metav1.GetOptions{})
	if err != nil {
		return nil, translate(err)
	}
	merged := fromCoreSecret(current)
	if secret.DisplayName != "" {
		merged.DisplayName = secret.DisplayName
	}
	if secret.Secret != "" {
		merged.Secret = secret.Secret
	}
	if secret.RegistryHost != "" {
		merged.RegistryHost = secret.RegistryHost
	}
	if secret.Username != "" {
		merged.Username = secret.Username
	}
	if secret.Password != "" {
		merged.Password = secret.Password
	}

	obj, err := toCoreSecret(merged)
	if err != nil {
		return nil, err
	}
	obj.ResourceVersion = current.ResourceVersion
	updated, err := s.client.CoreV1().Secrets(s.namespace).Update(ctx, obj, metav1.UpdateOptions{})
	if err != nil {
		return nil, translate(err)
	}
	got := fromCoreSecret(updated)
	return &got, nil
}

func (s *secretStore) Delete(ctx context.Context, name string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()

	return translate(s.client.CoreV1().Secrets(s.namespace).Delete(ctx, name, metav1.DeleteOptions{}))
}
