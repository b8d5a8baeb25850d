package memory

import (
	"context"
	"sync"

	"github.com/opst/adminhub/pkg/conn/k8s"
)

// SecretStore is an in-memory k8s.SecretStore for tests.
type SecretStore struct {
	mu      sync.Mutex
	secrets map[string]k8s.Secret
}

var _ k8s.SecretStore = &SecretStore{}

func NewSecretStore() *SecretStore {
	return &SecretStore{secrets: map[string]k8s.Secret{}}
}

func (s *SecretStore) Get(ctx context.Context, name string) (*k8s.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	secret, ok := s.secrets[name]
	if !ok {
		return nil, k8s.ErrNotFound
	}
	return &secret, nil
}

func (s *SecretStore) List(ctx context.Context) ([]k8s.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []k8s.Secret{}
	for _, secret := range s.secrets {
		out = append(out, secret)
	}
	return out, nil
}

func (s *SecretStore) Create(ctx context.Context, secret k8s.Secret) (*k8s.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[secret.Name]; ok {
		return nil, k8s.ErrAlreadyExists
	}
	if secret.Type == "" {
		secret.Type = k8s.SecretTypeOpaque
	}
	s.secrets[secret.Name] = secret
	return &secret, nil
}

func (s *SecretStore) Update(ctx context.Context, secret k8s.Secret) (*k8s.Secret, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.secrets[secret.Name]
	if !ok {
		return nil, k8s.ErrNotFound
	}
	if secret.DisplayName != "" {
		current.DisplayName = secret.DisplayName
	}
	if secret.Secret != "" {
		current.Secret = secret.Secret
	}
	if secret.RegistryHost != "" {
		current.RegistryHost = secret.RegistryHost
	}
	if secret.Username != "" {
		current.Username = secret.Username
	}
	if secret.Password != "" {
		current.Password = secret.Password
	}
	s.secrets[secret.Name] = current
	return &current, nil
}

func (s *SecretStore) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[name]; !ok {
		return k8s.ErrNotFound
	}
	delete(s.secrets, name)
	return nil
}
