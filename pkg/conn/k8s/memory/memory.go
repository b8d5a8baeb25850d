// Package memory is an in-memory CustomResourceStore for tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opst/adminhub/pkg/conn/k8s"
)

type Store struct {
	mu    sync.Mutex
	seq   int
	items map[string]k8s.Item

	// order holds item names oldest first, like the apiserver lists them.
	order []string
}

var _ k8s.CustomResourceStore = &Store{}

func New() *Store {
	return &Store{items: map[string]k8s.Item{}}
}

func clone(item k8s.Item) k8s.Item {
	spec := map[string]any{}
	for k, v := range item.Spec {
		spec[k] = v
	}
	item.Spec = spec
	return item
}

func (s *Store) Get(ctx context.Context, name string) (*k8s.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[name]
	if !ok {
		return nil, k8s.ErrNotFound
	}
	item = clone(item)
	return &item, nil
}

func (s *Store) List(ctx context.Context) ([]k8s.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []k8s.Item{}
	for _, name := range s.order {
		out = append(out, clone(s.items[name]))
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, item k8s.Item) (*k8s.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.Metadata.Name]; ok {
		return nil, k8s.ErrAlreadyExists
	}
	s.seq += 1
	item = clone(item)
	item.Metadata.UID = fmt.Sprintf("uid-%d", s.seq)
	item.Metadata.ResourceVersion = "1"
	item.Metadata.CreationTimestamp = time.Now()
	s.items[item.Metadata.Name] = item
	s.order = append(s.order, item.Metadata.Name)
	created := clone(item)
	return &created, nil
}

func (s *Store) PatchSpec(ctx context.Context, name string, fields map[string]any) (*k8s.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[name]
	if !ok {
		return nil, k8s.ErrNotFound
	}
	item = clone(item)
	for k, v := range fields {
		if v == nil {
			delete(item.Spec, k)
			continue
		}
		item.Spec[k] = v
	}
	s.items[name] = item
	patched := clone(item)
	return &patched, nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[name]; !ok {
		return k8s.ErrNotFound
	}
	delete(s.items, name)
	for nth, n := range s.order {
		if n == name {
			s.order = append(s.order[:nth], s.order[nth+1:]...)
			break
		}
	}
	return nil
}
