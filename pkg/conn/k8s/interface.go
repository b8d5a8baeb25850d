// Package k8s declares the custom-resource store contract and provides
// the kubernetes-backed implementation.
//
// Entities whose source of truth is the cluster (images, instance types,
// datasets, announcements) are each one custom resource kind under the
// hub.opst.io group. This package only moves named spec documents in and
// out of the cluster; interpreting a spec is the owning entity package's
// job.
package k8s

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the named resource does not exist.
var ErrNotFound = errors.New("custom resource not found")

// ErrAlreadyExists is returned when creating a resource whose name is taken.
var ErrAlreadyExists = errors.New("custom resource already exists")

// Metadata is the subset of object metadata the resolver layer reads.
type Metadata struct {
	Name              string
	UID               string
	ResourceVersion   string
	CreationTimestamp time.Time
}

// Item is one custom resource: its metadata and its free-form spec.
type Item struct {
	Metadata Metadata
	Spec     map[string]any
}

// CustomResourceStore reads and writes one custom resource kind within one
// namespace. Names are unique per kind; there is no cross-kind operation.
type CustomResourceStore interface {
	Get(ctx context.Context, name string) (*Item, error)
	List(ctx context.Context) ([]Item, error)

	// Create writes a new resource. ErrAlreadyExists when name is taken.
	Create(ctx context.Context, item Item) (*Item, error)

	// PatchSpec merge-patches fields into the resource's spec. A nil field
	// value removes that field. Returns the resource after patching.
	PatchSpec(ctx context.Context, name string, fields map[string]any) (*Item, error)

	Delete(ctx context.Context, name string) error
}
