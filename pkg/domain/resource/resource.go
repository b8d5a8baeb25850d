// Package resource is the shared CRUD engine for entities whose records
// live in the cluster as custom resources and whose visibility lives in
// the identity store as roles.
//
// Each entity plugs in an Adapter (spec <-> record mapping) and optional
// Hooks. The engine owns what is common to all of them: listing with
// filter/sort/pagination, the global flag, group connections, role
// bookkeeping, and the audit trail for side effects that failed without
// failing the request.
package resource

import (
	"context"

	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/domain"
)

// Adapter maps one custom resource kind onto API records.
type Adapter interface {
	// Kind is the entity name used in audit entries and error messages.
	Kind() string

	// RolePrefix prefixes the per-resource visibility role
	// ("<prefix>:<name>").
	RolePrefix() string

	// ToRecord renders a stored item as an API record. The engine adds
	// "global" and "groups" afterwards; adapters must not.
	ToRecord(item k8s.Item) domain.Record

	// NewSpec builds the spec for a fresh resource from mutation data.
	// Unknown keys are the adapter's to reject or ignore.
	NewSpec(name string, data map[string]any) (map[string]any, error)

	// SpecPatch builds the merge-patch fields for an update, given the
	// currently stored spec. A nil field value removes that field.
	SpecPatch(current map[string]any, data map[string]any) (map[string]any, error)
}

// Hooks lets an entity run extra work around engine operations.
//
// Before* errors abort the operation. After* errors do NOT: the write has
// already happened, so the engine swallows them, records an audit entry
// and returns success. Embed NopHooks to implement only some.
type Hooks interface {
	BeforeCreate(ctx context.Context, data map[string]any) error
	AfterCreate(ctx context.Context, record domain.Record, data map[string]any) error
	BeforeUpdate(ctx context.Context, name string, data map[string]any) error
	AfterUpdate(ctx context.Context, record domain.Record, data map[string]any) error
	BeforeDelete(ctx context.Context, name string) error
	AfterDelete(ctx context.Context, name string) error
}

type NopHooks struct{}

var _ Hooks = NopHooks{}

func (NopHooks) BeforeCreate(ctx context.Context, data map[string]any) error {
	return nil
}
func (NopHooks) AfterCreate(ctx context.Context, record domain.Record, data map[string]any) error {
	return nil
}
func (NopHooks) BeforeUpdate(ctx context.Context, name string, data map[string]any) error {
	return nil
}
func (NopHooks) AfterUpdate(ctx context.Context, record domain.Record, data map[string]any) error {
	return nil
}
func (NopHooks) BeforeDelete(ctx context.Context, name string) error {
	return nil
}
func (NopHooks) AfterDelete(ctx context.Context, name string) error {
	return nil
}
