// Package permissions maps resource visibility onto identity-store realm
// roles.
//
// Access to a resource is modelled as a realm role named
// "<prefix>:<resource name>"; a group (or user) can see the resource iff
// it carries that role. This package hides the role bookkeeping behind a
// Store so the resolver engine never touches role objects directly.
package permissions

import (
	"context"
	"errors"

	"github.com/opst/adminhub/pkg/conn/keycloak"
	"github.com/opst/adminhub/pkg/utils/slices"
)

// Store grants and revokes named permissions. All operations are
// idempotent: granting a permission twice, or revoking one never granted,
// succeeds without effect.
type Store interface {
	// EnsureRole makes the backing role exist.
	EnsureRole(ctx context.Context, role string) error

	// DeleteRole removes the backing role and with it every grant.
	// Deleting an absent role is not an error.
	DeleteRole(ctx context.Context, role string) error

	GrantGroup(ctx context.Context, groupID string, role string) error
	RevokeGroup(ctx context.Context, groupID string, role string) error
	GroupRoles(ctx context.Context, groupID string) ([]string, error)

	GrantUser(ctx context.Context, userID string, role string) error
	RevokeUser(ctx context.Context, userID string, role string) error
	UserRoles(ctx context.Context, userID string) ([]string, error)
}

type store struct {
	identity keycloak.IdentityStore
}

var _ Store = &store{}

func New(identity keycloak.IdentityStore) Store {
	return &store{identity: identity}
}

// ensureRole fetches the role, creating it when absent. A create losing a
// race to a concurrent creator falls back to re-fetching.
func (s *store) ensureRole(ctx context.Context, role string) (keycloak.Role, error) {
	found, err := s.identity.GetRealmRole(ctx, role)
	if err == nil {
		return *found, nil
	}
	if !errors.Is(err, keycloak.ErrNotFound) {
		return keycloak.Role{}, err
	}

	created, err := s.identity.CreateRealmRole(ctx, role)
	if err == nil {
		return created, nil
	}
	conflict := keycloak.ConflictError{}
	if errors.As(err, &conflict) {
		found, err := s.identity.GetRealmRole(ctx, role)
		if err != nil {
			return keycloak.Role{}, err
		}
		return *found, nil
	}
	return keycloak.Role{}, err
}

func (s *store) EnsureRole(ctx context.Context, role string) error {
	_, err := s.ensureRole(ctx, role)
	return err
}

func (s *store) DeleteRole(ctx context.Context, role string) error {
	err := s.identity.DeleteRealmRole(ctx, role)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil
	}
	return err
}

func (s *store) GrantGroup(ctx context.Context, groupID string, role string) error {
	r, err := s.ensureRole(ctx, role)
	if err != nil {
		return err
	}
	return s.identity.AddGroupRealmRole(ctx, groupID, r)
}

func (s *store) RevokeGroup(ctx context.Context, groupID string, role string) error {
	r, err := s.identity.GetRealmRole(ctx, role)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.identity.RemoveGroupRealmRole(ctx, groupID, *r)
}

func (s *store) GroupRoles(ctx context.Context, groupID string) ([]string, error) {
	roles, err := s.identity.GroupRealmRoles(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return slices.Map(roles, func(r keycloak.Role) string { return r.Name }), nil
}

func (s *store) GrantUser(ctx context.Context, userID string, role string) error {
	r, err := s.ensureRole(ctx, role)
	if err != nil {
		return err
	}
	return s.identity.AddUserRealmRole(ctx, userID, r)
}

func (s *store) RevokeUser(ctx context.Context, userID string, role string) error {
	r, err := s.identity.GetRealmRole(ctx, role)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.identity.RemoveUserRealmRole(ctx, userID, *r)
}

func (s *store) UserRoles(ctx context.Context, userID string) ([]string, error) {
	roles, err := s.identity.UserRealmRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	return slices.Map(roles, func(r keycloak.Role) string { return r.Name }), nil
}
