package mock

import (
	"context"
	"testing"

	"github.com/opst/adminhub/pkg/domain/permissions"
)

type Call[T any] []T

func (c Call[T]) Times() int {
	return len(c)
}

type Grant struct {
	SubjectID string
	Role      string
}

func New(t *testing.T) *MockStore {
	return &MockStore{t: t}
}

// MockStore fails the test when a method without an Impl is called.
type MockStore struct {
	t    *testing.T
	Impl struct {
		EnsureRole  func(ctx context.Context, role string) error
		DeleteRole  func(ctx context.Context, role string) error
		GrantGroup  func(ctx context.Context, groupID string, role string) error
		RevokeGroup func(ctx context.Context, groupID string, role string) error
		GroupRoles  func(ctx context.Context, groupID string) ([]string, error)
		GrantUser   func(ctx context.Context, userID string, role string) error
		RevokeUser  func(ctx context.Context, userID string, role string) error
		UserRoles   func(ctx context.Context, userID string) ([]string, error)
	}
	Calls struct {
		EnsureRole  Call[string]
		DeleteRole  Call[string]
		GrantGroup  Call[Grant]
		RevokeGroup Call[Grant]
		GroupRoles  Call[string]
		GrantUser   Call[Grant]
		RevokeUser  Call[Grant]
		UserRoles   Call[string]
	}
}

var _ permissions.Store = &MockStore{}

func (m *MockStore) fatal(message string) {
	if m.t != nil {
		m.t.Fatal(message)
		return
	}
	panic(message)
}

func (m *MockStore) EnsureRole(ctx context.Context, role string) error {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.EnsureRole = append(m.Calls.EnsureRole, role)
	if m.Impl.EnsureRole != nil {
		return m.Impl.EnsureRole(ctx, role)
	}
	m.fatal("EnsureRole should not be called")
	return nil
}

func (m *MockStore) DeleteRole(ctx context.Context, role string) error {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.DeleteRole = append(m.Calls.DeleteRole, role)
	if m.Impl.DeleteRole != nil {
		return m.Impl.DeleteRole(ctx, role)
	}
	m.fatal("DeleteRole should not be called")
	return nil
}

func (m *MockStore) GrantGroup(ctx context.Context, groupID string, role string) error {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.GrantGroup = append(m.Calls.GrantGroup, Grant{SubjectID: groupID, Role: role})
	if m.Impl.GrantGroup != nil {
		return m.Impl.GrantGroup(ctx, groupID, role)
	}
	m.fatal("GrantGroup should not be called")
	return nil
}

func (m *MockStore) RevokeGroup(ctx context.Context, groupID string, role string) error {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.RevokeGroup = append(m.Calls.RevokeGroup, Grant{SubjectID: groupID, Role: role})
	if m.Impl.RevokeGroup != nil {
		return m.Impl.RevokeGroup(ctx, groupID, role)
	}
	m.fatal("RevokeGroup should not be called")
	return nil
}

func (m *MockStore) GroupRoles(ctx context.Context, groupID string) ([]string, error) {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.GroupRoles = append(m.Calls.GroupRoles, groupID)
	if m.Impl.GroupRoles != nil {
		return m.Impl.GroupRoles(ctx, groupID)
	}
	m.fatal("GroupRoles should not be called")
	return nil, nil
}

func (m *MockStore) GrantUser(ctx context.Context, userID string, role string) error {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.GrantUser = append(m.Calls.GrantUser, Grant{SubjectID: userID, Role: role})
	if m.Impl.GrantUser != nil {
		return m.Impl.GrantUser(ctx, userID, role)
	}
	m.fatal("GrantUser should not be called")
	return nil
}

func (m *MockStore) RevokeUser(ctx context.Context, userID string, role string) error {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.RevokeUser = append(m.Calls.RevokeUser, Grant{SubjectID: userID, Role: role})
	if m.Impl.RevokeUser != nil {
		return m.Impl.RevokeUser(ctx, userID, role)
	}
	m.fatal("RevokeUser should not be called")
	return nil
}

func (m *MockStore) UserRoles(ctx context.Context, userID string) ([]string, error) {
	if m.t != nil {
		m.t.Helper()
	}
	m.Calls.UserRoles = append(m.Calls.UserRoles, userID)
	if m.Impl.UserRoles != nil {
		return m.Impl.UserRoles(ctx, userID)
	}
	m.fatal("UserRoles should not be called")
	return nil, nil
}
