// Package keycloak declares the identity store contract this server
// depends on, and provides the Keycloak admin REST implementation.
//
// The interface is the subset of the identity provider's admin API the
// resolver core actually calls; keep it minimal and grow it only when a
// caller needs more.
package keycloak

import (
	"context"
	"errors"
	"fmt"

	"github.com/opst/adminhub/pkg/domain/attrs"
)

// ErrNotFound is returned when the target user/group/role does not exist.
var ErrNotFound = errors.New("not found in identity store")

// ConflictError is returned when the identity store refuses a write with
// a 409-class response (duplicate username/email and the like). Message
// is the store's own wording; callers inspect it to tell the duplicate
// apart.
type ConflictError struct {
	Message string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("identity store conflict: %s", e.Message)
}

type User struct {
	ID               string
	Username         string
	Email            string
	FirstName        string
	LastName         string
	Enabled          bool
	Totp             bool
	FederationLink   string
	CreatedTimestamp int64
	Attributes       attrs.Bag
}

type Group struct {
	ID         string
	Name       string
	Attributes attrs.Bag
}

type Role struct {
	ID   string
	Name string
}

// IdentityStore is the call contract against the external user/group/role
// directory. All writes are immediate; there is no transaction spanning
// calls, so invariants across calls are best-effort by ordered sequencing.
type IdentityStore interface {
	FindUsers(ctx context.Context) ([]User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	GetUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, user User) (string, error)
	UpdateUser(ctx context.Context, user User) error
	DeleteUser(ctx context.Context, id string) error
	RemoveTOTP(ctx context.Context, id string) error
	ResetPassword(ctx context.Context, id string, password string, temporary bool) error

	// ExecuteActionsEmail sends the user an email requiring the given
	// actions (verify email, update password, ...), valid for lifespan
	// seconds.
	ExecuteActionsEmail(ctx context.Context, id string, lifespan int, actions []string) error

	FindGroups(ctx context.Context) ([]Group, error)
	GetGroup(ctx context.Context, id string) (*Group, error)
	FindGroupByName(ctx context.Context, name string) (*Group, error)
	CreateGroup(ctx context.Context, group Group) (string, error)
	UpdateGroup(ctx context.Context, group Group) error
	DeleteGroup(ctx context.Context, id string) error
	GroupMembers(ctx context.Context, groupID string) ([]User, error)
	UserGroups(ctx context.Context, userID string) ([]Group, error)
	AddUserToGroup(ctx context.Context, userID string, groupID string) error
	RemoveUserFromGroup(ctx context.Context, userID string, groupID string) error

	GetRealmRole(ctx context.Context, name string) (*Role, error)
	CreateRealmRole(ctx context.Context, name string) (Role, error)
	DeleteRealmRole(ctx context.Context, name string) error
	GroupRealmRoles(ctx context.Context, groupID string) ([]Role, error)
	UserRealmRoles(ctx context.Context, userID string) ([]Role, error)
	AddGroupRealmRole(ctx context.Context, groupID string, role Role) error
	RemoveGroupRealmRole(ctx context.Context, groupID string, role Role) error
	AddUserRealmRole(ctx context.Context, userID string, role Role) error
	RemoveUserRealmRole(ctx context.Context, userID string, role Role) error
}
