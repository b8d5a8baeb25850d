package keycloak

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/Nerzal/gocloak/v13"

	"github.com/opst/adminhub/pkg/domain/attrs"
	"github.com/opst/adminhub/pkg/utils/slices"
)

// Config for the Keycloak admin REST connection.
type Config struct {
	BaseURL      string
	Realm        string
	ClientID     string
	ClientSecret string

	// Timeout is the per-call deadline imposed at this boundary. The
	// resolver core itself never cancels; deadlines live here.
	Timeout time.Duration
}

// how many rows we ask the identity store for per list call. The store
// defaults to 100; admin listings materialize everything and page in
// memory, so ask big.
const maxListCount = 10000

type store struct {
	client *gocloak.GoCloak
	conf   Config

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

var _ IdentityStore = &store{}

// New connects the IdentityStore contract to a Keycloak realm via its
// admin REST API, authenticating with client credentials.
func New(conf Config) IdentityStore {
	if conf.Timeout <= 0 {
		conf.Timeout = 30 * time.Second
	}
	return &store{client: gocloak.NewClient(conf.BaseURL), conf: conf}
}

func (s *store) deadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.conf.Timeout)
}

func (s *store) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != "" && time.Now().Add(10*time.Second).Before(s.tokenExpiry) {
		return s.token, nil
	}

	jwt, err := s.client.LoginClient(ctx, s.conf.ClientID, s.conf.ClientSecret, s.conf.Realm)
	if err != nil {
		return "", err
	}
	s.token = jwt.AccessToken
	s.tokenExpiry = time.Now().Add(time.Duration(jwt.ExpiresIn) * time.Second)
	return s.token, nil
}

// translate maps the admin API's HTTP failures onto this package's
// sentinel errors. Other failures pass through as-is.
func translate(err error) error {
	if err == nil {
		return nil
	}
	apiErr := &gocloak.APIError{}
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return ErrNotFound
		case http.StatusConflict:
			return ConflictError{Message: apiErr.Message}
		}
	}
	return err
}

func fromUser(u *gocloak.User) User {
	user := User{
		ID:        deref(u.ID),
		Username:  deref(u.Username),
		Email:     deref(u.Email),
		FirstName: deref(u.FirstName),
		LastName:  deref(u.LastName),
		Enabled:   u.Enabled != nil && *u.Enabled,
		Totp:      u.Totp != nil && *u.Totp,
	}
	if u.FederationLink != nil {
		user.FederationLink = *u.FederationLink
	}
	if u.CreatedTimestamp != nil {
		user.CreatedTimestamp = *u.CreatedTimestamp
	}
	if u.Attributes != nil {
		user.Attributes = attrs.Bag(*u.Attributes)
	}
	return user
}

func toUser(user User) gocloak.User {
	out := gocloak.User{
		Username:  &user.Username,
		Email:     &user.Email,
		FirstName: &user.FirstName,
		LastName:  &user.LastName,
		Enabled:   &user.Enabled,
	}
	if user.ID != "" {
		out.ID = &user.ID
	}
	if user.Attributes != nil {
		a := map[string][]string(user.Attributes)
		out.Attributes = &a
	}
	return out
}

func fromGroup(g *gocloak.Group) Group {
	group := Group{ID: deref(g.ID), Name: deref(g.Name)}
	if g.Attributes != nil {
		group.Attributes = attrs.Bag(*g.Attributes)
	}
	return group
}

func fromRole(r *gocloak.Role) Role {
	return Role{ID: deref(r.ID), Name: deref(r.Name)}
}

func toRoles(role Role) []gocloak.Role {
	return []gocloak.Role{{ID: &role.ID, Name: &role.Name}}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (s *store) FindUsers(ctx context.Context) ([]User, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.client.GetUsers(ctx, token, s.conf.Realm, gocloak.GetUsersParams{
		Max: gocloak.IntP(maxListCount),
	})
	if err != nil {
		return nil, translate(err)
	}
	return slices.Map(users, fromUser), nil
}

func (s *store) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.client.GetUsers(ctx, token, s.conf.Realm, gocloak.GetUsersParams{
		Username: &username,
		Exact:    gocloak.BoolP(true),
	})
	if err != nil {
		return nil, translate(err)
	}
	for _, u := range users {
		if deref(u.Username) == username {
			user := fromUser(u)
			return &user, nil
		}
	}
	return nil, ErrNotFound
}

func (s *store) GetUser(ctx context.Context, id string) (*User, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	u, err := s.client.GetUserByID(ctx, token, s.conf.Realm, id)
	if err != nil {
		return nil, translate(err)
	}
	user := fromUser(u)
	return &user, nil
}

func (s *store) CreateUser(ctx context.Context, user User) (string, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return "", err
	}
	id, err := s.client.CreateUser(ctx, token, s.conf.Realm, toUser(user))
	return id, translate(err)
}

func (s *store) UpdateUser(ctx context.Context, user User) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.UpdateUser(ctx, token, s.conf.Realm, toUser(user)))
}

func (s *store) DeleteUser(ctx context.Context, id string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.DeleteUser(ctx, token, s.conf.Realm, id))
}

func (s *store) RemoveTOTP(ctx context.Context, id string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	creds, err := s.client.GetCredentials(ctx, token, s.conf.Realm, id)
	if err != nil {
		return translate(err)
	}
	for _, c := range creds {
		if c.Type == nil || *c.Type != "otp" || c.ID == nil {
			continue
		}
		if err := s.client.DeleteCredentials(ctx, token, s.conf.Realm, id, *c.ID); err != nil {
			return translate(err)
		}
	}
	return nil
}

func (s *store) ResetPassword(ctx context.Context, id string, password string, temporary bool) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.SetPassword(ctx, token, s.conf.Realm, id, password, temporary))
}

func (s *store) ExecuteActionsEmail(ctx context.Context, id string, lifespan int, actions []string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.ExecuteActionsEmail(ctx, token, s.conf.Realm, gocloak.ExecuteActionsEmail{
		UserID:   &id,
		Lifespan: &lifespan,
		Actions:  &actions,
	}))
}

func (s *store) FindGroups(ctx context.Context) ([]Group, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.client.GetGroups(ctx, token, s.conf.Realm, gocloak.GetGroupsParams{
		Max: gocloak.IntP(maxListCount),
	})
	if err != nil {
		return nil, translate(err)
	}
	return slices.Map(groups, fromGroup), nil
}

func (s *store) GetGroup(ctx context.Context, id string) (*Group, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	g, err := s.client.GetGroup(ctx, token, s.conf.Realm, id)
	if err != nil {
		return nil, translate(err)
	}
	group := fromGroup(g)
	return &group, nil
}

func (s *store) FindGroupByName(ctx context.Context, name string) (*Group, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.client.GetGroups(ctx, token, s.conf.Realm, gocloak.GetGroupsParams{
		Search: &name,
	})
	if err != nil {
		return nil, translate(err)
	}
	for _, g := range groups {
		if deref(g.Name) == name {
			// search does not return attributes; fetch the full group
			return s.GetGroup(ctx, deref(g.ID))
		}
	}
	return nil, ErrNotFound
}

func (s *store) CreateGroup(ctx context.Context, group Group) (string, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return "", err
	}
	g := gocloak.Group{Name: &group.Name}
	if group.Attributes != nil {
		a := map[string][]string(group.Attributes)
		g.Attributes = &a
	}
	id, err := s.client.CreateGroup(ctx, token, s.conf.Realm, g)
	return id, translate(err)
}

func (s *store) UpdateGroup(ctx context.Context, group Group) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	g := gocloak.Group{ID: &group.ID, Name: &group.Name}
	if group.Attributes != nil {
		a := map[string][]string(group.Attributes)
		g.Attributes = &a
	}
	return translate(s.client.UpdateGroup(ctx, token, s.conf.Realm, g))
}

func (s *store) DeleteGroup(ctx context.Context, id string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.DeleteGroup(ctx, token, s.conf.Realm, id))
}

func (s *store) GroupMembers(ctx context.Context, groupID string) ([]User, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.client.GetGroupMembers(ctx, token, s.conf.Realm, groupID, gocloak.GetGroupsParams{
		Max: gocloak.IntP(maxListCount),
	})
	if err != nil {
		return nil, translate(err)
	}
	return slices.Map(users, fromUser), nil
}

func (s *store) UserGroups(ctx context.Context, userID string) ([]Group, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := s.client.GetUserGroups(ctx, token, s.conf.Realm, userID, gocloak.GetGroupsParams{
		Max: gocloak.IntP(maxListCount),
	})
	if err != nil {
		return nil, translate(err)
	}
	return slices.Map(groups, fromGroup), nil
}

func (s *store) AddUserToGroup(ctx context.Context, userID string, groupID string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.AddUserToGroup(ctx, token, s.conf.Realm, userID, groupID))
}

func (s *store) RemoveUserFromGroup(ctx context.Context, userID string, groupID string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.DeleteUserFromGroup(ctx, token, s.conf.Realm, userID, groupID))
}

func (s *store) GetRealmRole(ctx context.Context, name string) (*Role, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	r, err := s.client.GetRealmRole(ctx, token, s.conf.Realm, name)
	if err != nil {
		return nil, translate(err)
	}
	role := fromRole(r)
	return &role, nil
}

func (s *store) CreateRealmRole(ctx context.Context, name string) (Role, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return Role{}, err
	}
	if _, err := s.client.CreateRealmRole(ctx, token, s.conf.Realm, gocloak.Role{Name: &name}); err != nil {
		return Role{}, translate(err)
	}
	created, err := s.client.GetRealmRole(ctx, token, s.conf.Realm, name)
	if err != nil {
		return Role{}, translate(err)
	}
	return fromRole(created), nil
}

func (s *store) DeleteRealmRole(ctx context.Context, name string) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.DeleteRealmRole(ctx, token, s.conf.Realm, name))
}

func (s *store) GroupRealmRoles(ctx context.Context, groupID string) ([]Role, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := s.client.GetRealmRolesByGroupID(ctx, token, s.conf.Realm, groupID)
	if err != nil {
		return nil, translate(err)
	}
	return slices.Map(roles, fromRole), nil
}

func (s *store) UserRealmRoles(ctx context.Context, userID string) ([]Role, error) {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return nil, err
	}
	roles, err := s.client.GetRealmRolesByUserID(ctx, token, s.conf.Realm, userID)
	if err != nil {
		return nil, translate(err)
	}
	return slices.Map(roles, fromRole), nil
}

func (s *store) AddGroupRealmRole(ctx context.Context, groupID string, role Role) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.AddRealmRoleToGroup(ctx, token, s.conf.Realm, groupID, toRoles(role)))
}

func (s *store) RemoveGroupRealmRole(ctx context.Context, groupID string, role Role) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.DeleteRealmRoleFromGroup(ctx, token, s.conf.Realm, groupID, toRoles(role)))
}

func (s *store) AddUserRealmRole(ctx context.Context, userID string, role Role) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.AddRealmRoleToUser(ctx, token, s.conf.Realm, userID, toRoles(role)))
}

func (s *store) RemoveUserRealmRole(ctx context.Context, userID string, role Role) error {
	ctx, cancel := s.deadline(ctx)
	defer cancel()
	token, err := s.accessToken(ctx)
	if err != nil {
		return err
	}
	return translate(s.client.DeleteRealmRoleFromUser(ctx, token, s.conf.Realm, userID, toRoles(role)))
}
