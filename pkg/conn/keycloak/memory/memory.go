// Package memory is an in-memory IdentityStore for tests and local
// development. It mimics the store's observable behavior where the
// resolver core depends on it: 409-style conflicts on duplicate
// username/email, not-found sentinels, idempotency of membership and
// role-mapping writes.
package memory

import (
	"context"
	"fmt"
	"sync"

	kc "github.com/opst/adminhub/pkg/conn/keycloak"
)

type Store struct {
	mu sync.Mutex

	seq        int
	users      map[string]kc.User
	groups     map[string]kc.Group
	roles      map[string]kc.Role            // role name -> role
	membership map[string]map[string]bool    // groupID -> userID set
	groupRoles map[string]map[string]kc.Role // groupID -> role name -> role
	userRoles  map[string]map[string]kc.Role // userID -> role name -> role

	// Emails records every ExecuteActionsEmail call, newest last.
	Emails []EmailRequest

	// FailEmailFor makes ExecuteActionsEmail fail for those user ids.
	FailEmailFor map[string]bool
}

type EmailRequest struct {
	UserID   string
	Lifespan int
	Actions  []string
}

var _ kc.IdentityStore = &Store{}

func New() *Store {
	return &Store{
		users:        map[string]kc.User{},
		groups:       map[string]kc.Group{},
		roles:        map[string]kc.Role{},
		membership:   map[string]map[string]bool{},
		groupRoles:   map[string]map[string]kc.Role{},
		userRoles:    map[string]map[string]kc.Role{},
		FailEmailFor: map[string]bool{},
	}
}

func (s *Store) nextID(kind string) string {
	s.seq += 1
	return fmt.Sprintf("%s-%d", kind, s.seq)
}

func (s *Store) FindUsers(ctx context.Context) ([]kc.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []kc.User{}
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *Store) FindUserByUsername(ctx context.Context, username string) (*kc.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			found := u
			return &found, nil
		}
	}
	return nil, kc.ErrNotFound
}

func (s *Store) GetUser(ctx context.Context, id string) (*kc.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, kc.ErrNotFound
	}
	return &u, nil
}

func (s *Store) CreateUser(ctx context.Context, user kc.User) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == user.Username {
			return "", kc.ConflictError{Message: "User exists with same username"}
		}
		if user.Email != "" && u.Email == user.Email {
			return "", kc.ConflictError{Message: "User exists with same email"}
		}
	}
	user.ID = s.nextID("user")
	s.users[user.ID] = user
	return user.ID, nil
}

func (s *Store) UpdateUser(ctx context.Context, user kc.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.users[user.ID]
	if !ok {
		return kc.ErrNotFound
	}
	for id, u := range s.users {
		if id != user.ID && user.Email != "" && u.Email == user.Email {
			return kc.ConflictError{Message: "User exists with same email"}
		}
	}
	user.CreatedTimestamp = current.CreatedTimestamp
	s.users[user.ID] = user
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return kc.ErrNotFound
	}
	delete(s.users, id)
	for _, members := range s.membership {
		delete(members, id)
	}
	delete(s.userRoles, id)
	return nil
}

func (s *Store) RemoveTOTP(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return kc.ErrNotFound
	}
	u.Totp = false
	s.users[id] = u
	return nil
}

func (s *Store) ResetPassword(ctx context.Context, id string, password string, temporary bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return kc.ErrNotFound
	}
	return nil
}

func (s *Store) ExecuteActionsEmail(ctx context.Context, id string, lifespan int, actions []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return kc.ErrNotFound
	}
	if s.FailEmailFor[id] {
		return fmt.Errorf("smtp refused mail for %s", id)
	}
	s.Emails = append(s.Emails, EmailRequest{UserID: id, Lifespan: lifespan, Actions: actions})
	return nil
}

func (s *Store) FindGroups(ctx context.Context) ([]kc.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []kc.Group{}
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out, nil
}

func (s *Store) GetGroup(ctx context.Context, id string) (*kc.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, kc.ErrNotFound
	}
	return &g, nil
}

func (s *Store) FindGroupByName(ctx context.Context, name string) (*kc.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == name {
			found := g
			return &found, nil
		}
	}
	return nil, kc.ErrNotFound
}

func (s *Store) CreateGroup(ctx context.Context, group kc.Group) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.groups {
		if g.Name == group.Name {
			return "", kc.ConflictError{Message: "Top level group named " + group.Name + " already exists."}
		}
	}
	group.ID = s.nextID("group")
	s.groups[group.ID] = group
	return group.ID, nil
}

func (s *Store) UpdateGroup(ctx context.Context, group kc.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; !ok {
		return kc.ErrNotFound
	}
	s.groups[group.ID] = group
	return nil
}

func (s *Store) DeleteGroup(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return kc.ErrNotFound
	}
	delete(s.groups, id)
	delete(s.membership, id)
	delete(s.groupRoles, id)
	return nil
}

func (s *Store) GroupMembers(ctx context.Context, groupID string) ([]kc.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, kc.ErrNotFound
	}
	out := []kc.User{}
	for userID := range s.membership[groupID] {
		out = append(out, s.users[userID])
	}
	return out, nil
}

func (s *Store) UserGroups(ctx context.Context, userID string) ([]kc.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, kc.ErrNotFound
	}
	out := []kc.Group{}
	for groupID, members := range s.membership {
		if members[userID] {
			out = append(out, s.groups[groupID])
		}
	}
	return out, nil
}

func (s *Store) AddUserToGroup(ctx context.Context, userID string, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return kc.ErrNotFound
	}
	if _, ok := s.groups[groupID]; !ok {
		return kc.ErrNotFound
	}
	if s.membership[groupID] == nil {
		s.membership[groupID] = map[string]bool{}
	}
	s.membership[groupID][userID] = true
	return nil
}

func (s *Store) RemoveUserFromGroup(ctx context.Context, userID string, groupID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return kc.ErrNotFound
	}
	delete(s.membership[groupID], userID)
	return nil
}

func (s *Store) GetRealmRole(ctx context.Context, name string) (*kc.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.roles[name]
	if !ok {
		return nil, kc.ErrNotFound
	}
	return &r, nil
}

func (s *Store) CreateRealmRole(ctx context.Context, name string) (kc.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; ok {
		return kc.Role{}, kc.ConflictError{Message: "Role with name " + name + " already exists"}
	}
	role := kc.Role{ID: s.nextID("role"), Name: name}
	s.roles[name] = role
	return role, nil
}

func (s *Store) DeleteRealmRole(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[name]; !ok {
		return kc.ErrNotFound
	}
	delete(s.roles, name)
	for _, mapped := range s.groupRoles {
		delete(mapped, name)
	}
	for _, mapped := range s.userRoles {
		delete(mapped, name)
	}
	return nil
}

func (s *Store) GroupRealmRoles(ctx context.Context, groupID string) ([]kc.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return nil, kc.ErrNotFound
	}
	out := []kc.Role{}
	for _, r := range s.groupRoles[groupID] {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) UserRealmRoles(ctx context.Context, userID string) ([]kc.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return nil, kc.ErrNotFound
	}
	out := []kc.Role{}
	for _, r := range s.userRoles[userID] {
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) AddGroupRealmRole(ctx context.Context, groupID string, role kc.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return kc.ErrNotFound
	}
	if s.groupRoles[groupID] == nil {
		s.groupRoles[groupID] = map[string]kc.Role{}
	}
	s.groupRoles[groupID][role.Name] = role
	return nil
}

func (s *Store) RemoveGroupRealmRole(ctx context.Context, groupID string, role kc.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[groupID]; !ok {
		return kc.ErrNotFound
	}
	delete(s.groupRoles[groupID], role.Name)
	return nil
}

func (s *Store) AddUserRealmRole(ctx context.Context, userID string, role kc.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return kc.ErrNotFound
	}
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = map[string]kc.Role{}
	}
	s.userRoles[userID][role.Name] = role
	return nil
}

func (s *Store) RemoveUserRealmRole(ctx context.Context, userID string, role kc.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return kc.ErrNotFound
	}
	delete(s.userRoles[userID], role.Name)
	return nil
}
