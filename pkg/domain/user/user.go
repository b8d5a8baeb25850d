// Package user resolves the account entity against the identity store.
//
// Unlike the cluster-backed resources, users live entirely in the
// identity store; this resolver wraps its API with the same record,
// filtering and side-effect conventions the rest of the server uses.
package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/labstack/gommon/log"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/api/types/relay"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/attrs"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/pagination"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/relation"
)

// Schema types the user attributes this server owns.
var Schema = attrs.Schema{
	"volumeCapacity":  attrs.DiskQuota{},
	"annLastReadTime": attrs.Timestamp{},
}

// Config wires one Resolver.
type Config struct {
	Identity    keycloak.IdentityStore
	Permissions permissions.Store

	// AdminRole marks administrators; "isAdmin" reads and writes map to
	// holding it.
	AdminRole string

	// EveryoneGroup is joined automatically on create.
	EveryoneGroup string

	Audit  audit.Recorder
	Logger *log.Logger
}

type Resolver struct {
	identity      keycloak.IdentityStore
	perms         permissions.Store
	adminRole     string
	everyoneGroup string
	audit         audit.Recorder
	logger        *log.Logger
}

func New(config Config) *Resolver {
	adminRole := config.AdminRole
	if adminRole == "" {
		adminRole = "admin"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New("user")
	}
	return &Resolver{
		identity:      config.Identity,
		perms:         config.Permissions,
		adminRole:     adminRole,
		everyoneGroup: config.EveryoneGroup,
		audit:         config.Audit,
		logger:        logger,
	}
}

func (r *Resolver) toRecord(ctx context.Context, user keycloak.User) (domain.Record, error) {
	record := domain.Record{
		"id":        user.ID,
		"username":  user.Username,
		"email":     user.Email,
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"enabled":   user.Enabled,
		"totp":      user.Totp,
	}
	if user.FederationLink != "" {
		record["federationLink"] = user.FederationLink
	}
	if user.CreatedTimestamp != 0 {
		record["createdTimestamp"] = user.CreatedTimestamp
	}

	// a malformed stored attribute degrades to its default on read; the
	// user record stays servable
	attributes, err := attrs.FromBag(Schema, user.Attributes)
	if err != nil {
		r.logger.Warnj(log.JSON{
			"component": "user",
			"userId":    user.ID,
			"warning":   err.Error(),
		})
	}
	record["volumeCapacity"] = attributes.Get("volumeCapacity")

	roles, err := r.perms.UserRoles(ctx, user.ID)
	if err != nil {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("listing roles of user %s failed", user.Username),
			err,
		)
	}
	record["isAdmin"] = false
	for _, role := range roles {
		if role == r.adminRole {
			record["isAdmin"] = true
		}
	}

	groups, err := r.identity.UserGroups(ctx, user.ID)
	if err != nil {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("listing groups of user %s failed", user.Username),
			err,
		)
	}
	members := []domain.Record{}
	for _, group := range groups {
		if group.Name == r.everyoneGroup {
			continue
		}
		members = append(members, domain.Record{
			"id":          group.ID,
			"name":        group.Name,
			"displayName": group.Attributes.First("displayName"),
		})
	}
	record["groups"] = members
	return record, nil
}

// Query lists user records matching the request.
func (r *Resolver) Query(ctx context.Context, request args.ResourceArgs) ([]domain.Record, error) {
	rows, err := r.snapshot(ctx, request)
	if err != nil {
		return nil, err
	}
	p, err := request.Pagination()
	if err != nil {
		return nil, err
	}
	paged, err := pagination.Paginate(rows, p)
	if err != nil {
		return nil, err
	}
	return paged.Items, nil
}

// ConnectionQuery is Query shaped as a relay connection.
func (r *Resolver) ConnectionQuery(ctx context.Context, request args.ResourceArgs) (relay.Connection[domain.Record], error) {
	rows, err := r.snapshot(ctx, request)
	if err != nil {
		return relay.Connection[domain.Record]{}, err
	}
	p, err := request.Pagination()
	if err != nil {
		return relay.Connection[domain.Record]{}, err
	}
	return pagination.ToRelay(rows, p)
}

func (r *Resolver) snapshot(ctx context.Context, request args.ResourceArgs) ([]domain.Record, error) {
	users, err := r.identity.FindUsers(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "listing users failed", err)
	}
	rows := make([]domain.Record, 0, len(users))
	for _, user := range users {
		record, err := r.toRecord(ctx, user)
		if err != nil {
			return nil, err
		}
		rows = append(rows, record)
	}
	rows = pagination.Filter(rows, request.Where)
	rows = pagination.Sort(rows, request.OrderBy)
	return rows, nil
}

// QueryOne fetches one user by id; a missing user is (nil, nil).
func (r *Resolver) QueryOne(ctx context.Context, id string) (domain.Record, error) {
	user, err := r.identity.GetUser(ctx, id)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting user %s failed", id), err)
	}
	return r.toRecord(ctx, *user)
}

// translateConflict maps the identity store's 409 wording onto the API's
// duplicate codes. The store reports both duplicates the same way apart
// from the message text, so sniffing it is the only discriminator.
func translateConflict(err error, username string) error {
	conflict := keycloak.ConflictError{}
	if !errors.As(err, &conflict) {
		return apierr.Wrap(apierr.UpstreamError, "identity store rejected the write", err)
	}
	message := strings.ToLower(conflict.Message)
	switch {
	case strings.Contains(message, "username"):
		return apierr.Wrap(apierr.UserConflictUsername, fmt.Sprintf("username %s is taken", username), err)
	case strings.Contains(message, "email"):
		return apierr.Wrap(apierr.UserConflictEmail, "email is taken", err)
	default:
		return apierr.Wrap(apierr.UpstreamError, "identity store rejected the write", err)
	}
}

// Create registers a user. Everything after the account write (group
// joins, the admin role, the invitation email) is a side effect: failures
// are audited and logged, not surfaced.
func (r *Resolver) Create(ctx context.Context, actor auth.Actor, data map[string]any) (domain.Record, error) {
	username, _ := data["username"].(string)
	if username == "" {
		return nil, apierr.New(apierr.MalformedAttribute, "username is required and must be a string")
	}

	attributes := attrs.New(Schema)
	attributes.MergeWithData(data)
	bag, err := attributes.ToBag()
	if err != nil {
		return nil, err
	}

	user := keycloak.User{
		Username:   username,
		Enabled:    true,
		Attributes: bag,
	}
	if v, ok := data["email"].(string); ok {
		user.Email = v
	}
	if v, ok := data["firstName"].(string); ok {
		user.FirstName = v
	}
	if v, ok := data["lastName"].(string); ok {
		user.LastName = v
	}
	if v, ok := data["enabled"].(bool); ok {
		user.Enabled = v
	}

	id, err := r.identity.CreateUser(ctx, user)
	if err != nil {
		return nil, translateConflict(err, username)
	}
	r.record(ctx, actor, "CREATE", username, "")

	if r.everyoneGroup != "" {
		if everyone, err := r.identity.FindGroupByName(ctx, r.everyoneGroup); err != nil {
			r.swallow(ctx, actor, audit.TypeFailConnectGroup, username, err)
		} else if err := r.identity.AddUserToGroup(ctx, id, everyone.ID); err != nil {
			r.swallow(ctx, actor, audit.TypeFailConnectGroup, username, err)
		}
	}

	r.applySideEffects(ctx, actor, id, username, data)

	if sendEmail, _ := data["sendEmail"].(bool); sendEmail {
		actions := resetActions(data)
		expiresIn := intOr(data["expiresIn"], 86400)
		if err := r.identity.ExecuteActionsEmail(ctx, id, expiresIn, actions); err != nil {
			r.swallow(ctx, actor, audit.TypeFailSendEmail, username, err)
		}
	}

	return r.QueryOne(ctx, id)
}

// Update patches a user's account fields, attributes, admin flag and
// group memberships.
func (r *Resolver) Update(ctx context.Context, actor auth.Actor, id string, data map[string]any) (domain.Record, error) {
	user, err := r.identity.GetUser(ctx, id)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("user %s does not exist", id))
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting user %s failed", id), err)
	}

	if v, ok := data["email"].(string); ok {
		user.Email = v
	}
	if v, ok := data["firstName"].(string); ok {
		user.FirstName = v
	}
	if v, ok := data["lastName"].(string); ok {
		user.LastName = v
	}
	if v, ok := data["enabled"].(bool); ok {
		user.Enabled = v
	}

	attributes, aerr := attrs.FromBag(Schema, user.Attributes)
	if aerr != nil {
		r.logger.Warnj(log.JSON{"component": "user", "userId": id, "warning": aerr.Error()})
	}
	attributes.MergeWithData(data)
	bag, err := attributes.ToBag()
	if err != nil {
		return nil, err
	}
	user.Attributes = bag

	if err := r.identity.UpdateUser(ctx, *user); err != nil {
		return nil, translateConflict(err, user.Username)
	}
	r.record(ctx, actor, "UPDATE", user.Username, "")

	if totp, ok := data["totp"].(bool); ok && !totp && user.Totp {
		if err := r.identity.RemoveTOTP(ctx, id); err != nil {
			r.swallow(ctx, actor, audit.TypeFailRemoveTOTP, user.Username, err)
		}
	}

	r.applySideEffects(ctx, actor, id, user.Username, data)

	return r.QueryOne(ctx, id)
}

// applySideEffects wires the admin role and group connections; failures
// are swallowed per the side-effect policy.
func (r *Resolver) applySideEffects(ctx context.Context, actor auth.Actor, id string, username string, data map[string]any) {
	if isAdmin, ok := data["isAdmin"].(bool); ok {
		var err error
		if isAdmin {
			err = r.perms.GrantUser(ctx, id, r.adminRole)
		} else {
			err = r.perms.RevokeUser(ctx, id, r.adminRole)
		}
		if err != nil {
			r.swallow(ctx, actor, audit.TypeFailAssignAdmin, username, err)
		}
	}

	err := relation.Mutate(
		ctx,
		relation.DiffOf(data["groups"]),
		func(ctx context.Context, ref relation.Ref) error {
			return r.identity.AddUserToGroup(ctx, id, ref.ID)
		},
		func(ctx context.Context, ref relation.Ref) error {
			return r.identity.RemoveUserFromGroup(ctx, id, ref.ID)
		},
	)
	if err != nil {
		r.swallow(ctx, actor, audit.TypeFailConnectGroup, username, err)
	}
}

// Destroy deletes the user, returning their last record.
func (r *Resolver) Destroy(ctx context.Context, actor auth.Actor, id string) (domain.Record, error) {
	record, err := r.QueryOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("user %s does not exist", id))
	}

	if err := r.identity.DeleteUser(ctx, id); err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("deleting user %s failed", id), err)
	}
	username, _ := record["username"].(string)
	r.record(ctx, actor, "DELETE", username, "")
	return record, nil
}

// ResetPassword sets a new password, optionally temporary (the user must
// change it on next login).
func (r *Resolver) ResetPassword(ctx context.Context, actor auth.Actor, id string, password string, temporary bool) error {
	if password == "" {
		return apierr.New(apierr.MalformedAttribute, "password must not be empty")
	}
	if err := r.identity.ResetPassword(ctx, id, password, temporary); err != nil {
		return apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("resetting password of user %s failed", id), err)
	}
	r.record(ctx, actor, "RESET_PASSWORD", id, "")
	return nil
}

// SendEmail sends one user an actions email. A user without an email
// address is reported as USER_EMAIL_NOT_EXIST.
func (r *Resolver) SendEmail(ctx context.Context, actor auth.Actor, id string, expiresIn int, actions []string) error {
	user, err := r.identity.GetUser(ctx, id)
	if err != nil {
		return apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting user %s failed", id), err)
	}
	if user.Email == "" {
		return apierr.New(apierr.UserEmailNotExist, fmt.Sprintf("user %s has no email address", user.Username))
	}
	if expiresIn <= 0 {
		expiresIn = 86400
	}
	if err := r.identity.ExecuteActionsEmail(ctx, id, expiresIn, actions); err != nil {
		return apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("sending email to user %s failed", user.Username), err)
	}
	r.record(ctx, actor, "SEND_EMAIL", user.Username, "")
	return nil
}

// MultiEmailResult reports a fan-out: which users got mail and which did
// not, with the reason.
type MultiEmailResult struct {
	Sent   []string          `json:"sent"`
	Failed map[string]string `json:"failed"`
}

// SendMultiEmail fans an actions email out to many users concurrently.
// One user failing never stops the others; the result carries both lists
// and the call itself only errors on malformed input.
func (r *Resolver) SendMultiEmail(ctx context.Context, actor auth.Actor, ids []string, expiresIn int, actions []string) (MultiEmailResult, error) {
	if len(ids) == 0 {
		return MultiEmailResult{Sent: []string{}, Failed: map[string]string{}}, nil
	}
	if expiresIn <= 0 {
		expiresIn = 86400
	}

	mu := sync.Mutex{}
	result := MultiEmailResult{Sent: []string{}, Failed: map[string]string{}}

	wg := sync.WaitGroup{}
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			err := r.SendEmail(ctx, actor, id, expiresIn, actions)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[id] = err.Error()
				return
			}
			result.Sent = append(result.Sent, id)
		}(id)
	}
	wg.Wait()

	for id, reason := range result.Failed {
		r.swallow(ctx, actor, audit.TypeFailSendEmail, id, fmt.Errorf("%s", reason))
	}
	return result, nil
}

func resetActions(data map[string]any) []string {
	raw, ok := data["resetActions"].([]any)
	if !ok {
		return []string{"VERIFY_EMAIL", "UPDATE_PASSWORD"}
	}
	actions := []string{}
	for _, a := range raw {
		if s, ok := a.(string); ok {
			actions = append(actions, s)
		}
	}
	return actions
}

func intOr(v any, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}

func (r *Resolver) swallow(ctx context.Context, actor auth.Actor, typ string, target string, err error) {
	r.logger.Errorj(log.JSON{
		"component": "user",
		"type":      typ,
		"target":    target,
		"error":     err.Error(),
	})
	r.record(ctx, actor, typ, target, err.Error())
}

func (r *Resolver) record(ctx context.Context, actor auth.Actor, typ string, target string, detail string) {
	if r.audit == nil {
		return
	}
	err := r.audit.Record(ctx, audit.Entry{
		Component: "user",
		Type:      typ,
		UserID:    actor.UserID,
		Username:  actor.Username,
		Target:    target,
		Detail:    detail,
	})
	if err != nil {
		r.logger.Errorj(log.JSON{
			"component": "user",
			"type":      typ,
			"target":    target,
			"error":     "audit record failed: " + err.Error(),
		})
	}
}
