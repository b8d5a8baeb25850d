// Package group resolves the workgroup entity: identity-store groups
// carrying resource quotas in their attributes.
package group

import (
	"context"
	"errors"
	"fmt"
	"strings"

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
	"github.com/opst/adminhub/pkg/domain/relation"
)

// Schema types the group attributes this server owns. Quotas default to
// nil, the unlimited mark.
var Schema = attrs.Schema{
	"displayName":          attrs.String{},
	"quotaCpu":             attrs.Float{},
	"quotaGpu":             attrs.Int{},
	"quotaMemory":          attrs.DiskQuota{},
	"projectQuotaCpu":      attrs.Float{},
	"projectQuotaGpu":      attrs.Int{},
	"projectQuotaMemory":   attrs.DiskQuota{},
	"admins":               attrs.String{},
	"enabledSharedVolume":  attrs.Bool{},
	"sharedVolumeCapacity": attrs.DiskQuota{},
}

type Config struct {
	Identity keycloak.IdentityStore

	// EveryoneGroup is hidden from listings and protected from deletion;
	// the system settings live on its attributes.
	EveryoneGroup string

	Audit  audit.Recorder
	Logger *log.Logger
}

type Resolver struct {
	identity      keycloak.IdentityStore
	everyoneGroup string
	audit         audit.Recorder
	logger        *log.Logger
}

func New(config Config) *Resolver {
	logger := config.Logger
	if logger == nil {
		logger = log.New("group")
	}
	return &Resolver{
		identity:      config.Identity,
		everyoneGroup: config.EveryoneGroup,
		audit:         config.Audit,
		logger:        logger,
	}
}

func (r *Resolver) toRecord(ctx context.Context, group keycloak.Group, withMembers bool) (domain.Record, error) {
	record := domain.Record{
		"id":   group.ID,
		"name": group.Name,
	}

	attributes, err := attrs.FromBag(Schema, group.Attributes)
	if err != nil {
		r.logger.Warnj(log.JSON{
			"component": "group",
			"groupId":   group.ID,
			"warning":   err.Error(),
		})
	}
	record["displayName"] = stringOr(attributes.Get("displayName"), group.Name)
	for _, field := range []string{
		"quotaCpu", "quotaGpu", "quotaMemory",
		"projectQuotaCpu", "projectQuotaGpu", "projectQuotaMemory",
		"admins", "enabledSharedVolume", "sharedVolumeCapacity",
	} {
		record[field] = attributes.Get(field)
	}

	if withMembers {
		members, err := r.identity.GroupMembers(ctx, group.ID)
		if err != nil {
			return nil, apierr.Wrap(
				apierr.UpstreamError,
				fmt.Sprintf("listing members of group %s failed", group.Name),
				err,
			)
		}
		users := []domain.Record{}
		for _, member := range members {
			users = append(users, domain.Record{
				"id":       member.ID,
				"username": member.Username,
				"email":    member.Email,
			})
		}
		record["users"] = users
	}
	return record, nil
}

// Query lists group records matching the request. The everyone group is
// not a workgroup and is excluded.
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
	groups, err := r.identity.FindGroups(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, "listing groups failed", err)
	}
	rows := []domain.Record{}
	for _, group := range groups {
		if group.Name == r.everyoneGroup {
			continue
		}
		record, err := r.toRecord(ctx, group, false)
		if err != nil {
			return nil, err
		}
		rows = append(rows, record)
	}
	rows = pagination.Filter(rows, request.Where)
	rows = pagination.Sort(rows, request.OrderBy)
	return rows, nil
}

// QueryOne fetches one group by id, members included; a missing group is
// (nil, nil).
func (r *Resolver) QueryOne(ctx context.Context, id string) (domain.Record, error) {
	group, err := r.identity.GetGroup(ctx, id)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting group %s failed", id), err)
	}
	return r.toRecord(ctx, *group, true)
}

// Create registers a workgroup with its quota attributes. User
// connections are side effects: failures are audited, not surfaced.
func (r *Resolver) Create(ctx context.Context, actor auth.Actor, data map[string]any) (domain.Record, error) {
	name, _ := data["name"].(string)
	if name == "" {
		return nil, apierr.New(apierr.MalformedAttribute, "name is required and must be a string")
	}
	if name == r.everyoneGroup {
		return nil, apierr.New(apierr.MalformedAttribute, fmt.Sprintf("group name %q is reserved", name))
	}

	attributes := attrs.New(Schema)
	attributes.MergeWithData(data)
	bag, err := attributes.ToBag()
	if err != nil {
		return nil, err
	}

	id, err := r.identity.CreateGroup(ctx, keycloak.Group{Name: name, Attributes: bag})
	if err != nil {
		conflict := keycloak.ConflictError{}
		if errors.As(err, &conflict) {
			return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("group %s already exists", name), err)
		}
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("creating group %s failed", name), err)
	}
	r.record(ctx, actor, "CREATE", name, "")

	r.applyMembers(ctx, actor, id, name, data)
	return r.QueryOne(ctx, id)
}

// Update patches quota attributes and memberships.
func (r *Resolver) Update(ctx context.Context, actor auth.Actor, id string, data map[string]any) (domain.Record, error) {
	group, err := r.identity.GetGroup(ctx, id)
	if errors.Is(err, keycloak.ErrNotFound) {
		return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("group %s does not exist", id))
	}
	if err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting group %s failed", id), err)
	}

	attributes, aerr := attrs.FromBag(Schema, group.Attributes)
	if aerr != nil {
		r.logger.Warnj(log.JSON{"component": "group", "groupId": id, "warning": aerr.Error()})
	}
	attributes.MergeWithData(data)
	bag, err := attributes.ToBag()
	if err != nil {
		return nil, err
	}
	group.Attributes = bag

	if err := r.identity.UpdateGroup(ctx, *group); err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("updating group %s failed", group.Name), err)
	}
	r.record(ctx, actor, "UPDATE", group.Name, "")

	r.applyMembers(ctx, actor, id, group.Name, data)
	return r.QueryOne(ctx, id)
}

func (r *Resolver) applyMembers(ctx context.Context, actor auth.Actor, id string, name string, data map[string]any) {
	err := relation.Mutate(
		ctx,
		relation.DiffOf(data["users"]),
		func(ctx context.Context, ref relation.Ref) error {
			return r.identity.AddUserToGroup(ctx, ref.ID, id)
		},
		func(ctx context.Context, ref relation.Ref) error {
			return r.identity.RemoveUserFromGroup(ctx, ref.ID, id)
		},
	)
	if err != nil {
		r.swallow(ctx, actor, audit.TypeFailConnectGroup, name, err)
	}
}

// Destroy deletes the group. The everyone group is load-bearing (system
// settings, global grants) and cannot be deleted.
func (r *Resolver) Destroy(ctx context.Context, actor auth.Actor, id string) (domain.Record, error) {
	record, err := r.QueryOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apierr.New(apierr.UpstreamError, fmt.Sprintf("group %s does not exist", id))
	}
	if record["name"] == r.everyoneGroup {
		return nil, apierr.New(apierr.NotAuthorized, fmt.Sprintf("group %s cannot be deleted", r.everyoneGroup))
	}

	if err := r.identity.DeleteGroup(ctx, id); err != nil {
		return nil, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("deleting group %s failed", id), err)
	}
	name, _ := record["name"].(string)
	r.record(ctx, actor, "DELETE", name, "")
	return record, nil
}

// IsAdmin tells whether username administers the group: the group's
// "admins" attribute is a comma-separated username list.
func (r *Resolver) IsAdmin(ctx context.Context, groupID string, username string) (bool, error) {
	group, err := r.identity.GetGroup(ctx, groupID)
	if errors.Is(err, keycloak.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apierr.Wrap(apierr.UpstreamError, fmt.Sprintf("getting group %s failed", groupID), err)
	}
	for _, admin := range strings.Split(group.Attributes.First("admins"), ",") {
		if strings.TrimSpace(admin) == username && username != "" {
			return true, nil
		}
	}
	return false, nil
}

func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

func (r *Resolver) swallow(ctx context.Context, actor auth.Actor, typ string, target string, err error) {
	r.logger.Errorj(log.JSON{
		"component": "group",
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
		Component: "group",
		Type:      typ,
		UserID:    actor.UserID,
		Username:  actor.Username,
		Target:    target,
		Detail:    detail,
	})
	if err != nil {
		r.logger.Errorj(log.JSON{
			"component": "group",
			"type":      typ,
			"target":    target,
			"error":     "audit record failed: " + err.Error(),
		})
	}
}
