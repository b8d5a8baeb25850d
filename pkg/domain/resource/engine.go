package resource

import (
	"context"
	"errors"
	"fmt"

	"github.com/labstack/gommon/log"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/api/types/relay"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/conn/k8s"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/pagination"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/relation"
)

// Config wires one Engine.
type Config struct {
	Adapter Adapter
	Hooks   Hooks // nil means NopHooks

	Store       k8s.CustomResourceStore
	Identity    keycloak.IdentityStore
	Permissions permissions.Store

	// EveryoneGroup is the group every user belongs to. A resource is
	// "global" exactly when this group holds its visibility role.
	EveryoneGroup string

	Audit  audit.Recorder
	Logger *log.Logger
}

type Engine struct {
	adapter       Adapter
	hooks         Hooks
	store         k8s.CustomResourceStore
	identity      keycloak.IdentityStore
	perms         permissions.Store
	everyoneGroup string
	audit         audit.Recorder
	logger        *log.Logger
}

func New(config Config) *Engine {
	hooks := config.Hooks
	if hooks == nil {
		hooks = NopHooks{}
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New("resource")
	}
	return &Engine{
		adapter:       config.Adapter,
		hooks:         hooks,
		store:         config.Store,
		identity:      config.Identity,
		perms:         config.Permissions,
		everyoneGroup: config.EveryoneGroup,
		audit:         config.Audit,
		logger:        logger,
	}
}

// RoleName is the visibility role of the named resource.
func (e *Engine) RoleName(name string) string {
	return e.adapter.RolePrefix() + ":" + name
}

func (e *Engine) everyone(ctx context.Context) (*keycloak.Group, error) {
	group, err := e.identity.FindGroupByName(ctx, e.everyoneGroup)
	if err != nil {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("everyone group %q is not resolvable", e.everyoneGroup),
			err,
		)
	}
	return group, nil
}

// grants is a snapshot of which groups hold which visibility roles.
type grants struct {
	everyoneID string
	byRole     map[string][]keycloak.Group
}

func (g grants) globalOf(role string) bool {
	for _, group := range g.byRole[role] {
		if group.ID == g.everyoneID {
			return true
		}
	}
	return false
}

func (g grants) groupsOf(role string) []domain.Record {
	out := []domain.Record{}
	for _, group := range g.byRole[role] {
		if group.ID == g.everyoneID {
			continue
		}
		out = append(out, domain.Record{
			"id":          group.ID,
			"name":        group.Name,
			"displayName": group.Attributes.First("displayName"),
		})
	}
	return out
}

// snapshotGrants walks every group's roles once, so decorating N records
// costs one pass over groups rather than N.
func (e *Engine) snapshotGrants(ctx context.Context) (grants, error) {
	everyone, err := e.everyone(ctx)
	if err != nil {
		return grants{}, err
	}

	groups, err := e.identity.FindGroups(ctx)
	if err != nil {
		return grants{}, apierr.Wrap(apierr.UpstreamError, "listing groups failed", err)
	}

	snapshot := grants{everyoneID: everyone.ID, byRole: map[string][]keycloak.Group{}}
	for _, group := range groups {
		roles, err := e.perms.GroupRoles(ctx, group.ID)
		if err != nil {
			return grants{}, apierr.Wrap(
				apierr.UpstreamError,
				fmt.Sprintf("listing roles of group %s failed", group.Name),
				err,
			)
		}
		for _, role := range roles {
			snapshot.byRole[role] = append(snapshot.byRole[role], group)
		}
	}
	return snapshot, nil
}

func (e *Engine) decorate(record domain.Record, snapshot grants) domain.Record {
	name, _ := record["name"].(string)
	role := e.RoleName(name)
	record["global"] = snapshot.globalOf(role)
	record["groups"] = snapshot.groupsOf(role)
	return record
}

// Query lists records matching the request: decorated, filtered, sorted
// and cut to the requested page.
func (e *Engine) Query(ctx context.Context, request args.ResourceArgs) ([]domain.Record, error) {
	paged, err := e.page(ctx, request)
	if err != nil {
		return nil, err
	}
	return paged.Items, nil
}

// ConnectionQuery is Query shaped as a relay connection.
func (e *Engine) ConnectionQuery(ctx context.Context, request args.ResourceArgs) (relay.Connection[domain.Record], error) {
	rows, err := e.snapshot(ctx, request)
	if err != nil {
		return relay.Connection[domain.Record]{}, err
	}
	p, err := request.Pagination()
	if err != nil {
		return relay.Connection[domain.Record]{}, err
	}
	return pagination.ToRelay(rows, p)
}

func (e *Engine) page(ctx context.Context, request args.ResourceArgs) (pagination.Paged, error) {
	rows, err := e.snapshot(ctx, request)
	if err != nil {
		return pagination.Paged{}, err
	}
	p, err := request.Pagination()
	if err != nil {
		return pagination.Paged{}, err
	}
	return pagination.Paginate(rows, p)
}

func (e *Engine) snapshot(ctx context.Context, request args.ResourceArgs) ([]domain.Record, error) {
	items, err := e.store.List(ctx)
	if err != nil {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("listing %s resources failed", e.adapter.Kind()),
			err,
		)
	}

	snapshot, err := e.snapshotGrants(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.Record, len(items))
	for nth, item := range items {
		rows[nth] = e.decorate(e.adapter.ToRecord(item), snapshot)
	}

	rows = pagination.Filter(rows, request.Where)
	rows = pagination.Sort(rows, request.OrderBy)
	return rows, nil
}

// QueryOne fetches a single record by name. A missing resource is (nil,
// nil), not an error; queries for absent rows are a normal console
// condition.
func (e *Engine) QueryOne(ctx context.Context, name string) (domain.Record, error) {
	item, err := e.store.Get(ctx, name)
	if errors.Is(err, k8s.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("getting %s %s failed", e.adapter.Kind(), name),
			err,
		)
	}

	snapshot, err := e.snapshotGrants(ctx)
	if err != nil {
		return nil, err
	}
	return e.decorate(e.adapter.ToRecord(*item), snapshot), nil
}

// Create writes a new resource and wires its visibility role.
//
// The resource write is the point of no return: everything after it
// (role creation, grants, hooks) is a side effect whose failure is
// audited and logged but not surfaced, so the caller sees the resource it
// actually created.
func (e *Engine) Create(ctx context.Context, actor auth.Actor, data map[string]any) (domain.Record, error) {
	name, _ := data["name"].(string)
	if name == "" {
		return nil, apierr.New(apierr.MalformedAttribute, "name is required and must be a string")
	}

	if err := e.hooks.BeforeCreate(ctx, data); err != nil {
		return nil, err
	}

	spec, err := e.adapter.NewSpec(name, data)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.Create(ctx, k8s.Item{Metadata: k8s.Metadata{Name: name}, Spec: spec}); err != nil {
		if errors.Is(err, k8s.ErrAlreadyExists) {
			return nil, apierr.New(
				apierr.UpstreamError,
				fmt.Sprintf("%s %s already exists", e.adapter.Kind(), name),
			)
		}
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("creating %s %s failed", e.adapter.Kind(), name),
			err,
		)
	}
	e.record(ctx, actor, "CREATE", name, "")

	role := e.RoleName(name)
	if err := e.perms.EnsureRole(ctx, role); err != nil {
		e.swallow(ctx, actor, audit.TypeFailEnsureRole, name, err)
	} else {
		e.applyVisibility(ctx, actor, role, data)
	}

	record, err := e.QueryOne(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := e.hooks.AfterCreate(ctx, record, data); err != nil {
		e.swallow(ctx, actor, audit.TypeFailHook, name, err)
	}
	return record, nil
}

// Update merge-patches a resource and re-wires its visibility.
func (e *Engine) Update(ctx context.Context, actor auth.Actor, name string, data map[string]any) (domain.Record, error) {
	current, err := e.store.Get(ctx, name)
	if errors.Is(err, k8s.ErrNotFound) {
		return nil, apierr.New(
			apierr.UpstreamError,
			fmt.Sprintf("%s %s does not exist", e.adapter.Kind(), name),
		)
	}
	if err != nil {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("getting %s %s failed", e.adapter.Kind(), name),
			err,
		)
	}

	if err := e.hooks.BeforeUpdate(ctx, name, data); err != nil {
		return nil, err
	}

	fields, err := e.adapter.SpecPatch(current.Spec, data)
	if err != nil {
		return nil, err
	}
	if len(fields) != 0 {
		if _, err := e.store.PatchSpec(ctx, name, fields); err != nil {
			return nil, apierr.Wrap(
				apierr.UpstreamError,
				fmt.Sprintf("updating %s %s failed", e.adapter.Kind(), name),
				err,
			)
		}
	}
	e.record(ctx, actor, "UPDATE", name, "")

	e.applyVisibility(ctx, actor, e.RoleName(name), data)

	record, err := e.QueryOne(ctx, name)
	if err != nil {
		return nil, err
	}

	if err := e.hooks.AfterUpdate(ctx, record, data); err != nil {
		e.swallow(ctx, actor, audit.TypeFailHook, name, err)
	}
	return record, nil
}

// Destroy deletes the resource and its visibility role. The returned
// record is a minimal {id, name} echo; the full record is gone with its
// grants.
func (e *Engine) Destroy(ctx context.Context, actor auth.Actor, name string) (domain.Record, error) {
	record, err := e.QueryOne(ctx, name)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, apierr.New(
			apierr.UpstreamError,
			fmt.Sprintf("%s %s does not exist", e.adapter.Kind(), name),
		)
	}

	if err := e.hooks.BeforeDelete(ctx, name); err != nil {
		return nil, err
	}

	if err := e.store.Delete(ctx, name); err != nil && !errors.Is(err, k8s.ErrNotFound) {
		return nil, apierr.Wrap(
			apierr.UpstreamError,
			fmt.Sprintf("deleting %s %s failed", e.adapter.Kind(), name),
			err,
		)
	}
	e.record(ctx, actor, "DELETE", name, "")

	// deleting the role drops every grant with it
	if err := e.perms.DeleteRole(ctx, e.RoleName(name)); err != nil {
		e.swallow(ctx, actor, audit.TypeFailDeleteRole, name, err)
	}

	if err := e.hooks.AfterDelete(ctx, name); err != nil {
		e.swallow(ctx, actor, audit.TypeFailHook, name, err)
	}
	return domain.Record{"id": name, "name": name}, nil
}

// applyVisibility applies the "global" flag and the groups connect/
// disconnect diff from mutation data. All failures are swallowed.
func (e *Engine) applyVisibility(ctx context.Context, actor auth.Actor, role string, data map[string]any) {
	if global, ok := data["global"].(bool); ok {
		everyone, err := e.everyone(ctx)
		if err != nil {
			e.swallow(ctx, actor, audit.TypeFailConnectGroup, role, err)
		} else if global {
			if err := e.perms.GrantGroup(ctx, everyone.ID, role); err != nil {
				e.swallow(ctx, actor, audit.TypeFailConnectGroup, role, err)
			}
		} else {
			if err := e.perms.RevokeGroup(ctx, everyone.ID, role); err != nil {
				e.swallow(ctx, actor, audit.TypeFailConnectGroup, role, err)
			}
		}
	}

	err := relation.Mutate(
		ctx,
		relation.DiffOf(data["groups"]),
		func(ctx context.Context, ref relation.Ref) error {
			return e.perms.GrantGroup(ctx, ref.ID, role)
		},
		func(ctx context.Context, ref relation.Ref) error {
			return e.perms.RevokeGroup(ctx, ref.ID, role)
		},
	)
	if err != nil {
		e.swallow(ctx, actor, audit.TypeFailConnectGroup, role, err)
	}
}

// swallow logs and audits a side-effect failure that the request will not
// report.
func (e *Engine) swallow(ctx context.Context, actor auth.Actor, typ string, target string, err error) {
	e.logger.Errorj(log.JSON{
		"component": e.adapter.Kind(),
		"type":      typ,
		"target":    target,
		"error":     err.Error(),
	})
	e.record(ctx, actor, typ, target, err.Error())
}

func (e *Engine) record(ctx context.Context, actor auth.Actor, typ string, target string, detail string) {
	if e.audit == nil {
		return
	}
	err := e.audit.Record(ctx, audit.Entry{
		Component: e.adapter.Kind(),
		Type:      typ,
		UserID:    actor.UserID,
		Username:  actor.Username,
		Target:    target,
		Detail:    detail,
	})
	if err != nil {
		e.logger.Errorj(log.JSON{
			"component": e.adapter.Kind(),
			"type":      typ,
			"target":    target,
			"error":     "audit record failed: " + err.Error(),
		})
	}
}
