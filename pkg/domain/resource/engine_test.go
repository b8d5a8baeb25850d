package resource_test

import (
	"context"
	"errors"
	"testing"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/cmp"
	"github.com/opst/adminhub/pkg/conn/k8s"
	k8smem "github.com/opst/adminhub/pkg/conn/k8s/memory"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	kcmem "github.com/opst/adminhub/pkg/conn/keycloak/memory"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/permissions"
	permmock "github.com/opst/adminhub/pkg/domain/permissions/mock"
	"github.com/opst/adminhub/pkg/domain/resource"
	"github.com/opst/adminhub/pkg/utils/try"
)

type widgetAdapter struct{}

func (widgetAdapter) Kind() string       { return "widget" }
func (widgetAdapter) RolePrefix() string { return "wg" }

func (widgetAdapter) ToRecord(item k8s.Item) domain.Record {
	record := domain.Record{
		"id":   item.Metadata.Name,
		"name": item.Metadata.Name,
	}
	if v, ok := item.Spec["displayName"]; ok {
		record["displayName"] = v
	}
	return record
}

func (widgetAdapter) NewSpec(name string, data map[string]any) (map[string]any, error) {
	spec := map[string]any{"displayName": name}
	if v, ok := data["displayName"].(string); ok {
		spec["displayName"] = v
	}
	return spec, nil
}

func (widgetAdapter) SpecPatch(current map[string]any, data map[string]any) (map[string]any, error) {
	fields := map[string]any{}
	if v, ok := data["displayName"].(string); ok {
		fields["displayName"] = v
	}
	return fields, nil
}

type harness struct {
	identity *kcmem.Store
	store    *k8smem.Store
	perms    permissions.Store
	trail    *audit.Memory
	engine   *resource.Engine

	everyoneID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	identity := kcmem.New()
	everyoneID := try.To(
		identity.CreateGroup(ctx, keycloak.Group{Name: "everyone"}),
	).OrFatal(t)

	store := k8smem.New()
	perms := permissions.New(identity)
	trail := audit.NewMemory()

	engine := resource.New(resource.Config{
		Adapter:       widgetAdapter{},
		Store:         store,
		Identity:      identity,
		Permissions:   perms,
		EveryoneGroup: "everyone",
		Audit:         trail,
	})
	return &harness{
		identity: identity, store: store, perms: perms, trail: trail,
		engine: engine, everyoneID: everyoneID,
	}
}

var actor = auth.Actor{UserID: "user-admin", Username: "admin"}

func TestEngine_Create(t *testing.T) {
	t.Run("when a resource is created with only a name, it comes back non-global with no groups", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		record := try.To(h.engine.Create(ctx, actor, map[string]any{"name": "w1"})).OrFatal(t)

		if record["name"] != "w1" || record["id"] != "w1" {
			t.Errorf("unexpected identity fields: %+v", record)
		}
		if record["global"] != false {
			t.Errorf("new resource should not be global: %+v", record)
		}
		if groups := record["groups"].([]domain.Record); len(groups) != 0 {
			t.Errorf("new resource should have no groups: %+v", groups)
		}

		if _, err := h.identity.GetRealmRole(ctx, "wg:w1"); err != nil {
			t.Errorf("visibility role should exist after create: %v", err)
		}
	})

	t.Run("when created without a name, it fails as a malformed attribute", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.engine.Create(context.Background(), actor, map[string]any{"displayName": "nameless"})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})

	t.Run("when created global, the everyone group holds the role and the record says global", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		record := try.To(h.engine.Create(ctx, actor, map[string]any{
			"name": "w1", "global": true,
		})).OrFatal(t)

		if record["global"] != true {
			t.Errorf("resource should be global: %+v", record)
		}
		roles := try.To(h.perms.GroupRoles(ctx, h.everyoneID)).OrFatal(t)
		if !cmp.SliceContentEq(roles, []string{"wg:w1"}) {
			t.Errorf("everyone group should hold wg:w1, holds %v", roles)
		}
		// global membership is not listed as an ordinary group
		if groups := record["groups"].([]domain.Record); len(groups) != 0 {
			t.Errorf("everyone group should be hidden from groups: %+v", groups)
		}
	})

	t.Run("when created with group connections, the groups hold the role and appear on the record", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		groupID := try.To(h.identity.CreateGroup(ctx, keycloak.Group{
			Name:       "phys",
			Attributes: map[string][]string{"displayName": {"Physics"}},
		})).OrFatal(t)

		record := try.To(h.engine.Create(ctx, actor, map[string]any{
			"name":   "w1",
			"groups": map[string]any{"connect": []any{map[string]any{"id": groupID}}},
		})).OrFatal(t)

		groups := record["groups"].([]domain.Record)
		if len(groups) != 1 || groups[0]["name"] != "phys" || groups[0]["displayName"] != "Physics" {
			t.Errorf("unexpected groups: %+v", groups)
		}
	})

	t.Run("when the same name is created twice, the second create fails", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()

		try.To(h.engine.Create(ctx, actor, map[string]any{"name": "w1"})).OrFatal(t)
		if _, err := h.engine.Create(ctx, actor, map[string]any{"name": "w1"}); err == nil {
			t.Error("duplicate create should fail")
		}
	})
}

func TestEngine_Update(t *testing.T) {
	t.Run("when global is toggled on and off, the everyone grant follows, idempotently", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		try.To(h.engine.Create(ctx, actor, map[string]any{"name": "w1"})).OrFatal(t)

		record := try.To(h.engine.Update(ctx, actor, "w1", map[string]any{"global": true})).OrFatal(t)
		if record["global"] != true {
			t.Errorf("resource should be global: %+v", record)
		}

		// applying the same state again changes nothing and does not fail
		record = try.To(h.engine.Update(ctx, actor, "w1", map[string]any{"global": true})).OrFatal(t)
		if record["global"] != true {
			t.Errorf("resource should remain global: %+v", record)
		}

		record = try.To(h.engine.Update(ctx, actor, "w1", map[string]any{"global": false})).OrFatal(t)
		if record["global"] != false {
			t.Errorf("resource should not be global anymore: %+v", record)
		}
		roles := try.To(h.perms.GroupRoles(ctx, h.everyoneID)).OrFatal(t)
		if len(roles) != 0 {
			t.Errorf("everyone group should hold no roles, holds %v", roles)
		}
	})

	t.Run("when groups are connected and disconnected, the record tracks the grants", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		groupID := try.To(h.identity.CreateGroup(ctx, keycloak.Group{Name: "phys"})).OrFatal(t)
		try.To(h.engine.Create(ctx, actor, map[string]any{"name": "w1"})).OrFatal(t)

		record := try.To(h.engine.Update(ctx, actor, "w1", map[string]any{
			"groups": map[string]any{"connect": []any{map[string]any{"id": groupID}}},
		})).OrFatal(t)
		if groups := record["groups"].([]domain.Record); len(groups) != 1 {
			t.Errorf("group should be connected: %+v", record)
		}

		record = try.To(h.engine.Update(ctx, actor, "w1", map[string]any{
			"groups": map[string]any{"disconnect": []any{map[string]any{"id": groupID}}},
		})).OrFatal(t)
		if groups := record["groups"].([]domain.Record); len(groups) != 0 {
			t.Errorf("group should be disconnected: %+v", record)
		}
	})

	t.Run("when the spec is patched, the new value is visible in the returned record", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		try.To(h.engine.Create(ctx, actor, map[string]any{"name": "w1"})).OrFatal(t)

		record := try.To(h.engine.Update(ctx, actor, "w1", map[string]any{"displayName": "Widget One"})).OrFatal(t)
		if record["displayName"] != "Widget One" {
			t.Errorf("displayName should be updated: %+v", record)
		}
	})

	t.Run("when the resource does not exist, update fails", func(t *testing.T) {
		h := newHarness(t)

		if _, err := h.engine.Update(context.Background(), actor, "missing", map[string]any{}); err == nil {
			t.Error("updating a missing resource should fail")
		}
	})
}

func TestEngine_Destroy(t *testing.T) {
	t.Run("when a resource is destroyed, a minimal id/name echo is returned and it is gone afterwards", func(t *testing.T) {
		h := newHarness(t)
		ctx := context.Background()
		try.To(h.engine.Create(ctx, actor, map[string]any{"name": "w1", "global": true})).OrFatal(t)

		record := try.To(h.engine.Destroy(ctx, actor, "w1")).OrFatal(t)
		if record["id"] != "w1" || record["name"] != "w1" {
			t.Errorf("destroy should echo the id and name: %+v", record)
		}
		if len(record) != 2 {
			t.Errorf("destroy should not return the full pre-delete record: %+v", record)
		}

		got := try.To(h.engine.QueryOne(ctx, "w1")).OrFatal(t)
		if got != nil {
			t.Errorf("destroyed resource should not be queryable: %+v", got)
		}
		if _, err := h.identity.GetRealmRole(ctx, "wg:w1"); !errors.Is(err, keycloak.ErrNotFound) {
			t.Errorf("visibility role should be deleted, got %v", err)
		}
	})

	t.Run("when the resource does not exist, destroy fails", func(t *testing.T) {
		h := newHarness(t)

		if _, err := h.engine.Destroy(context.Background(), actor, "missing"); err == nil {
			t.Error("destroying a missing resource should fail")
		}
	})
}

func TestEngine_SideEffects(t *testing.T) {
	t.Run("when a group grant fails during create, the create still succeeds and the failure is audited", func(t *testing.T) {
		ctx := context.Background()

		identity := kcmem.New()
		try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "everyone"})).OrFatal(t)

		perms := permmock.New(t)
		perms.Impl.EnsureRole = func(ctx context.Context, role string) error { return nil }
		perms.Impl.GrantGroup = func(ctx context.Context, groupID string, role string) error {
			return errors.New("identity store is down")
		}
		perms.Impl.GroupRoles = func(ctx context.Context, groupID string) ([]string, error) {
			return nil, nil
		}

		trail := audit.NewMemory()
		engine := resource.New(resource.Config{
			Adapter:       widgetAdapter{},
			Store:         k8smem.New(),
			Identity:      identity,
			Permissions:   perms,
			EveryoneGroup: "everyone",
			Audit:         trail,
		})

		record := try.To(engine.Create(ctx, actor, map[string]any{
			"name": "w1", "global": true,
		})).OrFatal(t)
		if record["name"] != "w1" {
			t.Errorf("create should succeed despite the failed grant: %+v", record)
		}

		failed := false
		for _, entry := range trail.Entries() {
			if entry.Type == audit.TypeFailConnectGroup && entry.Username == "admin" {
				failed = true
			}
		}
		if !failed {
			t.Errorf("the failed grant should be audited: %+v", trail.Entries())
		}
	})
}

func TestEngine_Query(t *testing.T) {
	seed := func(t *testing.T, h *harness, names ...string) {
		t.Helper()
		ctx := context.Background()
		for _, name := range names {
			try.To(h.engine.Create(ctx, actor, map[string]any{"name": name})).OrFatal(t)
		}
	}

	t.Run("when queried with a filter, only matching rows are returned", func(t *testing.T) {
		h := newHarness(t)
		seed(t, h, "alpha", "beta", "alpaca")

		rows := try.To(h.engine.Query(context.Background(), args.ResourceArgs{
			Where: args.Where{"name_contains": "alp"},
		})).OrFatal(t)

		names := []string{}
		for _, row := range rows {
			names = append(names, row["name"].(string))
		}
		if !cmp.SliceContentEq(names, []string{"alpha", "alpaca"}) {
			t.Errorf("unexpected rows: %v", names)
		}
	})

	t.Run("when paged forward through an ordered listing, pages do not overlap and page info is accurate", func(t *testing.T) {
		h := newHarness(t)
		seed(t, h, "a", "b", "c")
		ctx := context.Background()

		first := 2
		page1 := try.To(h.engine.ConnectionQuery(ctx, args.ResourceArgs{
			OrderBy: &args.OrderBy{Field: "name", Order: args.Asc},
			First:   &first,
		})).OrFatal(t)
		if len(page1.Edges) != 2 || !page1.PageInfo.HasNextPage {
			t.Fatalf("unexpected first page: %+v", page1)
		}

		page2 := try.To(h.engine.ConnectionQuery(ctx, args.ResourceArgs{
			OrderBy: &args.OrderBy{Field: "name", Order: args.Asc},
			First:   &first,
			After:   page1.PageInfo.EndCursor,
		})).OrFatal(t)
		if len(page2.Edges) != 1 || page2.PageInfo.HasNextPage {
			t.Fatalf("unexpected second page: %+v", page2)
		}
		if page1.Edges[1].Node["name"] == page2.Edges[0].Node["name"] {
			t.Error("pages should not overlap")
		}
		if page2.Edges[0].Node["name"] != "c" {
			t.Errorf("unexpected tail row: %+v", page2.Edges[0].Node)
		}
	})
}
