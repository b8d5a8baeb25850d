package image_test

import (
	"context"
	"testing"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/cmp"
	k8smem "github.com/opst/adminhub/pkg/conn/k8s/memory"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	kcmem "github.com/opst/adminhub/pkg/conn/keycloak/memory"
	"github.com/opst/adminhub/pkg/domain"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/image"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
	"github.com/opst/adminhub/pkg/utils/try"
)

func TestAdapter_NewSpec(t *testing.T) {
	adapter := image.Adapter{}

	t.Run("when only a name is given, display name and type take their defaults", func(t *testing.T) {
		spec := try.To(adapter.NewSpec("base-notebook", map[string]any{
			"name": "base-notebook",
		})).OrFatal(t)

		if spec["displayName"] != "base-notebook" {
			t.Errorf("displayName should default to the name: %+v", spec)
		}
		if spec["type"] != image.TypeBoth {
			t.Errorf("type should default to both: %+v", spec)
		}
	})

	t.Run("when a both-typed image has a dedicated gpu url, it is honored", func(t *testing.T) {
		spec := try.To(adapter.NewSpec("nb", map[string]any{
			"type":      "both",
			"url":       "example.com/nb:v1",
			"urlForGpu": "example.com/nb:v1-gpu",
		})).OrFatal(t)

		if spec["urlForGpu"] != "example.com/nb:v1-gpu" {
			t.Errorf("dedicated gpu url should be kept: %+v", spec)
		}
	})

	t.Run("when a cpu-typed image has a dedicated gpu url, the base url wins", func(t *testing.T) {
		spec := try.To(adapter.NewSpec("nb", map[string]any{
			"type":      "cpu",
			"url":       "example.com/nb:v1",
			"urlForGpu": "example.com/nb:v1-gpu",
		})).OrFatal(t)

		if spec["urlForGpu"] != "example.com/nb:v1" {
			t.Errorf("gpu url of a cpu image should be the base url: %+v", spec)
		}
	})

	t.Run("when the type is unknown, it is rejected as malformed", func(t *testing.T) {
		_, err := adapter.NewSpec("nb", map[string]any{"type": "tpu"})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})

	t.Run("when the url is not an image reference, it is rejected as malformed", func(t *testing.T) {
		_, err := adapter.NewSpec("nb", map[string]any{"url": "UPPERCASE NOT ALLOWED"})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})
}

func TestAdapter_SpecPatch(t *testing.T) {
	adapter := image.Adapter{}

	t.Run("when the type changes away from both, the gpu url is recomputed from the merged url", func(t *testing.T) {
		current := map[string]any{
			"type": "both", "url": "example.com/nb:v1", "urlForGpu": "example.com/nb:v1-gpu",
		}
		fields := try.To(adapter.SpecPatch(current, map[string]any{"type": "gpu"})).OrFatal(t)

		if fields["urlForGpu"] != "example.com/nb:v1" {
			t.Errorf("gpu url should fall back to the stored url: %+v", fields)
		}
	})

	t.Run("when nothing is given, no fields are patched", func(t *testing.T) {
		fields := try.To(adapter.SpecPatch(map[string]any{"url": "example.com/nb:v1"}, map[string]any{})).OrFatal(t)
		if len(fields) != 0 {
			t.Errorf("empty update should patch nothing: %+v", fields)
		}
	})
}

func TestLifecycle(t *testing.T) {
	newEngine := func(t *testing.T, identity *kcmem.Store) *resource.Engine {
		t.Helper()
		return resource.New(resource.Config{
			Adapter:       image.Adapter{},
			Store:         k8smem.New(),
			Identity:      identity,
			Permissions:   permissions.New(identity),
			EveryoneGroup: "everyone",
			Audit:         audit.NewMemory(),
		})
	}

	t.Run("when an image is created with only a name, its optional string fields stay null", func(t *testing.T) {
		ctx := context.Background()
		identity := kcmem.New()
		try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "everyone"})).OrFatal(t)
		engine := newEngine(t, identity)

		record := try.To(engine.Create(
			ctx, auth.Actor{Username: "admin"}, map[string]any{"name": "foo"},
		)).OrFatal(t)

		if record["displayName"] != "foo" {
			t.Errorf("displayName should default to the name: %+v", record)
		}
		for _, key := range []string{"description", "url", "urlForGpu"} {
			if record[key] != nil {
				t.Errorf("%s of a bare image should be null, got %v", key, record[key])
			}
		}
		if record["global"] != false {
			t.Errorf("a new image should not be global: %+v", record)
		}
		if groups, ok := record["groups"].([]domain.Record); !ok || len(groups) != 0 {
			t.Errorf("a new image should have no group grants: %+v", record)
		}
	})

	t.Run("when an image is read back after creation, the stored fields survive", func(t *testing.T) {
		ctx := context.Background()
		identity := kcmem.New()
		try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "everyone"})).OrFatal(t)
		engine := newEngine(t, identity)

		try.To(engine.Create(ctx, auth.Actor{Username: "admin"}, map[string]any{
			"name":        "nb",
			"description": "a notebook",
			"url":         "example.com/nb:v1",
		})).OrFatal(t)

		record := try.To(engine.QueryOne(ctx, "nb")).OrFatal(t)
		if record["description"] != "a notebook" || record["url"] != "example.com/nb:v1" {
			t.Errorf("unexpected record: %+v", record)
		}
	})
}

func TestForGroup(t *testing.T) {
	t.Run("when a group holds some image roles, it sees those images plus the global ones", func(t *testing.T) {
		ctx := context.Background()
		identity := kcmem.New()
		try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "everyone"})).OrFatal(t)
		groupID := try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "phys"})).OrFatal(t)

		perms := permissions.New(identity)
		engine := resource.New(resource.Config{
			Adapter:       image.Adapter{},
			Store:         k8smem.New(),
			Identity:      identity,
			Permissions:   perms,
			EveryoneGroup: "everyone",
			Audit:         audit.NewMemory(),
		})
		actor := auth.Actor{Username: "admin"}

		try.To(engine.Create(ctx, actor, map[string]any{"name": "granted"})).OrFatal(t)
		try.To(engine.Create(ctx, actor, map[string]any{"name": "global", "global": true})).OrFatal(t)
		try.To(engine.Create(ctx, actor, map[string]any{"name": "hidden"})).OrFatal(t)
		if err := perms.GrantGroup(ctx, groupID, "img:granted"); err != nil {
			t.Fatal(err)
		}

		records := try.To(image.ForGroup(ctx, engine, perms, groupID)).OrFatal(t)
		names := []string{}
		for _, r := range records {
			names = append(names, r["name"].(string))
		}
		if !cmp.SliceContentEq(names, []string{"granted", "global"}) {
			t.Errorf("unexpected visible images: %v", names)
		}
	})
}
