package announcement_test

import (
	"context"
	"testing"
	"time"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/cmp"
	k8smem "github.com/opst/adminhub/pkg/conn/k8s/memory"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	kcmem "github.com/opst/adminhub/pkg/conn/keycloak/memory"
	"github.com/opst/adminhub/pkg/domain/announcement"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
	"github.com/opst/adminhub/pkg/utils/try"
)

type feedHarness struct {
	identity *kcmem.Store
	perms    permissions.Store
	engine   *resource.Engine
	userID   string
}

func newFeedHarness(t *testing.T) *feedHarness {
	t.Helper()
	ctx := context.Background()

	identity := kcmem.New()
	try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "everyone"})).OrFatal(t)
	groupID := try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "phys"})).OrFatal(t)
	userID := try.To(identity.CreateUser(ctx, keycloak.User{Username: "alice"})).OrFatal(t)
	if err := identity.AddUserToGroup(ctx, userID, groupID); err != nil {
		t.Fatal(err)
	}

	perms := permissions.New(identity)
	engine := resource.New(resource.Config{
		Adapter:       announcement.Adapter{},
		Store:         k8smem.New(),
		Identity:      identity,
		Permissions:   perms,
		EveryoneGroup: "everyone",
		Audit:         audit.NewMemory(),
	})

	actor := auth.Actor{Username: "admin"}
	farFuture := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	longGone := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339)

	try.To(engine.Create(ctx, actor, map[string]any{
		"name": "for-all", "content": "maintenance window", "global": true, "expiryDate": farFuture,
	})).OrFatal(t)
	try.To(engine.Create(ctx, actor, map[string]any{
		"name": "for-phys", "content": "gpu quota raised", "expiryDate": farFuture,
		"groups": map[string]any{"connect": []any{map[string]any{"id": groupID}}},
	})).OrFatal(t)
	try.To(engine.Create(ctx, actor, map[string]any{
		"name": "for-others", "content": "not yours", "expiryDate": farFuture,
	})).OrFatal(t)
	try.To(engine.Create(ctx, actor, map[string]any{
		"name": "expired", "content": "old news", "global": true, "expiryDate": longGone,
	})).OrFatal(t)
	try.To(engine.Create(ctx, actor, map[string]any{
		"name": "draft", "content": "unfinished", "global": true,
		"expiryDate": farFuture, "status": announcement.StatusDraft,
	})).OrFatal(t)

	return &feedHarness{identity: identity, perms: perms, engine: engine, userID: userID}
}

func TestAdapter_NewSpec(t *testing.T) {
	t.Run("when the status is not draft or published, it fails as a malformed attribute", func(t *testing.T) {
		_, err := announcement.Adapter{}.NewSpec("a1", map[string]any{"status": "archived"})
		if apierr.CodeOf(err) != apierr.MalformedAttribute {
			t.Errorf("expected MALFORMED_ATTRIBUTE, got %v", err)
		}
	})

	t.Run("when no status is given, it publishes", func(t *testing.T) {
		spec := try.To(announcement.Adapter{}.NewSpec("a1", map[string]any{
			"content": "hello",
		})).OrFatal(t)
		if spec["status"] != announcement.StatusPublished {
			t.Errorf("unexpected status: %+v", spec)
		}
	})
}

func TestForUser(t *testing.T) {
	t.Run("when a user pulls the feed, they see published global and group-scoped unexpired announcements only", func(t *testing.T) {
		h := newFeedHarness(t)

		feed := try.To(announcement.ForUser(
			context.Background(), h.engine, h.perms, h.identity, h.userID, time.Now(),
		)).OrFatal(t)

		names := []string{}
		for _, record := range feed {
			names = append(names, record["name"].(string))
		}
		if !cmp.SliceContentEq(names, []string{"for-all", "for-phys"}) {
			t.Errorf("unexpected feed: %v", names)
		}
	})

	t.Run("when the user marks the feed read, announcements created before the mark disappear", func(t *testing.T) {
		h := newFeedHarness(t)
		ctx := context.Background()

		if err := announcement.MarkRead(ctx, h.identity, h.userID, time.Now().Add(time.Minute)); err != nil {
			t.Fatal(err)
		}

		feed := try.To(announcement.ForUser(
			ctx, h.engine, h.perms, h.identity, h.userID, time.Now(),
		)).OrFatal(t)
		if len(feed) != 0 {
			t.Errorf("read announcements should not reappear: %+v", feed)
		}
	})
}
