package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	httptestutil "github.com/opst/adminhub/internal/testutils/http"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/audit"
	k8smem "github.com/opst/adminhub/pkg/conn/k8s/memory"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	kcmem "github.com/opst/adminhub/pkg/conn/keycloak/memory"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/domain/group"
	"github.com/opst/adminhub/pkg/domain/image"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
	"github.com/opst/adminhub/pkg/utils/try"

	"github.com/opst/adminhub/cmd/admind/handlers"
)

type groupImageHarness struct {
	groups  *group.Resolver
	images  *resource.Engine
	perms   permissions.Store
	groupID string
}

// one group "phys" whose admins attribute names alice.
func newGroupImageHarness(t *testing.T) *groupImageHarness {
	t.Helper()
	ctx := context.Background()

	identity := kcmem.New()
	try.To(identity.CreateGroup(ctx, keycloak.Group{Name: "everyone"})).OrFatal(t)
	groupID := try.To(identity.CreateGroup(ctx, keycloak.Group{
		Name:       "phys",
		Attributes: map[string][]string{"admins": {"alice"}},
	})).OrFatal(t)

	perms := permissions.New(identity)
	return &groupImageHarness{
		groups: group.New(group.Config{
			Identity:      identity,
			EveryoneGroup: "everyone",
			Audit:         audit.NewMemory(),
		}),
		images: resource.New(resource.Config{
			Adapter:       image.Adapter{},
			Store:         k8smem.New(),
			Identity:      identity,
			Permissions:   perms,
			EveryoneGroup: "everyone",
			Audit:         audit.NewMemory(),
		}),
		perms:   perms,
		groupID: groupID,
	}
}

// withBearer wires the bearer middleware in front of handler so ActorOf
// resolves to the token's user.
func withBearer(handler echo.HandlerFunc) echo.HandlerFunc {
	return handlers.BearerActor(auth.Parser{})(handler)
}

func actorToken(t *testing.T, username string, roles []string) string {
	t.Helper()
	claimRoles := []any{}
	for _, r := range roles {
		claimRoles = append(claimRoles, r)
	}
	return signedToken(t, "unverified", jwt.MapClaims{
		"sub":                "user-" + username,
		"preferred_username": username,
		"realm_access":       map[string]any{"roles": claimRoles},
	})
}

func TestCreateGroupImageHandler(t *testing.T) {

	t.Run("when a group admin creates an image, it is stamped with the group and visible to it", func(t *testing.T) {
		h := newGroupImageHarness(t)

		e := echo.New()
		c, respRec := httptestutil.Post(
			e, "/api/groups/"+h.groupID+"/images",
			strings.NewReader(`{"name": "phys-notebook", "url": "jupyter/base-notebook:latest", "global": true}`),
			httptestutil.ContentType("application/json"),
			httptestutil.Bearer(actorToken(t, "alice", nil)),
		)
		c.SetParamNames("id")
		c.SetParamValues(h.groupID)

		testee := withBearer(handlers.CreateGroupImageHandler(h.groups, h.images, "admin", "id"))
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if respRec.Code != http.StatusOK {
			t.Fatalf("status code: got %d, body %s", respRec.Code, respRec.Body)
		}
		record := map[string]any{}
		if err := json.Unmarshal(respRec.Body.Bytes(), &record); err != nil {
			t.Fatal(err)
		}
		if record["groupName"] != "phys" {
			t.Errorf("the image should carry its owner group: %+v", record)
		}
		if record["global"] != false {
			t.Errorf("a group image cannot be forced global by the payload: %+v", record)
		}

		visible := try.To(image.ForGroup(
			context.Background(), h.images, h.perms, h.groupID,
		)).OrFatal(t)
		found := false
		for _, r := range visible {
			if r["name"] == "phys-notebook" {
				found = true
			}
		}
		if !found {
			t.Errorf("the group should see its own image: %+v", visible)
		}
	})

	t.Run("when the caller is neither admin nor group admin, it rejects with NOT_AUTHORIZED", func(t *testing.T) {
		h := newGroupImageHarness(t)

		e := echo.New()
		c, respRec := httptestutil.Post(
			e, "/api/groups/"+h.groupID+"/images",
			strings.NewReader(`{"name": "phys-notebook"}`),
			httptestutil.ContentType("application/json"),
			httptestutil.Bearer(actorToken(t, "mallory", nil)),
		)
		c.SetParamNames("id")
		c.SetParamValues(h.groupID)

		testee := withBearer(handlers.CreateGroupImageHandler(h.groups, h.images, "admin", "id"))
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if respRec.Code != http.StatusForbidden {
			t.Errorf("status code: got %d, expected %d", respRec.Code, http.StatusForbidden)
		}
		if code := errorCodeOf(t, respRec.Body.Bytes()); code != apierr.NotAuthorized {
			t.Errorf("error code: got %s, expected %s", code, apierr.NotAuthorized)
		}
	})
}

func TestUpdateGroupImageHandler(t *testing.T) {

	t.Run("when a group admin updates another group's image, it rejects with NOT_AUTHORIZED", func(t *testing.T) {
		h := newGroupImageHarness(t)
		try.To(h.images.Create(
			context.Background(), actor(), map[string]any{"name": "catalog-image"},
		)).OrFatal(t)

		e := echo.New()
		c, respRec := httptestutil.Put(
			e, "/api/groups/"+h.groupID+"/images/catalog-image",
			strings.NewReader(`{"displayName": "stolen"}`),
			httptestutil.ContentType("application/json"),
			httptestutil.Bearer(actorToken(t, "alice", nil)),
		)
		c.SetParamNames("id", "name")
		c.SetParamValues(h.groupID, "catalog-image")

		testee := withBearer(handlers.UpdateGroupImageHandler(h.groups, h.images, "admin", "id", "name"))
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if respRec.Code != http.StatusForbidden {
			t.Errorf("status code: got %d, expected %d", respRec.Code, http.StatusForbidden)
		}
		if code := errorCodeOf(t, respRec.Body.Bytes()); code != apierr.NotAuthorized {
			t.Errorf("error code: got %s, expected %s", code, apierr.NotAuthorized)
		}
	})

	t.Run("when a group admin updates their own image, the change lands", func(t *testing.T) {
		h := newGroupImageHarness(t)
		ctx := context.Background()
		try.To(h.images.Create(ctx, actor(), map[string]any{
			"name": "phys-notebook", "groupName": "phys",
		})).OrFatal(t)

		e := echo.New()
		c, respRec := httptestutil.Put(
			e, "/api/groups/"+h.groupID+"/images/phys-notebook",
			strings.NewReader(`{"displayName": "Physics Notebook"}`),
			httptestutil.ContentType("application/json"),
			httptestutil.Bearer(actorToken(t, "alice", nil)),
		)
		c.SetParamNames("id", "name")
		c.SetParamValues(h.groupID, "phys-notebook")

		testee := withBearer(handlers.UpdateGroupImageHandler(h.groups, h.images, "admin", "id", "name"))
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if respRec.Code != http.StatusOK {
			t.Fatalf("status code: got %d, body %s", respRec.Code, respRec.Body)
		}
		record := map[string]any{}
		if err := json.Unmarshal(respRec.Body.Bytes(), &record); err != nil {
			t.Fatal(err)
		}
		if record["displayName"] != "Physics Notebook" {
			t.Errorf("unexpected record: %+v", record)
		}
	})
}
