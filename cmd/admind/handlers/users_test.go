package handlers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	httptestutil "github.com/opst/adminhub/internal/testutils/http"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/audit"
	"github.com/opst/adminhub/pkg/conn/keycloak"
	kcmem "github.com/opst/adminhub/pkg/conn/keycloak/memory"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/user"
	"github.com/opst/adminhub/pkg/utils/try"

	"github.com/opst/adminhub/cmd/admind/handlers"
)

func newUsersResolver(t *testing.T) (*user.Resolver, *kcmem.Store) {
	t.Helper()

	identity := kcmem.New()
	if _, err := identity.CreateGroup(context.Background(), keycloak.Group{Name: "everyone"}); err != nil {
		t.Fatal(err)
	}
	resolver := user.New(user.Config{
		Identity:      identity,
		Permissions:   permissions.New(identity),
		AdminRole:     "admin",
		EveryoneGroup: "everyone",
		Audit:         audit.NewMemory(),
	})
	return resolver, identity
}

func TestCreateUserHandler(t *testing.T) {

	t.Run("when the username is already taken, it responds 409 USER_CONFLICT_USERNAME", func(t *testing.T) {
		users, _ := newUsersResolver(t)
		try.To(users.Create(
			context.Background(), actor(), map[string]any{"username": "alice"},
		)).OrFatal(t)

		e := echo.New()
		c, respRec := httptestutil.Post(
			e, "/api/users",
			strings.NewReader(`{"username": "alice"}`),
			httptestutil.ContentType("application/json"),
		)

		testee := handlers.CreateUserHandler(users)
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if respRec.Code != http.StatusConflict {
			t.Errorf("status code: got %d, expected %d", respRec.Code, http.StatusConflict)
		}
		if code := errorCodeOf(t, respRec.Body.Bytes()); code != apierr.UserConflictUsername {
			t.Errorf("error code: got %s, expected %s", code, apierr.UserConflictUsername)
		}
	})

	t.Run("when a new user is posted, the record is returned and the user exists", func(t *testing.T) {
		users, identity := newUsersResolver(t)

		e := echo.New()
		c, respRec := httptestutil.Post(
			e, "/api/users",
			strings.NewReader(`{"username": "alice", "email": "alice@example.com"}`),
			httptestutil.ContentType("application/json"),
		)

		testee := handlers.CreateUserHandler(users)
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
		if record["username"] != "alice" || record["email"] != "alice@example.com" {
			t.Errorf("unexpected record: %+v", record)
		}

		stored := try.To(
			identity.FindUserByUsername(context.Background(), "alice"),
		).OrFatal(t)
		if stored == nil {
			t.Error("the user should exist in the identity store")
		}
	})
}

func TestSendEmailHandler(t *testing.T) {

	t.Run("when the user has no email address, it responds 400 USER_EMAIL_NOT_EXIST", func(t *testing.T) {
		users, _ := newUsersResolver(t)
		record := try.To(users.Create(
			context.Background(), actor(), map[string]any{"username": "bob"},
		)).OrFatal(t)
		id := record["id"].(string)

		e := echo.New()
		c, respRec := httptestutil.Post(
			e, "/api/users/"+id+"/send-email",
			strings.NewReader(`{"resetActions": ["UPDATE_PASSWORD"]}`),
			httptestutil.ContentType("application/json"),
		)
		c.SetParamNames("id")
		c.SetParamValues(id)

		testee := handlers.SendEmailHandler(users, "id")
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if respRec.Code != http.StatusBadRequest {
			t.Errorf("status code: got %d, expected %d", respRec.Code, http.StatusBadRequest)
		}
		if code := errorCodeOf(t, respRec.Body.Bytes()); code != apierr.UserEmailNotExist {
			t.Errorf("error code: got %s, expected %s", code, apierr.UserEmailNotExist)
		}
	})
}

func TestSendMultiEmailHandler(t *testing.T) {

	t.Run("when some recipients fail, the result names both the sent and the failed", func(t *testing.T) {
		users, identity := newUsersResolver(t)
		ctx := context.Background()

		ok := try.To(users.Create(ctx, actor(), map[string]any{
			"username": "alice", "email": "alice@example.com",
		})).OrFatal(t)
		ng := try.To(users.Create(ctx, actor(), map[string]any{
			"username": "bob", "email": "bob@example.com",
		})).OrFatal(t)
		identity.FailEmailFor[ng["id"].(string)] = true

		body := map[string]any{
			"userIds":      []string{ok["id"].(string), ng["id"].(string)},
			"resetActions": []string{"UPDATE_PASSWORD"},
		}
		buf := try.To(json.Marshal(body)).OrFatal(t)

		e := echo.New()
		c, respRec := httptestutil.Post(
			e, "/api/users/send-email",
			strings.NewReader(string(buf)),
			httptestutil.ContentType("application/json"),
		)

		testee := handlers.SendMultiEmailHandler(users)
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if respRec.Code != http.StatusOK {
			t.Fatalf("status code: got %d, body %s", respRec.Code, respRec.Body)
		}
		result := user.MultiEmailResult{}
		if err := json.Unmarshal(respRec.Body.Bytes(), &result); err != nil {
			t.Fatal(err)
		}
		if len(result.Sent) != 1 || result.Sent[0] != ok["id"].(string) {
			t.Errorf("unexpected sent list: %+v", result)
		}
		if _, failed := result.Failed[ng["id"].(string)]; !failed {
			t.Errorf("the failing recipient should be reported: %+v", result)
		}
	})
}
