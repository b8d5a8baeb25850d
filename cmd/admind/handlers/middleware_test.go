package handlers_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	httptestutil "github.com/opst/adminhub/internal/testutils/http"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/domain/auth"
	"github.com/opst/adminhub/pkg/utils/try"

	"github.com/opst/adminhub/cmd/admind/handlers"
)

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	return try.To(
		jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret)),
	).OrFatal(t)
}

func errorCodeOf(t *testing.T, body []byte) apierr.Code {
	t.Helper()
	resp := apierr.ErrorResponse{}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("response is not an error document: %s: %s", err, body)
	}
	return resp.Message.Code
}

func TestBearerActor(t *testing.T) {

	t.Run("when the Authorization header is missing, it rejects the request before the handler", func(t *testing.T) {
		e := echo.New()
		c, respRec := httptestutil.Get(e, "/api/users")

		invoked := false
		testee := handlers.BearerActor(auth.Parser{})(func(c echo.Context) error {
			invoked = true
			return nil
		})
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if invoked {
			t.Error("the handler should not run without a token")
		}
		if respRec.Code != http.StatusForbidden {
			t.Errorf("status code: got %d, expected %d", respRec.Code, http.StatusForbidden)
		}
		if code := errorCodeOf(t, respRec.Body.Bytes()); code != apierr.NotAuthorized {
			t.Errorf("error code: got %s, expected %s", code, apierr.NotAuthorized)
		}
	})

	t.Run("when a bearer token is presented, the handler sees the actor it names", func(t *testing.T) {
		token := signedToken(t, "token-secret", jwt.MapClaims{
			"sub":                "user-1",
			"preferred_username": "alice",
			"realm_access":       map[string]any{"roles": []any{"admin", "offline_access"}},
		})

		e := echo.New()
		c, _ := httptestutil.Get(e, "/api/users", httptestutil.Bearer(token))

		var actor auth.Actor
		testee := handlers.BearerActor(auth.Parser{Secret: []byte("token-secret")})(
			func(c echo.Context) error {
				actor = handlers.ActorOf(c)
				return nil
			},
		)
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if actor.UserID != "user-1" || actor.Username != "alice" {
			t.Errorf("actor: got %+v", actor)
		}
		if !actor.HasRole("admin") {
			t.Errorf("actor should hold the admin role: %+v", actor)
		}
	})

	t.Run("when the signature does not verify, it rejects with NOT_AUTHORIZED", func(t *testing.T) {
		token := signedToken(t, "wrong-secret", jwt.MapClaims{"sub": "user-1"})

		e := echo.New()
		c, respRec := httptestutil.Get(e, "/api/users", httptestutil.Bearer(token))

		testee := handlers.BearerActor(auth.Parser{Secret: []byte("token-secret")})(
			func(c echo.Context) error { return nil },
		)
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

func TestRequireRole(t *testing.T) {

	chain := func(role string, next echo.HandlerFunc) echo.HandlerFunc {
		return handlers.BearerActor(auth.Parser{})(handlers.RequireRole(role)(next))
	}

	t.Run("when the actor lacks the required role, it rejects with NOT_AUTHORIZED", func(t *testing.T) {
		token := signedToken(t, "anything", jwt.MapClaims{
			"sub":                "user-2",
			"preferred_username": "bob",
			"realm_access":       map[string]any{"roles": []any{"offline_access"}},
		})

		e := echo.New()
		c, respRec := httptestutil.Get(e, "/api/users", httptestutil.Bearer(token))

		invoked := false
		testee := chain("admin", func(c echo.Context) error {
			invoked = true
			return nil
		})
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if invoked {
			t.Error("the handler should not run for a non-admin")
		}
		if respRec.Code != http.StatusForbidden {
			t.Errorf("status code: got %d, expected %d", respRec.Code, http.StatusForbidden)
		}
		if code := errorCodeOf(t, respRec.Body.Bytes()); code != apierr.NotAuthorized {
			t.Errorf("error code: got %s, expected %s", code, apierr.NotAuthorized)
		}
	})

	t.Run("when the actor holds the required role, the handler runs", func(t *testing.T) {
		token := signedToken(t, "anything", jwt.MapClaims{
			"sub":                "user-1",
			"preferred_username": "alice",
			"realm_access":       map[string]any{"roles": []any{"admin"}},
		})

		e := echo.New()
		c, _ := httptestutil.Get(e, "/api/users", httptestutil.Bearer(token))

		invoked := false
		testee := chain("admin", func(c echo.Context) error {
			invoked = true
			return nil
		})
		if err := testee(c); err != nil {
			t.Fatal(err)
		}

		if !invoked {
			t.Error("the handler should run for an admin")
		}
	})
}
