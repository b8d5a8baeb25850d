package handlers

import (
	"strings"

	"github.com/labstack/echo/v4"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/domain/auth"
)

const actorContextKey = "adminhub.actor"

// BearerActor resolves the calling actor from the Authorization header
// and stores it on the request context. Requests without a usable token
// are rejected before any handler runs.
func BearerActor(parser auth.Parser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				return respond(c, apierr.New(apierr.NotAuthorized, "bearer token is required"))
			}
			actor, err := parser.Parse(token)
			if err != nil {
				return respond(c, err)
			}
			c.Set(actorContextKey, actor)
			return next(c)
		}
	}
}

// ActorOf reads the actor BearerActor stored.
func ActorOf(c echo.Context) auth.Actor {
	actor, _ := c.Get(actorContextKey).(auth.Actor)
	return actor
}

// RequireRole guards a route group behind one role.
func RequireRole(role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if err := ActorOf(c).RequireRole(role); err != nil {
				return respond(c, err)
			}
			return next(c)
		}
	}
}
