package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/opst/adminhub/pkg/conn/keycloak"
	"github.com/opst/adminhub/pkg/domain/announcement"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
)

// MyAnnouncementsHandler serves the calling user's feed.
func MyAnnouncementsHandler(
	announcements *resource.Engine,
	perms permissions.Store,
	identity keycloak.IdentityStore,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		records, err := announcement.ForUser(
			c.Request().Context(), announcements, perms, identity,
			ActorOf(c).UserID, time.Now(),
		)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, records)
	}
}

// MarkAnnouncementsReadHandler moves the calling user's last-read mark.
func MarkAnnouncementsReadHandler(identity keycloak.IdentityStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := announcement.MarkRead(
			c.Request().Context(), identity, ActorOf(c).UserID, time.Now(),
		)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}
