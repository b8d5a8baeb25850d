package handlers

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/domain/group"
	"github.com/opst/adminhub/pkg/domain/image"
	"github.com/opst/adminhub/pkg/domain/permissions"
	"github.com/opst/adminhub/pkg/domain/resource"
)

func ListGroupsHandler(groups *group.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		rows, err := groups.Query(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func GroupsConnectionHandler(groups *group.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		connection, err := groups.ConnectionQuery(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, connection)
	}
}

func GetGroupHandler(groups *group.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := groups.QueryOne(c.Request().Context(), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		if record == nil {
			return c.JSON(http.StatusOK, nil)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func CreateGroupHandler(groups *group.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := groups.Create(c.Request().Context(), ActorOf(c), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func UpdateGroupHandler(groups *group.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := groups.Update(c.Request().Context(), ActorOf(c), c.Param(paramKey), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func DestroyGroupHandler(groups *group.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := groups.Destroy(c.Request().Context(), ActorOf(c), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

// requireGroupAdmin passes administrators and the group's own admins
// (named in its admins attribute); everyone else is rejected.
func requireGroupAdmin(c echo.Context, groups *group.Resolver, adminRole string, groupID string) error {
	actor := ActorOf(c)
	if actor.HasRole(adminRole) {
		return nil
	}
	isGroupAdmin, err := groups.IsAdmin(c.Request().Context(), groupID, actor.Username)
	if err != nil {
		return err
	}
	if !isGroupAdmin {
		return apierr.New(
			apierr.NotAuthorized,
			"only administrators and group admins can manage a group's images",
		)
	}
	return nil
}

// GroupImagesHandler lists the images one group can use. Administrators
// see any group; a group admin sees their own.
func GroupImagesHandler(
	groups *group.Resolver,
	images *resource.Engine,
	perms permissions.Store,
	adminRole string,
	paramKey string,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		groupID := c.Param(paramKey)

		if err := requireGroupAdmin(c, groups, adminRole, groupID); err != nil {
			return respond(c, err)
		}

		records, err := image.ForGroup(ctx, images, perms, groupID)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, records)
	}
}

// CreateGroupImageHandler creates an image owned by one group. The image
// is stamped with the group's name and its visibility role is granted to
// that group, so the owner can use it right away.
func CreateGroupImageHandler(
	groups *group.Resolver,
	images *resource.Engine,
	adminRole string,
	paramKey string,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		groupID := c.Param(paramKey)

		if err := requireGroupAdmin(c, groups, adminRole, groupID); err != nil {
			return respond(c, err)
		}
		grp, err := groups.QueryOne(ctx, groupID)
		if err != nil {
			return respond(c, err)
		}
		if grp == nil {
			return respond(c, apierr.New(
				apierr.UpstreamError, fmt.Sprintf("group %s does not exist", groupID),
			))
		}

		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		data["groupName"] = grp["name"]
		data["global"] = false
		data["groups"] = map[string]any{
			"connect": []any{map[string]any{"id": groupID}},
		}

		record, err := images.Create(ctx, ActorOf(c), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

// UpdateGroupImageHandler updates an image owned by the group. Images of
// other groups (or admin-owned catalog images) are off limits here.
func UpdateGroupImageHandler(
	groups *group.Resolver,
	images *resource.Engine,
	adminRole string,
	groupParamKey string,
	nameParamKey string,
) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		groupID := c.Param(groupParamKey)
		name := c.Param(nameParamKey)

		if err := requireGroupAdmin(c, groups, adminRole, groupID); err != nil {
			return respond(c, err)
		}
		grp, err := groups.QueryOne(ctx, groupID)
		if err != nil {
			return respond(c, err)
		}
		if grp == nil {
			return respond(c, apierr.New(
				apierr.UpstreamError, fmt.Sprintf("group %s does not exist", groupID),
			))
		}

		current, err := images.QueryOne(ctx, name)
		if err != nil {
			return respond(c, err)
		}
		if current == nil || current["groupName"] != grp["name"] {
			return respond(c, apierr.New(
				apierr.NotAuthorized,
				fmt.Sprintf("image %s is not owned by group %s", name, groupID),
			))
		}

		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		// ownership fields are server-side; the payload cannot move the
		// image to another group or make it global
		delete(data, "groupName")
		delete(data, "global")
		delete(data, "groups")

		record, err := images.Update(ctx, ActorOf(c), name, data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}
