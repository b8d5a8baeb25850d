package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opst/adminhub/pkg/api/types/args"
	apierr "github.com/opst/adminhub/pkg/api/types/errors"
	"github.com/opst/adminhub/pkg/domain/user"
)

func ListUsersHandler(users *user.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		rows, err := users.Query(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func UsersConnectionHandler(users *user.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		connection, err := users.ConnectionQuery(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, connection)
	}
}

func GetUserHandler(users *user.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := users.QueryOne(c.Request().Context(), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		if record == nil {
			return c.JSON(http.StatusOK, nil)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func CreateUserHandler(users *user.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := users.Create(c.Request().Context(), ActorOf(c), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func UpdateUserHandler(users *user.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := users.Update(c.Request().Context(), ActorOf(c), c.Param(paramKey), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func DestroyUserHandler(users *user.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := users.Destroy(c.Request().Context(), ActorOf(c), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func ResetPasswordHandler(users *user.Resolver, paramKey string) echo.HandlerFunc {
	type request struct {
		Password  string `json:"password"`
		Temporary bool   `json:"temporary"`
	}
	return func(c echo.Context) error {
		req := request{}
		if err := c.Bind(&req); err != nil {
			return respond(c, apierr.Wrap(apierr.MalformedAttribute, "request body is not a JSON object", err))
		}
		err := users.ResetPassword(
			c.Request().Context(), ActorOf(c), c.Param(paramKey), req.Password, req.Temporary,
		)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

func SendEmailHandler(users *user.Resolver, paramKey string) echo.HandlerFunc {
	type request struct {
		ResetActions []string `json:"resetActions"`
		ExpiresIn    int      `json:"expiresIn"`
	}
	return func(c echo.Context) error {
		req := request{}
		if err := c.Bind(&req); err != nil {
			return respond(c, apierr.Wrap(apierr.MalformedAttribute, "request body is not a JSON object", err))
		}
		err := users.SendEmail(
			c.Request().Context(), ActorOf(c), c.Param(paramKey), req.ExpiresIn, req.ResetActions,
		)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

func SendMultiEmailHandler(users *user.Resolver) echo.HandlerFunc {
	type request struct {
		UserIDs      []string `json:"userIds"`
		ResetActions []string `json:"resetActions"`
		ExpiresIn    int      `json:"expiresIn"`
	}
	return func(c echo.Context) error {
		req := request{}
		if err := c.Bind(&req); err != nil {
			return respond(c, apierr.Wrap(apierr.MalformedAttribute, "request body is not a JSON object", err))
		}
		result, err := users.SendMultiEmail(
			c.Request().Context(), ActorOf(c), req.UserIDs, req.ExpiresIn, req.ResetActions,
		)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, result)
	}
}
