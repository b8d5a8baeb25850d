package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opst/adminhub/pkg/api/types/args"
	"github.com/opst/adminhub/pkg/domain/secret"
)

func ListSecretsHandler(secrets *secret.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		rows, err := secrets.Query(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func SecretsConnectionHandler(secrets *secret.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		connection, err := secrets.ConnectionQuery(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, connection)
	}
}

func GetSecretHandler(secrets *secret.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := secrets.QueryOne(c.Request().Context(), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		if record == nil {
			return c.JSON(http.StatusOK, nil)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func CreateSecretHandler(secrets *secret.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := secrets.Create(c.Request().Context(), ActorOf(c), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func UpdateSecretHandler(secrets *secret.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := secrets.Update(c.Request().Context(), ActorOf(c), c.Param(paramKey), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func DestroySecretHandler(secrets *secret.Resolver, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := secrets.Destroy(c.Request().Context(), ActorOf(c), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}
