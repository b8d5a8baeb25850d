package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opst/adminhub/pkg/api/types/args"
	"github.com/opst/adminhub/pkg/domain/resource"
)

// The cluster-backed entities (images, instance types, datasets,
// announcements) share one engine API, so they share one set of
// handlers; the engine passed in decides the entity.

func ListResourceHandler(engine *resource.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		rows, err := engine.Query(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, rows)
	}
}

func ResourceConnectionHandler(engine *resource.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		request, err := args.FromQuery(c.QueryParams())
		if err != nil {
			return respond(c, err)
		}
		connection, err := engine.ConnectionQuery(c.Request().Context(), request)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, connection)
	}
}

func GetResourceHandler(engine *resource.Engine, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := engine.QueryOne(c.Request().Context(), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		if record == nil {
			// a missing resource is null, not 404: the console treats
			// absence as data
			return c.JSON(http.StatusOK, nil)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func CreateResourceHandler(engine *resource.Engine) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := engine.Create(c.Request().Context(), ActorOf(c), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func UpdateResourceHandler(engine *resource.Engine, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := engine.Update(c.Request().Context(), ActorOf(c), c.Param(paramKey), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func DestroyResourceHandler(engine *resource.Engine, paramKey string) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := engine.Destroy(c.Request().Context(), ActorOf(c), c.Param(paramKey))
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}
