package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/opst/adminhub/pkg/domain/system"
)

func GetSystemHandler(settings *system.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		record, err := settings.Query(c.Request().Context())
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}

func UpdateSystemHandler(settings *system.Resolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		data, err := bindData(c)
		if err != nil {
			return respond(c, err)
		}
		record, err := settings.Update(c.Request().Context(), ActorOf(c), data)
		if err != nil {
			return respond(c, err)
		}
		return c.JSON(http.StatusOK, record)
	}
}
