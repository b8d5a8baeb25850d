package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	apierr "github.com/opst/adminhub/pkg/api/types/errors"
)

// respond renders err with its contract code and status. Errors from
// outside the error taxonomy surface as UPSTREAM_ERROR.
func respond(c echo.Context, err error) error {
	em := apierr.ErrorMessage{}
	if !errors.As(err, &em) {
		em = apierr.ErrorMessage{Code: apierr.UpstreamError, Reason: err.Error()}
	}
	return c.JSON(apierr.HTTPStatus(em.Code), apierr.ErrorResponse{Message: em})
}

// bindData reads the JSON request body as a mutation payload.
func bindData(c echo.Context) (map[string]any, error) {
	data := map[string]any{}
	if err := c.Bind(&data); err != nil {
		return nil, apierr.Wrap(apierr.MalformedAttribute, "request body is not a JSON object", err)
	}
	return data, nil
}
