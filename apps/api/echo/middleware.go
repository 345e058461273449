package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// identityMiddleware rejects tokens that do not carry a usable identity.
func identityMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		if _, err := getContextIdentity(ctx); err != nil {
			return errors.Wrap(err, "getting context identity")
		}
		return next(ctx)
	}
}

func adminMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := getContextIdentity(ctx)
		if err != nil {
			return errors.Wrap(err, "getting context identity")
		}
		if id.IsAdmin() {
			return next(ctx)
		}
		return errHttpForbidden
	}
}
