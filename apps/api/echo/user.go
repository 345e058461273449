package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/core/user"
)

type accountApi struct {
	svc      user.Service
	validate *validator.Validate
}

func registerAccountAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc user.Service,
	validate *validator.Validate,
) {
	api := accountApi{
		svc:      svc,
		validate: validate,
	}

	ag := g.Group("/accounts")

	// un-authed endpoints
	ag.POST("/register", api.register)

	// admin endpoints
	adm := ag.Group("", jwt, adminMiddleware)
	adm.GET("", api.query)
	adm.POST("/reminders", api.remind)
	adm.POST("/:id/status", api.decide)
}

type reminderResponse struct {
	Notifications []notification.Notification `json:"notifications"`
}

// Handlers

func (api *accountApi) register(ctx echo.Context) error {
	var data user.NewAccount
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewAccount")
	}
	if err := data.Validate(api.validate, api.svc); err != nil {
		return err
	}

	acc, err := api.svc.Register(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "registering account")
	}
	return ctx.JSON(http.StatusCreated, acc)
}

func (api *accountApi) query(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var filter user.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to user.QueryFilter")
	}

	accounts, err := api.svc.Query(ctx.Request().Context(), actor, filter)
	if err != nil {
		return errors.Wrap(err, "querying accounts")
	}
	return ctx.JSON(http.StatusOK, accounts)
}

func (api *accountApi) decide(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var data user.DecisionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to DecisionRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	acc, err := api.svc.Decide(ctx.Request().Context(), actor, ctx.Param("id"), data.Status)
	if err != nil {
		return errors.Wrap(err, "deciding on account")
	}
	return ctx.JSON(http.StatusOK, acc)
}

func (api *accountApi) remind(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var data user.ReminderRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ReminderRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	ns, err := api.svc.Remind(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "sending reminder")
	}
	return ctx.JSON(http.StatusCreated, reminderResponse{Notifications: ns})
}
