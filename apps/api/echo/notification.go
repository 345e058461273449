package echoapi

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core/notification"
	"github.com/trezcool/capstone/services/realtime"
)

type notificationApi struct {
	svc       notification.Service
	hub       *realtime.Hub
	heartbeat time.Duration
}

func registerNotificationAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc notification.Service,
	hub *realtime.Hub,
	heartbeat time.Duration,
) {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	api := notificationApi{
		svc:       svc,
		hub:       hub,
		heartbeat: heartbeat,
	}

	ng := g.Group("/notifications", queryTokenMiddleware, jwt, identityMiddleware)
	ng.GET("", api.list)
	ng.DELETE("", api.destroyAll)
	ng.POST("/read-all", api.markAllRead)
	ng.GET("/stream", api.stream)
	ng.POST("/:id/read", api.markRead)
	ng.DELETE("/:id", api.destroy)
}

// Handlers

func (api *notificationApi) list(ctx echo.Context) error {
	recipient, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	kinds, err := bindKinds(ctx)
	if err != nil {
		return err
	}

	lst, err := api.svc.List(ctx.Request().Context(), recipient, kinds...)
	if err != nil {
		return errors.Wrap(err, "listing notifications")
	}
	return ctx.JSON(http.StatusOK, lst)
}

func (api *notificationApi) markRead(ctx echo.Context) error {
	recipient, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	v, err := api.svc.MarkRead(ctx.Request().Context(), ctx.Param("id"), recipient)
	if err != nil {
		return errors.Wrap(err, "marking notification read")
	}
	return ctx.JSON(http.StatusOK, v)
}

func (api *notificationApi) markAllRead(ctx echo.Context) error {
	recipient, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	lst, err := api.svc.MarkAllRead(ctx.Request().Context(), recipient)
	if err != nil {
		return errors.Wrap(err, "marking all notifications read")
	}
	return ctx.JSON(http.StatusOK, lst)
}

func (api *notificationApi) destroy(ctx echo.Context) error {
	recipient, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.Delete(ctx.Request().Context(), ctx.Param("id"), recipient); err != nil {
		return errors.Wrap(err, "deleting notification")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *notificationApi) destroyAll(ctx echo.Context) error {
	recipient, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	if err = api.svc.DeleteAll(ctx.Request().Context(), recipient); err != nil {
		return errors.Wrap(err, "deleting all notifications")
	}
	return ctx.NoContent(http.StatusNoContent)
}
