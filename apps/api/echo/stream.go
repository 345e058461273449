package echoapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core/notification"
)

const (
	sseEventNotification = "notification"
	sseRetry             = 3 * time.Second
	defaultHeartbeat     = 25 * time.Second
)

// stream pushes the caller's notifications as Server-Sent Events until the client goes away
// or the hub is closed on shutdown.
// Clients reconcile through the list endpoint on every (re)connect; missed pushes are not replayed.
func (api *notificationApi) stream(ctx echo.Context) error {
	recipient, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}

	sub := api.hub.Subscribe(recipient)
	defer sub.Close()

	res := ctx.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)

	if _, err = fmt.Fprintf(res, "retry: %d\n: connected\n\n", sseRetry.Milliseconds()); err != nil {
		return nil
	}
	res.Flush()

	heartbeat := time.NewTicker(api.heartbeat)
	defer heartbeat.Stop()

	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case v, ok := <-sub.C:
			if !ok {
				return nil
			}
			if err = writeEvent(res, v); err != nil {
				return nil // client went away
			}
		case <-heartbeat.C:
			if _, err = fmt.Fprint(res, ": ping\n\n"); err != nil {
				return nil
			}
		}
		res.Flush()
	}
}

func writeEvent(res *echo.Response, v notification.View) error {
	err := sse.Encode(res, sse.Event{
		Id:    v.ID,
		Event: sseEventNotification,
		Data:  v,
	})
	return errors.Wrap(err, "encoding notification event")
}
