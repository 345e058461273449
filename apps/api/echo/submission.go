package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/capstone/core/submission"
)

type submissionApi struct {
	svc      submission.Service
	validate *validator.Validate
}

func registerSubmissionAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc submission.Service,
	validate *validator.Validate,
) {
	api := submissionApi{
		svc:      svc,
		validate: validate,
	}

	sg := g.Group("/submissions", jwt, identityMiddleware)
	sg.POST("", api.create)
	sg.GET("", api.query)

	// detail endpoints
	dg := sg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.GET("/history", api.history)
	dg.POST("/transition", api.transition)
	dg.POST("/resubmit", api.resubmit)
	dg.POST("/comments", api.comment)
	dg.POST("/reopen", api.reopen, adminMiddleware)
}

type reopenRequest struct {
	Comment string `json:"comment" validate:"max=2000"`
}

// Handlers

func (api *submissionApi) create(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var data submission.NewSubmission
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSubmission")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Submit(ctx.Request().Context(), actor, data)
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	return ctx.JSON(http.StatusCreated, sub)
}

func (api *submissionApi) query(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var filter submission.QueryFilter
	if err = ctx.Bind(&filter); err != nil {
		return errors.Wrap(err, "binding to submission.QueryFilter")
	}
	var ordering Ordering
	ordering.Bind(ctx)

	subs, err := api.svc.Query(ctx.Request().Context(), actor, filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying submissions")
	}
	return ctx.JSON(http.StatusOK, subs)
}

func (api *submissionApi) retrieve(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	sub, err := api.svc.Get(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *submissionApi) history(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	entries, err := api.svc.History(ctx.Request().Context(), actor, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "retrieving submission history")
	}
	return ctx.JSON(http.StatusOK, entries)
}

func (api *submissionApi) transition(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var data submission.TransitionRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to TransitionRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Transition(ctx.Request().Context(), actor, ctx.Param("id"), data.Status, data.Comment)
	if err != nil {
		return errors.Wrap(err, "transitioning submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *submissionApi) resubmit(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var data submission.ResubmitRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResubmitRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Resubmit(ctx.Request().Context(), actor, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "resubmitting submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *submissionApi) comment(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var data submission.CommentRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to CommentRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}

	sub, err := api.svc.Comment(ctx.Request().Context(), actor, ctx.Param("id"), data.Comment)
	if err != nil {
		return errors.Wrap(err, "commenting on submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}

func (api *submissionApi) reopen(ctx echo.Context) error {
	actor, err := getContextIdentity(ctx)
	if err != nil {
		return err
	}
	var data reopenRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to reopenRequest")
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	sub, err := api.svc.Reopen(ctx.Request().Context(), actor, ctx.Param("id"), data.Comment)
	if err != nil {
		return errors.Wrap(err, "reopening submission")
	}
	return ctx.JSON(http.StatusOK, sub)
}
