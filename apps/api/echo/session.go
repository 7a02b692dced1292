package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/roxnlabs/mentora/core/session"
)

type sessionAPI struct {
	svc      session.Service
	auth     *authenticator
	validate *validator.Validate
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, deps ServerDeps) {
	api := sessionAPI{svc: deps.SessionSvc, auth: auth, validate: deps.Validate}

	g.GET("/mentors/:id/rating", api.mentorRating)

	sg := g.Group("/sessions", jwt)
	sg.POST("", api.create)
	sg.GET("", api.query)
	sg.GET("/:id", api.retrieve)
	sg.POST("/:id/rating", api.rate)
	for _, action := range []session.Action{
		session.ActionAccept, session.ActionReject, session.ActionComplete, session.ActionCancel,
	} {
		sg.POST("/:id/"+string(action), api.transition(action))
	}
}

func (api *sessionAPI) create(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return err
	}
	var data session.NewRecord
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRecord")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err := api.svc.Create(ctx.Request().Context(), usr, data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, r)
}

// query lists the sessions of the current user; admins may pass `all=true` to list every session.
func (api *sessionAPI) query(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return err
	}
	filter := new(session.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []session.Record{})
	}
	filter.Clean()
	if !(usr.IsAdmin() && ctx.QueryParam("all") == "true") {
		filter.UserID = usr.ID
	}

	records, err := api.svc.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if records == nil {
		records = []session.Record{}
	}
	return ctx.JSON(http.StatusOK, records)
}

func (api *sessionAPI) retrieve(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return err
	}
	r, err := api.svc.GetForUser(ctx.Request().Context(), ctx.Param("id"), usr)
	if err != nil {
		return errors.Wrap(err, "finding session")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *sessionAPI) transition(action session.Action) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := api.auth.contextUser(ctx)
		if err != nil {
			return err
		}
		r, err := api.svc.Transition(ctx.Request().Context(), ctx.Param("id"), usr, action)
		if err != nil {
			return errors.Wrapf(err, "%s session", action)
		}
		return ctx.JSON(http.StatusOK, r)
	}
}

func (api *sessionAPI) rate(ctx echo.Context) error {
	usr, err := api.auth.contextUser(ctx)
	if err != nil {
		return err
	}
	var data session.NewRating
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewRating")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err := api.svc.Rate(ctx.Request().Context(), ctx.Param("id"), usr, data)
	if err != nil {
		return errors.Wrap(err, "rating session")
	}
	return ctx.JSON(http.StatusOK, r)
}

func (api *sessionAPI) mentorRating(ctx echo.Context) error {
	summary, err := api.svc.MentorRating(ctx.Request().Context(), ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "computing mentor rating")
	}
	return ctx.JSON(http.StatusOK, summary)
}
