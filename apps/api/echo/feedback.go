package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/roxnlabs/mentora/core/feedback"
)

type feedbackAPI struct {
	svc      feedback.Service
	auth     *authenticator
	validate *validator.Validate
}

func registerFeedbackAPI(g *echo.Group, jwt, optionalJWT, limiter echo.MiddlewareFunc, auth *authenticator, deps ServerDeps) {
	api := feedbackAPI{svc: deps.FeedbackSvc, auth: auth, validate: deps.Validate}

	g.POST("/feedback", api.create, limiter, optionalJWT)
	g.GET("/feedback", api.query, jwt, adminMiddleware())
	g.PATCH("/feedback/:id", api.updateStatus, jwt, adminMiddleware())

	g.POST("/error-report", api.report, limiter, optionalJWT)
	g.GET("/error-reports", api.queryReports, jwt, adminMiddleware())
}

// meta tells who sent the request; anonymous senders are fine.
func (api *feedbackAPI) meta(ctx echo.Context) feedback.Meta {
	meta := feedback.Meta{UserAgent: ctx.Request().UserAgent()}
	if claims, err := getContextClaims(ctx); err == nil {
		meta.UserID = claims.Subject
	}
	return meta
}

func (api *feedbackAPI) create(ctx echo.Context) error {
	var data feedback.NewFeedback
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewFeedback")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	f, err := api.svc.Create(ctx.Request().Context(), data, api.meta(ctx))
	if err != nil {
		return errors.Wrap(err, "creating feedback")
	}
	return ctx.JSON(http.StatusCreated, CreatedResponse{
		Success: true,
		Message: "Thank you for your feedback!",
		ID:      f.ID,
	})
}

func (api *feedbackAPI) query(ctx echo.Context) error {
	filter := new(feedback.QueryFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []feedback.Feedback{})
	}
	filter.Clean()

	list, err := api.svc.Query(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying feedback")
	}
	if list == nil {
		list = []feedback.Feedback{}
	}
	return ctx.JSON(http.StatusOK, list)
}

func (api *feedbackAPI) updateStatus(ctx echo.Context) error {
	var data feedback.UpdateStatus
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to UpdateStatus")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	f, err := api.svc.UpdateStatus(ctx.Request().Context(), ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "updating feedback status")
	}
	return ctx.JSON(http.StatusOK, f)
}

func (api *feedbackAPI) report(ctx echo.Context) error {
	var data feedback.NewErrorReport
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewErrorReport")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	r, err := api.svc.Report(ctx.Request().Context(), data, api.meta(ctx))
	if err != nil {
		return errors.Wrap(err, "reporting error")
	}
	return ctx.JSON(http.StatusCreated, CreatedResponse{
		Success: true,
		Message: "Error reported",
		ID:      r.ID,
	})
}

func (api *feedbackAPI) queryReports(ctx echo.Context) error {
	filter := new(feedback.ErrorReportFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []feedback.ErrorReport{})
	}
	filter.Clean()

	reports, err := api.svc.QueryErrorReports(ctx.Request().Context(), *filter)
	if err != nil {
		return errors.Wrap(err, "querying error reports")
	}
	if reports == nil {
		reports = []feedback.ErrorReport{}
	}
	return ctx.JSON(http.StatusOK, reports)
}
