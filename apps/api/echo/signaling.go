package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/roxnlabs/mentora/services/signaling"
)

func registerSignalingAPI(g *echo.Group, jwt echo.MiddlewareFunc, auth *authenticator, hub *signaling.Hub) {
	g.GET("/signaling", func(ctx echo.Context) error {
		usr, err := auth.contextUser(ctx)
		if err != nil {
			return err
		}
		// ServeWS always answers on its own (an HTTP error or a websocket close frame),
		// so nothing may reach the error handler once it has run.
		if err := hub.ServeWS(ctx.Response(), ctx.Request(), usr.ID); err != nil {
			ctx.Logger().Warn(err)
		}
		return nil
	}, jwt)
}
