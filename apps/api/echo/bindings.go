package echoapi

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/roxnlabs/mentora/core"
)

const orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads "?ordering=field1,-field2", keeping the allowed fields only.
func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) {
	if val := ctx.QueryParam(orderingParam); val != "" {
		ord.Orderings = core.ParseOrdering(val, allowed...)
	}
}

// timeParam parses an RFC 3339 query param; invalid or missing values give the zero time.
func timeParam(ctx echo.Context, name string) time.Time {
	t, err := time.Parse(time.RFC3339, ctx.QueryParam(name))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

type (
	SuccessResponse struct {
		Success string `json:"success"`
	}

	CreatedResponse struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		ID      string `json:"id"`
	}
)
