package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/pawmark/trapper/pkg/appctx"
)

const (
	// HeaderSourceSystem identifies the connector calling the API
	HeaderSourceSystem = "X-Source-System"
	// HeaderActor identifies the staff member for review dispositions
	HeaderActor = "X-Actor"
)

func Context() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}

			ctx := req.Context()
			ctx = appctx.SetRequestID(ctx, requestID)
			ctx = appctx.SetSourceSystem(ctx, req.Header.Get(HeaderSourceSystem))
			ctx = appctx.SetActor(ctx, req.Header.Get(HeaderActor))

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
