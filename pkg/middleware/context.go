package middleware

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/lily/pkg/context"
)

const (
	// HeaderUserID carries the actor id when token authentication is disabled.
	HeaderUserID = "X-User-ID"
)

// Context copies request metadata into the request context. When trustUserHeader
// is set the actor id is taken from X-User-ID.
func Context(trustUserHeader bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			ctx := req.Context()
			ctx = context.SetRequestID(ctx, requestID)
			ctx = context.SetMethod(ctx, req.Method)
			ctx = context.SetRoute(ctx, req.URL.Path)
			ctx = context.SetRemoteIP(ctx, c.RealIP())
			ctx = context.SetUserAgent(ctx, req.UserAgent())
			if trustUserHeader {
				ctx = context.SetActorID(ctx, req.Header.Get(HeaderUserID))
			}

			c.SetRequest(req.WithContext(ctx))

			return next(c)
		}
	}
}
