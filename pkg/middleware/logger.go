package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/lily/pkg/context"
	"github.com/Ramsey-B/lily/pkg/tracing"
)

// quietPrefixes are probe routes hit every few seconds; they are only logged on failure.
var quietPrefixes = []string{"/health", "/metrics"}

// Logger writes one line per request. 5xx responses log at error, 4xx at warn.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}

			req := c.Request()
			res := c.Response()
			if isQuiet(req.URL.Path) && res.Status < http.StatusInternalServerError {
				return nil
			}

			ctx := req.Context()
			entry := logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":  context.GetRequestID(ctx),
				"trace_id":    tracing.GetTraceID(ctx),
				"actor_id":    context.GetActorID(ctx),
				"method":      req.Method,
				"route":       c.Path(),
				"uri":         req.RequestURI,
				"status":      res.Status,
				"remote_ip":   c.RealIP(),
				"user_agent":  req.UserAgent(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes_in":    req.ContentLength,
				"bytes_out":   res.Size,
			})

			msg := req.Method + " " + c.Path()
			switch {
			case res.Status >= http.StatusInternalServerError:
				entry.Error(msg)
			case res.Status >= http.StatusBadRequest:
				entry.Warn(msg)
			default:
				entry.Info(msg)
			}
			return nil
		}
	}
}

func isQuiet(path string) bool {
	for _, prefix := range quietPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
