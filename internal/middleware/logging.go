package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"teleconsult-server/internal/utils"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger logs one line per request and tags the response with a
// request id, reusing the caller's id when it sent one.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		start := time.Now()
		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Header(RequestIDHeader, reqID)
		c.Set("requestID", reqID)

		c.Next()

		status := c.Writer.Status()
		var ev *zerolog.Event
		switch {
		case status >= http.StatusInternalServerError:
			ev = log.Error()
		case status >= http.StatusBadRequest:
			ev = log.Warn()
		default:
			ev = log.Info()
		}
		if actor, ok := ActorFromContext(c); ok {
			ev = ev.Str("actor_id", actor.SubjectID).Str("role", string(actor.Role))
		}
		if len(c.Errors) > 0 {
			ev = ev.Str("errors", c.Errors.String())
		}
		ev.Str("request_id", reqID).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// Recovery turns a panic in a handler into a 500 response and logs it.
func Recovery(log zerolog.Logger) gin.HandlerFunc {
	log = log.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().
					Interface("panic", r).
					Str("method", c.Request.Method).
					Str("path", c.Request.URL.Path).
					Msg("recovered from panic")
				if !c.Writer.Written() {
					utils.InternalServerError(c, "Internal server error")
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
