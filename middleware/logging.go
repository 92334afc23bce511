package middleware

import (
	"time"

	"campusconnect/activity"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const RequestIDHeader = "X-Request-ID"

// RequestLogger tags each request with an id, carries the caller's address
// into the request context for the activity log and writes an access log line.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(RequestIDHeader, requestID)
		c.Set("requestId", requestID)

		ctx := activity.WithRequestMeta(c.Request.Context(), c.ClientIP(), c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		fields := logrus.Fields{
			"requestId": requestID,
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"duration":  time.Since(start).String(),
			"ip":        c.ClientIP(),
		}
		if id, ok := UserID(c); ok {
			fields["userId"] = id.Hex()
		}
		entry := logrus.WithFields(fields)
		switch {
		case c.Writer.Status() >= 500:
			entry.Error("[HTTP] request failed")
		case len(c.Errors) > 0:
			entry.WithField("errors", c.Errors.String()).Warn("[HTTP] request")
		default:
			entry.Info("[HTTP] request")
		}
	}
}
