package middleware

import (
	"net/http"
	"time"

	"rendezlink/pkg/errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// statusForKind maps an error kind to the admin API response status.
func statusForKind(kind errors.Kind) int {
	switch kind {
	case errors.KindTransport:
		return http.StatusBadGateway
	case errors.KindResource:
		return http.StatusServiceUnavailable
	case errors.KindConfig, errors.KindProtocol:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandlerMiddleware renders errors attached with c.Error when the
// handler wrote no response of its own.
func ErrorHandlerMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err

		if appErr := errors.GetAppError(err); appErr != nil {
			status := statusForKind(appErr.Kind)
			logger.Errorw("admin request failed",
				"kind", appErr.Kind,
				"message", appErr.Message,
				"status", status,
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
				"error", err,
			)
			c.JSON(status, gin.H{
				"error":   appErr.Message,
				"kind":    string(appErr.Kind),
				"details": appErr.Context,
			})
			return
		}

		logger.Errorw("unhandled error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
	}
}

// RecoveryMiddleware recovers from panics and returns proper error responses
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}

// AccessLogMiddleware logs one line per request.
func AccessLogMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debugw("admin request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client", c.ClientIP(),
		)
	}
}
