package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	apperr "github.com/gyasca/alibaba-hack-2025-backend/internal/errors"
	"github.com/gyasca/alibaba-hack-2025-backend/internal/logger"
)

// ErrorHandler writes {"error": msg} for the last error a handler attached
// with c.Error, using the status mapped from its kind.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := apperr.StatusCode(err)
		fields := map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": status,
			"kind":   string(apperr.KindOf(err)),
		}
		if status >= http.StatusInternalServerError {
			logger.WithError(err, "http").WithFields(fields).Error("Request failed")
		} else {
			logger.Debug(err.Error(), fields)
		}

		c.JSON(status, gin.H{"error": apperr.PublicMessage(err)})
	}
}

// Recovery turns a panic into a 500 with the usual error body.
func Recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logger.Error("Recovered from panic", map[string]interface{}{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"panic":  fmt.Sprint(recovered),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprint(recovered)})
	})
}
