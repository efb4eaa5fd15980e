package server

import (
	"time"

	"auction-lifecycle/services/helpers"
	"auction-lifecycle/utils"

	"github.com/gin-gonic/gin"
)

// RequestLoggerMiddleware logs incoming requests with timing
func RequestLoggerMiddleware(c *gin.Context) {
	start := time.Now()

	c.Next() // process request

	fields := map[string]any{
		"method":  c.Request.Method,
		"path":    c.Request.URL.Path,
		"status":  c.Writer.Status(),
		"latency": time.Since(start).String(),
	}
	if user := c.GetHeader(helpers.UserHeader); user != "" {
		fields["user"] = user
	}
	if len(c.Errors) > 0 {
		fields["errors"] = c.Errors.String()
	}

	switch status := c.Writer.Status(); {
	case status >= 500:
		utils.Error("HTTP Request", fields)
	case status >= 400:
		utils.Warn("HTTP Request", fields)
	default:
		utils.Info("HTTP Request", fields)
	}
}
