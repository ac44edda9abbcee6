package middlewares

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yeremiapane/settlement-engine/utils"
)

func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		entry := utils.InfoLogger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
			"path":    path,
		})
		if len(c.Errors) > 0 {
			entry.Warn(c.Errors.String())
			return
		}
		entry.Info("request")
	}
}

// RefundAuditLogger records who asked for which refund and how it ended.
func RefundAuditLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		paymentID := c.Param("payment_id")
		utils.InfoLogger.Printf("Refund requested for payment %s from %s", paymentID, c.ClientIP())

		c.Next()

		if status := c.Writer.Status(); status < 300 {
			utils.InfoLogger.Printf("Refund for payment %s completed", paymentID)
		} else {
			utils.ErrorLogger.Printf("Refund for payment %s rejected with %d", paymentID, status)
		}
	}
}
