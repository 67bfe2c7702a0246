package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"recruit-chat/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		var userID *string
		if id := c.GetString("userID"); id != "" {
			userID = &id
		}
		emitter.Emit(c.Request.Context(), telemetry.LevelInfo, "audit test", requestIDFromContext(c), c.ClientIP(), userID)
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
