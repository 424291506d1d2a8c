package handler

import (
	"net/http"

	"onchain-collector/internal/domain"

	"github.com/gin-gonic/gin"
)

// Health godoc
// @Summary      Health check
// @Description  Returns the service status, the breaker state of every source and the last cycle summary
// @Tags         health
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	open := 0
	for _, s := range h.collection.SourceHealth() {
		if s.State == domain.BreakerOpen {
			open++
		}
	}
	body := gin.H{"status": "healthy", "open_sources": open}
	if last := h.collection.LastCycle(); last != nil {
		body["last_cycle"] = last
	}
	c.JSON(http.StatusOK, body)
}
