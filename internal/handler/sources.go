package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListSources godoc
// @Summary      Source health
// @Description  Returns the circuit breaker state, tier and recent outcomes of every live source
// @Tags         sources
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/sources [get]
func (h *Handler) ListSources(c *gin.Context) {
	_, span := h.tracer.Start(c.Request.Context(), "handler.list-sources")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"sources": h.collection.SourceHealth()})
}
