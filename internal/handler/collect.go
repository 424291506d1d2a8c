package handler

import (
	"errors"
	"net/http"

	"onchain-collector/internal/service"

	"github.com/gin-gonic/gin"
)

// RunCollection godoc
// @Summary      Run a collection cycle
// @Description  Runs one cycle over every active asset and returns its summary
// @Tags         collect
// @Produce      json
// @Success      200  {object}  domain.CycleResult
// @Failure      409  {object}  map[string]string
// @Failure      502  {object}  map[string]string
// @Router       /api/collect/run [post]
func (h *Handler) RunCollection(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.run-collection")
	defer span.End()

	result, err := h.collection.RunCollection(ctx)
	switch {
	case errors.Is(err, service.ErrCollectionRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
