package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

type historyQuery struct {
	From  string `form:"from" binding:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	To    string `form:"to" binding:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	Limit int    `form:"limit,default=168" binding:"gte=1,lte=2000"`
}

// GetLatestMetrics godoc
// @Summary      Latest fused record
// @Description  Returns the most recent quality-scored record for an asset
// @Tags         metrics
// @Produce      json
// @Param        symbol  path  string  true  "Asset symbol (e.g., BTC, ADA)"
// @Success      200  {object}  domain.MetricRecord
// @Failure      404  {object}  map[string]string
// @Router       /api/metrics/{symbol} [get]
func (h *Handler) GetLatestMetrics(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-latest-metrics")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	span.SetAttributes(attribute.String("symbol", symbol))

	rec, err := h.collection.GetLatest(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no metrics stored for " + symbol})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// GetMetricsHistory godoc
// @Summary      Record history
// @Description  Returns stored records for an asset in a time range, newest first
// @Tags         metrics
// @Produce      json
// @Param        symbol  path   string  true   "Asset symbol (e.g., BTC, ADA)"
// @Param        from    query  string  false  "RFC3339 start (default: 7 days before to)"
// @Param        to      query  string  false  "RFC3339 end (default: now)"
// @Param        limit   query  int     false  "Maximum rows (default 168, max 2000)"  default(168)
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/metrics/{symbol}/history [get]
func (h *Handler) GetMetricsHistory(c *gin.Context) {
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-metrics-history")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	span.SetAttributes(attribute.String("symbol", symbol))

	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var from, to time.Time
	if q.From != "" {
		from, _ = time.Parse(time.RFC3339, q.From)
	}
	if q.To != "" {
		to, _ = time.Parse(time.RFC3339, q.To)
	}

	records, err := h.collection.History(ctx, symbol, from, to, q.Limit)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "count": len(records), "records": records})
}
