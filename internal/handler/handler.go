package handler

import (
	"onchain-collector/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer     trace.Tracer
	collection *service.CollectionService
	gatherer   prometheus.Gatherer
	apiKey     string
}

// New builds the HTTP handlers. gatherer may be nil, in which case /metrics
// is not served.
func New(tracer trace.Tracer, collection *service.CollectionService, gatherer prometheus.Gatherer, apiKey string) *Handler {
	return &Handler{
		tracer:     tracer,
		collection: collection,
		gatherer:   gatherer,
		apiKey:     apiKey,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	if h.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api", APIKeyAuth(h.apiKey))
	api.GET("/sources", h.ListSources)
	api.GET("/metrics/:symbol", h.GetLatestMetrics)
	api.GET("/metrics/:symbol/history", h.GetMetricsHistory)
	api.POST("/collect/run", h.RunCollection)
}
