package handler

import (
	"context"
	"net/http"

	"breakout-radar/internal/domain"
	"breakout-radar/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

type EngineAPI interface {
	Status() service.Status
	Analyze(ctx context.Context, symbol string) (*service.Analysis, error)
	ListSignals(ctx context.Context, filter domain.SignalFilter) ([]domain.Signal, error)
}

type Handler struct {
	tracer trace.Tracer
	engine EngineAPI
}

func New(tracer trace.Tracer, engine EngineAPI) *Handler {
	return &Handler{
		tracer: tracer,
		engine: engine,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/api/status", h.GetStatus)
	r.GET("/api/signals", h.GetSignals)
	r.GET("/api/setups", h.GetSetups)
	r.GET("/api/analysis/:symbol", h.GetAnalysis)
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
