package handler

import (
	"net/http"
	"strconv"
	"strings"

	"breakout-radar/internal/domain"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

func (h *Handler) GetStatus(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-status")
	defer span.End()

	c.JSON(http.StatusOK, h.engine.Status())
}

func (h *Handler) GetSignals(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-signals")
	defer span.End()

	filter := domain.SignalFilter{
		Symbol: strings.ToUpper(strings.TrimSpace(c.Query("symbol"))),
	}
	if filter.Symbol != "" {
		span.SetAttributes(attribute.String("symbol", filter.Symbol))
	}

	if rawKind := strings.ToLower(strings.TrimSpace(c.Query("kind"))); rawKind != "" {
		kind := domain.SignalKind(rawKind)
		if kind != domain.SignalKindSetup && kind != domain.SignalKindEntry {
			c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be setup or entry"})
			return
		}
		filter.Kind = kind
	}

	if rawDir := strings.ToUpper(strings.TrimSpace(c.Query("direction"))); rawDir != "" {
		dir := domain.Direction(rawDir)
		if !dir.IsValid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "direction must be LONG or SHORT"})
			return
		}
		filter.Direction = dir
	}

	limit := 50
	if rawLimit := strings.TrimSpace(c.Query("limit")); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n <= 0 || n > 200 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 200"})
			return
		}
		limit = n
	}
	filter.Limit = limit

	signals, err := h.engine.ListSignals(ctx, filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"signals": signals})
}

func (h *Handler) GetSetups(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}
	_, span := h.tracer.Start(c.Request.Context(), "handler.get-setups")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"setups": h.engine.Status().OpenSetups})
}

func (h *Handler) GetAnalysis(c *gin.Context) {
	if h.engine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "engine unavailable"})
		return
	}

	ctx, span := h.tracer.Start(c.Request.Context(), "handler.get-analysis")
	defer span.End()

	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	span.SetAttributes(attribute.String("symbol", symbol))

	analysis, err := h.engine.Analyze(ctx, symbol)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, analysis)
}
