package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"mandi-prices/internal/cache"
	"mandi-prices/internal/export"
	"mandi-prices/internal/models"
	"mandi-prices/internal/services/query"
	"mandi-prices/internal/services/refresh"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// maxExportRows bounds a single XLSX export.
const maxExportRows = 10000

// refreshTimeout bounds a manual refresh, which outlives its HTTP request.
const refreshTimeout = 2 * time.Hour

type APIHandler struct {
	engine  *query.Engine
	refresh *refresh.Orchestrator
	cache   *cache.Cache
	log     logrus.FieldLogger
}

func SetupRoutes(r *gin.RouterGroup, engine *query.Engine, orch *refresh.Orchestrator, c *cache.Cache, log logrus.FieldLogger) *APIHandler {
	handler := &APIHandler{
		engine:  engine,
		refresh: orch,
		cache:   c,
		log:     log,
	}

	prices := r.Group("/prices")
	{
		prices.GET("", handler.ListPrices)
		prices.GET("/facets", handler.GetFacets)
		prices.GET("/trend", handler.GetTrend)
		prices.GET("/export", handler.ExportPrices)
	}

	r.GET("/meta", handler.GetMeta)
	r.GET("/popular/:state", handler.GetPopular)
	r.GET("/cache/stats", handler.GetCacheStats)

	r.POST("/refresh", handler.TriggerRefresh)
	r.GET("/refresh/status", handler.RefreshStatus)

	return handler
}

// ListPrices serves GET /prices.
func (h *APIHandler) ListPrices(c *gin.Context) {
	params, err := bindParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	listing, err := h.engine.Prices(c.Request.Context(), params)
	if err != nil {
		h.log.WithError(err).Warn("price listing aborted")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request canceled"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

func (h *APIHandler) GetFacets(c *gin.Context) {
	if err := validateDates(c, "date"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	facets, err := h.engine.DeriveFacets(c.Request.Context(), query.FacetContext{
		Date:      strings.TrimSpace(c.Query("date")),
		State:     strings.TrimSpace(c.Query("state")),
		District:  strings.TrimSpace(c.Query("district")),
		Commodity: strings.TrimSpace(c.Query("commodity")),
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request canceled"})
		return
	}
	c.JSON(http.StatusOK, facets)
}

func (h *APIHandler) GetTrend(c *gin.Context) {
	commodity := strings.TrimSpace(c.Query("commodity"))
	if commodity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commodity is required"})
		return
	}
	if err := validateDates(c, "from", "to"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	points, err := h.engine.Trend(c.Request.Context(), query.TrendParams{
		State:     strings.TrimSpace(c.Query("state")),
		Commodity: commodity,
		From:      strings.TrimSpace(c.Query("from")),
		To:        strings.TrimSpace(c.Query("to")),
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request canceled"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commodity": commodity, "points": points})
}

// ExportPrices streams the filtered listing as an XLSX workbook.
func (h *APIHandler) ExportPrices(c *gin.Context) {
	params, err := bindParams(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	params.Offset = 0
	params.Limit = query.MaxLimit

	var records []models.PriceRecord
	for len(records) < maxExportRows {
		res, err := h.engine.Query(c.Request.Context(), params)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request canceled"})
			return
		}
		records = append(records, res.Items...)
		if !res.HasMore {
			break
		}
		params.Offset += len(res.Items)
	}

	var buf bytes.Buffer
	if err := export.WritePrices(&buf, records); err != nil {
		h.log.WithError(err).Error("xlsx export failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="mandi-prices.xlsx"`)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *APIHandler) GetMeta(c *gin.Context) {
	meta, err := h.engine.Meta(c.Request.Context())
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no refresh has completed yet"})
		return
	}
	if err != nil {
		h.log.WithError(err).Error("reading meta index failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "meta index unavailable"})
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (h *APIHandler) GetPopular(c *gin.Context) {
	state := strings.TrimSpace(c.Param("state"))
	pc, err := h.engine.Popular(c.Request.Context(), state)
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no popular commodities for " + state})
		return
	}
	if err != nil {
		h.log.WithError(err).WithField("state", state).Error("reading popular commodities failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "popular commodities unavailable"})
		return
	}
	c.JSON(http.StatusOK, pc)
}

func (h *APIHandler) GetCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.cache.Stats())
}

// TriggerRefresh runs a refresh synchronously and returns its result. Per
// state failures are part of a 200 response; only a rejected request is an
// error status.
func (h *APIHandler) TriggerRefresh(c *gin.Context) {
	var req refresh.Request
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body: " + err.Error()})
			return
		}
	}

	// A client disconnect or proxy timeout must not cancel a run halfway.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), refreshTimeout)
	defer cancel()
	res, err := h.refresh.Refresh(ctx, req)
	switch {
	case errors.Is(err, models.ErrRefreshInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "status": h.refresh.Phase()})
		return
	case errors.Is(err, models.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *APIHandler) RefreshStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": h.refresh.Phase(), "last": h.refresh.LastResult()})
}

func bindParams(c *gin.Context) (query.Params, error) {
	p := query.Params{
		Date:      c.Query("date"),
		From:      c.Query("from"),
		To:        c.Query("to"),
		State:     c.Query("state"),
		District:  c.Query("district"),
		Market:    c.Query("market"),
		Commodity: c.Query("commodity"),
		Variety:   c.Query("variety"),
		Q:         c.Query("q"),
		SortBy:    c.Query("sort_by"),
		SortDir:   c.Query("sort_dir"),
	}
	if err := validateDates(c, "date", "from", "to"); err != nil {
		return p, err
	}
	var err error
	if p.Limit, err = intQuery(c, "limit"); err != nil {
		return p, err
	}
	if p.Offset, err = intQuery(c, "offset"); err != nil {
		return p, err
	}
	return p, nil
}

// validateDates checks that each named query parameter is empty or a
// YYYY-MM-DD date.
func validateDates(c *gin.Context, names ...string) error {
	for _, name := range names {
		v := c.Query(name)
		if v == "" {
			continue
		}
		if t, err := models.ParseDate(v); err != nil || models.FormatDate(t) != v {
			return fmt.Errorf("%s must be YYYY-MM-DD", name)
		}
	}
	return nil
}

func intQuery(c *gin.Context, name string) (int, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
