package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/moldline-backend/internal/data/repos/quality"
	"github.com/yungbote/moldline-backend/internal/http/response"
	"github.com/yungbote/moldline-backend/internal/platform/apierr"
	"github.com/yungbote/moldline-backend/internal/platform/logger"
	"github.com/yungbote/moldline-backend/internal/services"
)

var errQueryFailed = errors.New("analytics query failed")

type AnalyticsHandler struct {
	log       *logger.Logger
	analytics services.AnalyticsService
}

func NewAnalyticsHandler(log *logger.Logger, analytics services.AnalyticsService) *AnalyticsHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return &AnalyticsHandler{log: log.With("handler", "AnalyticsHandler"), analytics: analytics}
}

// GET /api/v1/analytics/machines
func (h *AnalyticsHandler) Machines(c *gin.Context) {
	ids, err := h.analytics.Machines(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"machines": ids, "count": len(ids)})
}

// GET /api/v1/analytics/defect-rate-trend
func (h *AnalyticsHandler) DefectRateTrend(c *gin.Context) {
	f, err := parseFilter(c, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	interval, err := services.ParseInterval(c.Query("interval"))
	if err != nil {
		h.fail(c, apierr.BadRequest("invalid_interval", "%v", err))
		return
	}
	out, err := h.analytics.DefectRateTrend(c.Request.Context(), f, interval)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/v1/analytics/machine-defect-heatmap
func (h *AnalyticsHandler) MachineDefectHeatmap(c *gin.Context) {
	f, err := parseFilter(c, false)
	if err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.analytics.MachineDefectHeatmap(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/v1/analytics/top-defects
func (h *AnalyticsHandler) TopDefects(c *gin.Context) {
	f, err := parseFilter(c, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	limit, err := parseLimit(c, 10, 1, 20)
	if err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.analytics.TopDefects(c.Request.Context(), f, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/v1/analytics/machine-comparison
func (h *AnalyticsHandler) MachineComparison(c *gin.Context) {
	rows, err := h.analytics.MachineComparison(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, gin.H{"machines": rows})
}

// GET /api/v1/analytics/defect-distribution
func (h *AnalyticsHandler) DefectDistribution(c *gin.Context) {
	f, err := parseFilter(c, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.analytics.DefectDistribution(c.Request.Context(), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/v1/analytics/cycle-time-scatter
func (h *AnalyticsHandler) CycleTimeScatter(c *gin.Context) {
	f, err := parseFilter(c, true)
	if err != nil {
		h.fail(c, err)
		return
	}
	limit, err := parseLimit(c, 500, 100, 2000)
	if err != nil {
		h.fail(c, err)
		return
	}
	out, err := h.analytics.CycleTimeScatter(c.Request.Context(), f, limit)
	if err != nil {
		h.fail(c, err)
		return
	}
	response.RespondOK(c, out)
}

// GET /api/v1/analytics/product/:id/defects
func (h *AnalyticsHandler) ProductDefects(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.RespondAPIError(c, apierr.BadRequest("invalid_product_id", "product id must be a positive integer"))
		return
	}
	out, err := h.analytics.ProductDefects(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if out == nil {
		response.RespondAPIError(c, apierr.NotFound("product_not_found", "product %d not found", id))
		return
	}
	response.RespondOK(c, out)
}

// fail answers API errors as given and hides everything else behind a 500.
func (h *AnalyticsHandler) fail(c *gin.Context, err error) {
	if ae, ok := apierr.As(err); ok {
		response.RespondAPIError(c, ae)
		return
	}
	h.log.Error("Analytics query failed", "path", c.FullPath(), "error", err)
	response.RespondError(c, http.StatusInternalServerError, "analytics_query_failed", errQueryFailed)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseTime accepts ISO-8601 timestamps; values without a zone are UTC.
func parseTime(raw string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is not an ISO-8601 timestamp", raw)
}

func parseFilter(c *gin.Context, withMachine bool) (quality.Filter, error) {
	var f quality.Filter
	if raw := strings.TrimSpace(c.Query("start_date")); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return f, apierr.BadRequest("invalid_start_date", "%v", err)
		}
		f.Start = &t
	}
	if raw := strings.TrimSpace(c.Query("end_date")); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return f, apierr.BadRequest("invalid_end_date", "%v", err)
		}
		f.End = &t
	}
	if f.Start != nil && f.End != nil && f.End.Before(*f.Start) {
		return f, apierr.BadRequest("invalid_date_range", "end_date is before start_date")
	}
	if withMachine {
		f.MachineID = strings.TrimSpace(c.Query("machine_id"))
	}
	return f, nil
}

func parseLimit(c *gin.Context, def, min, max int) (int, error) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		return 0, apierr.BadRequest("invalid_limit", "limit must be between %d and %d", min, max)
	}
	return n, nil
}
