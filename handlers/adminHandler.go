package handlers

import (
	"RetinaTrack/middlewares"
	"RetinaTrack/services"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// AdminHandler serves dashboards, follow-ups, registry exports and the
// internal maintenance endpoints.
type AdminHandler struct {
	provenance *services.ProvenanceService
	reports    *services.ReportService
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewAdminHandler(provenance *services.ProvenanceService, reports *services.ReportService, log logrus.FieldLogger) *AdminHandler {
	return &AdminHandler{provenance: provenance, reports: reports, log: log.WithField("handler", "admin"), now: time.Now}
}

// Dashboard returns the figures for the caller's patients.
func (h *AdminHandler) Dashboard(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	dashboard, err := h.reports.Dashboard(c.Request.Context(), auth)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, dashboard)
}

// FollowUps lists reviews due within ?days (default 7).
func (h *AdminHandler) FollowUps(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	days := 7
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middlewares.BadRequest(c, "days must be a non-negative integer")
			return
		}
		days = n
	}
	until := h.now().UTC().AddDate(0, 0, days)
	followUps, err := h.provenance.DueFollowUps(c.Request.Context(), auth, until)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, followUps)
}

func (h *AdminHandler) ExportAllPatients(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	export, err := h.reports.ExportAllPatients(c.Request.Context(), auth)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	attachment(c, export.FileName, export.ContentType, export.Data)
}

// Reconcile runs one back-reference repair pass on demand.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			middlewares.BadRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	report, err := h.provenance.ReconcileBackReferences(c.Request.Context(), limit)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
