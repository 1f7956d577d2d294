package handlers

import (
	"RetinaTrack/middlewares"
	"RetinaTrack/models"
	"RetinaTrack/services"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PatientHandler struct {
	service *services.PatientService
	visits  *services.VisitService
	reports *services.ReportService
	log     logrus.FieldLogger
}

func NewPatientHandler(service *services.PatientService, visits *services.VisitService, reports *services.ReportService, log logrus.FieldLogger) *PatientHandler {
	return &PatientHandler{service: service, visits: visits, reports: reports, log: log.WithField("handler", "patient")}
}

func (h *PatientHandler) CreatePatient(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var patient models.Patient
	if err := c.ShouldBindJSON(&patient); err != nil {
		middlewares.BadRequest(c, err.Error())
		return
	}
	if err := h.service.Create(c.Request.Context(), auth, &patient); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, patient)
}

func (h *PatientHandler) GetPatientByID(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	patient, err := h.service.GetByID(c.Request.Context(), auth, c.Param("patient_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, patient)
}

// GetAllPatients lists the caller's patients; ?includeArchived=true adds
// archived ones.
func (h *PatientHandler) GetAllPatients(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	includeArchived, _ := strconv.ParseBool(c.Query("includeArchived"))
	patients, err := h.service.List(c.Request.Context(), auth, includeArchived)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, patients)
}

func (h *PatientHandler) UpdatePatient(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var patient models.Patient
	if err := c.ShouldBindJSON(&patient); err != nil {
		middlewares.BadRequest(c, err.Error())
		return
	}
	patient.ID = c.Param("patient_id")
	ctx := c.Request.Context()
	if err := h.service.Update(ctx, auth, &patient); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	updated, err := h.service.GetByID(ctx, auth, patient.ID)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (h *PatientHandler) ArchivePatient(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	if err := h.service.Archive(c.Request.Context(), auth, c.Param("patient_id")); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ExportPatient downloads the patient record as xlsx, txt or pdf.
func (h *PatientHandler) ExportPatient(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	format := services.ExportFormat(c.Param("format"))
	export, err := h.reports.ExportPatient(c.Request.Context(), auth, c.Param("patient_id"), format)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	attachment(c, export.FileName, export.ContentType, export.Data)
}

type visitRequest struct {
	Date        string              `json:"date"`
	Observation string              `json:"observation"`
	Stage       models.DiseaseStage `json:"stage"`
}

func (h *PatientHandler) CreateVisit(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var req visitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.BadRequest(c, err.Error())
		return
	}
	date, err := parseDate(req.Date)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	visit := models.Visit{PatientID: c.Param("patient_id"), Observation: req.Observation, Stage: req.Stage}
	if date != nil {
		visit.Date = *date
	}
	if err := h.visits.Create(c.Request.Context(), auth, &visit); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, visit)
}

func (h *PatientHandler) GetAllVisits(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	visits, err := h.visits.ListByPatient(c.Request.Context(), auth, c.Param("patient_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, visits)
}

func (h *PatientHandler) GetVisitByID(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	visit, err := h.visits.GetByID(c.Request.Context(), auth, c.Param("patient_id"), c.Param("visit_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, visit)
}
