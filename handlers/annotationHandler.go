package handlers

import (
	"RetinaTrack/middlewares"
	"RetinaTrack/models"
	"RetinaTrack/services"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AnnotationHandler struct {
	provenance *services.ProvenanceService
	log        logrus.FieldLogger
}

func NewAnnotationHandler(provenance *services.ProvenanceService, log logrus.FieldLogger) *AnnotationHandler {
	return &AnnotationHandler{provenance: provenance, log: log.WithField("handler", "annotation")}
}

type annotationRequest struct {
	AnalysisID       *string         `json:"analysisId"`
	Severity         models.Severity `json:"severity"`
	Observation      string          `json:"observation"`
	Recommendation   string          `json:"recommendation"`
	FollowUpRequired bool            `json:"followUpRequired"`
	NextReviewDate   string          `json:"nextReviewDate"`
	ImageIDs         []string        `json:"imageIds"`
}

func (h *AnnotationHandler) bind(c *gin.Context) (services.AnnotationInput, bool) {
	var req annotationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.BadRequest(c, err.Error())
		return services.AnnotationInput{}, false
	}
	review, err := parseDate(req.NextReviewDate)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return services.AnnotationInput{}, false
	}
	return services.AnnotationInput{
		ID:               c.Param("annotation_id"),
		PatientID:        c.Param("patient_id"),
		VisitID:          c.Param("visit_id"),
		AnalysisID:       req.AnalysisID,
		Severity:         req.Severity,
		Observation:      req.Observation,
		Recommendation:   req.Recommendation,
		FollowUpRequired: req.FollowUpRequired,
		NextReviewDate:   review,
		ImageRefs:        req.ImageIDs,
	}, true
}

func (h *AnnotationHandler) CreateAnnotation(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	in, ok := h.bind(c)
	if !ok {
		return
	}
	annotation, err := h.provenance.CreateAnnotation(c.Request.Context(), auth, in)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, annotation)
}

func (h *AnnotationHandler) UpdateAnnotation(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	in, ok := h.bind(c)
	if !ok {
		return
	}
	annotation, err := h.provenance.UpdateAnnotation(c.Request.Context(), auth, in)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, annotation)
}

// GetAllAnnotations lists a visit's annotations with their severity trend.
func (h *AnnotationHandler) GetAllAnnotations(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	annotations, err := h.provenance.ListAnnotations(c.Request.Context(), auth, c.Param("patient_id"), c.Param("visit_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"annotations": annotations,
		"policy":      gin.H{"minImages": h.provenance.Policy().MinImages},
	})
}
