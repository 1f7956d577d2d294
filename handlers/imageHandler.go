package handlers

import (
	"RetinaTrack/middlewares"
	"RetinaTrack/models"
	"RetinaTrack/services"
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ImageHandler serves originals, analyses and the analysis runs that
// produce them.
type ImageHandler struct {
	provenance   *services.ProvenanceService
	orchestrator *services.AnalysisOrchestrator
	maxUpload    int64
	log          logrus.FieldLogger
}

func NewImageHandler(provenance *services.ProvenanceService, orchestrator *services.AnalysisOrchestrator, maxUpload int64, log logrus.FieldLogger) *ImageHandler {
	return &ImageHandler{
		provenance:   provenance,
		orchestrator: orchestrator,
		maxUpload:    maxUpload,
		log:          log.WithField("handler", "image"),
	}
}

// UploadImages stores one or more originals for a visit. Files come in the
// "images" field (several) or "imagen" (one). Each file is reported on its
// own.
func (h *ImageHandler) UploadImages(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		middlewares.BadRequest(c, "multipart form expected")
		return
	}
	headers := append(form.File["images"], form.File["imagen"]...)
	if len(headers) == 0 {
		middlewares.BadRequest(c, "no image files in request")
		return
	}

	files := make([]services.UploadFile, 0, len(headers))
	for _, fh := range headers {
		data, err := readUpload(fh, h.maxUpload)
		if err != nil {
			middlewares.HttpError(c, h.log, err)
			return
		}
		files = append(files, services.UploadFile{FileName: fh.Filename, Data: data})
	}

	in := services.OriginalImageInput{
		PatientID:    c.Param("patient_id"),
		VisitID:      c.Param("visit_id"),
		Eye:          models.Eye(c.PostForm("eye")),
		ClinicalNote: c.PostForm("clinicalNote"),
	}
	items := h.provenance.CreateOriginalImages(c.Request.Context(), auth, in, files)

	stored := 0
	for _, item := range items {
		if item.Image != nil {
			stored++
		}
	}
	status := http.StatusCreated
	switch {
	case stored == 0:
		status = http.StatusBadRequest
	case stored < len(items):
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"items": items, "stored": stored})
}

// ListVisitImages lists a visit's images; ?kind=original|analysis filters.
func (h *ImageHandler) ListVisitImages(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	kind := models.ImageKind(c.Query("kind"))
	if kind != "" && kind != models.KindOriginal && kind != models.KindAnalysis {
		middlewares.BadRequest(c, "kind must be original or analysis")
		return
	}
	images, err := h.provenance.ListVisitImages(c.Request.Context(), auth, c.Param("patient_id"), c.Param("visit_id"), kind)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, images)
}

func (h *ImageHandler) GetImage(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	img, err := h.provenance.GetImage(c.Request.Context(), auth, c.Param("image_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, img)
}

func (h *ImageHandler) ListAnalyses(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	analyses, err := h.provenance.ListAnalysesFor(c.Request.Context(), auth, c.Param("image_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, analyses)
}

func (h *ImageHandler) GetHistory(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	history, err := h.provenance.GetImageHistory(c.Request.Context(), auth, c.Param("image_id"))
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, history)
}

func (h *ImageHandler) UpdateStatus(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	var req struct {
		Status models.ImageStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		middlewares.BadRequest(c, "Invalid request body")
		return
	}
	if err := h.provenance.UpdateImageStatus(c.Request.Context(), auth, c.Param("image_id"), req.Status); err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	c.Status(http.StatusOK)
}

// analysisResponse adds the segmented pixels to the run so a client can show
// a result that was processed but not recorded.
type analysisResponse struct {
	*services.AnalysisRun
	SegmentedImage string `json:"segmentedImage,omitempty"`
}

func (h *ImageHandler) respondRun(c *gin.Context, run *services.AnalysisRun, err error) {
	if err != nil {
		status := middlewares.StatusFor(err)
		message := err.Error()
		if status == http.StatusInternalServerError {
			h.log.WithError(err).WithField("run_id", run.ID).Error("analysis failed")
			message = "internal server error"
		}
		c.AbortWithStatusJSON(status, gin.H{"error": message, "step": run.FailedStep, "run": run})
		return
	}
	resp := analysisResponse{AnalysisRun: run}
	if len(run.Segmented) > 0 {
		resp.SegmentedImage = "data:" + run.ContentType + ";base64," + base64.StdEncoding.EncodeToString(run.Segmented)
	}
	status := http.StatusCreated
	if run.Outcome == services.OutcomeProcessedNotRecorded {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// AnalyzeFile segments an uploaded file ("imagen"). When patientId and
// visitId are given the file and its analysis are recorded.
func (h *ImageHandler) AnalyzeFile(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	fh, err := c.FormFile("imagen")
	if err != nil {
		middlewares.BadRequest(c, "image file \"imagen\" is required")
		return
	}
	data, err := readUpload(fh, h.maxUpload)
	if err != nil {
		middlewares.HttpError(c, h.log, err)
		return
	}
	eye := models.Eye(c.PostForm("eye"))
	run, err := h.orchestrator.AnalyzeFile(c.Request.Context(), auth, services.FileAnalysisInput{
		FileName:     fh.Filename,
		Data:         data,
		PatientID:    c.PostForm("patientId"),
		VisitID:      c.PostForm("visitId"),
		Eye:          eye,
		ClinicalNote: c.PostForm("clinicalNote"),
	})
	h.respondRun(c, run, err)
}

// AnalyzeStored segments an original already in the patient history.
func (h *ImageHandler) AnalyzeStored(c *gin.Context) {
	auth, ok := caller(c)
	if !ok {
		return
	}
	run, err := h.orchestrator.AnalyzeStored(c.Request.Context(), auth, c.Param("image_id"))
	h.respondRun(c, run, err)
}
