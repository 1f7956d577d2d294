package handlers

import (
	"RetinaTrack/cache"
	"RetinaTrack/clients"
	"RetinaTrack/database"
	"RetinaTrack/middlewares"
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/services"
	"RetinaTrack/storage"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testCallers = map[string]models.AuthContext{
	"ana":   {UID: "doc-ana", Role: models.RoleMedico, DisplayName: "Dra. Ana Ruiz", Email: "ana@clinica.test"},
	"luis":  {UID: "doc-luis", Role: models.RoleMedico, DisplayName: "Dr. Luis Mora", Email: "luis@clinica.test"},
	"admin": {UID: "admin-1", Role: models.RoleAdmin, DisplayName: "Admin", Email: "admin@clinica.test"},
}

type stubSegmenter struct {
	overlay   []byte
	detection models.DetectionResults
	err       error
}

func (s *stubSegmenter) SegmentFile(ctx context.Context, fileName string, data []byte) (*clients.Segmentation, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &clients.Segmentation{Image: s.overlay, ContentType: "image/png", Detection: s.detection, DetectionReported: true, Attempts: 1}, nil
}

func (s *stubSegmenter) SegmentURL(ctx context.Context, imageURL string) (*clients.Segmentation, error) {
	return s.SegmentFile(ctx, imageURL, nil)
}

func fundusPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 6, 6))
	img.Set(2, 2, color.RGBA{R: 180, G: 60, B: 20, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

type apiHarness struct {
	router    *gin.Engine
	segmenter *stubSegmenter
}

// newHarness wires the clinical handlers on sqlite. The X-Test-User header
// picks the caller from testCallers.
func newHarness(t *testing.T, minImages int) *apiHarness {
	t.Helper()

	db, err := database.OpenSQLite(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String()))
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	memCache, err := cache.NewMemoryCache(0)
	require.NoError(t, err)
	log := logrus.New()
	log.SetOutput(io.Discard)
	store, err := storage.NewLocalStore(t.TempDir(), "/media", log)
	require.NoError(t, err)

	patientRepo := repositories.NewPatientRepository(db, memCache, log)
	visitRepo := repositories.NewVisitRepository(db, memCache, log)
	imageRepo := repositories.NewImageRepository(db, memCache, log)
	annotationRepo := repositories.NewAnnotationRepository(db, memCache, log)
	userRepo := repositories.NewUserRepository(db, memCache, log)

	provenance := services.NewProvenanceService(imageRepo, annotationRepo, patientRepo, visitRepo, store,
		services.AnnotationPolicy{MinImages: minImages}, services.ImageLimits{ThumbnailSize: 64}, log)
	segmenter := &stubSegmenter{overlay: fundusPNG(t), detection: models.DetectionResults{DiscDetected: true, CupDetected: true, Confidence: 0.97}}
	orchestrator := services.NewAnalysisOrchestrator(segmenter, provenance, store, services.ModelInfo{Name: "segformer", Version: "1"}, log)
	reports := services.NewReportService(patientRepo, visitRepo, imageRepo, annotationRepo, log)

	patients := NewPatientHandler(services.NewPatientService(patientRepo, visitRepo, userRepo), services.NewVisitService(visitRepo, patientRepo), reports, log)
	images := NewImageHandler(provenance, orchestrator, 1<<20, log)
	annotations := NewAnnotationHandler(provenance, log)
	admin := NewAdminHandler(provenance, reports, log)

	router := gin.New()
	api := router.Group("", func(c *gin.Context) {
		if auth, ok := testCallers[c.GetHeader("X-Test-User")]; ok {
			middlewares.SetAuthContext(c, auth)
		}
		c.Next()
	})
	api.POST("/patients", patients.CreatePatient)
	api.GET("/patients", patients.GetAllPatients)
	api.GET("/patients/:patient_id", patients.GetPatientByID)
	api.PUT("/patients/:patient_id", patients.UpdatePatient)
	api.POST("/patients/:patient_id/archive", patients.ArchivePatient)
	api.GET("/patients/:patient_id/export/:format", patients.ExportPatient)
	api.POST("/patients/:patient_id/visits", patients.CreateVisit)
	api.GET("/patients/:patient_id/visits", patients.GetAllVisits)
	api.POST("/patients/:patient_id/visits/:visit_id/images", images.UploadImages)
	api.GET("/patients/:patient_id/visits/:visit_id/images", images.ListVisitImages)
	api.POST("/patients/:patient_id/visits/:visit_id/annotations", annotations.CreateAnnotation)
	api.GET("/patients/:patient_id/visits/:visit_id/annotations", annotations.GetAllAnnotations)
	api.GET("/images/:image_id", images.GetImage)
	api.GET("/images/:image_id/history", images.GetHistory)
	api.PUT("/images/:image_id/status", images.UpdateStatus)
	api.POST("/analysis/file", images.AnalyzeFile)
	api.POST("/analysis/history/:image_id", images.AnalyzeStored)
	api.GET("/stats/dashboard", admin.Dashboard)
	api.GET("/admin/follow-ups", admin.FollowUps)
	api.POST("/internal/reconcile", admin.Reconcile)

	return &apiHarness{router: router, segmenter: segmenter}
}

func (h *apiHarness) do(t *testing.T, user, method, path string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func (h *apiHarness) json(t *testing.T, user, method, path string, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return h.do(t, user, method, path, body, "application/json")
}

func (h *apiHarness) multipart(t *testing.T, user, path string, fields map[string]string, files map[string][][]byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for field, contents := range files {
		for i, data := range contents {
			part, err := mw.CreateFormFile(field, fmt.Sprintf("fondo_%d.png", i))
			require.NoError(t, err)
			_, err = part.Write(data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, mw.Close())
	return h.do(t, user, http.MethodPost, path, &buf, mw.FormDataContentType())
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

// seedVisit creates a patient of user with one visit and returns their ids.
func (h *apiHarness) seedVisit(t *testing.T, user, nationalID string) (string, string) {
	t.Helper()
	w := h.json(t, user, http.MethodPost, "/patients", map[string]interface{}{
		"name": "María López", "age": 68, "gender": "Femenino", "nationalId": nationalID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var patient models.Patient
	decode(t, w, &patient)

	w = h.json(t, user, http.MethodPost, "/patients/"+patient.ID+"/visits", map[string]interface{}{
		"date": "2024-03-15", "observation": "Primera consulta", "stage": "Leve",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var visit models.Visit
	decode(t, w, &visit)
	assert.Equal(t, 2024, visit.Date.Year())
	return patient.ID, visit.ID
}

func TestClinicalFlow(t *testing.T) {
	h := newHarness(t, 2)
	patientID, visitID := h.seedVisit(t, "ana", "0911111111")
	imagesPath := "/patients/" + patientID + "/visits/" + visitID + "/images"

	w := h.multipart(t, "ana", imagesPath, map[string]string{"eye": "left"}, map[string][][]byte{"images": {fundusPNG(t)}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var upload struct {
		Stored int                  `json:"stored"`
		Items  []services.BatchItem `json:"items"`
	}
	decode(t, w, &upload)
	require.Equal(t, 1, upload.Stored)
	original := upload.Items[0].Image
	require.NotNil(t, original)

	w = h.do(t, "ana", http.MethodPost, "/analysis/history/"+original.ID, nil, "")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var run struct {
		Outcome        string        `json:"outcome"`
		State          string        `json:"state"`
		Analysis       *models.Image `json:"analysis"`
		SegmentedImage string        `json:"segmentedImage"`
	}
	decode(t, w, &run)
	assert.Equal(t, "recorded", run.Outcome)
	assert.Equal(t, "saved", run.State)
	require.NotNil(t, run.Analysis)
	assert.Equal(t, models.StageNormal, run.Analysis.AIDiagnosis)
	assert.True(t, strings.HasPrefix(run.SegmentedImage, "data:image/png;base64,"))

	w = h.do(t, "ana", http.MethodGet, "/images/"+original.ID+"/history", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var history models.ImageHistory
	decode(t, w, &history)
	assert.True(t, history.Original.AnalyzedByAI)
	assert.Equal(t, []string{run.Analysis.ID}, history.Original.AnalysisIDs)
	require.Len(t, history.Analyses, 1)

	annotationsPath := "/patients/" + patientID + "/visits/" + visitID + "/annotations"
	w = h.json(t, "ana", http.MethodPost, annotationsPath, map[string]interface{}{
		"severity": "leve", "observation": "Drusas", "imageIds": []string{original.ID},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "insufficient evidence")

	w = h.json(t, "ana", http.MethodPost, annotationsPath, map[string]interface{}{
		"severity": "leve", "observation": "Drusas", "imageIds": []string{original.ID, run.Analysis.ID},
		"analysisId": run.Analysis.ID, "followUpRequired": true, "nextReviewDate": "2099-01-01",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = h.do(t, "ana", http.MethodGet, annotationsPath, nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var listed struct {
		Annotations []models.Annotation `json:"annotations"`
		Policy      struct {
			MinImages int `json:"minImages"`
		} `json:"policy"`
	}
	decode(t, w, &listed)
	assert.Len(t, listed.Annotations, 1)
	assert.Equal(t, 2, listed.Policy.MinImages)

	w = h.json(t, "ana", http.MethodPut, "/images/"+original.ID+"/status", map[string]string{"status": "reviewed"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(t, "ana", http.MethodGet, "/stats/dashboard", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"aiAnalyses":1`)
}

func TestAnalyzeFile_Outcomes(t *testing.T) {
	h := newHarness(t, 0)

	w := h.multipart(t, "ana", "/analysis/file", nil, map[string][][]byte{"imagen": {fundusPNG(t)}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var run map[string]interface{}
	decode(t, w, &run)
	assert.Equal(t, "processed_not_recorded", run["outcome"])
	assert.NotEmpty(t, run["segmentedImage"])
	assert.Nil(t, run["analysis"])

	patientID, visitID := h.seedVisit(t, "ana", "0922222222")
	w = h.multipart(t, "ana", "/analysis/file", map[string]string{"patientId": patientID, "visitId": visitID},
		map[string][][]byte{"imagen": {fundusPNG(t)}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"step":"validation"`)

	w = h.multipart(t, "ana", "/analysis/file", map[string]string{"patientId": patientID, "visitId": visitID, "eye": "right"},
		map[string][][]byte{"imagen": {fundusPNG(t)}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	decode(t, w, &run)
	assert.Equal(t, "recorded", run["outcome"])

	h.segmenter.err = fmt.Errorf("%w: segmentation service answered 500", models.ErrProcessing)
	w = h.multipart(t, "ana", "/analysis/file", nil, map[string][][]byte{"imagen": {fundusPNG(t)}})
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"step":"segmentation"`)

	w = h.do(t, "ana", http.MethodPost, "/analysis/file", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadImages_PartialBatch(t *testing.T) {
	h := newHarness(t, 0)
	patientID, visitID := h.seedVisit(t, "ana", "0933333333")
	path := "/patients/" + patientID + "/visits/" + visitID + "/images"

	w := h.multipart(t, "ana", path, map[string]string{"eye": "right"},
		map[string][][]byte{"images": {fundusPNG(t), []byte("not an image")}})
	assert.Equal(t, http.StatusMultiStatus, w.Code, w.Body.String())

	w = h.multipart(t, "ana", path, map[string]string{"eye": "right"}, map[string][][]byte{"images": {[]byte("nope")}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.multipart(t, "ana", path, map[string]string{"eye": "right"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(t, "ana", http.MethodGet, path+"?kind=original", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var images []models.Image
	decode(t, w, &images)
	assert.Len(t, images, 1)

	w = h.do(t, "ana", http.MethodGet, path+"?kind=thumbnail", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAccessErrors(t *testing.T) {
	h := newHarness(t, 0)
	patientID, _ := h.seedVisit(t, "ana", "0944444444")

	assert.Equal(t, http.StatusUnauthorized, h.do(t, "", http.MethodGet, "/patients", nil, "").Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, "luis", http.MethodGet, "/patients/"+patientID, nil, "").Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, "ana", http.MethodGet, "/patients/"+uuid.New().String(), nil, "").Code)
	assert.Equal(t, http.StatusOK, h.do(t, "admin", http.MethodGet, "/patients/"+patientID, nil, "").Code)

	w := h.json(t, "ana", http.MethodPost, "/patients", map[string]interface{}{
		"name": "Duplicado", "gender": "Otro", "nationalId": "0944444444",
	})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.json(t, "ana", http.MethodPost, "/patients", map[string]interface{}{"name": "X"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusForbidden, h.do(t, "ana", http.MethodPost, "/patients/"+patientID+"/archive", nil, "").Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, "admin", http.MethodPost, "/patients/"+patientID+"/archive", nil, "").Code)

	w = h.json(t, "ana", http.MethodPost, "/patients/"+patientID+"/visits", map[string]interface{}{"observation": "tarde"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = h.do(t, "ana", http.MethodGet, "/patients?includeArchived=true", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var patients []models.Patient
	decode(t, w, &patients)
	assert.Len(t, patients, 1)
}

func TestExportPatient_Attachment(t *testing.T) {
	h := newHarness(t, 0)
	patientID, _ := h.seedVisit(t, "ana", "0955555555")

	w := h.do(t, "ana", http.MethodGet, "/patients/"+patientID+"/export/txt", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), `attachment; filename="Paciente_María_López_`)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, w.Body.String(), "María López")

	w = h.do(t, "ana", http.MethodGet, "/patients/"+patientID+"/export/csv", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFollowUpsAndReconcile(t *testing.T) {
	h := newHarness(t, 0)

	w := h.do(t, "admin", http.MethodGet, "/admin/follow-ups?days=abc", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = h.do(t, "admin", http.MethodGet, "/admin/follow-ups?days=30", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = h.do(t, "", http.MethodPost, "/internal/reconcile?limit=10", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	var report services.ReconcileReport
	decode(t, w, &report)
	assert.Zero(t, report.OrphansFound)
}
