package controllers

import (
	"RetinaTrack/handlers"

	"github.com/gin-gonic/gin"
)

// ClinicalHandlers groups the handlers behind the clinical routes.
type ClinicalHandlers struct {
	Patient    *handlers.PatientHandler
	Image      *handlers.ImageHandler
	Annotation *handlers.AnnotationHandler
	Admin      *handlers.AdminHandler
}

// SetupPatientRoutes registers patients, visits, images, analyses,
// annotations, statistics and exports. Every route requires tokenAuth;
// admin routes also require adminOnly.
func SetupPatientRoutes(router *gin.Engine, h ClinicalHandlers, tokenAuth, adminOnly gin.HandlerFunc) {
	api := router.Group("", tokenAuth)

	api.POST("/patients", h.Patient.CreatePatient)
	api.GET("/patients", h.Patient.GetAllPatients)
	api.GET("/patients/:patient_id", h.Patient.GetPatientByID)
	api.PUT("/patients/:patient_id", h.Patient.UpdatePatient)
	api.POST("/patients/:patient_id/archive", adminOnly, h.Patient.ArchivePatient)
	api.GET("/patients/:patient_id/export/:format", h.Patient.ExportPatient)

	api.POST("/patients/:patient_id/visits", h.Patient.CreateVisit)
	api.GET("/patients/:patient_id/visits", h.Patient.GetAllVisits)
	api.GET("/patients/:patient_id/visits/:visit_id", h.Patient.GetVisitByID)

	api.POST("/patients/:patient_id/visits/:visit_id/images", h.Image.UploadImages)
	api.GET("/patients/:patient_id/visits/:visit_id/images", h.Image.ListVisitImages)

	api.POST("/patients/:patient_id/visits/:visit_id/annotations", h.Annotation.CreateAnnotation)
	api.GET("/patients/:patient_id/visits/:visit_id/annotations", h.Annotation.GetAllAnnotations)
	api.PUT("/patients/:patient_id/visits/:visit_id/annotations/:annotation_id", h.Annotation.UpdateAnnotation)

	api.GET("/images/:image_id", h.Image.GetImage)
	api.GET("/images/:image_id/analyses", h.Image.ListAnalyses)
	api.GET("/images/:image_id/history", h.Image.GetHistory)
	api.PUT("/images/:image_id/status", h.Image.UpdateStatus)

	api.POST("/analysis/file", h.Image.AnalyzeFile)
	api.POST("/analysis/history/:image_id", h.Image.AnalyzeStored)

	api.GET("/stats/dashboard", h.Admin.Dashboard)

	admin := router.Group("/admin", tokenAuth, adminOnly)
	admin.GET("/follow-ups", h.Admin.FollowUps)
	admin.GET("/export/patients.xlsx", h.Admin.ExportAllPatients)
}

// SetupInternalRoutes registers maintenance routes guarded by the static
// API token.
func SetupInternalRoutes(router *gin.Engine, h *handlers.AdminHandler, bearerAuth gin.HandlerFunc) {
	internal := router.Group("/internal", bearerAuth)
	internal.POST("/reconcile", h.Reconcile)
}
