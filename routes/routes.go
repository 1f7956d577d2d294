package routes

import (
	"RetinaTrack/cache"
	"RetinaTrack/clients"
	"RetinaTrack/config"
	"RetinaTrack/controllers"
	"RetinaTrack/handlers"
	"RetinaTrack/middlewares"
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/services"
	"RetinaTrack/storage"
	"RetinaTrack/utils"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Dependencies are the infrastructure pieces the application is built on.
type Dependencies struct {
	Config    *config.AppConfig
	DB        *gorm.DB
	Cache     cache.Cache
	Store     storage.BlobStore
	Segmenter clients.Segmenter
	Mailer    utils.Mailer
	Tokens    *utils.TokenService
	Log       *logrus.Logger
	// Health adds entries to the root route.
	Health map[string]controllers.HealthReporter
}

// Services are the application services built from Dependencies.
type Services struct {
	Users        services.UserService
	Patients     *services.PatientService
	Visits       *services.VisitService
	Provenance   *services.ProvenanceService
	Orchestrator *services.AnalysisOrchestrator
	Reports      *services.ReportService
}

// BuildServices wires repositories and services.
func BuildServices(deps Dependencies) *Services {
	cfg := deps.Config
	log := deps.Log

	userRepo := repositories.NewUserRepository(deps.DB, deps.Cache, log)
	patientRepo := repositories.NewPatientRepository(deps.DB, deps.Cache, log)
	visitRepo := repositories.NewVisitRepository(deps.DB, deps.Cache, log)
	imageRepo := repositories.NewImageRepository(deps.DB, deps.Cache, log)
	annotationRepo := repositories.NewAnnotationRepository(deps.DB, deps.Cache, log)

	resetCodes := utils.NewResetCodes(deps.Cache, cfg.Auth.ResetCodeTTL)
	provenance := services.NewProvenanceService(
		imageRepo,
		annotationRepo,
		patientRepo,
		visitRepo,
		deps.Store,
		services.AnnotationPolicy{MinImages: cfg.Annotations.MinImages},
		services.ImageLimits{ThumbnailSize: cfg.Storage.ThumbnailSize, MaxPixels: cfg.Storage.MaxPixels},
		log,
	)
	model := services.ModelInfo{Name: cfg.Segmentation.ModelName, Version: cfg.Segmentation.ModelVersion}

	return &Services{
		Users:        services.NewUserService(userRepo, deps.Cache, resetCodes, deps.Mailer, log),
		Patients:     services.NewPatientService(patientRepo, visitRepo, userRepo),
		Visits:       services.NewVisitService(visitRepo, patientRepo),
		Provenance:   provenance,
		Orchestrator: services.NewAnalysisOrchestrator(deps.Segmenter, provenance, deps.Store, model, log),
		Reports:      services.NewReportService(patientRepo, visitRepo, imageRepo, annotationRepo, log),
	}
}

// SetupRoutes initializes the routes and middleware for the server
func SetupRoutes(deps Dependencies, svc *Services) http.Handler {
	cfg := deps.Config
	if cfg.IsDevelopment() {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.MaxMultipartMemory = cfg.Server.MaxUploadBytes

	router.Use(middlewares.CorsMiddleware(middlewares.DefaultCorsConfig(cfg.CORS.AllowedOrigins)))
	router.Use(middlewares.NewRateLimiterMiddleware(middlewares.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}))
	router.Use(middlewares.LoggingMiddleware(deps.Log))

	tokenAuth := middlewares.TokenAuthMiddleware(deps.Tokens, svc.Users)
	adminOnly := middlewares.RoleAuthMiddleware(models.RoleAdmin)

	authHandler := handlers.NewAuthHandler(svc.Users, deps.Tokens, deps.Log)
	adminHandler := handlers.NewAdminHandler(svc.Provenance, svc.Reports, deps.Log)
	clinical := controllers.ClinicalHandlers{
		Patient:    handlers.NewPatientHandler(svc.Patients, svc.Visits, svc.Reports, deps.Log),
		Image:      handlers.NewImageHandler(svc.Provenance, svc.Orchestrator, cfg.Server.MaxUploadBytes, deps.Log),
		Annotation: handlers.NewAnnotationHandler(svc.Provenance, deps.Log),
		Admin:      adminHandler,
	}

	controllers.NewAuthController(authHandler, tokenAuth, adminOnly).RegisterRoutes(router)
	controllers.SetupPatientRoutes(router, clinical, tokenAuth, adminOnly)
	controllers.SetupInternalRoutes(router, adminHandler, middlewares.ValidateBearerToken(cfg.GetBearerToken()))

	if local, ok := deps.Store.(*storage.LocalStore); ok && strings.HasPrefix(cfg.Storage.PublicBaseURL, "/") {
		router.Static(cfg.Storage.PublicBaseURL, local.BasePath())
	}

	controllers.SetupRootRoute(router, deps.Health)
	return router
}
