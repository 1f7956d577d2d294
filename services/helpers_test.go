package services

import (
	"RetinaTrack/cache"
	"RetinaTrack/database"
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/storage"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var (
	doctorAna  = models.AuthContext{UID: "doc-ana", Role: models.RoleMedico, DisplayName: "Dra. Ana Ruiz", Email: "ana@clinica.test"}
	doctorLuis = models.AuthContext{UID: "doc-luis", Role: models.RoleMedico, DisplayName: "Dr. Luis Mora", Email: "luis@clinica.test"}
	adminAuth  = models.AuthContext{UID: "admin-1", Role: models.RoleAdmin, DisplayName: "Admin", Email: "admin@clinica.test"}
)

// countingStore records every blob write so tests can assert on side effects.
type countingStore struct {
	*storage.LocalStore

	mu      sync.Mutex
	puts    int
	deletes int
	live    map[string]bool
}

func (s *countingStore) Put(ctx context.Context, objectPath string, data []byte, contentType string) error {
	if err := s.LocalStore.Put(ctx, objectPath, data, contentType); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	s.live[objectPath] = true
	return nil
}

func (s *countingStore) Delete(ctx context.Context, objectPath string) error {
	if err := s.LocalStore.Delete(ctx, objectPath); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	delete(s.live, objectPath)
	return nil
}

func (s *countingStore) putCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts
}

// liveUnder counts blobs still stored under a path segment.
func (s *countingStore) liveUnder(segment string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for p := range s.live {
		if strings.Contains(p, "/"+segment+"/") {
			n++
		}
	}
	return n
}

type testEnv struct {
	db         *gorm.DB
	cache      *cache.MemoryCache
	store      *countingStore
	log        *logrus.Logger
	userRepo   repositories.UserRepository
	patients   *PatientService
	visits     *VisitService
	provenance *ProvenanceService
	reports    *ReportService
}

func newTestEnv(t *testing.T, policy AnnotationPolicy) *testEnv {
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

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	local, err := storage.NewLocalStore(t.TempDir(), "/media", nil)
	require.NoError(t, err)
	store := &countingStore{LocalStore: local, live: make(map[string]bool)}

	userRepo := repositories.NewUserRepository(db, memCache, logger)
	patientRepo := repositories.NewPatientRepository(db, memCache, logger)
	visitRepo := repositories.NewVisitRepository(db, memCache, logger)
	imageRepo := repositories.NewImageRepository(db, memCache, logger)
	annotationRepo := repositories.NewAnnotationRepository(db, memCache, logger)

	return &testEnv{
		db:         db,
		cache:      memCache,
		store:      store,
		log:        logger,
		userRepo:   userRepo,
		patients:   NewPatientService(patientRepo, visitRepo, userRepo),
		visits:     NewVisitService(visitRepo, patientRepo),
		provenance: NewProvenanceService(imageRepo, annotationRepo, patientRepo, visitRepo, store, policy, ImageLimits{ThumbnailSize: 64}, logger),
		reports:    NewReportService(patientRepo, visitRepo, imageRepo, annotationRepo, logger),
	}
}

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for x := 0; x < 8; x++ {
		img.Set(x, 3, color.RGBA{R: 200, G: 40, B: 40, A: 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// fixture is a patient with one visit and one left-eye original.
type fixture struct {
	patient  *models.Patient
	visit    *models.Visit
	original *models.Image
}

func (e *testEnv) seed(t *testing.T, auth models.AuthContext, nationalID string) fixture {
	t.Helper()
	ctx := context.Background()

	patient := &models.Patient{Name: "Juan Perez", Age: 71, Gender: "Masculino", NationalID: nationalID}
	require.NoError(t, e.patients.Create(ctx, auth, patient))

	visit := &models.Visit{PatientID: patient.ID, Observation: "Control anual", Stage: models.StageLeve}
	require.NoError(t, e.visits.Create(ctx, auth, visit))

	original, err := e.provenance.CreateOriginalImage(ctx, auth, OriginalImageInput{
		PatientID: patient.ID,
		VisitID:   visit.ID,
		Eye:       models.EyeLeft,
		FileName:  "fondo izquierdo.png",
		Data:      testPNG(t),
	})
	require.NoError(t, err)
	return fixture{patient: patient, visit: visit, original: original}
}

func (e *testEnv) countRows(t *testing.T, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := e.db.Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func (e *testEnv) analysisCount(t *testing.T) int64 {
	return e.countRows(t, &models.Image{}, "kind = ?", models.KindAnalysis)
}

func detection(disc, cup bool, confidence float64) models.DetectionResults {
	return models.DetectionResults{DiscDetected: disc, CupDetected: cup, Confidence: confidence}
}
