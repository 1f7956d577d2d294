package repositories

import (
	"RetinaTrack/cache"
	"RetinaTrack/models"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// VisitRepository stores visits. Visits are never edited once written.
type VisitRepository struct {
	db    *gorm.DB
	cache cache.Cache
	log   logrus.FieldLogger
}

func NewVisitRepository(db *gorm.DB, cache cache.Cache, log logrus.FieldLogger) *VisitRepository {
	return &VisitRepository{db: db, cache: cache, log: log.WithField("repository", "visit")}
}

func (r *VisitRepository) Create(ctx context.Context, visit *models.Visit) error {
	if err := r.db.WithContext(ctx).Omit("Patient").Create(visit).Error; err != nil {
		return fmt.Errorf("failed to create visit: %w", err)
	}
	invalidate(ctx, r.cache, r.log, visitsCacheKey(visit.PatientID))
	return nil
}

// GetByID returns nil, nil when the visit does not exist under patientID.
func (r *VisitRepository) GetByID(ctx context.Context, patientID, id string) (*models.Visit, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var visit models.Visit
	err := r.db.WithContext(ctx).First(&visit, "id = ? AND patient_id = ?", id, patientID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get visit: %w", err)
	}
	return &visit, nil
}

// ListByPatient returns the visits of a patient, most recent first.
func (r *VisitRepository) ListByPatient(ctx context.Context, patientID string) ([]models.Visit, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	cacheKey := visitsCacheKey(patientID)
	var cached []models.Visit
	if readCached(ctx, r.cache, r.log, cacheKey, &cached) {
		return cached, nil
	}

	visits := []models.Visit{}
	err := r.db.WithContext(ctx).Where("patient_id = ?", patientID).
		Order("date DESC").Find(&visits).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}

	writeCached(ctx, r.cache, r.log, cacheKey, visits)
	return visits, nil
}

// ListByPatients loads visits for several patients at once.
func (r *VisitRepository) ListByPatients(ctx context.Context, patientIDs []string) ([]models.Visit, error) {
	visits := []models.Visit{}
	if len(patientIDs) == 0 {
		return visits, nil
	}
	err := r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs).
		Order("date DESC").Find(&visits).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list visits: %w", err)
	}
	return visits, nil
}

func visitsCacheKey(patientID string) string {
	return fmt.Sprintf("visits_cache:%s", patientID)
}
