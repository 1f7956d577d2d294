package repositories

import (
	"RetinaTrack/cache"
	"RetinaTrack/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PatientFilter scopes patient queries. An empty DoctorID means every doctor.
type PatientFilter struct {
	DoctorID        string
	IncludeArchived bool
}

// patientListVersionKey is bumped after every committed patient write. List
// entries are keyed by it, so a list read before a commit is never served
// after it.
const patientListVersionKey = "patients_version"

func (f PatientFilter) cacheKey(version string) string {
	scope := "all"
	if f.DoctorID != "" {
		scope = "doctor:" + f.DoctorID
	}
	if f.IncludeArchived {
		scope += ":archived"
	}
	return "patients_cache:" + version + ":" + scope
}

type PatientRepository struct {
	db    *gorm.DB
	cache cache.Cache
	log   logrus.FieldLogger
}

func NewPatientRepository(db *gorm.DB, cache cache.Cache, log logrus.FieldLogger) *PatientRepository {
	return &PatientRepository{db: db, cache: cache, log: log.WithField("repository", "patient")}
}

func (r *PatientRepository) Create(ctx context.Context, patient *models.Patient) error {
	lockKey := fmt.Sprintf("patient_lock:%s", patient.NationalID)
	if patient.NationalID == "" {
		lockKey = fmt.Sprintf("patient_lock:name:%s", patient.Name)
	}

	return cache.WithLock(ctx, r.cache, r.log, lockKey, cache.DefaultLockOptions, func() error {
		if patient.NationalID != "" {
			var count int64
			if err := r.db.WithContext(ctx).Model(&models.Patient{}).
				Where("national_id = ?", patient.NationalID).Count(&count).Error; err != nil {
				return fmt.Errorf("failed to check for existing patient: %w", err)
			}
			if count > 0 {
				return fmt.Errorf("patient with national id %s: %w", patient.NationalID, models.ErrDuplicate)
			}
		}

		if err := r.db.WithContext(ctx).Omit("Visits").Create(patient).Error; err != nil {
			return fmt.Errorf("failed to create patient: %w", err)
		}
		r.invalidate(ctx, patient.ID)
		return nil
	})
}

// GetByID returns nil, nil when the patient does not exist.
func (r *PatientRepository) GetByID(ctx context.Context, id string) (*models.Patient, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	cacheKey := patientCacheKey(id)
	var cached models.Patient
	if readCached(ctx, r.cache, r.log, cacheKey, &cached) {
		return &cached, nil
	}

	var patient models.Patient
	if err := r.db.WithContext(ctx).First(&patient, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	writeCached(ctx, r.cache, r.log, cacheKey, patient)
	return &patient, nil
}

// List returns patients newest first, filtered at query level.
func (r *PatientRepository) List(ctx context.Context, filter PatientFilter) ([]models.Patient, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	cacheKey := filter.cacheKey(r.listVersion(ctx))
	var cached []models.Patient
	if readCached(ctx, r.cache, r.log, cacheKey, &cached) {
		return cached, nil
	}

	q := r.db.WithContext(ctx).Model(&models.Patient{})
	if filter.DoctorID != "" {
		q = q.Where("assigned_doctor_id = ?", filter.DoctorID)
	}
	if !filter.IncludeArchived {
		q = q.Where("archived_at IS NULL")
	}

	patients := []models.Patient{}
	if err := q.Order("registration_date DESC").Find(&patients).Error; err != nil {
		return nil, fmt.Errorf("failed to list patients: %w", err)
	}

	writeCachedFor(ctx, r.cache, r.log, cacheKey, patients, listCacheExpiry)
	return patients, nil
}

// Update overwrites the editable fields of a patient.
func (r *PatientRepository) Update(ctx context.Context, patient *models.Patient) error {
	lockKey := fmt.Sprintf("patient_lock:%s", patient.ID)
	return cache.WithLock(ctx, r.cache, r.log, lockKey, cache.DefaultLockOptions, func() error {
		res := r.db.WithContext(ctx).Model(&models.Patient{}).Where("id = ?", patient.ID).
			Select("name", "age", "gender", "national_id", "address", "phone", "history", "diagnosis", "notes", "assigned_doctor_id").
			Updates(patient)
		if res.Error != nil {
			return fmt.Errorf("failed to update patient: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("patient %s: %w", patient.ID, models.ErrNotFound)
		}
		r.invalidate(ctx, patient.ID)
		return nil
	})
}

// Archive marks a patient read-only. Records that reference it are kept.
func (r *PatientRepository) Archive(ctx context.Context, id string, at time.Time) error {
	lockKey := fmt.Sprintf("patient_lock:%s", id)
	return cache.WithLock(ctx, r.cache, r.log, lockKey, cache.DefaultLockOptions, func() error {
		res := r.db.WithContext(ctx).Model(&models.Patient{}).
			Where("id = ? AND archived_at IS NULL", id).
			Update("archived_at", at)
		if res.Error != nil {
			return fmt.Errorf("failed to archive patient: %w", res.Error)
		}
		r.invalidate(ctx, id)
		return nil
	})
}

func (r *PatientRepository) invalidate(ctx context.Context, id string) {
	if err := r.cache.Set(ctx, patientListVersionKey, uuid.New().String(), 0); err != nil {
		r.log.WithError(err).Warn("failed to bump patient list version")
	}
	invalidate(ctx, r.cache, r.log, patientCacheKey(id))
	invalidatePattern(ctx, r.cache, r.log, "patients_cache*")
}

func (r *PatientRepository) listVersion(ctx context.Context) string {
	v, err := r.cache.Get(ctx, patientListVersionKey)
	if err != nil || v == "" {
		return "0"
	}
	return v
}

func patientCacheKey(patientID string) string {
	return fmt.Sprintf("patient_cache:%s", patientID)
}
