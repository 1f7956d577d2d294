package repositories

import (
	"RetinaTrack/cache"
	"RetinaTrack/models"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type AnnotationRepository struct {
	db    *gorm.DB
	cache cache.Cache
	log   logrus.FieldLogger
}

func NewAnnotationRepository(db *gorm.DB, cache cache.Cache, log logrus.FieldLogger) *AnnotationRepository {
	return &AnnotationRepository{db: db, cache: cache, log: log.WithField("repository", "annotation")}
}

// Create stores the annotation and its cited images in one transaction.
func (r *AnnotationRepository) Create(ctx context.Context, annotation *models.Annotation) error {
	lockKey := fmt.Sprintf("annotation_lock:%s", annotation.VisitID)
	return cache.WithLock(ctx, r.cache, r.log, lockKey, cache.DefaultLockOptions, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Omit("Images").Create(annotation).Error; err != nil {
				return fmt.Errorf("failed to create annotation: %w", err)
			}
			return replaceAnnotationImages(tx, annotation)
		})
	})
}

// Update overwrites the clinical fields and the cited images, then stamps
// ModifiedAt. Author and creation time are kept.
func (r *AnnotationRepository) Update(ctx context.Context, annotation *models.Annotation, at time.Time) error {
	lockKey := fmt.Sprintf("annotation_lock:%s", annotation.VisitID)
	return cache.WithLock(ctx, r.cache, r.log, lockKey, cache.DefaultLockOptions, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			res := tx.Model(&models.Annotation{}).
				Where("id = ? AND visit_id = ?", annotation.ID, annotation.VisitID).
				Updates(map[string]interface{}{
					"analysis_id":        annotation.AnalysisID,
					"severity":           annotation.Severity,
					"observation":        annotation.Observation,
					"recommendation":     annotation.Recommendation,
					"follow_up_required": annotation.FollowUpRequired,
					"next_review_date":   annotation.NextReviewDate,
					"modified_at":        at,
				})
			if res.Error != nil {
				return fmt.Errorf("failed to update annotation: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("annotation %s: %w", annotation.ID, models.ErrNotFound)
			}
			annotation.ModifiedAt = &at

			if err := tx.Where("annotation_id = ?", annotation.ID).Delete(&models.AnnotationImage{}).Error; err != nil {
				return fmt.Errorf("failed to clear annotation images: %w", err)
			}
			return replaceAnnotationImages(tx, annotation)
		})
	})
}

func replaceAnnotationImages(tx *gorm.DB, annotation *models.Annotation) error {
	if len(annotation.ImageIDs) == 0 {
		return nil
	}
	rows := make([]models.AnnotationImage, 0, len(annotation.ImageIDs))
	for i, id := range annotation.ImageIDs {
		rows = append(rows, models.AnnotationImage{AnnotationID: annotation.ID, ImageID: id, Position: i})
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to link annotation images: %w", err)
	}
	return nil
}

// GetByID returns nil, nil when the annotation does not exist in visitID.
func (r *AnnotationRepository) GetByID(ctx context.Context, visitID, id string) (*models.Annotation, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	var annotation models.Annotation
	err := r.db.WithContext(ctx).Preload("Images", orderByPosition).
		First(&annotation, "id = ? AND visit_id = ?", id, visitID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}
	return &annotation, nil
}

// ListByVisit returns the annotations of a visit, oldest first.
func (r *AnnotationRepository) ListByVisit(ctx context.Context, visitID string) ([]models.Annotation, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("visit_id = ?", visitID))
}

// ListByPatients returns every annotation written for the given patients.
func (r *AnnotationRepository) ListByPatients(ctx context.Context, patientIDs []string) ([]models.Annotation, error) {
	if len(patientIDs) == 0 {
		return []models.Annotation{}, nil
	}
	return r.list(ctx, r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs))
}

// DueFollowUps returns annotations with a pending review on or before until.
func (r *AnnotationRepository) DueFollowUps(ctx context.Context, until time.Time) ([]models.Annotation, error) {
	q := r.db.WithContext(ctx).
		Where("follow_up_required = ? AND next_review_date IS NOT NULL AND next_review_date <= ?", true, until)
	return r.list(ctx, q)
}

func (r *AnnotationRepository) list(ctx context.Context, q *gorm.DB) ([]models.Annotation, error) {
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	annotations := []models.Annotation{}
	err := q.WithContext(ctx).Preload("Images", orderByPosition).
		Order("created_at ASC").Find(&annotations).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list annotations: %w", err)
	}
	return annotations, nil
}

func orderByPosition(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}
