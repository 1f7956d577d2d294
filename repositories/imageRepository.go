package repositories

import (
	"RetinaTrack/cache"
	"RetinaTrack/models"
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ImageRepository stores originals and analyses and owns the back-reference
// list kept in image_analysis_link.
type ImageRepository struct {
	db       *gorm.DB
	cache    cache.Cache
	log      logrus.FieldLogger
	lockOpts cache.LockOptions
}

func NewImageRepository(db *gorm.DB, c cache.Cache, log logrus.FieldLogger) *ImageRepository {
	opts := cache.DefaultLockOptions
	// concurrent re-analysis of one image queues instead of failing fast
	opts.MaxRetries = 50
	return &ImageRepository{db: db, cache: c, log: log.WithField("repository", "image"), lockOpts: opts}
}

func (r *ImageRepository) CreateOriginal(ctx context.Context, img *models.Image) error {
	if img.Kind != models.KindOriginal {
		return fmt.Errorf("%w: expected an original image", models.ErrInvalidInput)
	}
	img.AnalyzedByAI = false
	img.SourceImageID = nil
	if err := r.db.WithContext(ctx).Create(img).Error; err != nil {
		return fmt.Errorf("failed to create image: %w", err)
	}
	img.AnalysisIDs = []string{}
	return nil
}

// GetByID returns nil, nil when the image does not exist.
func (r *ImageRepository) GetByID(ctx context.Context, id string) (*models.Image, error) {
	var img models.Image
	if err := r.db.WithContext(ctx).First(&img, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get image: %w", err)
	}
	images := []models.Image{img}
	if err := r.attachAnalysisIDs(r.db.WithContext(ctx), images); err != nil {
		return nil, err
	}
	return &images[0], nil
}

// ListByVisit returns the images of a visit, newest capture first. An empty
// kind returns both kinds.
func (r *ImageRepository) ListByVisit(ctx context.Context, visitID string, kind models.ImageKind) ([]models.Image, error) {
	q := r.db.WithContext(ctx).Where("visit_id = ?", visitID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	return r.find(ctx, q)
}

// ListByPatients returns every image of the given patients.
func (r *ImageRepository) ListByPatients(ctx context.Context, patientIDs []string) ([]models.Image, error) {
	if len(patientIDs) == 0 {
		return []models.Image{}, nil
	}
	return r.find(ctx, r.db.WithContext(ctx).Where("patient_id IN ?", patientIDs))
}

// ListAnalysesFor returns every analysis derived from originalID, newest first.
func (r *ImageRepository) ListAnalysesFor(ctx context.Context, originalID string) ([]models.Image, error) {
	q := r.db.WithContext(ctx).Where("kind = ? AND source_image_id = ?", models.KindAnalysis, originalID)
	return r.find(ctx, q)
}

func (r *ImageRepository) find(ctx context.Context, q *gorm.DB) ([]models.Image, error) {
	images := []models.Image{}
	if err := q.Order("captured_at DESC").Order("created_at DESC").Find(&images).Error; err != nil {
		return nil, fmt.Errorf("failed to list images: %w", err)
	}
	if err := r.attachAnalysisIDs(r.db.WithContext(ctx), images); err != nil {
		return nil, err
	}
	return images, nil
}

// CreateAnalysis stores analysis and appends it to its source in one
// transaction. The source row is locked for the duration so concurrent
// analyses of the same original are applied one after another.
func (r *ImageRepository) CreateAnalysis(ctx context.Context, analysis *models.Image) error {
	if analysis.Kind != models.KindAnalysis || analysis.SourceImageID == nil || *analysis.SourceImageID == "" {
		return models.ErrMissingLinkage
	}
	if !analysis.HasLinkage() {
		return models.ErrMissingLinkage
	}
	sourceID := *analysis.SourceImageID

	return cache.WithLock(ctx, r.cache, r.log, imageLockKey(sourceID), r.lockOpts, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			source, err := lockImage(tx, sourceID)
			if err != nil {
				return err
			}
			if !source.IsOriginal() {
				return fmt.Errorf("%w: source %s is not an original image", models.ErrMissingLinkage, sourceID)
			}
			if source.PatientID != analysis.PatientID || source.VisitID != analysis.VisitID {
				return fmt.Errorf("%w: source %s belongs to another visit", models.ErrMissingLinkage, sourceID)
			}

			if err := tx.Create(analysis).Error; err != nil {
				return fmt.Errorf("failed to create analysis image: %w", err)
			}
			return appendBackReference(tx, source, analysis.ID)
		})
	})
}

// UpdateStatus changes the review status of an original.
func (r *ImageRepository) UpdateStatus(ctx context.Context, id string, status models.ImageStatus) error {
	res := r.db.WithContext(ctx).Model(&models.Image{}).
		Where("id = ? AND kind = ?", id, models.KindOriginal).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update image status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("original image %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// FindOrphanAnalyses lists analyses that no original references.
func (r *ImageRepository) FindOrphanAnalyses(ctx context.Context, limit int) ([]models.Image, error) {
	var orphans []models.Image
	err := r.db.WithContext(ctx).Model(&models.Image{}).
		Joins("LEFT JOIN image_analysis_link ON image_analysis_link.analysis_id = image.id").
		Where("image.kind = ? AND image_analysis_link.id IS NULL", models.KindAnalysis).
		Order("image.created_at ASC").
		Limit(limit).
		Find(&orphans).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find orphan analyses: %w", err)
	}
	return orphans, nil
}

// FindUnflaggedOriginals lists originals that have analyses but still read
// as not analyzed.
func (r *ImageRepository) FindUnflaggedOriginals(ctx context.Context, limit int) ([]models.Image, error) {
	var originals []models.Image
	err := r.db.WithContext(ctx).Model(&models.Image{}).
		Where("kind = ? AND analyzed_by_ai = ?", models.KindOriginal, false).
		Where("EXISTS (SELECT 1 FROM image_analysis_link WHERE image_analysis_link.original_id = image.id)").
		Limit(limit).
		Find(&originals).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find unflagged originals: %w", err)
	}
	return originals, nil
}

// RepairBackReference appends analysisID to its source if it is missing and
// sets the analyzed flag. It is safe to call repeatedly.
func (r *ImageRepository) RepairBackReference(ctx context.Context, sourceID, analysisID string) error {
	return cache.WithLock(ctx, r.cache, r.log, imageLockKey(sourceID), r.lockOpts, func() error {
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			source, err := lockImage(tx, sourceID)
			if err != nil {
				return err
			}
			if !source.IsOriginal() {
				return fmt.Errorf("%w: source %s is not an original image", models.ErrMissingLinkage, sourceID)
			}
			if analysisID == "" {
				return markAnalyzed(tx, source)
			}

			var analysis models.Image
			if err := tx.First(&analysis, "id = ?", analysisID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("analysis image %s: %w", analysisID, models.ErrNotFound)
				}
				return fmt.Errorf("failed to load analysis image: %w", err)
			}
			if analysis.Kind != models.KindAnalysis || analysis.SourceImageID == nil || *analysis.SourceImageID != sourceID {
				return fmt.Errorf("%w: image %s is not an analysis of %s", models.ErrMissingLinkage, analysisID, sourceID)
			}
			if analysis.PatientID != source.PatientID || analysis.VisitID != source.VisitID {
				return fmt.Errorf("%w: analysis %s and source %s belong to different visits", models.ErrMissingLinkage, analysisID, sourceID)
			}

			var existing int64
			if err := tx.Model(&models.ImageAnalysisLink{}).
				Where("analysis_id = ?", analysisID).Count(&existing).Error; err != nil {
				return fmt.Errorf("failed to check back-reference: %w", err)
			}
			if existing > 0 {
				return markAnalyzed(tx, source)
			}
			return appendBackReference(tx, source, analysisID)
		})
	})
}

func lockImage(tx *gorm.DB, id string) (*models.Image, error) {
	q := tx
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var img models.Image
	if err := q.First(&img, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: source image %s does not exist", models.ErrMissingLinkage, id)
		}
		return nil, fmt.Errorf("failed to load source image: %w", err)
	}
	return &img, nil
}

// appendBackReference adds analysisID at the end of the source's list and
// flags the source as analyzed. Must run inside the source's transaction.
func appendBackReference(tx *gorm.DB, source *models.Image, analysisID string) error {
	var last int
	if err := tx.Model(&models.ImageAnalysisLink{}).
		Where("original_id = ?", source.ID).
		Select("COALESCE(MAX(position), 0)").
		Scan(&last).Error; err != nil {
		return fmt.Errorf("failed to read back-reference list: %w", err)
	}

	link := models.ImageAnalysisLink{OriginalID: source.ID, Position: last + 1, AnalysisID: analysisID}
	if err := tx.Create(&link).Error; err != nil {
		return fmt.Errorf("failed to append back-reference: %w", err)
	}
	return markAnalyzed(tx, source)
}

func markAnalyzed(tx *gorm.DB, source *models.Image) error {
	updates := map[string]interface{}{"analyzed_by_ai": true}
	if source.Status == "" || source.Status == models.StatusPending {
		updates["status"] = models.StatusAnalyzed
	}
	if err := tx.Model(&models.Image{}).Where("id = ?", source.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to flag source image: %w", err)
	}
	return nil
}

func (r *ImageRepository) attachAnalysisIDs(db *gorm.DB, images []models.Image) error {
	var originalIDs []string
	for i := range images {
		if images[i].IsOriginal() {
			images[i].AnalysisIDs = []string{}
			originalIDs = append(originalIDs, images[i].ID)
		}
	}
	if len(originalIDs) == 0 {
		return nil
	}

	var links []models.ImageAnalysisLink
	if err := db.Where("original_id IN ?", originalIDs).
		Order("original_id").Order("position").
		Find(&links).Error; err != nil {
		return fmt.Errorf("failed to load back-references: %w", err)
	}

	byOriginal := make(map[string][]string, len(originalIDs))
	for _, l := range links {
		byOriginal[l.OriginalID] = append(byOriginal[l.OriginalID], l.AnalysisID)
	}
	for i := range images {
		if ids, ok := byOriginal[images[i].ID]; ok {
			images[i].AnalysisIDs = ids
		}
	}
	return nil
}

func imageLockKey(imageID string) string {
	return fmt.Sprintf("image_lock:%s", imageID)
}
