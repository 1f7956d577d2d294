package services

import (
	"RetinaTrack/diagnosis"
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/storage"
	"RetinaTrack/utils"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// AnnotationPolicy is the per-deployment evidence rule for annotations.
// MinImages of zero disables the check.
type AnnotationPolicy struct {
	MinImages int
}

// Check fails with ErrInsufficientEvidence when too few images are cited.
func (p AnnotationPolicy) Check(imageRefs []string) error {
	if p.MinImages > 0 && len(imageRefs) < p.MinImages {
		return fmt.Errorf("%w: %d linked images, at least %d required",
			models.ErrInsufficientEvidence, len(imageRefs), p.MinImages)
	}
	return nil
}

// ModelInfo names the segmentation model that produced an analysis.
type ModelInfo struct {
	Name    string `json:"modelName"`
	Version string `json:"modelVersion"`
}

type OriginalImageInput struct {
	PatientID    string
	VisitID      string
	Eye          models.Eye
	ClinicalNote string
	FileName     string
	Data         []byte
}

// AnalysisInput is a segmentation result ready to be recorded against Source.
type AnalysisInput struct {
	Pixels    []byte
	Source    *models.Image
	Model     ModelInfo
	Detection models.DetectionResults
}

type AnnotationInput struct {
	ID               string
	PatientID        string
	VisitID          string
	AnalysisID       *string
	Severity         models.Severity
	Observation      string
	Recommendation   string
	FollowUpRequired bool
	NextReviewDate   *time.Time
	ImageRefs        []string
}

// UploadFile is one file of a batch upload.
type UploadFile struct {
	FileName string
	Data     []byte
}

// BatchItem reports the outcome of one file in a batch upload.
type BatchItem struct {
	FileName string        `json:"fileName"`
	Image    *models.Image `json:"image,omitempty"`
	Error    string        `json:"error,omitempty"`
	Step     models.Step   `json:"step,omitempty"`
}

// ReconcileReport summarises one repair pass.
type ReconcileReport struct {
	OrphansFound     int `json:"orphansFound"`
	Repaired         int `json:"repaired"`
	Unrepairable     int `json:"unrepairable"`
	FlagsRepaired    int `json:"flagsRepaired"`
	FollowUpsPending int `json:"followUpsPending"`
}

// ImageLimits bounds the images the service accepts and the thumbnails it
// derives. Zero values fall back to the utils defaults.
type ImageLimits struct {
	ThumbnailSize int
	MaxPixels     int64
}

// ProvenanceService owns the original/analysis/annotation rules: linkage,
// back-references, author snapshots and the evidence policy.
type ProvenanceService struct {
	images      *repositories.ImageRepository
	annotations *repositories.AnnotationRepository
	access      patientAccess
	store       storage.BlobStore
	policy      AnnotationPolicy
	limits      ImageLimits
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewProvenanceService(
	images *repositories.ImageRepository,
	annotations *repositories.AnnotationRepository,
	patients *repositories.PatientRepository,
	visits *repositories.VisitRepository,
	store storage.BlobStore,
	policy AnnotationPolicy,
	limits ImageLimits,
	log logrus.FieldLogger,
) *ProvenanceService {
	return &ProvenanceService{
		images:      images,
		annotations: annotations,
		access:      patientAccess{patients: patients, visits: visits},
		store:       store,
		policy:      policy,
		limits:      limits,
		log:         log.WithField("service", "provenance"),
		now:         time.Now,
	}
}

// Policy returns the annotation evidence policy in force.
func (s *ProvenanceService) Policy() AnnotationPolicy {
	return s.policy
}

// CreateOriginalImage stores an uploaded fundus photo under a visit.
func (s *ProvenanceService) CreateOriginalImage(ctx context.Context, auth models.AuthContext, in OriginalImageInput) (*models.Image, error) {
	if err := utils.ValidateEye(in.Eye); err != nil {
		return nil, models.Fail(models.StepValidation, fmt.Errorf("%w: eye: %v", models.ErrInvalidInput, err))
	}
	if _, _, err := s.access.visit(ctx, auth, in.PatientID, in.VisitID, true); err != nil {
		return nil, models.Fail(models.StepValidation, err)
	}
	meta, err := utils.InspectImage(in.Data, s.limits.MaxPixels)
	if err != nil {
		return nil, models.Fail(models.StepValidation, fmt.Errorf("%w: %w", models.ErrInvalidInput, err))
	}

	now := s.now().UTC()
	objectPath := storage.OriginalPath(in.PatientID, in.VisitID, string(in.Eye), in.FileName, now)
	if err := s.store.Put(ctx, objectPath, in.Data, meta.MimeType); err != nil {
		return nil, models.Fail(models.StepUpload, err)
	}
	written := []string{objectPath}

	img := &models.Image{
		PatientID:    in.PatientID,
		VisitID:      in.VisitID,
		Kind:         models.KindOriginal,
		URL:          s.store.PublicURL(objectPath),
		StoragePath:  objectPath,
		Eye:          in.Eye,
		CapturedAt:   now,
		ClinicalNote: in.ClinicalNote,
		Author:       auth.Snapshot(),
		FileName:     storage.SanitizeFileName(in.FileName),
		SizeBytes:    meta.SizeBytes,
		MimeType:     meta.MimeType,
		Width:        meta.Width,
		Height:       meta.Height,
		Status:       models.StatusPending,
	}
	if meta.TakenAt != nil {
		img.CapturedAt = *meta.TakenAt
	}

	if thumb, err := utils.MakeThumbnail(in.Data, s.limits.ThumbnailSize, s.limits.MaxPixels); err != nil {
		s.log.WithError(err).WithField("path", objectPath).Warn("thumbnail skipped")
	} else {
		thumbPath := storage.ThumbnailPath(objectPath)
		if err := s.store.Put(ctx, thumbPath, thumb, "image/jpeg"); err != nil {
			s.log.WithError(err).WithField("path", thumbPath).Warn("thumbnail upload failed")
		} else {
			img.ThumbnailPath = thumbPath
			img.ThumbnailURL = s.store.PublicURL(thumbPath)
			written = append(written, thumbPath)
		}
	}

	if err := s.images.CreateOriginal(ctx, img); err != nil {
		s.discard(written...)
		return nil, models.Fail(models.StepPersistence, err)
	}

	s.log.WithFields(logrus.Fields{"image_id": img.ID, "patient_id": img.PatientID, "visit_id": img.VisitID}).
		Info("original image stored")
	return img, nil
}

// CreateOriginalImages uploads several files for one visit and eye. Each
// file succeeds or fails on its own.
func (s *ProvenanceService) CreateOriginalImages(ctx context.Context, auth models.AuthContext, in OriginalImageInput, files []UploadFile) []BatchItem {
	items := make([]BatchItem, 0, len(files))
	for _, f := range files {
		one := in
		one.FileName = f.FileName
		one.Data = f.Data
		item := BatchItem{FileName: f.FileName}
		img, err := s.CreateOriginalImage(ctx, auth, one)
		if err != nil {
			item.Error = err.Error()
			item.Step, _ = models.StepOf(err)
		} else {
			item.Image = img
		}
		items = append(items, item)
	}
	return items
}

// RecordAnalysisResult stores a segmentation overlay as an analysis of
// in.Source and appends it to the source's back-references in the same
// transaction. Linkage is checked before anything is written.
func (s *ProvenanceService) RecordAnalysisResult(ctx context.Context, auth models.AuthContext, in AnalysisInput) (*models.Image, error) {
	source := in.Source
	if source == nil || source.ID == "" || !source.HasLinkage() {
		return nil, models.Fail(models.StepValidation, models.ErrMissingLinkage)
	}
	if !diagnosis.ValidConfidence(in.Detection.Confidence) {
		return nil, models.Fail(models.StepValidation,
			fmt.Errorf("%w: got %v", models.ErrInvalidDetection, in.Detection.Confidence))
	}

	stored, err := s.images.GetByID(ctx, source.ID)
	if err != nil {
		return nil, models.Fail(models.StepValidation, err)
	}
	if stored == nil || !stored.IsOriginal() || stored.PatientID != source.PatientID || stored.VisitID != source.VisitID {
		return nil, models.Fail(models.StepValidation,
			fmt.Errorf("%w: source %s is not a stored original of this visit", models.ErrMissingLinkage, source.ID))
	}
	if _, _, err := s.access.visit(ctx, auth, stored.PatientID, stored.VisitID, true); err != nil {
		return nil, models.Fail(models.StepValidation, err)
	}

	meta, err := utils.InspectImage(in.Pixels, s.limits.MaxPixels)
	if err != nil {
		return nil, models.Fail(models.StepSegmentation, fmt.Errorf("%w: segmentation result: %w", models.ErrProcessing, err))
	}
	result := diagnosis.Classify(in.Detection)

	now := s.now().UTC()
	ext := mimetype.Detect(in.Pixels).Extension()
	objectPath := storage.AnalysisPath(stored.PatientID, stored.VisitID, string(stored.Eye), stored.ID, ext, now)
	if err := s.store.Put(ctx, objectPath, in.Pixels, meta.MimeType); err != nil {
		return nil, models.Fail(models.StepUpload, err)
	}

	sourceID := stored.ID
	confidence := result.Confidence
	analysis := &models.Image{
		PatientID:     stored.PatientID,
		VisitID:       stored.VisitID,
		Kind:          models.KindAnalysis,
		URL:           s.store.PublicURL(objectPath),
		StoragePath:   objectPath,
		Eye:           stored.Eye,
		CapturedAt:    now,
		Author:        auth.Snapshot(),
		FileName:      path.Base(objectPath),
		SizeBytes:     meta.SizeBytes,
		MimeType:      meta.MimeType,
		Width:         meta.Width,
		Height:        meta.Height,
		SourceImageID: &sourceID,
		ModelName:     in.Model.Name,
		ModelVersion:  in.Model.Version,
		Detection:     in.Detection,
		AIDiagnosis:   result.Label,
		AIConfidence:  &confidence,
	}

	if err := s.images.CreateAnalysis(ctx, analysis); err != nil {
		s.discard(objectPath)
		return nil, models.Fail(models.StepPersistence, err)
	}

	s.log.WithFields(logrus.Fields{
		"image_id":  analysis.ID,
		"source_id": sourceID,
		"diagnosis": analysis.AIDiagnosis,
	}).Info("analysis recorded")
	return analysis, nil
}

// GetImage returns an image the caller may see.
func (s *ProvenanceService) GetImage(ctx context.Context, auth models.AuthContext, id string) (*models.Image, error) {
	img, err := s.images.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("image %s: %w", id, models.ErrNotFound)
	}
	if _, err := s.access.patient(ctx, auth, img.PatientID, false); err != nil {
		return nil, err
	}
	return img, nil
}

// ListVisitImages lists a visit's images. An empty kind lists both.
func (s *ProvenanceService) ListVisitImages(ctx context.Context, auth models.AuthContext, patientID, visitID string, kind models.ImageKind) ([]models.Image, error) {
	if _, _, err := s.access.visit(ctx, auth, patientID, visitID, false); err != nil {
		return nil, err
	}
	return s.images.ListByVisit(ctx, visitID, kind)
}

// ListAnalysesFor returns the analyses derived from an original, newest first.
func (s *ProvenanceService) ListAnalysesFor(ctx context.Context, auth models.AuthContext, originalID string) ([]models.Image, error) {
	original, err := s.GetImage(ctx, auth, originalID)
	if err != nil {
		return nil, err
	}
	if !original.IsOriginal() {
		return nil, fmt.Errorf("%w: image %s is not an original", models.ErrInvalidInput, originalID)
	}
	analyses, err := s.images.ListAnalysesFor(ctx, originalID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		return analyses[i].CapturedAt.After(analyses[j].CapturedAt)
	})
	return analyses, nil
}

// GetImageHistory returns an original with its analyses in back-reference
// order.
func (s *ProvenanceService) GetImageHistory(ctx context.Context, auth models.AuthContext, originalID string) (*models.ImageHistory, error) {
	original, err := s.GetImage(ctx, auth, originalID)
	if err != nil {
		return nil, err
	}
	if !original.IsOriginal() {
		return nil, fmt.Errorf("%w: image %s is not an original", models.ErrInvalidInput, originalID)
	}
	analyses, err := s.images.ListAnalysesFor(ctx, originalID)
	if err != nil {
		return nil, err
	}

	position := make(map[string]int, len(original.AnalysisIDs))
	for i, id := range original.AnalysisIDs {
		position[id] = i
	}
	sort.SliceStable(analyses, func(i, j int) bool {
		pi, iok := position[analyses[i].ID]
		pj, jok := position[analyses[j].ID]
		if iok != jok {
			return iok
		}
		return pi < pj
	})
	return &models.ImageHistory{Original: *original, Analyses: analyses}, nil
}

// UpdateImageStatus moves an original through pending, analyzed and reviewed.
func (s *ProvenanceService) UpdateImageStatus(ctx context.Context, auth models.AuthContext, imageID string, status models.ImageStatus) error {
	if err := utils.ValidateImageStatus(status); err != nil {
		return fmt.Errorf("%w: status: %v", models.ErrInvalidInput, err)
	}
	img, err := s.GetImage(ctx, auth, imageID)
	if err != nil {
		return err
	}
	if !img.IsOriginal() {
		return fmt.Errorf("%w: only originals carry a status", models.ErrInvalidInput)
	}
	if _, err := s.access.patient(ctx, auth, img.PatientID, true); err != nil {
		return err
	}
	return s.images.UpdateStatus(ctx, imageID, status)
}

// CreateAnnotation records a clinician's assessment of a visit. The evidence
// policy and image references are validated before anything is written.
func (s *ProvenanceService) CreateAnnotation(ctx context.Context, auth models.AuthContext, in AnnotationInput) (*models.Annotation, error) {
	annotation, err := s.buildAnnotation(ctx, auth, in)
	if err != nil {
		return nil, err
	}
	annotation.ID = ""
	annotation.Author = auth.Snapshot()
	annotation.CreatedAt = s.now().UTC()

	if err := s.annotations.Create(ctx, annotation); err != nil {
		return nil, models.Fail(models.StepPersistence, err)
	}
	return annotation, nil
}

// UpdateAnnotation overwrites an annotation in place and stamps ModifiedAt.
// Only its author or an admin may edit it.
func (s *ProvenanceService) UpdateAnnotation(ctx context.Context, auth models.AuthContext, in AnnotationInput) (*models.Annotation, error) {
	existing, err := s.annotations.GetByID(ctx, in.VisitID, in.ID)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.PatientID != in.PatientID {
		return nil, fmt.Errorf("annotation %s: %w", in.ID, models.ErrNotFound)
	}
	if !auth.IsAdmin() && existing.Author.ID != auth.UID {
		return nil, fmt.Errorf("annotation %s: %w", in.ID, models.ErrForbidden)
	}

	annotation, err := s.buildAnnotation(ctx, auth, in)
	if err != nil {
		return nil, err
	}
	annotation.ID = existing.ID
	annotation.Author = existing.Author
	annotation.CreatedAt = existing.CreatedAt

	if err := s.annotations.Update(ctx, annotation, s.now().UTC()); err != nil {
		return nil, models.Fail(models.StepPersistence, err)
	}
	return annotation, nil
}

func (s *ProvenanceService) buildAnnotation(ctx context.Context, auth models.AuthContext, in AnnotationInput) (*models.Annotation, error) {
	refs := dedupe(in.ImageRefs)
	if err := s.policy.Check(refs); err != nil {
		return nil, models.Fail(models.StepValidation, err)
	}

	annotation := &models.Annotation{
		PatientID:        in.PatientID,
		VisitID:          in.VisitID,
		AnalysisID:       in.AnalysisID,
		Severity:         in.Severity,
		Observation:      in.Observation,
		Recommendation:   in.Recommendation,
		FollowUpRequired: in.FollowUpRequired,
		NextReviewDate:   in.NextReviewDate,
		ImageIDs:         refs,
	}
	if err := utils.ValidateAnnotation(*annotation); err != nil {
		return nil, models.Fail(models.StepValidation, fmt.Errorf("%w: %w", models.ErrInvalidInput, err))
	}
	if _, _, err := s.access.visit(ctx, auth, in.PatientID, in.VisitID, true); err != nil {
		return nil, models.Fail(models.StepValidation, err)
	}

	visitImages, err := s.images.ListByVisit(ctx, in.VisitID, "")
	if err != nil {
		return nil, models.Fail(models.StepValidation, err)
	}
	byID := make(map[string]models.Image, len(visitImages))
	for _, img := range visitImages {
		byID[img.ID] = img
	}
	for _, ref := range refs {
		if _, ok := byID[ref]; !ok {
			return nil, models.Fail(models.StepValidation,
				fmt.Errorf("%w: image %s does not belong to visit %s", models.ErrInvalidInput, ref, in.VisitID))
		}
	}
	if in.AnalysisID != nil && *in.AnalysisID != "" {
		img, ok := byID[*in.AnalysisID]
		if !ok || img.Kind != models.KindAnalysis {
			return nil, models.Fail(models.StepValidation,
				fmt.Errorf("%w: %s is not an analysis of visit %s", models.ErrInvalidInput, *in.AnalysisID, in.VisitID))
		}
	} else {
		annotation.AnalysisID = nil
	}
	return annotation, nil
}

// ListAnnotations returns a visit's annotations oldest first with the
// severity trend against the previous one.
func (s *ProvenanceService) ListAnnotations(ctx context.Context, auth models.AuthContext, patientID, visitID string) ([]diagnosis.AnnotationTrend, error) {
	if _, _, err := s.access.visit(ctx, auth, patientID, visitID, false); err != nil {
		return nil, err
	}
	annotations, err := s.annotations.ListByVisit(ctx, visitID)
	if err != nil {
		return nil, err
	}
	return diagnosis.WithTrends(annotations), nil
}

// DueFollowUps lists follow-ups due on or before until for patients the
// caller may see, earliest first.
func (s *ProvenanceService) DueFollowUps(ctx context.Context, auth models.AuthContext, until time.Time) ([]models.FollowUp, error) {
	patients, err := s.access.patients.List(ctx, visibilityFilter(auth, false))
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(patients))
	for _, p := range patients {
		names[p.ID] = p.Name
	}

	annotations, err := s.annotations.DueFollowUps(ctx, until)
	if err != nil {
		return nil, err
	}
	followUps := make([]models.FollowUp, 0, len(annotations))
	for _, a := range annotations {
		name, visible := names[a.PatientID]
		if !visible || a.NextReviewDate == nil {
			continue
		}
		followUps = append(followUps, models.FollowUp{
			AnnotationID:   a.ID,
			PatientID:      a.PatientID,
			PatientName:    name,
			VisitID:        a.VisitID,
			Severity:       a.Severity,
			NextReviewDate: *a.NextReviewDate,
			Author:         a.Author,
		})
	}
	sort.SliceStable(followUps, func(i, j int) bool {
		return followUps[i].NextReviewDate.Before(followUps[j].NextReviewDate)
	})
	return followUps, nil
}

// ReconcileBackReferences repairs analyses missing from their source's
// back-reference list and originals whose analyzed flag was lost.
func (s *ProvenanceService) ReconcileBackReferences(ctx context.Context, limit int) (ReconcileReport, error) {
	var report ReconcileReport
	if limit <= 0 {
		limit = 500
	}

	orphans, err := s.images.FindOrphanAnalyses(ctx, limit)
	if err != nil {
		return report, err
	}
	report.OrphansFound = len(orphans)
	for _, orphan := range orphans {
		entry := s.log.WithFields(logrus.Fields{"image_id": orphan.ID, "inconsistency": models.ErrPartialWrite.Error()})
		if orphan.SourceImageID == nil || *orphan.SourceImageID == "" {
			report.Unrepairable++
			entry.Error("analysis has no source image")
			continue
		}
		if err := s.images.RepairBackReference(ctx, *orphan.SourceImageID, orphan.ID); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			report.Unrepairable++
			entry.WithError(err).Error("failed to repair back-reference")
			continue
		}
		report.Repaired++
		entry.WithField("source_id", *orphan.SourceImageID).Warn("back-reference repaired")
	}

	unflagged, err := s.images.FindUnflaggedOriginals(ctx, limit)
	if err != nil {
		return report, err
	}
	for _, original := range unflagged {
		if err := s.images.RepairBackReference(ctx, original.ID, ""); err != nil {
			s.log.WithError(err).WithField("image_id", original.ID).Error("failed to restore analyzed flag")
			continue
		}
		report.FlagsRepaired++
	}
	return report, nil
}

// discard removes blobs written by a request that failed later on.
func (s *ProvenanceService) discard(paths ...string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, p := range paths {
		if err := s.store.Delete(ctx, p); err != nil {
			s.log.WithError(err).WithField("path", p).Warn("failed to remove blob of failed write")
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
