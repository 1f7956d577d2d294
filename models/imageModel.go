package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImageKind string

const (
	KindOriginal ImageKind = "original"
	KindAnalysis ImageKind = "analysis"
)

type Eye string

const (
	EyeLeft  Eye = "left"
	EyeRight Eye = "right"
)

// ImageStatus tracks the review workflow of an original image.
type ImageStatus string

const (
	StatusPending  ImageStatus = "pending"
	StatusAnalyzed ImageStatus = "analyzed"
	StatusReviewed ImageStatus = "reviewed"
)

// DetectionResults is what the segmentation model reported for the
// anatomical structures of the fundus.
type DetectionResults struct {
	DiscDetected bool    `gorm:"column:disc_detected" json:"discDetected"`
	CupDetected  bool    `gorm:"column:cup_detected" json:"cupDetected"`
	Confidence   float64 `gorm:"column:confidence" json:"confidence"`
}

// Image holds both fundus originals and the AI artifacts derived from them.
// Analysis rows always carry SourceImageID; the source keeps its ordered
// list of derived ids in ImageAnalysisLink.
type Image struct {
	ID            string      `gorm:"primaryKey;size:36;column:id" json:"id"`
	PatientID     string      `gorm:"column:patient_id;size:36;not null;index" json:"patientId"`
	VisitID       string      `gorm:"column:visit_id;size:36;not null;index" json:"visitId"`
	Kind          ImageKind   `gorm:"column:kind;size:16;not null;index" json:"kind"`
	URL           string      `gorm:"column:url;not null" json:"url"`
	StoragePath   string      `gorm:"column:storage_path;not null" json:"-"`
	ThumbnailURL  string      `gorm:"column:thumbnail_url" json:"thumbnailUrl,omitempty"`
	ThumbnailPath string      `gorm:"column:thumbnail_path" json:"-"`
	Eye           Eye         `gorm:"column:eye;size:8;not null;index" json:"eye"`
	CapturedAt    time.Time   `gorm:"column:captured_at;not null;index" json:"capturedAt"`
	ClinicalNote  string      `gorm:"column:clinical_note;type:text" json:"clinicalNote,omitempty"`
	Author        Author      `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	FileName      string      `gorm:"column:file_name" json:"fileName"`
	SizeBytes     int64       `gorm:"column:size_bytes" json:"size"`
	MimeType      string      `gorm:"column:mime_type;size:100" json:"mimeType"`
	Width         int         `gorm:"column:width" json:"width"`
	Height        int         `gorm:"column:height" json:"height"`
	CreatedAt     time.Time   `gorm:"column:created_at;autoCreateTime" json:"createdAt"`

	// original only
	AnalyzedByAI bool        `gorm:"column:analyzed_by_ai;not null;default:false" json:"analyzedByAI"`
	Status       ImageStatus `gorm:"column:status;size:16" json:"status,omitempty"`
	AnalysisIDs  []string    `gorm:"-" json:"analysisIds"`

	// analysis only
	SourceImageID *string          `gorm:"column:source_image_id;size:36;index" json:"sourceImageId,omitempty"`
	ModelName     string           `gorm:"column:model_name" json:"modelName,omitempty"`
	ModelVersion  string           `gorm:"column:model_version" json:"modelVersion,omitempty"`
	Detection     DetectionResults `gorm:"embedded;embeddedPrefix:detection_" json:"detectionResults"`
	AIDiagnosis   DiseaseStage     `gorm:"column:ai_diagnosis;size:20" json:"aiDiagnosis,omitempty"`
	AIConfidence  *float64         `gorm:"column:ai_confidence" json:"aiConfidence,omitempty"`
}

func (Image) TableName() string {
	return "image"
}

func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	if i.CapturedAt.IsZero() {
		i.CapturedAt = time.Now().UTC()
	}
	if i.Kind == KindOriginal && i.Status == "" {
		i.Status = StatusPending
	}
	return nil
}

func (i *Image) IsOriginal() bool {
	return i.Kind == KindOriginal
}

// HasLinkage reports whether the image is attached to a patient visit.
func (i *Image) HasLinkage() bool {
	return i.PatientID != "" && i.VisitID != ""
}

// ImageAnalysisLink is the append-only back-reference list of an original.
// The unique indexes make every analysis appear once and every position be
// taken once per original.
type ImageAnalysisLink struct {
	ID         uint      `gorm:"primaryKey;autoIncrement;column:id" json:"-"`
	OriginalID string    `gorm:"column:original_id;size:36;not null;uniqueIndex:idx_link_position" json:"originalId"`
	Position   int       `gorm:"column:position;not null;uniqueIndex:idx_link_position" json:"position"`
	AnalysisID string    `gorm:"column:analysis_id;size:36;not null;uniqueIndex" json:"analysisId"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

func (ImageAnalysisLink) TableName() string {
	return "image_analysis_link"
}

// ImageHistory is an original together with every analysis derived from it.
type ImageHistory struct {
	Original Image   `json:"original"`
	Analyses []Image `json:"analyses"`
}
