package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Severity is the clinician's assessment, ordered from normal to critico.
type Severity string

const (
	SeverityNormal   Severity = "normal"
	SeverityLeve     Severity = "leve"
	SeverityModerado Severity = "moderado"
	SeveritySevero   Severity = "severo"
	SeverityCritico  Severity = "critico"
)

var Severities = []Severity{SeverityNormal, SeverityLeve, SeverityModerado, SeveritySevero, SeverityCritico}

// Annotation is edited in place; ModifiedAt marks the last edit.
type Annotation struct {
	ID               string            `gorm:"primaryKey;size:36;column:id" json:"id"`
	PatientID        string            `gorm:"column:patient_id;size:36;not null;index" json:"patientId"`
	VisitID          string            `gorm:"column:visit_id;size:36;not null;index" json:"visitId"`
	AnalysisID       *string           `gorm:"column:analysis_id;size:36;index" json:"analysisId,omitempty"`
	Severity         Severity          `gorm:"column:severity;size:16;not null" json:"severity"`
	Observation      string            `gorm:"column:observation;type:text" json:"observation"`
	Recommendation   string            `gorm:"column:recommendation;type:text" json:"recommendation"`
	FollowUpRequired bool              `gorm:"column:follow_up_required;not null;default:false" json:"followUpRequired"`
	NextReviewDate   *time.Time        `gorm:"column:next_review_date;index" json:"nextReviewDate,omitempty"`
	Author           Author            `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	CreatedAt        time.Time         `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	ModifiedAt       *time.Time        `gorm:"column:modified_at" json:"modifiedAt,omitempty"`
	Images           []AnnotationImage `gorm:"foreignKey:AnnotationID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
	ImageIDs         []string          `gorm:"-" json:"imageIds"`
}

func (Annotation) TableName() string {
	return "annotation"
}

func (a *Annotation) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	return nil
}

func (a *Annotation) AfterFind(tx *gorm.DB) error {
	if len(a.Images) > 0 {
		a.ImageIDs = make([]string, 0, len(a.Images))
		for _, img := range a.Images {
			a.ImageIDs = append(a.ImageIDs, img.ImageID)
		}
	}
	return nil
}

// AnnotationImage links an annotation to the images it cites.
type AnnotationImage struct {
	AnnotationID string `gorm:"primaryKey;size:36;column:annotation_id" json:"annotationId"`
	ImageID      string `gorm:"primaryKey;size:36;column:image_id;index" json:"imageId"`
	Position     int    `gorm:"column:position" json:"position"`
}

func (AnnotationImage) TableName() string {
	return "annotation_image"
}

// FollowUp is a pending review derived from an annotation.
type FollowUp struct {
	AnnotationID   string    `json:"annotationId"`
	PatientID      string    `json:"patientId"`
	PatientName    string    `json:"patientName"`
	VisitID        string    `json:"visitId"`
	Severity       Severity  `json:"severity"`
	NextReviewDate time.Time `json:"nextReviewDate"`
	Author         Author    `json:"author"`
}
