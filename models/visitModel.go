package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DiseaseStage is the clinician's staging of the visit. Empty means unspecified.
type DiseaseStage string

const (
	StageUnspecified DiseaseStage = ""
	StageNormal      DiseaseStage = "Normal"
	StageLeve        DiseaseStage = "Leve"
	StageModerada    DiseaseStage = "Moderada"
	StageAvanzada    DiseaseStage = "Avanzada"
	StageSevera      DiseaseStage = "Severa"
	StageTerminal    DiseaseStage = "Terminal"
)

var DiseaseStages = []DiseaseStage{StageNormal, StageLeve, StageModerada, StageAvanzada, StageSevera, StageTerminal}

// Visit is immutable once created.
type Visit struct {
	ID          string       `gorm:"primaryKey;size:36;column:id" json:"id"`
	PatientID   string       `gorm:"column:patient_id;size:36;not null;index" json:"patientId"`
	Date        time.Time    `gorm:"column:date;not null;index" json:"date"`
	Observation string       `gorm:"column:observation;type:text" json:"observation"`
	Stage       DiseaseStage `gorm:"column:stage;size:20" json:"stage"`
	Author      Author       `gorm:"embedded;embeddedPrefix:author_" json:"author"`
	CreatedAt   time.Time    `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	Patient     Patient      `gorm:"foreignKey:PatientID;references:ID" json:"-"`
}

func (Visit) TableName() string {
	return "visit"
}

func (v *Visit) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Date.IsZero() {
		v.Date = time.Now().UTC()
	}
	return nil
}
