package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Patient model. Patients are archived, never deleted.
type Patient struct {
	ID               string     `gorm:"primaryKey;size:36;column:id" json:"id"`
	Name             string     `gorm:"column:name;not null;index" json:"name"`
	Age              int        `gorm:"column:age" json:"age"`
	Gender           string     `gorm:"column:gender" json:"gender"`
	NationalID       string     `gorm:"column:national_id;index" json:"nationalId"`
	Address          string     `gorm:"column:address" json:"address"`
	Phone            string     `gorm:"column:phone" json:"phone"`
	History          string     `gorm:"column:history;type:text" json:"history"`
	Diagnosis        string     `gorm:"column:diagnosis;type:text" json:"diagnosis"`
	Notes            string     `gorm:"column:notes;type:text" json:"notes"`
	RegistrationDate time.Time  `gorm:"column:registration_date;not null;index" json:"registrationDate"`
	AssignedDoctorID *string    `gorm:"column:assigned_doctor_id;size:36;index" json:"assignedDoctorId,omitempty"`
	CreatedBy        Author     `gorm:"embedded;embeddedPrefix:created_by_" json:"createdBy"`
	ArchivedAt       *time.Time `gorm:"column:archived_at;index" json:"archivedAt,omitempty"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
	Visits           []Visit    `gorm:"foreignKey:PatientID;references:ID;constraint:OnDelete:RESTRICT" json:"-"`
}

func (Patient) TableName() string {
	return "patient"
}

func (p *Patient) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.RegistrationDate.IsZero() {
		p.RegistrationDate = time.Now().UTC()
	}
	return nil
}

func (p *Patient) IsArchived() bool {
	return p.ArchivedAt != nil
}

// VisibleTo applies the role rule: admins see every patient, clinicians
// only those assigned to them.
func (p *Patient) VisibleTo(auth AuthContext) bool {
	if auth.IsAdmin() {
		return true
	}
	return p.AssignedDoctorID != nil && *p.AssignedDoctorID == auth.UID
}
