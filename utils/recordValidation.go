package utils

import (
	"RetinaTrack/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var genders = []interface{}{"Masculino", "Femenino", "Otro"}

func ValidatePatient(p models.Patient) error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Name, validation.Required, validation.Length(2, 150)),
		validation.Field(&p.Age, validation.Min(0), validation.Max(130)),
		validation.Field(&p.Gender, validation.Required, validation.In(genders...)),
		validation.Field(&p.NationalID, validation.Required, validation.Length(3, 50)),
		validation.Field(&p.Phone, validation.Length(0, 50)),
		validation.Field(&p.Address, validation.Length(0, 255)),
	)
}

func ValidateVisit(v models.Visit) error {
	return validation.ValidateStruct(&v,
		validation.Field(&v.PatientID, validation.Required),
		validation.Field(&v.Date, validation.Required),
		validation.Field(&v.Stage, validation.In(stageValues()...)),
	)
}

// ValidateEye accepts only left and right.
func ValidateEye(eye models.Eye) error {
	return validation.Validate(eye, validation.Required, validation.In(models.EyeLeft, models.EyeRight))
}

func ValidateImageStatus(status models.ImageStatus) error {
	return validation.Validate(status, validation.Required,
		validation.In(models.StatusPending, models.StatusAnalyzed, models.StatusReviewed))
}

// ValidateAnnotation checks the clinical fields. The evidence minimum is a
// deployment policy and is checked by the provenance service.
func ValidateAnnotation(a models.Annotation) error {
	return validation.ValidateStruct(&a,
		validation.Field(&a.VisitID, validation.Required),
		validation.Field(&a.Severity, validation.Required, validation.In(severityValues()...)),
		validation.Field(&a.Observation, validation.Required, validation.Length(1, 5000)),
		validation.Field(&a.Recommendation, validation.Length(0, 5000)),
		validation.Field(&a.NextReviewDate, validation.When(a.FollowUpRequired, validation.Required.Error("next review date is required when follow-up is required"))),
	)
}

func stageValues() []interface{} {
	values := []interface{}{models.StageUnspecified}
	for _, s := range models.DiseaseStages {
		values = append(values, s)
	}
	return values
}

func severityValues() []interface{} {
	values := make([]interface{}, 0, len(models.Severities))
	for _, s := range models.Severities {
		values = append(values, s)
	}
	return values
}
