package services

import (
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"context"
	"fmt"
)

// patientAccess resolves patients and visits for a caller and applies the
// role rule.
type patientAccess struct {
	patients *repositories.PatientRepository
	visits   *repositories.VisitRepository
}

// patient loads patientID when auth may see it. write additionally rejects
// archived patients.
func (a patientAccess) patient(ctx context.Context, auth models.AuthContext, patientID string, write bool) (*models.Patient, error) {
	if patientID == "" {
		return nil, fmt.Errorf("%w: patient id is required", models.ErrInvalidInput)
	}
	patient, err := a.patients.GetByID(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient == nil {
		return nil, fmt.Errorf("patient %s: %w", patientID, models.ErrNotFound)
	}
	if !patient.VisibleTo(auth) {
		return nil, fmt.Errorf("patient %s: %w", patientID, models.ErrForbidden)
	}
	if write && patient.IsArchived() {
		return nil, fmt.Errorf("patient %s: %w", patientID, models.ErrArchived)
	}
	return patient, nil
}

// visit loads a visit of a patient the caller may see.
func (a patientAccess) visit(ctx context.Context, auth models.AuthContext, patientID, visitID string, write bool) (*models.Patient, *models.Visit, error) {
	patient, err := a.patient(ctx, auth, patientID, write)
	if err != nil {
		return nil, nil, err
	}
	if visitID == "" {
		return nil, nil, fmt.Errorf("%w: visit id is required", models.ErrInvalidInput)
	}
	visit, err := a.visits.GetByID(ctx, patientID, visitID)
	if err != nil {
		return nil, nil, err
	}
	if visit == nil {
		return nil, nil, fmt.Errorf("visit %s: %w", visitID, models.ErrNotFound)
	}
	return patient, visit, nil
}
