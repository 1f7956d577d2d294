package services

import (
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/utils"
	"context"
	"fmt"
	"time"
)

type PatientService struct {
	repository *repositories.PatientRepository
	users      repositories.UserRepository
	access     patientAccess
	now        func() time.Time
}

func NewPatientService(repository *repositories.PatientRepository, visits *repositories.VisitRepository, users repositories.UserRepository) *PatientService {
	return &PatientService{
		repository: repository,
		users:      users,
		access:     patientAccess{patients: repository, visits: visits},
		now:        time.Now,
	}
}

// Create registers a patient. A clinician's patients are always assigned to
// that clinician; admins may assign any active doctor.
func (s *PatientService) Create(ctx context.Context, auth models.AuthContext, patient *models.Patient) error {
	if err := utils.ValidatePatient(*patient); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if !auth.IsAdmin() {
		uid := auth.UID
		patient.AssignedDoctorID = &uid
	} else if err := s.checkDoctor(ctx, patient.AssignedDoctorID); err != nil {
		return err
	}

	patient.ID = ""
	patient.ArchivedAt = nil
	patient.CreatedBy = auth.Snapshot()
	if patient.RegistrationDate.IsZero() {
		patient.RegistrationDate = s.now().UTC()
	}
	return s.repository.Create(ctx, patient)
}

func (s *PatientService) GetByID(ctx context.Context, auth models.AuthContext, id string) (*models.Patient, error) {
	return s.access.patient(ctx, auth, id, false)
}

// List returns the patients visible to auth. Archived patients are only
// listed on request.
func (s *PatientService) List(ctx context.Context, auth models.AuthContext, includeArchived bool) ([]models.Patient, error) {
	return s.repository.List(ctx, visibilityFilter(auth, includeArchived))
}

// Update overwrites the editable fields. Only admins may reassign a patient.
func (s *PatientService) Update(ctx context.Context, auth models.AuthContext, patient *models.Patient) error {
	current, err := s.access.patient(ctx, auth, patient.ID, true)
	if err != nil {
		return err
	}
	if err := utils.ValidatePatient(*patient); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	if auth.IsAdmin() {
		if err := s.checkDoctor(ctx, patient.AssignedDoctorID); err != nil {
			return err
		}
	} else {
		patient.AssignedDoctorID = current.AssignedDoctorID
	}
	return s.repository.Update(ctx, patient)
}

// Archive makes a patient read-only. Only admins archive.
func (s *PatientService) Archive(ctx context.Context, auth models.AuthContext, id string) error {
	if !auth.IsAdmin() {
		return models.ErrForbidden
	}
	if _, err := s.access.patient(ctx, auth, id, false); err != nil {
		return err
	}
	return s.repository.Archive(ctx, id, s.now().UTC())
}

func (s *PatientService) checkDoctor(ctx context.Context, doctorID *string) error {
	if doctorID == nil || *doctorID == "" {
		return nil
	}
	doctor, err := s.users.GetUserByID(ctx, *doctorID)
	if err != nil {
		return err
	}
	if doctor == nil || !doctor.Active {
		return fmt.Errorf("%w: assigned doctor %s is not an active user", models.ErrInvalidInput, *doctorID)
	}
	return nil
}

func visibilityFilter(auth models.AuthContext, includeArchived bool) repositories.PatientFilter {
	filter := repositories.PatientFilter{IncludeArchived: includeArchived}
	if !auth.IsAdmin() {
		filter.DoctorID = auth.UID
	}
	return filter
}
