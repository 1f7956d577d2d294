package services

import (
	"RetinaTrack/models"
	"RetinaTrack/repositories"
	"RetinaTrack/utils"
	"context"
	"fmt"
	"time"
)

type VisitService struct {
	repository *repositories.VisitRepository
	access     patientAccess
	now        func() time.Time
}

func NewVisitService(repository *repositories.VisitRepository, patients *repositories.PatientRepository) *VisitService {
	return &VisitService{
		repository: repository,
		access:     patientAccess{patients: patients, visits: repository},
		now:        time.Now,
	}
}

// Create records a visit under the caller's author snapshot.
func (s *VisitService) Create(ctx context.Context, auth models.AuthContext, visit *models.Visit) error {
	if _, err := s.access.patient(ctx, auth, visit.PatientID, true); err != nil {
		return err
	}
	if visit.Date.IsZero() {
		visit.Date = s.now().UTC()
	}
	if err := utils.ValidateVisit(*visit); err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
	}
	visit.ID = ""
	visit.Author = auth.Snapshot()
	return s.repository.Create(ctx, visit)
}

func (s *VisitService) GetByID(ctx context.Context, auth models.AuthContext, patientID, id string) (*models.Visit, error) {
	_, visit, err := s.access.visit(ctx, auth, patientID, id, false)
	return visit, err
}

func (s *VisitService) ListByPatient(ctx context.Context, auth models.AuthContext, patientID string) ([]models.Visit, error) {
	if _, err := s.access.patient(ctx, auth, patientID, false); err != nil {
		return nil, err
	}
	return s.repository.ListByPatient(ctx, patientID)
}
