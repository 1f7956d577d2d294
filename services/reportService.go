package services

import (
	"RetinaTrack/diagnosis"
	"RetinaTrack/models"
	"RetinaTrack/reports"
	"RetinaTrack/repositories"
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// ExportFormat selects the rendering of a patient export.
type ExportFormat string

const (
	FormatExcel ExportFormat = "xlsx"
	FormatText  ExportFormat = "txt"
	FormatPDF   ExportFormat = "pdf"
)

// Export is a rendered file ready to be downloaded.
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
}

// ReportService builds read-only views over the records visible to a caller:
// dashboard figures and file exports.
type ReportService struct {
	patients    *repositories.PatientRepository
	visits      *repositories.VisitRepository
	images      *repositories.ImageRepository
	annotations *repositories.AnnotationRepository
	access      patientAccess
	log         logrus.FieldLogger
	now         func() time.Time
}

func NewReportService(
	patients *repositories.PatientRepository,
	visits *repositories.VisitRepository,
	images *repositories.ImageRepository,
	annotations *repositories.AnnotationRepository,
	log logrus.FieldLogger,
) *ReportService {
	return &ReportService{
		patients:    patients,
		visits:      visits,
		images:      images,
		annotations: annotations,
		access:      patientAccess{patients: patients, visits: visits},
		log:         log.WithField("service", "report"),
		now:         time.Now,
	}
}

// Dashboard summarises the active patients visible to auth.
func (s *ReportService) Dashboard(ctx context.Context, auth models.AuthContext) (diagnosis.Dashboard, error) {
	patients, err := s.patients.List(ctx, visibilityFilter(auth, false))
	if err != nil {
		return diagnosis.Dashboard{}, err
	}
	ids := make([]string, 0, len(patients))
	for _, p := range patients {
		ids = append(ids, p.ID)
	}

	visits, err := s.visits.ListByPatients(ctx, ids)
	if err != nil {
		return diagnosis.Dashboard{}, err
	}
	images, err := s.images.ListByPatients(ctx, ids)
	if err != nil {
		return diagnosis.Dashboard{}, err
	}
	annotations, err := s.annotations.ListByPatients(ctx, ids)
	if err != nil {
		return diagnosis.Dashboard{}, err
	}
	return diagnosis.Summarize(patients, visits, images, annotations, s.now().UTC()), nil
}

// PatientRecord gathers everything exported for one patient. Archived
// patients remain exportable.
func (s *ReportService) PatientRecord(ctx context.Context, auth models.AuthContext, patientID string) (*reports.PatientRecord, error) {
	patient, err := s.access.patient(ctx, auth, patientID, false)
	if err != nil {
		return nil, err
	}
	ids := []string{patient.ID}

	visits, err := s.visits.ListByPatients(ctx, ids)
	if err != nil {
		return nil, err
	}
	images, err := s.images.ListByPatients(ctx, ids)
	if err != nil {
		return nil, err
	}
	annotations, err := s.annotations.ListByPatients(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &reports.PatientRecord{
		Patient:     *patient,
		Visits:      visits,
		Images:      images,
		Annotations: annotations,
		GeneratedAt: s.now(),
		GeneratedBy: auth.Snapshot(),
	}, nil
}

// ExportPatient renders one patient's record in format.
func (s *ReportService) ExportPatient(ctx context.Context, auth models.AuthContext, patientID string, format ExportFormat) (*Export, error) {
	switch format {
	case FormatExcel, FormatText, FormatPDF:
	default:
		return nil, fmt.Errorf("%w: unsupported export format %q", models.ErrInvalidInput, format)
	}

	rec, err := s.PatientRecord(ctx, auth, patientID)
	if err != nil {
		return nil, err
	}

	out := &Export{FileName: rec.FileName(string(format))}
	switch format {
	case FormatExcel:
		out.ContentType = reports.ExcelContentType
		out.Data, err = reports.PatientWorkbook(*rec)
	case FormatText:
		out.ContentType = reports.TextContentType
		out.Data = reports.PatientText(*rec)
	case FormatPDF:
		out.ContentType = reports.PDFContentType
		out.Data, err = reports.PatientPDF(*rec)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render %s export: %w", format, err)
	}

	s.log.WithFields(logrus.Fields{
		"patient_id": patientID,
		"format":     format,
		"user_id":    auth.UID,
	}).Info("patient exported")
	return out, nil
}

// ExportAllPatients renders the registry of every patient. Admin only.
func (s *ReportService) ExportAllPatients(ctx context.Context, auth models.AuthContext) (*Export, error) {
	if !auth.IsAdmin() {
		return nil, models.ErrForbidden
	}
	patients, err := s.patients.List(ctx, visibilityFilter(auth, true))
	if err != nil {
		return nil, err
	}
	data, err := reports.PatientsWorkbook(patients)
	if err != nil {
		return nil, fmt.Errorf("failed to render patients export: %w", err)
	}
	return &Export{
		FileName:    fmt.Sprintf("Pacientes_Sistema_DMRE_%s.xlsx", s.now().Format("2006-01-02")),
		ContentType: reports.ExcelContentType,
		Data:        data,
	}, nil
}
