package services

import (
	"RetinaTrack/models"
	"RetinaTrack/reports"
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestDashboard_ScopedToCaller(t *testing.T) {
	env := newTestEnv(t, AnnotationPolicy{})
	fx := env.seed(t, doctorAna, "1710000200")
	env.seed(t, doctorLuis, "1710000201")
	ctx := context.Background()

	_, err := env.provenance.RecordAnalysisResult(ctx, doctorAna, AnalysisInput{
		Pixels: testPNG(t), Source: fx.original, Detection: detection(true, true, 0.97),
	})
	require.NoError(t, err)
	review := time.Now().UTC().Add(24 * time.Hour)
	_, err = env.provenance.CreateAnnotation(ctx, doctorAna, AnnotationInput{
		PatientID: fx.patient.ID, VisitID: fx.visit.ID, Severity: models.SeverityLeve,
		Observation: "Seguimiento", FollowUpRequired: true, NextReviewDate: &review,
	})
	require.NoError(t, err)

	mine, err := env.reports.Dashboard(ctx, doctorAna)
	require.NoError(t, err)
	assert.Equal(t, 1, mine.TotalPatients)
	assert.Equal(t, 1, mine.NewCases)
	assert.Equal(t, 1, mine.TotalVisits)
	assert.Equal(t, 1, mine.OriginalImages)
	assert.Equal(t, 1, mine.AIAnalyses)
	assert.Equal(t, 0, mine.PendingAnalysis)
	assert.Equal(t, 1, mine.DiagnosisCounts[models.StageNormal])
	assert.Equal(t, 1, mine.SeverityCounts[models.SeverityLeve])
	assert.Equal(t, 1, mine.PendingFollowUps)

	all, err := env.reports.Dashboard(ctx, adminAuth)
	require.NoError(t, err)
	assert.Equal(t, 2, all.TotalPatients)
	assert.Equal(t, 2, all.OriginalImages)
	assert.Equal(t, 1, all.PendingAnalysis)
}

func TestExportPatient(t *testing.T) {
	env := newTestEnv(t, AnnotationPolicy{})
	fx := env.seed(t, doctorAna, "1710000210")
	ctx := context.Background()

	_, err := env.provenance.RecordAnalysisResult(ctx, doctorAna, AnalysisInput{
		Pixels: testPNG(t), Source: fx.original, Detection: detection(true, true, 0.97),
	})
	require.NoError(t, err)

	text, err := env.reports.ExportPatient(ctx, doctorAna, fx.patient.ID, FormatText)
	require.NoError(t, err)
	assert.Equal(t, reports.TextContentType, text.ContentType)
	assert.Regexp(t, `^Paciente_Juan_Perez_\d{4}-\d{2}-\d{2}\.txt$`, text.FileName)
	assert.Contains(t, string(text.Data), "REPORTE DE PACIENTE - SISTEMA DMRE")
	assert.Contains(t, string(text.Data), "Juan Perez")

	sheet, err := env.reports.ExportPatient(ctx, doctorAna, fx.patient.ID, FormatExcel)
	require.NoError(t, err)
	assert.Equal(t, reports.ExcelContentType, sheet.ContentType)
	wb, err := excelize.OpenReader(bytes.NewReader(sheet.Data))
	require.NoError(t, err)
	defer wb.Close()
	assert.Contains(t, wb.GetSheetList(), "Análisis IA")

	pdf, err := env.reports.ExportPatient(ctx, doctorAna, fx.patient.ID, FormatPDF)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pdf.Data, []byte("%PDF-")))

	_, err = env.reports.ExportPatient(ctx, doctorAna, fx.patient.ID, ExportFormat("docx"))
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	_, err = env.reports.ExportPatient(ctx, doctorLuis, fx.patient.ID, FormatText)
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestExportPatient_ArchivedRemainsExportable(t *testing.T) {
	env := newTestEnv(t, AnnotationPolicy{})
	fx := env.seed(t, doctorAna, "1710000211")
	ctx := context.Background()
	require.NoError(t, env.patients.Archive(ctx, adminAuth, fx.patient.ID))

	out, err := env.reports.ExportPatient(ctx, doctorAna, fx.patient.ID, FormatText)
	require.NoError(t, err)
	assert.NotEmpty(t, out.Data)
}

func TestExportAllPatients(t *testing.T) {
	env := newTestEnv(t, AnnotationPolicy{})
	fx := env.seed(t, doctorAna, "1710000220")
	env.seed(t, doctorLuis, "1710000221")
	ctx := context.Background()
	require.NoError(t, env.patients.Archive(ctx, adminAuth, fx.patient.ID))

	_, err := env.reports.ExportAllPatients(ctx, doctorAna)
	assert.ErrorIs(t, err, models.ErrForbidden)

	out, err := env.reports.ExportAllPatients(ctx, adminAuth)
	require.NoError(t, err)
	assert.Regexp(t, `^Pacientes_Sistema_DMRE_\d{4}-\d{2}-\d{2}\.xlsx$`, out.FileName)

	wb, err := excelize.OpenReader(bytes.NewReader(out.Data))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows("Todos los Pacientes")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}
