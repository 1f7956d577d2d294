package reports

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const PDFContentType = "application/pdf"

// PatientPDF renders the patient report as an A4 document.
func PatientPDF(rec PatientRecord) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(tr("Reporte de paciente - Sistema DMRE"), false)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "I", 8)
		pdf.CellFormat(0, 10, tr(fmt.Sprintf("Generado el %s - Página %d", formatDate(rec.GeneratedAt, dateTimeLayout), pdf.PageNo())),
			"", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	heading := func(text string) {
		pdf.Ln(4)
		pdf.SetFont("Arial", "B", 13)
		pdf.Cell(0, 8, tr(text))
		pdf.Ln(9)
		pdf.SetFont("Arial", "", 11)
	}
	field := func(label, value string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(50, 7, tr(label), "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.MultiCell(0, 7, tr(value), "", "L", false)
	}

	pdf.SetFont("Arial", "B", 16)
	pdf.Cell(0, 10, tr("Reporte de Paciente - Sistema DMRE"))
	pdf.Ln(12)

	p := rec.Patient
	heading("Datos generales")
	field("Nombre:", p.Name)
	field("Edad:", fmt.Sprintf("%d años", p.Age))
	field("Género:", orNA(p.Gender))
	field("Identificación:", orNA(p.NationalID))
	field("Dirección:", orNA(p.Address))
	field("Teléfono:", orNA(p.Phone))
	field("Fecha de registro:", formatDate(p.RegistrationDate, dateTimeLayout))
	field("Antecedentes:", orNA(p.History))
	field("Diagnóstico:", orNA(p.Diagnosis))
	field("Notas:", orNA(p.Notes))

	analyses := rec.Analyses()
	heading("Resumen")
	field("Visitas:", fmt.Sprintf("%d", len(rec.Visits)))
	field("Imágenes:", fmt.Sprintf("%d", len(rec.Images)))
	field("Análisis IA:", fmt.Sprintf("%d", len(analyses)))
	field("Anotaciones:", fmt.Sprintf("%d", len(rec.Annotations)))

	if visits := rec.SortedVisits(); len(visits) > 0 {
		heading("Historial de visitas")
		for i, v := range visits {
			pdf.SetFont("Arial", "B", 11)
			pdf.Cell(0, 7, tr(fmt.Sprintf("Visita %d - %s", i+1, formatDate(v.Date, dateTimeLayout))))
			pdf.Ln(7)
			field("  Estadio:", stageLabel(v.Stage))
			field("  Observación:", orNA(v.Observation))
			field("  Registrada por:", orNA(v.Author.Name))
		}
	}

	if len(analyses) > 0 {
		heading("Análisis con inteligencia artificial")
		widths := []float64{30, 22, 30, 25, 30, 53}
		header := []string{"Fecha", "Ojo", "Diagnóstico", "Confianza", "Disco/Copa", "Modelo"}
		pdf.SetFont("Arial", "B", 10)
		for i, h := range header {
			pdf.CellFormat(widths[i], 7, tr(h), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 9)
		for _, a := range analyses {
			structures := fmt.Sprintf("%s/%s", yesNo(a.Detection.DiscDetected), yesNo(a.Detection.CupDetected))
			row := []string{
				formatDate(a.CapturedAt, dateLayout),
				eyeLabel(a.Eye),
				stageLabel(a.AIDiagnosis),
				percent(a.AIConfidence),
				structures,
				modelLabel(a),
			}
			for i, cell := range row {
				pdf.CellFormat(widths[i], 6, tr(truncate(cell, 32)), "1", 0, "L", false, 0, "")
			}
			pdf.Ln(-1)
		}
	}

	if len(rec.Annotations) > 0 {
		heading("Anotaciones médicas")
		for i, a := range rec.Annotations {
			pdf.SetFont("Arial", "B", 11)
			pdf.Cell(0, 7, tr(fmt.Sprintf("Anotación %d - %s (%s)", i+1, string(a.Severity), formatDate(a.CreatedAt, dateLayout))))
			pdf.Ln(7)
			field("  Observación:", orNA(a.Observation))
			field("  Recomendación:", orNA(a.Recommendation))
			if a.NextReviewDate != nil {
				field("  Próxima revisión:", formatDate(*a.NextReviewDate, dateLayout))
			}
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
