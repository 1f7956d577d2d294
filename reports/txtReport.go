package reports

import (
	"fmt"
	"strings"
)

const TextContentType = "text/plain; charset=utf-8"

// PatientText renders the plain-text patient report.
func PatientText(rec PatientRecord) []byte {
	var b strings.Builder
	rule := strings.Repeat("=", 80) + "\n"
	line := strings.Repeat("-", 80) + "\n"
	field := func(label, value string) {
		fmt.Fprintf(&b, "%-18s%s\n", label+":", value)
	}
	item := func(label, value string) {
		fmt.Fprintf(&b, "  %-24s%s\n", label+":", value)
	}
	p := rec.Patient

	b.WriteString(rule)
	b.WriteString("REPORTE DE PACIENTE - SISTEMA DMRE\n")
	b.WriteString(rule)
	b.WriteString("\n")

	b.WriteString("DATOS GENERALES DEL PACIENTE\n")
	b.WriteString(line)
	field("Nombre", p.Name)
	field("Edad", fmt.Sprintf("%d años", p.Age))
	field("Género", orNA(p.Gender))
	field("Identificación", orNA(p.NationalID))
	field("Dirección", orNA(p.Address))
	field("Teléfono", orNA(p.Phone))
	field("Fecha Registro", formatDate(p.RegistrationDate, dateTimeLayout))
	b.WriteString("\n")
	field("Antecedentes", orNA(p.History))
	field("Diagnóstico", orNA(p.Diagnosis))
	field("Notas", orNA(p.Notes))
	b.WriteString("\n\n")

	analyses := rec.Analyses()
	originals := rec.Originals()

	b.WriteString("RESUMEN\n")
	b.WriteString(line)
	fmt.Fprintf(&b, "%-25s%d\n", "Total de Visitas:", len(rec.Visits))
	fmt.Fprintf(&b, "%-25s%d\n", "Total de Imágenes:", len(rec.Images))
	fmt.Fprintf(&b, "%-25s%d\n", "Análisis IA Realizados:", len(analyses))
	fmt.Fprintf(&b, "%-25s%d\n", "Anotaciones Médicas:", len(rec.Annotations))
	b.WriteString("\n\n")

	if visits := rec.SortedVisits(); len(visits) > 0 {
		b.WriteString("HISTORIAL DE VISITAS\n")
		b.WriteString(line)
		for i, v := range visits {
			fmt.Fprintf(&b, "\nVisita %d\n", i+1)
			item("Fecha", formatDate(v.Date, dateTimeLayout))
			item("Observación Clínica", orNA(v.Observation))
			item("Estadio Enfermedad", stageLabel(v.Stage))
			item("Total de Imágenes", fmt.Sprintf("%d", rec.imagesInVisit(v.ID)))
			item("Registrada por", orNA(v.Author.Name))
		}
		b.WriteString("\n\n")
	}

	if len(analyses) > 0 {
		b.WriteString("ANÁLISIS CON INTELIGENCIA ARTIFICIAL\n")
		b.WriteString(line)
		for i, a := range analyses {
			visit, _ := rec.visit(a.VisitID)
			fmt.Fprintf(&b, "\nAnálisis IA %d\n", i+1)
			item("Fecha", formatDate(a.CapturedAt, dateTimeLayout))
			item("Ojo", eyeLabel(a.Eye))
			item("Diagnóstico IA", stageLabel(a.AIDiagnosis))
			item("Confianza", percent(a.AIConfidence))
			item("Disco Óptico", detectedLabel(a.Detection.DiscDetected))
			item("Copa Óptica", detectedLabel(a.Detection.CupDetected))
			item("Modelo Utilizado", modelLabel(a))
			item("URL Imagen", orNA(a.URL))
			item("Observación Clínica", orNA(visit.Observation))
			item("Estadio Enfermedad", stageLabel(visit.Stage))
		}
		b.WriteString("\n\n")
	}

	if len(originals) > 0 {
		b.WriteString("IMÁGENES CARGADAS\n")
		b.WriteString(line)
		for i, img := range originals {
			fmt.Fprintf(&b, "\nImagen %d\n", i+1)
			item("Fecha", formatDate(img.CapturedAt, dateTimeLayout))
			item("Tipo", "Original")
			item("Ojo", eyeLabel(img.Eye))
			item("Analizada con IA", yesNo(img.AnalyzedByAI))
			item("URL", orNA(img.URL))
			item("Nombre Archivo", orNA(img.FileName))
		}
		b.WriteString("\n\n")
	}

	if len(rec.Annotations) > 0 {
		b.WriteString("ANOTACIONES MÉDICAS\n")
		b.WriteString(line)
		for i, a := range rec.Annotations {
			fmt.Fprintf(&b, "\nAnotación %d\n", i+1)
			item("Fecha", formatDate(a.CreatedAt, dateTimeLayout))
			item("Severidad", string(a.Severity))
			item("Observación", orNA(a.Observation))
			item("Recomendación", orNA(a.Recommendation))
			item("Seguimiento", yesNo(a.FollowUpRequired))
			if a.NextReviewDate != nil {
				item("Próxima Revisión", formatDate(*a.NextReviewDate, dateLayout))
			}
			item("Autor", orNA(a.Author.Name))
		}
		b.WriteString("\n\n")
	}

	b.WriteString(rule)
	fmt.Fprintf(&b, "Reporte generado el: %s\n", formatDate(rec.GeneratedAt, dateTimeLayout))
	b.WriteString("Sistema DMRE - Degeneración Macular Relacionada con la Edad\n")
	b.WriteString(rule)
	return []byte(b.String())
}
