package reports

import (
	"RetinaTrack/models"
	"fmt"

	"github.com/xuri/excelize/v2"
)

const (
	sheetGeneral   = "Datos Generales"
	sheetVisits    = "Visitas"
	sheetAnalyses  = "Análisis IA"
	sheetImages    = "Imágenes"
	sheetSummary   = "Resumen"
	sheetPatients  = "Todos los Pacientes"
	defaultSheet   = "Sheet1"
	excelMediaType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExcelContentType is the media type of the generated workbooks.
const ExcelContentType = excelMediaType

type workbook struct {
	f    *excelize.File
	bold int
}

func newWorkbook(first string) (*workbook, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(defaultSheet, first); err != nil {
		f.Close()
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, err
	}
	return &workbook{f: f, bold: bold}, nil
}

func (w *workbook) sheet(name string) error {
	_, err := w.f.NewSheet(name)
	return err
}

// rows writes rows from A1 down. Rows listed in boldRows are emphasised.
func (w *workbook) rows(sheet string, rows [][]interface{}, boldRows ...int) error {
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		r := row
		if err := w.f.SetSheetRow(sheet, cell, &r); err != nil {
			return err
		}
	}
	for _, i := range boldRows {
		if i >= len(rows) || len(rows[i]) == 0 {
			continue
		}
		first, _ := excelize.CoordinatesToCellName(1, i+1)
		last, _ := excelize.CoordinatesToCellName(len(rows[i]), i+1)
		if err := w.f.SetCellStyle(sheet, first, last, w.bold); err != nil {
			return err
		}
	}
	return nil
}

// table writes a header row followed by data rows.
func (w *workbook) table(sheet string, header []interface{}, data [][]interface{}) error {
	rows := append([][]interface{}{header}, data...)
	if err := w.rows(sheet, rows, 0); err != nil {
		return err
	}
	last, err := excelize.ColumnNumberToName(len(header))
	if err != nil {
		return err
	}
	return w.f.SetColWidth(sheet, "A", last, 22)
}

func (w *workbook) bytes() ([]byte, error) {
	defer w.f.Close()
	buf, err := w.f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// PatientWorkbook builds the per-patient workbook: general data, visits, AI
// analyses, original images and a summary sheet.
func PatientWorkbook(rec PatientRecord) ([]byte, error) {
	w, err := newWorkbook(sheetGeneral)
	if err != nil {
		return nil, err
	}
	p := rec.Patient

	general := [][]interface{}{
		{"INFORMACIÓN DEL PACIENTE"},
		{""},
		{"Campo", "Valor"},
		{"Nombre", p.Name},
		{"Edad", p.Age},
		{"Género", orNA(p.Gender)},
		{"Identificación", orNA(p.NationalID)},
		{"Dirección", orNA(p.Address)},
		{"Teléfono", orNA(p.Phone)},
		{"Antecedentes", orNA(p.History)},
		{"Diagnóstico General", orNA(p.Diagnosis)},
		{"Notas", orNA(p.Notes)},
		{"Fecha de Registro", formatDate(p.RegistrationDate, dateTimeLayout)},
	}
	if err := w.rows(sheetGeneral, general, 0, 2); err != nil {
		return nil, err
	}
	if err := w.f.SetColWidth(sheetGeneral, "A", "B", 30); err != nil {
		return nil, err
	}

	if visits := rec.SortedVisits(); len(visits) > 0 {
		data := make([][]interface{}, 0, len(visits))
		for _, v := range visits {
			data = append(data, []interface{}{
				v.ID,
				formatDate(v.Date, dateTimeLayout),
				orNA(v.Observation),
				stageLabel(v.Stage),
				rec.imagesInVisit(v.ID),
				v.Author.Name,
			})
		}
		if err := w.sheet(sheetVisits); err != nil {
			return nil, err
		}
		header := []interface{}{"ID Visita", "Fecha", "Observación Clínica", "Estadio de la Enfermedad", "Total de Imágenes", "Registrada por"}
		if err := w.table(sheetVisits, header, data); err != nil {
			return nil, err
		}
	}

	if analyses := rec.Analyses(); len(analyses) > 0 {
		data := make([][]interface{}, 0, len(analyses))
		for _, a := range analyses {
			visit, _ := rec.visit(a.VisitID)
			data = append(data, []interface{}{
				formatDate(visit.Date, dateLayout),
				eyeLabel(a.Eye),
				stageLabel(a.AIDiagnosis),
				percent(a.AIConfidence),
				detectedLabel(a.Detection.DiscDetected),
				detectedLabel(a.Detection.CupDetected),
				modelLabel(a),
				formatDate(a.CapturedAt, dateTimeLayout),
				orNA(a.URL),
				orNA(visit.Observation),
				stageLabel(visit.Stage),
				a.Author.Name,
			})
		}
		if err := w.sheet(sheetAnalyses); err != nil {
			return nil, err
		}
		header := []interface{}{"Fecha Visita", "Ojo", "Diagnóstico IA", "Confianza IA", "Disco Óptico", "Copa Óptica",
			"Modelo", "Fecha Análisis", "URL Imagen", "Observación Clínica", "Estadio Enfermedad", "Autor"}
		if err := w.table(sheetAnalyses, header, data); err != nil {
			return nil, err
		}
	}

	if originals := rec.Originals(); len(originals) > 0 {
		data := make([][]interface{}, 0, len(originals))
		for _, img := range originals {
			visit, _ := rec.visit(img.VisitID)
			data = append(data, []interface{}{
				formatDate(visit.Date, dateLayout),
				"Original",
				eyeLabel(img.Eye),
				formatDate(img.CapturedAt, dateTimeLayout),
				orNA(img.URL),
				orNA(img.FileName),
				yesNo(img.AnalyzedByAI),
				len(img.AnalysisIDs),
				string(img.Status),
			})
		}
		if err := w.sheet(sheetImages); err != nil {
			return nil, err
		}
		header := []interface{}{"Fecha Visita", "Tipo", "Ojo", "Fecha Subida", "URL Imagen", "Nombre Archivo",
			"Analizada con IA", "Análisis Derivados", "Estado"}
		if err := w.table(sheetImages, header, data); err != nil {
			return nil, err
		}
	}

	if err := w.sheet(sheetSummary); err != nil {
		return nil, err
	}
	summary := [][]interface{}{
		{"RESUMEN DEL PACIENTE"},
		{""},
		{"Métrica", "Valor"},
		{"Total de Visitas", len(rec.Visits)},
		{"Total de Imágenes", len(rec.Images)},
		{"Análisis IA Realizados", len(rec.Analyses())},
		{"Imágenes Originales", len(rec.Originals())},
		{"Anotaciones Médicas", len(rec.Annotations)},
		{""},
		{"Fecha de Exportación", formatDate(rec.GeneratedAt, dateTimeLayout)},
		{"Exportado por", orNA(rec.GeneratedBy.Name)},
	}
	if err := w.rows(sheetSummary, summary, 0, 2); err != nil {
		return nil, err
	}
	if err := w.f.SetColWidth(sheetSummary, "A", "B", 28); err != nil {
		return nil, err
	}

	return w.bytes()
}

// PatientsWorkbook lists every patient on one sheet.
func PatientsWorkbook(patients []models.Patient) ([]byte, error) {
	w, err := newWorkbook(sheetPatients)
	if err != nil {
		return nil, err
	}
	data := make([][]interface{}, 0, len(patients))
	for _, p := range patients {
		archived := "No"
		if p.IsArchived() {
			archived = "Sí"
		}
		data = append(data, []interface{}{
			p.Name,
			p.Age,
			orNA(p.Gender),
			orNA(p.NationalID),
			orNA(p.Phone),
			formatDate(p.RegistrationDate, dateLayout),
			orNA(p.Diagnosis),
			archived,
		})
	}
	header := []interface{}{"Nombre", "Edad", "Género", "Identificación", "Teléfono", "Fecha Registro", "Diagnóstico", "Archivado"}
	if err := w.table(sheetPatients, header, data); err != nil {
		return nil, err
	}
	return w.bytes()
}
