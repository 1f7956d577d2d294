// Package reports renders read-only patient exports: Excel workbooks, plain
// text and PDF.
package reports

import (
	"RetinaTrack/models"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	dateLayout     = "02/01/2006"
	dateTimeLayout = "02/01/2006 15:04"
	notAvailable   = "N/A"
)

// PatientRecord is everything exported for one patient.
type PatientRecord struct {
	Patient     models.Patient
	Visits      []models.Visit
	Images      []models.Image
	Annotations []models.Annotation
	GeneratedAt time.Time
	GeneratedBy models.Author
}

// Originals returns the uploaded images, oldest first.
func (r PatientRecord) Originals() []models.Image {
	return r.byKind(models.KindOriginal)
}

// Analyses returns the AI analyses, oldest first.
func (r PatientRecord) Analyses() []models.Image {
	return r.byKind(models.KindAnalysis)
}

func (r PatientRecord) byKind(kind models.ImageKind) []models.Image {
	out := []models.Image{}
	for _, img := range r.Images {
		if img.Kind == kind {
			out = append(out, img)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CapturedAt.Before(out[j].CapturedAt) })
	return out
}

// SortedVisits returns the visits oldest first.
func (r PatientRecord) SortedVisits() []models.Visit {
	out := make([]models.Visit, len(r.Visits))
	copy(out, r.Visits)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func (r PatientRecord) visit(id string) (models.Visit, bool) {
	for _, v := range r.Visits {
		if v.ID == id {
			return v, true
		}
	}
	return models.Visit{}, false
}

func (r PatientRecord) imagesInVisit(visitID string) int {
	n := 0
	for _, img := range r.Images {
		if img.VisitID == visitID {
			n++
		}
	}
	return n
}

// FileName is the download name for the given extension.
func (r PatientRecord) FileName(ext string) string {
	name := strings.Join(strings.Fields(r.Patient.Name), "_")
	if name == "" {
		name = r.Patient.ID
	}
	return fmt.Sprintf("Paciente_%s_%s.%s", name, r.GeneratedAt.Format("2006-01-02"), ext)
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return notAvailable
	}
	return s
}

func eyeLabel(e models.Eye) string {
	if e == models.EyeRight {
		return "Derecho"
	}
	return "Izquierdo"
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}

func detectedLabel(b bool) string {
	if b {
		return "Detectado"
	}
	return "No detectado"
}

func percent(c *float64) string {
	if c == nil {
		return notAvailable
	}
	return fmt.Sprintf("%.2f%%", *c*100)
}

func stageLabel(s models.DiseaseStage) string {
	return orNA(string(s))
}

func formatDate(t time.Time, layout string) string {
	if t.IsZero() {
		return notAvailable
	}
	return t.Format(layout)
}

func modelLabel(img models.Image) string {
	if img.ModelName == "" {
		return "Segformer"
	}
	if img.ModelVersion == "" {
		return img.ModelName
	}
	return img.ModelName + " v" + img.ModelVersion
}
