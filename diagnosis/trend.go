package diagnosis

import (
	"RetinaTrack/models"
	"sort"
)

type Trend string

const (
	TrendImproving Trend = "mejorando"
	TrendStable    Trend = "estable"
	TrendWorsening Trend = "empeorando"
)

var severityRank = map[models.Severity]int{
	models.SeverityNormal:   1,
	models.SeverityLeve:     2,
	models.SeverityModerado: 3,
	models.SeveritySevero:   4,
	models.SeverityCritico:  5,
}

// SeverityRank orders severities from 1 (normal) to 5 (critico). Unknown
// values rank as leve.
func SeverityRank(s models.Severity) int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return 2
}

// CompareSeverity returns the trend going from previous to current.
func CompareSeverity(previous, current models.Severity) Trend {
	p, c := SeverityRank(previous), SeverityRank(current)
	switch {
	case c > p:
		return TrendWorsening
	case c < p:
		return TrendImproving
	default:
		return TrendStable
	}
}

// AnnotationTrend pairs an annotation with its trend against the previous one.
type AnnotationTrend struct {
	models.Annotation
	Trend *Trend `json:"trend,omitempty"`
}

// WithTrends sorts annotations oldest first and computes each trend against
// its predecessor. The first annotation has no trend.
func WithTrends(annotations []models.Annotation) []AnnotationTrend {
	sorted := make([]models.Annotation, len(annotations))
	copy(sorted, annotations)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	out := make([]AnnotationTrend, 0, len(sorted))
	for i, a := range sorted {
		at := AnnotationTrend{Annotation: a}
		if i > 0 {
			t := CompareSeverity(sorted[i-1].Severity, a.Severity)
			at.Trend = &t
		}
		out = append(out, at)
	}
	return out
}
