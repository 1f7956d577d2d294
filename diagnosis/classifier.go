// Package diagnosis holds the pure computations derived from stored records:
// the AI severity label, annotation trends and dashboard statistics.
package diagnosis

import (
	"RetinaTrack/models"
	"math"
)

// Result is the label suggested for a segmentation outcome. It is a
// convenience default, not a clinical finding.
type Result struct {
	Label      models.DiseaseStage `json:"label"`
	Confidence float64             `json:"confidence"`
}

// Classify maps detection results to a disease stage. Confidence is clamped
// to [0,1]; NaN counts as 0.
func Classify(d models.DetectionResults) Result {
	c := Clamp(d.Confidence)

	if d.DiscDetected && d.CupDetected {
		switch {
		case c >= 0.95:
			return Result{Label: models.StageNormal, Confidence: c}
		case c >= 0.85:
			return Result{Label: models.StageLeve, Confidence: c}
		case c >= 0.70:
			return Result{Label: models.StageModerada, Confidence: c}
		case c >= 0.50:
			return Result{Label: models.StageAvanzada, Confidence: c}
		default:
			return Result{Label: models.StageSevera, Confidence: c}
		}
	}

	if c >= 0.60 {
		return Result{Label: models.StageAvanzada, Confidence: c}
	}
	return Result{Label: models.StageSevera, Confidence: c}
}

// Clamp bounds a confidence score to [0,1].
func Clamp(c float64) float64 {
	if math.IsNaN(c) || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ValidConfidence reports whether c is a usable score as received.
func ValidConfidence(c float64) bool {
	return !math.IsNaN(c) && c >= 0 && c <= 1
}
