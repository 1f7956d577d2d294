package diagnosis

import (
	"RetinaTrack/models"
	"time"
)

// NewCaseWindow is how far back a registration counts as a new case.
const NewCaseWindow = 30 * 24 * time.Hour

// Dashboard summarises the patients visible to a caller.
type Dashboard struct {
	TotalPatients    int                         `json:"totalPatients"`
	NewCases         int                         `json:"newCases"`
	TotalVisits      int                         `json:"totalVisits"`
	OriginalImages   int                         `json:"originalImages"`
	AIAnalyses       int                         `json:"aiAnalyses"`
	PendingAnalysis  int                         `json:"pendingAnalysis"`
	DiagnosisCounts  map[models.DiseaseStage]int `json:"diagnosisCounts"`
	SeverityCounts   map[models.Severity]int     `json:"severityCounts"`
	PendingFollowUps int                         `json:"pendingFollowUps"`
	GeneratedAt      time.Time                   `json:"generatedAt"`
}

// Summarize computes dashboard figures from already scoped records.
func Summarize(patients []models.Patient, visits []models.Visit, images []models.Image, annotations []models.Annotation, now time.Time) Dashboard {
	d := Dashboard{
		TotalPatients:   len(patients),
		TotalVisits:     len(visits),
		DiagnosisCounts: make(map[models.DiseaseStage]int),
		SeverityCounts:  make(map[models.Severity]int),
		GeneratedAt:     now,
	}

	cutoff := now.Add(-NewCaseWindow)
	for _, p := range patients {
		if p.RegistrationDate.After(cutoff) {
			d.NewCases++
		}
	}

	for _, img := range images {
		switch img.Kind {
		case models.KindOriginal:
			d.OriginalImages++
			if !img.AnalyzedByAI {
				d.PendingAnalysis++
			}
		case models.KindAnalysis:
			d.AIAnalyses++
			if img.AIDiagnosis != "" {
				d.DiagnosisCounts[img.AIDiagnosis]++
			}
		}
	}

	for _, a := range annotations {
		d.SeverityCounts[a.Severity]++
		if a.FollowUpRequired {
			d.PendingFollowUps++
		}
	}
	return d
}
