package services

import (
	"RetinaTrack/clients"
	"RetinaTrack/diagnosis"
	"RetinaTrack/models"
	"RetinaTrack/storage"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// AnalysisState is a step of one analysis request.
type AnalysisState string

const (
	StateIdle           AnalysisState = "idle"
	StateSubmitting     AnalysisState = "submitting"
	StateAwaitingResult AnalysisState = "awaiting_result"
	StateSaving         AnalysisState = "saving"
	StateSaved          AnalysisState = "saved"
	StateFailed         AnalysisState = "failed"
)

// AnalysisOutcome tells apart a recorded analysis from one that was only
// processed because its source has no patient visit.
type AnalysisOutcome string

const (
	OutcomeRecorded             AnalysisOutcome = "recorded"
	OutcomeProcessedNotRecorded AnalysisOutcome = "processed_not_recorded"
)

// AnalysisRun is the trace of one request. Runs are never reused; a
// re-analysis starts a new one.
type AnalysisRun struct {
	ID                string                  `json:"runId"`
	State             AnalysisState           `json:"state"`
	Outcome           AnalysisOutcome         `json:"outcome,omitempty"`
	Transitions       []AnalysisState         `json:"transitions"`
	Attempts          int                     `json:"attempts"`
	Detection         models.DetectionResults `json:"detectionResults"`
	DetectionReported bool                    `json:"detectionReported"`
	Diagnosis         diagnosis.Result        `json:"diagnosis"`
	Source            *models.Image           `json:"source,omitempty"`
	Analysis          *models.Image           `json:"analysis,omitempty"`
	Segmented         []byte                  `json:"-"`
	ContentType       string                  `json:"contentType,omitempty"`
	FailedStep        models.Step             `json:"failedStep,omitempty"`
	Notice            string                  `json:"notice,omitempty"`
	StartedAt         time.Time               `json:"startedAt"`
	FinishedAt        time.Time               `json:"finishedAt"`
}

func (r *AnalysisRun) enter(s AnalysisState) {
	r.State = s
	r.Transitions = append(r.Transitions, s)
}

// FileAnalysisInput is a locally uploaded file. Without a patient and visit
// the file is processed but not recorded.
type FileAnalysisInput struct {
	FileName     string
	Data         []byte
	PatientID    string
	VisitID      string
	Eye          models.Eye
	ClinicalNote string
}

// AnalysisOrchestrator runs source image -> segmentation service -> record.
type AnalysisOrchestrator struct {
	segmenter  clients.Segmenter
	provenance *ProvenanceService
	store      storage.BlobStore
	model      ModelInfo
	log        logrus.FieldLogger
	now        func() time.Time
}

func NewAnalysisOrchestrator(segmenter clients.Segmenter, provenance *ProvenanceService, store storage.BlobStore, model ModelInfo, log logrus.FieldLogger) *AnalysisOrchestrator {
	return &AnalysisOrchestrator{
		segmenter:  segmenter,
		provenance: provenance,
		store:      store,
		model:      model,
		log:        log.WithField("service", "analysis"),
		now:        time.Now,
	}
}

// AnalyzeFile segments an uploaded file. When the input names a patient
// visit, the file is first stored as an original so the analysis has a
// linked source; otherwise the run ends processed but not recorded.
func (o *AnalysisOrchestrator) AnalyzeFile(ctx context.Context, auth models.AuthContext, in FileAnalysisInput) (*AnalysisRun, error) {
	run := o.start()

	linked := in.PatientID != "" && in.VisitID != ""
	var source *models.Image
	if linked {
		original, err := o.provenance.CreateOriginalImage(ctx, auth, OriginalImageInput{
			PatientID:    in.PatientID,
			VisitID:      in.VisitID,
			Eye:          in.Eye,
			ClinicalNote: in.ClinicalNote,
			FileName:     in.FileName,
			Data:         in.Data,
		})
		if err != nil {
			return o.fail(run, err, models.StepUpload)
		}
		source = original
		run.Source = original
	}

	run.enter(StateSubmitting)
	seg, err := o.submit(ctx, run, func(ctx context.Context) (*clients.Segmentation, error) {
		return o.segmenter.SegmentFile(ctx, in.FileName, in.Data)
	})
	if err != nil {
		return o.fail(run, err, models.StepSegmentation)
	}
	return o.save(ctx, auth, run, source, seg)
}

// AnalyzeStored segments an image already in the history. Images reachable
// over http are sent by URL; the rest are read from the blob store.
func (o *AnalysisOrchestrator) AnalyzeStored(ctx context.Context, auth models.AuthContext, imageID string) (*AnalysisRun, error) {
	run := o.start()

	source, err := o.provenance.GetImage(ctx, auth, imageID)
	if err != nil {
		return o.fail(run, err, models.StepValidation)
	}
	if !source.IsOriginal() {
		return o.fail(run, fmt.Errorf("%w: image %s is an analysis, analyze its original instead", models.ErrInvalidInput, imageID), models.StepValidation)
	}
	run.Source = source

	run.enter(StateSubmitting)
	seg, err := o.submit(ctx, run, func(ctx context.Context) (*clients.Segmentation, error) {
		if isRemote(source.URL) {
			return o.segmenter.SegmentURL(ctx, source.URL)
		}
		data, err := o.store.Get(ctx, source.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read source image: %v", models.ErrProcessing, err)
		}
		return o.segmenter.SegmentFile(ctx, source.FileName, data)
	})
	if err != nil {
		return o.fail(run, err, models.StepSegmentation)
	}
	return o.save(ctx, auth, run, source, seg)
}

func (o *AnalysisOrchestrator) start() *AnalysisRun {
	run := &AnalysisRun{ID: uuid.New().String(), StartedAt: o.now().UTC()}
	run.enter(StateIdle)
	return run
}

func (o *AnalysisOrchestrator) submit(ctx context.Context, run *AnalysisRun, call func(context.Context) (*clients.Segmentation, error)) (*clients.Segmentation, error) {
	run.enter(StateAwaitingResult)
	seg, err := call(ctx)
	if err != nil {
		return nil, err
	}
	if !diagnosis.ValidConfidence(seg.Detection.Confidence) {
		return nil, fmt.Errorf("%w: service reported confidence %v", models.ErrInvalidDetection, seg.Detection.Confidence)
	}
	run.Attempts = seg.Attempts
	run.Segmented = seg.Image
	run.ContentType = seg.ContentType
	run.Detection = seg.Detection
	run.DetectionReported = seg.DetectionReported
	run.Diagnosis = diagnosis.Classify(seg.Detection)
	return seg, nil
}

func (o *AnalysisOrchestrator) save(ctx context.Context, auth models.AuthContext, run *AnalysisRun, source *models.Image, seg *clients.Segmentation) (*AnalysisRun, error) {
	if source == nil || !source.HasLinkage() {
		run.enter(StateSaved)
		run.Outcome = OutcomeProcessedNotRecorded
		run.Notice = models.ErrMissingLinkage.Error()
		run.FinishedAt = o.now().UTC()
		o.log.WithField("run_id", run.ID).Info("image processed without a patient visit, nothing recorded")
		return run, nil
	}

	run.enter(StateSaving)
	analysis, err := o.provenance.RecordAnalysisResult(ctx, auth, AnalysisInput{
		Pixels:    seg.Image,
		Source:    source,
		Model:     o.model,
		Detection: seg.Detection,
	})
	if err != nil {
		return o.fail(run, err, models.StepPersistence)
	}

	run.Analysis = analysis
	run.Outcome = OutcomeRecorded
	run.enter(StateSaved)
	run.FinishedAt = o.now().UTC()
	return run, nil
}

// fail ends the run and tags err with the step it came from.
func (o *AnalysisOrchestrator) fail(run *AnalysisRun, err error, step models.Step) (*AnalysisRun, error) {
	err = models.Fail(step, err)
	run.FailedStep, _ = models.StepOf(err)
	run.enter(StateFailed)
	run.FinishedAt = o.now().UTC()
	o.log.WithError(err).WithFields(logrus.Fields{"run_id": run.ID, "step": run.FailedStep}).Warn("analysis failed")
	return run, err
}

func isRemote(u string) bool {
	return strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://")
}
