package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingLinkage: an analysis was about to be stored for a source image
	// without patient or visit linkage.
	ErrMissingLinkage = errors.New("missing linkage: the image is not attached to a patient visit, use an image from the patient history")
	// ErrProcessing: the segmentation service failed or answered non-2xx.
	ErrProcessing = errors.New("segmentation processing failed")
	// ErrInsufficientEvidence: fewer linked images than the annotation policy requires.
	ErrInsufficientEvidence = errors.New("insufficient evidence: not enough linked images")
	// ErrPartialWrite: an analysis record exists without its back-reference.
	ErrPartialWrite = errors.New("partial write inconsistency")

	ErrNotFound           = errors.New("not found")
	ErrForbidden          = errors.New("forbidden")
	ErrInvalidInput       = errors.New("invalid input")
	ErrArchived           = errors.New("patient is archived")
	ErrInvalidDetection   = errors.New("detection confidence must be within [0,1]")
	ErrDuplicate          = errors.New("already exists")
	ErrInactiveUser       = errors.New("user account is inactive")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// Step names the stage of a write pipeline that failed.
type Step string

const (
	StepValidation   Step = "validation"
	StepUpload       Step = "upload"
	StepSegmentation Step = "segmentation"
	StepPersistence  Step = "persistence"
)

// StepError tags an error with the step that produced it.
type StepError struct {
	Step Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Fail wraps err with step, leaving nil untouched.
func Fail(step Step, err error) error {
	if err == nil {
		return nil
	}
	var se *StepError
	if errors.As(err, &se) {
		return err
	}
	return &StepError{Step: step, Err: err}
}

// StepOf returns the failing step recorded on err, if any.
func StepOf(err error) (Step, bool) {
	var se *StepError
	if errors.As(err, &se) {
		return se.Step, true
	}
	return "", false
}
