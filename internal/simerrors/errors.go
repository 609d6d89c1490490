// Package simerrors defines the error categories of spec.md §7 and a
// structured context wrapper, grounded on the teacher's pkg/models error
// pattern (a block of sentinel category errors plus a context-carrying
// wrapper type supporting errors.Unwrap).
package simerrors

import (
	"errors"
	"fmt"
	"time"
)

// Category-level sentinels. Use errors.Is against these, never string
// comparison, to classify a failure.
var (
	ErrMisconfiguredProtocol = errors.New("misconfigured protocol")
	ErrUnmappedVisitType     = errors.New("unmapped visit type")
	ErrInvariantViolation    = errors.New("invariant violation")
	ErrIOFailure             = errors.New("io failure")
	ErrCancelled             = errors.New("run cancelled")
)

// SimError wraps a category sentinel with the structured context spec.md
// §7 requires on every surfaced error: patient id, date, and visit type
// where applicable.
type SimError struct {
	Category  error
	PatientID string
	Date      time.Time
	VisitType string
	Err       error
}

func (e *SimError) Error() string {
	if e.Err == nil {
		return e.Category.Error()
	}
	switch {
	case e.PatientID != "" && e.VisitType != "":
		return fmt.Sprintf("%s: patient=%s visit_type=%s date=%s: %v",
			e.Category, e.PatientID, e.VisitType, e.Date.Format("2006-01-02"), e.Err)
	case e.PatientID != "":
		return fmt.Sprintf("%s: patient=%s date=%s: %v",
			e.Category, e.PatientID, e.Date.Format("2006-01-02"), e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Category, e.Err)
	}
}

func (e *SimError) Unwrap() error { return e.Category }

// Is allows errors.Is(err, ErrMisconfiguredProtocol) to match regardless of
// the wrapped underlying cause.
func (e *SimError) Is(target error) bool {
	return errors.Is(e.Category, target)
}

// Misconfigured wraps err as a fatal load-time MisconfiguredProtocol error.
func Misconfigured(err error) error {
	return &SimError{Category: ErrMisconfiguredProtocol, Err: err}
}

// UnmappedVisit reports a visit type with no resource/cost mapping.
func UnmappedVisit(patientID string, date time.Time, visitType string) error {
	return &SimError{
		Category:  ErrUnmappedVisitType,
		PatientID: patientID,
		Date:      date,
		VisitType: visitType,
		Err:       fmt.Errorf("visit type %q has no resource or cost entry", visitType),
	}
}

// Invariant reports a broken runtime invariant for a specific patient visit.
func Invariant(patientID string, date time.Time, visitType string, err error) error {
	return &SimError{Category: ErrInvariantViolation, PatientID: patientID, Date: date, VisitType: visitType, Err: err}
}

// IO wraps a result-writer finalize failure.
func IO(err error) error {
	return &SimError{Category: ErrIOFailure, Err: err}
}

// Cancelled reports a user-requested cancellation observed at day d.
func Cancelled(lastProcessedDay int) error {
	return &SimError{Category: ErrCancelled, Err: fmt.Errorf("cancelled after day %d", lastProcessedDay)}
}
