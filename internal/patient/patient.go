// Package patient implements the Patient entity of spec.md §4.8 (C8): all
// fields are private, mutated only through exported methods: the four
// main mutators (RecordVisit, ScheduleNext, ApplyDiscontinuation,
// ClearDiscontinuation) plus four narrower helpers used by the Visit
// Executor (ClearNextVisit, AdvanceMonitoringCursor, SetLastVisitType,
// SetLastVisitInterval), matching the teacher's pattern of owning mutation inside the entity
// rather than letting collaborators poke at exported fields directly.
package patient

import (
	"time"

	"github.com/namd-sim/engine/internal/domain"
)

// Patient is created NAIVE by the Recruitment Controller at enrollment and
// mutated only by the Visit Executor and Discontinuation Manager during
// its own visit (spec.md §3 "Ownership").
type Patient struct {
	id             string
	baselineVision int
	currentVision  int
	diseaseState   domain.DiseaseState
	enrollment     time.Time
	response       domain.ResponseType

	visits []domain.Visit
	disc   *domain.DiscontinuationRecord

	// Scheduler state (spec.md §3 Patient fields).
	nextVisitDate      time.Time
	hasNextVisit       bool
	intervalDays       int
	consecutiveStableAtMax int
	loadingVisitIndex  int

	lastInjectionDay int
	hasInjection     bool
}

// New creates a NAIVE patient at enrollment, per spec.md §4.7.
func New(id string, enrollment time.Time, baselineVision int, response domain.ResponseType) *Patient {
	return &Patient{
		id:             id,
		baselineVision: baselineVision,
		currentVision:  baselineVision,
		diseaseState:   domain.Naive,
		enrollment:     enrollment,
		response:       response,
	}
}

// --- read-only accessors ---

func (p *Patient) ID() string                        { return p.id }
func (p *Patient) BaselineVision() int                { return p.baselineVision }
func (p *Patient) CurrentVision() int                 { return p.currentVision }
func (p *Patient) DiseaseState() domain.DiseaseState  { return p.diseaseState }
func (p *Patient) Enrollment() time.Time              { return p.enrollment }
func (p *Patient) Response() domain.ResponseType      { return p.response }
func (p *Patient) Visits() []domain.Visit             { return p.visits }
func (p *Patient) VisitCount() int                    { return len(p.visits) }
func (p *Patient) Discontinuation() *domain.DiscontinuationRecord { return p.disc }
func (p *Patient) IsDiscontinued() bool               { return p.disc != nil }
func (p *Patient) IsDead() bool                       { return p.disc != nil && p.disc.Terminal() }

func (p *Patient) NextVisitDate() (time.Time, bool) { return p.nextVisitDate, p.hasNextVisit }
func (p *Patient) IntervalDays() int                 { return p.intervalDays }
func (p *Patient) ConsecutiveStableAtMax() int       { return p.consecutiveStableAtMax }
// LoadingVisitIndex returns the count of treatment visits recorded so far
// (every visit except the initial_assessment), which the Protocol Engine
// uses to derive the current phase: the first LoadingDoses of these are
// loading injections, the next is the post-loading decision visit, and
// everything after that is maintenance (spec.md §4.5).
func (p *Patient) LoadingVisitIndex() int            { return p.loadingVisitIndex }

func (p *Patient) LastVisit() (domain.Visit, bool) {
	if len(p.visits) == 0 {
		return domain.Visit{}, false
	}
	return p.visits[len(p.visits)-1], true
}

// LastTickDay returns the day offset of the last applied disease/vision
// tick boundary, defaulting to the enrollment day for a brand-new patient.
func (p *Patient) LastTickDay(enrollmentDay int) int {
	last, ok := p.LastVisit()
	if !ok {
		return enrollmentDay
	}
	return last.TimeDays
}

// RecentlyInjected reports whether the patient received an injection
// within windowDays of day d (spec.md §4.3 treatment-effect window).
func (p *Patient) RecentlyInjected(day, windowDays int) bool {
	if !p.hasInjection {
		return false
	}
	return day-p.lastInjectionDay <= windowDays
}

// --- mutation methods (the four main mutators of spec.md §4.8; further
// helpers follow below) ---

// RecordVisit appends a visit, updates current vision/disease state, and
// tracks the injection window. Visits must be appended in strictly
// increasing date order (spec.md §3 invariant); callers are expected to
// have already validated that via the Visit Executor.
func (p *Patient) RecordVisit(v domain.Visit) {
	p.visits = append(p.visits, v)
	p.currentVision = v.VisionAfter
	p.diseaseState = v.DiseaseStateAfter
	if v.InjectionGiven {
		p.lastInjectionDay = v.TimeDays
		p.hasInjection = true
	}
	if v.VisitType != domain.VisitInitialAssessment {
		p.loadingVisitIndex++
	}
}

// ScheduleNext records the protocol's decision for the next due date and
// interval, and updates the consecutive-stable-at-max-interval counter the
// Treat-and-Extend extension rule depends on (spec.md §4.5).
func (p *Patient) ScheduleNext(next time.Time, intervalDays int, stableAtMax bool) {
	p.nextVisitDate = next
	p.hasNextVisit = true
	p.intervalDays = intervalDays
	if stableAtMax {
		p.consecutiveStableAtMax++
	} else {
		p.consecutiveStableAtMax = 0
	}
}

// ClearNextVisit marks the patient as having no further scheduled visit
// (terminal state: mortality or exhausted monitoring without retreatment).
func (p *Patient) ClearNextVisit() {
	p.hasNextVisit = false
}

// ApplyDiscontinuation creates a new DiscontinuationRecord. Per spec.md §3,
// a patient can hold at most one active record at a time; calling this
// while one is already active is a caller bug and panics, since it would
// silently drop the prior episode's monitoring schedule.
func (p *Patient) ApplyDiscontinuation(rec domain.DiscontinuationRecord) {
	if p.disc != nil {
		panic("patient: ApplyDiscontinuation called while a record is already active")
	}
	p.disc = &rec
}

// ClearDiscontinuation clears the active record on retreatment and resets
// the interval to minIntervalDays, resuming protocol scheduling from a
// clean slate (spec.md §4.6).
func (p *Patient) ClearDiscontinuation(minIntervalDays int) {
	p.disc = nil
	p.intervalDays = minIntervalDays
	p.consecutiveStableAtMax = 0
}

// AdvanceMonitoringCursor consumes one monitoring-schedule entry after it
// has been evaluated (whether or not it triggered retreatment).
func (p *Patient) AdvanceMonitoringCursor() {
	if p.disc != nil {
		p.disc.NextMonitorIndex++
	}
}

// SetLastVisitType overwrites the visit_type of the most recently recorded
// visit in place, for the rare case where a later step in the same visit
// reclassifies it (e.g. a firing discontinuation rewriting the visit as
// "discontinuation" after RecordVisit already committed it).
func (p *Patient) SetLastVisitType(vt domain.VisitType) {
	if len(p.visits) == 0 {
		return
	}
	p.visits[len(p.visits)-1].VisitType = vt
}

// SetLastVisitInterval overwrites the interval_days_to_next of the most
// recently recorded visit in place, for the case where the next due date is
// only known after discontinuation evaluation has already run against the
// recorded visit (spec.md §4.9 step ordering).
func (p *Patient) SetLastVisitInterval(days *int) {
	if len(p.visits) == 0 {
		return
	}
	p.visits[len(p.visits)-1].IntervalDaysToNext = days
}
