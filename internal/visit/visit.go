// Package visit implements the Visit Executor of spec.md §4.9 (C9): the
// single place that advances one patient across one visit boundary,
// composing the disease, vision, protocol, discontinuation, and
// resource/cost components in the fixed order the ordering guarantee
// requires.
package visit

import (
	"time"

	"github.com/namd-sim/engine/internal/calendar"
	"github.com/namd-sim/engine/internal/discontinuation"
	"github.com/namd-sim/engine/internal/disease"
	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/patient"
	"github.com/namd-sim/engine/internal/protocol"
	"github.com/namd-sim/engine/internal/randstream"
	"github.com/namd-sim/engine/internal/resources"
	"github.com/namd-sim/engine/internal/simerrors"
	"github.com/namd-sim/engine/internal/vision"
)

// Executor composes one patient's visit, in the order the ordering
// guarantee of spec.md §4.9 fixes: disease-update < visit-execution <
// discontinuation-evaluation < next-schedule.
type Executor struct {
	Calendar        *calendar.Calendar
	Disease         *disease.Model
	Vision          *vision.Model
	Protocol        protocol.Engine
	Discontinuation *discontinuation.Manager
	Resources       *resources.Tracker

	TreatmentWindowDays int
	MinIntervalDays     int
}

// RunInitial executes the enrollment-day initial_assessment visit (spec.md
// §4.7 "scheduled for an initial_assessment on the enrollment date"): no
// ticks have elapsed, no injection is given, and the next due date is the
// first loading dose rather than a protocol decision.
func (e *Executor) RunInitial(p *patient.Patient, d time.Time, loadingIntervalDays int) (domain.Visit, error) {
	dayOffset := e.Calendar.DayOffset(d)
	v := domain.Visit{
		Date:              d,
		TimeDays:          dayOffset,
		VisitType:         domain.VisitInitialAssessment,
		InjectionGiven:    false,
		DiseaseStateAfter: p.DiseaseState(),
		VisionAfter:       p.CurrentVision(),
		Phase:             domain.PhaseLoading,
	}
	roles, costs, total, err := e.Resources.Attach(v.VisitType, false, dayOffset)
	if err != nil {
		return domain.Visit{}, simerrors.UnmappedVisit(p.ID(), d, string(v.VisitType))
	}
	v.ResourceComponents = roles
	v.CostComponents = costs
	v.CostTotal = total

	next := calendar.AddWorkingDays(d, loadingIntervalDays)
	nextDays := e.Calendar.DayOffset(next) - dayOffset
	v.IntervalDaysToNext = &nextDays

	p.RecordVisit(v)
	p.ScheduleNext(next, loadingIntervalDays, false)
	return v, nil
}

// Run executes the visit due on d for p, returning the recorded Visit; the
// follow-up, if any, is read from p.NextVisitDate afterward. Random draws for
// this patient must all come from the four substream views passed in
// (spec.md §4.2, §5 "per-patient random streams"): diseaseRNG for disease
// transitions, visionRNG and hemoRNG for the two independently-consumed
// parts of the vision model, and discRNG for discontinuation evaluation.
func (e *Executor) Run(p *patient.Patient, d time.Time, diseaseRNG, visionRNG, hemoRNG, discRNG *randstream.Source) (domain.Visit, error) {
	dayOffset := e.Calendar.DayOffset(d)

	// Step 1: advance disease/vision across every intervening fortnightly
	// tick before this visit's state is read (spec.md §4.9 step 1).
	lastDay := p.LastTickDay(e.Calendar.DayOffset(p.Enrollment()))
	ticks := calendar.FortnightTicks(lastDay, dayOffset)
	treated := p.RecentlyInjected(lastDay, e.TreatmentWindowDays)
	state := p.DiseaseState()
	var err error
	if ticks > 0 {
		state, err = e.Disease.AdvanceTicks(state, ticks, treated, diseaseRNG)
		if err != nil {
			return domain.Visit{}, wrapInvariant(p, d, err)
		}
	}

	// Step 2: classify the visit type from the protocol decision and phase.
	decision := e.Protocol.Decide(p, d, state)

	loading := decision.Phase == domain.PhaseLoading
	visionAfter := p.CurrentVision()
	if ticks > 0 {
		visionAfter = e.Vision.AdvanceTicks(visionAfter, state, treated, p.Response(), loading, ticks, visionRNG, hemoRNG)
	}

	// Step 3: injection bookkeeping.
	injectionGiven := isInjectionVisit(decision.VisitType)

	v := domain.Visit{
		Date:              d,
		TimeDays:          dayOffset,
		VisitType:         decision.VisitType,
		InjectionGiven:    injectionGiven,
		DiseaseStateAfter: state,
		VisionAfter:       visionAfter,
		Phase:             decision.Phase,
	}

	// Step 6 (attach resources/costs) runs before RecordVisit so the
	// committed Visit carries its final cost fields.
	roles, costs, total, err := e.Resources.Attach(v.VisitType, v.InjectionGiven, dayOffset)
	if err != nil {
		return domain.Visit{}, simerrors.UnmappedVisit(p.ID(), d, string(v.VisitType))
	}
	v.ResourceComponents = roles
	v.CostComponents = costs
	v.CostTotal = total

	p.RecordVisit(v)

	// Step 4: invoke the Discontinuation Manager at its decision points.
	if e.Discontinuation != nil {
		in := discontinuation.Input{
			VisitDate:         d,
			AnnualReviewDue:   decision.VisitType == domain.VisitDecisionOnlyPostLoading && decision.Phase == domain.PhaseMaintenance,
			IntervalSincePrev: dayOffset - lastDay,
		}
		if rec, fired := e.Discontinuation.Evaluate(p, in, discRNG); fired {
			p.ApplyDiscontinuation(rec)
			if rec.Terminal() || len(rec.MonitoringDates) == 0 {
				p.ClearNextVisit()
				v.VisitType = domain.VisitDiscontinuation
				p.SetLastVisitType(v.VisitType)
				return v, nil
			}
			p.ClearNextVisit()
			return v, nil
		}
	}

	// Step 5: request the next due date from the protocol, unless already
	// terminated above. The next date is only known once discontinuation has
	// been evaluated against the already-recorded visit, so the stored copy
	// is amended in place rather than set before RecordVisit.
	next := decision.NextDate
	p.ScheduleNext(next, decision.NextIntervalDays, decision.StableAtMax)
	nextDays := e.Calendar.DayOffset(next) - dayOffset
	v.IntervalDaysToNext = &nextDays
	p.SetLastVisitInterval(&nextDays)
	return v, nil
}

// RunMonitoring executes one monitoring visit for an already-discontinued
// patient: evaluates retreatment criteria and either resumes protocol
// scheduling or advances the monitoring cursor (spec.md §4.6).
func (e *Executor) RunMonitoring(p *patient.Patient, d time.Time) (retreated bool) {
	if !e.Discontinuation.EvaluateRetreatment(p) {
		p.AdvanceMonitoringCursor()
		if p.Discontinuation().ExhaustedMonitoring() {
			p.ClearNextVisit()
		}
		return false
	}
	p.ClearDiscontinuation(e.MinIntervalDays)
	p.ScheduleNext(d, e.MinIntervalDays, false)
	return true
}

func isInjectionVisit(vt domain.VisitType) bool {
	switch vt {
	case domain.VisitLoadingInjection, domain.VisitInjectionOnly, domain.VisitDecisionWithInjection:
		return true
	default:
		return false
	}
}

func wrapInvariant(p *patient.Patient, d time.Time, err error) error {
	return simerrors.Invariant(p.ID(), d, "", err)
}
