// Package protocol implements the Protocol Engine of spec.md §4.5 (C5): a
// tagged variant over Treat-and-Extend and Fixed-Interval/Treat-and-Treat,
// sharing one capability contract, per the design note in spec.md §9
// ("Polymorphism over two protocol variants ... avoid deep inheritance").
package protocol

import (
	"time"

	"github.com/namd-sim/engine/internal/calendar"
	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/patient"
)

// Type is the protocol variant tag.
type Type string

const (
	TreatAndExtend Type = "treat_and_extend"
	FixedInterval  Type = "fixed_interval"
)

// Spec carries every scheduling parameter of spec.md §6's protocol
// specification document that pertains to visit timing (disease and
// vision model parameters live in the disease/vision packages).
type Spec struct {
	Name    string
	Version string
	Type    Type

	MinIntervalDays int
	MaxIntervalDays int
	ExtensionDays   int
	ShorteningDays  int

	LoadingDoses        int
	LoadingIntervalDays int

	MaintenanceIntervalDays int // fixed_interval only

	// AnnualReviewWindowDays is the configurable tolerance around each
	// enrollment anniversary within which a fixed_interval annual review
	// visit is scheduled; spec.md §9 leaves this an open question the
	// caller must set rather than guessing a default.
	AnnualReviewWindowDays int
}

// Decision is what the Protocol Engine returns for one visit: the visit
// type happening now, and the schedule for the next visit. NextDate is
// always set; the Visit Executor leaves it unscheduled when a
// discontinuation fires at this visit.
type Decision struct {
	VisitType        domain.VisitType
	Phase            domain.Phase
	NextDate         time.Time
	NextIntervalDays int
	StableAtMax      bool
}

// Engine is the shared capability contract of spec.md §9:
// "{decide_next_visit, classify_visit_type}".
type Engine interface {
	Type() Type
	// Decide classifies the visit happening on visitDate (given the
	// patient's phase counters) and computes the next due date from the
	// disease state observed at that visit.
	Decide(p *patient.Patient, visitDate time.Time, state domain.DiseaseState) Decision
}

// New constructs the Engine for spec.Type.
func New(spec Spec) Engine {
	switch spec.Type {
	case FixedInterval:
		return &fixedInterval{spec: spec}
	default:
		return &treatAndExtend{spec: spec}
	}
}

// phaseOf classifies the upcoming visit from the patient's treatment-visit
// sequence index (spec.md §4.5 "Loading phase (both variants): three
// injection-only visits ... followed by one decision_only_post_loading
// visit").
func phaseOf(spec Spec, p *patient.Patient) (domain.VisitType, domain.Phase, bool) {
	idx := p.LoadingVisitIndex()
	switch {
	case idx < spec.LoadingDoses:
		return domain.VisitLoadingInjection, domain.PhaseLoading, true
	case idx == spec.LoadingDoses:
		return domain.VisitDecisionOnlyPostLoading, domain.PhaseLoading, true
	default:
		return "", domain.PhaseMaintenance, false
	}
}

// --- Treat-and-Extend ---

type treatAndExtend struct{ spec Spec }

func (t *treatAndExtend) Type() Type { return TreatAndExtend }

func (t *treatAndExtend) Decide(p *patient.Patient, visitDate time.Time, state domain.DiseaseState) Decision {
	if vt, ph, inLoading := phaseOf(t.spec, p); inLoading {
		return t.decideLoading(p, visitDate, vt, ph)
	}
	return t.decideMaintenance(p, visitDate, state)
}

func (t *treatAndExtend) decideLoading(p *patient.Patient, visitDate time.Time, vt domain.VisitType, ph domain.Phase) Decision {
	interval := t.spec.LoadingIntervalDays
	if vt == domain.VisitDecisionOnlyPostLoading {
		// First maintenance visit starts at min interval.
		interval = t.spec.MinIntervalDays
	}
	next := calendar.AddWorkingDays(visitDate, interval)
	return Decision{VisitType: vt, Phase: ph, NextDate: next, NextIntervalDays: interval}
}

func (t *treatAndExtend) decideMaintenance(p *patient.Patient, visitDate time.Time, state domain.DiseaseState) Decision {
	interval := p.IntervalDays()
	if interval <= 0 {
		interval = t.spec.MinIntervalDays
	}
	stableAtMax := false
	switch state {
	case domain.Stable:
		if interval >= t.spec.MaxIntervalDays {
			interval = t.spec.MaxIntervalDays
			stableAtMax = true
		} else {
			interval += t.spec.ExtensionDays
			if interval > t.spec.MaxIntervalDays {
				interval = t.spec.MaxIntervalDays
			}
		}
	case domain.Active:
		interval -= t.spec.ShorteningDays
		if interval < t.spec.MinIntervalDays {
			interval = t.spec.MinIntervalDays
		}
	case domain.HighlyActive:
		interval = t.spec.MinIntervalDays
	default: // Naive should not recur post-loading, but keep interval stable.
	}
	next := calendar.AddWorkingDays(visitDate, interval)
	return Decision{
		VisitType:        domain.VisitDecisionWithInjection,
		Phase:            domain.PhaseMaintenance,
		NextDate:         next,
		NextIntervalDays: interval,
		StableAtMax:      stableAtMax,
	}
}

// --- Fixed-Interval / Treat-and-Treat ---

type fixedInterval struct{ spec Spec }

func (f *fixedInterval) Type() Type { return FixedInterval }

func (f *fixedInterval) Decide(p *patient.Patient, visitDate time.Time, state domain.DiseaseState) Decision {
	if vt, ph, inLoading := phaseOf(f.spec, p); inLoading {
		interval := f.spec.LoadingIntervalDays
		if vt == domain.VisitDecisionOnlyPostLoading {
			interval = f.spec.MaintenanceIntervalDays
		}
		next := calendar.AddWorkingDays(visitDate, interval)
		return Decision{VisitType: vt, Phase: ph, NextDate: next, NextIntervalDays: interval}
	}
	return f.decideMaintenance(p, visitDate)
}

// decideMaintenance alternates fixed-interval injection_only visits with an
// annual review decision_only visit at each enrollment anniversary, within
// AnnualReviewWindowDays of it (spec.md §4.5).
func (f *fixedInterval) decideMaintenance(p *patient.Patient, visitDate time.Time) Decision {
	next := calendar.AddWorkingDays(visitDate, f.spec.MaintenanceIntervalDays)
	vt := domain.VisitInjectionOnly
	if f.isAnnualReviewDue(p, visitDate) {
		vt = domain.VisitDecisionOnlyPostLoading
	}
	return Decision{
		VisitType:        vt,
		Phase:            domain.PhaseMaintenance,
		NextDate:         next,
		NextIntervalDays: f.spec.MaintenanceIntervalDays,
	}
}

func (f *fixedInterval) isAnnualReviewDue(p *patient.Patient, candidate time.Time) bool {
	enrollYear, enrollMonth, enrollDay := p.Enrollment().Date()
	for year := enrollYear + 1; year <= candidate.Year()+1; year++ {
		anniversary := time.Date(year, enrollMonth, enrollDay, 0, 0, 0, 0, time.UTC)
		diff := candidate.Sub(anniversary).Hours() / 24
		if diff < 0 {
			diff = -diff
		}
		if int(diff) <= f.spec.AnnualReviewWindowDays {
			return true
		}
	}
	return false
}
