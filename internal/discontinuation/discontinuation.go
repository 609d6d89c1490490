// Package discontinuation implements the Discontinuation Manager of
// spec.md §4.6 (C6): a fixed ordered list of category evaluators sharing a
// common signature, the first match wins, per the design note in spec.md
// §9 ("Dynamic dispatch for discontinuation categories ... no runtime
// plugin loading").
package discontinuation

import (
	"math"
	"time"

	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/patient"
	"github.com/namd-sim/engine/internal/randstream"
)

// CategoryParams is the per-category configuration shared by the
// probability-driven categories (spec.md §6 discontinuation_profile).
type CategoryParams struct {
	AnnualHazard   float64
	MonitoringWeeks []int
}

// PoorResponseParams configures the vision-based discontinuation check.
type PoorResponseParams struct {
	AbsoluteThreshold int
	SustainedVisits   int
	MonitoringWeeks   []int
}

// StableMaxParams configures the deterministic stable-at-max-interval check.
type StableMaxParams struct {
	ConsecutiveThreshold int
	MonitoringWeeks      []int
}

// Profile is the full discontinuation configuration of spec.md §6.
type Profile struct {
	Mortality               CategoryParams
	PoorResponse            PoorResponseParams
	SystemDiscontinuation   CategoryParams
	ReauthorizationFailure  CategoryParams
	Premature               CategoryParams
	StableMaxInterval       StableMaxParams

	// RetreatmentVisionLossThreshold resolves the open question of
	// spec.md §9 ("5 or 10 letters"); callers must set it explicitly.
	RetreatmentVisionLossThreshold int
}

// Input is everything one evaluation pass needs about the current visit.
type Input struct {
	VisitDate         time.Time
	DiedThisPeriod    bool // set by the caller for an already-known death; evalMortality also draws the annual mortality hazard over IntervalSincePrev
	AnnualReviewDue    bool
	IntervalSincePrev int // days since the previous decision visit
}

// Manager evaluates the priority-ordered categories of spec.md §4.6.
type Manager struct {
	profile Profile
}

func New(profile Profile) *Manager { return &Manager{profile: profile} }

type evaluator func(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool)

// Evaluate runs the six evaluators in strict priority order and returns the
// first that fires, or (zero, false) if none do.
func (m *Manager) Evaluate(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool) {
	evaluators := []evaluator{
		m.evalMortality,
		m.evalPoorResponse,
		m.evalSystemDiscontinuation,
		m.evalReauthorizationFailure,
		m.evalPremature,
		m.evalStableMaxInterval,
	}
	for _, eval := range evaluators {
		if rec, ok := eval(p, in, rng); ok {
			rec.VisionAtDiscontinuation = p.CurrentVision()
			rec.Date = in.VisitDate
			if sched := m.monitoringScheduleFor(rec.Category); len(sched) > 0 {
				rec.MonitoringDates = scheduleFromWeeks(in.VisitDate, sched)
			}
			return rec, true
		}
	}
	return domain.DiscontinuationRecord{}, false
}

func (m *Manager) monitoringScheduleFor(cat domain.DiscontinuationCategory) []int {
	switch cat {
	case domain.CategoryPoorResponse:
		return m.profile.PoorResponse.MonitoringWeeks
	case domain.CategorySystemDiscontinuation:
		return m.profile.SystemDiscontinuation.MonitoringWeeks
	case domain.CategoryReauthorizationFailure:
		return m.profile.ReauthorizationFailure.MonitoringWeeks
	case domain.CategoryPremature:
		return m.profile.Premature.MonitoringWeeks
	case domain.CategoryStableMaxInterval:
		return m.profile.StableMaxInterval.MonitoringWeeks
	default:
		return nil
	}
}

func scheduleFromWeeks(from time.Time, weeks []int) []time.Time {
	dates := make([]time.Time, len(weeks))
	for i, w := range weeks {
		dates[i] = from.AddDate(0, 0, w*7)
	}
	return dates
}

// annualToPeriod converts an annual hazard/rate into the probability of
// the event occurring within a period of periodDays, assuming a constant
// hazard (spec.md §4.6 "per-year ... applied as per-tick/per-visit
// Bernoulli").
func annualToPeriod(annualRate float64, periodDays int) float64 {
	if annualRate <= 0 || periodDays <= 0 {
		return 0
	}
	if annualRate >= 1 {
		return 1
	}
	years := float64(periodDays) / 365.25
	return 1 - math.Pow(1-annualRate, years)
}

func (m *Manager) evalMortality(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool) {
	if in.DiedThisPeriod {
		return domain.DiscontinuationRecord{Category: domain.CategoryMortality}, true
	}
	if rng.Bernoulli(annualToPeriod(m.profile.Mortality.AnnualHazard, periodOrDefault(in.IntervalSincePrev))) {
		return domain.DiscontinuationRecord{Category: domain.CategoryMortality}, true
	}
	return domain.DiscontinuationRecord{}, false
}

func (m *Manager) evalPoorResponse(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool) {
	params := m.profile.PoorResponse
	if params.AbsoluteThreshold <= 0 {
		return domain.DiscontinuationRecord{}, false
	}
	n := params.SustainedVisits
	if n <= 0 {
		n = 1
	}
	visits := p.Visits()
	if len(visits) < n {
		return domain.DiscontinuationRecord{}, false
	}
	for i := len(visits) - n; i < len(visits); i++ {
		if visits[i].VisionAfter >= params.AbsoluteThreshold {
			return domain.DiscontinuationRecord{}, false
		}
	}
	return domain.DiscontinuationRecord{Category: domain.CategoryPoorResponse}, true
}

func (m *Manager) evalSystemDiscontinuation(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool) {
	prob := annualToPeriod(m.profile.SystemDiscontinuation.AnnualHazard, periodOrDefault(in.IntervalSincePrev))
	if rng.Bernoulli(prob) {
		return domain.DiscontinuationRecord{Category: domain.CategorySystemDiscontinuation}, true
	}
	return domain.DiscontinuationRecord{}, false
}

func (m *Manager) evalReauthorizationFailure(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool) {
	if !in.AnnualReviewDue {
		return domain.DiscontinuationRecord{}, false
	}
	if rng.Bernoulli(m.profile.ReauthorizationFailure.AnnualHazard) {
		return domain.DiscontinuationRecord{Category: domain.CategoryReauthorizationFailure}, true
	}
	return domain.DiscontinuationRecord{}, false
}

func (m *Manager) evalPremature(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool) {
	if rng.Bernoulli(m.profile.Premature.AnnualHazard) {
		return domain.DiscontinuationRecord{Category: domain.CategoryPremature}, true
	}
	return domain.DiscontinuationRecord{}, false
}

func (m *Manager) evalStableMaxInterval(p *patient.Patient, in Input, rng *randstream.Source) (domain.DiscontinuationRecord, bool) {
	threshold := m.profile.StableMaxInterval.ConsecutiveThreshold
	if threshold <= 0 {
		return domain.DiscontinuationRecord{}, false
	}
	if p.ConsecutiveStableAtMax() >= threshold {
		return domain.DiscontinuationRecord{Category: domain.CategoryStableMaxInterval}, true
	}
	return domain.DiscontinuationRecord{}, false
}

func periodOrDefault(days int) int {
	if days <= 0 {
		return 28
	}
	return days
}

// EvaluateRetreatment tests the retreatment criteria of spec.md §4.6 at a
// monitoring visit: fluid/disease reactivation (ACTIVE or HIGHLY_ACTIVE) or
// a vision drop of at least RetreatmentVisionLossThreshold letters since
// discontinuation.
func (m *Manager) EvaluateRetreatment(p *patient.Patient) bool {
	rec := p.Discontinuation()
	if rec == nil {
		return false
	}
	if p.DiseaseState() == domain.Active || p.DiseaseState() == domain.HighlyActive {
		return true
	}
	loss := rec.VisionAtDiscontinuation - p.CurrentVision()
	return loss >= m.profile.RetreatmentVisionLossThreshold
}

// NextMonitoringDate returns the next unconsumed monitoring date for a
// patient under an active discontinuation record, if any remain.
func NextMonitoringDate(p *patient.Patient) (time.Time, bool) {
	rec := p.Discontinuation()
	if rec == nil || rec.ExhaustedMonitoring() {
		return time.Time{}, false
	}
	return rec.MonitoringDates[rec.NextMonitorIndex], true
}
