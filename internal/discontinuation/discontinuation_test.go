package discontinuation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/patient"
	"github.com/namd-sim/engine/internal/randstream"
)

func newPatient() *patient.Patient {
	return patient.New("p1", time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC), 70, domain.ResponseAverage)
}

func TestMortalityTakesPriorityOverEverythingElse(t *testing.T) {
	profile := Profile{
		Premature: CategoryParams{AnnualHazard: 1}, // would otherwise always fire too
	}
	m := New(profile)
	rng := randstream.New(1).For(randstream.DiscontinuationEval)

	rec, ok := m.Evaluate(newPatient(), Input{VisitDate: time.Now(), DiedThisPeriod: true}, rng)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryMortality, rec.Category)
}

func TestPoorResponseRequiresSustainedVisitsBelowThreshold(t *testing.T) {
	profile := Profile{
		PoorResponse: PoorResponseParams{AbsoluteThreshold: 35, SustainedVisits: 2},
	}
	m := New(profile)
	rng := randstream.New(2).For(randstream.DiscontinuationEval)
	p := newPatient()

	p.RecordVisit(domain.Visit{VisitType: domain.VisitInjectionOnly, DiseaseStateAfter: domain.Active, VisionAfter: 30})
	_, ok := m.Evaluate(p, Input{VisitDate: time.Now()}, rng)
	assert.False(t, ok, "fewer than SustainedVisits recorded so far")

	p.RecordVisit(domain.Visit{VisitType: domain.VisitInjectionOnly, DiseaseStateAfter: domain.Active, VisionAfter: 30})
	rec, ok := m.Evaluate(p, Input{VisitDate: time.Now()}, rng)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryPoorResponse, rec.Category)
}

func TestReauthorizationFailureOnlyEvaluatedOnAnnualReview(t *testing.T) {
	profile := Profile{ReauthorizationFailure: CategoryParams{AnnualHazard: 1}}
	m := New(profile)
	rng := randstream.New(3).For(randstream.DiscontinuationEval)
	p := newPatient()

	_, ok := m.Evaluate(p, Input{VisitDate: time.Now(), AnnualReviewDue: false}, rng)
	assert.False(t, ok)

	rec, ok := m.Evaluate(p, Input{VisitDate: time.Now(), AnnualReviewDue: true}, rng)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryReauthorizationFailure, rec.Category)
}

func TestStableMaxIntervalFiresAtThreshold(t *testing.T) {
	profile := Profile{StableMaxInterval: StableMaxParams{ConsecutiveThreshold: 3}}
	m := New(profile)
	rng := randstream.New(4).For(randstream.DiscontinuationEval)
	p := newPatient()
	p.ScheduleNext(time.Now(), 112, true)
	p.ScheduleNext(time.Now(), 112, true)

	_, ok := m.Evaluate(p, Input{VisitDate: time.Now()}, rng)
	assert.False(t, ok)

	p.ScheduleNext(time.Now(), 112, true)
	rec, ok := m.Evaluate(p, Input{VisitDate: time.Now()}, rng)
	require.True(t, ok)
	assert.Equal(t, domain.CategoryStableMaxInterval, rec.Category)
}

func TestMonitoringScheduleAttachedOnFire(t *testing.T) {
	profile := Profile{
		StableMaxInterval: StableMaxParams{ConsecutiveThreshold: 1, MonitoringWeeks: []int{4, 8, 12}},
	}
	m := New(profile)
	rng := randstream.New(5).For(randstream.DiscontinuationEval)
	p := newPatient()
	p.ScheduleNext(time.Now(), 112, true)

	visitDate := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	rec, ok := m.Evaluate(p, Input{VisitDate: visitDate}, rng)
	require.True(t, ok)
	require.Len(t, rec.MonitoringDates, 3)
	assert.Equal(t, visitDate.AddDate(0, 0, 28), rec.MonitoringDates[0])
}

func TestEvaluateRetreatmentOnDiseaseReactivation(t *testing.T) {
	m := New(Profile{RetreatmentVisionLossThreshold: 10})
	p := newPatient()
	p.RecordVisit(domain.Visit{VisitType: domain.VisitInjectionOnly, DiseaseStateAfter: domain.Active, VisionAfter: 65})
	p.ApplyDiscontinuation(domain.DiscontinuationRecord{Category: domain.CategoryStableMaxInterval, VisionAtDiscontinuation: 65})

	assert.True(t, m.EvaluateRetreatment(p))
}

func TestEvaluateRetreatmentOnVisionLoss(t *testing.T) {
	m := New(Profile{RetreatmentVisionLossThreshold: 5})
	p := newPatient()
	p.RecordVisit(domain.Visit{VisitType: domain.VisitInjectionOnly, DiseaseStateAfter: domain.Stable, VisionAfter: 60})
	p.ApplyDiscontinuation(domain.DiscontinuationRecord{Category: domain.CategoryStableMaxInterval, VisionAtDiscontinuation: 66})

	assert.True(t, m.EvaluateRetreatment(p))
}

func TestEvaluateRetreatmentFalseWithoutActiveRecord(t *testing.T) {
	m := New(Profile{})
	assert.False(t, m.EvaluateRetreatment(newPatient()))
}

func TestNextMonitoringDateExhaustion(t *testing.T) {
	p := newPatient()
	dates := []time.Time{time.Now(), time.Now().AddDate(0, 0, 28)}
	p.ApplyDiscontinuation(domain.DiscontinuationRecord{Category: domain.CategoryPoorResponse, MonitoringDates: dates})

	_, ok := NextMonitoringDate(p)
	require.True(t, ok)

	p.AdvanceMonitoringCursor()
	p.AdvanceMonitoringCursor()
	_, ok = NextMonitoringDate(p)
	assert.False(t, ok)
}
