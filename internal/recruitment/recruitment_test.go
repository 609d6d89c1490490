package recruitment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namd-sim/engine/internal/calendar"
	"github.com/namd-sim/engine/internal/randstream"
)

func TestGenerateEnrollmentsFixedTotal(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	spec := Spec{
		Mode:                 FixedTotal,
		NPatients:            50,
		EnrollmentWindowDays: 90,
		Shape:                Uniform,
		StartDate:            start,
	}
	cal := calendar.New(start)
	ctl := New(spec, cal, randstream.New(1))

	enrollments := ctl.GenerateEnrollments()
	require.Len(t, enrollments, 50)
	for _, e := range enrollments {
		assert.True(t, calendar.IsWorkingDay(e.Date))
		assert.False(t, e.Date.Before(start))
	}
}

func TestGenerateEnrollmentsDeterministicForSameSeed(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	spec := Spec{Mode: FixedTotal, NPatients: 20, EnrollmentWindowDays: 60, Shape: FrontLoaded, StartDate: start}
	cal := calendar.New(start)

	a := New(spec, cal, randstream.New(77)).GenerateEnrollments()
	b := New(spec, cal, randstream.New(77)).GenerateEnrollments()
	assert.Equal(t, a, b)
}

func TestGenerateEnrollmentsConstantRate(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	spec := Spec{
		Mode:                 ConstantRate,
		Rate:                 10,
		RateUnit:             PerWeek,
		EnrollmentWindowDays: 365,
		StartDate:            start,
	}
	cal := calendar.New(start)
	ctl := New(spec, cal, randstream.New(3))

	enrollments := ctl.GenerateEnrollments()
	// Expected count ~ rate/week * weeks = 10 * 52 = 520; allow generous slack
	// for the stochastic Poisson process.
	assert.InDelta(t, 520, len(enrollments), 150)
}

func TestNewPatientDrawsWithinRange(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	spec := Spec{
		BaselineVisionMean:    65,
		BaselineVisionStd:     5,
		ResponseProbabilities: [3]float64{0.3, 0.4, 0.3},
	}
	cal := calendar.New(start)
	ctl := New(spec, cal, randstream.New(11))

	p := ctl.NewPatient(start)
	assert.Equal(t, start, p.Enrollment())
	assert.True(t, p.BaselineVision() >= 0 && p.BaselineVision() <= 100)
}

func TestNewPatientIDsAreDeterministicForSameSeed(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	spec := Spec{BaselineVisionMean: 65, ResponseProbabilities: [3]float64{0.3, 0.4, 0.3}}
	cal := calendar.New(start)

	a := New(spec, cal, randstream.New(42))
	b := New(spec, cal, randstream.New(42))

	for i := 0; i < 5; i++ {
		pa := a.NewPatient(start)
		pb := b.NewPatient(start)
		assert.Equal(t, pa.ID(), pb.ID(), "same seed and enrollment order must produce identical patient IDs")
	}
}

func TestNewPatientIDsDifferByEnrollmentIndex(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	spec := Spec{BaselineVisionMean: 65, ResponseProbabilities: [3]float64{0.3, 0.4, 0.3}}
	cal := calendar.New(start)
	ctl := New(spec, cal, randstream.New(5))

	first := ctl.NewPatient(start)
	second := ctl.NewPatient(start)
	assert.NotEqual(t, first.ID(), second.ID())
}
