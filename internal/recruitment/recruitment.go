// Package recruitment implements the Recruitment Controller of spec.md
// §4.7 (C7): fixed-total and constant-rate enrollment, each patient
// created NAIVE with a drawn response type and baseline vision.
package recruitment

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/namd-sim/engine/internal/calendar"
	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/patient"
	"github.com/namd-sim/engine/internal/randstream"
)

// Mode is the recruitment strategy.
type Mode string

const (
	FixedTotal   Mode = "fixed_total"
	ConstantRate Mode = "constant_rate"
)

// Shape is the enrollment-date distribution shape for fixed-total mode.
type Shape string

const (
	Uniform     Shape = "uniform"
	FrontLoaded Shape = "front_loaded"
	Gradual     Shape = "gradual"
)

// RateUnit is the time unit a constant-rate enrollment is expressed in.
type RateUnit string

const (
	PerWeek  RateUnit = "week"
	PerMonth RateUnit = "month"
)

// Spec is the recruitment specification document of spec.md §6.
type Spec struct {
	Mode Mode

	NPatients int // fixed_total

	Rate     float64 // constant_rate
	RateUnit RateUnit

	EnrollmentWindowDays int
	Shape                Shape

	StartDate     time.Time
	DurationYears float64

	BaselineVisionMean float64
	BaselineVisionStd  float64

	// ResponseProbabilities is {poor, average, good}, summing to 1 within
	// the same tolerance as disease transition rows (spec.md §6/§8).
	ResponseProbabilities [3]float64
}

// Enrollment is one generated patient arrival.
type Enrollment struct {
	Date time.Time
}

// Controller generates enrollment dates and constructs new Patient
// entities. Random draws come exclusively from the recruitment_timing and
// response_type_draw substreams so that paired protocol comparisons see an
// identical patient population (spec.md §4.2, §8).
type Controller struct {
	spec    Spec
	cal     *calendar.Calendar
	timing  *randstream.Source
	initRNG *randstream.Source

	seed      uint64
	nextPtIdx int
}

func New(spec Spec, cal *calendar.Calendar, streams *randstream.Streams) *Controller {
	return &Controller{
		spec:    spec,
		cal:     cal,
		timing:  streams.For(randstream.RecruitmentTiming),
		initRNG: streams.For(randstream.ResponseTypeDraw),
		seed:    streams.Seed(),
	}
}

// GenerateEnrollments returns the full list of enrollment dates for the
// run, per the configured mode (spec.md §4.7).
func (c *Controller) GenerateEnrollments() []Enrollment {
	switch c.spec.Mode {
	case ConstantRate:
		return c.generateConstantRate()
	default:
		return c.generateFixedTotal()
	}
}

func (c *Controller) generateFixedTotal() []Enrollment {
	out := make([]Enrollment, 0, c.spec.NPatients)
	window := float64(c.spec.EnrollmentWindowDays)
	for i := 0; i < c.spec.NPatients; i++ {
		u := c.timing.Float64()
		offset := c.shapedOffset(u, window)
		date := calendar.NextWorkingDay(c.cal.Start().AddDate(0, 0, int(offset)))
		out = append(out, Enrollment{Date: date})
	}
	return out
}

// shapedOffset maps a uniform draw through the configured shape's inverse
// CDF onto [0, window) (spec.md §4.7: "generate N enrollment dates by
// inverse-CDF sampling from the shape over the window").
func (c *Controller) shapedOffset(u, window float64) float64 {
	switch c.spec.Shape {
	case FrontLoaded:
		return window * u * u
	case Gradual:
		return window * (1 - math.Sqrt(1-u))
	default: // Uniform
		return window * u
	}
}

// generateConstantRate simulates a homogeneous Poisson arrival process at
// the configured rate, via exponential inter-arrival times, so the actual
// enrolled count varies around rate*window (spec.md §4.7, §8 scenario 4).
func (c *Controller) generateConstantRate() []Enrollment {
	ratePerDay := c.spec.Rate / unitDays(c.spec.RateUnit)
	window := float64(c.spec.EnrollmentWindowDays)
	var out []Enrollment
	t := 0.0
	for {
		u := c.timing.Float64()
		if u >= 1 {
			u = 0.999999
		}
		interArrival := -math.Log(1-u) / ratePerDay
		t += interArrival
		if t >= window {
			break
		}
		date := calendar.NextWorkingDay(c.cal.Start().AddDate(0, 0, int(t)))
		out = append(out, Enrollment{Date: date})
	}
	return out
}

func unitDays(u RateUnit) float64 {
	if u == PerMonth {
		return 30.44
	}
	return 7
}

// NewPatient draws a response type and baseline vision and constructs a
// NAIVE Patient enrolling on date (spec.md §4.7).
func (c *Controller) NewPatient(date time.Time) *patient.Patient {
	response := c.drawResponseType()
	baseline := c.drawBaselineVision()
	return patient.New(c.nextPatientID(), date, baseline, response)
}

// nextPatientID derives a UUIDv5 from the run seed and an incrementing
// enrollment index, rather than a random uuid.NewString(). Patient IDs key
// the per-patient substreams (randstream.Streams.ForPatient) and are
// written into every output row, so they must themselves be reproducible
// for two runs of the same seed to produce byte-identical output (spec.md
// §8 universal invariant #1).
func (c *Controller) nextPatientID() string {
	data := fmt.Sprintf("namd-sim/patient/seed=%d/index=%d", c.seed, c.nextPtIdx)
	c.nextPtIdx++
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(data)).String()
}

func (c *Controller) drawResponseType() domain.ResponseType {
	idx := c.initRNG.Categorical(c.spec.ResponseProbabilities[:])
	return domain.ResponseType(idx)
}

func (c *Controller) drawBaselineVision() int {
	v := c.initRNG.Normal(c.spec.BaselineVisionMean, c.spec.BaselineVisionStd)
	return randstream.Letters(v)
}
