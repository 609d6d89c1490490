// Package vision implements the per-fortnight visual-acuity change model of
// spec.md §4.4 (C4): eight (disease_state x treated) scenarios, response
// heterogeneity, hemorrhage shocks, and loading-phase bonus.
package vision

import (
	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/randstream"
)

// Scenario is the Normal(mean, std) parameters for one (disease_state x
// treated) combination.
type Scenario struct {
	Mean float64
	Std  float64
}

// Model holds the eight configured scenarios plus hemorrhage and
// response-heterogeneity parameters.
type Model struct {
	// Scenarios[state][treated] — treated indexed 0=false,1=true.
	Scenarios [domain.NumDiseaseStates][2]Scenario

	ResponseMultiplier [3]float64 // indexed by domain.ResponseType

	HemorrhageProbability float64
	HemorrhageMeanLoss    float64

	LoadingPhaseBonus float64
}

func treatedIndex(treated bool) int {
	if treated {
		return 1
	}
	return 0
}

// Tick draws one fortnightly vision delta for a patient in the given
// disease state, returning the (unclamped, unrounded) delta so the caller
// can accumulate several ticks and round once, matching spec.md §4.4's
// "cumulative vision is clamped to [0,100]" framing (AdvanceTicks clamps
// the running total after each tick, not each individual delta). The
// base delta is drawn from noiseRNG and the hemorrhage shock from hemoRNG,
// two dedicated substreams (spec.md §4.2) so that neither consumer's draw
// count perturbs the other's sequence.
func (m *Model) Tick(state domain.DiseaseState, treated bool, response domain.ResponseType, loading bool, noiseRNG, hemoRNG *randstream.Source) float64 {
	scenario := m.Scenarios[state][treatedIndex(treated)]
	delta := noiseRNG.Normal(scenario.Mean, scenario.Std)
	delta *= m.ResponseMultiplier[response]
	if loading {
		delta += m.LoadingPhaseBonus
	}
	if state == domain.HighlyActive && m.HemorrhageProbability > 0 {
		if hemoRNG.Bernoulli(m.HemorrhageProbability) {
			delta -= hemoRNG.Normal(m.HemorrhageMeanLoss, 0)
		}
	}
	return delta
}

// AdvanceTicks applies n fortnightly vision ticks to a running float vision
// total, clamping the float total to [0,100] after every tick and rounding
// only once at the end (spec.md §3 invariant: "Vision is an integer in
// [0,100] at all times; all model deltas are rounded and clamped"); float
// accumulation avoids compounding rounding error across many ticks within
// one visit gap.
func (m *Model) AdvanceTicks(startVision int, state domain.DiseaseState, treated bool, response domain.ResponseType, loading bool, n int, noiseRNG, hemoRNG *randstream.Source) int {
	total := float64(startVision)
	for i := 0; i < n; i++ {
		total += m.Tick(state, treated, response, loading, noiseRNG, hemoRNG)
		total = clampFloat(total)
	}
	return randstream.Letters(total)
}

func clampFloat(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
