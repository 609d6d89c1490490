package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/randstream"
)

func fixedScenarios(mean, std float64) [domain.NumDiseaseStates][2]Scenario {
	var out [domain.NumDiseaseStates][2]Scenario
	for s := range out {
		out[s][0] = Scenario{Mean: mean, Std: std}
		out[s][1] = Scenario{Mean: mean, Std: std}
	}
	return out
}

func TestTickAppliesResponseMultiplier(t *testing.T) {
	m := &Model{
		Scenarios:          fixedScenarios(1.0, 0),
		ResponseMultiplier: [3]float64{0.5, 1.0, 2.0},
	}
	streams := randstream.New(1)
	rng := streams.For(randstream.VisionNoise)
	hemoRNG := streams.For(randstream.Hemorrhage)

	delta := m.Tick(domain.Stable, false, domain.ResponseGood, false, rng, hemoRNG)
	assert.InDelta(t, 2.0, delta, 1e-9)
}

func TestTickAddsLoadingPhaseBonus(t *testing.T) {
	m := &Model{
		Scenarios:          fixedScenarios(0, 0),
		ResponseMultiplier: [3]float64{1, 1, 1},
		LoadingPhaseBonus:  3,
	}
	streams := randstream.New(2)
	rng := streams.For(randstream.VisionNoise)
	hemoRNG := streams.For(randstream.Hemorrhage)
	delta := m.Tick(domain.Stable, true, domain.ResponseAverage, true, rng, hemoRNG)
	assert.InDelta(t, 3.0, delta, 1e-9)
}

func TestAdvanceTicksClampsToZeroAndHundred(t *testing.T) {
	m := &Model{
		Scenarios:          fixedScenarios(-50, 0),
		ResponseMultiplier: [3]float64{1, 1, 1},
	}
	streams := randstream.New(3)
	rng := streams.For(randstream.VisionNoise)
	hemoRNG := streams.For(randstream.Hemorrhage)
	got := m.AdvanceTicks(10, domain.Stable, false, domain.ResponseAverage, false, 3, rng, hemoRNG)
	assert.Equal(t, 0, got)

	m2 := &Model{
		Scenarios:          fixedScenarios(50, 0),
		ResponseMultiplier: [3]float64{1, 1, 1},
	}
	got2 := m2.AdvanceTicks(90, domain.Stable, false, domain.ResponseAverage, false, 3, rng, hemoRNG)
	assert.Equal(t, 100, got2)
}

func TestAdvanceTicksHemorrhageShock(t *testing.T) {
	m := &Model{
		Scenarios:              fixedScenarios(0, 0),
		ResponseMultiplier:     [3]float64{1, 1, 1},
		HemorrhageProbability:  1, // always fires
		HemorrhageMeanLoss:     10,
	}
	streams := randstream.New(4)
	rng := streams.For(randstream.VisionNoise)
	hemoRNG := streams.For(randstream.Hemorrhage)
	got := m.AdvanceTicks(50, domain.HighlyActive, false, domain.ResponseAverage, false, 1, rng, hemoRNG)
	assert.Equal(t, 40, got)
}
