// Package disease implements the fortnightly Markov-style disease
// progression model of spec.md §4.3 (C3).
package disease

import (
	"fmt"

	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/randstream"
	"github.com/namd-sim/engine/internal/simerrors"
)

// Matrix is a 4x4 row-stochastic transition (or multiplier) table indexed
// by [from][to] disease state.
type Matrix [domain.NumDiseaseStates][domain.NumDiseaseStates]float64

// RowSumTolerance is the epsilon spec.md §3/§8 requires for row-sum checks.
const RowSumTolerance = 1e-9

// ValidateStochastic checks every row sums to 1 within RowSumTolerance.
func (m Matrix) ValidateStochastic() error {
	for i, row := range m {
		sum := 0.0
		for _, p := range row {
			sum += p
		}
		if diff := sum - 1.0; diff > RowSumTolerance || diff < -RowSumTolerance {
			return fmt.Errorf("transition row %s sums to %.12f, want 1±%g",
				domain.DiseaseState(i), sum, RowSumTolerance)
		}
	}
	return nil
}

// Model holds the configured disease transition matrix and the
// treatment-effect multipliers applied when a patient is within the
// treatment-effect window of a recent injection.
type Model struct {
	Transitions Matrix
	TreatmentEffectMultipliers Matrix
	TreatmentEffectWindowDays  int
}

// NextState samples the next disease state for one fortnightly tick.
// When treated is true, the current-state row is multiplied componentwise
// by the treatment-effect multipliers and renormalized before sampling
// (spec.md §4.3). A row whose unnormalized sum is zero after multiplication
// is a MisconfiguredProtocol failure, not a silently-skipped tick.
func (m *Model) NextState(current domain.DiseaseState, treated bool, rng *randstream.Source) (domain.DiseaseState, error) {
	row := m.Transitions[current]
	weights := row[:]
	if treated {
		mult := m.TreatmentEffectMultipliers[current]
		adjusted := make([]float64, domain.NumDiseaseStates)
		sum := 0.0
		for i := range adjusted {
			adjusted[i] = row[i] * mult[i]
			sum += adjusted[i]
		}
		if sum <= 0 {
			return current, simerrors.Misconfigured(fmt.Errorf(
				"disease row for %s is degenerate after treatment-multiplier application (sum=%g)",
				current, sum))
		}
		weights = adjusted
	}
	idx := rng.Categorical(weights)
	return domain.DiseaseState(idx), nil
}

// AdvanceTicks applies n fortnightly ticks in sequence starting from
// current, used by the Visit Executor to catch up all intervening ticks
// before reading a visit's post-tick state (spec.md §4.9 step 1).
func (m *Model) AdvanceTicks(current domain.DiseaseState, n int, treated bool, rng *randstream.Source) (domain.DiseaseState, error) {
	state := current
	for i := 0; i < n; i++ {
		next, err := m.NextState(state, treated, rng)
		if err != nil {
			return state, err
		}
		state = next
	}
	return state, nil
}
