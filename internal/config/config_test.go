package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/namd-sim/engine/internal/protocol"
	"github.com/namd-sim/engine/internal/recruitment"
)

const validProtocolYAML = `
name: standard-treat-and-extend
version: "1.0"
protocol_type: treat_and_extend
min_interval_days: 28
max_interval_days: 112
extension_days: 14
shortening_days: 14
loading_doses: 3
loading_interval_days: 28
maintenance_interval_days: 56
annual_review_window_days: 10
treatment_effect_window_days: 60
disease_transitions:
  - [0.7, 0.3, 0.0, 0.0]
  - [0.1, 0.7, 0.2, 0.0]
  - [0.0, 0.2, 0.6, 0.2]
  - [0.0, 0.0, 0.3, 0.7]
treatment_effect_multipliers:
  - [1, 1, 1, 1]
  - [1.5, 1, 1, 1]
  - [1, 1.5, 1, 1]
  - [1, 1, 1.5, 1]
vision_change_model:
  - {mean: 0, std: 1}
  - {mean: 2, std: 1}
  - {mean: 1, std: 1}
  - {mean: 3, std: 1}
  - {mean: -1, std: 2}
  - {mean: 1, std: 2}
  - {mean: -3, std: 3}
  - {mean: -1, std: 3}
response_types:
  - {label: poor, probability: 0.2, multiplier: 0.5}
  - {label: average, probability: 0.6, multiplier: 1.0}
  - {label: good, probability: 0.2, multiplier: 1.5}
hemorrhage:
  probability: 0.02
  mean_loss: 10
loading_phase_bonus: 1.5
baseline_vision_distribution:
  mean: 65
  std: 10
discontinuation_profile:
  mortality: {annual_hazard: 0.02}
  system_discontinuation: {annual_hazard: 0.01}
  reauthorization_failure: {annual_hazard: 0.05}
  premature: {annual_hazard: 0.03}
  poor_response: {absolute_threshold: 35, sustained_visits: 3}
  stable_max_interval: {consecutive_threshold: 3, monitoring_weeks: [4, 8, 12]}
  retreatment_vision_loss_threshold: 5
working_day_policy: round_forward
`

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadProtocolParsesAndValidates(t *testing.T) {
	path := writeTempFile(t, "protocol.yaml", validProtocolYAML)
	specs, sum, err := LoadProtocol(path)
	require.NoError(t, err)
	assert.NotEmpty(t, sum)
	assert.Equal(t, protocol.TreatAndExtend, specs.Protocol.Type)
	assert.Equal(t, 28, specs.Protocol.MinIntervalDays)
	assert.Equal(t, 65.0, specs.BaselineVisionMean)
	assert.Equal(t, 5, specs.Discontinuation.RetreatmentVisionLossThreshold)
	require.NoError(t, specs.Disease.Transitions.ValidateStochastic())
}

func TestLoadProtocolRejectsUnknownKeys(t *testing.T) {
	path := writeTempFile(t, "protocol.yaml", validProtocolYAML+"\nbogus_key: 1\n")
	_, _, err := LoadProtocol(path)
	assert.Error(t, err)
}

func TestLoadProtocolRejectsDegenerateTransitions(t *testing.T) {
	bad := `
disease_transitions:
  - [0.5, 0.0, 0.0, 0.0]
  - [0, 1, 0, 0]
  - [0, 0, 1, 0]
  - [0, 0, 0, 1]
`
	path := writeTempFile(t, "protocol.yaml", bad)
	_, _, err := LoadProtocol(path)
	assert.Error(t, err)
}

const validCostYAML = `
currency: GBP
drug_costs:
  aflibercept: 500
component_costs:
  oct: 40
  consult: 60
visit_type_components:
  injection_only: [oct, consult]
resource_roles:
  nurse: 2
  consultant: 1
visit_requirements:
  injection_only:
    roles: {nurse: 1, consultant: 1}
    duration_minutes: 30
    session_bucket: injection
drug_key: aflibercept
`

func TestLoadCostParsesAndValidates(t *testing.T) {
	path := writeTempFile(t, "cost.yaml", validCostYAML)
	spec, err := LoadCost(path)
	require.NoError(t, err)
	assert.Equal(t, "GBP", spec.Currency)
	assert.Equal(t, 500.0, spec.DrugCosts["aflibercept"])
}

const costYAMLWithUnknownComponent = `
currency: GBP
drug_costs:
  aflibercept: 500
component_costs:
  oct: 40
visit_type_components:
  injection_only: [unknown_component]
resource_roles:
  nurse: 2
visit_requirements:
  injection_only:
    roles: {nurse: 1}
drug_key: aflibercept
`

func TestLoadCostRejectsUnknownComponentReference(t *testing.T) {
	path := writeTempFile(t, "cost.yaml", costYAMLWithUnknownComponent)
	_, err := LoadCost(path)
	assert.Error(t, err)
}

const validRecruitmentYAML = `
mode: fixed_total
n_patients: 500
enrollment_window_days: 180
shape: uniform
start_date: "2026-01-05"
duration_years: 2
seed: 12345
`

func TestLoadRecruitmentParsesAndConvertsToSpec(t *testing.T) {
	protoPath := writeTempFile(t, "protocol.yaml", validProtocolYAML)
	protocolSpecs, _, err := LoadProtocol(protoPath)
	require.NoError(t, err)

	path := writeTempFile(t, "recruitment.yaml", validRecruitmentYAML)
	doc, err := LoadRecruitment(path)
	require.NoError(t, err)
	assert.Equal(t, 500, doc.NPatients)

	spec, err := doc.ToSpec(protocolSpecs)
	require.NoError(t, err)
	assert.Equal(t, recruitment.FixedTotal, spec.Mode)
	assert.Equal(t, recruitment.Uniform, spec.Shape)
	assert.Equal(t, 65.0, spec.BaselineVisionMean)
	assert.Equal(t, 2026, spec.StartDate.Year())
}

func TestLoadRecruitmentRejectsUnknownMode(t *testing.T) {
	path := writeTempFile(t, "recruitment.yaml", "mode: not_a_real_mode\n")
	_, err := LoadRecruitment(path)
	assert.Error(t, err)
}
