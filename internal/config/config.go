// Package config loads and validates the three declarative YAML
// documents of spec.md §6 (protocol, cost/resource, recruitment) into
// the typed Spec structs each domain package consumes, following the
// teacher's engine/internal/runtime.RuntimeConfigManager pattern of a
// yaml.v3-backed load/validate/checksum cycle.
package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/namd-sim/engine/internal/discontinuation"
	"github.com/namd-sim/engine/internal/disease"
	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/protocol"
	"github.com/namd-sim/engine/internal/recruitment"
	"github.com/namd-sim/engine/internal/resources"
	"github.com/namd-sim/engine/internal/simerrors"
	"github.com/namd-sim/engine/internal/vision"
)

// ProtocolDocument is the YAML shape of spec.md §6's protocol
// specification input.
type ProtocolDocument struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
	Type    string `yaml:"protocol_type"`

	MinIntervalDays        int `yaml:"min_interval_days"`
	MaxIntervalDays        int `yaml:"max_interval_days"`
	ExtensionDays          int `yaml:"extension_days"`
	ShorteningDays         int `yaml:"shortening_days"`
	LoadingDoses           int `yaml:"loading_doses"`
	LoadingIntervalDays    int `yaml:"loading_interval_days"`
	MaintenanceIntervalDays int `yaml:"maintenance_interval_days"`
	AnnualReviewWindowDays *int `yaml:"annual_review_window_days"`

	DiseaseTransitions         [4][4]float64 `yaml:"disease_transitions"`
	TreatmentEffectMultipliers [4][4]float64 `yaml:"treatment_effect_multipliers"`
	TreatmentEffectWindowDays  int           `yaml:"treatment_effect_window_days"`

	VisionChangeModel [8]yamlScenario `yaml:"vision_change_model"`
	ResponseTypes     [3]yamlResponse `yaml:"response_types"`

	Hemorrhage struct {
		Probability float64 `yaml:"probability"`
		MeanLoss    float64 `yaml:"mean_loss"`
	} `yaml:"hemorrhage"`

	LoadingPhaseBonus float64 `yaml:"loading_phase_bonus"`

	BaselineVisionDistribution struct {
		Mean float64 `yaml:"mean"`
		Std  float64 `yaml:"std"`
	} `yaml:"baseline_vision_distribution"`

	DiscontinuationProfile yamlDiscontinuationProfile `yaml:"discontinuation_profile"`

	WorkingDayPolicy string `yaml:"working_day_policy"`
}

type yamlScenario struct {
	Mean float64 `yaml:"mean"`
	Std  float64 `yaml:"std"`
}

type yamlResponse struct {
	Label       string  `yaml:"label"`
	Probability float64 `yaml:"probability"`
	Multiplier  float64 `yaml:"multiplier"`
}

type yamlCategoryParams struct {
	AnnualHazard    float64 `yaml:"annual_hazard"`
	MonitoringWeeks []int   `yaml:"monitoring_weeks"`
}

type yamlDiscontinuationProfile struct {
	Mortality              yamlCategoryParams `yaml:"mortality"`
	SystemDiscontinuation  yamlCategoryParams `yaml:"system_discontinuation"`
	ReauthorizationFailure yamlCategoryParams `yaml:"reauthorization_failure"`
	Premature              yamlCategoryParams `yaml:"premature"`

	PoorResponse struct {
		AbsoluteThreshold int   `yaml:"absolute_threshold"`
		SustainedVisits   int   `yaml:"sustained_visits"`
		MonitoringWeeks   []int `yaml:"monitoring_weeks"`
	} `yaml:"poor_response"`

	StableMaxInterval struct {
		ConsecutiveThreshold int   `yaml:"consecutive_threshold"`
		MonitoringWeeks      []int `yaml:"monitoring_weeks"`
	} `yaml:"stable_max_interval"`

	// RetreatmentVisionLossThreshold resolves the open question of
	// spec.md §9; the document must set it explicitly (no implicit
	// default is applied here, matching "unknown keys are rejected, not
	// ignored" — the corollary being that required keys are never
	// silently defaulted either).
	RetreatmentVisionLossThreshold *int `yaml:"retreatment_vision_loss_threshold"`
}

// LoadProtocol reads and validates a protocol document from path,
// returning the typed Specs each domain package needs plus the raw
// bytes' checksum for the run metadata record.
func LoadProtocol(path string) (ProtocolSpecs, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ProtocolSpecs{}, "", simerrors.IO(fmt.Errorf("read protocol document: %w", err))
	}
	var doc ProtocolDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return ProtocolSpecs{}, "", simerrors.Misconfigured(fmt.Errorf("parse protocol document: %w", err))
	}
	specs, err := doc.toSpecs()
	if err != nil {
		return ProtocolSpecs{}, "", err
	}
	return specs, checksum(data), nil
}

// ProtocolSpecs bundles the typed configuration every protocol-dependent
// component needs, all derived from one protocol document.
type ProtocolSpecs struct {
	Protocol        protocol.Spec
	Disease         disease.Model
	Vision          vision.Model
	Discontinuation discontinuation.Profile
	BaselineVisionMean float64
	BaselineVisionStd  float64
	ResponseProbabilities [3]float64
}

func (d ProtocolDocument) toSpecs() (ProtocolSpecs, error) {
	var transitions, multipliers disease.Matrix
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			transitions[i][j] = d.DiseaseTransitions[i][j]
			multipliers[i][j] = d.TreatmentEffectMultipliers[i][j]
		}
	}
	if err := transitions.ValidateStochastic(); err != nil {
		return ProtocolSpecs{}, simerrors.Misconfigured(fmt.Errorf("disease_transitions: %w", err))
	}
	if d.AnnualReviewWindowDays == nil {
		return ProtocolSpecs{}, simerrors.Misconfigured(fmt.Errorf("annual_review_window_days is required"))
	}
	if d.DiscontinuationProfile.RetreatmentVisionLossThreshold == nil {
		return ProtocolSpecs{}, simerrors.Misconfigured(fmt.Errorf("discontinuation_profile.retreatment_vision_loss_threshold is required"))
	}

	var scenarios [domain.NumDiseaseStates][2]vision.Scenario
	for state := 0; state < domain.NumDiseaseStates; state++ {
		scenarios[state][0] = vision.Scenario{Mean: d.VisionChangeModel[state*2].Mean, Std: d.VisionChangeModel[state*2].Std}
		scenarios[state][1] = vision.Scenario{Mean: d.VisionChangeModel[state*2+1].Mean, Std: d.VisionChangeModel[state*2+1].Std}
	}

	var responseMultiplier [3]float64
	var responseProbs [3]float64
	for i, rt := range d.ResponseTypes {
		responseMultiplier[i] = rt.Multiplier
		responseProbs[i] = rt.Probability
	}

	protoType := protocol.TreatAndExtend
	if d.Type == string(protocol.FixedInterval) {
		protoType = protocol.FixedInterval
	}

	specs := ProtocolSpecs{
		Protocol: protocol.Spec{
			Name:                    d.Name,
			Version:                 d.Version,
			Type:                    protoType,
			MinIntervalDays:         d.MinIntervalDays,
			MaxIntervalDays:         d.MaxIntervalDays,
			ExtensionDays:           d.ExtensionDays,
			ShorteningDays:          d.ShorteningDays,
			LoadingDoses:            d.LoadingDoses,
			LoadingIntervalDays:     d.LoadingIntervalDays,
			MaintenanceIntervalDays: d.MaintenanceIntervalDays,
			AnnualReviewWindowDays:  *d.AnnualReviewWindowDays,
		},
		Disease: disease.Model{
			Transitions:                transitions,
			TreatmentEffectMultipliers: multipliers,
			TreatmentEffectWindowDays:  d.TreatmentEffectWindowDays,
		},
		Vision: vision.Model{
			Scenarios:              scenarios,
			ResponseMultiplier:     responseMultiplier,
			HemorrhageProbability:  d.Hemorrhage.Probability,
			HemorrhageMeanLoss:     d.Hemorrhage.MeanLoss,
			LoadingPhaseBonus:      d.LoadingPhaseBonus,
		},
		Discontinuation: discontinuation.Profile{
			Mortality:              discontinuation.CategoryParams{AnnualHazard: d.DiscontinuationProfile.Mortality.AnnualHazard, MonitoringWeeks: d.DiscontinuationProfile.Mortality.MonitoringWeeks},
			SystemDiscontinuation:  discontinuation.CategoryParams{AnnualHazard: d.DiscontinuationProfile.SystemDiscontinuation.AnnualHazard, MonitoringWeeks: d.DiscontinuationProfile.SystemDiscontinuation.MonitoringWeeks},
			ReauthorizationFailure: discontinuation.CategoryParams{AnnualHazard: d.DiscontinuationProfile.ReauthorizationFailure.AnnualHazard, MonitoringWeeks: d.DiscontinuationProfile.ReauthorizationFailure.MonitoringWeeks},
			Premature:              discontinuation.CategoryParams{AnnualHazard: d.DiscontinuationProfile.Premature.AnnualHazard, MonitoringWeeks: d.DiscontinuationProfile.Premature.MonitoringWeeks},
			PoorResponse: discontinuation.PoorResponseParams{
				AbsoluteThreshold: d.DiscontinuationProfile.PoorResponse.AbsoluteThreshold,
				SustainedVisits:   d.DiscontinuationProfile.PoorResponse.SustainedVisits,
				MonitoringWeeks:   d.DiscontinuationProfile.PoorResponse.MonitoringWeeks,
			},
			StableMaxInterval: discontinuation.StableMaxParams{
				ConsecutiveThreshold: d.DiscontinuationProfile.StableMaxInterval.ConsecutiveThreshold,
				MonitoringWeeks:      d.DiscontinuationProfile.StableMaxInterval.MonitoringWeeks,
			},
			RetreatmentVisionLossThreshold: *d.DiscontinuationProfile.RetreatmentVisionLossThreshold,
		},
		BaselineVisionMean:    d.BaselineVisionDistribution.Mean,
		BaselineVisionStd:     d.BaselineVisionDistribution.Std,
		ResponseProbabilities: responseProbs,
	}
	return specs, nil
}

// CostDocument is the YAML shape of spec.md §6's cost/resource document.
type CostDocument struct {
	Currency            string                       `yaml:"currency"`
	DrugCosts           map[string]float64           `yaml:"drug_costs"`
	ComponentCosts      map[string]float64           `yaml:"component_costs"`
	VisitTypeComponents map[string][]string          `yaml:"visit_type_components"`
	ResourceRoles       map[string]int               `yaml:"resource_roles"`
	VisitRequirements   map[string]yamlVisitRequirement `yaml:"visit_requirements"`
	DrugKey             string                       `yaml:"drug_key"`
}

type yamlVisitRequirement struct {
	Roles           map[string]int `yaml:"roles"`
	DurationMinutes int            `yaml:"duration_minutes"`
	SessionBucket   string         `yaml:"session_bucket"`
}

// LoadCost reads and validates the cost/resource document at path.
func LoadCost(path string) (resources.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return resources.Spec{}, simerrors.IO(fmt.Errorf("read cost document: %w", err))
	}
	var doc CostDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return resources.Spec{}, simerrors.Misconfigured(fmt.Errorf("parse cost document: %w", err))
	}

	spec := resources.Spec{
		Currency:            doc.Currency,
		DrugCosts:           doc.DrugCosts,
		ComponentCosts:      doc.ComponentCosts,
		VisitTypeComponents: make(map[domain.VisitType][]string, len(doc.VisitTypeComponents)),
		ResourceRoles:       doc.ResourceRoles,
		VisitRequirements:   make(map[domain.VisitType]resources.VisitRequirement, len(doc.VisitRequirements)),
		DrugKey:             doc.DrugKey,
	}
	for k, v := range doc.VisitTypeComponents {
		spec.VisitTypeComponents[domain.VisitType(k)] = v
	}
	for k, v := range doc.VisitRequirements {
		roles := make([]domain.ResourceComponent, 0, len(v.Roles))
		for role, count := range v.Roles {
			roles = append(roles, domain.ResourceComponent{Role: role, Count: count})
		}
		spec.VisitRequirements[domain.VisitType(k)] = resources.VisitRequirement{
			Roles:           roles,
			DurationMinutes: v.DurationMinutes,
			SessionBucket:   v.SessionBucket,
		}
	}

	if err := spec.Validate(); err != nil {
		return resources.Spec{}, err
	}
	return spec, nil
}

// RecruitmentDocument is the YAML shape of spec.md §6's recruitment
// document.
type RecruitmentDocument struct {
	Mode                 string  `yaml:"mode"`
	NPatients            int     `yaml:"n_patients"`
	Rate                 float64 `yaml:"rate"`
	RateUnit             string  `yaml:"rate_unit"`
	EnrollmentWindowDays int     `yaml:"enrollment_window_days"`
	Shape                string  `yaml:"shape"`
	StartDate            string  `yaml:"start_date"`
	DurationYears        float64 `yaml:"duration_years"`
	Seed                 uint64  `yaml:"seed"`
}

// LoadRecruitment reads the recruitment document at path. Baseline
// vision and response-type parameters come from the protocol document
// (spec.md §6 lists them under the protocol specification, not here), so
// the caller must merge those in via recruitment.Spec before use.
func LoadRecruitment(path string) (RecruitmentDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RecruitmentDocument{}, simerrors.IO(fmt.Errorf("read recruitment document: %w", err))
	}
	var doc RecruitmentDocument
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return RecruitmentDocument{}, simerrors.Misconfigured(fmt.Errorf("parse recruitment document: %w", err))
	}
	if doc.Mode != string(recruitment.FixedTotal) && doc.Mode != string(recruitment.ConstantRate) {
		return RecruitmentDocument{}, simerrors.Misconfigured(fmt.Errorf("recruitment mode %q is not recognized", doc.Mode))
	}
	return doc, nil
}

// ToSpec merges a recruitment document with the baseline-vision and
// response-type parameters carried by the protocol document (spec.md §6
// lists both under the protocol specification) into the recruitment.Spec
// the Controller consumes.
func (d RecruitmentDocument) ToSpec(protocolSpecs ProtocolSpecs) (recruitment.Spec, error) {
	start, err := time.Parse("2006-01-02", d.StartDate)
	if err != nil {
		return recruitment.Spec{}, simerrors.Misconfigured(fmt.Errorf("start_date: %w", err))
	}
	rateUnit := recruitment.PerWeek
	if d.RateUnit == string(recruitment.PerMonth) {
		rateUnit = recruitment.PerMonth
	}
	shape := recruitment.Uniform
	switch d.Shape {
	case string(recruitment.FrontLoaded):
		shape = recruitment.FrontLoaded
	case string(recruitment.Gradual):
		shape = recruitment.Gradual
	}
	return recruitment.Spec{
		Mode:                  recruitment.Mode(d.Mode),
		NPatients:             d.NPatients,
		Rate:                  d.Rate,
		RateUnit:              rateUnit,
		EnrollmentWindowDays:  d.EnrollmentWindowDays,
		Shape:                 shape,
		StartDate:             start,
		DurationYears:         d.DurationYears,
		BaselineVisionMean:    protocolSpecs.BaselineVisionMean,
		BaselineVisionStd:     protocolSpecs.BaselineVisionStd,
		ResponseProbabilities: protocolSpecs.ResponseProbabilities,
	}, nil
}

func checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}
