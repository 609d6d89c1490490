// Package resources implements the Resource/Cost Tracker of spec.md §4.10
// (C10): per-visit-type role and cost lookup, with no fallback permitted —
// an unmapped visit type is a fatal UnmappedVisitType error, not a
// silently-estimated default.
//
// Grounded on the teacher's engine/resources.Manager: a configuration
// struct plus a mutex-guarded accumulator exposing a Stats() snapshot, here
// repurposed from page-cache slot accounting to role/session capacity
// accounting.
package resources

import (
	"math"
	"sync"
	"time"

	"github.com/namd-sim/engine/internal/domain"
	"github.com/namd-sim/engine/internal/simerrors"
)

// VisitRequirement is one visit_type's row of the visit_requirements table
// (spec.md §6): which roles are needed, for how long, and in which
// session bucket.
type VisitRequirement struct {
	Roles           []domain.ResourceComponent
	DurationMinutes int
	SessionBucket   string
}

// Spec is the cost/resource specification document of spec.md §6.
type Spec struct {
	Currency string

	DrugCosts      map[string]float64
	ComponentCosts map[string]float64

	// VisitTypeComponents lists which component_costs keys apply to each
	// visit type (e.g. OCT scan, VA test, consultation tier).
	VisitTypeComponents map[domain.VisitType][]string

	// ResourceRoles maps a role name to its capacity_per_session.
	ResourceRoles map[string]int

	VisitRequirements map[domain.VisitType]VisitRequirement

	// DrugKey names the entry in DrugCosts billed whenever a visit's
	// injection_given is true.
	DrugKey string
}

// Validate cross-checks the spec's internal references, per spec.md §6
// ("Configuration validation ... unknown keys are rejected, not ignored").
func (s Spec) Validate() error {
	if s.Currency == "" {
		return simerrors.Misconfigured(errString("currency is required"))
	}
	if s.DrugKey != "" {
		if _, ok := s.DrugCosts[s.DrugKey]; !ok {
			return simerrors.Misconfigured(errString("drug key " + s.DrugKey + " has no cost entry"))
		}
	}
	for vt, keys := range s.VisitTypeComponents {
		for _, k := range keys {
			if _, ok := s.ComponentCosts[k]; !ok {
				return simerrors.Misconfigured(errString("visit type " + string(vt) + " references unknown cost component " + k))
			}
		}
	}
	for vt, req := range s.VisitRequirements {
		for _, rc := range req.Roles {
			if _, ok := s.ResourceRoles[rc.Role]; !ok {
				return simerrors.Misconfigured(errString("visit type " + string(vt) + " references unknown role " + rc.Role))
			}
		}
	}
	return nil
}

func errString(msg string) error { return simpleErr(msg) }

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// Tracker attaches resource and cost components to executed visits and
// accumulates daily role utilization for session-count reporting.
type Tracker struct {
	spec Spec

	mu       sync.Mutex
	dailyUse map[dayRole]int
}

type dayRole struct {
	day  int
	role string
}

func NewTracker(spec Spec) *Tracker {
	return &Tracker{spec: spec, dailyUse: make(map[dayRole]int)}
}

// Attach computes the resource_components and cost_components for one
// visit (spec.md §4.10 step): "the exact roles and counts from (b)" and
// "cost components are looked up from a cost configuration ... the
// visit's total cost equals the sum of its components plus drug cost when
// injection_given". A visit type absent from either table is fatal.
func (t *Tracker) Attach(visitType domain.VisitType, injectionGiven bool, dayOffset int) ([]domain.ResourceComponent, map[string]float64, float64, error) {
	req, ok := t.spec.VisitRequirements[visitType]
	if !ok {
		return nil, nil, 0, simerrors.UnmappedVisit("", time.Time{}, string(visitType))
	}
	componentKeys, ok := t.spec.VisitTypeComponents[visitType]
	if !ok {
		return nil, nil, 0, simerrors.UnmappedVisit("", time.Time{}, string(visitType))
	}

	costs := make(map[string]float64, len(componentKeys)+1)
	total := 0.0
	for _, key := range componentKeys {
		amount, ok := t.spec.ComponentCosts[key]
		if !ok {
			return nil, nil, 0, simerrors.UnmappedVisit("", time.Time{}, string(visitType))
		}
		costs[key] = amount
		total += amount
	}
	if injectionGiven && t.spec.DrugKey != "" {
		drugCost := t.spec.DrugCosts[t.spec.DrugKey]
		costs["drug:"+t.spec.DrugKey] = drugCost
		total += drugCost
	}

	t.mu.Lock()
	for _, rc := range req.Roles {
		t.dailyUse[dayRole{day: dayOffset, role: rc.Role}] += rc.Count
	}
	t.mu.Unlock()

	roles := make([]domain.ResourceComponent, len(req.Roles))
	copy(roles, req.Roles)
	return roles, costs, total, nil
}

// SessionsNeeded returns ceil(total_count/capacity_per_session) for role on
// dayOffset, per spec.md §4.10.
func (t *Tracker) SessionsNeeded(dayOffset int, role string) int {
	t.mu.Lock()
	count := t.dailyUse[dayRole{day: dayOffset, role: role}]
	t.mu.Unlock()
	capacity := t.spec.ResourceRoles[role]
	if capacity <= 0 {
		return count
	}
	return int(math.Ceil(float64(count) / float64(capacity)))
}
