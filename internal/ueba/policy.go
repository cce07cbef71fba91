package ueba

import (
	"fmt"
	"sort"
	"time"

	"github.com/fleetstack/fleetguard/internal/models"
)

// Registry resolves entity profiles and assigns each profiled entity a
// stable numeric code used as a model feature. Codes follow the sorted
// order of profile names; unprofiled entities map to 0.
type Registry struct {
	profiles map[string]models.EntityProfile
	codes    map[string]int
}

// NewRegistry builds a registry from the supplied profiles.
func NewRegistry(profiles []models.EntityProfile) *Registry {
	r := &Registry{
		profiles: make(map[string]models.EntityProfile, len(profiles)),
		codes:    make(map[string]int, len(profiles)),
	}
	names := make([]string, 0, len(profiles))
	for _, p := range profiles {
		if p.Entity == "" {
			continue
		}
		r.profiles[p.Entity] = p
		names = append(names, p.Entity)
	}
	sort.Strings(names)
	for i, name := range names {
		r.codes[name] = i
	}
	return r
}

// Profile returns the profile for the entity, if one exists.
func (r *Registry) Profile(entity string) (models.EntityProfile, bool) {
	p, ok := r.profiles[entity]
	return p, ok
}

// Code returns the entity's feature code; unknown entities map to 0.
func (r *Registry) Code(entity string) float64 {
	return float64(r.codes[entity])
}

// Size returns the number of registered profiles.
func (r *Registry) Size() int {
	return len(r.profiles)
}

// Evaluator applies profile policy checks to recorded events. Evaluation is
// pure given the event, the ledger contents, and the registry.
type Evaluator struct {
	registry *Registry
	window   time.Duration
}

// NewEvaluator constructs an evaluator using the given rate window. A
// non-positive window falls back to one minute.
func NewEvaluator(registry *Registry, window time.Duration) *Evaluator {
	if window <= 0 {
		window = time.Minute
	}
	return &Evaluator{registry: registry, window: window}
}

// Evaluate checks one recorded event against its entity's profile. The
// event is expected to already be in the ledger, so the rate count includes
// it. Entities without a profile produce no policy findings.
func (e *Evaluator) Evaluate(event models.ActivityEvent, ledger *Ledger) []models.AnomalyFinding {
	profile, ok := e.registry.Profile(event.Entity)
	if !ok {
		return nil
	}

	var findings []models.AnomalyFinding

	if profile.MaxCallsPerMinute > 0 {
		observed := ledger.CountInWindow(event.Entity, e.window, event.OccurredAt)
		if observed > profile.MaxCallsPerMinute {
			findings = append(findings, models.AnomalyFinding{
				Kind:     models.FindingRateLimit,
				Severity: models.SeverityHigh,
				Detail: fmt.Sprintf("%s made %d calls in the last %s, limit is %d",
					event.Entity, observed, e.window, profile.MaxCallsPerMinute),
				Observed: observed,
				Limit:    profile.MaxCallsPerMinute,
			})
		}
	}

	// An empty allow-list leaves actions unconstrained.
	if len(profile.AllowedActions) > 0 && !actionAllowed(profile.AllowedActions, event.Action) {
		findings = append(findings, models.AnomalyFinding{
			Kind:     models.FindingUnauthorized,
			Severity: models.SeverityCritical,
			Detail:   fmt.Sprintf("action %q is not permitted for %s", event.Action, event.Entity),
		})
	}

	return findings
}

func actionAllowed(allowed []string, action string) bool {
	for _, a := range allowed {
		if a == action {
			return true
		}
	}
	return false
}
