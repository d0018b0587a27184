// Package router implements ModelRouter (spec §4.4): deterministic
// cost/domain/complexity-aware selection of a model and its ensemble
// alternatives from a set of static, config-driven tiers.
package router

import (
	"strings"

	"github.com/corvid-labs/orchestrator/pkg/config"
)

// CostPreference names one of the three static tiers.
type CostPreference string

const (
	CostVeryLow CostPreference = "very_low_cost"
	CostLow     CostPreference = "low_cost"
	CostHigh    CostPreference = "high_cost"
)

// Complexity classifies a sub-query's difficulty, decided by ResearchStage
// before calling GetModel.
type Complexity string

const (
	ComplexitySimple Complexity = "simple"
	ComplexityNormal Complexity = "normal"
)

// Model is a catalog entry: a provider/model pair with its capability set.
type Model struct {
	ID               string
	Provider         string
	Label            string
	CostPerTokenHint float64
	Domains          []string
	Vision           bool
	LongContext      bool
	ContextWindow    int
}

func (m Model) servesDomain(domain string) bool {
	if domain == "" {
		return true
	}
	for _, d := range m.Domains {
		if strings.EqualFold(d, domain) {
			return true
		}
	}
	return false
}

// Router selects models from three static tiers. Selection only reads the
// tiers and is safe for concurrent use; Refresh replaces them without
// locking and is not safe to call while selections are in progress.
type Router struct {
	tiers map[CostPreference][]Model
}

// New builds a Router from config's static tiers.
func New(cfg config.RouterConfig) *Router {
	return &Router{tiers: map[CostPreference][]Model{
		CostVeryLow: fromEntries(cfg.VeryLowCost),
		CostLow:     fromEntries(cfg.LowCost),
		CostHigh:    fromEntries(cfg.HighCost),
	}}
}

func fromEntries(entries []config.ModelEntry) []Model {
	out := make([]Model, len(entries))
	for i, e := range entries {
		out[i] = Model{
			ID: e.ID, Provider: e.Provider, Label: e.Label,
			CostPerTokenHint: e.CostPerTokenHint, Domains: e.Domains,
			Vision: e.Vision, LongContext: e.LongContext, ContextWindow: e.ContextWindow,
		}
	}
	return out
}

// Refresh replaces the static tiers with those in cfg by reassigning the
// tier map; it takes no lock. The router keeps the tiers New seeded from
// config until Refresh is called.
func (r *Router) Refresh(cfg config.RouterConfig) {
	r.tiers = map[CostPreference][]Model{
		CostVeryLow: fromEntries(cfg.VeryLowCost),
		CostLow:     fromEntries(cfg.LowCost),
		CostHigh:    fromEntries(cfg.HighCost),
	}
}

// GetModel implements selection rules 1-2 of spec §4.4.
func (r *Router) GetModel(cost CostPreference, agentIndex int, domain string, complexity Complexity) (Model, bool) {
	if complexity == ComplexitySimple {
		if tier := r.tiers[CostVeryLow]; len(tier) > 0 {
			return pickFromTier(tier, agentIndex, domain), true
		}
	}
	tier := r.tiers[cost]
	if len(tier) == 0 {
		tier = r.tiers[CostVeryLow]
	}
	if len(tier) == 0 {
		return Model{}, false
	}
	return pickFromTier(tier, agentIndex, domain), true
}

// pickFromTier prefers the domain-matching subset, round-robin by
// agentIndex within it; falls back to round-robin across the whole tier.
func pickFromTier(tier []Model, agentIndex int, domain string) Model {
	matching := make([]Model, 0, len(tier))
	for _, m := range tier {
		if m.servesDomain(domain) {
			matching = append(matching, m)
		}
	}
	if len(matching) > 0 {
		return matching[mod(agentIndex, len(matching))]
	}
	return tier[mod(agentIndex, len(tier))]
}

// GetAlternatives implements selection rules 3-4: the next k distinct
// models of the same tier by (agentIndex+i) mod len, ensuring vision
// coverage when required, clamped to an ensemble of [2,3].
func (r *Router) GetAlternatives(primary Model, cost CostPreference, agentIndex int, requireVision bool) []Model {
	tier := r.tierContaining(primary, cost)
	if len(tier) == 0 {
		return []Model{primary}
	}
	ensemble := []Model{primary}
	seen := map[string]bool{primary.ID: true}
	for i := 1; len(ensemble) < 3 && i < len(tier); i++ {
		cand := tier[mod(agentIndex+i, len(tier))]
		if seen[cand.ID] {
			continue
		}
		seen[cand.ID] = true
		ensemble = append(ensemble, cand)
	}
	if requireVision && !anyVision(ensemble) {
		if v, ok := r.firstVisionModel(); ok && !seen[v.ID] {
			if len(ensemble) >= 3 {
				ensemble[len(ensemble)-1] = v
			} else {
				ensemble = append(ensemble, v)
			}
		}
	}
	return clampEnsemble(ensemble)
}

func (r *Router) tierContaining(m Model, cost CostPreference) []Model {
	for _, t := range []CostPreference{cost, CostVeryLow, CostLow, CostHigh} {
		for _, candidate := range r.tiers[t] {
			if candidate.ID == m.ID {
				return r.tiers[t]
			}
		}
	}
	return r.tiers[cost]
}

func (r *Router) firstVisionModel() (Model, bool) {
	for _, tier := range []CostPreference{CostHigh, CostLow, CostVeryLow} {
		for _, m := range r.tiers[tier] {
			if m.Vision {
				return m, true
			}
		}
	}
	return Model{}, false
}

func anyVision(models []Model) bool {
	for _, m := range models {
		if m.Vision {
			return true
		}
	}
	return false
}

func clampEnsemble(ensemble []Model) []Model {
	if len(ensemble) > 3 {
		ensemble = ensemble[:3]
	}
	if len(ensemble) < 2 && len(ensemble) > 0 {
		ensemble = append(ensemble, ensemble[0])
	}
	return ensemble
}

// Catalog returns every model across all three tiers, tagged with the
// tier it belongs to, for the list_models tool (spec §6).
func (r *Router) Catalog() []CatalogEntry {
	var out []CatalogEntry
	for _, tier := range []CostPreference{CostVeryLow, CostLow, CostHigh} {
		for _, m := range r.tiers[tier] {
			out = append(out, CatalogEntry{Model: m, Tier: tier})
		}
	}
	return out
}

// CatalogEntry pairs a Model with the cost tier it was configured under.
type CatalogEntry struct {
	Model Model          `json:"model"`
	Tier  CostPreference `json:"tier"`
}

func mod(i, n int) int {
	if n <= 0 {
		return 0
	}
	r := i % n
	if r < 0 {
		r += n
	}
	return r
}
