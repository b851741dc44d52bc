package retrieval

import "math"

// Config controls one retrieval run: seed tokens, per-stage caps, and the
// dynamic budget parameters.
type Config struct {
	// Budget: total = base + ln(1+ledgerSize)*growth*base, capped at ceiling.
	BudgetBase    int
	GrowthFactor  float64
	BudgetCeiling int

	ConceptCap  int // max records pulled from seed-concept bindings
	ForcedCap   int // max records per forced token, on top of root/tail
	VectorTopN  int // vector-refinement keep count
	SummaryTopN int // summary-tier vector search keep count
	PinCount    int // recent summary/long-range records always pinned

	AlwaysInclude   []string // tokens included in every run
	Sticky          []string // session-sticky tokens
	TriggerRecordID int64    // record whose attached tokens seed the run, if > 0

	// ForcedPrefixes mark privileged token namespaces whose evidence is never
	// evicted in favor of similarity matches.
	ForcedPrefixes []string
}

// DefaultConfig returns the standard retrieval parameters.
func DefaultConfig() Config {
	return Config{
		BudgetBase:    16,
		GrowthFactor:  0.25,
		BudgetCeiling: 96,
		ConceptCap:    24,
		ForcedCap:     8,
		VectorTopN:    8,
		SummaryTopN:   4,
		PinCount:      3,
		ForcedPrefixes: []string{
			"identity.", "role.", "policy.", "commitment.", "governance.",
		},
	}
}

// Budget computes the total-record budget for a ledger of the given size. It
// grows logarithmically so large histories are not starved and small ones not
// flooded, and is capped at the hard ceiling.
func (c Config) Budget(ledgerSize int64) int {
	base := c.BudgetBase
	if base <= 0 {
		base = DefaultConfig().BudgetBase
	}
	budget := float64(base) + math.Log(1+float64(ledgerSize))*c.GrowthFactor*float64(base)

	ceiling := c.BudgetCeiling
	if ceiling <= 0 {
		ceiling = DefaultConfig().BudgetCeiling
	}
	if budget > float64(ceiling) {
		return ceiling
	}
	return int(budget)
}
