// Package architect recommends a storage backend family (vector, graph, or
// hybrid) for a described workload. Selection is deterministic and pure.
package architect

import (
	"strings"

	"github.com/chirino/memory-policy/internal/model"
)

// AffinityTable holds the keyword sets scored for vector and graph affinity.
type AffinityTable struct {
	Vector []string
	Graph  []string
}

// DefaultAffinities is the built-in scoring table. Entries are stems so
// plural and suffixed forms score too (hierarchy/hierarchies, entity/entities,
// relationship/relations).
var DefaultAffinities = AffinityTable{
	Vector: []string{"simple", "preference", "semantic", "search", "similar", "recall"},
	Graph:  []string{"relation", "hierarch", "entit", "org", "team", "collaborat", "network"},
}

// smallDatasetThreshold is the record count under which the simpler vector
// architecture wins unless the graph signal is overwhelming.
const smallDatasetThreshold = 1000

// Selector scores descriptions against an immutable affinity table.
type Selector struct {
	table AffinityTable
}

// New returns a Selector using the given table. Nil slices fall back to
// DefaultAffinities. The table is deep-copied.
func New(table AffinityTable) *Selector {
	return &Selector{table: AffinityTable{
		Vector: copyLower(table.Vector, DefaultAffinities.Vector),
		Graph:  copyLower(table.Graph, DefaultAffinities.Graph),
	}}
}

func copyLower(terms, fallback []string) []string {
	if terms == nil {
		terms = fallback
	}
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = strings.ToLower(t)
	}
	return out
}

// Select recommends an architecture for the description. expectedRecordCount
// may be nil when the caller has no scale hint.
//
// Rules, in order: graph when graphScore > vectorScore+3 (high); hybrid when
// graphScore > vectorScore (medium); vector when vectorScore > graphScore+2
// (high); vector with medium confidence otherwise. Datasets under 1000
// records force vector unless the graph margin from the first rule is met.
func (s *Selector) Select(description string, expectedRecordCount *int64) (model.ArchitectureDecision, error) {
	if strings.TrimSpace(description) == "" {
		return model.ArchitectureDecision{}, &model.InvalidInputError{Field: "description", Message: "must not be empty"}
	}

	text := strings.ToLower(description)
	vectorScore := countMatches(text, s.table.Vector)
	graphScore := countMatches(text, s.table.Graph)

	decision := model.ArchitectureDecision{
		VectorScore: vectorScore,
		GraphScore:  graphScore,
	}
	strongGraph := graphScore > vectorScore+3

	switch {
	case strongGraph:
		decision.Architecture = model.ArchitectureGraph
		decision.Confidence = model.ConfidenceHigh
	case graphScore > vectorScore:
		decision.Architecture = model.ArchitectureHybrid
		decision.Confidence = model.ConfidenceMedium
	case vectorScore > graphScore+2:
		decision.Architecture = model.ArchitectureVector
		decision.Confidence = model.ConfidenceHigh
	default:
		decision.Architecture = model.ArchitectureVector
		decision.Confidence = model.ConfidenceMedium
	}

	// Small datasets default to the simpler architecture; only an
	// overwhelming graph signal overrides the scale hint.
	if expectedRecordCount != nil && *expectedRecordCount < smallDatasetThreshold && !strongGraph {
		decision.Architecture = model.ArchitectureVector
	}

	return decision, nil
}

func countMatches(text string, terms []string) int {
	n := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			n++
		}
	}
	return n
}
