// Package cost estimates monthly spend from usage statistics and proposes
// optimizations with a multiplicatively combined impact estimate.
package cost

import (
	"math"

	"github.com/chirino/memory-policy/internal/model"
)

// UsageStats are the aggregate figures a deployment reports for one month.
type UsageStats struct {
	RecordCount       int64   `json:"recordCount"`
	AvgRecordSizeKB   float64 `json:"avgRecordSizeKB"`
	EmbeddingsPerMo   int64   `json:"embeddingsPerMonth"`
	QueriesPerMo      int64   `json:"queriesPerMonth"`
	CacheEnabled      bool    `json:"cacheEnabled"`
	AvgQueryLimit     int     `json:"avgQueryLimit"`
	EmbeddingDims     int     `json:"embeddingDimensions"`
	ArchivedFraction  float64 `json:"archivedFraction"`
	DuplicateFraction float64 `json:"duplicateFraction"`
}

// PricingTable is the static price configuration injected by the caller.
type PricingTable struct {
	StoragePerGBMonth     float64 `json:"storagePerGBMonth" yaml:"storagePerGBMonth"`
	PerThousandEmbeddings float64 `json:"perThousandEmbeddings" yaml:"perThousandEmbeddings"`
	PerThousandQueries    float64 `json:"perThousandQueries" yaml:"perThousandQueries"`
}

// Recommendation names one optimization technique and its independently
// estimated impact.
type Recommendation struct {
	Name string `json:"name"`

	// EstimatedImpactPct is the fraction of cost removed, in [0,1).
	EstimatedImpactPct float64 `json:"estimatedImpactPct"`

	// DependsOn notes deployment preconditions for the estimate to hold.
	DependsOn string `json:"dependsOn,omitempty"`
}

// Report is the analyzer's output. Combined savings are multiplicative
// across independent techniques so the total can never exceed 100%.
type Report struct {
	CurrentCost     float64          `json:"currentCost"`
	StorageCost     float64          `json:"storageCost"`
	EmbeddingCost   float64          `json:"embeddingCost"`
	QueryCost       float64          `json:"queryCost"`
	Recommendations []Recommendation `json:"recommendations"`
	FinalCost       float64          `json:"finalCost"`
	SavingsPct      float64          `json:"savingsPct"`
}

// Analyze computes the current monthly cost and the projected cost after
// applying every recommendation. Every figure is computed from the inputs;
// there are no canned numbers.
func Analyze(usage UsageStats, pricing PricingTable) (Report, error) {
	if usage.RecordCount < 0 || usage.EmbeddingsPerMo < 0 || usage.QueriesPerMo < 0 {
		return Report{}, &model.InvalidInputError{Field: "usage", Message: "counts must be non-negative"}
	}

	storageGB := float64(usage.RecordCount) * usage.AvgRecordSizeKB / (1024 * 1024)
	report := Report{
		StorageCost:   storageGB * pricing.StoragePerGBMonth,
		EmbeddingCost: float64(usage.EmbeddingsPerMo) / 1000 * pricing.PerThousandEmbeddings,
		QueryCost:     float64(usage.QueriesPerMo) / 1000 * pricing.PerThousandQueries,
	}
	report.CurrentCost = report.StorageCost + report.EmbeddingCost + report.QueryCost
	report.Recommendations = recommend(usage)

	// Independent techniques compound: finalCost = current × Π(1 − impact).
	// Summing impacts would allow impossible >100% reductions.
	remaining := 1.0
	for _, r := range report.Recommendations {
		remaining *= 1 - r.EstimatedImpactPct
	}
	report.FinalCost = math.Max(0, report.CurrentCost*remaining)
	if report.CurrentCost > 0 {
		report.SavingsPct = 1 - report.FinalCost/report.CurrentCost
	}
	return report, nil
}

// ApplyImpacts combines an explicit impact list against a known cost.
// Exposed separately so callers can price ad-hoc technique sets.
func ApplyImpacts(currentCost float64, impacts []float64) float64 {
	remaining := 1.0
	for _, impact := range impacts {
		remaining *= 1 - impact
	}
	return math.Max(0, currentCost*remaining)
}

func recommend(usage UsageStats) []Recommendation {
	var recs []Recommendation
	if !usage.CacheEnabled && usage.QueriesPerMo > 10_000 {
		recs = append(recs, Recommendation{
			Name:               "enable query result caching",
			EstimatedImpactPct: 0.30,
			DependsOn:          "repeated queries within the cache TTL",
		})
	}
	if usage.AvgQueryLimit > 20 {
		recs = append(recs, Recommendation{
			Name:               "reduce per-query result limit",
			EstimatedImpactPct: 0.10,
			DependsOn:          "consumers tolerating fewer candidates",
		})
	}
	if usage.EmbeddingDims > 768 {
		recs = append(recs, Recommendation{
			Name:               "switch to a smaller embedding dimension",
			EstimatedImpactPct: 0.25,
			DependsOn:          "re-embedding the existing corpus",
		})
	}
	if usage.ArchivedFraction > 0.25 {
		recs = append(recs, Recommendation{
			Name:               "move archived records to cold storage",
			EstimatedImpactPct: 0.20,
			DependsOn:          "archived records tolerating slower reads",
		})
	}
	if usage.DuplicateFraction > 0.05 {
		recs = append(recs, Recommendation{
			Name:               "run deduplication per owner",
			EstimatedImpactPct: usage.DuplicateFraction,
			DependsOn:          "high-confidence dedup groups only",
		})
	}
	return recs
}
