package cost

import (
	"testing"

	"github.com/chirino/memory-policy/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPricing = PricingTable{
	StoragePerGBMonth:     0.25,
	PerThousandEmbeddings: 0.10,
	PerThousandQueries:    0.05,
}

func TestAnalyzeCostBreakdown(t *testing.T) {
	usage := UsageStats{
		RecordCount:     1_048_576, // 2 KB each means exactly 2 GB
		AvgRecordSizeKB: 2,
		EmbeddingsPerMo: 50_000,
		QueriesPerMo:    200_000,
		CacheEnabled:    true,
		AvgQueryLimit:   10,
		EmbeddingDims:   768,
	}

	report, err := Analyze(usage, testPricing)
	require.NoError(t, err)

	assert.InDelta(t, 0.50, report.StorageCost, 1e-6)
	assert.InDelta(t, 5.00, report.EmbeddingCost, 1e-6)
	assert.InDelta(t, 10.00, report.QueryCost, 1e-6)
	assert.InDelta(t, 15.50, report.CurrentCost, 1e-6)

	// Nothing to recommend against a healthy deployment.
	assert.Empty(t, report.Recommendations)
	assert.InDelta(t, report.CurrentCost, report.FinalCost, 1e-6)
	assert.InDelta(t, 0, report.SavingsPct, 1e-6)
}

func TestAnalyzeCombinesImpactsMultiplicatively(t *testing.T) {
	usage := UsageStats{
		RecordCount:     1_048_576,
		AvgRecordSizeKB: 2,
		EmbeddingsPerMo: 50_000,
		QueriesPerMo:    200_000,
		CacheEnabled:    false, // 0.30
		AvgQueryLimit:   50,    // 0.10
		EmbeddingDims:   768,
	}

	report, err := Analyze(usage, testPricing)
	require.NoError(t, err)
	require.Len(t, report.Recommendations, 2)

	// 15.50 × 0.70 × 0.90, not 15.50 × (1 − 0.40).
	assert.InDelta(t, 15.50*0.70*0.90, report.FinalCost, 1e-6)
	assert.InDelta(t, 1-0.70*0.90, report.SavingsPct, 1e-6)
}

func TestAnalyzeRecommendationTriggers(t *testing.T) {
	names := func(recs []Recommendation) []string {
		out := make([]string, len(recs))
		for i, r := range recs {
			out[i] = r.Name
		}
		return out
	}

	t.Run("cache recommended only above the query floor", func(t *testing.T) {
		report, err := Analyze(UsageStats{QueriesPerMo: 10_000}, testPricing)
		require.NoError(t, err)
		assert.NotContains(t, names(report.Recommendations), "enable query result caching")

		report, err = Analyze(UsageStats{QueriesPerMo: 10_001}, testPricing)
		require.NoError(t, err)
		assert.Contains(t, names(report.Recommendations), "enable query result caching")
	})

	t.Run("oversized embeddings", func(t *testing.T) {
		report, err := Analyze(UsageStats{EmbeddingDims: 1536}, testPricing)
		require.NoError(t, err)
		assert.Contains(t, names(report.Recommendations), "switch to a smaller embedding dimension")
	})

	t.Run("cold storage for a mostly archived corpus", func(t *testing.T) {
		report, err := Analyze(UsageStats{ArchivedFraction: 0.40}, testPricing)
		require.NoError(t, err)
		assert.Contains(t, names(report.Recommendations), "move archived records to cold storage")
	})

	t.Run("dedup impact scales with the duplicate fraction", func(t *testing.T) {
		report, err := Analyze(UsageStats{DuplicateFraction: 0.12}, testPricing)
		require.NoError(t, err)
		require.Len(t, report.Recommendations, 1)
		assert.InDelta(t, 0.12, report.Recommendations[0].EstimatedImpactPct, 1e-9)
	})
}

func TestAnalyzeRejectsNegativeCounts(t *testing.T) {
	_, err := Analyze(UsageStats{RecordCount: -1}, testPricing)
	var inv *model.InvalidInputError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, "usage", inv.Field)
}

func TestApplyImpacts(t *testing.T) {
	assert.InDelta(t, 54.27*0.5*0.3, ApplyImpacts(54.27, []float64{0.5, 0.7}), 1e-6)
	assert.InDelta(t, 100, ApplyImpacts(100, nil), 1e-6)
	// An impact of 1 zeroes the cost, and the result never goes negative.
	assert.InDelta(t, 0, ApplyImpacts(100, []float64{1.0}), 1e-6)
	assert.InDelta(t, 0, ApplyImpacts(100, []float64{1.5}), 1e-6)
}
