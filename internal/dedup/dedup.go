// Package dedup groups near-duplicate records within one owner scope and
// picks a canonical survivor per group.
package dedup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/chirino/memory-policy/internal/metrics"
	"github.com/chirino/memory-policy/internal/model"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// Thresholds bound the two confidence tiers. Pairs at or above High form
// high-confidence groups; pairs in [Medium, High) form medium groups.
type Thresholds struct {
	High   float64
	Medium float64
}

// DefaultThresholds matches the documented tier boundaries.
var DefaultThresholds = Thresholds{High: 0.95, Medium: 0.85}

// Engine runs similarity grouping against a store and tracks reported
// groups so deletions can be confirmed as a separate step. The engine never
// prompts; confirmation is always an explicit API call.
type Engine struct {
	store      registrystore.RecordStore
	thresholds Thresholds

	mu      sync.Mutex
	pending map[uuid.UUID]model.DeduplicationGroup
}

// NewEngine creates an Engine. Zero thresholds fall back to the defaults.
func NewEngine(store registrystore.RecordStore, thresholds Thresholds) *Engine {
	if thresholds.High == 0 {
		thresholds.High = DefaultThresholds.High
	}
	if thresholds.Medium == 0 {
		thresholds.Medium = DefaultThresholds.Medium
	}
	return &Engine{
		store:      store,
		thresholds: thresholds,
		pending:    make(map[uuid.UUID]model.DeduplicationGroup),
	}
}

// Run fetches the owner's records and reports duplicate groups. High-tier
// non-canonical members are deleted automatically; medium-tier groups are
// reported only and wait for ConfirmDeletion.
func (e *Engine) Run(ctx context.Context, ownerKey string) ([]model.DeduplicationGroup, error) {
	if ownerKey == "" {
		return nil, &registrystore.ValidationError{Field: "ownerKey", Message: "whole-store dedup is not allowed; scope to one owner key"}
	}
	records, err := e.store.ListByOwner(ctx, ownerKey)
	if err != nil {
		return nil, fmt.Errorf("list records for owner %s: %w", ownerKey, err)
	}

	groups, err := GroupRecords(records, e.thresholds)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	for _, g := range groups {
		e.pending[g.ID] = g
	}
	e.mu.Unlock()

	for _, g := range groups {
		metrics.ObserveDedupGroup(string(g.ConfidenceTier))
		if g.ConfidenceTier != model.TierHigh {
			continue
		}
		// Cancellation is checked between groups so a cancelled run never
		// leaves a group half-deleted.
		select {
		case <-ctx.Done():
			return groups, ctx.Err()
		default:
		}
		if err := e.deleteNonCanonical(ctx, g); err != nil {
			log.Error("Dedup: auto-delete failed", "group", g.ID, "err", err)
		}
	}

	return groups, nil
}

// ConfirmDeletion deletes the non-canonical members of a previously
// reported group. This is the only way medium-confidence duplicates are
// ever removed.
func (e *Engine) ConfirmDeletion(ctx context.Context, groupID uuid.UUID) error {
	e.mu.Lock()
	group, ok := e.pending[groupID]
	e.mu.Unlock()
	if !ok {
		return &registrystore.NotFoundError{Resource: "dedup group", ID: groupID.String()}
	}
	if err := e.deleteNonCanonical(ctx, group); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.pending, groupID)
	e.mu.Unlock()
	return nil
}

// PendingGroups returns groups reported by earlier runs that have not been
// confirmed yet, sorted by id for stable output.
func (e *Engine) PendingGroups() []model.DeduplicationGroup {
	e.mu.Lock()
	defer e.mu.Unlock()
	groups := lo.Values(e.pending)
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID.String() < groups[j].ID.String() })
	return groups
}

func (e *Engine) deleteNonCanonical(ctx context.Context, g model.DeduplicationGroup) error {
	for _, id := range g.MemberIDs {
		if id == g.CanonicalID {
			continue
		}
		if err := e.store.Delete(ctx, id); err != nil {
			return fmt.Errorf("delete duplicate %s: %w", id, err)
		}
	}
	e.mu.Lock()
	delete(e.pending, g.ID)
	e.mu.Unlock()
	return nil
}

// GroupRecords computes duplicate groups for records that all share one
// owner key. It is deterministic: identical inputs always produce the same
// groups with the same canonical members (group ids aside).
//
// Complexity is O(n²) pairwise cosine similarity, which is why callers must
// scope invocations to a single owner key.
func GroupRecords(records []model.MemoryRecord, thresholds Thresholds) ([]model.DeduplicationGroup, error) {
	if len(records) > 1 {
		owner := records[0].OwnerKey
		for i := range records {
			if records[i].OwnerKey != owner {
				return nil, &registrystore.ValidationError{
					Field:   "records",
					Message: fmt.Sprintf("mixed owner keys %q and %q; dedup is per-owner", owner, records[i].OwnerKey),
				}
			}
		}
	}

	// Deleted records and records without embeddings never participate.
	candidates := lo.Filter(records, func(r model.MemoryRecord, _ int) bool {
		return r.State != model.StateDeleted && len(r.Embedding) > 0
	})
	// Stable input order keeps union-find results deterministic.
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].ID.String() < candidates[j].ID.String()
	})

	high := newUnionFind(len(candidates))
	medium := newUnionFind(len(candidates))

	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			sim := cosineSimilarity(candidates[i].Embedding, candidates[j].Embedding)
			if sim >= thresholds.High {
				high.union(i, j)
			}
			if sim >= thresholds.Medium {
				medium.union(i, j)
			}
		}
	}

	var groups []model.DeduplicationGroup

	// High tier first: transitively-closed components of high-similarity pairs.
	inHigh := make(map[int]bool)
	for _, members := range components(high, len(candidates)) {
		if len(members) < 2 {
			continue
		}
		for _, m := range members {
			inHigh[m] = true
		}
		groups = append(groups, buildGroup(candidates, members, model.TierHigh, groupMinSim(candidates, members)))
	}

	// Medium tier: components linked at the lower threshold, excluding
	// records already claimed by a high group.
	for _, members := range components(medium, len(candidates)) {
		free := lo.Filter(members, func(m int, _ int) bool { return !inHigh[m] })
		if len(free) < 2 {
			continue
		}
		groups = append(groups, buildGroup(candidates, free, model.TierMedium, groupMinSim(candidates, free)))
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].CanonicalID.String() < groups[j].CanonicalID.String()
	})
	return groups, nil
}

// buildGroup picks the canonical member: newest CreatedAt, then highest
// AccessCount, then smallest id. Fully deterministic.
func buildGroup(records []model.MemoryRecord, members []int, tier model.ConfidenceTier, sim float64) model.DeduplicationGroup {
	canonical := members[0]
	for _, m := range members[1:] {
		if recordWins(&records[m], &records[canonical]) {
			canonical = m
		}
	}
	memberIDs := lo.Map(members, func(m int, _ int) uuid.UUID { return records[m].ID })
	sort.Slice(memberIDs, func(i, j int) bool { return memberIDs[i].String() < memberIDs[j].String() })
	return model.DeduplicationGroup{
		ID:              uuid.New(),
		CanonicalID:     records[canonical].ID,
		MemberIDs:       memberIDs,
		SimilarityScore: sim,
		ConfidenceTier:  tier,
	}
}

func recordWins(a, b *model.MemoryRecord) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	if a.AccessCount != b.AccessCount {
		return a.AccessCount > b.AccessCount
	}
	return a.ID.String() < b.ID.String()
}

// groupMinSim returns the smallest pairwise similarity inside a group; this
// is the weakest link that held the transitive closure together.
func groupMinSim(records []model.MemoryRecord, members []int) float64 {
	minSim := math.Inf(1)
	for i := 0; i < len(members); i++ {
		for j := i + 1; j < len(members); j++ {
			sim := cosineSimilarity(records[members[i]].Embedding, records[members[j]].Embedding)
			if sim < minSim {
				minSim = sim
			}
		}
	}
	if math.IsInf(minSim, 1) {
		return 0
	}
	return minSim
}

func components(u *unionFind, n int) [][]int {
	byRoot := make(map[int][]int)
	for i := 0; i < n; i++ {
		root := u.find(i)
		byRoot[root] = append(byRoot[root], i)
	}
	roots := lo.Keys(byRoot)
	sort.Ints(roots)
	out := make([][]int, 0, len(roots))
	for _, r := range roots {
		out = append(out, byRoot[r])
	}
	return out
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// unionFind is a plain disjoint-set with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	parent := make([]int, n)
	for i := range parent {
		parent[i] = i
	}
	return &unionFind{parent: parent}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if rb < ra {
		ra, rb = rb, ra
	}
	u.parent[rb] = ra
}
