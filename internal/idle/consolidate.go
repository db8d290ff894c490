package idle

import (
	"context"
	"fmt"
	"sort"

	"github.com/succ-project/succ/internal/store"
)

// ConsolidationOutcome describes what happened to one candidate pair.
type ConsolidationOutcome struct {
	KeepID   string
	MergedID string // empty if decision was keep_both
	Decision string // "merge", "delete", "keep_both"
}

// ConsolidationReport summarizes a Consolidate run.
type ConsolidationReport struct {
	Outcomes []ConsolidationOutcome
	Skipped  int // pinned memories considered for delete but protected
}

// similarityIndex supplies nearest-neighbor candidates for consolidation;
// satisfied by store.VectorStore.
type similarityIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
}

// Consolidate finds near-duplicate memory pairs (cosine >= mergeSimilarity)
// among the given candidates and merges them: the lower-quality memory's
// links transfer to the higher-quality one via TransferLinks, then the
// lower-quality memory is deleted, unless it is pinned (kept as keep_both).
func (p *Pipeline) Consolidate(ctx context.Context, vectors similarityIndex, candidates []*store.Memory) (*ConsolidationReport, error) {
	report := &ConsolidationReport{}
	processed := make(map[string]bool, len(candidates))

	limit := len(candidates)
	if p.maxMemories > 0 && limit > p.maxMemories {
		limit = p.maxMemories
	}

	for i := 0; i < limit; i++ {
		m := candidates[i]
		if processed[m.ID] || len(m.Embedding) == 0 {
			continue
		}

		neighbors, err := vectors.Search(ctx, m.Embedding, 5)
		if err != nil {
			return nil, fmt.Errorf("idle: consolidation search for %s: %w", m.ID, err)
		}

		for _, n := range neighbors {
			if n.ID == m.ID || processed[n.ID] || float64(n.Score) < p.mergeSimilarity {
				continue
			}
			other, err := p.db.GetMemory(ctx, n.ID)
			if err != nil {
				return nil, err
			}
			if other == nil || !other.Active(nowUTC()) {
				continue
			}

			keep, drop := pickKeeper(m, other)
			processed[keep.ID] = true
			processed[drop.ID] = true

			if drop.Pinned() {
				report.Outcomes = append(report.Outcomes, ConsolidationOutcome{KeepID: keep.ID, Decision: "keep_both"})
				report.Skipped++
				continue
			}

			if err := p.db.TransferLinks(ctx, drop.ID, keep.ID); err != nil {
				return nil, err
			}
			if err := p.db.DeleteMemory(ctx, drop.ID); err != nil {
				return nil, err
			}
			report.Outcomes = append(report.Outcomes, ConsolidationOutcome{KeepID: keep.ID, MergedID: drop.ID, Decision: "merge"})
		}
	}

	return report, nil
}

// pickKeeper decides which of two near-duplicate memories survives: pinned
// beats unpinned, then higher quality_score, then more recently accessed.
func pickKeeper(a, b *store.Memory) (keep, drop *store.Memory) {
	if a.Pinned() != b.Pinned() {
		if a.Pinned() {
			return a, b
		}
		return b, a
	}
	if a.QualityScore != b.QualityScore {
		if a.QualityScore > b.QualityScore {
			return a, b
		}
		return b, a
	}
	if a.LastAccessedAt.After(b.LastAccessedAt) {
		return a, b
	}
	return b, a
}

// sortByQualityDesc is a small helper kept for callers that want a
// deterministic processing order (most valuable memories considered first).
func sortByQualityDesc(memories []*store.Memory) {
	sort.SliceStable(memories, func(i, j int) bool {
		return memories[i].QualityScore > memories[j].QualityScore
	})
}
