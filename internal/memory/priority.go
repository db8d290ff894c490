package memory

import (
	"math"
	"sort"
	"time"

	"github.com/succ-project/succ/internal/store"
)

// typeWeights mirrors spec's type_weight table for priority_score.
var typeWeights = map[store.MemoryType]float64{
	store.MemoryTypeDecision:    1.0,
	store.MemoryTypeError:       0.9,
	store.MemoryTypeDeadEnd:     0.85,
	store.MemoryTypePattern:     0.8,
	store.MemoryTypeLearning:    0.7,
	store.MemoryTypeObservation: 0.5,
}

const criticalTagBoost = 0.1

var criticalTags = map[string]struct{}{
	"critical":     {},
	"architecture": {},
	"security":     {},
}

// PriorityScore computes priority_score for m as of now:
//
//	0.30*is_invariant + 0.25*confidence_decayed + 0.20*min(correction,5)/5 +
//	0.15*type_weight + 0.10*min(access,20)/20
//
// confidence_decayed = quality_score * max(exp(-ln2 * hours/168), 0.1)
func PriorityScore(m *store.Memory, now time.Time) float64 {
	invariant := 0.0
	if m.IsInvariant {
		invariant = 1.0
	}

	reference := m.LastAccessedAt
	if reference.IsZero() {
		reference = m.CreatedAt
	}
	hours := now.Sub(reference).Hours()
	if hours < 0 {
		hours = 0
	}
	decay := math.Max(math.Exp(-math.Ln2*hours/168.0), 0.1)
	confidenceDecayed := m.QualityScore * decay

	correctionTerm := float64(min(m.CorrectionCount, 5)) / 5.0

	tw := typeWeights[m.Type]
	if tw == 0 {
		tw = 0.5
	}
	for _, tag := range m.Tags {
		if _, ok := criticalTags[tag]; ok {
			tw += criticalTagBoost
			break
		}
	}
	if tw > 1.0 {
		tw = 1.0
	}

	accessTerm := float64(min(m.AccessCount, 20)) / 20.0

	return 0.30*invariant + 0.25*confidenceDecayed + 0.20*correctionTerm + 0.15*tw + 0.10*accessTerm
}

// diversityThreshold is the cosine similarity above which a working-set
// candidate is considered redundant with one already selected.
const diversityThreshold = 0.85

// AssembleWorkingSet ranks candidates by PriorityScore (descending), always
// keeping pinned memories first, then fills remaining slots from the
// highest-scoring candidates while skipping near-duplicates (cosine >=
// diversityThreshold against an already-selected memory).
func AssembleWorkingSet(candidates []*store.Memory, slots int, now time.Time) []*store.Memory {
	if slots <= 0 || len(candidates) == 0 {
		return nil
	}

	pinned := make([]*store.Memory, 0, len(candidates))
	rest := make([]*store.Memory, 0, len(candidates))
	for _, m := range candidates {
		if m.Pinned() {
			pinned = append(pinned, m)
		} else {
			rest = append(rest, m)
		}
	}

	sort.SliceStable(pinned, func(i, j int) bool {
		return PriorityScore(pinned[i], now) > PriorityScore(pinned[j], now)
	})
	sort.SliceStable(rest, func(i, j int) bool {
		return PriorityScore(rest[i], now) > PriorityScore(rest[j], now)
	})

	selected := make([]*store.Memory, 0, slots)
	for _, m := range pinned {
		if len(selected) >= slots {
			break
		}
		selected = append(selected, m)
	}

	for _, m := range rest {
		if len(selected) >= slots {
			break
		}
		if isRedundant(m, selected) {
			continue
		}
		selected = append(selected, m)
	}

	return selected
}

func isRedundant(candidate *store.Memory, selected []*store.Memory) bool {
	if len(candidate.Embedding) == 0 {
		return false
	}
	for _, s := range selected {
		if len(s.Embedding) == 0 {
			continue
		}
		if cosineSimilarity(candidate.Embedding, s.Embedding) >= diversityThreshold {
			return true
		}
	}
	return false
}
