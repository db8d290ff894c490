package idle

import (
	"context"
	"fmt"

	"github.com/succ-project/succ/internal/graph"
	"github.com/succ-project/succ/internal/memory"
	"github.com/succ-project/succ/internal/store"
)

// ReflectionOutcome reports the fate of one synthesized candidate.
type ReflectionOutcome struct {
	Content      string
	Saved        bool
	Reinforced   bool // true if folded into an existing pattern/learning via correction_count
	ExistingID   string
	NewMemoryID  string
}

// Reflect clusters the given observation memories via community detection
// over their existing links, and for every cluster with at least
// minClusterSize members and at most maxPerCluster unreflected observations,
// asks reflector to synthesize 1-3 pattern/learning memories. Candidates
// within reflectDedup cosine similarity of an existing pattern/learning
// reinforce it (correction_count++) instead of creating a duplicate.
func (p *Pipeline) Reflect(ctx context.Context, reflector Reflector, observations []*store.Memory, links []*store.MemoryLink, vectors similarityIndex) ([]ReflectionOutcome, error) {
	if reflector == nil || len(observations) == 0 {
		return nil, nil
	}

	byID := make(map[string]*store.Memory, len(observations))
	for _, m := range observations {
		byID[m.ID] = m
	}

	labels := graph.DetectCommunities(links, 20)
	clusters := make(map[string][]*store.Memory)
	for _, m := range observations {
		label, ok := labels[m.ID]
		if !ok {
			label = m.ID // singleton cluster
		}
		clusters[label] = append(clusters[label], m)
	}

	var outcomes []ReflectionOutcome
	for _, members := range clusters {
		unreflected := filterUnreflected(members)
		if len(members) < p.minClusterSize || len(unreflected) == 0 {
			continue
		}
		if len(unreflected) > p.maxPerCluster {
			unreflected = unreflected[:p.maxPerCluster]
		}

		texts := make([]string, len(unreflected))
		for i, m := range unreflected {
			texts[i] = m.Content
		}

		candidates, err := reflector.Reflect(ctx, texts)
		if err != nil {
			return outcomes, fmt.Errorf("idle: reflect cluster: %w", err)
		}
		if len(candidates) > 3 {
			candidates = candidates[:3]
		}

		for _, candidate := range candidates {
			outcome, err := p.admitReflection(ctx, candidate, vectors)
			if err != nil {
				return outcomes, err
			}
			outcomes = append(outcomes, outcome)
		}
	}

	return outcomes, nil
}

// filterUnreflected keeps only observation memories not yet tagged as having
// contributed to a synthesized reflection.
func filterUnreflected(members []*store.Memory) []*store.Memory {
	var out []*store.Memory
	for _, m := range members {
		if !hasTag(m.Tags, "reflected") {
			out = append(out, m)
		}
	}
	return out
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// admitReflection saves a synthesized candidate, reinforcing an existing
// near-duplicate pattern/learning (cosine >= reflectDedup) instead of
// creating a new memory when one already covers the same ground.
func (p *Pipeline) admitReflection(ctx context.Context, content string, vectors similarityIndex) (ReflectionOutcome, error) {
	if p.core == nil {
		return ReflectionOutcome{}, fmt.Errorf("idle: no memory core configured")
	}

	if vectors != nil {
		if dup, sim, err := p.nearestExisting(ctx, content, vectors); err == nil && dup != nil && sim >= p.reflectDedup {
			if err := p.core.IncrementCorrectionCount(ctx, dup.ID); err != nil {
				return ReflectionOutcome{}, err
			}
			return ReflectionOutcome{Content: content, Reinforced: true, ExistingID: dup.ID}, nil
		}
	}

	res, err := p.core.Save(ctx, content, store.MemoryTypeLearning, memory.SaveOpts{Source: "reflection"})
	if err != nil {
		return ReflectionOutcome{Content: content, Saved: false}, nil //nolint:nilerr // rejection (quality/sensitive) is not a pipeline failure
	}
	return ReflectionOutcome{Content: content, Saved: !res.Duplicate, NewMemoryID: res.Memory.ID}, nil
}

func (p *Pipeline) nearestExisting(ctx context.Context, content string, vectors similarityIndex) (*store.Memory, float64, error) {
	if p.core == nil {
		return nil, 0, nil
	}
	embedding, err := p.core.EmbedForSearch(ctx, content)
	if err != nil || len(embedding) == 0 {
		return nil, 0, err
	}
	results, err := vectors.Search(ctx, embedding, 1)
	if err != nil || len(results) == 0 {
		return nil, 0, err
	}
	m, err := p.db.GetMemory(ctx, results[0].ID)
	if err != nil {
		return nil, 0, err
	}
	return m, float64(results[0].Score), nil
}
