// Package graph implements the knowledge graph over memories (C7): typed
// links, similarity/proximity auto-linking, LLM relation classification,
// degree centrality, and community detection.
package graph

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/succ-project/succ/internal/store"
)

// Graph wraps a MemoryStore with the linking/centrality/community
// operations that make up the knowledge graph.
type Graph struct {
	db store.MemoryStore
}

// New constructs a Graph over db.
func New(db store.MemoryStore) *Graph {
	return &Graph{db: db}
}

func linkID(fromID, toID string, typ store.LinkType) string {
	sum := sha256.Sum256([]byte(string(typ) + "|" + fromID + "|" + toID))
	return hex.EncodeToString(sum[:16])
}

// normalizeEndpoints orders (fromID, toID) so symmetric link types store a
// single canonical row regardless of discovery order.
func normalizeEndpoints(fromID, toID string, typ store.LinkType) (string, string) {
	if store.SymmetricLinkTypes()[typ] && toID < fromID {
		return toID, fromID
	}
	return fromID, toID
}

// Link creates or replaces a typed edge between two memories.
func (g *Graph) Link(ctx context.Context, fromID, toID string, typ store.LinkType, weight, confidence float64) error {
	if fromID == toID {
		return fmt.Errorf("graph: cannot link memory %s to itself", fromID)
	}
	from, to := normalizeEndpoints(fromID, toID, typ)
	l := &store.MemoryLink{
		ID:         linkID(from, to, typ),
		FromID:     from,
		ToID:       to,
		Type:       typ,
		Weight:     weight,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
	return g.db.SaveLink(ctx, l)
}

// NeighborSearcher is the minimal vector-search capability AutoLinkSimilar
// needs; satisfied by store.VectorStore.
type NeighborSearcher interface {
	Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error)
}

// AutoLinkSimilar links memoryID to its nearest neighbors in the memory
// vector index scoring at or above threshold, as similar_to edges.
func (g *Graph) AutoLinkSimilar(ctx context.Context, vectors NeighborSearcher, memoryID string, embedding []float32, threshold float64, k int) (int, error) {
	if vectors == nil || len(embedding) == 0 {
		return 0, nil
	}
	results, err := vectors.Search(ctx, embedding, k+1) // +1: the memory itself is its own nearest neighbor
	if err != nil {
		return 0, err
	}
	linked := 0
	for _, r := range results {
		if r.ID == memoryID || float64(r.Score) < threshold {
			continue
		}
		if err := g.Link(ctx, memoryID, r.ID, store.LinkSimilarTo, float64(r.Score), 0); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

// ProximityLink links memories that co-occurred in the same session/context
// window at least minCooccurrence times, as related edges (offline job, C8).
func (g *Graph) ProximityLink(ctx context.Context, cooccurrences map[[2]string]int, minCooccurrence int) (int, error) {
	linked := 0
	for pair, count := range cooccurrences {
		if count < minCooccurrence {
			continue
		}
		weight := float64(count) / float64(count+1) // asymptotic toward 1, never exactly 1
		if err := g.Link(ctx, pair[0], pair[1], store.LinkRelated, weight, 0); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

// RelationClassifier classifies the relation between two memories' content,
// returning one of the fixed LinkType labels and a confidence in [0,1].
// Implementations call out to an LLM; ClassifyUnenriched is parse-failure-safe
// and falls back to leaving the edge as similar_to when classify fails.
type RelationClassifier interface {
	Classify(ctx context.Context, a, b string) (store.LinkType, float64, error)
}

var classifiableTypes = map[store.LinkType]bool{
	store.LinkCausedBy:    true,
	store.LinkLeadsTo:     true,
	store.LinkContradicts: true,
	store.LinkImplements:  true,
	store.LinkSupersedes:  true,
	store.LinkReferences:  true,
}

// ClassifyUnenriched upgrades similar_to edges with confidence 0 (heuristic
// only) to a more specific typed relation via classifier, for up to limit
// edges. Classification failures or timeouts leave the edge untouched.
func (g *Graph) ClassifyUnenriched(ctx context.Context, classifier RelationClassifier, memories func(id string) (*store.Memory, error), limit int) (int, error) {
	if classifier == nil {
		return 0, nil
	}
	all, err := g.db.AllLinks(ctx)
	if err != nil {
		return 0, err
	}
	classified := 0
	for _, l := range all {
		if classified >= limit {
			break
		}
		if l.Type != store.LinkSimilarTo || l.Confidence > 0 {
			continue
		}
		a, err := memories(l.FromID)
		if err != nil || a == nil {
			continue
		}
		b, err := memories(l.ToID)
		if err != nil || b == nil {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
		newType, confidence, err := classifier.Classify(cctx, a.Content, b.Content)
		cancel()
		if err != nil || !classifiableTypes[newType] {
			continue
		}

		if err := g.Link(ctx, l.FromID, l.ToID, newType, l.Weight, confidence); err != nil {
			return classified, err
		}
		classified++
	}
	return classified, nil
}

// ComputeCentrality recomputes degree centrality for every memory touched by
// a link, normalizes by the highest observed degree, and persists the cache.
func (g *Graph) ComputeCentrality(ctx context.Context) error {
	links, err := g.db.AllLinks(ctx)
	if err != nil {
		return err
	}
	degree := make(map[string]int)
	for _, l := range links {
		degree[l.FromID]++
		degree[l.ToID]++
	}
	if len(degree) == 0 {
		return nil
	}

	maxDegree := 0
	for _, d := range degree {
		if d > maxDegree {
			maxDegree = d
		}
	}
	if maxDegree == 0 {
		maxDegree = 1
	}

	now := time.Now().UTC()
	scores := make([]*store.CentralityScore, 0, len(degree))
	for id, d := range degree {
		scores = append(scores, &store.CentralityScore{
			MemoryID:  id,
			Degree:    d,
			Score:     float64(d) / float64(maxDegree),
			UpdatedAt: now,
		})
	}
	return g.db.SaveCentrality(ctx, scores)
}

// DetectCommunities runs deterministic synchronous label propagation over
// the current link set: every memory starts in its own community, then each
// round every node adopts the most common neighbor label (ties broken by
// lowest label value for determinism), until no label changes or maxRounds
// is reached. Returns memoryID -> community label.
func DetectCommunities(links []*store.MemoryLink, maxRounds int) map[string]string {
	adjacency := make(map[string]map[string]bool)
	addEdge := func(a, b string) {
		if adjacency[a] == nil {
			adjacency[a] = make(map[string]bool)
		}
		adjacency[a][b] = true
	}
	for _, l := range links {
		addEdge(l.FromID, l.ToID)
		addEdge(l.ToID, l.FromID)
	}

	nodes := make([]string, 0, len(adjacency))
	for n := range adjacency {
		nodes = append(nodes, n)
	}
	sort.Strings(nodes)

	labels := make(map[string]string, len(nodes))
	for _, n := range nodes {
		labels[n] = n
	}

	for round := 0; round < maxRounds; round++ {
		changed := false
		for _, n := range nodes {
			counts := make(map[string]int)
			for neighbor := range adjacency[n] {
				counts[labels[neighbor]]++
			}
			if len(counts) == 0 {
				continue
			}
			best := bestLabel(counts)
			if best != labels[n] {
				labels[n] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	return labels
}

func bestLabel(counts map[string]int) string {
	var candidates []string
	max := 0
	for label, c := range counts {
		if c > max {
			max = c
		}
	}
	for label, c := range counts {
		if c == max {
			candidates = append(candidates, label)
		}
	}
	sort.Strings(candidates)
	return candidates[0]
}
