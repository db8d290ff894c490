// Package retrieval implements the corpus-agnostic hybrid retriever (C5):
// optional query expansion, parallel BM25 + vector search with graceful
// degradation, Reciprocal Rank Fusion, centrality/dead-end boosting, and
// pin-first truncation for memory corpora.
package retrieval

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/succ-project/succ/internal/embed"
	"github.com/succ-project/succ/internal/search"
	"github.com/succ-project/succ/internal/store"
)

// minFetchLimit is the floor on how many candidates each source fetches
// before fusion, regardless of the requested k.
const minFetchLimit = 20

// countingFetchLimit is the floor used when the caller indicates a
// counting/multi-session query, which needs broader recall than a top-k
// lookup.
const countingFetchLimit = 20 * 3

// maxQueryVariants bounds LLM-generated paraphrases per query.
const maxQueryVariants = 5

// QueryExpander generates paraphrases of a query to widen recall.
// Implementations call out to an LLM; failures are non-fatal.
type QueryExpander interface {
	Expand(ctx context.Context, query string, maxVariants int) ([]string, error)
}

// Result is one fused, boosted, ranked retrieval hit.
type Result struct {
	ID          string
	Score       float64
	BM25Score   float64
	VecScore    float64
	InBothLists bool
	Memory      *store.Memory // populated only when the corpus is the memory store
}

// Options tunes a single Retrieve call.
type Options struct {
	K              int
	CountingQuery  bool // widen fan-out for counting/aggregate queries
	CentralityBoost float64
	DeadEndBoost    float64
}

// DefaultOptions returns the spec's stated boost weights.
func DefaultOptions(k int) Options {
	return Options{K: k, CentralityBoost: 0.1, DeadEndBoost: 0.15}
}

// Retriever fuses BM25 and vector search over one corpus.
type Retriever struct {
	bm25     store.BM25Index
	vectors  store.VectorStore
	embedder embed.Embedder
	memories store.MemoryStore // optional: enables pin-first/centrality/dead-end boosting
	expander QueryExpander     // optional
	fusion   *search.RRFFusion
	weights  search.Weights
}

// New constructs a Retriever. memories and expander may be nil.
func New(bm25 store.BM25Index, vectors store.VectorStore, embedder embed.Embedder, memories store.MemoryStore, expander QueryExpander) *Retriever {
	return &Retriever{
		bm25:     bm25,
		vectors:  vectors,
		embedder: embedder,
		memories: memories,
		expander: expander,
		fusion:   search.NewRRFFusion(),
		weights:  search.Weights{BM25: 0.35, Semantic: 0.65},
	}
}

// Retrieve runs the full pipeline and returns up to opts.K results.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]*Result, error) {
	if opts.K <= 0 {
		opts.K = 10
	}

	fetchLimit := opts.K * 2
	if opts.CountingQuery && fetchLimit < countingFetchLimit {
		fetchLimit = countingFetchLimit
	}
	if fetchLimit < minFetchLimit {
		fetchLimit = minFetchLimit
	}

	variants := r.expandQuery(ctx, query)

	var bm25Results []*store.BM25Result
	var vecResults []*store.VectorResult
	var bm25Err, vecErr error

	g, gctx := errgroup.WithContext(ctx)
	if r.bm25 != nil {
		g.Go(func() error {
			bm25Results, bm25Err = r.bm25.Search(gctx, query, fetchLimit)
			return nil // graceful degradation: don't fail the group
		})
	}
	if r.vectors != nil && r.embedder != nil {
		g.Go(func() error {
			vecResults, vecErr = r.searchVariants(gctx, variants, fetchLimit)
			return nil
		})
	}
	_ = g.Wait()

	if bm25Err != nil && vecErr != nil {
		return nil, fmt.Errorf("retrieval: both bm25 and vector search failed: bm25=%v vec=%v", bm25Err, vecErr)
	}

	fused := r.fusion.Fuse(bm25Results, vecResults, r.weights)

	results := make([]*Result, 0, len(fused))
	for _, f := range fused {
		results = append(results, &Result{
			ID:          f.ChunkID,
			Score:       f.RRFScore,
			BM25Score:   f.BM25Score,
			VecScore:    f.VecScore,
			InBothLists: f.InBothLists,
		})
	}

	if r.memories != nil {
		if err := r.applyMemoryBoosts(ctx, results, opts); err != nil {
			return nil, err
		}
		results = pinFirstTruncate(results, opts.K)
		if err := r.bumpAccess(ctx, results); err != nil {
			return nil, err
		}
		return results, nil
	}

	if len(results) > opts.K {
		results = results[:opts.K]
	}
	return results, nil
}

// expandQuery asks the configured expander for paraphrases; on failure or
// when no expander is configured, only the original query is used.
func (r *Retriever) expandQuery(ctx context.Context, query string) []string {
	variants := []string{query}
	if r.expander == nil {
		return variants
	}
	paraphrases, err := r.expander.Expand(ctx, query, maxQueryVariants)
	if err != nil {
		return variants
	}
	if len(paraphrases) > maxQueryVariants {
		paraphrases = paraphrases[:maxQueryVariants]
	}
	return append(variants, paraphrases...)
}

// searchVariants embeds every query variant, searches each, and for ids
// found under multiple variants keeps the maximum score.
func (r *Retriever) searchVariants(ctx context.Context, variants []string, limit int) ([]*store.VectorResult, error) {
	embeddings, err := r.embedder.EmbedBatch(ctx, variants)
	if err != nil {
		return nil, err
	}

	best := make(map[string]*store.VectorResult)
	for _, emb := range embeddings {
		hits, err := r.vectors.Search(ctx, emb, limit)
		if err != nil {
			continue
		}
		for _, h := range hits {
			if existing, ok := best[h.ID]; !ok || h.Score > existing.Score {
				best[h.ID] = h
			}
		}
	}

	out := make([]*store.VectorResult, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	sortVectorResultsDesc(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortVectorResultsDesc(results []*store.VectorResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j-1].Score < results[j].Score; j-- {
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}

// applyMemoryBoosts adds the centrality and dead-end boosts to each result's
// score and attaches the backing Memory record.
func (r *Retriever) applyMemoryBoosts(ctx context.Context, results []*Result, opts Options) error {
	centralityBoost := opts.CentralityBoost
	deadEndBoost := opts.DeadEndBoost

	for _, res := range results {
		m, err := r.memories.GetMemory(ctx, res.ID)
		if err != nil {
			return err
		}
		if m == nil {
			continue
		}
		res.Memory = m

		if c, err := r.memories.GetCentrality(ctx, res.ID); err == nil && c != nil {
			res.Score += centralityBoost * c.Score
		}
		if m.Type == store.MemoryTypeDeadEnd {
			res.Score += deadEndBoost
		}
	}
	return nil
}

// pinFirstTruncate keeps every pinned memory result, then fills remaining
// slots by descending score, truncating to k total.
func pinFirstTruncate(results []*Result, k int) []*Result {
	if k <= 0 || len(results) <= k {
		return sortedByScoreDesc(results)
	}

	sorted := sortedByScoreDesc(results)
	var pinned, rest []*Result
	for _, r := range sorted {
		if r.Memory != nil && r.Memory.Pinned() {
			pinned = append(pinned, r)
		} else {
			rest = append(rest, r)
		}
	}

	out := make([]*Result, 0, k)
	out = append(out, pinned...)
	for _, r := range rest {
		if len(out) >= k {
			break
		}
		out = append(out, r)
	}
	if len(out) > k {
		out = out[:k]
	}
	return out
}

func sortedByScoreDesc(results []*Result) []*Result {
	out := make([]*Result, len(results))
	copy(out, results)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1].Score < out[j].Score; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// bumpAccess increments access_count/last_accessed_at for every memory
// returned to the caller.
func (r *Retriever) bumpAccess(ctx context.Context, results []*Result) error {
	if len(results) == 0 {
		return nil
	}
	ids := make([]string, 0, len(results))
	for _, res := range results {
		if res.Memory != nil {
			ids = append(ids, res.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return r.memories.IncrementAccessBatch(ctx, ids, nowUTC())
}
