// Package memory implements the typed memory store (C6): content-addressed
// dedup, quality gating, invariant detection, the correction protocol, and
// working-set assembly for retrieval.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/succ-project/succ/internal/config"
	"github.com/succ-project/succ/internal/embed"
	amerrors "github.com/succ-project/succ/internal/errors"
	"github.com/succ-project/succ/internal/sensitive"
	"github.com/succ-project/succ/internal/store"
)

// Core implements memory CRUD over a MemoryStore, gated by the sensitive
// filter and quality scorer, with dedup and invariant/correction bookkeeping.
type Core struct {
	db       store.MemoryStore
	vectors  store.VectorStore // memory-corpus HNSW index, keyed by memory ID
	embedder embed.Embedder
	cfg      config.MemoryConfig
	sensCfg  config.SensitiveConfig
	logger   *slog.Logger
}

// New constructs a memory Core. vectors and embedder may be nil to run in a
// BM25/text-only degraded mode (dedup and FindSimilar become no-ops).
func New(db store.MemoryStore, vectors store.VectorStore, embedder embed.Embedder, cfg config.MemoryConfig, sensCfg config.SensitiveConfig, logger *slog.Logger) *Core {
	if logger == nil {
		logger = slog.Default()
	}
	return &Core{db: db, vectors: vectors, embedder: embedder, cfg: cfg, sensCfg: sensCfg, logger: logger}
}

// SaveOpts carries the optional fields a caller can set on a new memory.
type SaveOpts struct {
	Tags       []string
	Source     string
	ValidFrom  time.Time
	ValidUntil time.Time
	Supersedes string // ID of a memory this one corrects
	SessionID  string
}

// SaveResult reports the outcome of a Save call.
type SaveResult struct {
	Memory    *store.Memory
	Duplicate bool
}

// Save writes a new memory through the full admission path: sensitive
// filter -> quality score -> embed -> dedup -> invariant detection ->
// correction bookkeeping -> persist.
func (c *Core) Save(ctx context.Context, content string, memType store.MemoryType, opts SaveOpts) (*SaveResult, error) {
	if c.sensCfg.Enabled {
		hasSensitive, findings, redacted := sensitive.Scan(content)
		if hasSensitive {
			if !c.sensCfg.AutoRedact {
				return nil, amerrors.SensitiveError(fmt.Sprintf("content contains %d sensitive finding(s)", len(findings)))
			}
			content = redacted
		}
	}

	qr := sensitive.Score(content, string(memType))
	threshold := c.cfg.QualityThreshold
	if threshold == 0 {
		threshold = 0.3
	}
	if qr.Score < threshold {
		return nil, amerrors.QualityTooLowError(fmt.Sprintf("quality score %.2f below threshold %.2f", qr.Score, threshold))
	}

	hash := contentHash(content)
	if existing, err := c.db.FindByContentHash(ctx, hash); err != nil {
		return nil, err
	} else if existing != nil {
		return &SaveResult{Memory: existing, Duplicate: true}, nil
	}

	var embedding []float32
	if c.embedder != nil {
		var err error
		embedding, err = c.embedder.Embed(ctx, content)
		if err != nil {
			return nil, amerrors.DependencyError("embed memory content", err)
		}
	}

	dedupThreshold := c.cfg.DedupThreshold
	if dedupThreshold == 0 {
		dedupThreshold = 0.92
	}
	if len(embedding) > 0 && c.vectors != nil {
		if dup, sim, err := c.FindSimilar(ctx, embedding, dedupThreshold); err != nil {
			return nil, err
		} else if dup != nil {
			c.logger.Debug("memory dedup hit", "id", dup.ID, "similarity", sim)
			return &SaveResult{Memory: dup, Duplicate: true}, nil
		}
	}

	now := time.Now().UTC()
	m := &store.Memory{
		ID:             generateID(content, now),
		Content:        content,
		ContentHash:    hash,
		Embedding:      embedding,
		Tags:           opts.Tags,
		Source:         opts.Source,
		Type:           memType,
		QualityScore:   qr.Score,
		QualityFactors: qr.Factors,
		ValidFrom:      opts.ValidFrom,
		ValidUntil:     opts.ValidUntil,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if isInvariant(content) || c.matchesCanonicalInvariant(ctx, embedding) {
		m.IsInvariant = true
	}

	if opts.Supersedes != "" {
		old, err := c.db.GetMemory(ctx, opts.Supersedes)
		if err != nil {
			return nil, err
		}
		if old != nil {
			if old.Pinned() && old.InvalidatedBy == "" {
				// Pinned memories may still be superseded (that's how
				// correction_count grows toward the pin threshold); only an
				// explicit delete/invalidate-without-supersession is refused.
			}
			if err := c.db.InvalidateMemory(ctx, old.ID, m.ID); err != nil {
				return nil, err
			}
			m.CorrectionCount++
		}
	}

	if err := c.db.SaveMemory(ctx, m); err != nil {
		return nil, err
	}
	if len(embedding) > 0 && c.vectors != nil {
		if err := c.vectors.Add(ctx, []string{m.ID}, [][]float32{embedding}); err != nil {
			c.logger.Warn("memory vector index add failed", "id", m.ID, "error", err)
		}
	}

	return &SaveResult{Memory: m, Duplicate: false}, nil
}

// BatchItem is one candidate memory in a SaveBatch call.
type BatchItem struct {
	Content string
	Type    store.MemoryType
	Opts    SaveOpts
}

// BatchOutcome reports per-item results from SaveBatch.
type BatchOutcome struct {
	Memory *store.Memory
	Saved  bool
	Reason string
}

// SaveBatch saves a slice of candidate memories independently, continuing
// past individual failures (rejection reasons are reported per item, not
// raised as errors).
func (c *Core) SaveBatch(ctx context.Context, items []BatchItem) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(items))
	for i, item := range items {
		res, err := c.Save(ctx, item.Content, item.Type, item.Opts)
		if err != nil {
			outcomes[i] = BatchOutcome{Saved: false, Reason: err.Error()}
			continue
		}
		reason := "saved"
		if res.Duplicate {
			reason = "duplicate"
		}
		outcomes[i] = BatchOutcome{Memory: res.Memory, Saved: !res.Duplicate, Reason: reason}
	}
	return outcomes
}

// FindSimilar returns the closest memory above threshold, if any.
func (c *Core) FindSimilar(ctx context.Context, embedding []float32, threshold float64) (*store.Memory, float64, error) {
	if c.vectors == nil || len(embedding) == 0 {
		return nil, 0, nil
	}
	results, err := c.vectors.Search(ctx, embedding, 1)
	if err != nil {
		return nil, 0, err
	}
	if len(results) == 0 || float64(results[0].Score) < threshold {
		return nil, 0, nil
	}
	m, err := c.db.GetMemory(ctx, results[0].ID)
	if err != nil {
		return nil, 0, err
	}
	return m, float64(results[0].Score), nil
}

// SearchByVector returns the k nearest memories to embedding scoring above threshold.
func (c *Core) SearchByVector(ctx context.Context, embedding []float32, k int, threshold float64) ([]*store.Memory, error) {
	if c.vectors == nil || len(embedding) == 0 {
		return nil, nil
	}
	results, err := c.vectors.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	var out []*store.Memory
	for _, r := range results {
		if float64(r.Score) < threshold {
			continue
		}
		m, err := c.db.GetMemory(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, m)
		}
	}
	return out, nil
}

// ScoredMemory pairs a memory with its similarity score from a vector search.
type ScoredMemory struct {
	Memory *store.Memory
	Score  float64
}

// SearchByVectorScored is SearchByVector but keeps each hit's similarity
// score, for callers (e.g. the recall tool) that surface it to the caller.
func (c *Core) SearchByVectorScored(ctx context.Context, embedding []float32, k int, threshold float64) ([]ScoredMemory, error) {
	if c.vectors == nil || len(embedding) == 0 {
		return nil, nil
	}
	results, err := c.vectors.Search(ctx, embedding, k)
	if err != nil {
		return nil, err
	}
	var out []ScoredMemory
	for _, r := range results {
		if float64(r.Score) < threshold {
			continue
		}
		m, err := c.db.GetMemory(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		if m != nil {
			out = append(out, ScoredMemory{Memory: m, Score: float64(r.Score)})
		}
	}
	return out, nil
}

// EmbedForSearch embeds arbitrary text (e.g. a reflection candidate or
// query) using the configured embedder, for callers that need a vector
// without going through Save. Returns nil, nil when no embedder is
// configured.
func (c *Core) EmbedForSearch(ctx context.Context, text string) ([]float32, error) {
	if c.embedder == nil {
		return nil, nil
	}
	return c.embedder.Embed(ctx, text)
}

// GetByID fetches a memory by ID, returning a NotFound error if absent.
func (c *Core) GetByID(ctx context.Context, id string) (*store.Memory, error) {
	m, err := c.db.GetMemory(ctx, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, amerrors.NotFoundError(amerrors.ErrCodeMemoryNotFound, fmt.Sprintf("memory %s not found", id))
	}
	return m, nil
}

// Delete removes a memory. Pinned memories refuse deletion with PinnedMemory.
func (c *Core) Delete(ctx context.Context, id string) error {
	m, err := c.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m.Pinned() {
		return amerrors.PinnedMemoryError(fmt.Sprintf("memory %s is pinned and cannot be deleted", id))
	}
	if err := c.db.DeleteMemory(ctx, id); err != nil {
		return err
	}
	if c.vectors != nil {
		_ = c.vectors.Delete(ctx, []string{id})
	}
	return nil
}

// UpdateTags replaces a memory's tag set.
func (c *Core) UpdateTags(ctx context.Context, id string, tags []string) error {
	return c.db.UpdateTags(ctx, id, tags)
}

// IncrementAccessBatch bumps access bookkeeping for a set of memories
// returned by a retrieval pass.
func (c *Core) IncrementAccessBatch(ctx context.Context, ids []string) error {
	return c.db.IncrementAccessBatch(ctx, ids, time.Now().UTC())
}

// IncrementCorrectionCount bumps correction_count, e.g. when a reflection
// job reinforces an existing pattern/learning instead of creating a new one.
func (c *Core) IncrementCorrectionCount(ctx context.Context, id string) error {
	return c.db.IncrementCorrectionCount(ctx, id)
}

// Invalidate marks old as superseded by supersedingID. Refuses pinned memories.
func (c *Core) Invalidate(ctx context.Context, id, supersedingID string) error {
	m, err := c.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if m.Pinned() {
		return amerrors.PinnedMemoryError(fmt.Sprintf("memory %s is pinned and cannot be invalidated", id))
	}
	return c.db.InvalidateMemory(ctx, id, supersedingID)
}

func contentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func generateID(content string, at time.Time) string {
	sum := sha256.Sum256([]byte(content + at.String()))
	return hex.EncodeToString(sum[:16])
}

// invariantPhraseRe matches multilingual rule-language: "must", "never",
// "always", and their common non-English equivalents.
var invariantPhraseRe = regexp.MustCompile(`(?i)\b(must|never|always|required|mandatory)\b|всегда|никогда|必须|从不|永远`)

func isInvariant(content string) bool {
	return invariantPhraseRe.MatchString(content)
}

// canonicalInvariantPhrases seed the embedding-similarity invariant check.
var canonicalInvariantPhrases = []string{
	"never commit secrets to version control",
	"always run tests before merging",
	"this must never be disabled in production",
}

// matchesCanonicalInvariant compares embedding against cached canonical
// invariant phrase embeddings; cosine >= 0.55 flags the memory as invariant.
func (c *Core) matchesCanonicalInvariant(ctx context.Context, embedding []float32) bool {
	if c.embedder == nil || len(embedding) == 0 {
		return false
	}
	for _, phrase := range canonicalInvariantPhrases {
		ref, err := c.embedder.Embed(ctx, phrase)
		if err != nil || len(ref) == 0 {
			continue
		}
		if cosineSimilarity(embedding, ref) >= 0.55 {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrt(normA) * sqrt(normB))
}

func sqrt(v float64) float64 {
	// Avoid importing math solely for Sqrt in a file that otherwise has no
	// other math usage; kept trivial and inlined by the compiler.
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 32; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
