package store

import (
	"context"
	"time"
)

// MemoryType classifies what kind of fact a Memory record captures.
type MemoryType string

const (
	MemoryTypeObservation MemoryType = "observation"
	MemoryTypeDecision    MemoryType = "decision"
	MemoryTypeLearning    MemoryType = "learning"
	MemoryTypeError       MemoryType = "error"
	MemoryTypePattern     MemoryType = "pattern"
	MemoryTypeDeadEnd     MemoryType = "dead_end"
)

// AllMemoryTypes lists the six memory types in priority order (highest
// type_weight first), matching the weights used by priority_score.
var AllMemoryTypes = []MemoryType{
	MemoryTypeDecision, MemoryTypeError, MemoryTypeDeadEnd,
	MemoryTypePattern, MemoryTypeLearning, MemoryTypeObservation,
}

// Memory is a single typed unit of project/user knowledge (C6).
type Memory struct {
	ID              string
	Content         string
	ContentHash     string // sha256(content), used for dedup lookup
	Embedding       []float32
	Tags            []string
	Source          string // free string: file path, session id, or caller tag
	Type            MemoryType
	QualityScore    float64
	QualityFactors  map[string]float64
	IsInvariant     bool
	CorrectionCount int
	InvalidatedBy   string // ID of the memory that superseded this one, empty if active
	AccessCount     int
	LastAccessedAt  time.Time
	ValidFrom       time.Time
	ValidUntil      time.Time // zero value means no expiry ("open")
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Pinned reports whether a memory is protected from deletion/invalidation.
func (m *Memory) Pinned() bool {
	return m.IsInvariant || m.CorrectionCount >= 2
}

// Expired reports whether a memory's temporal validity window has closed.
func (m *Memory) Expired(now time.Time) bool {
	return !m.ValidUntil.IsZero() && now.After(m.ValidUntil)
}

// Active reports whether a memory should participate in retrieval: not
// superseded, not expired.
func (m *Memory) Active(now time.Time) bool {
	return m.InvalidatedBy == "" && !m.Expired(now)
}

// LinkType classifies a typed edge between two memories (C7).
type LinkType string

const (
	LinkRelated     LinkType = "related"
	LinkSimilarTo   LinkType = "similar_to"
	LinkCausedBy    LinkType = "caused_by"
	LinkLeadsTo     LinkType = "leads_to"
	LinkContradicts LinkType = "contradicts"
	LinkImplements  LinkType = "implements"
	LinkSupersedes  LinkType = "supersedes"
	LinkReferences  LinkType = "references"
)

// MemoryLink is a typed, weighted, directed edge between two memories.
// For symmetric types (related, similar_to, contradicts) FromID/ToID are
// stored with the lexicographically smaller ID first so the pair is unique
// regardless of discovery order.
type MemoryLink struct {
	ID         string
	FromID     string
	ToID       string
	Type       LinkType
	Weight     float64
	Confidence float64 // set by LLM relation classification, 0 if heuristic-only
	CreatedAt  time.Time
}

// SymmetricLinkTypes returns the set of link types whose direction carries
// no meaning for storage purposes (classification still records FromID/ToID
// as discovered for display).
func SymmetricLinkTypes() map[LinkType]bool {
	return map[LinkType]bool{
		LinkRelated:     true,
		LinkSimilarTo:   true,
		LinkContradicts: true,
	}
}

// CentralityScore caches a memory's degree centrality within the knowledge graph.
type CentralityScore struct {
	MemoryID  string
	Score     float64 // normalized 0-1
	Degree    int
	UpdatedAt time.Time
}

// TokenEventKind classifies a recorded token-consumption event.
type TokenEventKind string

const (
	TokenEventRetrieval   TokenEventKind = "retrieval"
	TokenEventReflection  TokenEventKind = "reflection"
	TokenEventSummary     TokenEventKind = "summary"
	TokenEventClassify    TokenEventKind = "classify"
)

// TokenEvent records LLM/embedder token usage for cost accounting.
type TokenEvent struct {
	ID          string
	Kind        TokenEventKind
	PromptTok   int
	CompleteTok int
	Model       string
	OccurredAt  time.Time
}

// MemoryFilter narrows a memory listing/search to a subset.
type MemoryFilter struct {
	Types          []MemoryType
	Tags           []string
	IncludeExpired bool
	IncludeInvalid bool
	Source         string
}

// MemoryStore persists typed memories, their links, centrality cache, and
// token events (C6/C7 persistence layer, backed by the relational Dispatcher).
type MemoryStore interface {
	SaveMemory(ctx context.Context, m *Memory) error
	GetMemory(ctx context.Context, id string) (*Memory, error)
	FindByContentHash(ctx context.Context, hash string) (*Memory, error)
	ListMemories(ctx context.Context, filter MemoryFilter, limit int) ([]*Memory, error)
	UpdateTags(ctx context.Context, id string, tags []string) error
	IncrementAccessBatch(ctx context.Context, ids []string, at time.Time) error
	IncrementCorrectionCount(ctx context.Context, id string) error
	InvalidateMemory(ctx context.Context, id, supersededBy string) error
	DeleteMemory(ctx context.Context, id string) error // refuses if Pinned()
	AllMemoryIDs(ctx context.Context) ([]string, error)

	SaveLink(ctx context.Context, l *MemoryLink) error
	GetLinks(ctx context.Context, memoryID string) ([]*MemoryLink, error)
	DeleteLink(ctx context.Context, id string) error
	DeleteLinksForMemory(ctx context.Context, memoryID string) error
	TransferLinks(ctx context.Context, fromID, toID string) error // for consolidation merges
	AllLinks(ctx context.Context) ([]*MemoryLink, error)

	SaveCentrality(ctx context.Context, scores []*CentralityScore) error
	GetCentrality(ctx context.Context, memoryID string) (*CentralityScore, error)

	RecordTokenEvent(ctx context.Context, e *TokenEvent) error

	Close() error
}
