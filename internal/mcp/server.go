package mcp

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/succ-project/succ/internal/async"
	"github.com/succ-project/succ/internal/checkpoint"
	"github.com/succ-project/succ/internal/config"
	"github.com/succ-project/succ/internal/embed"
	"github.com/succ-project/succ/internal/graph"
	"github.com/succ-project/succ/internal/memory"
	"github.com/succ-project/succ/internal/search"
	"github.com/succ-project/succ/internal/sensitive"
	"github.com/succ-project/succ/internal/store"
	"github.com/succ-project/succ/internal/telemetry"
	"github.com/succ-project/succ/pkg/version"
)

// Server is the MCP server for succ.
// It bridges AI clients (Claude Code, Cursor) with the hybrid search engine.
type Server struct {
	mcp      *mcp.Server
	engine   search.SearchEngine
	metadata store.MetadataStore
	embedder embed.Embedder // Embedder for capability signaling
	config   *config.Config
	logger   *slog.Logger

	// Project identification for resource operations
	projectID string
	rootPath  string

	// Background indexing progress (nil if not indexing)
	indexProgress *async.IndexProgress

	// Query telemetry (optional, set via SetMetrics)
	metrics *telemetry.QueryMetrics

	// Memory/graph surface (C6/C7/C9 tools). Optional: nil disables the
	// corresponding tools' registration.
	memoryCore *memory.Core
	memoryDB   store.MemoryStore
	kgraph     *graph.Graph

	// profile is the negotiated tool profile ("core", "standard", "full").
	// Empty means ResolveProfile falls back to config/auto-detection.
	profile string

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// ResourceInfo contains information about a resource.
type ResourceInfo struct {
	URI      string
	Name     string
	MIMEType string
}

// ResourceContent contains the content of a resource.
type ResourceContent struct {
	URI      string
	Content  string
	MIMEType string
}

// SearchInput defines the input schema for the search tool.
type SearchInput struct {
	Query    string   `json:"query" jsonschema:"the search query to execute"`
	Limit    int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Filter   string   `json:"filter,omitempty" jsonschema:"filter by content type: all, code, docs"`
	Language string   `json:"language,omitempty" jsonschema:"filter by programming language, e.g. go, typescript"`
	Scope    []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// SearchOutput defines the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"list of search results"`
}

// SearchResultOutput defines a single search result with context-rich metadata.
// UX-1: Enhanced response format explaining WHY results matched.
type SearchResultOutput struct {
	FilePath     string   `json:"file_path" jsonschema:"file path relative to project root"`
	Content      string   `json:"content" jsonschema:"matched content snippet"`
	Score        float64  `json:"score" jsonschema:"relevance score between 0 and 1"`
	Language     string   `json:"language,omitempty" jsonschema:"programming language of the file"`
	MatchReason  string   `json:"match_reason,omitempty" jsonschema:"human-readable explanation of why this result matched"`
	Symbol       string   `json:"symbol,omitempty" jsonschema:"primary symbol name (function, class, type)"`
	SymbolType   string   `json:"symbol_type,omitempty" jsonschema:"type of symbol: function, class, interface, type, method"`
	Signature    string   `json:"signature,omitempty" jsonschema:"full function/method signature"`
	MatchedTerms []string `json:"matched_terms,omitempty" jsonschema:"query terms that matched this result"`
	InBothLists  bool     `json:"in_both_lists,omitempty" jsonschema:"true if result appeared in both keyword and semantic search"`
}

// NewServer creates a new MCP server.
// The embedder parameter is used for capability signaling - AI clients can query
// the actual embedder state to adjust their search strategies.
// rootPath is used for project detection (go.mod, package.json, etc.).
func NewServer(engine search.SearchEngine, metadata store.MetadataStore, embedder embed.Embedder, cfg *config.Config, rootPath string) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}
	if metadata == nil {
		return nil, errors.New("metadata store is required")
	}
	if cfg == nil {
		cfg = config.NewConfig()
	}

	s := &Server{
		engine:   engine,
		metadata: metadata,
		embedder: embedder, // May be nil - will report as unavailable
		config:   cfg,
		rootPath: rootPath,
		logger:   slog.Default(),
	}

	// Create MCP server with implementation info
	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    "succ",
			Version: version.Version,
		},
		nil, // ServerOptions - capabilities are inferred from registered tools/resources
	)

	// Register tools
	s.registerTools()

	return s, nil
}

// SetIndexProgress sets the index progress tracker for background indexing.
// This enables the server to report indexing progress via index_status and
// return appropriate messages when search is called during indexing.
func (s *Server) SetIndexProgress(progress *async.IndexProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexProgress = progress
}

// SetMetrics sets the query metrics collector for telemetry.
// When set, a query_metrics resource is registered.
func (s *Server) SetMetrics(m *telemetry.QueryMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = m

	// Register query_metrics resource if metrics is provided
	if m != nil {
		s.registerQueryMetricsResource()
	}
}

// SetMemory wires the typed memory store and its backing MemoryStore,
// enabling the remember/recall/forget/list_memories/... tools. When not
// called those tools stay unregistered.
func (s *Server) SetMemory(core *memory.Core, db store.MemoryStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memoryCore = core
	s.memoryDB = db
}

// SetGraph wires the knowledge graph, enabling the link_memories/
// get_memory_links/delete_link/graph_centrality/graph_neighbors tools.
func (s *Server) SetGraph(g *graph.Graph) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kgraph = g
}

// SetToolProfile pins the negotiated tool profile for this server instance,
// overriding config- or client-name-based resolution.
func (s *Server) SetToolProfile(profile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = profile
}

// effectiveProfile returns the profile to gate tool calls against.
func (s *Server) effectiveProfile() string {
	if s.profile != "" {
		return s.profile
	}
	return ResolveProfile(s.config.ToolProfile, "")
}

// requireProfile returns a descriptive error if name is gated behind a
// higher tool profile than is currently negotiated.
func (s *Server) requireProfile(name string) error {
	if !toolAllowed(name, s.effectiveProfile()) {
		return NewProfileRequiredError(name, requiredProfileFor(name))
	}
	return nil
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return "succ", version.Version
}

// Capabilities returns whether tools and resources are enabled.
func (s *Server) Capabilities() (hasTools, hasResources bool) {
	// Both are enabled for F16
	return true, true
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	// Every catalogued tool is listed regardless of the negotiated profile;
	// out-of-profile entries stay visible but CallTool refuses to run them.
	// QW-3: Enhanced descriptions to explain WHY succ > grep
	tools := []ToolInfo{
		{
			Name:        "search",
			Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
		},
		{
			Name:        "search_code",
			Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language and symbol type filtering.",
		},
		{
			Name:        "search_docs",
			Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides. Preserves section hierarchy so you understand WHERE in the doc structure a match appears.",
		},
		{
			Name:        "index_status",
			Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
		},
		{
			Name:        "remember",
			Description: "Save a fact, decision, or observation to durable project memory so future sessions can recall it.",
		},
		{
			Name:        "recall",
			Description: "Retrieve the memories most relevant to a query, ranked by semantic similarity.",
		},
		{
			Name:        "forget",
			Description: "Delete a memory by id. Refuses to delete pinned (invariant or twice-corrected) memories.",
		},
		{
			Name:        "list_memories",
			Description: "List memories, optionally filtered by type or tags.",
		},
		{
			Name:        "update_memory_tags",
			Description: "Replace the tag set on an existing memory.",
		},
		{
			Name:        "correct_memory",
			Description: "Record a correction to an existing memory, superseding it without losing its history.",
		},
		{
			Name:        "link_memories",
			Description: "Create a typed edge between two memories in the knowledge graph.",
		},
		{
			Name:        "get_memory_links",
			Description: "List the typed edges attached to a memory.",
		},
		{
			Name:        "delete_link",
			Description: "Remove a link between two memories by id.",
		},
		{
			Name:        "checkpoint_export",
			Description: "Export all memories and links as a self-describing, portable snapshot.",
		},
		{
			Name:        "checkpoint_import",
			Description: "Restore memories and links from a snapshot produced by checkpoint_export.",
		},
		{
			Name:        "graph_centrality",
			Description: "Recompute degree centrality scores across the knowledge graph.",
		},
		{
			Name:        "graph_neighbors",
			Description: "List the memories directly linked to a given memory.",
		},
		{
			Name:        "memory_stats",
			Description: "Summarize memory counts by type and how many are pinned.",
		},
		{
			Name:        "sensitive_scan",
			Description: "Scan text for secrets (API keys, tokens, PII) before it is remembered.",
		},
		{
			Name:        "project_info",
			Description: "Report the detected project root path and project type.",
		},
		{
			Name:        "config_get",
			Description: "Report the server's effective tool profile and search configuration.",
		},
	}
	return tools
}

// CallTool invokes a tool by name with the given arguments.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.requireProfile(name); err != nil {
		return nil, err
	}

	switch name {
	case "search":
		return s.handleSearchTool(ctx, args)
	case "search_code":
		return s.handleSearchCodeTool(ctx, args)
	case "search_docs":
		return s.handleSearchDocsTool(ctx, args)
	case "index_status":
		return s.handleIndexStatusTool(ctx, args)
	case "remember":
		return s.handleRememberTool(ctx, RememberInput{
			Content:    argString(args, "content"),
			Type:       argString(args, "type"),
			Tags:       argStringSlice(args, "tags"),
			Source:     argString(args, "source"),
			Supersedes: argString(args, "supersedes"),
		})
	case "recall":
		return s.handleRecallTool(ctx, RecallInput{
			Query: argString(args, "query"),
			Limit: argInt(args, "limit"),
		})
	case "forget":
		return nil, s.handleForgetTool(ctx, ForgetInput{MemoryID: argString(args, "memory_id")})
	case "list_memories":
		return s.handleListMemoriesTool(ctx, ListMemoriesInput{
			Type:           argString(args, "type"),
			Tags:           argStringSlice(args, "tags"),
			IncludeExpired: argBool(args, "include_expired"),
			IncludeInvalid: argBool(args, "include_invalid"),
			Limit:          argInt(args, "limit"),
		})
	case "update_memory_tags":
		return nil, s.handleUpdateMemoryTagsTool(ctx, UpdateMemoryTagsInput{
			MemoryID: argString(args, "memory_id"),
			Tags:     argStringSlice(args, "tags"),
		})
	case "correct_memory":
		return s.handleCorrectMemoryTool(ctx, CorrectMemoryInput{
			MemoryID: argString(args, "memory_id"),
			Content:  argString(args, "content"),
		})
	case "link_memories":
		return nil, s.handleLinkMemoriesTool(ctx, LinkMemoriesInput{
			FromID:     argString(args, "from_id"),
			ToID:       argString(args, "to_id"),
			LinkType:   argString(args, "link_type"),
			Weight:     argFloat(args, "weight"),
			Confidence: argFloat(args, "confidence"),
		})
	case "get_memory_links":
		return s.handleGetMemoryLinksTool(ctx, GetMemoryLinksInput{MemoryID: argString(args, "memory_id")})
	case "delete_link":
		return nil, s.handleDeleteLinkTool(ctx, DeleteLinkInput{LinkID: argString(args, "link_id")})
	case "checkpoint_export":
		return s.handleCheckpointExportTool(ctx)
	case "checkpoint_import":
		return s.handleCheckpointImportTool(ctx, CheckpointImportInput{
			SnapshotJSON: argString(args, "snapshot_json"),
			Overwrite:    argBool(args, "overwrite"),
		})
	case "graph_centrality":
		return nil, s.handleGraphCentralityTool(ctx)
	case "graph_neighbors":
		return s.handleGraphNeighborsTool(ctx, GraphNeighborsInput{MemoryID: argString(args, "memory_id")})
	case "memory_stats":
		return s.handleMemoryStatsTool(ctx)
	case "sensitive_scan":
		return s.handleSensitiveScanTool(ctx, SensitiveScanInput{Content: argString(args, "content")})
	case "project_info":
		return s.handleProjectInfoTool(), nil
	case "config_get":
		return s.handleConfigGetTool(), nil
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

// handleSearchTool handles the search tool invocation.
// Returns markdown-formatted results.
func (s *Server) handleSearchTool(ctx context.Context, args map[string]any) (string, error) {
	// Check if indexing is in progress
	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil && progress.IsIndexing() {
		snap := progress.Snapshot()
		return fmt.Sprintf("## Indexing in Progress\n\n"+
			"**Progress:** %.1f%% (%d/%d files)\n"+
			"**Stage:** %s\n\n"+
			"Search results may be incomplete or unavailable. Please try again in a moment.",
			snap.ProgressPct, snap.FilesProcessed, snap.FilesTotal, snap.Stage), nil
	}

	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Validate query is not just whitespace (DEBT-019)
	if strings.TrimSpace(query) == "" {
		return "", NewInvalidParamsError("query cannot be empty or whitespace only")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.SearchOptions{
		Limit: limit,
	}

	if filter, ok := args["filter"].(string); ok {
		opts.Filter = filter
	}
	if lang, ok := args["language"].(string); ok {
		opts.Language = lang
	}
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	results, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	// Format as markdown
	return FormatSearchResults(query, results), nil
}

// handleSearchCodeTool handles the search_code tool invocation.
// Returns markdown-formatted code results with language and symbol filtering.
func (s *Server) handleSearchCodeTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search_code started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.SearchOptions{
		Limit:  limit,
		Filter: "code", // Always filter to code
	}

	// Language filter
	var langFilter string
	if lang, ok := args["language"].(string); ok {
		opts.Language = lang
		langFilter = lang
	}

	// Symbol type filter
	if symbolType, ok := args["symbol_type"].(string); ok {
		if symbolType != "any" {
			opts.SymbolType = symbolType
		}
	}

	// Scope filter
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	results, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_code failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_code completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	// Format as markdown
	return FormatCodeResults(query, results, langFilter), nil
}

// handleSearchDocsTool handles the search_docs tool invocation.
// Returns markdown-formatted documentation results.
func (s *Server) handleSearchDocsTool(ctx context.Context, args map[string]any) (string, error) {
	start := time.Now()
	requestID := generateRequestID()

	// Extract and validate query
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return "", NewInvalidParamsError("query parameter is required and must be a non-empty string")
	}

	// Extract optional parameters with limit clamping
	limit := clampLimit(0, 10, 1, 50) // default 10
	if l, ok := args["limit"].(float64); ok {
		limit = clampLimit(int(l), 10, 1, 50)
	}

	s.logger.Info("search_docs started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", limit))

	opts := search.SearchOptions{
		Limit:  limit,
		Filter: "docs", // Always filter to docs
	}

	// Scope filter
	if scope, ok := args["scope"].([]interface{}); ok {
		for _, s := range scope {
			if str, ok := s.(string); ok {
				opts.Scopes = append(opts.Scopes, str)
			}
		}
	}

	// Execute search
	results, err := s.engine.Search(ctx, query, opts)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("search_docs failed",
			slog.String("request_id", requestID),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return "", MapError(err)
	}

	s.logger.Info("search_docs completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))

	// Format as markdown
	return FormatDocsResults(query, results), nil
}

// handleIndexStatusTool handles the index_status tool invocation.
// Returns JSON-formatted index statistics including embedder capability info.
// AI clients can use this to adjust their search strategies based on
// whether Hugot (high quality semantic) or static (lower quality) embeddings are active.
func (s *Server) handleIndexStatusTool(ctx context.Context, _ map[string]any) (*IndexStatusOutput, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("index_status started",
		slog.String("request_id", requestID))

	stats := s.engine.Stats()

	// Determine embedder capability state
	var actualProvider, actualModel, semanticQuality, status string
	var dimensions int
	var isFallbackActive bool

	if s.embedder != nil {
		actualModel = s.embedder.ModelName()
		dimensions = s.embedder.Dimensions()

		// Determine if using static fallback based on model name or dimensions
		isFallbackActive = actualModel == "static" || dimensions == embed.StaticDimensions

		if isFallbackActive {
			actualProvider = "static"
			semanticQuality = "low"
		} else {
			actualProvider = "hugot"
			semanticQuality = "high"
		}

		// Check runtime availability
		if s.embedder.Available(ctx) {
			status = "ready"
		} else {
			status = "unavailable"
		}
	} else {
		// No embedder configured
		actualProvider = "none"
		actualModel = "none"
		dimensions = 0
		isFallbackActive = true
		semanticQuality = "none"
		status = "unavailable"
	}

	// Detect project info
	detector := NewProjectDetector(s.rootPath, s.logger)
	projectInfo := detector.Detect()

	// Build output
	output := &IndexStatusOutput{
		Project: *projectInfo,
		Stats: IndexStats{
			FileCount:      0,
			ChunkCount:     0,
			IndexSizeBytes: 0,
			LastIndexed:    time.Now().Format(time.RFC3339),
		},
		Embeddings: EmbeddingInfo{
			// Config values
			Provider: s.config.Embeddings.Provider,
			Model:    s.config.Embeddings.Model,
			Status:   status,
			// Runtime state - AI clients use this to adjust search strategy
			ActualProvider:   actualProvider,
			ActualModel:      actualModel,
			Dimensions:       dimensions,
			IsFallbackActive: isFallbackActive,
			SemanticQuality:  semanticQuality,
		},
	}

	// Fill in stats if available
	if stats != nil {
		if stats.BM25Stats != nil {
			output.Stats.FileCount = stats.BM25Stats.DocumentCount
		}
		output.Stats.ChunkCount = stats.VectorCount
	}

	// Add indexing progress if available
	s.mu.RLock()
	progress := s.indexProgress
	s.mu.RUnlock()

	if progress != nil {
		snap := progress.Snapshot()
		output.Indexing = &IndexingProgress{
			Status:         snap.Status,
			Stage:          snap.Stage,
			FilesTotal:     snap.FilesTotal,
			FilesProcessed: snap.FilesProcessed,
			ChunksIndexed:  snap.ChunksIndexed,
			ProgressPct:    snap.ProgressPct,
			ElapsedSeconds: snap.ElapsedSeconds,
			ErrorMessage:   snap.ErrorMessage,
		}
	}

	duration := time.Since(start)
	s.logger.Info("index_status completed",
		slog.String("request_id", requestID),
		slog.Duration("duration", duration),
		slog.String("project_name", projectInfo.Name),
		slog.String("project_type", projectInfo.Type))

	return output, nil
}

// mapMemoryType normalizes a client-supplied type string to a store.MemoryType,
// defaulting to observation for unknown/empty input.
func mapMemoryType(s string) store.MemoryType {
	switch store.MemoryType(s) {
	case store.MemoryTypeObservation, store.MemoryTypeDecision, store.MemoryTypeLearning,
		store.MemoryTypeError, store.MemoryTypePattern, store.MemoryTypeDeadEnd:
		return store.MemoryType(s)
	default:
		return store.MemoryTypeObservation
	}
}

func toRecalledMemory(m *store.Memory, score float64) RecalledMemory {
	return RecalledMemory{
		MemoryID: m.ID,
		Content:  m.Content,
		Type:     string(m.Type),
		Score:    score,
		Pinned:   m.Pinned(),
	}
}

// handleRememberTool handles the remember tool invocation.
func (s *Server) handleRememberTool(ctx context.Context, input RememberInput) (RememberOutput, error) {
	if s.memoryCore == nil {
		return RememberOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	if strings.TrimSpace(input.Content) == "" {
		return RememberOutput{}, NewInvalidParamsError("content is required")
	}
	result, err := s.memoryCore.Save(ctx, input.Content, mapMemoryType(input.Type), memory.SaveOpts{
		Tags:       input.Tags,
		Source:     input.Source,
		Supersedes: input.Supersedes,
	})
	if err != nil {
		return RememberOutput{}, MapError(err)
	}
	return RememberOutput{MemoryID: result.Memory.ID, Duplicate: result.Duplicate}, nil
}

// handleRecallTool handles the recall tool invocation.
func (s *Server) handleRecallTool(ctx context.Context, input RecallInput) (RecallOutput, error) {
	if s.memoryCore == nil {
		return RecallOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	if strings.TrimSpace(input.Query) == "" {
		return RecallOutput{}, NewInvalidParamsError("query is required")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 10
	}

	embedding, err := s.memoryCore.EmbedForSearch(ctx, input.Query)
	if err != nil {
		return RecallOutput{}, MapError(err)
	}
	scored, err := s.memoryCore.SearchByVectorScored(ctx, embedding, limit, 0)
	if err != nil {
		return RecallOutput{}, MapError(err)
	}

	out := RecallOutput{Memories: make([]RecalledMemory, 0, len(scored))}
	for _, sm := range scored {
		out.Memories = append(out.Memories, toRecalledMemory(sm.Memory, sm.Score))
	}
	return out, nil
}

// handleForgetTool handles the forget tool invocation.
func (s *Server) handleForgetTool(ctx context.Context, input ForgetInput) error {
	if s.memoryCore == nil {
		return NewInvalidParamsError("memory store is not configured for this server")
	}
	if input.MemoryID == "" {
		return NewInvalidParamsError("memory_id is required")
	}
	if err := s.memoryCore.Delete(ctx, input.MemoryID); err != nil {
		return MapError(err)
	}
	return nil
}

// handleListMemoriesTool handles the list_memories tool invocation.
func (s *Server) handleListMemoriesTool(ctx context.Context, input ListMemoriesInput) (ListMemoriesOutput, error) {
	if s.memoryDB == nil {
		return ListMemoriesOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	limit := input.Limit
	if limit <= 0 {
		limit = 50
	}
	filter := store.MemoryFilter{
		Tags:           input.Tags,
		IncludeExpired: input.IncludeExpired,
		IncludeInvalid: input.IncludeInvalid,
	}
	if input.Type != "" {
		filter.Types = []store.MemoryType{mapMemoryType(input.Type)}
	}
	memories, err := s.memoryDB.ListMemories(ctx, filter, limit)
	if err != nil {
		return ListMemoriesOutput{}, MapError(err)
	}
	out := ListMemoriesOutput{Memories: make([]RecalledMemory, 0, len(memories))}
	for _, m := range memories {
		out.Memories = append(out.Memories, toRecalledMemory(m, 0))
	}
	return out, nil
}

// handleUpdateMemoryTagsTool handles the update_memory_tags tool invocation.
func (s *Server) handleUpdateMemoryTagsTool(ctx context.Context, input UpdateMemoryTagsInput) error {
	if s.memoryCore == nil {
		return NewInvalidParamsError("memory store is not configured for this server")
	}
	if input.MemoryID == "" {
		return NewInvalidParamsError("memory_id is required")
	}
	if err := s.memoryCore.UpdateTags(ctx, input.MemoryID, input.Tags); err != nil {
		return MapError(err)
	}
	return nil
}

// handleCorrectMemoryTool handles the correct_memory tool invocation: saves
// the corrected content as a new memory that supersedes the old one.
func (s *Server) handleCorrectMemoryTool(ctx context.Context, input CorrectMemoryInput) (RememberOutput, error) {
	if s.memoryCore == nil {
		return RememberOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	if input.MemoryID == "" || strings.TrimSpace(input.Content) == "" {
		return RememberOutput{}, NewInvalidParamsError("memory_id and content are required")
	}
	prior, err := s.memoryCore.GetByID(ctx, input.MemoryID)
	if err != nil {
		return RememberOutput{}, MapError(err)
	}
	result, err := s.memoryCore.Save(ctx, input.Content, prior.Type, memory.SaveOpts{Supersedes: input.MemoryID})
	if err != nil {
		return RememberOutput{}, MapError(err)
	}
	return RememberOutput{MemoryID: result.Memory.ID, Duplicate: result.Duplicate}, nil
}

// handleLinkMemoriesTool handles the link_memories tool invocation.
func (s *Server) handleLinkMemoriesTool(ctx context.Context, input LinkMemoriesInput) error {
	if s.kgraph == nil {
		return NewInvalidParamsError("knowledge graph is not configured for this server")
	}
	if input.FromID == "" || input.ToID == "" || input.LinkType == "" {
		return NewInvalidParamsError("from_id, to_id, and link_type are required")
	}
	if err := s.kgraph.Link(ctx, input.FromID, input.ToID, store.LinkType(input.LinkType), input.Weight, input.Confidence); err != nil {
		return MapError(err)
	}
	return nil
}

// handleGetMemoryLinksTool handles the get_memory_links tool invocation.
func (s *Server) handleGetMemoryLinksTool(ctx context.Context, input GetMemoryLinksInput) (GetMemoryLinksOutput, error) {
	if s.memoryDB == nil {
		return GetMemoryLinksOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	if input.MemoryID == "" {
		return GetMemoryLinksOutput{}, NewInvalidParamsError("memory_id is required")
	}
	links, err := s.memoryDB.GetLinks(ctx, input.MemoryID)
	if err != nil {
		return GetMemoryLinksOutput{}, MapError(err)
	}
	return GetMemoryLinksOutput{Links: toMemoryLinkOutputs(links)}, nil
}

func toMemoryLinkOutputs(links []*store.MemoryLink) []MemoryLinkOutput {
	out := make([]MemoryLinkOutput, 0, len(links))
	for _, l := range links {
		out = append(out, MemoryLinkOutput{
			ID:         l.ID,
			FromID:     l.FromID,
			ToID:       l.ToID,
			Type:       string(l.Type),
			Weight:     l.Weight,
			Confidence: l.Confidence,
		})
	}
	return out
}

// handleDeleteLinkTool handles the delete_link tool invocation.
func (s *Server) handleDeleteLinkTool(ctx context.Context, input DeleteLinkInput) error {
	if s.memoryDB == nil {
		return NewInvalidParamsError("memory store is not configured for this server")
	}
	if input.LinkID == "" {
		return NewInvalidParamsError("link_id is required")
	}
	if err := s.memoryDB.DeleteLink(ctx, input.LinkID); err != nil {
		return MapError(err)
	}
	return nil
}

// handleCheckpointExportTool handles the checkpoint_export tool invocation.
func (s *Server) handleCheckpointExportTool(ctx context.Context) (CheckpointExportOutput, error) {
	if s.memoryDB == nil {
		return CheckpointExportOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	detector := NewProjectDetector(s.rootPath, s.logger)
	projectName := detector.Detect().Name
	snapshot, err := checkpoint.Export(ctx, s.memoryDB, projectName)
	if err != nil {
		return CheckpointExportOutput{}, MapError(err)
	}
	var buf bytes.Buffer
	if err := checkpoint.Write(&buf, snapshot, false); err != nil {
		return CheckpointExportOutput{}, MapError(err)
	}
	return CheckpointExportOutput{
		SnapshotJSON: buf.String(),
		MemoryCount:  snapshot.Stats.MemoryCount,
		LinkCount:    snapshot.Stats.LinkCount,
	}, nil
}

// handleCheckpointImportTool handles the checkpoint_import tool invocation.
func (s *Server) handleCheckpointImportTool(ctx context.Context, input CheckpointImportInput) (CheckpointImportOutput, error) {
	if s.memoryDB == nil {
		return CheckpointImportOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	if strings.TrimSpace(input.SnapshotJSON) == "" {
		return CheckpointImportOutput{}, NewInvalidParamsError("snapshot_json is required")
	}
	snapshot, err := checkpoint.Read(strings.NewReader(input.SnapshotJSON))
	if err != nil {
		return CheckpointImportOutput{}, MapError(err)
	}
	result, err := checkpoint.Import(ctx, s.memoryDB, snapshot, checkpoint.ImportOptions{Overwrite: input.Overwrite})
	if err != nil {
		return CheckpointImportOutput{}, MapError(err)
	}
	return CheckpointImportOutput{
		MemoriesImported: result.MemoriesImported,
		LinksImported:    result.LinksImported,
	}, nil
}

// handleGraphCentralityTool handles the graph_centrality tool invocation.
func (s *Server) handleGraphCentralityTool(ctx context.Context) error {
	if s.kgraph == nil {
		return NewInvalidParamsError("knowledge graph is not configured for this server")
	}
	if err := s.kgraph.ComputeCentrality(ctx); err != nil {
		return MapError(err)
	}
	return nil
}

// handleGraphNeighborsTool handles the graph_neighbors tool invocation.
func (s *Server) handleGraphNeighborsTool(ctx context.Context, input GraphNeighborsInput) (GraphNeighborsOutput, error) {
	if s.memoryDB == nil {
		return GraphNeighborsOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	if input.MemoryID == "" {
		return GraphNeighborsOutput{}, NewInvalidParamsError("memory_id is required")
	}
	links, err := s.memoryDB.GetLinks(ctx, input.MemoryID)
	if err != nil {
		return GraphNeighborsOutput{}, MapError(err)
	}
	return GraphNeighborsOutput{Links: toMemoryLinkOutputs(links)}, nil
}

// handleMemoryStatsTool handles the memory_stats tool invocation.
func (s *Server) handleMemoryStatsTool(ctx context.Context) (MemoryStatsOutput, error) {
	if s.memoryDB == nil {
		return MemoryStatsOutput{}, NewInvalidParamsError("memory store is not configured for this server")
	}
	ids, err := s.memoryDB.AllMemoryIDs(ctx)
	if err != nil {
		return MemoryStatsOutput{}, MapError(err)
	}
	out := MemoryStatsOutput{TotalMemories: len(ids), ByType: map[string]int{}}
	for _, id := range ids {
		m, err := s.memoryDB.GetMemory(ctx, id)
		if err != nil {
			return MemoryStatsOutput{}, MapError(err)
		}
		if m == nil {
			continue
		}
		out.ByType[string(m.Type)]++
		if m.Pinned() {
			out.PinnedCount++
		}
	}
	return out, nil
}

// handleSensitiveScanTool handles the sensitive_scan tool invocation.
func (s *Server) handleSensitiveScanTool(_ context.Context, input SensitiveScanInput) (SensitiveScanOutput, error) {
	hasSensitive, findings, redacted := sensitive.Scan(input.Content)
	names := make([]string, 0, len(findings))
	for _, f := range findings {
		names = append(names, f.Kind)
	}
	return SensitiveScanOutput{HasSensitive: hasSensitive, Findings: names, Redacted: redacted}, nil
}

// handleProjectInfoTool handles the project_info tool invocation.
func (s *Server) handleProjectInfoTool() *ProjectInfo {
	detector := NewProjectDetector(s.rootPath, s.logger)
	return detector.Detect()
}

// handleConfigGetTool handles the config_get tool invocation.
func (s *Server) handleConfigGetTool() ConfigGetOutput {
	return ConfigGetOutput{
		ToolProfile:    s.effectiveProfile(),
		BM25Weight:     s.config.Search.BM25Weight,
		SemanticWeight: s.config.Search.SemanticWeight,
		LogLevel:       s.config.Server.LogLevel,
	}
}

// registerTools registers all tools with the MCP server.
// BUG-033: Added logging for debugging tool registration issues.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	// Register search tool - generic hybrid search
	// QW-3: Enhanced descriptions to explain WHY succ > grep
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search",
		Description: "Primary search tool. Instantly finds code and documentation using a full-codebase index. Use this for 95% of your search tasks - faster and smarter than grep. Understands code semantics, not just keywords.",
	}, s.mcpSearchHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search"))

	// Register search_code tool - code-specific search
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_code",
		Description: "Code-specialized search. Finds functions, classes, and implementations by meaning, not just text matching. Use when you need to understand HOW something is implemented. Supports language and symbol type filtering.",
	}, s.mcpSearchCodeHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_code"))

	// Register search_docs tool - documentation search
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "search_docs",
		Description: "Documentation search with context. Finds architecture decisions, design rationale, and guides. Preserves section hierarchy so you understand WHERE in the doc structure a match appears.",
	}, s.mcpSearchDocsHandler)
	s.logger.Debug("Registered tool", slog.String("name", "search_docs"))

	// Register index_status tool - index diagnostics
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "index_status",
		Description: "Check if the codebase index is ready and which embedder is active. Use before searching to verify the index is complete.",
	}, s.mcpIndexStatusHandler)
	s.logger.Debug("Registered tool", slog.String("name", "index_status"))

	registered := 4

	if s.memoryCore != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "remember",
			Description: "Save a fact, decision, or observation to durable project memory so future sessions can recall it.",
		}, s.mcpRememberHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "recall",
			Description: "Retrieve the memories most relevant to a query, ranked by semantic similarity.",
		}, s.mcpRecallHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "forget",
			Description: "Delete a memory by id. Refuses to delete pinned memories.",
		}, s.mcpForgetHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "update_memory_tags",
			Description: "Replace the tag set on an existing memory.",
		}, s.mcpUpdateMemoryTagsHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "correct_memory",
			Description: "Record a correction to an existing memory, superseding it without losing its history.",
		}, s.mcpCorrectMemoryHandler)
		registered += 5
	}

	if s.memoryDB != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "list_memories",
			Description: "List memories, optionally filtered by type or tags.",
		}, s.mcpListMemoriesHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "get_memory_links",
			Description: "List the typed edges attached to a memory.",
		}, s.mcpGetMemoryLinksHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "delete_link",
			Description: "Remove a link between two memories by id.",
		}, s.mcpDeleteLinkHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "checkpoint_export",
			Description: "Export all memories and links as a self-describing, portable snapshot.",
		}, s.mcpCheckpointExportHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "checkpoint_import",
			Description: "Restore memories and links from a snapshot produced by checkpoint_export.",
		}, s.mcpCheckpointImportHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "graph_neighbors",
			Description: "List the memories directly linked to a given memory.",
		}, s.mcpGraphNeighborsHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "memory_stats",
			Description: "Summarize memory counts by type and how many are pinned.",
		}, s.mcpMemoryStatsHandler)
		registered += 7
	}

	if s.kgraph != nil {
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "link_memories",
			Description: "Create a typed edge between two memories in the knowledge graph.",
		}, s.mcpLinkMemoriesHandler)
		mcp.AddTool(s.mcp, &mcp.Tool{
			Name:        "graph_centrality",
			Description: "Recompute degree centrality scores across the knowledge graph.",
		}, s.mcpGraphCentralityHandler)
		registered += 2
	}

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "sensitive_scan",
		Description: "Scan text for secrets (API keys, tokens, PII) before it is remembered.",
	}, s.mcpSensitiveScanHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "project_info",
		Description: "Report the detected project root path and project type.",
	}, s.mcpProjectInfoHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "config_get",
		Description: "Report the server's effective tool profile and search configuration.",
	}, s.mcpConfigGetHandler)
	registered += 3

	s.logger.Info("MCP tools registered", slog.Int("count", registered))
}

func (s *Server) mcpRememberHandler(ctx context.Context, _ *mcp.CallToolRequest, input RememberInput) (*mcp.CallToolResult, RememberOutput, error) {
	if err := s.requireProfile("remember"); err != nil {
		return nil, RememberOutput{}, err
	}
	out, err := s.handleRememberTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpRecallHandler(ctx context.Context, _ *mcp.CallToolRequest, input RecallInput) (*mcp.CallToolResult, RecallOutput, error) {
	if err := s.requireProfile("recall"); err != nil {
		return nil, RecallOutput{}, err
	}
	out, err := s.handleRecallTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpForgetHandler(ctx context.Context, _ *mcp.CallToolRequest, input ForgetInput) (*mcp.CallToolResult, OKOutput, error) {
	if err := s.requireProfile("forget"); err != nil {
		return nil, OKOutput{}, err
	}
	if err := s.handleForgetTool(ctx, input); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Server) mcpListMemoriesHandler(ctx context.Context, _ *mcp.CallToolRequest, input ListMemoriesInput) (*mcp.CallToolResult, ListMemoriesOutput, error) {
	if err := s.requireProfile("list_memories"); err != nil {
		return nil, ListMemoriesOutput{}, err
	}
	out, err := s.handleListMemoriesTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpUpdateMemoryTagsHandler(ctx context.Context, _ *mcp.CallToolRequest, input UpdateMemoryTagsInput) (*mcp.CallToolResult, OKOutput, error) {
	if err := s.requireProfile("update_memory_tags"); err != nil {
		return nil, OKOutput{}, err
	}
	if err := s.handleUpdateMemoryTagsTool(ctx, input); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Server) mcpCorrectMemoryHandler(ctx context.Context, _ *mcp.CallToolRequest, input CorrectMemoryInput) (*mcp.CallToolResult, RememberOutput, error) {
	if err := s.requireProfile("correct_memory"); err != nil {
		return nil, RememberOutput{}, err
	}
	out, err := s.handleCorrectMemoryTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpLinkMemoriesHandler(ctx context.Context, _ *mcp.CallToolRequest, input LinkMemoriesInput) (*mcp.CallToolResult, OKOutput, error) {
	if err := s.requireProfile("link_memories"); err != nil {
		return nil, OKOutput{}, err
	}
	if err := s.handleLinkMemoriesTool(ctx, input); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Server) mcpGetMemoryLinksHandler(ctx context.Context, _ *mcp.CallToolRequest, input GetMemoryLinksInput) (*mcp.CallToolResult, GetMemoryLinksOutput, error) {
	if err := s.requireProfile("get_memory_links"); err != nil {
		return nil, GetMemoryLinksOutput{}, err
	}
	out, err := s.handleGetMemoryLinksTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpDeleteLinkHandler(ctx context.Context, _ *mcp.CallToolRequest, input DeleteLinkInput) (*mcp.CallToolResult, OKOutput, error) {
	if err := s.requireProfile("delete_link"); err != nil {
		return nil, OKOutput{}, err
	}
	if err := s.handleDeleteLinkTool(ctx, input); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Server) mcpCheckpointExportHandler(ctx context.Context, _ *mcp.CallToolRequest, _ CheckpointExportInput) (*mcp.CallToolResult, CheckpointExportOutput, error) {
	if err := s.requireProfile("checkpoint_export"); err != nil {
		return nil, CheckpointExportOutput{}, err
	}
	out, err := s.handleCheckpointExportTool(ctx)
	return nil, out, err
}

func (s *Server) mcpCheckpointImportHandler(ctx context.Context, _ *mcp.CallToolRequest, input CheckpointImportInput) (*mcp.CallToolResult, CheckpointImportOutput, error) {
	if err := s.requireProfile("checkpoint_import"); err != nil {
		return nil, CheckpointImportOutput{}, err
	}
	out, err := s.handleCheckpointImportTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpGraphCentralityHandler(ctx context.Context, _ *mcp.CallToolRequest, _ GraphCentralityInput) (*mcp.CallToolResult, OKOutput, error) {
	if err := s.requireProfile("graph_centrality"); err != nil {
		return nil, OKOutput{}, err
	}
	if err := s.handleGraphCentralityTool(ctx); err != nil {
		return nil, OKOutput{}, err
	}
	return nil, OKOutput{OK: true}, nil
}

func (s *Server) mcpGraphNeighborsHandler(ctx context.Context, _ *mcp.CallToolRequest, input GraphNeighborsInput) (*mcp.CallToolResult, GraphNeighborsOutput, error) {
	if err := s.requireProfile("graph_neighbors"); err != nil {
		return nil, GraphNeighborsOutput{}, err
	}
	out, err := s.handleGraphNeighborsTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpMemoryStatsHandler(ctx context.Context, _ *mcp.CallToolRequest, _ MemoryStatsInput) (*mcp.CallToolResult, MemoryStatsOutput, error) {
	if err := s.requireProfile("memory_stats"); err != nil {
		return nil, MemoryStatsOutput{}, err
	}
	out, err := s.handleMemoryStatsTool(ctx)
	return nil, out, err
}

func (s *Server) mcpSensitiveScanHandler(ctx context.Context, _ *mcp.CallToolRequest, input SensitiveScanInput) (*mcp.CallToolResult, SensitiveScanOutput, error) {
	if err := s.requireProfile("sensitive_scan"); err != nil {
		return nil, SensitiveScanOutput{}, err
	}
	out, err := s.handleSensitiveScanTool(ctx, input)
	return nil, out, err
}

func (s *Server) mcpProjectInfoHandler(_ context.Context, _ *mcp.CallToolRequest, _ ProjectInfoInput) (*mcp.CallToolResult, *ProjectInfo, error) {
	if err := s.requireProfile("project_info"); err != nil {
		return nil, nil, err
	}
	return nil, s.handleProjectInfoTool(), nil
}

func (s *Server) mcpConfigGetHandler(_ context.Context, _ *mcp.CallToolRequest, _ ConfigGetInput) (*mcp.CallToolResult, ConfigGetOutput, error) {
	if err := s.requireProfile("config_get"); err != nil {
		return nil, ConfigGetOutput{}, err
	}
	return nil, s.handleConfigGetTool(), nil
}

// mcpSearchHandler is the MCP SDK handler for the search tool.
func (s *Server) mcpSearchHandler(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.SearchOptions{
		Limit:    10,
		Filter:   input.Filter,
		Language: input.Language,
		Scopes:   input.Scope,
	}
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}

	// Execute search
	results, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context (UX-1)
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}

	for _, r := range results {
		if r.Chunk != nil {
			output.Results = append(output.Results, ToSearchResultOutput(r))
		}
	}

	return nil, output, nil
}

// mcpSearchCodeHandler is the MCP SDK handler for the search_code tool.
func (s *Server) mcpSearchCodeHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchCodeInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.SearchOptions{
		Limit:    10,
		Filter:   "code", // Always filter to code
		Language: input.Language,
		Scopes:   input.Scope,
	}
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}
	if input.SymbolType != "" && input.SymbolType != "any" {
		opts.SymbolType = input.SymbolType
	}

	// Execute search
	results, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context (UX-1)
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}

	for _, r := range results {
		if r.Chunk != nil {
			output.Results = append(output.Results, ToSearchResultOutput(r))
		}
	}

	return nil, output, nil
}

// mcpSearchDocsHandler is the MCP SDK handler for the search_docs tool.
func (s *Server) mcpSearchDocsHandler(ctx context.Context, _ *mcp.CallToolRequest, input SearchDocsInput) (
	*mcp.CallToolResult,
	SearchOutput,
	error,
) {
	// Validate query
	if input.Query == "" {
		return nil, SearchOutput{}, NewInvalidParamsError("query parameter is required")
	}

	// Build search options
	opts := search.SearchOptions{
		Limit:  10,
		Filter: "docs", // Always filter to docs
		Scopes: input.Scope,
	}
	if input.Limit > 0 {
		opts.Limit = input.Limit
	}

	// Execute search
	results, err := s.engine.Search(ctx, input.Query, opts)
	if err != nil {
		return nil, SearchOutput{}, MapError(err)
	}

	// Convert to output format with enhanced context (UX-1)
	output := SearchOutput{
		Results: make([]SearchResultOutput, 0, len(results)),
	}

	for _, r := range results {
		if r.Chunk != nil {
			output.Results = append(output.Results, ToSearchResultOutput(r))
		}
	}

	return nil, output, nil
}

// mcpIndexStatusHandler is the MCP SDK handler for the index_status tool.
func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (
	*mcp.CallToolResult,
	*IndexStatusOutput,
	error,
) {
	output, err := s.handleIndexStatusTool(ctx, nil)
	if err != nil {
		return nil, nil, MapError(err)
	}
	return nil, output, nil
}

// ListResources returns all available resources.
func (s *Server) ListResources(ctx context.Context, cursor string) ([]ResourceInfo, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Get files from metadata store
	files, err := s.metadata.GetChangedFiles(ctx, "", emptyTime)
	if err != nil {
		return nil, "", err
	}

	resources := make([]ResourceInfo, 0, len(files))
	for _, f := range files {
		resources = append(resources, ResourceInfo{
			URI:      fmt.Sprintf("file://%s", f.Path),
			Name:     f.Path,
			MIMEType: mimeTypeForLanguage(f.Language),
		})
	}

	return resources, "", nil // No pagination for now
}

// ReadResource reads a resource by URI.
func (s *Server) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Parse URI - support chunk:// and file:// schemes
	var chunkID string
	if strings.HasPrefix(uri, "chunk://") {
		chunkID = strings.TrimPrefix(uri, "chunk://")
	} else if strings.HasPrefix(uri, "file://") {
		// For file:// URIs, we'd need to look up the file
		// For now, return not found
		return nil, NewResourceNotFoundError(uri)
	} else {
		return nil, NewResourceNotFoundError(uri)
	}

	// Get chunk from metadata store
	chunk, err := s.metadata.GetChunk(ctx, chunkID)
	if err != nil {
		return nil, err
	}
	if chunk == nil {
		return nil, NewResourceNotFoundError(uri)
	}

	return &ResourceContent{
		URI:      uri,
		Content:  chunk.Content,
		MIMEType: mimeTypeForLanguage(chunk.Language),
	}, nil
}

// Serve starts the server with the specified transport.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("Starting MCP server",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case "stdio":
		s.logger.Debug("Using stdio transport for JSON-RPC")
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && err != context.Canceled {
			s.logger.Error("MCP server stopped with error",
				slog.String("error", err.Error()))
		} else {
			s.logger.Info("MCP server stopped gracefully")
		}
		return err
	case "sse":
		// SSE transport not yet implemented in SDK
		return fmt.Errorf("SSE transport not yet implemented")
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio)", transport)
	}
}

// Close releases server resources.
func (s *Server) Close() error {
	// The MCP server doesn't have a Close method - it stops when context is canceled
	return nil
}

// mimeTypeForLanguage returns the MIME type for a programming language.
func mimeTypeForLanguage(lang string) string {
	switch strings.ToLower(lang) {
	case "go":
		return "text/x-go"
	case "typescript", "ts":
		return "text/typescript"
	case "javascript", "js":
		return "text/javascript"
	case "python", "py":
		return "text/x-python"
	case "rust", "rs":
		return "text/x-rust"
	case "java":
		return "text/x-java"
	case "c":
		return "text/x-c"
	case "cpp", "c++":
		return "text/x-c++"
	case "markdown", "md":
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// emptyTime is a zero time value for listing all files.
var emptyTime = time.Time{}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
