package mcp

// SearchCodeInput defines the input schema for the search_code tool.
type SearchCodeInput struct {
	Query      string   `json:"query" jsonschema:"the code search query to execute"`
	Language   string   `json:"language,omitempty" jsonschema:"filter by programming language (go, typescript, python)"`
	SymbolType string   `json:"symbol_type,omitempty" jsonschema:"filter by symbol type: function, class, interface, type, method, or any"`
	Limit      int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Scope      []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// SearchDocsInput defines the input schema for the search_docs tool.
type SearchDocsInput struct {
	Query string   `json:"query" jsonschema:"the documentation search query to execute"`
	Limit int      `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Scope []string `json:"scope,omitempty" jsonschema:"filter by path prefixes (OR logic)"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project    ProjectInfo       `json:"project"`
	Stats      IndexStats        `json:"stats"`
	Embeddings EmbeddingInfo     `json:"embeddings"`
	Indexing   *IndexingProgress `json:"indexing,omitempty"` // Present during background indexing
}

// IndexingProgress contains information about ongoing background indexing.
type IndexingProgress struct {
	Status         string  `json:"status"`                     // "indexing", "ready", or "error"
	Stage          string  `json:"stage,omitempty"`            // "scanning", "chunking", "embedding", "indexing"
	FilesTotal     int     `json:"files_total"`                // Total files to process
	FilesProcessed int     `json:"files_processed"`            // Files processed so far
	ChunksIndexed  int     `json:"chunks_indexed"`             // Chunks indexed so far
	ProgressPct    float64 `json:"progress_pct"`               // Progress percentage (0-100)
	ElapsedSeconds int     `json:"elapsed_seconds"`            // Time since indexing started
	ErrorMessage   string  `json:"error_message,omitempty"`    // Error message if status is "error"
}

// ProjectInfo contains information about the indexed project.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	FileCount      int    `json:"file_count"`
	ChunkCount     int    `json:"chunk_count"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	LastIndexed    string `json:"last_indexed"`
}

// RememberInput defines the input schema for the remember tool.
type RememberInput struct {
	Content    string   `json:"content" jsonschema:"the fact, decision, or observation to remember"`
	Type       string   `json:"type,omitempty" jsonschema:"memory type: observation, decision, learning, error, pattern, or dead_end; default observation"`
	Tags       []string `json:"tags,omitempty" jsonschema:"free-form tags for later filtering"`
	Source     string   `json:"source,omitempty" jsonschema:"where this memory came from, e.g. a file path or session id"`
	Supersedes string   `json:"supersedes,omitempty" jsonschema:"id of an existing memory this one corrects"`
}

// RememberOutput defines the output schema for the remember tool.
type RememberOutput struct {
	MemoryID  string `json:"memory_id"`
	Duplicate bool   `json:"duplicate" jsonschema:"true if an existing memory was reused instead of creating a new one"`
}

// RecallInput defines the input schema for the recall tool.
type RecallInput struct {
	Query string `json:"query" jsonschema:"what to recall"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of memories, default 10"`
}

// RecallOutput defines the output schema for the recall tool.
type RecallOutput struct {
	Memories []RecalledMemory `json:"memories"`
}

// RecalledMemory is a single memory returned by recall.
type RecalledMemory struct {
	MemoryID string  `json:"memory_id"`
	Content  string  `json:"content"`
	Type     string  `json:"type"`
	Score    float64 `json:"score"`
	Pinned   bool    `json:"pinned"`
}

// ForgetInput defines the input schema for the forget tool.
type ForgetInput struct {
	MemoryID string `json:"memory_id" jsonschema:"id of the memory to delete"`
}

// ListMemoriesInput defines the input schema for the list_memories tool.
type ListMemoriesInput struct {
	Type           string   `json:"type,omitempty" jsonschema:"filter by memory type"`
	Tags           []string `json:"tags,omitempty" jsonschema:"filter by tags"`
	IncludeExpired bool     `json:"include_expired,omitempty"`
	IncludeInvalid bool     `json:"include_invalid,omitempty"`
	Limit          int      `json:"limit,omitempty" jsonschema:"maximum number of memories, default 50"`
}

// ListMemoriesOutput defines the output schema for the list_memories tool.
type ListMemoriesOutput struct {
	Memories []RecalledMemory `json:"memories"`
}

// UpdateMemoryTagsInput defines the input schema for the update_memory_tags tool.
type UpdateMemoryTagsInput struct {
	MemoryID string   `json:"memory_id"`
	Tags     []string `json:"tags"`
}

// CorrectMemoryInput defines the input schema for the correct_memory tool,
// which remembers a correction and marks the prior memory superseded.
type CorrectMemoryInput struct {
	MemoryID string `json:"memory_id" jsonschema:"id of the memory being corrected"`
	Content  string `json:"content" jsonschema:"the corrected fact"`
}

// LinkMemoriesInput defines the input schema for the link_memories tool.
type LinkMemoriesInput struct {
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	LinkType   string  `json:"link_type" jsonschema:"related, similar_to, caused_by, leads_to, contradicts, implements, supersedes, or references"`
	Weight     float64 `json:"weight,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// GetMemoryLinksInput defines the input schema for the get_memory_links tool.
type GetMemoryLinksInput struct {
	MemoryID string `json:"memory_id"`
}

// GetMemoryLinksOutput defines the output schema for the get_memory_links tool.
type GetMemoryLinksOutput struct {
	Links []MemoryLinkOutput `json:"links"`
}

// MemoryLinkOutput is a single typed edge between two memories.
type MemoryLinkOutput struct {
	ID         string  `json:"id"`
	FromID     string  `json:"from_id"`
	ToID       string  `json:"to_id"`
	Type       string  `json:"type"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
}

// DeleteLinkInput defines the input schema for the delete_link tool.
type DeleteLinkInput struct {
	LinkID string `json:"link_id"`
}

// CheckpointExportInput defines the input schema for the checkpoint_export tool (no parameters).
type CheckpointExportInput struct{}

// CheckpointExportOutput defines the output schema for the checkpoint_export tool.
type CheckpointExportOutput struct {
	SnapshotJSON string `json:"snapshot_json" jsonschema:"the exported snapshot, JSON-encoded"`
	MemoryCount  int    `json:"memory_count"`
	LinkCount    int    `json:"link_count"`
}

// CheckpointImportInput defines the input schema for the checkpoint_import tool.
type CheckpointImportInput struct {
	SnapshotJSON string `json:"snapshot_json" jsonschema:"a snapshot previously produced by checkpoint_export"`
	Overwrite    bool   `json:"overwrite,omitempty" jsonschema:"if true, replace all existing memories instead of merging"`
}

// CheckpointImportOutput defines the output schema for the checkpoint_import tool.
type CheckpointImportOutput struct {
	MemoriesImported int `json:"memories_imported"`
	LinksImported    int `json:"links_imported"`
}

// GraphCentralityInput defines the input schema for the graph_centrality tool (no parameters).
type GraphCentralityInput struct{}

// GraphNeighborsInput defines the input schema for the graph_neighbors tool.
type GraphNeighborsInput struct {
	MemoryID string `json:"memory_id"`
}

// GraphNeighborsOutput defines the output schema for the graph_neighbors tool.
type GraphNeighborsOutput struct {
	Links []MemoryLinkOutput `json:"links"`
}

// MemoryStatsInput defines the input schema for the memory_stats tool (no parameters).
type MemoryStatsInput struct{}

// MemoryStatsOutput defines the output schema for the memory_stats tool.
type MemoryStatsOutput struct {
	TotalMemories int            `json:"total_memories"`
	ByType        map[string]int `json:"by_type"`
	PinnedCount   int            `json:"pinned_count"`
}

// SensitiveScanInput defines the input schema for the sensitive_scan tool.
type SensitiveScanInput struct {
	Content string `json:"content" jsonschema:"text to scan for secrets before remembering it"`
}

// SensitiveScanOutput defines the output schema for the sensitive_scan tool.
type SensitiveScanOutput struct {
	HasSensitive bool     `json:"has_sensitive"`
	Findings     []string `json:"findings"`
	Redacted     string   `json:"redacted"`
}

// OKOutput is the output schema for tools that only report success.
type OKOutput struct {
	OK bool `json:"ok"`
}

// ProjectInfoInput defines the input schema for the project_info tool (no parameters).
type ProjectInfoInput struct{}

// ConfigGetInput defines the input schema for the config_get tool (no parameters).
type ConfigGetInput struct{}

// ConfigGetOutput defines the output schema for the config_get tool.
type ConfigGetOutput struct {
	ToolProfile    string  `json:"tool_profile"`
	BM25Weight     float64 `json:"bm25_weight"`
	SemanticWeight float64 `json:"semantic_weight"`
	LogLevel       string  `json:"log_level"`
}

// EmbeddingInfo contains information about the embedding configuration.
type EmbeddingInfo struct {
	// Config values
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Status   string `json:"status"`

	// Runtime state - allows AI clients to adjust search strategy
	ActualProvider   string `json:"actual_provider"`    // "hugot" or "static"
	ActualModel      string `json:"actual_model"`       // e.g., "embeddinggemma-300m" or "static"
	Dimensions       int    `json:"dimensions"`         // 768 (hugot) or 256 (static)
	IsFallbackActive bool   `json:"is_fallback_active"` // true if using static fallback
	SemanticQuality  string `json:"semantic_quality"`   // "high" (hugot) or "low" (static)
}
