package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/succ-project/succ/internal/config"
	"github.com/succ-project/succ/internal/embed"
	"github.com/succ-project/succ/internal/memory"
	"github.com/succ-project/succ/internal/retrieval"
	"github.com/succ-project/succ/internal/store"
)

// projectState holds one project's loaded indexes, evicted LRU-style when
// MaxProjects is exceeded.
type projectState struct {
	rootPath string
	loadedAt time.Time
	lastUsed time.Time

	dispatcher *store.Dispatcher

	bm25    store.BM25Index
	vectors store.VectorStore

	memDB      store.MemoryStore
	memVectors store.VectorStore
	memCore    *memory.Core
	memVecPath string
}

// Close releases the project's backing stores. Safe to call with a nil dispatcher.
func (p *projectState) Close() error {
	if p.dispatcher != nil {
		return p.dispatcher.Close()
	}
	return nil
}

// Option configures a Daemon at construction time.
type Option func(*Daemon)

// WithEmbedder overrides the embedder the daemon uses for semantic search.
// Primarily for tests, to avoid an Ollama dependency.
func WithEmbedder(e embed.Embedder) Option {
	return func(d *Daemon) { d.embedder = e }
}

// Daemon keeps the embedder and a bounded set of per-project indexes loaded
// in memory and serves search/status requests over a Unix socket.
type Daemon struct {
	config   Config
	embedder embed.Embedder
	pidFile  *PIDFile
	server   *Server
	router   *Router

	mu       sync.Mutex
	projects map[string]*projectState
	started  time.Time
}

// NewDaemon constructs a Daemon. Options are applied before Start is called.
func NewDaemon(cfg Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	server, err := NewServer(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create server: %w", err)
	}

	d := &Daemon{
		config:   cfg,
		pidFile:  NewPIDFile(cfg.PIDPath),
		server:   server,
		projects: make(map[string]*projectState),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.router = NewRouter(d, d, nil, nil)
	server.SetHandler(d)
	server.SetRouter(d.router)
	return d, nil
}

// Router returns the daemon's method dispatcher. The daemon wires itself in
// as the memory handler at construction; the caller (cmd/succd) can still
// attach watch/analyze handlers with SetWatchHandler/SetAnalyzeHandler
// before Start is called.
func (d *Daemon) Router() *Router {
	return d.router
}

// Start runs the daemon until ctx is cancelled: writes the PID file, listens
// on the Unix socket, and cleans up both on exit.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.config.EnsureDir(); err != nil {
		return err
	}
	if err := d.pidFile.Write(); err != nil {
		return fmt.Errorf("failed to write pid file: %w", err)
	}

	d.started = time.Now()

	defer func() {
		d.cleanup()
		_ = d.pidFile.Remove()
	}()

	return d.server.ListenAndServe(ctx)
}

// HandleSearch implements RequestHandler, loading the project's on-disk
// index (if not already resident) and running a search against it.
func (d *Daemon) HandleSearch(ctx context.Context, params SearchParams) ([]SearchResult, error) {
	state, err := d.loadProject(params.RootPath)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	state.lastUsed = time.Now()
	d.mu.Unlock()

	retriever := retrieval.New(state.bm25, state.vectors, d.embedder, nil, nil)
	opts := retrieval.DefaultOptions(params.Limit)
	if opts.K <= 0 {
		opts.K = 10
	}
	hits, err := retriever.Retrieve(ctx, params.Query, opts)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, SearchResult{
			FilePath:  h.ID,
			Score:     h.Score,
			BM25Score: h.BM25Score,
			VecScore:  h.VecScore,
		})
	}
	return results, nil
}

// GetStatus implements RequestHandler.
func (d *Daemon) GetStatus() StatusResult {
	d.mu.Lock()
	defer d.mu.Unlock()

	status := StatusResult{
		Running:        true,
		PID:            os.Getpid(),
		Uptime:         time.Since(d.started).Round(time.Second).String(),
		EmbedderType:   "unavailable",
		EmbedderStatus: "unavailable",
		ProjectsLoaded: len(d.projects),
	}

	if d.embedder != nil {
		status.EmbedderType = d.embedder.ModelName()
		if d.embedder.Available(context.Background()) {
			status.EmbedderStatus = "ready"
		} else {
			status.EmbedderStatus = "recovering"
		}
	}

	return status
}

// Remember implements MemoryHandler, saving one memory scoped to the
// project's own memory store.
func (d *Daemon) Remember(ctx context.Context, params RememberParams) (*RememberResult, error) {
	state, err := d.loadProject(params.RootPath)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	state.lastUsed = time.Now()
	d.mu.Unlock()

	result, err := state.memCore.Save(ctx, params.Content, mapMemoryType(params.Type), memory.SaveOpts{
		Tags:       params.Tags,
		Source:     params.Source,
		Supersedes: params.Supersedes,
	})
	if err != nil {
		return nil, err
	}
	if !result.Duplicate {
		_ = state.memVectors.Save(state.memVecPath)
	}
	return &RememberResult{MemoryID: result.Memory.ID, Duplicate: result.Duplicate}, nil
}

// Recall implements MemoryHandler, returning the memories most relevant to
// a query from the project's own memory store.
func (d *Daemon) Recall(ctx context.Context, params RecallParams) ([]RecallResult, error) {
	state, err := d.loadProject(params.RootPath)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	state.lastUsed = time.Now()
	d.mu.Unlock()

	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}

	embedding, err := state.memCore.EmbedForSearch(ctx, params.Query)
	if err != nil {
		return nil, err
	}
	scored, err := state.memCore.SearchByVectorScored(ctx, embedding, limit, 0)
	if err != nil {
		return nil, err
	}

	results := make([]RecallResult, 0, len(scored))
	for _, sm := range scored {
		results = append(results, RecallResult{
			MemoryID: sm.Memory.ID,
			Content:  sm.Memory.Content,
			Type:     string(sm.Memory.Type),
			Score:    sm.Score,
			Pinned:   sm.Memory.Pinned(),
		})
	}
	return results, nil
}

// mapMemoryType normalizes a wire-supplied type string to a known
// store.MemoryType, defaulting to an observation.
func mapMemoryType(s string) store.MemoryType {
	switch store.MemoryType(s) {
	case store.MemoryTypeObservation, store.MemoryTypeDecision, store.MemoryTypeLearning,
		store.MemoryTypeError, store.MemoryTypePattern, store.MemoryTypeDeadEnd:
		return store.MemoryType(s)
	default:
		return store.MemoryTypeObservation
	}
}

// loadProject returns the resident projectState for rootPath, opening its
// on-disk index (under rootPath/.succ) if it isn't already loaded.
func (d *Daemon) loadProject(rootPath string) (*projectState, error) {
	d.mu.Lock()
	if state, ok := d.projects[rootPath]; ok {
		d.mu.Unlock()
		return state, nil
	}
	d.mu.Unlock()

	dataDir := filepath.Join(rootPath, ".succ")
	metadataPath := filepath.Join(dataDir, "metadata.db")
	if _, err := os.Stat(metadataPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("no index found for %s: run 'succ index' first", rootPath)
	}

	cfg, err := config.Load(rootPath)
	if err != nil {
		cfg = config.NewConfig()
	}

	dimensions := d.embedderDimensions()
	dispatcher, err := store.NewDispatcher(dataDir, store.DispatcherConfig{
		Corpora:     []string{store.CorpusCode, store.CorpusMemories},
		BM25Backend: cfg.Search.BM25Backend,
		Dimensions:  dimensions,
		StoreConfig: store.DefaultStoreConfig(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open project stores: %w", err)
	}

	bm25 := dispatcher.BM25(store.CorpusCode)
	vectors := dispatcher.Vectors(store.CorpusCode)
	memDB := dispatcher.Memory()
	memVectors := dispatcher.Vectors(store.CorpusMemories)
	memVecPath := filepath.Join(dataDir, "memories_vectors.hnsw")

	memCore := memory.New(memDB, memVectors, d.embedder, cfg.Memory, cfg.Sensitive, nil)

	now := time.Now()
	state := &projectState{
		rootPath:   rootPath,
		loadedAt:   now,
		lastUsed:   now,
		dispatcher: dispatcher,
		bm25:       bm25,
		vectors:    vectors,
		memDB:      memDB,
		memVectors: memVectors,
		memCore:    memCore,
		memVecPath: memVecPath,
	}

	d.mu.Lock()
	d.evictLRU() // reserve a slot before adding the new project
	d.projects[rootPath] = state
	d.mu.Unlock()

	return state, nil
}

func (d *Daemon) embedderDimensions() int {
	if d.embedder != nil {
		return d.embedder.Dimensions()
	}
	return embed.NewStaticEmbedder768().Dimensions()
}

// evictLRU closes and drops the least-recently-used project(s) until the
// resident set is below MaxProjects, reserving room for a project about to
// be added. Caller must hold d.mu.
func (d *Daemon) evictLRU() {
	max := d.config.MaxProjects
	if max <= 0 {
		return
	}

	for len(d.projects) >= max {
		var oldestPath string
		var oldestUsed time.Time
		first := true
		for p, state := range d.projects {
			if first || state.lastUsed.Before(oldestUsed) {
				oldestPath = p
				oldestUsed = state.lastUsed
				first = false
			}
		}
		if first {
			return // empty map
		}
		_ = d.projects[oldestPath].Close()
		delete(d.projects, oldestPath)
	}
}

// cleanup releases every resident project and the embedder on shutdown.
func (d *Daemon) cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for path, state := range d.projects {
		_ = state.Close()
		delete(d.projects, path)
	}
	if d.embedder != nil {
		_ = d.embedder.Close()
		d.embedder = nil
	}
}
