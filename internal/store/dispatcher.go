package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// CorpusCode and CorpusMemories name the per-corpus BM25/vector handles a
// Dispatcher owns. Additional corpora (e.g. a dedicated "docs" index,
// split out from code) can be added by passing more names to
// DispatcherConfig.Corpora without touching callers that only ever ask
// for these two.
const (
	CorpusCode     = "code"
	CorpusMemories = "memories"
)

// DispatcherConfig configures which per-corpus BM25/vector indexes a
// Dispatcher opens alongside its relational stores.
type DispatcherConfig struct {
	// Corpora lists the BM25/vector corpus names to open. Defaults to
	// [CorpusCode, CorpusMemories] when empty.
	Corpora []string

	BM25Backend string
	Dimensions  int
	StoreConfig StoreConfig
}

// Dispatcher is the single entrypoint a daemon project uses to reach
// persistence: one relational MetadataStore and MemoryStore over a shared
// SQLite connection, plus one BM25Index and one VectorStore per named
// corpus. It replaces ad hoc opening of individual stores with one
// constructor that owns the full set and closes them together.
type Dispatcher struct {
	dataDir string

	metadata *SQLiteStore
	memory   *SQLiteMemoryStore

	bm25    map[string]BM25Index
	vectors map[string]VectorStore

	vectorPaths map[string]string
}

// NewDispatcher opens (creating if necessary) the relational stores and
// the per-corpus BM25/vector indexes under dataDir (typically
// <project>/.succ). Callers must call Close when done with the project.
func NewDispatcher(dataDir string, cfg DispatcherConfig) (*Dispatcher, error) {
	corpora := cfg.Corpora
	if len(corpora) == 0 {
		corpora = []string{CorpusCode, CorpusMemories}
	}

	metadata, err := NewSQLiteStoreWithConfig(filepath.Join(dataDir, "metadata.db"), cfg.StoreConfig)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: open metadata store: %w", err)
	}

	memDB, err := NewSQLiteMemoryStore(filepath.Join(dataDir, "memory.db"))
	if err != nil {
		_ = metadata.Close()
		return nil, fmt.Errorf("dispatcher: open memory store: %w", err)
	}

	d := &Dispatcher{
		dataDir:     dataDir,
		metadata:    metadata,
		memory:      memDB,
		bm25:        make(map[string]BM25Index, len(corpora)),
		vectors:     make(map[string]VectorStore, len(corpora)),
		vectorPaths: make(map[string]string, len(corpora)),
	}

	for _, corpus := range corpora {
		bm25BasePath := filepath.Join(dataDir, bm25DirName(corpus))
		idx, err := NewBM25IndexWithBackend(bm25BasePath, bm25ConfigForCorpus(corpus), cfg.BM25Backend)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("dispatcher: open bm25 corpus %q: %w", corpus, err)
		}
		d.bm25[corpus] = idx

		vecPath := filepath.Join(dataDir, vectorFileName(corpus))
		vecStore, err := NewHNSWStore(DefaultVectorStoreConfig(cfg.Dimensions))
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("dispatcher: create vector store for corpus %q: %w", corpus, err)
		}
		if _, err := os.Stat(vecPath); err == nil {
			_ = vecStore.Load(vecPath)
		}
		d.vectors[corpus] = vecStore
		d.vectorPaths[corpus] = vecPath
	}

	return d, nil
}

// bm25DirName derives the on-disk bm25 index directory for a corpus,
// keeping the code corpus at its original "bm25" path for backward
// compatibility with indexes written before the dispatcher existed.
func bm25DirName(corpus string) string {
	if corpus == CorpusCode {
		return "bm25"
	}
	return filepath.Join("bm25", corpus)
}

// vectorFileName derives the on-disk HNSW file for a corpus, keeping the
// code corpus at its original "vectors.hnsw" path.
func vectorFileName(corpus string) string {
	if corpus == CorpusCode {
		return "vectors.hnsw"
	}
	return corpus + "_vectors.hnsw"
}

// bm25ConfigForCorpus picks the tokenizer and stop word list for a corpus.
// Code chunks get identifier-aware splitting; memories and other prose
// corpora get plain word tokenization with an English stop word list, so
// neither one is scored against rules built for the other.
func bm25ConfigForCorpus(corpus string) BM25Config {
	if corpus == CorpusCode {
		return DefaultBM25Config()
	}
	return DefaultProseBM25Config()
}

// Metadata returns the relational metadata store.
func (d *Dispatcher) Metadata() MetadataStore { return d.metadata }

// Memory returns the relational memory store (memories, links, centrality, token events).
func (d *Dispatcher) Memory() MemoryStore { return d.memory }

// BM25 returns the keyword index for corpus, or nil if it wasn't opened.
func (d *Dispatcher) BM25(corpus string) BM25Index { return d.bm25[corpus] }

// Vectors returns the semantic index for corpus, or nil if it wasn't opened.
func (d *Dispatcher) Vectors(corpus string) VectorStore { return d.vectors[corpus] }

// SaveVectors persists the in-memory HNSW state for corpus back to disk.
func (d *Dispatcher) SaveVectors(corpus string) error {
	v, ok := d.vectors[corpus]
	if !ok {
		return fmt.Errorf("dispatcher: unknown corpus %q", corpus)
	}
	return v.Save(d.vectorPaths[corpus])
}

// Close releases every store the dispatcher owns, continuing through
// errors so a failure on one store doesn't strand the others open.
func (d *Dispatcher) Close() error {
	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	for _, idx := range d.bm25 {
		record(idx.Close())
	}
	for _, v := range d.vectors {
		record(v.Close())
	}
	if d.memory != nil {
		record(d.memory.Close())
	}
	if d.metadata != nil {
		record(d.metadata.Close())
	}
	return firstErr
}
