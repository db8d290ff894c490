// Package idle implements the idle-time pipeline (C8): consolidation,
// reflection synthesis, session summarization, and next-session precompute.
// Each job is independently invokable, idempotent, and cancellable, and runs
// within a bounded synchronous wall-clock budget before handing off to a
// detached worker for anything left unfinished.
package idle

import (
	"context"
	"log/slog"
	"time"

	"github.com/succ-project/succ/internal/graph"
	"github.com/succ-project/succ/internal/memory"
	"github.com/succ-project/succ/internal/store"
)

// SyncBudget is the default wall-clock budget a job gets to run inline
// before the caller should continue it in a detached goroutine.
const SyncBudget = 25 * time.Second

// Reflector synthesizes 1-3 pattern/learning candidates from a cluster of
// observation memories. Implementations call out to an LLM.
type Reflector interface {
	Reflect(ctx context.Context, observations []string) ([]string, error)
}

// Summarizer reduces a session transcript to a bounded list of discrete
// facts suitable for the normal memory write path.
type Summarizer interface {
	Summarize(ctx context.Context, transcript string) ([]string, error)
}

// Briefer drafts a next-session briefing from retrieved context.
type Briefer interface {
	Brief(ctx context.Context, keywords []string, retrieved []string) (string, error)
}

// Pipeline wires the memory core, knowledge graph, and optional LLM
// capabilities needed to run idle jobs.
type Pipeline struct {
	db       store.MemoryStore
	core     *memory.Core
	graph    *graph.Graph
	logger   *slog.Logger

	mergeSimilarity float64 // config.IdleReflection.SimilarityForMerge
	maxMemories     int     // config.IdleReflection.MaxMemoriesToProcess
	reflectDedup    float64 // dedup threshold for new reflections (0.80)
	minClusterSize  int
	maxPerCluster   int // unreflected-per-cluster cap (15)
}

// Config configures a Pipeline's thresholds.
type Config struct {
	MergeSimilarity float64
	MaxMemories     int
	ReflectDedup    float64
	MinClusterSize  int
	MaxPerCluster   int
}

// DefaultConfig returns the spec's stated thresholds.
func DefaultConfig() Config {
	return Config{
		MergeSimilarity: 0.85,
		MaxMemories:     500,
		ReflectDedup:    0.80,
		MinClusterSize:  5,
		MaxPerCluster:   15,
	}
}

// New constructs a Pipeline.
func New(db store.MemoryStore, core *memory.Core, g *graph.Graph, cfg Config, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		db:              db,
		core:            core,
		graph:           g,
		logger:          logger,
		mergeSimilarity: cfg.MergeSimilarity,
		maxMemories:     cfg.MaxMemories,
		reflectDedup:    cfg.ReflectDedup,
		minClusterSize:  cfg.MinClusterSize,
		maxPerCluster:   cfg.MaxPerCluster,
	}
}

// RunBudgeted runs job inline until SyncBudget elapses. If the job has not
// finished by then, it continues running in a detached goroutine (using a
// fresh background context so cancellation of the caller's ctx does not cut
// it off) and RunBudgeted returns immediately with detached=true.
func RunBudgeted(ctx context.Context, budget time.Duration, job func(context.Context) error) (detached bool, err error) {
	done := make(chan error, 1)
	jobCtx, cancel := context.WithCancel(context.Background())

	go func() {
		done <- job(jobCtx)
	}()

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case err := <-done:
		cancel()
		return false, err
	case <-timer.C:
		// Detach: let the job keep running against a background context,
		// uncoupled from the caller's cancellation or budget.
		go func() {
			<-done
			cancel()
		}()
		return true, nil
	}
}
