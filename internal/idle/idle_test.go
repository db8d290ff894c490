package idle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succ-project/succ/internal/graph"
	"github.com/succ-project/succ/internal/memory"
	"github.com/succ-project/succ/internal/config"
	"github.com/succ-project/succ/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, store.MemoryStore) {
	t.Helper()
	db, err := store.NewSQLiteMemoryStore(filepath.Join(t.TempDir(), "idle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	core := memory.New(db, nil, nil, config.MemoryConfig{QualityThreshold: 0.1, DedupThreshold: 0.92}, config.SensitiveConfig{Enabled: true}, nil)
	g := graph.New(db)
	return New(db, core, g, DefaultConfig(), nil), db
}

func TestRunBudgeted_ReturnsInlineWhenFast(t *testing.T) {
	detached, err := RunBudgeted(context.Background(), 50*time.Millisecond, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, err)
	assert.False(t, detached)
}

func TestRunBudgeted_DetachesWhenSlow(t *testing.T) {
	started := make(chan struct{})
	finished := make(chan struct{})
	detached, err := RunBudgeted(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		close(started)
		time.Sleep(30 * time.Millisecond)
		close(finished)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, detached)

	select {
	case <-finished:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("detached job never finished")
	}
}

type fakeIndex struct {
	results map[string][]*store.VectorResult
}

func (f *fakeIndex) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	return f.results["default"], nil
}

func TestConsolidate_MergesNearDuplicatesKeepingHigherQuality(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	low := &store.Memory{ID: "low", Content: "a", Embedding: []float32{1, 0}, QualityScore: 0.4, Type: store.MemoryTypeObservation, CreatedAt: time.Now(), LastAccessedAt: time.Now()}
	high := &store.Memory{ID: "high", Content: "b", Embedding: []float32{1, 0}, QualityScore: 0.9, Type: store.MemoryTypeObservation, CreatedAt: time.Now(), LastAccessedAt: time.Now()}
	require.NoError(t, db.SaveMemory(ctx, low))
	require.NoError(t, db.SaveMemory(ctx, high))

	idx := &fakeIndex{results: map[string][]*store.VectorResult{
		"default": {{ID: "low", Score: 0.99}, {ID: "high", Score: 0.99}},
	}}

	report, err := p.Consolidate(ctx, idx, []*store.Memory{low, high})
	require.NoError(t, err)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, "merge", report.Outcomes[0].Decision)
	assert.Equal(t, "high", report.Outcomes[0].KeepID)

	remaining, err := db.GetMemory(ctx, "low")
	require.NoError(t, err)
	assert.Nil(t, remaining)
}

func TestConsolidate_ProtectsPinnedMemoryAsKeepBoth(t *testing.T) {
	p, db := newTestPipeline(t)
	ctx := context.Background()

	pinned := &store.Memory{ID: "pinned", Content: "a", Embedding: []float32{1, 0}, QualityScore: 0.2, IsInvariant: true, Type: store.MemoryTypeObservation, CreatedAt: time.Now(), LastAccessedAt: time.Now()}
	other := &store.Memory{ID: "other", Content: "b", Embedding: []float32{1, 0}, QualityScore: 0.9, Type: store.MemoryTypeObservation, CreatedAt: time.Now(), LastAccessedAt: time.Now()}
	require.NoError(t, db.SaveMemory(ctx, pinned))
	require.NoError(t, db.SaveMemory(ctx, other))

	idx := &fakeIndex{results: map[string][]*store.VectorResult{
		"default": {{ID: "pinned", Score: 0.99}, {ID: "other", Score: 0.99}},
	}}

	report, err := p.Consolidate(ctx, idx, []*store.Memory{pinned, other})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)

	stillThere, err := db.GetMemory(ctx, "pinned")
	require.NoError(t, err)
	assert.NotNil(t, stillThere)
}

type stubReflector struct {
	outputs []string
	err     error
}

func (s *stubReflector) Reflect(ctx context.Context, observations []string) ([]string, error) {
	return s.outputs, s.err
}

func TestReflect_SynthesizesFromLargeEnoughCluster(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	var observations []*store.Memory
	var links []*store.MemoryLink
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		observations = append(observations, &store.Memory{ID: id, Content: "observation " + id, Type: store.MemoryTypeObservation})
	}
	for i := 1; i < 5; i++ {
		links = append(links, &store.MemoryLink{FromID: "a", ToID: string(rune('a' + i)), Type: store.LinkRelated})
	}

	reflector := &stubReflector{outputs: []string{"the system consistently retries failed embedding calls up to three times before giving up entirely"}}
	outcomes, err := p.Reflect(ctx, reflector, observations, links, nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Saved)
}

func TestReflect_SkipsClustersBelowMinimumSize(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	observations := []*store.Memory{
		{ID: "x", Content: "lone observation", Type: store.MemoryTypeObservation},
		{ID: "y", Content: "another lone observation", Type: store.MemoryTypeObservation},
	}
	reflector := &stubReflector{outputs: []string{"should never be called"}}

	outcomes, err := p.Reflect(ctx, reflector, observations, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

type stubSummarizer struct {
	facts []string
	err   error
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) ([]string, error) {
	return s.facts, s.err
}

func TestSummarize_DropsFactsBelowMinimumLength(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	summarizer := &stubSummarizer{facts: []string{
		"too short",
		"the daemon waits sixty minutes of inbound silence before shutting itself down to avoid orphaned processes",
	}}

	outcomes, err := p.Summarize(ctx, summarizer, "session-1", "irrelevant transcript text")
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	assert.False(t, outcomes[0].Saved)
	assert.True(t, outcomes[1].Saved)
}

func TestSummarize_PropagatesSummarizerError(t *testing.T) {
	p, _ := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.Summarize(ctx, &stubSummarizer{err: errors.New("llm timeout")}, "session-1", "transcript")
	require.Error(t, err)
}

func TestExtractKeywords_RanksByFrequencyAndExcludesStopwords(t *testing.T) {
	text := "the retriever fuses bm25 and vector results the retriever then reranks results"
	keywords := ExtractKeywords(text, 3)
	require.NotEmpty(t, keywords)
	assert.Contains(t, keywords, "retriever")
	assert.Contains(t, keywords, "results")
	assert.NotContains(t, keywords, "the")
	assert.NotContains(t, keywords, "and")
}
