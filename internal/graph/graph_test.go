package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/succ-project/succ/internal/store"
)

func newTestGraph(t *testing.T) (*Graph, store.MemoryStore) {
	t.Helper()
	db, err := store.NewSQLiteMemoryStore(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db), db
}

func TestLink_NormalizesSymmetricEndpointOrder(t *testing.T) {
	g, db := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.Link(ctx, "zebra", "apple", store.LinkSimilarTo, 0.9, 0))

	links, err := db.GetLinks(ctx, "apple")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "apple", links[0].FromID)
	assert.Equal(t, "zebra", links[0].ToID)
}

func TestLink_AsymmetricTypePreservesDirection(t *testing.T) {
	g, db := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.Link(ctx, "zebra", "apple", store.LinkCausedBy, 1, 0.8))

	links, err := db.GetLinks(ctx, "apple")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "zebra", links[0].FromID)
	assert.Equal(t, "apple", links[0].ToID)
}

type fakeSearcher struct {
	results []*store.VectorResult
}

func (f *fakeSearcher) Search(ctx context.Context, query []float32, k int) ([]*store.VectorResult, error) {
	if k < len(f.results) {
		return f.results[:k], nil
	}
	return f.results, nil
}

func TestAutoLinkSimilar_LinksAboveThresholdOnly(t *testing.T) {
	g, db := newTestGraph(t)
	ctx := context.Background()

	searcher := &fakeSearcher{results: []*store.VectorResult{
		{ID: "self", Score: 1.0},
		{ID: "close", Score: 0.8},
		{ID: "far", Score: 0.4},
	}}

	linked, err := g.AutoLinkSimilar(ctx, searcher, "self", []float32{1, 0, 0}, 0.75, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, linked)

	links, err := db.GetLinks(ctx, "self")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, store.LinkSimilarTo, links[0].Type)
}

func TestProximityLink_RespectsMinCooccurrence(t *testing.T) {
	g, _ := newTestGraph(t)
	ctx := context.Background()

	cooc := map[[2]string]int{
		{"a", "b"}: 3,
		{"c", "d"}: 1,
	}
	linked, err := g.ProximityLink(ctx, cooc, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, linked)
}

type stubClassifier struct {
	typ store.LinkType
	err error
}

func (s *stubClassifier) Classify(ctx context.Context, a, b string) (store.LinkType, float64, error) {
	return s.typ, 0.9, s.err
}

func TestClassifyUnenriched_UpgradesSimilarToEdge(t *testing.T) {
	g, db := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.Link(ctx, "a", "b", store.LinkSimilarTo, 0.8, 0))

	memories := map[string]*store.Memory{
		"a": {ID: "a", Content: "we chose sqlite for the memory store"},
		"b": {ID: "b", Content: "this approach avoids cgo cross-compilation issues"},
	}
	lookup := func(id string) (*store.Memory, error) {
		if m, ok := memories[id]; ok {
			return m, nil
		}
		return nil, errors.New("not found")
	}

	classified, err := g.ClassifyUnenriched(ctx, &stubClassifier{typ: store.LinkImplements}, lookup, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, classified)

	links, err := db.GetLinks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, store.LinkImplements, links[0].Type)
	assert.Equal(t, 0.9, links[0].Confidence)
}

func TestComputeCentrality_NormalizesByMaxDegree(t *testing.T) {
	g, db := newTestGraph(t)
	ctx := context.Background()

	require.NoError(t, g.Link(ctx, "hub", "a", store.LinkRelated, 1, 0))
	require.NoError(t, g.Link(ctx, "hub", "b", store.LinkRelated, 1, 0))
	require.NoError(t, g.Link(ctx, "hub", "c", store.LinkRelated, 1, 0))
	require.NoError(t, g.Link(ctx, "a", "b", store.LinkRelated, 1, 0))

	require.NoError(t, g.ComputeCentrality(ctx))

	hub, err := db.GetCentrality(ctx, "hub")
	require.NoError(t, err)
	require.NotNil(t, hub)
	assert.Equal(t, 3, hub.Degree)
	assert.Equal(t, 1.0, hub.Score)

	a, err := db.GetCentrality(ctx, "a")
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Less(t, a.Score, 1.0)
}

func TestDetectCommunities_GroupsConnectedComponents(t *testing.T) {
	links := []*store.MemoryLink{
		{FromID: "a", ToID: "b", Type: store.LinkRelated},
		{FromID: "b", ToID: "c", Type: store.LinkRelated},
		{FromID: "x", ToID: "y", Type: store.LinkRelated},
	}

	labels := DetectCommunities(links, 20)
	assert.Equal(t, labels["a"], labels["b"])
	assert.Equal(t, labels["b"], labels["c"])
	assert.NotEqual(t, labels["a"], labels["x"])
	assert.Equal(t, labels["x"], labels["y"])
}
