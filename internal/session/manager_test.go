package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	herr "github.com/danielpatrickdp/hybrid-router/internal/errors"
	"github.com/danielpatrickdp/hybrid-router/internal/query"
	"github.com/danielpatrickdp/hybrid-router/internal/reservoir"
	"github.com/danielpatrickdp/hybrid-router/internal/store"
)

const inputDim = 8

func template(t *testing.T) *reservoir.Reservoir {
	t.Helper()
	cfg := reservoir.DefaultConfig(inputDim)
	cfg.Size = 24
	cfg.OutputSize = 4
	r, err := reservoir.New(cfg)
	require.NoError(t, err)
	return r
}

func newManager(t *testing.T, limit int, persist Persistence) *Manager {
	t.Helper()
	m, err := NewManager(Config{HistoryCap: limit, DefaultProject: "default"}, template(t), persist)
	require.NoError(t, err)
	return m
}

func memStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func turn(text, project string) query.Turn {
	q := query.MustNew(text, query.WithProject(project))
	return query.NewTurn(q, "ok", query.Decision{Route: query.RouteLocal, Confidence: 0.8})
}

func features(v float32) []float32 {
	f := make([]float32, inputDim)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestNewManagerValidation(t *testing.T) {
	_, err := NewManager(Config{HistoryCap: 0}, template(t), nil)
	assert.True(t, herr.IsKind(err, herr.KindInvalidArgument))

	_, err = NewManager(DefaultConfig(), nil, nil)
	assert.True(t, herr.IsKind(err, herr.KindInvalidArgument))

	m, err := NewManager(Config{HistoryCap: 5}, template(t), nil)
	require.NoError(t, err)
	assert.Equal(t, "default", m.DefaultProject())
}

func TestHistoryCapEvictsOldest(t *testing.T) {
	m := newManager(t, 3, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AddTurn(ctx, "alpha", turn(fmt.Sprintf("q%d", i), "alpha"), features(0.1)))
	}

	snap, err := m.Snapshot(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, snap.Turns, 3)
	assert.Equal(t, "q2", snap.Turns[0].Query)
	assert.Equal(t, "q4", snap.Turns[2].Query)
	assert.Equal(t, 3, snap.HistoryLength)
}

func TestSnapshotDoesNotMutate(t *testing.T) {
	m := newManager(t, 10, nil)
	ctx := context.Background()
	require.NoError(t, m.AddTurn(ctx, "alpha", turn("one", "alpha"), features(0.3)))
	require.NoError(t, m.AddTurn(ctx, "alpha", turn("two", "alpha"), features(0.4)))

	first, err := m.Snapshot(ctx, "alpha", 1)
	require.NoError(t, err)
	require.Len(t, first.Turns, 1)
	assert.Equal(t, "two", first.Turns[0].Query)

	first.Turns[0].Query = "edited"
	first.ReservoirState[0] = 42

	second, err := m.Snapshot(ctx, "alpha", 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, []string{second.Turns[0].Query, second.Turns[1].Query})
	assert.NotEqual(t, float32(42), second.ReservoirState[0])

	empty, err := m.Snapshot(ctx, "alpha", 0)
	require.NoError(t, err)
	assert.Empty(t, empty.Turns)
	assert.Equal(t, 2, empty.HistoryLength)
}

func TestSwitchIsLazyAndIsolated(t *testing.T) {
	m := newManager(t, 10, nil)
	ctx := context.Background()
	assert.Empty(t, m.Projects())

	require.NoError(t, m.AddTurn(ctx, "alpha", turn("a", "alpha"), features(0.5)))
	beta, err := m.Switch(ctx, "beta")
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, m.Projects())
	assert.Equal(t, 0, beta.Len())
	assert.Equal(t, make([]float32, 24), beta.ReservoirState(), "new project starts from zero state")

	alpha, err := m.Switch(ctx, "alpha")
	require.NoError(t, err)
	assert.NotEqual(t, make([]float32, 24), alpha.ReservoirState())
	assert.Equal(t, 1, m.ConversationCount())
}

func TestEmptyProjectUsesDefault(t *testing.T) {
	m := newManager(t, 10, nil)
	ctx := context.Background()
	require.NoError(t, m.AddTurn(ctx, "", turn("x", ""), features(0.1)))
	assert.Equal(t, []string{"default"}, m.Projects())
}

func TestWrongWidthLeavesHistoryUnchanged(t *testing.T) {
	m := newManager(t, 10, nil)
	ctx := context.Background()
	require.NoError(t, m.AddTurn(ctx, "alpha", turn("a", "alpha"), features(0.2)))

	p, _ := m.Switch(ctx, "alpha")
	before := p.ReservoirState()

	err := m.AddTurn(ctx, "alpha", turn("b", "alpha"), make([]float32, inputDim+1))
	require.Error(t, err)
	assert.True(t, herr.IsKind(err, herr.KindDimensionMismatch))
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, before, p.ReservoirState())
}

func TestRecentHistoryNewestFirst(t *testing.T) {
	m := newManager(t, 10, nil)
	ctx := context.Background()
	for _, s := range []string{"a", "b", "c"} {
		require.NoError(t, m.AddTurn(ctx, "alpha", turn(s, "alpha"), features(0.1)))
	}
	p, _ := m.Switch(ctx, "alpha")
	recent := p.RecentHistory(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "c", recent[0].Query)
	assert.Equal(t, "b", recent[1].Query)
}

func TestClearHistory(t *testing.T) {
	m := newManager(t, 10, nil)
	ctx := context.Background()
	require.NoError(t, m.AddTurn(ctx, "alpha", turn("a", "alpha"), features(0.5)))
	require.NoError(t, m.AddTurn(ctx, "beta", turn("b", "beta"), features(0.5)))

	m.ClearHistory()
	assert.Equal(t, 0, m.ConversationCount())
	p, _ := m.Switch(ctx, "alpha")
	assert.Equal(t, make([]float32, 24), p.ReservoirState())
}

func TestPersistenceRoundTrip(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()

	m := newManager(t, 10, s)
	require.NoError(t, m.AddTurn(ctx, "alpha", turn("first", "alpha"), features(0.2)))
	require.NoError(t, m.AddTurn(ctx, "alpha", turn("second", "alpha"), features(0.7)))
	p, _ := m.Switch(ctx, "alpha")
	state := p.ReservoirState()
	require.NoError(t, m.Close(ctx, "alpha"))
	assert.Empty(t, m.Projects())

	restored := newManager(t, 10, s)
	snap, err := restored.Snapshot(ctx, "alpha", 10)
	require.NoError(t, err)
	require.Len(t, snap.Turns, 2)
	assert.Equal(t, "first", snap.Turns[0].Query)
	assert.Equal(t, state, snap.ReservoirState)
}

func TestFlushSavesEveryProject(t *testing.T) {
	s := memStore(t)
	ctx := context.Background()
	m := newManager(t, 10, s)
	require.NoError(t, m.AddTurn(ctx, "alpha", turn("a", "alpha"), features(0.2)))
	require.NoError(t, m.AddTurn(ctx, "beta", turn("b", "beta"), features(0.2)))
	require.NoError(t, m.Flush(ctx))

	keys, err := s.Keys(ctx, "turns:")
	require.NoError(t, err)
	assert.Equal(t, []string{"turns:alpha", "turns:beta"}, keys)
}

type failingStore struct{}

func (failingStore) Save(context.Context, string, []byte) error { return errors.New("disk full") }
func (failingStore) Load(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("disk gone")
}

func TestPersistenceErrorsAreStorageKind(t *testing.T) {
	m := newManager(t, 10, failingStore{})
	_, err := m.Switch(context.Background(), "alpha")
	require.Error(t, err)
	assert.True(t, herr.IsKind(err, herr.KindStorage))
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := newManager(t, 10, nil)
	require.NoError(t, src.AddTurn(ctx, "alpha", turn("hello", "alpha"), features(0.1)))
	require.NoError(t, src.AddTurn(ctx, "beta", turn("world", "beta"), features(0.1)))

	data, err := src.Export()
	require.NoError(t, err)

	dst := newManager(t, 10, nil)
	require.NoError(t, dst.Import(ctx, data))
	assert.Equal(t, []string{"alpha", "beta"}, dst.Projects())
	assert.Equal(t, 2, dst.ConversationCount())

	p, _ := dst.Switch(ctx, "beta")
	assert.Equal(t, "world", p.History()[0].Query)

	assert.True(t, herr.IsKind(dst.Import(ctx, []byte("not json")), herr.KindInvalidArgument))
}

func TestImportRespectsCap(t *testing.T) {
	ctx := context.Background()
	src := newManager(t, 10, nil)
	for i := 0; i < 6; i++ {
		require.NoError(t, src.AddTurn(ctx, "alpha", turn(fmt.Sprintf("q%d", i), "alpha"), features(0.1)))
	}
	data, err := src.Export()
	require.NoError(t, err)

	dst := newManager(t, 4, nil)
	require.NoError(t, dst.Import(ctx, data))
	p, _ := dst.Switch(ctx, "alpha")
	h := p.History()
	require.Len(t, h, 4)
	assert.Equal(t, "q2", h[0].Query)
}
