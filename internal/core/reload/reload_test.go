package reload

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/solatis/badgekeeper/internal/core/db"
	"github.com/solatis/badgekeeper/internal/rules"
	"github.com/solatis/badgekeeper/internal/types"
)

type fakeSource struct {
	mu    sync.Mutex
	rows  []db.RuleRow
	err   error
	calls int
}

func (f *fakeSource) ListEligible(_ context.Context, _ time.Time) ([]db.RuleRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]db.RuleRow(nil), f.rows...), nil
}

func (f *fakeSource) set(rows []db.RuleRow, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.err = rows, err
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func row(t *testing.T, id, field string) db.RuleRow {
	t.Helper()
	rule := &types.Rule{
		ID:   id,
		Name: id + "-name",
		Root: &types.Condition{Field: field, Operator: types.OpGte, Value: types.Number(1)},
	}
	r, err := db.NewRuleRow(rule)
	require.NoError(t, err)
	return *r
}

func TestRefreshOnceReplacesStore(t *testing.T) {
	store := rules.NewStore()
	source := &fakeSource{}
	r := New(source, store, time.Minute, nil)
	ctx := context.Background()

	source.set([]db.RuleRow{row(t, "a", "x"), row(t, "b", "y")}, nil)
	require.NoError(t, r.RefreshOnce(ctx))
	assert.Equal(t, []string{"a", "b"}, store.ListIDs())

	// b leaves the eligible set
	source.set([]db.RuleRow{row(t, "a", "x")}, nil)
	require.NoError(t, r.RefreshOnce(ctx))
	assert.Equal(t, []string{"a"}, store.ListIDs())

	st := r.Stats()
	assert.Equal(t, uint64(2), st.Refreshes)
	assert.Equal(t, 1, st.LastLoaded)
	assert.False(t, st.LastRefresh.IsZero())
}

func TestRefreshOnceListFailureKeepsStore(t *testing.T) {
	store := rules.NewStore()
	source := &fakeSource{}
	r := New(source, store, time.Minute, nil)
	ctx := context.Background()

	source.set([]db.RuleRow{row(t, "a", "x")}, nil)
	require.NoError(t, r.RefreshOnce(ctx))

	source.set(nil, errors.New("database is locked"))
	assert.Error(t, r.RefreshOnce(ctx))
	assert.Equal(t, []string{"a"}, store.ListIDs())
	assert.Equal(t, uint64(1), r.Stats().Failures)
}

func TestRefreshOnceRuleFailures(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	logger := zap.New(core)
	store := rules.NewStore(rules.WithLogger(logger))
	source := &fakeSource{}
	r := New(source, store, time.Minute, logger)
	ctx := context.Background()

	source.set([]db.RuleRow{row(t, "a", "x"), row(t, "b", "y")}, nil)
	require.NoError(t, r.RefreshOnce(ctx))
	versionA, _ := store.Version("a")

	// a no longer compiles, b no longer decodes
	broken := row(t, "a", "x")
	broken.Definition = `{"id":"a","name":"a","root":{"type":"condition","field":"x","operator":"near","value":1}}`
	corrupt := row(t, "b", "y")
	corrupt.Definition = `{"root": 42}`
	source.set([]db.RuleRow{broken, corrupt, row(t, "c", "z")}, nil)
	require.NoError(t, r.RefreshOnce(ctx))

	assert.Equal(t, []string{"a", "c"}, store.ListIDs())
	kept, _ := store.Version("a")
	assert.Equal(t, versionA, kept, "previous compiled version is kept")
	assert.Equal(t, uint64(2), r.Stats().RuleErrors)
	assert.Equal(t, 1, logs.FilterMessage("skipping undecodable rule").Len())
	assert.Equal(t, 1, logs.FilterMessage("rule failed to compile").Len())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := rules.NewStore()
	source := &fakeSource{}
	source.set([]db.RuleRow{row(t, "a", "x")}, nil)
	r := New(source, store, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return source.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.True(t, store.Contains("a"))
}

// writerSource runs a locked write against the store while a refresh holds
// its snapshot, then returns the pre-write rows.
type writerSource struct {
	snapshot []db.RuleRow
	write    func()
	written  chan struct{}
}

func (w *writerSource) ListEligible(_ context.Context, _ time.Time) ([]db.RuleRow, error) {
	started := make(chan struct{})
	go func() {
		close(started)
		w.write()
		close(w.written)
	}()
	<-started
	time.Sleep(20 * time.Millisecond)
	return w.snapshot, nil
}

func TestRefreshDoesNotOverwriteConcurrentWrites(t *testing.T) {
	store := rules.NewStore()
	stale := row(t, "deleted", "x")
	freshRow := row(t, "fresh", "y")
	fresh, err := freshRow.Rule()
	require.NoError(t, err)
	require.NoError(t, store.Load(&types.Rule{
		ID:   "deleted",
		Name: "deleted-name",
		Root: &types.Condition{Field: "x", Operator: types.OpGte, Value: types.Number(1)},
	}))

	source := &writerSource{
		snapshot: []db.RuleRow{stale},
		written:  make(chan struct{}),
	}
	r := New(source, store, time.Minute, nil)
	source.write = func() {
		r.Lock()
		defer r.Unlock()
		_ = store.Load(fresh)
		_ = store.Delete("deleted")
	}

	require.NoError(t, r.RefreshOnce(context.Background()))

	select {
	case <-source.written:
	case <-time.After(2 * time.Second):
		t.Fatal("write did not complete")
	}
	assert.True(t, store.Contains("fresh"), "loaded rule survives the refresh")
	assert.False(t, store.Contains("deleted"), "deleted rule is not restored by the refresh")
}
