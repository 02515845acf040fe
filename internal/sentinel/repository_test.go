package sentinel

import (
	"Lantern/internal/entity"
	"Lantern/internal/test"
	"Lantern/pkg/db"
	"Lantern/pkg/log"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepository(t *testing.T) (Repository, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := db.NewDbConnection(ctx, log.Nop(), db.Options{Addr: mr.Addr(), TxMaxRetries: 3})
	require.NoError(t, err)
	t.Cleanup(func() { client.CloseDbConnection(ctx) })
	return NewRepository(client), mr
}

func TestRepositorySnapshot(t *testing.T) {
	repo, mr := newTestRepository(t)

	_, ok, err := repo.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	want := entity.PressureSnapshot{
		Level:              "CRITICAL",
		HeapUsedPercent:    0.9,
		LoadSheddingActive: true,
		WorkersPaused:      true,
		ChangedAt:          1700000000,
	}
	require.NoError(t, repo.SaveSnapshot(ctx, want))
	assert.Equal(t, "CRITICAL", mr.HGet(pressureDbKey, "level"))

	got, ok, err := repo.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

func TestRepositoryStoreDown(t *testing.T) {
	repo, mr := newTestRepository(t)
	mr.Close()

	_, _, err := repo.GetSnapshot(ctx)
	assert.Error(t, err)
	assert.Error(t, repo.SaveSnapshot(ctx, entity.PressureSnapshot{Level: "NORMAL"}))
}

func TestSentinelPersistsTransitions(t *testing.T) {
	repo, mr := newTestRepository(t)
	h := newHarness(t, nil)
	h.s = New(Options{
		CeilingBytes: testCeiling,
		Clock:        h.clock,
		Reader:       h.reader,
		GC:           func() {},
		Workers:      h.workers,
		Repository:   repo,
	}, prometheus.NewRegistry(), log.Nop())

	h.feed(t, 0.85)
	snap, ok, err := repo.GetSnapshot(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "SEVERE", snap.Level)
	assert.True(t, snap.LoadSheddingActive)
	assert.False(t, snap.WorkersPaused)
	assert.Equal(t, h.clock.Now().Unix(), snap.ChangedAt)

	h.feed(t, 0.90)
	snap, _, err = repo.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "CRITICAL", snap.Level)
	assert.True(t, snap.WorkersPaused, "snapshot is taken after mitigation")

	h.feed(t, 0.50)
	snap, _, err = repo.GetSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "NORMAL", snap.Level)
	assert.False(t, snap.LoadSheddingActive)
	assert.False(t, snap.WorkersPaused)

	// A dead store never blocks sampling
	mr.Close()
	assert.Equal(t, entity.Severe, h.feed(t, 0.85))
}

func TestLastTransitionAPI(t *testing.T) {
	repo, mr := newTestRepository(t)
	h := newHarness(t, nil)
	h.s = New(Options{
		CeilingBytes: testCeiling,
		Clock:        h.clock,
		Reader:       h.reader,
		GC:           func() {},
		Workers:      h.workers,
		Repository:   repo,
	}, prometheus.NewRegistry(), log.Nop())
	router := test.MockRouter()
	APIHandlers(router, h.s, "test")
	get := func(status int) []byte {
		w := test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "GET", Path: "/api/ops/memory/last-transition", WantResponse: []int{status}})
		return w.Body.Bytes()
	}

	get(http.StatusNotFound)

	h.feed(t, 0.89)
	var snap entity.PressureSnapshot
	require.NoError(t, json.Unmarshal(get(http.StatusOK), &snap))
	assert.Equal(t, "CRITICAL", snap.Level)
	assert.True(t, snap.WorkersPaused)

	mr.Close()
	get(http.StatusServiceUnavailable)
}

func TestLastTransitionWithoutRepository(t *testing.T) {
	h := newHarness(t, nil)
	_, _, err := h.s.LastTransition(ctx)
	assert.ErrorIs(t, err, ErrNoRepository)

	router := test.MockRouter()
	APIHandlers(router, h.s, "test")
	test.ExecuteAPITest(t, router, test.RequestAPITest{Method: "GET", Path: "/api/ops/memory/last-transition", WantResponse: []int{http.StatusNotFound}})
}
