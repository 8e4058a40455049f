package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ndukwe/dicebrawl/internal/store"
	"github.com/ndukwe/dicebrawl/internal/store/postgres"
	"github.com/ndukwe/dicebrawl/internal/testutil"
)

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}

func setupStore(t *testing.T) *postgres.Store {
	t.Helper()
	pool := testutil.NewPool(t)
	return postgres.NewStore(pool, "room_changes", zaptest.NewLogger(t))
}

// setupListeningStore additionally runs the notification listener.
func setupListeningStore(t *testing.T) *postgres.Store {
	t.Helper()
	s := setupStore(t)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()
	t.Cleanup(func() {
		s.Stop()
		if err := <-errCh; err != nil {
			t.Errorf("listener exited with error: %v", err)
		}
	})

	// Give the listener a moment to issue LISTEN before any writes.
	time.Sleep(200 * time.Millisecond)
	return s
}

func TestPool_Health(t *testing.T) {
	pool := testutil.NewPool(t)
	require.NoError(t, pool.Health(context.Background(), 5*time.Second))
}

func TestStore_CreateAndGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{"status": "waiting"}))

	var out map[string]any
	rev, err := s.Get(ctx, id, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
	assert.Equal(t, "waiting", out["status"])
}

func TestStore_CreateDuplicate(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{"status": "waiting"}))
	err := s.Create(ctx, id, map[string]any{"status": "waiting"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestStore_GetMissing(t *testing.T) {
	s := setupStore(t)
	var out map[string]any
	_, err := s.Get(context.Background(), uniqueID("missing"), &out)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_UpdateDotPathsCreateIntermediates(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{"status": "waiting"}))

	rev, err := s.Update(ctx, id, 1, store.Fields{
		"status":                "inProgress",
		"players.1001.username": "alice",
		"players.1001.diceRoll": 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	var out map[string]any
	_, err = s.Get(ctx, id, &out)
	require.NoError(t, err)
	assert.Equal(t, "inProgress", out["status"])
	players := out["players"].(map[string]any)
	player := players["1001"].(map[string]any)
	assert.Equal(t, "alice", player["username"])
	assert.Equal(t, float64(5), player["diceRoll"])
}

func TestStore_UpdateRevisionConflict(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{"counter": 0}))
	_, err := s.Update(ctx, id, 1, store.Fields{"counter": 1})
	require.NoError(t, err)

	_, err = s.Update(ctx, id, 1, store.Fields{"counter": 2})
	assert.ErrorIs(t, err, store.ErrRevisionConflict)

	var out map[string]any
	rev, err := s.Get(ctx, id, &out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
	assert.Equal(t, float64(1), out["counter"])
}

func TestStore_UpdateNilClearsField(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{
		"lastAttack": map[string]any{"damage": 40},
	}))
	_, err := s.Update(ctx, id, 1, store.Fields{"lastAttack": nil})
	require.NoError(t, err)

	var out map[string]any
	_, err = s.Get(ctx, id, &out)
	require.NoError(t, err)
	v, present := out["lastAttack"]
	require.True(t, present)
	assert.Nil(t, v)
}

func TestStore_ConcurrentWritersSingleWinner(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{"counter": 0}))

	const writers = 8
	results := make(chan error, writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			_, err := s.Update(ctx, id, 1, store.Fields{"counter": i})
			results <- err
		}(i)
	}

	var wins, conflicts int
	for i := 0; i < writers; i++ {
		err := <-results
		switch {
		case err == nil:
			wins++
		default:
			require.ErrorIs(t, err, store.ErrRevisionConflict)
			conflicts++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, writers-1, conflicts)
}

func TestStore_SubscribeInitialSnapshot(t *testing.T) {
	s := setupListeningStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{"status": "waiting"}))

	ch, stop, err := s.Subscribe(ctx, id)
	require.NoError(t, err)
	defer stop()

	snap := recvSnapshot(t, ch)
	assert.Equal(t, int64(1), snap.Revision)

	var out map[string]any
	require.NoError(t, snap.Decode(&out))
	assert.Equal(t, "waiting", out["status"])
}

func TestStore_SubscribeObservesCommittedWrites(t *testing.T) {
	s := setupListeningStore(t)
	ctx := context.Background()
	id := uniqueID("room")

	require.NoError(t, s.Create(ctx, id, map[string]any{"status": "waiting"}))

	ch, stop, err := s.Subscribe(ctx, id)
	require.NoError(t, err)
	defer stop()
	recvSnapshot(t, ch) // initial

	_, err = s.Update(ctx, id, 1, store.Fields{"status": "inProgress"})
	require.NoError(t, err)

	// The listener re-reads on notify, so delivery is eventual but the
	// snapshot is always a committed document state.
	deadline := time.After(5 * time.Second)
	for {
		var snap store.Snapshot
		select {
		case snap = <-ch:
		case <-deadline:
			t.Fatal("timed out waiting for updated snapshot")
		}
		var out map[string]any
		require.NoError(t, snap.Decode(&out))
		if out["status"] == "inProgress" {
			assert.GreaterOrEqual(t, snap.Revision, int64(2))
			return
		}
	}
}

// A write committing while Subscribe is still setting up must reach the
// subscriber, either through the change feed or the initial snapshot.
// Lost deliveries here would strand a watcher on a stale snapshot.
func TestStore_SubscribeSeesWriteConcurrentWithSetup(t *testing.T) {
	s := setupListeningStore(t)
	ctx := context.Background()

	for round := 0; round < 5; round++ {
		id := uniqueID("room")
		require.NoError(t, s.Create(ctx, id, map[string]any{"status": "waiting"}))

		updated := make(chan error, 1)
		go func() {
			_, err := s.Update(ctx, id, 1, store.Fields{"status": "inProgress"})
			updated <- err
		}()

		ch, stop, err := s.Subscribe(ctx, id)
		require.NoError(t, err)
		require.NoError(t, <-updated)

		deadline := time.After(5 * time.Second)
		for {
			var snap store.Snapshot
			select {
			case snap = <-ch:
			case <-deadline:
				t.Fatal("revision 2 never delivered")
			}
			if snap.Revision >= 2 {
				break
			}
		}
		stop()
	}
}

func TestStore_QueryEqNeqExists(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tag := uniqueID("tag")

	mk := func(suffix string, doc map[string]any) {
		doc["tag"] = tag
		require.NoError(t, s.Create(ctx, uniqueID("room_"+suffix), doc))
	}
	mk("a", map[string]any{"status": "waiting", "createdBy": 1001})
	mk("b", map[string]any{"status": "waiting", "createdBy": 2002})
	mk("c", map[string]any{"status": "finished", "createdBy": 3003})

	var open []map[string]any
	err := s.Query(ctx, []store.Cond{
		{Path: "tag", Op: store.OpEq, Value: tag},
		{Path: "status", Op: store.OpEq, Value: "waiting"},
		{Path: "createdBy", Op: store.OpNeq, Value: 1001},
	}, &open)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, float64(2002), open[0]["createdBy"])

	var withCreator []map[string]any
	err = s.Query(ctx, []store.Cond{
		{Path: "tag", Op: store.OpEq, Value: tag},
		{Path: "createdBy", Op: store.OpExists},
	}, &withCreator)
	require.NoError(t, err)
	assert.Len(t, withCreator, 3)
}

func TestStore_QueryNestedPath(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	tag := uniqueID("tag")

	require.NoError(t, s.Create(ctx, uniqueID("room_a"), map[string]any{
		"tag":     tag,
		"players": map[string]any{"1001": map[string]any{"username": "alice"}},
	}))
	require.NoError(t, s.Create(ctx, uniqueID("room_b"), map[string]any{
		"tag":     tag,
		"players": map[string]any{"2002": map[string]any{"username": "bob"}},
	}))

	var mine []map[string]any
	err := s.Query(ctx, []store.Cond{
		{Path: "tag", Op: store.OpEq, Value: tag},
		{Path: "players.1001", Op: store.OpExists},
	}, &mine)
	require.NoError(t, err)
	assert.Len(t, mine, 1)
}

func recvSnapshot(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
		return store.Snapshot{}
	}
}
