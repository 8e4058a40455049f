package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/ndukwe/dicebrawl/internal/store"
)

type testDoc struct {
	Status  string         `json:"status"`
	Counter int            `json:"counter"`
	Players map[string]any `json:"players"`
}

func newDoc() testDoc {
	return testDoc{Status: "waiting", Players: map[string]any{}}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	var out testDoc
	rev, err := s.Get(ctx, "room-1", &out)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rev)
	assert.Equal(t, "waiting", out.Status)
}

func TestCreateDuplicateFails(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, "room-1", newDoc()))
	err := s.Create(ctx, "room-1", newDoc())
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestGetMissing(t *testing.T) {
	s := New()
	var out testDoc
	_, err := s.Get(context.Background(), "nope", &out)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateAppliesDotPaths(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	rev, err := s.Update(ctx, "room-1", 1, store.Fields{
		"status":               "inProgress",
		"players.1001.health":  80,
		"players.1001.blocked": true,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)

	var out testDoc
	_, err = s.Get(ctx, "room-1", &out)
	require.NoError(t, err)
	assert.Equal(t, "inProgress", out.Status)
	player, ok := out.Players["1001"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(80), player["health"])
	assert.Equal(t, true, player["blocked"])
}

func TestUpdateRevisionConflict(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	_, err := s.Update(ctx, "room-1", 1, store.Fields{"status": "inProgress"})
	require.NoError(t, err)

	// Stale writer loses, document unchanged by the losing write.
	_, err = s.Update(ctx, "room-1", 1, store.Fields{"status": "finished"})
	assert.ErrorIs(t, err, store.ErrRevisionConflict)

	var out testDoc
	rev, err := s.Get(ctx, "room-1", &out)
	require.NoError(t, err)
	assert.Equal(t, int64(2), rev)
	assert.Equal(t, "inProgress", out.Status)
}

func TestUpdateNilWritesNull(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", map[string]any{"lastAttack": map[string]any{"damage": 40}}))

	_, err := s.Update(ctx, "room-1", 1, store.Fields{"lastAttack": nil})
	require.NoError(t, err)

	var out map[string]any
	_, err = s.Get(ctx, "room-1", &out)
	require.NoError(t, err)
	v, present := out["lastAttack"]
	require.True(t, present)
	assert.Nil(t, v)
}

func TestUpdateExactlyOneWriterWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	const writers = 16
	var wg sync.WaitGroup
	wins := make(chan int, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.Update(ctx, "room-1", 1, store.Fields{"counter": i}); err == nil {
				wins <- i
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestSubscribeDeliversInitialSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	ch, stop, err := s.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	defer stop()

	snap := recv(t, ch)
	assert.Equal(t, int64(1), snap.Revision)

	var out testDoc
	require.NoError(t, snap.Decode(&out))
	assert.Equal(t, "waiting", out.Status)
}

func TestSubscribeObservesUpdates(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	ch, stop, err := s.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	defer stop()

	recv(t, ch) // initial

	_, err = s.Update(ctx, "room-1", 1, store.Fields{"status": "inProgress"})
	require.NoError(t, err)

	snap := recv(t, ch)
	assert.Equal(t, int64(2), snap.Revision)
	var out testDoc
	require.NoError(t, snap.Decode(&out))
	assert.Equal(t, "inProgress", out.Status)
}

func TestSubscribeSlowConsumerSeesLatest(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	ch, stop, err := s.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	defer stop()

	rev := int64(1)
	for i := 0; i < subscriberBuffer*2; i++ {
		var uerr error
		rev, uerr = s.Update(ctx, "room-1", rev, store.Fields{"counter": i})
		require.NoError(t, uerr)
	}

	// Drain: the final snapshot must be present even though earlier
	// ones were dropped.
	var last store.Snapshot
	for {
		select {
		case snap := <-ch:
			last = snap
			continue
		default:
		}
		break
	}
	assert.Equal(t, rev, last.Revision)
}

func TestSubscribeStopIsIdempotent(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))

	_, stop, err := s.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	stop()
	stop()

	// Updates after stop must not block or panic.
	_, err = s.Update(ctx, "room-1", 1, store.Fields{"status": "finished"})
	assert.NoError(t, err)
}

func TestSubscribeOtherDocumentNotDelivered(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", newDoc()))
	require.NoError(t, s.Create(ctx, "room-2", newDoc()))

	ch, stop, err := s.Subscribe(ctx, "room-1")
	require.NoError(t, err)
	defer stop()
	recv(t, ch)

	_, err = s.Update(ctx, "room-2", 1, store.Fields{"status": "inProgress"})
	require.NoError(t, err)

	select {
	case snap := <-ch:
		t.Fatalf("unexpected snapshot for other document: rev %d", snap.Revision)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestQueryEqAndNeq(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", map[string]any{"status": "waiting", "createdBy": 1001}))
	require.NoError(t, s.Create(ctx, "room-2", map[string]any{"status": "waiting", "createdBy": 2002}))
	require.NoError(t, s.Create(ctx, "room-3", map[string]any{"status": "finished", "createdBy": 3003}))

	var out []map[string]any
	err := s.Query(ctx, []store.Cond{
		{Path: "status", Op: store.OpEq, Value: "waiting"},
		{Path: "createdBy", Op: store.OpNeq, Value: 1001},
	}, &out)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, float64(2002), out[0]["createdBy"])
}

func TestQueryExists(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, "room-1", map[string]any{"players": map[string]any{"1001": map[string]any{"username": "alice"}}}))
	require.NoError(t, s.Create(ctx, "room-2", map[string]any{"players": map[string]any{"2002": map[string]any{"username": "bob"}}}))

	var out []map[string]any
	err := s.Query(ctx, []store.Cond{{Path: "players.1001", Op: store.OpExists}}, &out)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestRevisionMonotonicUnderRandomUpdates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		s := New()
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, "room-1", newDoc()))

		rev := int64(1)
		n := rapid.IntRange(1, 20).Draw(t, "updates")
		for i := 0; i < n; i++ {
			value := rapid.IntRange(0, 100).Draw(t, "value")
			next, err := s.Update(ctx, "room-1", rev, store.Fields{"counter": value})
			require.NoError(t, err)
			require.Equal(t, rev+1, next)
			rev = next
		}

		var out testDoc
		got, err := s.Get(ctx, "room-1", &out)
		require.NoError(t, err)
		require.Equal(t, rev, got)
	})
}

func recv(t *testing.T, ch <-chan store.Snapshot) store.Snapshot {
	t.Helper()
	select {
	case snap := <-ch:
		return snap
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for snapshot")
		return store.Snapshot{}
	}
}
