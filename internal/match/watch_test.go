package match

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndukwe/dicebrawl/internal/game/battle"
	"github.com/ndukwe/dicebrawl/internal/game/catalog"
	"github.com/ndukwe/dicebrawl/internal/identity"
	"github.com/ndukwe/dicebrawl/internal/room"
)

func TestNewView(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, 5, 2, 4)
	h.start(t, c)
	ctx := context.Background()

	_, _, err := c.Roll(ctx, h.roomID, alice)
	require.NoError(t, err)

	var doc room.Document
	rev, err := h.store.Get(ctx, h.roomID, &doc)
	require.NoError(t, err)

	aliceView, err := NewView(rev, doc, alice)
	require.NoError(t, err)
	assert.Equal(t, battle.SlotPlayer1, aliceView.Slot)
	assert.False(t, aliceView.MyTurn, "pending attack suspends the attacker's turn")
	assert.False(t, aliceView.AwaitingMyDefense)
	assert.Equal(t, 80, aliceView.MyHealth)
	assert.Equal(t, 100, aliceView.OpponentHealth)

	bobView, err := NewView(rev, doc, bob)
	require.NoError(t, err)
	assert.False(t, bobView.MyTurn)
	// Bob holds no charges, so there is no defense decision to await.
	assert.False(t, bobView.AwaitingMyDefense)
}

func TestNewView_AwaitingDefenseWithCharges(t *testing.T) {
	h := newHarness(t)
	// alice dodge-banks, bob block-banks, alice smashes.
	c := h.client(t, 5, 2, 3, 2, 4)
	h.start(t, c)
	ctx := context.Background()

	for _, who := range []identity.Identity{alice, bob, alice} {
		_, _, err := c.Roll(ctx, h.roomID, who)
		require.NoError(t, err)
	}

	var doc room.Document
	rev, err := h.store.Get(ctx, h.roomID, &doc)
	require.NoError(t, err)

	bobView, err := NewView(rev, doc, bob)
	require.NoError(t, err)
	assert.True(t, bobView.AwaitingMyDefense)
}

func TestNewView_NotSeated(t *testing.T) {
	h := newHarness(t)
	var doc room.Document
	rev, err := h.store.Get(context.Background(), h.roomID, &doc)
	require.NoError(t, err)

	_, err = NewView(rev, doc, identity.Identity{ID: 9999})
	assert.ErrorIs(t, err, ErrNoActiveMatch)
}

func TestNewView_FinishedAndWon(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, 5, 2, 4, 3, 4, 3, 4)
	h.start(t, c)
	ctx := context.Background()

	for hit := 1; hit <= 3; hit++ {
		_, _, err := c.Roll(ctx, h.roomID, alice)
		require.NoError(t, err)
		_, err = c.SkipDefense(ctx, h.roomID, bob)
		require.NoError(t, err)
		if hit < 3 {
			_, _, err = c.Roll(ctx, h.roomID, bob)
			require.NoError(t, err)
		}
	}

	var doc room.Document
	rev, err := h.store.Get(ctx, h.roomID, &doc)
	require.NoError(t, err)

	aliceView, err := NewView(rev, doc, alice)
	require.NoError(t, err)
	assert.True(t, aliceView.Finished)
	assert.True(t, aliceView.Won)

	bobView, err := NewView(rev, doc, bob)
	require.NoError(t, err)
	assert.True(t, bobView.Finished)
	assert.False(t, bobView.Won)
	assert.Equal(t, 0, bobView.MyHealth)
}

func TestWatch_DeliversViews(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, 5, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	views, stop, err := c.Watch(ctx, h.roomID, alice)
	require.NoError(t, err)
	defer stop()

	// Initial snapshot arrives before any change.
	v := recvView(t, views)
	assert.Equal(t, battle.StatusCharacterSelect, v.Room.Game.Status)

	h.selectBoth(t, c)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case v = <-views:
		case <-deadline:
			t.Fatal("never observed character-select snapshot")
		}
		if v.Room.Game.Status == battle.StatusCharacterSelect && v.Room.Game.Player2.CharacterID != "" {
			return
		}
	}
}

func TestWatch_DefenderAutoSkipsWhenOutOfCharges(t *testing.T) {
	h := newHarness(t)
	attacker := h.client(t, 5, 2, 4)
	defenderWatcher := h.client(t) // never rolls; only reacts
	h.start(t, attacker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	views, stop, err := defenderWatcher.Watch(ctx, h.roomID, bob)
	require.NoError(t, err)
	defer stop()

	_, _, err = attacker.Roll(ctx, h.roomID, alice)
	require.NoError(t, err)

	// Bob's watcher sees the pending attack, finds no charges, and skips
	// on his behalf.
	deadline := time.After(2 * time.Second)
	for {
		var v View
		select {
		case v = <-views:
		case <-deadline:
			t.Fatal("auto-skip never observed")
		}
		if v.Room.Game.LastAttack == nil && v.Room.Game.Player2.CurrentHealth == 60 {
			break
		}
	}

	game := h.game(t)
	assert.Equal(t, 60, game.Player2.CurrentHealth)
	assert.Equal(t, battle.SlotPlayer2, game.CurrentTurn)
	require.NotNil(t, game.Player2.SkippedDefense)
}

// TestFullMatchFlow walks one match from an empty room through the
// first auto-skipped attack: selection, first rolls deciding the turn,
// a pending attack suspending the turn, the defender's watcher skipping
// for them, and a banked defense passing the turn back.
func TestFullMatchFlow(t *testing.T) {
	h := newHarness(t)
	driver := h.client(t, 3, 5, 1, 2)
	watcher := h.client(t) // alice's reactive side, never rolls
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The room stays in character-select until the match starts.
	require.NoError(t, driver.SelectCharacter(ctx, h.roomID, alice, "brawler"))
	assert.Equal(t, battle.StatusCharacterSelect, h.game(t).Status)
	require.NoError(t, driver.SelectCharacter(ctx, h.roomID, bob, "bruiser"))
	assert.Equal(t, battle.StatusCharacterSelect, h.game(t).Status)

	// First rolls 3 and 5: the roller of 5 moves first.
	aliceRoll, err := driver.RollAndRecordDice(ctx, h.roomID, alice)
	require.NoError(t, err)
	require.Equal(t, 3, aliceRoll)
	bobRoll, err := driver.RollAndRecordDice(ctx, h.roomID, bob)
	require.NoError(t, err)
	require.Equal(t, 5, bobRoll)

	game := h.game(t)
	require.Equal(t, battle.StatusInProgress, game.Status)
	require.Equal(t, battle.SlotPlayer2, game.CurrentTurn)

	views, stop, err := watcher.Watch(ctx, h.roomID, alice)
	require.NoError(t, err)
	defer stop()

	// Bob rolls a 12-damage attack: the attack is recorded, no damage
	// lands yet, and the turn is not handed over.
	_, outcome, err := driver.Roll(ctx, h.roomID, bob)
	require.NoError(t, err)
	require.True(t, outcome.AttackPending)
	game = h.game(t)
	require.NotNil(t, game.LastAttack)
	assert.Equal(t, 80, game.Player1.CurrentHealth)
	assert.Equal(t, battle.SlotPlayer2, game.CurrentTurn)

	// Alice holds no charges, so her watcher skips on her behalf.
	deadline := time.After(2 * time.Second)
	for {
		var v View
		select {
		case v = <-views:
		case <-deadline:
			t.Fatal("auto-skip never observed")
		}
		if v.Room.Game.LastAttack == nil && v.Room.Game.Player1.CurrentHealth == 68 {
			break
		}
	}
	game = h.game(t)
	assert.Equal(t, 68, game.Player1.CurrentHealth)
	assert.Equal(t, battle.SlotPlayer1, game.CurrentTurn)

	// Alice banks a block and the turn passes back to bob.
	_, outcome, err = driver.Roll(ctx, h.roomID, alice)
	require.NoError(t, err)
	require.Equal(t, catalog.DefenseBlock, outcome.DefenseGained)
	game = h.game(t)
	assert.Equal(t, 1, game.Player1.DefenseInventory.Count(catalog.DefenseBlock))
	assert.Equal(t, battle.SlotPlayer2, game.CurrentTurn)
}

func TestWatch_StopHaltsDelivery(t *testing.T) {
	h := newHarness(t)
	c := h.client(t, 5, 2)
	ctx := context.Background()

	views, stop, err := c.Watch(ctx, h.roomID, alice)
	require.NoError(t, err)
	recvView(t, views)
	stop()

	h.selectBoth(t, c)

	// The channel closes; no further views arrive.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-views:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("views channel never closed after stop")
		}
	}
}

func recvView(t *testing.T, views <-chan View) View {
	t.Helper()
	select {
	case v := <-views:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for view")
		return View{}
	}
}
