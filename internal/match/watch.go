package match

import (
	"context"

	"go.uber.org/zap"

	"github.com/ndukwe/dicebrawl/internal/game/battle"
	"github.com/ndukwe/dicebrawl/internal/identity"
	"github.com/ndukwe/dicebrawl/internal/room"
	"github.com/ndukwe/dicebrawl/internal/store"
)

// View is one player's derived read of a room snapshot. It is computed
// purely from the document; watching never mutates state except through
// the idempotent reactions the watcher drives.
type View struct {
	Revision int64
	Room     room.Document
	Slot     battle.Slot
	// MyTurn is true when the acting player holds the turn and no attack
	// is pending against them.
	MyTurn bool
	// AwaitingMyDefense is true when a pending attack targets the acting
	// player and they still have charges to answer it with.
	AwaitingMyDefense bool
	MyHealth          int
	OpponentHealth    int
	Finished          bool
	Won               bool
}

// NewView derives the acting player's view of a room document.
//
// Postcondition: Returns ErrNoActiveMatch when the player is not seated.
func NewView(revision int64, doc room.Document, me identity.Identity) (View, error) {
	slot, ok := doc.SlotOf(me.ID)
	if !ok {
		return View{}, ErrNoActiveMatch
	}
	opponent := battle.Opponent(slot)
	game := doc.Game

	v := View{
		Revision:       revision,
		Room:           doc,
		Slot:           slot,
		MyHealth:       battle.DisplayHealth(game.Player(slot).CurrentHealth),
		OpponentHealth: battle.DisplayHealth(game.Player(opponent).CurrentHealth),
		Finished:       game.Status == battle.StatusFinished,
	}
	if game.Status == battle.StatusInProgress {
		pendingOnMe := game.LastAttack != nil && game.Defender() == slot
		v.MyTurn = game.CurrentTurn == slot && game.LastAttack == nil
		v.AwaitingMyDefense = pendingOnMe && game.Player(slot).DefenseInventory.HasAny()
	}
	if v.Finished && game.Winner != nil {
		v.Won = *game.Winner == slot
	}
	return v, nil
}

// Watch subscribes to the room and delivers a View per committed change,
// newest first when the consumer lags. The watcher also drives the two
// reactions the match needs no button for: starting the match once both
// first-turn rolls land, and skipping on the player's behalf when an
// attack arrives and they hold no defense charges.
//
// The returned stop function halts delivery and all watcher-driven
// mutation.
func (c *Client) Watch(ctx context.Context, roomID string, me identity.Identity) (<-chan View, func(), error) {
	snaps, stop, err := c.store.Subscribe(ctx, roomID)
	if err != nil {
		return nil, nil, err
	}

	views := make(chan View, 1)
	go func() {
		defer close(views)
		var lastRev int64
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				// Listener re-reads can deliver a revision more than
				// once; reactions must only ever see forward progress.
				if snap.Revision <= lastRev {
					continue
				}
				lastRev = snap.Revision

				var doc room.Document
				if err := snap.Decode(&doc); err != nil {
					c.logger.Warn("discarding undecodable snapshot",
						zap.String("room", roomID),
						zap.Int64("revision", snap.Revision),
						zap.Error(err),
					)
					continue
				}

				c.react(ctx, roomID, me, doc)

				view, err := NewView(snap.Revision, doc, me)
				if err != nil {
					continue
				}
				// Latest wins; a consumer that lags never blocks the watcher.
				select {
				case views <- view:
				default:
					select {
					case <-views:
					default:
					}
					views <- view
				}
			}
		}
	}()
	return views, stop, nil
}

// react performs the idempotent snapshot-driven operations that belong
// to the acting player.
func (c *Client) react(ctx context.Context, roomID string, me identity.Identity, doc room.Document) {
	slot, ok := doc.SlotOf(me.ID)
	if !ok {
		return
	}

	if doc.Game.Status != battle.StatusFinished && doc.Game.Status != battle.StatusInProgress && len(doc.Game.DiceRolls) >= 2 {
		if err := c.CheckDiceRollsAndSetTurn(ctx, roomID); err != nil {
			c.logger.Warn("first-turn check failed",
				zap.String("room", roomID),
				zap.Error(err),
			)
		}
	}

	if doc.Game.NeedsAutoSkip() && doc.Game.Defender() == slot {
		if err := c.autoSkip(ctx, roomID, doc.Game.LastAttack.ID); err != nil {
			c.logger.Warn("auto-skip failed",
				zap.String("room", roomID),
				zap.Error(err),
			)
		}
	}
}

// autoSkip resolves the identified pending attack as a skip. It is
// keyed to the attack instance id, so duplicate snapshot deliveries and
// concurrent watchers apply the damage at most once: whoever loses the
// write race reloads, finds the attack gone or replaced, and does
// nothing.
func (c *Client) autoSkip(ctx context.Context, roomID, attackID string) error {
	return c.mutate(ctx, roomID, func(doc room.Document) (store.Fields, error) {
		if doc.Game.LastAttack == nil || doc.Game.LastAttack.ID != attackID {
			return nil, nil
		}
		if !doc.Game.NeedsAutoSkip() {
			return nil, nil
		}

		next, res, err := battle.SkipDefense(doc.Game)
		if err != nil {
			return nil, err
		}
		c.logger.Info("defense skipped automatically",
			zap.String("room", roomID),
			zap.String("attack", attackID),
			zap.Int("damage", res.DamageToDefender),
		)
		return resolutionFields(doc.Game, next, res), nil
	})
}
