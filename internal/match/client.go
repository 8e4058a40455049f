// Package match drives a room's battle over the shared document store.
// Every operation follows the same shape: read the latest room document,
// derive the next state with a pure transition, and write the changed
// fields back guarded by the revision the read observed. A lost write
// race reloads and re-derives, so no participant ever overwrites another
// participant's committed move.
package match

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ndukwe/dicebrawl/internal/game/battle"
	"github.com/ndukwe/dicebrawl/internal/game/catalog"
	"github.com/ndukwe/dicebrawl/internal/game/dice"
	"github.com/ndukwe/dicebrawl/internal/identity"
	"github.com/ndukwe/dicebrawl/internal/room"
	"github.com/ndukwe/dicebrawl/internal/store"
)

var (
	// ErrNoActiveMatch is returned when the room does not exist or holds
	// no match for the acting player. Operations by a stranger against a
	// live room return battle.ErrNotParticipant instead.
	ErrNoActiveMatch = errors.New("no active match for player")
	// ErrUnknownCharacter is returned when a room references a character
	// id the catalog does not carry.
	ErrUnknownCharacter = errors.New("unknown character")
)

// Client performs one player's match operations against a room.
type Client struct {
	store       store.Store
	catalog     *catalog.Registry
	roller      *dice.Roller
	logger      *zap.Logger
	retries     int
	newAttackID func() string
}

// NewClient creates a match Client.
//
// Precondition: all arguments must be non-nil; conflictRetries >= 1.
func NewClient(st store.Store, reg *catalog.Registry, roller *dice.Roller, logger *zap.Logger, conflictRetries int) *Client {
	return &Client{
		store:       st,
		catalog:     reg,
		roller:      roller,
		logger:      logger,
		retries:     conflictRetries,
		newAttackID: uuid.NewString,
	}
}

// mutation derives the fields to write from the current room document.
// Returning nil fields with nil error means there is nothing to write.
type mutation func(doc room.Document) (store.Fields, error)

// mutate runs the read-derive-write loop. On a revision conflict the
// document is reloaded and the mutation re-derived, bounded by the
// configured retry budget.
func (c *Client) mutate(ctx context.Context, roomID string, fn mutation) error {
	for attempt := 0; attempt < c.retries; attempt++ {
		var doc room.Document
		rev, err := c.store.Get(ctx, roomID, &doc)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("room %q: %w", roomID, ErrNoActiveMatch)
			}
			return fmt.Errorf("loading room %q: %w", roomID, err)
		}

		fields, err := fn(doc)
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return nil
		}

		_, err = c.store.Update(ctx, roomID, rev, fields)
		if errors.Is(err, store.ErrRevisionConflict) {
			c.logger.Debug("write race lost, re-deriving",
				zap.String("room", roomID),
				zap.Int("attempt", attempt+1),
			)
			continue
		}
		if err != nil {
			return fmt.Errorf("updating room %q: %w", roomID, err)
		}
		return nil
	}
	return fmt.Errorf("updating room %q: %w", roomID, store.ErrRevisionConflict)
}

// seat resolves the acting player's slot in the room.
func seat(doc room.Document, me identity.Identity) (battle.Slot, error) {
	slot, ok := doc.SlotOf(me.ID)
	if !ok {
		return "", battle.ErrNotParticipant
	}
	return slot, nil
}

// gamePath prefixes a battle-state field path.
func gamePath(field string) string {
	return "game." + field
}

// slotPath prefixes a player-state field path for the given slot.
func slotPath(slot battle.Slot, field string) string {
	return gamePath(string(slot) + "." + field)
}

// SelectCharacter assigns a catalog character to the acting player's
// slot, resetting health and defense charges for a fresh match.
func (c *Client) SelectCharacter(ctx context.Context, roomID string, me identity.Identity, characterID string) error {
	ch, ok := c.catalog.ByID(characterID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCharacter, characterID)
	}

	return c.mutate(ctx, roomID, func(doc room.Document) (store.Fields, error) {
		slot, err := seat(doc, me)
		if err != nil {
			return nil, err
		}
		next, err := battle.SelectCharacter(doc.Game, slot, me.ID, ch)
		if err != nil {
			return nil, err
		}

		c.logger.Info("character selected",
			zap.String("room", roomID),
			zap.Int64("player", me.ID),
			zap.String("character", ch.ID),
		)
		return store.Fields{
			gamePath(string(slot)): next.Player(slot),
			gamePath("gameStatus"): next.Status,
			"status":               next.Status,
		}, nil
	})
}

// RollAndRecordDice rolls the first-turn die for the acting player and
// records it, then attempts to start the match in case the opponent has
// already rolled.
//
// Postcondition: Returns the rolled value. The match starts only when
// both rolls are present and differ.
func (c *Client) RollAndRecordDice(ctx context.Context, roomID string, me identity.Identity) (int, error) {
	roll := c.roller.RollD6()

	err := c.mutate(ctx, roomID, func(doc room.Document) (store.Fields, error) {
		if _, err := seat(doc, me); err != nil {
			return nil, err
		}
		next, err := battle.RecordFirstRoll(doc.Game, me.ID, roll)
		if err != nil {
			return nil, err
		}
		return store.Fields{
			gamePath("diceRolls." + battle.DiceKey(me.ID)): next.DiceRolls[battle.DiceKey(me.ID)],
		}, nil
	})
	if err != nil {
		return 0, err
	}

	if err := c.CheckDiceRollsAndSetTurn(ctx, roomID); err != nil {
		return 0, err
	}
	return roll, nil
}

// CheckDiceRollsAndSetTurn starts the match once both first-turn rolls
// are present. Equal rolls clear both entries so the players roll again.
// The operation is idempotent; concurrent calls settle on one outcome
// through the revision guard.
func (c *Client) CheckDiceRollsAndSetTurn(ctx context.Context, roomID string) error {
	return c.mutate(ctx, roomID, func(doc room.Document) (store.Fields, error) {
		p1, ok1 := doc.Slots[battle.SlotPlayer1]
		p2, ok2 := doc.Slots[battle.SlotPlayer2]
		if !ok1 || !ok2 {
			return nil, nil
		}

		next, started := battle.DetermineFirstTurn(doc.Game, p1, p2)
		if started {
			c.logger.Info("first turn decided",
				zap.String("room", roomID),
				zap.String("turn", string(next.CurrentTurn)),
			)
			return store.Fields{
				gamePath("currentTurn"): next.CurrentTurn,
				gamePath("gameStatus"):  next.Status,
				"status":                next.Status,
			}, nil
		}
		// A tie wiped the rolls; persist the reset so both players roll again.
		if len(next.DiceRolls) != len(doc.Game.DiceRolls) {
			c.logger.Info("first-turn rolls tied, rerolling", zap.String("room", roomID))
			return store.Fields{gamePath("diceRolls"): next.DiceRolls}, nil
		}
		return nil, nil
	})
}

// Roll rolls the turn-loop die for the acting player and applies the
// mapped ability: banking a defense charge or recording a pending
// attack. A result beyond the ability list wastes the turn's roll
// without effect.
func (c *Client) Roll(ctx context.Context, roomID string, me identity.Identity) (int, battle.RollOutcome, error) {
	roll := c.roller.RollD6()
	var outcome battle.RollOutcome

	err := c.mutate(ctx, roomID, func(doc room.Document) (store.Fields, error) {
		slot, err := seat(doc, me)
		if err != nil {
			return nil, err
		}
		ch, ok := c.catalog.ByID(doc.Game.Player(slot).CharacterID)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCharacter, doc.Game.Player(slot).CharacterID)
		}

		next, out, err := battle.ApplyRoll(doc.Game, slot, roll, ch, c.newAttackID())
		if err != nil {
			return nil, err
		}
		outcome = out
		if !out.Mapped {
			return nil, nil
		}

		if out.AttackPending {
			c.logger.Info("attack pending",
				zap.String("room", roomID),
				zap.String("ability", out.Ability.ID),
				zap.Int("damage", out.Ability.Damage),
			)
			return store.Fields{gamePath("lastAttack"): next.LastAttack}, nil
		}

		c.logger.Info("defense banked",
			zap.String("room", roomID),
			zap.String("defense", string(out.DefenseGained)),
		)
		return store.Fields{
			slotPath(slot, "defenseInventory"): next.Player(slot).DefenseInventory,
			gamePath("currentTurn"):            next.CurrentTurn,
		}, nil
	})
	if err != nil {
		return 0, battle.RollOutcome{}, err
	}
	return roll, outcome, nil
}

// SkipDefense lets the pending attack land in full on the acting player.
func (c *Client) SkipDefense(ctx context.Context, roomID string, me identity.Identity) (battle.Resolution, error) {
	var resolution battle.Resolution
	var attack string

	err := c.mutate(ctx, roomID, func(doc room.Document) (store.Fields, error) {
		slot, err := seat(doc, me)
		if err != nil {
			return nil, err
		}
		if doc.Game.LastAttack == nil {
			return nil, battle.ErrNoPendingAttack
		}
		if slot != doc.Game.Defender() {
			return nil, battle.ErrWrongTurn
		}

		next, res, err := battle.SkipDefense(doc.Game)
		if err != nil {
			return nil, err
		}
		resolution = res
		attack = c.attackName(doc.Game)
		return resolutionFields(doc.Game, next, res), nil
	})
	if err != nil {
		return battle.Resolution{}, err
	}
	c.logResolution(roomID, attack, resolution)
	return resolution, nil
}

// UseDefense spends one charge of the given defense subtype against the
// pending attack.
func (c *Client) UseDefense(ctx context.Context, roomID string, me identity.Identity, kind catalog.DefenseKind) (battle.Resolution, error) {
	var resolution battle.Resolution
	var attack string

	err := c.mutate(ctx, roomID, func(doc room.Document) (store.Fields, error) {
		slot, err := seat(doc, me)
		if err != nil {
			return nil, err
		}
		if doc.Game.LastAttack == nil {
			return nil, battle.ErrNoPendingAttack
		}
		if slot != doc.Game.Defender() {
			return nil, battle.ErrWrongTurn
		}

		next, res, err := battle.UseDefense(doc.Game, kind)
		if err != nil {
			return nil, err
		}
		resolution = res
		attack = c.attackName(doc.Game)
		fields := resolutionFields(doc.Game, next, res)
		fields[slotPath(slot, "defenseInventory")] = next.Player(slot).DefenseInventory
		return fields, nil
	})
	if err != nil {
		return battle.Resolution{}, err
	}
	c.logResolution(roomID, attack, resolution)
	return resolution, nil
}

// resolutionFields collects the fields a defense resolution changed:
// both players' health and skipped-defense records, the cleared pending
// attack, the turn handoff, and the finish bookkeeping when the match
// ended. Everything commits in one write.
func resolutionFields(prev, next battle.State, res battle.Resolution) store.Fields {
	fields := store.Fields{
		gamePath("lastAttack"):  nil,
		gamePath("currentTurn"): next.CurrentTurn,
	}
	for _, slot := range []battle.Slot{battle.SlotPlayer1, battle.SlotPlayer2} {
		if prev.Player(slot).CurrentHealth != next.Player(slot).CurrentHealth {
			fields[slotPath(slot, "currentHealth")] = next.Player(slot).CurrentHealth
		}
		prevSkip, nextSkip := prev.Player(slot).SkippedDefense, next.Player(slot).SkippedDefense
		if (prevSkip == nil) != (nextSkip == nil) || (nextSkip != nil && prevSkip != nil && *nextSkip != *prevSkip) {
			if nextSkip == nil {
				fields[slotPath(slot, "skippedDefense")] = nil
			} else {
				fields[slotPath(slot, "skippedDefense")] = nextSkip
			}
		}
	}
	if res.Finished {
		fields[gamePath("gameStatus")] = next.Status
		fields[gamePath("winner")] = next.Winner
		fields["status"] = next.Status
	}
	return fields
}

// attackName resolves the pending attack's display name from the
// catalog, falling back to the raw ability id.
func (c *Client) attackName(game battle.State) string {
	atk := game.LastAttack
	if atk == nil {
		return ""
	}
	ch, ok := c.catalog.ByID(game.Player(atk.AttackingPlayer).CharacterID)
	if !ok {
		return atk.AbilityID
	}
	if ab, ok := ch.AbilityByID(atk.AbilityID); ok {
		return ab.Name
	}
	return atk.AbilityID
}

func (c *Client) logResolution(roomID, attack string, res battle.Resolution) {
	fields := []zap.Field{
		zap.String("room", roomID),
		zap.String("attack", attack),
		zap.Bool("skipped", res.Skipped),
		zap.Int("damageToDefender", res.DamageToDefender),
		zap.Int("damageToAttacker", res.DamageToAttacker),
	}
	if res.Defense != "" {
		fields = append(fields, zap.String("defense", string(res.Defense)))
	}
	if res.Finished {
		fields = append(fields, zap.String("winner", string(res.Winner)))
	}
	c.logger.Info("attack resolved", fields...)
}
