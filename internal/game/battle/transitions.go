package battle

import (
	"github.com/ndukwe/dicebrawl/internal/game/catalog"
)

// SelectCharacter assigns a catalog character to a slot, resetting that
// slot's health to the character's base health, clearing its defense
// inventory, and binding the participant id to the slot.
//
// Precondition: ch must come from the catalog; slot must be valid.
// Postcondition: On success the match status is character-select and the
// slot's health equals ch.BaseHealth exactly, discarding any prior value.
// Returns ErrAlreadySelected when the slot already has a character, and
// ErrWrongPhase once the match has advanced past character selection.
func SelectCharacter(s State, slot Slot, participantID int64, ch catalog.Character) (State, error) {
	if s.Status == StatusFinished {
		return s, ErrMatchFinished
	}
	if s.Status.rank() > StatusCharacterSelect.rank() {
		return s, ErrWrongPhase
	}
	if s.Player(slot).CharacterID != "" {
		return s, ErrAlreadySelected
	}

	next := s.clone()
	p := next.Player(slot)
	id := participantID
	p.ParticipantID = &id
	p.CharacterID = ch.ID
	p.CurrentHealth = ch.BaseHealth
	p.DefenseInventory = DefenseInventory{}
	p.SkippedDefense = nil
	next.setPlayer(slot, p)
	next.Status = StatusCharacterSelect
	return next, nil
}

// RecordFirstRoll stores a participant's pre-game die result under their id.
//
// Postcondition: DiceRolls gains exactly one entry. Returns ErrRollOutOfRange
// for results outside [1, 6], ErrAlreadyRolled when the participant already
// has an entry, and ErrWrongPhase once the match is in progress.
func RecordFirstRoll(s State, participantID int64, roll int) (State, error) {
	if s.Status == StatusFinished {
		return s, ErrMatchFinished
	}
	if s.Status.rank() > StatusCharacterSelect.rank() {
		return s, ErrWrongPhase
	}
	if roll < 1 || roll > 6 {
		return s, ErrRollOutOfRange
	}
	key := DiceKey(participantID)
	if _, exists := s.DiceRolls[key]; exists {
		return s, ErrAlreadyRolled
	}

	next := s.clone()
	next.DiceRolls[key] = roll
	return next, nil
}

// DetermineFirstTurn inspects the first-turn rolls of the two registered
// participants and, once both are present and both slots have selected a
// character, starts the match with the strictly higher roller to move. It
// is idempotent and safe to call repeatedly: until both rolls and both
// characters are present, or once the match has already started, it is a
// no-op.
//
// Tie policy: equal rolls clear both entries so the players roll again.
//
// Postcondition: Returns (state, true) exactly when the match advanced to
// inProgress; in every other case the returned state differs from the input
// only by a possible tie reset.
func DetermineFirstTurn(s State, player1ID, player2ID int64) (State, bool) {
	if s.Status.rank() >= StatusInProgress.rank() {
		return s, false
	}
	// Rolls may land before selection, but the match must not start with
	// an empty slot.
	if s.Player1.CharacterID == "" || s.Player2.CharacterID == "" {
		return s, false
	}
	roll1, ok1 := s.DiceRolls[DiceKey(player1ID)]
	roll2, ok2 := s.DiceRolls[DiceKey(player2ID)]
	if !ok1 || !ok2 {
		return s, false
	}

	if roll1 == roll2 {
		next := s.clone()
		delete(next.DiceRolls, DiceKey(player1ID))
		delete(next.DiceRolls, DiceKey(player2ID))
		return next, false
	}

	next := s.clone()
	if roll1 > roll2 {
		next.CurrentTurn = SlotPlayer1
	} else {
		next.CurrentTurn = SlotPlayer2
	}
	next.Status = StatusInProgress
	return next, true
}

// RollOutcome describes what a turn-loop roll did.
type RollOutcome struct {
	// Mapped is false when the die result falls beyond the ability list;
	// the roll is then a no-op.
	Mapped bool
	// Ability is the 1-based ability the result mapped to, when Mapped.
	Ability catalog.Ability
	// DefenseGained is set when the ability banked a defense charge.
	DefenseGained catalog.DefenseKind
	// AttackPending is true when the roll recorded a pending attack.
	AttackPending bool
}

// ApplyRoll resolves a turn-loop die result against the current player's
// ability list. A defense ability banks one charge of its subtype and
// passes the turn; an attack ability records a pending attack without
// applying damage or passing the turn — resolution happens when the
// defender responds (SkipDefense or UseDefense).
//
// Precondition: ch must be the catalog character selected by slot;
// attackID must be a fresh unique id, used only if the roll is an attack.
// Postcondition: Returns ErrWrongTurn when slot does not hold the turn,
// ErrUnresolvedAttack while an attack is pending, ErrWrongPhase outside
// the turn loop. A result beyond the ability list leaves state unchanged
// with Mapped == false.
func ApplyRoll(s State, slot Slot, roll int, ch catalog.Character, attackID string) (State, RollOutcome, error) {
	if s.Status == StatusFinished {
		return s, RollOutcome{}, ErrMatchFinished
	}
	if s.Status != StatusInProgress {
		return s, RollOutcome{}, ErrWrongPhase
	}
	if slot != s.CurrentTurn {
		return s, RollOutcome{}, ErrWrongTurn
	}
	if s.LastAttack != nil {
		return s, RollOutcome{}, ErrUnresolvedAttack
	}
	if roll < 1 || roll > 6 {
		return s, RollOutcome{}, ErrRollOutOfRange
	}

	ability, ok := ch.AbilityForRoll(roll)
	if !ok {
		return s, RollOutcome{}, nil
	}

	next := s.clone()
	switch ability.Kind {
	case catalog.KindDefense:
		p := next.Player(slot)
		p.DefenseInventory[ability.Defense]++
		next.setPlayer(slot, p)
		next.CurrentTurn = Opponent(slot)
		return next, RollOutcome{Mapped: true, Ability: ability, DefenseGained: ability.Defense}, nil

	case catalog.KindAttack:
		next.LastAttack = &PendingAttack{
			ID:              attackID,
			AbilityID:       ability.ID,
			Damage:          ability.Damage,
			AttackingPlayer: slot,
		}
		return next, RollOutcome{Mapped: true, Ability: ability, AttackPending: true}, nil
	}

	return s, RollOutcome{}, nil
}

// Resolution describes how a pending attack was resolved.
type Resolution struct {
	// Skipped is true for a skip (no defense used).
	Skipped bool
	// Defense is the subtype consumed, when not Skipped.
	Defense catalog.DefenseKind
	// DamageToDefender and DamageToAttacker are the health deltas applied.
	DamageToDefender int
	DamageToAttacker int
	// Finished is true when the resolution ended the match.
	Finished bool
	// Winner is set when Finished.
	Winner Slot
}

// SkipDefense resolves the pending attack by letting it land in full. The
// defender absorbs the damage, the skipped hit is recorded for the UI, the
// pending attack is cleared, and the defender receives the next turn.
//
// Postcondition: Defender health decreases by exactly the pending damage;
// LastAttack is nil; CurrentTurn is the defender's slot. If the defender
// drops to zero or below, status is finished and the attacker wins, all in
// the same transition. Returns ErrNoPendingAttack when nothing is pending.
func SkipDefense(s State) (State, Resolution, error) {
	if s.Status == StatusFinished {
		return s, Resolution{}, ErrMatchFinished
	}
	if s.LastAttack == nil {
		return s, Resolution{}, ErrNoPendingAttack
	}

	attacker := s.LastAttack.AttackingPlayer
	defender := Opponent(attacker)
	damage := s.LastAttack.Damage
	abilityID := s.LastAttack.AbilityID

	next := s.clone()
	p := next.Player(defender)
	p.CurrentHealth -= damage
	p.SkippedDefense = &SkippedDefense{AbilityID: abilityID, Damage: damage}
	next.setPlayer(defender, p)
	next.LastAttack = nil
	next.CurrentTurn = defender

	res := Resolution{Skipped: true, DamageToDefender: damage}
	if p.CurrentHealth <= 0 {
		next.Status = StatusFinished
		w := attacker
		next.Winner = &w
		res.Finished = true
		res.Winner = attacker
	}
	return next, res, nil
}

// UseDefense resolves the pending attack by consuming one charge of the
// given defense subtype:
//
//   - dodge: no damage; the defender keeps the turn.
//   - reflect: the attacker takes the full incoming damage; turn passes to
//     the attacker.
//   - block: the defender takes max(0, damage-BlockMitigation); turn passes
//     to the attacker.
//
// Postcondition: The inventory count decreases by exactly one and never
// below zero; the defender's skipped-defense record and the pending attack
// are cleared. If anyone drops to zero or below the match finishes in the
// same transition; should both drop at once, the attacker survives the tie.
// Returns ErrDefenseUnavailable (state unchanged) when the subtype has no
// charges, ErrNoPendingAttack when nothing is pending.
func UseDefense(s State, kind catalog.DefenseKind) (State, Resolution, error) {
	if s.Status == StatusFinished {
		return s, Resolution{}, ErrMatchFinished
	}
	if s.LastAttack == nil {
		return s, Resolution{}, ErrNoPendingAttack
	}
	if !kind.Valid() {
		return s, Resolution{}, ErrDefenseUnavailable
	}

	attacker := s.LastAttack.AttackingPlayer
	defender := Opponent(attacker)
	damage := s.LastAttack.Damage

	if s.Player(defender).DefenseInventory.Count(kind) <= 0 {
		return s, Resolution{}, ErrDefenseUnavailable
	}

	next := s.clone()
	def := next.Player(defender)
	def.DefenseInventory[kind]--
	def.SkippedDefense = nil
	next.setPlayer(defender, def)
	next.LastAttack = nil

	res := Resolution{Defense: kind}
	switch kind {
	case catalog.DefenseDodge:
		next.CurrentTurn = defender

	case catalog.DefenseReflect:
		atk := next.Player(attacker)
		atk.CurrentHealth -= damage
		next.setPlayer(attacker, atk)
		next.CurrentTurn = attacker
		res.DamageToAttacker = damage

	case catalog.DefenseBlock:
		mitigated := damage - BlockMitigation
		if mitigated < 0 {
			mitigated = 0
		}
		def = next.Player(defender)
		def.CurrentHealth -= mitigated
		next.setPlayer(defender, def)
		next.CurrentTurn = attacker
		res.DamageToDefender = mitigated
	}

	defenderDead := next.Player(defender).CurrentHealth <= 0
	attackerDead := next.Player(attacker).CurrentHealth <= 0
	if defenderDead || attackerDead {
		next.Status = StatusFinished
		// Attacker survival takes precedence when both drop at once.
		w := defender
		if defenderDead {
			w = attacker
		}
		next.Winner = &w
		res.Finished = true
		res.Winner = w
	}
	return next, res, nil
}
