package battle

import (
	"strconv"

	"github.com/ndukwe/dicebrawl/internal/game/catalog"
)

// DefenseInventory counts banked defense charges per subtype.
//
// Invariant: counts are never negative. Charges grow only through
// ApplyRoll (defense results) and shrink only through UseDefense.
type DefenseInventory map[catalog.DefenseKind]int

// Count returns the number of charges for the given subtype (0 when absent).
func (d DefenseInventory) Count(kind catalog.DefenseKind) int {
	return d[kind]
}

// HasAny reports whether any subtype has at least one charge.
func (d DefenseInventory) HasAny() bool {
	for _, n := range d {
		if n > 0 {
			return true
		}
	}
	return false
}

func (d DefenseInventory) clone() DefenseInventory {
	out := make(DefenseInventory, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// SkippedDefense records the most recent "took damage without defending"
// event for one player. It is UI explanation only: overwritten by the next
// skip, cleared by the next successful defense, never accumulated.
type SkippedDefense struct {
	AbilityID string `json:"abilityId"`
	Damage    int    `json:"damage"`
}

// PendingAttack is an attack whose damage has not yet been resolved because
// the defender has not responded. A nil *PendingAttack means no attack is
// pending; the struct is always written and cleared as a whole, so no
// partially-null state is representable.
type PendingAttack struct {
	// ID uniquely identifies this attack instance. Resolution is guarded on
	// it so the same attack can never be resolved twice.
	ID string `json:"id"`
	// AbilityID names the catalog ability used.
	AbilityID string `json:"abilityId"`
	// Damage is the incoming damage, captured at attack time.
	Damage int `json:"damage"`
	// AttackingPlayer is the slot that rolled the attack.
	AttackingPlayer Slot `json:"attackingPlayer"`
}

// PlayerState is one participant's side of the match.
type PlayerState struct {
	// ParticipantID is the stable numeric identity, nil until the
	// participant selects a character.
	ParticipantID *int64 `json:"id"`
	// CharacterID refers to the catalog; empty until selected. The
	// authoritative ability list is always resolved from the local catalog,
	// never stored here.
	CharacterID string `json:"characterId"`
	// CurrentHealth may go <= 0 to signal defeat; clamp with DisplayHealth
	// for presentation.
	CurrentHealth int `json:"currentHealth"`
	// DefenseInventory holds banked defense charges.
	DefenseInventory DefenseInventory `json:"defenseInventory"`
	// SkippedDefense is the most recent undefended hit, if any.
	SkippedDefense *SkippedDefense `json:"skippedDefense"`
}

func (p PlayerState) clone() PlayerState {
	out := p
	out.DefenseInventory = p.DefenseInventory.clone()
	if p.ParticipantID != nil {
		id := *p.ParticipantID
		out.ParticipantID = &id
	}
	if p.SkippedDefense != nil {
		sd := *p.SkippedDefense
		out.SkippedDefense = &sd
	}
	return out
}

// State is the complete match aggregate: both player states plus the shared
// turn, phase, and pending-decision fields. It is the persisted schema of
// one match and must round-trip losslessly through the document store.
type State struct {
	Player1     PlayerState    `json:"player1"`
	Player2     PlayerState    `json:"player2"`
	CurrentTurn Slot           `json:"currentTurn"`
	Status      Status         `json:"gameStatus"`
	Winner      *Slot          `json:"winner"`
	LastAttack  *PendingAttack `json:"lastAttack"`
	// DiceRolls maps participant id (decimal string) to the most recent
	// pre-game first-turn roll. Logically stale once the match is in
	// progress.
	DiceRolls map[string]int `json:"diceRolls"`
}

// NewState returns a fresh match state: empty player slots, player1 to move
// first once determined, waiting status.
func NewState() State {
	return State{
		Player1:     PlayerState{DefenseInventory: DefenseInventory{}},
		Player2:     PlayerState{DefenseInventory: DefenseInventory{}},
		CurrentTurn: SlotPlayer1,
		Status:      StatusWaiting,
		DiceRolls:   map[string]int{},
	}
}

// Player returns the state for the given slot.
//
// Precondition: slot must be valid.
func (s State) Player(slot Slot) PlayerState {
	if slot == SlotPlayer1 {
		return s.Player1
	}
	return s.Player2
}

// SlotOf resolves the slot holding the given participant id.
//
// Postcondition: Returns (slot, true) if the id is assigned to a slot,
// or ("", false) otherwise.
func (s State) SlotOf(participantID int64) (Slot, bool) {
	if s.Player1.ParticipantID != nil && *s.Player1.ParticipantID == participantID {
		return SlotPlayer1, true
	}
	if s.Player2.ParticipantID != nil && *s.Player2.ParticipantID == participantID {
		return SlotPlayer2, true
	}
	return "", false
}

// Defender returns the slot that must respond to the pending attack.
//
// Precondition: s.LastAttack must be non-nil.
func (s State) Defender() Slot {
	return Opponent(s.LastAttack.AttackingPlayer)
}

// NeedsAutoSkip reports whether the pending attack must be auto-resolved as
// a skip: an attack is recorded and the defending slot has no defense
// subtype with a positive count, so there is nothing to choose.
func (s State) NeedsAutoSkip() bool {
	if s.LastAttack == nil {
		return false
	}
	return !s.Player(s.Defender()).DefenseInventory.HasAny()
}

// clone deep-copies the state so transitions never alias the input.
func (s State) clone() State {
	out := s
	out.Player1 = s.Player1.clone()
	out.Player2 = s.Player2.clone()
	if s.Winner != nil {
		w := *s.Winner
		out.Winner = &w
	}
	if s.LastAttack != nil {
		la := *s.LastAttack
		out.LastAttack = &la
	}
	out.DiceRolls = make(map[string]int, len(s.DiceRolls))
	for k, v := range s.DiceRolls {
		out.DiceRolls[k] = v
	}
	return out
}

// setPlayer writes back a player state for the given slot.
func (s *State) setPlayer(slot Slot, p PlayerState) {
	if slot == SlotPlayer1 {
		s.Player1 = p
	} else {
		s.Player2 = p
	}
}

// DiceKey converts a participant id into its DiceRolls map key.
func DiceKey(participantID int64) string {
	return strconv.FormatInt(participantID, 10)
}

// DisplayHealth clamps a health value at zero for presentation.
func DisplayHealth(h int) int {
	if h < 0 {
		return 0
	}
	return h
}
