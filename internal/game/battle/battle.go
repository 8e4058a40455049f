// Package battle implements the turn-based match state machine.
//
// All transition functions are pure: they take a State (plus catalog data
// resolved by the caller), and return a new State without touching the old
// one and without performing any I/O. Persistence and synchronization live
// in internal/match; this package only encodes the rules.
package battle

import "errors"

// Slot is one of the two fixed participant positions within a match.
type Slot string

const (
	// SlotPlayer1 is the room creator's position.
	SlotPlayer1 Slot = "player1"
	// SlotPlayer2 is the challenger's position.
	SlotPlayer2 Slot = "player2"
)

// Valid reports whether s names a real slot.
func (s Slot) Valid() bool {
	return s == SlotPlayer1 || s == SlotPlayer2
}

// Opponent returns the other slot.
//
// Precondition: s must be a valid slot.
func Opponent(s Slot) Slot {
	if s == SlotPlayer1 {
		return SlotPlayer2
	}
	return SlotPlayer1
}

// Status is the lifecycle phase of a match. Statuses only ever advance
// forward: waiting → character-select → inProgress → finished.
type Status string

const (
	// StatusWaiting: the room exists with at most the creator present.
	StatusWaiting Status = "waiting"
	// StatusCharacterSelect: both participants pick characters and roll
	// for first turn.
	StatusCharacterSelect Status = "character-select"
	// StatusInProgress: the turn loop is running.
	StatusInProgress Status = "inProgress"
	// StatusFinished: terminal; Winner is set.
	StatusFinished Status = "finished"
)

// rank orders statuses for the forward-only invariant.
func (s Status) rank() int {
	switch s {
	case StatusWaiting:
		return 0
	case StatusCharacterSelect:
		return 1
	case StatusInProgress:
		return 2
	case StatusFinished:
		return 3
	}
	return -1
}

// CanAdvanceTo reports whether moving from s to next respects the
// forward-only status ordering.
func (s Status) CanAdvanceTo(next Status) bool {
	return next.rank() >= s.rank()
}

// BlockMitigation is the flat damage reduction applied by a block defense.
const BlockMitigation = 25

// Sentinel errors for rejected transitions. Every rejection leaves the
// input State untouched; callers surface these to the UI rather than
// treating them as faults.
var (
	// ErrMatchFinished: the match is over; no further transitions apply.
	ErrMatchFinished = errors.New("match already finished")
	// ErrWrongTurn: the acting slot does not hold the current turn.
	ErrWrongTurn = errors.New("not this player's turn")
	// ErrWrongPhase: the transition is not legal in the current status.
	ErrWrongPhase = errors.New("transition not legal in current match phase")
	// ErrAlreadySelected: the slot already has a character assigned.
	ErrAlreadySelected = errors.New("character already selected")
	// ErrAlreadyRolled: the participant already has a first-turn roll recorded.
	ErrAlreadyRolled = errors.New("first-turn roll already recorded")
	// ErrRollOutOfRange: a die result outside [1, 6] was submitted.
	ErrRollOutOfRange = errors.New("die roll out of range")
	// ErrNoPendingAttack: no attack is awaiting a defense response.
	ErrNoPendingAttack = errors.New("no attack pending resolution")
	// ErrUnresolvedAttack: a pending attack must be resolved before rolling.
	ErrUnresolvedAttack = errors.New("attack pending resolution")
	// ErrDefenseUnavailable: the requested defense subtype has no charges.
	ErrDefenseUnavailable = errors.New("defense unavailable")
	// ErrNotParticipant: the participant id is not part of this match.
	ErrNotParticipant = errors.New("participant not in this match")
)
