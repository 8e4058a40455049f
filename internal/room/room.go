// Package room manages match rooms: creation, joining, and discovery.
// A room is one shared document holding both players and the embedded
// battle state; all mutation goes through revision-guarded store writes.
package room

import (
	"errors"
	"time"

	"github.com/ndukwe/dicebrawl/internal/game/battle"
)

// Role distinguishes the room creator from the joining challenger.
type Role string

const (
	// RoleCreator owns the room and plays slot player1.
	RoleCreator Role = "creator"
	// RoleChallenger joins an open room and plays slot player2.
	RoleChallenger Role = "challenger"
)

// Capacity is the fixed number of players per room.
const Capacity = 2

var (
	// ErrRoomFull is returned when joining a room that already has two players.
	ErrRoomFull = errors.New("room is full")
	// ErrAlreadyJoined is returned when a player tries to join a room twice.
	ErrAlreadyJoined = errors.New("player already joined this room")
	// ErrNotJoinable is returned when joining a room that has left the
	// waiting phase.
	ErrNotJoinable = errors.New("room is no longer joinable")
)

// Player is one room member.
type Player struct {
	ParticipantID int64  `json:"id"`
	Username      string `json:"username"`
	Role          Role   `json:"role"`
}

// Document is the full shared state of one room. It is stored as a
// single document so every write is atomic at room granularity.
type Document struct {
	ID        string `json:"id"`
	CreatedBy int64  `json:"createdBy"`
	// Status mirrors Game.Status so open rooms can be discovered with a
	// top-level query.
	Status battle.Status `json:"status"`
	// Players is keyed by decimal participant id.
	Players   map[string]Player     `json:"players"`
	Slots     map[battle.Slot]int64 `json:"slots"`
	Game      battle.State          `json:"game"`
	CreatedAt time.Time             `json:"createdAt"`
}

// PlayerKey renders a participant id as the Players map key.
func PlayerKey(participantID int64) string {
	return battle.DiceKey(participantID)
}

// SlotOf resolves the given participant's slot assignment.
func (d Document) SlotOf(participantID int64) (battle.Slot, bool) {
	for slot, id := range d.Slots {
		if id == participantID {
			return slot, true
		}
	}
	return "", false
}

// HasPlayer reports whether the participant is a room member.
func (d Document) HasPlayer(participantID int64) bool {
	_, ok := d.Players[PlayerKey(participantID)]
	return ok
}

// Full reports whether the room holds both players.
func (d Document) Full() bool {
	return len(d.Players) >= Capacity
}
