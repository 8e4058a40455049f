// Package dice provides the randomness abstraction for the battle engine.
//
// Every die in the game is a d6: the pre-game first-turn roll and the
// turn-loop ability roll both use RollD6. Randomness is injected through
// the Source interface so the state machine stays deterministic in tests.
package dice

// Sides is the number of faces on the game die.
const Sides = 6

// Source is the randomness provider for dice rolls.
//
// Implementations MUST be safe for concurrent use.
type Source interface {
	// Intn returns a non-negative random int in [0, n).
	//
	// Precondition: n > 0.
	Intn(n int) int
}

// RollD6 returns a uniformly random integer in [1, 6].
//
// Precondition: src must be non-nil.
// Postcondition: 1 <= result <= 6. Never mutates any game state.
func RollD6(src Source) int {
	return src.Intn(Sides) + 1
}
