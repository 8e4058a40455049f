// Package identity resolves the acting player. Matches are keyed by a
// stable numeric participant id, so every entry point into the game
// goes through a Provider first.
package identity

import (
	"context"
	"errors"
)

// ErrIdentityUnavailable is returned when the provider cannot establish
// who the acting player is. Game operations must not proceed without an
// identity.
var ErrIdentityUnavailable = errors.New("player identity unavailable")

// Identity is a resolved player.
type Identity struct {
	// ID is the stable numeric participant id used to key match state.
	ID int64
	// Username is a display name. It may be empty.
	Username string
}

// Provider resolves the acting player's identity.
type Provider interface {
	// Resolve returns the player identity or ErrIdentityUnavailable.
	Resolve(ctx context.Context) (Identity, error)
}

// StaticProvider returns a fixed identity. It backs local play and tests.
type StaticProvider struct {
	Identity Identity
}

// Resolve returns the configured identity.
//
// Postcondition: Returns ErrIdentityUnavailable when ID is zero.
func (p StaticProvider) Resolve(ctx context.Context) (Identity, error) {
	if p.Identity.ID == 0 {
		return Identity{}, ErrIdentityUnavailable
	}
	return p.Identity, nil
}
