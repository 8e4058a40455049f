// Package catalog defines the static table of playable characters and their
// abilities. Catalog data is loaded at startup (built-in defaults or YAML
// content files) and never mutated afterwards; the rest of the engine refers
// to characters by ID and always resolves the ability list against the local
// catalog copy.
package catalog

import (
	"fmt"
	"strings"
)

// AbilityKind distinguishes attacks from defensive abilities.
type AbilityKind string

const (
	// KindAttack abilities deal damage to the opponent.
	KindAttack AbilityKind = "attack"
	// KindDefense abilities are banked into the roller's defense inventory.
	KindDefense AbilityKind = "defense"
)

// DefenseKind is the subtype of a defensive ability.
type DefenseKind string

const (
	// DefenseDodge avoids all damage and keeps the defender's turn.
	DefenseDodge DefenseKind = "dodge"
	// DefenseBlock reduces incoming damage by the flat BlockMitigation.
	DefenseBlock DefenseKind = "block"
	// DefenseReflect turns the full incoming damage back on the attacker.
	DefenseReflect DefenseKind = "reflect"
)

// DefenseKinds lists every valid defense subtype.
var DefenseKinds = []DefenseKind{DefenseDodge, DefenseBlock, DefenseReflect}

// Valid reports whether k is a known defense subtype.
func (k DefenseKind) Valid() bool {
	switch k {
	case DefenseDodge, DefenseBlock, DefenseReflect:
		return true
	}
	return false
}

// Ability is one entry in a character's ordered ability list. Abilities are
// referenced by value and never mutated after catalog load.
type Ability struct {
	// ID uniquely identifies the ability within the catalog.
	ID string `yaml:"id"`
	// Name is the display name.
	Name string `yaml:"name"`
	// Kind is attack or defense.
	Kind AbilityKind `yaml:"kind"`
	// Damage is the attack damage value. Only meaningful for attack abilities.
	Damage int `yaml:"damage"`
	// Defense is the defense subtype. Only meaningful for defense abilities.
	Defense DefenseKind `yaml:"defense"`
	// Description is flavour text shown in the UI.
	Description string `yaml:"description"`
}

// Validate checks the ability invariants.
//
// Postcondition: Returns nil iff the ability is well-formed for its kind.
func (a Ability) Validate() error {
	var errs []string
	if a.ID == "" {
		errs = append(errs, "ability id must not be empty")
	}
	if a.Name == "" {
		errs = append(errs, fmt.Sprintf("ability %q name must not be empty", a.ID))
	}
	switch a.Kind {
	case KindAttack:
		if a.Damage < 0 {
			errs = append(errs, fmt.Sprintf("ability %q damage must be >= 0, got %d", a.ID, a.Damage))
		}
	case KindDefense:
		if !a.Defense.Valid() {
			errs = append(errs, fmt.Sprintf("ability %q defense must be one of [dodge, block, reflect], got %q", a.ID, a.Defense))
		}
	default:
		errs = append(errs, fmt.Sprintf("ability %q kind must be attack or defense, got %q", a.ID, a.Kind))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Character is an immutable catalog entry: a named combatant with a base
// health pool and an ordered list of abilities. The ability list order
// matters: a turn-loop die result indexes into it 1-based.
type Character struct {
	// ID uniquely identifies the character within the catalog.
	ID string `yaml:"id"`
	// Name is the display name.
	Name string `yaml:"name"`
	// Specialty is a short descriptive tagline.
	Specialty string `yaml:"specialty"`
	// BaseHealth is the health pool a fresh selection starts with.
	BaseHealth int `yaml:"base_health"`
	// Abilities is the ordered ability list (die result 1 maps to index 0).
	Abilities []Ability `yaml:"abilities"`
	// Portrait is an asset reference for the presentation layer.
	Portrait string `yaml:"portrait"`
}

// Validate checks the character invariants.
//
// Postcondition: Returns nil iff the character is well-formed: non-empty ID
// and name, BaseHealth > 0, at least one ability, all abilities valid with
// unique IDs.
func (c Character) Validate() error {
	var errs []string
	if c.ID == "" {
		errs = append(errs, "character id must not be empty")
	}
	if c.Name == "" {
		errs = append(errs, fmt.Sprintf("character %q name must not be empty", c.ID))
	}
	if c.BaseHealth <= 0 {
		errs = append(errs, fmt.Sprintf("character %q base_health must be > 0, got %d", c.ID, c.BaseHealth))
	}
	if len(c.Abilities) == 0 {
		errs = append(errs, fmt.Sprintf("character %q must have at least one ability", c.ID))
	}
	seen := make(map[string]bool, len(c.Abilities))
	for _, a := range c.Abilities {
		if err := a.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Sprintf("character %q has duplicate ability id %q", c.ID, a.ID))
		}
		seen[a.ID] = true
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// AbilityForRoll returns the ability a die result maps to, 1-based.
//
// Postcondition: Returns (ability, true) when 1 <= roll <= len(Abilities),
// or (zero, false) otherwise.
func (c Character) AbilityForRoll(roll int) (Ability, bool) {
	if roll < 1 || roll > len(c.Abilities) {
		return Ability{}, false
	}
	return c.Abilities[roll-1], true
}

// AbilityByID returns the ability with the given ID.
//
// Postcondition: Returns (ability, true) if found, or (zero, false) otherwise.
func (c Character) AbilityByID(id string) (Ability, bool) {
	for _, a := range c.Abilities {
		if a.ID == id {
			return a, true
		}
	}
	return Ability{}, false
}
