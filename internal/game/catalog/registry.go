package catalog

import "fmt"

// Registry provides fast character lookup by ID and preserves catalog order.
// A Registry is immutable after construction.
type Registry struct {
	ordered []Character
	byID    map[string]Character
}

// NewRegistry builds a Registry from the given characters.
//
// Precondition: every character must pass Validate; IDs must be unique.
// Postcondition: Returns a Registry preserving input order, or a non-nil error.
func NewRegistry(chars []Character) (*Registry, error) {
	if len(chars) == 0 {
		return nil, fmt.Errorf("catalog must contain at least one character")
	}
	r := &Registry{
		ordered: make([]Character, 0, len(chars)),
		byID:    make(map[string]Character, len(chars)),
	}
	for _, c := range chars {
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("validating character %q: %w", c.ID, err)
		}
		if _, exists := r.byID[c.ID]; exists {
			return nil, fmt.Errorf("duplicate character id %q", c.ID)
		}
		r.ordered = append(r.ordered, c)
		r.byID[c.ID] = c
	}
	return r, nil
}

// ByID returns the character with the given ID.
//
// Postcondition: Returns (character, true) if found, or (zero, false) otherwise.
func (r *Registry) ByID(id string) (Character, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// All returns the characters in catalog order.
//
// Postcondition: The returned slice is a copy; mutating it does not affect
// the Registry.
func (r *Registry) All() []Character {
	out := make([]Character, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Len returns the number of characters in the catalog.
func (r *Registry) Len() int {
	return len(r.ordered)
}
