package catalog

// Default returns the built-in character catalog.
//
// Each character carries exactly six abilities so a d6 result always maps
// onto the list 1-based.
//
// Postcondition: Returns a valid, non-nil Registry.
func Default() *Registry {
	r, err := NewRegistry(defaultCharacters())
	if err != nil {
		panic("catalog: built-in default catalog invalid: " + err.Error())
	}
	return r
}

func defaultCharacters() []Character {
	return []Character{
		{
			ID:         "ember-knight",
			Name:       "Ember Knight",
			Specialty:  "Relentless frontline pressure",
			BaseHealth: 100,
			Portrait:   "characters/ember-knight.png",
			Abilities: []Ability{
				{ID: "ember-slash", Name: "Ember Slash", Kind: KindAttack, Damage: 15, Description: "A quick burning strike."},
				{ID: "molten-guard", Name: "Molten Guard", Kind: KindDefense, Defense: DefenseBlock, Description: "Raise a shield of cooling slag."},
				{ID: "cinder-feint", Name: "Cinder Feint", Kind: KindDefense, Defense: DefenseDodge, Description: "Vanish in a burst of sparks."},
				{ID: "flame-lunge", Name: "Flame Lunge", Kind: KindAttack, Damage: 25, Description: "A committed lunge wreathed in fire."},
				{ID: "mirror-plate", Name: "Mirror Plate", Kind: KindDefense, Defense: DefenseReflect, Description: "Polished armor turns the blow back."},
				{ID: "inferno-breaker", Name: "Inferno Breaker", Kind: KindAttack, Damage: 40, Description: "An overhead blow that cracks stone."},
			},
		},
		{
			ID:         "gale-dancer",
			Name:       "Gale Dancer",
			Specialty:  "Evasion and counterattacks",
			BaseHealth: 85,
			Portrait:   "characters/gale-dancer.png",
			Abilities: []Ability{
				{ID: "wind-cut", Name: "Wind Cut", Kind: KindAttack, Damage: 12, Description: "A razor of compressed air."},
				{ID: "slipstream", Name: "Slipstream", Kind: KindDefense, Defense: DefenseDodge, Description: "Step inside the opponent's swing."},
				{ID: "tailwind-veil", Name: "Tailwind Veil", Kind: KindDefense, Defense: DefenseDodge, Description: "A curtain of turbulence."},
				{ID: "cyclone-kick", Name: "Cyclone Kick", Kind: KindAttack, Damage: 22, Description: "A spinning kick riding the gale."},
				{ID: "updraft-ward", Name: "Updraft Ward", Kind: KindDefense, Defense: DefenseReflect, Description: "The gust carries the blow home."},
				{ID: "tempest-dive", Name: "Tempest Dive", Kind: KindAttack, Damage: 35, Description: "Strike from the eye of the storm."},
			},
		},
		{
			ID:         "stone-warden",
			Name:       "Stone Warden",
			Specialty:  "Attrition behind heavy mitigation",
			BaseHealth: 130,
			Portrait:   "characters/stone-warden.png",
			Abilities: []Ability{
				{ID: "gravel-fist", Name: "Gravel Fist", Kind: KindAttack, Damage: 10, Description: "A grinding, patient punch."},
				{ID: "bulwark", Name: "Bulwark", Kind: KindDefense, Defense: DefenseBlock, Description: "Become the wall."},
				{ID: "granite-skin", Name: "Granite Skin", Kind: KindDefense, Defense: DefenseBlock, Description: "Skin sets like poured rock."},
				{ID: "seismic-slam", Name: "Seismic Slam", Kind: KindAttack, Damage: 28, Description: "The floor ripples outward."},
				{ID: "echo-shell", Name: "Echo Shell", Kind: KindDefense, Defense: DefenseReflect, Description: "The shell rings the blow back."},
				{ID: "landslide", Name: "Landslide", Kind: KindAttack, Damage: 45, Description: "Everything above comes down."},
			},
		},
		{
			ID:         "hex-weaver",
			Name:       "Hex Weaver",
			Specialty:  "High-variance burst damage",
			BaseHealth: 90,
			Portrait:   "characters/hex-weaver.png",
			Abilities: []Ability{
				{ID: "needle-hex", Name: "Needle Hex", Kind: KindAttack, Damage: 18, Description: "A sliver of bad luck."},
				{ID: "thread-snip", Name: "Thread Snip", Kind: KindDefense, Defense: DefenseDodge, Description: "Cut the strand that binds the blow."},
				{ID: "woven-ward", Name: "Woven Ward", Kind: KindDefense, Defense: DefenseBlock, Description: "A lattice of dampening sigils."},
				{ID: "curse-lash", Name: "Curse Lash", Kind: KindAttack, Damage: 30, Description: "The hex snaps like a whip."},
				{ID: "malice-mirror", Name: "Malice Mirror", Kind: KindDefense, Defense: DefenseReflect, Description: "Spite, returned to sender."},
				{ID: "ruin-sigil", Name: "Ruin Sigil", Kind: KindAttack, Damage: 38, Description: "The final stroke of the pattern."},
			},
		},
	}
}
