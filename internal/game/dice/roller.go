package dice

import "go.uber.org/zap"

// Roller wraps a Source and logger so every die roll leaves an audit trail.
// All rolls are logged at debug level with the result value.
type Roller struct {
	src    Source
	logger *zap.Logger
}

// NewRoller creates a Roller that rolls with src and logs each roll to logger.
//
// Precondition: src and logger must be non-nil.
func NewRoller(src Source, logger *zap.Logger) *Roller {
	return &Roller{src: src, logger: logger}
}

// RollD6 rolls the game die and logs the result at debug level.
//
// Postcondition: 1 <= result <= 6; the roll is logged.
func (r *Roller) RollD6() int {
	result := RollD6(r.src)
	r.logger.Debug("dice roll",
		zap.Int("sides", Sides),
		zap.Int("result", result),
	)
	return result
}
