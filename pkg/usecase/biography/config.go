package biography

import (
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/saga/pkg/model"
)

const (
	ModeAdaptive = "adaptive"
	ModeFixed    = "fixed"

	// FixedRounds is the interview length of the fixed pipeline
	FixedRounds = 15
	// RoundsCeiling is the upper bound allowed for MaxRounds
	RoundsCeiling = 20
)

// Config holds the round and quality budget of a session
type Config struct {
	Mode           string
	MinRounds      int
	MaxRounds      int
	MaxRefinements int
	Threshold      float64
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeAdaptive,
		MinRounds:      3,
		MaxRounds:      12,
		MaxRefinements: 5,
		Threshold:      8.0,
	}
}

// Effective returns the configuration actually applied. The fixed mode
// interviews for exactly FixedRounds rounds.
func (c Config) Effective() Config {
	if c.Mode == ModeFixed {
		c.MinRounds = FixedRounds
		c.MaxRounds = FixedRounds
	}
	return c
}

func (c Config) Validate() error {
	if c.Mode != ModeAdaptive && c.Mode != ModeFixed {
		return goerr.Wrap(model.ErrInvalidConfig, "unknown mode", goerr.V("mode", c.Mode))
	}
	e := c.Effective()
	if e.MinRounds < 1 || e.MinRounds > e.MaxRounds || e.MaxRounds > RoundsCeiling {
		return goerr.Wrap(model.ErrInvalidConfig, "rounds must satisfy 1 <= min <= max <= 20",
			goerr.V("min_rounds", e.MinRounds),
			goerr.V("max_rounds", e.MaxRounds))
	}
	if c.MaxRefinements < 1 {
		return goerr.Wrap(model.ErrInvalidConfig, "max refinements must be at least 1", goerr.V("max_refinements", c.MaxRefinements))
	}
	if c.Threshold < 0 || c.Threshold > 10 {
		return goerr.Wrap(model.ErrInvalidConfig, "threshold must be within [0, 10]", goerr.V("threshold", c.Threshold))
	}
	return nil
}
