package segmenter

import (
	"errors"
	"fmt"
)

// Strategy selects how text is divided into spans
type Strategy string

const (
	StrategyFixed     Strategy = "fixed"
	StrategyParagraph Strategy = "paragraph"
	StrategyHybrid    Strategy = "hybrid"
)

const (
	DefaultMinTokens     = 50
	DefaultMaxTokens     = 512
	DefaultOverlapTokens = 64
	DefaultArgumentSlack = 0.2
)

// ErrInvalidConfig is returned for configurations that cannot be normalized
var ErrInvalidConfig = errors.New("invalid segmenter config")

// Config controls segmentation. Token counts are whitespace-delimited words.
type Config struct {
	Strategy          Strategy `mapstructure:"strategy"`
	MinTokens         int      `mapstructure:"min_tokens"`
	MaxTokens         int      `mapstructure:"max_tokens"`
	OverlapTokens     int      `mapstructure:"overlap_tokens"`
	PreserveArguments bool     `mapstructure:"preserve_arguments"`

	// ArgumentSlack is the fraction of MaxTokens a span may grow by to keep
	// a premise and its conclusion together
	ArgumentSlack float64 `mapstructure:"argument_slack"`
}

// DefaultConfig returns the hybrid configuration used when none is given
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyHybrid,
		MinTokens:         DefaultMinTokens,
		MaxTokens:         DefaultMaxTokens,
		OverlapTokens:     DefaultOverlapTokens,
		PreserveArguments: true,
		ArgumentSlack:     DefaultArgumentSlack,
	}
}

// Validate rejects configurations that normalization cannot repair
func (c Config) Validate() error {
	switch c.Strategy {
	case "", StrategyFixed, StrategyParagraph, StrategyHybrid:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("%w: max_tokens must be positive", ErrInvalidConfig)
	}
	if c.ArgumentSlack < 0 {
		return fmt.Errorf("%w: argument_slack must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Normalize clamps inconsistent values: an overlap that consumes the whole
// window becomes a quarter of it, and a minimum above the maximum becomes the maximum.
func (c Config) Normalize() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyHybrid
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.OverlapTokens >= c.MaxTokens {
		c.OverlapTokens = c.MaxTokens / 4
	}
	if c.MinTokens < 0 {
		c.MinTokens = 0
	}
	if c.MinTokens > c.MaxTokens {
		c.MinTokens = c.MaxTokens
	}
	return c
}

// SlackLimit is the hard upper bound on tokens in any span
func (c Config) SlackLimit() int {
	if !c.PreserveArguments {
		return c.MaxTokens
	}
	return int(float64(c.MaxTokens) * (1 + c.ArgumentSlack))
}
