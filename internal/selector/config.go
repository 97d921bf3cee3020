package selector

import (
	"fmt"
	"time"
)

// StandardErrorStrategy decides which scales must reach the configured
// standard error before an attempt may stop early.
type StandardErrorStrategy string

// Supported standard error strategies
const (
	StandardErrorAllScales StandardErrorStrategy = "all_scales"
	StandardErrorRootScale StandardErrorStrategy = "root_scale"
	StandardErrorDisabled  StandardErrorStrategy = "disabled"
)

// FirstItemPolicy picks the very first item of an attempt.
type FirstItemPolicy string

// Supported first item policies
const (
	FirstItemEasiest         FirstItemPolicy = "easiest"
	FirstItemHardest         FirstItemPolicy = "hardest"
	FirstItemNearestAbility  FirstItemPolicy = "nearest_ability"
	FirstItemMostInformative FirstItemPolicy = "most_informative"
)

// Config controls item selection and termination. MaxQuestions and
// TimeLimit disable their checks when zero.
type Config struct {
	// MaxQuestions ends the attempt once that many questions have been
	// attempted. 0 means unlimited; the attempt then ends only on the
	// standard error, time limit or an exhausted pool.
	MaxQuestions          int                   `mapstructure:"max_questions"            validate:"gte=0"`
	MinQuestionsPerScale  int                   `mapstructure:"min_questions_per_scale"  validate:"gte=0"`
	StandardErrorMin      float64               `mapstructure:"standard_error_min"       validate:"gte=0"`
	StandardErrorStrategy StandardErrorStrategy `mapstructure:"standard_error_strategy"  validate:"omitempty,oneof=all_scales root_scale disabled"`
	TimeLimit             time.Duration         `mapstructure:"time_limit"               validate:"gte=0"`
	Cooldown              time.Duration         `mapstructure:"cooldown"                 validate:"gte=0"`
	FirstItem             FirstItemPolicy       `mapstructure:"first_item"               validate:"omitempty,oneof=easiest hardest nearest_ability most_informative"`
	InitialAbility        float64               `mapstructure:"initial_ability"`
	MinAbility            float64               `mapstructure:"min_ability"`
	MaxAbility            float64               `mapstructure:"max_ability"`
	MaxAbilityStep        float64               `mapstructure:"max_ability_step"         validate:"gte=0"`
}

// DefaultConfig returns the selector defaults.
func DefaultConfig() Config {
	return Config{
		MaxQuestions:          30,
		MinQuestionsPerScale:  3,
		StandardErrorMin:      0.3,
		StandardErrorStrategy: StandardErrorAllScales,
		FirstItem:             FirstItemMostInformative,
		MinAbility:            -6,
		MaxAbility:            6,
		MaxAbilityStep:        1,
	}
}

func (c Config) withDefaults() Config {
	if c.StandardErrorStrategy == "" {
		c.StandardErrorStrategy = StandardErrorAllScales
	}
	if c.FirstItem == "" {
		c.FirstItem = FirstItemMostInformative
	}
	if c.MinAbility == 0 && c.MaxAbility == 0 {
		c.MinAbility, c.MaxAbility = -6, 6
	}
	if c.MaxAbilityStep == 0 {
		c.MaxAbilityStep = 1
	}
	return c
}

// Validate reports malformed settings.
func (c Config) Validate() error {
	switch {
	case c.MaxQuestions < 0, c.MinQuestionsPerScale < 0:
		return fmt.Errorf("%w: question counts must not be negative", ErrInvalidConfig)
	case c.StandardErrorMin < 0:
		return fmt.Errorf("%w: standard_error_min must not be negative", ErrInvalidConfig)
	case c.TimeLimit < 0, c.Cooldown < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidConfig)
	case c.MinAbility >= c.MaxAbility:
		return fmt.Errorf("%w: min_ability must be below max_ability", ErrInvalidConfig)
	case c.InitialAbility < c.MinAbility || c.InitialAbility > c.MaxAbility:
		return fmt.Errorf("%w: initial_ability outside ability bounds", ErrInvalidConfig)
	}
	switch c.StandardErrorStrategy {
	case StandardErrorAllScales, StandardErrorRootScale, StandardErrorDisabled:
	default:
		return fmt.Errorf("%w: unknown standard error strategy %q", ErrInvalidConfig, c.StandardErrorStrategy)
	}
	switch c.FirstItem {
	case FirstItemEasiest, FirstItemHardest, FirstItemNearestAbility, FirstItemMostInformative:
	default:
		return fmt.Errorf("%w: unknown first item policy %q", ErrInvalidConfig, c.FirstItem)
	}
	return nil
}
