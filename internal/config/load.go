package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/phrazzld/scry-cat/internal/domain/irt"
	"github.com/phrazzld/scry-cat/internal/selector"
	"github.com/phrazzld/scry-cat/internal/strategy"
)

// EnvPrefix is prepended to every environment variable, with dots in keys
// replaced by underscores: SCRYCAT_SELECTOR_MAX_QUESTIONS.
const EnvPrefix = "SCRYCAT"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("configuration validation failed")

// Load reads config.yaml from the working directory or /etc/scrycat when
// present. Environment variables take precedence over values from the
// file, which take precedence over defaults.
func Load() (*Config, error) {
	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/scrycat")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFile is Load with an explicit config file, which must exist.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key. AutomaticEnv only overrides keys viper
// already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("database.dialect", "sqlite")
	v.SetDefault("database.url", "file:scrycat.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")

	v.SetDefault("calibration.workers", 2)
	v.SetDefault("calibration.queue_size", 64)
	v.SetDefault("calibration.timeout", "10m")

	v.SetDefault("estimator.ability_tolerance", 1e-4)
	v.SetDefault("estimator.param_tolerance", 1e-4)
	v.SetDefault("estimator.max_ability_iterations", 30)
	v.SetDefault("estimator.max_param_iterations", 30)
	v.SetDefault("estimator.max_rounds", 100)
	v.SetDefault("estimator.max_ability_step", 1.0)
	v.SetDefault("estimator.min_ability", -6.0)
	v.SetDefault("estimator.max_ability", 6.0)
	v.SetDefault("estimator.max_halvings", 10)
	v.SetDefault("estimator.workers", 0)

	bounds := map[string]any{}
	for name, b := range irt.DefaultTrustRegion().Bounds {
		bounds[name] = map[string]any{
			"min": b.Min, "max": b.Max, "mean": b.Mean,
			"sd": b.SD, "sd_factor": b.SDFactor, "prior_sd": b.PriorSD,
		}
	}
	v.SetDefault("trust_region.bounds", bounds)

	st := strategy.DefaultConfig()
	v.SetDefault("strategy.criterion", st.Criterion)
	v.SetDefault("strategy.models", st.Models)

	sel := selector.DefaultConfig()
	v.SetDefault("selector.max_questions", sel.MaxQuestions)
	v.SetDefault("selector.min_questions_per_scale", sel.MinQuestionsPerScale)
	v.SetDefault("selector.standard_error_min", sel.StandardErrorMin)
	v.SetDefault("selector.standard_error_strategy", string(sel.StandardErrorStrategy))
	v.SetDefault("selector.time_limit", sel.TimeLimit)
	v.SetDefault("selector.cooldown", sel.Cooldown)
	v.SetDefault("selector.first_item", string(sel.FirstItem))
	v.SetDefault("selector.initial_ability", sel.InitialAbility)
	v.SetDefault("selector.min_ability", sel.MinAbility)
	v.SetDefault("selector.max_ability", sel.MaxAbility)
	v.SetDefault("selector.max_ability_step", sel.MaxAbilityStep)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the cross-field rules the tags cannot
// express.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Estimator.MinAbility >= c.Estimator.MaxAbility {
		return fmt.Errorf("%w: estimator.min_ability must be below estimator.max_ability", ErrInvalidConfig)
	}
	if err := c.TrustRegion.Validate(); err != nil {
		return fmt.Errorf("%w: trust_region: %v", ErrInvalidConfig, err)
	}
	if _, err := irt.DefaultRegistry().Resolve(c.Strategy.Models); err != nil {
		return fmt.Errorf("%w: strategy.models: %v", ErrInvalidConfig, err)
	}
	if err := c.Selector.Validate(); err != nil {
		return fmt.Errorf("%w: selector: %v", ErrInvalidConfig, err)
	}
	return nil
}
