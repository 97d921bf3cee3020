package config

import (
	"time"

	"github.com/phrazzld/scry-cat/internal/catcalc"
	"github.com/phrazzld/scry-cat/internal/domain/irt"
	"github.com/phrazzld/scry-cat/internal/selector"
	"github.com/phrazzld/scry-cat/internal/strategy"
)

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" validate:"required"`
	Database    DatabaseConfig    `mapstructure:"database" validate:"required"`
	Calibration CalibrationConfig `mapstructure:"calibration" validate:"required"`
	Estimator   catcalc.Config    `mapstructure:"estimator"`
	TrustRegion irt.TrustRegion   `mapstructure:"trust_region"`
	Strategy    strategy.Config   `mapstructure:"strategy"`
	Selector    selector.Config   `mapstructure:"selector"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	Dialect string `mapstructure:"dialect" validate:"required,oneof=postgres sqlite"`
	URL     string `mapstructure:"url" validate:"required"`
}

// CalibrationConfig sizes the background calibration workers.
type CalibrationConfig struct {
	Workers   int           `mapstructure:"workers" validate:"gt=0"`
	QueueSize int           `mapstructure:"queue_size" validate:"gt=0"`
	Timeout   time.Duration `mapstructure:"timeout" validate:"gte=0"`
}
