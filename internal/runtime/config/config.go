package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	DefaultQueueCapacity          = 200
	DefaultSyncInterval           = time.Second
	DefaultFPSMultiplier          = 2.0
	DefaultDurationNotifyInterval = time.Second
	DefaultDurationWindow         = 200
	DefaultStrategy               = "direct"
	DefaultIntrospectionPort      = 8081

	envPrefix = "ROUTINEFLOW"
)

// Config groups the knobs of a pipeline. Zero values fall back to the
// defaults above, see WithDefaults.
type Config struct {
	// QueueCapacity bounds every consumer queue of a fan-out.
	QueueCapacity int `envconfig:"QUEUE_CAPACITY" default:"200"`

	// DisableAutoPacing skips the synchronizer and leaves routines unpaced
	// unless they carry a constant FPS. Auto pacing is on by default.
	DisableAutoPacing bool `envconfig:"DISABLE_AUTO_PACING" default:"false"`
	// SyncInterval is the period of one synchronizer cycle.
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"1s"`
	// FPSMultiplier is applied by a routine to every update-fps it receives,
	// leaving headroom against measurement noise.
	FPSMultiplier float64 `envconfig:"FPS_MULTIPLIER" default:"2"`
	// DurationNotifyInterval is how often routines batch their iteration
	// durations onto the bus.
	DurationNotifyInterval time.Duration `envconfig:"DURATION_NOTIFY_INTERVAL" default:"1s"`
	// DurationWindow is the number of recent durations kept per routine.
	DurationWindow int `envconfig:"DURATION_WINDOW" default:"200"`

	// DefaultStrategy names the transmission strategy used by Link when none
	// is given. Supported values: "direct", "shared-segment".
	DefaultStrategy string `envconfig:"DEFAULT_STRATEGY" default:"direct"`
	// SharedSegmentDir holds the memory-mapped segments. Empty selects
	// /dev/shm when available and the temp dir otherwise.
	SharedSegmentDir string `envconfig:"SHARED_SEGMENT_DIR"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"false"`

	IntrospectionEnabled bool `envconfig:"INTROSPECTION_ENABLED" default:"false"`
	// IntrospectionPort serves /api/routines and, with metrics enabled, /metrics.
	IntrospectionPort int `envconfig:"INTROSPECTION_PORT" default:"8081"`
	// IntrospectionCORSAllowedOrigins lists allowed origins; "*" allows all.
	IntrospectionCORSAllowedOrigins []string `envconfig:"INTROSPECTION_CORS_ALLOWED_ORIGINS"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	return Config{}.WithDefaults()
}

// AutoPacing reports whether the pipe builds the synchronizer and arms every
// routine with the paced strategy.
func (c Config) AutoPacing() bool { return !c.DisableAutoPacing }

// Load reads ROUTINEFLOW_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WithDefaults returns a copy where unset fields carry their defaults.
func (c Config) WithDefaults() Config {
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
	if c.SyncInterval == 0 {
		c.SyncInterval = DefaultSyncInterval
	}
	if c.FPSMultiplier == 0 {
		c.FPSMultiplier = DefaultFPSMultiplier
	}
	if c.DurationNotifyInterval == 0 {
		c.DurationNotifyInterval = DefaultDurationNotifyInterval
	}
	if c.DurationWindow == 0 {
		c.DurationWindow = DefaultDurationWindow
	}
	if c.DefaultStrategy == "" {
		c.DefaultStrategy = DefaultStrategy
	}
	if c.IntrospectionPort == 0 {
		c.IntrospectionPort = DefaultIntrospectionPort
	}
	return c
}

// GetDefaultStrategy and GetSharedSegmentDir satisfy transmit.Config.
func (c *Config) GetDefaultStrategy() string  { return c.DefaultStrategy }
func (c *Config) GetSharedSegmentDir() string { return c.SharedSegmentDir }

func (c Config) String() string {
	type configAlias Config
	return fmt.Sprintf("%+v", configAlias(c))
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateDataPlane()...)
	errs = append(errs, c.validatePacing()...)
	errs = append(errs, c.validatePorts()...)

	return errors.Join(errs...)
}

func (c *Config) validateDataPlane() []error {
	var errs []error
	if c.QueueCapacity < 0 {
		errs = append(errs, errors.New("queue: capacity cannot be negative"))
	}
	if strings.TrimSpace(c.DefaultStrategy) != c.DefaultStrategy {
		errs = append(errs, fmt.Errorf("queue: strategy name %q has surrounding whitespace", c.DefaultStrategy))
	}
	return errs
}

func (c *Config) validatePacing() []error {
	var errs []error
	if c.SyncInterval < 0 {
		errs = append(errs, errors.New("pacing: sync interval cannot be negative"))
	}
	if c.DurationNotifyInterval < 0 {
		errs = append(errs, errors.New("pacing: duration notify interval cannot be negative"))
	}
	if c.FPSMultiplier < 0 {
		errs = append(errs, errors.New("pacing: fps multiplier cannot be negative"))
	}
	if c.DurationWindow < 0 {
		errs = append(errs, errors.New("pacing: duration window cannot be negative"))
	}
	return errs
}

func (c *Config) validatePorts() []error {
	if c.IntrospectionPort < 0 || c.IntrospectionPort > 65535 {
		return []error{fmt.Errorf("introspection: invalid port %d", c.IntrospectionPort)}
	}
	return nil
}

// ValidateConfig is a convenience function to validate a config pointer.
func ValidateConfig(c *Config) error {
	if c == nil {
		return errors.New("config is nil")
	}
	return c.Validate()
}
