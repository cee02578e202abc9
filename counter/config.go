/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"errors"
	"time"

	"github.com/acronis/go-appkit/config"
)

const (
	// DefaultMaxShards is a default upper bound for the adapted shard count.
	DefaultMaxShards = 16

	// DefaultRefreshInterval is a default interval between shard map refreshes.
	DefaultRefreshInterval = 30 * time.Second

	// DefaultAdaptationSampleWindow is a default window over which write contention is sampled.
	DefaultAdaptationSampleWindow = time.Minute

	// DefaultGrowFailureRateThreshold is a default increment failure rate (per second)
	// above which the shard count is grown.
	DefaultGrowFailureRateThreshold = 0.1

	// DefaultShrinkOccupancyDivisor is a default divisor for the shrink condition:
	// a resource is under-occupied when total <= shardCount/divisor.
	DefaultShrinkOccupancyDivisor = 4

	// DefaultShrinkSustainWindow is a default duration the under-occupancy must
	// hold before the shard count is shrunk.
	DefaultShrinkSustainWindow = 10 * time.Minute

	// DefaultGCInterval is a default interval between GC passes.
	DefaultGCInterval = time.Hour

	// DefaultGCIdleWindow is a default inactivity window after which zero-valued
	// shards become eligible for removal.
	DefaultGCIdleWindow = 24 * time.Hour

	// DefaultReconcileInitialInterval is a default initial backoff interval for decrement retries.
	DefaultReconcileInitialInterval = 500 * time.Millisecond

	// DefaultReconcileMaxInterval is a default backoff interval cap for decrement retries.
	DefaultReconcileMaxInterval = time.Minute

	// DefaultReconcileQueueSize is a default capacity of the pending decrement queue.
	DefaultReconcileQueueSize = 1024
)

const (
	cfgKeyMaxShards                     = "maxShards"
	cfgKeyRefreshInterval               = "refreshInterval"
	cfgKeyAdaptationSampleWindow        = "adaptation.sampleWindow"
	cfgKeyAdaptationGrowFailureRate     = "adaptation.growFailureRateThreshold"
	cfgKeyAdaptationShrinkOccupancyDiv  = "adaptation.shrinkOccupancyDivisor"
	cfgKeyAdaptationShrinkSustainWindow = "adaptation.shrinkSustainWindow"
	cfgKeyGCInterval                    = "gc.interval"
	cfgKeyGCIdleWindow                  = "gc.idleWindow"
	cfgKeyReconcileInitialInterval      = "reconcile.initialInterval"
	cfgKeyReconcileMaxInterval          = "reconcile.maxInterval"
	cfgKeyReconcileQueueSize            = "reconcile.queueSize"
)

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// AdaptationConfig represents configuration options for the shard count adaptation policy.
type AdaptationConfig struct {
	// SampleWindow is the window over which write contention is sampled;
	// it is also the interval of the adaptation worker.
	SampleWindow time.Duration `mapstructure:"sampleWindow"`

	// GrowFailureRateThreshold is the increment failure rate (per second)
	// above which the shard count is doubled.
	GrowFailureRateThreshold float64 `mapstructure:"growFailureRateThreshold"`

	// ShrinkOccupancyDivisor defines under-occupancy: total <= shardCount/divisor.
	ShrinkOccupancyDivisor int `mapstructure:"shrinkOccupancyDivisor"`

	// ShrinkSustainWindow is how long under-occupancy must hold before halving.
	ShrinkSustainWindow time.Duration `mapstructure:"shrinkSustainWindow"`
}

// GCConfig represents configuration options for idle shard garbage collection.
type GCConfig struct {
	// Interval is the interval between GC passes.
	Interval time.Duration `mapstructure:"interval"`

	// IdleWindow is the inactivity window after which a resource's
	// zero-valued shards may be removed.
	IdleWindow time.Duration `mapstructure:"idleWindow"`
}

// ReconcileConfig represents configuration options for the decrement reconciliation loop.
type ReconcileConfig struct {
	// InitialInterval is the initial backoff interval for decrement retries.
	InitialInterval time.Duration `mapstructure:"initialInterval"`

	// MaxInterval caps the backoff interval for decrement retries.
	MaxInterval time.Duration `mapstructure:"maxInterval"`

	// QueueSize is the capacity of the pending decrement queue.
	QueueSize int `mapstructure:"queueSize"`
}

// Config represents a set of configuration parameters for ShardedCounter.
type Config struct {
	// MaxShards is the upper bound for the adapted shard count.
	MaxShards int `mapstructure:"maxShards"`

	// RefreshInterval is the interval between shard map refreshes.
	RefreshInterval time.Duration `mapstructure:"refreshInterval"`

	Adaptation AdaptationConfig `mapstructure:"adaptation"`
	GC         GCConfig         `mapstructure:"gc"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`

	keyPrefix string
}

// ConfigOption is a type for functional options for the Config.
type ConfigOption func(*Config)

// WithKeyPrefix returns a ConfigOption that sets a key prefix for parsing configuration parameters.
func WithKeyPrefix(keyPrefix string) ConfigOption {
	return func(c *Config) {
		c.keyPrefix = keyPrefix
	}
}

// NewConfig creates a new instance of the Config.
func NewConfig(options ...ConfigOption) *Config {
	c := &Config{keyPrefix: cfgDefaultKeyPrefix}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig(options ...ConfigOption) *Config {
	c := NewConfig(options...)
	c.MaxShards = DefaultMaxShards
	c.RefreshInterval = DefaultRefreshInterval
	c.Adaptation = AdaptationConfig{
		SampleWindow:             DefaultAdaptationSampleWindow,
		GrowFailureRateThreshold: DefaultGrowFailureRateThreshold,
		ShrinkOccupancyDivisor:   DefaultShrinkOccupancyDivisor,
		ShrinkSustainWindow:      DefaultShrinkSustainWindow,
	}
	c.GC = GCConfig{Interval: DefaultGCInterval, IdleWindow: DefaultGCIdleWindow}
	c.Reconcile = ReconcileConfig{
		InitialInterval: DefaultReconcileInitialInterval,
		MaxInterval:     DefaultReconcileMaxInterval,
		QueueSize:       DefaultReconcileQueueSize,
	}
	return c
}

const cfgDefaultKeyPrefix = "counter"

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for ShardedCounter in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyMaxShards, DefaultMaxShards)
	dp.SetDefault(cfgKeyRefreshInterval, DefaultRefreshInterval)
	dp.SetDefault(cfgKeyAdaptationSampleWindow, DefaultAdaptationSampleWindow)
	dp.SetDefault(cfgKeyAdaptationGrowFailureRate, DefaultGrowFailureRateThreshold)
	dp.SetDefault(cfgKeyAdaptationShrinkOccupancyDiv, DefaultShrinkOccupancyDivisor)
	dp.SetDefault(cfgKeyAdaptationShrinkSustainWindow, DefaultShrinkSustainWindow)
	dp.SetDefault(cfgKeyGCInterval, DefaultGCInterval)
	dp.SetDefault(cfgKeyGCIdleWindow, DefaultGCIdleWindow)
	dp.SetDefault(cfgKeyReconcileInitialInterval, DefaultReconcileInitialInterval)
	dp.SetDefault(cfgKeyReconcileMaxInterval, DefaultReconcileMaxInterval)
	dp.SetDefault(cfgKeyReconcileQueueSize, DefaultReconcileQueueSize)
}

// Set sets configuration values for ShardedCounter from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	maxShards, err := dp.GetInt(cfgKeyMaxShards)
	if err != nil {
		return err
	}
	if maxShards < 1 {
		return dp.WrapKeyErr(cfgKeyMaxShards, errors.New("must be at least 1"))
	}
	c.MaxShards = maxShards

	refreshInterval, err := dp.GetDuration(cfgKeyRefreshInterval)
	if err != nil {
		return err
	}
	if refreshInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyRefreshInterval, errors.New("must be positive"))
	}
	c.RefreshInterval = refreshInterval

	if err := c.setAdaptation(dp); err != nil {
		return err
	}
	if err := c.setGC(dp); err != nil {
		return err
	}
	return c.setReconcile(dp)
}

func (c *Config) setAdaptation(dp config.DataProvider) error {
	sampleWindow, err := dp.GetDuration(cfgKeyAdaptationSampleWindow)
	if err != nil {
		return err
	}
	if sampleWindow <= 0 {
		return dp.WrapKeyErr(cfgKeyAdaptationSampleWindow, errors.New("must be positive"))
	}
	c.Adaptation.SampleWindow = sampleWindow

	growRate, err := dp.GetFloat64(cfgKeyAdaptationGrowFailureRate)
	if err != nil {
		return err
	}
	if growRate < 0 {
		return dp.WrapKeyErr(cfgKeyAdaptationGrowFailureRate, errors.New("must not be negative"))
	}
	c.Adaptation.GrowFailureRateThreshold = growRate

	divisor, err := dp.GetInt(cfgKeyAdaptationShrinkOccupancyDiv)
	if err != nil {
		return err
	}
	if divisor < 1 {
		return dp.WrapKeyErr(cfgKeyAdaptationShrinkOccupancyDiv, errors.New("must be at least 1"))
	}
	c.Adaptation.ShrinkOccupancyDivisor = divisor

	sustainWindow, err := dp.GetDuration(cfgKeyAdaptationShrinkSustainWindow)
	if err != nil {
		return err
	}
	if sustainWindow < 0 {
		return dp.WrapKeyErr(cfgKeyAdaptationShrinkSustainWindow, errors.New("must not be negative"))
	}
	c.Adaptation.ShrinkSustainWindow = sustainWindow
	return nil
}

func (c *Config) setGC(dp config.DataProvider) error {
	interval, err := dp.GetDuration(cfgKeyGCInterval)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return dp.WrapKeyErr(cfgKeyGCInterval, errors.New("must be positive"))
	}
	c.GC.Interval = interval

	idleWindow, err := dp.GetDuration(cfgKeyGCIdleWindow)
	if err != nil {
		return err
	}
	if idleWindow <= 0 {
		return dp.WrapKeyErr(cfgKeyGCIdleWindow, errors.New("must be positive"))
	}
	c.GC.IdleWindow = idleWindow
	return nil
}

func (c *Config) setReconcile(dp config.DataProvider) error {
	initialInterval, err := dp.GetDuration(cfgKeyReconcileInitialInterval)
	if err != nil {
		return err
	}
	if initialInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyReconcileInitialInterval, errors.New("must be positive"))
	}
	c.Reconcile.InitialInterval = initialInterval

	maxInterval, err := dp.GetDuration(cfgKeyReconcileMaxInterval)
	if err != nil {
		return err
	}
	if maxInterval < initialInterval {
		return dp.WrapKeyErr(cfgKeyReconcileMaxInterval, errors.New("must not be less than initial interval"))
	}
	c.Reconcile.MaxInterval = maxInterval

	queueSize, err := dp.GetInt(cfgKeyReconcileQueueSize)
	if err != nil {
		return err
	}
	if queueSize < 1 {
		return dp.WrapKeyErr(cfgKeyReconcileQueueSize, errors.New("must be at least 1"))
	}
	c.Reconcile.QueueSize = queueSize
	return nil
}
