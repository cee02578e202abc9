/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"errors"
	"time"

	"github.com/acronis/go-appkit/config"
)

const (
	// DefaultRefreshInterval is a default interval between limit refreshes.
	DefaultRefreshInterval = 30 * time.Second

	// DefaultMaxStaleness is a default ceiling on the limit snapshot age.
	// Once exceeded, admission fails closed until a refresh succeeds.
	DefaultMaxStaleness = 5 * time.Minute
)

const (
	cfgKeyRefreshInterval = "refreshInterval"
	cfgKeyMaxStaleness    = "maxStaleness"
)

const cfgDefaultKeyPrefix = "admission"

var _ config.Config = (*Config)(nil)
var _ config.KeyPrefixProvider = (*Config)(nil)

// Config represents a set of configuration parameters for admission control.
type Config struct {
	// RefreshInterval is the interval between limit refreshes.
	RefreshInterval time.Duration `mapstructure:"refreshInterval"`

	// MaxStaleness is the ceiling on the limit snapshot age.
	// 0 disables the ceiling (stale limits stay usable indefinitely).
	MaxStaleness time.Duration `mapstructure:"maxStaleness"`

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
	c.RefreshInterval = DefaultRefreshInterval
	c.MaxStaleness = DefaultMaxStaleness
	return c
}

// KeyPrefix returns a key prefix with which all configuration parameters should be presented.
// Implements config.KeyPrefixProvider interface.
func (c *Config) KeyPrefix() string {
	if c.keyPrefix == "" {
		return cfgDefaultKeyPrefix
	}
	return c.keyPrefix
}

// SetProviderDefaults sets default configuration values for admission control in config.DataProvider.
// Implements config.Config interface.
func (c *Config) SetProviderDefaults(dp config.DataProvider) {
	dp.SetDefault(cfgKeyRefreshInterval, DefaultRefreshInterval)
	dp.SetDefault(cfgKeyMaxStaleness, DefaultMaxStaleness)
}

// Set sets configuration values for admission control from config.DataProvider.
// Implements config.Config interface.
func (c *Config) Set(dp config.DataProvider) error {
	refreshInterval, err := dp.GetDuration(cfgKeyRefreshInterval)
	if err != nil {
		return err
	}
	if refreshInterval <= 0 {
		return dp.WrapKeyErr(cfgKeyRefreshInterval, errors.New("must be positive"))
	}
	c.RefreshInterval = refreshInterval

	maxStaleness, err := dp.GetDuration(cfgKeyMaxStaleness)
	if err != nil {
		return err
	}
	if maxStaleness < 0 {
		return dp.WrapKeyErr(cfgKeyMaxStaleness, errors.New("must not be negative"))
	}
	if maxStaleness > 0 && maxStaleness < refreshInterval {
		return dp.WrapKeyErr(cfgKeyMaxStaleness, errors.New("must not be less than refresh interval"))
	}
	c.MaxStaleness = maxStaleness
	return nil
}
