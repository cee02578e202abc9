/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package counter

import (
	"bytes"
	"testing"
	"time"

	"github.com/acronis/go-appkit/config"
	"github.com/stretchr/testify/require"
)

func TestConfigWithLoader(t *testing.T) {
	yamlData := []byte(`
counter:
  maxShards: 64
  refreshInterval: 10s
  adaptation:
    sampleWindow: 30s
    growFailureRateThreshold: 0.5
    shrinkOccupancyDivisor: 8
    shrinkSustainWindow: 30m
  gc:
    interval: 2h
    idleWindow: 48h
  reconcile:
    initialInterval: 1s
    maxInterval: 2m
    queueSize: 4096
`)

	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader(yamlData), config.DataTypeYAML, cfg)
	require.NoError(t, err, "load configuration")

	require.Equal(t, 64, cfg.MaxShards)
	require.Equal(t, 10*time.Second, cfg.RefreshInterval)
	require.Equal(t, AdaptationConfig{
		SampleWindow:             30 * time.Second,
		GrowFailureRateThreshold: 0.5,
		ShrinkOccupancyDivisor:   8,
		ShrinkSustainWindow:      30 * time.Minute,
	}, cfg.Adaptation)
	require.Equal(t, GCConfig{Interval: 2 * time.Hour, IdleWindow: 48 * time.Hour}, cfg.GC)
	require.Equal(t, ReconcileConfig{
		InitialInterval: time.Second,
		MaxInterval:     2 * time.Minute,
		QueueSize:       4096,
	}, cfg.Reconcile)
}

func TestConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	err := config.NewDefaultLoader("").LoadFromReader(bytes.NewReader([]byte("{}")), config.DataTypeYAML, cfg)
	require.NoError(t, err, "load configuration")
	require.Equal(t, NewDefaultConfig(), cfg)
}

func TestConfigValidationErrors(t *testing.T) {
	tests := []struct {
		name     string
		yamlData string
		errMsg   string
	}{
		{
			name:     "max shards below 1",
			yamlData: "counter:\n  maxShards: 0",
			errMsg:   "must be at least 1",
		},
		{
			name:     "non-positive refresh interval",
			yamlData: "counter:\n  refreshInterval: 0s",
			errMsg:   "must be positive",
		},
		{
			name:     "negative grow threshold",
			yamlData: "counter:\n  adaptation:\n    growFailureRateThreshold: -1",
			errMsg:   "must not be negative",
		},
		{
			name:     "zero occupancy divisor",
			yamlData: "counter:\n  adaptation:\n    shrinkOccupancyDivisor: 0",
			errMsg:   "must be at least 1",
		},
		{
			name:     "max interval below initial",
			yamlData: "counter:\n  reconcile:\n    initialInterval: 1m\n    maxInterval: 1s",
			errMsg:   "must not be less than initial interval",
		},
		{
			name:     "zero queue size",
			yamlData: "counter:\n  reconcile:\n    queueSize: 0",
			errMsg:   "must be at least 1",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			err := config.NewDefaultLoader("").LoadFromReader(
				bytes.NewReader([]byte(tt.yamlData)), config.DataTypeYAML, cfg)
			require.ErrorContains(t, err, tt.errMsg)
		})
	}
}
