// Package eventcore is the public surface of the core: typed
// configuration plus a constructor that wires PersistentQueue,
// KeyValueStore, FlagCache, Uploader, and Coordinator together. It is
// deliberately not a capture/identify/group facade — that layer is a
// separate concern.
package eventcore

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/eventcore/sdk-core/internal/uploader"
)

// Config is the root configuration for the event-delivery and
// feature-flag core.
type Config struct {
	// StorageRoot is the platform-specific application-support directory
	// this core owns, suffixed by the caller with a unique app
	// identifier.
	StorageRoot string `yaml:"storage_root"`

	// KeyPrefix is the fixed string prefix used to name each
	// KeyValueStore key's file, e.g. "eventcore.".
	KeyPrefix string `yaml:"key_prefix"`

	Uploader UploaderConfig `yaml:"uploader"`
}

// UploaderConfig is the Uploader's YAML-facing configuration surface.
type UploaderConfig struct {
	// FlushIntervalSeconds is the periodic flush cadence.
	FlushIntervalSeconds int `yaml:"flush_interval_seconds"`

	// FlushAt is the queue-depth trigger for an immediate flush on add.
	FlushAt int `yaml:"flush_at"`

	// MaxBatchSize bounds records peeked per flush.
	MaxBatchSize int `yaml:"max_batch_size"`

	// DataMode is "any" or "wifi".
	DataMode string `yaml:"data_mode"`

	// RetryDelaySeconds is the back-off base.
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`

	// MaxRetryDelaySeconds is the back-off cap.
	MaxRetryDelaySeconds float64 `yaml:"max_retry_delay_seconds"`
}

// DefaultConfig returns a Config with production-safe defaults.
func DefaultConfig() *Config {
	return &Config{
		KeyPrefix: "eventcore.",
		Uploader: UploaderConfig{
			FlushIntervalSeconds: 30,
			FlushAt:              20,
			MaxBatchSize:         100,
			DataMode:             "any",
			RetryDelaySeconds:    1,
			MaxRetryDelaySeconds: 120,
		},
	}
}

// LoadFromYAML parses YAML config data on top of DefaultConfig, so a
// document only needs to specify the fields it overrides.
func LoadFromYAML(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("eventcore: parse config: %w", err)
	}
	return cfg, nil
}

// toUploaderConfig translates the YAML-facing UploaderConfig into
// internal/uploader.Config.
func (c *Config) toUploaderConfig() uploader.Config {
	mode := uploader.DataModeAny
	if c.Uploader.DataMode == "wifi" {
		mode = uploader.DataModeWifiOnly
	}
	return uploader.Config{
		FlushInterval: time.Duration(c.Uploader.FlushIntervalSeconds) * time.Second,
		FlushAt:       c.Uploader.FlushAt,
		MaxBatchSize:  c.Uploader.MaxBatchSize,
		DataMode:      mode,
		RetryDelay:    time.Duration(c.Uploader.RetryDelaySeconds * float64(time.Second)),
		MaxRetryDelay: time.Duration(c.Uploader.MaxRetryDelaySeconds * float64(time.Second)),
	}
}
