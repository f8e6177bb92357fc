// Package config provides configuration management for ubvremux using Viper.
// It supports configuration from defaults, files, environment variables, and
// CLI flags, layered in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultOutputFolder  = "./"
	defaultWorkersCap    = 8
	defaultPartitionWarn = 1024
)

// SourceFolder is the sentinel value for OutputFolder meaning "write next
// to the input file".
const SourceFolder = "SRC-FOLDER"

// Config holds all configuration for a remux run.
type Config struct {
	Remux   RemuxConfig   `mapstructure:"remux"`
	Logging LoggingConfig `mapstructure:"logging"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

// RemuxConfig holds the options described in the specification's
// configuration table (§6).
type RemuxConfig struct {
	WithAudio    bool   `mapstructure:"with_audio"`
	WithVideo    bool   `mapstructure:"with_video"`
	ForceRate    int    `mapstructure:"force_rate"`
	FastStart    bool   `mapstructure:"fast_start"`
	OutputFolder string `mapstructure:"output_folder"`
	MP4          bool   `mapstructure:"mp4"`
	VideoTrack   uint16 `mapstructure:"video_track"`
	BaseName     string `mapstructure:"base_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// RuntimeConfig holds process-level knobs that are not part of the
// per-file remux contract but govern how the driver schedules work.
type RuntimeConfig struct {
	// Workers is the number of files processed concurrently. 0 means
	// "auto" (host CPU count, capped at defaultWorkersCap).
	Workers int `mapstructure:"workers"`
	// FailFast aborts the whole run on the first file-level error
	// instead of collecting a summary at the end.
	FailFast bool `mapstructure:"fail_fast"`
}

// Load reads configuration from file, environment variables, and the
// flags already bound onto v (see cmd/ubvremux), in that order of
// increasing precedence.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("ubvremux")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.ubvremux")
	}

	v.SetEnvPrefix("UBVREMUX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Called before the config file/env/flags are layered on top.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("remux.with_audio", true)
	v.SetDefault("remux.with_video", true)
	v.SetDefault("remux.force_rate", 0)
	v.SetDefault("remux.fast_start", false)
	v.SetDefault("remux.output_folder", defaultOutputFolder)
	v.SetDefault("remux.mp4", true)
	v.SetDefault("remux.video_track", 0)
	v.SetDefault("remux.base_name", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("runtime.workers", 0)
	v.SetDefault("runtime.fail_fast", false)
}

// Validate checks the configuration for the invariants named in §4.11 of
// the specification.
func (c *Config) Validate() error {
	if !c.Remux.WithAudio && !c.Remux.WithVideo {
		return errors.New("at least one of with_audio or with_video must be true")
	}
	if c.Remux.MP4 && !c.Remux.WithVideo {
		return errors.New("mp4 output requires with_video")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Runtime.Workers < 0 {
		return errors.New("runtime.workers must be >= 0")
	}

	return nil
}

// ResolvedWorkers returns the effective worker-pool width: the configured
// value if positive, otherwise an auto-detected default (§5).
func (c *Config) ResolvedWorkers(autoDetect func() int) int {
	if c.Runtime.Workers > 0 {
		return c.Runtime.Workers
	}
	n := autoDetect()
	if n < 1 {
		n = 1
	}
	if n > defaultWorkersCap {
		n = defaultWorkersCap
	}
	return n
}
