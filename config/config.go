// Copyright 2025 Brian Wang <wangbuke@gmail.com>
// SPDX-License-Identifier: Apache-2.0

// Package config loads the scheduler configuration from a file and JSSCHED_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. JSSCHED_LOG_LEVEL.
const EnvPrefix = "JSSCHED"

// Engine names accepted in pool configurations.
const (
	EngineGoja    = "goja"
	EngineQuickJS = "quickjs"
	EngineV8      = "v8"
)

// Config holds the whole jsscheduler configuration.
type Config struct {
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Log           LogConfig           `mapstructure:"log"`
	DataProcessor DataProcessorConfig `mapstructure:"dataprocessor"`
	Pools         []PoolConfig        `mapstructure:"pools" validate:"unique=ID,dive"`
}

// SchedulerConfig holds the scheduler-wide timeouts and replacement pacing.
type SchedulerConfig struct {
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" validate:"gt=0"`
	AcquireTimeout   time.Duration `mapstructure:"acquire_timeout" validate:"gt=0"`
	ReplaceRate      float64       `mapstructure:"replace_rate" validate:"gte=0"` // Replacements per second, zero is unlimited
	ReplaceBurst     int           `mapstructure:"replace_burst" validate:"gte=1"`
	Metrics          bool          `mapstructure:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

// DataProcessorConfig enables the built-in dataProcessor pool.
type DataProcessorConfig struct {
	Enabled       bool           `mapstructure:"enabled"`
	Engine        string         `mapstructure:"engine" validate:"oneof=goja quickjs v8"`
	EngineOptions EngineSettings `mapstructure:"engine_options"`
	Capacity      int            `mapstructure:"capacity" validate:"gte=0"` // Zero picks the default
	JobTimeout    time.Duration  `mapstructure:"job_timeout" validate:"gte=0"`
}

// PoolConfig describes one pool of engine units.
type PoolConfig struct {
	ID            string         `mapstructure:"id" validate:"required"`
	Engine        string         `mapstructure:"engine" validate:"oneof=goja quickjs v8"`
	EngineOptions EngineSettings `mapstructure:"engine_options"`
	Capacity      int            `mapstructure:"capacity" validate:"gte=1"`
	Scripts       []string       `mapstructure:"scripts" validate:"dive,required"` // Relative paths resolve against the config file
	QueueSize     uint32         `mapstructure:"queue_size"`
	JobTimeout    time.Duration  `mapstructure:"job_timeout" validate:"gte=0"`
}

// EngineSettings tunes every engine of a pool. Each engine reads only the settings it
// supports; unset fields keep the engine defaults.
type EngineSettings struct {
	// quickjs
	MemoryLimit  uint64 `mapstructure:"memory_limit"`   // Bytes
	MaxStackSize uint64 `mapstructure:"max_stack_size"` // Bytes
	Timeout      uint64 `mapstructure:"timeout"`        // Seconds per evaluation
	GCThreshold  *int64 `mapstructure:"gc_threshold" validate:"omitempty,gte=-1"`
	CanBlock     bool   `mapstructure:"can_block"`
	Strip        *int   `mapstructure:"strip" validate:"omitempty,gte=0,lte=2"`

	// goja
	MaxCallStackSize int `mapstructure:"max_call_stack_size" validate:"gte=0"`

	// v8
	Globals map[string]string `mapstructure:"globals"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.handshake_timeout", 5*time.Second)
	v.SetDefault("scheduler.acquire_timeout", 10*time.Second)
	v.SetDefault("scheduler.replace_rate", 20.0)
	v.SetDefault("scheduler.replace_burst", 8)
	v.SetDefault("scheduler.metrics", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("dataprocessor.enabled", false)
	v.SetDefault("dataprocessor.engine", EngineGoja)
	v.SetDefault("dataprocessor.capacity", 0)
	v.SetDefault("dataprocessor.job_timeout", 30*time.Second)
}

// Load reads the configuration. With an empty path it looks for jsscheduler.{yaml,toml,json}
// in the working directory and in $HOME/.jsscheduler, falling back to defaults. An explicit
// path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("jsscheduler")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.jsscheduler")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	for i := range cfg.Pools {
		if cfg.Pools[i].Engine == "" {
			cfg.Pools[i].Engine = EngineGoja
		}
	}

	if used := v.ConfigFileUsed(); used != "" {
		cfg.resolveScripts(filepath.Dir(used))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveScripts(dir string) {
	for i := range c.Pools {
		for j, script := range c.Pools[i].Scripts {
			if script != "" && !filepath.IsAbs(script) {
				c.Pools[i].Scripts[j] = filepath.Join(dir, script)
			}
		}
	}
}

// Validate checks the configuration against its validate tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Pool returns the configuration of the pool with the given id.
func (c *Config) Pool(id string) (PoolConfig, bool) {
	for _, p := range c.Pools {
		if p.ID == id {
			return p, true
		}
	}
	return PoolConfig{}, false
}
