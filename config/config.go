/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads the daemon configuration: a YAML file, overridable
// through ORDERFEED_* environment variables, with every tuning knob
// defaulting to the documented pipeline values.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"node-order-feed-go/feed"
)

// Tuning mirrors the pipeline knobs in file-friendly units. Zero means "use
// the default".
type Tuning struct {
	PollIntervalMs    int `mapstructure:"pollIntervalMs"`
	RescanIntervalS   int `mapstructure:"rescanIntervalS"`
	LineQueueSize     int `mapstructure:"lineQueueSize"`
	BatchSize         int `mapstructure:"batchSize"`
	BatchTimeoutMs    int `mapstructure:"batchTimeoutMs"`
	MaxFlushSize      int `mapstructure:"maxFlushSize"`
	ParallelThreshold int `mapstructure:"parallelThreshold"`
	ParseWorkers      int `mapstructure:"parseWorkers"`
	ChunkTimeoutS     int `mapstructure:"chunkTimeoutS"`
	ParserCacheSize   int `mapstructure:"parserCacheSize"`
	BatchPeriodMs     int `mapstructure:"batchPeriodMs"`
	RecentBufferSize  int `mapstructure:"recentBufferSize"`
	LookBackS         int `mapstructure:"lookBackS"`
	MaxScanLines      int `mapstructure:"maxScanLines"`
	BackscanChunk     int `mapstructure:"backscanChunk"`
	MonitorIntervalMs int `mapstructure:"monitorIntervalMs"`
	MaxTrackingAgeMin int `mapstructure:"maxTrackingAgeMin"`
	SearchCacheTTLs   int `mapstructure:"searchCacheTtlS"`
	SearchQueueSize   int `mapstructure:"searchQueueSize"`
	SendTimeoutMs     int `mapstructure:"sendTimeoutMs"`
}

// Config is the daemon's full configuration.
type Config struct {
	LogRoot  string            `mapstructure:"logRoot"`
	Listen   string            `mapstructure:"listen"`
	LogLevel string            `mapstructure:"logLevel"`
	Tuning   Tuning            `mapstructure:"tuning"`
	Symbols  []feed.SymbolRule `mapstructure:"symbols"`
}

// Load reads configuration from path (optional; empty skips the file),
// layered under ORDERFEED_* environment overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ORDERFEED")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen", ":8087")
	v.SetDefault("logLevel", "info")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Watch re-reads path whenever the file changes on disk and calls apply with
// each configuration that loads and validates cleanly. Edits that fail to
// load or validate are logged and skipped, so callers never observe a
// partial update.
func Watch(path string, apply func(Config), log zerolog.Logger) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("watching config %s: %w", path, err)
	}
	v.OnConfigChange(func(fsnotify.Event) {
		cfg, err := Load(path)
		if err != nil {
			log.Warn().Err(err).Msg("config change ignored")
			return
		}
		apply(cfg)
	})
	v.WatchConfig()
	return nil
}

// Validate checks the fields that have no sensible default.
func (c Config) Validate() error {
	if c.LogRoot == "" {
		return fmt.Errorf("logRoot is required")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("at least one symbol rule is required; an empty filter admits nothing")
	}
	for _, r := range c.Symbols {
		if r.Symbol == "" {
			return fmt.Errorf("symbol rule with empty symbol")
		}
		if r.MinLiquidity < 0 {
			return fmt.Errorf("symbol %s: negative minLiquidity", r.Symbol)
		}
	}
	return nil
}

// Feed converts the file-level configuration into the pipeline Config,
// filling unset knobs with the documented defaults.
func (c Config) Feed() feed.Config {
	fc := feed.DefaultConfig()
	fc.LogRoot = c.LogRoot
	fc.Symbols = c.Symbols

	t := c.Tuning
	setDuration(&fc.PollInterval, t.PollIntervalMs, time.Millisecond)
	setDuration(&fc.RescanInterval, t.RescanIntervalS, time.Second)
	setInt(&fc.LineQueueSize, t.LineQueueSize)
	setInt(&fc.BatchSize, t.BatchSize)
	setDuration(&fc.BatchTimeout, t.BatchTimeoutMs, time.Millisecond)
	setInt(&fc.MaxFlushSize, t.MaxFlushSize)
	setInt(&fc.ParallelThreshold, t.ParallelThreshold)
	setInt(&fc.ParseWorkers, t.ParseWorkers)
	setDuration(&fc.ChunkTimeout, t.ChunkTimeoutS, time.Second)
	setInt(&fc.ParserCacheSize, t.ParserCacheSize)
	setDuration(&fc.BatchPeriod, t.BatchPeriodMs, time.Millisecond)
	setInt(&fc.RecentBufferSize, t.RecentBufferSize)
	setDuration(&fc.LookBack, t.LookBackS, time.Second)
	setInt(&fc.MaxScanLines, t.MaxScanLines)
	setInt(&fc.BackscanChunk, t.BackscanChunk)
	setDuration(&fc.MonitorInterval, t.MonitorIntervalMs, time.Millisecond)
	setDuration(&fc.MaxTrackingAge, t.MaxTrackingAgeMin, time.Minute)
	setDuration(&fc.SearchCacheTTL, t.SearchCacheTTLs, time.Second)
	setInt(&fc.SearchQueueSize, t.SearchQueueSize)
	return fc
}

// SendTimeout returns the per-subscriber send deadline.
func (c Config) SendTimeout() time.Duration {
	if c.Tuning.SendTimeoutMs > 0 {
		return time.Duration(c.Tuning.SendTimeoutMs) * time.Millisecond
	}
	return time.Second
}

func setDuration(dst *time.Duration, value int, unit time.Duration) {
	if value > 0 {
		*dst = time.Duration(value) * unit
	}
}

func setInt(dst *int, value int) {
	if value > 0 {
		*dst = value
	}
}
