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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"node-order-feed-go/feed"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoad_FullFile verifies a complete YAML file loads with tuning
// conversions applied.
func TestLoad_FullFile(t *testing.T) {
	path := writeConfigFile(t, `
logRoot: /var/node/data
listen: ":9090"
logLevel: debug
tuning:
  pollIntervalMs: 10
  batchSize: 500
  lookBackS: 5
  maxTrackingAgeMin: 30
symbols:
  - symbol: BTC
    minLiquidity: 1000
  - symbol: ETH
    minLiquidity: 250.5
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogRoot != "/var/node/data" || cfg.Listen != ":9090" || cfg.LogLevel != "debug" {
		t.Errorf("unexpected top-level config: %+v", cfg)
	}
	if len(cfg.Symbols) != 2 || cfg.Symbols[1].MinLiquidity != 250.5 {
		t.Errorf("unexpected symbols: %+v", cfg.Symbols)
	}

	fc := cfg.Feed()
	if fc.PollInterval != 10*time.Millisecond {
		t.Errorf("expected PollInterval=10ms, got %v", fc.PollInterval)
	}
	if fc.BatchSize != 500 {
		t.Errorf("expected BatchSize=500, got %d", fc.BatchSize)
	}
	if fc.LookBack != 5*time.Second {
		t.Errorf("expected LookBack=5s, got %v", fc.LookBack)
	}
	if fc.MaxTrackingAge != 30*time.Minute {
		t.Errorf("expected MaxTrackingAge=30m, got %v", fc.MaxTrackingAge)
	}
}

// TestLoad_DefaultsFillUnsetKnobs verifies unset tuning values take the
// documented defaults.
func TestLoad_DefaultsFillUnsetKnobs(t *testing.T) {
	path := writeConfigFile(t, `
logRoot: /var/node/data
symbols:
  - symbol: BTC
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen != ":8087" || cfg.LogLevel != "info" {
		t.Errorf("unexpected defaults: listen=%s logLevel=%s", cfg.Listen, cfg.LogLevel)
	}

	want := feed.DefaultConfig()
	fc := cfg.Feed()
	if fc.PollInterval != want.PollInterval || fc.BatchSize != want.BatchSize ||
		fc.BatchPeriod != want.BatchPeriod || fc.MaxScanLines != want.MaxScanLines {
		t.Errorf("expected pipeline defaults, got %+v", fc)
	}
	if cfg.SendTimeout() != time.Second {
		t.Errorf("expected default send timeout 1s, got %v", cfg.SendTimeout())
	}
}

// TestLoad_Validation verifies the required-field checks.
func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			"missing logRoot",
			"symbols:\n  - symbol: BTC\n",
		},
		{
			"no symbols",
			"logRoot: /var/node/data\n",
		},
		{
			"empty symbol name",
			"logRoot: /var/node/data\nsymbols:\n  - minLiquidity: 10\n",
		},
		{
			"negative liquidity",
			"logRoot: /var/node/data\nsymbols:\n  - symbol: BTC\n    minLiquidity: -1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfigFile(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// TestLoad_MissingFile verifies an unreadable config path is an error rather
// than a silent default run.
func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// TestWatch_ReloadsOnChange verifies a file edit reaches the apply callback
// with the new symbol rules.
func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfigFile(t, "logRoot: /var/node/data\nsymbols:\n  - symbol: BTC\n")

	reloaded := make(chan Config, 1)
	err := Watch(path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("logRoot: /var/node/data\nsymbols:\n  - symbol: ETH\n    minLiquidity: 50\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		if len(cfg.Symbols) != 1 || cfg.Symbols[0].Symbol != "ETH" || cfg.Symbols[0].MinLiquidity != 50 {
			t.Errorf("unexpected reloaded symbols: %+v", cfg.Symbols)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload never observed")
	}
}

// TestWatch_SkipsInvalidEdit verifies a broken edit never reaches the
// callback.
func TestWatch_SkipsInvalidEdit(t *testing.T) {
	path := writeConfigFile(t, "logRoot: /var/node/data\nsymbols:\n  - symbol: BTC\n")

	reloaded := make(chan Config, 1)
	err := Watch(path, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}

	// Validation rejects an empty symbol list.
	if err := os.WriteFile(path, []byte("logRoot: /var/node/data\n"), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-reloaded:
		t.Errorf("invalid edit applied: %+v", cfg)
	case <-time.After(200 * time.Millisecond):
	}
}
