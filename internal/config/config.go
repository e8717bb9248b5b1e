// Package config loads the gateway configuration from YAML.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/rpcwarden/internal/alert"
	"github.com/ppiankov/rpcwarden/internal/decision"
)

// Environment overrides applied after the file is read.
const (
	EnvClassifierAPIKey = "RPCWARDEN_CLASSIFIER_API_KEY"
	EnvUpstream         = "RPCWARDEN_UPSTREAM"
)

// RateLimitConfig bounds inbound requests per client address. A zero RPS
// disables the limiter.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	Listen        string          `yaml:"listen"`
	AdminListen   string          `yaml:"admin_listen"`
	HealthPort    int             `yaml:"health_port"`
	MaxConcurrent int64           `yaml:"max_concurrent"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
}

// UpstreamConfig is the JSON-RPC endpoint admitted calls are forwarded to.
type UpstreamConfig struct {
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

// ClassifierConfig points at an OpenAI-compatible completion API. An empty
// APIURL classifies every call by the static fallback.
type ClassifierConfig struct {
	APIURL    string        `yaml:"api_url"`
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	Timeout   time.Duration `yaml:"timeout"`
	MaxTokens int           `yaml:"max_tokens"`
}

// ReputationConfig holds the reputation thresholds. Amounts are decimal wei.
type ReputationConfig struct {
	LargeTransferWei string `yaml:"large_transfer_wei"`
	MaxReports       uint64 `yaml:"max_reports"`
}

// LedgerConfig selects the ledger store. An empty Path keeps the ledger in
// memory only.
type LedgerConfig struct {
	Path            string `yaml:"path"`
	InitialTreasury string `yaml:"initial_treasury"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// Config is the full gateway configuration.
type Config struct {
	Server      ServerConfig     `yaml:"server"`
	Upstream    UpstreamConfig   `yaml:"upstream"`
	Classifier  ClassifierConfig `yaml:"classifier"`
	Reputation  ReputationConfig `yaml:"reputation"`
	Policy      decision.Policy  `yaml:"policy"`
	Ledger      LedgerConfig     `yaml:"ledger"`
	HistorySize int              `yaml:"history_size"`
	AuditLog    string           `yaml:"audit_log"`
	Alerts      []alert.Config   `yaml:"alerts"`
	Log         LogConfig        `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        "127.0.0.1:8645",
			AdminListen:   "127.0.0.1:8646",
			MaxConcurrent: 64,
			RateLimit:     RateLimitConfig{RPS: 50, Burst: 100},
		},
		Upstream: UpstreamConfig{
			URL:     "http://127.0.0.1:8545",
			Timeout: 30 * time.Second,
		},
		Classifier: ClassifierConfig{
			Model:     "gpt-4o-mini",
			Timeout:   10 * time.Second,
			MaxTokens: 200,
		},
		Reputation: ReputationConfig{
			LargeTransferWei: "10000000000000000000",
			MaxReports:       5,
		},
		Ledger: LedgerConfig{
			InitialTreasury: "0",
		},
		HistorySize: 100,
		Log:         LogConfig{Level: "info", Format: "text"},
	}
}

// DefaultPath is ~/.rpcwarden/config.yaml, or empty when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".rpcwarden", "config.yaml")
}

// Load reads configuration from path and returns it with the SHA-256 hash
// of the raw file. An empty path falls back to DefaultPath. A missing file
// yields defaults and the hash of empty input. Environment overrides are
// applied last and do not change the hash.
func Load(path string) (*Config, string, error) {
	if path == "" {
		path = DefaultPath()
	}

	var data []byte
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	}

	h := sha256.Sum256(data)
	hash := "sha256:" + hex.EncodeToString(h[:])

	// Start with defaults, YAML overwrites only specified fields
	cfg := Default()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, hash, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvClassifierAPIKey); v != "" {
		c.Classifier.APIKey = v
	}
	if v := os.Getenv(EnvUpstream); v != "" {
		c.Upstream.URL = v
	}
}

// Validate checks values the YAML decoder cannot.
func (c *Config) Validate() error {
	var errs []error
	if c.Upstream.URL == "" {
		errs = append(errs, errors.New("upstream.url is required"))
	}
	if c.HistorySize < 0 {
		errs = append(errs, errors.New("history_size must not be negative"))
	}
	if c.Server.RateLimit.RPS < 0 || c.Server.RateLimit.Burst < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	for name, v := range map[string]string{
		"reputation.large_transfer_wei": c.Reputation.LargeTransferWei,
		"ledger.initial_treasury":       c.Ledger.InitialTreasury,
	} {
		if _, err := ParseAmount(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q: want text or json", c.Log.Format))
	}
	for i, a := range c.Alerts {
		if a.URL == "" {
			errs = append(errs, fmt.Errorf("alerts[%d].url is required", i))
		}
		switch a.Format {
		case "", "generic", "slack", "pagerduty":
		default:
			errs = append(errs, fmt.Errorf("alerts[%d].format %q is unknown", i, a.Format))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseAmount parses a decimal token amount. Empty input is nil.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, err)
	}
	return v, nil
}

// LargeTransfer returns the large-transfer threshold, nil when unset.
func (r ReputationConfig) LargeTransfer() *uint256.Int {
	v, _ := ParseAmount(r.LargeTransferWei)
	return v
}

// Treasury returns the initial treasury balance, nil when unset.
func (l LedgerConfig) Treasury() *uint256.Int {
	v, _ := ParseAmount(l.InitialTreasury)
	return v
}

// DefaultYAML returns a commented YAML string for init-config.
func DefaultYAML() string {
	return `# rpcwarden configuration
# Generated by: rpcwarden init-config
#
# Admission order (cannot be changed):
#   1. policy.force_manual_review -> hold
#   2. classifier refusal -> reject (MEDIUM -> hold)
#   3. reputation refusal -> reject (manual_review -> hold)
#   4. approve; HIGH risk or manual_review recommendation -> hold

server:
  listen: 127.0.0.1:8645        # JSON-RPC gateway
  admin_listen: 127.0.0.1:8646  # management API, /healthz, /metrics
  health_port: 0                # gRPC health service, 0 disables
  max_concurrent: 64
  rate_limit:
    rps: 50                     # per client address, 0 disables
    burst: 100

upstream:
  url: http://127.0.0.1:8545    # overridden by RPCWARDEN_UPSTREAM
  timeout: 30s

# OpenAI-compatible chat completions endpoint. Leave api_url empty to
# classify by the static fallback only.
classifier:
  api_url: ""
  api_key: ""                   # overridden by RPCWARDEN_CLASSIFIER_API_KEY
  model: gpt-4o-mini
  timeout: 10s
  max_tokens: 200

reputation:
  large_transfer_wei: "10000000000000000000"  # 10 ETH
  max_reports: 5

# Hot-reloaded while serving.
policy:
  force_manual_review: false
  supervised: false             # hold approved calls that are not auto-approved
  auto_approve:
    enabled: false
    allow_all_risk_levels: false
    high_trust_only: false

ledger:
  path: ""                      # sqlite file, empty keeps the ledger in memory
  initial_treasury: "0"

history_size: 100
audit_log: ""

# alerts:
#   - url: https://hooks.slack.com/services/...
#     format: slack             # generic | slack | pagerduty
#     events: [rejected, held, failed]

log:
  level: info
  format: text                  # text | json
`
}
