// Package config loads and validates wallet-core configuration from a JSON
// file under <base>/config/walletcore_config.json.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const (
	configSubdir   = "config"
	configFileName = "walletcore_config.json"
)

// Config is the top-level wallet-core configuration.
type Config struct {
	// Log Config
	LogLevel   int    `json:"log_level"`   // e.g., 0 = debug, 1 = info, etc.
	LogFormat  string `json:"log_format"`  // "json" or "console"
	LogSampler bool   `json:"log_sampler"` // if true, samples logs (e.g., 1 in 5)

	// Data directory for the SQLite database.
	DataDir string `json:"data_dir"`

	// Approval Config
	ApprovalTTLSeconds int `json:"approval_ttl_seconds"` // Unanswered approvals expire after this (default: 300)

	// RPC transport Config
	RPCRequestTimeoutSeconds int `json:"rpc_request_timeout_seconds"` // Per-attempt timeout (default: 15)
	RPCMaxAttempts           int `json:"rpc_max_attempts"`            // Attempts per logical request (default: 2)
	RPCBackoffBaseMillis     int `json:"rpc_backoff_base_millis"`     // Exponential backoff base (default: 300)

	// Transaction preparation Config
	PrepareConcurrency int `json:"prepare_concurrency"` // Background draft preparation slots (default: 2)

	// Transaction history retention
	CleanupIntervalSeconds  int `json:"cleanup_interval_seconds"`  // How often the history cleaner runs (default: 3600)
	RetentionPeriodSeconds  int `json:"retention_period_seconds"`  // How long terminal transactions are kept (default: 86400)
	ResumptionSweepPageSize int `json:"resumption_sweep_page_size"` // Page size for the startup pending sweep (default: 100)

	// DefaultChain is the chain origins start on before any switch
	// (default: "eip155:1").
	DefaultChain string `json:"default_chain"`

	// Per-chain configuration keyed by chain reference (e.g. "eip155:1").
	ChainConfigs map[string]ChainSpecificConfig `json:"chain_configs"`
}

// ChainSpecificConfig holds per-chain settings.
type ChainSpecificConfig struct {
	// RPCEndpoints lists the JSON-RPC endpoints for this chain, in priority order.
	RPCEndpoints []EndpointConfig `json:"rpc_endpoints,omitempty"`
}

// EndpointConfig describes one JSON-RPC endpoint.
type EndpointConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

func validateConfig(cfg *Config) error {
	// Validate log level
	if cfg.LogLevel < 0 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between 0 and 5")
	}

	// Validate log format
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	// Set defaults for approvals
	if cfg.ApprovalTTLSeconds == 0 {
		cfg.ApprovalTTLSeconds = 300
	}

	// Set defaults for the RPC transport
	if cfg.RPCRequestTimeoutSeconds == 0 {
		cfg.RPCRequestTimeoutSeconds = 15
	}
	if cfg.RPCMaxAttempts == 0 {
		cfg.RPCMaxAttempts = 2
	}
	if cfg.RPCBackoffBaseMillis == 0 {
		cfg.RPCBackoffBaseMillis = 300
	}

	// Set defaults for transaction preparation
	if cfg.PrepareConcurrency == 0 {
		cfg.PrepareConcurrency = 2
	}

	// Set defaults for history retention
	if cfg.CleanupIntervalSeconds == 0 {
		cfg.CleanupIntervalSeconds = 3600
	}
	if cfg.RetentionPeriodSeconds == 0 {
		cfg.RetentionPeriodSeconds = 86400
	}
	if cfg.ResumptionSweepPageSize == 0 {
		cfg.ResumptionSweepPageSize = 100
	}

	if cfg.DefaultChain == "" {
		cfg.DefaultChain = "eip155:1"
	}

	if cfg.ChainConfigs == nil {
		cfg.ChainConfigs = make(map[string]ChainSpecificConfig)
	}
	for chain, cc := range cfg.ChainConfigs {
		for _, ep := range cc.RPCEndpoints {
			if ep.URL == "" {
				return fmt.Errorf("chain %s has an endpoint with an empty URL", chain)
			}
		}
	}

	return nil
}

// DefaultConfig returns a config with all defaults applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	_ = validateConfig(cfg)
	return cfg
}

// Save writes the given config to <basePath>/config/walletcore_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configFile := filepath.Join(configDir, configFileName)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Load reads and returns the config from <basePath>/config/walletcore_config.json.
func Load(basePath string) (Config, error) {
	configFile := filepath.Join(basePath, configSubdir, configFileName)
	data, err := os.ReadFile(filepath.Clean(configFile))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(&cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// GetChainConfig returns the configuration for a specific chain, or an empty
// config when none is present.
func (c *Config) GetChainConfig(chainRef string) *ChainSpecificConfig {
	if c.ChainConfigs != nil {
		if cc, ok := c.ChainConfigs[chainRef]; ok {
			return &cc
		}
	}
	return &ChainSpecificConfig{}
}
