package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/tapfed/tapfed-node/tapfed/threshold"
)

const (
	configSubdir   = "config"
	configFileName = "tapfed_config.json"

	// EnvRelayerKey holds the hex-encoded destination signing key.
	EnvRelayerKey = "TAPFED_RELAYER_KEY"
)

//go:embed default_config.json
var defaultConfigJSON []byte

// validateConfig checks the configuration and fills in defaults. Malformed
// contract addresses and missing endpoints are rejected here, before any
// mirroring begins.
func validateConfig(cfg *Config) error {
	if cfg.LogLevel < -1 || cfg.LogLevel > 5 {
		return fmt.Errorf("log level must be between -1 and 5")
	}

	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return fmt.Errorf("log format must be 'json' or 'console'")
	}

	if cfg.QueryServerPort == 0 {
		cfg.QueryServerPort = 8080
	}
	if cfg.EventPollingIntervalSeconds == 0 {
		cfg.EventPollingIntervalSeconds = 5
	}
	if cfg.ConfirmationTimeoutSeconds == 0 {
		cfg.ConfirmationTimeoutSeconds = 120
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoffSeconds == 0 {
		cfg.RetryBackoffSeconds = 1
	}
	if cfg.MaxRetryBackoffSeconds == 0 {
		cfg.MaxRetryBackoffSeconds = 30
	}
	if cfg.DlogBound == 0 {
		cfg.DlogBound = 1 << 32
	}
	if cfg.DlogBound < 0 || cfg.DlogBound > threshold.MaxBound {
		return fmt.Errorf("dlog_bound must be between 1 and %d", threshold.MaxBound)
	}

	if cfg.Threshold.T != 0 || cfg.Threshold.N != 0 {
		if cfg.Threshold.T < 1 || cfg.Threshold.T > cfg.Threshold.N {
			return fmt.Errorf("threshold: t must satisfy 1 <= t <= n, got t=%d n=%d",
				cfg.Threshold.T, cfg.Threshold.N)
		}
	}

	if len(cfg.ChainPairs) == 0 {
		var defaultCfg Config
		if err := json.Unmarshal(defaultConfigJSON, &defaultCfg); err == nil {
			cfg.ChainPairs = defaultCfg.ChainPairs
		}
	}

	seen := make(map[string]bool)
	destSeen := make(map[string]string)
	for i := range cfg.ChainPairs {
		pair := &cfg.ChainPairs[i]
		if pair.Name == "" {
			pair.Name = fmt.Sprintf("%s-%s", pair.Source.ChainID, pair.Destination.ChainID)
		}
		if seen[pair.Name] {
			return fmt.Errorf("duplicate chain pair name %q", pair.Name)
		}
		seen[pair.Name] = true

		// Every pair signs with the same relayer key, so two pipelines on
		// one destination chain would race the account nonce.
		if prev, ok := destSeen[pair.Destination.ChainID]; ok {
			return fmt.Errorf("pairs %q and %q share destination chain %q; each destination chain must belong to exactly one pair",
				prev, pair.Name, pair.Destination.ChainID)
		}
		destSeen[pair.Destination.ChainID] = pair.Name

		if err := validateEndpoint(&pair.Source, true); err != nil {
			return fmt.Errorf("pair %q source: %w", pair.Name, err)
		}
		if err := validateEndpoint(&pair.Destination, false); err != nil {
			return fmt.Errorf("pair %q destination: %w", pair.Name, err)
		}
	}

	return nil
}

func validateEndpoint(ep *ChainEndpointConfig, isSource bool) error {
	if ep.ChainID == "" {
		return fmt.Errorf("chain_id is required")
	}
	if ep.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if !ethcommon.IsHexAddress(ep.RegistryAddress) {
		return fmt.Errorf("malformed registry address %q", ep.RegistryAddress)
	}
	if !ethcommon.IsHexAddress(ep.CipherStoreAddress) {
		return fmt.Errorf("malformed cipher store address %q", ep.CipherStoreAddress)
	}
	if isSource {
		if ep.ConfirmationDepth == 0 {
			ep.ConfirmationDepth = 5
		}
		if ep.BlockBatchSize == 0 {
			ep.BlockBatchSize = 10000
		}
	} else if ep.GasLimit == 0 {
		ep.GasLimit = 800000
	}
	return nil
}

// Load reads the config from <basePath>/config/tapfed_config.json,
// creating it from the embedded defaults if it does not exist.
func Load(basePath string) (*Config, error) {
	path := filepath.Join(basePath, configSubdir, configFileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		var cfg Config
		if err := json.Unmarshal(defaultConfigJSON, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse embedded default config: %w", err)
		}
		if err := Save(&cfg, basePath); err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Save writes the config to <basePath>/config/tapfed_config.json.
func Save(cfg *Config, basePath string) error {
	if err := validateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	configDir := filepath.Join(basePath, configSubdir)
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := filepath.Join(configDir, configFileName)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// RelayerKeyFromEnv returns the hex signing key for destination
// transactions, or an empty string when unset.
func RelayerKeyFromEnv() string {
	return os.Getenv(EnvRelayerKey)
}
