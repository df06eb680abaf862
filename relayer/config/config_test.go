package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapfed/tapfed-node/tapfed/threshold"
)

func TestLoad(t *testing.T) {
	t.Run("creates defaults when missing", func(t *testing.T) {
		home := t.TempDir()

		cfg, err := Load(home)
		require.NoError(t, err)
		assert.FileExists(t, filepath.Join(home, "config", "tapfed_config.json"))

		assert.Equal(t, 8080, cfg.QueryServerPort)
		assert.Equal(t, 5, cfg.EventPollingIntervalSeconds)
		assert.Equal(t, int64(1)<<32, cfg.DlogBound)
		require.NotEmpty(t, cfg.ChainPairs)
		assert.Equal(t, uint64(5), cfg.ChainPairs[0].Source.ConfirmationDepth)
		assert.Equal(t, uint64(800000), cfg.ChainPairs[0].Destination.GasLimit)
	})

	t.Run("roundtrips through save", func(t *testing.T) {
		home := t.TempDir()
		cfg, err := Load(home)
		require.NoError(t, err)

		cfg.QueryServerPort = 9999
		require.NoError(t, Save(cfg, home))

		reloaded, err := Load(home)
		require.NoError(t, err)
		assert.Equal(t, 9999, reloaded.QueryServerPort)
	})

	t.Run("rejects malformed file", func(t *testing.T) {
		home := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(home, "config"), 0o750))
		require.NoError(t, os.WriteFile(filepath.Join(home, "config", "tapfed_config.json"), []byte("{"), 0o640))

		_, err := Load(home)
		assert.Error(t, err)
	})
}

func TestValidateConfig(t *testing.T) {
	valid := func() *Config {
		return &Config{
			ChainPairs: []ChainPairConfig{{
				Source: ChainEndpointConfig{
					ChainID:            "chainA",
					RPCURL:             "http://localhost:8545",
					RegistryAddress:    "0x5FbDB2315678afecb367f032d93F642f64180aa3",
					CipherStoreAddress: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
				},
				Destination: ChainEndpointConfig{
					ChainID:            "chainB",
					RPCURL:             "http://localhost:9545",
					RegistryAddress:    "0x5FbDB2315678afecb367f032d93F642f64180aa3",
					CipherStoreAddress: "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512",
				},
			}},
		}
	}

	t.Run("fills defaults", func(t *testing.T) {
		cfg := valid()
		require.NoError(t, validateConfig(cfg))
		assert.Equal(t, "console", cfg.LogFormat)
		assert.Equal(t, 3, cfg.MaxRetries)
		assert.Equal(t, "chainA-chainB", cfg.ChainPairs[0].Name)
	})

	t.Run("rejects malformed contract address", func(t *testing.T) {
		cfg := valid()
		cfg.ChainPairs[0].Source.RegistryAddress = "not-an-address"
		assert.ErrorContains(t, validateConfig(cfg), "malformed registry address")
	})

	t.Run("rejects missing rpc url", func(t *testing.T) {
		cfg := valid()
		cfg.ChainPairs[0].Destination.RPCURL = ""
		assert.ErrorContains(t, validateConfig(cfg), "rpc_url is required")
	})

	t.Run("rejects duplicate pair names", func(t *testing.T) {
		cfg := valid()
		cfg.ChainPairs = append(cfg.ChainPairs, cfg.ChainPairs[0])
		assert.ErrorContains(t, validateConfig(cfg), "duplicate chain pair name")
	})

	t.Run("rejects shared destination chain", func(t *testing.T) {
		cfg := valid()
		second := cfg.ChainPairs[0]
		second.Source.ChainID = "chainC"
		cfg.ChainPairs = append(cfg.ChainPairs, second)
		assert.ErrorContains(t, validateConfig(cfg), "share destination chain")
	})

	t.Run("rejects oversized dlog bound", func(t *testing.T) {
		cfg := valid()
		cfg.DlogBound = threshold.MaxBound + 1
		assert.ErrorContains(t, validateConfig(cfg), "dlog_bound")
	})

	t.Run("rejects bad threshold", func(t *testing.T) {
		cfg := valid()
		cfg.Threshold = ThresholdConfig{T: 6, N: 5}
		assert.ErrorContains(t, validateConfig(cfg), "threshold")
	})

	t.Run("rejects bad log format", func(t *testing.T) {
		cfg := valid()
		cfg.LogFormat = "xml"
		assert.Error(t, validateConfig(cfg))
	})
}
