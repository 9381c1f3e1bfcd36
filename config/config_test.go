package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 300, cfg.ApprovalTTLSeconds)
	assert.Equal(t, 15, cfg.RPCRequestTimeoutSeconds)
	assert.Equal(t, 2, cfg.RPCMaxAttempts)
	assert.Equal(t, 300, cfg.RPCBackoffBaseMillis)
	assert.Equal(t, 2, cfg.PrepareConcurrency)
	assert.Equal(t, 3600, cfg.CleanupIntervalSeconds)
	assert.Equal(t, 86400, cfg.RetentionPeriodSeconds)
	assert.Equal(t, 100, cfg.ResumptionSweepPageSize)
	assert.Equal(t, "eip155:1", cfg.DefaultChain)
	assert.NotNil(t, cfg.ChainConfigs)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.ApprovalTTLSeconds = 60
	cfg.DefaultChain = "eip155:137"
	cfg.ChainConfigs["eip155:137"] = ChainSpecificConfig{
		RPCEndpoints: []EndpointConfig{
			{URL: "https://polygon.example"},
			{URL: "https://polygon-backup.example", Headers: map[string]string{"X-Key": "k"}},
		},
	}
	require.NoError(t, Save(cfg, dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 60, loaded.ApprovalTTLSeconds)
	assert.Equal(t, "eip155:137", loaded.DefaultChain)

	cc := loaded.GetChainConfig("eip155:137")
	require.NotNil(t, cc)
	require.Len(t, cc.RPCEndpoints, 2)
	assert.Equal(t, "https://polygon.example", cc.RPCEndpoints[0].URL)
	assert.Equal(t, "k", cc.RPCEndpoints[1].Headers["X-Key"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.Error(t, err)
}

func TestGetChainConfigUnknownChain(t *testing.T) {
	cfg := DefaultConfig()
	assert.Nil(t, cfg.GetChainConfig("eip155:424242"))
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogLevel = 9
	assert.Error(t, Save(cfg, t.TempDir()))
}
