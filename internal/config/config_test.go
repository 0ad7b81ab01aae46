package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const deploymentsJSON = `{
  "31337": {"address": "0x5FbDB2315678afecb367f032d93F642f64180aa3", "chainId": 31337, "chainName": "hardhat"},
  "11155111": {"address": "0x0000000000000000000000000000000000000000", "chainId": 11155111, "chainName": "sepolia"}
}`

func writeDeployments(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "deployments.json")
	require.NoError(t, os.WriteFile(path, []byte(deploymentsJSON), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEPLOYMENTS_PATH", writeDeployments(t))
	t.Setenv("CHAIN_PRIVATE_KEY", "")
	t.Setenv("AUTHZ_STORE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Service.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Service.HMACClockSkew)
	assert.Equal(t, 100*time.Millisecond, cfg.Service.RepaintDelay)
	assert.Equal(t, 2*time.Second, cfg.Chain.ReceiptPoll)
	assert.True(t, cfg.Chain.DevMode())
	assert.Equal(t, StoreMemory, cfg.Store.Kind)
	assert.EqualValues(t, 365, cfg.Decryption.DurationDays)
	assert.EqualValues(t, 55815, cfg.Decryption.GatewayChainID)

	require.Len(t, cfg.Deployments, 2)
	assert.Equal(t, "hardhat", cfg.Deployments[31337].ChainName)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		common.HexToAddress(cfg.Deployments[31337].Address))
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DEPLOYMENTS_PATH", writeDeployments(t))
	t.Setenv("API_HTTP_PORT", "8088")
	t.Setenv("CHAIN_PRIVATE_KEY", "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	t.Setenv("AUTHZ_STORE", "Redis")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("DECRYPTION_DURATION_DAYS", "7")
	t.Setenv("REPAINT_DELAY_MS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8088, cfg.Service.HTTPPort)
	assert.False(t, cfg.Chain.DevMode())
	assert.Equal(t, StoreRedis, cfg.Store.Kind)
	assert.Equal(t, 2, cfg.Store.RedisDB)
	assert.EqualValues(t, 7, cfg.Decryption.DurationDays)
	assert.Zero(t, cfg.Service.RepaintDelay)
}

func TestLoadRejectsIncompleteStore(t *testing.T) {
	t.Setenv("DEPLOYMENTS_PATH", writeDeployments(t))
	t.Setenv("AUTHZ_STORE", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("AUTHZ_STORE", "badger")
	_, err = Load()
	require.Error(t, err)
}

func TestLoadDeploymentsMissingFile(t *testing.T) {
	table, err := LoadDeployments(filepath.Join(t.TempDir(), "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, table)
}

func TestLoadDeploymentsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"31337": [`), 0o600))
	_, err := LoadDeployments(path)
	require.Error(t, err)
}
