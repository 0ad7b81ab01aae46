package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"shieldtrade/internal/binding"
)

// Authorization store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// AppConfig ties together deployments and environment derived values.
type AppConfig struct {
	Stage       string
	Deployments binding.Table
	Service     ServiceConfig
	Chain       ChainConfig
	Store       StoreConfig
	Decryption  DecryptionConfig
}

type ServiceConfig struct {
	HTTPPort      int
	HMACSecret    string
	HMACClockSkew time.Duration
	RepaintDelay  time.Duration
}

type ChainConfig struct {
	RPCURL      string
	PrivateKey  string
	ReceiptPoll time.Duration
}

// DevMode reports whether no signing key is configured, in which case the
// binary runs against an in-memory ledger.
func (c ChainConfig) DevMode() bool {
	return c.PrivateKey == ""
}

type StoreConfig struct {
	Kind          string
	Path          string
	PostgresDSN   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type DecryptionConfig struct {
	DurationDays    int64
	VerifierAddress common.Address
	GatewayChainID  int64
}

const (
	defaultDeploymentsPath = "deployments.json"
	defaultVerifier        = "0xb6E02A0b1C9E5B1c2E05f14E3D8aF01cE1d46fD1"
	defaultGatewayChainID  = 55815
)

// Load aggregates configuration from an optional .env file, the environment
// and deployments.json.
func Load() (*AppConfig, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	deployments, err := LoadDeployments(envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath))
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:      envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:    envOr("HMAC_SECRET", ""),
		HMACClockSkew: time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		RepaintDelay:  time.Duration(envOrInt("REPAINT_DELAY_MS", 100)) * time.Millisecond,
	}

	chainCfg := ChainConfig{
		RPCURL:      envOr("CHAIN_RPC_URL", "http://127.0.0.1:8545"),
		PrivateKey:  envOr("CHAIN_PRIVATE_KEY", ""),
		ReceiptPoll: time.Duration(envOrInt("RECEIPT_POLL_MS", 2000)) * time.Millisecond,
	}

	storeCfg := StoreConfig{
		Kind:          strings.ToLower(envOr("AUTHZ_STORE", StoreMemory)),
		Path:          envOr("AUTHZ_STORE_PATH", filepath.Join(os.TempDir(), "shieldtrade-authz.json")),
		PostgresDSN:   envOr("POSTGRES_DSN", ""),
		RedisAddr:     envOr("REDIS_ADDR", ""),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envOrInt("REDIS_DB", 0),
	}
	if err := storeCfg.validate(); err != nil {
		return nil, err
	}

	verifier := envOr("DECRYPTION_VERIFIER_ADDRESS", defaultVerifier)
	if !common.IsHexAddress(verifier) {
		return nil, fmt.Errorf("DECRYPTION_VERIFIER_ADDRESS %q is not an address", verifier)
	}
	decryptionCfg := DecryptionConfig{
		DurationDays:    int64(envOrInt("DECRYPTION_DURATION_DAYS", 365)),
		VerifierAddress: common.HexToAddress(verifier),
		GatewayChainID:  int64(envOrInt("GATEWAY_CHAIN_ID", defaultGatewayChainID)),
	}
	if decryptionCfg.DurationDays <= 0 {
		return nil, errors.New("DECRYPTION_DURATION_DAYS must be positive")
	}

	return &AppConfig{
		Stage:       envOr("STAGE", "dev"),
		Deployments: deployments,
		Service:     serviceCfg,
		Chain:       chainCfg,
		Store:       storeCfg,
		Decryption:  decryptionCfg,
	}, nil
}

func (s StoreConfig) validate() error {
	switch s.Kind {
	case StoreMemory, StoreFile:
		return nil
	case StorePostgres:
		if s.PostgresDSN == "" {
			return errors.New("AUTHZ_STORE=postgres requires POSTGRES_DSN")
		}
		return nil
	case StoreRedis:
		if s.RedisAddr == "" {
			return errors.New("AUTHZ_STORE=redis requires REDIS_ADDR")
		}
		return nil
	default:
		return fmt.Errorf("unknown AUTHZ_STORE %q", s.Kind)
	}
}

// LoadDeployments reads deployments.json, keyed by decimal chain id. A
// missing file yields an empty table.
func LoadDeployments(path string) (binding.Table, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return binding.Table{}, nil
	}
	if err != nil {
		return nil, err
	}
	var table binding.Table
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, err
	}
	if table == nil {
		table = binding.Table{}
	}
	return table, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}
