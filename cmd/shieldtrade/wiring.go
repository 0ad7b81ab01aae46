package main

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shieldtrade/internal/binding"
	"shieldtrade/internal/chain"
	"shieldtrade/internal/config"
	"shieldtrade/internal/fhe"
	"shieldtrade/internal/kvstore"
	"shieldtrade/internal/offer"
	"shieldtrade/internal/wallet"
)

const (
	devChainID  uint64 = 31337
	devContract        = "0x5FbDB2315678afecb367f032d93F642f64180aa3"
)

type storeHandle struct {
	store kvstore.Store
	ping  func(context.Context) error
	close func()
}

func openStore(ctx context.Context, cfg config.StoreConfig) (*storeHandle, error) {
	switch cfg.Kind {
	case config.StoreFile:
		fs, err := kvstore.NewFileStore(cfg.Path)
		if err != nil {
			return nil, err
		}
		return &storeHandle{store: fs, close: func() {}}, nil
	case config.StorePostgres:
		pg, err := kvstore.NewPostgresStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &storeHandle{store: pg, ping: pg.Ping, close: pg.Close}, nil
	case config.StoreRedis:
		rs, err := kvstore.NewRedisStore(ctx, kvstore.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &storeHandle{store: rs, ping: rs.Ping, close: func() { _ = rs.Close() }}, nil
	default:
		return &storeHandle{store: kvstore.NewMemoryStore(), close: func() {}}, nil
	}
}

// chainHandle is everything the session needs from the active network.
type chainHandle struct {
	chainID     uint64
	deployments binding.Table
	reader      chain.OfferReader
	account     offer.Account
	fhe         fhe.Instance
	ping        func(context.Context) error
	close       func()
}

func openChain(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (*chainHandle, error) {
	if cfg.Chain.DevMode() {
		return openDevChain(cfg, log)
	}

	signer, err := wallet.ParseKeySigner(cfg.Chain.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("chain private key: %w", err)
	}
	client, rpc, err := chain.NewEthClient(ctx, chain.EthClientConfig{
		RPCURL:       cfg.Chain.RPCURL,
		Signer:       signer,
		PollInterval: cfg.Chain.ReceiptPoll,
	})
	if err != nil {
		return nil, fmt.Errorf("chain client: %w", err)
	}

	log.Info("connected to chain",
		zap.String("rpc", cfg.Chain.RPCURL),
		zap.Uint64("chain_id", client.ChainID().Uint64()),
		zap.String("account", signer.Address().Hex()),
	)
	// No FHEVM SDK is available in-process for a live network, so decrypt
	// and setOffer report not ready; refresh still works.
	log.Warn("FHEVM instance unavailable on live network; decrypt and setOffer disabled")

	return &chainHandle{
		chainID:     client.ChainID().Uint64(),
		deployments: cfg.Deployments,
		reader:      client.Reader(),
		account:     offer.NewAccount(signer, client),
		ping:        client.Ping,
		close:       rpc.Close,
	}, nil
}

// openDevChain runs against an in-memory ledger and mock FHEVM with a
// throwaway account.
func openDevChain(cfg *config.AppConfig, log *zap.Logger) (*chainHandle, error) {
	deployments := make(binding.Table, len(cfg.Deployments)+1)
	for id, entry := range cfg.Deployments {
		deployments[id] = entry
	}
	entry, ok := deployments[devChainID]
	if !ok || !common.IsHexAddress(entry.Address) || common.HexToAddress(entry.Address) == (common.Address{}) {
		entry = binding.Entry{Address: devContract, ChainID: devChainID, ChainName: "hardhat"}
		deployments[devChainID] = entry
	}
	contract := common.HexToAddress(entry.Address)

	mock := fhe.NewMockInstance(cfg.Decryption.GatewayChainID, cfg.Decryption.VerifierAddress)
	ledger := chain.NewFakeLedger(mock, contract)

	signer, err := wallet.GenerateKeySigner()
	if err != nil {
		return nil, err
	}
	conn := ledger.As(signer.Address())

	log.Info("development mode: in-memory ledger and mock FHEVM",
		zap.String("contract", contract.Hex()),
		zap.String("account", signer.Address().Hex()),
	)

	return &chainHandle{
		chainID:     devChainID,
		deployments: deployments,
		reader:      ledger.Reader(),
		account:     offer.NewAccount(signer, conn),
		fhe:         mock,
		ping:        conn.Ping,
		close:       func() {},
	}, nil
}
