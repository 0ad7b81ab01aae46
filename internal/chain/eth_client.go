package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"shieldtrade/internal/contracts"
	"shieldtrade/internal/wallet"
)

var ErrReadOnly = errors.New("client is read-only")

// Backend is the subset of ethclient.Client the contract client needs.
type Backend interface {
	bind.ContractCaller
	bind.ContractTransactor
	ReceiptFetcher
	BlockNumber(ctx context.Context) (uint64, error)
}

// EthClient reads and writes ShieldTrade over JSON-RPC. With a signer it
// calls and transacts as that account; without one it is a plain reader.
type EthClient struct {
	backend      Backend
	abi          abi.ABI
	chainID      *big.Int
	from         common.Address
	transacts    *bind.TransactOpts
	pollInterval time.Duration
}

type EthClientConfig struct {
	RPCURL       string
	Signer       *wallet.KeySigner
	PollInterval time.Duration
}

func NewEthClient(ctx context.Context, cfg EthClientConfig) (*EthClient, *ethclient.Client, error) {
	if cfg.RPCURL == "" {
		return nil, nil, fmt.Errorf("rpc url is required")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rpc: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, nil, fmt.Errorf("fetch chain id: %w", err)
	}

	c, err := NewEthClientWithBackend(cli, chainID, cfg.Signer, cfg.PollInterval)
	if err != nil {
		cli.Close()
		return nil, nil, err
	}
	return c, cli, nil
}

// NewEthClientWithBackend wires a client over an existing backend.
func NewEthClientWithBackend(backend Backend, chainID *big.Int, signer *wallet.KeySigner, pollInterval time.Duration) (*EthClient, error) {
	parsedABI, err := contracts.ParsedShieldTradeABI()
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}

	c := &EthClient{
		backend:      backend,
		abi:          parsedABI,
		chainID:      chainID,
		pollInterval: pollInterval,
	}
	if signer != nil {
		txOpts, err := signer.Transactor(chainID)
		if err != nil {
			return nil, err
		}
		txOpts.GasLimit = 0 // let node estimate
		txOpts.GasPrice = nil
		txOpts.Nonce = nil
		c.from = signer.Address()
		c.transacts = txOpts
	}
	return c, nil
}

// Reader returns a view of the client that calls without a sender.
func (c *EthClient) Reader() *EthClient {
	return &EthClient{
		backend:      c.backend,
		abi:          c.abi,
		chainID:      c.chainID,
		pollInterval: c.pollInterval,
	}
}

func (c *EthClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *EthClient) bound(contract common.Address) *bind.BoundContract {
	return bind.NewBoundContract(contract, c.abi, c.backend, c.backend, nil)
}

func (c *EthClient) GetMyOffer(ctx context.Context, contract common.Address) (common.Hash, common.Hash, error) {
	var out []interface{}
	opts := &bind.CallOpts{Context: ctx, From: c.from}
	if err := c.bound(contract).Call(opts, &out, contracts.MethodGetMyOffer); err != nil {
		return common.Hash{}, common.Hash{}, fmt.Errorf("call getMyOffer: %w", err)
	}
	if len(out) != 2 {
		return common.Hash{}, common.Hash{}, fmt.Errorf("getMyOffer: expected 2 outputs, got %d", len(out))
	}
	pay := *abi.ConvertType(out[0], new([32]byte)).(*[32]byte)
	recv := *abi.ConvertType(out[1], new([32]byte)).(*[32]byte)
	return common.Hash(pay), common.Hash(recv), nil
}

func (c *EthClient) SetOffer(ctx context.Context, contract common.Address, pay, recv common.Hash, inputProof []byte) (PendingTx, error) {
	if c.transacts == nil {
		return nil, ErrReadOnly
	}

	opts := *c.transacts
	opts.Context = ctx

	tx, err := c.bound(contract).Transact(&opts, contracts.MethodSetOffer, [32]byte(pay), [32]byte(recv), inputProof)
	if err != nil {
		return nil, fmt.Errorf("setOffer tx: %w", err)
	}
	return &ethPendingTx{tx: tx, receipts: c.backend, interval: c.pollInterval}, nil
}

func (c *EthClient) Ping(ctx context.Context) error {
	if c.backend == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.backend.BlockNumber(ctx)
	return err
}

type ethPendingTx struct {
	tx       *types.Transaction
	receipts ReceiptFetcher
	interval time.Duration
}

func (p *ethPendingTx) Hash() common.Hash { return p.tx.Hash() }

func (p *ethPendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	return WaitForReceipt(ctx, p.receipts, p.tx.Hash(), p.interval)
}
