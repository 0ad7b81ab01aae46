// Package binding resolves the ShieldTrade deployment for the active network.
package binding

import (
	"fmt"
	"strconv"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shieldtrade/internal/contracts"
)

// Entry is one row of deployments.json.
type Entry struct {
	Address   string `json:"address"`
	ChainID   uint64 `json:"chainId"`
	ChainName string `json:"chainName"`
}

// Table maps a chain id to its deployment.
type Table map[uint64]Entry

// Binding describes how to reach the contract on one network. A nil Address
// means the contract is not deployed there.
type Binding struct {
	Address   *common.Address
	ChainID   *uint64
	ChainName string
	ABI       abi.ABI
}

// Deployed reports whether the binding carries a usable address.
func (b Binding) Deployed() bool {
	return b.Address != nil && *b.Address != (common.Address{})
}

// Same reports whether both bindings point at the same contract on the same chain.
func (b Binding) Same(other Binding) bool {
	if !sameChain(b.ChainID, other.ChainID) {
		return false
	}
	if b.Address == nil || other.Address == nil {
		return b.Address == nil && other.Address == nil
	}
	return *b.Address == *other.Address
}

// NotDeployedMessage is the user-facing diagnostic for an undeployed binding.
func (b Binding) NotDeployedMessage() string {
	id := "undefined"
	if b.ChainID != nil {
		id = strconv.FormatUint(*b.ChainID, 10)
	}
	return fmt.Sprintf("ShieldTrade deployment not found for chainId=%s.", id)
}

type Resolver struct {
	table  Table
	abi    abi.ABI
	logger *zap.Logger
}

func NewResolver(table Table, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if table == nil {
		table = Table{}
	}
	return &Resolver{
		table:  table,
		abi:    contracts.MustShieldTradeABI(),
		logger: logger,
	}
}

// Resolve returns the binding for chainID. A nil chainID yields an ABI-only
// binding; an unknown chain or a zero address yields a binding without address.
func (r *Resolver) Resolve(chainID *uint64) Binding {
	if chainID == nil {
		return Binding{ABI: r.abi}
	}
	id := *chainID

	entry, ok := r.table[id]
	if !ok || !common.IsHexAddress(entry.Address) || common.HexToAddress(entry.Address) == (common.Address{}) {
		b := Binding{ABI: r.abi, ChainID: &id}
		r.logger.Warn("shieldtrade not deployed", zap.Uint64("chain_id", id))
		return b
	}

	if entry.ChainID != 0 {
		id = entry.ChainID
	}
	addr := common.HexToAddress(entry.Address)
	return Binding{
		Address:   &addr,
		ChainID:   &id,
		ChainName: entry.ChainName,
		ABI:       r.abi,
	}
}

// ChainIDs lists the configured chains.
func (r *Resolver) ChainIDs() []uint64 {
	ids := make([]uint64, 0, len(r.table))
	for id := range r.table {
		ids = append(ids, id)
	}
	return ids
}

func sameChain(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
