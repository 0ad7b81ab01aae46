// Package chain talks to the ShieldTrade contract.
package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// OfferReader queries the offer of whoever the connection calls as.
type OfferReader interface {
	GetMyOffer(ctx context.Context, contract common.Address) (pay, recv common.Hash, err error)
}

// OfferWriter submits setOffer transactions.
type OfferWriter interface {
	SetOffer(ctx context.Context, contract common.Address, pay, recv common.Hash, inputProof []byte) (PendingTx, error)
}

type ReadWriter interface {
	OfferReader
	OfferWriter
}

// PendingTx is a submitted transaction awaiting inclusion.
type PendingTx interface {
	Hash() common.Hash
	Wait(ctx context.Context) (*types.Receipt, error)
}

// HealthChecker is implemented by connections that can probe their RPC.
type HealthChecker interface {
	Ping(ctx context.Context) error
}
