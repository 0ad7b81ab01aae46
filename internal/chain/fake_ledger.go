package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var ErrNoContract = errors.New("no contract code at address")

// ProofVerifier validates the input proof attached to setOffer.
type ProofVerifier interface {
	VerifyInputProof(handles []common.Hash, proof []byte, contract, user common.Address) error
}

type fakeOffer struct {
	pay, recv common.Hash
}

// FakeLedger is an in-memory ShieldTrade: each sender sees only its own
// offer, and unset offers read as zero handles.
type FakeLedger struct {
	mu       sync.Mutex
	deployed map[common.Address]bool
	offers   map[common.Address]map[common.Address]fakeOffer
	receipts map[common.Hash]*types.Receipt
	blockNum uint64
	verifier ProofVerifier
}

func NewFakeLedger(verifier ProofVerifier, deployed ...common.Address) *FakeLedger {
	l := &FakeLedger{
		deployed: make(map[common.Address]bool),
		offers:   make(map[common.Address]map[common.Address]fakeOffer),
		receipts: make(map[common.Hash]*types.Receipt),
		verifier: verifier,
	}
	for _, addr := range deployed {
		l.Deploy(addr)
	}
	return l
}

func (l *FakeLedger) Deploy(contract common.Address) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deployed[contract] = true
	l.offers[contract] = make(map[common.Address]fakeOffer)
}

// As returns a connection that calls and transacts as sender.
func (l *FakeLedger) As(sender common.Address) *FakeConn {
	return &FakeConn{ledger: l, sender: sender}
}

// Reader returns a connection calling from the zero address.
func (l *FakeLedger) Reader() *FakeConn {
	return &FakeConn{ledger: l}
}

func (l *FakeLedger) getOffer(contract, sender common.Address) (common.Hash, common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.deployed[contract] {
		return common.Hash{}, common.Hash{}, fmt.Errorf("%w %s", ErrNoContract, contract.Hex())
	}
	o := l.offers[contract][sender]
	return o.pay, o.recv, nil
}

func (l *FakeLedger) setOffer(contract, sender common.Address, pay, recv common.Hash, proof []byte) (*fakePendingTx, error) {
	if l.verifier != nil {
		if err := l.verifier.VerifyInputProof([]common.Hash{pay, recv}, proof, contract, sender); err != nil {
			return nil, fmt.Errorf("setOffer reverted: %w", err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.deployed[contract] {
		return nil, fmt.Errorf("%w %s", ErrNoContract, contract.Hex())
	}
	l.offers[contract][sender] = fakeOffer{pay: pay, recv: recv}
	l.blockNum++

	var n [8]byte
	binary.BigEndian.PutUint64(n[:], l.blockNum)
	hash := crypto.Keccak256Hash(contract.Bytes(), sender.Bytes(), n[:])
	receipt := &types.Receipt{
		Status:      types.ReceiptStatusSuccessful,
		TxHash:      hash,
		BlockNumber: new(big.Int).SetUint64(l.blockNum),
	}
	l.receipts[hash] = receipt
	return &fakePendingTx{hash: hash, receipt: receipt}, nil
}

// FakeConn is one caller's view of a FakeLedger.
type FakeConn struct {
	ledger *FakeLedger
	sender common.Address
}

func (c *FakeConn) GetMyOffer(ctx context.Context, contract common.Address) (common.Hash, common.Hash, error) {
	if err := ctx.Err(); err != nil {
		return common.Hash{}, common.Hash{}, err
	}
	return c.ledger.getOffer(contract, c.sender)
}

func (c *FakeConn) SetOffer(ctx context.Context, contract common.Address, pay, recv common.Hash, inputProof []byte) (PendingTx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.sender == (common.Address{}) {
		return nil, ErrReadOnly
	}
	return c.ledger.setOffer(contract, c.sender, pay, recv, inputProof)
}

func (c *FakeConn) Ping(ctx context.Context) error {
	return ctx.Err()
}

type fakePendingTx struct {
	hash    common.Hash
	receipt *types.Receipt
}

func (p *fakePendingTx) Hash() common.Hash { return p.hash }

func (p *fakePendingTx) Wait(ctx context.Context) (*types.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.receipt, nil
}
