package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldtrade/internal/contracts"
	"shieldtrade/internal/wallet"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

// stubBackend answers eth_call with a packed getMyOffer result for the
// caller and records the sender of every call.
type stubBackend struct {
	Backend
	offers   map[common.Address][2]common.Hash
	lastFrom common.Address
	receipts []*types.Receipt
	polls    int
}

func (b *stubBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (b *stubBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.lastFrom = msg.From
	offer := b.offers[msg.From]
	return contracts.MustShieldTradeABI().Methods[contracts.MethodGetMyOffer].Outputs.Pack([32]byte(offer[0]), [32]byte(offer[1]))
}

func (b *stubBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	idx := b.polls
	b.polls++
	if idx < len(b.receipts) && b.receipts[idx] != nil {
		return b.receipts[idx], nil
	}
	return nil, ethereum.NotFound
}

func TestEthClientGetMyOfferCallsAsSigner(t *testing.T) {
	signer, err := wallet.GenerateKeySigner()
	require.NoError(t, err)
	pay := crypto.Keccak256Hash([]byte("pay"))
	recv := crypto.Keccak256Hash([]byte("recv"))

	backend := &stubBackend{offers: map[common.Address][2]common.Hash{signer.Address(): {pay, recv}}}
	client, err := NewEthClientWithBackend(backend, big.NewInt(31337), signer, time.Millisecond)
	require.NoError(t, err)

	gotPay, gotRecv, err := client.GetMyOffer(context.Background(), testContract)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), backend.lastFrom)
	assert.Equal(t, pay, gotPay)
	assert.Equal(t, recv, gotRecv)

	gotPay, gotRecv, err = client.Reader().GetMyOffer(context.Background(), testContract)
	require.NoError(t, err)
	assert.Equal(t, common.Address{}, backend.lastFrom)
	assert.Equal(t, common.Hash{}, gotPay)
	assert.Equal(t, common.Hash{}, gotRecv)
}

func TestReaderCannotTransact(t *testing.T) {
	client, err := NewEthClientWithBackend(&stubBackend{}, big.NewInt(1), nil, time.Millisecond)
	require.NoError(t, err)
	_, err = client.SetOffer(context.Background(), testContract, common.Hash{1}, common.Hash{2}, nil)
	require.ErrorIs(t, err, ErrReadOnly)
}

func TestWaitForReceiptPolls(t *testing.T) {
	backend := &stubBackend{receipts: []*types.Receipt{nil, nil, {Status: types.ReceiptStatusSuccessful}}}
	receipt, err := WaitForReceipt(context.Background(), backend, common.Hash{1}, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	assert.Equal(t, 3, backend.polls)
}

func TestWaitForReceiptReverted(t *testing.T) {
	backend := &stubBackend{receipts: []*types.Receipt{{Status: types.ReceiptStatusFailed}}}
	_, err := WaitForReceipt(context.Background(), backend, common.Hash{1}, time.Millisecond)
	require.ErrorIs(t, err, ErrReverted)
}

func TestWaitForReceiptHonoursContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := WaitForReceipt(ctx, &stubBackend{}, common.Hash{1}, time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFakeLedgerScopesOffersBySender(t *testing.T) {
	ctx := context.Background()
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")
	ledger := NewFakeLedger(nil, testContract)

	pay, recv, err := ledger.As(alice).GetMyOffer(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, pay)
	assert.Equal(t, common.Hash{}, recv)

	tx, err := ledger.As(alice).SetOffer(ctx, testContract, common.Hash{1}, common.Hash{2}, nil)
	require.NoError(t, err)
	receipt, err := tx.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash(), receipt.TxHash)

	pay, _, err = ledger.As(alice).GetMyOffer(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{1}, pay)

	pay, _, err = ledger.As(bob).GetMyOffer(ctx, testContract)
	require.NoError(t, err)
	assert.Equal(t, common.Hash{}, pay)

	_, _, err = ledger.Reader().GetMyOffer(ctx, common.HexToAddress("0xdead"))
	require.ErrorIs(t, err, ErrNoContract)

	_, err = ledger.Reader().SetOffer(ctx, testContract, common.Hash{1}, common.Hash{2}, nil)
	require.ErrorIs(t, err, ErrReadOnly)
}

type rpcCodeErr struct{ code int }

func (e rpcCodeErr) Error() string  { return fmt.Sprintf("rpc error %d", e.code) }
func (e rpcCodeErr) ErrorCode() int { return e.code }

func TestIsTransportError(t *testing.T) {
	assert.False(t, IsTransportError(nil))
	assert.False(t, IsTransportError(errors.New("execution reverted")))
	assert.False(t, IsTransportError(rpcCodeErr{code: -32000}))

	assert.True(t, IsTransportError(fmt.Errorf("setOffer tx: %w", rpcCodeErr{code: -32603})))
	assert.True(t, IsTransportError(fmt.Errorf("dial: %w", syscall.ECONNREFUSED)))
	assert.True(t, IsTransportError(&net.OpError{Op: "dial", Err: errors.New("boom")}))
	assert.True(t, IsTransportError(errors.New("TypeError: Failed to fetch")))
	assert.True(t, IsTransportError(errors.New(`{"code": -32603, "message": "Internal JSON-RPC error."}`)))
}
