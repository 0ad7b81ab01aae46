package fhe

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"shieldtrade/internal/wallet"
)

var (
	ErrUnknownHandle     = errors.New("unknown ciphertext handle")
	ErrNotAllowed        = errors.New("user is not allowed to decrypt handle")
	ErrUnknownKeypair    = errors.New("unknown decryption keypair")
	ErrExpiredRequest    = errors.New("decryption request outside validity window")
	ErrInvalidInputProof = errors.New("invalid input proof")
)

type mockCiphertext struct {
	value    uint32
	contract common.Address
	user     common.Address
}

// MockInstance keeps plaintexts in memory and enforces the same access
// rules as the real gateway: handles are bound to (contract, user) and a
// decryption needs a valid EIP-712 signature over a live window.
type MockInstance struct {
	GatewayChainID int64
	Verifier       common.Address
	Now            func() time.Time

	mu          sync.Mutex
	nonce       uint64
	ciphertexts map[common.Hash]mockCiphertext
	keypairs    map[string]string
}

func NewMockInstance(gatewayChainID int64, verifier common.Address) *MockInstance {
	return &MockInstance{
		GatewayChainID: gatewayChainID,
		Verifier:       verifier,
		ciphertexts:    make(map[common.Hash]mockCiphertext),
		keypairs:       make(map[string]string),
	}
}

func (m *MockInstance) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

func (m *MockInstance) GenerateKeypair() (Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("generate keypair: %w", err)
	}
	kp := Keypair{
		PublicKey:  hexutil.Encode(crypto.FromECDSAPub(&key.PublicKey)),
		PrivateKey: hexutil.Encode(crypto.FromECDSA(key)),
	}
	m.mu.Lock()
	m.keypairs[kp.PublicKey] = kp.PrivateKey
	m.mu.Unlock()
	return kp, nil
}

func (m *MockInstance) CreateEIP712(publicKey string, contracts []common.Address, startTimestamp, durationDays int64) apitypes.TypedData {
	return UserDecryptTypedData(m.GatewayChainID, m.Verifier, publicKey, contracts, startTimestamp, durationDays)
}

func (m *MockInstance) CreateEncryptedInput(contract, user common.Address) InputBuilder {
	return &mockInput{owner: m, contract: contract, user: user}
}

type mockInput struct {
	owner    *MockInstance
	contract common.Address
	user     common.Address
	values   []uint32
}

func (in *mockInput) Add32(v uint32) InputBuilder {
	in.values = append(in.values, v)
	return in
}

func (in *mockInput) Encrypt(ctx context.Context) (EncryptedInput, error) {
	if err := ctx.Err(); err != nil {
		return EncryptedInput{}, err
	}
	if len(in.values) == 0 {
		return EncryptedInput{}, errors.New("encrypted input is empty")
	}

	m := in.owner
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nonce++
	var nonce [8]byte
	binary.BigEndian.PutUint64(nonce[:], m.nonce)

	out := EncryptedInput{Handles: make([]common.Hash, len(in.values))}
	for i, v := range in.values {
		h := crypto.Keccak256Hash(in.contract.Bytes(), in.user.Bytes(), nonce[:], []byte{byte(i)})
		m.ciphertexts[h] = mockCiphertext{value: v, contract: in.contract, user: in.user}
		out.Handles[i] = h
	}
	out.InputProof = inputProof(out.Handles, in.contract, in.user)
	return out, nil
}

// VerifyInputProof checks a proof produced by Encrypt for the same handles,
// contract and user.
func (m *MockInstance) VerifyInputProof(handles []common.Hash, proof []byte, contract, user common.Address) error {
	if !bytes.Equal(proof, inputProof(handles, contract, user)) {
		return ErrInvalidInputProof
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range handles {
		if _, ok := m.ciphertexts[h]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownHandle, h.Hex())
		}
	}
	return nil
}

func (m *MockInstance) UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[common.Hash]*big.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(req.Handles) == 0 {
		return nil, errors.New("no handles to decrypt")
	}

	m.mu.Lock()
	priv, ok := m.keypairs[req.PublicKey]
	m.mu.Unlock()
	if !ok || priv != req.PrivateKey {
		return nil, ErrUnknownKeypair
	}

	now := m.now().Unix()
	if now < req.StartTimestamp || now >= req.StartTimestamp+req.DurationDays*86400 {
		return nil, ErrExpiredRequest
	}

	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", wallet.ErrInvalidSignature, err)
	}
	typed := m.CreateEIP712(req.PublicKey, req.ContractAddresses, req.StartTimestamp, req.DurationDays)
	signer, err := wallet.RecoverTypedDataSigner(typed, sig)
	if err != nil {
		return nil, err
	}
	if signer != req.UserAddress {
		return nil, fmt.Errorf("%w: signed by %s", wallet.ErrInvalidSignature, signer.Hex())
	}

	authorized := make(map[common.Address]bool, len(req.ContractAddresses))
	for _, c := range req.ContractAddresses {
		authorized[c] = true
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[common.Hash]*big.Int, len(req.Handles))
	for _, p := range req.Handles {
		ct, ok := m.ciphertexts[p.Handle]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownHandle, p.Handle.Hex())
		}
		if !authorized[p.ContractAddress] || ct.contract != p.ContractAddress || ct.user != req.UserAddress {
			return nil, fmt.Errorf("%w: %s", ErrNotAllowed, p.Handle.Hex())
		}
		out[p.Handle] = new(big.Int).SetUint64(uint64(ct.value))
	}
	return out, nil
}

func inputProof(handles []common.Hash, contract, user common.Address) []byte {
	parts := make([][]byte, 0, len(handles)+2)
	for _, h := range handles {
		parts = append(parts, h.Bytes())
	}
	parts = append(parts, contract.Bytes(), user.Bytes())
	return crypto.Keccak256(parts...)
}
