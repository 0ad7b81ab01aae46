package authz

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shieldtrade/internal/fhe"
	"shieldtrade/internal/kvstore"
	"shieldtrade/internal/wallet"
)

var (
	contractA = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	contractB = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

type countingSigner struct {
	*wallet.KeySigner
	calls  int
	refuse bool
}

func (s *countingSigner) SignTypedData(ctx context.Context, data apitypes.TypedData) ([]byte, error) {
	s.calls++
	if s.refuse {
		return nil, wallet.ErrSignatureRefused
	}
	return s.KeySigner.SignTypedData(ctx, data)
}

type fixture struct {
	cache  *Cache
	store  *kvstore.MemoryStore
	issuer *fhe.MockInstance
	signer *countingSigner
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ks, err := wallet.GenerateKeySigner()
	require.NoError(t, err)
	f := &fixture{
		store:  kvstore.NewMemoryStore(),
		issuer: fhe.NewMockInstance(55815, common.HexToAddress("0xb6E02A0b1C9E5B1c2E05f14E3D8aF01cE1d46fD1")),
		signer: &countingSigner{KeySigner: ks},
		now:    time.Unix(1_760_000_000, 0),
	}
	f.cache = NewCache(f.store, 1, nil)
	f.cache.Now = func() time.Time { return f.now }
	return f
}

func TestLoadOrSignReusesWithinWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)
	require.Equal(t, 1, f.signer.calls)
	assert.Equal(t, f.signer.Address(), first.UserAddress)
	assert.Equal(t, f.now.Unix(), first.StartTimestamp)
	assert.Equal(t, int64(1), first.DurationDays)

	f.now = f.now.Add(23 * time.Hour)
	second, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 1, f.signer.calls, "expected cached authorization")
	assert.Equal(t, *first, *second)
}

func TestLoadOrSignRegeneratesAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)

	f.now = f.now.Add(24 * time.Hour)
	second, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 2, f.signer.calls)
	assert.NotEqual(t, first.Signature, second.Signature)
	assert.Equal(t, f.now.Unix(), second.StartTimestamp)

	raw, ok, err := f.store.Get(ctx, StorageKey(f.signer.Address(), []common.Address{contractA}))
	require.NoError(t, err)
	require.True(t, ok)
	var stored Authorization
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, second.Signature, stored.Signature)
}

func TestLoadOrSignScopesByContractSet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)
	both, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA, contractB}, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 2, f.signer.calls)
	assert.Len(t, both.ContractAddresses, 2)

	_, err = f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractB, contractA, contractA}, f.signer)
	require.NoError(t, err)
	assert.Equal(t, 2, f.signer.calls, "order and duplicates must not change the key")
}

func TestLoadOrSignRefused(t *testing.T) {
	f := newFixture(t)
	f.signer.refuse = true

	auth, err := f.cache.LoadOrSign(context.Background(), f.issuer, []common.Address{contractA}, f.signer)
	require.Nil(t, auth)
	require.ErrorIs(t, err, ErrUnobtainable)
	require.ErrorIs(t, err, wallet.ErrSignatureRefused)

	_, ok, _ := f.store.Get(context.Background(), StorageKey(f.signer.Address(), []common.Address{contractA}))
	assert.False(t, ok)
}

func TestLoadOrSignIgnoresCorruptRecord(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := StorageKey(f.signer.Address(), []common.Address{contractA})
	require.NoError(t, f.store.Set(ctx, key, "{garbage"))

	auth, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)
	require.NotNil(t, auth)
	assert.Equal(t, 1, f.signer.calls)
}

func TestLoadOrSignRejectsRecordForOtherUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	key := StorageKey(f.signer.Address(), []common.Address{contractA})
	foreign := Authorization{
		UserAddress:       common.HexToAddress("0x01"),
		ContractAddresses: []common.Address{contractA},
		StartTimestamp:    f.now.Unix(),
		DurationDays:      1,
	}
	blob, err := json.Marshal(foreign)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(ctx, key, string(blob)))

	auth, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)
	assert.Equal(t, f.signer.Address(), auth.UserAddress)
	assert.Equal(t, 1, f.signer.calls)
}

func TestAuthorizationValidAt(t *testing.T) {
	a := Authorization{StartTimestamp: 1000, DurationDays: 1}
	assert.False(t, a.ValidAt(time.Unix(999, 0)))
	assert.True(t, a.ValidAt(time.Unix(1000, 0)))
	assert.True(t, a.ValidAt(time.Unix(1000+86399, 0)))
	assert.False(t, a.ValidAt(time.Unix(1000+86400, 0)))
}

func TestSignedAuthorizationDecrypts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.issuer.Now = func() time.Time { return f.now }

	enc, err := f.issuer.CreateEncryptedInput(contractA, f.signer.Address()).Add32(42).Encrypt(ctx)
	require.NoError(t, err)

	auth, err := f.cache.LoadOrSign(ctx, f.issuer, []common.Address{contractA}, f.signer)
	require.NoError(t, err)

	res, err := f.issuer.UserDecrypt(ctx, fhe.UserDecryptRequest{
		Handles:           []fhe.HandleContractPair{{Handle: enc.Handles[0], ContractAddress: contractA}},
		PrivateKey:        auth.PrivateKey,
		PublicKey:         auth.PublicKey,
		Signature:         auth.Signature,
		ContractAddresses: auth.ContractAddresses,
		UserAddress:       auth.UserAddress,
		StartTimestamp:    auth.StartTimestamp,
		DurationDays:      auth.DurationDays,
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), res[enc.Handles[0]].Uint64())
}
