// Package authz caches the signed, time-boxed authorizations that let an
// account decrypt its own ciphertexts.
package authz

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"shieldtrade/internal/fhe"
	"shieldtrade/internal/kvstore"
	"shieldtrade/internal/wallet"
)

const (
	DefaultDurationDays = 365
	secondsPerDay       = 24 * 60 * 60
	keyPrefix           = "shieldtrade.decryption-authorization."
)

// ErrUnobtainable means no authorization could be produced; callers stop.
var ErrUnobtainable = errors.New("decryption authorization unobtainable")

// Authorization is a signed capability to decrypt handles of
// ContractAddresses for UserAddress during [StartTimestamp, StartTimestamp+DurationDays).
type Authorization struct {
	PrivateKey        string           `json:"privateKey"`
	PublicKey         string           `json:"publicKey"`
	Signature         string           `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      int64            `json:"durationDays"`
}

// ExpiresAt is the first instant the authorization is no longer valid.
func (a *Authorization) ExpiresAt() time.Time {
	return time.Unix(a.StartTimestamp+a.DurationDays*secondsPerDay, 0)
}

func (a *Authorization) ValidAt(now time.Time) bool {
	ts := now.Unix()
	return ts >= a.StartTimestamp && ts < a.StartTimestamp+a.DurationDays*secondsPerDay
}

// Covers reports whether a was issued for exactly this user and contract set.
func (a *Authorization) Covers(user common.Address, contracts []common.Address) bool {
	if a.UserAddress != user {
		return false
	}
	want := normalize(contracts)
	got := normalize(a.ContractAddresses)
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// StorageKey is the store key for (user, contract set). Order and duplicates
// in contracts do not matter.
func StorageKey(user common.Address, contracts []common.Address) string {
	parts := [][]byte{user.Bytes()}
	for _, c := range normalize(contracts) {
		parts = append(parts, c.Bytes())
	}
	return keyPrefix + crypto.Keccak256Hash(parts...).Hex()
}

func normalize(contracts []common.Address) []common.Address {
	out := make([]common.Address, 0, len(contracts))
	seen := make(map[common.Address]bool, len(contracts))
	for _, c := range contracts {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].Bytes(), out[j].Bytes()) < 0 })
	return out
}

// Cache loads authorizations from a store and signs new ones when needed.
type Cache struct {
	store        kvstore.Store
	durationDays int64
	logger       *zap.Logger
	Now          func() time.Time
}

func NewCache(store kvstore.Store, durationDays int64, logger *zap.Logger) *Cache {
	if durationDays <= 0 {
		durationDays = DefaultDurationDays
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{store: store, durationDays: durationDays, logger: logger}
}

func (c *Cache) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// LoadOrSign returns the stored authorization for (signer, contracts) if it is
// still valid, otherwise asks signer for a fresh one and stores it.
func (c *Cache) LoadOrSign(ctx context.Context, issuer fhe.KeyIssuer, contracts []common.Address, signer wallet.Signer) (*Authorization, error) {
	user := signer.Address()
	key := StorageKey(user, contracts)
	now := c.now()

	if cached := c.load(ctx, key); cached != nil {
		if cached.Covers(user, contracts) && cached.ValidAt(now) {
			return cached, nil
		}
		c.logger.Info("decryption authorization expired or mismatched",
			zap.String("user", user.Hex()),
			zap.Time("expires_at", cached.ExpiresAt()),
		)
	}

	auth, err := c.sign(ctx, issuer, normalize(contracts), signer, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnobtainable, err)
	}

	blob, err := json.Marshal(auth)
	if err == nil {
		err = c.store.Set(ctx, key, string(blob))
	}
	if err != nil {
		c.logger.Warn("persist decryption authorization", zap.Error(err))
	}
	return auth, nil
}

func (c *Cache) load(ctx context.Context, key string) *Authorization {
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("load decryption authorization", zap.String("key", key), zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	var auth Authorization
	if err := json.Unmarshal([]byte(raw), &auth); err != nil {
		c.logger.Warn("corrupt decryption authorization", zap.String("key", key), zap.Error(err))
		return nil
	}
	return &auth
}

func (c *Cache) sign(ctx context.Context, issuer fhe.KeyIssuer, contracts []common.Address, signer wallet.Signer, now time.Time) (*Authorization, error) {
	kp, err := issuer.GenerateKeypair()
	if err != nil {
		return nil, err
	}
	start := now.Unix()
	typed := issuer.CreateEIP712(kp.PublicKey, contracts, start, c.durationDays)

	sig, err := signer.SignTypedData(ctx, typed)
	if err != nil {
		return nil, err
	}

	return &Authorization{
		PrivateKey:        kp.PrivateKey,
		PublicKey:         kp.PublicKey,
		Signature:         hexutil.Encode(sig),
		ContractAddresses: contracts,
		UserAddress:       signer.Address(),
		StartTimestamp:    start,
		DurationDays:      c.durationDays,
	}, nil
}
