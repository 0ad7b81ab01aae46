package offer

import (
	"context"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shieldtrade/internal/fhe"
)

// Decrypt decrypts the cached handle pair for the attached account. It
// returns ErrBusy while a refresh or another decryption runs, ErrNotReady
// when the contract, FHE instance, account or a non-zero handle pair is
// missing, and ErrAlreadyDecrypted when the current pair is already clear.
func (s *Session) Decrypt(ctx context.Context) error {
	s.mu.Lock()
	if s.decrypt.running() || s.refresh.running() {
		s.mu.Unlock()
		s.metrics.observe(opDecrypt, ErrBusy)
		return ErrBusy
	}
	if !s.binding.Deployed() || s.instance == nil || s.account == nil ||
		s.handles == nil || s.handles.Empty() {
		s.mu.Unlock()
		s.metrics.observe(opDecrypt, ErrNotReady)
		return ErrNotReady
	}
	if s.decryptedLocked() {
		s.mu.Unlock()
		s.metrics.observe(opDecrypt, ErrAlreadyDecrypted)
		return ErrAlreadyDecrypted
	}

	job := decryptJob{
		started:  s.snapshotLocked(),
		handles:  *s.handles,
		contract: *s.binding.Address,
		account:  s.account,
		instance: s.instance,
	}
	s.decrypt.begin()
	s.message = msgDecryptStart
	s.mu.Unlock()
	s.setInFlight(opDecrypt, true)

	err := s.runDecrypt(ctx, job)

	s.mu.Lock()
	s.decrypt.finish(err)
	s.mu.Unlock()
	s.setInFlight(opDecrypt, false)
	s.metrics.observe(opDecrypt, err)
	return err
}

type decryptJob struct {
	started  contextSnapshot
	handles  HandleSet
	contract common.Address
	account  Account
	instance fhe.Instance
}

func (s *Session) runDecrypt(ctx context.Context, job decryptJob) error {
	contracts := []common.Address{job.contract}

	auth, err := s.authz.LoadOrSign(ctx, job.instance, contracts, job.account)
	if err != nil {
		s.logger.Warn("decryption authorization unavailable", zap.Error(err))
		s.report(EventError, msgDecryptNoAuth, err.Error())
		return fmt.Errorf("decrypt offer: %w", err)
	}

	if s.staleSince(job.started) {
		return s.ignoreDecryption(job.started)
	}

	values, err := job.instance.UserDecrypt(ctx, fhe.UserDecryptRequest{
		Handles: []fhe.HandleContractPair{
			{Handle: job.handles.Pay, ContractAddress: job.contract},
			{Handle: job.handles.Recv, ContractAddress: job.contract},
		},
		PrivateKey:        auth.PrivateKey,
		PublicKey:         auth.PublicKey,
		Signature:         auth.Signature,
		ContractAddresses: auth.ContractAddresses,
		UserAddress:       auth.UserAddress,
		StartTimestamp:    auth.StartTimestamp,
		DurationDays:      auth.DurationDays,
	})
	if err != nil {
		return s.decryptFailed(err)
	}

	pay, err := clearValue(values, job.handles.Pay)
	if err != nil {
		return s.decryptFailed(err)
	}
	recv, err := clearValue(values, job.handles.Recv)
	if err != nil {
		return s.decryptFailed(err)
	}

	msg := fmt.Sprintf("Offer decrypted: pay=%d recv=%d", pay, recv)

	s.mu.Lock()
	if isStale(job.started, s.snapshotLocked()) || s.handles == nil || *s.handles != job.handles {
		s.mu.Unlock()
		return s.ignoreDecryption(job.started)
	}
	s.clear = &ClearOffer{Pay: pay, Recv: recv, Handles: job.handles}
	s.message = msg
	s.mu.Unlock()

	s.emit(EventDecrypt, msg, fmt.Sprintf("pay=%s recv=%s", job.handles.Pay.Hex(), job.handles.Recv.Hex()))
	return nil
}

func (s *Session) staleSince(started contextSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return isStale(started, s.snapshotLocked())
}

func (s *Session) ignoreDecryption(started contextSnapshot) error {
	s.discarded(opDecrypt, started)
	s.report(EventInfo, msgDecryptIgnored, "")
	return ErrStale
}

func (s *Session) decryptFailed(err error) error {
	s.logger.Warn("offer decryption failed", zap.Error(err))
	s.report(EventError, "Offer decryption failed: "+err.Error(), err.Error())
	return fmt.Errorf("decrypt offer: %w", err)
}

func clearValue(values map[common.Hash]*big.Int, handle common.Hash) (uint32, error) {
	v, ok := values[handle]
	if !ok || v == nil {
		return 0, fmt.Errorf("no clear value for handle %s", handle.Hex())
	}
	if v.Sign() < 0 || !v.IsUint64() || v.Uint64() > math.MaxUint32 {
		return 0, fmt.Errorf("clear value for handle %s out of range: %s", handle.Hex(), v)
	}
	return uint32(v.Uint64()), nil
}
