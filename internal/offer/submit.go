package offer

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"shieldtrade/internal/chain"
	"shieldtrade/internal/fhe"
)

// SetOffer encrypts pay and recv for the attached account and submits them
// with setOffer. Both values must fit in uint32; that is checked before any
// other precondition. On confirmation the cached handles are refreshed.
func (s *Session) SetOffer(ctx context.Context, pay, recv int64) error {
	if !fitsUint32(pay) || !fitsUint32(recv) {
		s.report(EventError, msgOutOfRange, fmt.Sprintf("pay=%d recv=%d", pay, recv))
		s.metrics.observe(opSubmit, ErrOutOfRange)
		return fmt.Errorf("%w: pay=%d recv=%d", ErrOutOfRange, pay, recv)
	}

	s.mu.Lock()
	if s.refresh.running() || s.submit.running() {
		s.mu.Unlock()
		s.metrics.observe(opSubmit, ErrBusy)
		return ErrBusy
	}
	if !s.binding.Deployed() || s.instance == nil || s.account == nil {
		s.mu.Unlock()
		s.metrics.observe(opSubmit, ErrNotReady)
		return ErrNotReady
	}

	job := submitJob{
		started:  s.snapshotLocked(),
		contract: *s.binding.Address,
		account:  s.account,
		instance: s.instance,
		pay:      uint32(pay),
		recv:     uint32(recv),
	}
	s.submit.begin()
	s.message = msgSubmitStart
	s.mu.Unlock()
	s.setInFlight(opSubmit, true)

	err := s.runSubmit(ctx, job)

	s.mu.Lock()
	s.submit.finish(err)
	s.mu.Unlock()
	s.setInFlight(opSubmit, false)
	s.metrics.observe(opSubmit, err)

	if err == nil {
		s.refreshAfterSubmit(context.WithoutCancel(ctx))
	}
	return err
}

// settleTimeout bounds the receipt wait once a transaction has been sent.
const settleTimeout = 5 * time.Minute

type submitJob struct {
	started   contextSnapshot
	contract  common.Address
	account   Account
	instance  fhe.Instance
	pay, recv uint32
}

func (s *Session) runSubmit(ctx context.Context, job submitJob) error {
	if err := s.yield(ctx); err != nil {
		return s.submitFailed(err)
	}

	enc, err := job.instance.CreateEncryptedInput(job.contract, job.account.Address()).
		Add32(job.pay).
		Add32(job.recv).
		Encrypt(ctx)
	if err != nil {
		return s.submitFailed(err)
	}
	if len(enc.Handles) < 2 {
		return s.submitFailed(fmt.Errorf("encrypted input has %d handles, want 2", len(enc.Handles)))
	}

	if s.staleSince(job.started) {
		return s.ignoreSubmission(job.started)
	}

	tx, err := job.account.SetOffer(ctx, job.contract, enc.Handles[0], enc.Handles[1], enc.InputProof)
	if err != nil {
		return s.submitFailed(err)
	}
	s.report("", fmt.Sprintf("Waiting tx %s...", tx.Hash().Hex()), "")

	// Once sent, the submission runs to completion even if the caller goes away.
	settle, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	receipt, err := tx.Wait(settle)
	if err != nil {
		return s.submitFailed(err)
	}

	if s.staleSince(job.started) {
		return s.ignoreSubmission(job.started)
	}

	fields := []zap.Field{zap.String("tx", tx.Hash().Hex()), zap.String("contract", job.contract.Hex())}
	if receipt != nil && receipt.BlockNumber != nil {
		fields = append(fields, zap.Uint64("block", receipt.BlockNumber.Uint64()))
	}
	s.logger.Info("setOffer confirmed", fields...)
	s.report(EventOfferCreate, msgSubmitDone, tx.Hash().Hex())
	return nil
}

// yield gives a UI a chance to render the submitting state before the
// CPU-heavy encryption starts.
func (s *Session) yield(ctx context.Context) error {
	if s.repaintDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(s.repaintDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) ignoreSubmission(started contextSnapshot) error {
	s.discarded(opSubmit, started)
	s.report(EventInfo, msgSubmitIgnored, "")
	return ErrStale
}

func (s *Session) submitFailed(err error) error {
	s.logger.Warn("setOffer failed", zap.Error(err))
	if chain.IsTransportError(err) {
		s.report(EventError, msgSubmitTransport, err.Error())
		return fmt.Errorf("set offer: %w: %w", ErrTransport, err)
	}
	s.report(EventError, "setOffer failed: "+err.Error(), err.Error())
	return fmt.Errorf("set offer: %w", err)
}

func fitsUint32(v int64) bool {
	return v >= 0 && v <= math.MaxUint32
}
