package offer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Refresh reloads the caller's handle pair from the contract. It returns
// ErrBusy if a refresh is already running and ErrNotReady, after dropping
// the cached handles, when there is no deployed binding or no connection.
func (s *Session) Refresh(ctx context.Context) error {
	return s.runRefresh(ctx, false)
}

// runRefresh with requeue set asks an in-flight refresh to run once more
// instead of failing with ErrBusy.
func (s *Session) runRefresh(ctx context.Context, requeue bool) error {
	s.mu.Lock()
	if s.refresh.running() {
		if requeue {
			s.refreshAgain = true
		}
		s.mu.Unlock()
		s.metrics.observe(opRefresh, ErrBusy)
		return ErrBusy
	}
	if !s.binding.Deployed() || s.binding.ChainID == nil || s.queryConnLocked() == nil {
		s.handles = nil
		s.mu.Unlock()
		s.metrics.observe(opRefresh, ErrNotReady)
		return ErrNotReady
	}
	s.refresh.begin()
	s.mu.Unlock()
	s.setInFlight(opRefresh, true)

	for {
		err := s.refreshOnce(ctx)

		s.mu.Lock()
		if s.refreshAgain && ctx.Err() == nil {
			s.refreshAgain = false
			s.mu.Unlock()
			continue
		}
		if s.refreshAgain {
			s.logger.Warn("queued refresh dropped", zap.Error(ctx.Err()))
		}
		s.refreshAgain = false
		s.refresh.finish(err)
		s.mu.Unlock()

		s.setInFlight(opRefresh, false)
		s.metrics.observe(opRefresh, err)
		return err
	}
}

func (s *Session) refreshOnce(ctx context.Context) error {
	s.mu.Lock()
	b := s.binding
	conn := s.queryConnLocked()
	if !b.Deployed() || b.ChainID == nil || conn == nil {
		s.handles = nil
		s.mu.Unlock()
		return ErrNotReady
	}
	started := s.snapshotLocked()
	s.mu.Unlock()

	pay, recv, err := conn.GetMyOffer(ctx, *b.Address)
	if err != nil {
		msg := fmt.Sprintf(msgRefreshFailedFmt, err)
		s.logger.Warn("getMyOffer failed", zap.String("contract", b.Address.Hex()), zap.Error(err))
		s.report(EventError, msg, err.Error())
		return fmt.Errorf("get my offer: %w", err)
	}

	s.mu.Lock()
	if bindingChanged(started, s.snapshotLocked()) {
		s.mu.Unlock()
		s.discarded(opRefresh, started)
		return ErrStale
	}
	s.handles = &HandleSet{Pay: pay, Recv: recv}
	s.mu.Unlock()
	return nil
}

func (s *Session) refreshAfterSubmit(ctx context.Context) {
	err := s.runRefresh(ctx, true)
	if err != nil && !errors.Is(err, ErrBusy) {
		s.logger.Warn("refresh after setOffer failed", zap.Error(err))
	}
}
