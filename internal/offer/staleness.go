package offer

import "github.com/ethereum/go-ethereum/common"

// contextSnapshot is what an operation captured when it started.
type contextSnapshot struct {
	chainID  *uint64
	contract *common.Address
	signer   common.Address
}

func (s *Session) snapshotLocked() contextSnapshot {
	snap := contextSnapshot{}
	if s.binding.ChainID != nil {
		id := *s.binding.ChainID
		snap.chainID = &id
	}
	if s.binding.Address != nil {
		addr := *s.binding.Address
		snap.contract = &addr
	}
	if s.account != nil {
		snap.signer = s.account.Address()
	}
	return snap
}

// isStale reports whether the network, contract or signer changed between
// started and live.
func isStale(started, live contextSnapshot) bool {
	return bindingChanged(started, live) || started.signer != live.signer
}

// bindingChanged only looks at network and contract; refresh results do not
// depend on which signer is active when they land.
func bindingChanged(started, live contextSnapshot) bool {
	if (started.chainID == nil) != (live.chainID == nil) {
		return true
	}
	if started.chainID != nil && *started.chainID != *live.chainID {
		return true
	}
	if (started.contract == nil) != (live.contract == nil) {
		return true
	}
	return started.contract != nil && *started.contract != *live.contract
}
