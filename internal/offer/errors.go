package offer

import "errors"

var (
	// ErrBusy is returned when an operation of the same kind is already running.
	ErrBusy = errors.New("operation already in flight")
	// ErrNotReady is returned when a precondition (binding, connection,
	// account, FHE instance, handles) is missing.
	ErrNotReady = errors.New("offer session not ready")
	// ErrNotDeployed means the active network has no ShieldTrade deployment.
	ErrNotDeployed = errors.New("shieldtrade not deployed on active network")
	// ErrAlreadyDecrypted means the cached clear offer already matches the handles.
	ErrAlreadyDecrypted = errors.New("offer already decrypted")
	// ErrOutOfRange rejects amounts outside the uint32 range.
	ErrOutOfRange = errors.New("values must fit in uint32")
	// ErrTransport means the wallet's RPC endpoint could not be reached.
	ErrTransport = errors.New("wallet rpc unreachable")
	// ErrStale means the result was discarded because the network, contract
	// or account changed while the operation was running.
	ErrStale = errors.New("result discarded: context changed")
)

const (
	msgDecryptStart     = "Start decrypting offer..."
	msgDecryptNoAuth    = "Unable to build FHEVM decryption signature"
	msgDecryptIgnored   = "Ignore FHEVM decryption"
	msgOutOfRange       = "Values must fit in uint32"
	msgSubmitStart      = "Encrypting and submitting offer..."
	msgSubmitIgnored    = "Ignore setOffer"
	msgSubmitDone       = "setOffer completed"
	msgSubmitTransport  = "setOffer failed: Wallet RPC unreachable. Please switch RPC endpoint (try again to trigger a wallet prompt)."
	msgRefreshFailedFmt = "ShieldTrade.getMyOffer() failed: %v"
)

func isStaleErr(err error) bool {
	return errors.Is(err, ErrStale)
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrStale):
		return "stale"
	case errors.Is(err, ErrBusy):
		return "busy"
	case errors.Is(err, ErrNotReady), errors.Is(err, ErrNotDeployed), errors.Is(err, ErrAlreadyDecrypted):
		return "not_ready"
	case errors.Is(err, ErrOutOfRange):
		return "rejected"
	default:
		return "failed"
	}
}
