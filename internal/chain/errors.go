package chain

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/rpc"
)

// Internal JSON-RPC error; browser wallets report an unreachable upstream RPC with it.
const rpcInternalErrorCode = -32603

var transportMarkers = []string{
	"Failed to fetch",
	`code": -32603`,
	"connection refused",
	"connection reset",
	"no such host",
}

// IsTransportError reports whether err means the signing/RPC channel could
// not be reached, as opposed to the call being rejected.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcInternalErrorCode {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := err.Error()
	for _, m := range transportMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
