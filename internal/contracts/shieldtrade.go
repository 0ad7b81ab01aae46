// Package contracts holds the ABI of the ShieldTrade contract.
package contracts

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// ShieldTradeABI is the JSON ABI emitted by the hardhat build of ShieldTrade.sol.
// Encrypted values travel as bytes32 handles.
const ShieldTradeABI = `[
  {
    "inputs": [],
    "name": "getMyOffer",
    "outputs": [
      {"internalType": "euint32", "name": "pay", "type": "bytes32"},
      {"internalType": "euint32", "name": "receive", "type": "bytes32"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "externalEuint32", "name": "payExt", "type": "bytes32"},
      {"internalType": "externalEuint32", "name": "receiveExt", "type": "bytes32"},
      {"internalType": "bytes", "name": "inputProof", "type": "bytes"}
    ],
    "name": "setOffer",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "user", "type": "address"}
    ],
    "name": "OfferSet",
    "type": "event"
  }
]`

const (
	MethodGetMyOffer = "getMyOffer"
	MethodSetOffer   = "setOffer"
)

var (
	parsedOnce sync.Once
	parsed     abi.ABI
	parseErr   error
)

// ParsedShieldTradeABI returns the parsed ABI, parsing it once.
func ParsedShieldTradeABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsed, parseErr = abi.JSON(strings.NewReader(ShieldTradeABI))
	})
	return parsed, parseErr
}

// MustShieldTradeABI panics if the embedded ABI does not parse.
func MustShieldTradeABI() abi.ABI {
	a, err := ParsedShieldTradeABI()
	if err != nil {
		panic("shieldtrade abi: " + err.Error())
	}
	return a
}
