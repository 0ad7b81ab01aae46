// Package fhe defines the boundary to the FHEVM encryption and user
// decryption services, plus an in-process mock of both.
package fhe

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EncryptedInput is the result of encrypting a batch of values for one
// (contract, user) pair.
type EncryptedInput struct {
	Handles    []common.Hash
	InputProof []byte
}

// InputBuilder accumulates plaintext values before encryption.
type InputBuilder interface {
	Add32(v uint32) InputBuilder
	Encrypt(ctx context.Context) (EncryptedInput, error)
}

type Encryptor interface {
	CreateEncryptedInput(contract, user common.Address) InputBuilder
}

type HandleContractPair struct {
	Handle          common.Hash
	ContractAddress common.Address
}

type UserDecryptRequest struct {
	Handles           []HandleContractPair
	PrivateKey        string
	PublicKey         string
	Signature         string
	ContractAddresses []common.Address
	UserAddress       common.Address
	StartTimestamp    int64
	DurationDays      int64
}

type Decryptor interface {
	UserDecrypt(ctx context.Context, req UserDecryptRequest) (map[common.Hash]*big.Int, error)
}

// Keypair is the ephemeral key material a decryption result is re-encrypted to.
type Keypair struct {
	PublicKey  string
	PrivateKey string
}

type KeyIssuer interface {
	GenerateKeypair() (Keypair, error)
	CreateEIP712(publicKey string, contracts []common.Address, startTimestamp, durationDays int64) apitypes.TypedData
}

// Instance is everything the offer session needs from the FHEVM SDK.
type Instance interface {
	Encryptor
	Decryptor
	KeyIssuer
}

const userDecryptPrimaryType = "UserDecryptRequestVerification"

// UserDecryptTypedData builds the EIP-712 payload a user signs to authorize
// decryption of handles owned by contracts.
func UserDecryptTypedData(gatewayChainID int64, verifier common.Address, publicKey string, contracts []common.Address, startTimestamp, durationDays int64) apitypes.TypedData {
	addrs := make([]interface{}, len(contracts))
	for i, c := range contracts {
		addrs[i] = c.Hex()
	}
	pub, err := hexutil.Decode(publicKey)
	if err != nil {
		pub = []byte(publicKey)
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			userDecryptPrimaryType: {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: userDecryptPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              "Decryption",
			Version:           "1",
			ChainId:           math.NewHexOrDecimal256(gatewayChainID),
			VerifyingContract: verifier.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Bytes(pub),
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(startTimestamp, 10),
			"durationDays":      strconv.FormatInt(durationDays, 10),
			"extraData":         hexutil.Bytes{0x00},
		},
	}
}
