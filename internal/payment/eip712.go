package payment

import (
	"crypto/rand"
	"math/big"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DefaultValidityWindow bounds how long a signed authorization stays
// usable. Long enough to absorb facilitator latency, short enough to limit
// replay exposure.
const DefaultValidityWindow = time.Hour

var transferTypes = apitypes.Types{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// newAuthorizationNonce draws a fresh 32-byte random nonce. Nonces are
// never reused for the same signer and asset.
func newAuthorizationNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return [32]byte{}, xerrors.Wrap(xerrors.CodePayment, err, "generate authorization nonce")
	}
	return nonce, nil
}

// typedTransferData builds the typed-data payload whose hash the payer
// signs. The domain pins the asset contract so a signature is only valid
// for that token on that chain.
func typedTransferData(asset Asset, chainID int64, auth TransferAuthorization) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       transferTypes,
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              asset.Name,
			Version:           asset.Version,
			ChainId:           math.NewHexOrDecimal256(chainID),
			VerifyingContract: asset.Address,
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       hexutil.Encode(auth.Nonce[:]),
		},
	}
}

// transferDigest hashes the typed data per EIP-712.
func transferDigest(asset Asset, chainID int64, auth TransferAuthorization) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(typedTransferData(asset, chainID, auth))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePayment, err, "hash transfer authorization")
	}
	return digest, nil
}

// validityWindow returns [now, now+window] as big integers.
func validityWindow(now time.Time, window time.Duration) (*big.Int, *big.Int) {
	if window <= 0 {
		window = DefaultValidityWindow
	}
	return big.NewInt(now.Unix()), big.NewInt(now.Add(window).Unix())
}
