package wallet

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	xerrors "AgentFlow-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer is the signing capability the payment engine and request
// authenticator depend on. Key custody lives outside this module; the local
// implementation below exists for processes that hold their own key and for
// tests.
type Signer interface {
	// Address returns the signer's account address.
	Address() common.Address
	// SignDigest signs a 32-byte digest and returns the 65-byte
	// [R || S || V] signature with V in {27, 28}.
	SignDigest(digest []byte) ([]byte, error)
	// SignTransaction signs a transaction for the given chain.
	SignTransaction(tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error)
}

// LocalSigner signs with an in-process secp256k1 private key.
type LocalSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewLocalSigner parses a hex-encoded private key (with or without 0x).
func NewLocalSigner(hexKey string) (*LocalSigner, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if trimmed == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "private key is empty")
	}
	key, err := crypto.HexToECDSA(trimmed)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "invalid private key")
	}
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// GenerateLocalSigner creates a signer with a fresh random key.
func GenerateLocalSigner() (*LocalSigner, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "generate key")
	}
	return &LocalSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address implements Signer.
func (s *LocalSigner) Address() common.Address {
	return s.address
}

// SignDigest implements Signer.
func (s *LocalSigner) SignDigest(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	// crypto.Sign yields V in {0, 1}; contracts expect {27, 28}.
	sig[64] += 27
	return sig, nil
}

// SignTransaction implements Signer.
func (s *LocalSigner) SignTransaction(tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	return coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
}
