package commitreveal

import (
	"bytes"
	"crypto/rand"

	xerrors "AgentFlow-Chain/internal/errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// EncodingVersion identifies the commitment preimage layout: the tightly
// packed score bytes followed by the 32-byte salt and the 32-byte data
// hash. The on-chain verifier recomputes the same packing, so any change
// here requires a new version on both sides.
const EncodingVersion = 1

// SaltSize is the byte length of a commitment salt.
const SaltSize = 32

// EncodeScoreVector returns the deterministic byte encoding of a score
// vector, used both inside the commitment preimage and as the reveal
// payload.
func EncodeScoreVector(scores []uint8) []byte {
	encoded := make([]byte, len(scores))
	copy(encoded, scores)
	return encoded
}

// ComputeCommitment hashes keccak256(scores ‖ salt ‖ dataHash). The result
// must match the ledger's recomputation byte for byte at reveal time.
func ComputeCommitment(scores []uint8, salt [SaltSize]byte, dataHash [32]byte) [32]byte {
	preimage := make([]byte, 0, len(scores)+SaltSize+32)
	preimage = append(preimage, EncodeScoreVector(scores)...)
	preimage = append(preimage, salt[:]...)
	preimage = append(preimage, dataHash[:]...)

	var commitment [32]byte
	copy(commitment[:], crypto.Keccak256(preimage))
	return commitment
}

// GenerateSalt returns a fresh cryptographically random salt. Salts are
// single-use per commitment; reuse degrades the scheme to a known
// plaintext weakness.
func GenerateSalt() ([SaltSize]byte, error) {
	var salt [SaltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return [SaltSize]byte{}, xerrors.Wrap(xerrors.CodeUnknown, err, "generate commitment salt")
	}
	return salt, nil
}

// SaltHex renders a salt for wire payloads that carry it as a hex string.
func SaltHex(salt [SaltSize]byte) string {
	return hexutil.Encode(salt[:])
}

// Phase tracks where one dataHash stands in the two-phase protocol.
type Phase string

const (
	PhaseUncommitted Phase = "UNCOMMITTED"
	PhaseCommitted   Phase = "COMMITTED"
	PhaseRevealed    Phase = "REVEALED"
)

// Session produces the commit and reveal inputs for one dataHash. The
// ledger enforces the actual transition; the session only guarantees that
// what it reveals recomputes the commitment it produced.
type Session struct {
	dataHash   [32]byte
	scores     []uint8
	salt       [SaltSize]byte
	commitment [32]byte
	phase      Phase
}

// NewSession starts an uncommitted session for a dataHash.
func NewSession(dataHash [32]byte) *Session {
	return &Session{dataHash: dataHash, phase: PhaseUncommitted}
}

// Phase returns the session phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Commitment returns the commitment produced by Commit.
func (s *Session) Commitment() [32]byte {
	return s.commitment
}

// Commit records the scores, draws a fresh salt unless the caller supplies
// one for test determinism, and returns the commitment hash.
func (s *Session) Commit(scores []uint8, salt *[SaltSize]byte) ([32]byte, error) {
	if s.phase != PhaseUncommitted {
		return [32]byte{}, xerrors.New(xerrors.CodeConfiguration, "session already committed")
	}
	if len(scores) == 0 {
		return [32]byte{}, xerrors.New(xerrors.CodeConfiguration, "cannot commit an empty score vector")
	}
	if salt != nil {
		s.salt = *salt
	} else {
		fresh, err := GenerateSalt()
		if err != nil {
			return [32]byte{}, err
		}
		s.salt = fresh
	}
	s.scores = append([]uint8(nil), scores...)
	s.commitment = ComputeCommitment(s.scores, s.salt, s.dataHash)
	s.phase = PhaseCommitted
	return s.commitment, nil
}

// Reveal returns the scores and salt for the reveal transaction after
// checking that they still recompute the stored commitment.
func (s *Session) Reveal() ([]uint8, [SaltSize]byte, error) {
	if s.phase != PhaseCommitted {
		return nil, [SaltSize]byte{}, xerrors.New(xerrors.CodeConfiguration, "nothing committed to reveal")
	}
	recomputed := ComputeCommitment(s.scores, s.salt, s.dataHash)
	if !bytes.Equal(recomputed[:], s.commitment[:]) {
		return nil, [SaltSize]byte{}, xerrors.New(xerrors.CodeUnknown, "commitment recomputation mismatch")
	}
	s.phase = PhaseRevealed
	return append([]uint8(nil), s.scores...), s.salt, nil
}
