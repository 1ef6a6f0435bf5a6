package commitreveal

import (
	"bytes"
	"testing"
)

func fixedInputs() ([]uint8, [SaltSize]byte, [32]byte) {
	scores := []uint8{10, 20, 30, 40}
	var salt [SaltSize]byte
	for i := range salt {
		salt[i] = byte(i)
	}
	var dataHash [32]byte
	for i := range dataHash {
		dataHash[i] = byte(0xff - i)
	}
	return scores, salt, dataHash
}

func TestComputeCommitmentDeterministic(t *testing.T) {
	scores, salt, dataHash := fixedInputs()
	first := ComputeCommitment(scores, salt, dataHash)
	second := ComputeCommitment(scores, salt, dataHash)
	if first != second {
		t.Fatal("identical inputs produced different commitments")
	}
	if first == ([32]byte{}) {
		t.Fatal("commitment is zero")
	}
}

func TestComputeCommitmentSensitivity(t *testing.T) {
	scores, salt, dataHash := fixedInputs()
	base := ComputeCommitment(scores, salt, dataHash)

	changedScores := append([]uint8(nil), scores...)
	changedScores[0]++
	if ComputeCommitment(changedScores, salt, dataHash) == base {
		t.Fatal("score change did not change the commitment")
	}

	changedSalt := salt
	changedSalt[0] ^= 0x01
	if ComputeCommitment(scores, changedSalt, dataHash) == base {
		t.Fatal("salt change did not change the commitment")
	}

	changedHash := dataHash
	changedHash[31] ^= 0x01
	if ComputeCommitment(scores, salt, changedHash) == base {
		t.Fatal("data hash change did not change the commitment")
	}
}

func TestGenerateSaltUnique(t *testing.T) {
	seen := make(map[[SaltSize]byte]bool)
	for i := 0; i < 64; i++ {
		salt, err := GenerateSalt()
		if err != nil {
			t.Fatalf("generate salt: %v", err)
		}
		if seen[salt] {
			t.Fatal("salt repeated")
		}
		seen[salt] = true
	}
}

func TestEncodeScoreVectorCopies(t *testing.T) {
	scores := []uint8{1, 2, 3}
	encoded := EncodeScoreVector(scores)
	if !bytes.Equal(encoded, []byte{1, 2, 3}) {
		t.Fatalf("encoded = %v", encoded)
	}
	encoded[0] = 99
	if scores[0] != 1 {
		t.Fatal("encoding aliased the input slice")
	}
}

func TestSessionLifecycle(t *testing.T) {
	scores, salt, dataHash := fixedInputs()
	session := NewSession(dataHash)
	if session.Phase() != PhaseUncommitted {
		t.Fatalf("phase = %q", session.Phase())
	}

	commitment, err := session.Commit(scores, &salt)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if session.Phase() != PhaseCommitted {
		t.Fatalf("phase = %q", session.Phase())
	}
	if commitment != ComputeCommitment(scores, salt, dataHash) {
		t.Fatal("session commitment does not match direct computation")
	}

	revealedScores, revealedSalt, err := session.Reveal()
	if err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if session.Phase() != PhaseRevealed {
		t.Fatalf("phase = %q", session.Phase())
	}
	if !bytes.Equal(revealedScores, scores) {
		t.Fatalf("revealed scores = %v", revealedScores)
	}
	if revealedSalt != salt {
		t.Fatal("revealed salt differs")
	}
}

func TestSessionRejectsOutOfOrderCalls(t *testing.T) {
	scores, salt, dataHash := fixedInputs()
	session := NewSession(dataHash)

	if _, _, err := session.Reveal(); err == nil {
		t.Fatal("reveal before commit must fail")
	}
	if _, err := session.Commit(nil, &salt); err == nil {
		t.Fatal("empty score vector must fail")
	}
	if _, err := session.Commit(scores, &salt); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := session.Commit(scores, &salt); err == nil {
		t.Fatal("double commit must fail")
	}
	if _, _, err := session.Reveal(); err != nil {
		t.Fatalf("reveal: %v", err)
	}
	if _, _, err := session.Reveal(); err == nil {
		t.Fatal("double reveal must fail")
	}
}

func TestSessionFreshSaltPerCommit(t *testing.T) {
	scores, _, dataHash := fixedInputs()
	first := NewSession(dataHash)
	second := NewSession(dataHash)

	c1, err := first.Commit(scores, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	c2, err := second.Commit(scores, nil)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if c1 == c2 {
		t.Fatal("independent sessions produced identical commitments")
	}
}
