package auth

import (
	"net/http"
	"testing"
	"time"

	"AgentFlow-Chain/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

func newRequest(t *testing.T) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, "https://orchestrator.example/workflows/work-submission", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	return req
}

func TestApplyNone(t *testing.T) {
	a, err := New(Config{}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	req := newRequest(t)
	if err := a.Apply(req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(req.Header) != 0 {
		t.Fatalf("headers = %v, want none", req.Header)
	}
}

func TestApplyNilAuthenticator(t *testing.T) {
	var a *Authenticator
	if err := a.Apply(newRequest(t)); err != nil {
		t.Fatalf("nil authenticator must be a no-op, got %v", err)
	}
}

func TestApplyAPIKey(t *testing.T) {
	a, err := New(Config{Mode: ModeAPIKey, APIKey: "secret"}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	req := newRequest(t)
	if err := a.Apply(req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := req.Header.Get("X-API-Key"); got != "secret" {
		t.Fatalf("X-API-Key = %q", got)
	}
}

func TestAPIKeyModeRequiresKey(t *testing.T) {
	if _, err := New(Config{Mode: ModeAPIKey}, nil); err == nil {
		t.Fatal("expected error without a key")
	}
}

func TestSignatureModeRequiresSigner(t *testing.T) {
	if _, err := New(Config{Mode: ModeSignature}, nil); err == nil {
		t.Fatal("expected error without a signer")
	}
}

func TestApplySignatureRecoverable(t *testing.T) {
	signer, err := wallet.GenerateLocalSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	fixed := time.Unix(1_700_000_000, 0)
	a, err := New(Config{Mode: ModeSignature}, signer, WithClock(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	req := newRequest(t)
	if err := a.Apply(req); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := req.Header.Get("X-Timestamp"); got != "1700000000" {
		t.Fatalf("X-Timestamp = %q", got)
	}
	if got := req.Header.Get("X-Address"); got != signer.Address().Hex() {
		t.Fatalf("X-Address = %q", got)
	}

	sig, err := hexutil.Decode(req.Header.Get("X-Signature"))
	if err != nil {
		t.Fatalf("decode signature: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d", len(sig))
	}
	// Undo the contract-style recovery offset before ecrecover.
	sig[64] -= 27
	message := "1700000000" + http.MethodPost + "/workflows/work-submission"
	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if crypto.PubkeyToAddress(*pub) != signer.Address() {
		t.Fatal("recovered address does not match the signer")
	}
}

func TestUnsupportedMode(t *testing.T) {
	if _, err := New(Config{Mode: "mutual_tls"}, nil); err == nil {
		t.Fatal("expected error for unsupported mode")
	}
}
