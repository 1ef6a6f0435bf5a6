package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"
	"AgentFlow-Chain/internal/journal"
	"AgentFlow-Chain/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
)

const (
	testRecipient = "0x1111111111111111111111111111111111111111"
	testTreasury  = "0x2222222222222222222222222222222222222222"
	testUSDC      = "0x3333333333333333333333333333333333333333"
)

func testConfig() EngineConfig {
	return EngineConfig{
		Network: "base-sepolia",
		ChainID: 84532,
		Treasury: testTreasury,
		Assets: map[string]Asset{
			"USDC": {
				Address:              testUSDC,
				Decimals:             6,
				Name:                 "USD Coin",
				Version:              "2",
				AuthorizationCapable: true,
			},
			"ETH": {Decimals: 18},
		},
	}
}

func newTestEngine(t *testing.T, backend *fakeBackend, facilitator *FacilitatorClient, opts ...EngineOption) (*Engine, *wallet.LocalSigner) {
	t.Helper()
	signer, err := wallet.GenerateLocalSigner()
	if err != nil {
		t.Fatalf("generate signer: %v", err)
	}
	engine, err := NewEngine(testConfig(), signer, backend, facilitator, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine, signer
}

type sendResult struct {
	hash common.Hash
	err  error
}

// fakeBackend replays scripted responses for each chain call.
type fakeBackend struct {
	mu       sync.Mutex
	sends    []sendResult
	sent     []common.Address
	receipts map[common.Hash]*coretypes.Receipt
	txs      map[common.Hash]*coretypes.Transaction
	pending  map[common.Hash]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		receipts: make(map[common.Hash]*coretypes.Receipt),
		txs:      make(map[common.Hash]*coretypes.Transaction),
		pending:  make(map[common.Hash]bool),
	}
}

func (f *fakeBackend) queueSend(hash common.Hash, err error, status uint64) {
	f.sends = append(f.sends, sendResult{hash: hash, err: err})
	if err == nil {
		f.receipts[hash] = &coretypes.Receipt{Status: status, TxHash: hash}
	}
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return big.NewInt(84532), nil
}

func (f *fakeBackend) SendNative(_ context.Context, to common.Address, _ *big.Int) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		return common.Hash{}, fmt.Errorf("unexpected send to %s", to.Hex())
	}
	next := f.sends[0]
	f.sends = f.sends[1:]
	f.sent = append(f.sent, to)
	return next.hash, next.err
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("no receipt for %s", txHash.Hex())
	}
	return receipt, nil
}

func (f *fakeBackend) TransactionByHash(_ context.Context, txHash common.Hash) (*coretypes.Transaction, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx, ok := f.txs[txHash]
	if !ok {
		return nil, false, fmt.Errorf("no transaction for %s", txHash.Hex())
	}
	return tx, f.pending[txHash], nil
}

func (f *fakeBackend) WaitMined(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	return f.TransactionReceipt(ctx, txHash)
}

func TestCreatePaymentRequestComputesProtocolFee(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	intent, err := engine.CreatePaymentRequest("agent-a", "agent-b", 100, "USDC", "batch inference")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if intent.ProtocolFee != 2.5 {
		t.Fatalf("protocol fee = %v, want 2.5", intent.ProtocolFee)
	}
	if intent.ID == "" {
		t.Fatal("intent id is empty")
	}
	if intent.Currency != "USDC" {
		t.Fatalf("currency = %q", intent.Currency)
	}
}

func TestCreatePaymentRequestUnknownCurrency(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	_, err := engine.CreatePaymentRequest("a", "b", 10, "DOGE", "")
	if err == nil {
		t.Fatal("expected error for unknown currency")
	}
	if xerrors.CodeOf(err) != xerrors.CodeConfiguration {
		t.Fatalf("code = %v, want configuration", xerrors.CodeOf(err))
	}
}

func TestCreatePaymentRequirementsSmallestUnit(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	reqs, err := engine.CreatePaymentRequirements(1.5, "USDC", "metered call", map[string]string{
		"pay_to":   testRecipient,
		"resource": "agentflow://workflows/submit",
	})
	if err != nil {
		t.Fatalf("create requirements: %v", err)
	}
	if reqs.MaxAmountRequired != "1500000" {
		t.Fatalf("maxAmountRequired = %q, want 1500000", reqs.MaxAmountRequired)
	}
	if reqs.Scheme != Scheme {
		t.Fatalf("scheme = %q", reqs.Scheme)
	}
	if reqs.Asset != testUSDC {
		t.Fatalf("asset = %q", reqs.Asset)
	}
	if reqs.PayTo != testRecipient {
		t.Fatalf("payTo = %q", reqs.PayTo)
	}
	if reqs.Resource != "agentflow://workflows/submit" {
		t.Fatalf("resource = %q", reqs.Resource)
	}
}

func TestSignTransferAuthorization(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	auth, err := engine.NewTransferAuthorization(testRecipient, big.NewInt(100_000_000))
	if err != nil {
		t.Fatalf("new authorization: %v", err)
	}
	sig, err := engine.SignTransferAuthorization("USDC", auth)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if v := sig[64]; v != 27 && v != 28 {
		t.Fatalf("recovery byte = %d, want 27 or 28", v)
	}

	again, err := engine.SignTransferAuthorization("USDC", auth)
	if err != nil {
		t.Fatalf("second sign: %v", err)
	}
	if string(sig) != string(again) {
		t.Fatal("signing the same authorization twice produced different signatures")
	}
}

func TestSignTransferAuthorizationRejectsNativeAsset(t *testing.T) {
	engine, _ := newTestEngine(t, nil, nil)

	auth, err := engine.NewTransferAuthorization(testRecipient, big.NewInt(1))
	if err != nil {
		t.Fatalf("new authorization: %v", err)
	}
	if _, err := engine.SignTransferAuthorization("ETH", auth); err == nil {
		t.Fatal("expected error for non authorization-capable asset")
	}
}

func TestExecutePaymentAuthorized(t *testing.T) {
	var got settleRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") == "" {
			t.Error("missing idempotency key")
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode settle request: %v", err)
		}
		json.NewEncoder(w).Encode(SettlementResult{
			Success:   true,
			TxHash:    "0xaaa",
			FeeAmount: "2500000",
			NetAmount: "97500000",
			Status:    SettlementConfirmed,
		})
	}))
	defer server.Close()

	facilitator, err := NewFacilitatorClient(FacilitatorConfig{BaseURL: server.URL, AgentID: "agent-a"})
	if err != nil {
		t.Fatalf("new facilitator: %v", err)
	}
	store := journal.NewMemoryStore()
	engine, signer := newTestEngine(t, nil, facilitator, WithJournal(store))

	intent, err := engine.CreatePaymentRequest("agent-a", "agent-b", 100, "USDC", "batch inference")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	proof, err := engine.ExecutePayment(context.Background(), intent, testRecipient)
	if err != nil {
		t.Fatalf("execute payment: %v", err)
	}

	if proof.Status != SettlementConfirmed {
		t.Fatalf("status = %q, want confirmed", proof.Status)
	}
	if proof.TxHash != "0xaaa" {
		t.Fatalf("tx hash = %q", proof.TxHash)
	}
	if proof.FeeAmount != "2500000" {
		t.Fatalf("fee amount = %q", proof.FeeAmount)
	}
	if got.Header.Signature == "" {
		t.Fatal("settle request carried no signature")
	}
	if got.Header.Sender != signer.Address().Hex() {
		t.Fatalf("sender = %q, want %q", got.Header.Sender, signer.Address().Hex())
	}
	if got.Requirements.PayTo != testRecipient {
		t.Fatalf("payTo = %q, want recipient", got.Requirements.PayTo)
	}

	record, err := store.Get(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != string(SettlementConfirmed) {
		t.Fatalf("journal status = %q", record.Status)
	}
}

func TestExecutePaymentNativeConfirmed(t *testing.T) {
	backend := newFakeBackend()
	amountHash := common.HexToHash("0x01")
	feeHash := common.HexToHash("0x02")
	backend.queueSend(amountHash, nil, coretypes.ReceiptStatusSuccessful)
	backend.queueSend(feeHash, nil, coretypes.ReceiptStatusSuccessful)

	store := journal.NewMemoryStore()
	engine, _ := newTestEngine(t, backend, nil, WithJournal(store))

	intent, err := engine.CreatePaymentRequest("agent-a", "agent-b", 2, "ETH", "settlement")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	proof, err := engine.ExecutePayment(context.Background(), intent, testRecipient)
	if err != nil {
		t.Fatalf("execute payment: %v", err)
	}

	if proof.Status != SettlementConfirmed {
		t.Fatalf("status = %q, want confirmed", proof.Status)
	}
	if proof.TxHash != amountHash.Hex() || proof.TxHashFee != feeHash.Hex() {
		t.Fatalf("hashes = %q / %q", proof.TxHash, proof.TxHashFee)
	}
	if len(backend.sent) != 2 {
		t.Fatalf("sends = %d, want 2", len(backend.sent))
	}
	if backend.sent[0] != common.HexToAddress(testRecipient) {
		t.Fatalf("first transfer went to %s", backend.sent[0].Hex())
	}
	if backend.sent[1] != common.HexToAddress(testTreasury) {
		t.Fatalf("fee transfer went to %s", backend.sent[1].Hex())
	}
}

func TestExecutePaymentNativePartialSettlement(t *testing.T) {
	backend := newFakeBackend()
	amountHash := common.HexToHash("0x01")
	backend.queueSend(amountHash, nil, coretypes.ReceiptStatusSuccessful)
	backend.queueSend(common.Hash{}, fmt.Errorf("nonce too low"), 0)

	store := journal.NewMemoryStore()
	engine, _ := newTestEngine(t, backend, nil, WithJournal(store))

	intent, err := engine.CreatePaymentRequest("agent-a", "agent-b", 2, "ETH", "settlement")
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	proof, err := engine.ExecutePayment(context.Background(), intent, testRecipient)
	if err == nil {
		t.Fatal("expected a payment error")
	}
	if xerrors.CodeOf(err) != xerrors.CodePayment {
		t.Fatalf("code = %v, want payment", xerrors.CodeOf(err))
	}
	if proof == nil {
		t.Fatal("partial settlement must still return the proof")
	}
	if proof.Status != SettlementPartial {
		t.Fatalf("status = %q, want partial_settlement", proof.Status)
	}
	if proof.TxHash != amountHash.Hex() {
		t.Fatalf("amount hash = %q", proof.TxHash)
	}

	record, err := store.Get(context.Background(), intent.ID)
	if err != nil {
		t.Fatalf("journal get: %v", err)
	}
	if record.Status != string(SettlementPartial) {
		t.Fatalf("journal status = %q", record.Status)
	}
}

func TestRetryFeeTransfer(t *testing.T) {
	backend := newFakeBackend()
	feeHash := common.HexToHash("0x0f")
	backend.queueSend(feeHash, nil, coretypes.ReceiptStatusSuccessful)

	store := journal.NewMemoryStore()
	engine, _ := newTestEngine(t, backend, nil, WithJournal(store))

	proof := &Proof{
		IntentID:  "intent-1",
		Currency:  "ETH",
		Recipient: testRecipient,
		Amount:    "2000000000000000000",
		FeeAmount: "50000000000000000",
		TxHash:    "0x01",
		ChainID:   84532,
		Status:    SettlementPartial,
	}
	updated, err := engine.RetryFeeTransfer(context.Background(), proof)
	if err != nil {
		t.Fatalf("retry fee: %v", err)
	}
	if updated.Status != SettlementConfirmed {
		t.Fatalf("status = %q, want confirmed", updated.Status)
	}
	if updated.TxHashFee != feeHash.Hex() {
		t.Fatalf("fee hash = %q", updated.TxHashFee)
	}
	if backend.sent[0] != common.HexToAddress(testTreasury) {
		t.Fatalf("fee retry went to %s", backend.sent[0].Hex())
	}
}

func TestRetryFeeTransferRejectsNonPartial(t *testing.T) {
	engine, _ := newTestEngine(t, newFakeBackend(), nil)

	_, err := engine.RetryFeeTransfer(context.Background(), &Proof{Status: SettlementConfirmed})
	if err == nil {
		t.Fatal("expected error for confirmed proof")
	}
}

func TestVerifyPayment(t *testing.T) {
	backend := newFakeBackend()
	engine, _ := newTestEngine(t, backend, nil)

	txHash := common.HexToHash("0x01")
	to := common.HexToAddress(testRecipient)
	backend.txs[txHash] = coretypes.NewTx(&coretypes.LegacyTx{To: &to, Value: big.NewInt(1)})
	backend.receipts[txHash] = &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful, TxHash: txHash}

	proof := &Proof{TxHash: txHash.Hex(), Recipient: testRecipient}
	if !engine.VerifyPayment(context.Background(), proof) {
		t.Fatal("expected verification to succeed")
	}

	// A second call is served from the cache even if the ledger entry
	// disappears.
	delete(backend.txs, txHash)
	if !engine.VerifyPayment(context.Background(), proof) {
		t.Fatal("expected cached verification to succeed")
	}
}

func TestVerifyPaymentRecipientMismatch(t *testing.T) {
	backend := newFakeBackend()
	engine, _ := newTestEngine(t, backend, nil)

	txHash := common.HexToHash("0x01")
	other := common.HexToAddress(testTreasury)
	backend.txs[txHash] = coretypes.NewTx(&coretypes.LegacyTx{To: &other, Value: big.NewInt(1)})
	backend.receipts[txHash] = &coretypes.Receipt{Status: coretypes.ReceiptStatusSuccessful, TxHash: txHash}

	proof := &Proof{TxHash: txHash.Hex(), Recipient: testRecipient}
	if engine.VerifyPayment(context.Background(), proof) {
		t.Fatal("expected verification to fail on recipient mismatch")
	}
}

func TestVerifyPaymentPendingAndMissing(t *testing.T) {
	backend := newFakeBackend()
	engine, _ := newTestEngine(t, backend, nil)

	if engine.VerifyPayment(context.Background(), &Proof{TxHash: "0x02", Recipient: testRecipient}) {
		t.Fatal("expected verification to fail for unknown transaction")
	}

	txHash := common.HexToHash("0x03")
	to := common.HexToAddress(testRecipient)
	backend.txs[txHash] = coretypes.NewTx(&coretypes.LegacyTx{To: &to, Value: big.NewInt(1)})
	backend.pending[txHash] = true
	if engine.VerifyPayment(context.Background(), &Proof{TxHash: txHash.Hex(), Recipient: testRecipient}) {
		t.Fatal("expected verification to fail while pending")
	}

	if engine.VerifyPayment(context.Background(), nil) {
		t.Fatal("expected nil proof to fail")
	}
}

func TestToSmallestUnit(t *testing.T) {
	cases := []struct {
		amount   float64
		decimals int
		want     string
	}{
		{100, 6, "100000000"},
		{1.5, 6, "1500000"},
		{0.000001, 6, "1"},
		{2, 18, "2000000000000000000"},
	}
	for _, tc := range cases {
		if got := toSmallestUnit(tc.amount, tc.decimals).String(); got != tc.want {
			t.Errorf("toSmallestUnit(%v, %d) = %s, want %s", tc.amount, tc.decimals, got, tc.want)
		}
	}
}

func TestValidityWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	after, before := validityWindow(now, time.Hour)
	if after.Int64() != now.Unix() {
		t.Fatalf("validAfter = %d", after.Int64())
	}
	if before.Int64() != now.Add(time.Hour).Unix() {
		t.Fatalf("validBefore = %d", before.Int64())
	}
}
