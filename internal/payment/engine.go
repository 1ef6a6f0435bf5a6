package payment

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"AgentFlow-Chain/internal/chain"
	xerrors "AgentFlow-Chain/internal/errors"
	"AgentFlow-Chain/internal/journal"
	"AgentFlow-Chain/internal/wallet"
	"AgentFlow-Chain/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
)

// DefaultFeeRate is the protocol fee fraction applied to every payment.
const DefaultFeeRate = 0.025

// EngineConfig describes the network the engine settles on.
type EngineConfig struct {
	Network        string           `yaml:"network"`
	ChainID        int64            `yaml:"chain_id"`
	FeeRate        float64          `yaml:"fee_rate"`
	Treasury       string           `yaml:"treasury"`
	ValidityWindow time.Duration    `yaml:"validity_window"`
	Assets         map[string]Asset `yaml:"assets"`
}

// Engine builds payment intents, signs transfer authorizations and drives
// settlement either directly on chain or through the facilitator.
type Engine struct {
	cfg         EngineConfig
	signer      wallet.Signer
	backend     chain.Backend
	facilitator *FacilitatorClient
	cache       VerificationCache
	journal     journal.Store
	logger      *slog.Logger
	now         func() time.Time
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithEngineLogger overrides the component logger.
func WithEngineLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithVerificationCache replaces the default in-memory cache.
func WithVerificationCache(cache VerificationCache) EngineOption {
	return func(e *Engine) {
		if cache != nil {
			e.cache = cache
		}
	}
}

// WithJournal records executed payments durably.
func WithJournal(store journal.Store) EngineOption {
	return func(e *Engine) {
		e.journal = store
	}
}

// WithClock injects the time source, used by tests for fixed windows.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine validates the configuration and builds an Engine.
func NewEngine(cfg EngineConfig, signer wallet.Signer, backend chain.Backend, facilitator *FacilitatorClient, opts ...EngineOption) (*Engine, error) {
	if cfg.Network == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "payment network is empty")
	}
	if cfg.ChainID <= 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "payment chain id is not set")
	}
	if signer == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "payment engine requires a signer")
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = DefaultFeeRate
	}
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = DefaultValidityWindow
	}
	e := &Engine{
		cfg:         cfg,
		signer:      signer,
		backend:     backend,
		facilitator: facilitator,
		cache:       NewMemoryCache(0),
		logger:      logger.Named("payment"),
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e, nil
}

// assetFor resolves the asset for a currency on the configured network.
func (e *Engine) assetFor(currency string) (Asset, error) {
	asset, ok := e.cfg.Assets[strings.ToUpper(strings.TrimSpace(currency))]
	if !ok {
		return Asset{}, xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("currency %q has no asset on network %q", currency, e.cfg.Network))
	}
	return asset, nil
}

// CreatePaymentRequest builds a priced intent. Pure computation: no
// signing, no network traffic.
func (e *Engine) CreatePaymentRequest(from, to string, amount float64, currency, description string) (*Intent, error) {
	if amount <= 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "payment amount must be positive")
	}
	asset, err := e.assetFor(currency)
	if err != nil {
		return nil, err
	}
	return &Intent{
		ID:          uuid.NewString(),
		From:        from,
		To:          to,
		Amount:      amount,
		Currency:    strings.ToUpper(strings.TrimSpace(currency)),
		Description: description,
		ProtocolFee: roundToDecimals(amount*e.cfg.FeeRate, asset.Decimals),
		CreatedAt:   e.now(),
	}, nil
}

// CreatePaymentRequirements fills the x402-style requirements struct for a
// priced resource, with the amount in the asset's smallest unit.
func (e *Engine) CreatePaymentRequirements(amount float64, currency, description string, metadata map[string]string) (*Requirements, error) {
	asset, err := e.assetFor(currency)
	if err != nil {
		return nil, err
	}
	reqs := &Requirements{
		Scheme:            Scheme,
		Network:           e.cfg.Network,
		MaxAmountRequired: toSmallestUnit(amount, asset.Decimals).String(),
		Description:       description,
		Asset:             asset.Address,
		MaxTimeoutSeconds: int(e.cfg.ValidityWindow.Seconds()),
	}
	if metadata != nil {
		reqs.Resource = metadata["resource"]
		reqs.PayTo = metadata["pay_to"]
		extra := make(map[string]string)
		for k, v := range metadata {
			if k != "resource" && k != "pay_to" {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			reqs.Extra = extra
		}
	}
	return reqs, nil
}

// NewTransferAuthorization builds an unsigned authorization from the
// engine's signer to the recipient with a fresh nonce and the configured
// validity window.
func (e *Engine) NewTransferAuthorization(to string, value *big.Int) (TransferAuthorization, error) {
	if value == nil || value.Sign() <= 0 {
		return TransferAuthorization{}, xerrors.New(xerrors.CodeConfiguration, "authorization value must be positive")
	}
	if !common.IsHexAddress(to) {
		return TransferAuthorization{}, xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("recipient %q is not a valid address", to))
	}
	nonce, err := newAuthorizationNonce()
	if err != nil {
		return TransferAuthorization{}, err
	}
	validAfter, validBefore := validityWindow(e.now(), e.cfg.ValidityWindow)
	return TransferAuthorization{
		From:        e.signer.Address(),
		To:          common.HexToAddress(to),
		Value:       value,
		ValidAfter:  validAfter,
		ValidBefore: validBefore,
		Nonce:       nonce,
	}, nil
}

// SignTransferAuthorization hashes the typed data for the currency's asset
// and signs it with the engine's key.
func (e *Engine) SignTransferAuthorization(currency string, auth TransferAuthorization) ([]byte, error) {
	asset, err := e.assetFor(currency)
	if err != nil {
		return nil, err
	}
	if !asset.AuthorizationCapable {
		return nil, xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("asset for %q does not support transfer authorizations", currency))
	}
	digest, err := transferDigest(asset, e.cfg.ChainID, auth)
	if err != nil {
		return nil, err
	}
	sig, err := e.signer.SignDigest(digest)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePayment, err, "sign transfer authorization")
	}
	logger.Audit().Info("authorization_signed",
		"from", auth.From.Hex(),
		"to", auth.To.Hex(),
		"value", auth.Value.String(),
		"valid_before", auth.ValidBefore.String(),
		"nonce", hexutil.Encode(auth.Nonce[:]),
	)
	return sig, nil
}

// HeaderFor packs an authorization and its signature into the wire form.
func HeaderFor(auth TransferAuthorization, signature []byte) Header {
	return Header{
		Sender:      auth.From.Hex(),
		Nonce:       hexutil.Encode(auth.Nonce[:]),
		ValidAfter:  auth.ValidAfter.Int64(),
		ValidBefore: auth.ValidBefore.Int64(),
		Signature:   hexutil.Encode(signature),
	}
}

// SettleWithFacilitator forwards a signed header to the facilitator.
func (e *Engine) SettleWithFacilitator(ctx context.Context, header Header, requirements Requirements) (*SettlementResult, error) {
	if e.facilitator == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "no facilitator configured")
	}
	return e.facilitator.Settle(ctx, header, requirements)
}

// ExecutePayment runs the full flow for an intent. Authorization-capable
// assets settle through the facilitator on a single signature; the native
// asset pays with two sequential transfers, amount then protocol fee.
func (e *Engine) ExecutePayment(ctx context.Context, intent *Intent, recipient string) (*Proof, error) {
	if intent == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "payment intent is nil")
	}
	if !common.IsHexAddress(recipient) {
		return nil, xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("recipient %q is not a valid address", recipient))
	}
	asset, err := e.assetFor(intent.Currency)
	if err != nil {
		return nil, err
	}
	if asset.AuthorizationCapable {
		return e.executeAuthorized(ctx, intent, recipient, asset)
	}
	return e.executeNative(ctx, intent, recipient, asset)
}

// executeAuthorized signs a single authorization for the full amount and
// lets the facilitator split the fee; the facilitator's reported amounts
// are authoritative.
func (e *Engine) executeAuthorized(ctx context.Context, intent *Intent, recipient string, asset Asset) (*Proof, error) {
	value := toSmallestUnit(intent.Amount, asset.Decimals)
	auth, err := e.NewTransferAuthorization(recipient, value)
	if err != nil {
		return nil, err
	}
	sig, err := e.SignTransferAuthorization(intent.Currency, auth)
	if err != nil {
		return nil, err
	}
	reqs, err := e.CreatePaymentRequirements(intent.Amount, intent.Currency, intent.Description, map[string]string{
		"intent_id": intent.ID,
	})
	if err != nil {
		return nil, err
	}
	reqs.PayTo = recipient

	result, err := e.SettleWithFacilitator(ctx, HeaderFor(auth, sig), *reqs)
	if err != nil {
		e.record(ctx, intent, recipient, value.String(), "", "", "", SettlementFailed)
		return nil, err
	}

	status := result.Status
	if status == "" {
		status = SettlementPending
	}
	proof := &Proof{
		IntentID:  intent.ID,
		Currency:  intent.Currency,
		Recipient: recipient,
		Amount:    value.String(),
		FeeAmount: result.FeeAmount,
		TxHash:    result.TxHash,
		TxHashFee: result.TxHashFee,
		ChainID:   uint64(e.cfg.ChainID),
		Status:    status,
		CreatedAt: e.now(),
	}
	e.record(ctx, intent, recipient, proof.Amount, proof.FeeAmount, proof.TxHash, proof.TxHashFee, proof.Status)
	return proof, nil
}

// executeNative pays with two sequential transfers. The transfers are not
// atomic: a fee failure after a confirmed amount transfer yields a
// partial_settlement proof, journaled for RetryFeeTransfer.
func (e *Engine) executeNative(ctx context.Context, intent *Intent, recipient string, asset Asset) (*Proof, error) {
	if e.backend == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "no chain backend configured for native payments")
	}
	amount := toSmallestUnit(intent.Amount, asset.Decimals)
	fee := toSmallestUnit(intent.ProtocolFee, asset.Decimals)

	txHash, err := e.backend.SendNative(ctx, common.HexToAddress(recipient), amount)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodePayment, err, "send amount transfer")
	}
	proof := &Proof{
		IntentID:  intent.ID,
		Currency:  intent.Currency,
		Recipient: recipient,
		Amount:    amount.String(),
		FeeAmount: fee.String(),
		TxHash:    txHash.Hex(),
		ChainID:   uint64(e.cfg.ChainID),
		Status:    SettlementPending,
		CreatedAt: e.now(),
	}
	e.record(ctx, intent, recipient, proof.Amount, proof.FeeAmount, proof.TxHash, "", proof.Status)

	receipt, err := e.backend.WaitMined(ctx, txHash)
	if err != nil {
		return proof, xerrors.Wrap(xerrors.CodePayment, err, "amount transfer not confirmed")
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		proof.Status = SettlementFailed
		e.record(ctx, intent, recipient, proof.Amount, proof.FeeAmount, proof.TxHash, "", proof.Status)
		return proof, xerrors.New(xerrors.CodePayment, "amount transfer reverted",
			xerrors.WithMetadata("tx_hash", proof.TxHash))
	}

	if fee.Sign() > 0 {
		if !common.IsHexAddress(e.cfg.Treasury) {
			proof.Status = SettlementPartial
			e.record(ctx, intent, recipient, proof.Amount, proof.FeeAmount, proof.TxHash, "", proof.Status)
			return proof, xerrors.New(xerrors.CodeConfiguration, "treasury address missing for fee transfer")
		}
		feeHash, err := e.backend.SendNative(ctx, common.HexToAddress(e.cfg.Treasury), fee)
		if err != nil {
			proof.Status = SettlementPartial
			e.record(ctx, intent, recipient, proof.Amount, proof.FeeAmount, proof.TxHash, "", proof.Status)
			return proof, xerrors.Wrap(xerrors.CodePayment, err, "fee transfer failed after amount confirmed",
				xerrors.WithMetadata("tx_hash", proof.TxHash))
		}
		proof.TxHashFee = feeHash.Hex()
		if receipt, err := e.backend.WaitMined(ctx, feeHash); err != nil || receipt.Status != coretypes.ReceiptStatusSuccessful {
			proof.Status = SettlementPartial
			e.record(ctx, intent, recipient, proof.Amount, proof.FeeAmount, proof.TxHash, proof.TxHashFee, proof.Status)
			return proof, xerrors.New(xerrors.CodePayment, "fee transfer not confirmed after amount confirmed",
				xerrors.WithMetadata("tx_hash", proof.TxHash),
				xerrors.WithMetadata("tx_hash_fee", proof.TxHashFee))
		}
	}

	proof.Status = SettlementConfirmed
	e.record(ctx, intent, recipient, proof.Amount, proof.FeeAmount, proof.TxHash, proof.TxHashFee, proof.Status)
	logger.Audit().Info("payment_confirmed",
		"intent_id", intent.ID,
		"tx_hash", proof.TxHash,
		"tx_hash_fee", proof.TxHashFee,
		"amount", proof.Amount,
	)
	return proof, nil
}

// RetryFeeTransfer retries only the protocol fee leg of a partially
// settled native payment.
func (e *Engine) RetryFeeTransfer(ctx context.Context, proof *Proof) (*Proof, error) {
	if proof == nil || proof.Status != SettlementPartial {
		return nil, xerrors.New(xerrors.CodeConfiguration, "proof is not a partial settlement")
	}
	if e.backend == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "no chain backend configured")
	}
	fee, ok := new(big.Int).SetString(proof.FeeAmount, 10)
	if !ok || fee.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeConfiguration, "proof carries no recoverable fee amount")
	}
	if !common.IsHexAddress(e.cfg.Treasury) {
		return nil, xerrors.New(xerrors.CodeConfiguration, "treasury address missing for fee transfer")
	}
	feeHash, err := e.backend.SendNative(ctx, common.HexToAddress(e.cfg.Treasury), fee)
	if err != nil {
		return proof, xerrors.Wrap(xerrors.CodePayment, err, "fee retry failed")
	}
	proof.TxHashFee = feeHash.Hex()
	receipt, err := e.backend.WaitMined(ctx, feeHash)
	if err != nil {
		return proof, xerrors.Wrap(xerrors.CodePayment, err, "fee retry not confirmed")
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return proof, xerrors.New(xerrors.CodePayment, "fee retry reverted",
			xerrors.WithMetadata("tx_hash_fee", proof.TxHashFee))
	}
	proof.Status = SettlementConfirmed
	e.recordProof(ctx, proof)
	return proof, nil
}

// VerifyPayment re-reads the transaction and its receipt and checks the
// recipient. It returns false instead of an error on every failure path,
// logging the specific mismatch. Positive results are cached; a pending or
// failed read is re-checked next time.
func (e *Engine) VerifyPayment(ctx context.Context, proof *Proof) bool {
	if proof == nil || proof.TxHash == "" {
		e.logger.Warn("verify: proof has no transaction hash")
		return false
	}
	if e.backend == nil {
		e.logger.Warn("verify: no chain backend configured")
		return false
	}
	if verified, found := e.cache.Get(ctx, proof.TxHash); found {
		return verified
	}

	txHash := common.HexToHash(proof.TxHash)
	tx, pending, err := e.backend.TransactionByHash(ctx, txHash)
	if err != nil {
		e.logger.Warn("verify: transaction lookup failed", "tx_hash", proof.TxHash, "error", err.Error())
		return false
	}
	if pending {
		e.logger.Info("verify: transaction still pending", "tx_hash", proof.TxHash)
		return false
	}
	if tx.To() == nil || !strings.EqualFold(tx.To().Hex(), proof.Recipient) {
		e.logger.Warn("verify: recipient mismatch",
			"tx_hash", proof.TxHash,
			"expected", proof.Recipient,
		)
		return false
	}
	receipt, err := e.backend.TransactionReceipt(ctx, txHash)
	if err != nil {
		e.logger.Warn("verify: receipt lookup failed", "tx_hash", proof.TxHash, "error", err.Error())
		return false
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		e.logger.Warn("verify: receipt indicates failure", "tx_hash", proof.TxHash)
		return false
	}

	e.cache.Put(ctx, proof.TxHash, true)
	return true
}

func (e *Engine) record(ctx context.Context, intent *Intent, recipient, amount, feeAmount, txHash, txHashFee string, status SettlementStatus) {
	if e.journal == nil {
		return
	}
	err := e.journal.Save(ctx, journal.Record{
		IntentID:  intent.ID,
		Currency:  intent.Currency,
		Recipient: recipient,
		Amount:    amount,
		FeeAmount: feeAmount,
		TxHash:    txHash,
		TxHashFee: txHashFee,
		ChainID:   uint64(e.cfg.ChainID),
		Status:    string(status),
	})
	if err != nil {
		e.logger.Warn("journal write failed", "intent_id", intent.ID, "error", err.Error())
	}
}

func (e *Engine) recordProof(ctx context.Context, proof *Proof) {
	if e.journal == nil {
		return
	}
	err := e.journal.Save(ctx, journal.Record{
		IntentID:  proof.IntentID,
		Currency:  proof.Currency,
		Recipient: proof.Recipient,
		Amount:    proof.Amount,
		FeeAmount: proof.FeeAmount,
		TxHash:    proof.TxHash,
		TxHashFee: proof.TxHashFee,
		ChainID:   proof.ChainID,
		Status:    string(proof.Status),
	})
	if err != nil {
		e.logger.Warn("journal write failed", "intent_id", proof.IntentID, "error", err.Error())
	}
}

// roundToDecimals rounds half away from zero at the asset's precision.
func roundToDecimals(value float64, decimals int) float64 {
	scale := math.Pow10(decimals)
	return math.Round(value*scale) / scale
}

// toSmallestUnit converts a display amount to the asset's integer base
// unit, rounding to the nearest unit.
func toSmallestUnit(amount float64, decimals int) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), new(big.Float).SetFloat64(math.Pow10(decimals)))
	scaled.Add(scaled, big.NewFloat(0.5))
	result, _ := scaled.Int(nil)
	return result
}
