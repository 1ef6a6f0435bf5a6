package payment

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Scheme is the only payment scheme this client speaks.
const Scheme = "exact"

// Asset describes one settleable token on the configured network.
// AuthorizationCapable marks assets implementing the
// transfer-with-authorization pattern, which settle gaslessly through the
// facilitator with a single signature.
type Asset struct {
	Address              string `yaml:"address"`
	Decimals             int    `yaml:"decimals"`
	Name                 string `yaml:"name"`
	Version              string `yaml:"version"`
	AuthorizationCapable bool   `yaml:"authorization_capable"`
}

// Intent is a priced payment before any signing or network traffic.
type Intent struct {
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	Amount      float64   `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	ProtocolFee float64   `json:"protocol_fee"`
	CreatedAt   time.Time `json:"created_at"`
}

// Requirements is the x402-style requirements struct produced once per
// priced resource. MaxAmountRequired is in the asset's smallest unit.
type Requirements struct {
	Scheme            string            `json:"scheme"`
	Network           string            `json:"network"`
	MaxAmountRequired string            `json:"maxAmountRequired"`
	Resource          string            `json:"resource"`
	Description       string            `json:"description"`
	PayTo             string            `json:"payTo"`
	Asset             string            `json:"asset"`
	MaxTimeoutSeconds int               `json:"maxTimeoutSeconds"`
	Extra             map[string]string `json:"extra,omitempty"`
}

// TransferAuthorization is the structured message signed for a gasless
// transfer. Value is in the asset's smallest unit; the nonce is single-use
// per signer and asset.
type TransferAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Header is the signed wire form of a TransferAuthorization.
type Header struct {
	Sender      string `json:"sender"`
	Nonce       string `json:"nonce"`
	ValidAfter  int64  `json:"validAfter"`
	ValidBefore int64  `json:"validBefore"`
	Signature   string `json:"signature"`
}

// SettlementStatus is the facilitator's view of a settlement.
type SettlementStatus string

const (
	SettlementPending   SettlementStatus = "pending"
	SettlementPartial   SettlementStatus = "partial_settlement"
	SettlementConfirmed SettlementStatus = "confirmed"
	SettlementFailed    SettlementStatus = "failed"
)

// SettlementResult is the facilitator settlement response. NetAmount is
// authoritative when present: the facilitator may apply the same fee rate
// with different rounding, so the client never recomputes it.
type SettlementResult struct {
	Success   bool             `json:"success"`
	TxHash    string           `json:"txHash,omitempty"`
	TxHashFee string           `json:"txHashFee,omitempty"`
	FeeAmount string           `json:"feeAmount,omitempty"`
	NetAmount string           `json:"netAmount,omitempty"`
	Status    SettlementStatus `json:"status"`
	Error     string           `json:"error,omitempty"`
}

// Proof records an executed payment: transaction hashes, chain and
// confirmation status. It is what VerifyPayment later checks against the
// ledger.
type Proof struct {
	IntentID  string           `json:"intent_id"`
	Currency  string           `json:"currency"`
	Recipient string           `json:"recipient"`
	Amount    string           `json:"amount"`
	FeeAmount string           `json:"fee_amount,omitempty"`
	TxHash    string           `json:"tx_hash"`
	TxHashFee string           `json:"tx_hash_fee,omitempty"`
	ChainID   uint64           `json:"chain_id"`
	Status    SettlementStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
}
