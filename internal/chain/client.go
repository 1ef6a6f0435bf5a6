package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"
	"AgentFlow-Chain/internal/wallet"

	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend is the narrow chain surface the payment engine needs: native
// transfers, receipt lookups and the chain id. Tests substitute a fake.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	SendNative(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
	TransactionByHash(ctx context.Context, txHash common.Hash) (*coretypes.Transaction, bool, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error)
}

// Config describes how to reach an EVM endpoint.
type Config struct {
	RPCURL      string
	ReceiptPoll time.Duration
	ReceiptWait time.Duration
}

// Client implements Backend over an ethclient connection.
type Client struct {
	eth         *ethclient.Client
	signer      wallet.Signer
	receiptPoll time.Duration
	receiptWait time.Duration

	mu      sync.Mutex
	chainID *big.Int
}

// Dial connects to the configured RPC endpoint.
func Dial(ctx context.Context, cfg Config, signer wallet.Signer) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "chain rpc url is empty")
	}
	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "dial chain rpc")
	}
	poll := cfg.ReceiptPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	wait := cfg.ReceiptWait
	if wait <= 0 {
		wait = 2 * time.Minute
	}
	return &Client{eth: eth, signer: signer, receiptPoll: poll, receiptWait: wait}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	if c.eth != nil {
		c.eth.Close()
	}
}

// ChainID returns the chain id, cached after the first call.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	cached := c.chainID
	c.mu.Unlock()
	if cached != nil {
		return new(big.Int).Set(cached), nil
	}
	id, err := c.eth.ChainID(ctx)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConnection, err, "fetch chain id")
	}
	c.mu.Lock()
	c.chainID = new(big.Int).Set(id)
	c.mu.Unlock()
	return id, nil
}

// SendNative signs and broadcasts a plain value transfer from the signer's
// account.
func (c *Client) SendNative(ctx context.Context, to common.Address, amount *big.Int) (common.Hash, error) {
	if c.signer == nil {
		return common.Hash{}, xerrors.New(xerrors.CodeConfiguration, "chain client has no signer")
	}
	chainID, err := c.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	from := c.signer.Address()
	nonce, err := c.eth.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeConnection, err, "fetch account nonce")
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeConnection, err, "fetch gas price")
	}
	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    amount,
		Gas:      21000,
		GasPrice: gasPrice,
	})
	signed, err := c.signer.SignTransaction(tx, chainID)
	if err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodePayment, err, "sign transfer")
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodePayment, err, "broadcast transfer")
	}
	return signed.Hash(), nil
}

// TransactionReceipt proxies the receipt lookup.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	return c.eth.TransactionReceipt(ctx, txHash)
}

// TransactionByHash proxies the transaction lookup.
func (c *Client) TransactionByHash(ctx context.Context, txHash common.Hash) (*coretypes.Transaction, bool, error) {
	return c.eth.TransactionByHash(ctx, txHash)
}

// WaitMined polls for the receipt until it appears or the wait budget runs
// out. The surrounding context still bounds each individual lookup.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*coretypes.Receipt, error) {
	deadline := time.Now().Add(c.receiptWait)
	for {
		receipt, err := c.eth.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if time.Now().After(deadline) {
			return nil, xerrors.New(xerrors.CodeTimeout, "transaction not mined before deadline",
				xerrors.WithMetadata("tx_hash", txHash.Hex()))
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "wait for receipt cancelled")
		case <-time.After(c.receiptPoll):
		}
	}
}
