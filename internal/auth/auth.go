package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"
	"AgentFlow-Chain/internal/wallet"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Mode selects how outgoing requests are authenticated.
type Mode string

const (
	// ModeNone sends requests without credentials.
	ModeNone Mode = ""
	// ModeAPIKey sends a static key in X-API-Key.
	ModeAPIKey Mode = "api_key"
	// ModeSignature signs timestamp, method and path with the wallet key
	// and sends X-Signature / X-Timestamp / X-Address.
	ModeSignature Mode = "signature"
)

// Config describes the credentials available to the authenticator.
type Config struct {
	Mode   Mode   `yaml:"mode"`
	APIKey string `yaml:"api_key"`
}

// Authenticator decorates outgoing requests with one of the supported
// header schemes. It holds no per-request state and is safe for concurrent
// use.
type Authenticator struct {
	mode   Mode
	apiKey string
	signer wallet.Signer
	now    func() time.Time
}

// Option customises an Authenticator.
type Option func(*Authenticator)

// WithClock injects the time source, used by tests for fixed timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) {
		if now != nil {
			a.now = now
		}
	}
}

// New validates the configuration and builds an Authenticator. Signature
// mode requires a signer.
func New(cfg Config, signer wallet.Signer, opts ...Option) (*Authenticator, error) {
	switch cfg.Mode {
	case ModeNone:
	case ModeAPIKey:
		if cfg.APIKey == "" {
			return nil, xerrors.New(xerrors.CodeConfiguration, "api key mode selected but no key provided")
		}
	case ModeSignature:
		if signer == nil {
			return nil, xerrors.New(xerrors.CodeConfiguration, "signature mode selected but no signer provided")
		}
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported auth mode %q", cfg.Mode))
	}
	a := &Authenticator{mode: cfg.Mode, apiKey: cfg.APIKey, signer: signer, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Apply adds the authentication headers for the configured mode.
func (a *Authenticator) Apply(req *http.Request) error {
	if a == nil {
		return nil
	}
	switch a.mode {
	case ModeNone:
		return nil
	case ModeAPIKey:
		req.Header.Set("X-API-Key", a.apiKey)
		return nil
	case ModeSignature:
		timestamp := strconv.FormatInt(a.now().Unix(), 10)
		message := timestamp + req.Method + req.URL.Path
		digest := accounts.TextHash([]byte(message))
		sig, err := a.signer.SignDigest(digest)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeAuth, err, "sign request")
		}
		req.Header.Set("X-Signature", hexutil.Encode(sig))
		req.Header.Set("X-Timestamp", timestamp)
		req.Header.Set("X-Address", a.signer.Address().Hex())
		return nil
	default:
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported auth mode %q", a.mode))
	}
}
