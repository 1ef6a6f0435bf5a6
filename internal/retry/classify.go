package retry

import (
	"context"
	stdErrors "errors"
	"net"
	"net/http"
	"syscall"

	xerrors "AgentFlow-Chain/internal/errors"
)

// ErrorInfo is the classifier verdict for a single transport outcome.
// Invariant: Retryable implies Category == transient.
type ErrorInfo struct {
	StatusCode int
	Category   xerrors.Category
	Retryable  bool
}

// ClassifyTransportError maps a network-level failure (no HTTP response was
// received) to a verdict. Connection failures and timeouts are transient;
// anything unrecognised is unknown and not retried.
func ClassifyTransportError(err error) ErrorInfo {
	if err == nil {
		return ErrorInfo{Category: xerrors.CategoryUnknown}
	}
	if isConnectionFailure(err) {
		return ErrorInfo{Category: xerrors.CategoryTransient, Retryable: true}
	}
	if isTimeout(err) {
		return ErrorInfo{Category: xerrors.CategoryTransient, Retryable: true}
	}
	return ErrorInfo{Category: xerrors.CategoryUnknown}
}

// ClassifyStatus maps an HTTP status code to a verdict.
func ClassifyStatus(status int) ErrorInfo {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return ErrorInfo{StatusCode: status, Category: xerrors.CategoryAuth}
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return ErrorInfo{StatusCode: status, Category: xerrors.CategoryTransient, Retryable: true}
	case status >= 400:
		return ErrorInfo{StatusCode: status, Category: xerrors.CategoryPermanent}
	default:
		return ErrorInfo{StatusCode: status, Category: xerrors.CategoryUnknown}
	}
}

// CodeFor translates a verdict into the unified error code used when
// constructing the typed error surfaced to callers.
func CodeFor(info ErrorInfo, timedOut bool) xerrors.Code {
	switch info.Category {
	case xerrors.CategoryAuth:
		return xerrors.CodeAuth
	case xerrors.CategoryTransient:
		if info.StatusCode != 0 {
			return xerrors.CodeRemote
		}
		if timedOut {
			return xerrors.CodeTimeout
		}
		return xerrors.CodeConnection
	case xerrors.CategoryPermanent:
		return xerrors.CodeRemote
	default:
		return xerrors.CodeUnknown
	}
}

func isConnectionFailure(err error) bool {
	var dnsErr *net.DNSError
	if stdErrors.As(err, &dnsErr) {
		return true
	}
	if stdErrors.Is(err, syscall.ECONNREFUSED) || stdErrors.Is(err, syscall.ECONNRESET) || stdErrors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var opErr *net.OpError
	if stdErrors.As(err, &opErr) {
		return !opErr.Timeout()
	}
	return false
}

func isTimeout(err error) bool {
	if stdErrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if stdErrors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}

// IsTimeout reports whether an error is a network or deadline timeout. The
// submit path uses it to distinguish failures that may have reached the
// server from pure connection failures.
func IsTimeout(err error) bool {
	return isTimeout(err)
}
