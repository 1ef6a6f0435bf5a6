package errors

import (
	stdErrors "errors"
	"fmt"
	"sync"
)

// Code identifies a failure class shared across the whole client.
type Code string

// Category groups codes by how a transport failure was classified.
// The classifier assigns it once; nothing downstream re-classifies.
type Category string

const (
	CategoryAuth      Category = "auth"
	CategoryTransient Category = "transient"
	CategoryPermanent Category = "permanent"
	CategoryUnknown   Category = "unknown"
)

// Severity describes how loud an error should be in logs and alerts.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Attributes supplies default behaviour for a code.
type Attributes struct {
	Message   string
	Category  Category
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown       Code = "UNKNOWN"
	CodeConnection    Code = "CONNECTION_FAILED"
	CodeTimeout       Code = "TIMEOUT"
	CodeAuth          Code = "AUTH_FAILED"
	CodeRemote        Code = "REMOTE_REJECTED"
	CodeWorkflowFail  Code = "WORKFLOW_FAILED"
	CodePayment       Code = "PAYMENT_FAILED"
	CodeConfiguration Code = "CONFIGURATION_INVALID"
	CodeExhausted     Code = "RETRIES_EXHAUSTED"
)

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{
		CodeUnknown: {
			Message:  "unknown error",
			Category: CategoryUnknown,
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeConnection: {
			Message:   "remote endpoint unreachable",
			Category:  CategoryTransient,
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
		CodeTimeout: {
			Message:   "operation timed out",
			Category:  CategoryTransient,
			Severity:  SeverityWarning,
			Retryable: true,
			Alert:     true,
		},
		CodeAuth: {
			Message:  "authentication rejected",
			Category: CategoryAuth,
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeRemote: {
			Message:  "remote service rejected the request",
			Category: CategoryPermanent,
			Severity: SeverityWarning,
		},
		CodeWorkflowFail: {
			Message:  "workflow reached a failed terminal state",
			Category: CategoryPermanent,
			Severity: SeverityWarning,
			Alert:    true,
		},
		CodePayment: {
			Message:  "payment could not be completed",
			Category: CategoryPermanent,
			Severity: SeverityCritical,
			Alert:    true,
		},
		CodeConfiguration: {
			Message:  "invalid client configuration",
			Category: CategoryPermanent,
			Severity: SeverityInfo,
		},
		CodeExhausted: {
			Message:  "retries exhausted",
			Category: CategoryTransient,
			Severity: SeverityWarning,
			Alert:    true,
		},
	}
)

// Register lets packages add code attributes during init.
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// AttributesOf returns the attributes for a code, falling back to UNKNOWN.
func AttributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error is the unified error type carried across every component. It keeps
// category, retryability and HTTP status as first-class fields so callers can
// branch programmatically instead of parsing messages.
type Error struct {
	code       Code
	message    string
	cause      error
	statusCode int
	body       string
	metadata   map[string]string
	category   *Category
	retryable  *bool
	alert      *bool
	severity   *Severity
}

// Option customises a new Error.
type Option func(*Error)

// WithStatusCode records the HTTP status that produced the error.
func WithStatusCode(status int) Option {
	return func(e *Error) {
		e.statusCode = status
	}
}

// WithBody attaches the raw response body for diagnostics.
func WithBody(body string) Option {
	return func(e *Error) {
		e.body = body
	}
}

// WithMetadata attaches an extra key/value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithCategory overrides the category derived from the code.
func WithCategory(category Category) Option {
	return func(e *Error) {
		e.category = &category
	}
}

// WithRetryable overrides the retryability derived from the code.
func WithRetryable(retryable bool) Option {
	return func(e *Error) {
		e.retryable = &retryable
	}
}

// WithAlert overrides whether the error should page somebody.
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// WithSeverity overrides the default severity.
func WithSeverity(sev Severity) Option {
	return func(e *Error) {
		e.severity = &sev
	}
}

// New creates an error for the given code.
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = AttributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap attaches a cause to a new unified error.
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is matches errors by code so sentinel comparisons work through wrapping.
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.code == t.code
}

// Code returns the error code.
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Message returns the human-readable message without the code prefix.
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// StatusCode returns the HTTP status that produced the error, or 0.
func (e *Error) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.statusCode
}

// Body returns the raw response body captured for diagnostics.
func (e *Error) Body() string {
	if e == nil {
		return ""
	}
	return e.body
}

// Metadata returns a copy of the attached metadata.
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Category returns the failure category.
func (e *Error) Category() Category {
	if e == nil {
		return CategoryUnknown
	}
	if e.category != nil {
		return *e.category
	}
	return AttributesOf(e.code).Category
}

// Retryable reports whether the operation may be retried.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	if e.retryable != nil {
		return *e.retryable
	}
	return AttributesOf(e.code).Retryable
}

// ShouldAlert reports whether the error warrants an alert.
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return AttributesOf(e.code).Alert
}

// Severity returns the error severity.
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	if e.severity != nil {
		return *e.severity
	}
	return AttributesOf(e.code).Severity
}

// From extracts the unified error type from an arbitrary error chain.
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of any error, or UNKNOWN.
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// CategoryOf returns the category of any error, or unknown.
func CategoryOf(err error) Category {
	if e, ok := From(err); ok {
		return e.Category()
	}
	return CategoryUnknown
}

// IsRetryable reports whether any error is retryable.
func IsRetryable(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert reports whether any error warrants an alert.
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}
