package workflow

import (
	"fmt"
	"strings"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"
)

// Type names the orchestration workflow kinds the client can start.
type Type string

const (
	TypeWorkSubmission  Type = "work_submission"
	TypeScoreSubmission Type = "score_submission"
	TypeCloseEpoch      Type = "close_epoch"
)

// State is the server-side workflow state. COMPLETED and FAILED are
// terminal; everything else keeps the poll loop going.
type State string

const (
	StateCreated   State = "CREATED"
	StateRunning   State = "RUNNING"
	StateStalled   State = "STALLED"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transition can occur.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ScoreMode selects how a score submission is settled on the ledger.
type ScoreMode string

const (
	ScoreModeDirect       ScoreMode = "direct"
	ScoreModeCommitReveal ScoreMode = "commit_reveal"
)

// WeightDenominator is the required sum of a contribution weight vector,
// expressed in basis points.
const WeightDenominator = 10000

// Request is a workflow submission payload. Implementations are immutable
// value types; Validate runs before any network traffic.
type Request interface {
	Endpoint() string
	Validate() error
}

// WorkSubmission starts a work archival + on-chain submission workflow.
// EvidenceContent is raw bytes; the JSON encoder transmits it as base64.
type WorkSubmission struct {
	StudioAddress   string `json:"studio_address"`
	Epoch           uint64 `json:"epoch"`
	AgentAddress    string `json:"agent_address"`
	DataHash        string `json:"data_hash"`
	ThreadRoot      string `json:"thread_root,omitempty"`
	EvidenceRoot    string `json:"evidence_root,omitempty"`
	EvidenceContent []byte `json:"evidence_content,omitempty"`
	SignerAddress   string `json:"signer_address"`
}

// Endpoint implements Request.
func (WorkSubmission) Endpoint() string { return "/workflows/work-submission" }

// Validate implements Request.
func (r WorkSubmission) Validate() error {
	switch {
	case strings.TrimSpace(r.StudioAddress) == "":
		return xerrors.New(xerrors.CodeConfiguration, "work submission requires a studio address")
	case strings.TrimSpace(r.AgentAddress) == "":
		return xerrors.New(xerrors.CodeConfiguration, "work submission requires an agent address")
	case strings.TrimSpace(r.DataHash) == "":
		return xerrors.New(xerrors.CodeConfiguration, "work submission requires a data hash")
	case strings.TrimSpace(r.SignerAddress) == "":
		return xerrors.New(xerrors.CodeConfiguration, "work submission requires a signer address")
	}
	return nil
}

// ScoreSubmission starts a scoring workflow. Direct mode names the worker
// being scored; commit-reveal mode carries the salt for the reveal phase.
type ScoreSubmission struct {
	StudioAddress string    `json:"studio_address"`
	Epoch         uint64    `json:"epoch"`
	Mode          ScoreMode `json:"mode"`
	Scores        []uint64  `json:"scores"`
	WorkerAddress string    `json:"worker_address,omitempty"`
	Salt          string    `json:"salt,omitempty"`
	SignerAddress string    `json:"signer_address"`
}

// Endpoint implements Request.
func (ScoreSubmission) Endpoint() string { return "/workflows/score-submission" }

// Validate implements Request.
func (r ScoreSubmission) Validate() error {
	if strings.TrimSpace(r.StudioAddress) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "score submission requires a studio address")
	}
	if strings.TrimSpace(r.SignerAddress) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "score submission requires a signer address")
	}
	if len(r.Scores) == 0 {
		return xerrors.New(xerrors.CodeConfiguration, "score submission requires at least one score")
	}
	var sum uint64
	for i, score := range r.Scores {
		if score > WeightDenominator {
			return xerrors.New(xerrors.CodeConfiguration,
				fmt.Sprintf("score %d exceeds %d basis points at index %d", score, WeightDenominator, i))
		}
		sum += score
	}
	if sum != WeightDenominator {
		return xerrors.New(xerrors.CodeConfiguration,
			fmt.Sprintf("contribution weights sum to %d, want exactly %d", sum, WeightDenominator))
	}
	switch r.Mode {
	case ScoreModeDirect:
		if strings.TrimSpace(r.WorkerAddress) == "" {
			return xerrors.New(xerrors.CodeConfiguration, "direct score submission requires a worker address")
		}
	case ScoreModeCommitReveal:
		if strings.TrimSpace(r.Salt) == "" {
			return xerrors.New(xerrors.CodeConfiguration, "commit-reveal score submission requires a salt")
		}
	default:
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported score mode %q", r.Mode))
	}
	return nil
}

// CloseEpoch starts an epoch-close workflow for a studio.
type CloseEpoch struct {
	StudioAddress string `json:"studio_address"`
	Epoch         uint64 `json:"epoch"`
	SignerAddress string `json:"signer_address"`
}

// Endpoint implements Request.
func (CloseEpoch) Endpoint() string { return "/workflows/close-epoch" }

// Validate implements Request.
func (r CloseEpoch) Validate() error {
	if strings.TrimSpace(r.StudioAddress) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "close epoch requires a studio address")
	}
	if strings.TrimSpace(r.SignerAddress) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "close epoch requires a signer address")
	}
	return nil
}

// Progress records sub-step artefacts. Fields stay empty until the
// corresponding step has executed, so the wire form is sparse.
type Progress struct {
	ArchiveTxID   string `json:"archive_tx_id,omitempty"`
	TxHash        string `json:"tx_hash,omitempty"`
	BlockNumber   uint64 `json:"block_number,omitempty"`
	Confirmations uint64 `json:"confirmations,omitempty"`
}

// Failure describes a terminal server-side failure.
type Failure struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Status is the workflow status envelope returned by the orchestrator.
type Status struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	State     State     `json:"state"`
	Step      string    `json:"step,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Progress  Progress  `json:"progress"`
	Error     *Failure  `json:"error,omitempty"`
}

// Health is the orchestrator health envelope.
type Health struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ListFilter narrows a workflow listing. Empty fields are omitted from the
// query string.
type ListFilter struct {
	Studio string
	State  State
	Type   Type
}

// FailedError is returned when a workflow reaches the FAILED terminal
// state. It carries the server-reported failure verbatim.
type FailedError struct {
	WorkflowID string
	Status     *Status
	inner      error
}

func newFailedError(status *Status) *FailedError {
	message := "workflow failed"
	step := ""
	code := ""
	if status != nil && status.Error != nil {
		message = status.Error.Message
		step = status.Error.Step
		code = status.Error.Code
	}
	id := ""
	if status != nil {
		id = status.ID
	}
	inner := xerrors.New(xerrors.CodeWorkflowFail, message,
		xerrors.WithMetadata("step", step),
		xerrors.WithMetadata("code", code),
	)
	return &FailedError{WorkflowID: id, Status: status, inner: inner}
}

func (e *FailedError) Error() string {
	if e.Status != nil && e.Status.Error != nil {
		return fmt.Sprintf("workflow %s failed at step %q: %s", e.WorkflowID, e.Status.Error.Step, e.Status.Error.Message)
	}
	return fmt.Sprintf("workflow %s failed", e.WorkflowID)
}

func (e *FailedError) Unwrap() error { return e.inner }

// WaitTimeoutError is returned when WaitForCompletion exhausts its wall
// clock budget. LastStatus is the most recent observation, if any.
type WaitTimeoutError struct {
	WorkflowID string
	MaxWait    time.Duration
	LastStatus *Status
	inner      error
}

func newWaitTimeoutError(workflowID string, maxWait time.Duration, last *Status) *WaitTimeoutError {
	state := ""
	if last != nil {
		state = string(last.State)
	}
	inner := xerrors.New(xerrors.CodeTimeout, "workflow did not reach a terminal state in time",
		xerrors.WithMetadata("workflow_id", workflowID),
		xerrors.WithMetadata("last_state", state),
	)
	return &WaitTimeoutError{WorkflowID: workflowID, MaxWait: maxWait, LastStatus: last, inner: inner}
}

func (e *WaitTimeoutError) Error() string {
	if e.LastStatus != nil {
		return fmt.Sprintf("workflow %s still %s after %s", e.WorkflowID, e.LastStatus.State, e.MaxWait)
	}
	return fmt.Sprintf("workflow %s not terminal after %s", e.WorkflowID, e.MaxWait)
}

func (e *WaitTimeoutError) Unwrap() error { return e.inner }
