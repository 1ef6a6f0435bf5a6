package events

import (
	"context"
	"sync"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"
)

// Observation is one workflow status observation fanned out to interested
// consumers while a caller waits for completion.
type Observation struct {
	WorkflowID string    `json:"workflow_id"`
	Type       string    `json:"type"`
	State      string    `json:"state"`
	Step       string    `json:"step,omitempty"`
	Terminal   bool      `json:"terminal"`
	UpdatedAt  time.Time `json:"updated_at"`
	ObservedAt time.Time `json:"observed_at"`
}

// Publisher fans workflow observations out to an external consumer. Publish
// failures are surfaced so the caller can decide to log-and-continue; the
// workflow client treats event delivery as best effort.
type Publisher interface {
	Publish(ctx context.Context, obs Observation) error
	Close() error
}

// MemoryPublisher buffers observations in memory, mainly for tests and for
// processes that inspect progress after the fact.
type MemoryPublisher struct {
	mu       sync.Mutex
	limit    int
	buffered []Observation
}

// NewMemoryPublisher creates a publisher retaining at most limit
// observations (oldest evicted first).
func NewMemoryPublisher(limit int) *MemoryPublisher {
	if limit <= 0 {
		limit = 256
	}
	return &MemoryPublisher{limit: limit}
}

// Publish implements Publisher.
func (p *MemoryPublisher) Publish(_ context.Context, obs Observation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buffered = append(p.buffered, obs)
	if len(p.buffered) > p.limit {
		p.buffered = p.buffered[len(p.buffered)-p.limit:]
	}
	return nil
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }

// Observations returns a copy of the buffered observations in order.
func (p *MemoryPublisher) Observations() []Observation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Observation, len(p.buffered))
	copy(out, p.buffered)
	return out
}

// ErrPublisherClosed is returned when publishing after Close.
var ErrPublisherClosed = xerrors.New(xerrors.CodeConfiguration, "event publisher is closed")
