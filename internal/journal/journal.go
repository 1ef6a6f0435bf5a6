package journal

import (
	"context"
	"sync"
	"time"

	xerrors "AgentFlow-Chain/internal/errors"
)

// Record is one durable row describing an executed payment: enough to
// resume verification or fee recovery after a crash.
type Record struct {
	IntentID  string `json:"intent_id"`
	Currency  string `json:"currency"`
	Recipient string `json:"recipient"`
	Amount    string `json:"amount"`
	FeeAmount string `json:"fee_amount,omitempty"`
	TxHash    string `json:"tx_hash"`
	TxHashFee string `json:"tx_hash_fee,omitempty"`
	ChainID   uint64 `json:"chain_id"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// ErrRecordNotFound is returned when an intent has no journal entry.
var ErrRecordNotFound = xerrors.New(xerrors.CodeConfiguration, "journal record not found")

// Store persists payment records. Save is an upsert keyed by intent id.
type Store interface {
	Save(ctx context.Context, record Record) error
	Get(ctx context.Context, intentID string) (*Record, error)
	ListLatest(ctx context.Context, limit int) ([]Record, error)
	Close() error
}

// MemoryStore keeps records in process memory, mainly for tests and for
// callers that opt out of durability.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	order   []string
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, record Record) error {
	if record.IntentID == "" {
		return xerrors.New(xerrors.CodeConfiguration, "journal record requires an intent id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().Unix()
	if existing, ok := m.records[record.IntentID]; ok {
		record.CreatedAt = existing.CreatedAt
	} else {
		if record.CreatedAt == 0 {
			record.CreatedAt = now
		}
		m.order = append(m.order, record.IntentID)
	}
	record.UpdatedAt = now
	m.records[record.IntentID] = record
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, intentID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[intentID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	clone := record
	return &clone, nil
}

// ListLatest implements Store, newest first.
func (m *MemoryStore) ListLatest(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.order) {
		limit = len(m.order)
	}
	out := make([]Record, 0, limit)
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[m.order[i]])
	}
	return out, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
