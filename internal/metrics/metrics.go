package metrics

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

type requestKey struct {
	operation string
	code      string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram() *histogram {
	buckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets)+1)}
}

func (h *histogram) observe(seconds float64) {
	idx := sort.SearchFloat64s(h.buckets, seconds)
	h.counts[idx]++
	h.sum += seconds
	h.count++
}

// Registry accumulates request and retry counters for one client instance.
// It is owned by the client rather than living in package state so several
// independently configured clients never share counters.
type Registry struct {
	mu       sync.Mutex
	requests map[requestKey]uint64
	retries  map[string]uint64
	latency  map[string]*histogram
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		requests: make(map[requestKey]uint64),
		retries:  make(map[string]uint64),
		latency:  make(map[string]*histogram),
	}
}

// ObserveRequest records one completed HTTP round trip. status 0 means the
// request never produced a response.
func (r *Registry) ObserveRequest(operation string, status int, duration time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests[requestKey{operation: operation, code: strconv.Itoa(status)}]++
	h, ok := r.latency[operation]
	if !ok {
		h = newHistogram()
		r.latency[operation] = h
	}
	h.observe(duration.Seconds())
}

// ObserveRetry records a scheduled retry for an operation.
func (r *Registry) ObserveRetry(operation string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries[operation]++
}

// RequestCount returns the number of requests for an operation and status.
func (r *Registry) RequestCount(operation string, status int) uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[requestKey{operation: operation, code: strconv.Itoa(status)}]
}

// RetryCount returns the number of retries recorded for an operation.
func (r *Registry) RetryCount(operation string) uint64 {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.retries[operation]
}

// Snapshot summarises latency for an operation: observation count and the
// accumulated seconds.
func (r *Registry) Snapshot(operation string) (count uint64, sumSeconds float64) {
	if r == nil {
		return 0, 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.latency[operation]; ok {
		return h.count, h.sum
	}
	return 0, 0
}
