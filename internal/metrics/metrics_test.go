package metrics

import (
	"testing"
	"time"
)

func TestObserveRequest(t *testing.T) {
	registry := NewRegistry()
	registry.ObserveRequest("submit", 200, 50*time.Millisecond)
	registry.ObserveRequest("submit", 200, 150*time.Millisecond)
	registry.ObserveRequest("submit", 503, 10*time.Millisecond)
	registry.ObserveRequest("get", 0, time.Second)

	if got := registry.RequestCount("submit", 200); got != 2 {
		t.Fatalf("submit 200 count = %d", got)
	}
	if got := registry.RequestCount("submit", 503); got != 1 {
		t.Fatalf("submit 503 count = %d", got)
	}
	if got := registry.RequestCount("get", 0); got != 1 {
		t.Fatalf("get transport-failure count = %d", got)
	}

	count, sum := registry.Snapshot("submit")
	if count != 3 {
		t.Fatalf("latency count = %d", count)
	}
	if sum <= 0.2 || sum >= 0.22 {
		t.Fatalf("latency sum = %v", sum)
	}
}

func TestObserveRetry(t *testing.T) {
	registry := NewRegistry()
	registry.ObserveRetry("submit")
	registry.ObserveRetry("submit")
	if got := registry.RetryCount("submit"); got != 2 {
		t.Fatalf("retry count = %d", got)
	}
	if got := registry.RetryCount("get"); got != 0 {
		t.Fatalf("retry count = %d", got)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.ObserveRequest("submit", 200, time.Millisecond)
	registry.ObserveRetry("submit")
	if registry.RequestCount("submit", 200) != 0 || registry.RetryCount("submit") != 0 {
		t.Fatal("nil registry must report zero")
	}
	if count, sum := registry.Snapshot("submit"); count != 0 || sum != 0 {
		t.Fatal("nil registry snapshot must be zero")
	}
}
