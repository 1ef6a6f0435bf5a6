package events

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestMemoryPublisherBuffersInOrder(t *testing.T) {
	publisher := NewMemoryPublisher(0)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		obs := Observation{
			WorkflowID: fmt.Sprintf("wf-%d", i),
			State:      "RUNNING",
			ObservedAt: time.Now(),
		}
		if err := publisher.Publish(ctx, obs); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	observations := publisher.Observations()
	if len(observations) != 3 {
		t.Fatalf("observations = %d", len(observations))
	}
	for i, obs := range observations {
		if obs.WorkflowID != fmt.Sprintf("wf-%d", i) {
			t.Fatalf("observation %d = %+v", i, obs)
		}
	}
}

func TestMemoryPublisherEvictsOldest(t *testing.T) {
	publisher := NewMemoryPublisher(2)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := publisher.Publish(ctx, Observation{WorkflowID: fmt.Sprintf("wf-%d", i)}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	observations := publisher.Observations()
	if len(observations) != 2 {
		t.Fatalf("observations = %d, want bounded to 2", len(observations))
	}
	if observations[0].WorkflowID != "wf-3" || observations[1].WorkflowID != "wf-4" {
		t.Fatalf("retained = %+v", observations)
	}
}
