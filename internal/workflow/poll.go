package workflow

import (
	"context"
	stdErrors "errors"
	"time"

	"AgentFlow-Chain/internal/events"
)

// WaitOptions bounds a WaitForCompletion call. Zero fields default from
// the client configuration.
type WaitOptions struct {
	MaxWait      time.Duration
	PollInterval time.Duration
	// OnProgress is invoked for every observation, including the
	// terminal one.
	OnProgress func(*Status)
}

// WaitForCompletion polls a workflow until it reaches a terminal state or
// the wall-clock budget runs out. Polls are strictly sequential. The
// deadline is carried by a derived context so an in-flight poll is
// cancelled when MaxWait elapses mid-request; the between-poll check still
// decides which error is returned, so a WaitTimeoutError always carries
// the most recent observation.
func (c *Client) WaitForCompletion(ctx context.Context, workflowID string, opts WaitOptions) (*Status, error) {
	maxWait := opts.MaxWait
	if maxWait <= 0 {
		maxWait = c.maxWait
	}
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = c.pollInterval
	}

	start := time.Now()
	waitCtx, cancel := context.WithDeadline(ctx, start.Add(maxWait))
	defer cancel()

	var last *Status
	for {
		status, err := c.Get(waitCtx, workflowID)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, newWaitTimeoutError(workflowID, maxWait, last)
			}
			return nil, err
		}
		last = status
		c.observe(ctx, status)
		if opts.OnProgress != nil {
			opts.OnProgress(status)
		}

		switch status.State {
		case StateCompleted:
			return status, nil
		case StateFailed:
			return nil, newFailedError(status)
		}

		if time.Since(start) >= maxWait {
			return nil, newWaitTimeoutError(workflowID, maxWait, last)
		}
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, newWaitTimeoutError(workflowID, maxWait, last)
		case <-time.After(pollInterval):
		}
	}
}

// observe fans one observation out to the configured publisher, if any.
// Delivery failures are logged and swallowed.
func (c *Client) observe(ctx context.Context, status *Status) {
	if c.events == nil || status == nil {
		return
	}
	obs := events.Observation{
		WorkflowID: status.ID,
		Type:       string(status.Type),
		State:      string(status.State),
		Step:       status.Step,
		Terminal:   status.State.Terminal(),
		UpdatedAt:  status.UpdatedAt,
		ObservedAt: time.Now(),
	}
	if err := c.events.Publish(ctx, obs); err != nil && !stdErrors.Is(err, context.Canceled) {
		c.logger.Warn("dropping workflow observation", "workflow_id", status.ID, "error", err.Error())
	}
}
