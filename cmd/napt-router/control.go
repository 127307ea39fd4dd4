package main

import (
	"context"
	"fmt"

	"github.com/AaronLay10/napt-router/internal/orchestrator"
	"github.com/AaronLay10/napt-router/internal/provisioning"
)

// controller exposes the device to the HTTP API. Every call hops onto the
// run loop.
type controller struct {
	d *device
}

func (c controller) Status(ctx context.Context) (orchestrator.Status, error) {
	var st orchestrator.Status
	err := c.d.do(ctx, func() { st = c.d.orch.Status() })
	return st, err
}

func (c controller) Trigger(ctx context.Context) error {
	return c.d.do(ctx, c.d.orch.OnTrigger)
}

func (c controller) Disable(ctx context.Context) error {
	return c.d.do(ctx, c.d.orch.Disable)
}

func (c controller) Provision(_ context.Context, creds provisioning.Credentials) error {
	if c.d.inbox == nil {
		return fmt.Errorf("credentials come from a provisioning script: %w", provisioning.ErrNotListening)
	}
	return c.d.inbox.Deliver(creds)
}
