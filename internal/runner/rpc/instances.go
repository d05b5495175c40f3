package rpc

import (
	"context"

	"github.com/bdobrica/lcsm/internal/runner/protocol"
)

// Ping sends the empty action, which a runner answers without doing anything.
func (c *Client) Ping(ctx context.Context) error {
	return c.Call(ctx, protocol.ActionNone, nil, nil)
}

// ListInstances returns every instance on the runner. Records may only carry
// id, name and the running flag.
func (c *Client) ListInstances(ctx context.Context) ([]protocol.Instance, error) {
	var out []protocol.Instance
	if err := c.Call(ctx, protocol.ActionListInstances, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetInstance returns one instance with its running flag.
func (c *Client) GetInstance(ctx context.Context, id int) (*protocol.Instance, error) {
	var out protocol.Instance
	if err := c.Call(ctx, protocol.ActionGetInstance, id, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateInstance creates an instance and returns it with its assigned id.
func (c *Client) CreateInstance(ctx context.Context, inst protocol.Instance) (*protocol.Instance, error) {
	inst.ID = 0
	var out protocol.Instance
	if err := c.Call(ctx, protocol.ActionCreateInstance, inst, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateInstance replaces the stored configuration of inst.ID.
func (c *Client) UpdateInstance(ctx context.Context, inst protocol.Instance) error {
	return c.Call(ctx, protocol.ActionUpdateInstance, inst, nil)
}

// DeleteInstance removes an instance record.
func (c *Client) DeleteInstance(ctx context.Context, id int) error {
	return c.Call(ctx, protocol.ActionDeleteInstance, id, nil)
}

// StartInstance launches the instance's process.
func (c *Client) StartInstance(ctx context.Context, id int) error {
	return c.Call(ctx, protocol.ActionStartInstance, id, nil)
}

// StopInstance asks the instance's process to exit.
func (c *Client) StopInstance(ctx context.Context, id int) error {
	return c.Call(ctx, protocol.ActionStopInstance, id, nil)
}

// TerminateInstance kills the instance's process.
func (c *Client) TerminateInstance(ctx context.Context, id int) error {
	return c.Call(ctx, protocol.ActionTerminateInstance, id, nil)
}

// ListImages returns the container images available on the runner host.
func (c *Client) ListImages(ctx context.Context) ([]protocol.Image, error) {
	var out []protocol.Image
	if err := c.Call(ctx, protocol.ActionListImages, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
