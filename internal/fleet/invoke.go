package fleet

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/spherolink/internal/protocol/correlator"
	"github.com/nerrad567/spherolink/internal/protocol/packet"
)

// Invocation addresses a named command to a member. Args are positional;
// Named is used instead when set. Numbers decoded from JSON are accepted.
type Invocation struct {
	Toy     string         `json:"toy"`
	Command string         `json:"command"`
	Args    []any          `json:"args,omitempty"`
	Named   map[string]any `json:"named,omitempty"`

	// Timeout bounds the whole call including pacing. Zero leaves it to the
	// command's own response timeout.
	Timeout time.Duration `json:"-"`
}

// Arguments returns whichever argument form the invocation carries, for
// logging and auditing.
func (inv Invocation) Arguments() any {
	if inv.Named != nil {
		return inv.Named
	}
	if len(inv.Args) > 0 {
		return inv.Args
	}
	return nil
}

// Invoke runs inv on the named member and returns the decoded result.
func (f *Fleet) Invoke(ctx context.Context, inv Invocation) (any, error) {
	t, err := f.Get(inv.Toy)
	if err != nil {
		return nil, err
	}
	if inv.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	var result any
	if inv.Named != nil {
		result, err = t.CallNamed(ctx, inv.Command, inv.Named)
	} else {
		result, err = t.Call(ctx, inv.Command, inv.Args...)
	}
	if err != nil {
		f.logger.Debug("command failed", "toy", inv.Toy, "command", inv.Command, "error", err)
		return nil, err
	}
	return result, nil
}

// ExecuteRaw sends a raw request to the named member.
func (f *Fleet) ExecuteRaw(ctx context.Context, name string, req correlator.Request) (packet.Packet, error) {
	t, err := f.Get(name)
	if err != nil {
		return packet.Packet{}, err
	}
	resp, err := t.Execute(ctx, req)
	if err != nil {
		return packet.Packet{}, fmt.Errorf("raw %02x:%02x: %w", req.DeviceID, req.CommandID, err)
	}
	return resp, nil
}
