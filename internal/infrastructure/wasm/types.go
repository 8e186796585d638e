// Package wasm runs untrusted guest modules under wazero with the I2C host
// functions linked in. It owns the handle registry and ties each guest
// instance's handles to the instance's lifetime.
package wasm

import (
	"time"

	"github.com/reglet-dev/i2cgate/internal/domain/handles"
)

// RunResult summarizes one completed guest run.
type RunResult struct {
	Guest         string
	Instance      handles.InstanceID
	Entry         string
	HandlesIssued int
	Duration      time.Duration
}
