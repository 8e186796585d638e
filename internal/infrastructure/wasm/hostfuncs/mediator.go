package hostfuncs

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/reglet-dev/i2cgate/internal/domain/handles"
	"github.com/reglet-dev/i2cgate/internal/domain/outcome"
	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
	"periph.io/x/conn/v3/i2c"
)

// DefaultMaxTransferBytes caps a single read or write. It matches the
// Linux i2c-dev per-message limit.
const DefaultMaxTransferBytes = 8192

// GrantResolver returns the permissions a guest receives on Acquire.
type GrantResolver func(guest string) permissions.Permissions

// Caller is the calling module instance as resolved from the engine.
type Caller struct {
	ID     handles.InstanceID
	Guest  string
	Memory GuestMemory
}

// MediatorConfig configures a Mediator.
type MediatorConfig struct {
	// Grants resolves per-guest permissions. Nil issues permissions.Default().
	Grants GrantResolver
	// MaxTransferBytes caps one transfer. 0 uses DefaultMaxTransferBytes.
	MaxTransferBytes uint32
}

// Mediator sits between guests and the bus. Every operation resolves the
// caller, looks the handle up under the caller's own registry entry,
// checks permissions and translates guest buffers before the bus is touched.
type Mediator struct {
	registry    *handles.Registry
	bus         i2c.Bus
	grants      GrantResolver
	maxTransfer uint32
}

// NewMediator creates a mediator over registry and bus.
func NewMediator(registry *handles.Registry, bus i2c.Bus, cfg MediatorConfig) *Mediator {
	grants := cfg.Grants
	if grants == nil {
		grants = func(string) permissions.Permissions { return permissions.Default() }
	}
	maxTransfer := cfg.MaxTransferBytes
	if maxTransfer == 0 {
		maxTransfer = DefaultMaxTransferBytes
	}
	return &Mediator{
		registry:    registry,
		bus:         bus,
		grants:      grants,
		maxTransfer: maxTransfer,
	}
}

// Registry returns the handle registry the mediator consults.
func (m *Mediator) Registry() *handles.Registry {
	return m.registry
}

// Acquire issues a new handle to the caller with the guest's granted permissions.
func (m *Mediator) Acquire(ctx context.Context, caller Caller) (handles.Handle, error) {
	if caller.ID == "" {
		return 0, outcome.ErrNullIdentity
	}

	perms := m.grants(caller.Guest)
	h, err := m.registry.Issue(caller.ID, perms)
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "hostfuncs: issued I2C handle",
		"instance", caller.ID,
		"guest", caller.Guest,
		"handle", h,
		"permissions", perms.String())
	return h, nil
}

// Write transmits length bytes at offset in guest memory to addr.
func (m *Mediator) Write(ctx context.Context, caller Caller, h handles.Handle, addr uint16, length, offset uint32) error {
	if err := m.authorize(caller, h, permissions.OpWrite, addr, uint64(length)); err != nil {
		return err
	}

	view, err := guestBuffer(caller.Memory, offset, uint64(length), m.maxTransfer)
	if err != nil {
		return err
	}
	// The view aliases guest memory; the bus gets a host-owned copy.
	data := bytes.Clone(view)

	if err := m.bus.Tx(addr, data, nil); err != nil {
		return fmt.Errorf("%w: write %d bytes to %s on %s: %w",
			outcome.ErrDevice, len(data), permissions.FormatAddress(addr), m.bus, err)
	}

	slog.DebugContext(ctx, "hostfuncs: i2c write completed",
		"instance", caller.ID, "handle", h, "addr", permissions.FormatAddress(addr), "len", len(data))
	return nil
}

// Read requests exactly length bytes from addr and stores them at offset in
// guest memory. Guest memory is only written after the transfer succeeded.
func (m *Mediator) Read(ctx context.Context, caller Caller, h handles.Handle, addr uint16, length uint64, offset uint32) error {
	if err := m.authorize(caller, h, permissions.OpRead, addr, length); err != nil {
		return err
	}

	if _, err := guestBuffer(caller.Memory, offset, length, m.maxTransfer); err != nil {
		return err
	}
	if length == 0 {
		return nil
	}

	data := make([]byte, length)
	if err := m.bus.Tx(addr, nil, data); err != nil {
		return fmt.Errorf("%w: read %d bytes from %s on %s: %w",
			outcome.ErrDevice, length, permissions.FormatAddress(addr), m.bus, err)
	}

	if !caller.Memory.Write(offset, data) {
		return fmt.Errorf("%w: offset %d length %d", outcome.ErrInvalidBuffer, offset, length)
	}

	slog.DebugContext(ctx, "hostfuncs: i2c read completed",
		"instance", caller.ID, "handle", h, "addr", permissions.FormatAddress(addr), "len", length)
	return nil
}

// authorize resolves the caller's handle and checks op against it.
func (m *Mediator) authorize(caller Caller, h handles.Handle, op permissions.Operation, addr uint16, length uint64) error {
	if caller.ID == "" {
		return outcome.ErrNullIdentity
	}

	perms, ok := m.registry.Lookup(caller.ID, h)
	if !ok {
		return fmt.Errorf("%w: handle %d", outcome.ErrUnknownHandle, h)
	}

	if err := perms.Check(op, addr, length, caller.Guest); err != nil {
		return fmt.Errorf("handle %d: %w", h, err)
	}
	return nil
}
