package hostfuncs

import (
	"context"
	"log/slog"
	"math"

	"github.com/reglet-dev/i2cgate/internal/domain/handles"
	"github.com/reglet-dev/i2cgate/internal/domain/outcome"
	"github.com/tetratelabs/wazero/api"
)

// resolveCaller identifies the calling module instance. An anonymous or
// missing module yields a Caller with an empty ID.
func resolveCaller(ctx context.Context, mod api.Module) Caller {
	if mod == nil {
		return Caller{}
	}

	id := handles.InstanceID(mod.Name())
	guest, ok := GuestNameFromContext(ctx)
	if !ok {
		guest = GuestFromInstanceID(id)
	}

	caller := Caller{ID: id, Guest: guest}
	if mem := mod.Memory(); mem != nil {
		caller.Memory = mem
	}
	return caller
}

// I2COpen implements the `open` host function.
// Returns: handle (i32), 0 when the caller cannot be served.
func I2COpen(ctx context.Context, mod api.Module, stack []uint64, m *Mediator) {
	caller := resolveCaller(ctx, mod)

	h, err := m.Acquire(ctx, caller)
	if err != nil {
		slog.WarnContext(ctx, "hostfuncs: i2c open rejected",
			"instance", caller.ID,
			"guest", caller.Guest,
			"error", err)
		stack[0] = 0
		return
	}
	stack[0] = api.EncodeU32(uint32(h))
}

// I2CWrite implements the `write` host function.
// Parameters: handle (i32), addr (i32), length (i32), offset (i32)
// Returns: outcome code (i32)
func I2CWrite(ctx context.Context, mod api.Module, stack []uint64, m *Mediator) {
	caller := resolveCaller(ctx, mod)
	h := handles.Handle(api.DecodeU32(stack[0]))
	rawAddr := api.DecodeU32(stack[1])
	length := api.DecodeU32(stack[2])
	offset := api.DecodeU32(stack[3])

	slog.DebugContext(ctx, "hostfuncs: i2c write called",
		"instance", caller.ID, "handle", h, "addr", rawAddr, "len", length, "offset", offset)

	var err error
	if rawAddr > math.MaxUint16 {
		err = outcome.ErrAddressDenied
	} else {
		err = m.Write(ctx, caller, h, uint16(rawAddr), length, offset)
	}
	stack[0] = finish(ctx, "write", caller, h, err)
}

// I2CRead implements the `read` host function.
// Parameters: handle (i32), addr (i32), length (i64), offset (i32)
// Returns: outcome code (i32)
func I2CRead(ctx context.Context, mod api.Module, stack []uint64, m *Mediator) {
	caller := resolveCaller(ctx, mod)
	h := handles.Handle(api.DecodeU32(stack[0]))
	rawAddr := api.DecodeU32(stack[1])
	length := stack[2]
	offset := api.DecodeU32(stack[3])

	slog.DebugContext(ctx, "hostfuncs: i2c read called",
		"instance", caller.ID, "handle", h, "addr", rawAddr, "len", length, "offset", offset)

	var err error
	if rawAddr > math.MaxUint16 {
		err = outcome.ErrAddressDenied
	} else {
		err = m.Read(ctx, caller, h, uint16(rawAddr), length, offset)
	}
	stack[0] = finish(ctx, "read", caller, h, err)
}

// finish logs a failed call host-side and reduces err to the wire code.
func finish(ctx context.Context, op string, caller Caller, h handles.Handle, err error) uint64 {
	code := outcome.CodeOf(err)
	if err != nil {
		slog.WarnContext(ctx, "hostfuncs: i2c "+op+" rejected",
			"instance", caller.ID,
			"guest", caller.Guest,
			"handle", h,
			"code", code.String(),
			"error", err)
	}
	return api.EncodeU32(uint32(code))
}
