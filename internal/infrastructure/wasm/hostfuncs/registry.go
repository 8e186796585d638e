package hostfuncs

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// DefaultModuleName is the import module guests link the I2C functions from.
const DefaultModuleName = "i2c"

// Export names of the I2C host functions.
const (
	ExportOpen  = "open"
	ExportWrite = "write"
	ExportRead  = "read"
)

// RegisterHostFunctions registers the I2C host functions with the wazero runtime
func RegisterHostFunctions(ctx context.Context, runtime wazero.Runtime, moduleName string, m *Mediator) error {
	if moduleName == "" {
		moduleName = DefaultModuleName
	}

	builder := runtime.NewHostModuleBuilder(moduleName)

	// Returns: handle (i32)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			I2COpen(ctx, mod, stack, m)
		}), []api.ValueType{}, []api.ValueType{api.ValueTypeI32}).
		WithName("i2c_open").
		Export(ExportOpen)

	// Parameters: handle (i32), addr (i32), length (i32), offset (i32)
	// Returns: outcome code (i32)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			I2CWrite(ctx, mod, stack, m)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		WithParameterNames("handle", "addr", "len", "buffer_offset").
		Export(ExportWrite)

	// Parameters: handle (i32), addr (i32), length (i64), offset (i32)
	// Returns: outcome code (i32)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			I2CRead(ctx, mod, stack, m)
		}), []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		WithParameterNames("handle", "addr", "len", "buffer_offset").
		Export(ExportRead)

	_, err := builder.Instantiate(ctx)
	return err
}
