package wasm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/reglet-dev/i2cgate/internal/domain/handles"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/wasm/hostfuncs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"periph.io/x/conn/v3/i2c"
)

// globalCache speeds up compilation across runtimes.
var globalCache = wazero.NewCompilationCache()

// ErrNoBus is returned by NewRuntime when Options.Bus is nil.
var ErrNoBus = errors.New("no I2C bus configured")

// Options configures a Runtime.
type Options struct {
	// Bus every guest transaction is mediated onto.
	Bus i2c.Bus
	// Grants resolves the permissions a guest receives on open.
	Grants hostfuncs.GrantResolver
	// HostModule is the import module name of the I2C functions.
	HostModule string
	// MaxTransferBytes caps a single read or write.
	MaxTransferBytes uint32
	// MemoryLimitMB: 0 = default (256MB), -1 = unlimited, >0 = explicit.
	MemoryLimitMB int
	// Stdout and Stderr receive guest WASI output. Both default to os.Stderr.
	Stdout io.Writer
	Stderr io.Writer
}

// Runtime manages guest compilation and owns the handle registry shared by
// every instance it creates.
type Runtime struct {
	runtime  wazero.Runtime
	mu       sync.RWMutex      // Protects guests map from concurrent access
	guests   map[string]*Guest // Loaded guests by name
	registry *handles.Registry
	mediator *hostfuncs.Mediator
	stdout   io.Writer
	stderr   io.Writer
}

// NewRuntime creates a wazero runtime with WASI and the I2C host module.
func NewRuntime(ctx context.Context, opts Options) (*Runtime, error) {
	if opts.Bus == nil {
		return nil, ErrNoBus
	}

	memoryLimitMB := opts.MemoryLimitMB
	switch {
	case memoryLimitMB == 0:
		memoryLimitMB = 256
		slog.Debug("using default WASM memory limit", "mb", memoryLimitMB)
	case memoryLimitMB == -1:
		slog.Warn("WASM memory limit disabled (unlimited memory)")
	case memoryLimitMB > 0:
		if memoryLimitMB < 4 {
			slog.Warn("WASM memory limit very low, guests may fail", "mb", memoryLimitMB)
		}
	default:
		return nil, fmt.Errorf("invalid WASM memory limit: %d (must be >= -1)", memoryLimitMB)
	}

	// Guests are closed once their context is done, so deadlines stop busy loops.
	config := wazero.NewRuntimeConfig().
		WithCompilationCache(globalCache).
		WithCloseOnContextDone(true)
	if memoryLimitMB > 0 {
		// 1 page = 64KB
		pages := uint32(memoryLimitMB * 16) //nolint:gosec // G115: bounded by config validation
		config = config.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, config)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	registry := handles.NewRegistry()
	mediator := hostfuncs.NewMediator(registry, opts.Bus, hostfuncs.MediatorConfig{
		Grants:           opts.Grants,
		MaxTransferBytes: opts.MaxTransferBytes,
	})

	if err := hostfuncs.RegisterHostFunctions(ctx, r, opts.HostModule, mediator); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to register host functions: %w", err)
	}

	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stderr
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	return &Runtime{
		runtime:  r,
		guests:   make(map[string]*Guest),
		registry: registry,
		mediator: mediator,
		stdout:   stdout,
		stderr:   stderr,
	}, nil
}

// Registry returns the handle registry shared by all guest instances.
func (r *Runtime) Registry() *handles.Registry {
	return r.registry
}

// LoadGuest compiles and caches a guest module.
func (r *Runtime) LoadGuest(ctx context.Context, name string, wasmBytes []byte) (*Guest, error) {
	// Fast path
	r.mu.RLock()
	if g, ok := r.guests[name]; ok {
		r.mu.RUnlock()
		return g, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Another goroutine may have loaded it while we waited for the lock
	if g, ok := r.guests[name]; ok {
		return g, nil
	}

	compiled, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile guest %s: %w", name, err)
	}

	g := &Guest{
		name:     name,
		module:   compiled,
		runtime:  r.runtime,
		registry: r.registry,
		stdout:   r.stdout,
		stderr:   r.stderr,
	}
	r.guests[name] = g

	return g, nil
}

// GetGuest retrieves a loaded guest by name.
func (r *Runtime) GetGuest(name string) (*Guest, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.guests[name]
	return g, ok
}

// Close closes the runtime and every instance still open.
func (r *Runtime) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
