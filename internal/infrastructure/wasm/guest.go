package wasm

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/reglet-dev/i2cgate/internal/domain/handles"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/wasm/hostfuncs"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
)

// DefaultEntry is the export Run calls when no entry point is given.
const DefaultEntry = "_start"

// Guest is a compiled guest module. Each Instantiate gets a fresh
// instance identity and its own linear memory.
type Guest struct {
	name     string
	module   wazero.CompiledModule
	runtime  wazero.Runtime
	registry *handles.Registry
	stdout   io.Writer
	stderr   io.Writer
}

// Name returns the name the guest was loaded under.
func (g *Guest) Name() string {
	return g.name
}

// createModuleConfig builds the wazero module configuration for one instance.
// Start functions are disabled so the caller controls when the entry runs.
func (g *Guest) createModuleConfig(id handles.InstanceID) wazero.ModuleConfig {
	return wazero.NewModuleConfig().
		WithName(string(id)).
		WithArgs(g.name).
		WithStartFunctions().
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStdout(g.stdout).
		WithStderr(g.stderr)
}

// Instantiate creates a new instance of the guest. The returned instance
// must be closed to release its handles.
func (g *Guest) Instantiate(ctx context.Context) (*Instance, error) {
	id := hostfuncs.NewInstanceID(g.name)
	ctx = hostfuncs.WithGuestName(ctx, g.name)

	mod, err := g.runtime.InstantiateModule(ctx, g.module, g.createModuleConfig(id))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate guest %s: %w", g.name, err)
	}

	inst := &Instance{id: id, guest: g, module: mod}

	// WASI reactors built with -buildmode=c-shared need _initialize first.
	if initFn := mod.ExportedFunction("_initialize"); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			_ = inst.Close(ctx)
			return nil, fmt.Errorf("failed to initialize guest %s: %w", g.name, err)
		}
	}

	slog.Debug("guest instantiated", "guest", g.name, "instance", id)
	return inst, nil
}

// Run instantiates the guest, calls entry to completion and closes the
// instance. An empty entry runs DefaultEntry.
func (g *Guest) Run(ctx context.Context, entry string) (*RunResult, error) {
	if entry == "" {
		entry = DefaultEntry
	}

	start := time.Now()
	inst, err := g.Instantiate(ctx)
	if err != nil {
		return nil, err
	}

	result := &RunResult{Guest: g.name, Instance: inst.ID(), Entry: entry}
	_, callErr := inst.Call(ctx, entry)
	result.HandlesIssued = len(g.registry.Handles(inst.ID()))

	closeErr := inst.Close(ctx)
	result.Duration = time.Since(start)

	if callErr != nil {
		return result, callErr
	}
	if closeErr != nil {
		return result, fmt.Errorf("failed to close guest %s: %w", g.name, closeErr)
	}
	return result, nil
}

// Instance is one live instantiation of a guest.
type Instance struct {
	id        handles.InstanceID
	guest     *Guest
	module    api.Module
	closeOnce sync.Once
	closeErr  error
}

// ID returns the identity host functions resolve this instance to.
func (i *Instance) ID() handles.InstanceID {
	return i.id
}

// Memory returns the instance's exported linear memory, or nil.
func (i *Instance) Memory() api.Memory {
	return i.module.Memory()
}

// Call invokes an exported function. A WASI exit with code 0 is success.
func (i *Instance) Call(ctx context.Context, name string, params ...uint64) ([]uint64, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, fmt.Errorf("guest %s does not export %s()", i.guest.name, name)
	}

	ctx = hostfuncs.WithGuestName(ctx, i.guest.name)
	results, err := fn.Call(ctx, params...)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("guest %s: %s() failed: %w", i.guest.name, name, err)
	}
	return results, nil
}

// Close closes the module instance and releases every handle issued to it.
// It is safe to call more than once.
func (i *Instance) Close(ctx context.Context) error {
	i.closeOnce.Do(func() {
		i.closeErr = i.module.Close(ctx)
		released := i.guest.registry.Release(i.id)
		slog.Debug("guest instance closed",
			"guest", i.guest.name,
			"instance", i.id,
			"handles_released", released)
	})
	return i.closeErr
}
