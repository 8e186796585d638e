package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/bus"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/system"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/wasm"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/wasm/wasmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestGuestName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"sensor.wasm", "sensor"},
		{"/opt/guests/display.wasm", "display"},
		{"relative/dir/logger", "logger"},
		{"weird.name.wasm", "weird.name"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, guestName(tt.path))
		})
	}
}

func TestReadGuests(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.wasm")
	require.NoError(t, os.WriteFile(a, wasmtest.AppGuest, 0o600))

	sources, err := readGuests([]string{a})
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "a", sources[0].name)
	assert.Equal(t, wasmtest.AppGuest, sources[0].wasm)

	_, err = readGuests([]string{filepath.Join(dir, "missing.wasm")})
	assert.Error(t, err)

	other := filepath.Join(dir, "sub")
	require.NoError(t, os.Mkdir(other, 0o755))
	b := filepath.Join(other, "a.wasm")
	require.NoError(t, os.WriteFile(b, wasmtest.AppGuest, 0o600))
	_, err = readGuests([]string{a, b})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `share the name "a"`)
}

func TestRunGuests(t *testing.T) {
	ctx := context.Background()
	cfg := system.DefaultConfig()
	rec := &i2ctest.Record{Bus: bus.NewSimulated()}

	set := permissions.NewGrantSet()
	set.Set("readonly", permissions.ReadOnly())

	sources := []guestSource{
		{name: "readonly", wasm: wasmtest.AppGuest},
		{name: "full", wasm: wasmtest.AppGuest},
	}

	results, err := runGuests(ctx, cfg, rec, set, sources, wasm.DefaultEntry, 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "readonly", results[0].Guest)
	assert.Equal(t, "full", results[1].Guest)
	for _, r := range results {
		assert.Equal(t, 1, r.HandlesIssued)
	}

	// readonly's write is rejected before the bus: 1 + 2 transactions
	assert.Len(t, rec.Ops, 3)

	var out bytes.Buffer
	require.NoError(t, printResults(&out, results))
	assert.Contains(t, out.String(), "GUEST")
	assert.Contains(t, out.String(), "readonly")
	assert.Contains(t, out.String(), "full")
}

func TestRunGuests_DefaultAccessNone(t *testing.T) {
	ctx := context.Background()
	cfg := system.DefaultConfig()
	cfg.DefaultAccess = string(system.AccessNone)
	rec := &i2ctest.Record{Bus: bus.NewSimulated()}

	results, err := runGuests(ctx, cfg, rec, permissions.NewGrantSet(),
		[]guestSource{{name: "app", wasm: wasmtest.AppGuest}}, "", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Empty(t, rec.Ops)
}

func TestRunGuests_MissingEntry(t *testing.T) {
	ctx := context.Background()
	cfg := system.DefaultConfig()

	results, err := runGuests(ctx, cfg, bus.NewSimulated(), permissions.NewGrantSet(),
		[]guestSource{
			{name: "app", wasm: wasmtest.AppGuest},
			{name: "proxy", wasm: wasmtest.ProxyGuest},
		}, "call_open", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "guest app does not export call_open()")
	require.Len(t, results, 2)
	require.NotNil(t, results[1])
	assert.Equal(t, 1, results[1].HandlesIssued)
}

func TestRunGuests_InvalidModule(t *testing.T) {
	_, err := runGuests(context.Background(), system.DefaultConfig(), bus.NewSimulated(), permissions.NewGrantSet(),
		[]guestSource{{name: "junk", wasm: []byte("junk")}}, "", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to compile guest junk")
}

func TestOpenBus_Simulated(t *testing.T) {
	cfg := system.DefaultConfig()
	cfg.Simulate = true

	b, err := openBus(cfg)
	require.NoError(t, err)
	assert.IsType(t, &bus.Simulated{}, b)
	assert.NoError(t, b.Close())
}
