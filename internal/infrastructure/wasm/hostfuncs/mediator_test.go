package hostfuncs

import (
	"context"
	"errors"
	"testing"

	"github.com/reglet-dev/i2cgate/internal/domain/handles"
	"github.com/reglet-dev/i2cgate/internal/domain/outcome"
	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
	"github.com/reglet-dev/i2cgate/internal/infrastructure/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/i2c/i2ctest"
	"periph.io/x/conn/v3/physic"
)

// fakeMemory is a bounds-checked linear memory backed by a byte slice.
type fakeMemory struct {
	buf    []byte
	writes int
}

func newFakeMemory(size int) *fakeMemory {
	return &fakeMemory{buf: make([]byte, size)}
}

func (f *fakeMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	if uint64(offset)+uint64(byteCount) > uint64(len(f.buf)) {
		return nil, false
	}
	return f.buf[offset : offset+byteCount], true
}

func (f *fakeMemory) Write(offset uint32, v []byte) bool {
	if uint64(offset)+uint64(len(v)) > uint64(len(f.buf)) {
		return false
	}
	copy(f.buf[offset:], v)
	f.writes++
	return true
}

// failingBus fails every transaction.
type failingBus struct{ calls int }

func (b *failingBus) String() string { return "failing" }
func (b *failingBus) SetSpeed(_ physic.Frequency) error { return nil }
func (b *failingBus) Tx(_ uint16, _, _ []byte) error {
	b.calls++
	return errors.New("nack")
}

func newCaller(id string, mem GuestMemory) Caller {
	return Caller{ID: handles.InstanceID(id), Guest: "sensor", Memory: mem}
}

func grantAll(p permissions.Permissions) GrantResolver {
	return func(string) permissions.Permissions { return p }
}

func TestMediator_Scenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{Bus: bus.NewSimulated()}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{})

	mem := newFakeMemory(64)
	copy(mem.buf[8:], []byte{0x01, 0x02, 0x03, 0x04})
	caller := newCaller("sensor#1", mem)

	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)
	assert.Equal(t, handles.Handle(1), h, "first handle is 1")

	err = m.Write(ctx, caller, h, 0x50, 4, 8)
	require.NoError(t, err)
	assert.Equal(t, outcome.None, outcome.CodeOf(err))

	err = m.Read(ctx, caller, h, 0x50, 3, 32)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x11, 0xAB, 0xCD}, mem.buf[32:35])
	assert.Equal(t, byte(0), mem.buf[35], "no bytes beyond the requested length")

	require.Len(t, rec.Ops, 2)
	assert.Equal(t, i2ctest.IO{Addr: 0x50, W: []byte{0x01, 0x02, 0x03, 0x04}}, rec.Ops[0])
	assert.Equal(t, i2ctest.IO{Addr: 0x50, R: []byte{0x11, 0xAB, 0xCD}}, rec.Ops[1])
}

func TestMediator_Acquire(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("unique handles per identity", func(t *testing.T) {
		t.Parallel()
		m := NewMediator(handles.NewRegistry(), bus.NewSimulated(), MediatorConfig{})
		caller := newCaller("sensor#1", nil)

		seen := make(map[handles.Handle]bool)
		for range 50 {
			h, err := m.Acquire(ctx, caller)
			require.NoError(t, err)
			assert.False(t, seen[h])
			seen[h] = true
		}
	})

	t.Run("null identity", func(t *testing.T) {
		t.Parallel()
		m := NewMediator(handles.NewRegistry(), bus.NewSimulated(), MediatorConfig{})
		h, err := m.Acquire(ctx, Caller{})
		assert.ErrorIs(t, err, outcome.ErrNullIdentity)
		assert.Zero(t, h)
		assert.Zero(t, m.Registry().Len())
	})

	t.Run("default permissions", func(t *testing.T) {
		t.Parallel()
		m := NewMediator(handles.NewRegistry(), bus.NewSimulated(), MediatorConfig{})
		caller := newCaller("sensor#1", nil)
		h, err := m.Acquire(ctx, caller)
		require.NoError(t, err)

		perms, ok := m.Registry().Lookup(caller.ID, h)
		require.True(t, ok)
		assert.True(t, perms.Equals(permissions.Default()))
	})

	t.Run("granted permissions", func(t *testing.T) {
		t.Parallel()
		var asked string
		m := NewMediator(handles.NewRegistry(), bus.NewSimulated(), MediatorConfig{
			Grants: func(guest string) permissions.Permissions {
				asked = guest
				return permissions.ReadOnly()
			},
		})
		caller := newCaller("sensor#1", nil)
		h, err := m.Acquire(ctx, caller)
		require.NoError(t, err)
		assert.Equal(t, "sensor", asked)

		perms, ok := m.Registry().Lookup(caller.ID, h)
		require.True(t, ok)
		assert.True(t, perms.Equals(permissions.ReadOnly()))
	})
}

func TestMediator_UnknownHandle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{})
	mem := newFakeMemory(64)
	for i := range mem.buf {
		mem.buf[i] = 0x5A
	}
	caller := newCaller("sensor#1", mem)

	err := m.Write(ctx, caller, 999, 0x50, 4, 0)
	assert.ErrorIs(t, err, outcome.ErrUnknownHandle)
	assert.Equal(t, outcome.Other, outcome.CodeOf(err))

	err = m.Read(ctx, caller, 999, 0x50, 4, 0)
	assert.ErrorIs(t, err, outcome.ErrUnknownHandle)
	assert.Equal(t, outcome.Other, outcome.CodeOf(err))

	assert.Empty(t, rec.Ops)
	assert.Zero(t, mem.writes)
	for _, b := range mem.buf {
		require.Equal(t, byte(0x5A), b)
	}
}

func TestMediator_ScopingIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{})
	a := newCaller("sensor#a", newFakeMemory(16))
	memB := newFakeMemory(16)
	b := newCaller("sensor#b", memB)

	h, err := m.Acquire(ctx, a)
	require.NoError(t, err)

	err = m.Write(ctx, b, h, 0x50, 4, 0)
	assert.ErrorIs(t, err, outcome.ErrUnknownHandle)
	err = m.Read(ctx, b, h, 0x50, 4, 0)
	assert.ErrorIs(t, err, outcome.ErrUnknownHandle)

	assert.Empty(t, rec.Ops)
	assert.Zero(t, memB.writes)
}

func TestMediator_WriteDenied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{Grants: grantAll(permissions.ReadOnly())})
	caller := newCaller("sensor#1", newFakeMemory(16))

	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	err = m.Write(ctx, caller, h, 0x50, 4, 0)
	assert.ErrorIs(t, err, outcome.ErrPermissionDenied)
	assert.Equal(t, outcome.Other, outcome.CodeOf(err))
	assert.Empty(t, rec.Ops, "device write must not be invoked")
}

func TestMediator_ReadDenied(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	playback := &i2ctest.Playback{DontPanic: true}
	m := NewMediator(handles.NewRegistry(), playback, MediatorConfig{Grants: grantAll(permissions.Permissions{CanWrite: true})})
	mem := newFakeMemory(16)
	caller := newCaller("sensor#1", mem)

	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	err = m.Read(ctx, caller, h, 0x50, 3, 0)
	assert.ErrorIs(t, err, outcome.ErrPermissionDenied)
	assert.Zero(t, playback.Count)
	assert.Zero(t, mem.writes)
	assert.Equal(t, make([]byte, 16), mem.buf)
}

func TestMediator_AddressAllowList(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{Bus: bus.NewSimulated()}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{
		Grants: grantAll(permissions.Permissions{
			CanRead:       true,
			CanWrite:      true,
			IsWhitelisted: true,
			Addresses:     []uint16{0x50},
		}),
	})
	caller := newCaller("sensor#1", newFakeMemory(16))
	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	require.NoError(t, m.Write(ctx, caller, h, 0x50, 1, 0))

	err = m.Write(ctx, caller, h, 0x68, 1, 0)
	assert.ErrorIs(t, err, outcome.ErrAddressDenied)
	err = m.Read(ctx, caller, h, 0x68, 1, 0)
	assert.ErrorIs(t, err, outcome.ErrAddressDenied)

	require.Len(t, rec.Ops, 1)
	assert.Equal(t, uint16(0x50), rec.Ops[0].Addr)
}

func TestMediator_Rule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	perms := permissions.Default()
	perms.Rule = permissions.MustCompileRule(`op == "read" || length <= 2`)
	rec := &i2ctest.Record{Bus: bus.NewSimulated()}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{Grants: grantAll(perms)})
	caller := newCaller("sensor#1", newFakeMemory(16))
	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	require.NoError(t, m.Write(ctx, caller, h, 0x50, 2, 0))
	assert.ErrorIs(t, m.Write(ctx, caller, h, 0x50, 3, 0), outcome.ErrAddressDenied)
	require.NoError(t, m.Read(ctx, caller, h, 0x50, 8, 0))
	assert.Len(t, rec.Ops, 2)
}

func TestMediator_TranslationFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	tests := []struct {
		name   string
		mem    GuestMemory
		length uint64
		offset uint32
	}{
		{"offset past end", newFakeMemory(16), 4, 100},
		{"range straddles end", newFakeMemory(16), 4, 14},
		{"offset near max uint32", newFakeMemory(16), 4, ^uint32(0) - 1},
		{"no linear memory", nil, 4, 0},
		{"above transfer limit", newFakeMemory(1 << 16), 4097, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := &i2ctest.Record{Bus: bus.NewSimulated()}
			m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{MaxTransferBytes: 4096})
			caller := newCaller("sensor#1", tt.mem)
			h, err := m.Acquire(ctx, caller)
			require.NoError(t, err)

			err = m.Write(ctx, caller, h, 0x50, uint32(tt.length), tt.offset)
			assert.ErrorIs(t, err, outcome.ErrInvalidBuffer)
			assert.Equal(t, outcome.Other, outcome.CodeOf(err))

			err = m.Read(ctx, caller, h, 0x50, tt.length, tt.offset)
			assert.ErrorIs(t, err, outcome.ErrInvalidBuffer)

			assert.Empty(t, rec.Ops, "translation failure must short-circuit the device")
			if fm, ok := tt.mem.(*fakeMemory); ok {
				assert.Zero(t, fm.writes)
			}
		})
	}
}

func TestMediator_ReadLengthAboveUint32(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{Bus: bus.NewSimulated()}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{MaxTransferBytes: ^uint32(0)})
	caller := newCaller("sensor#1", newFakeMemory(16))
	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	err = m.Read(ctx, caller, h, 0x50, 1<<32+2, 0)
	assert.ErrorIs(t, err, outcome.ErrInvalidBuffer)
	assert.Empty(t, rec.Ops)
}

func TestMediator_DeviceFailure(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	fb := &failingBus{}
	m := NewMediator(handles.NewRegistry(), fb, MediatorConfig{})
	mem := newFakeMemory(16)
	caller := newCaller("sensor#1", mem)
	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	err = m.Write(ctx, caller, h, 0x50, 4, 0)
	assert.ErrorIs(t, err, outcome.ErrDevice)
	assert.Equal(t, outcome.Device, outcome.CodeOf(err))
	assert.Contains(t, err.Error(), "nack")

	err = m.Read(ctx, caller, h, 0x50, 4, 0)
	assert.ErrorIs(t, err, outcome.ErrDevice)
	assert.Zero(t, mem.writes, "no partial data on device failure")
	assert.Equal(t, 2, fb.calls)
}

func TestMediator_ZeroLengthRead(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{})
	mem := newFakeMemory(16)
	caller := newCaller("sensor#1", mem)
	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	require.NoError(t, m.Read(ctx, caller, h, 0x50, 0, 4))
	assert.Empty(t, rec.Ops)
	assert.Zero(t, mem.writes)
}

func TestMediator_NullIdentityOnBufferOps(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{})
	mem := newFakeMemory(16)

	assert.ErrorIs(t, m.Write(ctx, Caller{Memory: mem}, 1, 0x50, 4, 0), outcome.ErrNullIdentity)
	assert.ErrorIs(t, m.Read(ctx, Caller{Memory: mem}, 1, 0x50, 4, 0), outcome.ErrNullIdentity)
	assert.Empty(t, rec.Ops)
	assert.Zero(t, mem.writes)
}

func TestMediator_ReleasedInstanceLosesHandles(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &i2ctest.Record{}
	m := NewMediator(handles.NewRegistry(), rec, MediatorConfig{})
	caller := newCaller("sensor#1", newFakeMemory(16))
	h, err := m.Acquire(ctx, caller)
	require.NoError(t, err)

	assert.Equal(t, 1, m.Registry().Release(caller.ID))
	assert.ErrorIs(t, m.Write(ctx, caller, h, 0x50, 1, 0), outcome.ErrUnknownHandle)
	assert.Empty(t, rec.Ops)
}
