// Package hostfuncs provides the I2C host functions exposed to guest modules
// and the mediation layer that enforces handle permissions behind them.
package hostfuncs

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/reglet-dev/i2cgate/internal/domain/handles"
)

// instanceSeparator splits a wazero module name into guest name and instance token.
const instanceSeparator = "#"

// NewInstanceID returns a fresh identity for one instantiation of guest.
// It doubles as the wazero module name so the host can resolve callers.
func NewInstanceID(guest string) handles.InstanceID {
	return handles.InstanceID(guest + instanceSeparator + uuid.NewString())
}

// GuestFromInstanceID returns the guest name an identity was minted for.
func GuestFromInstanceID(id handles.InstanceID) string {
	guest, _, ok := strings.Cut(string(id), instanceSeparator)
	if !ok {
		return ""
	}
	return guest
}

type contextKey struct {
	name string
}

var guestNameKey = &contextKey{name: "guest_name"}

// WithGuestName adds the guest name to the context
func WithGuestName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, guestNameKey, name)
}

// GuestNameFromContext retrieves the guest name from the context
func GuestNameFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(guestNameKey).(string)
	return name, ok
}
