package hostfuncs

import (
	"fmt"

	"github.com/reglet-dev/i2cgate/internal/domain/outcome"
)

// GuestMemory is the bounds-checked access the engine gives to a guest's
// linear memory. wazero's api.Memory satisfies it.
type GuestMemory interface {
	// Read returns a view of byteCount bytes at offset, or false if the
	// range is outside linear memory. The view is only valid for the
	// current host call.
	Read(offset, byteCount uint32) ([]byte, bool)
	// Write copies v to offset, or returns false if it does not fit.
	Write(offset uint32, v []byte) bool
}

// guestBuffer translates a guest offset/length pair into a view of guest
// memory. All bounds checking is delegated to mem; no arithmetic is done
// on the guest-controlled offset here.
func guestBuffer(mem GuestMemory, offset uint32, length uint64, limit uint32) ([]byte, error) {
	if mem == nil {
		return nil, fmt.Errorf("%w: guest exports no linear memory", outcome.ErrInvalidBuffer)
	}
	if length > uint64(limit) {
		return nil, fmt.Errorf("%w: length %d exceeds transfer limit %d", outcome.ErrInvalidBuffer, length, limit)
	}
	view, ok := mem.Read(offset, uint32(length)) //nolint:gosec // G115: bounded by limit above
	if !ok {
		return nil, fmt.Errorf("%w: offset %d length %d", outcome.ErrInvalidBuffer, offset, length)
	}
	return view, nil
}
