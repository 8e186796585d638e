// Package permissions defines the permission descriptor attached to an I2C handle.
package permissions

import (
	"fmt"
	"slices"
	"strings"

	"github.com/reglet-dev/i2cgate/internal/domain/outcome"
)

// Operation is a bus operation a guest may request through a handle.
type Operation int

const (
	// OpRead reads bytes from a device.
	OpRead Operation = iota
	// OpWrite writes bytes to a device.
	OpWrite
)

// String returns the lower-case operation name.
func (o Operation) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// RiskLevel represents the security risk level of a permission set.
type RiskLevel int

const (
	// RiskLevelLow covers read-only or address-restricted access.
	RiskLevelLow RiskLevel = iota
	// RiskLevelMedium covers unrestricted reads.
	RiskLevelMedium
	// RiskLevelHigh covers writes to any device on the bus.
	RiskLevelHigh
)

// String returns a human-readable representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLevelLow:
		return "low"
	case RiskLevelMedium:
		return "medium"
	case RiskLevelHigh:
		return "high"
	default:
		return "unknown"
	}
}

// Permissions describes what one handle may do.
// A value is treated as immutable once attached to a handle; use Clone
// before handing it to code that might modify Addresses.
type Permissions struct {
	CanRead  bool
	CanWrite bool
	// IsWhitelisted restricts the handle to the devices listed in Addresses.
	IsWhitelisted bool
	Addresses     []uint16
	// Rule is an optional expression evaluated after the static checks.
	Rule *Rule
}

// Default returns the descriptor issued when no grant exists for a guest:
// read and write allowed, no address restriction.
func Default() Permissions {
	return Permissions{CanRead: true, CanWrite: true}
}

// ReadOnly returns a descriptor that only allows reads.
func ReadOnly() Permissions {
	return Permissions{CanRead: true}
}

// Deny returns a descriptor that allows nothing.
func Deny() Permissions {
	return Permissions{}
}

// Clone returns a deep copy.
func (p Permissions) Clone() Permissions {
	p.Addresses = slices.Clone(p.Addresses)
	return p
}

// Allows reports whether the operation itself is permitted, ignoring addresses.
func (p Permissions) Allows(op Operation) bool {
	switch op {
	case OpRead:
		return p.CanRead
	case OpWrite:
		return p.CanWrite
	default:
		return false
	}
}

// AllowsAddress reports whether addr passes the allow-list.
// The list is only enforced when IsWhitelisted is set.
func (p Permissions) AllowsAddress(addr uint16) bool {
	if !p.IsWhitelisted {
		return true
	}
	return slices.Contains(p.Addresses, addr)
}

// Check enforces the operation, the address allow-list and the rule, in that order.
func (p Permissions) Check(op Operation, addr uint16, length uint64, guest string) error {
	if !p.Allows(op) {
		return fmt.Errorf("%w: %s not granted", outcome.ErrPermissionDenied, op)
	}
	if !p.AllowsAddress(addr) {
		return fmt.Errorf("%w: %s not in allow-list", outcome.ErrAddressDenied, FormatAddress(addr))
	}
	if p.Rule != nil {
		ok, err := p.Rule.Allows(RuleEnv{Op: op.String(), Addr: int(addr), Length: int(length), Guest: guest})
		if err != nil {
			return fmt.Errorf("%w: %v", outcome.ErrAddressDenied, err)
		}
		if !ok {
			return fmt.Errorf("%w: rule %q rejected %s", outcome.ErrAddressDenied, p.Rule.Source(), FormatAddress(addr))
		}
	}
	return nil
}

// Equals checks value equality. Rules compare by source text.
func (p Permissions) Equals(other Permissions) bool {
	return p.CanRead == other.CanRead &&
		p.CanWrite == other.CanWrite &&
		p.IsWhitelisted == other.IsWhitelisted &&
		slices.Equal(p.Addresses, other.Addresses) &&
		p.Rule.Source() == other.Rule.Source()
}

// String returns a compact description such as "rw [0x50 0x51]".
func (p Permissions) String() string {
	var b strings.Builder
	switch {
	case p.CanRead && p.CanWrite:
		b.WriteString("rw")
	case p.CanRead:
		b.WriteString("r-")
	case p.CanWrite:
		b.WriteString("-w")
	default:
		b.WriteString("--")
	}
	if p.IsWhitelisted {
		b.WriteString(" [")
		b.WriteString(FormatAddresses(p.Addresses))
		b.WriteString("]")
	} else {
		b.WriteString(" [any]")
	}
	if p.Rule != nil {
		b.WriteString(" if ")
		b.WriteString(p.Rule.Source())
	}
	return b.String()
}

// RiskLevel returns the security risk level of this descriptor.
func (p Permissions) RiskLevel() RiskLevel {
	restricted := p.IsWhitelisted || p.Rule != nil
	switch {
	case p.CanWrite && !restricted:
		return RiskLevelHigh
	case p.CanRead && !restricted:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// RiskDescription returns a human-readable explanation of the risk.
func (p Permissions) RiskDescription() string {
	switch p.RiskLevel() {
	case RiskLevelHigh:
		return "Guest can write to ANY device on the bus, including EEPROMs and power controllers"
	case RiskLevelMedium:
		return "Guest can read from any device on the bus"
	default:
		if !p.CanRead && !p.CanWrite {
			return "Guest has no bus access"
		}
		return "Guest can access specific devices: " + FormatAddresses(p.Addresses)
	}
}
