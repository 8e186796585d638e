package permissions

import (
	"fmt"
	"strconv"
	"strings"
)

// maxAddress is the largest 10-bit I2C address; 7-bit addresses are a subset.
const maxAddress = 0x3FF

// ParseAddress parses a device address in decimal or 0x-prefixed hex.
func ParseAddress(s string) (uint16, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty device address")
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid device address %q: %w", s, err)
	}
	if v > maxAddress {
		return 0, fmt.Errorf("device address %q out of range", s)
	}
	return uint16(v), nil
}

// ParseAddresses parses a comma or whitespace separated address list.
func ParseAddresses(s string) ([]uint16, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	addrs := make([]uint16, 0, len(fields))
	for _, f := range fields {
		a, err := ParseAddress(f)
		if err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// FormatAddress renders an address as 0x-prefixed hex.
func FormatAddress(addr uint16) string {
	return fmt.Sprintf("0x%02x", addr)
}

// FormatAddresses renders a list of addresses separated by spaces.
func FormatAddresses(addrs []uint16) string {
	parts := make([]string, len(addrs))
	for i, a := range addrs {
		parts[i] = FormatAddress(a)
	}
	return strings.Join(parts, " ")
}
