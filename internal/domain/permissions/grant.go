package permissions

import (
	"maps"
	"slices"
)

// GrantSet maps guest names to the permissions issued on Acquire.
type GrantSet map[string]Permissions

// NewGrantSet creates a new empty GrantSet.
func NewGrantSet() GrantSet {
	return make(GrantSet)
}

// Set records the permissions for a guest, replacing any previous grant.
func (g GrantSet) Set(guest string, p Permissions) {
	g[guest] = p.Clone()
}

// Get returns the grant for a guest.
func (g GrantSet) Get(guest string) (Permissions, bool) {
	p, ok := g[guest]
	if !ok {
		return Permissions{}, false
	}
	return p.Clone(), true
}

// Remove deletes the grant for a guest.
func (g GrantSet) Remove(guest string) {
	delete(g, guest)
}

// Guests returns the guest names in sorted order.
func (g GrantSet) Guests() []string {
	return slices.Sorted(maps.Keys(g))
}

// Resolve returns the guest's grant or fallback when none exists.
func (g GrantSet) Resolve(guest string, fallback Permissions) Permissions {
	if p, ok := g.Get(guest); ok {
		return p
	}
	return fallback.Clone()
}
