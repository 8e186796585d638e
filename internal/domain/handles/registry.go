// Package handles implements the registry mapping module instances to the
// I2C handles they were issued and the permissions attached to each handle.
package handles

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/reglet-dev/i2cgate/internal/domain/outcome"
	"github.com/reglet-dev/i2cgate/internal/domain/permissions"
)

// InstanceID identifies one running guest module instance. It is only
// ever used as a lookup key.
type InstanceID string

// Handle names one logical device session. It is only meaningful together
// with the InstanceID it was issued to.
type Handle uint32

// Registry is the concurrency-safe identity → handle → permissions table.
//
// Handle values come from a single counter shared by all instances and
// start at 1, so 0 is never issued. A value stays taken while any entry
// maps it, including values placed under several identities by Register.
type Registry struct {
	mu      sync.Mutex
	next    Handle
	entries map[InstanceID]map[Handle]permissions.Permissions
	// holders counts the entries mapping each handle value.
	holders map[Handle]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		next:    1,
		entries: make(map[InstanceID]map[Handle]permissions.Permissions),
		holders: make(map[Handle]int),
	}
}

// NewHandle returns a handle value not mapped by any entry at the time of
// the call and advances the counter.
func (r *Registry) NewHandle() (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.allocateLocked()
}

// Register stores perms under id's entry at key h, creating the entry if
// needed. Registering the same handle again overwrites the descriptor.
func (r *Registry) Register(id InstanceID, h Handle, perms permissions.Permissions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registerLocked(id, h, perms)
}

// Issue allocates a fresh handle and registers perms under it in one
// critical section.
func (r *Registry) Issue(id InstanceID, perms permissions.Permissions) (Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	h, err := r.allocateLocked()
	if err != nil {
		return 0, err
	}
	r.registerLocked(id, h, perms)
	return h, nil
}

// Lookup returns the permissions for h if, and only if, id's entry contains it.
func (r *Registry) Lookup(id InstanceID, h Handle) (permissions.Permissions, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return permissions.Permissions{}, false
	}
	perms, ok := entry[h]
	if !ok {
		return permissions.Permissions{}, false
	}
	return perms.Clone(), true
}

// Release drops id's entry and every handle in it. It is the unload hook
// for a module instance and returns the number of handles freed.
func (r *Registry) Release(id InstanceID) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return 0
	}
	for h := range entry {
		if r.holders[h] <= 1 {
			delete(r.holders, h)
			continue
		}
		r.holders[h]--
	}
	delete(r.entries, id)
	return len(entry)
}

// Handles returns id's handles in ascending order.
func (r *Registry) Handles(id InstanceID) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.entries[id]
	hs := make([]Handle, 0, len(entry))
	for h := range entry {
		hs = append(hs, h)
	}
	slices.Sort(hs)
	return hs
}

// Len returns the number of instances with an entry.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func (r *Registry) allocateLocked() (Handle, error) {
	// At most one full lap over the value space; 0 is skipped.
	for range uint64(math.MaxUint32) {
		h := r.next
		r.next++
		if r.next == 0 {
			r.next = 1
		}
		if _, taken := r.holders[h]; !taken {
			return h, nil
		}
	}
	return 0, fmt.Errorf("%w: %d handles live", outcome.ErrHandlesExhausted, len(r.holders))
}

func (r *Registry) registerLocked(id InstanceID, h Handle, perms permissions.Permissions) {
	entry, ok := r.entries[id]
	if !ok {
		entry = make(map[Handle]permissions.Permissions)
		r.entries[id] = entry
	}
	if _, exists := entry[h]; !exists {
		r.holders[h]++
	}
	entry[h] = perms.Clone()
}
