// Copyright 2026 The Runboard Authors
// SPDX-License-Identifier: Apache-2.0

package panel

import "sync"

// Registry maps a public message ID to the ordered handles rendering
// that lifecycle. In-memory only: a restart loses ephemeral handles,
// which is acceptable since their tokens outlive a restart rarely and
// the public message is re-derivable from the store.
//
// Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	handles map[string][]Handle
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string][]Handle)}
}

// Register appends a handle to the group under publicMessageID.
// Registering the same handle value twice keeps both entries; callers
// register each handle exactly once per lifecycle.
func (r *Registry) Register(publicMessageID string, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles[publicMessageID] = append(r.handles[publicMessageID], handle)
}

// Unregister removes a handle from the group by reference identity.
// Unknown handles are ignored. An emptied group is dropped from the
// map.
func (r *Registry) Unregister(publicMessageID string, handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.handles[publicMessageID]
	for i, existing := range group {
		if existing == handle {
			group = append(group[:i], group[i+1:]...)
			break
		}
	}
	if len(group) == 0 {
		delete(r.handles, publicMessageID)
		return
	}
	r.handles[publicMessageID] = group
}

// List returns a snapshot of the group under publicMessageID. Mutating
// the registry after List does not affect the returned slice.
func (r *Registry) List(publicMessageID string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.handles[publicMessageID]
	if len(group) == 0 {
		return nil
	}
	snapshot := make([]Handle, len(group))
	copy(snapshot, group)
	return snapshot
}

// Clear removes the whole group under publicMessageID and returns the
// handles it held. Clearing an absent group returns nil, so lifecycle
// teardown is idempotent.
func (r *Registry) Clear(publicMessageID string) []Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	group := r.handles[publicMessageID]
	delete(r.handles, publicMessageID)
	return group
}

// Len returns the number of registered groups.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}
