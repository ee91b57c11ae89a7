// Package namemap provides the bidirectional id<->name registry used for
// CAs, profiles, publishers, and requestors: a name always maps to exactly
// one id and vice versa, names are compared case-insensitively and stored
// lowercased, and a conflicting insert is rejected rather than silently
// overwriting the existing mapping.
package namemap

import (
	"strings"
	"sync"

	"github.com/letsencrypt-style/xipki-core/core"
	"github.com/letsencrypt-style/xipki-core/errors"
)

// Map is a concurrency-safe bidirectional name/id registry.
type Map struct {
	mu       sync.RWMutex
	byName   map[string]int64
	byId     map[int64]string
}

// New returns an empty Map.
func New() *Map {
	return &Map{
		byName: make(map[string]int64),
		byId:   make(map[int64]string),
	}
}

// Add inserts the (id, name) pair. name is normalized to lowercase before
// comparison and storage. Returns DuplicateName if name already maps to a
// different id, or DuplicateId if id already maps to a different name.
func (m *Map) Add(id int64, name string) error {
	key := strings.ToLower(name)

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingId, ok := m.byName[key]; ok && existingId != id {
		return errors.DuplicateNameError("namemap: name %q already maps to id %d", name, existingId)
	}
	if existingName, ok := m.byId[id]; ok && existingName != key {
		return errors.DuplicateIdError("namemap: id %d already maps to name %q", id, existingName)
	}

	m.byName[key] = id
	m.byId[id] = key
	return nil
}

// Remove deletes the mapping for id, if present.
func (m *Map) Remove(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if name, ok := m.byId[id]; ok {
		delete(m.byId, id)
		delete(m.byName, name)
	}
}

// NameToId looks up the id for name (case-insensitive).
func (m *Map) NameToId(name string) (int64, error) {
	key := strings.ToLower(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byName[key]
	if !ok {
		return 0, errors.NotFoundError("namemap: no id registered for name %q", name)
	}
	return id, nil
}

// IdToName looks up the lowercased name for id.
func (m *Map) IdToName(id int64) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.byId[id]
	if !ok {
		return "", errors.NotFoundError("namemap: no name registered for id %d", id)
	}
	return name, nil
}

// All returns every registered (id, name) pair as NameId values, in no
// particular order.
func (m *Map) All() []core.NameId {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.NameId, 0, len(m.byId))
	for id, name := range m.byId {
		out = append(out, core.NameId{ID: id, Name: name})
	}
	return out
}
