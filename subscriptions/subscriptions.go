// Package subscriptions maintains the device's event subscription table and
// dispatches inbound EVENT messages, generalizing the teacher's
// observer.Publisher channel-based fan-out into the spec's
// (prefix, scope)-deduplicated table with a stable fingerprint.
package subscriptions

import (
	"hash/crc32"
	"sort"
	"strconv"
	"sync"

	log "github.com/ndmsystems/logger"
)

// Scope is the visibility of a subscription: only this device's own events,
// or every device's events matching the prefix.
type Scope uint8

const (
	MyDevices Scope = iota
	Firehose
)

// EventHandler is invoked with the full event name (prefix included) and
// its payload when a matching EVENT arrives.
type EventHandler func(name string, payload []byte)

type entry struct {
	prefix  string
	scope   Scope
	handler EventHandler
}

// Table is the device's set of active subscriptions, deduplicated by
// (prefix, scope).
type Table struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New creates an empty subscription table.
func New() *Table {
	return &Table{entries: make(map[string]*entry)}
}

func key(prefix string, scope Scope) string {
	return strconv.Itoa(int(scope)) + "|" + prefix
}

// Add registers handler for events matching prefix and scope, replacing
// any existing registration for the same (prefix, scope) pair.
func (t *Table) Add(prefix string, scope Scope, handler EventHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[key(prefix, scope)] = &entry{prefix: prefix, scope: scope, handler: handler}
}

// Remove deregisters the subscription for (prefix, scope), if any.
func (t *Table) Remove(prefix string, scope Scope) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, key(prefix, scope))
}

// Len reports the number of active subscriptions.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Dispatch delivers an inbound event to every subscription whose prefix
// matches the event name, regardless of dispatch order.
func (t *Table) Dispatch(name string, payload []byte) {
	t.mu.RLock()
	matches := make([]*entry, 0, 1)
	for _, e := range t.entries {
		if hasPrefix(name, e.prefix) {
			matches = append(matches, e)
		}
	}
	t.mu.RUnlock()

	for _, e := range matches {
		e.handler(name, payload)
	}
}

func hasPrefix(name, prefix string) bool {
	if prefix == "" {
		return true
	}
	if len(name) < len(prefix) {
		return false
	}
	return name[:len(prefix)] == prefix
}

// Encode serializes the subscription set for upload to the cloud: for each
// entry, a scope byte, a one-byte prefix length, then the prefix bytes,
// sorted the same way Checksum sorts them so the wire form and the
// fingerprint agree on ordering.
func (t *Table) Encode() []byte {
	t.mu.RLock()
	sorted := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		sorted = append(sorted, e)
	}
	t.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].scope != sorted[j].scope {
			return sorted[i].scope < sorted[j].scope
		}
		return sorted[i].prefix < sorted[j].prefix
	})

	buf := make([]byte, 0, len(sorted)*8)
	for _, e := range sorted {
		buf = append(buf, byte(e.scope), byte(len(e.prefix)))
		buf = append(buf, e.prefix...)
	}
	return buf
}

// Checksum computes a CRC32 fingerprint over the subscription set. The
// entries are sorted by (scope, prefix) first so that two devices with the
// same subscriptions, registered in any order, produce the same checksum —
// dispatch order is irrelevant, but fingerprint order must be stable.
func (t *Table) Checksum() uint32 {
	t.mu.RLock()
	sorted := make([]*entry, 0, len(t.entries))
	for _, e := range t.entries {
		sorted = append(sorted, e)
	}
	t.mu.RUnlock()

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].scope != sorted[j].scope {
			return sorted[i].scope < sorted[j].scope
		}
		return sorted[i].prefix < sorted[j].prefix
	})

	crc := crc32.NewIEEE()
	for _, e := range sorted {
		crc.Write([]byte{byte(e.scope)})
		crc.Write([]byte(e.prefix))
		crc.Write([]byte{0}) // separator, avoids "ab"+"c" colliding with "a"+"bc"
	}
	log.Debugf("computed subscriptions checksum over %d entries", len(sorted))
	return crc.Sum32()
}
