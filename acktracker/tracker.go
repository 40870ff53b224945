// Package acktracker registers per-message completion handlers and times
// them out, mirroring the teacher's AcknowledgePool.go one-shot-callback
// map but with a bounded capacity and an explicit, host-driven time tick
// instead of a wall-clock TTL cache — the deterministic tick is why this
// is hand-rolled instead of built directly on patrickmn/go-cache (see
// channel/memchannel for where go-cache's wall-clock model is the right
// fit instead).
package acktracker

import (
	"container/list"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"
	log "github.com/ndmsystems/logger"

	"github.com/waldow90/device-os/protocolerr"
)

// Handler is invoked exactly once per registered id, with either a nil
// error on success or a completion error otherwise.
type Handler func(err error)

type entry struct {
	id        uint16
	handler   Handler
	remaining time.Duration
	elem      *list.Element
}

// Tracker is a bounded collection of (message id -> handler, remaining
// timeout) awaiting completion.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	entries  map[uint16]*entry
	order    *list.List // oldest-registered first, for logging/inspection only
}

// New creates a Tracker bounded to capacity outstanding entries.
func New(capacity int) *Tracker {
	return &Tracker{
		capacity: capacity,
		entries:  make(map[uint16]*entry, capacity),
		order:    list.New(),
	}
}

// Add registers handler against id with the given timeout. It fails with
// protocolerr.TrackerFull if the tracker is already at capacity.
func (t *Tracker) Add(id uint16, timeout time.Duration, handler Handler) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.entries) >= t.capacity {
		log.Warning("ack tracker full at capacity", t.capacity)
		return protocolerr.TrackerFull
	}

	e := &entry{id: id, handler: handler, remaining: timeout}
	e.elem = t.order.PushBack(e)
	t.entries[id] = e
	log.Debugf("registered ack handler for id=%d timeout=%s (%s/%s outstanding)",
		id, timeout, humanize.Comma(int64(len(t.entries))), humanize.Comma(int64(t.capacity)))
	return nil
}

// SetResult completes id successfully, reporting whether id was tracked. A
// no-op returning false if id is not tracked (already completed, expired, or
// never registered).
func (t *Tracker) SetResult(id uint16) bool {
	return t.complete(id, nil)
}

// SetError completes id with err, reporting whether id was tracked.
func (t *Tracker) SetError(id uint16, err error) bool {
	return t.complete(id, err)
}

func (t *Tracker) complete(id uint16, err error) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return false
	}
	delete(t.entries, id)
	t.order.Remove(e.elem)
	t.mu.Unlock()

	e.handler(err)
	return true
}

// Update advances every outstanding entry's remaining timeout by dt,
// expiring (and delivering protocolerr.MessageTimeout to) any entry whose
// remaining time reaches zero.
func (t *Tracker) Update(dt time.Duration) {
	t.mu.Lock()
	var expired []*entry
	for id, e := range t.entries {
		e.remaining -= dt
		if e.remaining <= 0 {
			expired = append(expired, e)
			delete(t.entries, id)
			t.order.Remove(e.elem)
		}
	}
	t.mu.Unlock()

	for _, e := range expired {
		log.Debug("ack handler timed out for id", e.id)
		e.handler(protocolerr.MessageTimeout)
	}
}

// Clear abandons every outstanding entry, delivering protocolerr.SessionEnded
// to each handler. Called at the start of every session (begin()).
func (t *Tracker) Clear() {
	t.mu.Lock()
	pending := make([]*entry, 0, len(t.entries))
	for id, e := range t.entries {
		pending = append(pending, e)
		delete(t.entries, id)
	}
	t.order.Init()
	t.mu.Unlock()

	for _, e := range pending {
		e.handler(protocolerr.SessionEnded)
	}
}

// Len reports the number of outstanding entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
