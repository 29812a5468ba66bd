// Package mailbox implements the bounded queue between arrows: a
// fixed-capacity, per-location sharded FIFO with a two-phase
// reserve/commit push protocol that lets a producer claim a slot
// before it has finished building the message that will occupy it.
//
// Grounded on src/libraries/JANA/Engine/JMailbox.h and
// JSubeventMailbox.h from the original engine: each location gets its
// own ring/slice guarded by its own mutex so producers and consumers
// working on different NUMA domains never contend on a shared lock.
package mailbox

import (
	"sync"
)

// Status reports what a mailbox could do on the last operation
// attempted against it, used by the scheduler to prioritize arrows.
type Status int

const (
	StatusEmpty Status = iota
	StatusFull
	StatusCongested
	StatusReady
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "Empty"
	case StatusFull:
		return "Full"
	case StatusCongested:
		return "Congested"
	case StatusReady:
		return "Ready"
	case StatusFinished:
		return "Finished"
	default:
		return "Unknown"
	}
}

type subqueue struct {
	mu        sync.Mutex
	items     []any
	capacity  int
	reserved  int
	finished  bool
}

// Mailbox is a bounded queue sharded by location, with optional work
// stealing across locations when a consumer's own sub-queue is empty.
type Mailbox struct {
	name            string
	capacity        int
	congestionLevel int // percent full at which Status reports Congested
	stealing        bool

	subs []*subqueue
}

// Option configures a Mailbox at construction time.
type Option func(*Mailbox)

// WithStealing enables round-robin stealing from other locations'
// sub-queues when the caller's own sub-queue is empty, mirroring the
// "enable_stealing" engine parameter in spec.md §6.
func WithStealing(enabled bool) Option {
	return func(m *Mailbox) { m.stealing = enabled }
}

// WithCongestionLevel sets the percent-full threshold (0-100) above
// which Status reports StatusCongested instead of StatusReady.
func WithCongestionLevel(pct int) Option {
	return func(m *Mailbox) { m.congestionLevel = pct }
}

// New constructs a Mailbox with nlocations independent sub-queues,
// each with the given per-location capacity.
func New(name string, nlocations, capacityPerLocation int, opts ...Option) *Mailbox {
	m := &Mailbox{
		name:            name,
		capacity:        capacityPerLocation,
		congestionLevel: 80,
	}
	m.subs = make([]*subqueue, nlocations)
	for i := range m.subs {
		m.subs[i] = &subqueue{capacity: capacityPerLocation}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Name returns the mailbox's identifying name, used in metrics labels.
func (m *Mailbox) Name() string { return m.name }

func (m *Mailbox) sub(location int) *subqueue {
	return m.subs[location%len(m.subs)]
}

// TryPush attempts to push item directly onto location's sub-queue,
// failing if the sub-queue (accounting for already-reserved slots) is
// full. Returns true on success.
func (m *Mailbox) TryPush(location int, item any) bool {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items)+s.reserved >= s.capacity {
		return false
	}
	s.items = append(s.items, item)
	return true
}

// Reserve claims a slot on location's sub-queue without placing an
// item yet, so a producer can build the message without holding the
// mailbox lock. Returns false if no capacity remains.
func (m *Mailbox) Reserve(location int) bool {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items)+s.reserved >= s.capacity {
		return false
	}
	s.reserved++
	return true
}

// PushAndUnreserve places item into a slot previously claimed with
// Reserve, releasing the reservation. Callers must pair every Reserve
// with exactly one PushAndUnreserve (or UnreserveWithoutPush on the
// abandon path).
func (m *Mailbox) PushAndUnreserve(location int, item any) {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved--
	s.items = append(s.items, item)
}

// UnreserveWithoutPush releases a reservation without placing an item,
// used when the producer decides not to emit (e.g. an Unfold arrow
// that produces zero children for a given input).
func (m *Mailbox) UnreserveWithoutPush(location int) {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved--
}

// PopAndReserve pops the oldest item from location's sub-queue. If
// that sub-queue is empty and stealing is enabled, it scans the
// remaining locations round-robin starting just after location. The
// returned bool is false if no item was available anywhere searched.
func (m *Mailbox) PopAndReserve(location int) (any, bool) {
	if item, ok := m.popLocal(location); ok {
		return item, true
	}
	if !m.stealing {
		return nil, false
	}
	n := len(m.subs)
	for i := 1; i < n; i++ {
		loc := (location + i) % n
		if item, ok := m.popLocal(loc); ok {
			return item, true
		}
	}
	return nil, false
}

func (m *Mailbox) popLocal(location int) (any, bool) {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return nil, false
	}
	item := s.items[0]
	s.items = s.items[1:]
	return item, true
}

// Size returns the number of items currently queued at location
// (reservations not counted).
func (m *Mailbox) Size(location int) int {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Depth sums queued items across all locations, used by the scheduler
// to break ties among otherwise-equal-priority arrows.
func (m *Mailbox) Depth() int {
	total := 0
	for _, s := range m.subs {
		s.mu.Lock()
		total += len(s.items)
		s.mu.Unlock()
	}
	return total
}

// MarkFinished records that no more items will ever be pushed onto
// location's sub-queue (its upstream arrow has reached Finished).
func (m *Mailbox) MarkFinished(location int) {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
}

// Status reports the mailbox's state at location for scheduler use.
func (m *Mailbox) Status(location int) Status {
	s := m.sub(location)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case len(s.items) == 0 && s.finished:
		return StatusFinished
	case len(s.items) == 0:
		return StatusEmpty
	case len(s.items)+s.reserved >= s.capacity:
		return StatusFull
	case s.capacity > 0 && (len(s.items)*100/s.capacity) >= m.congestionLevel:
		return StatusCongested
	default:
		return StatusReady
	}
}

// NLocations returns the number of sub-queues this mailbox was built with.
func (m *Mailbox) NLocations() int { return len(m.subs) }
