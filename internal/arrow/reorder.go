package arrow

import "github.com/oriys/jana2go/internal/event"

// reorderBuffer holds events that arrived out of sequence, keyed by
// EventNumber, until PopIfSeq's target sequence number catches up to
// them. Used by an ordered-mode SinkArrow to restore strict event
// ordering after an unfold/fold round-trip or multi-worker fan-out
// scrambled it.
type reorderBuffer struct {
	pending map[uint64]*event.Event
}

func newReorderBuffer() *reorderBuffer {
	return &reorderBuffer{pending: make(map[uint64]*event.Event)}
}

// Push buffers ev for later retrieval by its EventNumber.
func (b *reorderBuffer) Push(ev *event.Event) {
	b.pending[ev.EventNumber()] = ev
}

// PopIfSeq removes and returns the event with the given EventNumber if
// it has been buffered.
func (b *reorderBuffer) PopIfSeq(seq uint64) (*event.Event, bool) {
	ev, ok := b.pending[seq]
	if !ok {
		return nil, false
	}
	delete(b.pending, seq)
	return ev, true
}

// Empty reports whether the buffer currently holds no events.
func (b *reorderBuffer) Empty() bool {
	return len(b.pending) == 0
}
