package emu

import (
	"fmt"
	"sync"

	"github.com/sarchlab/esim/insts"
	"github.com/sarchlab/esim/mesh"
)

// EventKind identifies a core notification.
type EventKind uint8

// Notification kinds.
const (
	EventInvalidProgramCounter EventKind = iota
	EventInvalidInstruction
	EventInvalidEncoding
	EventInvalidMemoryAccess
	EventValidInstruction
)

var eventNames = [...]string{
	EventInvalidProgramCounter: "invalid-program-counter",
	EventInvalidInstruction:    "invalid-instruction",
	EventInvalidEncoding:       "invalid-encoding",
	EventInvalidMemoryAccess:   "invalid-memory-access",
	EventValidInstruction:      "valid-instruction",
}

func (k EventKind) String() string {
	if int(k) < len(eventNames) {
		return eventNames[k]
	}
	return fmt.Sprintf("event(%d)", k)
}

// Event is a notification emitted by a core. Only the fields relevant to
// the kind are set.
type Event struct {
	Kind EventKind
	Core mesh.CoreID
	PC   uint32

	Word uint32            // InvalidInstruction
	Inst insts.Instruction // InvalidEncoding, ValidInstruction
	Addr uint32            // InvalidMemoryAccess
	// Write is set when the faulting access was a store.
	Write bool
}

// IsFault reports whether the event halted the core.
func (e Event) IsFault() bool {
	return e.Kind != EventValidInstruction
}

func (e Event) String() string {
	switch e.Kind {
	case EventInvalidProgramCounter:
		return fmt.Sprintf("%s: invalid PC 0x%08X", e.Core, e.PC)
	case EventInvalidInstruction:
		return fmt.Sprintf("%s: invalid instruction 0x%08X at 0x%08X", e.Core, e.Word, e.PC)
	case EventInvalidEncoding:
		return fmt.Sprintf("%s: invalid encoding of %s at 0x%08X", e.Core, e.Inst, e.PC)
	case EventInvalidMemoryAccess:
		kind := "read"
		if e.Write {
			kind = "write"
		}
		return fmt.Sprintf("%s: invalid memory %s at 0x%08X (PC 0x%08X)", e.Core, kind, e.Addr, e.PC)
	}
	return fmt.Sprintf("%s: %s at 0x%08X", e.Core, e.Inst, e.PC)
}

// Notifier receives core events. Notify is called on the core's goroutine
// and must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify calls f(e).
func (f NotifierFunc) Notify(e Event) { f(e) }

// ChannelNotifier buffers events in a bounded channel. When the buffer is
// full the oldest event is dropped so that cores never wait on a slow
// consumer.
type ChannelNotifier struct {
	mu      sync.Mutex
	ch      chan Event
	kinds   uint32
	dropped uint64
}

// NewChannelNotifier creates a notifier with the given capacity. When kinds
// are given, only those are delivered.
func NewChannelNotifier(capacity int, kinds ...EventKind) *ChannelNotifier {
	if capacity < 1 {
		capacity = 1
	}

	n := &ChannelNotifier{ch: make(chan Event, capacity)}
	for _, k := range kinds {
		n.kinds |= 1 << k
	}
	return n
}

// Events returns the receive side of the buffer.
func (n *ChannelNotifier) Events() <-chan Event {
	return n.ch
}

// Dropped returns how many events were discarded.
func (n *ChannelNotifier) Dropped() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

// Wants reports whether events of kind k are delivered.
func (n *ChannelNotifier) Wants(k EventKind) bool {
	return n.kinds == 0 || n.kinds&(1<<k) != 0
}

// Notify enqueues e, evicting the oldest event if necessary.
func (n *ChannelNotifier) Notify(e Event) {
	if !n.Wants(e.Kind) {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	for {
		select {
		case n.ch <- e:
			return
		default:
		}

		select {
		case <-n.ch:
			n.dropped++
		default:
		}
	}
}

// kindFilter is implemented by notifiers that can skip event kinds before
// the event is built.
type kindFilter interface {
	Wants(EventKind) bool
}
