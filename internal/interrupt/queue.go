// Package interrupt implements the bounded, deduplicating queue of pending
// asynchronous events described in spec.md §4.11. It is the only data
// structure mutated from interrupt/ISR context; every access happens under
// the Hardware Façade's interrupt-lock critical section.
package interrupt

// Event is the tagged enum of asynchronous occurrences the Event Loop must
// react to (spec.md §3, InterruptEvent).
type Event int

const (
	// None means no pending event in a given slot.
	None Event = iota
	// FactoryReset is raised by the long-press watcher (spec.md §4.10).
	FactoryReset
	// WifiConnected is raised when the radio's station interface comes up.
	WifiConnected
	// MustUpgrade is raised when the Network Client observes a
	// LATEST_VERSION header that differs from the running firmware hash.
	MustUpgrade
)

func (e Event) String() string {
	switch e {
	case FactoryReset:
		return "FactoryReset"
	case WifiConnected:
		return "WifiConnected"
	case MustUpgrade:
		return "MustUpgrade"
	default:
		return "None"
	}
}

// numVariants is the number of non-None variants; the queue's capacity
// equals this, since spec.md §4.11 guarantees at most one instance of each
// variant is ever pending.
const numVariants = 3

// Locker is the narrow contract Queue needs from the Hardware Façade: a
// scoped interrupt-disable critical section, returned as an unlock func so
// every call site can `defer unlock()` and guarantee release on all paths
// (spec.md Design Notes §9).
type Locker interface {
	InterruptLock() (unlock func())
}

// Logger is the narrow logging contract Queue needs; satisfied by
// logging.Logger's interrupt-safe trace printers (spec.md §4.3/§4.11: "log a
// Crit warning" on overflow must not allocate or block).
type Logger interface {
	CritTrace(parts ...string)
}

// Queue is the process-wide bounded interrupt event store.
type Queue struct {
	lock Locker
	log  Logger
	slot [numVariants]Event
}

// New creates a Queue. lock and log are injected (spec.md Design Notes §9:
// prefer injecting hooks through construction over hidden globals) rather
// than reached for as package-level state, since nothing about this queue
// requires it to be a singleton beyond the one instance the Event Loop owns.
func New(lock Locker, log Logger) *Queue {
	return &Queue{lock: lock, log: log}
}

// Schedule enqueues ev, deduplicating against anything already pending.
// Called from ISR context: it must not allocate or block, and the only
// logging it may perform is through the interrupt-safe trace printer.
func (q *Queue) Schedule(ev Event) {
	if ev == None {
		return
	}

	unlock := q.lock.InterruptLock()
	defer unlock()

	freeSlot := -1
	for i, s := range q.slot {
		if s == ev {
			return // already pending, dedup
		}
		if s == None && freeSlot == -1 {
			freeSlot = i
		}
	}

	if freeSlot == -1 {
		if q.log != nil {
			q.log.CritTrace("interrupt queue full, dropping ", ev.String())
		}
		return
	}

	q.slot[freeSlot] = ev
}

// Deschedule clears and returns the first non-None slot, or None if the
// queue is empty. Ordering between distinct pending events is unspecified
// (spec.md §4.11).
func (q *Queue) Deschedule() Event {
	unlock := q.lock.InterruptLock()
	defer unlock()

	for i, s := range q.slot {
		if s != None {
			q.slot[i] = None
			return s
		}
	}
	return None
}

// Pending reports whether ev currently occupies a slot. Exposed for tests;
// not used by production call sites (which only ever Deschedule).
func (q *Queue) Pending(ev Event) bool {
	unlock := q.lock.InterruptLock()
	defer unlock()

	for _, s := range q.slot {
		if s == ev {
			return true
		}
	}
	return false
}
