// Package action implements the typed event-to-callback dispatch table
// shared by every endpoint (TcpServer, TcpClient, DgramSocket, Connection).
//
// Redesigned away from the C++ source's
// compile-time tuple-of-tuples (events/action_hanlder.hpp) into a Go
// generic map keyed by a comparable tag type, holding an ordered,
// flag-annotated callback list per tag — matching the "ActionTable"
// data model (finite mapping from event tag to FIFO-ordered callback list)
// exactly, while gnet's EventHandler interface dispatch showed the target
// idiom for routing one event kind to user code.
package action

// Flag controls how a callback behaves within its tag's dispatch list.
type Flag uint8

const (
	// Default orders the callback after previously added non-tail
	// callbacks.
	Default Flag = 0
	// Skip retains the callback in the list but never invokes it.
	Skip Flag = 1 << iota
	// StopAfter ends the dispatch immediately after this callback runs,
	// without invoking any callback scheduled after it (including tail
	// callbacks). Use when the callback may destroy the owning endpoint.
	StopAfter
	// QueueEnd physically places the callback at the tail of the list.
	// New non-tail callbacks are always ordered before every tail
	// callback, regardless of insertion order.
	QueueEnd
)

type entry[Fn any] struct {
	fn    Fn
	flags Flag
}

// Table is a finite mapping from a set of event tags to an ordered,
// flag-annotated callback list. Tag must be comparable (typically a small
// named struct type or string constant acting as a compile-time-known
// event name); Fn is the callback signature bound to that endpoint.
//
// The zero Table is ready to use.
type Table[Tag comparable, Fn any] struct {
	body map[Tag][]entry[Fn]
	tail map[Tag][]entry[Fn]
}

// On appends fn to tag's callback list with the given flags. QueueEnd
// callbacks are stored separately so that any later Default/Skip/StopAfter
// addition is still ordered before them.
func (t *Table[Tag, Fn]) On(tag Tag, fn Fn, flags Flag) {
	e := entry[Fn]{fn: fn, flags: flags}
	if flags&QueueEnd != 0 {
		if t.tail == nil {
			t.tail = make(map[Tag][]entry[Fn])
		}
		t.tail[tag] = append(t.tail[tag], e)
		return
	}
	if t.body == nil {
		t.body = make(map[Tag][]entry[Fn])
	}
	t.body[tag] = append(t.body[tag], e)
}

// Execute dispatches tag: it walks the non-tail list in insertion order,
// then the tail list in insertion order, calling invoke for every entry
// whose Skip flag is not set. A StopAfter entry ends the dispatch
// (including any remaining tail entries) immediately after invoke returns.
//
// Execute captures the current slice headers before iterating, so a
// callback that calls On mid-dispatch only affects the next Execute, never
// the one in progress.
func (t *Table[Tag, Fn]) Execute(tag Tag, invoke func(Fn)) {
	body := t.body[tag]
	tail := t.tail[tag]

	for _, e := range body {
		if e.flags&Skip != 0 {
			continue
		}
		invoke(e.fn)
		if e.flags&StopAfter != 0 {
			return
		}
	}
	for _, e := range tail {
		if e.flags&Skip != 0 {
			continue
		}
		invoke(e.fn)
		if e.flags&StopAfter != 0 {
			return
		}
	}
}

// Len reports how many callbacks (tail and non-tail, including Skip'd
// ones) are registered for tag. Primarily useful in tests.
func (t *Table[Tag, Fn]) Len(tag Tag) int {
	return len(t.body[tag]) + len(t.tail[tag])
}
