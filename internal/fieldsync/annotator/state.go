// Package annotator keeps a field device's view of the pins on one document.
//
// Placements are shown immediately and confirmed by the API or, when the
// device is offline, by the sync queue. Every entry carries its state
// explicitly, and all state changes go through Reduce.
package annotator

import (
	"slices"

	"constructionpro/internal/fieldsync/apiclient"
)

// State is where an entry stands relative to the server.
type State int

const (
	// StateConfirmed entries exist on the server.
	StateConfirmed State = iota
	// StatePending entries are shown locally and wait for the server.
	StatePending
	// StateFailed entries could not be saved and need the user's attention.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConfirmed:
		return "confirmed"
	case StatePending:
		return "pending"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Entry is one pin in the local view. LocalID never changes for the life of
// the entry; Pin.ID is the server id and is empty until confirmed.
type Entry struct {
	LocalID string
	Pin     apiclient.Annotation
	State   State
	Err     string
}

// QueuedPin is a placement waiting in the sync queue.
type QueuedPin struct {
	LocalID   string
	Pin       apiclient.Annotation
	Exhausted bool
	Err       string
}

// Event is an input to Reduce.
type Event interface {
	event()
}

// Loaded replaces the view with the server's pins plus queued placements.
type Loaded struct {
	Pins   []apiclient.Annotation
	Queued []QueuedPin
}

// QueueChanged reconciles pending entries with the queue's contents.
// Pending entries no longer queued are dropped, exhausted ones fail.
type QueueChanged struct {
	Queued []QueuedPin
}

// Placed adds an optimistic entry.
type Placed struct {
	LocalID string
	Pin     apiclient.Annotation
}

// Confirmed records the server's copy of an entry.
type Confirmed struct {
	LocalID string
	Pin     apiclient.Annotation
}

// Rejected marks an entry failed.
type Rejected struct {
	LocalID string
	Err     string
}

// Removed drops an entry.
type Removed struct {
	LocalID string
}

// Restored replaces the view with a snapshot, keeping failed entries.
type Restored struct {
	Entries []Entry
}

func (Loaded) event()       {}
func (QueueChanged) event() {}
func (Placed) event()       {}
func (Confirmed) event()    {}
func (Rejected) event()     {}
func (Removed) event()      {}
func (Restored) event()     {}

// Reduce returns the view after ev. It never modifies entries.
func Reduce(entries []Entry, ev Event) []Entry {
	switch ev := ev.(type) {
	case Loaded:
		out := make([]Entry, 0, len(ev.Pins)+len(ev.Queued))
		for _, p := range ev.Pins {
			out = append(out, Entry{LocalID: p.ID, Pin: p, State: StateConfirmed})
		}
		return append(out, queuedEntries(ev.Queued)...)

	case QueueChanged:
		queued := make(map[string]QueuedPin, len(ev.Queued))
		for _, q := range ev.Queued {
			queued[q.LocalID] = q
		}
		out := make([]Entry, 0, len(entries))
		for _, e := range entries {
			if e.State == StatePending {
				q, ok := queued[e.LocalID]
				if !ok {
					continue
				}
				if q.Exhausted {
					e.State, e.Err = StateFailed, q.Err
				}
			}
			out = append(out, e)
		}
		return out

	case Placed:
		out := slices.Clone(entries)
		return append(out, Entry{LocalID: ev.LocalID, Pin: ev.Pin, State: StatePending})

	case Confirmed:
		return update(entries, ev.LocalID, func(e *Entry) {
			e.Pin, e.State, e.Err = ev.Pin, StateConfirmed, ""
		})

	case Rejected:
		return update(entries, ev.LocalID, func(e *Entry) {
			e.State, e.Err = StateFailed, ev.Err
		})

	case Removed:
		return slices.DeleteFunc(slices.Clone(entries), func(e Entry) bool { return e.LocalID == ev.LocalID })

	case Restored:
		out := slices.Clone(ev.Entries)
		for _, e := range entries {
			if e.State == StateFailed && indexOf(out, e.LocalID) < 0 {
				out = append(out, e)
			}
		}
		return out
	}
	return entries
}

func queuedEntries(queued []QueuedPin) []Entry {
	out := make([]Entry, 0, len(queued))
	for _, q := range queued {
		e := Entry{LocalID: q.LocalID, Pin: q.Pin, State: StatePending}
		if q.Exhausted {
			e.State, e.Err = StateFailed, q.Err
		}
		out = append(out, e)
	}
	return out
}

func update(entries []Entry, localID string, fn func(*Entry)) []Entry {
	out := slices.Clone(entries)
	if i := indexOf(out, localID); i >= 0 {
		fn(&out[i])
	}
	return out
}

func indexOf(entries []Entry, localID string) int {
	return slices.IndexFunc(entries, func(e Entry) bool { return e.LocalID == localID })
}
