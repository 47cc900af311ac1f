package annotator

import "slices"

// DefaultHistoryLimit bounds how many snapshots an editor keeps.
const DefaultHistoryLimit = 50

// Action tags the change that produced a snapshot.
type Action string

const (
	ActionLoad   Action = "load"
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
	ActionUpdate Action = "update"
)

type snapshot[T any] struct {
	action Action
	items  []T
}

// History is a bounded undo/redo stack of full snapshots. The zero value is
// not usable; call NewHistory.
type History[T any] struct {
	limit  int
	snaps  []snapshot[T]
	cursor int
}

func NewHistory[T any](limit int, initial []T) *History[T] {
	if limit < 2 {
		limit = DefaultHistoryLimit
	}
	h := &History[T]{limit: limit}
	h.Reset(initial)
	return h
}

// Reset drops all history and starts over from items.
func (h *History[T]) Reset(items []T) {
	h.snaps = []snapshot[T]{{action: ActionLoad, items: slices.Clone(items)}}
	h.cursor = 0
}

// Push records items as the newest state. Anything that could have been
// redone is discarded, and the oldest snapshots fall off past the limit.
func (h *History[T]) Push(action Action, items []T) {
	h.snaps = append(h.snaps[:h.cursor+1], snapshot[T]{action: action, items: slices.Clone(items)})
	if over := len(h.snaps) - h.limit; over > 0 {
		h.snaps = slices.Delete(h.snaps, 0, over)
	}
	h.cursor = len(h.snaps) - 1
}

// Undo steps back and returns the state to restore along with the action
// being undone.
func (h *History[T]) Undo() ([]T, Action, bool) {
	if !h.CanUndo() {
		return nil, "", false
	}
	undone := h.snaps[h.cursor].action
	h.cursor--
	return slices.Clone(h.snaps[h.cursor].items), undone, true
}

// Redo steps forward and returns the state to restore along with the action
// being redone.
func (h *History[T]) Redo() ([]T, Action, bool) {
	if !h.CanRedo() {
		return nil, "", false
	}
	h.cursor++
	s := h.snaps[h.cursor]
	return slices.Clone(s.items), s.action, true
}

func (h *History[T]) CanUndo() bool { return h.cursor > 0 }
func (h *History[T]) CanRedo() bool { return h.cursor < len(h.snaps)-1 }

// Current returns the state at the cursor.
func (h *History[T]) Current() []T {
	return slices.Clone(h.snaps[h.cursor].items)
}

// Len is the number of stored snapshots.
func (h *History[T]) Len() int {
	return len(h.snaps)
}

// Rewrite applies fn to every item of every snapshot.
func (h *History[T]) Rewrite(fn func(T) T) {
	for i := range h.snaps {
		for j := range h.snaps[i].items {
			h.snaps[i].items[j] = fn(h.snaps[i].items[j])
		}
	}
}
