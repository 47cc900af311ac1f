package annotator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"constructionpro/internal/common"
	"constructionpro/internal/fieldsync/apiclient"
	"constructionpro/internal/fieldsync/syncqueue"
	"constructionpro/internal/logging"
)

var (
	ErrOffline       = errors.New("offline")
	ErrNotConfirmed  = fmt.Errorf("%w: pin is not saved on the server yet", common.ErrConflict)
	ErrUnknownPin    = fmt.Errorf("%w: pin", common.ErrNotFound)
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// API is the part of the API client the editor uses.
type API interface {
	ListAnnotations(ctx context.Context, documentID string, page int) ([]apiclient.Annotation, error)
	CreateAnnotation(ctx context.Context, documentID string, in apiclient.AnnotationInput) (*apiclient.Annotation, error)
	UpdateAnnotation(ctx context.Context, id string, patch apiclient.AnnotationPatch) (*apiclient.Annotation, error)
	DeleteAnnotation(ctx context.Context, id string) error
	ResolveAnnotation(ctx context.Context, id string) (*apiclient.Annotation, error)
	UnresolveAnnotation(ctx context.Context, id string) (*apiclient.Annotation, error)
}

// Queue is the part of the sync queue the editor uses.
type Queue interface {
	Enqueue(ctx context.Context, op syncqueue.Operation) (syncqueue.Operation, error)
	Discard(ctx context.Context, id string) error
	Pending() []syncqueue.Operation
	Exhausted() []syncqueue.Operation
}

type Connectivity interface {
	Online() bool
}

// Editor is the local view of one document's pins with undo/redo.
type Editor struct {
	documentID string
	api        API
	queue      Queue
	conn       Connectivity
	log        logging.Logger

	mu      sync.Mutex
	entries []Entry
	history *History[Entry]
}

type Option func(*Editor)

func WithLogger(l logging.Logger) Option {
	return func(e *Editor) { e.log = l }
}

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(e *Editor) { e.history = NewHistory[Entry](n, nil) }
}

func NewEditor(documentID string, api API, queue Queue, conn Connectivity, opts ...Option) *Editor {
	e := &Editor{
		documentID: documentID,
		api:        api,
		queue:      queue,
		conn:       conn,
		log:        logging.Discard(),
		history:    NewHistory[Entry](DefaultHistoryLimit, nil),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Load fetches the document's pins, merges placements still in the queue
// and starts a fresh history.
func (e *Editor) Load(ctx context.Context) error {
	pins, err := e.api.ListAnnotations(ctx, e.documentID, 0)
	if err != nil {
		return fmt.Errorf("load annotations: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(Loaded{Pins: pins, Queued: e.queuedPins()})
	e.history.Reset(e.undoable())
	return nil
}

// Entries returns the current view. page 0 returns every page.
func (e *Editor) Entries(page int) []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if page <= 0 {
		return slices.Clone(e.entries)
	}
	var out []Entry
	for _, en := range e.entries {
		if en.Pin.PageNumber == page {
			out = append(out, en)
		}
	}
	return out
}

// Place shows a new pin at once. Online it is saved directly; offline, or
// when the API is unreachable, it is queued and stays pending. Any other
// API error removes the pin again and is returned.
func (e *Editor) Place(ctx context.Context, in apiclient.AnnotationInput) (Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	localID := uuid.NewString()
	e.apply(Placed{LocalID: localID, Pin: pinFromInput(e.documentID, in)})

	if e.conn.Online() {
		pin, err := e.api.CreateAnnotation(ctx, e.documentID, in)
		switch {
		case err == nil:
			e.apply(Confirmed{LocalID: localID, Pin: *pin})
			e.history.Push(ActionAdd, e.undoable())
			return e.entry(localID), nil
		case !apiclient.IsTransient(err):
			e.apply(Removed{LocalID: localID})
			return Entry{}, err
		}
		e.log.Warn(ctx, "api unreachable, queueing annotation", "document_id", e.documentID, "error", err)
	}

	if err := e.enqueueCreate(ctx, localID, in); err != nil {
		e.apply(Removed{LocalID: localID})
		return Entry{}, err
	}
	e.history.Push(ActionAdd, e.undoable())
	return e.entry(localID), nil
}

// Update edits a saved pin. Nothing changes locally unless the server
// accepts the edit.
func (e *Editor) Update(ctx context.Context, localID string, patch apiclient.AnnotationPatch) (Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.confirmed(localID)
	if err != nil {
		return Entry{}, err
	}
	pin, err := e.api.UpdateAnnotation(ctx, cur.Pin.ID, patch)
	if err != nil {
		return Entry{}, err
	}
	e.apply(Confirmed{LocalID: localID, Pin: *pin})
	e.history.Push(ActionUpdate, e.undoable())
	return e.entry(localID), nil
}

// Remove deletes a pin. A pending pin is taken out of the queue; a saved
// one is deleted on the server first.
func (e *Editor) Remove(ctx context.Context, localID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := indexOf(e.entries, localID)
	if i < 0 {
		return ErrUnknownPin
	}
	cur := e.entries[i]

	switch cur.State {
	case StateConfirmed:
		if !e.conn.Online() {
			return ErrOffline
		}
		if err := e.api.DeleteAnnotation(ctx, cur.Pin.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
	default:
		if err := e.queue.Discard(ctx, localID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
	}

	e.apply(Removed{LocalID: localID})
	if cur.State != StateFailed {
		e.history.Push(ActionRemove, e.undoable())
	}
	return nil
}

// Resolve marks a saved pin resolved once the server confirms it.
func (e *Editor) Resolve(ctx context.Context, localID string) (Entry, error) {
	return e.setResolution(ctx, localID, e.api.ResolveAnnotation)
}

// Unresolve reopens a saved pin once the server confirms it.
func (e *Editor) Unresolve(ctx context.Context, localID string) (Entry, error) {
	return e.setResolution(ctx, localID, e.api.UnresolveAnnotation)
}

func (e *Editor) setResolution(ctx context.Context, localID string, call func(context.Context, string) (*apiclient.Annotation, error)) (Entry, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, err := e.confirmed(localID)
	if err != nil {
		return Entry{}, err
	}
	pin, err := call(ctx, cur.Pin.ID)
	if err != nil {
		return Entry{}, err
	}
	e.apply(Confirmed{LocalID: localID, Pin: *pin})
	// Resolution is not undoable, but later snapshots must not revert it.
	e.history.Rewrite(func(en Entry) Entry {
		if en.LocalID == localID {
			en.Pin.ResolvedAt, en.Pin.ResolvedBy = pin.ResolvedAt, pin.ResolvedBy
		}
		return en
	})
	return e.entry(localID), nil
}

// Confirm records that the queued placement opID became pin. It is meant
// to be the sync queue's annotation callback; unknown ids are ignored.
func (e *Editor) Confirm(opID string, pin *apiclient.Annotation) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if indexOf(e.entries, opID) < 0 {
		return
	}
	e.apply(Confirmed{LocalID: opID, Pin: *pin})
	e.history.Rewrite(func(en Entry) Entry {
		if en.LocalID == opID {
			en.Pin, en.State, en.Err = *pin, StateConfirmed, ""
		}
		return en
	})
}

// Reconcile folds the queue's current contents into the view: placements
// that ran out of retries become failed, discarded ones disappear.
func (e *Editor) Reconcile() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.apply(QueueChanged{Queued: e.queuedPins()})
}

func (e *Editor) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo()
}

func (e *Editor) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanRedo()
}

// Undo restores the previous snapshot, replaying the difference against
// the server. Deleted pins are created again from the local copy.
func (e *Editor) Undo(ctx context.Context) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target, action, ok := e.history.Undo()
	if !ok {
		return "", ErrNothingToUndo
	}
	if err := e.restore(ctx, target); err != nil {
		e.history.Redo()
		return "", err
	}
	return action, nil
}

// Redo re-applies the snapshot Undo stepped back from.
func (e *Editor) Redo(ctx context.Context) (Action, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target, action, ok := e.history.Redo()
	if !ok {
		return "", ErrNothingToRedo
	}
	if err := e.restore(ctx, target); err != nil {
		e.history.Undo()
		return "", err
	}
	return action, nil
}

// restore makes the server and the view match target. It stops at the
// first failed call; calls already made stay applied. Failed entries are
// left to the queue.
func (e *Editor) restore(ctx context.Context, target []Entry) error {
	current := e.undoable()

	for _, cur := range current {
		if indexOf(target, cur.LocalID) >= 0 {
			continue
		}
		if err := e.drop(ctx, cur); err != nil {
			return err
		}
		e.apply(Removed{LocalID: cur.LocalID})
	}

	result := make([]Entry, 0, len(target))
	for _, want := range target {
		i := indexOf(current, want.LocalID)
		var (
			got Entry
			err error
		)
		if i < 0 {
			// A failed placement keeps its queued operation until it is
			// retried or removed.
			if j := indexOf(e.entries, want.LocalID); j >= 0 && e.entries[j].State == StateFailed {
				result = append(result, e.entries[j])
				continue
			}
		}
		switch {
		case i < 0:
			got, err = e.recreate(ctx, want)
		case want.State == StateConfirmed && !sameContent(current[i].Pin, want.Pin):
			got, err = e.revert(ctx, current[i], want)
		default:
			got = current[i]
		}
		if err != nil {
			return err
		}
		result = append(result, got)
		e.history.Rewrite(func(en Entry) Entry {
			if en.LocalID == got.LocalID {
				en.Pin.ID, en.State = got.Pin.ID, got.State
			}
			return en
		})
	}

	e.apply(Restored{Entries: result})
	return nil
}

func (e *Editor) drop(ctx context.Context, en Entry) error {
	if en.State == StatePending {
		if err := e.queue.Discard(ctx, en.LocalID); err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}
		return nil
	}
	if !e.conn.Online() {
		return ErrOffline
	}
	if err := e.api.DeleteAnnotation(ctx, en.Pin.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
		return err
	}
	return nil
}

func (e *Editor) recreate(ctx context.Context, want Entry) (Entry, error) {
	in := inputFromPin(want.Pin)
	if e.conn.Online() {
		pin, err := e.api.CreateAnnotation(ctx, e.documentID, in)
		if err == nil {
			return Entry{LocalID: want.LocalID, Pin: *pin, State: StateConfirmed}, nil
		}
		if !apiclient.IsTransient(err) {
			return Entry{}, err
		}
	}
	if err := e.enqueueCreate(ctx, want.LocalID, in); err != nil {
		return Entry{}, err
	}
	pin := pinFromInput(e.documentID, in)
	return Entry{LocalID: want.LocalID, Pin: pin, State: StatePending}, nil
}

func (e *Editor) revert(ctx context.Context, cur, want Entry) (Entry, error) {
	if !e.conn.Online() {
		return Entry{}, ErrOffline
	}
	pin, err := e.api.UpdateAnnotation(ctx, cur.Pin.ID, patchTo(want.Pin))
	if err != nil {
		return Entry{}, err
	}
	return Entry{LocalID: cur.LocalID, Pin: *pin, State: StateConfirmed}, nil
}

func (e *Editor) enqueueCreate(ctx context.Context, localID string, in apiclient.AnnotationInput) error {
	op, err := syncqueue.NewOperation(syncqueue.OpCreate, syncqueue.ResourceAnnotation, "",
		syncqueue.AnnotationCreate{DocumentID: e.documentID, AnnotationInput: in})
	if err != nil {
		return err
	}
	op.ID = localID
	if _, err := e.queue.Enqueue(ctx, op); err != nil {
		return fmt.Errorf("queue annotation: %w", err)
	}
	return nil
}

func (e *Editor) confirmed(localID string) (Entry, error) {
	i := indexOf(e.entries, localID)
	if i < 0 {
		return Entry{}, ErrUnknownPin
	}
	if e.entries[i].State != StateConfirmed {
		return Entry{}, ErrNotConfirmed
	}
	if !e.conn.Online() {
		return Entry{}, ErrOffline
	}
	return e.entries[i], nil
}

func (e *Editor) apply(ev Event) {
	e.entries = Reduce(e.entries, ev)
}

func (e *Editor) entry(localID string) Entry {
	if i := indexOf(e.entries, localID); i >= 0 {
		return e.entries[i]
	}
	return Entry{}
}

// undoable is the part of the view that history tracks.
func (e *Editor) undoable() []Entry {
	out := make([]Entry, 0, len(e.entries))
	for _, en := range e.entries {
		if en.State != StateFailed {
			out = append(out, en)
		}
	}
	return out
}

// queuedPins lists this document's placements still in the queue.
func (e *Editor) queuedPins() []QueuedPin {
	var out []QueuedPin
	collect := func(ops []syncqueue.Operation) {
		for _, op := range ops {
			if op.Kind != syncqueue.OpCreate || op.ResourceType != syncqueue.ResourceAnnotation {
				continue
			}
			in, err := decodeCreate(op.Payload)
			if err != nil || in.DocumentID != e.documentID {
				continue
			}
			out = append(out, QueuedPin{
				LocalID:   op.ID,
				Pin:       pinFromInput(e.documentID, in.AnnotationInput),
				Exhausted: op.Exhausted(),
				Err:       op.LastError,
			})
		}
	}
	collect(e.queue.Pending())
	collect(e.queue.Exhausted())
	return out
}
