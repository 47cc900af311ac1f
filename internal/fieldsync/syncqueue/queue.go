package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"constructionpro/internal/common"
	"constructionpro/internal/fieldsync/connectivity"
	"constructionpro/internal/logging"
)

// Trigger names what started a drain pass.
type Trigger string

const (
	TriggerReconnect  Trigger = "reconnect"
	TriggerLaunch     Trigger = "launch"
	TriggerForeground Trigger = "foreground"
	TriggerManual     Trigger = "manual"
)

// Connectivity is what the queue needs from the connectivity monitor.
type Connectivity interface {
	Online() bool
	Subscribe() (<-chan connectivity.Change, func())
}

// Notifier is told about the outcome of a pass that did something.
type Notifier interface {
	Synced(n int)
	Failed(n int)
}

// Metrics instruments the queue.
type Metrics interface {
	SetDepth(pending, exhausted int)
	RecordReplay(resourceType string, ok bool)
	RecordPass()
}

// Result summarizes one call to Process.
type Result struct {
	Trigger   Trigger `json:"trigger"`
	Skipped   bool    `json:"skipped"`
	Reason    string  `json:"reason,omitempty"`
	Attempted int     `json:"attempted"`
	Synced    int     `json:"synced"`
	Failed    int     `json:"failed"`
}

// Status is a point-in-time view of the queue.
type Status struct {
	Online     bool       `json:"online"`
	Processing bool       `json:"processing"`
	Pending    int        `json:"pending"`
	Exhausted  int        `json:"exhausted"`
	LastPassAt *time.Time `json:"last_pass_at,omitempty"`
	LastResult *Result    `json:"last_result,omitempty"`
}

type Queue struct {
	store    *Store
	handler  Handler
	conn     Connectivity
	notifier Notifier
	metrics  Metrics
	log      logging.Logger
	now      func() time.Time

	processing atomic.Bool

	mu         sync.Mutex
	ops        []Operation // ordered by Seq
	lastPassAt *time.Time
	lastResult *Result
}

type Option func(*Queue)

func WithNotifier(n Notifier) Option {
	return func(q *Queue) { q.notifier = n }
}

func WithMetrics(m Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

func WithLogger(l logging.Logger) Option {
	return func(q *Queue) { q.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store *Store, handler Handler, conn Connectivity, opts ...Option) *Queue {
	q := &Queue{
		store:   store,
		handler: handler,
		conn:    conn,
		log:     logging.Discard(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Load replaces the in-memory queue with what is on disk.
func (q *Queue) Load(ctx context.Context) error {
	ops, err := q.store.All(ctx)
	if err != nil {
		return fmt.Errorf("load queue: %w", err)
	}

	q.mu.Lock()
	q.ops = ops
	q.mu.Unlock()

	q.updateDepth()
	q.log.Info(ctx, "queue loaded", "operations", len(ops))
	return nil
}

// Enqueue persists op and then makes it visible to the next pass. An empty
// ID is filled with a new UUID; a caller-chosen ID must be unique.
func (q *Queue) Enqueue(ctx context.Context, op Operation) (Operation, error) {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = q.now()
	}
	op.RetryCount, op.LastAttemptAt, op.LastError = 0, nil, ""
	if err := op.validate(); err != nil {
		return Operation{}, err
	}

	if err := q.store.Insert(ctx, &op); err != nil {
		return Operation{}, err
	}

	q.mu.Lock()
	q.ops = append(q.ops, op)
	q.mu.Unlock()

	q.updateDepth()
	q.log.Debug(ctx, "operation queued",
		"operation_id", op.ID, "operation", op.Kind, "resource_type", op.ResourceType)
	return op, nil
}

// Process replays every operation below the retry limit, oldest first. It
// does nothing while offline or while another pass is running. Each replay
// runs to completion; ctx is only checked between operations.
func (q *Queue) Process(ctx context.Context, trigger Trigger) Result {
	res := Result{Trigger: trigger}

	if !q.conn.Online() {
		res.Skipped, res.Reason = true, "offline"
		return res
	}
	if !q.processing.CompareAndSwap(false, true) {
		res.Skipped, res.Reason = true, "already processing"
		return res
	}
	defer q.processing.Store(false)

	if q.metrics != nil {
		q.metrics.RecordPass()
	}

	work := context.WithoutCancel(ctx)
	for _, op := range q.ready() {
		if ctx.Err() != nil {
			break
		}
		res.Attempted++

		err := q.handler.Apply(work, op)
		if q.metrics != nil {
			q.metrics.RecordReplay(string(op.ResourceType), err == nil)
		}
		if err == nil {
			res.Synced++
			q.succeeded(work, op)
			continue
		}
		res.Failed++
		q.failed(work, op, err)
	}

	q.finish(ctx, res)
	return res
}

func (q *Queue) succeeded(ctx context.Context, op Operation) {
	if err := q.store.Delete(ctx, op.ID); err != nil && !errors.Is(err, common.ErrNotFound) {
		// Left in memory and on disk; the next pass replays it.
		q.log.Error(ctx, "remove synced operation", "operation_id", op.ID, "error", err)
		return
	}
	q.mu.Lock()
	q.ops = slices.DeleteFunc(q.ops, func(o Operation) bool { return o.ID == op.ID })
	q.mu.Unlock()

	q.log.Debug(ctx, "operation synced", "operation_id", op.ID, "resource_type", op.ResourceType)
}

func (q *Queue) failed(ctx context.Context, op Operation, cause error) {
	at := q.now()
	msg := cause.Error()
	if err := q.store.RecordFailure(ctx, op.ID, at, msg); err != nil {
		q.log.Error(ctx, "record operation failure", "operation_id", op.ID, "error", err)
		return
	}

	q.mu.Lock()
	for i := range q.ops {
		if q.ops[i].ID == op.ID {
			q.ops[i].RetryCount++
			q.ops[i].LastAttemptAt = &at
			q.ops[i].LastError = msg
			op = q.ops[i]
			break
		}
	}
	q.mu.Unlock()

	q.log.Warn(ctx, "operation failed",
		"operation_id", op.ID,
		"resource_type", op.ResourceType,
		"retry_count", op.RetryCount,
		"exhausted", op.Exhausted(),
		"error", msg,
	)
}

func (q *Queue) finish(ctx context.Context, res Result) {
	at := q.now()
	q.mu.Lock()
	q.lastPassAt, q.lastResult = &at, &res
	q.mu.Unlock()

	q.updateDepth()
	if q.notifier != nil {
		if res.Synced > 0 {
			q.notifier.Synced(res.Synced)
		}
		if res.Failed > 0 {
			q.notifier.Failed(res.Failed)
		}
	}
	q.log.Info(ctx, "queue pass finished",
		"trigger", res.Trigger, "attempted", res.Attempted, "synced", res.Synced, "failed", res.Failed)
}

func (q *Queue) ready() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Operation, 0, len(q.ops))
	for _, op := range q.ops {
		if !op.Exhausted() {
			out = append(out, op)
		}
	}
	return out
}

// Pending returns the operations still eligible for automatic replay.
func (q *Queue) Pending() []Operation {
	return q.ready()
}

// Exhausted returns the operations that hit the retry limit.
func (q *Queue) Exhausted() []Operation {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Operation
	for _, op := range q.ops {
		if op.Exhausted() {
			out = append(out, op)
		}
	}
	return out
}

// Len is the number of stored operations, exhausted ones included.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	st := Status{
		Online:     q.conn.Online(),
		Processing: q.processing.Load(),
		LastPassAt: q.lastPassAt,
		LastResult: q.lastResult,
	}
	for _, op := range q.ops {
		if op.Exhausted() {
			st.Exhausted++
		} else {
			st.Pending++
		}
	}
	return st
}

// Retry clears an operation's failures so the next pass attempts it again.
func (q *Queue) Retry(ctx context.Context, id string) error {
	if err := q.store.ResetRetries(ctx, id); err != nil {
		return err
	}
	q.mu.Lock()
	for i := range q.ops {
		if q.ops[i].ID == id {
			q.ops[i].RetryCount, q.ops[i].LastAttemptAt, q.ops[i].LastError = 0, nil, ""
		}
	}
	q.mu.Unlock()

	q.updateDepth()
	return nil
}

// Discard drops an operation without replaying it.
func (q *Queue) Discard(ctx context.Context, id string) error {
	if err := q.store.Delete(ctx, id); err != nil {
		return err
	}
	q.mu.Lock()
	q.ops = slices.DeleteFunc(q.ops, func(o Operation) bool { return o.ID == id })
	q.mu.Unlock()

	q.updateDepth()
	q.log.Info(ctx, "operation discarded", "operation_id", id)
	return nil
}

// ClearFailed drops every exhausted operation and returns how many went.
func (q *Queue) ClearFailed(ctx context.Context) (int, error) {
	n, err := q.store.DeleteExhausted(ctx)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	q.ops = slices.DeleteFunc(q.ops, Operation.Exhausted)
	q.mu.Unlock()

	q.updateDepth()
	return int(n), nil
}

// OnLaunch drains the queue if anything was left from a previous run.
func (q *Queue) OnLaunch(ctx context.Context) Result {
	return q.drainIfNonEmpty(ctx, TriggerLaunch)
}

// OnForeground drains the queue when the app comes back to the foreground.
func (q *Queue) OnForeground(ctx context.Context) Result {
	return q.drainIfNonEmpty(ctx, TriggerForeground)
}

func (q *Queue) drainIfNonEmpty(ctx context.Context, trigger Trigger) Result {
	if len(q.ready()) == 0 {
		return Result{Trigger: trigger, Skipped: true, Reason: "empty"}
	}
	return q.Process(ctx, trigger)
}

// Run drains the queue on every offline to online transition until ctx is
// done.
func (q *Queue) Run(ctx context.Context) error {
	changes, unsubscribe := q.conn.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ch := <-changes:
			if !ch.Online {
				q.log.Info(ctx, "connectivity lost", "pending", q.Len())
				continue
			}
			q.Process(ctx, TriggerReconnect)
		}
	}
}

func (q *Queue) updateDepth() {
	if q.metrics == nil {
		return
	}
	st := q.Status()
	q.metrics.SetDepth(st.Pending, st.Exhausted)
}
