package taskqueue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/metrics"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

var ErrCleared = fmt.Errorf("task queue cleared")
var ErrShifted = fmt.Errorf("task shifted from queue")
var ErrEmpty = fmt.Errorf("task queue is empty")

// FailListener is notified when the current task fails. The queue is halted
// with the task still current until a listener calls Retry or Skip.
type FailListener func(ctx context.Context, q *Queue, task *Task, err error)

// Queue processes tasks for a single performer, one at a time, in priority order
type Queue struct {
	ctx       context.Context
	name      string
	performer Performer
	store     kvstore.Store

	autoProcess bool

	mu         sync.Mutex
	persistMu  sync.Mutex
	pending    taskHeap
	current    *entry
	failure    error
	seq        uint64
	urgency    uint64
	resolution uint64
	running    bool
	paused     bool
	busy       int

	listeners []FailListener
}

func AutoProcess(enabled bool) func(*Queue) {
	return func(q *Queue) {
		q.autoProcess = enabled
	}
}

func Paused() func(*Queue) {
	return func(q *Queue) {
		q.paused = true
	}
}

// New creates a queue and reifies any tasks persisted under its name before
// returning. A nil store disables persistence.
func New(ctx context.Context, name string, performer Performer, store kvstore.Store, options ...func(*Queue)) (*Queue, error) {
	q := &Queue{
		ctx:         ctx,
		name:        name,
		performer:   performer,
		store:       store,
		autoProcess: true,
		pending:     taskHeap{},
	}

	for _, option := range options {
		option(q)
	}

	if err := q.reify(ctx); err != nil {
		return nil, err
	}

	return q, nil
}

func (q *Queue) Name() string {
	return q.name
}

func (q *Queue) bucketKey() string {
	return "queue/" + q.name
}

func (q *Queue) OnFail(listener FailListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, listener)
}

// Push adds a task to the queue and starts processing unless the queue is paused
func (q *Queue) Push(task *Task) *Processor {
	p := newProcessor(task)

	q.mu.Lock()
	q.seq++
	heap.Push(&q.pending, &entry{processor: p, seq: q.seq})
	if q.autoProcess {
		q.startLocked()
	}
	q.mu.Unlock()

	q.persist()

	return p
}

// Unshift cancels the current run and inserts task to run next. The cancelled
// task runs again right after it.
func (q *Queue) Unshift(task *Task) *Processor {
	p := newProcessor(task)

	q.mu.Lock()
	q.resolution++
	q.running = false
	q.failure = nil

	if q.current != nil {
		q.urgency++
		q.current.urgent = q.urgency
		heap.Push(&q.pending, q.current)
		q.current = nil
	}

	q.seq++
	q.urgency++
	heap.Push(&q.pending, &entry{processor: p, seq: q.seq, urgent: q.urgency})

	if q.autoProcess {
		q.startLocked()
	}
	q.mu.Unlock()

	q.persist()

	return p
}

// Retry resets and reruns the current task
func (q *Queue) Retry() {
	q.mu.Lock()
	q.resolution++
	q.running = false
	q.failure = nil
	q.startLocked()
	q.mu.Unlock()
}

// Skip rejects the current task with err, discards it and continues processing
func (q *Queue) Skip(err error) {
	q.skip(func(*Task) bool { return true }, err)
}

// SkipTask skips the current task only if it is the task with the given id.
// It reports whether the task was skipped.
func (q *Queue) SkipTask(id string, err error) bool {
	return q.skip(func(t *Task) bool { return t.ID == id }, err)
}

func (q *Queue) skip(predicate func(*Task) bool, err error) bool {
	q.mu.Lock()
	e := q.headLocked()
	if e != nil && !predicate(e.processor.task) {
		q.mu.Unlock()
		return false
	}

	q.resolution++
	q.running = false
	q.failure = nil
	q.current = nil
	if q.autoProcess {
		q.startLocked()
	}
	q.mu.Unlock()

	if e != nil {
		e.processor.settle(nil, err)
		metrics.RecordTaskSettled(q.name, err)
	}

	q.persist()
	return e != nil
}

// Shift rejects and removes the head task without resuming processing
func (q *Queue) Shift(err error) (*Task, error) {
	q.mu.Lock()
	e := q.headLocked()
	q.resolution++
	q.running = false
	q.failure = nil
	q.current = nil
	q.mu.Unlock()

	if e == nil {
		return nil, ErrEmpty
	}

	if err == nil {
		err = ErrShifted
	}

	e.processor.settle(nil, err)
	q.persist()

	return e.processor.task, nil
}

// Clear rejects and removes every task
func (q *Queue) Clear(err error) {
	if err == nil {
		err = ErrCleared
	}

	q.mu.Lock()
	all := q.entriesLocked()
	q.pending = taskHeap{}
	q.current = nil
	q.failure = nil
	q.resolution++
	q.running = false
	q.mu.Unlock()

	for _, e := range all {
		e.processor.settle(nil, err)
	}

	q.persist()
}

// Process resumes a paused queue and starts draining it
func (q *Queue) Process() {
	q.mu.Lock()
	q.paused = false
	q.startLocked()
	q.mu.Unlock()
}

// Pause stops the queue from picking up new tasks. A task already running completes.
func (q *Queue) Pause() {
	q.mu.Lock()
	q.paused = true
	q.mu.Unlock()
}

func (q *Queue) IsPaused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.paused
}

// Current returns the task being processed, or the failed task halting the queue
func (q *Queue) Current() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.current == nil {
		return nil
	}
	return q.current.processor.task
}

// Error returns the error of the current task if it has failed
func (q *Queue) Error() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.failure
}

func (q *Queue) Length() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.pending)
	if q.current != nil {
		n++
	}
	return n
}

// Tasks returns every task in the order it will be processed, current first
func (q *Queue) Tasks() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.entriesLocked()
	tasks := make([]*Task, 0, len(entries))
	for _, e := range entries {
		tasks = append(tasks, e.processor.task)
	}
	return tasks
}

// Find returns the tasks matching predicate in processing order
func (q *Queue) Find(predicate func(*Task) bool) []*Task {
	result := []*Task{}
	for _, t := range q.Tasks() {
		if predicate(t) {
			result = append(result, t)
		}
	}
	return result
}

// Rewrite lets fn modify every queued task in place and persists the result
func (q *Queue) Rewrite(fn func(*Task)) {
	q.mu.Lock()
	for _, e := range q.entriesLocked() {
		fn(e.processor.task)
	}
	heap.Init(&q.pending)
	q.mu.Unlock()

	q.persist()
}

// Idle reports if nothing is running and no task remains that could run
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.busy == 0 && q.current == nil && len(q.pending) == 0
}

func (q *Queue) headLocked() *entry {
	if q.current == nil && len(q.pending) > 0 {
		q.current = heap.Pop(&q.pending).(*entry)
	}
	return q.current
}

func (q *Queue) entriesLocked() []*entry {
	entries := make([]*entry, 0, len(q.pending)+1)
	if q.current != nil {
		entries = append(entries, q.current)
	}

	sorted := append(taskHeap{}, q.pending...)
	sort.Sort(sorted)

	return append(entries, sorted...)
}

func (q *Queue) startLocked() {
	if q.running || q.paused || q.failure != nil {
		return
	}

	q.running = true
	q.resolution++
	go q.run(q.resolution)
}

func (q *Queue) run(token uint64) {
	log := logging.GetFromContext(q.ctx)

	for {
		q.mu.Lock()
		if token != q.resolution {
			q.mu.Unlock()
			return
		}

		if q.paused || q.headLocked() == nil {
			q.running = false
			q.mu.Unlock()
			return
		}

		e := q.current
		q.busy++
		q.mu.Unlock()

		result, err := q.perform(e.processor.task)

		q.mu.Lock()
		q.busy--
		if token != q.resolution {
			q.mu.Unlock()
			return
		}

		if err != nil {
			q.failure = err
			q.running = false
			listeners := append([]FailListener{}, q.listeners...)
			q.mu.Unlock()

			log.Debug("task failed", "queue", q.name, "task", e.processor.task.String(), "err", err.Error())
			metrics.RecordTaskFailure(q.name)

			if len(listeners) == 0 {
				q.SkipTask(e.processor.task.ID, err)
				return
			}

			for _, l := range listeners {
				l(q.ctx, q, e.processor.task, err)
			}
			return
		}

		q.current = nil
		q.mu.Unlock()

		q.persist()

		e.processor.settle(result, nil)
		metrics.RecordTaskSettled(q.name, nil)
	}
}

func (q *Queue) perform(task *Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()

	return q.performer.Perform(q.ctx, task)
}

func (q *Queue) persist() {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	tasks := q.Tasks()
	metrics.RecordQueueLength(q.name, len(tasks))

	if q.store == nil {
		return
	}

	err := kvstore.Put(q.ctx, q.store, q.bucketKey(), tasks)
	if err != nil {
		logging.GetFromContext(q.ctx).Error("failed to persist task queue", "queue", q.name, "err", err.Error())
	}
}

func (q *Queue) reify(ctx context.Context) error {
	if q.store == nil {
		return nil
	}

	tasks := []*Task{}

	_, err := kvstore.Get(ctx, q.store, q.bucketKey(), &tasks)
	if err != nil {
		if errors.Is(err, kvstore.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("failed to reify task queue %s: %w", q.name, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	// persisted order is kept ahead of anything pushed after a restart
	n := uint64(len(tasks))
	for i, t := range tasks {
		q.seq++
		heap.Push(&q.pending, &entry{processor: newProcessor(t), seq: q.seq, urgent: n - uint64(i)})
	}
	q.urgency = n

	if len(tasks) > 0 {
		logging.GetFromContext(ctx).Info("reified task queue", "queue", q.name, "count", len(tasks))
	}

	return nil
}
