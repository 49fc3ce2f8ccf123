package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/internal/pkg/application/coordinator"
	"github.com/diwise/field-sync/internal/pkg/application/sources"
	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/metrics"
	jsonapierrors "github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/looplab/fsm"
)

const (
	StateAttempted         string = "attempted"
	StateErrorsAccumulated string = "errors_accumulated"
	StateCommitted         string = "committed"
	StateDeadLettered      string = "dead_lettered"
)

const (
	eventFail       string = "fail"
	eventRetry      string = "retry"
	eventCommit     string = "commit"
	eventDeadLetter string = "dead_letter"
)

const DeadLetterQueueName string = "dead-letter"

const listenerName string = "retry-pipeline"

// Pipeline retries remote updates that fail and moves transforms that keep
// failing to the dead letter queue
type Pipeline struct {
	remote         *sources.Source
	memory         *sources.Source
	cache          *cache.Cache
	barrier        *coordinator.Barrier
	deadLetters    *taskqueue.Queue
	threshold      int
	arrivalTimeout time.Duration
	newBackOff     func() backoff.BackOff

	mu       sync.Mutex
	attempts map[string]*attempt
}

type attempt struct {
	machine *fsm.FSM
	backoff backoff.BackOff
}

func Threshold(n int) func(*Pipeline) {
	return func(p *Pipeline) {
		p.threshold = n
	}
}

func ArrivalTimeout(timeout time.Duration) func(*Pipeline) {
	return func(p *Pipeline) {
		p.arrivalTimeout = timeout
	}
}

func BackOff(newBackOff func() backoff.BackOff) func(*Pipeline) {
	return func(p *Pipeline) {
		p.newBackOff = newBackOff
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.Reset()
	return b
}

// New creates a pipeline watching the request queue of remote. Transforms that
// fail threshold times are rolled back from the cache behind memory.
func New(ctx context.Context, remote, memory *sources.Source, barrier *coordinator.Barrier, store kvstore.Store, options ...func(*Pipeline)) (*Pipeline, error) {
	m, ok := memory.Performer().(*sources.Memory)
	if !ok {
		return nil, fmt.Errorf("source %s is not backed by a cache", memory.Name())
	}

	p := &Pipeline{
		remote:         remote,
		memory:         memory,
		cache:          m.Cache(),
		barrier:        barrier,
		threshold:      3,
		arrivalTimeout: 500 * time.Millisecond,
		newBackOff:     defaultBackOff,
		attempts:       map[string]*attempt{},
	}

	for _, option := range options {
		option(p)
	}

	var err error
	p.deadLetters, err = taskqueue.New(ctx, DeadLetterQueueName, taskqueue.PerformerFunc(p.resubmit), store, taskqueue.AutoProcess(false))
	if err != nil {
		return nil, err
	}

	remote.Requests().OnFail(p.failed)
	remote.On(sources.UpdateEvent, listenerName, p.committed)

	return p, nil
}

// DeadLetters returns the transforms that were given up on, oldest first
func (p *Pipeline) DeadLetters() []*records.Transform {
	transforms := []*records.Transform{}
	for _, task := range p.deadLetters.Tasks() {
		if task.Transform != nil {
			transforms = append(transforms, task.Transform)
		}
	}
	return transforms
}

// Resubmit sends every dead lettered transform to the remote store again
func (p *Pipeline) Resubmit() {
	p.deadLetters.Process()
}

// ClearDeadLetters drops every dead lettered transform
func (p *Pipeline) ClearDeadLetters() {
	p.deadLetters.Clear(nil)
}

// Resume retries a failed remote update that is halting the remote queue. It is
// used when a scheduled retry could not get past the barrier.
func (p *Pipeline) Resume(ctx context.Context) {
	q := p.remote.Requests()

	task := q.Current()
	if task == nil || task.Type != taskqueue.TypeUpdate || q.Error() == nil {
		return
	}

	logging.GetFromContext(ctx).Info("resuming failed remote update", "transform", task.ID)

	p.transition(ctx, task.ID, eventRetry)
	q.Retry()
}

// State returns the retry state of a transform, or an empty string if it has never failed
func (p *Pipeline) State(transformID string) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if a, ok := p.attempts[transformID]; ok {
		return a.machine.Current()
	}
	return ""
}

func (p *Pipeline) attempt(ctx context.Context, transformID string) *attempt {
	p.mu.Lock()
	defer p.mu.Unlock()

	a, ok := p.attempts[transformID]
	if ok {
		return a
	}

	log := logging.GetFromContext(ctx)

	a = &attempt{
		backoff: p.newBackOff(),
		machine: fsm.NewFSM(
			StateAttempted,
			fsm.Events{
				{Name: eventFail, Src: []string{StateAttempted}, Dst: StateErrorsAccumulated},
				{Name: eventRetry, Src: []string{StateErrorsAccumulated}, Dst: StateAttempted},
				{Name: eventCommit, Src: []string{StateAttempted}, Dst: StateCommitted},
				{Name: eventDeadLetter, Src: []string{StateErrorsAccumulated}, Dst: StateDeadLettered},
			},
			fsm.Callbacks{
				"enter_state": func(ctx context.Context, e *fsm.Event) {
					log.Debug("transform changed state", "transform", transformID, "from", e.Src, "to", e.Dst)
				},
			},
		),
	}

	p.attempts[transformID] = a
	return a
}

func (p *Pipeline) transition(ctx context.Context, transformID, event string) {
	p.mu.Lock()
	a, ok := p.attempts[transformID]
	p.mu.Unlock()

	if !ok {
		return
	}

	if err := a.machine.Event(ctx, event); err != nil {
		logging.GetFromContext(ctx).Debug("ignored retry transition", "transform", transformID, "event", event, "err", err.Error())
	}
}

func (p *Pipeline) forget(transformID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.attempts, transformID)
}

func (p *Pipeline) committed(ctx context.Context, task *taskqueue.Task, outcome *sources.Outcome) error {
	p.transition(ctx, task.ID, eventCommit)
	p.forget(task.ID)
	return nil
}

func (p *Pipeline) failed(ctx context.Context, q *taskqueue.Queue, task *taskqueue.Task, err error) {
	if task.Type != taskqueue.TypeUpdate || task.Transform == nil {
		return
	}

	log := logging.GetFromContext(ctx)

	a := p.attempt(ctx, task.ID)
	p.transition(ctx, task.ID, eventFail)

	info := errorInfo(err)
	failures := 0

	var partial *sources.PartialUpdateError
	if !errors.As(err, &partial) {
		partial = nil
	}

	q.Rewrite(func(t *taskqueue.Task) {
		if t.ID == task.ID && t.Transform != nil {
			if partial != nil {
				t.Transform.Options.AcceptedOperations = partial.Accepted
			}
			t.Transform.Options.FailedRetryErrors = append(t.Transform.Options.FailedRetryErrors, info)
			failures = len(t.Transform.Options.FailedRetryErrors)
		}
	})

	log.Warn("remote update failed", "transform", task.ID, "failures", failures, "err", err.Error())

	if partial != nil {
		log.Info("remote store accepted part of the transform", "transform", task.ID, "accepted", partial.Accepted)
		for _, changes := range partial.Changes {
			p.memory.Syncs().Push(taskqueue.NewUpdateTask(changes))
		}
	}

	if failures >= p.threshold {
		p.deadLetter(ctx, q, task, err)
		return
	}

	delay := a.backoff.NextBackOff()
	if delay == backoff.Stop {
		p.deadLetter(ctx, q, task, err)
		return
	}

	go func() {
		if err := p.retry(ctx, q, task.ID, delay); err != nil {
			log.Error("failed to retry remote update", "transform", task.ID, "err", err.Error())
		}
	}()
}

func (p *Pipeline) retry(ctx context.Context, q *taskqueue.Queue, transformID string, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := p.barrier.Arrive(ctx, p.arrivalTimeout); err != nil {
		return err
	}

	current := q.Current()
	if current == nil || current.ID != transformID || q.Error() == nil {
		return nil
	}

	p.transition(ctx, transformID, eventRetry)
	q.Retry()

	return nil
}

func (p *Pipeline) deadLetter(ctx context.Context, q *taskqueue.Queue, task *taskqueue.Task, err error) {
	log := logging.GetFromContext(ctx)

	p.transition(ctx, task.ID, eventDeadLetter)
	p.forget(task.ID)

	p.deadLetters.Push(taskqueue.NewUpdateTask(task.Transform.Clone()))
	metrics.RecordDeadLetter()

	log.Error("giving up on remote update", "transform", task.ID, "err", err.Error())

	// operations the remote store accepted stay in the cache
	reverted, touched, rollbackErr := p.cache.RollbackKeeping(task.ID, task.Transform.Options.AcceptedOperations)
	if rollbackErr != nil && !errors.Is(rollbackErr, cache.ErrNotLogged) {
		log.Error("failed to roll back transform", "transform", task.ID, "err", rollbackErr.Error())
	}

	if len(reverted) > 0 {
		log.Info("rolled back local changes", "transform", task.ID, "reverted", len(reverted))
		p.memory.Syncs().Push(taskqueue.NewUpdateTask(p.restoration(touched)))
	}

	q.SkipTask(task.ID, err)
	p.memory.Requests().SkipTask(task.ID, err)
}

// restoration is a local only transform carrying the current state of every
// touched record, so that mirrors of the cache can catch up with a rollback
func (p *Pipeline) restoration(touched []records.RecordRef) *records.Transform {
	ops := make([]records.Operation, 0, len(touched))

	for _, ref := range touched {
		if r, ok := p.cache.Record(ref); ok {
			ops = append(ops, records.AddRecord{Record: r})
		} else {
			ops = append(ops, records.RemoveRecord{Record: ref})
		}
	}

	return records.NewTransform(ops, records.LocalOnly())
}

// resubmit hands a dead lettered transform back to the remote queue with its
// failure history cleared
func (p *Pipeline) resubmit(ctx context.Context, task *taskqueue.Task) (any, error) {
	if task.Transform == nil {
		return nil, nil
	}

	t := task.Transform.Clone()
	t.Options.FailedRetryErrors = nil

	p.remote.Requests().Push(taskqueue.NewUpdateTask(t, taskqueue.Priority(task.Priority)))
	return nil, nil
}

func errorInfo(err error) records.ErrorInfo {
	status := jsonapierrors.StatusCode(err)
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return records.NewErrorInfo(status, http.StatusText(status), err.Error())
}
