package sources

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("field-sync/sources")

var ErrNotSupported = fmt.Errorf("operation not supported by source")

type Event string

const (
	BeforeQuery  Event = "beforeQuery"
	QueryEvent   Event = "query"
	BeforeUpdate Event = "beforeUpdate"
	UpdateEvent  Event = "update"
	SyncEvent    Event = "sync"
)

// Outcome is what a performer produced for a task. Changes holds the transforms
// the source accepted, which other sources may want to sync.
type Outcome struct {
	Result  any
	Changes []*records.Transform
}

// Listener is called when a source emits an event. Before events carry a nil
// outcome. An error returned from a listener fails the task being processed.
type Listener func(ctx context.Context, task *taskqueue.Task, outcome *Outcome) error

// Performer is the source specific part of a source
type Performer interface {
	Query(ctx context.Context, q *query.Query) (*Outcome, error)
	Update(ctx context.Context, t *records.Transform) (*Outcome, error)
	Sync(ctx context.Context, t *records.Transform) error
}

type namedListener struct {
	name     string
	listener Listener
}

// Source couples a performer with a request queue for queries and updates and a
// sync queue for changes replayed from other sources.
type Source struct {
	name      string
	performer Performer
	requests  *taskqueue.Queue
	syncs     *taskqueue.Queue

	mu        sync.RWMutex
	listeners map[Event][]namedListener
}

func New(ctx context.Context, name string, performer Performer, store kvstore.Store) (*Source, error) {
	s := &Source{
		name:      name,
		performer: performer,
		listeners: map[Event][]namedListener{},
	}

	var err error

	s.requests, err = taskqueue.New(ctx, name, taskqueue.PerformerFunc(s.performRequest), store, taskqueue.Paused())
	if err != nil {
		return nil, err
	}

	s.syncs, err = taskqueue.New(ctx, name+"-sync", taskqueue.PerformerFunc(s.performSync), store, taskqueue.Paused())
	if err != nil {
		return nil, err
	}

	return s, nil
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Performer() Performer {
	return s.performer
}

func (s *Source) Requests() *taskqueue.Queue {
	return s.requests
}

func (s *Source) Syncs() *taskqueue.Queue {
	return s.syncs
}

// On registers a named listener. Registering a name twice replaces the first listener.
func (s *Source) On(event Event, name string, l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(event, name)
	s.listeners[event] = append(s.listeners[event], namedListener{name: name, listener: l})
}

func (s *Source) Off(event Event, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeLocked(event, name)
}

func (s *Source) Listening(event Event, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.ContainsFunc(s.listeners[event], func(nl namedListener) bool { return nl.name == name })
}

func (s *Source) removeLocked(event Event, name string) {
	s.listeners[event] = slices.DeleteFunc(s.listeners[event], func(nl namedListener) bool { return nl.name == name })
}

func (s *Source) emit(ctx context.Context, event Event, task *taskqueue.Task, outcome *Outcome) error {
	s.mu.RLock()
	listeners := append([]namedListener{}, s.listeners[event]...)
	s.mu.RUnlock()

	for _, nl := range listeners {
		if err := nl.listener(ctx, task, outcome); err != nil {
			return err
		}
	}

	return nil
}

// Query pushes a query onto the request queue and waits for its result
func (s *Source) Query(ctx context.Context, q *query.Query) (*query.Result, error) {
	outcome, err := s.wait(ctx, s.requests.Push(taskqueue.NewQueryTask(q)))
	if err != nil {
		return nil, err
	}

	result, _ := outcome.Result.(*query.Result)
	return result, nil
}

// Update pushes a transform onto the request queue and waits for it to be applied
func (s *Source) Update(ctx context.Context, t *records.Transform) ([]*records.Record, error) {
	outcome, err := s.wait(ctx, s.requests.Push(taskqueue.NewUpdateTask(t)))
	if err != nil {
		return nil, err
	}

	result, _ := outcome.Result.([]*records.Record)
	return result, nil
}

// Sync pushes a transform onto the sync queue and waits for it to be applied
func (s *Source) Sync(ctx context.Context, t *records.Transform) error {
	_, err := s.wait(ctx, s.syncs.Push(taskqueue.NewUpdateTask(t)))
	return err
}

func (s *Source) wait(ctx context.Context, p *taskqueue.Processor) (*Outcome, error) {
	v, err := p.Wait(ctx)
	if err != nil {
		return nil, err
	}

	outcome, _ := v.(*Outcome)
	if outcome == nil {
		outcome = &Outcome{}
	}

	return outcome, nil
}

func (s *Source) performRequest(ctx context.Context, task *taskqueue.Task) (result any, err error) {
	ctx, span := tracer.Start(ctx, s.name+"-"+string(task.Type), trace.WithAttributes(attribute.String("task", task.ID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	var outcome *Outcome

	switch task.Type {
	case taskqueue.TypeQuery:
		if err = s.emit(ctx, BeforeQuery, task, nil); err != nil {
			return nil, err
		}
		if outcome, err = s.performer.Query(ctx, task.Query); err != nil {
			return nil, err
		}
		err = s.emit(ctx, QueryEvent, task, outcome)

	case taskqueue.TypeUpdate:
		if err = s.emit(ctx, BeforeUpdate, task, nil); err != nil {
			return nil, err
		}
		if outcome, err = s.performer.Update(ctx, task.Transform); err != nil {
			return nil, err
		}
		err = s.emit(ctx, UpdateEvent, task, outcome)

	default:
		err = fmt.Errorf("unknown task type %s", task.Type)
	}

	if err != nil {
		return nil, err
	}

	return outcome, nil
}

func (s *Source) performSync(ctx context.Context, task *taskqueue.Task) (result any, err error) {
	ctx, span := tracer.Start(ctx, s.name+"-sync", trace.WithAttributes(attribute.String("transform", task.ID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if task.Transform == nil {
		return nil, fmt.Errorf("sync task %s carries no transform", task.ID)
	}

	if err = s.performer.Sync(ctx, task.Transform); err != nil {
		return nil, err
	}

	outcome := &Outcome{Changes: []*records.Transform{task.Transform}}
	if err = s.emit(ctx, SyncEvent, task, outcome); err != nil {
		return nil, err
	}

	return outcome, nil
}
