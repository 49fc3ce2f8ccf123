package taskqueue

import (
	"context"
	"fmt"
	"sync"

	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/google/uuid"
)

type TaskType string

const (
	TypeQuery  TaskType = "query"
	TypeUpdate TaskType = "update"
)

// Task wraps either a query or a transform for a performer. Lower priority
// values run first.
type Task struct {
	ID        string             `json:"id"`
	Type      TaskType           `json:"type"`
	Query     *query.Query       `json:"query,omitempty"`
	Transform *records.Transform `json:"transform,omitempty"`
	Priority  int                `json:"priority,omitempty"`
}

type TaskDecoratorFunc func(t *Task)

func NewQueryTask(q *query.Query, decorators ...TaskDecoratorFunc) *Task {
	t := &Task{ID: uuid.NewString(), Type: TypeQuery, Query: q}
	for _, decorate := range decorators {
		decorate(t)
	}
	return t
}

func NewUpdateTask(t *records.Transform, decorators ...TaskDecoratorFunc) *Task {
	task := &Task{ID: t.ID, Type: TypeUpdate, Transform: t}
	for _, decorate := range decorators {
		decorate(task)
	}
	return task
}

func Priority(p int) TaskDecoratorFunc {
	return func(t *Task) {
		t.Priority = p
	}
}

func (t *Task) String() string {
	switch t.Type {
	case TypeUpdate:
		return fmt.Sprintf("update(%s)", t.Transform.ID)
	case TypeQuery:
		return fmt.Sprintf("query(%s)", t.Query.Expression.Op())
	}
	return string(t.Type)
}

// Performer does the actual work of a task
type Performer interface {
	Perform(ctx context.Context, task *Task) (any, error)
}

type PerformerFunc func(ctx context.Context, task *Task) (any, error)

func (f PerformerFunc) Perform(ctx context.Context, task *Task) (any, error) {
	return f(ctx, task)
}

// Processor carries the settlement of a pushed task
type Processor struct {
	task   *Task
	done   chan struct{}
	once   sync.Once
	result any
	err    error
}

func newProcessor(t *Task) *Processor {
	return &Processor{task: t, done: make(chan struct{})}
}

func (p *Processor) Task() *Task {
	return p.task
}

// Wait blocks until the task has been resolved or rejected, or until ctx is done
func (p *Processor) Wait(ctx context.Context) (any, error) {
	select {
	case <-p.done:
		return p.result, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Processor) Settled() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *Processor) settle(result any, err error) {
	p.once.Do(func() {
		p.result = result
		p.err = err
		close(p.done)
	})
}
