package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/field-sync/internal/pkg/application/sources"
	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/metrics"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// Coordinator wires sources together by interpreting strategies
type Coordinator struct {
	sources        map[string]*sources.Source
	strategies     []Strategy
	filters        map[string]FilterFunc
	barrier        *Barrier
	arrivalTimeout time.Duration
	remote         string

	mu       sync.RWMutex
	online   bool
	active   bool
	attached bool
}

func WithStrategies(strategies []Strategy) func(*Coordinator) {
	return func(c *Coordinator) {
		c.strategies = strategies
	}
}

func WithBarrier(b *Barrier) func(*Coordinator) {
	return func(c *Coordinator) {
		c.barrier = b
	}
}

func ArrivalTimeout(timeout time.Duration) func(*Coordinator) {
	return func(c *Coordinator) {
		c.arrivalTimeout = timeout
	}
}

// Remote names the source whose request queue is paused while offline. Failed
// updates on that source are left to the retry pipeline.
func Remote(name string) func(*Coordinator) {
	return func(c *Coordinator) {
		c.remote = name
	}
}

func Online(online bool) func(*Coordinator) {
	return func(c *Coordinator) {
		c.online = online
	}
}

func New(ctx context.Context, srcs []*sources.Source, options ...func(*Coordinator)) (*Coordinator, error) {
	c := &Coordinator{
		sources:        map[string]*sources.Source{},
		strategies:     DefaultStrategies(),
		filters:        defaultFilters(),
		barrier:        NewBarrier(),
		arrivalTimeout: 500 * time.Millisecond,
		remote:         "remote",
	}

	for _, s := range srcs {
		c.sources[s.Name()] = s
	}

	for _, option := range options {
		option(c)
	}

	for _, s := range c.strategies {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if c.sources[s.Source] == nil || c.sources[s.Target] == nil {
			return nil, fmt.Errorf("strategy %s refers to an unknown source", s.Name)
		}
		if _, ok := c.filters[s.Filter]; s.Filter != "" && !ok {
			return nil, fmt.Errorf("strategy %s refers to unknown filter %q", s.Name, s.Filter)
		}
	}

	for name, src := range c.sources {
		c.skipFailures(ctx, name, src)
	}

	return c, nil
}

func (c *Coordinator) skipFailures(ctx context.Context, name string, src *sources.Source) {
	log := logging.GetFromContext(ctx)
	isRemote := name == c.remote

	src.Requests().OnFail(func(ctx context.Context, q *taskqueue.Queue, task *taskqueue.Task, err error) {
		if isRemote && task.Type == taskqueue.TypeUpdate {
			return
		}
		log.Debug("skipping failed request", "source", name, "task", task.String(), "err", err.Error())
		q.SkipTask(task.ID, err)
	})

	src.Syncs().OnFail(func(ctx context.Context, q *taskqueue.Queue, task *taskqueue.Task, err error) {
		log.Error("failed to sync transform", "source", name, "task", task.String(), "err", err.Error())
		q.SkipTask(task.ID, err)
	})
}

// RegisterFilter makes a named filter available to strategies. Filters must be
// registered before strategies referring to them are activated.
func (c *Coordinator) RegisterFilter(name string, f FilterFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters[name] = f
}

func (c *Coordinator) Source(name string) *sources.Source {
	return c.sources[name]
}

func (c *Coordinator) Barrier() *Barrier {
	return c.barrier
}

func (c *Coordinator) Strategies() []Strategy {
	return append([]Strategy{}, c.strategies...)
}

func (c *Coordinator) Online() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Coordinator) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active
}

// Enabled reports if a strategy acts on events in the current configuration
func (c *Coordinator) Enabled(s Strategy) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active && (!s.OnlineOnly || c.online)
}

// Activate attaches every strategy and starts processing the source queues. The
// remote request queue stays paused while offline.
func (c *Coordinator) Activate(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.attached {
		for _, s := range c.strategies {
			c.sources[s.Source].On(s.On, s.Name, c.dispatch(s))
		}
		c.attached = true
	}

	for name, src := range c.sources {
		src.Syncs().Process()

		if name == c.remote && !c.online {
			src.Requests().Pause()
		} else {
			src.Requests().Process()
		}
	}

	c.active = true
	metrics.RecordOnline(c.online)
}

// Deactivate stops strategies from acting and reports if the coordinator was active
func (c *Coordinator) Deactivate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	wasActive := c.active
	c.active = false
	return wasActive
}

// Halt deactivates the coordinator and pauses every queue
func (c *Coordinator) Halt() {
	c.Deactivate()

	for _, src := range c.sources {
		src.Requests().Pause()
		src.Syncs().Pause()
	}
}

// SetOnline reconfigures the coordinator for a change in connectivity. Strategy
// arrivals wait at the barrier until reconfiguration is done.
func (c *Coordinator) SetOnline(ctx context.Context, online bool) {
	c.barrier.Raise()
	defer c.barrier.Lower()

	wasActive := c.Deactivate()

	c.mu.Lock()
	changed := c.online != online
	c.online = online
	c.mu.Unlock()

	if wasActive {
		c.Activate(ctx)
	}

	if changed {
		logging.GetFromContext(ctx).Info("connectivity changed", "online", online)
	}

	metrics.RecordOnline(online)
}

func (c *Coordinator) blocking(s Strategy) bool {
	switch s.Blocking {
	case Always:
		return true
	case WhileOnline:
		return c.Online()
	}
	return false
}

func (c *Coordinator) dispatch(s Strategy) sources.Listener {
	return func(ctx context.Context, task *taskqueue.Task, outcome *sources.Outcome) error {
		if err := c.barrier.Arrive(ctx, c.arrivalTimeout); err != nil {
			return fmt.Errorf("strategy %s could not act: %w", s.Name, err)
		}

		if !c.Enabled(s) {
			return nil
		}

		if s.Filter != "" {
			c.mu.RLock()
			filter := c.filters[s.Filter]
			c.mu.RUnlock()

			if !filter(ctx, c, s, task, outcome) {
				return nil
			}
		}

		processors := c.perform(s, task, outcome)

		if !c.blocking(s) {
			return nil
		}

		for _, p := range processors {
			if _, err := p.Wait(ctx); err != nil {
				return err
			}
		}

		return nil
	}
}

func (c *Coordinator) perform(s Strategy, task *taskqueue.Task, outcome *sources.Outcome) []*taskqueue.Processor {
	target := c.sources[s.Target]

	switch s.Action {
	case ActionQuery:
		if task.Query == nil {
			return nil
		}
		return []*taskqueue.Processor{
			target.Requests().Push(taskqueue.NewQueryTask(task.Query, taskqueue.Priority(task.Priority))),
		}

	case ActionUpdate:
		if task.Transform == nil {
			return nil
		}

		queued := target.Requests().Find(func(t *taskqueue.Task) bool { return t.ID == task.Transform.ID })
		if len(queued) > 0 {
			return nil
		}

		return []*taskqueue.Processor{
			target.Requests().Push(taskqueue.NewUpdateTask(task.Transform.Clone(), taskqueue.Priority(task.Priority))),
		}

	case ActionSync:
		if outcome == nil {
			return nil
		}

		processors := make([]*taskqueue.Processor, 0, len(outcome.Changes))
		for _, t := range outcome.Changes {
			processors = append(processors, target.Syncs().Push(taskqueue.NewUpdateTask(t)))
		}
		return processors
	}

	return nil
}
