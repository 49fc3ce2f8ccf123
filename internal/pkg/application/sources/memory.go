package sources

import (
	"context"

	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
)

// ResultDecorator post processes the result of a local query before it is returned
type ResultDecorator func(ctx context.Context, q *query.Query, result *query.Result) error

type Memory struct {
	cache      *cache.Cache
	decorators []ResultDecorator
}

func NewMemory(c *cache.Cache) *Memory {
	return &Memory{cache: c}
}

func (m *Memory) Cache() *cache.Cache {
	return m.cache
}

// Decorate adds a result decorator. Decorators must be added before the source
// starts processing.
func (m *Memory) Decorate(d ResultDecorator) {
	m.decorators = append(m.decorators, d)
}

func (m *Memory) Query(ctx context.Context, q *query.Query) (*Outcome, error) {
	result, err := query.Evaluate(m.cache, q.Expression)
	if err != nil {
		return nil, err
	}

	for _, decorate := range m.decorators {
		if err := decorate(ctx, q, result); err != nil {
			return nil, err
		}
	}

	return &Outcome{Result: result}, nil
}

func (m *Memory) Update(ctx context.Context, t *records.Transform) (*Outcome, error) {
	result, err := m.cache.Apply(t)
	if err != nil {
		return nil, err
	}

	return &Outcome{Result: result, Changes: []*records.Transform{t}}, nil
}

func (m *Memory) Sync(ctx context.Context, t *records.Transform) error {
	_, err := m.cache.Apply(t)
	return err
}
