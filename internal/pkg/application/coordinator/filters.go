package coordinator

import (
	"context"

	"github.com/diwise/field-sync/internal/pkg/application/sources"
	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
)

const (
	FilterNotLocalOnly         string = "notLocalOnly"
	FilterNotResolvableLocally string = "notResolvableLocally"
)

// FilterFunc decides if a strategy should act on an event
type FilterFunc func(ctx context.Context, c *Coordinator, s Strategy, task *taskqueue.Task, outcome *sources.Outcome) bool

func defaultFilters() map[string]FilterFunc {
	return map[string]FilterFunc{
		FilterNotLocalOnly:         notLocalOnly,
		FilterNotResolvableLocally: notResolvableLocally,
	}
}

func notLocalOnly(ctx context.Context, c *Coordinator, s Strategy, task *taskqueue.Task, outcome *sources.Outcome) bool {
	return task.Transform != nil && !task.Transform.Options.LocalOnly
}

func notResolvableLocally(ctx context.Context, c *Coordinator, s Strategy, task *taskqueue.Task, outcome *sources.Outcome) bool {
	if task.Query == nil {
		return false
	}

	if task.Query.Options.ForceRemote {
		return true
	}

	src := c.Source(s.Source)
	if src == nil {
		return true
	}

	memory, ok := src.Performer().(*sources.Memory)
	if !ok {
		return true
	}

	return !Resolvable(memory.Cache(), task.Query.Expression)
}

// Resolvable reports if an expression can be answered from a local record source
// without asking the remote store. A single record must be present, a related
// query needs its owner and every related record, and a collection query must
// match at least one local record.
func Resolvable(src query.RecordSource, expr query.Expression) bool {
	switch e := expr.(type) {
	case query.FindRecord:
		_, ok := src.Record(e.Record)
		return ok

	case query.FindRecords:
		result, err := query.Evaluate(src, e)
		return err == nil && len(result.Records) > 0

	case query.FindRelatedRecord:
		return relatedPresent(src, e.Record, e.Relationship)

	case query.FindRelatedRecords:
		return relatedPresent(src, e.Record, e.Relationship)
	}

	return false
}

func relatedPresent(src query.RecordSource, ownerRef records.RecordRef, relationship string) bool {
	owner, ok := src.Record(ownerRef)
	if !ok {
		return false
	}

	if _, ok := owner.Relationship(relationship); !ok {
		return false
	}

	for _, ref := range owner.RelatedRefs(relationship) {
		if _, ok := src.Record(ref); !ok {
			return false
		}
	}

	return true
}
