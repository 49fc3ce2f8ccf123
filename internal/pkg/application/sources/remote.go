package sources

import (
	"context"
	"errors"
	"fmt"

	"github.com/diwise/field-sync/pkg/jsonapi/client"
	jsonapierrors "github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
)

// Remote performs queries and updates against the remote JSON:API store
type Remote struct {
	client client.Client
}

func NewRemote(c client.Client) *Remote {
	return &Remote{client: c}
}

func (r *Remote) Client() client.Client {
	return r.client
}

func (r *Remote) Query(ctx context.Context, q *query.Query) (*Outcome, error) {
	result := &query.Result{}

	switch e := q.Expression.(type) {
	case query.FindRecord:
		found, err := r.client.FindRecord(ctx, e.Record)
		if err != nil {
			return nil, err
		}
		result.Single = true
		result.Records = []*records.Record{found}

	case query.FindRecords:
		params, err := client.ParamsFor(e)
		if err != nil {
			return nil, err
		}
		result.Records, err = r.client.FindRecords(ctx, e.Type, params...)
		if err != nil {
			return nil, err
		}

	case query.FindRelatedRecord:
		related, err := r.client.FindRelatedRecords(ctx, e.Record, e.Relationship)
		if err != nil {
			return nil, err
		}
		result.Single = true
		if len(related) > 0 {
			result.Records = related[:1]
		}

	case query.FindRelatedRecords:
		params, err := client.ParamsFor(e)
		if err != nil {
			return nil, err
		}
		result.Records, err = r.client.FindRelatedRecords(ctx, e.Record, e.Relationship, params...)
		if err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unknown expression %T (%w)", q.Expression, query.ErrParse)
	}

	return &Outcome{Result: result, Changes: changesFrom(result.Records)}, nil
}

// PartialUpdateError is returned when the remote store accepted some of the
// operations of a transform before it rejected one. Accepted counts operations
// from the start of the transform.
type PartialUpdateError struct {
	Accepted int
	Changes  []*records.Transform
	Err      error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("remote store accepted %d operations: %s", e.Accepted, e.Err.Error())
}

func (e *PartialUpdateError) Unwrap() error {
	return e.Err
}

// Update sends the operations of t that the remote store has not accepted yet,
// one at a time and in order
func (r *Remote) Update(ctx context.Context, t *records.Transform) (*Outcome, error) {
	log := logging.GetFromContext(ctx)

	start := min(max(t.Options.AcceptedOperations, 0), len(t.Operations))
	accepted := make([]*records.Record, 0, len(t.Operations))

	for i := start; i < len(t.Operations); i++ {
		op := t.Operations[i]

		rec, err := r.send(ctx, op)
		if err != nil {
			log.Debug("remote rejected operation", "transform", t.ID, "op", records.OpName(op), "index", i, "err", err.Error())

			if i == start {
				return nil, err
			}
			return nil, &PartialUpdateError{Accepted: i, Changes: changesFrom(accepted), Err: err}
		}
		if rec != nil {
			accepted = append(accepted, rec)
		}
	}

	changes := []*records.Transform{t}
	changes = append(changes, changesFrom(accepted)...)

	return &Outcome{Result: accepted, Changes: changes}, nil
}

func (r *Remote) Sync(ctx context.Context, t *records.Transform) error {
	return fmt.Errorf("remote store can not be synced to (%w)", ErrNotSupported)
}

func (r *Remote) send(ctx context.Context, op records.Operation) (*records.Record, error) {
	switch o := op.(type) {
	case records.AddRecord:
		rec, err := r.client.CreateRecord(ctx, o.Record)
		if err != nil && o.Record.ID != "" && errors.Is(err, jsonapierrors.ErrAlreadyExists) {
			// the record was created by an attempt that never got to record it
			if existing, findErr := r.client.FindRecord(ctx, o.Record.Ref()); findErr == nil {
				logging.GetFromContext(ctx).Info("record already exists remotely", "record", o.Record.Ref().String())
				return existing, nil
			}
		}
		return rec, err
	case records.UpdateRecord:
		return r.client.UpdateRecord(ctx, o.Record)
	case records.RemoveRecord:
		return nil, r.client.DeleteRecord(ctx, o.Record)
	case records.ReplaceAttribute:
		return r.client.UpdateRecord(ctx, records.New(o.Record.Type, o.Record.ID, records.Attr(o.Attribute, o.Value)))
	case records.AddToRelatedRecords:
		return nil, r.client.AddToRelationship(ctx, o.Record, o.Relationship, []records.RecordRef{o.RelatedRecord})
	case records.RemoveFromRelatedRecords:
		return nil, r.client.RemoveFromRelationship(ctx, o.Record, o.Relationship, []records.RecordRef{o.RelatedRecord})
	case records.ReplaceRelatedRecord:
		return nil, r.client.ReplaceRelationship(ctx, o.Record, o.Relationship, records.NewToOne(o.RelatedRecord))
	case records.ReplaceRelatedRecords:
		return nil, r.client.ReplaceRelationship(ctx, o.Record, o.Relationship, records.NewToMany(o.RelatedRecords...))
	}

	return nil, fmt.Errorf("unknown operation %T", op)
}

// changesFrom turns records read from the server into a transform that can be
// synced into the local mirror
func changesFrom(rs []*records.Record) []*records.Transform {
	if len(rs) == 0 {
		return nil
	}

	ops := make([]records.Operation, 0, len(rs))
	for _, rec := range rs {
		ops = append(ops, records.UpdateRecord{Record: rec})
	}

	return []*records.Transform{records.NewTransform(ops, records.LocalOnly())}
}
