package materializer

import (
	"context"
	"errors"

	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/pkg/jsonapi/client"
	jsonapierrors "github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("field-sync/materializer")

// VerifyIntegrity fetches every local record from the remote store one by one.
// Records the remote store no longer knows about are removed by the returned
// local only transform. Placeholders and records that a pending task creates or
// refers to are kept. Pending tasks are read once every lookup is done.
// A nil transform means nothing needs to be removed.
func VerifyIntegrity(ctx context.Context, c client.Client, local []*records.Record, pending func() []*taskqueue.Task) (t *records.Transform, err error) {
	ctx, span := tracer.Start(ctx, "verify-integrity", trace.WithAttributes(attribute.Int("records", len(local))))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	log := logging.GetFromContext(ctx)

	missing := []records.RecordRef{}

	for _, r := range local {
		if r.Placeholder {
			continue
		}

		_, err = c.FindRecord(ctx, r.Ref())
		if err == nil {
			continue
		}

		if !errors.Is(err, jsonapierrors.ErrNotFound) {
			return nil, err
		}
		err = nil

		missing = append(missing, r.Ref())
	}

	if len(missing) == 0 {
		return nil, nil
	}

	var tasks []*taskqueue.Task
	if pending != nil {
		tasks = pending()
	}

	removals := []records.Operation{}

	for _, ref := range missing {
		if awaitingSync(ref, tasks) {
			log.Debug("keeping record that is not synced yet", "record", ref.String())
			continue
		}

		log.Info("removing record deleted from remote store", "record", ref.String())
		removals = append(removals, records.RemoveRecord{Record: ref})
	}

	if len(removals) == 0 {
		return nil, nil
	}

	return records.NewTransform(removals, records.LocalOnly()), nil
}

// awaitingSync reports if a pending task creates, changes or relates to ref
func awaitingSync(ref records.RecordRef, pending []*taskqueue.Task) bool {
	for _, task := range pending {
		if task.Transform == nil {
			continue
		}

		for _, op := range task.Transform.Operations {
			if op.Target().Equals(ref) {
				return true
			}
			for _, related := range records.RelatedRefs(op) {
				if related.Equals(ref) {
					return true
				}
			}
		}
	}
	return false
}
