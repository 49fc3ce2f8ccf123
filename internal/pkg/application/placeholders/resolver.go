package placeholders

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/internal/pkg/application/sources"
	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
	"github.com/diwise/field-sync/pkg/datamodels/farm"
	"github.com/diwise/field-sync/pkg/jsonapi/client"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
)

var tracer = otel.Tracer("field-sync/placeholders")

const listenerName string = "placeholder-resolver"

// Resolver turns $relateByName and $upload directives into refs to real records.
// Directives are first resolved locally, creating placeholder records where
// needed, and then against the remote store right before a transform is sent.
type Resolver struct {
	memory *sources.Source
	remote *sources.Source
	cache  *cache.Cache
	client client.Client

	mu sync.Mutex
	// placeholder ids by record type and folded name
	placeholders map[string]string
	// canonical refs by placeholder or local file id
	resolved map[string]records.RecordRef
}

func New(memory, remote *sources.Source, c client.Client) (*Resolver, error) {
	m, ok := memory.Performer().(*sources.Memory)
	if !ok {
		return nil, fmt.Errorf("source %s is not backed by a cache", memory.Name())
	}

	r := &Resolver{
		memory:       memory,
		remote:       remote,
		cache:        m.Cache(),
		client:       c,
		placeholders: map[string]string{},
		resolved:     map[string]records.RecordRef{},
	}

	remote.On(sources.BeforeUpdate, listenerName, r.beforeRemoteUpdate)

	return r, nil
}

func nameKey(recordType, name string) string {
	return recordType + "|" + cases.Fold().String(strings.TrimSpace(name))
}

// Prepare resolves directives against the local cache. Names that match no
// record get a placeholder record, returned as a local only transform that must
// be applied before the prepared transform. Files to upload get a local id.
func (r *Resolver) Prepare(t *records.Transform) (created *records.Transform, prepared *records.Transform) {
	r.mu.Lock()
	defer r.mu.Unlock()

	additions := []records.Operation{}

	localRef := func(ref records.RecordRef) records.RecordRef {
		switch {
		case ref.RelateByName != nil:
			resolved, placeholder := r.resolveLocally(ref.Type, ref.RelateByName.Name)
			if placeholder != nil {
				additions = append(additions, records.AddRecord{Record: placeholder})
			}
			return resolved
		case ref.Upload != nil && ref.ID == "":
			if ref.Type == "" {
				ref.Type = farm.FileTypeName
			}
			ref.ID = uuid.NewString()
		}
		return ref
	}

	ops := make(records.Operations, 0, len(t.Operations))
	for _, op := range t.Operations {
		ops = append(ops, records.MapRefs(op, localRef))
	}

	prepared = &records.Transform{ID: t.ID, Operations: ops, Options: t.Options}

	if len(additions) > 0 {
		created = records.NewTransform(additions, records.LocalOnly())
	}

	return created, prepared
}

// Forget drops the placeholders created by Prepare so that a later transform
// relating to the same names gets a new placeholder
func (r *Resolver) Forget(created *records.Transform) {
	if created == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, op := range created.Operations {
		add, ok := op.(records.AddRecord)
		if !ok {
			continue
		}

		key := nameKey(add.Record.Type, add.Record.Name())
		if r.placeholders[key] == add.Record.ID {
			delete(r.placeholders, key)
		}
	}
}

// resolveLocally must be called with the lock held. A placeholder record is
// returned only when a new one had to be created.
func (r *Resolver) resolveLocally(recordType, name string) (records.RecordRef, *records.Record) {
	var existing *records.Record

	for _, rec := range r.cache.Records(recordType) {
		if !strings.EqualFold(rec.Name(), name) {
			continue
		}
		if !rec.Placeholder {
			return rec.Ref(), nil
		}
		if existing == nil {
			existing = rec
		}
	}

	if existing != nil {
		return existing.Ref(), nil
	}

	key := nameKey(recordType, name)
	if id, ok := r.placeholders[key]; ok {
		if canonical, ok := r.resolved[id]; ok {
			return canonical, nil
		}
		return records.Ref(recordType, id), nil
	}

	placeholder := records.New(recordType, "", records.Name(name), records.AsPlaceholder())
	r.placeholders[key] = placeholder.ID

	return placeholder.Ref(), placeholder
}

func (r *Resolver) canonical(id string) (records.RecordRef, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ref, ok := r.resolved[id]
	return ref, ok
}

func (r *Resolver) remember(id string, canonical records.RecordRef) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolved[id] = canonical
}

// beforeRemoteUpdate runs inside the remote request queue, right before a
// transform is sent
func (r *Resolver) beforeRemoteUpdate(ctx context.Context, task *taskqueue.Task, outcome *sources.Outcome) (err error) {
	if task.Transform == nil {
		return nil
	}

	ctx, span := tracer.Start(ctx, "resolve-placeholders", trace.WithAttributes(attribute.String("transform", task.ID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if err = r.uploadFiles(ctx, task); err != nil {
		return err
	}

	for _, ref := range directRefs(task.Transform) {
		if err = r.resolveRemotely(ctx, task, ref); err != nil {
			return err
		}
	}

	return nil
}

func (r *Resolver) resolveRemotely(ctx context.Context, task *taskqueue.Task, ref records.RecordRef) error {
	if ref.RelateByName != nil {
		canonical, err := r.findOrCreate(ctx, ref.Type, ref.RelateByName.Name)
		if err != nil {
			return err
		}

		name := ref.RelateByName.Name
		rewriteTask(task, func(other records.RecordRef) records.RecordRef {
			if other.RelateByName != nil && other.Type == ref.Type && strings.EqualFold(other.RelateByName.Name, name) {
				return canonical.Ref()
			}
			return other
		})

		return r.memory.Sync(ctx, records.NewTransform([]records.Operation{records.UpdateRecord{Record: canonical}}, records.LocalOnly()))
	}

	if canonical, ok := r.canonical(ref.ID); ok {
		return r.replace(ctx, ref, canonical, nil)
	}

	placeholder, ok := r.cache.Record(ref)
	if !ok || !placeholder.Placeholder {
		return nil
	}

	canonical, err := r.findOrCreate(ctx, ref.Type, placeholder.Name())
	if err != nil {
		return err
	}

	logging.GetFromContext(ctx).Info("resolved placeholder", "placeholder", ref.String(), "record", canonical.Ref().String())

	r.remember(ref.ID, canonical.Ref())

	return r.replace(ctx, ref, canonical.Ref(), canonical)
}

// findOrCreate looks a record up by name in the remote store and creates it if
// there is none
func (r *Resolver) findOrCreate(ctx context.Context, recordType, name string) (*records.Record, error) {
	found, err := r.client.FindRecords(ctx, recordType, client.NameEquals(name))
	if err != nil {
		return nil, err
	}

	for _, rec := range found {
		if strings.EqualFold(rec.Name(), name) {
			return rec, nil
		}
	}

	return r.client.CreateRecord(ctx, records.New(recordType, "", records.Name(name)))
}

// replace rewrites every ref to from into to, in pending tasks as well as in the
// cache. A placeholder record for from is removed from the cache.
func (r *Resolver) replace(ctx context.Context, from, to records.RecordRef, canonical *records.Record) error {
	mapper := func(ref records.RecordRef) records.RecordRef {
		if ref.Equals(from) {
			return to.Identity()
		}
		return ref
	}

	r.remote.Requests().Rewrite(func(t *taskqueue.Task) { rewriteTask(t, mapper) })
	r.memory.Requests().Rewrite(func(t *taskqueue.Task) { rewriteTask(t, mapper) })

	ops := []records.Operation{}
	if canonical != nil {
		ops = append(ops, records.UpdateRecord{Record: canonical})
	}

	for _, rec := range r.cache.Referencing(from) {
		for name, rd := range rec.Relationships {
			if rd == nil || !rec.RelatesTo(name, from) {
				continue
			}

			if rd.ToMany {
				refs := make([]records.RecordRef, 0, len(rd.Many))
				for _, ref := range rd.Many {
					refs = append(refs, mapper(ref))
				}
				ops = append(ops, records.ReplaceRelatedRecords{Record: rec.Ref(), Relationship: name, RelatedRecords: refs})
			} else {
				target := to.Identity()
				ops = append(ops, records.ReplaceRelatedRecord{Record: rec.Ref(), Relationship: name, RelatedRecord: &target})
			}
		}
	}

	if placeholder, ok := r.cache.Record(from); ok && placeholder.Placeholder {
		ops = append(ops, records.RemoveRecord{Record: from})
	}

	if len(ops) == 0 {
		return nil
	}

	return r.memory.Sync(ctx, records.NewTransform(ops, records.LocalOnly()))
}

func rewriteTask(t *taskqueue.Task, fn func(records.RecordRef) records.RecordRef) {
	if t.Transform == nil {
		return
	}

	ops := make(records.Operations, 0, len(t.Transform.Operations))
	for _, op := range t.Transform.Operations {
		ops = append(ops, records.MapRefs(op, fn))
	}
	t.Transform.Operations = ops
}

// directRefs returns the distinct related refs of a transform that are not uploads
func directRefs(t *records.Transform) []records.RecordRef {
	refs := []records.RecordRef{}
	seen := map[string]struct{}{}

	for _, op := range t.Operations {
		for _, ref := range records.RelatedRefs(op) {
			if ref.Upload != nil {
				continue
			}

			key := ref.String()
			if ref.RelateByName != nil {
				key = nameKey(ref.Type, ref.RelateByName.Name)
			}

			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				refs = append(refs, ref)
			}
		}
	}

	return refs
}
