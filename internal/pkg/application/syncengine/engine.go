package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/internal/pkg/application/coordinator"
	"github.com/diwise/field-sync/internal/pkg/application/materializer"
	"github.com/diwise/field-sync/internal/pkg/application/placeholders"
	"github.com/diwise/field-sync/internal/pkg/application/retry"
	"github.com/diwise/field-sync/internal/pkg/application/sources"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/pkg/jsonapi/client"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
)

var tracer = otel.Tracer("field-sync/syncengine")

var ErrLocalDataDeleted = fmt.Errorf("local data was permanently deleted")

const modelKeyPrefix string = "model/"

const (
	MemorySource string = "memory"
	RemoteSource string = "remote"
	BackupSource string = "backup"
)

// SyncEngine keeps a local mirror of a remote record store usable while offline.
// Reads are answered from memory, writes are applied locally first and
// forwarded to the remote store when there is connectivity.
type SyncEngine struct {
	store  kvstore.Store
	client client.Client
	cache  *cache.Cache

	memory *sources.Source
	remote *sources.Source
	backup *sources.Source

	coordinator  *coordinator.Coordinator
	pipeline     *retry.Pipeline
	resolver     *placeholders.Resolver
	materializer *materializer.Materializer

	updateMu sync.Mutex

	modelTTL   time.Duration
	online     bool
	now        func() time.Time
	newBackOff func() backoff.BackOff
}

// Clock replaces the clock used for model expiry and for deciding which logs
// have taken effect
func Clock(now func() time.Time) func(*SyncEngine) {
	return func(e *SyncEngine) {
		e.now = now
	}
}

// Online sets the initial connectivity, the engine starts offline by default
func Online(online bool) func(*SyncEngine) {
	return func(e *SyncEngine) {
		e.online = online
	}
}

func BackOff(newBackOff func() backoff.BackOff) func(*SyncEngine) {
	return func(e *SyncEngine) {
		e.newBackOff = newBackOff
	}
}

func New(ctx context.Context, cfg *Config, store kvstore.Store, c client.Client, options ...func(*SyncEngine)) (*SyncEngine, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := &SyncEngine{
		store:    store,
		client:   c,
		cache:    cache.New(),
		modelTTL: cfg.ModelTTL,
		now:      time.Now,
	}

	e.newBackOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.Retry.InitialInterval
		b.MaxInterval = cfg.Retry.MaxInterval
		b.Reset()
		return b
	}

	for _, option := range options {
		option(e)
	}

	var err error

	memory := sources.NewMemory(e.cache)
	if e.memory, err = sources.New(ctx, MemorySource, memory, store); err != nil {
		return nil, err
	}
	if e.remote, err = sources.New(ctx, RemoteSource, sources.NewRemote(c), store); err != nil {
		return nil, err
	}

	backup := sources.NewBackup(store)
	if e.backup, err = sources.New(ctx, BackupSource, backup, store); err != nil {
		return nil, err
	}

	if err = e.restore(ctx, backup); err != nil {
		return nil, err
	}

	e.materializer = materializer.New(e.cache, e.remote.Requests().Tasks, materializer.Clock(e.now))
	memory.Decorate(e.materializer.Decorate)

	coordinatorOptions := []func(*coordinator.Coordinator){
		coordinator.Online(e.online),
		coordinator.Remote(RemoteSource),
	}
	if cfg.BarrierTimeout > 0 {
		coordinatorOptions = append(coordinatorOptions, coordinator.ArrivalTimeout(cfg.BarrierTimeout))
	}
	if len(cfg.Strategies) > 0 {
		coordinatorOptions = append(coordinatorOptions, coordinator.WithStrategies(cfg.Strategies))
	}

	e.coordinator, err = coordinator.New(ctx, []*sources.Source{e.memory, e.remote, e.backup}, coordinatorOptions...)
	if err != nil {
		return nil, err
	}

	retryOptions := []func(*retry.Pipeline){retry.BackOff(e.newBackOff)}
	if cfg.Retry.Threshold > 0 {
		retryOptions = append(retryOptions, retry.Threshold(cfg.Retry.Threshold))
	}
	if cfg.BarrierTimeout > 0 {
		retryOptions = append(retryOptions, retry.ArrivalTimeout(cfg.BarrierTimeout))
	}

	e.pipeline, err = retry.New(ctx, e.remote, e.memory, e.coordinator.Barrier(), store, retryOptions...)
	if err != nil {
		return nil, err
	}

	if e.resolver, err = placeholders.New(e.memory, e.remote, c); err != nil {
		return nil, err
	}

	e.coordinator.Activate(ctx)

	return e, nil
}

// restore loads the backed up records into memory. Pending tasks are restored by
// the queues themselves.
func (e *SyncEngine) restore(ctx context.Context, backup *sources.Backup) error {
	loaded, err := backup.Load(ctx)
	if err != nil {
		return err
	}

	if len(loaded) == 0 {
		return nil
	}

	ops := make([]records.Operation, 0, len(loaded))
	for _, r := range loaded {
		ops = append(ops, records.AddRecord{Record: r})
	}

	if _, err = e.cache.Apply(records.NewTransform(ops, records.LocalOnly())); err != nil {
		return fmt.Errorf("failed to restore backed up records: %w", err)
	}

	logging.GetFromContext(ctx).Info("restored local records", "count", len(loaded))

	return nil
}

// Query answers expr from memory. When the query asks for it, local records of
// the queried type are first checked against the remote store and removed if
// they were deleted there.
func (e *SyncEngine) Query(ctx context.Context, expr query.Expression, options ...func(*query.Options)) (result *query.Result, err error) {
	q := query.New(expr, options...)

	ctx, span := tracer.Start(ctx, "query", trace.WithAttributes(attribute.String("op", expr.Op())))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	if q.Options.VerifyCacheIntegrity && e.coordinator.Online() {
		if err = e.verifyIntegrity(ctx, query.RecordType(expr)); err != nil {
			return nil, err
		}
	}

	return e.memory.Query(ctx, q)
}

// verifyIntegrity reads the local records of a type through the memory queue,
// looks them up remotely outside of it and removes the missing ones through the
// memory sync queue. A remote task queued after the lookups but before the
// removal is applied is not taken into account.
func (e *SyncEngine) verifyIntegrity(ctx context.Context, recordType string) error {
	if recordType == "" {
		return nil
	}

	local, err := e.memory.Query(ctx, query.New(query.FindRecords{Type: recordType}))
	if err != nil || local == nil {
		return err
	}

	removals, err := materializer.VerifyIntegrity(ctx, e.client, local.Records, e.remote.Requests().Tasks)
	if err != nil || removals == nil {
		return err
	}

	return e.memory.Sync(ctx, removals)
}

// Update applies a transform locally and queues it for the remote store.
// Relate by name directives are resolved before the transform is applied.
// Updates are applied one at a time so that a placeholder is in the cache
// before any other transform can refer to it.
func (e *SyncEngine) Update(ctx context.Context, t *records.Transform) (result []*records.Record, err error) {
	ctx, span := tracer.Start(ctx, "update", trace.WithAttributes(attribute.String("transform", t.ID)))
	defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	created, prepared := e.resolver.Prepare(t)

	if created != nil {
		if _, err = e.memory.Update(ctx, created); err != nil {
			e.resolver.Forget(created)
			return nil, err
		}
	}

	result, err = e.memory.Update(ctx, prepared)
	if err != nil && created != nil && ctx.Err() == nil {
		e.discard(ctx, created)
	}

	return result, err
}

// discard removes the placeholders created for a transform that could not be
// applied
func (e *SyncEngine) discard(ctx context.Context, created *records.Transform) {
	e.resolver.Forget(created)

	removals := make([]records.Operation, 0, len(created.Operations))
	for _, op := range created.Operations {
		removals = append(removals, records.RemoveRecord{Record: op.Target()})
	}

	if err := e.memory.Sync(ctx, records.NewTransform(removals, records.LocalOnly())); err != nil {
		logging.GetFromContext(ctx).Error("failed to discard placeholders", "transform", created.ID, "err", err.Error())
	}
}

// Apply wraps operations in a new transform and updates it
func (e *SyncEngine) Apply(ctx context.Context, operations []records.Operation, decorators ...records.TransformDecoratorFunc) ([]*records.Record, error) {
	return e.Update(ctx, records.NewTransform(operations, decorators...))
}

// GetEntityModel returns the schema of a record type. Schemas are kept in the
// durable store and refetched when they are older than the model ttl. A stale
// schema is returned if the remote store can not be reached.
func (e *SyncEngine) GetEntityModel(ctx context.Context, recordType string) (json.RawMessage, error) {
	log := logging.GetFromContext(ctx)
	key := modelKeyPrefix + recordType

	var cached json.RawMessage
	timestamp, cacheErr := kvstore.Get(ctx, e.store, key, &cached)
	if cacheErr == nil && kvstore.IsFresh(timestamp, e.modelTTL, e.now()) {
		return cached, nil
	}

	if cacheErr != nil && !errors.Is(cacheErr, kvstore.ErrNotFound) {
		log.Warn("failed to read cached model", "type", recordType, "err", cacheErr.Error())
	}

	schema, err := e.client.Schema(ctx, recordType)
	if err != nil {
		if cacheErr == nil {
			log.Warn("serving stale model", "type", recordType, "err", err.Error())
			return cached, nil
		}
		return nil, err
	}

	if err = kvstore.Put(ctx, e.store, key, schema); err != nil {
		log.Error("failed to cache model", "type", recordType, "err", err.Error())
	}

	return schema, nil
}

// Search finds records of the given types with a name containing text. Exact
// matches rank before prefix matches which rank before other matches.
func (e *SyncEngine) Search(ctx context.Context, text string, limit int, recordTypes ...string) ([]query.Hit, error) {
	needle := cases.Fold().String(strings.TrimSpace(text))
	iterators := make([]query.Iterator, 0, len(recordTypes))

	for _, recordType := range recordTypes {
		result, err := e.memory.Query(ctx, query.New(query.FindRecords{
			Type:   recordType,
			Filter: []query.Filter{query.Attribute(records.AttributeName, query.OpContains, text)},
		}))
		if err != nil {
			return nil, err
		}

		hits := make([]query.Hit, 0, len(result.Records))
		for _, r := range result.Records {
			hits = append(hits, query.Hit{Record: r, Weight: weight(cases.Fold().String(r.Name()), needle)})
		}

		sort.SliceStable(hits, func(i, j int) bool { return hits[i].Weight < hits[j].Weight })
		iterators = append(iterators, query.Hits(hits...))
	}

	return query.Collect(query.Merge(iterators...), limit), nil
}

func weight(name, needle string) float64 {
	switch {
	case name == needle:
		return 0
	case strings.HasPrefix(name, needle):
		return 1
	}
	return 2
}

// SetOnline switches between forwarding writes and queueing them. Going online
// resumes a remote update that was halted while waiting for a retry.
func (e *SyncEngine) SetOnline(ctx context.Context, online bool) {
	e.coordinator.SetOnline(ctx, online)

	if online {
		e.pipeline.Resume(ctx)
	}
}

func (e *SyncEngine) Online() bool {
	return e.coordinator.Online()
}

// Halt stops every queue. Pending tasks stay queued in the durable store.
func (e *SyncEngine) Halt(ctx context.Context) {
	logging.GetFromContext(ctx).Info("halting sync engine")
	e.coordinator.Halt()
}

// PermanentlyDeleteLocalData halts the engine and removes every local record,
// pending task, dead letter and cached model
func (e *SyncEngine) PermanentlyDeleteLocalData(ctx context.Context) error {
	e.Halt(ctx)

	for _, src := range []*sources.Source{e.memory, e.remote, e.backup} {
		src.Requests().Clear(ErrLocalDataDeleted)
		src.Syncs().Clear(ErrLocalDataDeleted)
	}

	e.pipeline.ClearDeadLetters()
	e.cache.Reset()

	if err := e.backup.Performer().(*sources.Backup).Clear(ctx); err != nil {
		return err
	}

	if err := e.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear local store: %w", err)
	}

	logging.GetFromContext(ctx).Warn("permanently deleted local data")

	return nil
}

// DeadLetters returns the transforms the remote store kept rejecting
func (e *SyncEngine) DeadLetters() []*records.Transform {
	return e.pipeline.DeadLetters()
}

func (e *SyncEngine) ResubmitDeadLetters() {
	e.pipeline.Resubmit()
}

// Pending returns the transforms waiting to be forwarded to the remote store
func (e *SyncEngine) Pending() []*records.Transform {
	pending := []*records.Transform{}
	for _, task := range e.remote.Requests().Tasks() {
		if task.Transform != nil {
			pending = append(pending, task.Transform)
		}
	}
	return pending
}

func (e *SyncEngine) Client() client.Client {
	return e.client
}
