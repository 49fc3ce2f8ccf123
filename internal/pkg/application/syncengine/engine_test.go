package syncengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/diwise/field-sync/internal/pkg/application/coordinator"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/pkg/datamodels/farm"
	"github.com/diwise/field-sync/pkg/jsonapi/client"
	jsonapierrors "github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/field-sync/pkg/wkt"
	"github.com/matryer/is"
)

const parcel1 string = "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))"
const parcel2 string = "POLYGON ((2 2, 3 2, 3 3, 2 3, 2 2))"

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func TestThatOfflineMovementsAreMaterialized(t *testing.T) {
	is, ctx := testSetup(t)

	remote := &countingClient{}
	engine := newEngine(t, kvstore.NewMemoryStore(), remote)

	p1 := farm.NewLand("p1", "North field", parcel1)
	p2 := farm.NewLand("p2", "South field", parcel2)
	dolly := farm.NewAnimal("dolly", "Dolly", nil)
	move := farm.NewMovementLog("move", "Move Dolly", now.Add(-time.Hour), []records.RecordRef{dolly.Ref()}, []records.RecordRef{p1.Ref(), p2.Ref()})

	_, err := engine.Apply(ctx, []records.Operation{
		records.AddRecord{Record: p1},
		records.AddRecord{Record: p2},
		records.AddRecord{Record: dolly},
	})
	is.NoErr(err)

	_, err = engine.Apply(ctx, []records.Operation{records.AddRecord{Record: move}})
	is.NoErr(err)

	result, err := engine.Query(ctx, query.FindRecord{Record: dolly.Ref()})
	is.NoErr(err)

	g1, _ := wkt.Normalize(parcel1)
	g2, _ := wkt.Normalize(parcel2)

	asset := result.Record()
	is.Equal(wkt.FromAttribute(asset.Attributes[farm.Geometry]), "GEOMETRYCOLLECTION ("+g1+","+g2+")")
	is.Equal(len(asset.RelatedRefs(farm.LocationRelationship)), 2)

	is.Equal(remote.calls.Load(), int32(0)) // nothing should reach the remote store while offline
	is.Equal(len(engine.Pending()), 2)
}

func TestThatPendingWritesAreForwardedWhenOnline(t *testing.T) {
	is, ctx := testSetup(t)

	remote := &countingClient{}
	engine := newEngine(t, kvstore.NewMemoryStore(), remote)

	_, err := engine.Apply(ctx, []records.Operation{records.AddRecord{Record: farm.NewAnimal("dolly", "Dolly", nil)}})
	is.NoErr(err)

	engine.SetOnline(ctx, true)

	is.True(eventually(func() bool { return len(engine.Pending()) == 0 }))
	is.Equal(remote.creates.Load(), int32(1))
	is.True(engine.Online())
}

func TestThatRecordsSurviveARestart(t *testing.T) {
	is, ctx := testSetup(t)

	store := kvstore.NewMemoryStore()
	first := newEngine(t, store, &countingClient{})

	dolly := farm.NewAnimal("dolly", "Dolly", nil)
	_, err := first.Apply(ctx, []records.Operation{records.AddRecord{Record: dolly}})
	is.NoErr(err)

	is.True(eventually(func() bool {
		keys, _ := store.Keys(ctx, "record/")
		return len(keys) == 1
	}))

	first.Halt(ctx)

	second := newEngine(t, store, &countingClient{})

	result, err := second.Query(ctx, query.FindRecord{Record: dolly.Ref()})
	is.NoErr(err)
	is.Equal(result.Record().Name(), "Dolly")
	is.Equal(len(second.Pending()), 1) // the pending write is restored as well
}

func TestGetEntityModel(t *testing.T) {
	is, ctx := testSetup(t)

	clock := time.Now()
	remote := &countingClient{}
	engine := newEngine(t, kvstore.NewMemoryStore(), remote, Clock(func() time.Time { return clock }))

	schema, err := engine.GetEntityModel(ctx, farm.AnimalTypeName)
	is.NoErr(err)
	is.Equal(string(schema), `{"title":"asset--animal"}`)

	_, err = engine.GetEntityModel(ctx, farm.AnimalTypeName)
	is.NoErr(err)
	is.Equal(remote.schemas.Load(), int32(1)) // the second read should be served from the store

	clock = clock.Add(16 * time.Minute)
	remote.unavailable.Store(true)

	schema, err = engine.GetEntityModel(ctx, farm.AnimalTypeName)
	is.NoErr(err) // a stale model is better than none
	is.Equal(string(schema), `{"title":"asset--animal"}`)
	is.Equal(remote.schemas.Load(), int32(2))

	_, err = engine.GetEntityModel(ctx, farm.LandTypeName)
	is.True(err != nil)
}

func TestPermanentlyDeleteLocalData(t *testing.T) {
	is, ctx := testSetup(t)

	store := kvstore.NewMemoryStore()
	engine := newEngine(t, store, &countingClient{})

	dolly := farm.NewAnimal("dolly", "Dolly", nil)
	_, err := engine.Apply(ctx, []records.Operation{records.AddRecord{Record: dolly}})
	is.NoErr(err)

	is.NoErr(engine.PermanentlyDeleteLocalData(ctx))

	is.Equal(len(engine.Pending()), 0)
	is.True(!engine.cache.Contains(dolly.Ref()))

	keys, err := store.Keys(ctx, "")
	is.NoErr(err)
	is.Equal(len(keys), 0)
}

func TestSearch(t *testing.T) {
	is, ctx := testSetup(t)

	engine := newEngine(t, kvstore.NewMemoryStore(), &countingClient{})

	_, err := engine.Apply(ctx, []records.Operation{
		records.AddRecord{Record: farm.NewTerm(farm.AnimalTypeTermTypeName, "t1", "Black sheep")},
		records.AddRecord{Record: farm.NewTerm(farm.AnimalTypeTermTypeName, "t2", "Sheepdog")},
		records.AddRecord{Record: farm.NewAnimal("dolly", "Sheep", nil)},
		records.AddRecord{Record: farm.NewAnimal("molly", "Goat", nil)},
	}, records.LocalOnly())
	is.NoErr(err)

	hits, err := engine.Search(ctx, "sheep", 0, farm.AnimalTypeTermTypeName, farm.AnimalTypeName)
	is.NoErr(err)

	is.Equal(len(hits), 3)
	is.Equal(hits[0].Record.Name(), "Sheep")
	is.Equal(hits[1].Record.Name(), "Sheepdog")
	is.Equal(hits[2].Record.Name(), "Black sheep")
}

func TestThatUnresolvedPlaceholdersSurviveIntegrityChecks(t *testing.T) {
	is, ctx := testSetup(t)

	server := newFarmClient()
	server.failLookups(jsonapierrors.NewServiceUnavailableError("lookups are down"))

	engine := newEngine(t, kvstore.NewMemoryStore(), server, BackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) }))

	_, err := engine.Apply(ctx, []records.Operation{
		records.AddRecord{Record: farm.NewAnimal("dolly", "Dolly", farm.RelateByName(farm.AnimalTypeTermTypeName, "Sheep"))},
	})
	is.NoErr(err)

	placeholder := animalType(t, engine, "dolly")

	engine.SetOnline(ctx, true)
	is.True(eventually(func() bool { return engine.remote.Requests().Error() != nil })) // the update waits for its next attempt

	_, err = engine.Query(ctx, query.FindRecords{Type: farm.AnimalTypeTermTypeName}, query.VerifyCacheIntegrity())
	is.NoErr(err)

	kept, ok := engine.cache.Record(placeholder)
	is.True(ok) // the placeholder is unknown remotely but still needed
	is.True(kept.Placeholder)

	server.failLookups(nil)
	engine.SetOnline(ctx, true)

	is.True(eventually(func() bool { return len(engine.Pending()) == 0 }))

	sent := server.record(records.Ref(farm.AnimalTypeName, "dolly"))
	is.True(sent != nil)

	canonical := sent.RelatedRefs(farm.AnimalTypeRelationship)[0]
	is.True(canonical.ID != placeholder.ID) // the server must never see the local placeholder id
	is.True(server.record(canonical) != nil)
}

func TestThatConcurrentUpdatesShareOnePlaceholder(t *testing.T) {
	is, ctx := testSetup(t)

	server := newFarmClient()
	engine := newEngine(t, kvstore.NewMemoryStore(), server)

	const animals = 8

	errs := make(chan error, animals)
	start := make(chan struct{})

	var wg sync.WaitGroup
	for i := range animals {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start

			name := "Sheep"
			if i%2 == 1 {
				name = "sheep"
			}

			animal := farm.NewAnimal(fmt.Sprintf("animal-%d", i), fmt.Sprintf("Animal %d", i), farm.RelateByName(farm.AnimalTypeTermTypeName, name))
			_, err := engine.Apply(ctx, []records.Operation{records.AddRecord{Record: animal}})
			errs <- err
		}(i)
	}

	close(start)
	wg.Wait()
	close(errs)

	for err := range errs {
		is.NoErr(err)
	}

	placeholders := engine.cache.Records(farm.AnimalTypeTermTypeName)
	is.Equal(len(placeholders), 1) // every update should relate to the same placeholder
	is.True(placeholders[0].Placeholder)

	for i := range animals {
		is.Equal(animalType(t, engine, fmt.Sprintf("animal-%d", i)), placeholders[0].Ref())
	}

	engine.SetOnline(ctx, true)
	is.True(eventually(func() bool { return len(engine.Pending()) == 0 }))

	is.Equal(server.created(farm.AnimalTypeTermTypeName), 1) // exactly one term is created remotely

	canonical := server.record(records.Ref(farm.AnimalTypeName, "animal-0")).RelatedRefs(farm.AnimalTypeRelationship)[0]
	for i := range animals {
		sent := server.record(records.Ref(farm.AnimalTypeName, fmt.Sprintf("animal-%d", i)))
		is.Equal(sent.RelatedRefs(farm.AnimalTypeRelationship)[0].ID, canonical.ID)
	}

	is.True(eventually(func() bool { return !engine.cache.Contains(placeholders[0].Ref()) }))
}

func TestThatPlaceholdersOfFailedUpdatesAreDiscarded(t *testing.T) {
	is, ctx := testSetup(t)

	server := newFarmClient()
	server.failLookups(jsonapierrors.NewValidationError("Unprocessable Entity: name is required"))

	engine := newEngine(t, kvstore.NewMemoryStore(), server, Online(true))

	_, err := engine.Apply(ctx, []records.Operation{
		records.AddRecord{Record: farm.NewAnimal("dolly", "Dolly", farm.RelateByName(farm.AnimalTypeTermTypeName, "Sheep"))},
	})
	is.True(err != nil) // the remote store kept rejecting the update

	is.True(eventually(func() bool { return len(engine.cache.Records(farm.AnimalTypeTermTypeName)) == 0 }))

	server.failLookups(nil)
	engine.SetOnline(ctx, false)

	_, err = engine.Apply(ctx, []records.Operation{
		records.AddRecord{Record: farm.NewAnimal("molly", "Molly", farm.RelateByName(farm.AnimalTypeTermTypeName, "Sheep"))},
	})
	is.NoErr(err)

	is.True(engine.cache.Contains(animalType(t, engine, "molly"))) // a new placeholder replaces the discarded one
}

func TestLoadConfiguration(t *testing.T) {
	is := is.New(t)

	cfg, err := LoadConfiguration(bytes.NewBufferString(configYaml))
	is.NoErr(err)

	is.Equal(cfg.Remote.Endpoint, "http://farm.local")
	is.Equal(cfg.Store, "/var/lib/field-sync/data.db")
	is.Equal(cfg.Retry.Threshold, 5)
	is.Equal(cfg.Retry.MaxInterval, 30*time.Second) // defaults are kept
	is.Equal(cfg.BarrierTimeout, 250*time.Millisecond)
	is.Equal(cfg.ModelTTL, 15*time.Minute)
	is.Equal(len(cfg.Strategies), 1)
	is.Equal(cfg.Strategies[0].Blocking, coordinator.WhileOnline)
}

func TestLoadConfigurationRejectsBadStrategies(t *testing.T) {
	is := is.New(t)

	_, err := LoadConfiguration(bytes.NewBufferString("strategies:\n  - name: broken\n    kind: request\n"))
	is.True(err != nil)
}

const configYaml string = `
remote:
  endpoint: http://farm.local
store: /var/lib/field-sync/data.db
retry:
  threshold: 5
barrierTimeout: 250ms
strategies:
  - name: remote-update
    kind: request
    source: memory
    on: beforeUpdate
    target: remote
    action: update
    filter: notLocalOnly
    blocking: whileOnline
`

func newEngine(t *testing.T, store kvstore.Store, c client.Client, options ...func(*SyncEngine)) *SyncEngine {
	options = append([]func(*SyncEngine){BackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} })}, options...)

	engine, err := New(context.Background(), DefaultConfig(), store, c, options...)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { engine.Halt(context.Background()) })

	return engine
}

// countingClient accepts everything and counts the calls made to it
type countingClient struct {
	calls       atomic.Int32
	creates     atomic.Int32
	schemas     atomic.Int32
	unavailable atomic.Bool
}

func (c *countingClient) called() error {
	c.calls.Add(1)
	if c.unavailable.Load() {
		return jsonapierrors.NewServiceUnavailableError("remote store is unavailable")
	}
	return nil
}

func (c *countingClient) FindRecord(ctx context.Context, ref records.RecordRef) (*records.Record, error) {
	if err := c.called(); err != nil {
		return nil, err
	}
	return nil, jsonapierrors.NewNotFoundError(ref.String())
}

func (c *countingClient) FindRecords(ctx context.Context, recordType string, parameters ...client.RequestDecoratorFunc) ([]*records.Record, error) {
	return []*records.Record{}, c.called()
}

func (c *countingClient) FindRelatedRecords(ctx context.Context, ref records.RecordRef, relationship string, parameters ...client.RequestDecoratorFunc) ([]*records.Record, error) {
	return []*records.Record{}, c.called()
}

func (c *countingClient) CreateRecord(ctx context.Context, r *records.Record) (*records.Record, error) {
	if err := c.called(); err != nil {
		return nil, err
	}
	c.creates.Add(1)
	return r, nil
}

func (c *countingClient) UpdateRecord(ctx context.Context, r *records.Record) (*records.Record, error) {
	return r, c.called()
}

func (c *countingClient) DeleteRecord(ctx context.Context, ref records.RecordRef) error {
	return c.called()
}

func (c *countingClient) AddToRelationship(ctx context.Context, ref records.RecordRef, relationship string, related []records.RecordRef) error {
	return c.called()
}

func (c *countingClient) RemoveFromRelationship(ctx context.Context, ref records.RecordRef, relationship string, related []records.RecordRef) error {
	return c.called()
}

func (c *countingClient) ReplaceRelationship(ctx context.Context, ref records.RecordRef, relationship string, data *records.RelationshipData) error {
	return c.called()
}

func (c *countingClient) UploadFile(ctx context.Context, recordType, field, fileName string, content []byte) (records.RecordRef, error) {
	return records.Ref(farm.FileTypeName, fileName), c.called()
}

func (c *countingClient) Schema(ctx context.Context, recordType string) (json.RawMessage, error) {
	c.schemas.Add(1)
	if err := c.called(); err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"title":%q}`, recordType)), nil
}

func (c *countingClient) Ping(ctx context.Context) error {
	return c.called()
}

func animalType(t *testing.T, engine *SyncEngine, id string) records.RecordRef {
	r, ok := engine.cache.Record(records.Ref(farm.AnimalTypeName, id))
	if !ok {
		t.Fatalf("animal %s not found", id)
	}

	refs := r.RelatedRefs(farm.AnimalTypeRelationship)
	if len(refs) != 1 {
		t.Fatalf("animal %s has %d animal types", id, len(refs))
	}

	return refs[0]
}

// farmClient is an in memory remote store that assigns its own ids to terms
type farmClient struct {
	countingClient

	mu        sync.Mutex
	records   map[records.RecordRef]*records.Record
	creations map[string]int
	lookupErr error
}

func newFarmClient() *farmClient {
	return &farmClient{
		records:   map[records.RecordRef]*records.Record{},
		creations: map[string]int{},
	}
}

func (f *farmClient) failLookups(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookupErr = err
}

func (f *farmClient) record(ref records.RecordRef) *records.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[ref.Identity()]
}

func (f *farmClient) created(recordType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creations[recordType]
}

func (f *farmClient) FindRecord(ctx context.Context, ref records.RecordRef) (*records.Record, error) {
	if r := f.record(ref); r != nil {
		return r, nil
	}
	return nil, jsonapierrors.NewNotFoundError(ref.String())
}

func (f *farmClient) FindRecords(ctx context.Context, recordType string, parameters ...client.RequestDecoratorFunc) ([]*records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.lookupErr != nil {
		return nil, f.lookupErr
	}

	result := []*records.Record{}
	for ref, r := range f.records {
		if ref.Type == recordType {
			result = append(result, r)
		}
	}
	return result, nil
}

func (f *farmClient) CreateRecord(ctx context.Context, r *records.Record) (*records.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creations[r.Type]++

	created := records.New(r.Type, r.ID)
	created.Merge(r)

	if records.EntityKind(r.Type) == "taxonomy_term" {
		created.ID = fmt.Sprintf("term-%d", f.creations[r.Type])
	}

	f.records[created.Ref()] = created
	return created, nil
}

func eventually(condition func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func testSetup(t *testing.T) (*is.I, context.Context) {
	is := is.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return is, ctx
}
