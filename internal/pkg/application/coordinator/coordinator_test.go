package coordinator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/internal/pkg/application/sources"
	"github.com/diwise/field-sync/internal/pkg/infrastructure/kvstore"
	"github.com/diwise/field-sync/pkg/jsonapi/client"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"
	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var method = expects.RequestMethod
var path = expects.RequestPath

var dolly = records.New("asset--animal", "dolly", records.Name("Dolly"))

func TestBarrierTimesOutWhileRaised(t *testing.T) {
	is, ctx := testSetup(t)

	b := NewBarrier()
	is.NoErr(b.Arrive(ctx, 10*time.Millisecond))

	b.Raise()
	is.True(b.Raised())
	is.True(errors.Is(b.Arrive(ctx, 10*time.Millisecond), ErrBarrierTimeout))

	go func() {
		time.Sleep(10 * time.Millisecond)
		b.Lower()
	}()

	is.NoErr(b.Arrive(ctx, time.Second)) // arrival should resume when the barrier is lowered
}

func TestLoadStrategies(t *testing.T) {
	is := is.New(t)

	strategies, err := LoadStrategies(strings.NewReader(strategiesYaml))
	is.NoErr(err)
	is.Equal(len(strategies), 2)
	is.Equal(strategies[0].On, sources.BeforeUpdate)
	is.Equal(strategies[0].Blocking, WhileOnline)
	is.True(strategies[1].OnlineOnly)

	_, err = LoadStrategies(strings.NewReader("- name: broken\n  kind: request\n  source: memory\n  target: remote\n  on: beforeUpdate\n  action: sync\n  blocking: always\n"))
	is.True(err != nil) // a request strategy can not sync
}

func TestThatUnknownSourcesAreRejected(t *testing.T) {
	is, ctx := testSetup(t)

	memory, _, _ := newSources(t, &fakeRemote{})

	_, err := New(ctx, []*sources.Source{memory})
	is.True(err != nil)
}

func TestThatOfflineUpdatesWaitInTheRemoteQueue(t *testing.T) {
	is, ctx := testSetup(t)

	remote := &fakeRemote{}
	memory, remoteSource, backup := newSources(t, remote)

	c, err := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(false))
	is.NoErr(err)
	c.Activate(ctx)

	result, err := memory.Update(ctx, records.NewTransform([]records.Operation{records.AddRecord{Record: dolly}}))
	is.NoErr(err)
	is.Equal(result[0].Name(), "Dolly")

	is.Equal(remoteSource.Requests().Length(), 1) // the update should be queued for later
	is.Equal(remote.updates.Load(), int32(0))

	loaded, err := backup.Performer().(*sources.Backup).Load(ctx)
	is.NoErr(err)
	is.Equal(len(loaded), 1)

	c.SetOnline(ctx, true)
	is.True(eventually(func() bool { return remoteSource.Requests().Idle() }))
	is.Equal(remote.updates.Load(), int32(1))
}

func TestThatUpdatesAreNotForwardedTwice(t *testing.T) {
	is, ctx := testSetup(t)

	memory, remoteSource, backup := newSources(t, &fakeRemote{})

	c, _ := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(false))
	c.Activate(ctx)

	transform := records.NewTransform([]records.Operation{records.AddRecord{Record: dolly}})

	_, err := memory.Update(ctx, transform)
	is.NoErr(err)
	_, err = memory.Update(ctx, transform)
	is.NoErr(err)

	is.Equal(remoteSource.Requests().Length(), 1)
}

func TestThatLocalOnlyUpdatesStayLocal(t *testing.T) {
	is, ctx := testSetup(t)

	memory, remoteSource, backup := newSources(t, &fakeRemote{})

	c, _ := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(false))
	c.Activate(ctx)

	_, err := memory.Update(ctx, records.NewTransform([]records.Operation{records.AddRecord{Record: dolly}}, records.LocalOnly()))
	is.NoErr(err)

	is.Equal(remoteSource.Requests().Length(), 0)
}

func TestOnlineUpdatesAreForwarded(t *testing.T) {
	is, ctx := testSetup(t)

	s := testutils.NewMockServiceThat(
		Expects(is, method(http.MethodPost), path("/api/asset/animal")),
		Returns(
			response.ContentType(client.ContentType),
			response.Code(http.StatusCreated),
			response.Body([]byte(`{"data":{"type":"asset--animal","id":"dolly","attributes":{"name":"Dolly","drupal_internal__id":7}}}`)),
		),
	)
	defer s.Close()

	remote := sources.NewRemote(client.NewClient(s.URL(), client.SessionTokenEndpoint("")))
	memory, remoteSource, backup := newSources(t, remote)

	c, err := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(true))
	is.NoErr(err)
	c.Activate(ctx)

	result, err := memory.Update(ctx, records.NewTransform([]records.Operation{records.AddRecord{Record: dolly}}))
	is.NoErr(err)
	is.Equal(result[0].Attributes["drupal_internal__id"], float64(7)) // server assigned attributes are synced before memory answers

	is.True(remoteSource.Requests().Idle())
}

func TestThatUnresolvableQueriesAreForwarded(t *testing.T) {
	is, ctx := testSetup(t)

	remote := &fakeRemote{records: []*records.Record{dolly}}
	memory, remoteSource, backup := newSources(t, remote)

	c, _ := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(true))
	c.Activate(ctx)

	q := query.New(query.FindRecords{Type: "asset--animal"})

	result, err := memory.Query(ctx, q)
	is.NoErr(err)
	is.Equal(len(result.Records), 1)
	is.Equal(remote.queries.Load(), int32(1))

	_, err = memory.Query(ctx, query.New(query.FindRecord{Record: dolly.Ref()}))
	is.NoErr(err)
	is.Equal(remote.queries.Load(), int32(1)) // dolly is resolvable locally now
}

func TestThatOfflineQueriesAreAnsweredLocally(t *testing.T) {
	is, ctx := testSetup(t)

	remote := &fakeRemote{records: []*records.Record{dolly}}
	memory, remoteSource, backup := newSources(t, remote)

	c, _ := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(false))
	c.Activate(ctx)

	result, err := memory.Query(ctx, query.New(query.FindRecords{Type: "asset--animal"}))
	is.NoErr(err)
	is.Equal(len(result.Records), 0)
	is.Equal(remote.queries.Load(), int32(0))
}

func TestThatRemoteQueryFailuresReachTheCaller(t *testing.T) {
	is, ctx := testSetup(t)

	remote := &fakeRemote{err: errors.New("server unavailable")}
	memory, remoteSource, backup := newSources(t, remote)

	c, _ := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(true))
	c.Activate(ctx)

	_, err := memory.Query(ctx, query.New(query.FindRecord{Record: dolly.Ref()}))
	is.True(errors.Is(err, remote.err))

	is.True(eventually(func() bool { return memory.Requests().Idle() && remoteSource.Requests().Idle() }))
}

func TestResolvable(t *testing.T) {
	is := is.New(t)

	c := cache.New()
	sheep := records.Ref("taxonomy_term--animal_type", "sheep")
	_, err := c.Apply(records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.ToOne("animal_type", &sheep))},
		records.AddRecord{Record: records.New("asset--animal", "molly")},
	}))
	is.NoErr(err)

	is.True(Resolvable(c, query.FindRecord{Record: records.Ref("asset--animal", "dolly")}))
	is.True(!Resolvable(c, query.FindRecord{Record: records.Ref("asset--animal", "bessie")}))
	is.True(Resolvable(c, query.FindRecords{Type: "asset--animal"}))
	is.True(!Resolvable(c, query.FindRecords{Type: "asset--land"}))
	is.True(!Resolvable(c, query.FindRelatedRecord{Record: records.Ref("asset--animal", "dolly"), Relationship: "animal_type"})) // sheep is not cached
	is.True(!Resolvable(c, query.FindRelatedRecords{Record: records.Ref("asset--animal", "molly"), Relationship: "location"}))
}

func TestThatSetOnlinePausesTheRemoteQueue(t *testing.T) {
	is, ctx := testSetup(t)

	memory, remoteSource, backup := newSources(t, &fakeRemote{})

	c, _ := New(ctx, []*sources.Source{memory, remoteSource, backup}, Online(true))
	c.Activate(ctx)
	is.True(!remoteSource.Requests().IsPaused())

	c.SetOnline(ctx, false)
	is.True(remoteSource.Requests().IsPaused())
	is.True(!c.Online())
	is.True(c.Active())
	is.True(!c.Barrier().Raised())

	c.Halt()
	is.True(!c.Active())
	is.True(memory.Requests().IsPaused())
}

type fakeRemote struct {
	records []*records.Record
	err     error
	queries atomic.Int32
	updates atomic.Int32
}

func (f *fakeRemote) Query(ctx context.Context, q *query.Query) (*sources.Outcome, error) {
	f.queries.Add(1)
	if f.err != nil {
		return nil, f.err
	}

	ops := []records.Operation{}
	for _, r := range f.records {
		ops = append(ops, records.UpdateRecord{Record: r})
	}

	return &sources.Outcome{
		Result:  &query.Result{Records: f.records},
		Changes: []*records.Transform{records.NewTransform(ops, records.LocalOnly())},
	}, nil
}

func (f *fakeRemote) Update(ctx context.Context, t *records.Transform) (*sources.Outcome, error) {
	f.updates.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &sources.Outcome{Changes: []*records.Transform{t}}, nil
}

func (f *fakeRemote) Sync(ctx context.Context, t *records.Transform) error {
	return sources.ErrNotSupported
}

func newSources(t *testing.T, remote sources.Performer) (memory, remoteSource, backup *sources.Source) {
	ctx := context.Background()
	store := kvstore.NewMemoryStore()

	var err error
	if memory, err = sources.New(ctx, "memory", sources.NewMemory(cache.New()), store); err != nil {
		t.Fatal(err)
	}
	if remoteSource, err = sources.New(ctx, "remote", remote, store); err != nil {
		t.Fatal(err)
	}
	if backup, err = sources.New(ctx, "backup", sources.NewBackup(store), store); err != nil {
		t.Fatal(err)
	}

	return
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

const strategiesYaml string = `
- name: remote-update
  kind: request
  source: memory
  target: remote
  on: beforeUpdate
  action: update
  filter: notLocalOnly
  blocking: whileOnline
- name: remote-query
  kind: request
  source: memory
  target: remote
  on: beforeQuery
  action: query
  filter: notResolvableLocally
  blocking: always
  onlineOnly: true
`
