package sources

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/diwise/field-sync/internal/pkg/application/cache"
	"github.com/diwise/field-sync/internal/pkg/application/taskqueue"
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

func TestMemorySourceEmitsEvents(t *testing.T) {
	is, ctx := testSetup(t)

	memory, err := New(ctx, "memory", NewMemory(cache.New()), nil)
	is.NoErr(err)
	memory.Requests().Process()

	events := []Event{}
	for _, e := range []Event{BeforeUpdate, UpdateEvent, BeforeQuery, QueryEvent} {
		event := e
		memory.On(event, "recorder", func(ctx context.Context, task *taskqueue.Task, outcome *Outcome) error {
			events = append(events, event)
			return nil
		})
	}

	_, err = memory.Update(ctx, records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.Name("Dolly"))},
	}))
	is.NoErr(err)

	result, err := memory.Query(ctx, query.New(query.FindRecord{Record: records.Ref("asset--animal", "dolly")}))
	is.NoErr(err)
	is.Equal(result.Record().Name(), "Dolly")

	is.Equal(events, []Event{BeforeUpdate, UpdateEvent, BeforeQuery, QueryEvent})
}

func TestThatListenerErrorsFailTheTask(t *testing.T) {
	is, ctx := testSetup(t)

	memory, _ := New(ctx, "memory", NewMemory(cache.New()), nil)
	memory.Requests().Process()

	errRejected := errors.New("rejected")
	memory.On(BeforeUpdate, "reject", func(ctx context.Context, task *taskqueue.Task, outcome *Outcome) error {
		return errRejected
	})

	_, err := memory.Update(ctx, records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly")},
	}))
	is.True(errors.Is(err, errRejected))

	memory.Off(BeforeUpdate, "reject")
	is.True(!memory.Listening(BeforeUpdate, "reject"))
}

func TestThatBackupRecordsSurviveARestart(t *testing.T) {
	is, ctx := testSetup(t)

	store := kvstore.NewMemoryStore()

	backup, err := New(ctx, "backup", NewBackup(store), store)
	is.NoErr(err)
	backup.Syncs().Process()

	is.NoErr(backup.Sync(ctx, records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.Name("Dolly"))},
		records.AddRecord{Record: records.New("asset--animal", "bessie", records.Name("Bessie"))},
	})))
	is.NoErr(backup.Sync(ctx, records.NewTransform([]records.Operation{
		records.RemoveRecord{Record: records.Ref("asset--animal", "bessie")},
		records.ReplaceAttribute{Record: records.Ref("asset--animal", "dolly"), Attribute: "status", Value: "active"},
	})))

	loaded, err := NewBackup(store).Load(ctx)
	is.NoErr(err)
	is.Equal(len(loaded), 1)
	is.Equal(loaded[0].StringAttribute("status"), "active")
}

func TestRemoteQuery(t *testing.T) {
	is, ctx := testSetup(t)

	s := testutils.NewMockServiceThat(
		Expects(is, method(http.MethodGet), path("/api/asset/animal")),
		Returns(
			response.ContentType(client.ContentType),
			response.Code(http.StatusOK),
			response.Body([]byte(`{"data":[{"type":"asset--animal","id":"dolly","attributes":{"name":"Dolly"}}]}`)),
		),
	)
	defer s.Close()

	remote := NewRemote(client.NewClient(s.URL(), client.SessionTokenEndpoint("")))

	outcome, err := remote.Query(ctx, query.New(query.FindRecords{Type: "asset--animal"}))
	is.NoErr(err)

	result := outcome.Result.(*query.Result)
	is.Equal(len(result.Records), 1)
	is.Equal(len(outcome.Changes), 1)
	is.True(outcome.Changes[0].Options.LocalOnly) // records read from the server must never be forwarded back

	update, ok := outcome.Changes[0].Operations[0].(records.UpdateRecord)
	is.True(ok)
	is.Equal(update.Record.Name(), "Dolly")
}

func TestRemoteUpdate(t *testing.T) {
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

	remote := NewRemote(client.NewClient(s.URL(), client.SessionTokenEndpoint("")))

	transform := records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.Name("Dolly"))},
	})

	outcome, err := remote.Update(ctx, transform)
	is.NoErr(err)
	is.Equal(len(outcome.Changes), 2)
	is.Equal(outcome.Changes[0].ID, transform.ID)

	accepted := outcome.Result.([]*records.Record)
	is.Equal(accepted[0].Attributes["drupal_internal__id"], float64(7))
}

func testSetup(t *testing.T) (*is.I, context.Context) {
	is := is.New(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return is, ctx
}
