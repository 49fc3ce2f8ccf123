package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	jsonapierrors "github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	testutils "github.com/diwise/service-chassis/pkg/test/http"
	"github.com/diwise/service-chassis/pkg/test/http/expects"
	"github.com/diwise/service-chassis/pkg/test/http/response"

	"github.com/matryer/is"
)

var Expects = testutils.Expects
var Returns = testutils.Returns
var anyInput = expects.AnyInput
var method = expects.RequestMethod
var path = expects.RequestPath

func TestFindRecord(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(
			is,
			method(http.MethodGet),
			path("/api/asset/animal/dolly"),
		),
		Returns(
			response.ContentType(ContentType),
			response.Code(http.StatusOK),
			response.Body([]byte(dollyResponse)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL())

	r, err := c.FindRecord(context.Background(), records.Ref("asset--animal", "dolly"))
	is.NoErr(err)
	is.Equal(r.Name(), "Dolly")
	is.True(r.RelatesTo("animal_type", records.Ref("taxonomy_term--animal_type", "sheep")))
}

func TestFindRecordNotFound(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.ContentType(ContentType),
			response.Code(http.StatusNotFound),
			response.Body([]byte(`{"errors":[{"status":"404","title":"Not Found","detail":"The requested resource does not exist."}]}`)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL())

	_, err := c.FindRecord(context.Background(), records.Ref("asset--animal", "gone"))
	is.True(errors.Is(err, jsonapierrors.ErrNotFound))
	is.Equal(jsonapierrors.StatusCode(err), http.StatusNotFound)
}

func TestThatForbiddenMapsToAccessDenied(t *testing.T) {
	is := is.New(t)

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(
			response.Code(http.StatusForbidden),
			response.Body([]byte(`{"errors":[{"status":"403","title":"Forbidden","detail":"login required"}]}`)),
		),
	)
	defer s.Close()

	c := NewClient(s.URL())

	_, err := c.FindRecords(context.Background(), "asset--animal")

	var denied *jsonapierrors.AccessDeniedError
	is.True(errors.As(err, &denied)) // a 403 must surface as an access denied error
	is.True(errors.Is(err, jsonapierrors.ErrAccessDenied))
	is.Equal(denied.Detail, "login required")
}

func TestThatValidationErrorsAreFormatted(t *testing.T) {
	is := is.New(t)

	body := `{"errors":[
		{"status":"422","title":"Unprocessable Entity","detail":"This value should not be null.","source":{"pointer":"/data/attributes/name"}},
		{"status":"422","title":"Unprocessable Entity","detail":"Invalid date.","source":{"pointer":"/data/attributes/birthdate"}}
	]}`

	s := testutils.NewMockServiceThat(
		Expects(is, anyInput()),
		Returns(response.Code(http.StatusUnprocessableEntity), response.Body([]byte(body))),
	)
	defer s.Close()

	c := NewClient(s.URL(), SessionTokenEndpoint(""))

	_, err := c.CreateRecord(context.Background(), records.New("asset--animal", "dolly"))
	is.True(errors.Is(err, jsonapierrors.ErrValidation))
	is.Equal(err.Error(), "Unprocessable Entity: name: This value should not be null.; birthdate: Invalid date.")
}

func TestThatTransportFailuresBecomeServiceUnavailable(t *testing.T) {
	is := is.New(t)

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := s.URL
	s.Close()

	c := NewClient(endpoint)

	_, err := c.FindRecord(context.Background(), records.Ref("asset--animal", "dolly"))
	is.True(errors.Is(err, jsonapierrors.ErrServiceUnavailable))
	is.True(jsonapierrors.IsTransient(err))
}

func TestThatUnsafeMethodsCarryCSRFToken(t *testing.T) {
	is := is.New(t)

	tokenRequests := atomic.Int32{}

	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/session/token":
			tokenRequests.Add(1)
			w.Write([]byte("tok-123\n"))
		case "/api/asset/animal":
			is.Equal(r.Header.Get("X-CSRF-Token"), "tok-123")
			is.Equal(r.Header.Get("Content-Type"), ContentType)
			w.Header().Set("Content-Type", ContentType)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(dollyResponse))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer s.Close()

	c := NewClient(s.URL)

	for i := 0; i < 2; i++ {
		created, err := c.CreateRecord(context.Background(), records.New("asset--animal", "dolly", records.Name("Dolly")))
		is.NoErr(err)
		is.Equal(created.ID, "dolly")
	}

	is.Equal(tokenRequests.Load(), int32(1)) // the session token should be fetched once
}

func TestThatCollectionsFollowNextLinks(t *testing.T) {
	is := is.New(t)

	var base string
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", ContentType)
		if r.URL.Query().Get("page[offset]") == "" {
			w.Write([]byte(`{"data":[{"type":"asset--animal","id":"1","attributes":{"name":"Dolly"}}],
				"links":{"next":{"href":"` + base + `/api/asset/animal?page%5Boffset%5D=1"}}}`))
			return
		}
		w.Write([]byte(`{"data":[{"type":"asset--animal","id":"2","attributes":{"name":"Bessie"}}],"links":{}}`))
	}))
	defer s.Close()
	base = s.URL

	c := NewClient(s.URL)

	result, err := c.FindRecords(context.Background(), "asset--animal")
	is.NoErr(err)
	is.Equal(len(result), 2)
	is.Equal(result[1].Name(), "Bessie")
}

func TestFilterParameters(t *testing.T) {
	is := is.New(t)

	sheep := records.Ref("taxonomy_term--animal_type", "sheep")

	f, err := Filters([]query.Filter{
		query.Attribute("name", query.OpContains, "oll"),
		query.AnyOf(
			query.RelatedRecord("animal_type", query.OpEqual, sheep),
			query.Attribute("status", query.OpIn, []string{"active", "archived"}),
		),
	})
	is.NoErr(err)

	values, err := url.ParseQuery(strings.Join(f(nil), "&"))
	is.NoErr(err)

	is.Equal(values.Get("filter[c1][condition][path]"), "name")
	is.Equal(values.Get("filter[c1][condition][operator]"), "CONTAINS")
	is.Equal(values.Get("filter[c1][condition][value]"), "oll")

	is.Equal(values.Get("filter[g2][group][conjunction]"), "OR")

	is.Equal(values.Get("filter[c3][condition][path]"), "animal_type.id")
	is.Equal(values.Get("filter[c3][condition][operator]"), "=")
	is.Equal(values.Get("filter[c3][condition][value]"), "sheep")
	is.Equal(values.Get("filter[c3][condition][memberOf]"), "g2")

	is.Equal(values["filter[c4][condition][value][]"], []string{"active", "archived"})
}

func TestSortAndPageParameters(t *testing.T) {
	is := is.New(t)

	params, err := ParamsFor(query.FindRecords{
		Type: "log--activity",
		Sort: []query.SortSpecifier{{Attribute: "timestamp", Order: query.Descending}, {Attribute: "name"}},
		Page: &query.Page{Offset: 20, Limit: 10},
	})
	is.NoErr(err)

	p := []string{}
	for _, rdf := range params {
		p = rdf(p)
	}

	values, err := url.ParseQuery(strings.Join(p, "&"))
	is.NoErr(err)
	is.Equal(values.Get("sort"), "-timestamp,name")
	is.Equal(values.Get("page[offset]"), "20")
	is.Equal(values.Get("page[limit]"), "10")
}

func TestThatSetEqualityCannotBeSentToTheServer(t *testing.T) {
	is := is.New(t)

	_, err := Filters([]query.Filter{query.RelatedRecords("location", query.OpEqual, records.Ref("asset--land", "p1"))})
	is.True(errors.Is(err, query.ErrNotSupported))

	_, err = Filters([]query.Filter{query.Attribute("name", "LIKE", "x")})
	is.True(errors.Is(err, query.ErrParse))
}

const dollyResponse string = `{
	"jsonapi": {"version": "1.0"},
	"data": {
		"type": "asset--animal",
		"id": "dolly",
		"attributes": {"name": "Dolly", "status": "active"},
		"relationships": {
			"animal_type": {
				"data": {"type": "taxonomy_term--animal_type", "id": "sheep", "meta": {"drupal_internal__target_id": 4}},
				"links": {"self": {"href": "http://localhost/api/asset/animal/dolly/relationships/animal_type"}}
			},
			"location": {"data": []}
		}
	}
}`
