package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"github.com/diwise/field-sync/internal/pkg/presentation/api/auth"
	apierrors "github.com/diwise/field-sync/internal/pkg/presentation/api/errors"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/go-chi/chi/v5"
	gojson "github.com/goccy/go-json"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// NewQueryRecordsHandler handles GET requests for a collection of records
func NewQueryRecordsHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		recordType := recordTypeFromPath(r)

		ctx, span := tracer.Start(r.Context(), "query-records", trace.WithAttributes(attribute.String("type", recordType)))
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Read(recordType)); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		expr := query.FindRecords{Type: recordType}

		expr.Filter, expr.Sort, expr.Page, err = parseCollectionParams(r.URL.Query())
		if err != nil {
			apierrors.ReportBadRequest(w, err.Error())
			return
		}

		var result *query.Result
		result, err = engine.Query(ctx, expr, queryOptions(r.URL.Query())...)
		if err != nil {
			logging.GetFromContext(ctx).Error("failed to query records", "type", recordType, "err", err.Error())
			apierrors.Report(w, err)
			return
		}

		writeData(w, http.StatusOK, result.Records)
	})
}

// NewRetrieveRecordHandler handles GET requests for a single record
func NewRetrieveRecordHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ref := records.Ref(recordTypeFromPath(r), chi.URLParam(r, "id"))

		ctx, span := tracer.Start(r.Context(), "retrieve-record", trace.WithAttributes(attribute.String("record", ref.String())))
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Read(ref.Type)); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		var result *query.Result
		result, err = engine.Query(ctx, query.FindRecord{Record: ref}, queryOptions(r.URL.Query())...)
		if err != nil {
			apierrors.Report(w, err)
			return
		}

		if result.Record() == nil {
			apierrors.ReportNotFound(w, fmt.Sprintf("%s was not found", ref.String()))
			return
		}

		writeData(w, http.StatusOK, result.Record())
	})
}

// NewRelatedRecordsHandler handles GET requests for the records related to a record
func NewRelatedRecordsHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ref := records.Ref(recordTypeFromPath(r), chi.URLParam(r, "id"))
		relationship := chi.URLParam(r, "relationship")

		ctx, span := tracer.Start(r.Context(), "retrieve-related-records")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Read(ref.Type)); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		expr := query.FindRelatedRecords{Record: ref, Relationship: relationship}

		expr.Filter, expr.Sort, expr.Page, err = parseCollectionParams(r.URL.Query())
		if err != nil {
			apierrors.ReportBadRequest(w, err.Error())
			return
		}

		var result *query.Result
		result, err = engine.Query(ctx, expr, queryOptions(r.URL.Query())...)
		if err != nil {
			apierrors.Report(w, err)
			return
		}

		writeData(w, http.StatusOK, result.Records)
	})
}

// NewQueryHandler handles POST requests carrying a query document
func NewQueryHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "query")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		q := &query.Query{}
		if err = decode(r.Body, q); err != nil {
			apierrors.ReportBadRequest(w, fmt.Sprintf("unable to decode query: %s", err.Error()))
			return
		}

		if err = authenticator.CheckAccess(ctx, r, auth.Read(query.RecordType(q.Expression))); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		options := []func(*query.Options){}
		if q.Options.ForceRemote {
			options = append(options, query.ForceRemote())
		}
		if q.Options.VerifyCacheIntegrity {
			options = append(options, query.VerifyCacheIntegrity())
		}

		var result *query.Result
		result, err = engine.Query(ctx, q.Expression, options...)
		if err != nil {
			apierrors.Report(w, err)
			return
		}

		if result.Single {
			writeData(w, http.StatusOK, result.Record())
			return
		}

		writeData(w, http.StatusOK, result.Records)
	})
}

// NewTransformHandler handles POST requests carrying a transform. The records
// affected by the transform are returned.
func NewTransformHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "transform")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		t := &records.Transform{}
		if err = decode(r.Body, t); err != nil {
			apierrors.ReportBadRequest(w, fmt.Sprintf("unable to decode transform: %s", err.Error()))
			return
		}

		if len(t.Operations) == 0 {
			apierrors.ReportBadRequest(w, "a transform needs at least one operation")
			return
		}

		if t.ID == "" {
			t.ID = records.NewTransform(nil).ID
		}

		if err = authenticator.CheckAccess(ctx, r, auth.Write(t)); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		var result []*records.Record
		result, err = engine.Update(ctx, t)
		if err != nil {
			logging.GetFromContext(ctx).Error("failed to apply transform", "transform", t.ID, "err", err.Error())
			apierrors.Report(w, err)
			return
		}

		writeData(w, http.StatusOK, result)
	})
}

// NewSearchHandler handles free text searches on record names
func NewSearchHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "search")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		params := r.URL.Query()

		text := params.Get("q")
		if text == "" {
			apierrors.ReportBadRequest(w, "a search needs a q parameter")
			return
		}

		recordTypes := splitList(params.Get("types"))
		if len(recordTypes) == 0 {
			apierrors.ReportBadRequest(w, "a search needs at least one record type")
			return
		}

		limit := 0
		if l := params.Get("limit"); l != "" {
			if limit, err = strconv.Atoi(l); err != nil || limit < 0 {
				apierrors.ReportBadRequest(w, "limit must be a non negative number")
				return
			}
		}

		if err = authenticator.CheckAccess(ctx, r, auth.Read(recordTypes...)); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		var hits []query.Hit
		hits, err = engine.Search(ctx, text, limit, recordTypes...)
		if err != nil {
			apierrors.Report(w, err)
			return
		}

		found := make([]*records.Record, 0, len(hits))
		for _, hit := range hits {
			found = append(found, hit.Record)
		}

		writeData(w, http.StatusOK, found)
	})
}

// NewEntityModelHandler serves the schema of a record type
func NewEntityModelHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		recordType := recordTypeFromPath(r)

		ctx, span := tracer.Start(r.Context(), "get-entity-model", trace.WithAttributes(attribute.String("type", recordType)))
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Read(recordType)); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		var schema []byte
		schema, err = engine.GetEntityModel(ctx, recordType)
		if err != nil {
			apierrors.Report(w, err)
			return
		}

		w.Header().Add("Content-Type", "application/schema+json")
		w.WriteHeader(http.StatusOK)
		w.Write(schema)
	})
}

func recordTypeFromPath(r *http.Request) string {
	return chi.URLParam(r, "kind") + "--" + chi.URLParam(r, "bundle")
}

func decode(body io.Reader, v any) error {
	b, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	return gojson.Unmarshal(b, v)
}

func queryOptions(params url.Values) []func(*query.Options) {
	options := []func(*query.Options){}

	if params.Get("remote") == "true" {
		options = append(options, query.ForceRemote())
	}

	if params.Get("verify") == "true" {
		options = append(options, query.VerifyCacheIntegrity())
	}

	return options
}

// parseCollectionParams reads filters, sorting and paging from query parameters
// written the way the remote store expects them:
//
//	filter[name]=Dolly
//	filter[name][operator]=CONTAINS&filter[name][value]=oll
//	sort=-timestamp,name
//	page[offset]=0&page[limit]=50
func parseCollectionParams(params url.Values) (filters []query.Filter, sorting []query.SortSpecifier, page *query.Page, err error) {
	type condition struct {
		operator string
		value    string
		hasValue bool
	}

	conditions := map[string]*condition{}
	order := []string{}

	get := func(attr string) *condition {
		c, ok := conditions[attr]
		if !ok {
			c = &condition{operator: query.OpEqual}
			conditions[attr] = c
			order = append(order, attr)
		}
		return c
	}

	for key, values := range params {
		if !strings.HasPrefix(key, "filter[") || len(values) == 0 {
			continue
		}

		parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(key, "filter["), "]"), "][")

		switch {
		case len(parts) == 1:
			c := get(parts[0])
			c.value, c.hasValue = values[0], true
		case len(parts) == 2 && parts[1] == "operator":
			operator := values[0]
			if operator != query.OpEqual {
				operator = strings.ToUpper(operator)
			}
			get(parts[0]).operator = operator
		case len(parts) == 2 && parts[1] == "value":
			c := get(parts[0])
			c.value, c.hasValue = values[0], true
		default:
			return nil, nil, nil, fmt.Errorf("malformed filter parameter %q", key)
		}
	}

	slices.Sort(order)

	for _, attr := range order {
		c := conditions[attr]

		var value any
		switch c.operator {
		case query.OpIsNull, query.OpIsNotNull:
		case query.OpIn, query.OpNotIn:
			list := []any{}
			for _, v := range splitList(c.value) {
				list = append(list, v)
			}
			value = list
		default:
			if !c.hasValue {
				return nil, nil, nil, fmt.Errorf("filter on %s is missing a value", attr)
			}
			value = c.value
		}

		filters = append(filters, query.Attribute(attr, c.operator, value))
	}

	if err = query.Validate(filters); err != nil {
		return nil, nil, nil, err
	}

	for _, s := range splitList(params.Get("sort")) {
		if strings.HasPrefix(s, "-") {
			sorting = append(sorting, query.SortSpecifier{Attribute: s[1:], Order: query.Descending})
		} else {
			sorting = append(sorting, query.SortSpecifier{Attribute: s, Order: query.Ascending})
		}
	}

	offset, limit := params.Get("page[offset]"), params.Get("page[limit]")
	if offset != "" || limit != "" {
		page = &query.Page{}

		if page.Limit, err = strconv.Atoi(limit); err != nil || page.Limit <= 0 {
			return nil, nil, nil, fmt.Errorf("page[limit] must be a positive number")
		}

		if offset != "" {
			if page.Offset, err = strconv.Atoi(offset); err != nil || page.Offset < 0 {
				return nil, nil, nil, fmt.Errorf("page[offset] must be a non negative number")
			}
		}
	}

	return filters, sorting, page, nil
}

func splitList(s string) []string {
	list := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	return list
}
