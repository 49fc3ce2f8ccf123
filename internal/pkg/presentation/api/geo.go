package api

import (
	"net/http"

	"github.com/diwise/field-sync/internal/pkg/presentation/api/auth"
	apierrors "github.com/diwise/field-sync/internal/pkg/presentation/api/errors"
	"github.com/diwise/field-sync/pkg/datamodels/farm"
	"github.com/diwise/field-sync/pkg/geojson"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	gojson "github.com/goccy/go-json"
)

const GeoJSONContentType string = "application/geo+json"

// NewFeatureCollectionHandler returns the records of a type as a GeoJSON feature
// collection. Assets are placed by their materialized geometry and records without
// any geometry are left out.
func NewFeatureCollectionHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		recordType := recordTypeFromPath(r)

		ctx, span := tracer.Start(r.Context(), "feature-collection")
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
			apierrors.Report(w, err)
			return
		}

		geometryAttribute := r.URL.Query().Get("geometry")
		if geometryAttribute == "" {
			geometryAttribute = farm.Geometry
		}

		log := logging.GetFromContext(ctx)
		fc := geojson.NewFeatureCollection()

		for _, rec := range result.Records {
			feature, ok, convErr := geojson.ConvertRecord(rec, geometryAttribute)
			if convErr != nil {
				log.Warn("failed to convert record to a feature", "record", rec.Ref().String(), "err", convErr.Error())
				continue
			}

			if ok {
				fc.Features = append(fc.Features, *feature)
			}
		}

		var body []byte
		body, err = gojson.Marshal(fc)
		if err != nil {
			apierrors.Report(w, err)
			return
		}

		w.Header().Add("Content-Type", GeoJSONContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	})
}
