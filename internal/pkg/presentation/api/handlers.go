package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/diwise/field-sync/internal/pkg/presentation/api/auth"
	apierrors "github.com/diwise/field-sync/internal/pkg/presentation/api/errors"
	"github.com/diwise/field-sync/pkg/query"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/go-chi/chi/v5"
	gojson "github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("field-sync/api")

//go:generate moq -rm -out engine_mock.go . Engine

// Engine is the part of the sync engine that is exposed over http
type Engine interface {
	Query(ctx context.Context, expr query.Expression, options ...func(*query.Options)) (*query.Result, error)
	Update(ctx context.Context, t *records.Transform) ([]*records.Record, error)
	GetEntityModel(ctx context.Context, recordType string) (json.RawMessage, error)
	Search(ctx context.Context, text string, limit int, recordTypes ...string) ([]query.Hit, error)

	SetOnline(ctx context.Context, online bool)
	Online() bool
	Halt(ctx context.Context)
	PermanentlyDeleteLocalData(ctx context.Context) error

	DeadLetters() []*records.Transform
	ResubmitDeadLetters()
	Pending() []*records.Transform
}

func RegisterHandlers(ctx context.Context, r chi.Router, policies io.Reader, engine Engine) error {

	authenticator, err := auth.NewAuthenticator(ctx, policies)
	if err != nil {
		return fmt.Errorf("failed to create api authenticator: %w", err)
	}

	r.Group(func(r chi.Router) {
		r.Use(
			Logger(logging.GetFromContext(ctx)),
			RequiredContentTypes([]string{"application/json", "application/vnd.api+json"}),
		)

		r.Route("/api", func(r chi.Router) {
			r.Post("/queries", NewQueryHandler(engine, authenticator))
			r.Post("/transforms", NewTransformHandler(engine, authenticator))
			r.Get("/search", NewSearchHandler(engine, authenticator))
			r.Get("/geo/{kind}/{bundle}", NewFeatureCollectionHandler(engine, authenticator))

			r.Route("/{kind}/{bundle}", func(r chi.Router) {
				r.Get("/", NewQueryRecordsHandler(engine, authenticator))
				r.Get("/resource/schema", NewEntityModelHandler(engine, authenticator))
				r.Get("/{id}", NewRetrieveRecordHandler(engine, authenticator))
				r.Get("/{id}/{relationship}", NewRelatedRecordsHandler(engine, authenticator))
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/status", NewStatusHandler(engine, authenticator))
			r.Put("/online", NewSetOnlineHandler(engine, authenticator))
			r.Post("/halt", NewHaltHandler(engine, authenticator))
			r.Delete("/data", NewDeleteLocalDataHandler(engine, authenticator))

			r.Get("/dead-letters", NewDeadLettersHandler(engine, authenticator))
			r.Post("/dead-letters/resubmit", NewResubmitHandler(engine, authenticator))
		})
	})

	return nil
}

func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			_, ctx, _ = o11y.AddTraceIDToLoggerAndStoreInContext(
				trace.SpanFromContext(ctx),
				logger,
				ctx)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func RequiredContentTypes(validTypes []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			contentType := r.Header.Get("Content-Type")
			isValidContentType := true

			if len(contentType) > 0 {
				isValidContentType = false

				for _, t := range validTypes {
					if strings.HasPrefix(contentType, t) {
						isValidContentType = true
						break
					}
				}
			}

			if isValidContentType {
				next.ServeHTTP(w, r)
			} else {
				http.Error(w, "unsupported media type", http.StatusUnsupportedMediaType)
			}
		})
	}
}

type document struct {
	Data any `json:"data"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	body, err := gojson.Marshal(document{Data: data})
	if err != nil {
		apierrors.Report(w, err)
		return
	}

	w.Header().Add("Content-Type", "application/vnd.api+json")
	w.WriteHeader(status)
	w.Write(body)
}
