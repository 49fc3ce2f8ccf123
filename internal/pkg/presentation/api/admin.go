package api

import (
	"fmt"
	"net/http"

	"github.com/diwise/field-sync/internal/pkg/presentation/api/auth"
	apierrors "github.com/diwise/field-sync/internal/pkg/presentation/api/errors"
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
)

type Status struct {
	Online      bool `json:"online"`
	Pending     int  `json:"pending"`
	DeadLetters int  `json:"deadLetters"`
}

type onlineRequest struct {
	Online *bool `json:"online"`
}

func NewStatusHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "status")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Admin("status")); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		writeData(w, http.StatusOK, Status{
			Online:      engine.Online(),
			Pending:     len(engine.Pending()),
			DeadLetters: len(engine.DeadLetters()),
		})
	})
}

// NewSetOnlineHandler lets an operator force the connectivity state, e.g. to
// keep the engine offline on a metered connection
func NewSetOnlineHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "set-online")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Admin("online")); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		req := onlineRequest{}
		if err = decode(r.Body, &req); err != nil || req.Online == nil {
			apierrors.ReportBadRequest(w, "expected a body like {\"online\": true}")
			return
		}

		engine.SetOnline(ctx, *req.Online)

		w.WriteHeader(http.StatusNoContent)
	})
}

func NewHaltHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "halt")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Admin("halt")); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		engine.Halt(ctx)

		w.WriteHeader(http.StatusNoContent)
	})
}

// NewDeleteLocalDataHandler removes every record, pending write and cached model
// from this device. Writes that have not reached the remote store are lost.
func NewDeleteLocalDataHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "delete-local-data")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Admin("purge")); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		if pending := len(engine.Pending()); pending > 0 {
			logging.GetFromContext(ctx).Warn(fmt.Sprintf("discarding %d pending transforms", pending))
		}

		if err = engine.PermanentlyDeleteLocalData(ctx); err != nil {
			apierrors.Report(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	})
}

func NewDeadLettersHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "dead-letters")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Admin("dead-letters")); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		deadLetters := engine.DeadLetters()
		if deadLetters == nil {
			deadLetters = []*records.Transform{}
		}

		writeData(w, http.StatusOK, deadLetters)
	})
}

func NewResubmitHandler(engine Engine, authenticator auth.Enticator) http.HandlerFunc {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error

		ctx, span := tracer.Start(r.Context(), "resubmit-dead-letters")
		defer func() { tracing.RecordAnyErrorAndEndSpan(err, span) }()

		if err = authenticator.CheckAccess(ctx, r, auth.Admin("resubmit")); err != nil {
			apierrors.ReportUnauthorized(w, err.Error())
			return
		}

		count := len(engine.DeadLetters())
		engine.ResubmitDeadLetters()

		logging.GetFromContext(ctx).Info("resubmitted dead letters", "count", count)

		w.WriteHeader(http.StatusAccepted)
	})
}
