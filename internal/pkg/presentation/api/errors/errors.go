package errors

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/diwise/field-sync/internal/pkg/application/coordinator"
	jsonapierrors "github.com/diwise/field-sync/pkg/jsonapi/errors"
	"github.com/diwise/field-sync/pkg/query"
	json "github.com/goccy/go-json"
)

const (
	//ErrorContentType is the media type of JSON:API error documents
	ErrorContentType string = "application/vnd.api+json"
)

//Report writes err as a JSON:API error document with a status derived from the error
func Report(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	write(w, status, err.Error())
}

//ReportBadRequest writes a 400 error document with the supplied detail
func ReportBadRequest(w http.ResponseWriter, detail string) {
	write(w, http.StatusBadRequest, detail)
}

//ReportUnauthorized writes a 401 error document with the supplied detail
func ReportUnauthorized(w http.ResponseWriter, detail string) {
	write(w, http.StatusUnauthorized, detail)
}

//ReportNotFound writes a 404 error document with the supplied detail
func ReportNotFound(w http.ResponseWriter, detail string) {
	write(w, http.StatusNotFound, detail)
}

// StatusFor maps errors from the sync engine and the remote store to http status codes
func StatusFor(err error) int {
	switch {
	case errors.Is(err, query.ErrParse), errors.Is(err, query.ErrNotSupported):
		return http.StatusBadRequest
	case errors.Is(err, query.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, coordinator.ErrBarrierTimeout):
		return http.StatusServiceUnavailable
	}

	if status := jsonapierrors.StatusCode(err); status != 0 {
		return status
	}

	return http.StatusInternalServerError
}

func write(w http.ResponseWriter, status int, detail string) {
	doc := jsonapierrors.ErrorDocument{
		Errors: []jsonapierrors.ErrorObject{{
			Status: strconv.Itoa(status),
			Title:  http.StatusText(status),
			Detail: detail,
		}},
	}

	body, err := json.Marshal(doc)
	if err != nil {
		http.Error(w, detail, status)
		return
	}

	w.Header().Add("Content-Type", ErrorContentType)
	w.WriteHeader(status)
	w.Write(body)
}
