package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

var ErrAccessDenied = fmt.Errorf("access denied")
var ErrAlreadyExists = fmt.Errorf("already exists")
var ErrBadRequest = fmt.Errorf("bad request")
var ErrBadResponse = fmt.Errorf("bad response")
var ErrInternal = fmt.Errorf("internal error")
var ErrNotFound = fmt.Errorf("not found")
var ErrRequest = fmt.Errorf("request error")
var ErrServiceUnavailable = fmt.Errorf("service unavailable")
var ErrValidation = fmt.Errorf("validation failed")

type myError struct {
	msg    string
	target error
	status int
}

func (m myError) Error() string        { return m.msg }
func (m myError) Is(target error) bool { return target == m.target }
func (m myError) StatusCode() int      { return m.status }

// AccessDeniedError is returned for 403 responses so that callers can branch to
// a login flow using errors.As
type AccessDeniedError struct {
	Detail string
}

func (e *AccessDeniedError) Error() string        { return "access denied: " + e.Detail }
func (e *AccessDeniedError) Is(target error) bool { return target == ErrAccessDenied }
func (e *AccessDeniedError) StatusCode() int      { return http.StatusForbidden }

func NewAccessDeniedError(detail string) error {
	return &AccessDeniedError{Detail: detail}
}

func NewAlreadyExistsError(msg string) error {
	return &myError{msg: msg, target: ErrAlreadyExists, status: http.StatusConflict}
}

func NewBadRequestError(msg string) error {
	return &myError{msg: msg, target: ErrBadRequest, status: http.StatusBadRequest}
}

func NewInternalError(msg string, status int) error {
	return &myError{msg: msg, target: ErrInternal, status: status}
}

func NewNotFoundError(msg string) error {
	return &myError{msg: msg, target: ErrNotFound, status: http.StatusNotFound}
}

func NewServiceUnavailableError(msg string) error {
	return &myError{msg: msg, target: ErrServiceUnavailable, status: http.StatusServiceUnavailable}
}

func NewValidationError(msg string) error {
	return &myError{msg: msg, target: ErrValidation, status: http.StatusUnprocessableEntity}
}

// StatusCode returns the http status code carried by an error created in this
// package, or 0 if there is none
func StatusCode(err error) int {
	type statusCoder interface{ StatusCode() int }

	for err != nil {
		if sc, ok := err.(statusCoder); ok {
			return sc.StatusCode()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0
		}
		err = u.Unwrap()
	}

	return 0
}

// IsTransient reports if a failed request is worth retrying as is
func IsTransient(err error) bool {
	code := StatusCode(err)
	return code == http.StatusServiceUnavailable || code == http.StatusBadGateway ||
		code == http.StatusGatewayTimeout || code == http.StatusTooManyRequests
}

type ErrorObject struct {
	Status string `json:"status"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Source *struct {
		Pointer string `json:"pointer"`
	} `json:"source,omitempty"`
}

type ErrorDocument struct {
	Errors []ErrorObject `json:"errors"`
}

// FormatErrors renders the error objects of a JSON:API error document into one
// human readable line
func FormatErrors(doc ErrorDocument) string {
	parts := make([]string, 0, len(doc.Errors))

	for _, e := range doc.Errors {
		msg := e.Detail
		if msg == "" {
			msg = e.Title
		}
		if e.Source != nil && e.Source.Pointer != "" {
			field := strings.TrimPrefix(e.Source.Pointer, "/data/attributes/")
			field = strings.TrimPrefix(field, "/data/relationships/")
			msg = field + ": " + msg
		}
		parts = append(parts, msg)
	}

	return strings.Join(parts, "; ")
}

// NewErrorFromResponse maps a failed response from the remote store to one of the
// errors in this package
func NewErrorFromResponse(code int, body []byte) error {
	doc := ErrorDocument{}
	detail := ""

	if len(body) > 0 && json.Unmarshal(body, &doc) == nil && len(doc.Errors) > 0 {
		detail = FormatErrors(doc)
	} else {
		detail = http.StatusText(code)
	}

	switch code {
	case http.StatusForbidden:
		return NewAccessDeniedError(detail)
	case http.StatusNotFound:
		return NewNotFoundError(detail)
	case http.StatusConflict:
		return NewAlreadyExistsError(detail)
	case http.StatusUnprocessableEntity:
		return NewValidationError("Unprocessable Entity: " + detail)
	case http.StatusBadRequest:
		return NewBadRequestError(detail)
	case http.StatusServiceUnavailable:
		return NewServiceUnavailableError(detail)
	}

	return NewInternalError(fmt.Sprintf("[code: %d] %s", code, detail), code)
}

// SyntheticUnavailableBody is the body used in place of a response when the remote
// store could not be reached at all
func SyntheticUnavailableBody(cause error) []byte {
	doc := ErrorDocument{Errors: []ErrorObject{{
		Status: "503",
		Title:  "Service Unavailable",
		Detail: cause.Error(),
	}}}
	b, _ := json.Marshal(doc)
	return b
}
