package records

import (
	"time"

	"github.com/google/uuid"
)

// ErrorInfo describes one failed attempt to forward a transform to the remote store
type ErrorInfo struct {
	Status    int    `json:"status"`
	Title     string `json:"title"`
	Detail    string `json:"detail"`
	Timestamp string `json:"timestamp"`
}

func NewErrorInfo(status int, title, detail string) ErrorInfo {
	return ErrorInfo{
		Status:    status,
		Title:     title,
		Detail:    detail,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

type TransformOptions struct {
	LocalOnly         bool        `json:"localOnly,omitempty"`
	FailedRetryErrors []ErrorInfo `json:"failedRetryErrors,omitempty"`
	// AcceptedOperations counts the leading operations the remote store has
	// already accepted. They are not sent again.
	AcceptedOperations int `json:"acceptedOperations,omitempty"`
}

type Transform struct {
	ID         string           `json:"id"`
	Operations Operations       `json:"operations"`
	Options    TransformOptions `json:"options"`
}

type TransformDecoratorFunc func(t *Transform)

func NewTransform(operations []Operation, decorators ...TransformDecoratorFunc) *Transform {
	t := &Transform{
		ID:         uuid.NewString(),
		Operations: operations,
	}

	for _, decorate := range decorators {
		decorate(t)
	}

	return t
}

func LocalOnly() TransformDecoratorFunc {
	return func(t *Transform) {
		t.Options.LocalOnly = true
	}
}

func WithID(id string) TransformDecoratorFunc {
	return func(t *Transform) {
		t.ID = id
	}
}

// AddsRecord reports if the transform creates the referenced record
func (t *Transform) AddsRecord(ref RecordRef) bool {
	for _, op := range t.Operations {
		if add, ok := op.(AddRecord); ok && add.Record.Ref().Equals(ref) {
			return true
		}
	}
	return false
}

func (t *Transform) Clone() *Transform {
	c := &Transform{
		ID:         t.ID,
		Operations: append(Operations{}, t.Operations...),
		Options: TransformOptions{
			LocalOnly:          t.Options.LocalOnly,
			FailedRetryErrors:  append([]ErrorInfo{}, t.Options.FailedRetryErrors...),
			AcceptedOperations: t.Options.AcceptedOperations,
		},
	}
	return c
}
