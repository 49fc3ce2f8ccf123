package records

import (
	"time"

	"github.com/google/uuid"
)

type RecordDecoratorFunc func(r *Record)

// New creates a record of the given type. An empty id is replaced by a
// locally generated UUID.
func New(recordType, id string, decorators ...RecordDecoratorFunc) *Record {
	if id == "" {
		id = uuid.NewString()
	}

	r := &Record{
		Type:          recordType,
		ID:            id,
		Attributes:    map[string]any{},
		Relationships: map[string]*RelationshipData{},
	}

	for _, decorate := range decorators {
		decorate(r)
	}

	return r
}

func Attr(name string, value any) RecordDecoratorFunc {
	return func(r *Record) {
		r.SetAttribute(name, value)
	}
}

func Name(name string) RecordDecoratorFunc {
	return Attr(AttributeName, name)
}

func Status(status string) RecordDecoratorFunc {
	return Attr(AttributeStatus, status)
}

func Timestamp(t time.Time) RecordDecoratorFunc {
	return Attr(AttributeTimestamp, t.UTC().Format(time.RFC3339))
}

func ToOne(name string, ref *RecordRef) RecordDecoratorFunc {
	return func(r *Record) {
		r.SetRelationship(name, NewToOne(ref))
	}
}

func ToMany(name string, refs ...RecordRef) RecordDecoratorFunc {
	return func(r *Record) {
		r.SetRelationship(name, NewToMany(refs...))
	}
}

func AsPlaceholder() RecordDecoratorFunc {
	return func(r *Record) {
		r.Placeholder = true
	}
}
