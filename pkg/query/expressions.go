package query

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/diwise/field-sync/pkg/records"
	"github.com/google/uuid"
)

var ErrParse = errors.New("query parse error")
var ErrNotSupported = errors.New("not supported")
var ErrRecordNotFound = errors.New("record not found")

// Expression is one of FindRecord, FindRecords, FindRelatedRecord or FindRelatedRecords
type Expression interface {
	Op() string
	isExpression()
}

type FindRecord struct {
	Record records.RecordRef
}

type FindRecords struct {
	Type   string
	Filter []Filter
	Sort   []SortSpecifier
	Page   *Page
}

type FindRelatedRecord struct {
	Record       records.RecordRef
	Relationship string
}

type FindRelatedRecords struct {
	Record       records.RecordRef
	Relationship string
	Filter       []Filter
	Sort         []SortSpecifier
	Page         *Page
}

func (FindRecord) Op() string         { return "findRecord" }
func (FindRecords) Op() string        { return "findRecords" }
func (FindRelatedRecord) Op() string  { return "findRelatedRecord" }
func (FindRelatedRecords) Op() string { return "findRelatedRecords" }

func (FindRecord) isExpression()         {}
func (FindRecords) isExpression()        {}
func (FindRelatedRecord) isExpression()  {}
func (FindRelatedRecords) isExpression() {}

const (
	Ascending  string = "ascending"
	Descending string = "descending"
)

type SortSpecifier struct {
	Attribute string `json:"attribute"`
	Order     string `json:"order,omitempty"`
}

type Page struct {
	Offset int `json:"offset,omitempty"`
	Limit  int `json:"limit,omitempty"`
}

type Options struct {
	ForceRemote          bool `json:"forceRemote,omitempty"`
	VerifyCacheIntegrity bool `json:"verifyCacheIntegrity,omitempty"`
}

type Query struct {
	ID         string
	Expression Expression
	Options    Options
}

func New(expr Expression, opts ...func(*Options)) *Query {
	q := &Query{
		ID:         uuid.NewString(),
		Expression: expr,
	}
	for _, opt := range opts {
		opt(&q.Options)
	}
	return q
}

func ForceRemote() func(*Options) {
	return func(o *Options) {
		o.ForceRemote = true
	}
}

func VerifyCacheIntegrity() func(*Options) {
	return func(o *Options) {
		o.ForceRemote = true
		o.VerifyCacheIntegrity = true
	}
}

// RecordType returns the type of the records the expression resolves to, if known
func RecordType(expr Expression) string {
	switch e := expr.(type) {
	case FindRecord:
		return e.Record.Type
	case FindRecords:
		return e.Type
	}
	return ""
}

type queryEnvelope struct {
	ID           string             `json:"id"`
	Op           string             `json:"op"`
	Record       *records.RecordRef `json:"record,omitempty"`
	Type         string             `json:"type,omitempty"`
	Relationship string             `json:"relationship,omitempty"`
	Filter       []Filter           `json:"filter,omitempty"`
	Sort         []SortSpecifier    `json:"sort,omitempty"`
	Page         *Page              `json:"page,omitempty"`
	Options      Options            `json:"options"`
}

func (q Query) MarshalJSON() ([]byte, error) {
	env := queryEnvelope{ID: q.ID, Options: q.Options}

	switch e := q.Expression.(type) {
	case FindRecord:
		env.Op = e.Op()
		env.Record = &e.Record
	case FindRecords:
		env.Op = e.Op()
		env.Type, env.Filter, env.Sort, env.Page = e.Type, e.Filter, e.Sort, e.Page
	case FindRelatedRecord:
		env.Op = e.Op()
		env.Record, env.Relationship = &e.Record, e.Relationship
	case FindRelatedRecords:
		env.Op = e.Op()
		env.Record, env.Relationship = &e.Record, e.Relationship
		env.Filter, env.Sort, env.Page = e.Filter, e.Sort, e.Page
	default:
		return nil, fmt.Errorf("unknown expression %T (%w)", q.Expression, ErrParse)
	}

	return json.Marshal(env)
}

func (q *Query) UnmarshalJSON(data []byte) error {
	env := queryEnvelope{}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}

	q.ID = env.ID
	q.Options = env.Options

	ref := func() (records.RecordRef, error) {
		if env.Record == nil {
			return records.RecordRef{}, fmt.Errorf("%s requires a record (%w)", env.Op, ErrParse)
		}
		return *env.Record, nil
	}

	var err error
	var r records.RecordRef

	switch env.Op {
	case "findRecord":
		r, err = ref()
		q.Expression = FindRecord{Record: r}
	case "findRecords":
		q.Expression = FindRecords{Type: env.Type, Filter: env.Filter, Sort: env.Sort, Page: env.Page}
	case "findRelatedRecord":
		r, err = ref()
		q.Expression = FindRelatedRecord{Record: r, Relationship: env.Relationship}
	case "findRelatedRecords":
		r, err = ref()
		q.Expression = FindRelatedRecords{
			Record: r, Relationship: env.Relationship,
			Filter: env.Filter, Sort: env.Sort, Page: env.Page,
		}
	default:
		err = fmt.Errorf("unknown expression %q (%w)", env.Op, ErrParse)
	}

	return err
}
