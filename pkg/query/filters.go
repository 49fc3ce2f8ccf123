package query

import (
	"fmt"
	"strings"

	"github.com/diwise/field-sync/pkg/records"
)

type FilterKind string

const (
	KindAttribute      FilterKind = "attribute"
	KindRelatedRecord  FilterKind = "relatedRecord"
	KindRelatedRecords FilterKind = "relatedRecords"
	KindGroup          FilterKind = "group"
)

const (
	OpEqual      string = "equal"
	OpEq         string = "="
	OpNotEqual   string = "<>"
	OpStartsWith string = "STARTS_WITH"
	OpContains   string = "CONTAINS"
	OpEndsWith   string = "ENDS_WITH"
	OpIn         string = "IN"
	OpNotIn      string = "NOT IN"
	OpIsNull     string = "IS NULL"
	OpIsNotNull  string = "IS NOT NULL"
	OpGT         string = ">"
	OpGTE        string = ">="
	OpLT         string = "<"
	OpLTE        string = "<="
	OpAll        string = "all"
	OpSome       string = "some"
	OpNone       string = "none"
)

const (
	And string = "AND"
	Or  string = "OR"
)

// Filter is a node in a filter tree. Which fields are used depends on the kind.
type Filter struct {
	Kind        FilterKind          `json:"kind"`
	Op          string              `json:"op,omitempty"`
	Attribute   string              `json:"attribute,omitempty"`
	Value       any                 `json:"value,omitempty"`
	Relation    string              `json:"relation,omitempty"`
	Records     []records.RecordRef `json:"records,omitempty"`
	Conjunction string              `json:"conjunction,omitempty"`
	Filters     []Filter            `json:"filters,omitempty"`
}

func Attribute(attribute, op string, value any) Filter {
	return Filter{Kind: KindAttribute, Attribute: attribute, Op: op, Value: value}
}

func RelatedRecord(relation, op string, refs ...records.RecordRef) Filter {
	return Filter{Kind: KindRelatedRecord, Relation: relation, Op: op, Records: refs}
}

func RelatedRecords(relation, op string, refs ...records.RecordRef) Filter {
	return Filter{Kind: KindRelatedRecords, Relation: relation, Op: op, Records: refs}
}

func AllOf(filters ...Filter) Filter {
	return Filter{Kind: KindGroup, Conjunction: And, Filters: filters}
}

func AnyOf(filters ...Filter) Filter {
	return Filter{Kind: KindGroup, Conjunction: Or, Filters: filters}
}

var attributeOperators = map[string]bool{
	OpEqual: true, OpEq: true, OpNotEqual: true,
	OpStartsWith: true, OpContains: true, OpEndsWith: true,
	OpIn: true, OpNotIn: true, OpIsNull: true, OpIsNotNull: true,
	OpGT: true, OpGTE: true, OpLT: true, OpLTE: true,
}

var relatedRecordOperators = map[string]bool{
	OpEqual: true, OpIn: true, OpNotIn: true,
}

var relatedRecordsOperators = map[string]bool{
	OpEqual: true, OpAll: true, OpSome: true, OpIn: true, OpNone: true, OpNotIn: true,
}

// Validate checks a filter tree for unknown kinds, operators and conjunctions
func Validate(filters []Filter) error {
	for _, f := range filters {
		if err := validateFilter(f); err != nil {
			return err
		}
	}
	return nil
}

func validateFilter(f Filter) error {
	switch f.Kind {
	case KindAttribute:
		if !attributeOperators[f.Op] {
			return fmt.Errorf("unrecognized attribute operator %q (%w)", f.Op, ErrParse)
		}
		if f.Attribute == "" {
			return fmt.Errorf("attribute filter without attribute (%w)", ErrParse)
		}
		if f.Op == OpIn || f.Op == OpNotIn {
			if _, ok := toList(f.Value); !ok {
				return fmt.Errorf("operator %s requires a list value (%w)", f.Op, ErrParse)
			}
		}
	case KindRelatedRecord:
		if !relatedRecordOperators[f.Op] {
			return fmt.Errorf("unrecognized relatedRecord operator %q (%w)", f.Op, ErrParse)
		}
		if f.Op == OpEqual && len(f.Records) > 1 {
			return fmt.Errorf("relatedRecord equal takes a single record (%w)", ErrParse)
		}
	case KindRelatedRecords:
		if !relatedRecordsOperators[f.Op] {
			return fmt.Errorf("unrecognized relatedRecords operator %q (%w)", f.Op, ErrParse)
		}
	case KindGroup:
		conj := strings.ToUpper(f.Conjunction)
		if conj != And && conj != Or {
			return fmt.Errorf("unrecognized conjunction %q (%w)", f.Conjunction, ErrParse)
		}
		return Validate(f.Filters)
	default:
		return fmt.Errorf("unrecognized filter kind %q (%w)", f.Kind, ErrParse)
	}

	return nil
}
