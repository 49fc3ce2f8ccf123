package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/diwise/field-sync/pkg/records"
)

// RecordSource is the read side of a record mirror that queries can be evaluated against
type RecordSource interface {
	Record(ref records.RecordRef) (*records.Record, bool)
	Records(recordType string) []*records.Record
}

type Result struct {
	Single  bool
	Records []*records.Record
}

// Record returns the first record of the result or nil
func (r *Result) Record() *records.Record {
	if r == nil || len(r.Records) == 0 {
		return nil
	}
	return r.Records[0]
}

// Evaluate runs an expression against a record source using the same filter, sort
// and paging semantics as the remote store.
func Evaluate(src RecordSource, expr Expression) (*Result, error) {
	switch e := expr.(type) {
	case FindRecord:
		r, ok := src.Record(e.Record)
		if !ok {
			return nil, fmt.Errorf("%s (%w)", e.Record.String(), ErrRecordNotFound)
		}
		return &Result{Single: true, Records: []*records.Record{r}}, nil

	case FindRecords:
		return evaluateMany(src.Records(e.Type), e.Filter, e.Sort, e.Page)

	case FindRelatedRecord:
		owner, ok := src.Record(e.Record)
		if !ok {
			return nil, fmt.Errorf("%s (%w)", e.Record.String(), ErrRecordNotFound)
		}
		result := &Result{Single: true}
		for _, ref := range owner.RelatedRefs(e.Relationship) {
			if related, ok := src.Record(ref); ok {
				result.Records = append(result.Records, related)
				break
			}
		}
		return result, nil

	case FindRelatedRecords:
		owner, ok := src.Record(e.Record)
		if !ok {
			return nil, fmt.Errorf("%s (%w)", e.Record.String(), ErrRecordNotFound)
		}
		related := []*records.Record{}
		for _, ref := range owner.RelatedRefs(e.Relationship) {
			if r, ok := src.Record(ref); ok {
				related = append(related, r)
			}
		}
		return evaluateMany(related, e.Filter, e.Sort, e.Page)
	}

	return nil, fmt.Errorf("unknown expression %T (%w)", expr, ErrParse)
}

func evaluateMany(candidates []*records.Record, filters []Filter, sorting []SortSpecifier, page *Page) (*Result, error) {
	if err := Validate(filters); err != nil {
		return nil, err
	}

	if err := validateSort(sorting); err != nil {
		return nil, err
	}

	matches, err := FilterRecords(candidates, filters)
	if err != nil {
		return nil, err
	}

	SortRecords(matches, sorting)

	matches, err = PageRecords(matches, page)
	if err != nil {
		return nil, err
	}

	return &Result{Records: matches}, nil
}

// FilterRecords returns the records that match every filter in the list
func FilterRecords(candidates []*records.Record, filters []Filter) ([]*records.Record, error) {
	result := make([]*records.Record, 0, len(candidates))

	for _, r := range candidates {
		ok, err := matchAll(r, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, r)
		}
	}

	return result, nil
}

func matchAll(r *records.Record, filters []Filter) (bool, error) {
	for _, f := range filters {
		ok, err := Match(r, f)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// Match evaluates a single filter node against a record
func Match(r *records.Record, f Filter) (bool, error) {
	switch f.Kind {
	case KindAttribute:
		v, _ := r.Attribute(f.Attribute)
		return matchAttribute(v, f)
	case KindRelatedRecord:
		return matchRelatedRecord(r, f)
	case KindRelatedRecords:
		return matchRelatedRecords(r, f)
	case KindGroup:
		return matchGroup(r, f)
	}
	return false, fmt.Errorf("unrecognized filter kind %q (%w)", f.Kind, ErrParse)
}

func matchGroup(r *records.Record, f Filter) (bool, error) {
	if len(f.Filters) == 0 {
		return true, nil
	}

	switch strings.ToUpper(f.Conjunction) {
	case And:
		return matchAll(r, f.Filters)
	case Or:
		for _, child := range f.Filters {
			ok, err := Match(r, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}

	return false, fmt.Errorf("unrecognized conjunction %q (%w)", f.Conjunction, ErrParse)
}

func matchAttribute(v any, f Filter) (bool, error) {
	switch f.Op {
	case OpEqual, OpEq:
		return anyValue(v, func(x any) bool { return textEquals(x, f.Value) }), nil
	case OpNotEqual:
		return !anyValue(v, func(x any) bool { return textEquals(x, f.Value) }), nil
	case OpStartsWith:
		return anyText(v, f.Value, strings.HasPrefix), nil
	case OpContains:
		return anyText(v, f.Value, strings.Contains), nil
	case OpEndsWith:
		return anyText(v, f.Value, strings.HasSuffix), nil
	case OpIn, OpNotIn:
		list, ok := toList(f.Value)
		if !ok {
			return false, fmt.Errorf("operator %s requires a list value (%w)", f.Op, ErrParse)
		}
		member := anyValue(v, func(x any) bool {
			for _, candidate := range list {
				if textEquals(x, candidate) {
					return true
				}
			}
			return false
		})
		return member == (f.Op == OpIn), nil
	case OpIsNull:
		return v == nil, nil
	case OpIsNotNull:
		return v != nil, nil
	case OpGT, OpGTE, OpLT, OpLTE:
		return anyValue(v, func(x any) bool {
			c, ok := compareValues(x, f.Value)
			if !ok {
				return false
			}
			switch f.Op {
			case OpGT:
				return c > 0
			case OpGTE:
				return c >= 0
			case OpLT:
				return c < 0
			}
			return c <= 0
		}), nil
	}

	return false, fmt.Errorf("unrecognized attribute operator %q (%w)", f.Op, ErrParse)
}

func anyValue(v any, pred func(any) bool) bool {
	if v == nil {
		return false
	}
	for _, x := range values(v) {
		if x != nil && pred(x) {
			return true
		}
	}
	return false
}

func anyText(v, needle any, test func(s, substr string) bool) bool {
	n, ok := toText(needle)
	if !ok {
		return false
	}
	n = fold(n)

	return anyValue(v, func(x any) bool {
		s, ok := toText(x)
		return ok && test(fold(s), n)
	})
}

func textEquals(a, b any) bool {
	as, aok := toText(a)
	bs, bok := toText(b)
	if !aok || !bok {
		return false
	}
	return fold(as) == fold(bs)
}

func containsRef(refs []records.RecordRef, ref records.RecordRef) bool {
	for _, r := range refs {
		if r.Equals(ref) {
			return true
		}
	}
	return false
}

func matchRelatedRecord(r *records.Record, f Filter) (bool, error) {
	rd, ok := r.Relationship(f.Relation)

	if ok && rd.ToMany && f.Op == OpEqual {
		return false, fmt.Errorf("relatedRecord %s against the to-many relationship %q (%w)", f.Op, f.Relation, ErrNotSupported)
	}

	var current *records.RecordRef
	if ok {
		refs := rd.Refs()
		if len(refs) > 0 {
			current = &refs[0]
		}
	}

	switch f.Op {
	case OpEqual:
		if len(f.Records) == 0 {
			return current == nil, nil
		}
		return current != nil && current.Equals(f.Records[0]), nil
	case OpIn:
		return anyRelated(rd, ok, f.Records), nil
	case OpNotIn:
		return !anyRelated(rd, ok, f.Records), nil
	}

	return false, fmt.Errorf("unrecognized relatedRecord operator %q (%w)", f.Op, ErrParse)
}

func anyRelated(rd *records.RelationshipData, ok bool, wanted []records.RecordRef) bool {
	if !ok {
		return false
	}
	for _, ref := range rd.Refs() {
		if containsRef(wanted, ref) {
			return true
		}
	}
	return false
}

func matchRelatedRecords(r *records.Record, f Filter) (bool, error) {
	related := r.RelatedRefs(f.Relation)

	switch f.Op {
	case OpEqual:
		if len(related) != len(f.Records) {
			return false, nil
		}
		for _, ref := range f.Records {
			if !containsRef(related, ref) {
				return false, nil
			}
		}
		return true, nil
	case OpAll:
		for _, ref := range f.Records {
			if !containsRef(related, ref) {
				return false, nil
			}
		}
		return true, nil
	case OpSome, OpIn:
		for _, ref := range f.Records {
			if containsRef(related, ref) {
				return true, nil
			}
		}
		return false, nil
	case OpNone, OpNotIn:
		for _, ref := range f.Records {
			if containsRef(related, ref) {
				return false, nil
			}
		}
		return true, nil
	}

	return false, fmt.Errorf("unrecognized relatedRecords operator %q (%w)", f.Op, ErrParse)
}

func validateSort(sorting []SortSpecifier) error {
	for _, s := range sorting {
		if s.Attribute == "" {
			return fmt.Errorf("sort specifier without attribute (%w)", ErrParse)
		}
		if s.Order != "" && s.Order != Ascending && s.Order != Descending {
			return fmt.Errorf("unrecognized sort order %q (%w)", s.Order, ErrParse)
		}
	}
	return nil
}

// SortRecords orders records by each sort key in turn. Records missing a key sort
// after every record that has it, regardless of direction.
func SortRecords(rs []*records.Record, sorting []SortSpecifier) {
	if len(sorting) == 0 {
		return
	}

	sort.SliceStable(rs, func(i, j int) bool {
		for _, s := range sorting {
			a, _ := rs[i].Attribute(s.Attribute)
			b, _ := rs[j].Attribute(s.Attribute)

			if a == nil && b == nil {
				continue
			}
			if a == nil {
				return false
			}
			if b == nil {
				return true
			}

			c, ok := compareValues(a, b)
			if !ok || c == 0 {
				continue
			}

			if s.Order == Descending {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func PageRecords(rs []*records.Record, page *Page) ([]*records.Record, error) {
	if page == nil {
		return rs, nil
	}

	if page.Limit <= 0 {
		return nil, fmt.Errorf("page without limit (%w)", ErrParse)
	}

	if page.Offset < 0 {
		return nil, fmt.Errorf("negative page offset (%w)", ErrParse)
	}

	if page.Offset >= len(rs) {
		return []*records.Record{}, nil
	}

	end := page.Offset + page.Limit
	if end > len(rs) {
		end = len(rs)
	}

	return rs[page.Offset:end], nil
}
