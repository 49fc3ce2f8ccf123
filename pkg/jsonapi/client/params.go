package client

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/diwise/field-sync/pkg/query"
)

func param(key, value string) string {
	return url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

// NameEquals uses the short filter syntax to look up records by name
func NameEquals(name string) RequestDecoratorFunc {
	return func(params []string) []string {
		return append(params, param("filter[name]", name))
	}
}

func Sort(specs []query.SortSpecifier) RequestDecoratorFunc {
	return func(params []string) []string {
		if len(specs) == 0 {
			return params
		}

		keys := make([]string, 0, len(specs))
		for _, s := range specs {
			if s.Order == query.Descending {
				keys = append(keys, "-"+s.Attribute)
			} else {
				keys = append(keys, s.Attribute)
			}
		}

		return append(params, param("sort", strings.Join(keys, ",")))
	}
}

func Page(p *query.Page) RequestDecoratorFunc {
	return func(params []string) []string {
		if p == nil {
			return params
		}
		return append(params,
			param("page[offset]", strconv.Itoa(p.Offset)),
			param("page[limit]", strconv.Itoa(p.Limit)),
		)
	}
}

// Filters renders a filter tree as JSON:API filter parameters with the same
// meaning as the local evaluator gives it.
func Filters(filters []query.Filter) (RequestDecoratorFunc, error) {
	if err := query.Validate(filters); err != nil {
		return nil, err
	}

	b := &filterBuilder{}
	for _, f := range filters {
		if err := b.build(f, ""); err != nil {
			return nil, err
		}
	}

	return func(params []string) []string {
		return append(params, b.params...)
	}, nil
}

// ParamsFor returns the request parameters that correspond to an expression
func ParamsFor(expr query.Expression) ([]RequestDecoratorFunc, error) {
	var filters []query.Filter
	var sorting []query.SortSpecifier
	var page *query.Page

	switch e := expr.(type) {
	case query.FindRecords:
		filters, sorting, page = e.Filter, e.Sort, e.Page
	case query.FindRelatedRecords:
		filters, sorting, page = e.Filter, e.Sort, e.Page
	default:
		return nil, nil
	}

	if page != nil && page.Limit <= 0 {
		return nil, fmt.Errorf("page without limit (%w)", query.ErrParse)
	}

	f, err := Filters(filters)
	if err != nil {
		return nil, err
	}

	return []RequestDecoratorFunc{f, Sort(sorting), Page(page)}, nil
}

type filterBuilder struct {
	params []string
	count  int
}

func (b *filterBuilder) name(prefix string) string {
	b.count++
	return fmt.Sprintf("%s%d", prefix, b.count)
}

func (b *filterBuilder) condition(path, operator string, values []string, memberOf string) {
	name := b.name("c")
	key := "filter[" + name + "][condition]"

	b.params = append(b.params, param(key+"[path]", path), param(key+"[operator]", operator))

	switch operator {
	case query.OpIsNull, query.OpIsNotNull:
	case query.OpIn, query.OpNotIn:
		for _, v := range values {
			b.params = append(b.params, param(key+"[value][]", v))
		}
	default:
		if len(values) > 0 {
			b.params = append(b.params, param(key+"[value]", values[0]))
		}
	}

	if memberOf != "" {
		b.params = append(b.params, param(key+"[memberOf]", memberOf))
	}
}

func (b *filterBuilder) group(conjunction, memberOf string) string {
	name := b.name("g")
	key := "filter[" + name + "][group]"

	b.params = append(b.params, param(key+"[conjunction]", conjunction))
	if memberOf != "" {
		b.params = append(b.params, param(key+"[memberOf]", memberOf))
	}

	return name
}

func (b *filterBuilder) build(f query.Filter, memberOf string) error {
	switch f.Kind {
	case query.KindAttribute:
		return b.attribute(f, memberOf)
	case query.KindRelatedRecord:
		return b.relatedRecord(f, memberOf)
	case query.KindRelatedRecords:
		return b.relatedRecords(f, memberOf)
	case query.KindGroup:
		if len(f.Filters) == 0 {
			return nil
		}
		g := b.group(strings.ToUpper(f.Conjunction), memberOf)
		for _, child := range f.Filters {
			if err := b.build(child, g); err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("unrecognized filter kind %q (%w)", f.Kind, query.ErrParse)
}

func (b *filterBuilder) attribute(f query.Filter, memberOf string) error {
	operator := f.Op
	if operator == query.OpEqual {
		operator = query.OpEq
	}

	switch operator {
	case query.OpIn, query.OpNotIn:
		values := []string{}
		switch list := f.Value.(type) {
		case []any:
			for _, v := range list {
				values = append(values, paramValue(v))
			}
		case []string:
			values = append(values, list...)
		case []int:
			for _, v := range list {
				values = append(values, strconv.Itoa(v))
			}
		case []float64:
			for _, v := range list {
				values = append(values, paramValue(v))
			}
		default:
			return fmt.Errorf("operator %s requires a list value (%w)", f.Op, query.ErrParse)
		}
		b.condition(f.Attribute, operator, values, memberOf)
	case query.OpIsNull, query.OpIsNotNull:
		b.condition(f.Attribute, operator, nil, memberOf)
	default:
		b.condition(f.Attribute, operator, []string{paramValue(f.Value)}, memberOf)
	}

	return nil
}

func (b *filterBuilder) relatedRecord(f query.Filter, memberOf string) error {
	path := f.Relation + ".id"

	switch f.Op {
	case query.OpEqual:
		if len(f.Records) == 0 {
			b.condition(path, query.OpIsNull, nil, memberOf)
			return nil
		}
		b.condition(path, query.OpEq, []string{f.Records[0].ID}, memberOf)
	case query.OpIn, query.OpNotIn:
		b.condition(path, f.Op, refIDs(f), memberOf)
	default:
		return fmt.Errorf("unrecognized relatedRecord operator %q (%w)", f.Op, query.ErrParse)
	}

	return nil
}

func (b *filterBuilder) relatedRecords(f query.Filter, memberOf string) error {
	path := f.Relation + ".id"

	switch f.Op {
	case query.OpSome, query.OpIn:
		b.condition(path, query.OpIn, refIDs(f), memberOf)
	case query.OpNone, query.OpNotIn:
		b.condition(path, query.OpNotIn, refIDs(f), memberOf)
	case query.OpAll:
		if len(f.Records) > 1 {
			return fmt.Errorf("relatedRecords all with more than one record (%w)", query.ErrNotSupported)
		}
		if len(f.Records) == 1 {
			b.condition(path, query.OpEq, []string{f.Records[0].ID}, memberOf)
		}
	case query.OpEqual:
		return fmt.Errorf("relatedRecords set equality (%w)", query.ErrNotSupported)
	default:
		return fmt.Errorf("unrecognized relatedRecords operator %q (%w)", f.Op, query.ErrParse)
	}

	return nil
}

func refIDs(f query.Filter) []string {
	ids := make([]string, 0, len(f.Records))
	for _, r := range f.Records {
		ids = append(ids, r.ID)
	}
	return ids
}

func paramValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "1"
		}
		return "0"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	}
	return fmt.Sprintf("%v", v)
}
