package materializer

import (
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/diwise/field-sync/pkg/datamodels/farm"
)

var ErrBadQuantity = fmt.Errorf("quantity value can not be used as a decimal")

var decimalContext = apd.BaseContext.WithPrecision(34)

// Adjustment is one quantity that changes the inventory of an asset at a point in time
type Adjustment struct {
	Timestamp time.Time
	Measure   string
	Units     string
	Kind      string
	Value     *apd.Decimal
}

type InventoryItem struct {
	Measure string
	Units   string
	Value   *apd.Decimal
}

func (i InventoryItem) attribute() map[string]any {
	return map[string]any{
		"measure": i.Measure,
		"units":   i.Units,
		"value":   i.Value.Text('f'),
	}
}

// Inventory folds adjustments in ascending timestamp order into one running total
// per measure and units
func Inventory(adjustments []Adjustment) ([]InventoryItem, error) {
	sorted := slices.Clone(adjustments)
	slices.SortStableFunc(sorted, func(a, b Adjustment) int {
		return a.Timestamp.Compare(b.Timestamp)
	})

	items := []InventoryItem{}
	index := map[string]int{}

	for _, adj := range sorted {
		key := adj.Measure + "|" + adj.Units

		i, ok := index[key]
		if !ok {
			i = len(items)
			index[key] = i
			items = append(items, InventoryItem{Measure: adj.Measure, Units: adj.Units, Value: apd.New(0, 0)})
		}

		total := items[i].Value
		var err error

		switch adj.Kind {
		case farm.AdjustmentIncrement:
			_, err = decimalContext.Add(total, total, adj.Value)
		case farm.AdjustmentDecrement:
			_, err = decimalContext.Sub(total, total, adj.Value)
		case farm.AdjustmentReset:
			total.Set(adj.Value)
		default:
			err = fmt.Errorf("unknown inventory adjustment %q", adj.Kind)
		}

		if err != nil {
			return nil, err
		}
	}

	for _, item := range items {
		if _, _, err := decimalContext.Reduce(item.Value, item.Value); err != nil {
			return nil, err
		}
	}

	return items, nil
}

// Decimal reads a quantity value, either {"decimal": ...} or {"numerator": ..., "denominator": ...}
func Decimal(value any) (*apd.Decimal, error) {
	v, ok := value.(map[string]any)
	if !ok {
		return toDecimal(value)
	}

	if d, ok := v["decimal"]; ok && d != nil {
		return toDecimal(d)
	}

	num, err := toDecimal(v["numerator"])
	if err != nil {
		return nil, err
	}

	den, err := toDecimal(v["denominator"])
	if err != nil {
		return nil, err
	}

	if den.IsZero() {
		return nil, fmt.Errorf("zero denominator (%w)", ErrBadQuantity)
	}

	result := new(apd.Decimal)
	if _, err = decimalContext.Quo(result, num, den); err != nil {
		return nil, err
	}
	if _, _, err = decimalContext.Reduce(result, result); err != nil {
		return nil, err
	}
	return result, nil
}

func toDecimal(v any) (*apd.Decimal, error) {
	var s string

	switch n := v.(type) {
	case string:
		s = n
	case float64:
		s = strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return apd.New(int64(n), 0), nil
	case int64:
		return apd.New(n, 0), nil
	default:
		return nil, fmt.Errorf("%v (%w)", v, ErrBadQuantity)
	}

	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, fmt.Errorf("%s (%w)", s, ErrBadQuantity)
	}
	return d, nil
}
