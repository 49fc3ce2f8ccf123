package farm

import (
	"github.com/diwise/field-sync/pkg/records"
)

// NewQuantity creates a standard quantity holding an exact decimal value. An
// adjustment (increment, decrement or reset) together with an inventory asset
// makes the quantity count towards that asset's inventory.
func NewQuantity(id, measure, decimal string, units *records.RecordRef, decorators ...records.RecordDecoratorFunc) *records.Record {
	decorators = append([]records.RecordDecoratorFunc{
		records.Attr(Measure, measure),
		records.Attr(Value, map[string]any{"decimal": decimal}),
		records.ToOne(UnitsRelationship, units),
	}, decorators...)

	return records.New(StandardQuantityTypeName, id, decorators...)
}

func Adjusts(asset records.RecordRef, adjustment string) records.RecordDecoratorFunc {
	return func(r *records.Record) {
		r.SetAttribute(InventoryAdjustment, adjustment)
		r.SetRelationship(InventoryAssetRelationship, records.NewToOne(&asset))
	}
}

// Fraction stores the value as numerator and denominator instead of a decimal
func Fraction(numerator, denominator int64) records.RecordDecoratorFunc {
	return records.Attr(Value, map[string]any{"numerator": numerator, "denominator": denominator})
}
