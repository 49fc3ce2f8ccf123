package farm

import (
	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/field-sync/pkg/wkt"
)

// NewAnimal creates a new animal asset. Pass a ref carrying a $relateByName directive
// as animalType to let the type be resolved by name when it is written.
func NewAnimal(id, name string, animalType *records.RecordRef, decorators ...records.RecordDecoratorFunc) *records.Record {
	decorators = append(decorators, records.Name(name), records.Status("active"))

	if animalType != nil {
		decorators = append(decorators, records.ToOne(AnimalTypeRelationship, animalType))
	}

	return records.New(AnimalTypeName, id, decorators...)
}

// NewLand creates a fixed land asset with an intrinsic geometry
func NewLand(id, name, geometry string, decorators ...records.RecordDecoratorFunc) *records.Record {
	decorators = append(decorators, records.Name(name), records.Status("active"), Fixed(geometry))
	return records.New(LandTypeName, id, decorators...)
}

func NewGroup(id, name string, decorators ...records.RecordDecoratorFunc) *records.Record {
	decorators = append(decorators, records.Name(name), records.Status("active"))
	return records.New(GroupTypeName, id, decorators...)
}

// NewTerm creates a taxonomy term with a name, i.e. an animal type or a unit
func NewTerm(termType, id, name string) *records.Record {
	return records.New(termType, id, records.Name(name))
}

// Fixed marks an asset as having a fixed location described by geometry
func Fixed(geometry string) records.RecordDecoratorFunc {
	return func(r *records.Record) {
		r.SetAttribute(IsFixed, true)
		r.SetAttribute(IntrinsicGeometry, wkt.ToAttribute(geometry))
	}
}

// RelateByName creates a ref that is resolved against records of recordType
// with a matching name.
func RelateByName(recordType, name string) *records.RecordRef {
	return &records.RecordRef{
		Type:         recordType,
		RelateByName: &records.RelateByName{Name: name},
	}
}
