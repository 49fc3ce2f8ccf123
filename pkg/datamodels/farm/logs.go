package farm

import (
	"time"

	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/field-sync/pkg/wkt"
)

// NewActivityLog creates a done activity log
func NewActivityLog(id, name string, timestamp time.Time, decorators ...records.RecordDecoratorFunc) *records.Record {
	decorators = append([]records.RecordDecoratorFunc{records.Status(StatusDone)}, decorators...)
	decorators = append(decorators, records.Name(name), records.Timestamp(timestamp))
	return records.New(ActivityLogTypeName, id, decorators...)
}

// NewMovementLog creates a done activity log that moves assets into the given locations
func NewMovementLog(id, name string, timestamp time.Time, assets, locations []records.RecordRef, decorators ...records.RecordDecoratorFunc) *records.Record {
	decorators = append(decorators, Movement(locations...), records.ToMany(AssetRelationship, assets...))
	return NewActivityLog(id, name, timestamp, decorators...)
}

// NewGroupAssignmentLog creates a done activity log that assigns assets to groups
func NewGroupAssignmentLog(id, name string, timestamp time.Time, assets, groups []records.RecordRef, decorators ...records.RecordDecoratorFunc) *records.Record {
	decorators = append(decorators,
		records.Attr(IsGroupAssignment, true),
		records.ToMany(GroupRelationship, groups...),
		records.ToMany(AssetRelationship, assets...),
	)
	return NewActivityLog(id, name, timestamp, decorators...)
}

func Movement(locations ...records.RecordRef) records.RecordDecoratorFunc {
	return func(r *records.Record) {
		r.SetAttribute(IsMovement, true)
		r.SetRelationship(LocationRelationship, records.NewToMany(locations...))
	}
}

func Pending() records.RecordDecoratorFunc {
	return records.Status(StatusPending)
}

func WithGeometry(geometry string) records.RecordDecoratorFunc {
	return records.Attr(Geometry, wkt.ToAttribute(geometry))
}

func Quantities(quantities ...records.RecordRef) records.RecordDecoratorFunc {
	return records.ToMany(QuantityRelationship, quantities...)
}
