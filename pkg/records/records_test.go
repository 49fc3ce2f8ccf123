package records

import (
	"encoding/json"
	"testing"

	"github.com/matryer/is"
)

func TestThatRelationshipDataMarshalsToOneAndToMany(t *testing.T) {
	is := is.New(t)

	parcel := Ref("asset--land", "p1")
	r := New("asset--animal", "dolly",
		Name("Dolly"),
		ToOne("owner", nil),
		ToMany("location", parcel),
	)

	b, err := json.Marshal(r)
	is.NoErr(err)

	back := &Record{}
	is.NoErr(json.Unmarshal(b, back))

	owner, ok := back.Relationship("owner")
	is.True(ok)            // owner relationship should survive a round trip
	is.True(!owner.ToMany) // owner should be to-one
	is.True(owner.One == nil)

	is.True(back.RelatesTo("location", parcel))
	is.Equal(back.Name(), "Dolly")
}

func TestThatDirectivesAreKeptOnRefs(t *testing.T) {
	is := is.New(t)

	body := `{"data":[{"type":"taxonomy_term--animal_type","id":"","$relateByName":{"name":"Sheep"}}]}`

	rd := &RelationshipData{}
	is.NoErr(json.Unmarshal([]byte(body), rd))

	is.True(rd.ToMany)
	is.Equal(len(rd.Many), 1)
	is.Equal(rd.Many[0].RelateByName.Name, "Sheep")
	is.True(rd.Many[0].HasDirective())
	is.True(!rd.Many[0].Identity().HasDirective())
}

func TestOperationsRoundTripKeepsConcreteTypes(t *testing.T) {
	is := is.New(t)

	target := Ref("asset--animal", "dolly")
	parcel := Ref("asset--land", "p1")

	ops := Operations{
		AddRecord{Record: New("asset--animal", "dolly", Name("Dolly"))},
		ReplaceAttribute{Record: target, Attribute: "name", Value: "Dolly II"},
		AddToRelatedRecords{Record: target, Relationship: "location", RelatedRecord: parcel},
		ReplaceRelatedRecord{Record: target, Relationship: "owner"},
		ReplaceRelatedRecords{Record: target, Relationship: "location"},
		RemoveRecord{Record: target},
	}

	b, err := json.Marshal(ops)
	is.NoErr(err)

	var back Operations
	is.NoErr(json.Unmarshal(b, &back))
	is.Equal(len(back), len(ops))

	for i := range ops {
		is.Equal(OpName(back[i]), OpName(ops[i]))
		is.Equal(back[i].Target(), ops[i].Target())
	}

	add, ok := back[0].(AddRecord)
	is.True(ok) // first operation should be an AddRecord
	is.Equal(add.Record.Name(), "Dolly")

	rel := back[2].(AddToRelatedRecords)
	is.Equal(rel.RelatedRecord, parcel)
}

func TestThatUnknownOperationFailsToUnmarshal(t *testing.T) {
	is := is.New(t)

	var ops Operations
	err := json.Unmarshal([]byte(`[{"op":"mergeRecord","record":{"type":"a--b","id":"1"}}]`), &ops)
	is.True(err != nil) // unknown op names must be rejected
}

func TestMapRefsRewritesRelatedRecordsOnly(t *testing.T) {
	is := is.New(t)

	placeholder := Ref("taxonomy_term--animal_type", "local-1")
	canonical := Ref("taxonomy_term--animal_type", "server-1")

	rewrite := func(ref RecordRef) RecordRef {
		if ref.Equals(placeholder) {
			return canonical
		}
		return ref
	}

	animal := New("asset--animal", "dolly", ToOne("animal_type", &placeholder))
	op := MapRefs(AddRecord{Record: animal}, rewrite)

	mapped := op.(AddRecord).Record
	is.True(mapped.RelatesTo("animal_type", canonical))
	is.True(animal.RelatesTo("animal_type", placeholder)) // the original record must not be modified

	op = MapRefs(ReplaceRelatedRecords{Record: animal.Ref(), Relationship: "parent", RelatedRecords: []RecordRef{placeholder}}, rewrite)
	is.Equal(op.(ReplaceRelatedRecords).RelatedRecords[0], canonical)
}

func TestTypeHelpers(t *testing.T) {
	is := is.New(t)

	is.Equal(EntityKind("asset--animal"), "asset")
	is.Equal(Bundle("asset--animal"), "animal")
	is.True(IsLog("log--activity"))
	is.True(!IsAsset("taxonomy_term--unit"))
}
