package cache

import (
	"errors"
	"testing"

	"github.com/diwise/field-sync/pkg/records"
	"github.com/matryer/is"
)

var sheep = records.Ref("taxonomy_term--animal_type", "sheep")
var parcel = records.Ref("asset--land", "p1")

func TestApplyOperations(t *testing.T) {
	is := is.New(t)
	c := New()

	dolly := records.New("asset--animal", "dolly", records.Name("Dolly"), records.ToOne("animal_type", &sheep))

	results, err := c.Apply(records.NewTransform([]records.Operation{
		records.AddRecord{Record: dolly},
		records.ReplaceAttribute{Record: dolly.Ref(), Attribute: "status", Value: "active"},
		records.AddToRelatedRecords{Record: dolly.Ref(), Relationship: "location", RelatedRecord: parcel},
		records.AddToRelatedRecords{Record: dolly.Ref(), Relationship: "location", RelatedRecord: parcel},
	}))
	is.NoErr(err)
	is.Equal(len(results), 4)

	r, ok := c.Record(dolly.Ref())
	is.True(ok)
	is.Equal(r.StringAttribute("status"), "active")
	is.Equal(len(r.RelatedRefs("location")), 1) // adding the same ref twice should be idempotent

	_, err = c.Apply(records.NewTransform([]records.Operation{
		records.RemoveFromRelatedRecords{Record: dolly.Ref(), Relationship: "location", RelatedRecord: parcel},
		records.ReplaceRelatedRecord{Record: dolly.Ref(), Relationship: "animal_type", RelatedRecord: nil},
		records.UpdateRecord{Record: records.New("asset--animal", "dolly", records.Attr("birthdate", "2020-01-01"))},
	}))
	is.NoErr(err)

	r, _ = c.Record(dolly.Ref())
	is.Equal(len(r.RelatedRefs("location")), 0)
	is.Equal(len(r.RelatedRefs("animal_type")), 0)
	is.Equal(r.Name(), "Dolly") // update merges into the existing record
	is.Equal(r.StringAttribute("birthdate"), "2020-01-01")

	_, err = c.Apply(records.NewTransform([]records.Operation{records.RemoveRecord{Record: dolly.Ref()}}))
	is.NoErr(err)
	is.True(!c.Contains(dolly.Ref()))
}

func TestThatRecordsAreCopied(t *testing.T) {
	is := is.New(t)
	c := New()

	_, err := c.Apply(records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.Name("Dolly"), records.ToMany("location", parcel))},
	}))
	is.NoErr(err)

	r, _ := c.Record(records.Ref("asset--animal", "dolly"))
	r.SetAttribute("name", "Molly")
	r.Relationships["location"].Many[0].ID = "p2"

	again, _ := c.Record(records.Ref("asset--animal", "dolly"))
	is.Equal(again.Name(), "Dolly")
	is.Equal(again.RelatedRefs("location")[0].ID, "p1")
}

func TestThatLoggedTransformsAreNotReapplied(t *testing.T) {
	is := is.New(t)
	c := New()

	add := records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.Name("Dolly"))},
	})

	_, err := c.Apply(add)
	is.NoErr(err)

	_, err = c.Apply(records.NewTransform([]records.Operation{
		records.ReplaceAttribute{Record: records.Ref("asset--animal", "dolly"), Attribute: "name", Value: "Molly"},
	}))
	is.NoErr(err)

	results, err := c.Apply(add)
	is.NoErr(err)
	is.Equal(results[0].Name(), "Molly") // reapplying returns the current state

	r, _ := c.Record(records.Ref("asset--animal", "dolly"))
	is.Equal(r.Name(), "Molly")
}

func TestRollback(t *testing.T) {
	is := is.New(t)
	c := New()

	first := records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.Name("Dolly"))},
	})
	second := records.NewTransform([]records.Operation{
		records.ReplaceAttribute{Record: records.Ref("asset--animal", "dolly"), Attribute: "name", Value: "Molly"},
		records.AddRecord{Record: records.New("asset--animal", "bessie", records.Name("Bessie"))},
	})
	third := records.NewTransform([]records.Operation{
		records.ReplaceAttribute{Record: records.Ref("asset--animal", "dolly"), Attribute: "status", Value: "archived"},
	})

	for _, tr := range []*records.Transform{first, second, third} {
		_, err := c.Apply(tr)
		is.NoErr(err)
	}

	reverted, touched, err := c.Rollback(second.ID)
	is.NoErr(err)
	is.Equal(reverted, []string{third.ID, second.ID})
	is.Equal(len(touched), 2)

	dolly, _ := c.Record(records.Ref("asset--animal", "dolly"))
	is.Equal(dolly.Name(), "Dolly")
	is.Equal(dolly.StringAttribute("status"), "")
	is.True(!c.Contains(records.Ref("asset--animal", "bessie")))
	is.True(c.IsLogged(first.ID))
	is.True(!c.IsLogged(second.ID))

	_, _, err = c.Rollback(second.ID)
	is.True(errors.Is(err, ErrNotLogged))
}

func TestRollbackKeepingAcceptedOperations(t *testing.T) {
	is := is.New(t)
	c := New()

	both := records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.Name("Dolly"))},
		records.AddRecord{Record: records.New("asset--animal", "bessie", records.Name("Bessie"))},
	})
	_, err := c.Apply(both)
	is.NoErr(err)

	reverted, touched, err := c.RollbackKeeping(both.ID, 1)
	is.NoErr(err)
	is.Equal(reverted, []string{both.ID})
	is.Equal(touched, []records.RecordRef{records.Ref("asset--animal", "bessie")})

	is.True(c.Contains(records.Ref("asset--animal", "dolly"))) // accepted operations are kept
	is.True(!c.Contains(records.Ref("asset--animal", "bessie")))
	is.True(c.IsLogged(both.ID))

	_, _, err = c.Rollback(both.ID)
	is.NoErr(err)
	is.True(!c.Contains(records.Ref("asset--animal", "dolly")))
}

func TestReferencing(t *testing.T) {
	is := is.New(t)
	c := New()

	placeholder := records.Ref("taxonomy_term--animal_type", "tmp")

	_, err := c.Apply(records.NewTransform([]records.Operation{
		records.AddRecord{Record: records.New("asset--animal", "dolly", records.ToOne("animal_type", &placeholder))},
		records.AddRecord{Record: records.New("asset--animal", "bessie", records.ToOne("animal_type", &sheep))},
	}))
	is.NoErr(err)

	refs := c.Referencing(placeholder)
	is.Equal(len(refs), 1)
	is.Equal(refs[0].ID, "dolly")
	is.Equal(c.Types(), []string{"asset--animal"})
}
