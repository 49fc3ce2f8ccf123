package query

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/diwise/field-sync/pkg/records"
	"github.com/matryer/is"
)

type testSource struct {
	records []*records.Record
}

func (s testSource) Record(ref records.RecordRef) (*records.Record, bool) {
	for _, r := range s.records {
		if r.Ref().Equals(ref) {
			return r, true
		}
	}
	return nil, false
}

func (s testSource) Records(recordType string) []*records.Record {
	result := []*records.Record{}
	for _, r := range s.records {
		if r.Type == recordType {
			result = append(result, r)
		}
	}
	return result
}

var sheep = records.Ref("taxonomy_term--animal_type", "sheep")
var cow = records.Ref("taxonomy_term--animal_type", "cow")
var north = records.Ref("asset--land", "north")
var south = records.Ref("asset--land", "south")

func testAnimals() testSource {
	return testSource{records: []*records.Record{
		records.New("asset--animal", "1",
			records.Name("Dolly"),
			records.Attr("birthdate", "2021-03-01T00:00:00+00:00"),
			records.Attr("id_tag", []any{"SE-100", "rfid-7"}),
			records.ToOne("animal_type", &sheep),
			records.ToMany("location", north, south),
		),
		records.New("asset--animal", "2",
			records.Name("Bessie"),
			records.Attr("birthdate", "2019-06-15T00:00:00+00:00"),
			records.ToOne("animal_type", &cow),
			records.ToMany("location", north),
		),
		records.New("asset--animal", "3",
			records.Name("shaun"),
			records.ToOne("animal_type", &sheep),
			records.ToMany("location"),
		),
		records.New("asset--land", "north", records.Name("North field")),
	}}
}

func ids(rs []*records.Record) []string {
	result := make([]string, 0, len(rs))
	for _, r := range rs {
		result = append(result, r.ID)
	}
	return result
}

func findIDs(t *testing.T, filters ...Filter) []string {
	result, err := Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Filter: filters})
	if err != nil {
		t.Fatalf("evaluation failed: %s", err.Error())
	}
	return ids(result.Records)
}

func TestAttributeFilters(t *testing.T) {
	is := is.New(t)

	is.Equal(findIDs(t, Attribute("name", OpContains, "oll")), []string{"1"})
	is.Equal(findIDs(t, Attribute("name", OpContains, "zz")), []string{})
	is.Equal(findIDs(t, Attribute("name", OpEqual, "DOLLY")), []string{"1"})
	is.Equal(findIDs(t, Attribute("name", OpNotEqual, "dolly")), []string{"2", "3"})
	is.Equal(findIDs(t, Attribute("name", OpStartsWith, "SH")), []string{"3"})
	is.Equal(findIDs(t, Attribute("name", OpEndsWith, "SIE")), []string{"2"})
	is.Equal(findIDs(t, Attribute("name", OpIn, []any{"bessie", "Shaun"})), []string{"2", "3"})
	is.Equal(findIDs(t, Attribute("name", OpNotIn, []string{"bessie"})), []string{"1", "3"})
	is.Equal(findIDs(t, Attribute("birthdate", OpIsNull, nil)), []string{"3"})
	is.Equal(findIDs(t, Attribute("birthdate", OpIsNotNull, nil)), []string{"1", "2"})
}

func TestThatMultiValuedAttributesMatchAnyElement(t *testing.T) {
	is := is.New(t)

	is.Equal(findIDs(t, Attribute("id_tag", OpEqual, "rfid-7")), []string{"1"})
	is.Equal(findIDs(t, Attribute("id_tag", OpStartsWith, "se-")), []string{"1"})
}

func TestThatDateTimesCompareAgainstEpochSeconds(t *testing.T) {
	is := is.New(t)

	jan2020 := 1577836800

	is.Equal(findIDs(t, Attribute("birthdate", OpGT, jan2020)), []string{"1"})
	is.Equal(findIDs(t, Attribute("birthdate", OpLTE, jan2020)), []string{"2"})
	is.Equal(findIDs(t, Attribute("birthdate", OpGTE, "2019-06-15T00:00:00+00:00")), []string{"1", "2"})
}

func TestRelatedRecordFilters(t *testing.T) {
	is := is.New(t)

	is.Equal(findIDs(t, RelatedRecord("animal_type", OpEqual, sheep)), []string{"1", "3"})
	is.Equal(findIDs(t, RelatedRecord("animal_type", OpIn, cow, records.Ref("taxonomy_term--animal_type", "goat"))), []string{"2"})
	is.Equal(findIDs(t, RelatedRecord("animal_type", OpNotIn, cow)), []string{"1", "3"})
}

func TestRelatedRecordsFilters(t *testing.T) {
	is := is.New(t)

	is.Equal(findIDs(t, RelatedRecords("location", OpEqual, south, north)), []string{"1"})
	is.Equal(findIDs(t, RelatedRecords("location", OpAll, north)), []string{"1", "2"})
	is.Equal(findIDs(t, RelatedRecords("location", OpSome, south)), []string{"1"})
	is.Equal(findIDs(t, RelatedRecords("location", OpNone, north)), []string{"3"})
	is.Equal(findIDs(t, RelatedRecords("location", OpEqual)), []string{"3"})
}

func TestThatRelatedRecordEqualityOnToManyIsNotSupported(t *testing.T) {
	is := is.New(t)

	_, err := Evaluate(testAnimals(), FindRecords{
		Type:   "asset--animal",
		Filter: []Filter{RelatedRecord("location", OpEqual, north)},
	})

	is.True(errors.Is(err, ErrNotSupported))
}

func TestGroupFilters(t *testing.T) {
	is := is.New(t)

	is.Equal(findIDs(t, AnyOf(
		Attribute("name", OpEqual, "dolly"),
		Attribute("name", OpEqual, "bessie"),
	)), []string{"1", "2"})

	is.Equal(findIDs(t, AllOf(
		RelatedRecord("animal_type", OpEqual, sheep),
		Attribute("name", OpContains, "aun"),
	)), []string{"3"})

	is.Equal(findIDs(t, AnyOf()), []string{"1", "2", "3"}) // an empty group is vacuously true
}

func TestThatUnknownOperatorsAreParseErrors(t *testing.T) {
	is := is.New(t)

	_, err := Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Filter: []Filter{Attribute("name", "LIKE", "d%")}})
	is.True(errors.Is(err, ErrParse))

	_, err = Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Filter: []Filter{{Kind: "geo"}}})
	is.True(errors.Is(err, ErrParse))

	_, err = Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Filter: []Filter{{Kind: KindGroup, Conjunction: "XOR"}}})
	is.True(errors.Is(err, ErrParse))
}

func TestThatMissingSortKeysSortLast(t *testing.T) {
	is := is.New(t)

	asc, err := Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Sort: []SortSpecifier{{Attribute: "birthdate"}}})
	is.NoErr(err)
	is.Equal(ids(asc.Records), []string{"2", "1", "3"})

	desc, err := Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Sort: []SortSpecifier{{Attribute: "birthdate", Order: Descending}}})
	is.NoErr(err)
	is.Equal(ids(desc.Records), []string{"1", "2", "3"})
}

func TestPaging(t *testing.T) {
	is := is.New(t)

	sorting := []SortSpecifier{{Attribute: "name"}}

	result, err := Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Sort: sorting, Page: &Page{Offset: 1, Limit: 1}})
	is.NoErr(err)
	is.Equal(ids(result.Records), []string{"1"})

	result, err = Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Page: &Page{Offset: 10, Limit: 5}})
	is.NoErr(err)
	is.Equal(len(result.Records), 0)

	_, err = Evaluate(testAnimals(), FindRecords{Type: "asset--animal", Page: &Page{Offset: 1}})
	is.True(errors.Is(err, ErrParse)) // a page without limit is an error
}

func TestFindRecordAndRelated(t *testing.T) {
	is := is.New(t)

	dolly := records.Ref("asset--animal", "1")

	result, err := Evaluate(testAnimals(), FindRecord{Record: dolly})
	is.NoErr(err)
	is.True(result.Single)
	is.Equal(result.Record().Name(), "Dolly")

	_, err = Evaluate(testAnimals(), FindRecord{Record: records.Ref("asset--animal", "404")})
	is.True(errors.Is(err, ErrRecordNotFound))

	related, err := Evaluate(testAnimals(), FindRelatedRecords{Record: dolly, Relationship: "location"})
	is.NoErr(err)
	is.Equal(ids(related.Records), []string{"north"}) // south is not in the mirror
}

func TestQueryEnvelopeRoundTrip(t *testing.T) {
	is := is.New(t)

	q := New(FindRecords{
		Type:   "asset--animal",
		Filter: []Filter{Attribute("name", OpContains, "oll")},
		Sort:   []SortSpecifier{{Attribute: "name", Order: Descending}},
		Page:   &Page{Limit: 10},
	}, ForceRemote())

	b, err := json.Marshal(q)
	is.NoErr(err)

	back := &Query{}
	is.NoErr(json.Unmarshal(b, back))

	is.Equal(back.ID, q.ID)
	is.True(back.Options.ForceRemote)

	fr, ok := back.Expression.(FindRecords)
	is.True(ok) // expression should be FindRecords
	is.Equal(fr.Filter[0].Op, OpContains)
	is.Equal(fr.Page.Limit, 10)
}

func TestMergeOrdersByWeight(t *testing.T) {
	is := is.New(t)

	r := func(id string) *records.Record { return records.New("asset--animal", id) }

	merged := Merge(
		Hits(Hit{r("a"), 0}, Hit{r("c"), 2}),
		Hits(),
		Hits(Hit{r("b"), 1}, Hit{r("d"), 2}, Hit{r("e"), 5}),
	)

	hits := Collect(merged, 0)
	order := []string{}
	for _, h := range hits {
		order = append(order, h.Record.ID)
	}

	is.Equal(order, []string{"a", "b", "c", "d", "e"})
}
