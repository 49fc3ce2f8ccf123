package wkt

import (
	"testing"

	"github.com/matryer/is"
)

const parcel1 string = "POLYGON ((0 0, 10 0, 10 10, 0 10, 0 0))"
const parcel2 string = "POLYGON ((20 0, 30 0, 30 10, 20 10, 20 0))"

func TestCombineEmpty(t *testing.T) {
	is := is.New(t)

	combined, err := Combine([]string{})
	is.NoErr(err)
	is.Equal(combined, "")

	combined, err = Combine([]string{"", "  "})
	is.NoErr(err)
	is.Equal(combined, "")
}

func TestCombineSingle(t *testing.T) {
	is := is.New(t)

	normalized, err := Normalize(parcel1)
	is.NoErr(err)

	combined, err := Combine([]string{"POLYGON((0 0,10 0,10 10,0 10,0 0))"})
	is.NoErr(err)
	is.Equal(combined, normalized)
}

func TestCombineMany(t *testing.T) {
	is := is.New(t)

	p1, _ := Normalize(parcel1)
	p2, _ := Normalize(parcel2)

	combined, err := Combine([]string{parcel1, parcel2})
	is.NoErr(err)
	is.Equal(combined, "GEOMETRYCOLLECTION ("+p1+","+p2+")")
}

func TestThatCollectionsAreFlattened(t *testing.T) {
	is := is.New(t)

	p1, _ := Normalize(parcel1)
	p2, _ := Normalize(parcel2)
	point, _ := Normalize("POINT (5 5)")

	combined, err := Combine([]string{"GEOMETRYCOLLECTION (" + parcel1 + ", POINT (5 5))", parcel2})
	is.NoErr(err)
	is.Equal(combined, "GEOMETRYCOLLECTION ("+p1+","+point+","+p2+")")
}

func TestThatInvalidGeometryIsAnError(t *testing.T) {
	is := is.New(t)

	_, err := Combine([]string{"POLYGON (("})
	is.True(err != nil)
}

func TestGeometryAttributes(t *testing.T) {
	is := is.New(t)

	is.Equal(FromAttribute(parcel1), parcel1)
	is.Equal(FromAttribute(map[string]any{"value": parcel1, "geo_type": "Polygon"}), parcel1)
	is.Equal(FromAttribute(nil), "")
	is.Equal(FromAttribute(ToAttribute(parcel2)), parcel2)
}
