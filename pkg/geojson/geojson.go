package geojson

import (
	"encoding/json"
	"fmt"

	"github.com/diwise/field-sync/pkg/records"
	"github.com/diwise/field-sync/pkg/wkt"
	"github.com/twpayne/go-geom/encoding/geojson"
)

type GeoJSONFeatureCollection struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

func NewFeatureCollection() *GeoJSONFeatureCollection {
	return &GeoJSONFeatureCollection{
		Type:     "FeatureCollection",
		Features: []GeoJSONFeature{},
	}
}

type GeoJSONFeature struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

// ConvertRecord turns a record with a WKT geometry attribute into a feature. Records
// without geometry are reported with ok set to false.
func ConvertRecord(r *records.Record, geometryAttribute string) (feature *GeoJSONFeature, ok bool, err error) {
	v, _ := r.Attribute(geometryAttribute)
	geometry := wkt.FromAttribute(v)

	if geometry == "" {
		return nil, false, nil
	}

	g, err := wkt.Parse(geometry)
	if err != nil {
		return nil, false, fmt.Errorf("record %s has an invalid geometry: %w", r.ID, err)
	}

	encoded, err := geojson.Marshal(g)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode geometry of %s: %w", r.ID, err)
	}

	feature = &GeoJSONFeature{
		ID:       r.ID,
		Type:     "Feature",
		Geometry: encoded,
		Properties: map[string]any{
			"type": r.Type,
		},
	}

	for name, value := range r.Attributes {
		if name != geometryAttribute {
			feature.Properties[name] = value
		}
	}

	return feature, true, nil
}
