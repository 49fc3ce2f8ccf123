package wkt

import (
	"fmt"
	"strings"

	geom "github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// Combine merges a list of WKT geometries into one. No input gives an empty
// string, a single geometry is returned normalized and several geometries are
// flattened into one GEOMETRYCOLLECTION.
func Combine(geometries []string) (string, error) {
	flat := []geom.T{}

	for _, g := range geometries {
		if strings.TrimSpace(g) == "" {
			continue
		}

		parsed, err := wkt.Unmarshal(g)
		if err != nil {
			return "", fmt.Errorf("failed to parse geometry %q: %w", g, err)
		}

		flat = append(flat, flatten(parsed)...)
	}

	if len(flat) == 0 {
		return "", nil
	}

	encoded := make([]string, 0, len(flat))
	for _, g := range flat {
		s, err := wkt.Marshal(g)
		if err != nil {
			return "", fmt.Errorf("failed to encode geometry: %w", err)
		}
		encoded = append(encoded, s)
	}

	if len(encoded) == 1 {
		return encoded[0], nil
	}

	return "GEOMETRYCOLLECTION (" + strings.Join(encoded, ",") + ")", nil
}

// Normalize parses and re-encodes a single geometry
func Normalize(geometry string) (string, error) {
	return Combine([]string{geometry})
}

func flatten(g geom.T) []geom.T {
	gc, ok := g.(*geom.GeometryCollection)
	if !ok {
		return []geom.T{g}
	}

	result := []geom.T{}
	for _, child := range gc.Geoms() {
		result = append(result, flatten(child)...)
	}
	return result
}

// FromAttribute extracts WKT from a geometry attribute. Both plain strings and
// the {"value": "..."} field shape are accepted.
func FromAttribute(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		if s, ok := t["value"].(string); ok {
			return s
		}
	}
	return ""
}

// ToAttribute wraps WKT in the geometry field shape used by the remote store
func ToAttribute(geometry string) any {
	if geometry == "" {
		return nil
	}
	return map[string]any{"value": geometry}
}

// Parse returns the geometry encoded by a WKT string
func Parse(geometry string) (geom.T, error) {
	return wkt.Unmarshal(geometry)
}
