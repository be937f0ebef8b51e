package domain

import (
	"fmt"
	"slices"
)

// FeatureType selects the mapunit polygon schema served by the feature service.
type FeatureType string

const (
	MapunitPoly         FeatureType = "MapunitPoly"
	MapunitPolyExtended FeatureType = "MapunitPolyExtended"
)

// KeyField is the per-feature element holding the mapunit key.
const KeyField = "mukey"

// FeatureTypeFor returns the extended schema when extended is true.
func FeatureTypeFor(extended bool) FeatureType {
	if extended {
		return MapunitPolyExtended
	}
	return MapunitPoly
}

// ParseFeatureType accepts either schema name.
func ParseFeatureType(s string) (FeatureType, error) {
	switch FeatureType(s) {
	case MapunitPoly, MapunitPolyExtended:
		return FeatureType(s), nil
	default:
		return "", fmt.Errorf("%w: unsupported feature type %q", ErrConfiguration, s)
	}
}

// OutputFilename is the deterministic name of a tile's enriched feature file.
func OutputFilename(ft FeatureType, box BoundingBox) string {
	return fmt.Sprintf("%s_bbox_%s-attr.gml", ft, box.Label())
}

// IntermediateFilename is where the raw feature payload is spooled before the join.
func IntermediateFilename(ft FeatureType, box BoundingBox) string {
	return fmt.Sprintf("%s_bbox_%s.gml", ft, box.Label())
}

// MapunitKey identifies a soil mapunit; it joins spatial features to tabular attributes.
type MapunitKey string

// KeySet is a set of distinct mapunit keys.
type KeySet map[MapunitKey]struct{}

// Add inserts k into the set.
func (s KeySet) Add(k MapunitKey) { s[k] = struct{}{} }

// Sorted returns the keys in ascending order for deterministic batching.
func (s KeySet) Sorted() []MapunitKey {
	keys := make([]MapunitKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// ComponentAttributeRecord holds the surface-horizon properties of one soil
// component of a mapunit. Numeric columns are nil when the source has no value.
type ComponentAttributeRecord struct {
	MapunitKey       MapunitKey `json:"mukey"`
	ComponentKey     string     `json:"cokey"`
	ComponentPercent float64    `json:"comppct"` // share of the mapunit, 0-100
	Ksat             *float64   `json:"ksat,omitempty"`
	TextureClass     string     `json:"texture,omitempty"`
	PctClay          *float64   `json:"pctClay,omitempty"`
	PctSilt          *float64   `json:"pctSilt,omitempty"`
	PctSand          *float64   `json:"pctSand,omitempty"`
}

// AggregatedAttributeRecord is the component-percent weighted summary of a mapunit.
type AggregatedAttributeRecord struct {
	MapunitKey   MapunitKey `json:"mukey"`
	Ksat         *float64   `json:"ksat,omitempty"`
	PctClay      *float64   `json:"pctClay,omitempty"`
	PctSilt      *float64   `json:"pctSilt,omitempty"`
	PctSand      *float64   `json:"pctSand,omitempty"`
	TextureClass string     `json:"texture,omitempty"`
}
