package domain

import (
	"cmp"
	"slices"
)

// Aggregate reduces each mapunit's component records to one record whose
// numeric fields are component-percent weighted means:
//
//	sum(value * comppct) / sum(comppct)
//
// Only components with a value for a field contribute to that field's mean.
// Mapunits whose components carry no positive percentage (including mapunits
// with no components) are omitted. Texture, being categorical, is taken from
// the highest-percent component that reports one.
//
// The result does not depend on the order of the input records.
func Aggregate(records map[MapunitKey][]ComponentAttributeRecord) map[MapunitKey]AggregatedAttributeRecord {
	out := make(map[MapunitKey]AggregatedAttributeRecord, len(records))
	for key, comps := range records {
		if agg, ok := aggregateMapunit(key, comps); ok {
			out[key] = agg
		}
	}
	return out
}

func aggregateMapunit(key MapunitKey, comps []ComponentAttributeRecord) (AggregatedAttributeRecord, bool) {
	// Summing in a canonical order keeps float results identical across permutations.
	sorted := slices.Clone(comps)
	slices.SortFunc(sorted, compareComponents)

	total := 0.0
	for _, c := range sorted {
		if c.ComponentPercent > 0 {
			total += c.ComponentPercent
		}
	}
	if total == 0 {
		return AggregatedAttributeRecord{}, false
	}

	return AggregatedAttributeRecord{
		MapunitKey:   key,
		Ksat:         weightedMean(sorted, func(c ComponentAttributeRecord) *float64 { return c.Ksat }),
		PctClay:      weightedMean(sorted, func(c ComponentAttributeRecord) *float64 { return c.PctClay }),
		PctSilt:      weightedMean(sorted, func(c ComponentAttributeRecord) *float64 { return c.PctSilt }),
		PctSand:      weightedMean(sorted, func(c ComponentAttributeRecord) *float64 { return c.PctSand }),
		TextureClass: dominantTexture(sorted),
	}, true
}

func weightedMean(comps []ComponentAttributeRecord, field func(ComponentAttributeRecord) *float64) *float64 {
	var sum, weight float64
	for _, c := range comps {
		v := field(c)
		if v == nil || c.ComponentPercent <= 0 {
			continue
		}
		sum += *v * c.ComponentPercent
		weight += c.ComponentPercent
	}
	if weight == 0 {
		return nil
	}
	mean := sum / weight
	return &mean
}

// dominantTexture expects comps sorted by compareComponents; ties on percent
// go to the lowest component key.
func dominantTexture(comps []ComponentAttributeRecord) string {
	texture := ""
	best := 0.0
	for _, c := range comps {
		if c.TextureClass == "" || c.ComponentPercent <= 0 {
			continue
		}
		if texture == "" || c.ComponentPercent > best {
			texture = c.TextureClass
			best = c.ComponentPercent
		}
	}
	return texture
}

func compareComponents(a, b ComponentAttributeRecord) int {
	return cmp.Or(
		cmp.Compare(a.ComponentKey, b.ComponentKey),
		cmp.Compare(a.ComponentPercent, b.ComponentPercent),
		cmp.Compare(a.TextureClass, b.TextureClass),
		compareOptional(a.Ksat, b.Ksat),
		compareOptional(a.PctClay, b.PctClay),
		compareOptional(a.PctSilt, b.PctSilt),
		compareOptional(a.PctSand, b.PctSand),
	)
}

func compareOptional(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return cmp.Compare(*a, *b)
	}
}
