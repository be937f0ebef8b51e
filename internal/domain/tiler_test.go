package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const utm17N = "EPSG:26917"

func TestTileBoundingBox(t *testing.T) {
	t.Run("box within the limit is a single tile", func(t *testing.T) {
		box := BoundingBox{MinX: -76.634, MinY: 39.316, MaxX: -76.624, MaxY: 39.324, SRS: "EPSG:4326"}
		tiles, err := TileBoundingBox(box, 1e9)

		require.NoError(t, err)
		require.Len(t, tiles, 1)
		assert.Equal(t, box, tiles[0].BoundingBox)
	})

	t.Run("area equal to the limit is not split", func(t *testing.T) {
		box := BoundingBox{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000, SRS: utm17N}
		tiles, err := TileBoundingBox(box, 1e6)

		require.NoError(t, err)
		assert.Len(t, tiles, 1)
	})

	t.Run("projected square splits into a 2x2 grid", func(t *testing.T) {
		box := BoundingBox{MinX: 0, MinY: 0, MaxX: 2000, MaxY: 2000, SRS: utm17N}
		tiles, err := TileBoundingBox(box, 1e6)

		require.NoError(t, err)
		want := []Tile{
			{BoundingBox: BoundingBox{MinX: 0, MinY: 0, MaxX: 1000, MaxY: 1000, SRS: utm17N}, Row: 0, Col: 0},
			{BoundingBox: BoundingBox{MinX: 1000, MinY: 0, MaxX: 2000, MaxY: 1000, SRS: utm17N}, Row: 0, Col: 1},
			{BoundingBox: BoundingBox{MinX: 0, MinY: 1000, MaxX: 1000, MaxY: 2000, SRS: utm17N}, Row: 1, Col: 0},
			{BoundingBox: BoundingBox{MinX: 1000, MinY: 1000, MaxX: 2000, MaxY: 2000, SRS: utm17N}, Row: 1, Col: 1},
		}
		assert.Equal(t, want, tiles)
	})

	t.Run("elongated box follows its aspect ratio", func(t *testing.T) {
		box := BoundingBox{MinX: 0, MinY: 0, MaxX: 8000, MaxY: 1000, SRS: utm17N}
		tiles, err := TileBoundingBox(box, 1e6)

		require.NoError(t, err)
		require.Len(t, tiles, 8)
		for _, tile := range tiles {
			assert.Zero(t, tile.Row)
		}
	})

	t.Run("geographic box covers the request without overlap", func(t *testing.T) {
		box := BoundingBox{MinX: -100, MinY: 30, MaxX: -50, MaxY: 60, SRS: "EPSG:4326"}
		maxArea := 1e12
		tiles, err := TileBoundingBox(box, maxArea)

		require.NoError(t, err)
		require.Greater(t, len(tiles), 1)

		sum := 0.0
		for _, tile := range tiles {
			area := tile.Area()
			assert.LessOrEqual(t, area, maxArea)
			assert.Equal(t, box.SRS, tile.SRS)
			sum += area
		}
		assert.InEpsilon(t, box.Area(), sum, 1e-9)

		for i := range tiles {
			for j := i + 1; j < len(tiles); j++ {
				assert.Zero(t, overlapArea(tiles[i].BoundingBox, tiles[j].BoundingBox),
					"tiles %d and %d overlap", i, j)
			}
		}
	})

	t.Run("outer edges match the request exactly", func(t *testing.T) {
		box := BoundingBox{MinX: -98.1, MinY: 29.7, MaxX: -97.3, MaxY: 30.9, SRS: "EPSG:4326"}
		tiles, err := TileBoundingBox(box, 1e9)

		require.NoError(t, err)
		last := tiles[len(tiles)-1]
		assert.Equal(t, box.MinX, tiles[0].MinX)
		assert.Equal(t, box.MinY, tiles[0].MinY)
		assert.Equal(t, box.MaxX, last.MaxX)
		assert.Equal(t, box.MaxY, last.MaxY)
	})

	t.Run("rejects non-positive limit", func(t *testing.T) {
		box := BoundingBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1, SRS: utm17N}
		for _, maxArea := range []float64{0, -1, math.NaN(), math.Inf(1)} {
			_, err := TileBoundingBox(box, maxArea)
			assert.ErrorIs(t, err, ErrConfiguration, "maxArea %v", maxArea)
		}
	})

	t.Run("rejects invalid box", func(t *testing.T) {
		_, err := TileBoundingBox(BoundingBox{MinX: 1, MinY: 0, MaxX: 1, MaxY: 1, SRS: utm17N}, 1e6)
		assert.ErrorIs(t, err, ErrInvalidBoundingBox)
	})
}

func TestPlan(t *testing.T) {
	large := BoundingBox{MinX: -100, MinY: 30, MaxX: -50, MaxY: 60, SRS: "EPSG:4326"}

	t.Run("untiled request above the limit", func(t *testing.T) {
		_, err := Plan(large, 1e9, false)
		assert.ErrorIs(t, err, ErrExtentTooLarge)
	})

	t.Run("untiled request within the limit", func(t *testing.T) {
		small := BoundingBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10, SRS: utm17N}
		tiles, err := Plan(small, 1e9, false)

		require.NoError(t, err)
		assert.Equal(t, []Tile{{BoundingBox: small}}, tiles)
	})

	t.Run("tiled request above the limit", func(t *testing.T) {
		tiles, err := Plan(large, 1e12, true)

		require.NoError(t, err)
		assert.Greater(t, len(tiles), 1)
	})
}

func overlapArea(a, b BoundingBox) float64 {
	w := math.Min(a.MaxX, b.MaxX) - math.Max(a.MinX, b.MinX)
	h := math.Min(a.MaxY, b.MaxY) - math.Max(a.MinY, b.MinY)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}
