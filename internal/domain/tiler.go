package domain

import (
	"fmt"
	"math"
)

// Tile is one cell of a partition of a requested BoundingBox. Row and Col
// locate the cell in the grid (row 0 is the southern edge, col 0 the western).
type Tile struct {
	BoundingBox
	Row int `json:"row"`
	Col int `json:"col"`
}

// Plan returns the tiles to fetch for box. With tiling disabled a box larger
// than maxArea is rejected with ErrExtentTooLarge; otherwise it is split by
// TileBoundingBox.
func Plan(box BoundingBox, maxArea float64, tiling bool) ([]Tile, error) {
	if tiling {
		return TileBoundingBox(box, maxArea)
	}
	if err := checkInputs(box, maxArea); err != nil {
		return nil, err
	}
	if area := box.Area(); area > maxArea {
		return nil, fmt.Errorf("%w: area of %s is %.0f, maximum is %.0f", ErrExtentTooLarge, box, area, maxArea)
	}
	return []Tile{{BoundingBox: box}}, nil
}

// TileBoundingBox partitions box into a grid whose cells each have an area of
// at most maxArea. A box already within the limit is returned unchanged as the
// only tile. Neighbouring tiles share identical edge coordinates, so the tiles
// cover the box exactly without overlap.
func TileBoundingBox(box BoundingBox, maxArea float64) ([]Tile, error) {
	if err := checkInputs(box, maxArea); err != nil {
		return nil, err
	}

	area := box.Area()
	if area <= maxArea {
		return []Tile{{BoundingBox: box}}, nil
	}

	rows, cols := gridSize(box, area, maxArea)
	xs := edges(box.MinX, box.MaxX, cols)
	ys := edges(box.MinY, box.MaxY, rows)

	tiles := make([]Tile, 0, rows*cols)
	for r := range rows {
		for c := range cols {
			tiles = append(tiles, Tile{
				BoundingBox: BoundingBox{MinX: xs[c], MinY: ys[r], MaxX: xs[c+1], MaxY: ys[r+1], SRS: box.SRS},
				Row:         r,
				Col:         c,
			})
		}
	}
	return tiles, nil
}

func checkInputs(box BoundingBox, maxArea float64) error {
	if err := box.Validate(); err != nil {
		return err
	}
	if !(maxArea > 0) || math.IsInf(maxArea, 1) {
		return fmt.Errorf("%w: maximum tile area must be positive and finite, got %g", ErrConfiguration, maxArea)
	}
	return nil
}

// gridSize starts from the smallest cell count that could satisfy the limit,
// shaped to the box's aspect ratio, then adds a row or column (whichever cell
// side is longer) until the largest cell fits.
func gridSize(box BoundingBox, area, maxArea float64) (rows, cols int) {
	n := math.Ceil(area / maxArea)
	w, h := box.dimensions()

	cols = max(1, int(math.Round(math.Sqrt(n*w/h))))
	rows = max(1, int(math.Ceil(n/float64(cols))))

	for largestCellArea(box, rows, cols) > maxArea {
		if w/float64(cols) >= h/float64(rows) {
			cols++
		} else {
			rows++
		}
	}
	return rows, cols
}

// largestCellArea measures one cell per row; on the sphere cells in the same
// latitude band are congruent, so the row nearest the equator dominates.
func largestCellArea(box BoundingBox, rows, cols int) float64 {
	xs := edges(box.MinX, box.MaxX, cols)
	ys := edges(box.MinY, box.MaxY, rows)
	largest := 0.0
	for r := range rows {
		cell := BoundingBox{MinX: xs[0], MinY: ys[r], MaxX: xs[1], MaxY: ys[r+1], SRS: box.SRS}
		largest = math.Max(largest, cell.Area())
	}
	return largest
}

func edges(lo, hi float64, n int) []float64 {
	e := make([]float64, n+1)
	for i := range n + 1 {
		e[i] = lo + (hi-lo)*float64(i)/float64(n)
	}
	e[0], e[n] = lo, hi
	return e
}
