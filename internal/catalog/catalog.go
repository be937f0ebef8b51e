// Package catalog indexes the enriched tile files in the output directory so
// they can be found by area without listing or opening them.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/couchcryptid/ssurgo-feature-etl/internal/domain"
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb/geojson"
)

const (
	outputSuffix = "-attr.gml"
	bboxMarker   = "_bbox_"
)

// Entry is one enriched tile file.
type Entry struct {
	FeatureType domain.FeatureType `json:"featureType"`
	Box         domain.BoundingBox `json:"bbox"`
	File        string             `json:"file"`
}

// Bounds implements rtreego.Spatial.
func (e *Entry) Bounds() rtreego.Rect {
	rect, _ := rtreego.NewRect(
		rtreego.Point{e.Box.MinX, e.Box.MinY},
		[]float64{e.Box.MaxX - e.Box.MinX, e.Box.MaxY - e.Box.MinY},
	)
	return rect
}

// Catalog is a concurrency-safe spatial index of tile files. Boxes in
// different reference systems are kept in separate trees.
type Catalog struct {
	mu      sync.RWMutex
	trees   map[string]*rtreego.Rtree
	files   map[string]*Entry
	scanSRS string
	logger  *slog.Logger
}

// New creates an empty Catalog. Files found by Scan are assumed to be in
// scanSRS, since output names do not carry the reference system.
func New(scanSRS string, logger *slog.Logger) *Catalog {
	return &Catalog{
		trees:   make(map[string]*rtreego.Rtree),
		files:   make(map[string]*Entry),
		scanSRS: scanSRS,
		logger:  logger,
	}
}

// Record adds a tile file. Recording a file twice is a no-op.
func (c *Catalog) Record(ft domain.FeatureType, box domain.BoundingBox, file string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insert(&Entry{FeatureType: ft, Box: box, File: file})
}

func (c *Catalog) insert(e *Entry) {
	if _, ok := c.files[e.File]; ok {
		return
	}
	tree, ok := c.trees[e.Box.SRS]
	if !ok {
		tree = rtreego.NewTree(2, 25, 50)
		c.trees[e.Box.SRS] = tree
	}
	tree.Insert(e)
	c.files[e.File] = e
}

// Scan indexes every enriched tile file in dir and returns how many were
// added. Names that do not parse are skipped.
func (c *Catalog) Scan(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("scan %s: %w", dir, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	added := 0
	for _, de := range entries {
		if !de.Type().IsRegular() || !strings.HasSuffix(de.Name(), outputSuffix) {
			continue
		}
		ft, box, err := ParseFilename(de.Name(), c.scanSRS)
		if err != nil {
			c.logger.Debug("skipping unrecognised file", "file", de.Name(), "error", err)
			continue
		}
		if _, ok := c.files[de.Name()]; !ok {
			added++
		}
		c.insert(&Entry{FeatureType: ft, Box: box, File: de.Name()})
	}
	c.logger.Info("catalog scanned", "dir", dir, "added", added, "total", len(c.files))
	return added, nil
}

// Query returns the files whose boxes intersect box, ordered by name.
func (c *Catalog) Query(box domain.BoundingBox) []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	tree, ok := c.trees[box.SRS]
	if !ok {
		return nil
	}
	e := Entry{Box: box}
	var out []Entry
	for _, s := range tree.SearchIntersect(e.Bounds()) {
		hit := s.(*Entry)
		if hit.Box.Intersects(box) {
			out = append(out, *hit)
		}
	}
	sortEntries(out)
	return out
}

// All returns every indexed file, ordered by name.
func (c *Catalog) All() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.files))
	for _, e := range c.files {
		out = append(out, *e)
	}
	sortEntries(out)
	return out
}

// Len reports the number of indexed files.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.files)
}

func sortEntries(entries []Entry) {
	slices.SortFunc(entries, func(a, b Entry) int { return strings.Compare(a.File, b.File) })
}

// ParseFilename recovers the feature type and box from an enriched tile
// file name of the form <ft>_bbox_<minX>_<minY>_<maxX>_<maxY>-attr.gml.
func ParseFilename(name, srs string) (domain.FeatureType, domain.BoundingBox, error) {
	base, ok := strings.CutSuffix(name, outputSuffix)
	if !ok {
		return "", domain.BoundingBox{}, fmt.Errorf("%q is not an enriched tile file", name)
	}
	prefix, coords, ok := strings.Cut(base, bboxMarker)
	if !ok {
		return "", domain.BoundingBox{}, fmt.Errorf("%q has no bbox label", name)
	}
	ft, err := domain.ParseFeatureType(prefix)
	if err != nil {
		return "", domain.BoundingBox{}, err
	}
	box, err := domain.ParseBoundingBox(strings.ReplaceAll(coords, "_", ","), srs)
	if err != nil {
		return "", domain.BoundingBox{}, err
	}
	return ft, box, nil
}

// FeatureCollection renders entries as GeoJSON polygons with the file name,
// feature type and reference system as properties.
func FeatureCollection(entries []Entry) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, e := range entries {
		f := geojson.NewFeature(e.Box.Bound().ToPolygon())
		f.Properties["file"] = e.File
		f.Properties["feature_type"] = string(e.FeatureType)
		f.Properties["srs"] = e.Box.SRS
		fc.Append(f)
	}
	return fc
}

// PlanCollection renders planned tiles as GeoJSON, one polygon per tile with
// its grid position and output file name.
func PlanCollection(ft domain.FeatureType, tiles []domain.Tile) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, t := range tiles {
		f := geojson.NewFeature(t.Bound().ToPolygon())
		f.Properties["file"] = domain.OutputFilename(ft, t.BoundingBox)
		f.Properties["feature_type"] = string(ft)
		f.Properties["srs"] = t.SRS
		f.Properties["row"] = t.Row
		f.Properties["col"] = t.Col
		fc.Append(f)
	}
	return fc
}
