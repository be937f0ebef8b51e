package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
)

// earthRadiusMeters is the mean Earth radius used for spherical areas.
const earthRadiusMeters = 6371008.8

// geographicCodes lists EPSG codes of lat/long reference systems the
// feature service accepts.
var geographicCodes = map[string]bool{
	"4326": true, // WGS 84
	"4269": true, // NAD83
	"4258": true, // ETRS89
	"4283": true, // GDA94
}

// BoundingBox is an axis-aligned box in the coordinate system named by SRS.
// X is longitude and Y latitude for geographic systems.
type BoundingBox struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
	SRS  string  `json:"srs"`
}

// NewBoundingBox validates and returns a BoundingBox.
func NewBoundingBox(minX, minY, maxX, maxY float64, srs string) (BoundingBox, error) {
	b := BoundingBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY, SRS: srs}
	if err := b.Validate(); err != nil {
		return BoundingBox{}, err
	}
	return b, nil
}

// ParseBoundingBox parses "minX,minY,maxX,maxY" (the order used by the WFS
// BBOX parameter) into a validated BoundingBox.
func ParseBoundingBox(s, srs string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: expected minX,minY,maxX,maxY, got %q", ErrInvalidBoundingBox, s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("%w: coordinate %q: %v", ErrInvalidBoundingBox, p, err)
		}
		v[i] = f
	}
	return NewBoundingBox(v[0], v[1], v[2], v[3], srs)
}

// Validate enforces minX < maxX, minY < maxY and a non-empty SRS.
func (b BoundingBox) Validate() error {
	for _, v := range []float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %s", ErrInvalidBoundingBox, b)
		}
	}
	if b.MinX >= b.MaxX {
		return fmt.Errorf("%w: minX %g >= maxX %g", ErrInvalidBoundingBox, b.MinX, b.MaxX)
	}
	if b.MinY >= b.MaxY {
		return fmt.Errorf("%w: minY %g >= maxY %g", ErrInvalidBoundingBox, b.MinY, b.MaxY)
	}
	if strings.TrimSpace(b.SRS) == "" {
		return fmt.Errorf("%w: srs is required", ErrInvalidBoundingBox)
	}
	if b.IsGeographic() && (b.MinX < -180 || b.MaxX > 180 || b.MinY < -90 || b.MaxY > 90) {
		return fmt.Errorf("%w: %s outside geographic range", ErrInvalidBoundingBox, b)
	}
	return nil
}

// Bound converts the box to an orb.Bound.
func (b BoundingBox) Bound() orb.Bound {
	return orb.Bound{Min: orb.Point{b.MinX, b.MinY}, Max: orb.Point{b.MaxX, b.MaxY}}
}

// IsGeographic reports whether SRS is a lat/long system. Recognizes
// "EPSG:4326", "CRS:84", OGC URNs and the GML epsg.xml#code form.
func (b BoundingBox) IsGeographic() bool {
	srs := strings.ToUpper(strings.TrimSpace(b.SRS))
	if srs == "CRS:84" || strings.HasSuffix(srs, "CRS84") {
		return true
	}
	i := strings.LastIndexAny(srs, ":#")
	if i < 0 {
		return false
	}
	return geographicCodes[srs[i+1:]]
}

// Area returns the box area. Geographic boxes are measured on the sphere in
// square metres; projected boxes in squared SRS units.
func (b BoundingBox) Area() float64 {
	if b.IsGeographic() {
		rect := s2.Rect{
			Lat: r1.Interval{Lo: degToRad(b.MinY), Hi: degToRad(b.MaxY)},
			Lng: s1.IntervalFromEndpoints(degToRad(b.MinX), degToRad(b.MaxX)),
		}
		return rect.Area() * earthRadiusMeters * earthRadiusMeters
	}
	return (b.MaxX - b.MinX) * (b.MaxY - b.MinY)
}

// dimensions returns the box width and height in the same units as Area,
// measured along the middle parallel for geographic boxes.
func (b BoundingBox) dimensions() (width, height float64) {
	if !b.IsGeographic() {
		return b.MaxX - b.MinX, b.MaxY - b.MinY
	}
	midLat := degToRad((b.MinY + b.MaxY) / 2)
	width = earthRadiusMeters * math.Cos(midLat) * degToRad(b.MaxX-b.MinX)
	height = earthRadiusMeters * degToRad(b.MaxY-b.MinY)
	return width, height
}

// Label renders the four coordinates as "<minX>_<minY>_<maxX>_<maxY>" using the
// shortest representation that round-trips, so distinct boxes never collide.
// Integral coordinates keep a ".0" suffix.
func (b BoundingBox) Label() string {
	return strings.Join([]string{
		formatCoord(b.MinX), formatCoord(b.MinY), formatCoord(b.MaxX), formatCoord(b.MaxY),
	}, "_")
}

// Intersects reports whether two boxes share any area or boundary.
func (b BoundingBox) Intersects(o BoundingBox) bool {
	return b.Bound().Intersects(o.Bound())
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%s,%s %s,%s %s]",
		formatCoord(b.MinX), formatCoord(b.MinY), formatCoord(b.MaxX), formatCoord(b.MaxY), b.SRS)
}

// formatCoord writes the shortest round-trip digits, keeping a fractional
// part on integral values ("-100.0") and switching to an exponent outside
// [1e-4, 1e16), so labels match files written by earlier SSURGO tooling.
func formatCoord(v float64) string {
	if a := math.Abs(v); a != 0 && (a < 1e-4 || a >= 1e16) {
		return strconv.FormatFloat(v, 'e', -1, 64)
	}
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func degToRad(d float64) float64 {
	return d * math.Pi / 180
}
