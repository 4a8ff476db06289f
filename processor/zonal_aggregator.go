package processor

import (
	"encoding/json"
	"fmt"
	"math"

	geo "github.com/nci/geometry"

	"github.com/golang/geo/s2"
	"golang.org/x/net/context"
)

// ZonalPolygon is a validated region of interest in WGS84 lon/lat.
// Rings holds the raw GeoJSON rings, outer ring first per polygon;
// the s2 polygon answers the cell center containment tests.
type ZonalPolygon struct {
	Rings [][][]float64
	Bound []float64

	s2Poly *s2.Polygon
}

// ParseGeoJSONFeature validates the body of a draw request. Only
// Feature objects carrying a Polygon or MultiPolygon geometry are
// accepted; anything self intersecting, open beyond the implicit
// closing vertex, or with fewer than three distinct vertices comes
// back as an InvalidGeometryError.
func ParseGeoJSONFeature(body []byte) (*ZonalPolygon, error) {
	var feat geo.Feature
	err := json.Unmarshal(body, &feat)
	if err != nil {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("problem unmarshalling geometry: %v", err)}
	}

	switch feat.Geometry.(type) {
	case *geo.Polygon, *geo.MultiPolygon:
	default:
		return nil, &InvalidGeometryError{Reason: "geometry not supported, only Polygon or MultiPolygon features are accepted"}
	}

	geomJSON, err := json.Marshal(feat.Geometry)
	if err != nil {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("problem marshaling GeoJSON geometry: %v", err)}
	}

	var raw struct {
		Type        string          `json:"type"`
		Coordinates json.RawMessage `json:"coordinates"`
	}
	if err = json.Unmarshal(geomJSON, &raw); err != nil {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("problem parsing geometry coordinates: %v", err)}
	}

	var rings [][][]float64
	if raw.Type == "Polygon" {
		if err = json.Unmarshal(raw.Coordinates, &rings); err != nil {
			return nil, &InvalidGeometryError{Reason: fmt.Sprintf("malformed Polygon coordinates: %v", err)}
		}
	} else {
		var polys [][][][]float64
		if err = json.Unmarshal(raw.Coordinates, &polys); err != nil {
			return nil, &InvalidGeometryError{Reason: fmt.Sprintf("malformed MultiPolygon coordinates: %v", err)}
		}
		for _, p := range polys {
			rings = append(rings, p...)
		}
	}

	return NewZonalPolygon(rings)
}

// NewZonalPolygon builds the s2 polygon and bound from GeoJSON rings.
func NewZonalPolygon(rings [][][]float64) (*ZonalPolygon, error) {
	if len(rings) == 0 {
		return nil, &InvalidGeometryError{Reason: "polygon has no rings"}
	}

	bound := []float64{math.Inf(1), math.Inf(1), math.Inf(-1), math.Inf(-1)}
	var loops []*s2.Loop
	for _, ring := range rings {
		pts, err := ringPoints(ring)
		if err != nil {
			return nil, err
		}
		for _, coord := range ring {
			if coord[0] < bound[0] {
				bound[0] = coord[0]
			}
			if coord[1] < bound[1] {
				bound[1] = coord[1]
			}
			if coord[0] > bound[2] {
				bound[2] = coord[0]
			}
			if coord[1] > bound[3] {
				bound[3] = coord[1]
			}
		}

		loop := s2.LoopFromPoints(pts)
		loop.Normalize()
		if err := loop.Validate(); err != nil {
			return nil, &InvalidGeometryError{Reason: fmt.Sprintf("invalid ring: %v", err)}
		}
		if loop.Area() == 0 {
			return nil, &InvalidGeometryError{Reason: "polygon ring encloses no area"}
		}
		loops = append(loops, loop)
	}

	poly := s2.PolygonFromLoops(loops)
	if err := poly.Validate(); err != nil {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("invalid polygon: %v", err)}
	}

	return &ZonalPolygon{Rings: rings, Bound: bound, s2Poly: poly}, nil
}

// ringPoints converts one GeoJSON ring, dropping the closing vertex
// when present. Fewer than three distinct vertices is degenerate.
func ringPoints(ring [][]float64) ([]s2.Point, error) {
	if len(ring) > 1 {
		first, last := ring[0], ring[len(ring)-1]
		if len(first) >= 2 && len(last) >= 2 && first[0] == last[0] && first[1] == last[1] {
			ring = ring[:len(ring)-1]
		}
	}

	distinct := make(map[[2]float64]bool)
	var pts []s2.Point
	for _, coord := range ring {
		if len(coord) < 2 {
			return nil, &InvalidGeometryError{Reason: "ring vertex has fewer than two coordinates"}
		}
		distinct[[2]float64{coord[0], coord[1]}] = true
		pts = append(pts, s2.PointFromLatLng(s2.LatLngFromDegrees(coord[1], coord[0])))
	}
	if len(distinct) < 3 {
		return nil, &InvalidGeometryError{Reason: fmt.Sprintf("ring has %d distinct vertices, need at least 3", len(distinct))}
	}
	return pts, nil
}

// Contains reports whether the lon/lat point falls inside the polygon.
func (zp *ZonalPolygon) Contains(lon, lat float64) bool {
	return zp.s2Poly.ContainsPoint(s2.PointFromLatLng(s2.LatLngFromDegrees(lat, lon)))
}

// IntersectsBBox reports whether the polygon genuinely intersects the
// lon/lat rectangle. Bounding boxes can overlap at a corner while the
// geometries stay disjoint, so this is the authoritative test.
func (zp *ZonalPolygon) IntersectsBBox(bbox []float64) bool {
	pts := []s2.Point{
		s2.PointFromLatLng(s2.LatLngFromDegrees(bbox[1], bbox[0])),
		s2.PointFromLatLng(s2.LatLngFromDegrees(bbox[1], bbox[2])),
		s2.PointFromLatLng(s2.LatLngFromDegrees(bbox[3], bbox[2])),
		s2.PointFromLatLng(s2.LatLngFromDegrees(bbox[3], bbox[0])),
	}
	loop := s2.LoopFromPoints(pts)
	loop.Normalize()
	rect := s2.PolygonFromLoops([]*s2.Loop{loop})
	return zp.s2Poly.Intersects(rect)
}

// CellSelection returns the flat indices of the grid cells whose
// centers fall inside the polygon. A polygon smaller than any cell
// can miss every center; in that case the single cell containing the
// midpoint of the polygon bound is selected so a series still comes
// out of a legitimate draw.
func (zp *ZonalPolygon) CellSelection(grid *Grid) []int {
	resX, resY := grid.ResX(), grid.ResY()

	ix0 := int(math.Floor((zp.Bound[0] - grid.BBox[0]) / resX))
	ix1 := int(math.Ceil((zp.Bound[2] - grid.BBox[0]) / resX))
	iy0 := int(math.Floor((grid.BBox[3] - zp.Bound[3]) / resY))
	iy1 := int(math.Ceil((grid.BBox[3] - zp.Bound[1]) / resY))
	ix0, ix1 = clampRange(ix0, ix1, grid.Width)
	iy0, iy1 = clampRange(iy0, iy1, grid.Height)

	var cells []int
	for iy := iy0; iy < iy1; iy++ {
		for ix := ix0; ix < ix1; ix++ {
			lon, lat := grid.CellCenter(ix, iy)
			if zp.Contains(lon, lat) {
				cells = append(cells, iy*grid.Width+ix)
			}
		}
	}
	if len(cells) > 0 {
		return cells
	}

	midLon := (zp.Bound[0] + zp.Bound[2]) / 2
	midLat := (zp.Bound[1] + zp.Bound[3]) / 2
	ix := clampIndex(int(math.Floor((midLon-grid.BBox[0])/resX)), grid.Width)
	iy := clampIndex(int(math.Floor((grid.BBox[3]-midLat)/resY)), grid.Height)
	return []int{iy*grid.Width + ix}
}

func clampRange(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi > n {
		hi = n
	}
	return lo, hi
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

// Aggregate reduces the cube to one spatially averaged value per
// frame over the polygon's cells. Frames with no valid pixel inside
// the region yield a Missing point rather than silently disappearing,
// so the temporal axis of the series matches the cube.
func Aggregate(ctx context.Context, cube *DataCube, poly *ZonalPolygon) ([]*TimeSeriesPoint, error) {
	grid := cube.Grid
	if poly.Bound[2] < grid.BBox[0] || poly.Bound[0] > grid.BBox[2] ||
		poly.Bound[3] < grid.BBox[1] || poly.Bound[1] > grid.BBox[3] ||
		!poly.IntersectsBBox(grid.BBox) {
		return nil, &OutOfBoundsError{PolygonBound: poly.Bound, CubeBound: grid.BBox}
	}

	cells := poly.CellSelection(grid)

	points := make([]*TimeSeriesPoint, 0, len(cube.Frames))
	for _, frame := range cube.Frames {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("zonal aggregation cancelled: %v", ctx.Err())
		default:
		}

		sum := 0.0
		count := 0
		for _, idx := range cells {
			if frame.State[idx] == PixelValid {
				sum += frame.Data[idx]
				count++
			}
		}

		pt := &TimeSeriesPoint{TimeStamp: frame.TimeStamp, Count: count}
		if count == 0 {
			pt.Missing = true
			pt.Mean = math.NaN()
		} else {
			pt.Mean = sum / float64(count)
		}
		points = append(points, pt)
	}
	return points, nil
}
