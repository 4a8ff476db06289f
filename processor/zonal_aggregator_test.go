package processor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"
)

// makeTestCube builds a cube on a 4x4 grid over [30, -10, 30.04, -9.96]
// with one frame per supplied data slice. All pixels are valid unless
// the value is NaN, which marks the pixel masked.
func makeTestCube(test *testing.T, frameData ...[]float64) *DataCube {
	grid := &Grid{BBox: []float64{30, -10, 30.04, -9.96}, Width: 4, Height: 4}
	cube := &DataCube{
		Grid:             grid,
		QualityThreshold: 0.5,
	}
	for i, data := range frameData {
		if len(data) != grid.Size() {
			test.Fatalf("frame %d has %d pixels, grid wants %d", i, len(data), grid.Size())
		}
		frame := &IndexFrame{
			SceneID:   fmt.Sprintf("scene_%d", i),
			TimeStamp: time.Date(2019, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, i, 0),
			Data:      make([]float64, len(data)),
			State:     make([]PixelState, len(data)),
		}
		for j, v := range data {
			if math.IsNaN(v) {
				frame.State[j] = PixelMasked
			} else {
				frame.State[j] = PixelValid
				frame.Data[j] = v
			}
		}
		cube.Frames = append(cube.Frames, frame)
	}
	return cube
}

func squareFeature(lon0, lat0, lon1, lat1 float64) []byte {
	return []byte(fmt.Sprintf(`{"type": "Feature", "properties": {}, "geometry":
		{"type": "Polygon", "coordinates": [[[%g, %g], [%g, %g], [%g, %g], [%g, %g], [%g, %g]]]}}`,
		lon0, lat0, lon1, lat0, lon1, lat1, lon0, lat1, lon0, lat0))
}

func TestParseGeoJSONFeature(test *testing.T) {
	poly, err := ParseGeoJSONFeature(squareFeature(30, -10, 30.04, -9.96))
	if err != nil {
		test.Fatalf("valid feature rejected: %v", err)
	}
	if len(poly.Rings) != 1 {
		test.Errorf("rings: got %d, want 1", len(poly.Rings))
	}
	wantBound := []float64{30, -10, 30.04, -9.96}
	for i, v := range wantBound {
		if math.Abs(poly.Bound[i]-v) > 1e-9 {
			test.Errorf("bound[%d]: got %v, want %v", i, poly.Bound[i], v)
		}
	}
	if !poly.Contains(30.02, -9.98) {
		test.Errorf("center point reported outside polygon")
	}
	if poly.Contains(31, -9.98) {
		test.Errorf("far point reported inside polygon")
	}
}

func TestParseGeoJSONFeatureRejects(test *testing.T) {
	bodies := map[string]string{
		"not json":       `{"type": "Feature`,
		"point geometry": `{"type": "Feature", "properties": {}, "geometry": {"type": "Point", "coordinates": [30, -10]}}`,
		"two vertices":   `{"type": "Feature", "properties": {}, "geometry": {"type": "Polygon", "coordinates": [[[30, -10], [30.04, -9.96], [30, -10]]]}}`,
	}
	for name, body := range bodies {
		_, err := ParseGeoJSONFeature([]byte(body))
		var invalid *InvalidGeometryError
		if !errors.As(err, &invalid) {
			test.Errorf("%s: expected InvalidGeometryError, got %v", name, err)
		}
	}
}

func TestAggregateFullExtent(test *testing.T) {
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i) / 16
	}
	cube := makeTestCube(test, data)

	poly, err := ParseGeoJSONFeature(squareFeature(29.99, -10.01, 30.05, -9.95))
	if err != nil {
		test.Fatalf("ParseGeoJSONFeature: %v", err)
	}
	points, err := Aggregate(context.Background(), cube, poly)
	if err != nil {
		test.Fatalf("Aggregate: %v", err)
	}
	if len(points) != 1 {
		test.Fatalf("points: got %d, want 1", len(points))
	}

	wantMean, wantCount := cube.Frames[0].ValidMean()
	if points[0].Count != wantCount {
		test.Errorf("count: got %d, want %d", points[0].Count, wantCount)
	}
	if math.Abs(points[0].Mean-wantMean) > 1e-12 {
		test.Errorf("mean: got %v, want %v", points[0].Mean, wantMean)
	}
}

func TestAggregatePartialExtent(test *testing.T) {
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	cube := makeTestCube(test, data)

	// covers the 2x2 block of cells at the north west corner, whose
	// flat indices are 0, 1, 4, 5
	poly, err := ParseGeoJSONFeature(squareFeature(30, -9.98, 30.02, -9.96))
	if err != nil {
		test.Fatalf("ParseGeoJSONFeature: %v", err)
	}
	points, err := Aggregate(context.Background(), cube, poly)
	if err != nil {
		test.Fatalf("Aggregate: %v", err)
	}
	if points[0].Count != 4 {
		test.Fatalf("count: got %d, want 4", points[0].Count)
	}
	want := (0.0 + 1 + 4 + 5) / 4
	if math.Abs(points[0].Mean-want) > 1e-12 {
		test.Errorf("mean: got %v, want %v", points[0].Mean, want)
	}
}

func TestAggregateOutOfBounds(test *testing.T) {
	cube := makeTestCube(test, make([]float64, 16))
	poly, err := ParseGeoJSONFeature(squareFeature(40, -10, 40.04, -9.96))
	if err != nil {
		test.Fatalf("ParseGeoJSONFeature: %v", err)
	}
	_, err = Aggregate(context.Background(), cube, poly)
	var oob *OutOfBoundsError
	if !errors.As(err, &oob) {
		test.Fatalf("expected OutOfBoundsError, got %v", err)
	}
}

// A polygon whose bounding box clips the cube's bounding box corner
// while the geometry itself stays outside the extent must still be
// rejected, never answered from a cell it does not touch.
func TestAggregateCornerDisjoint(test *testing.T) {
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	cube := makeTestCube(test, data)

	// triangle north east of the extent; its bound overlaps the cube
	// bound at the corner but the triangle itself does not
	body := []byte(`{"type": "Feature", "properties": {}, "geometry":
		{"type": "Polygon", "coordinates": [[[30.03, -9.95], [30.10, -9.97], [30.10, -9.95], [30.03, -9.95]]]}}`)
	poly, err := ParseGeoJSONFeature(body)
	if err != nil {
		test.Fatalf("ParseGeoJSONFeature: %v", err)
	}
	if poly.IntersectsBBox(cube.Grid.BBox) {
		test.Fatalf("triangle unexpectedly intersects the cube extent")
	}

	_, err = Aggregate(context.Background(), cube, poly)
	var oob *OutOfBoundsError
	if !errors.As(err, &oob) {
		test.Fatalf("expected OutOfBoundsError for disjoint polygon, got %v", err)
	}
}

func TestAggregateSubCellPolygon(test *testing.T) {
	data := make([]float64, 16)
	for i := range data {
		data[i] = float64(i)
	}
	cube := makeTestCube(test, data)

	// far smaller than one cell and away from any center, inside
	// cell (1, 1) whose flat index is 5
	poly, err := ParseGeoJSONFeature(squareFeature(30.011, -9.979, 30.012, -9.978))
	if err != nil {
		test.Fatalf("ParseGeoJSONFeature: %v", err)
	}
	points, err := Aggregate(context.Background(), cube, poly)
	if err != nil {
		test.Fatalf("Aggregate: %v", err)
	}
	if points[0].Count != 1 {
		test.Fatalf("count: got %d, want 1", points[0].Count)
	}
	if points[0].Mean != 5 {
		test.Errorf("mean: got %v, want 5 (cell 1,1)", points[0].Mean)
	}
}

func TestAggregateMissingFrame(test *testing.T) {
	nan := math.NaN()
	allMasked := make([]float64, 16)
	for i := range allMasked {
		allMasked[i] = nan
	}
	good := make([]float64, 16)
	for i := range good {
		good[i] = 0.5
	}
	cube := makeTestCube(test, good, allMasked)

	poly, err := ParseGeoJSONFeature(squareFeature(29.99, -10.01, 30.05, -9.95))
	if err != nil {
		test.Fatalf("ParseGeoJSONFeature: %v", err)
	}
	points, err := Aggregate(context.Background(), cube, poly)
	if err != nil {
		test.Fatalf("Aggregate: %v", err)
	}
	if len(points) != 2 {
		test.Fatalf("points: got %d, want 2", len(points))
	}
	if points[0].Missing {
		test.Errorf("first frame unexpectedly missing")
	}
	if !points[1].Missing || !math.IsNaN(points[1].Mean) || points[1].Count != 0 {
		test.Errorf("masked frame: got missing=%v mean=%v count=%d, want missing NaN 0",
			points[1].Missing, points[1].Mean, points[1].Count)
	}
}
