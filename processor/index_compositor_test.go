package processor

import (
	"math"
	"testing"
	"time"

	"github.com/nci/cubeserver/utils"
)

const testNoData = -9999.0

func testBandExpr(test *testing.T, exprs ...string) *utils.BandExpressions {
	if len(exprs) == 0 {
		exprs = []string{utils.DefaultIndexExpression}
	}
	bandExpr, err := utils.ParseBandExpressions(exprs)
	if err != nil {
		test.Fatalf("ParseBandExpressions: %v", err)
	}
	return bandExpr
}

func makeTestScene(grid *Grid, acquired time.Time, nir, red []float64, mask []uint8) *Scene {
	return &Scene{
		Meta: &SceneMeta{
			ID:        "test_scene",
			TimeStamp: acquired,
			BandPaths: map[string]string{"nir": "/nir", "red": "/red"},
		},
		Quality: &SceneQualitySummary{SceneID: "test_scene", TimeStamp: acquired, GoodPixelFraction: 0.75},
		Grid:    grid,
		Bands: map[string]*BandRaster{
			"nir": {Width: grid.Width, Height: grid.Height, NoData: testNoData, Data: nir},
			"red": {Width: grid.Width, Height: grid.Height, NoData: testNoData, Data: red},
		},
		Mask: &MaskRaster{Width: grid.Width, Height: grid.Height, Data: mask},
	}
}

func TestComputeIndexStates(test *testing.T) {
	grid := &Grid{BBox: []float64{30, -10, 30.0004, -9.9996}, Width: 2, Height: 2}
	acquired := time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)

	// pixel 0: clean NDVI, pixel 1: masked by quality,
	// pixel 2: zero denominator, pixel 3: nodata in red
	nir := []float64{0.8, 0.5, 0.0, 0.3}
	red := []float64{0.2, 0.5, 0.0, testNoData}
	mask := []uint8{255, 0, 255, 255}

	frame, err := ComputeIndex(makeTestScene(grid, acquired, nir, red, mask), testBandExpr(test))
	if err != nil {
		test.Fatalf("ComputeIndex: %v", err)
	}

	if frame.State[0] != PixelValid {
		test.Errorf("pixel 0 state: got %v, want valid", frame.State[0])
	}
	if math.Abs(frame.Data[0]-0.6) > 1e-9 {
		test.Errorf("pixel 0 NDVI: got %v, want 0.6", frame.Data[0])
	}

	if frame.State[1] != PixelMasked {
		test.Errorf("pixel 1 state: got %v, want masked", frame.State[1])
	}
	if frame.State[2] != PixelUndefined {
		test.Errorf("pixel 2 state: got %v, want undefined", frame.State[2])
	}
	if frame.State[3] != PixelMasked {
		test.Errorf("pixel 3 state: got %v, want masked", frame.State[3])
	}

	mean, count := frame.ValidMean()
	if count != 1 {
		test.Errorf("valid count: got %d, want 1", count)
	}
	if math.Abs(mean-0.6) > 1e-9 {
		test.Errorf("valid mean: got %v, want 0.6", mean)
	}
}

func TestComputeIndexZeroIsValid(test *testing.T) {
	grid := &Grid{BBox: []float64{30, -10, 30.0002, -9.9998}, Width: 1, Height: 1}
	acquired := time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)

	// nir == red gives a legitimate zero index value
	frame, err := ComputeIndex(
		makeTestScene(grid, acquired, []float64{0.4}, []float64{0.4}, []uint8{255}),
		testBandExpr(test))
	if err != nil {
		test.Fatalf("ComputeIndex: %v", err)
	}

	if frame.State[0] != PixelValid {
		test.Errorf("zero index pixel state: got %v, want valid", frame.State[0])
	}
	if frame.Data[0] != 0 {
		test.Errorf("zero index pixel value: got %v, want 0", frame.Data[0])
	}
}

func TestComputeIndexCustomExpression(test *testing.T) {
	grid := &Grid{BBox: []float64{30, -10, 30.0002, -9.9998}, Width: 1, Height: 1}
	acquired := time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)

	// EVI2-style expression exercises constants and multiple variable
	// references per band
	frame, err := ComputeIndex(
		makeTestScene(grid, acquired, []float64{0.8}, []float64{0.2}, []uint8{255}),
		testBandExpr(test, "2.5 * (nir - red) / (nir + 2.4 * red + 1)"))
	if err != nil {
		test.Fatalf("ComputeIndex: %v", err)
	}

	want := 2.5 * 0.6 / (0.8 + 2.4*0.2 + 1)
	if math.Abs(frame.Data[0]-want) > 1e-9 {
		test.Errorf("custom index: got %v, want %v", frame.Data[0], want)
	}
}
