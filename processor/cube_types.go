package processor

import (
	"time"

	"github.com/nci/cubeserver/metrics"
	"github.com/nci/cubeserver/utils"
)

// Grid is a regular lat/lon grid covering the area of interest.
// BBox is [minLon, minLat, maxLon, maxLat]; cell (0,0) sits at the
// north-west corner, rows run north to south as in a raster file.
type Grid struct {
	BBox   []float64 `json:"bbox"`
	Width  int       `json:"width"`
	Height int       `json:"height"`
}

func (g *Grid) Size() int {
	return g.Width * g.Height
}

func (g *Grid) ResX() float64 {
	return (g.BBox[2] - g.BBox[0]) / float64(g.Width)
}

func (g *Grid) ResY() float64 {
	return (g.BBox[3] - g.BBox[1]) / float64(g.Height)
}

// CellCenter returns the lon/lat of the center of cell (ix, iy).
func (g *Grid) CellCenter(ix, iy int) (float64, float64) {
	lon := g.BBox[0] + (float64(ix)+0.5)*g.ResX()
	lat := g.BBox[3] - (float64(iy)+0.5)*g.ResY()
	return lon, lat
}

func (g *Grid) SameShape(o *Grid) bool {
	return o != nil && g.Width == o.Width && g.Height == o.Height
}

// GeoCubeRequest describes one cube build: which collection, over
// which bounding box and time window, filtered at which quality
// threshold.
type GeoCubeRequest struct {
	Collection       string
	BBox             []float64
	Grid             *Grid
	StartTime        time.Time
	EndTime          time.Time
	QualityThreshold float64
	BandExpr         *utils.BandExpressions
	Mask             *utils.MaskRule
	MetricsCollector *metrics.MetricsCollector
}

// SceneMeta identifies one candidate scene as listed by the catalog.
type SceneMeta struct {
	ID        string            `json:"id"`
	TimeStamp time.Time         `json:"timestamp"`
	BandPaths map[string]string `json:"band_paths"`
}

// SceneQualitySummary is the Quality Scorer's verdict for one scene.
type SceneQualitySummary struct {
	SceneID           string    `json:"scene_id"`
	TimeStamp         time.Time `json:"timestamp"`
	GoodPixelFraction float64   `json:"good_pixel_fraction"`
}

// candidateScene flows between pipeline stages; it carries the
// originating request so stages don't need per-request state.
type candidateScene struct {
	Req     *GeoCubeRequest
	Meta    *SceneMeta
	Quality *SceneQualitySummary

	// mask is attached by the quality scorer so the loader does not
	// fetch the quality band a second time.
	mask *MaskRaster
}

// BandRaster is one spectral band warped onto the request grid.
// Pixels equal to NoData are absent, not zero valued.
type BandRaster struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	NoData float64   `json:"nodata"`
	Data   []float64 `json:"data"`
}

// MaskRaster marks usable pixels with 255, in the manner of a
// rasterised geometry mask.
type MaskRaster struct {
	Width  int
	Height int
	Data   []uint8
}

// Scene bundles the loaded bands and validity mask for one retained
// acquisition. It is consumed by the compositor and then discarded.
type Scene struct {
	Meta    *SceneMeta
	Quality *SceneQualitySummary
	Grid    *Grid
	Bands   map[string]*BandRaster
	Mask    *MaskRaster
}

// PixelState is the tri-state validity of one index pixel. The
// numeric grid alone can never encode "missing": zero is a
// legitimate index value.
type PixelState uint8

const (
	PixelValid PixelState = iota
	PixelMasked
	PixelUndefined
)

// IndexFrame is one time step of the data cube: the computed index
// grid plus the explicit per-pixel state.
type IndexFrame struct {
	SceneID           string       `json:"scene_id"`
	TimeStamp         time.Time    `json:"timestamp"`
	GoodPixelFraction float64      `json:"good_pixel_fraction"`
	Data              []float64    `json:"data"`
	State             []PixelState `json:"state"`
}

// ValidMean is the spatial mean over the frame's valid pixels.
func (f *IndexFrame) ValidMean() (float64, int) {
	sum := 0.0
	count := 0
	for i, st := range f.State {
		if st == PixelValid {
			sum += f.Data[i]
			count++
		}
	}
	if count == 0 {
		return 0, 0
	}
	return sum / float64(count), count
}

// DataCube is the ordered stack of index frames over one grid.
// It is immutable once built; aggregations share it read-only.
type DataCube struct {
	Grid             *Grid         `json:"grid"`
	Frames           []*IndexFrame `json:"frames"`
	StartTime        time.Time     `json:"start_time"`
	EndTime          time.Time     `json:"end_time"`
	QualityThreshold float64       `json:"quality_threshold"`
	NumCandidates    int           `json:"num_candidates"`
	NumRetained      int           `json:"num_retained"`
}

// TimeStamps lists the cube's frame acquisition times in order.
func (c *DataCube) TimeStamps() []time.Time {
	ts := make([]time.Time, len(c.Frames))
	for i, f := range c.Frames {
		ts[i] = f.TimeStamp
	}
	return ts
}

// TimeSeriesPoint is one entry of a zonal mean series. A missing
// point keeps its time position so gaps stay visible downstream.
type TimeSeriesPoint struct {
	TimeStamp time.Time `json:"timestamp"`
	Mean      float64   `json:"mean"`
	Count     int       `json:"count"`
	Missing   bool      `json:"missing"`
}
