package processor

import (
	"fmt"
	"time"

	"github.com/nci/cubeserver/utils"
)

// DataUnavailableError marks one scene whose mask or bands could not
// be read. The scene is dropped and the pipeline continues.
type DataUnavailableError struct {
	SceneID string
	Band    string
	Err     error
}

func (e *DataUnavailableError) Error() string {
	if len(e.Band) > 0 {
		return fmt.Sprintf("scene %s: band %s unavailable: %v", e.SceneID, e.Band, e.Err)
	}
	return fmt.Sprintf("scene %s: data unavailable: %v", e.SceneID, e.Err)
}

func (e *DataUnavailableError) Unwrap() error {
	return e.Err
}

// NoDataFoundError reports a time window with zero candidate scenes.
// The remedy is a wider window or a different area.
type NoDataFoundError struct {
	Collection string
	StartTime  time.Time
	EndTime    time.Time
}

func (e *NoDataFoundError) Error() string {
	return fmt.Sprintf("no scenes found for %s in [%s, %s]",
		e.Collection, e.StartTime.Format(utils.ISOFormat), e.EndTime.Format(utils.ISOFormat))
}

// EmptyCubeError reports a window with candidates but no survivors
// of the quality filter. The counts let the caller decide between
// lowering the threshold and picking another area.
type EmptyCubeError struct {
	Collection    string
	NumCandidates int
	NumRetained   int
	Threshold     float64
}

func (e *EmptyCubeError) Error() string {
	return fmt.Sprintf("empty cube for %s: %d of %d candidate scenes passed quality threshold %.2f",
		e.Collection, e.NumRetained, e.NumCandidates, e.Threshold)
}

// InvalidGeometryError rejects a degenerate drawn polygon before it
// reaches the aggregator.
type InvalidGeometryError struct {
	Reason string
}

func (e *InvalidGeometryError) Error() string {
	return fmt.Sprintf("invalid geometry: %s", e.Reason)
}

// OutOfBoundsError rejects a valid polygon with no spatial overlap
// with the cube's extent, distinguishing a bad request from
// legitimate cloud gaps.
type OutOfBoundsError struct {
	PolygonBound []float64
	CubeBound    []float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("polygon bound %v does not intersect cube extent %v", e.PolygonBound, e.CubeBound)
}
