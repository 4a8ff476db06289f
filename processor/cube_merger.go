package processor

import (
	"fmt"
	"log"
	"sort"

	"golang.org/x/net/context"
)

// CubeMerger collects the surviving index frames into a single cube
// ordered by acquisition time. If nothing survived it emits a typed
// error telling the caller whether the catalog was empty or the
// quality filter removed everything.
type CubeMerger struct {
	Context context.Context
	In      chan *IndexFrame
	Out     chan *DataCube
	Error   chan error
}

func NewCubeMerger(ctx context.Context, errChan chan error) *CubeMerger {
	return &CubeMerger{
		Context: ctx,
		In:      make(chan *IndexFrame, 100),
		Out:     make(chan *DataCube, 100),
		Error:   errChan,
	}
}

func (p *CubeMerger) Run(geoReq *GeoCubeRequest, verbose bool) {
	if verbose {
		defer log.Printf("Cube Merger done")
	}
	defer close(p.Out)

	var frames []*IndexFrame
	for frame := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Cube Merger context has been cancelled: %v", p.Context.Err())
			return
		default:
			frames = append(frames, frame)
		}
	}

	numCandidates := 0
	numRetained := 0
	if geoReq.MetricsCollector != nil {
		numCandidates = geoReq.MetricsCollector.Info.Catalog.NumCandidates
		numRetained = geoReq.MetricsCollector.Info.Catalog.NumRetained
	}

	if len(frames) == 0 {
		if numCandidates == 0 {
			p.Error <- &NoDataFoundError{
				Collection: geoReq.Collection,
				StartTime:  geoReq.StartTime,
				EndTime:    geoReq.EndTime,
			}
		} else {
			p.Error <- &EmptyCubeError{
				Collection:    geoReq.Collection,
				NumCandidates: numCandidates,
				NumRetained:   numRetained,
				Threshold:     geoReq.QualityThreshold,
			}
		}
		return
	}

	sort.Slice(frames, func(i, j int) bool {
		if frames[i].TimeStamp.Equal(frames[j].TimeStamp) {
			return frames[i].SceneID < frames[j].SceneID
		}
		return frames[i].TimeStamp.Before(frames[j].TimeStamp)
	})

	if verbose {
		log.Printf("Cube Merger: %v of %v candidate scenes survive the quality filter",
			len(frames), numCandidates)
	}

	p.Out <- &DataCube{
		Grid:             geoReq.Grid,
		Frames:           frames,
		StartTime:        geoReq.StartTime,
		EndTime:          geoReq.EndTime,
		QualityThreshold: geoReq.QualityThreshold,
		NumCandidates:    numCandidates,
		NumRetained:      numRetained,
	}
}
