package processor

import (
	"fmt"
	"log"
	"math"

	"github.com/nci/cubeserver/utils"
	"golang.org/x/net/context"
)

// ComputeIndex evaluates the band expression per pixel and classifies
// each cell. A pixel masked out by the quality band, or with nodata in
// any input band, is PixelMasked. A pixel whose expression yields NaN
// or an infinity is PixelUndefined. Everything else is PixelValid.
func ComputeIndex(scene *Scene, bandExpr *utils.BandExpressions) (*IndexFrame, error) {
	if len(bandExpr.Expressions) == 0 {
		return nil, fmt.Errorf("no index expression")
	}
	expr := bandExpr.Expressions[0]
	varList := bandExpr.ExprVarRef[0]

	size := scene.Grid.Size()
	frame := &IndexFrame{
		SceneID:           scene.Meta.ID,
		TimeStamp:         scene.Meta.TimeStamp,
		GoodPixelFraction: scene.Quality.GoodPixelFraction,
		Data:              make([]float64, size),
		State:             make([]PixelState, size),
	}

	rasters := make([]*BandRaster, len(varList))
	for i, varName := range varList {
		raster, found := scene.Bands[varName]
		if !found {
			return nil, fmt.Errorf("scene %s has no band %s", scene.Meta.ID, varName)
		}
		rasters[i] = raster
	}

	params := make(map[string]interface{}, len(varList))
	for i := 0; i < size; i++ {
		if scene.Mask != nil && scene.Mask.Data[i] != 255 {
			frame.Data[i] = 0
			frame.State[i] = PixelMasked
			continue
		}

		noData := false
		for bi, raster := range rasters {
			v := raster.Data[i]
			if v == raster.NoData {
				noData = true
				break
			}
			params[varList[bi]] = v
		}
		if noData {
			frame.Data[i] = 0
			frame.State[i] = PixelMasked
			continue
		}

		result, err := expr.Evaluate(params)
		if err != nil {
			return nil, fmt.Errorf("expression evaluation failed for scene %s: %v", scene.Meta.ID, err)
		}
		val, ok := result.(float64)
		if !ok || math.IsNaN(val) || math.IsInf(val, 0) {
			frame.Data[i] = 0
			frame.State[i] = PixelUndefined
			continue
		}

		frame.Data[i] = val
		frame.State[i] = PixelValid
	}
	return frame, nil
}

// IndexCompositor turns loaded scenes into index frames. It runs
// single threaded as the arithmetic is cheap next to the fetches
// upstream of it.
type IndexCompositor struct {
	Context  context.Context
	In       chan *Scene
	Out      chan *IndexFrame
	Error    chan error
	BandExpr *utils.BandExpressions
}

func NewIndexCompositor(ctx context.Context, bandExpr *utils.BandExpressions, errChan chan error) *IndexCompositor {
	return &IndexCompositor{
		Context:  ctx,
		In:       make(chan *Scene, 100),
		Out:      make(chan *IndexFrame, 100),
		Error:    errChan,
		BandExpr: bandExpr,
	}
}

func (p *IndexCompositor) Run(verbose bool) {
	if verbose {
		defer log.Printf("Index Compositor done")
	}
	defer close(p.Out)

	for scene := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Index Compositor context has been cancelled: %v", p.Context.Err())
			return
		default:
		}

		frame, err := ComputeIndex(scene, p.BandExpr)
		if err != nil {
			log.Printf("scene %s dropped: %v", scene.Meta.ID, err)
			continue
		}
		p.Out <- frame
	}
}
