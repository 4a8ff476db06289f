package processor

import (
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/net/context"
)

// SceneLoader fetches the spectral bands referenced by the index
// expression for each retained scene. A scene missing any band is
// dropped and logged; the remaining scenes still form a cube.
type SceneLoader struct {
	Context     context.Context
	In          chan *candidateScene
	Out         chan *Scene
	Error       chan error
	Store       SceneStore
	Concurrency int
}

func NewSceneLoader(ctx context.Context, store SceneStore, concurrency int, errChan chan error) *SceneLoader {
	return &SceneLoader{
		Context:     ctx,
		In:          make(chan *candidateScene, 100),
		Out:         make(chan *Scene, 100),
		Error:       errChan,
		Store:       store,
		Concurrency: concurrency,
	}
}

func (p *SceneLoader) Run(verbose bool) {
	if verbose {
		defer log.Printf("Scene Loader done")
	}
	defer close(p.Out)

	cLimiter := NewConcLimiter(p.Concurrency)
	var nLoaded, nFailed, nBytes int64
	start := time.Now()

	var collectorReq *GeoCubeRequest
	for cand := range p.In {
		collectorReq = cand.Req
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Scene Loader context has been cancelled: %v", p.Context.Err())
			return
		default:
			cLimiter.Increase()
			go func(c *candidateScene) {
				defer cLimiter.Decrease()

				bands := make(map[string]*BandRaster)
				for _, varName := range c.Req.BandExpr.VarList {
					bandPath, found := c.Meta.BandPaths[varName]
					if !found {
						atomic.AddInt64(&nFailed, 1)
						log.Printf("scene %s dropped: %v", c.Meta.ID,
							&DataUnavailableError{SceneID: c.Meta.ID, Band: varName,
								Err: fmt.Errorf("no path in catalog record")})
						return
					}

					raster, err := p.Store.FetchBand(p.Context, bandPath, c.Req.Grid)
					if err != nil {
						atomic.AddInt64(&nFailed, 1)
						log.Printf("scene %s dropped: %v", c.Meta.ID,
							&DataUnavailableError{SceneID: c.Meta.ID, Band: varName, Err: err})
						return
					}
					if raster.Width != c.Req.Grid.Width || raster.Height != c.Req.Grid.Height {
						atomic.AddInt64(&nFailed, 1)
						log.Printf("scene %s dropped: band %s shape %dx%d does not match grid",
							c.Meta.ID, varName, raster.Width, raster.Height)
						return
					}
					atomic.AddInt64(&nBytes, int64(len(raster.Data))*8)
					bands[varName] = raster
				}

				atomic.AddInt64(&nLoaded, 1)
				p.Out <- &Scene{
					Meta:    c.Meta,
					Quality: c.Quality,
					Grid:    c.Req.Grid,
					Bands:   bands,
					Mask:    c.mask,
				}
			}(cand)
		}
	}
	cLimiter.Wait()

	if collectorReq != nil && collectorReq.MetricsCollector != nil {
		collectorReq.MetricsCollector.Info.Loader.NumScenes += int(nLoaded)
		collectorReq.MetricsCollector.Info.Loader.NumFailed += int(nFailed)
		collectorReq.MetricsCollector.Info.Loader.BytesRead += nBytes
		collectorReq.MetricsCollector.Info.Loader.Duration += time.Since(start)
	}
	if verbose {
		log.Printf("Scene Loader: loaded %v, failed %v", nLoaded, nFailed)
	}
}
