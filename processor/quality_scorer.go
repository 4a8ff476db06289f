package processor

import (
	"fmt"
	"log"
	"sync/atomic"

	"github.com/nci/cubeserver/utils"
	"golang.org/x/net/context"
)

// MaskFromBand derives a per-pixel validity mask from a quality band.
// A pixel is usable iff its quality value is one of the rule's valid
// values. Nodata quality pixels are never usable.
func MaskFromBand(band *BandRaster, rule *utils.MaskRule) *MaskRaster {
	mask := &MaskRaster{
		Width:  band.Width,
		Height: band.Height,
		Data:   make([]uint8, len(band.Data)),
	}
	for i, v := range band.Data {
		if v == band.NoData {
			continue
		}
		for _, valid := range rule.ValidValues {
			if v == valid {
				mask.Data[i] = 255
				break
			}
		}
	}
	return mask
}

// ScoreMask computes the fraction of usable pixels in a mask.
// An empty mask scores zero.
func ScoreMask(mask *MaskRaster) float64 {
	if len(mask.Data) == 0 {
		return 0
	}
	good := 0
	for _, v := range mask.Data {
		if v == 255 {
			good++
		}
	}
	return float64(good) / float64(len(mask.Data))
}

// QualityScorer fetches the quality band of each candidate scene,
// scores the fraction of usable pixels and forwards only scenes at
// or above the request threshold. Scenes whose quality band cannot
// be fetched are dropped with a log line, never failing the run.
type QualityScorer struct {
	Context     context.Context
	In          chan *candidateScene
	Out         chan *candidateScene
	Error       chan error
	Store       SceneStore
	Concurrency int
}

func NewQualityScorer(ctx context.Context, store SceneStore, concurrency int, errChan chan error) *QualityScorer {
	return &QualityScorer{
		Context:     ctx,
		In:          make(chan *candidateScene, 100),
		Out:         make(chan *candidateScene, 100),
		Error:       errChan,
		Store:       store,
		Concurrency: concurrency,
	}
}

func (p *QualityScorer) Run(verbose bool) {
	if verbose {
		defer log.Printf("Quality Scorer done")
	}
	defer close(p.Out)

	cLimiter := NewConcLimiter(p.Concurrency)
	var nRetained, nFiltered, nDropped int64

	var collectorReq *GeoCubeRequest
	for cand := range p.In {
		collectorReq = cand.Req
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Quality Scorer context has been cancelled: %v", p.Context.Err())
			return
		default:
			cLimiter.Increase()
			go func(c *candidateScene) {
				defer cLimiter.Decrease()

				rule := c.Req.Mask
				maskPath, found := c.Meta.BandPaths[rule.Band]
				if !found {
					atomic.AddInt64(&nDropped, 1)
					log.Printf("scene %s dropped: %v", c.Meta.ID,
						&DataUnavailableError{SceneID: c.Meta.ID, Band: rule.Band,
							Err: fmt.Errorf("no path in catalog record")})
					return
				}

				band, err := p.Store.FetchBand(p.Context, maskPath, c.Req.Grid)
				if err != nil {
					atomic.AddInt64(&nDropped, 1)
					log.Printf("scene %s dropped: %v", c.Meta.ID,
						&DataUnavailableError{SceneID: c.Meta.ID, Band: rule.Band, Err: err})
					return
				}
				if band.Width != c.Req.Grid.Width || band.Height != c.Req.Grid.Height {
					atomic.AddInt64(&nDropped, 1)
					log.Printf("scene %s dropped: quality band shape %dx%d does not match grid",
						c.Meta.ID, band.Width, band.Height)
					return
				}

				mask := MaskFromBand(band, rule)
				frac := ScoreMask(mask)
				if frac < c.Req.QualityThreshold {
					atomic.AddInt64(&nFiltered, 1)
					if verbose {
						log.Printf("scene %s filtered: good pixel fraction %.3f below %.3f",
							c.Meta.ID, frac, c.Req.QualityThreshold)
					}
					return
				}

				c.Quality = &SceneQualitySummary{
					SceneID:           c.Meta.ID,
					TimeStamp:         c.Meta.TimeStamp,
					GoodPixelFraction: frac,
				}
				c.mask = mask
				atomic.AddInt64(&nRetained, 1)
				p.Out <- c
			}(cand)
		}
	}
	cLimiter.Wait()

	if collectorReq != nil && collectorReq.MetricsCollector != nil {
		collectorReq.MetricsCollector.Info.Catalog.NumRetained += int(nRetained)
		collectorReq.MetricsCollector.Info.Catalog.NumDropped += int(nFiltered + nDropped)
	}
	if verbose {
		log.Printf("Quality Scorer: retained %v, filtered %v, dropped %v",
			nRetained, nFiltered, nDropped)
	}
}
