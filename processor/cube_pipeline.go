package processor

import (
	"fmt"

	"golang.org/x/net/context"
)

// CubePipeline wires the staged cube build: index the catalog, score
// scene quality, load the bands, evaluate the index expression and
// merge the survivors into an ordered cube.
type CubePipeline struct {
	Context    context.Context
	Error      chan error
	APIAddress string
	Store      SceneStore
}

func InitCubePipeline(ctx context.Context, apiAddress string, store SceneStore, errChan chan error) *CubePipeline {
	return &CubePipeline{
		Context:    ctx,
		Error:      errChan,
		APIAddress: apiAddress,
		Store:      store,
	}
}

func (cp *CubePipeline) Process(geoReq *GeoCubeRequest, scoreConc int, loadConc int, verbose bool) chan *DataCube {
	indexer := NewSceneIndexer(cp.Context, cp.APIAddress, cp.Error)
	scorer := NewQualityScorer(cp.Context, cp.Store, scoreConc, cp.Error)
	loader := NewSceneLoader(cp.Context, cp.Store, loadConc, cp.Error)
	compositor := NewIndexCompositor(cp.Context, geoReq.BandExpr, cp.Error)
	merger := NewCubeMerger(cp.Context, cp.Error)

	go func() {
		indexer.In <- geoReq
		close(indexer.In)
	}()

	scorer.In = indexer.Out
	loader.In = scorer.Out
	compositor.In = loader.Out
	merger.In = compositor.Out

	go indexer.Run(verbose)
	go scorer.Run(verbose)
	go loader.Run(verbose)
	go compositor.Run(verbose)
	go merger.Run(geoReq, verbose)

	return merger.Out
}

// BuildCube runs the pipeline to completion for one request. It is
// the synchronous entry point used by the session layer and tests.
func BuildCube(ctx context.Context, apiAddress string, store SceneStore, geoReq *GeoCubeRequest, scoreConc int, loadConc int, verbose bool) (*DataCube, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errChan := make(chan error, 100)
	pipeline := InitCubePipeline(ctx, apiAddress, store, errChan)
	proc := pipeline.Process(geoReq, scoreConc, loadConc, verbose)

	var cube *DataCube
	for c := range proc {
		cube = c
	}

	select {
	case err := <-errChan:
		return nil, err
	default:
	}
	if cube == nil {
		return nil, fmt.Errorf("cube pipeline produced no result")
	}
	return cube, nil
}
