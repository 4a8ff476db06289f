package processor

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/nci/cubeserver/utils"
	"golang.org/x/net/context"
)

type CatalogResponse struct {
	Scenes []*SceneMeta `json:"scenes"`
	Error  string       `json:"error"`
}

// SceneIndexer queries the scene catalog for every scene whose
// footprint intersects the request window and feeds the candidates
// downstream one at a time.
type SceneIndexer struct {
	Context    context.Context
	In         chan *GeoCubeRequest
	Out        chan *candidateScene
	Error      chan error
	APIAddress string
}

func NewSceneIndexer(ctx context.Context, apiAddress string, errChan chan error) *SceneIndexer {
	return &SceneIndexer{
		Context:    ctx,
		In:         make(chan *GeoCubeRequest, 100),
		Out:        make(chan *candidateScene, 100),
		Error:      errChan,
		APIAddress: apiAddress,
	}
}

func (p *SceneIndexer) Run(verbose bool) {
	if verbose {
		defer log.Printf("Scene Indexer done")
	}
	defer close(p.Out)

	for geoReq := range p.In {
		select {
		case <-p.Context.Done():
			p.Error <- fmt.Errorf("Scene Indexer context has been cancelled: %v", p.Context.Err())
			return
		default:
		}

		reqURL := strings.Replace(fmt.Sprintf("http://%s%s?intersects&time=%s&until=%s&bbox=%f,%f,%f,%f",
			p.APIAddress, geoReq.Collection,
			geoReq.StartTime.Format(utils.ISOFormat), geoReq.EndTime.Format(utils.ISOFormat),
			geoReq.Grid.BBox[0], geoReq.Grid.BBox[1], geoReq.Grid.BBox[2], geoReq.Grid.BBox[3]), " ", "%20", -1)
		if verbose {
			log.Printf("catalog_url:%s", reqURL)
		}

		start := time.Now()
		metadata, err := p.queryCatalog(reqURL)
		if geoReq.MetricsCollector != nil {
			geoReq.MetricsCollector.Info.Catalog.URL.RawURL = reqURL
			geoReq.MetricsCollector.Info.Catalog.Duration += time.Since(start)
		}
		if err != nil {
			p.Error <- err
			continue
		}
		if len(metadata.Error) > 0 {
			p.Error <- fmt.Errorf("catalog error: %v", metadata.Error)
			continue
		}

		if geoReq.MetricsCollector != nil {
			geoReq.MetricsCollector.Info.Catalog.NumCandidates += len(metadata.Scenes)
		}
		if verbose {
			log.Printf("Indexer time: %v, scenes: %v", time.Since(start), len(metadata.Scenes))
		}

		for _, meta := range metadata.Scenes {
			select {
			case <-p.Context.Done():
				p.Error <- fmt.Errorf("Scene Indexer context has been cancelled: %v", p.Context.Err())
				return
			default:
				p.Out <- &candidateScene{Req: geoReq, Meta: meta}
			}
		}
	}
}

func (p *SceneIndexer) queryCatalog(reqURL string) (*CatalogResponse, error) {
	resp, err := http.Get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("GET request to %s failed. Error: %v", reqURL, err)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error parsing response body from %s. Error: %v", reqURL, err)
	}

	var metadata CatalogResponse
	err = json.Unmarshal(body, &metadata)
	if err != nil {
		return nil, fmt.Errorf("problem parsing catalog response: %v", err)
	}
	return &metadata, nil
}
