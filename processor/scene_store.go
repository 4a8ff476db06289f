package processor

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/net/context"
)

// SceneStore fetches one spectral band of one scene, warped onto
// the request grid. Implementations own their timeout and retry
// policies; a failed fetch drops the scene, never the pipeline.
type SceneStore interface {
	FetchBand(ctx context.Context, bandPath string, grid *Grid) (*BandRaster, error)
}

// HTTPSceneStore talks to the imagery archive's band endpoint with
// bounded retries and exponential backoff per request.
type HTTPSceneStore struct {
	Address     string
	Client      *http.Client
	MaxRetries  int
	BackoffBase time.Duration

	retries int64
	bytes   int64
}

func NewHTTPSceneStore(address string, timeout time.Duration, maxRetries int) *HTTPSceneStore {
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &HTTPSceneStore{
		Address:     address,
		Client:      &http.Client{Timeout: timeout},
		MaxRetries:  maxRetries,
		BackoffBase: 500 * time.Millisecond,
	}
}

// Retries reports the retry count accumulated so far; callers take
// deltas around a pipeline run to attribute them to one request.
func (s *HTTPSceneStore) Retries() int64 {
	return atomic.LoadInt64(&s.retries)
}

func (s *HTTPSceneStore) BytesRead() int64 {
	return atomic.LoadInt64(&s.bytes)
}

func (s *HTTPSceneStore) FetchBand(ctx context.Context, bandPath string, grid *Grid) (*BandRaster, error) {
	reqURL := strings.Replace(fmt.Sprintf("http://%s%s?bbox=%f,%f,%f,%f&width=%d&height=%d",
		s.Address, bandPath, grid.BBox[0], grid.BBox[1], grid.BBox[2], grid.BBox[3],
		grid.Width, grid.Height), " ", "%20", -1)

	var lastErr error
	for attempt := 0; attempt < s.MaxRetries; attempt++ {
		if attempt > 0 {
			atomic.AddInt64(&s.retries, 1)
			backoff := s.BackoffBase << uint(attempt-1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		raster, err := s.fetchOnce(ctx, reqURL)
		if err == nil {
			atomic.AddInt64(&s.bytes, int64(len(raster.Data))*8)
			return raster, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("GET %s failed after %d attempts: %v", reqURL, s.MaxRetries, lastErr)
}

func (s *HTTPSceneStore) fetchOnce(ctx context.Context, reqURL string) (*BandRaster, error) {
	req, err := http.NewRequest("GET", reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.Client.Do(req.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("archive returned status %d", resp.StatusCode)
	}

	var raster BandRaster
	err = json.Unmarshal(body, &raster)
	if err != nil {
		return nil, fmt.Errorf("problem parsing raster response: %v", err)
	}
	if len(raster.Data) != raster.Width*raster.Height {
		return nil, fmt.Errorf("raster shape mismatch: %dx%d with %d values",
			raster.Width, raster.Height, len(raster.Data))
	}
	return &raster, nil
}
