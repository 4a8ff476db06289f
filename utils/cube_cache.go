package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/nci/gomemcache/memcache"
)

// CubeCache is an optional memcache-backed store for built data
// cubes. A cache entry is keyed by the full cube build request so
// that any change in area, window or threshold misses.
type CubeCache struct {
	mc      *memcache.Client
	verbose bool
}

// NewCubeCache returns nil for an empty uri; callers treat a nil
// cache as a permanent miss.
func NewCubeCache(mcURI string, verbose bool) *CubeCache {
	if len(mcURI) == 0 {
		return nil
	}
	return &CubeCache{
		mc:      memcache.New(mcURI),
		verbose: verbose,
	}
}

// CubeCacheKey hashes the identifying parts of a cube build request.
func CubeCacheKey(collection string, bbox []float64, startTime, endTime time.Time, threshold float64) string {
	payload := fmt.Sprintf("%s|%.8f,%.8f,%.8f,%.8f|%s|%s|%.4f",
		collection, bbox[0], bbox[1], bbox[2], bbox[3],
		startTime.Format(ISOFormat), endTime.Format(ISOFormat), threshold)
	buff := md5.Sum([]byte(payload))
	return hex.EncodeToString(buff[:])
}

func (c *CubeCache) Get(key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	cached, err := c.mc.Get(key)
	if err != nil {
		return nil, false
	}
	if c.verbose {
		log.Printf("cube cache hit: %s", key)
	}
	return cached.Value, true
}

func (c *CubeCache) Put(key string, value []byte) {
	if c == nil {
		return
	}
	// don't care about errors; memcache may not necessarily retain this anyway
	err := c.mc.Set(&memcache.Item{Key: key, Value: value})
	if err != nil && c.verbose {
		log.Printf("cube cache set error: %v", err)
	}
}
