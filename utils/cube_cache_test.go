package utils

import (
	"testing"
	"time"
)

func TestCubeCacheKey(test *testing.T) {
	bbox := []float64{30, -10, 30.04, -9.96}
	start := time.Date(2018, 8, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 8, 1, 0, 0, 0, 0, time.UTC)

	key := CubeCacheKey("/sentinel2_ard", bbox, start, end, 0.5)
	if len(key) != 32 {
		test.Fatalf("key: got %d hex chars, want 32", len(key))
	}
	if key != CubeCacheKey("/sentinel2_ard", bbox, start, end, 0.5) {
		test.Errorf("identical requests hash to different keys")
	}

	variants := map[string]string{
		"collection": CubeCacheKey("/landsat8_ard", bbox, start, end, 0.5),
		"bbox":       CubeCacheKey("/sentinel2_ard", []float64{31, -10, 31.04, -9.96}, start, end, 0.5),
		"window":     CubeCacheKey("/sentinel2_ard", bbox, start.AddDate(0, 1, 0), end, 0.5),
		"threshold":  CubeCacheKey("/sentinel2_ard", bbox, start, end, 0.8),
	}
	for name, variant := range variants {
		if variant == key {
			test.Errorf("changing the %s did not change the key", name)
		}
	}
}

func TestNilCubeCache(test *testing.T) {
	cache := NewCubeCache("", false)
	if cache != nil {
		test.Fatalf("empty uri should disable the cache")
	}

	// a nil cache is a permanent miss and swallows writes
	if _, found := cache.Get("any"); found {
		test.Errorf("nil cache reported a hit")
	}
	cache.Put("any", []byte("value"))
}
