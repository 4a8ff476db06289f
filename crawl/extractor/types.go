package extractor

import "time"

// PosixInfo identifies the metadata file a scene record came from.
// The ID folds the path, size and mtime so re-crawls of an unchanged
// file produce the same record identity.
type PosixInfo struct {
	FilePath string    `json:"file_path"`
	Size     int64     `json:"size"`
	MTime    time.Time `json:"mtime"`
	ID       string    `json:"id"`
}

// SceneBand is one spectral or classification band of a scene as
// recorded in its metadata document.
type SceneBand struct {
	Path   string `json:"path"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// SceneRecord is the crawler's output, one JSON line per scene,
// shaped for catalog ingest.
type SceneRecord struct {
	ID        string            `json:"id"`
	TimeStamp time.Time         `json:"timestamp"`
	BBox      []float64         `json:"bbox"`
	BandPaths map[string]string `json:"band_paths"`
	Bands     map[string]*SceneBand `json:"bands,omitempty"`
	PosixInfo *PosixInfo        `json:"posix_info,omitempty"`
}
