package extractor

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSceneDoc = `
id: S2A_MSIL2A_20190601T072621
acquired: 2019-06-01T07:26:21Z
grid:
  bbox: [30.0, -10.0, 30.04, -9.96]
  width: 400
  height: 400
image:
  bands:
    nir:
      path: B08.tif
    red:
      path: B04.tif
      width: 200
      height: 200
mask:
  band: scl
  path: SCL.tif
`

func writeTestScene(test *testing.T, dir, name, doc string) string {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
		test.Fatalf("writing scene document: %v", err)
	}
	return path
}

func TestExtractSceneYaml(test *testing.T) {
	dir := test.TempDir()
	path := writeTestScene(test, dir, "scene.odc-metadata.yaml", testSceneDoc)

	record, err := ExtractSceneYaml(path)
	if err != nil {
		test.Fatalf("ExtractSceneYaml: %v", err)
	}

	if record.ID != "S2A_MSIL2A_20190601T072621" {
		test.Errorf("id: got %s", record.ID)
	}
	want := time.Date(2019, 6, 1, 7, 26, 21, 0, time.UTC)
	if !record.TimeStamp.Equal(want) {
		test.Errorf("timestamp: got %v, want %v", record.TimeStamp, want)
	}
	if len(record.BBox) != 4 || record.BBox[0] != 30.0 {
		test.Errorf("bbox: got %v", record.BBox)
	}

	// mask band merged alongside the spectral bands, relative paths
	// resolved against the document directory
	if len(record.BandPaths) != 3 {
		test.Fatalf("band paths: got %v, want nir, red and scl", record.BandPaths)
	}
	if record.BandPaths["nir"] != filepath.Join(dir, "B08.tif") {
		test.Errorf("nir path: got %s", record.BandPaths["nir"])
	}
	if record.BandPaths["scl"] != filepath.Join(dir, "SCL.tif") {
		test.Errorf("scl path: got %s", record.BandPaths["scl"])
	}

	// band shape falls back to the grid shape when unset
	if record.Bands["nir"].Width != 400 || record.Bands["nir"].Height != 400 {
		test.Errorf("nir shape: got %dx%d, want 400x400", record.Bands["nir"].Width, record.Bands["nir"].Height)
	}
	if record.Bands["red"].Width != 200 {
		test.Errorf("red width: got %d, want its own 200", record.Bands["red"].Width)
	}

	if record.PosixInfo == nil || record.PosixInfo.FilePath != path {
		test.Errorf("posix info: got %+v", record.PosixInfo)
	}
}

func TestExtractSceneYamlRejects(test *testing.T) {
	dir := test.TempDir()
	docs := map[string]string{
		"no_id.yaml":    "acquired: 2019-06-01\nimage:\n  bands:\n    nir:\n      path: B08.tif\n",
		"no_bands.yaml": "id: scene\nacquired: 2019-06-01\n",
		"bad_time.yaml": "id: scene\nacquired: June 2019\nimage:\n  bands:\n    nir:\n      path: B08.tif\n",
		"no_path.yaml":  "id: scene\nacquired: 2019-06-01\nimage:\n  bands:\n    nir: {}\n",
	}
	for name, doc := range docs {
		path := writeTestScene(test, dir, name, doc)
		if _, err := ExtractSceneYaml(path); err == nil {
			test.Errorf("%s: accepted", name)
		}
	}
}

func TestExtractScenes(test *testing.T) {
	root := test.TempDir()
	subDir := filepath.Join(root, "2019", "06")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		test.Fatalf("mkdir: %v", err)
	}
	writeTestScene(test, subDir, "scene.odc-metadata.yaml", testSceneDoc)
	writeTestScene(test, subDir, "unrelated.txt", "not a scene")
	writeTestScene(test, root, "broken.odc-metadata.yaml", "id: [")

	var out bytes.Buffer
	pattern := `type == 'd' || path =~ '\\.odc-metadata\\.yaml'`
	if err := ExtractScenes(root, 4, pattern, &out); err != nil {
		test.Fatalf("ExtractScenes: %v", err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(lines) != 1 {
		test.Fatalf("records: got %d, want 1 (broken document skipped)", len(lines))
	}

	var record SceneRecord
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		test.Fatalf("record is not valid JSON: %v", err)
	}
	if record.ID != "S2A_MSIL2A_20190601T072621" {
		test.Errorf("id: got %s", record.ID)
	}
}

func TestParsePatternExpression(test *testing.T) {
	if _, err := parsePatternExpression(`type == 'd' || path =~ 'yaml'`); err != nil {
		test.Errorf("valid pattern rejected: %v", err)
	}
	if expr, err := parsePatternExpression("  "); err != nil || expr != nil {
		test.Errorf("blank pattern should compile to nil, got %v, %v", expr, err)
	}
	if _, err := parsePatternExpression(`size > 100`); err == nil {
		test.Errorf("pattern with unsupported variable accepted")
	}
}
