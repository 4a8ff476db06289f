package extractor

import (
	"crypto/md5"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"
)

// sceneTimeFormats are tried in order when parsing the acquisition
// timestamp of a metadata document.
var sceneTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05.000Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ExtractSceneYaml parses one scene metadata document into a catalog
// record. Band paths relative to the document are resolved against
// its directory.
func ExtractSceneYaml(filename string) (*SceneRecord, error) {
	rawData, err := ioutil.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	type ArdBand struct {
		Path   string
		Width  int
		Height int
	}

	type ArdMetadata struct {
		Id       string
		Acquired string

		Grid struct {
			Bbox   []float64
			Width  int
			Height int
		}

		Image struct {
			Bands map[string]*ArdBand
		}

		Mask struct {
			Band string
			Path string
		}
	}

	ard := ArdMetadata{}
	err = yaml.Unmarshal(rawData, &ard)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", filename, err)
	}

	if len(ard.Id) == 0 {
		return nil, fmt.Errorf("%s: scene document has no id", filename)
	}
	if len(ard.Image.Bands) == 0 {
		return nil, fmt.Errorf("%s: scene document has no bands", filename)
	}

	var acquired time.Time
	parsed := false
	for _, format := range sceneTimeFormats {
		if t, e := time.Parse(format, ard.Acquired); e == nil {
			acquired = t.UTC()
			parsed = true
			break
		}
	}
	if !parsed {
		return nil, fmt.Errorf("%s: could not parse acquisition time: %s", filename, ard.Acquired)
	}

	baseDir := filepath.Dir(filename)
	resolve := func(p string) string {
		if filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(baseDir, p)
	}

	record := &SceneRecord{
		ID:        ard.Id,
		TimeStamp: acquired,
		BBox:      ard.Grid.Bbox,
		BandPaths: make(map[string]string),
		Bands:     make(map[string]*SceneBand),
	}

	for name, band := range ard.Image.Bands {
		if band == nil || len(band.Path) == 0 {
			return nil, fmt.Errorf("%s: band %s has no path", filename, name)
		}
		width, height := band.Width, band.Height
		if width == 0 {
			width = ard.Grid.Width
		}
		if height == 0 {
			height = ard.Grid.Height
		}
		record.BandPaths[name] = resolve(band.Path)
		record.Bands[name] = &SceneBand{Path: resolve(band.Path), Width: width, Height: height}
	}

	if len(ard.Mask.Band) > 0 && len(ard.Mask.Path) > 0 {
		record.BandPaths[ard.Mask.Band] = resolve(ard.Mask.Path)
		record.Bands[ard.Mask.Band] = &SceneBand{Path: resolve(ard.Mask.Path), Width: ard.Grid.Width, Height: ard.Grid.Height}
	}

	if fStat, fErr := os.Lstat(filename); fErr == nil {
		record.PosixInfo = GetPosixInfo(filename, fStat)
	}
	return record, nil
}

func GetPosixInfo(filePath string, fStat os.FileInfo) *PosixInfo {
	fileSignature := fmt.Sprintf("%s%d%d", filePath, fStat.Size(), fStat.ModTime().UnixNano())
	return &PosixInfo{
		FilePath: filePath,
		Size:     fStat.Size(),
		MTime:    fStat.ModTime().UTC(),
		ID:       fmt.Sprintf("%x", md5.Sum([]byte(fileSignature))),
	}
}
