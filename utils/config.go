package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

var EtcDir = "."
var DataDir = "."

// string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

type ServiceConfig struct {
	CubeHostname    string `json:"cube_hostname"`
	MASAddress      string `json:"mas_address"`
	ArchiveAddress  string `json:"archive_address"`
	MemcacheAddress string `json:"memcache_address"`
}

// MaskRule describes how the per-pixel validity mask is derived
// from one of the archive's classification bands. A pixel is usable
// iff its mask band value equals one of ValidValues.
type MaskRule struct {
	Band        string    `json:"band"`
	ValidValues []float64 `json:"valid_values"`
}

// Collection contains all the details one imagery collection needs
// to be queried, filtered and composited into a data cube.
type Collection struct {
	Name             string    `json:"name"`
	Title            string    `json:"title"`
	Abstract         string    `json:"abstract"`
	DataSource       string    `json:"data_source"`
	IndexExpressions []string  `json:"index_expressions"`
	Mask             *MaskRule `json:"mask"`
	Resolution       float64   `json:"resolution"`
	QualityThreshold float64   `json:"quality_threshold"`
	WindowYears      int       `json:"window_years"`
	ScoreConcurrency int       `json:"score_concurrency"`
	LoadConcurrency  int       `json:"load_concurrency"`
	RequestTimeoutMS int       `json:"request_timeout_ms"`
	MaxRetries       int       `json:"max_retries"`

	IndexExpr *BandExpressions
}

const DefaultQualityThreshold = 0.5
const DefaultWindowYears = 2
const DefaultResolution = 0.0001
const DefaultScoreConcurrency = 8
const DefaultLoadConcurrency = 4
const DefaultRequestTimeoutMS = 30000
const DefaultMaxRetries = 3

// DefaultIndexExpression is the normalised difference vegetation
// index over the archive's near-infrared and red bands.
const DefaultIndexExpression = "(nir - red) / (nir + red)"

// Config is the struct representing the configuration of a cube
// server. It contains information about the scene catalog API as
// well as the list of imagery collections that can be served.
type Config struct {
	ServiceConfig ServiceConfig `json:"service_config"`
	Collections   []Collection  `json:"collections"`
}

// LoadConfigFile unmarshalls the config.json document returning an
// instance of a Config variable containing all the values
func (config *Config) LoadConfigFile(configFile string) error {
	*config = Config{}
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	err = json.Unmarshal(cfg, config)
	if err != nil {
		return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
	}

	for i := range config.Collections {
		coll := &config.Collections[i]
		if len(coll.IndexExpressions) == 0 {
			coll.IndexExpressions = []string{DefaultIndexExpression}
		}

		indexExpr, err := ParseBandExpressions(coll.IndexExpressions)
		if err != nil {
			return fmt.Errorf("collection %s: error parsing index expressions: %v", coll.Name, err)
		}
		coll.IndexExpr = indexExpr

		if coll.Mask == nil || len(coll.Mask.Band) == 0 {
			return fmt.Errorf("collection %s: a validity mask band must be configured", coll.Name)
		}

		if coll.QualityThreshold <= 0 {
			coll.QualityThreshold = DefaultQualityThreshold
		}
		if coll.WindowYears <= 0 {
			coll.WindowYears = DefaultWindowYears
		}
		if coll.Resolution <= 0 {
			coll.Resolution = DefaultResolution
		}
		if coll.ScoreConcurrency <= 0 {
			coll.ScoreConcurrency = DefaultScoreConcurrency
		}
		if coll.LoadConcurrency <= 0 {
			coll.LoadConcurrency = DefaultLoadConcurrency
		}
		if coll.RequestTimeoutMS <= 0 {
			coll.RequestTimeoutMS = DefaultRequestTimeoutMS
		}
		if coll.MaxRetries <= 0 {
			coll.MaxRetries = DefaultMaxRetries
		}
	}

	return nil
}

// RequestTimeout is the per scene archive request timeout for a collection.
func (coll *Collection) RequestTimeout() time.Duration {
	return time.Duration(coll.RequestTimeoutMS) * time.Millisecond
}

// GetCollection looks a collection up by name.
func (config *Config) GetCollection(name string) (*Collection, error) {
	for i := range config.Collections {
		if config.Collections[i].Name == name {
			return &config.Collections[i], nil
		}
	}
	return nil, fmt.Errorf("collection %s not found in config", name)
}

func LoadAllConfigFiles(rootDir string, verbose bool) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.Name() == "config.json" {
			relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
			if verbose {
				log.Printf("Loading config file: %s under namespace: %s\n", path, relPath)
			}

			config := &Config{}
			e := config.LoadConfigFile(path)
			if e != nil {
				return e
			}

			configMap[relPath] = config
		}
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

func WatchConfig(infoLog, errLog *log.Logger, configMap *map[string]*Config, verbose bool) {
	// Catch SIGHUP to automatically reload config
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-sighup:
				infoLog.Println("Caught SIGHUP, reloading config...")
				confMap, err := LoadAllConfigFiles(EtcDir, verbose)
				if err != nil {
					errLog.Printf("Error in loading config files: %v\n", err)
					return
				}

				for k := range *configMap {
					delete(*configMap, k)
				}

				for k := range confMap {
					(*configMap)[k] = confMap[k]
				}
			}
		}
	}()
}
