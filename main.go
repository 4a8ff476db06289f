package main

/* cubeserver builds cleaned vegetation index data cubes around a
   point of interest and serves interactive zonal statistics on them.
   A cube is assembled from the scenes a catalog service reports for
   the area and window, filtered by per-scene quality, and held in a
   session against which polygons can be drawn. Configuration of the
   server is specified in the config.json file where collections and
   their quality rules are defined.
   This server depends on two other services to operate: the catalog
   server which registers the scenes involved in one request and the
   imagery archive which serves the warped band rasters. */

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	reuseport "github.com/kavu/go_reuseport"

	"github.com/nci/cubeserver/metrics"
	proc "github.com/nci/cubeserver/processor"
	"github.com/nci/cubeserver/utils"

	_ "net/http/pprof"
)

// Global variable to hold the values specified
// on the config.json document.
var configMap map[string]*utils.Config

var (
	port            = flag.Int("p", 8080, "Server listening port.")
	serverDataDir   = flag.String("data_dir", utils.DataDir, "Server data directory.")
	serverConfigDir = flag.String("conf_dir", utils.EtcDir, "Server config directory.")
	serverLogDir    = flag.String("log_dir", "", "Server log directory.")
	sessionTTL      = flag.Duration("session_ttl", 2*time.Hour, "Idle session expiry.")
	validateConfig  = flag.Bool("check_conf", false, "Validate server config files.")
	verbose         = flag.Bool("v", false, "Verbose mode for more server outputs.")
)

var (
	Error *log.Logger
	Info  *log.Logger
)

var metricsLogger metrics.Logger
var sessions *proc.SessionManager
var cubeCache *utils.CubeCache

// init initialises the loggers, checks required files are in place
// and sets the Config struct. This is the first function to be
// called in main.
func init() {
	Error = log.New(os.Stderr, "CUBE: ", log.Ldate|log.Ltime|log.Lshortfile)
	Info = log.New(os.Stdout, "CUBE: ", log.Ldate|log.Ltime|log.Lshortfile)

	flag.Parse()

	utils.DataDir = *serverDataDir
	utils.EtcDir = *serverConfigDir

	filePaths := []string{
		utils.DataDir + "/templates/map.jet"}

	for _, filePath := range filePaths {
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			panic(err)
		}
	}

	confMap, err := utils.LoadAllConfigFiles(utils.EtcDir, *verbose)
	if err != nil {
		Error.Printf("Error in loading config files: %v\n", err)
		panic(err)
	}

	if *validateConfig {
		os.Exit(0)
	}

	configMap = confMap

	utils.WatchConfig(Info, Error, &configMap, *verbose)

	if conf, ok := configMap["."]; ok {
		cubeCache = utils.NewCubeCache(conf.ServiceConfig.MemcacheAddress, *verbose)
	}

	sessions = proc.NewSessionManager(*sessionTTL)

	if len(*serverLogDir) > 0 {
		if *serverLogDir == "-" {
			metricsLogger = metrics.NewStdoutLogger()
		} else {
			maxLogFileSize := int64(0)
			if val, ok := os.LookupEnv("CUBE_MAX_LOG_FILE_SIZE"); ok {
				valInt, e := strconv.ParseInt(val, 10, 64)
				if e == nil {
					maxLogFileSize = valInt
				} else {
					Error.Printf("invalid CUBE_MAX_LOG_FILE_SIZE: %v", e)
				}
			}

			maxLogFiles := -1
			if val, ok := os.LookupEnv("CUBE_MAX_LOG_FILES"); ok {
				valInt, e := strconv.ParseInt(val, 10, 32)
				if e == nil {
					maxLogFiles = int(valInt)
				} else {
					Error.Printf("invalid CUBE_MAX_LOG_FILES: %v", e)
				}
			}

			metricsLogger = metrics.NewFileLogger(*serverLogDir, maxLogFileSize, maxLogFiles, *verbose)
		}
	}
}

func fileHandler(w http.ResponseWriter, r *http.Request) {
	upath := r.URL.Path
	if !strings.HasPrefix(upath, "/") {
		upath = "/" + upath
		r.URL.Path = upath
	}
	upath = path.Clean(upath)
	upath = strings.TrimPrefix(upath, "/static")
	upath = filepath.Join(utils.DataDir+"/static", upath)

	if *verbose {
		Info.Printf("%s -> %s\n", r.URL.String(), upath)
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	http.ServeFile(w, r, upath)
}

func main() {
	http.HandleFunc("/", pageHandler)
	http.HandleFunc("/static/", fileHandler)
	http.HandleFunc("/session", sessionHandler)
	http.HandleFunc("/session/", sessionHandler)

	listener, err := reuseport.Listen("tcp", fmt.Sprintf("0.0.0.0:%d", *port))
	if err != nil {
		Error.Fatalf("listener error: %v", err)
	}

	Info.Printf("Cube server is ready")
	log.Fatal(http.Serve(listener, nil))
}
