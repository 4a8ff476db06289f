package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CloudyKit/jet"

	"github.com/nci/cubeserver/metrics"
	proc "github.com/nci/cubeserver/processor"
	"github.com/nci/cubeserver/utils"
)

func httpJSONError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	http.Error(w, fmt.Sprintf(`{ "error": %q }`, err.Error()), status)
}

// floatOrNull keeps NaN out of JSON responses.
func floatOrNull(v float64) interface{} {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func seriesJSON(points []*proc.TimeSeriesPoint) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(points))
	for _, pt := range points {
		out = append(out, map[string]interface{}{
			"date":    pt.TimeStamp.Format(utils.ISOFormat),
			"mean":    floatOrNull(pt.Mean),
			"count":   pt.Count,
			"missing": pt.Missing,
		})
	}
	return out
}

func sessionSummary(sess *proc.Session) map[string]interface{} {
	cube := sess.Cube
	scenes := make([]map[string]interface{}, 0, len(cube.Frames))
	for _, frame := range cube.Frames {
		scenes = append(scenes, map[string]interface{}{
			"scene_id":            frame.SceneID,
			"timestamp":           frame.TimeStamp.Format(utils.ISOFormat),
			"good_pixel_fraction": frame.GoodPixelFraction,
		})
	}
	return map[string]interface{}{
		"session_id":        sess.ID,
		"collection":        sess.Collection,
		"bbox":              cube.Grid.BBox,
		"width":             cube.Grid.Width,
		"height":            cube.Grid.Height,
		"start_time":        cube.StartTime.Format(utils.ISOFormat),
		"end_time":          cube.EndTime.Format(utils.ISOFormat),
		"quality_threshold": cube.QualityThreshold,
		"num_candidates":    cube.NumCandidates,
		"num_retained":      cube.NumRetained,
		"num_frames":        len(cube.Frames),
		"scenes":            scenes,
	}
}

func parseFloatParam(query url.Values, name string) (float64, error) {
	vals, found := query[name]
	if !found || len(vals) == 0 {
		return 0, fmt.Errorf("missing parameter: %s", name)
	}
	v, err := strconv.ParseFloat(vals[0], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %v", name, err)
	}
	return v, nil
}

func parseTimeParam(query url.Values, name string) (time.Time, error) {
	vals, found := query[name]
	if !found || len(vals) == 0 {
		return time.Time{}, fmt.Errorf("missing parameter: %s", name)
	}
	for _, format := range []string{utils.ISOFormat, "2006-01-02"} {
		if t, err := time.Parse(format, vals[0]); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid %s: %s", name, vals[0])
}

// serveSessionCreate builds a cube around a point of interest and
// opens a session on it. The cube cache is consulted first so a
// repeated build of the same extent and window is a memcache hit.
func serveSessionCreate(ctx context.Context, conf *utils.Config, query url.Values, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) {
	collName := query.Get("collection")
	if len(collName) == 0 && len(conf.Collections) == 1 {
		collName = conf.Collections[0].Name
	}
	coll, err := conf.GetCollection(collName)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 404
		httpJSONError(w, err, 404)
		return
	}

	lat, latErr := parseFloatParam(query, "lat")
	lon, lonErr := parseFloatParam(query, "lon")
	buffer, bufErr := parseFloatParam(query, "buffer")
	refTime, timeErr := parseTimeParam(query, "date")
	for _, e := range []error{latErr, lonErr, bufErr, timeErr} {
		if e != nil {
			metricsCollector.Info.HTTPStatus = 400
			httpJSONError(w, e, 400)
			return
		}
	}

	threshold := coll.QualityThreshold
	if len(query.Get("threshold")) > 0 {
		threshold, err = parseFloatParam(query, "threshold")
		if err != nil || threshold < 0 || threshold > 1 {
			metricsCollector.Info.HTTPStatus = 400
			httpJSONError(w, fmt.Errorf("threshold must be a number between 0 and 1"), 400)
			return
		}
	}

	bbox := []float64{lon - buffer, lat - buffer, lon + buffer, lat + buffer}
	cells := int(math.Ceil(2 * buffer / coll.Resolution))
	if cells < 1 {
		cells = 1
	}
	grid := &proc.Grid{BBox: bbox, Width: cells, Height: cells}
	startTime := refTime.AddDate(-coll.WindowYears, 0, 0)

	var cube *proc.DataCube
	cacheKey := utils.CubeCacheKey(coll.Name, bbox, startTime, refTime, threshold)
	if cubeCache != nil {
		if cached, found := cubeCache.Get(cacheKey); found {
			var cachedCube proc.DataCube
			if e := json.Unmarshal(cached, &cachedCube); e == nil {
				cube = &cachedCube
				if *verbose {
					Info.Printf("cube cache hit: %s", cacheKey)
				}
			}
		}
	}

	if cube == nil {
		store := proc.NewHTTPSceneStore(conf.ServiceConfig.ArchiveAddress, coll.RequestTimeout(), coll.MaxRetries)
		geoReq := &proc.GeoCubeRequest{
			Collection:       "/" + coll.Name,
			BBox:             bbox,
			Grid:             grid,
			StartTime:        startTime,
			EndTime:          refTime,
			QualityThreshold: threshold,
			BandExpr:         coll.IndexExpr,
			Mask:             coll.Mask,
			MetricsCollector: metricsCollector,
		}

		cube, err = proc.BuildCube(ctx, conf.ServiceConfig.MASAddress, store,
			geoReq, coll.ScoreConcurrency, coll.LoadConcurrency, *verbose)
		metricsCollector.Info.Loader.NumRetries += int(store.Retries())
		if err != nil {
			var noData *proc.NoDataFoundError
			var emptyCube *proc.EmptyCubeError
			switch {
			case errors.As(err, &noData):
				metricsCollector.Info.HTTPStatus = 404
				httpJSONError(w, err, 404)
			case errors.As(err, &emptyCube):
				metricsCollector.Info.HTTPStatus = 400
				httpJSONError(w, err, 400)
			default:
				Error.Printf("cube build failed: %v\n", err)
				metricsCollector.Info.HTTPStatus = 500
				httpJSONError(w, err, 500)
			}
			return
		}

		if cubeCache != nil {
			if payload, e := json.Marshal(cube); e == nil {
				cubeCache.Put(cacheKey, payload)
			}
		}
	}

	sess, err := sessions.New(coll.Name, cube)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 500
		httpJSONError(w, err, 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sessionSummary(sess))
}

func serveDraw(ctx context.Context, sess *proc.Session, w http.ResponseWriter, r *http.Request, metricsCollector *metrics.MetricsCollector) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		httpJSONError(w, fmt.Errorf("error reading draw payload: %v", err), 400)
		return
	}

	poly, err := proc.ParseGeoJSONFeature(body)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		httpJSONError(w, err, 400)
		return
	}

	series, err := sess.Draw(ctx, poly)
	if err != nil {
		var invalidGeom *proc.InvalidGeometryError
		var outOfBounds *proc.OutOfBoundsError
		switch {
		case errors.Is(err, proc.ErrSuperseded):
			metricsCollector.Info.HTTPStatus = 409
			httpJSONError(w, err, 409)
		case errors.As(err, &invalidGeom), errors.As(err, &outOfBounds):
			metricsCollector.Info.HTTPStatus = 400
			httpJSONError(w, err, 400)
		default:
			metricsCollector.Info.HTTPStatus = 500
			httpJSONError(w, err, 500)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"session_id": sess.ID,
		"points":     seriesJSON(series),
	})
}

func activeSeriesOr404(sess *proc.Session, w http.ResponseWriter, metricsCollector *metrics.MetricsCollector) ([]*proc.TimeSeriesPoint, bool) {
	series, found := sess.ActiveSeries()
	if !found {
		metricsCollector.Info.HTTPStatus = 404
		httpJSONError(w, fmt.Errorf("no polygon drawn on this session yet"), 404)
		return nil, false
	}
	return series, true
}

func serveSessionOp(ctx context.Context, sess *proc.Session, op string, query url.Values, w http.ResponseWriter, r *http.Request, metricsCollector *metrics.MetricsCollector) {
	switch op {
	case "draw":
		if r.Method != "POST" {
			metricsCollector.Info.HTTPStatus = 405
			httpJSONError(w, fmt.Errorf("draw requires POST"), 405)
			return
		}
		serveDraw(ctx, sess, w, r, metricsCollector)

	case "series.csv":
		series, found := activeSeriesOr404(sess, w, metricsCollector)
		if !found {
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(proc.EncodeSeriesCSV(series)))

	case "series.png":
		series, found := activeSeriesOr404(sess, w, metricsCollector)
		if !found {
			return
		}
		title := fmt.Sprintf("%s %s - %s", sess.Collection,
			sess.Cube.StartTime.Format("2006-01-02"), sess.Cube.EndTime.Format("2006-01-02"))
		img, err := proc.EncodeSeriesPNG(series, title, 800, 400)
		if err != nil {
			metricsCollector.Info.HTTPStatus = 500
			httpJSONError(w, err, 500)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(img)

	case "phenology":
		series, found := activeSeriesOr404(sess, w, metricsCollector)
		if !found {
			return
		}
		methodSOS := query.Get("method_sos")
		if len(methodSOS) == 0 {
			methodSOS = "first"
		}
		methodEOS := query.Get("method_eos")
		if len(methodEOS) == 0 {
			methodEOS = "last"
		}
		m, err := proc.Phenology(series, methodSOS, methodEOS)
		if err != nil {
			metricsCollector.Info.HTTPStatus = 400
			httpJSONError(w, err, 400)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"SOS": floatOrNull(m.SOS), "POS": floatOrNull(m.POS), "EOS": floatOrNull(m.EOS),
			"vSOS": floatOrNull(m.VSOS), "vPOS": floatOrNull(m.VPOS), "vEOS": floatOrNull(m.VEOS),
			"Trough": floatOrNull(m.Trough), "LOS": floatOrNull(m.LOS), "AOS": floatOrNull(m.AOS),
			"ROG": floatOrNull(m.ROG), "ROS": floatOrNull(m.ROS),
		})

	case "statistics":
		series, found := activeSeriesOr404(sess, w, metricsCollector)
		if !found {
			return
		}
		stats, err := proc.ComputeTemporalStatistics(series)
		if err != nil {
			metricsCollector.Info.HTTPStatus = 400
			httpJSONError(w, err, 400)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"mean_change":   floatOrNull(stats.MeanChange),
			"median_change": floatOrNull(stats.MedianChange),
			"abs_change":    floatOrNull(stats.AbsChange),
			"central_diff":  floatOrNull(stats.CentralDiff),
			"num_peaks":     stats.NumPeaks,
		})

	default:
		metricsCollector.Info.HTTPStatus = 404
		httpJSONError(w, fmt.Errorf("unknown session operation: %s", op), 404)
	}
}

// sessionHandler handles every request received on /session
func sessionHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate, max-age=0")
	if *verbose {
		Info.Printf("%s\n", r.URL.String())
	}
	ctx := r.Context()

	metricsCollector := metrics.NewMetricsCollector(metricsLogger)
	defer metricsCollector.Log()

	t0 := time.Now()
	metricsCollector.Info.ReqTime = t0.Format(utils.ISOFormat)
	defer func() { metricsCollector.Info.ReqDuration = time.Since(t0) }()

	reqURL, e := url.QueryUnescape(r.URL.String())
	if e == nil {
		metricsCollector.Info.URL.RawURL = reqURL
	} else {
		metricsCollector.Info.URL.RawURL = r.URL.String()
	}
	metricsCollector.Info.RemoteAddr = utils.ParseRemoteAddr(r)
	metricsCollector.Info.HTTPStatus = 200

	conf, ok := configMap["."]
	if !ok {
		metricsCollector.Info.HTTPStatus = 500
		httpJSONError(w, fmt.Errorf("no configuration loaded"), 500)
		return
	}

	query, err := utils.ParseQuery(r.URL.RawQuery)
	if err != nil {
		metricsCollector.Info.HTTPStatus = 400
		httpJSONError(w, fmt.Errorf("failed to parse query: %v", err), 400)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1:
		if r.Method != "POST" {
			metricsCollector.Info.HTTPStatus = 405
			httpJSONError(w, fmt.Errorf("session creation requires POST"), 405)
			return
		}
		serveSessionCreate(ctx, conf, query, w, metricsCollector)

	case len(parts) >= 2:
		sess, found := sessions.Get(parts[1])
		if !found {
			metricsCollector.Info.HTTPStatus = 404
			httpJSONError(w, fmt.Errorf("session not found: %s", parts[1]), 404)
			return
		}
		if len(parts) == 2 {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(sessionSummary(sess))
			return
		}
		serveSessionOp(ctx, sess, parts[2], query, w, r, metricsCollector)

	default:
		metricsCollector.Info.HTTPStatus = 404
		httpJSONError(w, fmt.Errorf("not found"), 404)
	}
}

// pageHandler renders the interactive map page.
func pageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	conf, ok := configMap["."]
	if !ok {
		httpJSONError(w, fmt.Errorf("no configuration loaded"), 500)
		return
	}

	view := jet.NewSet(jet.SafeWriter(func(w io.Writer, b []byte) {
		w.Write(b)
	}), utils.DataDir+"/templates", "/")

	template, err := view.GetTemplate("map.jet")
	if err != nil {
		Error.Printf("map template error: %v\n", err)
		httpJSONError(w, err, 500)
		return
	}

	vars := make(jet.VarMap)
	if err = template.Execute(w, vars, conf); err != nil {
		Error.Printf("map template error: %v\n", err)
		httpJSONError(w, err, 500)
	}
}
