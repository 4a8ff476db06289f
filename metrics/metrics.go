package metrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/url"
	"time"

	"github.com/nci/cubeserver/utils"
)

type URLInfo struct {
	RawURL string            `json:"raw_url"`
	Host   string            `json:"host"`
	Path   string            `json:"path"`
	Query  map[string]string `json:"query"`
}

// CatalogInfo records the outcome of the candidate scene query and
// the quality filter for one cube build.
type CatalogInfo struct {
	Duration      time.Duration `json:"duration"`
	URL           URLInfo       `json:"url"`
	NumCandidates int           `json:"num_candidates"`
	NumRetained   int           `json:"num_retained"`
	NumDropped    int           `json:"num_dropped"`
}

// LoaderInfo records the archive I/O done while loading the
// retained scenes' bands.
type LoaderInfo struct {
	Duration   time.Duration `json:"duration"`
	BytesRead  int64         `json:"bytes_read"`
	NumRetries int           `json:"num_retries"`
	NumScenes  int           `json:"num_scenes"`
	NumFailed  int           `json:"num_failed"`
}

type MetricsInfo struct {
	ReqTime     string        `json:"req_time"`
	ReqDuration time.Duration `json:"req_duration"`
	URL         URLInfo       `json:"url"`
	RemoteAddr  string        `json:"remote_addr"`
	RemoteHost  string        `json:"remote_host"`
	RemotePort  string        `json:"remote_port"`
	HTTPStatus  int           `json:"http_status"`
	Catalog     *CatalogInfo  `json:"catalog"`
	Loader      *LoaderInfo   `json:"loader"`
}

type MetricsCollector struct {
	Info   *MetricsInfo
	logger Logger
}

func NewMetricsCollector(logger Logger) *MetricsCollector {
	return &MetricsCollector{
		Info: &MetricsInfo{
			Catalog: &CatalogInfo{},
			Loader:  &LoaderInfo{},
		},
		logger: logger,
	}
}

func (m *MetricsCollector) Log() {
	if m.logger != nil {
		m.logger.Log(m.Info)
	}
}

func (i *MetricsInfo) ToJSON() (string, error) {
	i.normaliseNetworkAddr(i.RemoteAddr)
	i.normaliseURLs()

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	err := enc.Encode(i)
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (i *MetricsInfo) normaliseNetworkAddr(addr string) {
	host, port, err := net.SplitHostPort(addr)
	if err == nil {
		i.RemoteHost = host
		i.RemotePort = port
	} else {
		i.RemoteHost = addr
	}
}

func (i *MetricsInfo) normaliseURLs() {
	err := i.normaliseURL(&i.URL)
	if err != nil {
		log.Printf("metrics: normaliseURL() error: %v", err)
	}

	if i.Catalog != nil {
		err = i.normaliseURL(&i.Catalog.URL)
		if err != nil {
			log.Printf("metrics: catalog: normaliseURL() error: %v", err)
		}
	}
}

func (i *MetricsInfo) normaliseURL(u *URLInfo) error {
	r, err := url.Parse(u.RawURL)
	if err != nil {
		return err
	}

	u.Host = r.Host
	u.Path = r.Path
	query, err := utils.ParseQuery(r.RawQuery)
	if err != nil {
		return err
	}

	if u.Query == nil {
		u.Query = make(map[string]string)
	}
	for k, v := range query {
		if len(v) == 1 {
			u.Query[k] = v[0]
		} else if len(v) > 1 {
			u.Query[k] = fmt.Sprintf("%v", v)
		} else {
			u.Query[k] = ""
		}
	}
	return nil
}
