package utils

import (
	"net/http"
	"net/url"
	"strings"
)

// ParseRemoteAddr prefers the forwarding headers set by a fronting
// proxy over the socket peer address.
func ParseRemoteAddr(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); len(fwd) > 0 {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if fwd := r.Header.Get("X-Real-IP"); len(fwd) > 0 {
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

// ParseQuery is a lenient variant of url.ParseQuery: keys are
// lowercased, a malformed pair is skipped rather than failing the
// whole query, and the first error encountered is reported.
func ParseQuery(query string) (url.Values, error) {
	m := make(url.Values)
	var err error
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}

		key := pair
		value := ""
		if i := strings.Index(pair, "="); i >= 0 {
			key, value = pair[:i], pair[i+1:]
		}

		key, err1 := url.QueryUnescape(key)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}
		key = strings.ToLower(key)

		value, err1 = url.QueryUnescape(value)
		if err1 != nil {
			if err == nil {
				err = err1
			}
			continue
		}

		m[key] = append(m[key], value)
	}
	return m, err
}
