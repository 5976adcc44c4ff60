// Package resilience wraps outbound API calls with classification, retry,
// cache fallback, offline queueing and auth recovery, so transient backend
// failures stay invisible to application code wherever possible.
package resilience

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Request is the engine's own request config. The engine works on configs
// rather than *http.Request so a request can be keyed, serialized into the
// offline queue and re-dispatched on replay.
type Request struct {
	Method  string
	URL     string
	Params  map[string]string
	Headers map[string]string
	Body    []byte
	Timeout time.Duration
}

// Key identifies a logical request for cache and retry bookkeeping: method,
// url and the serialized params in stable order.
func (r *Request) Key() string {
	if len(r.Params) == 0 {
		return r.Method + "|" + r.URL
	}

	keys := make([]string, 0, len(r.Params))
	for k := range r.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(r.Params[k])
		sb.WriteByte('&')
	}
	return r.Method + "|" + r.URL + "?" + sb.String()
}

// FullURL resolves the request URL with its query params attached.
func (r *Request) FullURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", r.URL, err)
	}
	if len(r.Params) > 0 {
		q := u.Query()
		for k, v := range r.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (r *Request) clone() *Request {
	dup := *r
	dup.Params = cloneMap(r.Params)
	dup.Headers = cloneMap(r.Headers)
	if r.Body != nil {
		dup.Body = append([]byte(nil), r.Body...)
	}
	return &dup
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	dup := make(map[string]string, len(m))
	for k, v := range m {
		dup[k] = v
	}
	return dup
}

// Response is the engine's resolved result. FromCache and IsStale flag
// cache-served bodies; AuthFailed flags the synthetic response produced when
// auth recovery was not possible.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Duration   time.Duration
	FromCache  bool
	IsStale    bool
	AuthFailed bool
}
