package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/opsmith/beacon/exceptions"
	"github.com/opsmith/beacon/logging"
	"github.com/opsmith/beacon/metrics"
)

const (
	DefaultMaxAttempts       = 3
	DefaultSlowCallThreshold = 3 * time.Second
	DefaultRequestTimeout    = 30 * time.Second
)

// DefaultRetryBackoff is the delay schedule between recovery attempts.
var DefaultRetryBackoff = []time.Duration{
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
}

// ErrOfflineQueued is returned for non-GET calls made while offline; the
// request has been captured for replay and the caller should treat the call
// as deferred, not failed.
var ErrOfflineQueued = errors.New("offline: request queued for replay")

// Doer is the underlying HTTP client.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// AuthRecoverer is the external auth-recovery collaborator. Given a 401 and
// the originating request config it may return a retryable config, a
// resolved fallback response, or an error meaning recovery is not possible.
type AuthRecoverer interface {
	Recover(ctx context.Context, cause *exceptions.HTTPError, req *Request) (*Request, *Response, error)
}

// Reporter receives non-recovered failures; the exceptions pipeline
// implements it.
type Reporter interface {
	Report(err error, ctx map[string]interface{})
}

type Engine struct {
	client   Doer
	ids      IDSource
	log      logging.EventLogger
	reporter Reporter
	auth     AuthRecoverer
	cache    *ResponseCache
	offline  *OfflineQueue
	retries  *retryBook
	metrics  *metrics.Metrics

	recoveryEnabled bool
	maxAttempts     int
	backoff         []time.Duration
	slowThreshold   time.Duration
	timeout         time.Duration
	excluded        map[string]bool

	mu     sync.Mutex
	online bool
}

// IDSource supplies correlation identifiers for outbound headers; the
// session manager implements it.
type IDSource interface {
	TraceID() string
	GenerateRequestID() string
}

type EngineConfig struct {
	Client   Doer
	IDs      IDSource
	Logger   logging.EventLogger
	Reporter Reporter
	Auth     AuthRecoverer
	Cache    *ResponseCache
	Offline  *OfflineQueue
	Metrics  *metrics.Metrics

	// RecoveryEnabled gates every recovery strategy except offline
	// handling, which always applies.
	RecoveryEnabled   bool
	MaxAttempts       int
	RetryBackoff      []time.Duration
	SlowCallThreshold time.Duration
	RequestTimeout    time.Duration
	// ExcludedURLs are the ingestion endpoints; calls to them are never
	// logged or reported, preventing feedback loops.
	ExcludedURLs []string
}

func NewEngine(cfg EngineConfig) *Engine {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NopLogger{}
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	backoff := cfg.RetryBackoff
	if len(backoff) == 0 {
		backoff = DefaultRetryBackoff
	}
	slow := cfg.SlowCallThreshold
	if slow <= 0 {
		slow = DefaultSlowCallThreshold
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	excluded := make(map[string]bool, len(cfg.ExcludedURLs))
	for _, u := range cfg.ExcludedURLs {
		excluded[u] = true
	}

	return &Engine{
		client:          client,
		ids:             cfg.IDs,
		log:             log,
		reporter:        cfg.Reporter,
		auth:            cfg.Auth,
		cache:           cfg.Cache,
		offline:         cfg.Offline,
		retries:         newRetryBook(),
		metrics:         cfg.Metrics,
		recoveryEnabled: cfg.RecoveryEnabled,
		maxAttempts:     maxAttempts,
		backoff:         backoff,
		slowThreshold:   slow,
		timeout:         timeout,
		excluded:        excluded,
		online:          true,
	}
}

// Online reports connectivity as currently believed by the engine.
func (e *Engine) Online() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.online
}

// SetOnline flips connectivity state. Coming back online triggers an
// asynchronous replay of the offline queue.
func (e *Engine) SetOnline(online bool) {
	e.mu.Lock()
	wasOnline := e.online
	e.online = online
	e.mu.Unlock()

	if online && !wasOnline && e.offline != nil {
		go e.offline.Replay(context.Background(), func(ctx context.Context, req *Request) error {
			_, err := e.dispatch(ctx, req)
			return err
		})
	}
}

// Do runs one API call through the request, response and error stages.
// Errors that survive recovery propagate to the caller unchanged in shape.
func (e *Engine) Do(ctx context.Context, req *Request) (*Response, error) {
	req = req.clone()
	e.requestStage(req)

	// While offline, GETs resolve from fresh cache and writes queue for
	// replay without touching the network at all.
	if !e.Online() {
		if resp, handled, err := e.handleOffline(req); handled {
			return resp, err
		}
	}

	start := time.Now()
	resp, err := e.dispatch(ctx, req)
	if err == nil {
		e.responseStage(req, resp, time.Since(start))
		return resp, nil
	}

	return e.errorStage(ctx, req, err)
}

// requestStage attaches correlation headers before dispatch.
func (e *Engine) requestStage(req *Request) {
	if e.ids == nil {
		return
	}
	if req.Headers == nil {
		req.Headers = make(map[string]string)
	}
	req.Headers["X-Trace-ID"] = e.ids.TraceID()
	req.Headers["X-Request-ID"] = e.ids.GenerateRequestID()
}

// responseStage caches GETs, clears retry bookkeeping and logs the outcome.
func (e *Engine) responseStage(req *Request, resp *Response, duration time.Duration) {
	resp.Duration = duration

	key := req.Key()
	if req.Method == http.MethodGet && e.cache != nil {
		e.cache.Put(key, req, resp)
	}
	e.retries.clear(key)

	if e.excluded[req.URL] {
		return
	}

	if duration > e.slowThreshold {
		e.log.Warn(logging.LayerPerformance, "slow API call", logging.Fields{
			"method":      req.Method,
			"url":         req.URL,
			"duration_ms": duration.Milliseconds(),
		})
		return
	}
	e.log.Debug(logging.LayerService, "API call succeeded", logging.Fields{
		"method":      req.Method,
		"url":         req.URL,
		"status":      resp.StatusCode,
		"duration_ms": duration.Milliseconds(),
	})
}

// errorStage classifies, reports and attempts recovery for a failed call.
func (e *Engine) errorStage(ctx context.Context, req *Request, cause error) (*Response, error) {
	cls := exceptions.Classify(cause)

	if !e.excluded[req.URL] {
		e.log.Error(logging.LayerService, "API call failed", logging.Fields{
			"method":   req.Method,
			"url":      req.URL,
			"category": string(cls.Category),
			"error":    cause.Error(),
		})
		if e.reporter != nil {
			go e.reporter.Report(cause, map[string]interface{}{
				"url":    req.URL,
				"method": req.Method,
			})
		}
	}

	offline := !e.Online()
	if !offline && (!e.recoveryEnabled || !cls.Recoverable) {
		return nil, cause
	}

	if offline {
		// The connection may have dropped mid-flight, after the
		// pre-dispatch offline check.
		if resp, handled, err := e.handleOffline(req); handled {
			return resp, err
		}
	}

	if cls.Category == exceptions.AuthenticationError {
		return e.recoverAuth(ctx, req, cause)
	}

	if cls.Retryable && e.recoveryEnabled {
		if resp, ok := e.retryWithBackoff(ctx, req); ok {
			return resp, nil
		}
	}

	// Exhausted. For GETs a stale cache entry beats no answer at all.
	if req.Method == http.MethodGet && e.cache != nil {
		if stale := e.cache.LookupStale(req.Key()); stale != nil {
			e.countRecovery("stale_cache")
			return stale, nil
		}
	}

	return nil, cause
}

// handleOffline serves GETs from fresh cache and queues everything else.
// handled reports whether the offline path resolved the call.
func (e *Engine) handleOffline(req *Request) (resp *Response, handled bool, err error) {
	if req.Method == http.MethodGet {
		if e.cache != nil {
			if cached := e.cache.Lookup(req.Key()); cached != nil {
				e.countRecovery("offline_cache")
				return cached, true, nil
			}
		}
		// No fresh entry; fall through to dispatch, retry and the
		// stale last-resort fallback.
		return nil, false, nil
	}

	if e.offline != nil {
		e.offline.Enqueue(req)
	}
	return nil, true, fmt.Errorf("%s %s: %w", req.Method, req.URL, ErrOfflineQueued)
}

// recoverAuth delegates a 401 to the auth collaborator. When recovery is not
// possible the call resolves to a synthetic auth-failed response instead of
// an error, so UI code can branch without an unhandled rejection.
func (e *Engine) recoverAuth(ctx context.Context, req *Request, cause error) (*Response, error) {
	e.countRecovery("auth")

	var httpErr *exceptions.HTTPError
	errors.As(cause, &httpErr)

	if e.auth != nil {
		retryReq, fallback, err := e.auth.Recover(ctx, httpErr, req)
		if err == nil {
			if retryReq != nil {
				if resp, dispatchErr := e.dispatch(ctx, retryReq); dispatchErr == nil {
					e.retries.clear(req.Key())
					return resp, nil
				}
			}
			if fallback != nil {
				return fallback, nil
			}
		}
	}

	status := http.StatusUnauthorized
	if httpErr != nil {
		status = httpErr.StatusCode
	}
	return &Response{StatusCode: status, AuthFailed: true}, nil
}

// retryWithBackoff walks the backoff schedule for req's key. The first
// failed dispatch already counts as one attempt, so a schedule of three
// attempts means at most two more sends here.
func (e *Engine) retryWithBackoff(ctx context.Context, req *Request) (*Response, bool) {
	key := req.Key()

	for {
		attempts := e.retries.increment(key)
		if attempts >= e.maxAttempts {
			e.retries.clear(key)
			return nil, false
		}

		delay := e.backoff[min(attempts-1, len(e.backoff)-1)]
		select {
		case <-ctx.Done():
			e.retries.clear(key)
			return nil, false
		case <-time.After(delay):
		}

		e.countRecovery("retry")
		start := time.Now()
		resp, err := e.dispatch(ctx, req)
		if err == nil {
			e.responseStage(req, resp, time.Since(start))
			return resp, true
		}
	}
}

// dispatch executes the raw HTTP exchange and normalizes failures: any
// status >= 400 becomes an *exceptions.HTTPError carrying the backend's
// business code when the body has one.
func (e *Engine) dispatch(ctx context.Context, req *Request) (*Response, error) {
	fullURL, err := req.FullURL()
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, &exceptions.HTTPError{
			StatusCode:   httpResp.StatusCode,
			Status:       httpResp.Status,
			URL:          req.URL,
			BusinessCode: extractBusinessCode(body),
		}
	}

	headers := make(map[string]string, len(httpResp.Header))
	for k := range httpResp.Header {
		headers[k] = httpResp.Header.Get(k)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

func (e *Engine) countRecovery(strategy string) {
	if e.metrics != nil {
		e.metrics.RecoveryAttempts.WithLabelValues(strategy).Inc()
	}
}

func extractBusinessCode(body []byte) int {
	if len(body) == 0 {
		return 0
	}
	var payload struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return 0
	}
	return payload.Code
}
