// Package exceptions is the error-reporting side of the pipeline: reported
// errors are classified into a fixed taxonomy, deduplicated by content
// fingerprint, filtered, batched and delivered to the exception ingestion
// endpoint.
package exceptions

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/opsmith/beacon/logging"
)

type Category string

const (
	NetworkError        Category = "NETWORK_ERROR"
	TimeoutError        Category = "TIMEOUT_ERROR"
	ServerError         Category = "SERVER_ERROR"
	RateLimitError      Category = "RATE_LIMIT_ERROR"
	AuthenticationError Category = "AUTHENTICATION_ERROR"
	AuthorizationError  Category = "AUTHORIZATION_ERROR"
	ClientError         Category = "CLIENT_ERROR"
	CORSError           Category = "CORS_ERROR"
	UnknownError        Category = "UNKNOWN_ERROR"
)

// Bucket groups business sub-codes for analytics. Nothing branches on these.
type Bucket string

const (
	BucketCredentials Bucket = "credentials"
	BucketAccount     Bucket = "account"
	BucketPermission  Bucket = "permission"
	BucketValidation  Bucket = "validation"
	BucketSystem      Bucket = "system"
	BucketNone        Bucket = ""
)

type Classification struct {
	Category    Category      `json:"category"`
	Recoverable bool          `json:"recoverable"`
	Retryable   bool          `json:"retryable"`
	Severity    logging.Level `json:"severity"`
	// BusinessCode and Bucket carry the backend's numeric sub-code for
	// HTTP errors; analytics only.
	BusinessCode int    `json:"business_code,omitempty"`
	Bucket       Bucket `json:"bucket,omitempty"`
}

// HTTPError carries an HTTP failure through the pipeline with enough shape
// for classification. BusinessCode is the backend's application-level code
// when the response body carried one.
type HTTPError struct {
	StatusCode   int
	Status       string
	URL          string
	BusinessCode int
}

func (e *HTTPError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Status, e.URL)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.URL)
}

// CORSViolation marks a cross-origin rejection, which surfaces without any
// HTTP status.
type CORSViolation struct {
	URL string
}

func (e *CORSViolation) Error() string {
	return "cross-origin request blocked: " + e.URL
}

// Classify maps err into the taxonomy. First match wins; anything
// unrecognized is UNKNOWN_ERROR.
func Classify(err error) Classification {
	if err == nil {
		return Classification{Category: UnknownError, Severity: logging.ERROR}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Category: TimeoutError, Recoverable: true, Retryable: true, Severity: logging.WARNING}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Classification{Category: TimeoutError, Recoverable: true, Retryable: true, Severity: logging.WARNING}
		}
		return Classification{Category: NetworkError, Recoverable: true, Retryable: true, Severity: logging.WARNING}
	}

	var cors *CORSViolation
	if errors.As(err, &cors) {
		return Classification{Category: CORSError, Severity: logging.ERROR}
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyHTTP(httpErr)
	}

	return Classification{Category: UnknownError, Severity: logging.ERROR}
}

func classifyHTTP(err *HTTPError) Classification {
	c := Classification{BusinessCode: err.BusinessCode}

	switch {
	case err.StatusCode >= 500:
		c.Category = ServerError
		c.Recoverable = true
		c.Retryable = true
		c.Severity = logging.ERROR
	case err.StatusCode == 429:
		c.Category = RateLimitError
		c.Recoverable = true
		c.Retryable = true
		c.Severity = logging.WARNING
	case err.StatusCode == 401:
		c.Category = AuthenticationError
		c.Recoverable = true
		c.Severity = logging.WARNING
	case err.StatusCode == 403:
		c.Category = AuthorizationError
		c.Severity = logging.WARNING
	case err.StatusCode >= 400:
		c.Category = ClientError
		c.Severity = logging.WARNING
	default:
		c.Category = UnknownError
		c.Severity = logging.ERROR
	}

	c.Bucket = bucketFor(err)
	return c
}

// bucketFor assigns the analytics bucket from the business sub-code ranges,
// falling back to the HTTP status when the backend sent none.
func bucketFor(err *HTTPError) Bucket {
	switch code := err.BusinessCode; {
	case code >= 1000 && code < 1100:
		return BucketCredentials
	case code >= 1100 && code < 1200:
		return BucketAccount
	case code >= 1200 && code < 1300:
		return BucketPermission
	case code >= 1300 && code < 1400:
		return BucketValidation
	case code >= 1400:
		return BucketSystem
	}

	switch {
	case err.StatusCode == 401:
		return BucketCredentials
	case err.StatusCode == 403:
		return BucketPermission
	case err.StatusCode == 400 || err.StatusCode == 422:
		return BucketValidation
	case err.StatusCode >= 500:
		return BucketSystem
	}
	return BucketNone
}
