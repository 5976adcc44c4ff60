package exceptions

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opsmith/beacon/logging"
)

type fakeNetErr struct {
	timeout bool
}

func (e *fakeNetErr) Error() string   { return "connection refused" }
func (e *fakeNetErr) Timeout() bool   { return e.timeout }
func (e *fakeNetErr) Temporary() bool { return true }

func TestClassify_Taxonomy(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		category    Category
		recoverable bool
		retryable   bool
	}{
		{"network", &fakeNetErr{}, NetworkError, true, true},
		{"net timeout", &fakeNetErr{timeout: true}, TimeoutError, true, true},
		{"context deadline", context.DeadlineExceeded, TimeoutError, true, true},
		{"server 500", &HTTPError{StatusCode: 500}, ServerError, true, true},
		{"server 503", &HTTPError{StatusCode: 503}, ServerError, true, true},
		{"rate limit", &HTTPError{StatusCode: 429}, RateLimitError, true, true},
		{"auth", &HTTPError{StatusCode: 401}, AuthenticationError, true, false},
		{"forbidden", &HTTPError{StatusCode: 403}, AuthorizationError, false, false},
		{"client 400", &HTTPError{StatusCode: 400}, ClientError, false, false},
		{"client 404", &HTTPError{StatusCode: 404}, ClientError, false, false},
		{"cors", &CORSViolation{URL: "http://x"}, CORSError, false, false},
		{"unknown", errors.New("weird"), UnknownError, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cls := Classify(tt.err)
			assert.Equal(t, tt.category, cls.Category)
			assert.Equal(t, tt.recoverable, cls.Recoverable)
			assert.Equal(t, tt.retryable, cls.Retryable)
		})
	}
}

func TestClassify_WrappedError(t *testing.T) {
	err := errors.Join(errors.New("request failed"), &HTTPError{StatusCode: 502})
	assert.Equal(t, ServerError, Classify(err).Category)
}

func TestClassify_Severity(t *testing.T) {
	assert.Equal(t, logging.ERROR, Classify(&HTTPError{StatusCode: 500}).Severity)
	assert.Equal(t, logging.WARNING, Classify(&fakeNetErr{}).Severity)
	assert.Equal(t, logging.WARNING, Classify(&HTTPError{StatusCode: 404}).Severity)
}

func TestClassify_BusinessCodeBuckets(t *testing.T) {
	tests := []struct {
		code   int
		status int
		want   Bucket
	}{
		{1001, 400, BucketCredentials},
		{1150, 400, BucketAccount},
		{1201, 400, BucketPermission},
		{1399, 400, BucketValidation},
		{1400, 400, BucketSystem},
		{9999, 400, BucketSystem},
	}

	for _, tt := range tests {
		cls := Classify(&HTTPError{StatusCode: tt.status, BusinessCode: tt.code})
		assert.Equal(t, tt.want, cls.Bucket, "code %d", tt.code)
		assert.Equal(t, tt.code, cls.BusinessCode)
	}
}

func TestClassify_BucketFromStatusWhenNoCode(t *testing.T) {
	assert.Equal(t, BucketCredentials, Classify(&HTTPError{StatusCode: 401}).Bucket)
	assert.Equal(t, BucketPermission, Classify(&HTTPError{StatusCode: 403}).Bucket)
	assert.Equal(t, BucketValidation, Classify(&HTTPError{StatusCode: 422}).Bucket)
	assert.Equal(t, BucketSystem, Classify(&HTTPError{StatusCode: 500}).Bucket)
	assert.Equal(t, BucketNone, Classify(&HTTPError{StatusCode: 404}).Bucket)
}

func TestClassify_Nil(t *testing.T) {
	assert.Equal(t, UnknownError, Classify(nil).Category)
}
