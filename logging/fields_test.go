package logging

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFields_Sanitize(t *testing.T) {
	fields := Fields{
		"password": "secret123",
		"token":    "abc",
		"username": "alice",
	}

	result := fields.Sanitize()

	assert.Equal(t, "[REDACTED]", result["password"])
	assert.Equal(t, "[REDACTED]", result["token"])
	assert.Equal(t, "alice", result["username"])
	// original untouched
	assert.Equal(t, "secret123", fields["password"])
}

func TestFields_Merge(t *testing.T) {
	f := Fields{"a": 1}
	f.Merge(Fields{"b": 2, "a": 3})
	assert.Equal(t, 3, f["a"])
	assert.Equal(t, 2, f["b"])
}

func TestFields_Bound(t *testing.T) {
	small := Fields{"key": "value"}
	assert.Equal(t, small, small.Bound())

	big := Fields{"blob": strings.Repeat("x", maxExtraBytes+1)}
	bounded := big.Bound()
	assert.Equal(t, true, bounded["extra_truncated"])
	assert.NotContains(t, bounded, "blob")
}

func TestWithError(t *testing.T) {
	assert.Empty(t, WithError(nil))
	f := WithError(assert.AnError)
	assert.Equal(t, assert.AnError.Error(), f["error"])
}
