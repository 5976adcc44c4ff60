package exceptions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func networkRecord() *Record {
	return NewRecord(&fakeNetErr{}, "l1", nil)
}

func TestFilter_DropsNoise(t *testing.T) {
	f := NewFilter(FilterConfig{})

	noise := NewRecord(errors.New("Script error."), "l1", nil)
	keep, reason := f.Keep(noise)
	assert.False(t, keep)
	assert.Equal(t, "noise", reason)
}

func TestFilter_ExtraNoise(t *testing.T) {
	f := NewFilter(FilterConfig{ExtraNoise: []string{"ResizeObserver loop limit exceeded"}})

	keep, _ := f.Keep(NewRecord(errors.New("ResizeObserver loop limit exceeded"), "l1", nil))
	assert.False(t, keep)
}

func TestFilter_ThrottlesNetworkErrors(t *testing.T) {
	f := NewFilter(FilterConfig{NetworkSampleRate: 0.1})

	f.rand = func() float64 { return 0.05 }
	keep, _ := f.Keep(networkRecord())
	assert.True(t, keep)

	f.rand = func() float64 { return 0.5 }
	keep, reason := f.Keep(networkRecord())
	assert.False(t, keep)
	assert.Equal(t, "network_sampled", reason)
}

func TestFilter_ThrottlesLowImpact(t *testing.T) {
	f := NewFilter(FilterConfig{LowImpactSampleRate: 0.25})

	// 404 classifies as WARNING severity, below ERROR
	lowImpact := NewRecord(&HTTPError{StatusCode: 404}, "l1", nil)

	f.rand = func() float64 { return 0.9 }
	keep, reason := f.Keep(lowImpact)
	assert.False(t, keep)
	assert.Equal(t, "low_impact_sampled", reason)

	f.rand = func() float64 { return 0.1 }
	keep, _ = f.Keep(lowImpact)
	assert.True(t, keep)
}

func TestFilter_KeepsHighSeverity(t *testing.T) {
	f := NewFilter(FilterConfig{})
	f.rand = func() float64 { return 0.999 }

	server := NewRecord(&HTTPError{StatusCode: 500}, "l1", nil)
	keep, _ := f.Keep(server)
	assert.True(t, keep)
}
