package exceptions

import (
	"math/rand"

	"github.com/opsmith/beacon/logging"
)

// Filter applies a small ordered rule set to already-deduplicated records:
// exact noise messages are dropped outright, then network-category and
// low-impact records are sampled down to a configured fraction.
type Filter struct {
	noiseMessages map[string]bool
	networkRate   float64
	lowImpactRate float64
	rand          func() float64
}

type FilterConfig struct {
	// NetworkSampleRate is the kept fraction of NETWORK_ERROR records.
	NetworkSampleRate float64
	// LowImpactSampleRate is the kept fraction of records whose severity
	// is below ERROR.
	LowImpactSampleRate float64
	// ExtraNoise extends the built-in exact-match drop list.
	ExtraNoise []string
}

func NewFilter(cfg FilterConfig) *Filter {
	networkRate := cfg.NetworkSampleRate
	if networkRate <= 0 {
		networkRate = 0.1
	}
	lowImpactRate := cfg.LowImpactSampleRate
	if lowImpactRate <= 0 {
		lowImpactRate = 0.25
	}

	noise := map[string]bool{
		"Script error.": true,
	}
	for _, msg := range cfg.ExtraNoise {
		noise[msg] = true
	}

	return &Filter{
		noiseMessages: noise,
		networkRate:   networkRate,
		lowImpactRate: lowImpactRate,
		rand:          rand.Float64,
	}
}

// Keep reports whether the record survives filtering, with the drop reason
// when it does not.
func (f *Filter) Keep(r *Record) (bool, string) {
	if f.noiseMessages[r.Error.Message] {
		return false, "noise"
	}

	if r.Classification.Category == NetworkError {
		if f.rand() >= f.networkRate {
			return false, "network_sampled"
		}
		return true, ""
	}

	if r.Classification.Severity < logging.ERROR {
		if f.rand() >= f.lowImpactRate {
			return false, "low_impact_sampled"
		}
	}

	return true, ""
}
