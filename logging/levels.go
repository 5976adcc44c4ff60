package logging

import "strings"

// Level is a numeric severity. The ordinals are part of the wire contract
// with the ingestion backend, so they are spaced the way the backend expects.
type Level int

const (
	DEBUG    Level = 10
	INFO     Level = 20
	WARNING  Level = 30
	ERROR    Level = 40
	CRITICAL Level = 50
)

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "debug"
	case INFO:
		return "info"
	case WARNING:
		return "warning"
	case ERROR:
		return "error"
	case CRITICAL:
		return "critical"
	default:
		return "unknown"
	}
}

func (l Level) Valid() bool {
	switch l {
	case DEBUG, INFO, WARNING, ERROR, CRITICAL:
		return true
	}
	return false
}

// ShouldLog reports whether l clears the threshold min.
func (l Level) ShouldLog(min Level) bool {
	return l >= min
}

// ParseLevel maps a config string to a Level. Unrecognized input falls back
// to INFO rather than failing; a bad log-level setting should never prevent
// startup.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn", "warning":
		return WARNING
	case "error":
		return ERROR
	case "critical":
		return CRITICAL
	default:
		return INFO
	}
}

// Layer names the architectural layer an entry originated from. The set is
// closed; entries carrying anything else fail validation.
type Layer string

const (
	LayerService     Layer = "Service"
	LayerRouter      Layer = "Router"
	LayerAuth        Layer = "Auth"
	LayerStore       Layer = "Store"
	LayerComponent   Layer = "Component"
	LayerHook        Layer = "Hook"
	LayerPerformance Layer = "Performance"
)

func (l Layer) Valid() bool {
	switch l {
	case LayerService, LayerRouter, LayerAuth, LayerStore, LayerComponent, LayerHook, LayerPerformance:
		return true
	}
	return false
}
