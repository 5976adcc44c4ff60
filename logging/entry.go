package logging

import (
	"fmt"
	"time"
)

// Source is stamped on every entry; backend routing depends on it.
const Source = "frontend"

const timestampFormat = "2006-01-02 15:04:05.000"

// Entry is one observed event, fully identified and timestamped at creation.
type Entry struct {
	Source    string `json:"source"`
	Level     Level  `json:"level"`
	Layer     Layer  `json:"layer"`
	Message   string `json:"message"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Function  string `json:"function"`
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Extra     Fields `json:"extra_data,omitempty"`
	CreatedAt string `json:"created_at"`
}

// NewEntry builds and validates an Entry. A validation failure is a
// construction defect in the caller, not a runtime condition, so it is
// returned as an error immediately instead of producing a partial entry.
func NewEntry(level Level, layer Layer, message string, site CallSite, traceID, requestID, userID string, extra Fields) (Entry, error) {
	e := Entry{
		Source:    Source,
		Level:     level,
		Layer:     layer,
		Message:   message,
		File:      site.File,
		Line:      site.Line,
		Function:  site.Function,
		TraceID:   traceID,
		RequestID: requestID,
		UserID:    userID,
		Extra:     extra.Sanitize().Bound(),
		CreatedAt: time.Now().Format(timestampFormat),
	}
	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func (e Entry) Validate() error {
	if e.Source != Source {
		return fmt.Errorf("log entry: source must be %q, got %q", Source, e.Source)
	}
	if !e.Level.Valid() {
		return fmt.Errorf("log entry: invalid level %d", e.Level)
	}
	if !e.Layer.Valid() {
		return fmt.Errorf("log entry: invalid layer %q", e.Layer)
	}
	if e.Message == "" {
		return fmt.Errorf("log entry: message is required")
	}
	if e.File == "" {
		return fmt.Errorf("log entry: file is required")
	}
	if e.Function == "" {
		return fmt.Errorf("log entry: function is required")
	}
	if e.TraceID == "" {
		return fmt.Errorf("log entry: trace_id is required")
	}
	if e.CreatedAt == "" {
		return fmt.Errorf("log entry: created_at is required")
	}
	return nil
}
