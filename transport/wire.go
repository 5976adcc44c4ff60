package transport

import (
	"time"

	"github.com/opsmith/beacon/logging"
)

// wireEntry is the on-the-wire shape of a log entry. Internal field names are
// mapped to what the ingestion endpoint expects (file becomes module, line
// becomes line_number).
type wireEntry struct {
	Source     string         `json:"source"`
	Level      int            `json:"level"`
	LevelName  string         `json:"level_name"`
	Layer      string         `json:"layer"`
	Message    string         `json:"message"`
	Module     string         `json:"module"`
	LineNumber int            `json:"line_number"`
	Function   string         `json:"function"`
	TraceID    string         `json:"trace_id"`
	RequestID  string         `json:"request_id,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	ExtraData  logging.Fields `json:"extra_data,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

type wireBatch struct {
	Logs      []wireEntry `json:"logs"`
	Timestamp string      `json:"timestamp"`
	BatchSize int         `json:"batch_size"`
}

func toWire(entries []logging.Entry) wireBatch {
	logs := make([]wireEntry, 0, len(entries))
	for _, e := range entries {
		logs = append(logs, wireEntry{
			Source:     e.Source,
			Level:      int(e.Level),
			LevelName:  e.Level.String(),
			Layer:      string(e.Layer),
			Message:    e.Message,
			Module:     e.File,
			LineNumber: e.Line,
			Function:   e.Function,
			TraceID:    e.TraceID,
			RequestID:  e.RequestID,
			UserID:     e.UserID,
			ExtraData:  e.Extra,
			CreatedAt:  e.CreatedAt,
		})
	}
	return wireBatch{
		Logs:      logs,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		BatchSize: len(logs),
	}
}
