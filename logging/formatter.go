package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type Formatter interface {
	Format(entry Entry) ([]byte, error)
}

type JSONFormatter struct{}

func (f *JSONFormatter) Format(entry Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("json marshal: %w", err)
	}
	return append(data, '\n'), nil
}

type HumanFormatter struct {
	colorEnabled bool
}

func NewHumanFormatter(w io.Writer) *HumanFormatter {
	colorEnabled := false
	if f, ok := w.(*os.File); ok {
		colorEnabled = isatty.IsTerminal(f.Fd())
	}
	return &HumanFormatter{colorEnabled: colorEnabled}
}

func (f *HumanFormatter) Format(entry Entry) ([]byte, error) {
	msg := fmt.Sprintf("%s %s [%s] %s:%d %s: %s",
		entry.CreatedAt, f.colorLevel(entry.Level), entry.Layer,
		entry.File, entry.Line, entry.Function, entry.Message)

	if entry.RequestID != "" {
		msg += fmt.Sprintf(" request_id=%s", entry.RequestID)
	} else if entry.TraceID != "" {
		msg += fmt.Sprintf(" trace_id=%s", entry.TraceID)
	}

	if len(entry.Extra) > 0 {
		extra, err := json.Marshal(entry.Extra)
		if err == nil {
			msg += " extra=" + string(extra)
		}
	}

	return []byte(msg + "\n"), nil
}

func (f *HumanFormatter) colorLevel(l Level) string {
	name := l.String()
	if !f.colorEnabled {
		return fmt.Sprintf("%-8s", name)
	}

	var color string
	switch l {
	case DEBUG:
		color = "\033[36m" // cyan
	case INFO:
		color = "\033[32m" // green
	case WARNING:
		color = "\033[33m" // yellow
	case ERROR, CRITICAL:
		color = "\033[31m" // red
	default:
		color = ""
	}
	return fmt.Sprintf("%s%-8s\033[0m", color, name)
}
