package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// ContextProvider supplies the identifiers stamped onto every entry. The
// session package implements it.
type ContextProvider interface {
	TraceID() string
	CurrentRequestID() string
	UserID() string
}

// Suppressor decides whether an entry should proceed past deduplication.
type Suppressor interface {
	ShouldLog(entry Entry) bool
}

// Sink receives entries bound for the backend. The transport package
// implements it.
type Sink interface {
	Enqueue(entry Entry)
}

type Logger struct {
	mu               sync.Mutex
	ctx              ContextProvider
	dedup            Suppressor
	sink             Sink
	out              io.Writer
	formatter        Formatter
	consoleThreshold Level
	sinkThreshold    Level
}

type Config struct {
	Context          ContextProvider
	Dedup            Suppressor
	Sink             Sink
	Output           io.Writer
	Formatter        Formatter
	ConsoleThreshold Level
	SinkThreshold    Level
}

func NewLogger(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	formatter := cfg.Formatter
	if formatter == nil {
		formatter = NewHumanFormatter(out)
	}

	consoleThreshold := cfg.ConsoleThreshold
	if consoleThreshold == 0 {
		consoleThreshold = WARNING
	}

	sinkThreshold := cfg.SinkThreshold
	if sinkThreshold == 0 {
		sinkThreshold = INFO
	}

	return &Logger{
		ctx:              cfg.Context,
		dedup:            cfg.Dedup,
		sink:             cfg.Sink,
		out:              out,
		formatter:        formatter,
		consoleThreshold: consoleThreshold,
		sinkThreshold:    sinkThreshold,
	}
}

func (l *Logger) Debug(layer Layer, message string, extra Fields) {
	l.log(DEBUG, layer, message, extra)
}

func (l *Logger) Info(layer Layer, message string, extra Fields) {
	l.log(INFO, layer, message, extra)
}

func (l *Logger) Warn(layer Layer, message string, extra Fields) {
	l.log(WARNING, layer, message, extra)
}

func (l *Logger) Error(layer Layer, message string, extra Fields) {
	l.log(ERROR, layer, message, extra)
}

func (l *Logger) Critical(layer Layer, message string, extra Fields) {
	l.log(CRITICAL, layer, message, extra)
}

// log runs the full pipeline for one event: call-site capture, entry
// construction, dedup, sink hand-off, console mirror. It must never panic
// out to the caller; logging cannot be allowed to crash the host.
func (l *Logger) log(level Level, layer Layer, message string, extra Fields) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "logger: internal failure: %v\n", r)
		}
	}()

	// Two frames up: past log and the level helper that called it.
	site := Capture(2)

	var traceID, requestID, userID string
	if l.ctx != nil {
		traceID = l.ctx.TraceID()
		requestID = l.ctx.CurrentRequestID()
		userID = l.ctx.UserID()
	}

	entry, err := NewEntry(level, layer, message, site, traceID, requestID, userID, extra)
	if err != nil {
		// Construction defect in the caller. Surface it loudly on the
		// console; nothing reaches the sink.
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return
	}

	if l.dedup != nil && !l.dedup.ShouldLog(entry) {
		if l.consoleThreshold <= DEBUG {
			fmt.Fprintf(os.Stderr, "logger: suppressed duplicate: [%s] %s\n", entry.Layer, entry.Message)
		}
		return
	}

	if l.sink != nil && entry.Level.ShouldLog(l.sinkThreshold) {
		l.sink.Enqueue(entry)
	}

	if entry.Level.ShouldLog(l.consoleThreshold) {
		l.mirror(entry)
	}
}

func (l *Logger) mirror(entry Entry) {
	data, err := l.formatter.Format(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(data)
}

// NopLogger satisfies the instrumentation entry points without doing
// anything; useful as a default in components that accept a logger.
type NopLogger struct{}

func (NopLogger) Debug(layer Layer, message string, extra Fields)    {}
func (NopLogger) Info(layer Layer, message string, extra Fields)     {}
func (NopLogger) Warn(layer Layer, message string, extra Fields)     {}
func (NopLogger) Error(layer Layer, message string, extra Fields)    {}
func (NopLogger) Critical(layer Layer, message string, extra Fields) {}

// EventLogger is the surface instrumentation call sites are allowed to use.
type EventLogger interface {
	Debug(layer Layer, message string, extra Fields)
	Info(layer Layer, message string, extra Fields)
	Warn(layer Layer, message string, extra Fields)
	Error(layer Layer, message string, extra Fields)
	Critical(layer Layer, message string, extra Fields)
}
