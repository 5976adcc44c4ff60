package logging

import (
	"bytes"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubContext struct{}

func (stubContext) TraceID() string          { return "01HTESTTRACE00000000000000" }
func (stubContext) CurrentRequestID() string { return "" }
func (stubContext) UserID() string           { return "" }

type captureSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *captureSink) Enqueue(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
}

func (s *captureSink) all() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

type allowAll struct{}

func (allowAll) ShouldLog(Entry) bool { return true }

type denyAll struct{}

func (denyAll) ShouldLog(Entry) bool { return false }

func TestLogger_SendsToSink(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(Config{
		Context:       stubContext{},
		Dedup:         allowAll{},
		Sink:          sink,
		Output:        &bytes.Buffer{},
		SinkThreshold: INFO,
	})

	logger.Info(LayerService, "users loaded", Fields{"count": 2})

	entries := sink.all()
	require.Len(t, entries, 1)
	assert.Equal(t, INFO, entries[0].Level)
	assert.Equal(t, LayerService, entries[0].Layer)
	assert.Equal(t, "users loaded", entries[0].Message)
	assert.Equal(t, "logger_test.go", entries[0].File)
	assert.Contains(t, entries[0].Function, "TestLogger_SendsToSink")
	assert.Equal(t, "01HTESTTRACE00000000000000", entries[0].TraceID)
}

func TestLogger_SinkThreshold(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(Config{
		Context:       stubContext{},
		Dedup:         allowAll{},
		Sink:          sink,
		Output:        &bytes.Buffer{},
		SinkThreshold: WARNING,
	})

	logger.Debug(LayerService, "ignored", nil)
	logger.Info(LayerService, "ignored too", nil)
	logger.Warn(LayerService, "kept", nil)
	logger.Critical(LayerService, "kept too", nil)

	require.Len(t, sink.all(), 2)
}

func TestLogger_SuppressedEntryNeverReachesSink(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(Config{
		Context: stubContext{},
		Dedup:   denyAll{},
		Sink:    sink,
		Output:  &bytes.Buffer{},
	})

	logger.Error(LayerService, "duplicate", nil)

	assert.Empty(t, sink.all())
}

func TestLogger_ConsoleMirror(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(Config{
		Context:          stubContext{},
		Dedup:            allowAll{},
		Output:           &buf,
		Formatter:        &JSONFormatter{},
		ConsoleThreshold: WARNING,
	})

	logger.Info(LayerService, "below threshold", nil)
	assert.Empty(t, buf.String())

	logger.Error(LayerRouter, "navigation failed", nil)
	assert.Contains(t, buf.String(), "navigation failed")
	assert.Contains(t, buf.String(), `"layer":"Router"`)
}

func TestLogger_InvalidLayerDropsEntry(t *testing.T) {
	sink := &captureSink{}
	logger := NewLogger(Config{
		Context: stubContext{},
		Dedup:   allowAll{},
		Sink:    sink,
		Output:  &bytes.Buffer{},
	})

	logger.log(INFO, Layer("Bogus"), "should not pass", nil)

	assert.Empty(t, sink.all())
}

func TestNopLogger(t *testing.T) {
	var logger EventLogger = NopLogger{}
	logger.Debug(LayerService, "noop", nil)
	logger.Critical(LayerService, "noop", nil)
}
