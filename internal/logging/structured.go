// Package logging provides structured JSON logging for playsync components.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Event represents a structured log event
type Event struct {
	Timestamp string         `json:"ts"`
	Level     Level          `json:"level"`
	Component string         `json:"component"`
	Event     string         `json:"event"`
	Run       string         `json:"run,omitempty"`
	Duration  int64          `json:"duration_ms,omitempty"`
	Error     string         `json:"error,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

var (
	outMu        sync.Mutex
	out          io.Writer = os.Stderr
	debugEnabled           = os.Getenv("PLAYSYNC_DEBUG") == "1"
)

// SetOutput redirects all loggers. Returns the previous writer.
func SetOutput(w io.Writer) io.Writer {
	outMu.Lock()
	defer outMu.Unlock()
	prev := out
	out = w
	return prev
}

// SetDebug toggles debug-level events.
func SetDebug(on bool) {
	outMu.Lock()
	debugEnabled = on
	outMu.Unlock()
}

// Logger provides structured logging
type Logger struct {
	component string
	run       string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithRun returns a logger tagging events with a run id.
func (l *Logger) WithRun(run string) *Logger {
	return &Logger{component: l.component, run: run}
}

// FromContext returns a logger tagged with the run id carried by ctx.
func (l *Logger) FromContext(ctx context.Context) *Logger {
	if id := RunID(ctx); id != "" {
		return l.WithRun(id)
	}
	return l
}

func (l *Logger) emit(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339)
	e.Component = l.component
	e.Run = l.run

	data, _ := json.Marshal(e)

	outMu.Lock()
	defer outMu.Unlock()
	if e.Level == LevelDebug && !debugEnabled {
		return
	}
	fmt.Fprintln(out, string(data))
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]any, err error) {
	e := Event{Level: level, Event: event, Extra: extra}
	if err != nil {
		e.Error = err.Error()
	}
	l.emit(e)
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]any) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]any) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]any, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]any, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration. A non-nil err raises it to error level.
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]any, err error) {
	e := Event{
		Level:    LevelInfo,
		Event:    event,
		Duration: time.Since(start).Milliseconds(),
		Extra:    extra,
	}
	if err != nil {
		e.Level = LevelError
		e.Error = err.Error()
	}
	l.emit(e)
}
