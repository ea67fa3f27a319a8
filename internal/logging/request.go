package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// RequestLog represents a single API request log entry.
type RequestLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	Method     string    `json:"method"`
	Endpoint   string    `json:"endpoint"`
	Resource   string    `json:"resource,omitempty"`
	Status     int       `json:"status,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Attempts   int       `json:"attempts,omitempty"`
	FromCache  bool      `json:"from_cache,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	BodySize   int       `json:"body_size,omitempty"`
}

// RequestLogger writes per-request JSON log lines, optionally to a file in
// addition to the console.
type RequestLogger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

// NewRequestLogger creates a request logger writing to the console.
func NewRequestLogger() *RequestLogger {
	return &RequestLogger{enabled: true, console: true}
}

// SetOutput sets the log output file.
func (l *RequestLogger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *RequestLogger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// SetEnabled turns request logging on or off.
func (l *RequestLogger) SetEnabled(enabled bool) {
	l.mu.Lock()
	l.enabled = enabled
	l.mu.Unlock()
}

// Log writes a request log entry. Failures to write are swallowed;
// logging must never affect the request path.
func (l *RequestLogger) Log(entry *RequestLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console {
		status := "ok"
		if !entry.Success {
			status = "fail"
		}
		fmt.Fprintf(os.Stderr, "[request] %s %s %s status=%d dur=%dms attempts=%d cache=%v\n",
			status, entry.Method, entry.Endpoint, entry.Status,
			entry.DurationMs, entry.Attempts, entry.FromCache)
	}

	if l.file != nil {
		if data, err := json.Marshal(entry); err == nil {
			l.file.Write(append(data, '\n'))
		}
	}
}

// Close releases the log file if one is open.
func (l *RequestLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
