package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventLog represents a single event-completion log entry, written
// through Logger.Log.
type EventLog struct {
	Timestamp  time.Time `json:"timestamp"`
	EventNumber uint64   `json:"event_number"`
	RunNumber  int32     `json:"run_number"`
	Level      string    `json:"level"`
	Source     string    `json:"source"`
	Arrow      string    `json:"arrow"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Retries    int       `json:"retries,omitempty"`
}

// Logger handles per-event completion logging, separate from the
// operational logger returned by Op().
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default event logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
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
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes an event log entry.
func (l *Logger) Log(entry *EventLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		retry := ""
		if entry.Retries > 0 {
			retry = fmt.Sprintf(" [retry:%d]", entry.Retries)
		}
		fmt.Printf("[event] %s #%d (%s/%s) %dms%s\n",
			status, entry.EventNumber, entry.Source, entry.Level, entry.DurationMs, retry)
		if entry.Error != "" {
			fmt.Printf("[event]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
