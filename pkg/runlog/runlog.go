// Package runlog appends one JSONL entry per compiler run or MCP tool call.
package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is the schema for one compiler run.
type Entry struct {
	Ts         string   `json:"ts"`
	RunID      string   `json:"run_id"`
	Source     string   `json:"source"`
	Command    string   `json:"command"`
	Args       []string `json:"args"`
	ExitCode   int      `json:"exit_code"`
	Records    int      `json:"records"`
	DurationMs int64    `json:"duration_ms"`
	Error      *string  `json:"error"`
}

// ToolEntry is the schema for one MCP tool call.
type ToolEntry struct {
	Ts            string         `json:"ts"`
	Tool          string         `json:"tool"`
	Params        map[string]any `json:"params"`
	DurationMs    int64          `json:"duration_ms"`
	ResponseBytes int            `json:"response_bytes"`
	Error         *string        `json:"error"`
}

// Logger appends JSONL entries to a file. It is safe for concurrent use.
// A nil *Logger is valid and discards everything.
type Logger struct {
	mu      sync.Mutex
	path    string
	f       *os.File
	enc     *json.Encoder
	pending sync.WaitGroup
}

// New opens (or creates) the file at path for appending. Parent directories
// are created. Returns nil, nil if path is empty.
func New(path string) (*Logger, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runlog: create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("runlog: open log file: %w", err)
	}
	return &Logger{path: path, f: f, enc: json.NewEncoder(f)}, nil
}

// Path returns the file being written, "" for a nil Logger.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Write appends a run entry. An empty Ts is filled from Now.
func (l *Logger) Write(entry Entry) error {
	if l == nil {
		return nil
	}
	if entry.Ts == "" {
		entry.Ts = Timestamp()
	}
	if entry.Args == nil {
		entry.Args = []string{}
	}
	return l.encode(entry)
}

// WriteTool appends a tool-call entry. An empty Ts is filled from Now.
func (l *Logger) WriteTool(entry ToolEntry) error {
	if l == nil {
		return nil
	}
	if entry.Ts == "" {
		entry.Ts = Timestamp()
	}
	return l.encode(entry)
}

func (l *Logger) encode(v any) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(v)
}

// Reserve announces an entry that will be written later, typically from
// another goroutine. Close waits until every returned release func has been
// called.
func (l *Logger) Reserve() (release func()) {
	if l == nil {
		return func() {}
	}
	l.pending.Add(1)
	var once sync.Once
	return func() { once.Do(l.pending.Done) }
}

// Close waits for reserved entries and closes the underlying file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.pending.Wait()
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

// ErrorString returns a pointer to err's message, nil for a nil error.
func ErrorString(err error) *string {
	if err == nil {
		return nil
	}
	s := err.Error()
	return &s
}

// SanitizeParams returns a copy of args safe for logging. String values
// longer than 64 bytes are replaced with a "{key}_len" entry.
func SanitizeParams(args map[string]any) map[string]any {
	const shortStringMax = 64
	out := make(map[string]any, len(args))
	for k, v := range args {
		if s, ok := v.(string); ok && len(s) > shortStringMax {
			out[k+"_len"] = len(s)
		} else {
			out[k] = v
		}
	}
	return out
}

// Now is a replaceable clock for testing.
var Now = func() time.Time { return time.Now() }

// Timestamp formats Now in UTC as RFC 3339 with milliseconds.
func Timestamp() string {
	return Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
