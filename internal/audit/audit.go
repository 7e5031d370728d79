package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PreviewLimit bounds Content and Result to a loggable preview, counted in
// code points so multibyte text is never split mid-rune.
const PreviewLimit = 200

// Entry is one executed action. Entries are appended exactly once and never
// rewritten; external audit tooling reads the file directly.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Turn      string    `json:"turn,omitempty"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	Result    string    `json:"result"`
}

// Log is the append-only activity trail. A single writer mutex keeps entries
// from interleaving when the health monitor and executor log concurrently.
type Log struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

// Open creates the log file (and its directory) in append mode.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	return &Log{path: path, f: f}, nil
}

// Append writes one entry as a JSON line and syncs it to disk before
// returning, so the record survives even a power transition issued by the
// action it describes.
func (l *Log) Append(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	e.Content = Clip(e.Content, PreviewLimit)
	e.Result = Clip(e.Result, PreviewLimit)

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("audit log closed")
	}
	if _, err := l.f.Write(data); err != nil {
		return fmt.Errorf("append entry: %w", err)
	}
	return l.f.Sync()
}

// Flush forces buffered entries to disk. Append already syncs, so this only
// matters as the final barrier before shutdown or a power transition.
func (l *Log) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	return l.f.Sync()
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// Entries loads the full trail, skipping lines that fail to decode.
func (l *Log) Entries() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, line := range bytes.Split(bytes.TrimSpace(data), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Clip truncates s to at most n code points, marking the cut.
func Clip(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
