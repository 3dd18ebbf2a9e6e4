// Package eventlog records the cross-actor message trace as daily
// rotated JSONL files, one record per delivered message.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aide/pkg/logx"
	"aide/pkg/proto"
)

// Record is one trace entry. Payload bodies are deliberately omitted;
// the trace answers "who sent what kind to whom, when", not "what was said".
type Record struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	RequestID string    `json:"request_id,omitempty"`
}

// Writer appends trace records to daily rotated JSONL files.
type Writer struct {
	logDir      string
	mu          sync.Mutex
	currentFile *os.File
	currentDate string
	logger      *logx.Logger
}

// NewWriter creates the log directory if needed and opens today's file.
func NewWriter(logDir string) (*Writer, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &Writer{
		logDir: logDir,
		logger: logx.NewLogger("eventlog"),
	}
	if err := w.rotateIfNeeded(); err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return w, nil
}

// Observe is the directory trace hook. Write failures are logged and
// swallowed; the trace never blocks or fails message delivery.
func (w *Writer) Observe(to string, msg proto.Message) {
	rec := Record{
		Timestamp: time.Now().UTC(),
		Kind:      msg.Kind().String(),
		To:        to,
	}
	if c, ok := msg.(proto.Correlated); ok {
		rec.RequestID = c.CorrelationID()
	}
	if err := w.Write(rec); err != nil {
		w.logger.Warn("trace write failed: %v", err)
	}
}

// Write appends one record to the current file, rotating first if the
// date has changed.
func (w *Writer) Write(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return fmt.Errorf("event log closed")
	}
	if err := w.rotateIfNeeded(); err != nil {
		return fmt.Errorf("rotate log file: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("serialize record: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.currentFile.Write(data); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

func (w *Writer) rotateIfNeeded() error {
	newDate := time.Now().Format("2006-01-02")
	if w.currentFile != nil && w.currentDate == newDate {
		return nil
	}

	if w.currentFile != nil {
		if err := w.currentFile.Close(); err != nil {
			return fmt.Errorf("close log file: %w", err)
		}
		w.currentFile = nil
	}

	path := filepath.Join(w.logDir, fmt.Sprintf("trace-%s.jsonl", newDate))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file %s: %w", path, err)
	}

	w.currentFile = file
	w.currentDate = newDate
	return nil
}

// CurrentLogFile returns the path of the active log file, or "" if closed.
func (w *Writer) CurrentLogFile() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return ""
	}
	return filepath.Join(w.logDir, fmt.Sprintf("trace-%s.jsonl", w.currentDate))
}

// Close flushes and closes the current file. Writes after Close fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.currentFile == nil {
		return nil
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	if err != nil {
		return fmt.Errorf("close event log file: %w", err)
	}
	return nil
}

// ReadRecords parses every record in one log file.
func ReadRecords(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	defer file.Close()

	var records []Record
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("parse record: %w", err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan log file: %w", err)
	}
	return records, nil
}

// ListLogFiles returns all trace files in the log directory.
func ListLogFiles(logDir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(logDir, "trace-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("list log files: %w", err)
	}
	return files, nil
}
