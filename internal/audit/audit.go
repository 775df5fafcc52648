// Package audit records policy denials for later inspection.
package audit

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// Event is one denied action. Timestamps are RFC3339 UTC.
type Event struct {
	Timestamp     string `json:"timestamp"`
	Kind          string `json:"kind"`
	ToolName      string `json:"tool_name"`
	Resource      string `json:"resource,omitempty"`
	Command       string `json:"command,omitempty"`
	Reason        string `json:"reason"`
	Rule          string `json:"rule,omitempty"`
	PolicyVersion string `json:"policy_version,omitempty"`
	PolicyHash    string `json:"policy_hash,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
}

// Sink receives denial events. Implementations must be safe for concurrent
// use; a failing sink must not affect the verdict already computed.
type Sink interface {
	RecordDenial(event Event) error
}

// Now returns the event timestamp format used across sinks.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

type NopSink struct{}

func (NopSink) RecordDenial(Event) error { return nil }

// MemorySink collects events in memory, for tests and inspection endpoints.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) RecordDenial(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// FileSink appends one JSON document per line to a log file.
type FileSink struct {
	mu   sync.Mutex
	path string
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) RecordDenial(event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// #nosec G304 -- path comes from operator-configured audit log path.
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return nil
}
