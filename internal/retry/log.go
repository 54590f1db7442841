package retry

import (
	"sync"
	"time"

	"github.com/skypro1111/whisper-inference-service/internal/metrics"
)

// Recovery actions recorded in the diagnostics log. The labels are
// part of the /retry-logs payload, clients grep for them.
const (
	ActionTranscriptionFailed = "transcription_failed"
	ActionClearingVRAM        = "clearing_vram"
	ActionRestarting          = "restarting_whisper"
	ActionExhausted           = "all_attempts_exhausted"
)

// Entry is one recovery event.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Attempt   int       `json:"attempt"`
	Error     string    `json:"error"`
	Action    string    `json:"action"`
}

// Log is a bounded in-memory record of recovery events. Once full, the
// oldest entry is dropped for each new one, so a long-running service
// keeps only the recent history.
type Log struct {
	mu      sync.RWMutex
	entries []Entry // ring storage
	head    int     // index of the oldest entry
	size    int
	metrics *metrics.Metrics
}

// NewLog creates a log holding at most capacity entries.
func NewLog(capacity int, m *metrics.Metrics) *Log {
	if capacity <= 0 {
		capacity = 100
	}
	return &Log{
		entries: make([]Entry, capacity),
		metrics: m,
	}
}

// Append records a recovery event.
func (l *Log) Append(attempt int, errMsg, action string) {
	l.mu.Lock()
	idx := (l.head + l.size) % len(l.entries)
	l.entries[idx] = Entry{
		Timestamp: time.Now(),
		Attempt:   attempt,
		Error:     errMsg,
		Action:    action,
	}
	if l.size < len(l.entries) {
		l.size++
	} else {
		l.head = (l.head + 1) % len(l.entries)
	}
	size := l.size
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordRetryEvent(action)
		l.metrics.SetRetryLogSize(size)
	}
}

// Entries returns a copy of the log, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, l.size)
	for i := 0; i < l.size; i++ {
		out[i] = l.entries[(l.head+i)%len(l.entries)]
	}
	return out
}

// Len returns the number of stored entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.size
}

// Capacity returns the maximum number of stored entries.
func (l *Log) Capacity() int {
	return len(l.entries)
}
