package logs

import (
	"context"
	"strings"

	"github.com/sasha-s/go-deadlock"
)

// Entry is one message captured by a Recorder.
type Entry struct {
	Level  string
	Msg    string
	Fields map[string]interface{}
}

// Recorder keeps every message in memory. Tests use it to assert on dangling warnings.
type Recorder struct {
	mu      *deadlock.Mutex
	entries *[]Entry
	fields  map[string]interface{}
}

func NewRecorder() *Recorder {
	return &Recorder{
		mu:      &deadlock.Mutex{},
		entries: &[]Entry{},
		fields:  map[string]interface{}{},
	}
}

func (r *Recorder) record(level, msg string, keysAndValues []interface{}) {
	fields := make(map[string]interface{}, len(r.fields)+len(keysAndValues)/2)
	for k, v := range r.fields {
		fields[k] = v
	}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{Level: level, Msg: msg, Fields: fields})
	r.mu.Unlock()
}

func (r *Recorder) Debug(_ context.Context, msg string, keysAndValues ...interface{}) {
	r.record("DEBUG", msg, keysAndValues)
}

func (r *Recorder) Info(_ context.Context, msg string, keysAndValues ...interface{}) {
	r.record("INFO", msg, keysAndValues)
}

func (r *Recorder) Warn(_ context.Context, msg string, keysAndValues ...interface{}) {
	r.record("WARN", msg, keysAndValues)
}

func (r *Recorder) Error(_ context.Context, msg string, keysAndValues ...interface{}) {
	r.record("ERROR", msg, keysAndValues)
}

func (r *Recorder) WithFields(fields map[string]interface{}) Logger {
	merged := make(map[string]interface{}, len(r.fields)+len(fields))
	for k, v := range r.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Recorder{mu: r.mu, entries: r.entries, fields: merged}
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Contains reports whether a message at level contains substr.
func (r *Recorder) Contains(level, substr string) bool {
	for _, e := range r.Entries() {
		if e.Level == level && strings.Contains(e.Msg, substr) {
			return true
		}
	}
	return false
}
