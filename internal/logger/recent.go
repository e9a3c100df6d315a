package logger

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

const defaultRecentSize = 1000

// LogEntry is a parsed log line kept for the recent logs endpoint.
type LogEntry struct {
	Timestamp string         `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// RecentLogs keeps the latest log entries in memory. It is an io.Writer fed
// with zerolog JSON lines.
type RecentLogs struct {
	buffer *RingBuffer[LogEntry]
}

// NewRecentLogs creates a buffer holding up to size entries.
func NewRecentLogs(size int) *RecentLogs {
	if size <= 0 {
		size = defaultRecentSize
	}
	return &RecentLogs{buffer: NewRingBuffer[LogEntry](size)}
}

// Write implements io.Writer.
func (r *RecentLogs) Write(p []byte) (int, error) {
	if entry, err := parseLogEntry(p); err == nil {
		r.buffer.Push(entry)
	}
	return len(p), nil
}

// Entries returns buffered entries, oldest first, optionally filtered by
// minimum level and provider. limit <= 0 returns all matches.
func (r *RecentLogs) Entries(minLevel zerolog.Level, provider string, limit int) []LogEntry {
	all := r.buffer.GetAll()
	out := make([]LogEntry, 0, len(all))
	for _, e := range all {
		if lvl, err := zerolog.ParseLevel(e.Level); err == nil && lvl < minLevel {
			continue
		}
		if provider != "" && e.Provider != provider {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func parseLogEntry(data []byte) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return LogEntry{}, err
	}

	entry := LogEntry{Fields: make(map[string]any)}
	take := func(key string) string {
		s, _ := raw[key].(string)
		delete(raw, key)
		return s
	}
	entry.Timestamp = take(zerolog.TimestampFieldName)
	entry.Level = take(zerolog.LevelFieldName)
	entry.Component = take("component")
	entry.Provider = take("provider")
	entry.Message = take(zerolog.MessageFieldName)
	for k, v := range raw {
		entry.Fields[k] = v
	}
	return entry, nil
}
