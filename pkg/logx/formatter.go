package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Formatter renders one entry, newline included.
type Formatter interface {
	Format(entry *LogEntry) ([]byte, error)
}

// LogEntry is what a Logger hands to its Formatter.
type LogEntry struct {
	Level     Level
	Message   string
	Fields    Fields
	Data      any
	Error     error
	Timestamp time.Time
	Caller    string
}

// Fields is a map of structured data
type Fields map[string]any

// headKeys are printed before the remaining, sorted, field keys.
var headKeys = []string{"component", "worker_id", "job_id"}

// orderedKeys returns the field keys with headKeys first.
func orderedKeys(fields Fields) []string {
	keys := make([]string, 0, len(fields))
	for _, h := range headKeys {
		if _, ok := fields[h]; ok {
			keys = append(keys, h)
		}
	}
	head := len(keys)
	for k := range fields {
		if !isHeadKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys[head:])
	return keys
}

func isHeadKey(k string) bool {
	for _, h := range headKeys {
		if h == k {
			return true
		}
	}
	return false
}

// timestampValue is the JSON value for t: a number for the unix layouts.
func timestampValue(t time.Time, layout string) any {
	switch layout {
	case "unix":
		return t.Unix()
	case "unixmilli":
		return t.UnixMilli()
	default:
		return t.Format(layout)
	}
}

func formatTimestamp(t time.Time, layout string) string {
	switch v := timestampValue(t, layout).(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func prettyJSON(data any) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", data)
	}
	return string(b)
}
