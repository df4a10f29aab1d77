package logx

import (
	"encoding/json"
	"errors"

	"github.com/Abraxas-365/jobrelay/pkg/errx"
)

// jsonKeys names the envelope keys, which differ between plain JSON and
// CloudWatch output.
type jsonKeys struct {
	message   string
	timestamp string
}

// JSONFormatter writes one JSON object per line. Registry errors add
// error_code and error_type next to the error text.
type JSONFormatter struct {
	config *Config
	keys   jsonKeys
	// always stamp the time, whatever EnableTimestamp says
	stamp bool
}

func NewJSONFormatter(config *Config) *JSONFormatter {
	return &JSONFormatter{config: config, keys: jsonKeys{message: "message", timestamp: "timestamp"}}
}

// NewCloudWatchFormatter uses the msg/time keys CloudWatch Insights
// discovers automatically, and always carries the time.
func NewCloudWatchFormatter(config *Config) *JSONFormatter {
	return &JSONFormatter{config: config, keys: jsonKeys{message: "msg", timestamp: "time"}, stamp: true}
}

func (f *JSONFormatter) Format(entry *LogEntry) ([]byte, error) {
	data := make(map[string]any, len(entry.Fields)+6)
	for k, v := range entry.Fields {
		data[k] = v
	}

	data["level"] = entry.Level.String()
	data[f.keys.message] = entry.Message

	if f.stamp || f.config.EnableTimestamp {
		data[f.keys.timestamp] = timestampValue(entry.Timestamp, f.config.TimeFormat)
	}
	if f.config.EnableCaller && entry.Caller != "" {
		data["caller"] = entry.Caller
	}
	if entry.Error != nil {
		data["error"] = entry.Error.Error()
		var e *errx.Error
		if errors.As(entry.Error, &e) {
			data["error_code"] = e.Code
			data["error_type"] = string(e.Type)
		}
	}
	if entry.Data != nil {
		data["data"] = entry.Data
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}
