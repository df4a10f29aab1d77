package logx

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// sink is the writer shared by a logger and all of its children.
type sink struct {
	mu     sync.Mutex
	writer io.Writer
}

// Logger writes structured entries. Construct one with New and pass it to
// every component; there is no package-level logger.
type Logger struct {
	config    *Config
	formatter Formatter
	out       *sink
	level     *atomic.Uint32
	fields    Fields
	exitFunc  func(int)
}

// New creates a new logger with the given config
func New(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}

	var formatter Formatter
	switch config.Format {
	case FormatJSON:
		formatter = NewJSONFormatter(config)
	case FormatCloudWatch:
		formatter = NewCloudWatchFormatter(config)
	default:
		formatter = NewConsoleFormatter(config)
	}

	writer := config.Output
	if writer == nil {
		writer = os.Stdout
	}

	level := new(atomic.Uint32)
	level.Store(uint32(config.Level))

	return &Logger{
		config:    config,
		formatter: formatter,
		out:       &sink{writer: writer},
		level:     level,
		fields:    Fields{},
		exitFunc:  os.Exit,
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	cfg := DefaultConfig()
	cfg.Level = LevelOff
	cfg.Output = io.Discard
	return New(cfg)
}

// With returns a child logger that adds key=value to every entry. The child
// shares the parent's writer and level.
func (l *Logger) With(key string, value any) *Logger {
	return l.Child(Fields{key: value})
}

// Named returns a child logger tagged with a component name.
func (l *Logger) Named(component string) *Logger {
	return l.With("component", component)
}

// Child returns a child logger carrying fields on every entry.
func (l *Logger) Child(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{
		config:    l.config,
		formatter: l.formatter,
		out:       l.out,
		level:     l.level,
		fields:    merged,
		exitFunc:  l.exitFunc,
	}
}

// SetLevel sets the log level for this logger and all of its children
func (l *Logger) SetLevel(level Level) {
	l.level.Store(uint32(level))
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() Level {
	return Level(l.level.Load())
}

// SetOutput sets the output writer for this logger and all of its children
func (l *Logger) SetOutput(w io.Writer) {
	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	l.out.writer = w
}

// log is the internal logging method. Callers must be exactly one frame
// above the user's code so that caller reporting stays accurate.
func (l *Logger) log(level Level, msg string, fields Fields, data any, err error) {
	if !l.GetLevel().Enabled(level) {
		return
	}

	all := fields
	if len(l.fields) > 0 {
		all = make(Fields, len(l.fields)+len(fields))
		for k, v := range l.fields {
			all[k] = v
		}
		for k, v := range fields {
			all[k] = v
		}
	}

	entry := &LogEntry{
		Level:     level,
		Message:   msg,
		Fields:    all,
		Data:      data,
		Error:     err,
		Timestamp: time.Now(),
	}

	if l.config.EnableCaller {
		entry.Caller = getCaller(3)
	}

	formatted, formatErr := l.formatter.Format(entry)
	if formatErr != nil {
		fmt.Fprintf(os.Stderr, "Error formatting log: %v\n", formatErr)
		return
	}

	l.out.mu.Lock()
	defer l.out.mu.Unlock()

	if _, writeErr := l.out.writer.Write(formatted); writeErr != nil {
		fmt.Fprintf(os.Stderr, "Error writing log: %v\n", writeErr)
	}
}

// WithField creates a new entry with a field
func (l *Logger) WithField(key string, value any) *Entry {
	return newEntry(l).WithField(key, value)
}

// WithFields creates a new entry with fields
func (l *Logger) WithFields(fields Fields) *Entry {
	return newEntry(l).WithFields(fields)
}

// WithError creates a new entry with an error
func (l *Logger) WithError(err error) *Entry {
	return newEntry(l).WithError(err)
}

// WithStruct creates a new entry with structured data
func (l *Logger) WithStruct(data any) *Entry {
	return newEntry(l).WithStruct(data)
}

func (l *Logger) Debug(msg string) { l.log(LevelDebug, msg, nil, nil, nil) }
func (l *Logger) Info(msg string)  { l.log(LevelInfo, msg, nil, nil, nil) }
func (l *Logger) Warn(msg string)  { l.log(LevelWarn, msg, nil, nil, nil) }
func (l *Logger) Error(msg string) { l.log(LevelError, msg, nil, nil, nil) }

func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, fmt.Sprintf(format, args...), nil, nil, nil)
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, fmt.Sprintf(format, args...), nil, nil, nil)
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, fmt.Sprintf(format, args...), nil, nil, nil)
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, fmt.Sprintf(format, args...), nil, nil, nil)
}

// Fatalf logs at fatal level and exits the process
func (l *Logger) Fatalf(format string, args ...any) {
	l.log(LevelFatal, fmt.Sprintf(format, args...), nil, nil, nil)
	l.exit(1)
}

// exit calls the exit function (swappable in tests)
func (l *Logger) exit(code int) {
	l.exitFunc(code)
}

// getCaller returns the file and line number of the caller
func getCaller(skip int) string {
	_, file, line, ok := runtime.Caller(skip)
	if !ok {
		return "???"
	}

	parts := strings.Split(file, "/")
	file = parts[len(parts)-1]

	return fmt.Sprintf("%s:%d", file, line)
}
