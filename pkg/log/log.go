// Package log provides structured logging for qmap.
//
// Entries are grouped into categories, each with its own level:
//   - System: process lifecycle, CLI and watcher state
//   - Config: mapping file loading and per-entry validation skips
//   - Rewrite: query rewriting passes
//   - Execution: running rewritten queries against a database
package log

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// Level represents a logging severity level.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelOff // Disable logging entirely
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level string.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarn, nil
	case "ERROR", "ERR":
		return LevelError, nil
	case "OFF", "NONE":
		return LevelOff, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

// Category identifies the logging category.
type Category string

const (
	CategorySystem    Category = "system"
	CategoryConfig    Category = "config"
	CategoryRewrite   Category = "rewrite"
	CategoryExecution Category = "execution"
)

var categories = []Category{
	CategorySystem,
	CategoryConfig,
	CategoryRewrite,
	CategoryExecution,
}

// Format specifies the output format.
type Format int

const (
	FormatText Format = iota // Human-readable text
	FormatJSON               // One JSON object per line
)

// ParseFormat parses a format string ("text" or "json").
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	default:
		return FormatText, fmt.Errorf("unknown log format: %s", s)
	}
}

// Field is a single key/value pair attached to an entry.
type Field struct {
	Key   string
	Value interface{}
}

// Entry represents a single log entry.
type Entry struct {
	Time     time.Time
	Level    Level
	Category Category
	Message  string
	Fields   []Field
	ErrorStr string
	Caller   string
}

// Logger writes entries for every category at or above that category's level.
type Logger struct {
	mu sync.RWMutex

	levels map[Category]Level
	output io.Writer
	format Format

	includeCaller bool
}

// Config holds logger configuration.
type Config struct {
	// Default level for all categories
	DefaultLevel Level

	// Per-category level overrides
	CategoryLevels map[Category]Level

	Output io.Writer // os.Stderr if nil
	Format Format

	IncludeCaller bool // Include file:line in log entries
}

// New creates a new logger with the given configuration.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	l := &Logger{
		levels:        make(map[Category]Level, len(categories)),
		output:        cfg.Output,
		format:        cfg.Format,
		includeCaller: cfg.IncludeCaller,
	}
	for _, cat := range categories {
		l.levels[cat] = cfg.DefaultLevel
	}
	for cat, level := range cfg.CategoryLevels {
		l.levels[cat] = level
	}

	return l
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return New(Config{DefaultLevel: LevelOff, Output: io.Discard})
}

// Enabled reports whether an entry at level would be written for cat.
func (l *Logger) Enabled(cat Category, level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	catLevel, ok := l.levels[cat]
	if !ok {
		return false
	}
	return level >= catLevel && catLevel != LevelOff
}

// System returns a category logger for system events.
func (l *Logger) System() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategorySystem}
}

// Config returns a category logger for mapping configuration events.
func (l *Logger) Config() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategoryConfig}
}

// Rewrite returns a category logger for rewrite events.
func (l *Logger) Rewrite() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategoryRewrite}
}

// Execution returns a category logger for query execution events.
func (l *Logger) Execution() *CategoryLogger {
	return &CategoryLogger{logger: l, category: CategoryExecution}
}

func (l *Logger) log(level Level, cat Category, msg string, err error, fields ...interface{}) {
	if !l.Enabled(cat, level) {
		return
	}

	entry := &Entry{
		Time:     time.Now(),
		Level:    level,
		Category: cat,
		Message:  msg,
	}
	if err != nil {
		entry.ErrorStr = err.Error()
	}

	// Fields are key/value pairs; a trailing key without value is dropped.
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			entry.Fields = append(entry.Fields, Field{Key: key, Value: fields[i+1]})
		}
	}

	l.mu.RLock()
	includeCaller := l.includeCaller
	format := l.format
	output := l.output
	l.mu.RUnlock()

	if includeCaller {
		if _, file, line, ok := runtime.Caller(2); ok {
			if idx := strings.LastIndex(file, "/"); idx >= 0 {
				file = file[idx+1:]
			}
			entry.Caller = fmt.Sprintf("%s:%d", file, line)
		}
	}

	var line string
	if format == FormatJSON {
		line = formatJSON(entry)
	} else {
		line = formatText(entry)
	}

	l.mu.Lock()
	io.WriteString(output, line)
	l.mu.Unlock()
}

// formatJSON writes one object per entry. Fields keep the order they were
// logged in.
func formatJSON(entry *Entry) string {
	var buf bytes.Buffer

	buf.WriteString(`{"time":`)
	writeJSONValue(&buf, entry.Time.Format(time.RFC3339Nano))
	buf.WriteString(`,"level":`)
	writeJSONValue(&buf, entry.Level.String())
	buf.WriteString(`,"category":`)
	writeJSONValue(&buf, string(entry.Category))
	buf.WriteString(`,"message":`)
	writeJSONValue(&buf, entry.Message)

	if entry.ErrorStr != "" {
		buf.WriteString(`,"error":`)
		writeJSONValue(&buf, entry.ErrorStr)
	}
	if entry.Caller != "" {
		buf.WriteString(`,"caller":`)
		writeJSONValue(&buf, entry.Caller)
	}
	if len(entry.Fields) > 0 {
		buf.WriteString(`,"fields":{`)
		for i, f := range entry.Fields {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSONValue(&buf, f.Key)
			buf.WriteByte(':')
			writeJSONValue(&buf, f.Value)
		}
		buf.WriteByte('}')
	}

	buf.WriteString("}\n")
	return buf.String()
}

// writeJSONValue falls back to the value's %v text when it cannot be encoded.
func writeJSONValue(buf *bytes.Buffer, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		data, _ = json.Marshal(fmt.Sprint(v))
	}
	buf.Write(data)
}

func formatText(entry *Entry) string {
	var buf strings.Builder

	buf.WriteString(entry.Time.Format("2006-01-02 15:04:05.000"))
	buf.WriteString(" ")
	buf.WriteString(fmt.Sprintf("%-5s", entry.Level.String()))
	buf.WriteString(" [")
	buf.WriteString(string(entry.Category))
	buf.WriteString("] ")

	if entry.Caller != "" {
		buf.WriteString(entry.Caller)
		buf.WriteString(" ")
	}

	buf.WriteString(entry.Message)

	if entry.ErrorStr != "" {
		buf.WriteString(" error=")
		buf.WriteString(fmt.Sprintf("%q", entry.ErrorStr))
	}

	for _, f := range entry.Fields {
		buf.WriteString(" ")
		buf.WriteString(f.Key)
		buf.WriteString("=")
		buf.WriteString(fmt.Sprintf("%v", f.Value))
	}

	buf.WriteString("\n")
	return buf.String()
}

// CategoryLogger is a logger bound to a specific category.
type CategoryLogger struct {
	logger   *Logger
	category Category
}

func (cl *CategoryLogger) Debug(msg string, fields ...interface{}) {
	cl.logger.log(LevelDebug, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Info(msg string, fields ...interface{}) {
	cl.logger.log(LevelInfo, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Warn(msg string, fields ...interface{}) {
	cl.logger.log(LevelWarn, cl.category, msg, nil, fields...)
}

func (cl *CategoryLogger) Error(msg string, err error, fields ...interface{}) {
	cl.logger.log(LevelError, cl.category, msg, err, fields...)
}

// WithFields returns a FieldLogger with preset fields.
func (cl *CategoryLogger) WithFields(fields ...interface{}) *FieldLogger {
	return &FieldLogger{categoryLogger: cl, fields: fields}
}

// FieldLogger is a category logger with preset fields.
type FieldLogger struct {
	categoryLogger *CategoryLogger
	fields         []interface{}
}

func (fl *FieldLogger) with(extra []interface{}) []interface{} {
	out := make([]interface{}, 0, len(fl.fields)+len(extra))
	out = append(out, fl.fields...)
	return append(out, extra...)
}

func (fl *FieldLogger) Debug(msg string, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelDebug, fl.categoryLogger.category, msg, nil, fl.with(extraFields)...)
}

func (fl *FieldLogger) Info(msg string, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelInfo, fl.categoryLogger.category, msg, nil, fl.with(extraFields)...)
}

func (fl *FieldLogger) Warn(msg string, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelWarn, fl.categoryLogger.category, msg, nil, fl.with(extraFields)...)
}

func (fl *FieldLogger) Error(msg string, err error, extraFields ...interface{}) {
	fl.categoryLogger.logger.log(LevelError, fl.categoryLogger.category, msg, err, fl.with(extraFields)...)
}

var (
	defaultMu     sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process-wide logger, creating it on first use.
func Default() *Logger {
	defaultMu.RLock()
	l := defaultLogger
	defaultMu.RUnlock()
	if l != nil {
		return l
	}

	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(Config{DefaultLevel: LevelWarn})
	}
	return defaultLogger
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}
