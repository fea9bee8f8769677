// Package logging implements the server's append-only event log.
//
// Every emitted record is written as one human-readable line to the console
// and appended as one JSON LogEntry to a day-stamped file. Components log
// through the *slog.Logger returned by Logger.Slog.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/chathub/internal/config"
)

const consoleTimeFormat = "2006-01-02 15:04:05.000"

// LogEntry is the record appended to the log file.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Options configures a Logger.
type Options struct {
	// Dir is the log directory. Empty disables the file sink.
	Dir   string
	Level config.Level
	// Console receives the mirrored lines; defaults to os.Stdout.
	Console io.Writer
	// Now is used for the file date and record timestamps; defaults to time.Now.
	Now func() time.Time
}

// Logger writes level-filtered records to the console and the day's log file.
type Logger struct {
	mu      sync.Mutex
	level   config.Level
	console io.Writer
	file    *os.File
	path    string
	now     func() time.Time
	onEntry atomic.Pointer[func(LogEntry)]
	slog    *slog.Logger
}

// New creates a Logger. The log file name is derived once from the current
// date; the logger never rolls files mid-run. A file that cannot be opened
// is reported on the console and the logger continues console-only.
func New(opts Options) *Logger {
	l := &Logger{
		level:   opts.Level,
		console: opts.Console,
		now:     opts.Now,
	}
	if l.console == nil {
		l.console = os.Stdout
	}
	if l.now == nil {
		l.now = time.Now
	}

	if opts.Dir != "" {
		l.path = filepath.Join(opts.Dir, fmt.Sprintf("chathub-%s.log", l.now().Format("2006-01-02")))
		if err := l.open(opts.Dir); err != nil {
			l.consoleError("log file unavailable, logging to console only", err)
		}
	}

	l.slog = slog.New(&handler{logger: l})
	return l
}

func (l *Logger) open(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// Slog returns a *slog.Logger backed by this Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Path returns the log file path, or "" when logging to the console only.
func (l *Logger) Path() string {
	return l.path
}

// Enabled reports whether records at level are emitted.
func (l *Logger) Enabled(level config.Level) bool {
	return level >= l.level
}

// OnEntry registers fn to observe every emitted entry. fn runs after the entry
// has been written and must not log through this Logger synchronously.
func (l *Logger) OnEntry(fn func(LogEntry)) {
	if fn == nil {
		l.onEntry.Store(nil)
		return
	}
	l.onEntry.Store(&fn)
}

// Log emits message at level with the given detail, if level passes the
// configured threshold.
func (l *Logger) Log(level config.Level, message string, detail map[string]any) {
	if !l.Enabled(level) {
		return
	}
	l.write(LogEntry{
		Timestamp: l.now(),
		Level:     level.String(),
		Message:   message,
		Detail:    detail,
	})
}

func (l *Logger) write(entry LogEntry) {
	line := formatConsole(entry)
	record := encodeEntry(entry)

	l.mu.Lock()
	_, _ = io.WriteString(l.console, line)
	if l.file != nil {
		if _, err := l.file.Write(record); err != nil {
			l.consoleErrorLocked("log file write failed", err)
		}
	}
	l.mu.Unlock()

	if fn := l.onEntry.Load(); fn != nil {
		(*fn)(entry)
	}
}

// Close flushes and closes the log file. Later records go to the console only.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}

func (l *Logger) consoleError(msg string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consoleErrorLocked(msg, err)
}

func (l *Logger) consoleErrorLocked(msg string, err error) {
	_, _ = fmt.Fprintf(l.console, "%s [ERROR] %s path=%s error=%q\n",
		l.now().Format(consoleTimeFormat), msg, l.path, err.Error())
}

func formatConsole(entry LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp.Format(consoleTimeFormat))
	b.WriteString(" [")
	b.WriteString(strings.ToUpper(entry.Level))
	b.WriteString("] ")
	b.WriteString(entry.Message)

	keys := make([]string, 0, len(entry.Detail))
	for k := range entry.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, entry.Detail[k])
	}
	b.WriteByte('\n')
	return b.String()
}

// encodeEntry renders one JSON line. Detail values that cannot be encoded
// are replaced by their fmt representation.
func encodeEntry(entry LogEntry) []byte {
	data, err := json.Marshal(entry)
	if err != nil {
		safe := make(map[string]any, len(entry.Detail))
		for k, v := range entry.Detail {
			safe[k] = fmt.Sprint(v)
		}
		entry.Detail = safe
		data, _ = json.Marshal(entry)
	}
	return append(data, '\n')
}
