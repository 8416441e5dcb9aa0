package log

import (
	"bufio"
	"io"
	"os"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Logger is the logging surface the scanner components use. It is a
// logrus logger with level and destination management bolted on.
type Logger interface {
	log.FieldLogger
	WithTask(queueID string) *log.Entry
	Reopen() error
	GetLogDest() string
	SetLevel(level string)
	GetLevel() string
	IsDebug() bool
	AddHook(h log.Hook)
}

// HookedLogger implements Logger. Output goes through a hook so the
// destination file can be re-opened under logrotate.
type HookedLogger struct {
	*log.Logger

	h LoggerHook
}

type loggerCache map[string]Logger

// loggers caches the loggers created by GetLogger, keyed on destination
var loggers struct {
	cache loggerCache
	sync.Mutex
}

// GetLogger returns a Logger writing to dest. dest can be a file path or
// one of the special values "stdout", "stderr" and "off". Loggers are
// cached per destination; on hook setup failure the logger falls back to
// stderr and the error is returned alongside the usable logger.
func GetLogger(dest string) (Logger, error) {
	loggers.Lock()
	defer loggers.Unlock()
	if loggers.cache == nil {
		loggers.cache = make(loggerCache, 1)
	} else if l, ok := loggers.cache[dest]; ok {
		return l, nil
	}
	logger := log.New()
	// the hook does the writing
	logger.Out = io.Discard

	l := &HookedLogger{Logger: logger}
	loggers.cache[dest] = l

	h, err := NewLogrusHook(dest)
	if err != nil {
		logger.Out = os.Stderr
		return l, err
	}
	logger.Hooks.Add(h)
	l.h = h
	return l, nil
}

func (l *HookedLogger) AddHook(h log.Hook) {
	l.Logger.Hooks.Add(h)
}

func (l *HookedLogger) IsDebug() bool {
	return l.GetLevel() == log.DebugLevel.String()
}

// SetLevel sets a log level, one of the logrus level names
func (l *HookedLogger) SetLevel(level string) {
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		return
	}
	l.Logger.SetLevel(logLevel)
}

func (l *HookedLogger) GetLevel() string {
	return l.Logger.GetLevel().String()
}

// Reopen closes the log file and re-opens it
func (l *HookedLogger) Reopen() error {
	if l.h == nil {
		return nil
	}
	return l.h.Reopen()
}

func (l *HookedLogger) GetLogDest() string {
	if l.h == nil {
		return ""
	}
	return l.h.GetLogDest()
}

// WithTask tags log entries with the queue id of the task being scanned
func (l *HookedLogger) WithTask(queueID string) *log.Entry {
	return l.WithField("qid", queueID)
}

// LoggerHook extends the logrus Hook interface with Reopen for logrotate
type LoggerHook interface {
	log.Hook
	Reopen() error
	GetLogDest() string
}

type LogrusHook struct {
	w io.Writer
	// file descriptor, can be re-opened
	fd    *os.File
	fname string
	// formatter without colors for file output
	plain *log.TextFormatter

	mu sync.Mutex
}

type OutputOption int

const (
	OutputStderr OutputOption = 1 + iota
	OutputStdout
	OutputOff
	OutputNull
	OutputFile
)

var outputOptions = [...]string{
	"stderr",
	"stdout",
	"off",
	"",
	"file",
}

func (o OutputOption) String() string {
	return outputOptions[o-1]
}

func parseOutputOption(str string) OutputOption {
	switch str {
	case "stderr":
		return OutputStderr
	case "stdout":
		return OutputStdout
	case "off":
		return OutputOff
	case "":
		return OutputNull
	}
	return OutputFile
}

// NewLogrusHook creates a hook writing to dest, which can be a file name
// or one of the special destination strings.
func NewLogrusHook(dest string) (LoggerHook, error) {
	hook := LogrusHook{fname: dest}
	err := hook.setup(dest)
	return &hook, err
}

func (hook *LogrusHook) setup(dest string) error {
	switch parseOutputOption(dest) {
	case OutputNull, OutputStderr:
		hook.w = os.Stderr
	case OutputStdout:
		hook.w = os.Stdout
	case OutputOff:
		hook.w = io.Discard
	default:
		if _, err := os.Stat(dest); err == nil {
			if err := hook.openAppend(dest); err != nil {
				return err
			}
		} else {
			if err := hook.openCreate(dest); err != nil {
				return err
			}
		}
	}
	if hook.fd != nil {
		hook.plain = &log.TextFormatter{DisableColors: true}
	}
	return nil
}

// openAppend opens dest for appending, defaulting to stderr on failure
func (hook *LogrusHook) openAppend(dest string) (err error) {
	fd, err := os.OpenFile(dest, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		hook.w = os.Stderr
		hook.fd = nil
		return
	}
	hook.w = bufio.NewWriter(fd)
	hook.fd = fd
	return
}

// openCreate creates dest, defaulting to stderr on failure
func (hook *LogrusHook) openCreate(dest string) (err error) {
	fd, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		hook.w = os.Stderr
		hook.fd = nil
		return
	}
	hook.w = bufio.NewWriter(fd)
	hook.fd = fd
	return
}

// Fire implements the logrus Hook interface
func (hook *LogrusHook) Fire(entry *log.Entry) error {
	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.fd != nil {
		oldFormatter := entry.Logger.Formatter
		defer func() {
			entry.Logger.Formatter = oldFormatter
		}()
		entry.Logger.Formatter = hook.plain
	}
	line, err := entry.String()
	if err != nil {
		return err
	}
	if _, err = io.WriteString(hook.w, line); err != nil {
		return err
	}
	if wb, ok := hook.w.(*bufio.Writer); ok {
		if err := wb.Flush(); err != nil {
			return err
		}
		if hook.fd != nil {
			return hook.fd.Sync()
		}
	}
	return nil
}

func (hook *LogrusHook) GetLogDest() string {
	hook.mu.Lock()
	defer hook.mu.Unlock()
	return hook.fname
}

// Levels implements the logrus Hook interface
func (hook *LogrusHook) Levels() []log.Level {
	return log.AllLevels
}

// Reopen closes and re-opens the log file descriptor; the file may have
// been renamed by logrotate(8) in between.
func (hook *LogrusHook) Reopen() error {
	hook.mu.Lock()
	defer hook.mu.Unlock()
	if hook.fd == nil {
		return nil
	}
	if err := hook.fd.Close(); err != nil {
		return err
	}
	if _, err := os.Stat(hook.fname); err != nil {
		return hook.openCreate(hook.fname)
	}
	return hook.openAppend(hook.fname)
}
