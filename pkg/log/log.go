package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu       sync.RWMutex
	logger   = log.New(os.Stderr, "", log.LstdFlags)
	logLevel = levelInfo
	rotator  *lumberjack.Logger
)

const (
	levelDebug = iota
	levelInfo
	levelWarn
	levelError
	levelSilent
)

// Rotation controls the rotating log file written by ConfigureFile.
type Rotation struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Configure sets log output and level. level should be one of: debug,info,warn,error,silent
// or one of the middleware verbosity names accepted by ParseVerbosity.
func Configure(w io.Writer, level string) error {
	if w == nil {
		w = os.Stderr
	}
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", log.LstdFlags)
	logLevel = lvl
	return nil
}

// ConfigureFile writes logs to w and, when path is set, to a rotating file
// at path as well.
func ConfigureFile(w io.Writer, path string, level string, r Rotation) error {
	if w == nil {
		w = os.Stderr
	}
	if path == "" {
		return Configure(w, level)
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    r.MaxSizeMB,
		MaxBackups: r.MaxBackups,
		MaxAge:     r.MaxAgeDays,
		Compress:   r.Compress,
	}
	if err := Configure(io.MultiWriter(w, lj), level); err != nil {
		lj.Close()
		return err
	}
	mu.Lock()
	old := rotator
	rotator = lj
	mu.Unlock()
	if old != nil {
		old.Close()
	}
	return nil
}

// Close releases the rotating file, if any.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if rotator == nil {
		return nil
	}
	err := rotator.Close()
	rotator = nil
	return err
}

// ParseVerbosity accepts the middleware verbosity names
// (silent, error, warning, status_local, status_remote, status_all)
// as well as plain level names.
func ParseVerbosity(v string) (string, error) {
	lvl, err := parseLevel(v)
	if err != nil {
		return "", err
	}
	return [...]string{"debug", "info", "warn", "error", "silent"}[lvl], nil
}

func parseLevel(level string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "status_all", "status_remote":
		return levelDebug, nil
	case "info", "status_local", "":
		return levelInfo, nil
	case "warn", "warning":
		return levelWarn, nil
	case "error":
		return levelError, nil
	case "silent":
		return levelSilent, nil
	}
	return 0, fmt.Errorf("unknown log level: %s", level)
}

// DebugEnabled reports whether debug messages are written.
func DebugEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return logLevel <= levelDebug
}

func output(level int, prefix string, format string, v ...interface{}) {
	mu.RLock()
	l, threshold := logger, logLevel
	mu.RUnlock()
	if level < threshold {
		return
	}
	l.Printf(prefix+format, v...)
}

func Debug(format string, v ...interface{}) { output(levelDebug, "DEBUG: ", format, v...) }
func Info(format string, v ...interface{})  { output(levelInfo, "INFO: ", format, v...) }
func Warn(format string, v ...interface{})  { output(levelWarn, "WARN: ", format, v...) }
func Error(format string, v ...interface{}) { output(levelError, "ERROR: ", format, v...) }

// Critical writes an error line whatever the configured level, including
// silent. It is meant for the report that precedes a fatal exit.
func Critical(format string, v ...interface{}) {
	mu.RLock()
	l := logger
	mu.RUnlock()
	l.Printf("ERROR: "+format, v...)
}
