// Package logging provides the leveled logger handed to every component.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARNING"
	default:
		return "ERROR"
	}
}

type sink struct {
	out *log.Logger
	min Level
}

// Logger writes each line to the console and, optionally, to a log file.
// The console shows DEBUG lines only in debug mode; the file starts at INFO.
type Logger struct {
	sinks []sink
	file  *os.File
}

type Options struct {
	Console io.Writer // defaults to os.Stderr
	File    string    // optional log file, appended to
	Debug   bool
}

func New(opts Options) (*Logger, error) {
	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	consoleMin := LevelInfo
	if opts.Debug {
		consoleMin = LevelDebug
	}

	l := &Logger{
		sinks: []sink{{out: log.New(console, "", log.LstdFlags), min: consoleMin}},
	}

	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l.file = f
		l.sinks = append(l.sinks, sink{out: log.New(f, "", log.LstdFlags), min: LevelInfo})
	}

	return l, nil
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{}
}

func (l *Logger) logf(level Level, format string, args ...any) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf(format, args...)
	for _, s := range l.sinks {
		if level >= s.min {
			s.out.Printf("%s - %s", level, msg)
		}
	}
}

func (l *Logger) Debugf(format string, args ...any) { l.logf(LevelDebug, format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.logf(LevelInfo, format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.logf(LevelWarn, format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.logf(LevelError, format, args...) }

// Close flushes and closes the log file, if any.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
