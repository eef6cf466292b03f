// Package logger is the pipeline's leveled printf-style logger. Stage code
// logs through it instead of writing to the terminal directly so that the
// progress bar, verbose mode and the file sink stay consistent.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// Logger writes leveled messages to stdout/stderr with an optional
// mirrored file sink.
type Logger struct {
	Verbose bool
	out     io.Writer
	errOut  io.Writer
	mu      sync.Mutex
	file    *os.File
	hasBar  bool
}

// New returns a logger writing to the standard streams.
func New(verbose bool) *Logger {
	return &Logger{
		Verbose: verbose,
		out:     os.Stdout,
		errOut:  os.Stderr,
	}
}

// SetFileLog mirrors all output (including debug) into the given file.
func (l *Logger) SetFileLog(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = f
	return nil
}

// SetProgressBar suppresses stdout lines while a progress bar owns the
// terminal; file logging is unaffected.
func (l *Logger) SetProgressBar(active bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hasBar = active
}

// Close closes the file sink if one was opened.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Info logs user-facing progress messages.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log("INFO", format, args...)
}

// Debug logs detail visible in verbose mode; with a file sink configured it
// is always captured there.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.Verbose {
		l.log("DEBUG", format, args...)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		fmt.Fprintf(l.file, "[DEBUG] "+format+"\n", args...)
	}
}

// Warn logs non-fatal degradations (fallbacks, skipped providers).
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log("WARN", format, args...)
}

// Error logs failures to stderr.
func (l *Logger) Error(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := fmt.Sprintf("[ERROR] "+format+"\n", args...)
	fmt.Fprint(l.errOut, msg)

	if l.file != nil {
		l.file.WriteString(msg)
	}
}

func (l *Logger) log(level, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var msg string
	if level == "INFO" {
		msg = fmt.Sprintf(format+"\n", args...)
	} else {
		msg = fmt.Sprintf("["+level+"] "+format+"\n", args...)
	}

	if l.Verbose || !l.hasBar {
		fmt.Fprint(l.out, msg)
	}

	if l.file != nil {
		l.file.WriteString(msg)
	}
}
