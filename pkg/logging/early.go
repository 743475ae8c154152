package logging

import (
	"fmt"
	"io"
	"os"
	"time"
)

// EarlyLog prints plain lines before the structured logger exists, while
// the config is still being read.
type EarlyLog struct {
	out io.Writer
	err io.Writer
}

func NewEarlyLog() *EarlyLog {
	return &EarlyLog{out: os.Stdout, err: os.Stderr}
}

func (l *EarlyLog) Info(msg string, args ...interface{}) {
	l.write(l.out, "INFO", msg, args)
}

func (l *EarlyLog) Warn(msg string, args ...interface{}) {
	l.write(l.err, "WARN", msg, args)
}

func (l *EarlyLog) Error(msg string, args ...interface{}) {
	l.write(l.err, "ERROR", msg, args)
}

func (l *EarlyLog) Fatal(msg string, args ...interface{}) {
	l.write(l.err, "FATAL", msg, args)
	os.Exit(1)
}

func (l *EarlyLog) write(w io.Writer, level, msg string, args []interface{}) {
	_, _ = fmt.Fprintf(w, "%s %s %s\n", time.Now().UTC().Format(time.RFC3339), level, fmt.Sprintf(msg, args...))
}
