// Package runstate keeps an append-only audit trail of stage transitions.
// The log is used for human-readable reporting only; resume decisions are
// made from the checkpoint, never from this log.
package runstate

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Status is a stage transition status.
type Status string

// Transition statuses recorded in the log.
const (
	StatusStarted Status = "STARTED"
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Entry is one recorded stage transition.
type Entry struct {
	Stamp   time.Time
	Ordinal int
	Name    string
	Status  Status
	Message string
}

// Log appends and reads run-state entries. One delimited line per transition:
// timestamp|stage-N|name|STATUS|message. Lines are appended, never rewritten.
type Log struct {
	path string
	now  func() time.Time
}

// New creates a log bound to the given file path.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Path returns the run-state log file path.
func (l *Log) Path() string { return l.path }

// Append records one stage transition. Fields are sanitized so a record is
// always a single line with exactly four delimiters.
func (l *Log) Append(ordinal int, name string, status Status, message string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644) //nolint:gosec // operator-readable audit log
	if err != nil {
		return fmt.Errorf("open run-state log: %w", err)
	}

	line := fmt.Sprintf("%s|stage-%d|%s|%s|%s\n",
		l.now().UTC().Format(time.RFC3339), ordinal, sanitize(name), status, sanitize(message))

	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("append run-state entry: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close run-state log: %w", err)
	}
	return nil
}

// ReadAll returns all entries in insertion order. Absent file yields an empty
// slice. Malformed lines are skipped rather than failing the whole read.
func (l *Log) ReadAll() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run-state log: %w", err)
	}

	var entries []Entry
	for line := range strings.SplitSeq(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.SplitN(line, "|", 5)
		if len(parts) != 5 {
			continue
		}

		ordinal, convErr := strconv.Atoi(strings.TrimPrefix(parts[1], "stage-"))
		if convErr != nil {
			continue
		}
		stamp, parseErr := time.Parse(time.RFC3339, parts[0])
		if parseErr != nil {
			continue
		}

		entries = append(entries, Entry{
			Stamp:   stamp,
			Ordinal: ordinal,
			Name:    parts[2],
			Status:  Status(parts[3]),
			Message: parts[4],
		})
	}
	return entries, nil
}

// Clear removes the log file. Removing an absent log is not an error.
func (l *Log) Clear() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear run-state log: %w", err)
	}
	return nil
}

// sanitize keeps a field single-line and delimiter-free.
func sanitize(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", "/")
	return strings.TrimSpace(s)
}
