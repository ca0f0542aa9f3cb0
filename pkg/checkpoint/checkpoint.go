// Package checkpoint persists the furthest successfully completed stage across
// process restarts. A single checkpoint exists at a time; saving replaces it.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Checkpoint is the persisted resume marker: the last stage known to have
// completed successfully.
type Checkpoint struct {
	Ordinal int       // ordinal of the last completed stage, >= 1
	Name    string    // human-readable stage name
	Stamp   time.Time // when the stage completed
}

// Store reads and writes the checkpoint file. The on-disk format is three
// key=value lines (STAGE, NAME, STAMP) and is treated strictly as data: the
// reader never evaluates file content, it only parses it.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore creates a store bound to the given file path.
func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the checkpoint file path.
func (s *Store) Path() string { return s.path }

// Save atomically replaces the stored checkpoint with {ordinal, name, now}.
// The record is written to a temp file in the same directory and renamed into
// place, so a reader never observes a partially written checkpoint.
func (s *Store) Save(ordinal int, name string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "STAGE=%d\n", ordinal)
	fmt.Fprintf(&b, "NAME=%q\n", name)
	fmt.Fprintf(&b, "STAMP=%q\n", s.now().UTC().Format(time.RFC3339))

	if err := writeFileAtomic(s.path, []byte(b.String())); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// Load parses the persisted checkpoint. Absent file yields (nil, nil).
// Parsing is defensive: unknown keys and malformed lines are ignored,
// duplicate keys take the last occurrence, surrounding quotes are stripped.
// A record without a valid STAGE value is treated as absent.
func (s *Store) Load() (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	cp := Checkpoint{Ordinal: -1}
	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		val = unquote(strings.TrimSpace(val))

		switch key {
		case "STAGE":
			n, convErr := strconv.Atoi(val)
			if convErr != nil || n < 0 {
				continue
			}
			cp.Ordinal = n
		case "NAME":
			cp.Name = val
		case "STAMP":
			if t, parseErr := time.Parse(time.RFC3339, val); parseErr == nil {
				cp.Stamp = t
			}
		}
	}

	if cp.Ordinal < 0 {
		return nil, nil // no recognizable checkpoint in the file
	}
	return &cp, nil
}

// Clear removes the persisted checkpoint. Removing an absent record is not
// an error.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear checkpoint: %w", err)
	}
	return nil
}

// unquote strips one pair of surrounding double or single quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			if u, err := strconv.Unquote(s); err == nil && s[0] == '"' {
				return u
			}
			return s[1 : len(s)-1]
		}
	}
	return s
}

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by a rename.
func writeFileAtomic(path string, data []byte) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".checkpoint-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	tmpPath = ""
	return nil
}
