// Package progress provides timestamped logging to file and stdout with color support.
// Every message is mirrored to the install log file without color and printed to the
// terminal with a severity color, so operators can follow along live and re-read later.
package progress

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
)

// severity colors using fatih/color.
var (
	infoColor      = color.New(color.FgCyan)
	successColor   = color.New(color.FgGreen)
	warnColor      = color.New(color.FgYellow)
	errorColor     = color.New(color.FgRed)
	timestampColor = color.New(color.FgWhite)
)

// Logger writes timestamped output to both the install log file and stdout.
type Logger struct {
	file      *os.File
	stdout    io.Writer
	startTime time.Time
}

// Config holds logger configuration.
type Config struct {
	Path    string // install log file path
	Mode    string // run mode, recorded in the header
	NoColor bool   // disable color output (sets color.NoColor globally)
}

// NewLogger creates a logger writing to both the install log and stdout.
// The log file is recreated for every run; the run-state log is the
// persistent history, this file is the readable mirror of one run.
func NewLogger(cfg Config) (*Logger, error) {
	if cfg.NoColor {
		color.NoColor = true
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
	}

	f, err := os.Create(cfg.Path) //nolint:gosec // path comes from config, not user input
	if err != nil {
		return nil, fmt.Errorf("create install log: %w", err)
	}

	l := &Logger{
		file:      f,
		stdout:    os.Stdout,
		startTime: time.Now(),
	}

	l.writeFile("# stromup install log\n")
	l.writeFile("Mode: %s\n", cfg.Mode)
	l.writeFile("Started: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	l.writeFile("%s\n\n", strings.Repeat("-", 60))

	return l, nil
}

// Path returns the install log file path.
func (l *Logger) Path() string {
	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// timestampFormat is the format for timestamps: YY-MM-DD HH:MM:SS
const timestampFormat = "06-01-02 15:04:05"

// Print writes an informational message to both file and stdout.
func (l *Logger) Print(format string, args ...any) {
	l.emit(infoColor, "", format, args...)
}

// Success writes a success message in green.
func (l *Logger) Success(format string, args ...any) {
	l.emit(successColor, "", format, args...)
}

// Warn writes a warning message in yellow.
func (l *Logger) Warn(format string, args ...any) {
	l.emit(warnColor, "WARN: ", format, args...)
}

// Error writes an error message in red.
func (l *Logger) Error(format string, args ...any) {
	l.emit(errorColor, "ERROR: ", format, args...)
}

// PrintAligned writes streamed command output with a timestamp on the first
// line and indented continuation lines, wrapped to the terminal width.
func (l *Logger) PrintAligned(text string) {
	text = strings.TrimRight(text, "\n")
	if text == "" {
		return
	}

	timestamp := time.Now().Format(timestampFormat)
	tsPrefix := timestampColor.Sprintf("[%s]", timestamp)
	indent := strings.Repeat(" ", len(timestamp)+3)
	width := getTerminalWidth()

	var lines []string
	for line := range strings.SplitSeq(text, "\n") {
		lines = append(lines, wrapText(line, width)...)
	}
	for i, line := range lines {
		if i == 0 {
			l.writeFile("[%s] %s\n", timestamp, line)
			fmt.Fprintf(l.stdout, "%s %s\n", tsPrefix, line)
			continue
		}
		l.writeFile("%s%s\n", indent, line)
		fmt.Fprintf(l.stdout, "%s%s\n", indent, line)
	}
}

// PrintRaw writes without timestamp (for streamed command output).
func (l *Logger) PrintRaw(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.writeFile("%s", msg)
	fmt.Fprintf(l.stdout, "%s", msg)
}

func (l *Logger) emit(c *color.Color, prefix, format string, args ...any) {
	msg := prefix + fmt.Sprintf(format, args...)
	timestamp := time.Now().Format(timestampFormat)

	// file copy is plain text
	l.writeFile("[%s] %s\n", timestamp, msg)

	tsStr := timestampColor.Sprintf("[%s]", timestamp)
	fmt.Fprintf(l.stdout, "%s %s\n", tsStr, c.Sprint(msg))
}

// Elapsed returns formatted elapsed time since start.
func (l *Logger) Elapsed() string {
	return humanize.RelTime(l.startTime, time.Now(), "", "")
}

// Close writes footer and closes the install log file.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}

	l.writeFile("\n%s\n", strings.Repeat("-", 60))
	l.writeFile("Finished: %s (%s)\n", time.Now().Format("2006-01-02 15:04:05"), l.Elapsed())

	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close install log: %w", err)
	}
	return nil
}

func (l *Logger) writeFile(format string, args ...any) {
	if l.file != nil {
		fmt.Fprintf(l.file, format, args...)
	}
}
