package progress

import (
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// getTerminalWidth returns the content width available after the timestamp
// prefix, using the COLUMNS env var or the terminal syscall. Defaults to 60.
func getTerminalWidth() int {
	const minWidth = 40
	const tsPrefix = 20 // room for "[YY-MM-DD HH:MM:SS] "

	if cols := os.Getenv("COLUMNS"); cols != "" {
		if w, err := strconv.Atoi(cols); err == nil && w > 0 {
			return max(w-tsPrefix, minWidth)
		}
	}

	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return max(w-tsPrefix, minWidth)
	}

	return 80 - tsPrefix
}

// wrapText wraps one line to the given width on word boundaries.
func wrapText(text string, width int) []string {
	if width <= 0 || len(text) <= width {
		return []string{text}
	}

	var lines []string
	var cur strings.Builder
	for _, word := range strings.Fields(text) {
		if cur.Len() == 0 {
			cur.WriteString(word)
			continue
		}
		if cur.Len()+1+len(word) <= width {
			cur.WriteString(" ")
			cur.WriteString(word)
			continue
		}
		lines = append(lines, cur.String())
		cur.Reset()
		cur.WriteString(word)
	}
	if cur.Len() > 0 {
		lines = append(lines, cur.String())
	}
	if len(lines) == 0 {
		return []string{text}
	}
	return lines
}
