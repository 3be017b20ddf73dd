package adapter

import (
	"regexp"
	"strconv"
	"strings"
)

// LineAtOffset returns the 1-based line of the 1-based character position pos
// in text. Positions outside text yield 0.
func LineAtOffset(text string, pos int) int {
	if pos <= 0 {
		return 0
	}
	runes := []rune(text)
	if pos > len(runes)+1 {
		return 0
	}
	return strings.Count(string(runes[:pos-1]), "\n") + 1
}

// LineFromMessage extracts a line number from message text with re, whose
// first submatch must be the decimal line. It returns 0 when absent.
func LineFromMessage(re *regexp.Regexp, msg string) int {
	m := re.FindStringSubmatch(msg)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}
