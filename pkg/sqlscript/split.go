// Package sqlscript turns SQL text into executable statements.
//
// Split understands the mysql client's DELIMITER directive so that stored
// routines and triggers, whose bodies contain semicolons, survive as single
// statements. ExtractInserts is the line-oriented filter used to read seed
// dumps back, where every INSERT occupies exactly one line.
package sqlscript

import (
	"strings"
	"unicode/utf8"
)

// DefaultDelimiter terminates statements until a DELIMITER directive changes it.
const DefaultDelimiter = ";"

const delimiterDirective = "DELIMITER "

// Split scans script line by line and returns its statements in source order,
// trimmed and without their terminating delimiter.
//
// A line whose trimmed form starts with "DELIMITER " is never part of a
// statement; it switches the terminator for everything after it. Matching is
// a literal suffix check on the trimmed accumulator, so delimiter-like text
// inside string literals or comments at the end of a line is treated as a
// terminator. Empty statements are dropped and a trailing statement without a
// terminator is still returned.
func Split(script string) []string {
	var (
		statements []string
		delimiter  = DefaultDelimiter
		buf        strings.Builder
	)

	for _, line := range splitLines(script) {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, delimiterDirective) {
			delimiter = strings.TrimSpace(trimmed[len(delimiterDirective):])
			continue
		}

		buf.WriteString(line)
		buf.WriteByte('\n')

		pending := strings.TrimSpace(buf.String())
		if !strings.HasSuffix(pending, delimiter) {
			continue
		}

		stmt := strings.TrimSpace(strings.TrimSuffix(pending, delimiter))
		if stmt != "" {
			statements = append(statements, stmt)
		}
		buf.Reset()
	}

	if rest := strings.TrimSpace(buf.String()); rest != "" {
		statements = append(statements, rest)
	}

	return statements
}

// ExtractInserts returns the lines of a dump that, once trimmed, start with
// INSERT INTO (any case) and end with a semicolon. The returned statements
// are trimmed and keep their semicolon. Lines in any other shape, including
// the pieces of an INSERT spread over several lines, are ignored.
func ExtractInserts(dump string) []string {
	var inserts []string
	for _, line := range splitLines(dump) {
		trimmed := strings.TrimSpace(line)
		if IsInsert(trimmed) {
			inserts = append(inserts, trimmed)
		}
	}
	return inserts
}

// IsInsert reports whether a single trimmed line is a complete INSERT INTO
// statement in dump format.
func IsInsert(line string) bool {
	const prefix = "INSERT INTO"
	if len(line) < len(prefix) || !strings.HasSuffix(line, ";") {
		return false
	}
	return strings.EqualFold(line[:len(prefix)], prefix)
}

// Preview shortens a statement for log output.
func Preview(stmt string, max int) string {
	stmt = strings.Join(strings.Fields(stmt), " ")
	if utf8.RuneCountInString(stmt) <= max {
		return stmt
	}
	runes := []rune(stmt)
	return string(runes[:max]) + "..."
}

func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}
