// Package testutil provides test helpers shared across packages: a parser
// for the chunk-update stream format and a scripted fake agent server.
package testutil

import (
	"bufio"
	"strings"
	"testing"
)

// ParseDataFrames parses a newline-delimited "data: <json>" stream into its
// raw JSON payloads, in order. Blank lines separate frames; comment lines
// starting with ":" are ignored.
func ParseDataFrames(t *testing.T, body string) []string {
	t.Helper()

	var frames []string
	scanner := bufio.NewScanner(strings.NewReader(body))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "data: "):
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		case line == "" || strings.HasPrefix(line, ":"):
			// Frame separator or comment.
		default:
			t.Fatalf("frame parse error at line %d: unexpected line %q", lineNum, line)
		}
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("frame scan error: %v", err)
	}

	return frames
}
