// Package diff produces the revision reports attached to edited pastes.
package diff

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

const contextLines = 3

// Result is a unified diff of two bodies plus its line statistics.
type Result struct {
	Text           string
	HasDifferences bool
	Added          int
	Removed        int
}

// Generate diffs old against new line by line. Trailing whitespace on each line
// and at the end of the body is ignored, so Generate(x, x) never reports a change.
func Generate(oldBody, newBody string) (Result, error) {
	a, b := splitLines(oldBody), splitLines(newBody)
	if equalLines(a, b) {
		return Result{}, nil
	}
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "original",
		ToFile:   "edited",
		Context:  contextLines,
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "unified diff")
	}
	added, removed, err := Stat(text)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Text:           text,
		HasDifferences: added > 0 || removed > 0,
		Added:          added,
		Removed:        removed,
	}, nil
}

// Stat parses a unified diff and counts added and removed lines. It also serves as
// a validity check on stored reports.
func Stat(text string) (added, removed int, err error) {
	fd, err := godiff.ParseFileDiff([]byte(text))
	if err != nil {
		return 0, 0, errors.Wrap(err, "parse diff")
	}
	for _, h := range fd.Hunks {
		for _, line := range strings.Split(string(h.Body), "\n") {
			switch {
			case strings.HasPrefix(line, "+"):
				added++
			case strings.HasPrefix(line, "-"):
				removed++
			}
		}
	}
	return added, removed, nil
}
func splitLines(s string) []string {
	s = strings.TrimRight(strings.ReplaceAll(s, "\r\n", "\n"), " \t\r\n")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, "\n")
	for i, p := range parts {
		parts[i] = strings.TrimRight(p, " \t\r") + "\n"
	}
	return parts
}
func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
