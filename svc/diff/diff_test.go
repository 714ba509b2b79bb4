package diff

import (
	"strings"
	"testing"
)

func TestGenerateIdentical(t *testing.T) {
	bodies := []string{
		"",
		"one line",
		"a\nb\nc\n",
		strings.Repeat("repeated line\n", 500),
	}
	for _, b := range bodies {
		r, err := Generate(b, b)
		if err != nil {
			t.Fatal(err)
		}
		if r.HasDifferences || r.Text != "" {
			t.Errorf("Generate(x, x) reported differences for %q", b)
		}
	}
}

func TestGenerateIgnoresTrailingWhitespace(t *testing.T) {
	r, err := Generate("a  \nb\t\nc", "a\r\nb\nc\n\n")
	if err != nil {
		t.Fatal(err)
	}
	if r.HasDifferences {
		t.Errorf("trailing whitespace counted as change:\n%s", r.Text)
	}
}

func TestGenerateCountsChanges(t *testing.T) {
	oldBody := "alpha\nbeta\ngamma\ndelta\n"
	newBody := "alpha\nBETA\ngamma\ndelta\nepsilon\n"
	r, err := Generate(oldBody, newBody)
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasDifferences {
		t.Fatal("change not detected")
	}
	if r.Added != 2 || r.Removed != 1 {
		t.Errorf("Added=%d Removed=%d, want 2 and 1", r.Added, r.Removed)
	}
	if !strings.HasPrefix(r.Text, "--- original\n+++ edited\n@@") {
		t.Errorf("unexpected header:\n%s", r.Text)
	}
	if !strings.Contains(r.Text, "-beta\n") || !strings.Contains(r.Text, "+BETA\n") {
		t.Errorf("missing changed lines:\n%s", r.Text)
	}
}

func TestGenerateFromEmpty(t *testing.T) {
	r, err := Generate("", "new\ncontent")
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasDifferences || r.Added != 2 || r.Removed != 0 {
		t.Errorf("got %+v", r)
	}
}

func TestStatRejectsGarbage(t *testing.T) {
	if _, _, err := Stat("--- a\n+++ b\n@@ -x +y @@\n"); err == nil {
		t.Error("malformed hunk header accepted")
	}
}
