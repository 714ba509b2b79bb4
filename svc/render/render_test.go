package render

import (
	"strings"
	"testing"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	for _, tag := range []string{"script", "LOG", "BBCode", "text", "diff", "csharp"} {
		if !r.IsKnown(tag) {
			t.Errorf("%q not registered", tag)
		}
	}
	if r.IsKnown("brainfuck") {
		t.Error("unknown type reported known")
	}
	if got := r.DisplayName("script"); got != "Script" {
		t.Errorf("DisplayName(script) = %q", got)
	}
	if got := r.DisplayName("nope"); got != "nope" {
		t.Errorf("DisplayName(nope) = %q", got)
	}
}

func TestResolveOther(t *testing.T) {
	r := NewRegistry()
	tests := map[string]string{
		"":       DefaultOther,
		"python": "python",
		"Go":     "go",
		"script": DefaultOther,
		"diff":   DefaultOther,
		"cobol":  DefaultOther,
	}
	for in, want := range tests {
		if got := r.ResolveOther(in); got != want {
			t.Errorf("ResolveOther(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestChromaRender(t *testing.T) {
	h := NewChroma(NewRegistry(), "dracula")
	out, ok := h.Render("text", "first <line>\nsecond line\n")
	if !ok {
		t.Fatal("plain text render failed")
	}
	if strings.Contains(out, "<line>") {
		t.Error("markup not escaped")
	}
	if strings.Contains(out, "style=") {
		t.Errorf("inline styles in output: %s", out)
	}
	if !strings.Contains(out, `class="chroma"`) {
		t.Errorf("unexpected framing: %s", out)
	}
	if _, ok := h.Render("unknown", "x"); ok {
		t.Error("unknown type rendered")
	}
}

func TestChromaRenderDeterministic(t *testing.T) {
	h := NewChroma(NewRegistry(), "no-such-style")
	src := "--- original\n+++ edited\n@@ -1 +1 @@\n-a\n+b\n"
	a, ok1 := h.Render("diff", src)
	b, ok2 := h.Render("diff", src)
	if !ok1 || !ok2 || a != b {
		t.Error("rendering is not deterministic")
	}
}

func TestChromaCSS(t *testing.T) {
	h := NewChroma(NewRegistry(), "dracula")
	if !strings.Contains(h.CSS(), ".chroma") {
		t.Errorf("stylesheet lacks .chroma rules: %.200s", h.CSS())
	}
}

func TestChromaOutputStaysCompact(t *testing.T) {
	h := NewChroma(NewRegistry(), "dracula")
	for _, tc := range []struct {
		typ  string
		line string
	}{
		{"text", "ab"},
		{"log", "[12:00:01] [Server thread/INFO]: worker 17 finished job 4521"},
		{"script", "    - narrate \"<player.name> joined\""},
		{"csharp", "int total = values.Sum(v => v * 2);"},
	} {
		raw := strings.Repeat(tc.line+"\n", 2000)
		out, ok := h.Render(tc.typ, raw)
		if !ok {
			t.Fatalf("%s render failed", tc.typ)
		}
		if ratio := float64(len(out)) / float64(len(raw)); ratio > 25 {
			t.Errorf("%s output is %.1fx the input", tc.typ, ratio)
		}
	}
}
