// Package spam decides whether a normalized submission looks like legitimate
// content. Rules run in a fixed order and the first failing one decides.
package spam

import (
	"strings"
	"unicode/utf8"

	"pasteward/cfg"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Thresholds are the tunable limits of the rule set. Lengths are in runes.
type Thresholds struct {
	MinLength                 int
	ShortBodyLength           int
	MinShortBodyLines         int
	MassiveLength             int
	MassiveMinNewlines        int
	MinNormalLinesWithLinks   int
	ShortKeywordLineThreshold int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinLength:                 100,
		ShortBodyLength:           1024,
		MinShortBodyLines:         3,
		MassiveLength:             100 * 1024,
		MassiveMinNewlines:        20,
		MinNormalLinesWithLinks:   4,
		ShortKeywordLineThreshold: 20,
	}
}

// Blocklists are matched against the lower-cased title and body.
type Blocklists struct {
	PartialTitles []string
	Titles        []string
	Keywords      []string
	ShortKeywords []string
}

// Verdict is the classifier's answer. Rule and Reason are for logs only.
type Verdict struct {
	Accept bool
	Rule   string
	Reason string
}

func accept() Verdict { return Verdict{Accept: true} }

// input is what every rule sees, computed once per submission. Rules only see the
// lower-cased title and body.
type input struct {
	titleLow, bodyLow     string
	length                int
	nonTrivial            int
	linkLines, normalLine int
}

type outcome int

const (
	next outcome = iota
	stopAccept
	stopReject
)

// rule is one step of the pipeline.
type rule interface {
	Name() string
	Check(in *input, t Thresholds, b Blocklists) (outcome, string)
}

type Classifier struct {
	thresholds Thresholds
	blocks     Blocklists
	rules      []rule
}

func New(t Thresholds, b Blocklists) *Classifier {
	c := &Classifier{thresholds: t}
	lower := cases.Lower(language.Und)
	c.blocks = Blocklists{
		PartialTitles: lowerAll(lower, b.PartialTitles),
		Titles:        lowerAll(lower, b.Titles),
		Keywords:      lowerAll(lower, b.Keywords),
		ShortKeywords: lowerAll(lower, b.ShortKeywords),
	}
	c.rules = []rule{
		minLength{},
		shortBodyLines{},
		anchorTitle{},
		partialTitle{},
		exactTitle{},
		keywords{},
		massive{},
		linkRatio{},
		shortKeywords{},
	}
	return c
}

// FromConfig builds a classifier from the SPAM_* settings.
func FromConfig(s cfg.SpamCfg) *Classifier {
	return New(Thresholds{
		MinLength:                 s.MinLength,
		ShortBodyLength:           s.ShortBodyLength,
		MinShortBodyLines:         s.MinShortBodyLines,
		MassiveLength:             s.MassiveLength,
		MassiveMinNewlines:        s.MassiveMinNewlines,
		MinNormalLinesWithLinks:   s.MinNormalLinesWithLinks,
		ShortKeywordLineThreshold: s.ShortKeywordLineThreshold,
	}, Blocklists{
		PartialTitles: s.BlockPartialTitles,
		Titles:        s.BlockTitles,
		Keywords:      s.BlockKeywords,
		ShortKeywords: s.BlockShortKeywords,
	})
}
func lowerAll(lower cases.Caser, in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = lower.String(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Classify is pure and safe for concurrent use; a Caser is stateful, so each call
// gets its own.
func (c *Classifier) Classify(title, body string) Verdict {
	lower := cases.Lower(language.Und)
	in := &input{
		titleLow: lower.String(title),
		bodyLow:  lower.String(body),
		length:   utf8.RuneCountInString(body),
	}
	countLines(in)
	for _, r := range c.rules {
		switch o, reason := r.Check(in, c.thresholds, c.blocks); o {
		case stopAccept:
			return accept()
		case stopReject:
			return Verdict{Rule: r.Name(), Reason: reason}
		}
	}
	return accept()
}

// countLines classifies every line whose trimmed length exceeds five runes as
// either a link line or a normal line.
func countLines(in *input) {
	for _, line := range strings.Split(in.bodyLow, "\n") {
		if utf8.RuneCountInString(strings.TrimSpace(line)) <= 5 {
			continue
		}
		in.nonTrivial++
		if strings.Contains(line, "http") {
			in.linkLines++
		} else {
			in.normalLine++
		}
	}
}
func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
