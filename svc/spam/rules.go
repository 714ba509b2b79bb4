package spam

import (
	"fmt"
	"slices"
	"strings"
)

type minLength struct{}

func (minLength) Name() string { return "min_length" }
func (minLength) Check(in *input, t Thresholds, _ Blocklists) (outcome, string) {
	if in.length < t.MinLength {
		return stopReject, fmt.Sprintf("too short (%d)", in.length)
	}
	return next, ""
}

type shortBodyLines struct{}

func (shortBodyLines) Name() string { return "short_body_lines" }
func (shortBodyLines) Check(in *input, t Thresholds, _ Blocklists) (outcome, string) {
	if in.length < t.ShortBodyLength && in.nonTrivial < t.MinShortBodyLines {
		return stopReject, fmt.Sprintf("too few lines (%d)", in.nonTrivial)
	}
	return next, ""
}

type anchorTitle struct{}

func (anchorTitle) Name() string { return "anchor_title" }
func (anchorTitle) Check(in *input, _ Thresholds, _ Blocklists) (outcome, string) {
	if strings.Contains(in.titleLow, "<a href=") {
		return stopReject, "spam-bot title pattern"
	}
	return next, ""
}

type partialTitle struct{}

func (partialTitle) Name() string { return "partial_title" }
func (partialTitle) Check(in *input, _ Thresholds, b Blocklists) (outcome, string) {
	if containsAny(in.titleLow, b.PartialTitles) {
		return stopReject, "blocked title fragment"
	}
	return next, ""
}

type exactTitle struct{}

func (exactTitle) Name() string { return "exact_title" }
func (exactTitle) Check(in *input, _ Thresholds, b Blocklists) (outcome, string) {
	if slices.Contains(b.Titles, in.titleLow) {
		return stopReject, "blocked title"
	}
	return next, ""
}

type keywords struct{}

func (keywords) Name() string { return "keyword" }
func (keywords) Check(in *input, _ Thresholds, b Blocklists) (outcome, string) {
	if containsAny(in.titleLow, b.Keywords) {
		return stopReject, "blocked keyword in title"
	}
	if containsAny(in.bodyLow, b.Keywords) {
		return stopReject, "blocked keyword in body"
	}
	return next, ""
}

// massive accepts large bodies outright once they show enough line structure, so
// the link heuristics below never run on them.
type massive struct{}

func (massive) Name() string { return "massive" }
func (massive) Check(in *input, t Thresholds, _ Blocklists) (outcome, string) {
	if in.length <= t.MassiveLength {
		return next, ""
	}
	if n := strings.Count(in.bodyLow, "\n"); n < t.MassiveMinNewlines {
		return stopReject, fmt.Sprintf("massive paste, too few lines (%d)", n)
	}
	return stopAccept, ""
}

type linkRatio struct{}

func (linkRatio) Name() string { return "link_ratio" }
func (linkRatio) Check(in *input, t Thresholds, _ Blocklists) (outcome, string) {
	if in.linkLines >= in.normalLine || (in.linkLines > 0 && in.normalLine < t.MinNormalLinesWithLinks) {
		return stopReject, fmt.Sprintf("link-spambot pattern (%d link, %d normal)", in.linkLines, in.normalLine)
	}
	return next, ""
}

type shortKeywords struct{}

func (shortKeywords) Name() string { return "short_keyword" }
func (shortKeywords) Check(in *input, t Thresholds, b Blocklists) (outcome, string) {
	if len(b.ShortKeywords) == 0 || in.normalLine >= t.ShortKeywordLineThreshold {
		return next, ""
	}
	if containsAny(in.titleLow, b.ShortKeywords) {
		return stopReject, "short blocked keyword in title"
	}
	if containsAny(in.bodyLow, b.ShortKeywords) {
		return stopReject, "short blocked keyword in body"
	}
	return next, ""
}
