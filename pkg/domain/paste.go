package domain

import (
	"strings"
	"time"
)

// Paste is the persisted unit. It is only ever replaced as a whole.
type Paste struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Type           string    `json:"type"`
	Sender         string    `json:"-"`
	CreatedAt      time.Time `json:"created_at"`
	Raw            string    `json:"raw"`
	Formatted      string    `json:"formatted"`
	Edits          int64     `json:"edits,omitempty"`
	DiffReport     int64     `json:"diff_report,omitempty"`
	RedactedSealed []byte    `json:"-"`
	RedactedDEK    []byte    `json:"-"`
}

// IsRedacted reports whether a moderator snapshot exists. A redacted paste is terminal.
func (p *Paste) IsRedacted() bool {
	return len(p.RedactedSealed) > 0
}

// Clone returns a copy that can be mutated and re-committed without touching cached values.
func (p *Paste) Clone() *Paste {
	c := *p
	if p.RedactedSealed != nil {
		c.RedactedSealed = append([]byte(nil), p.RedactedSealed...)
	}
	if p.RedactedDEK != nil {
		c.RedactedDEK = append([]byte(nil), p.RedactedDEK...)
	}
	return &c
}

// Conn carries the connection metadata provenance is derived from.
type Conn struct {
	RemoteIP     string
	ForwardedFor []string
	RemoteAddr   []string
}

// Submission is one raw, untrusted paste request. Title and Body hold every value the
// client sent for the field so duplicates can be refused.
type Submission struct {
	Type      string
	Title     []string
	Body      []string
	Editing   string
	EditOf    *Paste
	Compact   bool
	CompactV2 bool
	Conn      Conn
}

// Outcome is all a submitter learns about their paste.
type Outcome struct {
	Accepted bool
	ID       int64
	Location string
}

func Rejected() Outcome {
	return Outcome{}
}

// TrimmedEqual compares rendered output the way re-render does, ignoring trailing whitespace.
func TrimmedEqual(a, b string) bool {
	return strings.TrimRight(a, " \t\r\n") == strings.TrimRight(b, " \t\r\n")
}
