// Package render holds the content-type registry and the syntax highlighter.
package render

import (
	"strings"
)

// Type is one content type a paste can be submitted as.
type Type struct {
	Name        string
	DisplayName string
	Lexer       string
	// Selectable types may be chosen on the generic "other" route.
	Selectable bool
}

// Registry maps lower-case type tags to types.
type Registry struct {
	types map[string]Type
}

const (
	TypeScript = "script"
	TypeLog    = "log"
	TypeBBCode = "bbcode"
	TypeText   = "text"
	TypeDiff   = "diff"

	// DefaultOther is used on the "other" route when no valid selection is given.
	DefaultOther = "csharp"
)

func builtinTypes() []Type {
	return []Type{
		{Name: TypeScript, DisplayName: "Script", Lexer: "yaml"},
		{Name: TypeLog, DisplayName: "Server Log", Lexer: "plaintext"},
		{Name: TypeBBCode, DisplayName: "BBCode", Lexer: "plaintext"},
		{Name: TypeText, DisplayName: "Plain Text", Lexer: "plaintext"},
		{Name: TypeDiff, DisplayName: "Diff Report", Lexer: "diff"},
		{Name: "csharp", DisplayName: "C#", Lexer: "csharp", Selectable: true},
		{Name: "java", DisplayName: "Java", Lexer: "java", Selectable: true},
		{Name: "javascript", DisplayName: "JavaScript", Lexer: "javascript", Selectable: true},
		{Name: "json", DisplayName: "JSON", Lexer: "json", Selectable: true},
		{Name: "yaml", DisplayName: "YAML", Lexer: "yaml", Selectable: true},
		{Name: "python", DisplayName: "Python", Lexer: "python", Selectable: true},
		{Name: "go", DisplayName: "Go", Lexer: "go", Selectable: true},
		{Name: "lua", DisplayName: "Lua", Lexer: "lua", Selectable: true},
		{Name: "html", DisplayName: "HTML", Lexer: "html", Selectable: true},
		{Name: "css", DisplayName: "CSS", Lexer: "css", Selectable: true},
		{Name: "xml", DisplayName: "XML", Lexer: "xml", Selectable: true},
		{Name: "sql", DisplayName: "SQL", Lexer: "sql", Selectable: true},
		{Name: "bash", DisplayName: "Shell", Lexer: "bash", Selectable: true},
		{Name: "cpp", DisplayName: "C++", Lexer: "cpp", Selectable: true},
		{Name: "php", DisplayName: "PHP", Lexer: "php", Selectable: true},
		{Name: "rust", DisplayName: "Rust", Lexer: "rust", Selectable: true},
		{Name: "kotlin", DisplayName: "Kotlin", Lexer: "kotlin", Selectable: true},
	}
}

func NewRegistry() *Registry {
	r := &Registry{types: make(map[string]Type)}
	for _, t := range builtinTypes() {
		r.types[t.Name] = t
	}
	return r
}

// Lookup is case-insensitive.
func (r *Registry) Lookup(tag string) (Type, bool) {
	t, ok := r.types[strings.ToLower(tag)]
	return t, ok
}
func (r *Registry) IsKnown(tag string) bool {
	_, ok := r.Lookup(tag)
	return ok
}

// DisplayName returns the human name for tag, or tag itself when unknown.
func (r *Registry) DisplayName(tag string) string {
	if t, ok := r.Lookup(tag); ok {
		return t.DisplayName
	}
	return tag
}

// ResolveOther picks the type for the "other" route from a user selection.
func (r *Registry) ResolveOther(selected string) string {
	if t, ok := r.Lookup(selected); ok && t.Selectable {
		return t.Name
	}
	return DefaultOther
}
