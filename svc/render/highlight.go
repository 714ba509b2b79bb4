package render

import (
	"bytes"

	"pasteward/svc/util"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Highlighter turns a raw body into display markup. ok is false when the type is
// unknown or formatting failed; callers treat that as a rejection.
type Highlighter interface {
	Render(typeTag, raw string) (string, bool)
}

// Chroma emits class-based markup; the colors live in one stylesheet from CSS, so
// the stored rendering stays close to the size of the raw body.
type Chroma struct {
	registry  *Registry
	style     *chroma.Style
	formatter *chromahtml.Formatter
	css       string
}

func NewChroma(registry *Registry, styleName string) *Chroma {
	style := styles.Get(styleName)
	if style == nil {
		style = styles.Fallback
	}
	c := &Chroma{
		registry: registry,
		style:    style,
		formatter: chromahtml.New(
			chromahtml.WithClasses(true),
			chromahtml.TabWidth(4),
		),
	}
	var css bytes.Buffer
	if err := c.formatter.WriteCSS(&css, style); err != nil {
		util.Warn().Err(err).Str("style", style.Name).Msg("failed to build highlight stylesheet")
	}
	c.css = css.String()
	return c
}

// CSS is the stylesheet matching the markup Render produces.
func (c *Chroma) CSS() string {
	return c.css
}
func (c *Chroma) Render(typeTag, raw string) (string, bool) {
	t, ok := c.registry.Lookup(typeTag)
	if !ok {
		return "", false
	}
	lexer := lexers.Get(t.Lexer)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	lexer = chroma.Coalesce(lexer)
	it, err := lexer.Tokenise(nil, raw)
	if err != nil {
		util.Warn().Err(err).Str("type", t.Name).Msg("tokenise failed")
		return "", false
	}
	var buf bytes.Buffer
	if err := c.formatter.Format(&buf, c.style, it); err != nil {
		util.Warn().Err(err).Str("type", t.Name).Msg("format failed")
		return "", false
	}
	if buf.Len() == 0 {
		return "", false
	}
	return `<div class="codeblock">` + buf.String() + `</div>`, true
}
