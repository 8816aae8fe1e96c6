// Package conversion provides markdown-to-HTML conversion for rendered
// results handed to the UI subscription.
package conversion

import (
	"bytes"
	"html"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	ghtml "github.com/yuin/goldmark/renderer/html"
)

// Converter handles markdown-to-HTML conversion with sanitization.
type Converter struct {
	md        goldmark.Markdown
	sanitizer *bluemonday.Policy
}

// NewConverter creates a converter with GFM extensions and a UGC-safe
// sanitizer policy.
func NewConverter() *Converter {
	return &Converter{
		md: goldmark.New(
			goldmark.WithExtensions(
				extension.GFM,
			),
			goldmark.WithParserOptions(
				parser.WithAutoHeadingID(),
			),
			goldmark.WithRendererOptions(
				ghtml.WithHardWraps(),
				ghtml.WithXHTML(),
			),
		),
		sanitizer: createSanitizer(),
	}
}

// createSanitizer builds a bluemonday policy safe for service responses.
func createSanitizer() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre", "span", "div")
	p.AllowAttrs("id").Matching(bluemonday.Paragraph).OnElements("h1", "h2", "h3", "h4", "h5", "h6")
	return p
}

// Convert converts markdown text to sanitized HTML.
func (c *Converter) Convert(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := c.md.Convert([]byte(markdown), &buf); err != nil {
		return "", err
	}
	return c.sanitizer.Sanitize(buf.String()), nil
}

// ConvertToSafeHTML converts markdown and falls back to escaped plain text
// on error, so a malformed response never breaks result delivery.
func (c *Converter) ConvertToSafeHTML(markdown string) string {
	out, err := c.Convert(markdown)
	if err != nil {
		return "<pre>" + html.EscapeString(markdown) + "</pre>"
	}
	return out
}
