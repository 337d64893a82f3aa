// Package extract derives the text handed to the extraction services.
package extract

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// DefaultMinLength is the shortest text considered a real document
const DefaultMinLength = 50

// Text is the usable representation of one document
type Text struct {
	Body        string `json:"body"`
	Format      string `json:"format"`
	Placeholder bool   `json:"placeholder"`
	Reason      string `json:"reason,omitempty"` // why a placeholder was substituted
}

// Deriver converts raw document bytes into extraction input
type Deriver struct {
	registry  *Registry
	minLength int
}

// NewDeriver creates a deriver. minLength <= 0 uses DefaultMinLength.
func NewDeriver(minLength int) *Deriver {
	if minLength <= 0 {
		minLength = DefaultMinLength
	}
	return &Deriver{
		registry:  NewRegistry(),
		minLength: minLength,
	}
}

// Derive always returns non-trivial text: unreadable or implausibly short
// documents get a labeled placeholder carrying the document name
func (d *Deriver) Derive(name, contentType string, data []byte) Text {
	f := d.registry.Find(name, contentType, data)

	body, ok := f.Text(data)
	if !ok {
		return Text{Body: Placeholder(name), Format: f.Name(), Placeholder: true, Reason: "not parseable as text"}
	}
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) < d.minLength {
		return Text{Body: Placeholder(name), Format: f.Name(), Placeholder: true, Reason: "text too short"}
	}
	return Text{Body: body, Format: f.Name()}
}

// Placeholder is the stand-in text for a document whose content could not be read
func Placeholder(name string) string {
	return fmt.Sprintf("Title: %s\nAbstract: This is a placeholder for the parsed content of %s. "+
		"The document text could not be extracted, so only its name is available.", name, name)
}

// HTMLText extracts visible text from an HTML document, skipping scripts/styles
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript", "iframe", "template", "svg":
				return
			}
		}

		if n.Type == html.TextNode {
			if text := strings.Join(strings.Fields(n.Data), " "); text != "" {
				buf.WriteString(text)
				buf.WriteString(" ")
			}
		}

		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}

		if n.Type == html.ElementNode && blockElements[n.Data] {
			buf.WriteString("\n")
		}
	}
	walk(doc)

	lines := strings.Split(buf.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n"), nil
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

// Truncate cuts s to at most max runes
func Truncate(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	i := 0
	for pos := range s {
		if i == max {
			return s[:pos]
		}
		i++
	}
	return s
}
