// Package parser finds quiz blocks in note bodies. Bodies are Markdown with
// inline HTML; they are rendered to HTML and quiz elements are selected by
// class.
package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Standard sub-field classes inside a quiz block.
const (
	ClassQuestion    = "question"
	ClassAnswer      = "answer-text"
	ClassHeader      = "header"
	ClassFooter      = "footer"
	ClassSources     = "sources"
	ClassExplanation = "explanation"
	ClassCorrelation = "correlation"
)

// Options selects quiz elements and names their attributes.
type Options struct {
	Selector     string
	IDAttr       string
	CardTypeAttr string
}

// DefaultOptions matches `<div class="jta" data-id="..." data-note-type="...">`.
var DefaultOptions = Options{
	Selector:     ".jta",
	IDAttr:       "data-id",
	CardTypeAttr: "data-note-type",
}

// Block is one quiz element found in a note body.
type Block struct {
	Identifier string
	CardType   string
	// Raw is the element's inner HTML; the content fingerprint is taken over it.
	Raw string

	sel *goquery.Selection
}

// Field returns the trimmed inner HTML of the first descendant with class,
// or "" if there is none.
func (b Block) Field(class string) string {
	s := b.sel.Find("." + class).First()
	if s.Length() == 0 {
		return ""
	}
	h, err := s.Html()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(h)
}

// Selection exposes the element for field mappers.
func (b Block) Selection() *goquery.Selection {
	return b.sel
}

// Parser renders note bodies and extracts quiz blocks.
type Parser struct {
	md   goldmark.Markdown
	opts Options
}

// New creates a Parser. Zero-valued option fields fall back to DefaultOptions.
func New(opts Options) *Parser {
	if opts.Selector == "" {
		opts.Selector = DefaultOptions.Selector
	}
	if opts.IDAttr == "" {
		opts.IDAttr = DefaultOptions.IDAttr
	}
	if opts.CardTypeAttr == "" {
		opts.CardTypeAttr = DefaultOptions.CardTypeAttr
	}
	return &Parser{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
		opts: opts,
	}
}

// Render converts a Markdown body to HTML, keeping raw HTML intact.
func (p *Parser) Render(body string) (string, error) {
	var buf bytes.Buffer
	if err := p.md.Convert([]byte(body), &buf); err != nil {
		return "", fmt.Errorf("parser: render markdown: %w", err)
	}
	return buf.String(), nil
}

// Blocks returns every quiz element in body, in document order, including
// those without an identifier.
func (p *Parser) Blocks(body string) ([]Block, error) {
	rendered, err := p.Render(body)
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rendered))
	if err != nil {
		return nil, fmt.Errorf("parser: load document: %w", err)
	}

	var out []Block
	doc.Find(p.opts.Selector).Each(func(_ int, s *goquery.Selection) {
		raw, _ := s.Html()
		id, _ := s.Attr(p.opts.IDAttr)
		cardType, _ := s.Attr(p.opts.CardTypeAttr)
		out = append(out, Block{
			Identifier: strings.TrimSpace(id),
			CardType:   strings.TrimSpace(cardType),
			Raw:        raw,
			sel:        s,
		})
	})
	return out, nil
}
