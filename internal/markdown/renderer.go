// Package markdown renders assistant replies into sanitized HTML.
//
// Rendering runs a fixed pipeline of stages over one document. Each stage
// sees the output of the previous one; sanitization always happens after raw
// HTML has been parsed into the tree, and math and highlighting are applied to
// the sanitized tree.
package markdown

import (
	"bytes"
	"fmt"
	"html"
	"io"

	"github.com/alecthomas/chroma/v2"
	chromahtml "github.com/alecthomas/chroma/v2/formatters/html"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	gmhtml "github.com/yuin/goldmark/renderer/html"
	"github.com/yuin/goldmark/text"
	nethtml "golang.org/x/net/html"

	"github.com/zhouzirui/mdchat/backend/internal/metrics"
)

// Stage names, in execution order.
const (
	StageParse     = "parse"
	StageMath      = "math"
	StageHTML      = "html"
	StageRaw       = "raw"
	StageSanitize  = "sanitize"
	StageKatex     = "katex"
	StageHighlight = "highlight"
	StageRewrite   = "rewrite"
	StageStringify = "stringify"
)

// DefaultHighlightStyle is the chroma style used for code blocks.
const DefaultHighlightStyle = "github-dark"

// document carries one render invocation through the stages.
type document struct {
	source        []byte
	ast           ast.Node
	html          []byte
	root          *nethtml.Node
	headingStyled bool
	output        string
}

type stage struct {
	name string
	run  func(*document) error
}

// Renderer converts markdown to HTML. It holds no per-render state and is
// safe for concurrent use.
type Renderer struct {
	md        goldmark.Markdown
	policy    *bluemonday.Policy
	formatter *chromahtml.Formatter
	style     *chroma.Style
	stages    []stage
}

// Option configures a Renderer.
type Option func(*Renderer)

// WithHighlightStyle selects the chroma style served by WriteCSS.
// Unknown names fall back to chroma's default style.
func WithHighlightStyle(name string) Option {
	return func(r *Renderer) {
		if name != "" {
			r.style = styles.Get(name)
		}
	}
}

// New builds a Renderer.
func New(opts ...Option) *Renderer {
	r := &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, Math),
			goldmark.WithRendererOptions(gmhtml.WithUnsafe()),
		),
		policy:    newPolicy(),
		formatter: chromahtml.New(chromahtml.WithClasses(true)),
		style:     styles.Get(DefaultHighlightStyle),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.stages = []stage{
		{StageParse, r.parse},
		{StageMath, r.expandMath},
		{StageHTML, r.toHTML},
		{StageRaw, r.parseRaw},
		{StageSanitize, r.sanitize},
		{StageKatex, r.typeset},
		{StageHighlight, r.highlight},
		{StageRewrite, r.rewrite},
		{StageStringify, r.stringify},
	}
	return r
}

// Stages returns the stage names in the order they run.
func (r *Renderer) Stages() []string {
	names := make([]string, len(r.stages))
	for i, s := range r.stages {
		names[i] = s.name
	}
	return names
}

// Render converts markdown text into sanitized HTML.
func (r *Renderer) Render(markdown string) (string, error) {
	doc := &document{source: []byte(markdown)}
	for _, s := range r.stages {
		if err := runStage(s, doc); err != nil {
			metrics.RenderFailures.WithLabelValues(s.name).Inc()
			return "", &RenderError{Stage: s.name, Err: err}
		}
	}
	return doc.output, nil
}

// RenderOrEscape renders markdown, falling back to the escaped text in a
// paragraph when rendering fails.
func (r *Renderer) RenderOrEscape(markdown string) string {
	out, err := r.Render(markdown)
	if err != nil {
		return "<p>" + html.EscapeString(markdown) + "</p>"
	}
	return out
}

// WriteCSS writes the stylesheet for highlighted code.
func (r *Renderer) WriteCSS(w io.Writer) error {
	return r.formatter.WriteCSS(w, r.style)
}

func runStage(s stage, doc *document) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.run(doc)
}

func (r *Renderer) parse(doc *document) error {
	doc.ast = r.md.Parser().Parse(text.NewReader(doc.source))
	return nil
}

func (r *Renderer) expandMath(doc *document) error {
	return promoteMathFences(doc.ast, doc.source)
}

func (r *Renderer) toHTML(doc *document) error {
	var buf bytes.Buffer
	if err := r.md.Renderer().Render(&buf, doc.source, doc.ast); err != nil {
		return err
	}
	doc.html = buf.Bytes()
	return nil
}

func (r *Renderer) parseRaw(doc *document) error {
	root, err := parseFragment(doc.html)
	if err != nil {
		return err
	}
	doc.root = root
	return nil
}

func (r *Renderer) stringify(doc *document) error {
	out, err := renderChildren(doc.root)
	if err != nil {
		return err
	}
	doc.output = string(out)
	return nil
}
