package markdown

import (
	"bytes"
	"encoding/json"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	unorderedListClasses = []string{"list-disc", "pl-5", "space-y-2"}
	orderedListClasses   = []string{"list-decimal", "pl-5", "space-y-2"}
	blockquoteClasses    = []string{"border-l-4", "border-gray-400", "pl-4", "py-2", "italic", "text-gray-600"}
	linkClasses          = []string{"underline", "text-blue-500", "hover:text-blue-700"}
	headingClasses       = []string{"text-3xl", "font-bold", "text-gray-800", "mb-4", "mt-6"}
	preClasses           = []string{"relative", "bg-gray-900", "text-white", "p-4", "rounded-lg", "overflow-x-auto", "whitespace-pre-wrap"}
	inlineCodeClasses    = []string{"bg-gray-700", "px-2", "py-1", "rounded-md", "font-mono", "text-sm"}
	copyButtonClasses    = "absolute top-2 right-2 bg-gray-700 text-white p-1 rounded-md hover:bg-gray-600 transition duration-200"
)

const copyIconPath = "M8 7H6a2 2 0 00-2 2v8a2 2 0 002 2h8a2 2 0 002-2v-2m-3-9h6m-3-3v6"

// rewrite applies display classes and adds copy buttons to code blocks.
// Only the first h2 of a document is styled.
func (r *Renderer) rewrite(doc *document) error {
	var blocks []*html.Node
	for _, n := range collect(doc.root, func(*html.Node) bool { return true }) {
		switch n.DataAtom {
		case atom.Ul:
			addClass(n, unorderedListClasses...)
		case atom.Ol:
			addClass(n, orderedListClasses...)
		case atom.Blockquote:
			addClass(n, blockquoteClasses...)
		case atom.A:
			addClass(n, linkClasses...)
		case atom.H2:
			if !doc.headingStyled {
				doc.headingStyled = true
				addClass(n, headingClasses...)
			}
		case atom.Pre:
			addClass(n, preClasses...)
			blocks = append(blocks, n)
		case atom.Code:
			if !insidePre(n) {
				addClass(n, inlineCodeClasses...)
			}
		}
	}

	for _, pre := range blocks {
		code := firstChildElement(pre, atom.Code)
		if code == nil {
			continue
		}
		content := strings.TrimSuffix(textContent(code), "\n")
		if content == "" {
			continue
		}
		button, err := copyButton(content)
		if err != nil {
			return err
		}
		pre.AppendChild(button)
	}
	return nil
}

// clipboardLiteral encodes s the way JSON.stringify does.
func clipboardLiteral(s string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

func copyButton(content string) (*html.Node, error) {
	literal, err := clipboardLiteral(content)
	if err != nil {
		return nil, err
	}

	button := element("button",
		html.Attribute{Key: "class", Val: copyButtonClasses},
		html.Attribute{Key: "onclick", Val: "navigator.clipboard.writeText(" + literal + ")"},
		html.Attribute{Key: "title", Val: "Copy to clipboard"},
	)
	span := element("span", html.Attribute{Key: "class", Val: "flex items-center justify-center"})

	svg := &html.Node{
		Type:      html.ElementNode,
		Data:      "svg",
		Namespace: "svg",
		Attr: []html.Attribute{
			{Key: "xmlns", Val: "http://www.w3.org/2000/svg"},
			{Key: "fill", Val: "none"},
			{Key: "viewBox", Val: "0 0 24 24"},
			{Key: "stroke-width", Val: "1.5"},
			{Key: "stroke", Val: "currentColor"},
			{Key: "class", Val: "w-5 h-5"},
		},
	}
	path := &html.Node{
		Type:      html.ElementNode,
		Data:      "path",
		Namespace: "svg",
		Attr: []html.Attribute{
			{Key: "stroke-linecap", Val: "round"},
			{Key: "stroke-linejoin", Val: "round"},
			{Key: "d", Val: copyIconPath},
		},
	}

	svg.AppendChild(path)
	span.AppendChild(svg)
	button.AppendChild(span)
	return button, nil
}
