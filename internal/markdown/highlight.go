package markdown

import (
	"fmt"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func isBlockCode(n *html.Node) bool {
	return n.DataAtom == atom.Code && n.Parent != nil && n.Parent.DataAtom == atom.Pre
}

func (r *Renderer) highlight(doc *document) error {
	for _, code := range collect(doc.root, isBlockCode) {
		if err := highlightBlock(code); err != nil {
			return err
		}
	}
	return nil
}

func languageOf(code *html.Node) string {
	for _, class := range classList(code) {
		if lang, ok := strings.CutPrefix(class, "language-"); ok {
			return lang
		}
	}
	return ""
}

// pickLexer prefers the declared language and falls back to content analysis.
func pickLexer(lang, source string) chroma.Lexer {
	var lexer chroma.Lexer
	if lang != "" {
		lexer = lexers.Get(lang)
	}
	if lexer == nil {
		lexer = lexers.Analyse(source)
	}
	return lexer
}

// highlightBlock replaces the text of code with class-annotated token spans.
func highlightBlock(code *html.Node) error {
	source := textContent(code)
	if source == "" {
		return nil
	}
	lexer := pickLexer(languageOf(code), source)
	if lexer == nil {
		return nil
	}

	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, source)
	if err != nil {
		return fmt.Errorf("tokenise %s: %w", lexer.Config().Name, err)
	}

	removeChildren(code)
	for _, tok := range iterator.Tokens() {
		if tok.Value == "" {
			continue
		}
		text := &html.Node{Type: html.TextNode, Data: tok.Value}
		class := tokenClass(tok.Type)
		if class == "" {
			code.AppendChild(text)
			continue
		}
		span := element("span", html.Attribute{Key: "class", Val: class})
		span.AppendChild(text)
		code.AppendChild(span)
	}
	addClass(code, "chroma")
	return nil
}

func tokenClass(tt chroma.TokenType) string {
	for t := tt; ; {
		if class, ok := chroma.StandardTypes[t]; ok {
			return class
		}
		switch parent := t.SubCategory(); {
		case parent != t && parent != 0:
			t = parent
		case t.Category() != t:
			t = t.Category()
		default:
			return ""
		}
	}
}
