package markdown

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func isMathCode(n *html.Node) bool {
	return n.DataAtom == atom.Code && (hasClass(n, "math-inline") || hasClass(n, "math-display"))
}

// typeset replaces math placeholders with MathML. A formula that cannot be
// converted is shown as its source with a math-error class.
func (r *Renderer) typeset(doc *document) error {
	for _, code := range collect(doc.root, isMathCode) {
		tex := strings.TrimSpace(textContent(code))
		display := hasClass(code, "math-display")

		target := code
		wrapper := element("span", html.Attribute{Key: "class", Val: "math math-inline"})
		if display {
			wrapper = element("div", html.Attribute{Key: "class", Val: "math math-display"})
			if code.Parent != nil && code.Parent.DataAtom == atom.Pre {
				target = code.Parent
			}
		}

		markup, err := texToMathML(tex, display)
		if err != nil {
			addClass(wrapper, "math-error")
			setAttr(wrapper, "title", err.Error())
			wrapper.AppendChild(&html.Node{Type: html.TextNode, Data: tex})
			replaceNode(target, wrapper)
			continue
		}

		nodes, err := html.ParseFragment(strings.NewReader(markup), wrapper)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			wrapper.AppendChild(n)
		}
		replaceNode(target, wrapper)
	}
	return nil
}
