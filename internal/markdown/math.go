package markdown

import (
	"bytes"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"
)

// KindInlineMath is the node kind of $...$ spans.
var KindInlineMath = ast.NewNodeKind("InlineMath")

// KindMathBlock is the node kind of $$ ... $$ blocks.
var KindMathBlock = ast.NewNodeKind("MathBlock")

// InlineMath holds the TeX source of an inline formula.
type InlineMath struct {
	ast.BaseInline
	Value []byte
}

func (n *InlineMath) Kind() ast.NodeKind { return KindInlineMath }

func (n *InlineMath) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{"Value": string(n.Value)}, nil)
}

// MathBlock holds display math. Its lines are raw TeX.
type MathBlock struct {
	ast.BaseBlock
	singleLine bool
}

func (n *MathBlock) Kind() ast.NodeKind { return KindMathBlock }

func (n *MathBlock) IsRaw() bool { return true }

func (n *MathBlock) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, nil, nil)
}

// Literal joins the block's lines.
func (n *MathBlock) Literal(source []byte) []byte {
	var buf bytes.Buffer
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		buf.Write(seg.Value(source))
	}
	return bytes.TrimSpace(buf.Bytes())
}

type mathBlockParser struct{}

type mathBlockData struct {
	indent int
}

var mathBlockInfoKey = parser.NewContextKey()

func (b *mathBlockParser) Trigger() []byte {
	return []byte{'$'}
}

func (b *mathBlockParser) Open(parent ast.Node, reader text.Reader, pc parser.Context) (ast.Node, parser.State) {
	line, segment := reader.PeekLine()
	pos := pc.BlockOffset()
	if pos < 0 || pos >= len(line) || line[pos] != '$' {
		return nil, parser.NoChildren
	}
	i := pos
	for ; i < len(line) && line[i] == '$'; i++ {
	}
	if i-pos != 2 {
		return nil, parser.NoChildren
	}

	node := &MathBlock{}
	rest := bytes.TrimRight(line[i:], " \t\r\n")
	if len(rest) > 0 {
		start := segment.Start + i
		stop := start + len(rest)
		if bytes.HasSuffix(rest, []byte("$$")) {
			// $$x$$ on one line
			node.singleLine = true
			stop -= 2
		}
		node.Lines().Append(text.NewSegment(start, stop))
	}
	pc.Set(mathBlockInfoKey, &mathBlockData{indent: pos})
	return node, parser.NoChildren
}

func (b *mathBlockParser) Continue(node ast.Node, reader text.Reader, pc parser.Context) parser.State {
	n := node.(*MathBlock)
	if n.singleLine {
		return parser.Close
	}

	line, segment := reader.PeekLine()
	data, _ := pc.Get(mathBlockInfoKey).(*mathBlockData)
	indent := 0
	if data != nil {
		indent = data.indent
	}

	w, pos := util.IndentWidth(line, reader.LineOffset())
	if w < 4 {
		i := pos
		for ; i < len(line) && line[i] == '$'; i++ {
		}
		if i-pos >= 2 && util.IsBlank(line[i:]) {
			reader.Advance(segment.Stop - segment.Start - segment.Padding)
			return parser.Close
		}
	}

	dedent, padding := util.DedentPosition(line, reader.LineOffset(), indent)
	seg := text.NewSegmentPadding(segment.Start+dedent, segment.Stop, padding)
	n.Lines().Append(seg)
	reader.AdvanceAndSetPadding(segment.Stop-segment.Start-dedent-1, padding)
	return parser.Continue | parser.NoChildren
}

func (b *mathBlockParser) Close(node ast.Node, reader text.Reader, pc parser.Context) {
	pc.Set(mathBlockInfoKey, nil)
}

func (b *mathBlockParser) CanInterruptParagraph() bool {
	return true
}

func (b *mathBlockParser) CanAcceptIndentedLine() bool {
	return false
}

type inlineMathParser struct{}

func (s *inlineMathParser) Trigger() []byte {
	return []byte{'$'}
}

// Parse accepts $x$ and $$x$$ within one line. A single-dollar span may not
// start or end with a space, and may not be followed by a digit, so prices
// like "$5 and $10" stay text.
func (s *inlineMathParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	line, _ := block.PeekLine()
	opener := 0
	for ; opener < len(line) && line[opener] == '$'; opener++ {
	}
	if opener > 2 {
		return nil
	}

	for i := opener; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
			continue
		case '\n':
			return nil
		case '$':
		default:
			continue
		}

		closer := i
		for ; closer < len(line) && line[closer] == '$'; closer++ {
		}
		if closer-i != opener {
			i = closer - 1
			continue
		}

		content := line[opener:i]
		if len(bytes.TrimSpace(content)) == 0 {
			return nil
		}
		if opener == 1 {
			if isSpace(content[0]) || isSpace(content[len(content)-1]) {
				return nil
			}
			if closer < len(line) && line[closer] >= '0' && line[closer] <= '9' {
				return nil
			}
		}

		node := &InlineMath{Value: append([]byte(nil), content...)}
		block.Advance(closer)
		return node
	}
	return nil
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}

// mathHTMLRenderer emits remark-math style placeholders; the katex stage
// turns them into MathML once the tree has been sanitized.
type mathHTMLRenderer struct{}

func (r *mathHTMLRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindInlineMath, r.renderInlineMath)
	reg.Register(KindMathBlock, r.renderMathBlock)
}

func (r *mathHTMLRenderer) renderInlineMath(w util.BufWriter, _ []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*InlineMath)
	_, _ = w.WriteString(`<code class="language-math math-inline">`)
	_, _ = w.Write(util.EscapeHTML(n.Value))
	_, _ = w.WriteString(`</code>`)
	return ast.WalkSkipChildren, nil
}

func (r *mathHTMLRenderer) renderMathBlock(w util.BufWriter, source []byte, node ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}
	n := node.(*MathBlock)
	_, _ = w.WriteString(`<pre><code class="language-math math-display">`)
	_, _ = w.Write(util.EscapeHTML(n.Literal(source)))
	_, _ = w.WriteString("</code></pre>\n")
	return ast.WalkSkipChildren, nil
}

type mathExtension struct{}

// Math adds $ and $$ syntax to a goldmark instance.
var Math goldmark.Extender = &mathExtension{}

func (e *mathExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithBlockParsers(util.Prioritized(&mathBlockParser{}, 701)),
		parser.WithInlineParsers(util.Prioritized(&inlineMathParser{}, 501)),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(util.Prioritized(&mathHTMLRenderer{}, 501)),
	)
}

// promoteMathFences turns ```math fenced blocks into MathBlock nodes.
func promoteMathFences(doc ast.Node, source []byte) error {
	var fences []*ast.FencedCodeBlock
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if fence, ok := n.(*ast.FencedCodeBlock); ok {
			if string(fence.Language(source)) == "math" {
				fences = append(fences, fence)
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return err
	}

	for _, fence := range fences {
		block := &MathBlock{}
		block.SetLines(fence.Lines())
		parent := fence.Parent()
		if parent == nil {
			continue
		}
		parent.ReplaceChild(parent, fence, block)
	}
	return nil
}
