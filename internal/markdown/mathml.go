package markdown

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"unicode"
)

const mathMLNamespace = "http://www.w3.org/1998/Math/MathML"

var (
	errUnbalancedGroup = errors.New("unbalanced braces")
	errMissingArgument = errors.New("missing argument")
)

// mathNode is a MathML element or token.
type mathNode struct {
	tag      string
	attrs    [][2]string
	text     string
	children []*mathNode
}

func token(tag, text string, attrs ...[2]string) *mathNode {
	return &mathNode{tag: tag, text: text, attrs: attrs}
}

func row(children ...*mathNode) *mathNode {
	if len(children) == 1 {
		return children[0]
	}
	return &mathNode{tag: "mrow", children: children}
}

func (n *mathNode) write(sb *strings.Builder) {
	sb.WriteByte('<')
	sb.WriteString(n.tag)
	for _, attr := range n.attrs {
		fmt.Fprintf(sb, ` %s="%s"`, attr[0], html.EscapeString(attr[1]))
	}
	sb.WriteByte('>')
	if n.text != "" {
		sb.WriteString(html.EscapeString(n.text))
	}
	for _, child := range n.children {
		child.write(sb)
	}
	sb.WriteString("</")
	sb.WriteString(n.tag)
	sb.WriteByte('>')
}

var greekLetters = map[string]string{
	"alpha": "α", "beta": "β", "gamma": "γ", "delta": "δ", "epsilon": "ϵ",
	"varepsilon": "ε", "zeta": "ζ", "eta": "η", "theta": "θ", "vartheta": "ϑ",
	"iota": "ι", "kappa": "κ", "lambda": "λ", "mu": "μ", "nu": "ν", "xi": "ξ",
	"pi": "π", "varpi": "ϖ", "rho": "ρ", "varrho": "ϱ", "sigma": "σ",
	"varsigma": "ς", "tau": "τ", "upsilon": "υ", "phi": "ϕ", "varphi": "φ",
	"chi": "χ", "psi": "ψ", "omega": "ω",
	"Gamma": "Γ", "Delta": "Δ", "Theta": "Θ", "Lambda": "Λ", "Xi": "Ξ",
	"Pi": "Π", "Sigma": "Σ", "Upsilon": "Υ", "Phi": "Φ", "Psi": "Ψ", "Omega": "Ω",
}

var mathSymbols = map[string]string{
	"infty": "∞", "partial": "∂", "nabla": "∇", "emptyset": "∅", "hbar": "ℏ",
	"ell": "ℓ", "Re": "ℜ", "Im": "ℑ", "aleph": "ℵ",
}

var mathOperators = map[string]string{
	"times": "×", "cdot": "⋅", "pm": "±", "mp": "∓", "div": "÷", "ast": "∗",
	"leq": "≤", "le": "≤", "geq": "≥", "ge": "≥", "neq": "≠", "ne": "≠",
	"approx": "≈", "equiv": "≡", "sim": "∼", "simeq": "≃", "cong": "≅",
	"propto": "∝", "ll": "≪", "gg": "≫",
	"to": "→", "rightarrow": "→", "leftarrow": "←", "Rightarrow": "⇒",
	"Leftarrow": "⇐", "leftrightarrow": "↔", "Leftrightarrow": "⇔",
	"mapsto": "↦", "implies": "⟹", "iff": "⟺",
	"in": "∈", "notin": "∉", "ni": "∋", "subset": "⊂", "subseteq": "⊆",
	"supset": "⊃", "supseteq": "⊇", "cup": "∪", "cap": "∩", "setminus": "∖",
	"forall": "∀", "exists": "∃", "neg": "¬", "land": "∧", "wedge": "∧",
	"lor": "∨", "vee": "∨", "oplus": "⊕", "otimes": "⊗", "circ": "∘",
	"ldots": "…", "cdots": "⋯", "vdots": "⋮", "ddots": "⋱", "dots": "…",
	"langle": "⟨", "rangle": "⟩", "lfloor": "⌊", "rfloor": "⌋",
	"lceil": "⌈", "rceil": "⌉", "mid": "∣", "parallel": "∥", "perp": "⊥",
	"angle": "∠", "prime": "′",
	"{": "{", "}": "}", "|": "‖", "%": "%", "$": "$", "#": "#", "&": "&", "_": "_",
}

var largeOperators = map[string]string{
	"sum": "∑", "prod": "∏", "coprod": "∐", "int": "∫", "iint": "∬",
	"iiint": "∭", "oint": "∮", "bigcup": "⋃", "bigcap": "⋂",
}

var mathFunctions = map[string]bool{
	"sin": true, "cos": true, "tan": true, "cot": true, "sec": true, "csc": true,
	"arcsin": true, "arccos": true, "arctan": true, "sinh": true, "cosh": true,
	"tanh": true, "log": true, "ln": true, "lg": true, "exp": true, "max": true,
	"min": true, "sup": true, "inf": true, "lim": true, "det": true, "arg": true,
	"gcd": true, "deg": true, "dim": true, "ker": true, "Pr": true, "mod": true,
}

var mathSpaces = map[string]string{
	",": "0.1667em", ":": "0.2222em", ";": "0.2778em", " ": "0.25em",
	"quad": "1em", "qquad": "2em", "!": "-0.1667em",
}

var fontVariants = map[string]string{
	"mathbf": "bold", "mathit": "italic", "mathrm": "normal", "mathsf": "sans-serif",
	"mathtt": "monospace", "mathbb": "double-struck", "mathcal": "script",
	"mathfrak": "fraktur", "boldsymbol": "bold-italic", "operatorname": "normal",
}

var accents = map[string]string{
	"hat": "^", "bar": "¯", "vec": "→", "dot": "˙", "ddot": "¨", "tilde": "~",
	"overline": "¯", "widehat": "^", "widetilde": "~",
}

// texParser converts a subset of TeX math into MathML nodes.
type texParser struct {
	src []rune
	pos int
}

// texToMathML renders src as a <math> element with the TeX kept as an annotation.
func texToMathML(src string, display bool) (string, error) {
	p := &texParser{src: []rune(src)}
	nodes, err := p.parseList(false)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString(`<math xmlns="` + mathMLNamespace + `"`)
	if display {
		sb.WriteString(` display="block"`)
	}
	sb.WriteString(`><semantics>`)
	(&mathNode{tag: "mrow", children: nodes}).write(&sb)
	sb.WriteString(`<annotation encoding="application/x-tex">`)
	sb.WriteString(html.EscapeString(src))
	sb.WriteString(`</annotation></semantics></math>`)
	return sb.String(), nil
}

func (p *texParser) eof() bool {
	return p.pos >= len(p.src)
}

func (p *texParser) peek() rune {
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *texParser) skipSpace() {
	for !p.eof() && unicode.IsSpace(p.src[p.pos]) {
		p.pos++
	}
}

// parseList reads atoms up to end of input, or up to the closing brace when
// inGroup is set.
func (p *texParser) parseList(inGroup bool) ([]*mathNode, error) {
	var nodes []*mathNode
	for {
		p.skipSpace()
		if p.eof() {
			if inGroup {
				return nil, errUnbalancedGroup
			}
			return nodes, nil
		}
		if p.peek() == '}' {
			if !inGroup {
				return nil, errUnbalancedGroup
			}
			p.pos++
			return nodes, nil
		}

		atom, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		if atom == nil {
			continue
		}
		atom, err = p.parseScripts(atom)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, atom)
	}
}

func (p *texParser) parseScripts(base *mathNode) (*mathNode, error) {
	var sub, sup *mathNode
	for {
		p.skipSpace()
		if p.eof() {
			break
		}
		c := p.peek()
		if c == '\'' {
			p.pos++
			sup = token("mo", "′")
			continue
		}
		if c != '^' && c != '_' {
			break
		}
		p.pos++
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		if c == '^' {
			sup = arg
		} else {
			sub = arg
		}
	}

	limits := hasLimits(base)
	switch {
	case sub != nil && sup != nil:
		if limits {
			return &mathNode{tag: "munderover", children: []*mathNode{base, sub, sup}}, nil
		}
		return &mathNode{tag: "msubsup", children: []*mathNode{base, sub, sup}}, nil
	case sub != nil:
		if limits {
			return &mathNode{tag: "munder", children: []*mathNode{base, sub}}, nil
		}
		return &mathNode{tag: "msub", children: []*mathNode{base, sub}}, nil
	case sup != nil:
		if limits {
			return &mathNode{tag: "mover", children: []*mathNode{base, sup}}, nil
		}
		return &mathNode{tag: "msup", children: []*mathNode{base, sup}}, nil
	}
	return base, nil
}

// hasLimits reports whether scripts on base are placed as limits.
func hasLimits(base *mathNode) bool {
	if base.tag == "mi" && base.text == "lim" {
		return true
	}
	if base.tag != "mo" {
		return false
	}
	for _, attr := range base.attrs {
		if attr[0] == "movablelimits" {
			return true
		}
	}
	return false
}

// parseArgument reads one group or a single atom.
func (p *texParser) parseArgument() (*mathNode, error) {
	p.skipSpace()
	if p.eof() {
		return nil, errMissingArgument
	}
	if p.peek() == '{' {
		p.pos++
		nodes, err := p.parseList(true)
		if err != nil {
			return nil, err
		}
		return row(nodes...), nil
	}
	if p.peek() == '}' {
		return nil, errMissingArgument
	}
	atom, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	if atom == nil {
		return nil, errMissingArgument
	}
	return atom, nil
}

// rawGroup returns the literal text of a {...} group.
func (p *texParser) rawGroup() (string, error) {
	p.skipSpace()
	if p.peek() != '{' {
		return "", errMissingArgument
	}
	p.pos++
	start := p.pos
	depth := 1
	for ; !p.eof(); p.pos++ {
		switch p.src[p.pos] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				text := string(p.src[start:p.pos])
				p.pos++
				return text, nil
			}
		}
	}
	return "", errUnbalancedGroup
}

func (p *texParser) parseAtom() (*mathNode, error) {
	c := p.peek()
	switch {
	case c == '{':
		p.pos++
		nodes, err := p.parseList(true)
		if err != nil {
			return nil, err
		}
		return row(nodes...), nil
	case c == '\\':
		p.pos++
		return p.parseCommand()
	case c == '^' || c == '_':
		// script with no base
		return token("mrow", ""), nil
	case c == '&':
		p.pos++
		return nil, nil
	case unicode.IsDigit(c) || c == '.':
		start := p.pos
		for !p.eof() && (unicode.IsDigit(p.peek()) || p.peek() == '.') {
			p.pos++
		}
		return token("mn", string(p.src[start:p.pos])), nil
	case unicode.IsLetter(c):
		p.pos++
		return token("mi", string(c)), nil
	default:
		p.pos++
		return token("mo", string(c)), nil
	}
}

func (p *texParser) commandName() string {
	if p.eof() {
		return ""
	}
	start := p.pos
	if !unicode.IsLetter(p.peek()) {
		p.pos++
		return string(p.src[start:p.pos])
	}
	for !p.eof() && unicode.IsLetter(p.peek()) {
		p.pos++
	}
	return string(p.src[start:p.pos])
}

func (p *texParser) parseCommand() (*mathNode, error) {
	name := p.commandName()
	if name == "" {
		return nil, errMissingArgument
	}

	if sym, ok := greekLetters[name]; ok {
		if unicode.IsUpper([]rune(name)[0]) {
			return token("mi", sym, [2]string{"mathvariant", "normal"}), nil
		}
		return token("mi", sym), nil
	}
	if sym, ok := mathSymbols[name]; ok {
		return token("mi", sym), nil
	}
	if sym, ok := mathOperators[name]; ok {
		return token("mo", sym), nil
	}
	if sym, ok := largeOperators[name]; ok {
		return token("mo", sym, [2]string{"largeop", "true"}, [2]string{"movablelimits", "true"}), nil
	}
	if mathFunctions[name] {
		return token("mi", name), nil
	}
	if width, ok := mathSpaces[name]; ok {
		return token("mspace", "", [2]string{"width", width}), nil
	}
	if variant, ok := fontVariants[name]; ok {
		if name == "operatorname" {
			text, err := p.rawGroup()
			if err != nil {
				return nil, err
			}
			return token("mi", text, [2]string{"mathvariant", variant}), nil
		}
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		applyVariant(arg, variant)
		return arg, nil
	}
	if accent, ok := accents[name]; ok {
		arg, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		return &mathNode{
			tag:      "mover",
			attrs:    [][2]string{{"accent", "true"}},
			children: []*mathNode{arg, token("mo", accent)},
		}, nil
	}

	switch name {
	case "frac", "dfrac", "tfrac", "binom":
		num, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		den, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		if name == "binom" {
			return row(
				token("mo", "("),
				&mathNode{tag: "mfrac", attrs: [][2]string{{"linethickness", "0"}}, children: []*mathNode{num, den}},
				token("mo", ")"),
			), nil
		}
		return &mathNode{tag: "mfrac", children: []*mathNode{num, den}}, nil
	case "sqrt":
		p.skipSpace()
		if p.peek() == '[' {
			p.pos++
			start := p.pos
			for !p.eof() && p.peek() != ']' {
				p.pos++
			}
			if p.eof() {
				return nil, errMissingArgument
			}
			index := string(p.src[start:p.pos])
			p.pos++
			radicand, err := p.parseArgument()
			if err != nil {
				return nil, err
			}
			idx, err := (&texParser{src: []rune(index)}).parseList(false)
			if err != nil {
				return nil, err
			}
			return &mathNode{tag: "mroot", children: []*mathNode{radicand, row(idx...)}}, nil
		}
		radicand, err := p.parseArgument()
		if err != nil {
			return nil, err
		}
		return &mathNode{tag: "msqrt", children: []*mathNode{radicand}}, nil
	case "text", "textrm", "textit", "textbf", "mbox":
		text, err := p.rawGroup()
		if err != nil {
			return nil, err
		}
		return token("mtext", text), nil
	case "left", "right", "big", "Big", "bigg", "Bigg", "bigl", "bigr", "Bigl", "Bigr":
		p.skipSpace()
		if p.eof() {
			return nil, errMissingArgument
		}
		delim, err := p.parseAtom()
		if err != nil {
			return nil, err
		}
		if delim != nil && delim.tag == "mo" {
			if delim.text == "." {
				return nil, nil
			}
			delim.attrs = append(delim.attrs, [2]string{"stretchy", "true"})
		}
		return delim, nil
	case "\\", "newline":
		return token("mspace", "", [2]string{"linebreak", "newline"}), nil
	case "displaystyle", "textstyle", "limits", "nolimits":
		return nil, nil
	}

	// unknown commands are shown as written
	return token("mtext", `\`+name, [2]string{"mathcolor", "#cc0000"}), nil
}

func applyVariant(n *mathNode, variant string) {
	switch n.tag {
	case "mi", "mn", "mo", "mtext":
		n.attrs = append(n.attrs, [2]string{"mathvariant", variant})
	}
	for _, child := range n.children {
		applyVariant(child, variant)
	}
}
