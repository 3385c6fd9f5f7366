package markdown

import (
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// codeClassPattern admits the class names that later stages rely on.
var codeClassPattern = regexp.MustCompile(`^(language-[\w+#.-]+|math-inline|math-display)( (language-[\w+#.-]+|math-inline|math-display))*$`)

// newPolicy extends the UGC policy with what GFM output and math
// placeholders need.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AllowAttrs("class").Matching(codeClassPattern).OnElements("code")
	p.AllowAttrs("type").Matching(regexp.MustCompile(`^checkbox$`)).OnElements("input")
	p.AllowAttrs("checked", "disabled").OnElements("input")
	p.AllowStyles("text-align").MatchingEnum("left", "center", "right").OnElements("th", "td")
	return p
}

func (r *Renderer) sanitize(doc *document) error {
	raw, err := renderChildren(doc.root)
	if err != nil {
		return err
	}
	root, err := parseFragment(r.policy.SanitizeBytes(raw))
	if err != nil {
		return err
	}
	doc.root = root
	return nil
}
